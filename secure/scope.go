package secure

import (
	"time"

	"github.com/godaddy/asherah/go/flexmem"
	"github.com/godaddy/asherah/go/flexmem/internal/memcall"
)

// Scope is exclusive access to the plaintext of a Region. Closing the scope encrypts the region again under a
// fresh nonce and marks its pages no-access.
type Scope struct {
	r      *regionInternal
	opened time.Time
	closed bool
}

// Bytes returns the plaintext of the region. The slice must not be used after the scope is closed, and
// returns nil once it is.
func (s *Scope) Bytes() []byte {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()

	if s.closed {
		return nil
	}

	return s.r.mem[:s.r.size]
}

// Len returns the number of plaintext bytes.
func (s *Scope) Len() int {
	return s.r.size
}

// Close ends the scope. If sealing fails the plaintext is wiped and the region can no longer be opened. It is
// safe to call Close more than once.
func (s *Scope) Close() error {
	r := s.r

	r.mu.Lock()
	defer r.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	r.scope = nil

	defer r.c.Broadcast()
	defer ScopeTimer.UpdateSince(s.opened)

	nonce, err := r.key.seal(r.mem, r.size)
	if err != nil {
		return memcall.Fold(err, r.poison())
	}

	r.nonce = nonce

	if err := r.mc.Protect(r.mem, memcall.NoAccess()); err != nil {
		// sealed but still readable
		return &flexmem.ProtectionError{Kind: flexmem.ErrProtectFailed, Locked: true, Err: err}
	}

	r.state = EncryptedAtRest

	return nil
}
