package alloc

import (
	"github.com/godaddy/asherah/go/flexmem"
	"github.com/godaddy/asherah/go/flexmem/internal/memcall"
	"github.com/godaddy/asherah/go/flexmem/internal/wipe"
)

// Secure allocates locked memory pages for sensitive data. Fresh allocations are filled with UninitByte and
// released memory is wiped and unlocked before it is returned to the operating system.
//
// The zero value is ready to use.
type Secure struct {
	pages Pages
}

// NewSecure returns a Secure allocator that issues its syscalls through mc.
func NewSecure(mc memcall.Interface) *Secure {
	return &Secure{pages: Pages{mc: mc}}
}

// Alloc implements Allocator. Failing to lock the pages is reported as a *flexmem.ProtectionError.
func (s *Secure) Alloc(size, align int) ([]byte, error) {
	b, err := s.pages.Alloc(size, align)
	if err != nil || cap(b) == 0 {
		return b, err
	}

	full := b[:cap(b)]

	if err := s.pages.memcall().Lock(full); err != nil {
		return nil, &flexmem.ProtectionError{Kind: flexmem.ErrLockFailed, Err: memcall.Fold(err, s.pages.Free(b))}
	}

	wipe.Fill(full, UninitByte)

	return b, nil
}

// Free implements Allocator.
func (s *Secure) Free(b []byte) error {
	if cap(b) == 0 {
		return nil
	}

	full := b[:cap(b)]
	wipe.Bytes(full)

	return memcall.Clean(s.pages.memcall(), full)
}

// Zeroizes implements Zeroizer.
func (*Secure) Zeroizes() bool {
	return true
}
