// Package protected implements key storage in locked memory pages that are marked no-access while at rest.
package protected

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rcrowley/go-metrics"

	"github.com/godaddy/asherah/go/flexmem"
	"github.com/godaddy/asherah/go/flexmem/internal/memcall"
	"github.com/godaddy/asherah/go/flexmem/internal/wipe"
	"github.com/godaddy/asherah/go/flexmem/keystore"
	"github.com/godaddy/asherah/go/flexmem/log"
)

// AllocTimer is used to record the time taken to allocate a secret.
var AllocTimer = metrics.GetOrRegisterTimer("keystore.protected.alloctimer", nil)

// secret stores key material in its own locked page(s).
type secret struct {
	*secretInternal
	// dummy is used for attaching a finalizer since attaching one to the secret itself results in it always having a reference.
	dummy *finalizerToken
}

// finalizerToken is the finalizer target. Pointer-free values smaller than 16 bytes come from the runtime's tiny
// allocator, which packs them into shared blocks that may never be collected.
type finalizerToken [16]byte

// secretInternal is an abstraction needed to allow us to close the secret without referencing it directly in a finalizer.
type secretInternal struct {
	bytes   []byte
	mc      memcall.Interface
	rw      *sync.RWMutex
	c       *sync.Cond
	closing bool
	closed  bool

	// stack contains a formatted stack trace collected when the secret was created, only set if DebugEnabled.
	stack        []byte
	externalAddr string

	accessCounter int
}

// WithBytes implements keystore.Secret.
func (s *secret) WithBytes(action func([]byte) error) (err error) {
	if err = s.access(); err != nil {
		return
	}

	defer func() {
		if err2 := s.release(); err2 != nil {
			if err == nil {
				err = err2
				return
			}

			err = errors.WithMessage(err, err2.Error())
		}
	}()

	return action(s.bytes)
}

// IsClosed implements keystore.Secret.
func (s *secret) IsClosed() bool {
	return s.isClosed()
}

// access marks the pages read-only for the first concurrent reader.
func (s *secretInternal) access() error {
	s.rw.Lock()
	defer s.rw.Unlock()

	if s.closing || s.closed {
		return errors.WithStack(keystore.ErrSecretClosed)
	}

	if s.accessCounter == 0 {
		if err := s.mc.Protect(s.bytes, memcall.ReadOnly()); err != nil {
			return &flexmem.ProtectionError{Kind: flexmem.ErrUnprotectFailed, Locked: true, Protected: true, Err: err}
		}
	}
	s.accessCounter++

	return nil
}

// release marks the pages no-access again once the last concurrent reader is done.
func (s *secretInternal) release() error {
	s.rw.Lock()
	defer s.rw.Unlock()
	defer s.c.Broadcast()

	s.accessCounter--
	if s.accessCounter == 0 {
		if err := s.mc.Protect(s.bytes, memcall.NoAccess()); err != nil {
			return &flexmem.ProtectionError{Kind: flexmem.ErrProtectFailed, Locked: true, Err: err}
		}
	}

	return nil
}

func (s *secretInternal) isClosed() bool {
	s.rw.RLock()
	defer s.rw.RUnlock()

	return s.closed
}

func (s *secretInternal) finalize() {
	s.rw.Lock()
	if !s.closing {
		log.Debugf("finalized before closed: secret(%s){inner(%p)}\n%s\n", s.externalAddr, s, s.stack)
	}
	s.rw.Unlock()

	_ = s.Close()
}

// Close implements keystore.Secret.
func (s *secretInternal) Close() error {
	s.rw.Lock()
	defer s.rw.Unlock()

	s.closing = true

	for {
		if s.closed {
			return nil
		}

		if s.accessCounter == 0 {
			return s.close()
		}

		s.c.Wait()
	}
}

func (s *secretInternal) close() error {
	if err := s.mc.Protect(s.bytes, memcall.ReadWrite()); err != nil {
		return &flexmem.ProtectionError{Kind: flexmem.ErrUnprotectFailed, Locked: true, Protected: true, Err: err}
	}

	wipe.Bytes(s.bytes)

	if err := memcall.Clean(s.mc, s.bytes); err != nil {
		return err
	}

	s.bytes = nil
	s.closed = true

	keystore.InUseCounter.Dec(1)

	return nil
}

// Factory creates protected memory backed secrets.
type Factory struct {
	mc memcall.Interface
}

var _ keystore.Factory = (*Factory)(nil)

// NewFactory returns a Factory that issues its syscalls through mc.
func NewFactory(mc memcall.Interface) *Factory {
	return &Factory{mc: mc}
}

func (f *Factory) memcall() memcall.Interface {
	if f.mc == nil {
		f.mc = memcall.Default
	}

	return f.mc
}

// New implements keystore.Factory.
func (f *Factory) New(b []byte) (keystore.Secret, error) {
	return f.create(len(b), func(dst []byte) (int, error) {
		subtle.ConstantTimeCopy(1, dst, b)
		wipe.Bytes(b)

		return len(b), nil
	})
}

// CreateRandom implements keystore.Factory.
func (f *Factory) CreateRandom(size int) (keystore.Secret, error) {
	return f.create(size, rand.Read)
}

func (f *Factory) create(size int, fill func(b []byte) (int, error)) (keystore.Secret, error) {
	defer AllocTimer.UpdateSince(time.Now())

	s, err := newSecret(size, f.memcall())
	if err != nil {
		return nil, err
	}

	if _, err := fill(s.bytes); err != nil {
		return nil, s.discard(err)
	}

	if err := s.mc.Protect(s.bytes, memcall.NoAccess()); err != nil {
		return nil, s.discard(&flexmem.ProtectionError{Kind: flexmem.ErrProtectFailed, Locked: true, Err: err})
	}

	keystore.AllocCounter.Inc(1)
	keystore.InUseCounter.Inc(1)

	return s, nil
}

// discard releases a secret that failed to initialize and folds any cleanup failure into err.
func (s *secret) discard(err error) error {
	runtime.SetFinalizer(s.dummy, nil)

	wipe.Bytes(s.bytes)
	err = memcall.Fold(err, memcall.Clean(s.mc, s.bytes))

	s.bytes = nil
	s.closed = true

	return err
}

// newSecret allocates and locks the pages for a secret of the given size.
func newSecret(size int, mc memcall.Interface) (*secret, error) {
	if size < 1 {
		return nil, errors.WithStack(keystore.ErrInvalidSize)
	}

	// mmap rounds up to the next page
	bytes, err := mc.Alloc(size)
	if err != nil {
		return nil, errors.Wrapf(flexmem.ErrOutOfMemory, "allocating %d bytes: %s", size, err)
	}

	if err := mc.Lock(bytes); err != nil {
		err = &flexmem.ProtectionError{Kind: flexmem.ErrLockFailed, Err: err}

		return nil, memcall.Fold(err, mc.Free(bytes))
	}

	// We have to use a wrapper structure with a dummy reference for the finalizer to trigger properly
	rw := new(sync.RWMutex)
	internal := &secretInternal{
		rw:    rw,
		c:     sync.NewCond(rw),
		mc:    mc,
		bytes: bytes,
	}

	s := &secret{
		secretInternal: internal,
		dummy:          new(finalizerToken),
	}

	if log.DebugEnabled() {
		internal.externalAddr = fmt.Sprintf("%p", s)
		internal.stack = debug.Stack()
	}

	// The finalizer closes secretInternal so that it does not keep the secret itself reachable.
	runtime.SetFinalizer(s.dummy, func(*finalizerToken) {
		go internal.finalize()
	})

	return s, nil
}
