// Package guarded implements key storage backed by memguard locked buffers, which add guard pages and a canary
// around the key.
package guarded

import (
	"sync"
	"time"

	"github.com/awnumar/memguard"
	"github.com/pkg/errors"
	"github.com/rcrowley/go-metrics"

	"github.com/godaddy/asherah/go/flexmem"
	"github.com/godaddy/asherah/go/flexmem/internal/memcall"
	"github.com/godaddy/asherah/go/flexmem/keystore"
)

// AllocTimer is used to record the time taken to allocate a secret.
var AllocTimer = metrics.GetOrRegisterTimer("keystore.guarded.alloctimer", nil)

const secretCreateErr keystore.Error = "memguard buffer creation failed"

type secret struct {
	buffer        *memguard.LockedBuffer
	mc            memcall.Interface
	rw            *sync.RWMutex
	c             *sync.Cond
	closing       bool
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

	return action(s.buffer.Bytes())
}

// IsClosed implements keystore.Secret.
func (s *secret) IsClosed() bool {
	s.rw.RLock()
	defer s.rw.RUnlock()

	return !s.buffer.IsAlive()
}

// Close implements keystore.Secret.
func (s *secret) Close() error {
	s.rw.Lock()
	defer s.rw.Unlock()

	s.closing = true

	for {
		if !s.buffer.IsAlive() {
			return nil
		}

		if s.accessCounter == 0 {
			// Destroy wipes the buffer and panics on failure
			s.buffer.Destroy()

			keystore.InUseCounter.Dec(1)

			return nil
		}

		s.c.Wait()
	}
}

func (s *secret) access() error {
	s.rw.Lock()
	defer s.rw.Unlock()

	if s.closing || !s.buffer.IsAlive() {
		return errors.WithStack(keystore.ErrSecretClosed)
	}

	if s.accessCounter == 0 {
		if err := s.mc.Protect(s.buffer.Inner(), memcall.ReadOnly()); err != nil {
			return &flexmem.ProtectionError{Kind: flexmem.ErrUnprotectFailed, Locked: true, Protected: true, Err: err}
		}
	}
	s.accessCounter++

	return nil
}

func (s *secret) release() error {
	s.rw.Lock()
	defer s.rw.Unlock()
	defer s.c.Broadcast()

	s.accessCounter--
	if s.accessCounter == 0 {
		if err := s.mc.Protect(s.buffer.Inner(), memcall.NoAccess()); err != nil {
			return &flexmem.ProtectionError{Kind: flexmem.ErrProtectFailed, Locked: true, Err: err}
		}
	}

	return nil
}

// Factory creates memguard backed secrets.
type Factory struct {
	mc memcall.Interface
}

var _ keystore.Factory = (*Factory)(nil)

func (f *Factory) memcall() memcall.Interface {
	if f.mc == nil {
		f.mc = memcall.Default
	}

	return f.mc
}

// New implements keystore.Factory.
func (f *Factory) New(b []byte) (keystore.Secret, error) {
	defer AllocTimer.UpdateSince(time.Now())

	return f.newFromBuffer(memguard.NewBufferFromBytes(b))
}

func (f *Factory) newFromBuffer(lb *memguard.LockedBuffer) (keystore.Secret, error) {
	s, err := f.wrap(lb)
	if err != nil {
		return nil, err
	}

	return s, nil
}

// CreateRandom implements keystore.Factory.
func (f *Factory) CreateRandom(size int) (keystore.Secret, error) {
	defer AllocTimer.UpdateSince(time.Now())

	return f.newFromBuffer(memguard.NewBufferRandom(size))
}

func (f *Factory) wrap(lb *memguard.LockedBuffer) (*secret, error) {
	if !lb.IsAlive() {
		return nil, errors.WithStack(secretCreateErr)
	}

	if err := f.memcall().Protect(lb.Inner(), memcall.NoAccess()); err != nil {
		err = &flexmem.ProtectionError{Kind: flexmem.ErrProtectFailed, Locked: true, Err: err}

		return nil, memcall.Fold(err, memcall.Clean(f.memcall(), lb.Inner()))
	}

	keystore.AllocCounter.Inc(1)
	keystore.InUseCounter.Inc(1)

	rw := new(sync.RWMutex)

	return &secret{
		rw:     rw,
		c:      sync.NewCond(rw),
		mc:     f.memcall(),
		buffer: lb,
	}, nil
}
