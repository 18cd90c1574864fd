package secure

import (
	"io"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/godaddy/asherah/go/flexmem"
	"github.com/godaddy/asherah/go/flexmem/alloc"
	"github.com/godaddy/asherah/go/flexmem/internal/memcall"
	"github.com/godaddy/asherah/go/flexmem/internal/reader"
	"github.com/godaddy/asherah/go/flexmem/internal/wipe"
	"github.com/godaddy/asherah/go/flexmem/log"
	"github.com/godaddy/asherah/go/flexmem/storage"
)

// Region holds sensitive bytes in locked memory pages. At rest the pages are marked no-access and hold the
// bytes encrypted under a key unique to the region. Plaintext is only available through a Scope, and a region
// has at most one live Scope at a time.
//
// Always call Close after use to avoid memory leaks.
type Region struct {
	*regionInternal
	// dummy is used for attaching a finalizer since attaching one to the region itself results in it always having a reference.
	dummy *finalizerToken
}

// finalizerToken is the finalizer target. Pointer-free values smaller than 16 bytes come from the runtime's tiny
// allocator, which packs them into shared blocks that may never be collected.
type finalizerToken [16]byte

// regionInternal is an abstraction needed to allow us to close the region without referencing it directly in a finalizer.
type regionInternal struct {
	id    uuid.UUID
	mc    memcall.Interface
	store *storage.AllocStore[byte]
	mem   []byte
	size  int
	key   *keyMaterial
	nonce []byte

	mu       *sync.Mutex
	c        *sync.Cond
	state    State
	scope    *Scope
	poisoned bool
	closing  bool

	// stack contains a formatted stack trace collected when the region was created, only set if DebugEnabled.
	stack []byte
}

// NewRegion returns a region holding a copy of b. The bytes of b are wiped before NewRegion returns, whether
// or not it succeeds.
func NewRegion(b []byte, opts ...Option) (*Region, error) {
	defer wipe.Bytes(b)

	return newRegion(len(b), func(dst []byte) {
		copy(dst, b)
	}, opts)
}

// NewRandomRegion returns a region holding size random bytes.
func NewRandomRegion(size int, opts ...Option) (*Region, error) {
	if size < 0 {
		return nil, errors.Wrapf(flexmem.ErrCapacityOverflow, "invalid region size %d", size)
	}

	return newRegion(size, wipe.FillRandom, opts)
}

func newRegion(size int, fill func([]byte), opts []Option) (*Region, error) {
	defer AllocTimer.UpdateSince(time.Now())

	c := newConfig(opts)

	key, err := newKeyMaterial(c.keys, c.cipher)
	if err != nil {
		return nil, err
	}

	r := &regionInternal{
		id:    uuid.New(),
		mc:    c.mc,
		store: storage.NewAllocStore[byte](alloc.NewPages(c.mc), true),
		size:  size,
		key:   key,
		state: Unlocked,
	}

	if err := r.setup(fill); err != nil {
		return nil, err
	}

	r.mu = new(sync.Mutex)
	r.c = sync.NewCond(r.mu)

	region := &Region{
		regionInternal: r,
		dummy:          new(finalizerToken),
	}

	if log.DebugEnabled() {
		r.stack = debug.Stack()
	}

	// The finalizer closes regionInternal so that it does not keep the region itself reachable.
	runtime.SetFinalizer(region.dummy, func(*finalizerToken) {
		go r.finalize()
	})

	RegionCounter.Inc(1)
	log.Debugf("region(%s) created with %d bytes", r.id, size)

	return region, nil
}

// setup takes the region from Unlocked to EncryptedAtRest, unwinding every applied step on failure.
func (r *regionInternal) setup(fill func([]byte)) error {
	if r.size > flexmem.MaxCapacity(1)-r.key.overhead {
		return r.unwind(errors.Wrapf(flexmem.ErrCapacityOverflow, "invalid region size %d", r.size))
	}

	if err := r.store.Allocate(r.size + r.key.overhead); err != nil {
		return r.unwind(err)
	}

	r.mem = r.store.Slice()

	if err := r.mc.Lock(r.mem); err != nil {
		return r.unwind(&flexmem.ProtectionError{Kind: flexmem.ErrLockFailed, Err: err})
	}

	r.state = Locked

	fill(r.mem[:r.size])

	nonce, err := r.key.seal(r.mem, r.size)
	if err != nil {
		return r.unwind(err)
	}

	r.nonce = nonce

	if err := r.mc.Protect(r.mem, memcall.NoAccess()); err != nil {
		return r.unwind(&flexmem.ProtectionError{Kind: flexmem.ErrProtectFailed, Locked: true, Err: err})
	}

	r.state = EncryptedAtRest

	return nil
}

// unwind releases whatever setup managed to apply and folds any cleanup failure into err.
func (r *regionInternal) unwind(err error) error {
	if r.mem != nil {
		wipe.Bytes(r.mem)

		if r.state == Locked {
			err = memcall.Fold(err, errors.WithStack(r.mc.Unlock(r.mem)))
		}
	}

	err = memcall.Fold(err, r.store.Release())
	err = memcall.Fold(err, r.key.close())

	r.mem = nil
	r.state = Destroyed

	return err
}

// Open decrypts the region and returns a Scope exposing its plaintext. Open does not wait for a live scope
// to close, it fails with flexmem.ErrAlreadyAccessed instead.
//
// If the contents fail authentication, the region is wiped and every later Open fails with
// flexmem.ErrDecryptionFailed.
func (r *Region) Open() (*Scope, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case r.closing || r.state == Destroyed:
		return nil, errors.WithStack(flexmem.ErrClosed)
	case r.scope != nil:
		return nil, errors.WithStack(flexmem.ErrAlreadyAccessed)
	case r.poisoned:
		return nil, errors.Wrap(flexmem.ErrDecryptionFailed, "region was previously tampered with")
	}

	if err := r.mc.Protect(r.mem, memcall.ReadWrite()); err != nil {
		return nil, &flexmem.ProtectionError{Kind: flexmem.ErrUnprotectFailed, Locked: true, Protected: true, Err: err}
	}

	if err := r.key.open(r.mem, r.size, r.nonce); err != nil {
		if errors.Is(err, flexmem.ErrDecryptionFailed) {
			return nil, memcall.Fold(err, r.poison())
		}

		if err2 := r.mc.Protect(r.mem, memcall.NoAccess()); err2 != nil {
			r.state = Locked
			err = errors.Wrap(err, err2.Error())
		}

		return nil, err
	}

	r.nonce = nil
	r.state = Locked

	r.scope = &Scope{
		r:      r.regionInternal,
		opened: time.Now(),
	}

	return r.scope, nil
}

// poison wipes the region and marks it no-access. It must be called with the mutex held and the pages
// readable.
func (r *regionInternal) poison() error {
	r.poisoned = true
	r.nonce = nil

	wipe.Bytes(r.mem)

	log.Debugf("region(%s) poisoned", r.id)

	if err := r.mc.Protect(r.mem, memcall.NoAccess()); err != nil {
		r.state = Locked
		return &flexmem.ProtectionError{Kind: flexmem.ErrProtectFailed, Locked: true, Err: err}
	}

	r.state = Protected

	return nil
}

// WithBytes decrypts the region and passes its plaintext to action. The region is encrypted again when action
// returns or panics.
//
// A reference MUST not be kept to the bytes passed to the function as the underlying array will no
// longer be readable after the function exits.
func (r *Region) WithBytes(action func([]byte) error) (err error) {
	s, err := r.Open()
	if err != nil {
		return err
	}

	defer func() {
		if err2 := s.Close(); err2 != nil {
			if err == nil {
				err = err2
				return
			}

			err = errors.WithMessage(err, err2.Error())
		}
	}()

	return action(s.Bytes())
}

// WithBytesFunc is like WithBytes but also returns the byte slice returned by action.
func (r *Region) WithBytesFunc(action func([]byte) ([]byte, error)) (ret []byte, err error) {
	s, err := r.Open()
	if err != nil {
		return nil, err
	}

	defer func() {
		if err2 := s.Close(); err2 != nil {
			if err == nil {
				err = err2
				return
			}

			err = errors.WithMessage(err, err2.Error())
		}
	}()

	return action(s.Bytes())
}

// NewReader returns a new io.Reader reading the plaintext of r, opening a scope for each Read.
func (r *Region) NewReader() io.Reader {
	return reader.New(r)
}

// ID returns the identifier of the region. It appears in debug logs, including the report of a region that was
// finalized without being closed.
func (r *Region) ID() uuid.UUID {
	return r.id
}

// Len returns the number of plaintext bytes held by the region.
func (r *Region) Len() int {
	return r.size
}

// State returns the current protection state of the region. While a scope is live the region is Locked.
func (r *Region) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.state
}

// IsClosed returns true if the region has been destroyed.
func (r *Region) IsClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.state == Destroyed
}

// Rekey replaces the region's key, re-encrypting the contents under a freshly generated one. The previous key
// is wiped. Rekey fails with flexmem.ErrAlreadyAccessed while a scope is live.
func (r *Region) Rekey(opts ...Option) error {
	c := newConfig(opts)

	key, err := newKeyMaterial(c.keys, c.cipher)
	if err != nil {
		return err
	}

	s, err := r.Open()
	if err != nil {
		return memcall.Fold(err, key.close())
	}

	r.mu.Lock()

	old := r.key
	if key.overhead != old.overhead {
		r.mu.Unlock()

		err = errors.Wrapf(flexmem.ErrUnsupported, "cipher overhead %d differs from %d", key.overhead, old.overhead)
		err = memcall.Fold(err, s.Close())

		return memcall.Fold(err, key.close())
	}

	r.key = key
	r.mu.Unlock()

	log.Debugf("region(%s) rekeyed", r.id)

	return memcall.Fold(s.Close(), old.close())
}

func (r *regionInternal) finalize() {
	r.mu.Lock()
	if !r.closing {
		log.Debugf("finalized before closed: region(%s)\n%s\n", r.id, r.stack)
	}
	r.mu.Unlock()

	_ = r.Close()
}

// Close wipes the region and releases its memory and key. Close waits for a live scope to be closed first, so
// it must not be called by the goroutine holding the scope. It is safe to call Close more than once.
func (r *regionInternal) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closing = true

	for {
		if r.state == Destroyed {
			return nil
		}

		if r.scope == nil {
			return r.close()
		}

		r.c.Wait()
	}
}

func (r *regionInternal) close() error {
	if err := r.mc.Protect(r.mem, memcall.ReadWrite()); err != nil {
		return &flexmem.ProtectionError{Kind: flexmem.ErrUnprotectFailed, Locked: true, Protected: true, Err: err}
	}

	wipe.Bytes(r.mem)

	err := errors.WithStack(r.mc.Unlock(r.mem))
	err = memcall.Fold(err, r.store.Release())
	err = memcall.Fold(err, r.key.close())

	r.mem = nil
	r.nonce = nil
	r.state = Destroyed

	RegionCounter.Dec(1)
	log.Debugf("region(%s) closed", r.id)

	return err
}
