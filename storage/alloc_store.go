package storage

import (
	"unsafe"

	"github.com/pkg/errors"

	"github.com/godaddy/asherah/go/flexmem"
	"github.com/godaddy/asherah/go/flexmem/alloc"
	"github.com/godaddy/asherah/go/flexmem/internal/wipe"
	"github.com/godaddy/asherah/go/flexmem/log"
)

// AllocStore keeps its elements in memory obtained from an alloc.Allocator. It owns at most one allocation at
// a time.
type AllocStore[T flexmem.Element] struct {
	a       alloc.Allocator
	zeroize bool

	// handle is the allocation as returned by a, len is the size in use and cap the usable size.
	handle []byte
	data   []T
}

var _ Store[byte] = (*AllocStore[byte])(nil)

// NewAllocStore returns an empty store allocating from a. When zeroize is true, or a wipes memory itself, the
// store wipes every byte it vacates or releases.
func NewAllocStore[T flexmem.Element](a alloc.Allocator, zeroize bool) *AllocStore[T] {
	if a == nil {
		a = alloc.Default
	}

	return &AllocStore[T]{
		a:       a,
		zeroize: zeroize || alloc.Zeroizes(a),
	}
}

func elemLayout[T flexmem.Element]() (size, align int) {
	var zero T

	return int(unsafe.Sizeof(zero)), int(unsafe.Alignof(zero))
}

func byteSize[T flexmem.Element](capacity int) (int, error) {
	size, _ := elemLayout[T]()

	if capacity < 0 || capacity > flexmem.MaxCapacity(size) {
		return 0, errors.Wrapf(flexmem.ErrCapacityOverflow, "%d elements of %d bytes", capacity, size)
	}

	return capacity * size, nil
}

// Slice implements Store.
func (s *AllocStore[T]) Slice() []T {
	return s.data
}

// Cap implements Store.
func (s *AllocStore[T]) Cap() int {
	return len(s.data)
}

// Zeroizes implements Store.
func (s *AllocStore[T]) Zeroizes() bool {
	return s.zeroize
}

// Spilled implements Store. An AllocStore is always spilled.
func (s *AllocStore[T]) Spilled() bool {
	return true
}

func (s *AllocStore[T]) set(handle []byte, capacity int) {
	s.handle = handle

	if capacity == 0 {
		s.data = nil
		return
	}

	s.data = unsafe.Slice((*T)(unsafe.Pointer(unsafe.SliceData(handle))), capacity)
}

// obtain allocates storage for capacity elements and verifies its alignment.
func (s *AllocStore[T]) obtain(capacity int) ([]byte, error) {
	n, err := byteSize[T](capacity)
	if err != nil {
		return nil, err
	}

	_, align := elemLayout[T]()

	b, err := s.a.Alloc(n, align)
	if err != nil {
		if flexmem.IsAllocationError(err) || flexmem.IsProtectionError(err) {
			return nil, err
		}

		return nil, errors.Wrapf(flexmem.ErrOutOfMemory, "allocating %d bytes: %s", n, err)
	}

	if err := checkHandle(b, n, align); err != nil {
		_ = s.a.Free(b)
		return nil, err
	}

	flexmem.AllocCounter.Inc(1)

	return b, nil
}

func checkHandle(b []byte, n, align int) error {
	if len(b) < n {
		return errors.Wrapf(flexmem.ErrOutOfMemory, "allocator returned %d of %d bytes", len(b), n)
	}

	if n > 0 && uintptr(unsafe.Pointer(unsafe.SliceData(b)))%uintptr(align) != 0 {
		return errors.Wrapf(flexmem.ErrUnsupported, "allocator returned memory not aligned to %d", align)
	}

	return nil
}

// Allocate obtains storage for capacity elements. Any current allocation is released without its contents
// being preserved.
func (s *AllocStore[T]) Allocate(capacity int) error {
	if err := s.Release(); err != nil {
		return err
	}

	if capacity == 0 {
		return nil
	}

	b, err := s.obtain(capacity)
	if err != nil {
		return err
	}

	flexmem.InUseCounter.Inc(1)
	s.set(b, capacity)

	return nil
}

// GrowInPlace extends the store to capacity elements without relocating, if the usable size of the current
// allocation allows it.
func (s *AllocStore[T]) GrowInPlace(capacity int) bool {
	if s.handle == nil {
		return false
	}

	n, err := byteSize[T](capacity)
	if err != nil || n > cap(s.handle) {
		return false
	}

	if capacity > s.Cap() {
		s.set(s.handle[:n], capacity)
	}

	return true
}

// Reallocate moves the store into a new allocation for capacity elements, copying the first length of them.
// When zeroizing, the bytes past length in the old allocation are wiped even if the new allocation fails, and
// the old allocation is wiped entirely before it is released.
func (s *AllocStore[T]) Reallocate(capacity, length int) error {
	if s.handle == nil {
		return s.Allocate(capacity)
	}

	if capacity == 0 {
		return s.Release()
	}

	size, align := elemLayout[T]()
	keep := min(length, capacity, s.Cap()) * size

	if !s.zeroize {
		if r, ok := s.a.(alloc.Resizer); ok {
			return s.resize(r, capacity, align)
		}
	}

	b, err := s.obtain(capacity)
	if err != nil {
		if s.zeroize {
			wipe.Bytes(s.handle[keep:cap(s.handle)])
		}

		return err
	}

	copy(b, s.handle[:keep])

	old := s.handle
	s.set(b, capacity)

	if s.zeroize {
		wipe.Bytes(old[:cap(old)])
	}

	if err := s.a.Free(old); err != nil {
		return errors.Wrap(err, "unable to free previous allocation")
	}

	return nil
}

func (s *AllocStore[T]) resize(r alloc.Resizer, capacity, align int) error {
	n, err := byteSize[T](capacity)
	if err != nil {
		return err
	}

	b, err := r.Resize(s.handle, n, align)
	if err != nil {
		if flexmem.IsAllocationError(err) {
			return err
		}

		return errors.Wrapf(flexmem.ErrOutOfMemory, "resizing to %d bytes: %s", n, err)
	}

	if err := checkHandle(b, n, align); err != nil {
		// the previous handle is gone, so the store ends up empty
		_ = s.a.Free(b)
		s.set(nil, 0)
		flexmem.InUseCounter.Dec(1)

		return err
	}

	flexmem.AllocCounter.Inc(1)
	s.set(b, capacity)

	return nil
}

// Grow implements Store.
func (s *AllocStore[T]) Grow(capacity, length int) error {
	switch {
	case capacity <= s.Cap():
		return nil
	case s.handle == nil:
		return s.Allocate(capacity)
	case s.GrowInPlace(capacity):
		return nil
	default:
		return s.Reallocate(capacity, length)
	}
}

// Shrink implements Store. A capacity of zero releases the allocation.
func (s *AllocStore[T]) Shrink(capacity, length int) error {
	if capacity >= s.Cap() {
		return nil
	}

	if capacity < 0 {
		capacity = 0
	}

	length = min(length, capacity)

	if s.zeroize {
		size, _ := elemLayout[T]()
		wipe.Bytes(s.handle[length*size : cap(s.handle)])
	}

	if capacity == 0 {
		if err := s.Release(); err != nil {
			log.Debugf("shrink: unable to release allocation: %v", err)
		}

		return nil
	}

	if err := s.Reallocate(capacity, length); err != nil {
		// keep the current capacity, the store is still valid
		log.Debugf("shrink: keeping capacity %d: %v", s.Cap(), err)
	}

	return nil
}

// Release implements Store.
func (s *AllocStore[T]) Release() error {
	if s.handle == nil {
		return nil
	}

	handle := s.handle
	s.set(nil, 0)

	if s.zeroize {
		wipe.Bytes(handle[:cap(handle)])
	}

	flexmem.InUseCounter.Dec(1)

	return errors.WithStack(s.a.Free(handle))
}
