package storage

import (
	"github.com/godaddy/asherah/go/flexmem"
	"github.com/godaddy/asherah/go/flexmem/alloc"
	"github.com/godaddy/asherah/go/flexmem/internal/wipe"
	"github.com/godaddy/asherah/go/flexmem/log"
)

// SpillStore keeps its elements in a caller provided slice until they no longer fit, then moves them to an
// AllocStore. Spilling is one way, a spilled store never returns to the inline slice.
type SpillStore[T flexmem.Element] struct {
	inline  []T
	spilled *AllocStore[T]
	a       alloc.Allocator
	zeroize bool
}

var _ Store[byte] = (*SpillStore[byte])(nil)

// NewSpillStore returns a store using the full capacity of inline before spilling to memory allocated from a.
// The store takes ownership of inline, which must not be used by the caller afterwards.
func NewSpillStore[T flexmem.Element](inline []T, a alloc.Allocator, zeroize bool) *SpillStore[T] {
	if a == nil {
		a = alloc.Default
	}

	return &SpillStore[T]{
		inline:  inline[:cap(inline)],
		a:       a,
		zeroize: zeroize || alloc.Zeroizes(a),
	}
}

// Slice implements Store.
func (s *SpillStore[T]) Slice() []T {
	if s.spilled != nil {
		return s.spilled.Slice()
	}

	return s.inline
}

// Cap implements Store.
func (s *SpillStore[T]) Cap() int {
	if s.spilled != nil {
		return s.spilled.Cap()
	}

	return len(s.inline)
}

// Zeroizes implements Store.
func (s *SpillStore[T]) Zeroizes() bool {
	return s.zeroize
}

// Spilled implements Store.
func (s *SpillStore[T]) Spilled() bool {
	return s.spilled != nil
}

// Grow implements Store. The first Grow beyond the inline capacity allocates exactly capacity elements and
// moves the first length elements out of the inline slice.
func (s *SpillStore[T]) Grow(capacity, length int) error {
	if s.spilled != nil {
		return s.spilled.Grow(capacity, length)
	}

	if capacity <= len(s.inline) {
		return nil
	}

	st := NewAllocStore[T](s.a, s.zeroize)
	if err := st.Allocate(capacity); err != nil {
		return err
	}

	length = min(length, len(s.inline))
	copy(st.Slice(), s.inline[:length])

	if s.zeroize {
		wipe.Slice(s.inline)
	}

	s.spilled = st
	s.inline = nil

	flexmem.SpillCounter.Inc(1)
	log.Debugf("spilled %d elements to allocated storage of capacity %d", length, capacity)

	return nil
}

// Shrink implements Store. Inline storage cannot shrink.
func (s *SpillStore[T]) Shrink(capacity, length int) error {
	if s.spilled != nil {
		return s.spilled.Shrink(capacity, length)
	}

	return nil
}

// Release implements Store.
func (s *SpillStore[T]) Release() error {
	if s.spilled != nil {
		return s.spilled.Release()
	}

	if s.zeroize {
		wipe.Slice(s.inline)
	}

	return nil
}
