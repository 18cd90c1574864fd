// Package buffer implements a growable buffer of scalar elements whose storage is supplied by an allocator, or
// by an inline slice that spills to allocated memory once it is full.
package buffer

import (
	"fmt"
	"unsafe"

	"github.com/pkg/errors"

	"github.com/godaddy/asherah/go/flexmem"
	"github.com/godaddy/asherah/go/flexmem/internal/wipe"
	"github.com/godaddy/asherah/go/flexmem/storage"
)

// Buffer is a growable sequence of elements of type T with its length and capacity stored as I. The largest
// capacity a buffer can reach is bounded by I, so a Buffer[byte, uint8] never holds more than 255 elements.
//
// A Buffer has a single owner and is not safe for concurrent use. Methods with a Try prefix report failures as
// errors, their counterparts without it panic with the same error.
type Buffer[T flexmem.Element, I flexmem.Index] struct {
	store    storage.Store[T]
	growth   flexmem.GrowthPolicy
	length   I
	capacity I
	moved    bool
	closed   bool
}

// New returns an empty buffer backed by the configured allocator. It panics if the initial capacity cannot be
// allocated.
func New[T flexmem.Element, I flexmem.Index](opts ...Option) *Buffer[T, I] {
	return must(TryNew[T, I](opts...))
}

// TryNew returns an empty buffer backed by the configured allocator.
func TryNew[T flexmem.Element, I flexmem.Index](opts ...Option) (*Buffer[T, I], error) {
	c := newConfig(opts)

	return newBuffer[T, I](storage.NewAllocStore[T](c.alloc, c.zeroize), c)
}

// NewInline returns an empty buffer storing its elements in the full capacity of inline until it needs more
// room. The buffer takes ownership of inline. NewInline panics if the initial capacity cannot be allocated.
func NewInline[T flexmem.Element, I flexmem.Index](inline []T, opts ...Option) *Buffer[T, I] {
	return must(TryNewInline[T, I](inline, opts...))
}

// TryNewInline is like NewInline but returns an error rather than panic.
func TryNewInline[T flexmem.Element, I flexmem.Index](inline []T, opts ...Option) (*Buffer[T, I], error) {
	c := newConfig(opts)

	return newBuffer[T, I](storage.NewSpillStore(inline, c.alloc, c.zeroize), c)
}

func newBuffer[T flexmem.Element, I flexmem.Index](s storage.Store[T], c *config) (*Buffer[T, I], error) {
	b := &Buffer[T, I]{
		store:  s,
		growth: c.growth,
	}

	b.sync()

	if c.capacity > 0 {
		if err := b.TryReserve(c.capacity); err != nil {
			// nothing was stored yet, the release cannot lose data
			_ = s.Release()

			return nil, err
		}
	}

	return b, nil
}

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}

	return v
}

// Limit returns the largest capacity a buffer of T indexed by I can have.
func Limit[T flexmem.Element, I flexmem.Index]() int {
	var zero T

	return min(flexmem.MaxIndex[I](), flexmem.MaxCapacity(int(unsafe.Sizeof(zero))))
}

// sync refreshes the capacity header from the store, dropping any elements the store no longer holds.
func (b *Buffer[T, I]) sync() {
	b.capacity = I(min(b.store.Cap(), Limit[T, I]()))

	if b.length > b.capacity {
		b.length = b.capacity
	}
}

func (b *Buffer[T, I]) check() error {
	switch {
	case b.moved:
		return errors.WithStack(flexmem.ErrMoved)
	case b.closed:
		return errors.WithStack(flexmem.ErrBufferClosed)
	}

	return nil
}

func (b *Buffer[T, I]) mustCheck() {
	if err := b.check(); err != nil {
		panic(err)
	}
}

func (b *Buffer[T, I]) slots() []T {
	return b.store.Slice()[:b.capacity]
}

// Len returns the number of elements in the buffer.
func (b *Buffer[T, I]) Len() int {
	return int(b.length)
}

// Cap returns the number of elements the buffer can hold without growing.
func (b *Buffer[T, I]) Cap() int {
	return int(b.capacity)
}

// IsEmpty returns true if the buffer holds no elements.
func (b *Buffer[T, I]) IsEmpty() bool {
	return b.length == 0
}

// Spilled returns true if the buffer's elements live in allocated storage.
func (b *Buffer[T, I]) Spilled() bool {
	if b.check() != nil {
		return false
	}

	return b.store.Spilled()
}

// IsClosed returns true if Close has been called.
func (b *Buffer[T, I]) IsClosed() bool {
	return b.closed
}

// Slice returns the elements of the buffer. The slice aliases the buffer's storage and is invalidated by any
// call that changes the buffer's capacity.
func (b *Buffer[T, I]) Slice() []T {
	b.mustCheck()

	return b.store.Slice()[:b.length]
}

// At returns the element at index i.
func (b *Buffer[T, I]) At(i int) T {
	return b.Slice()[i]
}

// Set replaces the element at index i.
func (b *Buffer[T, I]) Set(i int, v T) {
	b.Slice()[i] = v
}

// TryReserve makes room for at least n more elements.
func (b *Buffer[T, I]) TryReserve(n int) error {
	if err := b.check(); err != nil {
		return err
	}

	if n <= 0 {
		return nil
	}

	limit := Limit[T, I]()
	length := int(b.length)

	if n > limit-length {
		return errors.Wrapf(flexmem.ErrCapacityOverflow, "%d more elements exceed limit %d", n, limit)
	}

	required := length + n
	if required <= b.Cap() {
		return nil
	}

	capacity, err := b.growth.NextCapacity(b.Cap(), required, limit)
	if err != nil {
		return err
	}

	if err := b.store.Grow(capacity, length); err != nil {
		b.sync()
		return err
	}

	b.sync()

	return nil
}

// Reserve is like TryReserve but panics on failure.
func (b *Buffer[T, I]) Reserve(n int) {
	if err := b.TryReserve(n); err != nil {
		panic(err)
	}
}

// TryPush appends v to the buffer.
func (b *Buffer[T, I]) TryPush(v T) error {
	if err := b.TryReserve(1); err != nil {
		return err
	}

	b.slots()[b.length] = v
	b.length++

	return nil
}

// Push is like TryPush but panics on failure.
func (b *Buffer[T, I]) Push(v T) {
	if err := b.TryPush(v); err != nil {
		panic(err)
	}
}

// TryExtend appends every element of values to the buffer.
func (b *Buffer[T, I]) TryExtend(values []T) error {
	if err := b.TryReserve(len(values)); err != nil {
		return err
	}

	copy(b.slots()[b.length:], values)
	b.length += I(len(values))

	return nil
}

// Extend is like TryExtend but panics on failure.
func (b *Buffer[T, I]) Extend(values []T) {
	if err := b.TryExtend(values); err != nil {
		panic(err)
	}
}

// TryInsert inserts v at index i, shifting later elements up by one. It panics if i is greater than Len.
func (b *Buffer[T, I]) TryInsert(i int, v T) error {
	if err := b.check(); err != nil {
		return err
	}

	if i < 0 || i > b.Len() {
		panic(fmt.Sprintf("buffer: insertion index %d out of range [0:%d]", i, b.length))
	}

	if err := b.TryReserve(1); err != nil {
		return err
	}

	s := b.slots()
	copy(s[i+1:b.length+1], s[i:b.length])
	s[i] = v
	b.length++

	return nil
}

// Insert is like TryInsert but panics on failure.
func (b *Buffer[T, I]) Insert(i int, v T) {
	if err := b.TryInsert(i, v); err != nil {
		panic(err)
	}
}

// Remove removes and returns the element at index i, shifting later elements down by one.
func (b *Buffer[T, I]) Remove(i int) T {
	s := b.Slice()
	v := s[i]

	copy(s[i:], s[i+1:])
	b.vacate(b.Len() - 1)

	return v
}

// Pop removes and returns the last element. ok is false if the buffer is empty.
func (b *Buffer[T, I]) Pop() (v T, ok bool) {
	s := b.Slice()
	if len(s) == 0 {
		return v, false
	}

	v = s[len(s)-1]
	b.vacate(len(s) - 1)

	return v, true
}

// Truncate keeps the first n elements and drops the rest. It does nothing if n is not less than Len.
func (b *Buffer[T, I]) Truncate(n int) {
	b.mustCheck()

	if n < 0 {
		panic(fmt.Sprintf("buffer: truncate length %d is negative", n))
	}

	if n < b.Len() {
		b.vacate(n)
	}
}

// Clear drops every element.
func (b *Buffer[T, I]) Clear() {
	b.Truncate(0)
}

// vacate shrinks the length to n, wiping the vacated slots if the store zeroizes.
func (b *Buffer[T, I]) vacate(n int) {
	if b.store.Zeroizes() {
		wipe.Slice(b.store.Slice()[n:b.length])
	}

	b.length = I(n)
}

// TryShrinkToFit reduces the capacity to the current length where the storage allows it.
func (b *Buffer[T, I]) TryShrinkToFit() error {
	if err := b.check(); err != nil {
		return err
	}

	if err := b.store.Shrink(b.Len(), b.Len()); err != nil {
		b.sync()
		return err
	}

	b.sync()

	return nil
}

// ShrinkToFit is like TryShrinkToFit but panics on failure.
func (b *Buffer[T, I]) ShrinkToFit() {
	if err := b.TryShrinkToFit(); err != nil {
		panic(err)
	}
}

// Move transfers the buffer's storage and elements to a new Buffer. b must not be used afterwards, apart from
// Close which becomes a no-op.
func (b *Buffer[T, I]) Move() *Buffer[T, I] {
	b.mustCheck()

	moved := &Buffer[T, I]{
		store:    b.store,
		growth:   b.growth,
		length:   b.length,
		capacity: b.capacity,
	}

	b.store = nil
	b.length = 0
	b.capacity = 0
	b.moved = true

	return moved
}

// Close wipes the elements if the buffer zeroizes and releases its storage. It is safe to call Close more than
// once.
func (b *Buffer[T, I]) Close() error {
	if b.moved || b.closed {
		return nil
	}

	b.closed = true

	if b.store.Zeroizes() {
		wipe.Slice(b.store.Slice()[:b.length])
	}

	b.length = 0
	b.capacity = 0

	return b.store.Release()
}
