// Package storage implements the backing stores behind flexmem buffers: an allocator backed store and an inline
// store that spills to allocated memory once it outgrows the space the caller provided.
package storage

import (
	"github.com/godaddy/asherah/go/flexmem"
)

// Store is the storage engine used by a buffer. A store only manages capacity, the buffer tracks how many of
// the elements are in use.
type Store[T flexmem.Element] interface {
	// Slice returns every element slot currently available. The returned slice is invalidated by Grow, Shrink
	// and Release.
	Slice() []T

	// Cap returns the number of element slots available.
	Cap() int

	// Grow makes room for at least capacity elements, preserving the first length elements.
	Grow(capacity, length int) error

	// Shrink reduces the capacity to capacity elements where possible, preserving the first length elements.
	// Shrink never fails when capacity does not exceed Cap, it keeps the current storage instead.
	Shrink(capacity, length int) error

	// Zeroizes returns true if vacated and released memory is wiped.
	Zeroizes() bool

	// Spilled returns true once the store has moved its elements to allocated storage.
	Spilled() bool

	// Release returns all allocated memory. It is safe to call Release more than once.
	Release() error
}
