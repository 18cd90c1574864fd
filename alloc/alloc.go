// Package alloc defines the allocation primitive consumed by flexmem stores, along with implementations backed by
// the Go heap, an off-heap malloc, and locked memory pages.
package alloc

import (
	"github.com/pkg/errors"

	"github.com/godaddy/asherah/go/flexmem"
)

// Allocator is an allocation primitive. Implementations must report failure rather than panic or abort.
type Allocator interface {
	// Alloc returns a slice of length size whose first byte is aligned to align. The capacity of the returned
	// slice is the usable size of the allocation and may exceed size.
	Alloc(size, align int) ([]byte, error)

	// Free releases memory returned by Alloc or Resize. It may be passed any reslicing of the original slice
	// that starts at the same address.
	Free(b []byte) error
}

// Resizer is implemented by allocators able to change the size of an allocation, possibly relocating it. The
// contents up to the smaller of the two sizes are preserved and the old slice must not be used afterwards. On
// failure b is left untouched and remains owned by the caller.
type Resizer interface {
	Resize(b []byte, size, align int) ([]byte, error)
}

// Zeroizer is implemented by allocators that wipe memory before releasing it.
type Zeroizer interface {
	Zeroizes() bool
}

// Zeroizes returns true if a wipes memory on release.
func Zeroizes(a Allocator) bool {
	z, ok := a.(Zeroizer)

	return ok && z.Zeroizes()
}

// UninitByte is written to fresh secure allocations so reads of uninitialized memory are recognisable.
const UninitByte byte = 0xdb

func outOfMemory(err error, size int) error {
	if err == nil {
		return errors.Wrapf(flexmem.ErrOutOfMemory, "allocating %d bytes", size)
	}

	return errors.Wrapf(flexmem.ErrOutOfMemory, "allocating %d bytes: %s", size, err)
}

func checkRequest(size, align int) error {
	if size < 0 {
		return errors.Wrapf(flexmem.ErrCapacityOverflow, "invalid allocation size %d", size)
	}

	if align <= 0 || align&(align-1) != 0 {
		return errors.Wrapf(flexmem.ErrUnsupported, "invalid alignment %d", align)
	}

	return nil
}
