//go:build !noheap

package alloc

import (
	"math"
	"unsafe"

	"github.com/pkg/errors"

	"github.com/godaddy/asherah/go/flexmem"
)

// Default is the allocator used by buffers when none is configured.
var Default Allocator = Go{}

// Go allocates from the Go heap. Memory is reclaimed by the garbage collector, so Free is a no-op.
//
// Go is safe to use from multiple goroutines.
type Go struct{}

// Alloc implements Allocator.
func (Go) Alloc(size, align int) (b []byte, err error) {
	if err := checkRequest(size, align); err != nil {
		return nil, err
	}

	if size > math.MaxInt-align {
		return nil, errors.Wrapf(flexmem.ErrCapacityOverflow, "allocating %d bytes", size)
	}

	defer func() {
		// make panics when the runtime cannot satisfy the request
		if r := recover(); r != nil {
			b, err = nil, outOfMemory(errors.Errorf("%v", r), size)
		}
	}()

	if size == 0 {
		return []byte{}, nil
	}

	buf := make([]byte, size+align-1) // padding for alignment

	shift := 0
	if r := int(uintptr(unsafe.Pointer(&buf[0])) % uintptr(align)); r != 0 {
		shift = align - r
	}

	return buf[shift : size+shift : size+shift], nil
}

// Free implements Allocator.
func (Go) Free([]byte) error {
	return nil
}
