//go:build !noheap && !nonative

package alloc

import (
	"sync"

	"github.com/pkg/errors"
	"modernc.org/memory"

	"github.com/godaddy/asherah/go/flexmem"
)

// NativeAlign is the alignment guaranteed by Native allocations.
const NativeAlign = 16

// Native allocates outside the Go heap using modernc.org/memory. Memory obtained from Native is invisible to
// the garbage collector and must be returned with Free.
//
// The zero value is ready to use and Native is safe to use from multiple goroutines.
type Native struct {
	mu sync.Mutex
	a  memory.Allocator
}

// Alloc implements Allocator.
func (n *Native) Alloc(size, align int) ([]byte, error) {
	if err := checkNativeRequest(size, align); err != nil {
		return nil, err
	}

	if size == 0 {
		return []byte{}, nil
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	b, err := n.a.Malloc(size)
	if err != nil || b == nil {
		return nil, outOfMemory(err, size)
	}

	return b, nil
}

// Resize implements Resizer. When the block moves, the old block is released without being wiped.
func (n *Native) Resize(b []byte, size, align int) ([]byte, error) {
	if err := checkNativeRequest(size, align); err != nil {
		return nil, err
	}

	if cap(b) == 0 {
		return n.Alloc(size, align)
	}

	if size == 0 {
		return []byte{}, n.Free(b)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	r, err := n.a.Realloc(b, size)
	if err != nil || r == nil {
		return nil, outOfMemory(err, size)
	}

	return r, nil
}

// Free implements Allocator.
func (n *Native) Free(b []byte) error {
	if cap(b) == 0 {
		return nil
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	return errors.WithStack(n.a.Free(b))
}

// Close releases every OS mapping held by n, including memory that has not been freed.
func (n *Native) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	return errors.WithStack(n.a.Close())
}

func checkNativeRequest(size, align int) error {
	if err := checkRequest(size, align); err != nil {
		return err
	}

	if align > NativeAlign {
		return errors.Wrapf(flexmem.ErrUnsupported, "alignment %d exceeds %d", align, NativeAlign)
	}

	return nil
}
