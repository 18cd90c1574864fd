//go:build noheap

package alloc

import (
	"github.com/pkg/errors"

	"github.com/godaddy/asherah/go/flexmem"
)

// Default refuses every allocation when heap support is compiled out. Inline buffers and page backed
// allocators remain available.
var Default Allocator = none{}

type none struct{}

func (none) Alloc(size, _ int) ([]byte, error) {
	return nil, errors.Wrapf(flexmem.ErrUnsupported, "heap allocation of %d bytes", size)
}

func (none) Free([]byte) error {
	return nil
}
