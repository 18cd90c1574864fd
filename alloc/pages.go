package alloc

import (
	"github.com/pkg/errors"

	"github.com/godaddy/asherah/go/flexmem"
	"github.com/godaddy/asherah/go/flexmem/internal/memcall"
)

// Pages allocates whole memory pages directly from the operating system. Allocations are page aligned and
// their usable size is rounded up to a multiple of the page size.
//
// The zero value is ready to use.
type Pages struct {
	mc memcall.Interface
}

// NewPages returns a Pages allocator that issues its syscalls through mc.
func NewPages(mc memcall.Interface) *Pages {
	return &Pages{mc: mc}
}

func (p *Pages) memcall() memcall.Interface {
	if p.mc == nil {
		p.mc = memcall.Default
	}

	return p.mc
}

// Alloc implements Allocator.
func (p *Pages) Alloc(size, align int) ([]byte, error) {
	if err := checkRequest(size, align); err != nil {
		return nil, err
	}

	if align > memcall.PageSize() {
		return nil, errors.Wrapf(flexmem.ErrUnsupported, "alignment %d exceeds page size", align)
	}

	if size == 0 {
		return []byte{}, nil
	}

	rounded := memcall.RoundToPage(size)
	if rounded < size {
		return nil, errors.Wrapf(flexmem.ErrCapacityOverflow, "allocating %d bytes", size)
	}

	b, err := p.memcall().Alloc(rounded)
	if err != nil {
		return nil, outOfMemory(err, size)
	}

	return b[:size:rounded], nil
}

// Free implements Allocator.
func (p *Pages) Free(b []byte) error {
	if cap(b) == 0 {
		return nil
	}

	return errors.WithStack(p.memcall().Free(b[:cap(b)]))
}
