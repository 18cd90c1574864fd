package buffer

import (
	"github.com/godaddy/asherah/go/flexmem"
	"github.com/godaddy/asherah/go/flexmem/alloc"
)

type config struct {
	alloc    alloc.Allocator
	growth   flexmem.GrowthPolicy
	capacity int
	zeroize  bool
}

func newConfig(opts []Option) *config {
	c := &config{
		alloc:  alloc.Default,
		growth: flexmem.DefaultGrowth,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Option is used to configure a Buffer.
type Option func(*config)

// WithAllocator sets the allocator used for the buffer's storage. Defaults to alloc.Default.
func WithAllocator(a alloc.Allocator) Option {
	return func(c *config) {
		if a != nil {
			c.alloc = a
		}
	}
}

// WithGrowth sets the policy deciding how much the buffer grows by. Defaults to flexmem.DefaultGrowth.
func WithGrowth(g flexmem.GrowthPolicy) Option {
	return func(c *config) {
		if g != nil {
			c.growth = g
		}
	}
}

// WithCapacity reserves room for n elements when the buffer is created.
func WithCapacity(n int) Option {
	return func(c *config) {
		c.capacity = n
	}
}
