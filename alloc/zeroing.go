//go:build !nozeroize

package alloc

import (
	"github.com/godaddy/asherah/go/flexmem/internal/wipe"
)

// Zeroing wraps an allocator so every allocation is wiped before it is released. Zeroing never resizes in
// place, so growing a buffer always copies into a fresh allocation and wipes the old one.
type Zeroing struct {
	A Allocator
}

// Alloc implements Allocator.
func (z Zeroing) Alloc(size, align int) ([]byte, error) {
	return z.A.Alloc(size, align)
}

// Free implements Allocator.
func (z Zeroing) Free(b []byte) error {
	wipe.Bytes(b[:cap(b)])

	return z.A.Free(b)
}

// Zeroizes implements Zeroizer.
func (Zeroing) Zeroizes() bool {
	return true
}
