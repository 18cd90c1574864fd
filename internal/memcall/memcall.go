// Package memcall wraps the memory syscalls flexmem depends on behind an interface so they can be replaced in
// tests.
package memcall

import (
	"os"

	"github.com/awnumar/memcall"
)

// Allocator allocates page-aligned memory outside the Go heap.
type Allocator interface {
	Alloc(size int) ([]byte, error)
}

// Freer returns memory obtained from an Allocator.
type Freer interface {
	Free([]byte) error
}

// Protector changes the page protection of memory obtained from an Allocator.
type Protector interface {
	Protect([]byte, MemoryProtectionFlag) error
}

// Locker prevents memory from being swapped to disk.
type Locker interface {
	Lock([]byte) error
}

// Unlocker reverses Lock.
type Unlocker interface {
	Unlock([]byte) error
}

// Interface provides an interface for wrapping memcall functions.
type Interface interface {
	Allocator
	Freer
	Protector
	Locker
	Unlocker
}

// wrapper implements Interface
type wrapper struct{}

// Default is a default implementation of Interface that directly wraps
// functions exported by the memcall package.
var Default Interface = &wrapper{}

func (*wrapper) Alloc(size int) ([]byte, error) {
	return memcall.Alloc(size)
}

func (*wrapper) Protect(b []byte, mpf MemoryProtectionFlag) error {
	return memcall.Protect(b, mpf)
}

func (*wrapper) Lock(b []byte) error {
	return memcall.Lock(b)
}

func (*wrapper) Unlock(b []byte) error {
	return memcall.Unlock(b)
}

func (*wrapper) Free(b []byte) error {
	return memcall.Free(b)
}

var pageSize = os.Getpagesize()

// PageSize returns the size of a memory page.
func PageSize() int {
	return pageSize
}

// RoundToPage rounds n up to a whole number of pages.
func RoundToPage(n int) int {
	if r := n % pageSize; r != 0 {
		return n + pageSize - r
	}

	return n
}
