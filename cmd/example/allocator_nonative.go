//go:build noheap || nonative

package main

import (
	"github.com/godaddy/asherah/go/flexmem/alloc"
)

func stagingAllocator() alloc.Allocator {
	if opts.Allocator == "native" {
		panic("native allocator is not available in this build")
	}

	if opts.Allocator == "secure" {
		return new(alloc.Secure)
	}

	return alloc.Default
}
