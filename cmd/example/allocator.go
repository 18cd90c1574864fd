//go:build !noheap && !nonative

package main

import (
	"github.com/godaddy/asherah/go/flexmem/alloc"
)

func stagingAllocator() alloc.Allocator {
	switch opts.Allocator {
	case "native":
		return new(alloc.Native)
	case "secure":
		return new(alloc.Secure)
	default:
		return alloc.Default
	}
}
