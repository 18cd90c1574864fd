/*
Package flexmem provides growable buffers with pluggable storage and a secure memory region for holding
sensitive data (like cryptographic keys) locked, page protected and encrypted while at rest.

Ordinary flexible-size data lives in a buffer. The buffer can start out in caller-provided inline storage and
spill to an allocator once it outgrows it:

	package main

	import (
		"fmt"

		"github.com/godaddy/asherah/go/flexmem/buffer"
	)

	func main() {
		var inline [4]uint32

		buf := buffer.NewInline[uint32, uint8](inline[:0])
		defer buf.Close()

		for i := uint32(0); i < 5; i++ {
			buf.Push(i)
		}

		fmt.Println(buf.Spilled(), buf.Slice())
	}

Sensitive data lives in a region and is only ever touched through an access scope:

	package main

	import (
		"github.com/godaddy/asherah/go/flexmem/secure"
	)

	func main() {
		region, err := secure.NewRegion(getSecretFromStore())
		if err != nil {
			panic("unexpected error!")
		}
		defer region.Close()

		err = region.WithBytes(func(b []byte) error {
			doSomethingWithSecretBytes(b)
			return nil
		})
		if err != nil {
			panic("unexpected error!")
		}
	}
*/
package flexmem
