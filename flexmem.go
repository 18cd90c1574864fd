package flexmem

import (
	"github.com/rcrowley/go-metrics"
)

var (
	// AllocCounter is used to track cumulative storage allocations.
	//
	// AllocCounter increases every time a store obtains a new allocation from its allocator, including
	// relocations, but unlike InUseCounter, it does not decrease as allocations are released.
	AllocCounter = metrics.GetOrRegisterCounter("flexmem.allocated", nil)

	// InUseCounter is used to track the number of allocations currently owned by stores.
	InUseCounter = metrics.GetOrRegisterCounter("flexmem.inuse", nil)

	// SpillCounter is used to track the number of inline stores that have spilled to allocated storage.
	SpillCounter = metrics.GetOrRegisterCounter("flexmem.spilled", nil)
)

// Element is the set of element types a buffer can hold. Elements are restricted to pointer-free scalar types
// since their backing memory may live outside the Go heap where the garbage collector cannot see it.
type Element interface {
	~int8 | ~int16 | ~int32 | ~int64 | ~int |
		~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uint | ~uintptr |
		~float32 | ~float64 | ~complex64 | ~complex128
}
