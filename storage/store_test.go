package storage

import (
	"github.com/pkg/errors"
)

var errAlloc = errors.New("error from allocator")

// testAllocator allocates from the Go heap and records what it hands out. Once failAfter allocations have
// succeeded every further allocation fails, a negative failAfter never fails.
type testAllocator struct {
	failAfter int
	allocs    int
	frees     int
	slack     int
	freed     [][]byte
	live      map[*byte]bool
}

func newTestAllocator() *testAllocator {
	return &testAllocator{failAfter: -1, live: map[*byte]bool{}}
}

func (a *testAllocator) Alloc(size, _ int) ([]byte, error) {
	if a.failAfter >= 0 && a.allocs >= a.failAfter {
		return nil, errAlloc
	}

	a.allocs++

	b := make([]byte, size, size+a.slack)
	if cap(b) > 0 {
		a.live[&b[:1][0]] = true
	}

	return b, nil
}

func (a *testAllocator) Free(b []byte) error {
	a.frees++

	if cap(b) > 0 {
		delete(a.live, &b[:1][0])
	}

	a.freed = append(a.freed, b[:cap(b)])

	return nil
}

func (a *testAllocator) outstanding() int {
	return len(a.live)
}

func allZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}

	return true
}
