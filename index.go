package flexmem

import (
	"math"

	"github.com/pkg/errors"
)

// Index is the set of unsigned integer types a buffer can use to store its length and capacity. Narrow index
// types keep buffer headers small at the price of a lower capacity limit.
type Index interface {
	~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uint
}

// MaxIndex returns the largest value of I that is also representable as a non-negative int.
func MaxIndex[I Index]() int {
	m := uint64(^I(0))
	if m > math.MaxInt {
		return math.MaxInt
	}

	return int(m)
}

// ToIndex converts n to I, failing with ErrCapacityOverflow if n is negative or too large for I.
func ToIndex[I Index](n int) (I, error) {
	if n < 0 || n > MaxIndex[I]() {
		return 0, errors.Wrapf(ErrCapacityOverflow, "%d does not fit index type %T", n, I(0))
	}

	return I(n), nil
}

// MaxCapacity returns the largest number of elements of elemSize bytes whose total size is representable as an
// int.
func MaxCapacity(elemSize int) int {
	if elemSize <= 1 {
		return math.MaxInt
	}

	return math.MaxInt / elemSize
}
