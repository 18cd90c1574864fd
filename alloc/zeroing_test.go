//go:build !nozeroize

package alloc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestZeroing_WipesBeforeFree(t *testing.T) {
	mem := make([]byte, 8, 16)

	inner := new(recordingAllocator)
	inner.On("Alloc", 8, 4).Return(mem, nil)
	inner.On("Free", mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		b := args.Get(0).([]byte)
		assert.Equal(t, make([]byte, 16), b[:cap(b)])
	})

	z := Zeroing{A: inner}
	assert.True(t, Zeroizes(z))

	b, err := z.Alloc(8, 4)
	require.NoError(t, err)

	for i := range b[:cap(b)] {
		b[:cap(b)][i] = 0xff
	}

	assert.NoError(t, z.Free(b[:2]))
	inner.AssertExpectations(t)
}

func TestZeroing_HidesResizer(t *testing.T) {
	var a Allocator = Zeroing{A: new(recordingAllocator)}

	_, ok := a.(Resizer)
	assert.False(t, ok)
}
