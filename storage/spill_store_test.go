package storage

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/godaddy/asherah/go/flexmem"
	"github.com/godaddy/asherah/go/flexmem/log"
)

type logMock struct {
	mock.Mock
}

func (l *logMock) Debugf(f string, v ...interface{}) {
	l.Called(f, v)
}

func TestSpillStore_InlineIsAllocationFree(t *testing.T) {
	var inline [4]uint32

	a := newTestAllocator()
	s := NewSpillStore(inline[:0], a, false)

	assert.Equal(t, 4, s.Cap())
	assert.False(t, s.Spilled())

	require.NoError(t, s.Grow(4, 0))
	copy(s.Slice(), []uint32{1, 2, 3, 4})

	assert.Equal(t, [4]uint32{1, 2, 3, 4}, inline)
	assert.Equal(t, 0, a.allocs)

	require.NoError(t, s.Shrink(1, 1))
	assert.Equal(t, 4, s.Cap())
	assert.NoError(t, s.Release())
}

func TestSpillStore_Spill(t *testing.T) {
	flexmem.SpillCounter.Clear()

	l := new(logMock)
	l.On("Debugf", mock.Anything, mock.Anything).Return()

	log.SetLogger(l)
	defer log.SetLogger(nil)

	var inline [4]uint32

	a := newTestAllocator()
	s := NewSpillStore(inline[:], a, true)

	copy(s.Slice(), []uint32{1, 2, 3, 4})

	require.NoError(t, s.Grow(8, 4))

	assert.True(t, s.Spilled())
	assert.Equal(t, 8, s.Cap())
	assert.Equal(t, []uint32{1, 2, 3, 4}, s.Slice()[:4])
	assert.Equal(t, [4]uint32{}, inline, "inline storage must be wiped after spilling")
	assert.Equal(t, int64(1), flexmem.SpillCounter.Count())
	assert.Equal(t, 1, a.allocs)

	l.AssertNumberOfCalls(t, "Debugf", 1)

	require.NoError(t, s.Release())
	assert.Equal(t, 0, a.outstanding())
}

func TestSpillStore_SpillIsIrreversible(t *testing.T) {
	var inline [2]uint8

	a := newTestAllocator()
	s := NewSpillStore(inline[:], a, false)

	require.NoError(t, s.Grow(3, 2))
	require.True(t, s.Spilled())

	require.NoError(t, s.Shrink(1, 1))
	assert.True(t, s.Spilled())
	assert.Equal(t, 1, s.Cap())

	require.NoError(t, s.Shrink(0, 0))
	assert.True(t, s.Spilled())
	assert.Equal(t, 0, s.Cap())

	// growing again allocates rather than reusing the inline slice
	require.NoError(t, s.Grow(2, 0))
	assert.True(t, s.Spilled())
	assert.Equal(t, 3, a.allocs)

	require.NoError(t, s.Release())
}

func TestSpillStore_SpillFailure(t *testing.T) {
	var inline [2]uint16

	a := newTestAllocator()
	a.failAfter = 0

	s := NewSpillStore(inline[:], a, true)
	copy(s.Slice(), []uint16{5, 6})

	err := s.Grow(4, 2)
	assert.True(t, errors.Is(err, flexmem.ErrOutOfMemory))

	assert.False(t, s.Spilled())
	assert.Equal(t, [2]uint16{5, 6}, inline)
}

func TestSpillStore_ReleaseWipesInline(t *testing.T) {
	inline := []byte("secret")

	s := NewSpillStore(inline, newTestAllocator(), true)
	require.NoError(t, s.Release())

	assert.True(t, allZero(inline))
}
