//go:build noheap

package alloc

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/godaddy/asherah/go/flexmem"
)

func TestDefault_NoHeap(t *testing.T) {
	b, err := Default.Alloc(8, 8)
	assert.Nil(t, b)
	assert.True(t, errors.Is(err, flexmem.ErrUnsupported))
	assert.NoError(t, Default.Free(nil))
}
