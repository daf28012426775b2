package param

import (
	"testing"

	"github.com/fyusenet/fyusenet-go/core/buffer"
	"github.com/stretchr/testify/assert"
)

func TestInMemoryProvider_GetMissingReturnsResourceError(t *testing.T) {
	p := NewInMemoryProvider()
	_, err := p.Get("dec5.weights", 5, 0)
	assert.Error(t, err)
}

func TestInMemoryProvider_PutThenGet(t *testing.T) {
	p := NewInMemoryProvider()
	p.Put(Name("dec5", "weights"), 5, 0, buffer.Float16, []byte{1, 2, 3})

	blob, err := p.Get(Name("dec5", "weights"), 5, 0)
	assert.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, blob.Value)

	dt, err := p.DataType(Name("dec5", "weights"), 5, 0)
	assert.NoError(t, err)
	assert.Equal(t, buffer.Float16, dt)
}

func TestWithBlob_ReleasesAfterCallback(t *testing.T) {
	p := NewInMemoryProvider()
	p.Put("tok.embed", 0, 0, buffer.Float32, "table")

	var seen string
	err := WithBlob(p, "tok.embed", 0, 0, func(v any) error {
		seen = v.(string)
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, "table", seen)
	assert.EqualValues(t, 0, p.entries[key{"tok.embed", 0, 0}].refs)
}

func TestWithBlob_PropagatesMissingBlobError(t *testing.T) {
	p := NewInMemoryProvider()
	err := WithBlob(p, "missing", 0, 0, func(any) error { return nil })
	assert.Error(t, err)
}
