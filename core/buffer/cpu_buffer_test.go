package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewCPUBuffer_ZeroSizedShapeReturnsNil(t *testing.T) {
	b := NewCPUBuffer(New(0, 0, 0, 0, Float32, Channelwise))
	assert.Nil(t, b)
}

func TestNewCPUBuffer_AllocatesZeroedBacking(t *testing.T) {
	shape := New(4, 4, 3, 0, Float32, Channelwise)
	b := NewCPUBuffer(shape)
	assert.NotNil(t, b)
	assert.Equal(t, shape.Bytes(), b.Bytes())
}

func TestMap_SecondCallWithoutUnmapErrors(t *testing.T) {
	b := NewCPUBuffer(New(2, 2, 1, 0, Float32, Channelwise))
	_, err := b.Map()
	assert.NoError(t, err)
	_, err = b.Map()
	assert.Error(t, err)
	b.Unmap()
	_, err = b.Map()
	assert.NoError(t, err)
}

func TestNewCPUBufferAs_ReordersShape(t *testing.T) {
	shape := New(4, 4, 3, 0, Float32, Channelwise)
	b, err := NewCPUBufferAs(shape, GPUShallow)
	assert.NoError(t, err)
	assert.Equal(t, GPUShallow, b.Shape().Order())
}
