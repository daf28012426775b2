package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew_Channelwise_NoPadding(t *testing.T) {
	s := New(8, 16, 3, 0, Float32, Channelwise)
	assert.Equal(t, 16, s.Width())
	assert.Equal(t, 8, s.Height())
	assert.Equal(t, 3, s.Channels())
	assert.Equal(t, 16*8*3*4, s.Bytes())
}

func TestNew_GPUDeep_TilesChannelsAndPads(t *testing.T) {
	// 20 channels -> 5 groups of 4 -> a 3x2 tile grid (6 slots, 5 used)
	s := New(4, 4, 20, 1, Float32, GPUDeep)
	cols, rows := computeDeepTiling(20)
	assert.Equal(t, cols*(4+1)+1, s.Width())
	assert.Equal(t, rows*(4+1)+1, s.Height())
}

func TestNewSequence_UsesEmbedDimAndSeqLen(t *testing.T) {
	s := NewSequence(64, 10, Float32, 0)
	assert.Equal(t, 64, s.Width())
	assert.Equal(t, 10, s.Height())
	assert.Equal(t, GPUSequence, s.Order())
}

func TestEqual_SameSizeTypeOrder(t *testing.T) {
	a := New(8, 16, 3, 0, Float32, Channelwise)
	b := New(8, 16, 3, 0, Float32, Channelwise)
	c := New(8, 16, 4, 0, Float32, Channelwise)
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}

func TestBytes_ZeroSizedShapeReturnsZero(t *testing.T) {
	s := New(0, 0, 0, 0, Float32, Channelwise)
	assert.Equal(t, 0, s.Bytes())
}

func TestBytes_GPUShallow_PadsChannelsToPixelPacking(t *testing.T) {
	s := New(4, 4, 3, 0, Float32, GPUShallow)
	assert.Equal(t, 4*4*PixelPacking*4, s.Bytes())
}

func TestAsOrder_ChannelwiseToGPUShallow_RoundTripsSize(t *testing.T) {
	s := New(8, 8, 3, 1, Float32, Channelwise)
	shallow, err := s.AsOrder(GPUShallow)
	assert.NoError(t, err)
	assert.Equal(t, GPUShallow, shallow.Order())
	assert.Equal(t, s.Channels(), shallow.Channels())
}

func TestAsOrder_GPUSequence_ReturnsUnsupported(t *testing.T) {
	s := NewSequence(64, 10, Float32, 0)
	_, err := s.AsOrder(Channelwise)
	assert.Error(t, err)
}

func TestAsOrder_GPUDeep_RequiresTileGeometry(t *testing.T) {
	s := New(4, 4, 8, 0, Float32, GPUDeep)
	reordered, err := s.AsOrder(Channelwise)
	assert.NoError(t, err)
	assert.Equal(t, Channelwise, reordered.Order())
}

func TestBytesAs_ChannelwiseToGPUShallow_PadsChannels(t *testing.T) {
	s := New(4, 4, 3, 0, Float32, Channelwise)
	n, err := s.BytesAs(GPUShallow)
	assert.NoError(t, err)
	assert.Equal(t, 4*4*PixelPacking*4, n)
}

func TestBytesAs_GPUSequenceSource_ReturnsUnsupported(t *testing.T) {
	s := NewSequence(64, 10, Float32, 0)
	_, err := s.BytesAs(Channelwise)
	assert.Error(t, err)
}

func TestBytesAs_GPUDeepToGPUSequence_ReturnsUnsupported(t *testing.T) {
	s := New(4, 4, 8, 0, Float32, GPUDeep)
	_, err := s.BytesAs(GPUSequence)
	assert.Error(t, err)
}

func TestComputeDeepTiling_NearSquareGrid(t *testing.T) {
	cols, rows := computeDeepTiling(4)
	assert.Equal(t, 1, cols)
	assert.Equal(t, 1, rows)

	cols, rows = computeDeepTiling(16)
	assert.Equal(t, 2, cols)
	assert.Equal(t, 2, rows)

	cols, rows = computeDeepTiling(1)
	assert.Equal(t, 1, cols)
	assert.Equal(t, 1, rows)
}
