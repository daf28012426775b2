package cpu

import (
	"testing"

	"github.com/fyusenet/fyusenet-go/core/buffer"
	"github.com/fyusenet/fyusenet-go/core/layer"
	"github.com/fyusenet/fyusenet-go/core/param"
	"github.com/fyusenet/fyusenet-go/core/state"
	"github.com/stretchr/testify/assert"
)

func buildConv(t *testing.T) *ConvLayer {
	t.Helper()
	b := layer.New("conv1", 0, layer.Convolution2D).WithDevice(layer.DeviceCPU).WithConv(layer.ConvParams{Kernel: 1})
	c := NewConvLayer(b, 0).WithGeometry(1, 1, 1, 1, 0, 0)
	assert.NoError(t, c.Setup())
	return c
}

func TestConvLayer_OneByOneKernelScalesInputPlusBias(t *testing.T) {
	c := buildConv(t)
	p := param.NewInMemoryProvider()
	p.Put(param.Name("conv1", "weights"), 0, 0, buffer.Float32, []float32{2.0})
	p.Put(param.Name("conv1", "bias"), 0, 1, buffer.Float32, []float32{1.0})
	assert.NoError(t, c.LoadParameters(p))

	inBytes, err := c.input.Map()
	assert.NoError(t, err)
	encodeFloat32(inBytes, []float32{3.0})
	c.input.Unmap()

	assert.NoError(t, c.Forward(1, state.New(1, 0)))

	outBytes, err := c.output.Map()
	assert.NoError(t, err)
	defer c.output.Unmap()
	assert.InDelta(t, 7.0, decodeFloat32(outBytes)[0], 1e-6) // 3*2 + 1
}

func TestConvLayer_PostReluClampsNegativeOutput(t *testing.T) {
	b := layer.New("conv1", 0, layer.Convolution2D).WithDevice(layer.DeviceCPU).WithConv(layer.ConvParams{Kernel: 1})
	c := NewConvLayer(b, 0).WithGeometry(1, 1, 1, 1, 0, 0)
	assert.NoError(t, c.Setup())
	c.flags |= layer.PostRelu

	p := param.NewInMemoryProvider()
	p.Put(param.Name("conv1", "weights"), 0, 0, buffer.Float32, []float32{1.0})
	p.Put(param.Name("conv1", "bias"), 0, 1, buffer.Float32, []float32{-5.0})
	assert.NoError(t, c.LoadParameters(p))

	inBytes, _ := c.input.Map()
	encodeFloat32(inBytes, []float32{1.0})
	c.input.Unmap()

	assert.NoError(t, c.Forward(1, state.New(1, 0)))
	outBytes, _ := c.output.Map()
	defer c.output.Unmap()
	assert.Equal(t, float32(0), decodeFloat32(outBytes)[0])
}

func TestConvLayer_BatchnormFoldedIntoBias(t *testing.T) {
	b := layer.New("conv1", 0, layer.Convolution2D).WithDevice(layer.DeviceCPU).
		WithConv(layer.ConvParams{Kernel: 1}).WithNorm(layer.NormBatchnorm)
	c := NewConvLayer(b, 0).WithGeometry(1, 1, 1, 1, 0, 0)
	c.flags = b.Flags()
	assert.NoError(t, c.Setup())

	p := param.NewInMemoryProvider()
	p.Put(param.Name("conv1", "weights"), 0, 0, buffer.Float32, []float32{1.0})
	p.Put(param.Name("conv1", "bias"), 0, 1, buffer.Float32, []float32{0.0})
	// bn blob: [scale..., shift...] => scale=2, shift=1
	p.Put(param.Name("conv1", "bn"), 0, 2, buffer.Float32, []float32{2.0, 1.0})
	assert.NoError(t, c.LoadParameters(p))

	assert.InDelta(t, 1.0, c.bias[0], 1e-6)
	assert.InDelta(t, 2.0, c.bnScale[0], 1e-6)
}
