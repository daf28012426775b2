package layer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew_IllegalTypePanics(t *testing.T) {
	assert.Panics(t, func() {
		New("bad", 0, Illegal)
	})
}

func TestNew_DefaultsToGPUDeviceAndUnitSampling(t *testing.T) {
	b := New("conv1", 1, Convolution2D)
	assert.Equal(t, DeviceGPU, b.Device())
	assert.Equal(t, "conv1", b.Name())
	assert.Equal(t, 1, b.Number())
	assert.Equal(t, [4]int{1, 1, 1, 1}, [4]int{b.horizDown, b.vertDown, b.horizUp, b.vertUp})
}

func TestBuilder_ChainedSettersReturnSameBuilder(t *testing.T) {
	b := New("conv1", 1, Convolution2D).
		WithShape(8, 8, 3, 16).
		WithPadding(1, 1, 0).
		WithSampling(2, 2, 1, 1).
		WithConv(ConvParams{Kernel: 3})
	assert.Equal(t, 3, b.Conv.Kernel)
}

func TestFlags_DerivedFromResidualConfig(t *testing.T) {
	b := New("add1", 2, Add).WithResidual(ActRelu, NormBatchnorm)
	f := b.Flags()
	assert.True(t, f.Has(ResidualInput))
	assert.True(t, f.Has(ReluOnResidual))
	assert.True(t, f.Has(BatchnormOnResidual))
}

func TestFlags_DerivedFromActivationAndNorm(t *testing.T) {
	b := New("conv1", 1, Convolution2D).WithActivation(ActSilu).WithNorm(NormBatchnorm)
	f := b.Flags()
	assert.True(t, f.Has(PreSilu))
	assert.True(t, f.Has(PostBatchnorm))
	assert.False(t, f.Has(PreRelu))
}

type fakePusher struct {
	pushed *LayerBuilder
	err    error
}

func (f *fakePusher) Push(b *LayerBuilder) error {
	f.pushed = b
	return f.err
}

func TestPush_TransfersBuilderToFactory(t *testing.T) {
	b := New("conv1", 1, Convolution2D)
	p := &fakePusher{}
	assert.NoError(t, b.Push(p))
	assert.Same(t, b, p.pushed)
}
