package factory

import (
	"testing"

	"github.com/fyusenet/fyusenet-go/core/layer"
	"github.com/fyusenet/fyusenet-go/core/param"
	"github.com/fyusenet/fyusenet-go/core/state"
	"github.com/stretchr/testify/assert"
)

type fakeLayer struct {
	number int
	name   string
}

func (f *fakeLayer) Number() int                 { return f.number }
func (f *fakeLayer) Name() string                { return f.name }
func (f *fakeLayer) Flags() layer.Flags          { return layer.NoFlags }
func (f *fakeLayer) RequiredInputBuffers() []layer.BufferSpec  { return nil }
func (f *fakeLayer) RequiredOutputBuffers() []layer.BufferSpec { return nil }
func (f *fakeLayer) Setup() error                              { return nil }
func (f *fakeLayer) Forward(uint64, state.Token) error          { return nil }
func (f *fakeLayer) LoadParameters(param.Provider) error        { return nil }
func (f *fakeLayer) Cleanup()                                   {}

type fakeBackend struct {
	supportsGPU bool
}

func (b *fakeBackend) Supports(d layer.Device) bool {
	if d == layer.DeviceGPU {
		return b.supportsGPU
	}
	return true
}

func (b *fakeBackend) BuildLayer(bld *layer.LayerBuilder) (layer.Layer, error) {
	return &fakeLayer{number: bld.Number(), name: bld.Name()}, nil
}

func TestPush_RejectsNegativeNumber(t *testing.T) {
	f := New(&fakeBackend{supportsGPU: true})
	err := f.Push(layer.New("bad", -1, layer.Convolution2D))
	assert.Error(t, err)
}

func TestPush_RejectsDuplicateNumber(t *testing.T) {
	f := New(&fakeBackend{supportsGPU: true})
	assert.NoError(t, f.Push(layer.New("a", 0, layer.Convolution2D)))
	assert.Error(t, f.Push(layer.New("b", 0, layer.Convolution2D)))
}

func TestPush_RejectsUnsupportedDevice(t *testing.T) {
	f := New(&fakeBackend{supportsGPU: false})
	err := f.Push(layer.New("a", 0, layer.Convolution2D))
	assert.Error(t, err)
}

func TestCompileLayers_OrdersByNumberAscending(t *testing.T) {
	f := New(&fakeBackend{supportsGPU: true})
	assert.NoError(t, f.Push(layer.New("b", 2, layer.Convolution2D)))
	assert.NoError(t, f.Push(layer.New("a", 0, layer.Convolution2D)))
	assert.NoError(t, f.Push(layer.New("c", 1, layer.Convolution2D)))

	layers, err := f.CompileLayers()
	assert.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, []int{layers[0].Number(), layers[1].Number(), layers[2].Number()})
}

func TestCompileLayers_ReleasesBuildersAfterwards(t *testing.T) {
	f := New(&fakeBackend{supportsGPU: true})
	assert.NoError(t, f.Push(layer.New("a", 0, layer.Convolution2D)))
	_, err := f.CompileLayers()
	assert.NoError(t, err)

	layers, err := f.CompileLayers()
	assert.NoError(t, err)
	assert.Empty(t, layers)
}
