package gpu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyusenet/fyusenet-go/core/buffer"
	"github.com/fyusenet/fyusenet-go/core/layer"
	"github.com/fyusenet/fyusenet-go/core/param"
	"github.com/fyusenet/fyusenet-go/core/state"
	"github.com/fyusenet/fyusenet-go/engine/renderer"
)

func TestCustomLayer_Forward_RequiresForwardFunc(t *testing.T) {
	b := layer.New("custom1", 6, layer.Custom)
	c := NewCustomLayer(b, 6, nil, nil)
	assert.Error(t, c.Forward(0, state.New(1, 0)))
}

func TestCustomLayer_Forward_DelegatesToForwardFunc(t *testing.T) {
	var gotInputs map[int]renderer.TextureHandle
	var gotOutputs map[int]renderer.TextureHandle

	b := layer.New("custom2", 7, layer.Custom)
	c := NewCustomLayer(b, 7, nil, func(ctx renderer.GfxContext, inputs, outputs map[int]renderer.TextureHandle) error {
		gotInputs, gotOutputs = inputs, outputs
		return nil
	})
	c.AddInputTexture(3, 0)
	c.AddOutputTexture(4, 0, 0)

	require.NoError(t, c.Forward(0, state.New(1, 0)))
	assert.EqualValues(t, 3, gotInputs[0])
	assert.EqualValues(t, 4, gotOutputs[0])
}

func TestCustomLayer_Setup_InvokesRegisteredHook(t *testing.T) {
	called := false
	b := layer.New("custom3", 8, layer.Custom)
	c := NewCustomLayer(b, 8, nil, nil).WithSetup(func(ctx renderer.GfxContext) error {
		called = true
		return nil
	})
	require.NoError(t, c.Setup())
	assert.True(t, called)
}

func TestCustomLayer_LoadParameters_InvokesRegisteredHook(t *testing.T) {
	var gotProvider param.Provider
	b := layer.New("custom4", 9, layer.Custom)
	c := NewCustomLayer(b, 9, nil, nil).WithParamLoader(func(p param.Provider) error {
		gotProvider = p
		return nil
	})
	provider := param.NewInMemoryProvider()
	require.NoError(t, c.LoadParameters(provider))
	assert.Equal(t, param.Provider(provider), gotProvider)
}

func TestCustomLayer_Buffers_ReturnDeclaredSpecs(t *testing.T) {
	b := layer.New("custom5", 11, layer.Custom)
	shape := buffer.New(1, 1, 4, 0, buffer.Float32, buffer.GPUShallow)
	specs := []layer.BufferSpec{layer.NewBufferSpec(0, layer.Source, shape)}
	c := NewCustomLayer(b, 11, nil, nil).WithBuffers(specs, specs)
	assert.Equal(t, specs, c.RequiredInputBuffers())
	assert.Equal(t, specs, c.RequiredOutputBuffers())
}
