package gpu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyusenet/fyusenet-go/core/layer"
	"github.com/fyusenet/fyusenet-go/core/param"
	"github.com/fyusenet/fyusenet-go/core/state"
	"github.com/fyusenet/fyusenet-go/engine/renderer/bind_group_provider"
)

func newTestLinear() *LinearLayer {
	b := layer.New("proj1", 2, layer.Linear)
	l := NewLinearLayer(b, 2, nil)
	l.WithGeometry(2, 3, 16)
	l.provider = bind_group_provider.NewBindGroupProvider(l.name)
	return l
}

func TestLinearLayer_RequiredBuffers_WidthMatchesGeometry(t *testing.T) {
	l := newTestLinear()
	in := l.RequiredInputBuffers()
	out := l.RequiredOutputBuffers()
	require.Len(t, in, 1)
	require.Len(t, out, 1)
}

func TestLinearLayer_LoadParameters_ReadsWeightsAndBias(t *testing.T) {
	l := newTestLinear()
	provider := param.NewInMemoryProvider()
	weights := make([]float32, 2*3*16)
	for i := range weights {
		weights[i] = float32(i)
	}
	bias := make([]float32, 3*4)
	provider.Put(param.Name("proj1", "weights"), 2, 0, 0, weights)
	provider.Put(param.Name("proj1", "bias"), 2, 1, 0, bias)

	require.NoError(t, l.LoadParameters(provider))
	assert.Len(t, l.weights, len(weights))
	assert.Len(t, l.bias, len(bias))
}

func TestLinearLayer_Forward_RequiresBoundTextures(t *testing.T) {
	l := newTestLinear()
	assert.Error(t, l.Forward(0, state.New(1, 0)))
}

func TestLinearLayer_Forward_DrawsRegisteredPipeline(t *testing.T) {
	l := newTestLinear()
	l.weights = make([]float32, 2*3*16)
	l.bias = make([]float32, 3*4)
	fake := newFakeGfxContext()
	l.ctx = fake

	l.AddInputTexture(3, 0)
	l.AddOutputTexture(5, 0, 0)

	require.NoError(t, l.Forward(0, state.New(1, 0)))
	assert.Equal(t, l.pipelineKey, fake.drawnPipeline)
	assert.EqualValues(t, 5, fake.renderPassTarget)
}
