package gpu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyusenet/fyusenet-go/core/layer"
	"github.com/fyusenet/fyusenet-go/core/state"
	"github.com/fyusenet/fyusenet-go/engine/renderer/bind_group_provider"
)

func newTestAttention() *AttentionLayer {
	b := layer.New("attn1", 4, layer.Attention).WithAttention(layer.AttentionParams{
		Heads: 8, HeadDim: 64, PosEnc: layer.PosEncRotary, RopeBase: 10000,
	})
	a := NewAttentionLayer(b, 4, nil)
	a.WithGeometry(128)
	a.provider = bind_group_provider.NewBindGroupProvider(a.name)
	return a
}

func TestAttentionLayer_HeadTexelsDerivedFromHeadDim(t *testing.T) {
	a := newTestAttention()
	assert.Equal(t, 16, a.headTexels())
}

func TestAttentionLayer_RopeBaseZeroedWithoutRotaryEncoding(t *testing.T) {
	b := layer.New("attn2", 5, layer.Attention).WithAttention(layer.AttentionParams{
		Heads: 8, HeadDim: 64, PosEnc: layer.PosEncNone, RopeBase: 10000,
	})
	a := NewAttentionLayer(b, 5, nil)
	assert.Equal(t, float32(0), a.ropeBase)
}

func TestAttentionLayer_Forward_RequiresAllThreeInputs(t *testing.T) {
	a := newTestAttention()
	assert.Error(t, a.Forward(0, state.New(1, 0)))

	a.AddInputTexture(1, attnQueryGroup)
	assert.Error(t, a.Forward(0, state.New(1, 0)))

	a.AddInputTexture(2, attnKeyGroup)
	assert.Error(t, a.Forward(0, state.New(1, 0)))
}

func TestAttentionLayer_Forward_DrawsRegisteredPipeline(t *testing.T) {
	a := newTestAttention()
	fake := newFakeGfxContext()
	a.ctx = fake

	a.AddInputTexture(1, attnQueryGroup)
	a.AddInputTexture(2, attnKeyGroup)
	a.AddInputTexture(3, attnValueGroup)
	a.AddOutputTexture(9, 0, 0)

	require.NoError(t, a.Forward(0, state.New(1, 0)))
	assert.Equal(t, a.pipelineKey, fake.drawnPipeline)
	assert.EqualValues(t, 1, fake.boundTextures[0])
	assert.EqualValues(t, 2, fake.boundTextures[1])
	assert.EqualValues(t, 3, fake.boundTextures[2])
}
