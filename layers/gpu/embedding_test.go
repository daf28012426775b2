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

func newTestEmbedding() *EmbeddingLayer {
	b := layer.New("embed1", 0, layer.Embedding).WithEmbedding(layer.EmbeddingParams{VocabRows: 32000, EmbedDim: 512})
	e := NewEmbeddingLayer(b, 0, nil)
	e.WithGeometry(16)
	e.provider = bind_group_provider.NewBindGroupProvider(e.name)
	return e
}

func TestEmbeddingLayer_GeometryDerivesOutWidthFromEmbedDim(t *testing.T) {
	e := newTestEmbedding()
	assert.Equal(t, 128, e.outWidth)
	assert.Equal(t, 32000, e.vocabRows)
}

func TestEmbeddingLayer_LoadParameters_ReadsTable(t *testing.T) {
	e := newTestEmbedding()
	provider := param.NewInMemoryProvider()
	table := make([]float32, 32000*128*4)
	provider.Put(param.Name("embed1", "table"), 0, 0, 0, table)
	require.NoError(t, e.LoadParameters(provider))
	assert.Len(t, e.table, len(table))
}

func TestEmbeddingLayer_Forward_RequiresBoundTextures(t *testing.T) {
	e := newTestEmbedding()
	assert.Error(t, e.Forward(0, state.New(1, 0)))
}

func TestEmbeddingLayer_Forward_DrawsRegisteredPipeline(t *testing.T) {
	e := newTestEmbedding()
	e.table = make([]float32, e.vocabRows*e.outWidth*4)
	fake := newFakeGfxContext()
	e.ctx = fake

	e.AddInputTexture(3, 0)
	e.AddOutputTexture(5, 0, 0)

	require.NoError(t, e.Forward(0, state.New(1, 0)))
	assert.Equal(t, e.pipelineKey, fake.drawnPipeline)
}
