package gpu

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyusenet/fyusenet-go/core/layer"
	"github.com/fyusenet/fyusenet-go/core/state"
)

func encodeFloats(vals []float32) []byte {
	out := make([]byte, len(vals)*4)
	for i, v := range vals {
		binary.LittleEndian.PutUint32(out[i*4:i*4+4], math.Float32bits(v))
	}
	return out
}

func newTestTokenScoring(scoring layer.ScoringType) *TokenScoringLayer {
	b := layer.New("scorer", 10, layer.TokenScoring).WithTokenScoring(layer.TokenScoringParams{
		Scoring: scoring, TopK: 2, TopP: 0.9, Temperature: 1.0,
	})
	scorer := NewTokenScoringLayer(b, 10, nil)
	scorer.WithGeometry(1)
	return scorer
}

func TestTokenScoringLayer_Greedy_PicksArgmax(t *testing.T) {
	scorer := newTestTokenScoring(layer.ScoringGreedy)
	fake := newFakeGfxContext()
	fake.syncBytes = encodeFloats([]float32{0.1, 5.0, -2.0, 0.3})
	scorer.ctx = fake
	scorer.AddInputTexture(1, 0)
	scorer.AddOutputTexture(2, 0, 0)

	var chosen int
	scorer.OnToken(func(seq uint64, tokenID int) { chosen = tokenID })

	require.NoError(t, scorer.Forward(0, state.New(1, 0)))
	assert.Equal(t, 1, chosen)
	assert.EqualValues(t, 1, fake.blitHandle)
	assert.EqualValues(t, 1, fake.removed[0])
}

func TestTokenScoringLayer_Forward_RequiresBoundTextures(t *testing.T) {
	scorer := newTestTokenScoring(layer.ScoringGreedy)
	assert.Error(t, scorer.Forward(0, state.New(1, 0)))
}

func TestArgmax_TiesPickFirst(t *testing.T) {
	assert.Equal(t, 0, argmax([]float32{3, 3, 1}))
}

func TestSoftmax_SumsToOne(t *testing.T) {
	scored := softmax([]float32{1, 2, 3}, 1.0)
	var sum float32
	for _, s := range scored {
		sum += s.prob
	}
	assert.InDelta(t, 1.0, sum, 1e-5)
}
