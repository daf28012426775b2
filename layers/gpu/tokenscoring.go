package gpu

import (
	"encoding/binary"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/fyusenet/fyusenet-go/core/buffer"
	"github.com/fyusenet/fyusenet-go/core/errs"
	"github.com/fyusenet/fyusenet-go/core/layer"
	"github.com/fyusenet/fyusenet-go/core/param"
	"github.com/fyusenet/fyusenet-go/core/state"
	"github.com/fyusenet/fyusenet-go/engine/renderer"
)

// tokenScoringTimeout bounds the synchronous readback every Forward call performs.
const tokenScoringTimeout = 5 * time.Second

// TokenScoringLayer turns a row of logits into a single chosen token id. Greedy argmax, top-k,
// and top-p sampling are all serial, sort-dependent operations a parallel fragment shader isn't
// a good fit for, so this layer, like UploadLayer and DownloadLayer, has no paired WGSL shader: it
// blits its input to a staging buffer, blocks on the synchronous fence, does the selection on
// the CPU, and writes the single chosen id back into a 1x1 output texture so a downstream
// Embedding layer can read it as an ordinary GPU texture input on the next generation step.
type TokenScoringLayer struct {
	base

	vocabRows int // logits row width in texels (channels/4)

	scoring     layer.ScoringType
	topK        int
	topP        float32
	temperature float32

	rng *rand.Rand

	onToken func(sequenceNo uint64, tokenID int)
}

// NewTokenScoringLayer builds a TokenScoringLayer from a compiled builder.
func NewTokenScoringLayer(b *layer.LayerBuilder, number int, ctx renderer.GfxContext) *TokenScoringLayer {
	temp := b.TokenScoring.Temperature
	if temp <= 0 {
		temp = 1.0
	}
	return &TokenScoringLayer{
		base:        newBase(b.Name(), number, b.Flags(), ctx),
		scoring:     b.TokenScoring.Scoring,
		topK:        b.TokenScoring.TopK,
		topP:        b.TokenScoring.TopP,
		temperature: temp,
		rng:         rand.New(rand.NewSource(1)),
	}
}

// WithGeometry sets the logits row width in texels (vocab size/4, rounded up).
func (t *TokenScoringLayer) WithGeometry(vocabRows int) *TokenScoringLayer {
	t.vocabRows = vocabRows
	return t
}

// OnToken registers the callback invoked with the chosen token id once each Forward call's
// synchronous readback and selection completes.
func (t *TokenScoringLayer) OnToken(fn func(sequenceNo uint64, tokenID int)) {
	t.onToken = fn
}

func (t *TokenScoringLayer) RequiredInputBuffers() []layer.BufferSpec {
	shape := buffer.NewSequence(t.vocabRows*buffer.PixelPacking, 1, buffer.Float32, buffer.PixelPacking)
	return []layer.BufferSpec{layer.NewBufferSpec(0, layer.Source, shape)}
}

func (t *TokenScoringLayer) RequiredOutputBuffers() []layer.BufferSpec {
	shape := buffer.New(1, 1, 1, 0, buffer.Float32, buffer.GPUShallow)
	return []layer.BufferSpec{layer.NewBufferSpec(0, layer.Dest, shape)}
}

func (t *TokenScoringLayer) Setup() error { return nil }

func (t *TokenScoringLayer) LoadParameters(param.Provider) error { return nil }

// Forward blits the bound logits texture to a staging buffer, blocks until it lands, selects a
// token id according to the configured scoring strategy, and writes that id into the 1x1 output
// texture's red channel.
func (t *TokenScoringLayer) Forward(sequenceNo uint64, st state.Token) error {
	t.lockForward()
	defer t.unlockForward()

	handle, ok := t.inputs[0]
	if !ok {
		return errs.New(errs.Protocol, "token scoring layer %q has no input texture bound", t.name)
	}
	output, ok := t.outputTexture(0)
	if !ok {
		return errs.New(errs.Protocol, "token scoring layer %q has no output texture bound", t.name)
	}

	byteSize := uint64(t.vocabRows) * buffer.PixelPacking * 4
	sync, err := t.ctx.BlitToStagingBuffer(handle, byteSize)
	if err != nil {
		return errs.Wrap(errs.Resource, err, "blitting token scoring layer %q to staging buffer", t.name)
	}
	raw, err := t.ctx.WaitClientSync(sync, tokenScoringTimeout)
	t.ctx.RemoveSync(sync)
	if err != nil {
		return errs.Wrap(errs.Resource, err, "waiting on token scoring layer %q readback", t.name)
	}

	logits := decodeFloats(raw)
	tokenID := t.selectToken(logits)

	out := make([]byte, 16)
	binary.LittleEndian.PutUint32(out[0:4], math.Float32bits(float32(tokenID)))
	if err := t.ctx.UpdateColorAttachment(output, out, 16); err != nil {
		return errs.Wrap(errs.Resource, err, "writing token scoring layer %q chosen token", t.name)
	}

	if t.onToken != nil {
		t.onToken(sequenceNo, tokenID)
	}
	return nil
}

func (t *TokenScoringLayer) Cleanup() {}

func decodeFloats(raw []byte) []float32 {
	out := make([]float32, len(raw)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4 : i*4+4]))
	}
	return out
}

// selectToken applies the configured sampling strategy to a dense row of logits.
func (t *TokenScoringLayer) selectToken(logits []float32) int {
	switch t.scoring {
	case layer.ScoringTopK:
		return t.sampleTopK(logits)
	case layer.ScoringTopP:
		return t.sampleTopP(logits)
	default:
		return argmax(logits)
	}
}

func argmax(logits []float32) int {
	best, bestVal := 0, float32(math.Inf(-1))
	for i, v := range logits {
		if v > bestVal {
			best, bestVal = i, v
		}
	}
	return best
}

type scoredToken struct {
	id   int
	prob float32
}

func softmax(logits []float32, temperature float32) []scoredToken {
	scaled := make([]float32, len(logits))
	max := float32(math.Inf(-1))
	for i, v := range logits {
		scaled[i] = v / temperature
		if scaled[i] > max {
			max = scaled[i]
		}
	}
	var sum float32
	scored := make([]scoredToken, len(logits))
	for i, v := range scaled {
		e := float32(math.Exp(float64(v - max)))
		sum += e
		scored[i] = scoredToken{id: i, prob: e}
	}
	for i := range scored {
		scored[i].prob /= sum
	}
	return scored
}

func (t *TokenScoringLayer) sampleTopK(logits []float32) int {
	scored := softmax(logits, t.temperature)
	sort.Slice(scored, func(i, j int) bool { return scored[i].prob > scored[j].prob })
	k := t.topK
	if k <= 0 || k > len(scored) {
		k = len(scored)
	}
	return t.sampleFrom(scored[:k])
}

func (t *TokenScoringLayer) sampleTopP(logits []float32) int {
	scored := softmax(logits, t.temperature)
	sort.Slice(scored, func(i, j int) bool { return scored[i].prob > scored[j].prob })
	var cumulative float32
	cutoff := len(scored)
	for i, s := range scored {
		cumulative += s.prob
		if cumulative >= t.topP {
			cutoff = i + 1
			break
		}
	}
	return t.sampleFrom(scored[:cutoff])
}

func (t *TokenScoringLayer) sampleFrom(candidates []scoredToken) int {
	var total float32
	for _, c := range candidates {
		total += c.prob
	}
	r := t.rng.Float32() * total
	var cumulative float32
	for _, c := range candidates {
		cumulative += c.prob
		if r <= cumulative {
			return c.id
		}
	}
	return candidates[len(candidates)-1].id
}

var _ layer.GPULayer = (*TokenScoringLayer)(nil)
