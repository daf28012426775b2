package gpu

import (
	"encoding/binary"
	"math"

	"github.com/cogentcore/webgpu/wgpu"

	"github.com/fyusenet/fyusenet-go/core/buffer"
	"github.com/fyusenet/fyusenet-go/core/errs"
	"github.com/fyusenet/fyusenet-go/core/layer"
	"github.com/fyusenet/fyusenet-go/core/param"
	"github.com/fyusenet/fyusenet-go/core/state"
	"github.com/fyusenet/fyusenet-go/engine/renderer"
	"github.com/fyusenet/fyusenet-go/engine/renderer/bind_group_provider"
)

// channel groups a causal attention layer reads its query, key, and value textures from.
const (
	attnQueryGroup = 0
	attnKeyGroup   = 1
	attnValueGroup = 2
)

// AttentionLayer runs causal self-attention with rotary position encoding as a single fragment
// pass: each output texel recomputes the softmax over every preceding key position for its own
// head's channel group. Forward only draws the query rows in [state.SeqIndex,
// state.SeqIndex+state.SeqLength) — every other row is discarded in the fragment shader and
// keeps whatever an earlier Forward already wrote there. This layer does not manage its own
// growing key/value cache — when AttentionParams.Incremental is set, whatever key/value textures
// are bound for a given sequence number are treated as the full causal history up to and
// including the new row(s), and appending the newest position's key/value row is the caller's
// responsibility (typically a cache layer upstream in the network graph). That scoping keeps
// this layer a pure function of its three bound input textures, at the cost of re-running the
// full attention sum from scratch for every drawn row rather than reusing prior work.
type AttentionLayer struct {
	base

	heads, headDim int
	seqLen         int
	ropeBase       float32

	provider    bind_group_provider.BindGroupProvider
	pipelineKey string
}

// NewAttentionLayer builds an AttentionLayer from a compiled builder.
func NewAttentionLayer(b *layer.LayerBuilder, number int, ctx renderer.GfxContext) *AttentionLayer {
	ropeBase := b.Attention.RopeBase
	if b.Attention.PosEnc != layer.PosEncRotary {
		ropeBase = 0
	}
	return &AttentionLayer{
		base:        newBase(b.Name(), number, b.Flags(), ctx),
		heads:       b.Attention.Heads,
		headDim:     b.Attention.HeadDim,
		ropeBase:    ropeBase,
		pipelineKey: "attention:" + b.Name(),
	}
}

// WithGeometry sets the sequence length this layer's query/key/value textures are laid out over.
func (a *AttentionLayer) WithGeometry(seqLen int) *AttentionLayer {
	a.seqLen = seqLen
	return a
}

func (a *AttentionLayer) headTexels() int { return a.headDim / buffer.PixelPacking }

func (a *AttentionLayer) RequiredInputBuffers() []layer.BufferSpec {
	width := a.heads * a.headTexels() * buffer.PixelPacking
	shape := buffer.NewSequence(width, a.seqLen, buffer.Float32, buffer.PixelPacking)
	return []layer.BufferSpec{
		layer.NewBufferSpec(attnQueryGroup, layer.Source, shape),
		layer.NewBufferSpec(attnKeyGroup, layer.Source, shape),
		layer.NewBufferSpec(attnValueGroup, layer.Source, shape),
	}
}

func (a *AttentionLayer) RequiredOutputBuffers() []layer.BufferSpec {
	width := a.heads * a.headTexels() * buffer.PixelPacking
	shape := buffer.NewSequence(width, a.seqLen, buffer.Float32, buffer.PixelPacking)
	return []layer.BufferSpec{layer.NewBufferSpec(0, layer.Dest, shape)}
}

func (a *AttentionLayer) Setup() error {
	layout := wgpu.BindGroupLayoutDescriptor{Entries: []wgpu.BindGroupLayoutEntry{
		textureEntry(0),
		textureEntry(1),
		textureEntry(2),
		samplerEntry(3),
		uniformEntry(4),
	}}
	if err := registerFragmentPipeline(a.ctx, a.pipelineKey, a.pipelineKey, shaderDir+"attention_fragment.wgsl", layout); err != nil {
		return errs.Wrap(errs.Resource, err, "registering attention pipeline %q", a.name)
	}

	a.provider = bind_group_provider.NewBindGroupProvider(a.name)
	if err := a.ctx.InitSampler(a.provider, 3, clampSamplerStaging()); err != nil {
		return errs.Wrap(errs.Resource, err, "initializing attention layer %q sampler", a.name)
	}
	if err := a.ctx.InitBindGroup(a.provider, layout, nil, nil); err != nil {
		return errs.Wrap(errs.Resource, err, "initializing attention layer %q bind group", a.name)
	}
	return nil
}

// LoadParameters is a no-op: causal self-attention has no learned weights of its own beyond
// what the preceding query/key/value projection layers already loaded.
func (a *AttentionLayer) LoadParameters(param.Provider) error { return nil }

func (a *AttentionLayer) Forward(sequenceNo uint64, st state.Token) error {
	a.lockForward()
	defer a.unlockForward()

	q, ok := a.inputs[attnQueryGroup]
	if !ok {
		return errs.New(errs.Protocol, "attention layer %q has no query texture bound", a.name)
	}
	k, ok := a.inputs[attnKeyGroup]
	if !ok {
		return errs.New(errs.Protocol, "attention layer %q has no key texture bound", a.name)
	}
	v, ok := a.inputs[attnValueGroup]
	if !ok {
		return errs.New(errs.Protocol, "attention layer %q has no value texture bound", a.name)
	}
	output, ok := a.outputTexture(0)
	if !ok {
		return errs.New(errs.Protocol, "attention layer %q has no output texture bound", a.name)
	}
	if err := a.ctx.BindInputTexture(a.provider, 0, q); err != nil {
		return errs.Wrap(errs.Resource, err, "binding attention layer %q query", a.name)
	}
	if err := a.ctx.BindInputTexture(a.provider, 1, k); err != nil {
		return errs.Wrap(errs.Resource, err, "binding attention layer %q key", a.name)
	}
	if err := a.ctx.BindInputTexture(a.provider, 2, v); err != nil {
		return errs.Wrap(errs.Resource, err, "binding attention layer %q value", a.name)
	}

	headTexels := a.headTexels()
	scale := float32(1.0 / math.Sqrt(float64(a.headDim)))
	paramBytes := make([]byte, 32)
	binary.LittleEndian.PutUint32(paramBytes[0:4], uint32(headTexels))
	binary.LittleEndian.PutUint32(paramBytes[4:8], uint32(a.headDim))
	binary.LittleEndian.PutUint32(paramBytes[8:12], math.Float32bits(a.ropeBase))
	binary.LittleEndian.PutUint32(paramBytes[12:16], math.Float32bits(scale))
	binary.LittleEndian.PutUint32(paramBytes[16:20], uint32(st.SeqIndex))
	binary.LittleEndian.PutUint32(paramBytes[20:24], uint32(st.SeqLength))

	a.ctx.WriteBuffers([]bind_group_provider.BufferWrite{
		{Provider: a.provider, Binding: 4, Data: paramBytes},
	})

	// Only the first chunk of a sequence clears the output texture; an incremental decode step
	// (st.SeqIndex > 0) draws just its new query rows and must leave earlier rows intact.
	clear := st.SeqIndex == 0
	if err := a.ctx.BeginRenderPass(output, clear); err != nil {
		return errs.Wrap(errs.Resource, err, "beginning attention layer %q render pass", a.name)
	}
	if err := a.ctx.DrawFullScreenQuad(a.pipelineKey, []bind_group_provider.BindGroupProvider{a.provider}); err != nil {
		a.ctx.EndRenderPass()
		return errs.Wrap(errs.Resource, err, "drawing attention layer %q", a.name)
	}
	a.ctx.EndRenderPass()
	return nil
}

func (a *AttentionLayer) Cleanup() {
	if a.provider != nil {
		a.provider.Release()
		a.provider = nil
	}
}

var _ layer.GPULayer = (*AttentionLayer)(nil)
