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

// LinearLayer runs a dense projection over a sequence-ordered tensor: every output texel is a
// mat4x4 block matmul against the whole input row, accumulated texel by texel in the fragment
// shader. Quantized weight storage (AttentionParams-style QuantType/QuantGroup) is out of scope
// here — weights are always unpacked to float32 before upload, since the donor's quantized GEMM
// kernels are a compute-shader path this layer doesn't implement.
type LinearLayer struct {
	base

	inWidth, outWidth int // texel width, i.e. channels/4
	seqLen            int

	provider    bind_group_provider.BindGroupProvider
	pipelineKey string

	weights []float32 // row-major [outTexel][inTexel] of mat4x4, len = inWidth*outWidth*16
	bias    []float32 // len = outWidth*4
}

// NewLinearLayer builds a LinearLayer from a compiled builder.
func NewLinearLayer(b *layer.LayerBuilder, number int, ctx renderer.GfxContext) *LinearLayer {
	return &LinearLayer{
		base:        newBase(b.Name(), number, b.Flags(), ctx),
		pipelineKey: "linear:" + b.Name(),
	}
}

// WithGeometry sets the input/output channel widths (in texels, i.e. channels/4) and the
// sequence length this layer's textures are laid out over.
func (l *LinearLayer) WithGeometry(inWidth, outWidth, seqLen int) *LinearLayer {
	l.inWidth, l.outWidth, l.seqLen = inWidth, outWidth, seqLen
	return l
}

func (l *LinearLayer) RequiredInputBuffers() []layer.BufferSpec {
	shape := buffer.NewSequence(l.inWidth*4, l.seqLen, buffer.Float32, buffer.PixelPacking)
	return []layer.BufferSpec{layer.NewBufferSpec(0, layer.Source, shape)}
}

func (l *LinearLayer) RequiredOutputBuffers() []layer.BufferSpec {
	shape := buffer.NewSequence(l.outWidth*4, l.seqLen, buffer.Float32, buffer.PixelPacking)
	return []layer.BufferSpec{layer.NewBufferSpec(0, layer.Dest, shape)}
}

func (l *LinearLayer) Setup() error {
	layout := wgpu.BindGroupLayoutDescriptor{Entries: []wgpu.BindGroupLayoutEntry{
		textureEntry(0),
		samplerEntry(1),
		uniformEntry(2),
		storageEntry(3),
		storageEntry(4),
	}}
	if err := registerFragmentPipeline(l.ctx, l.pipelineKey, l.pipelineKey, shaderDir+"linear_fragment.wgsl", layout); err != nil {
		return errs.Wrap(errs.Resource, err, "registering linear pipeline %q", l.name)
	}

	l.provider = bind_group_provider.NewBindGroupProvider(l.name)
	if err := l.ctx.InitSampler(l.provider, 1, clampSamplerStaging()); err != nil {
		return errs.Wrap(errs.Resource, err, "initializing linear layer %q sampler", l.name)
	}
	if err := l.ctx.InitBindGroup(l.provider, layout, nil, nil); err != nil {
		return errs.Wrap(errs.Resource, err, "initializing linear layer %q bind group", l.name)
	}
	return nil
}

func (l *LinearLayer) LoadParameters(provider param.Provider) error {
	l.weights = make([]float32, l.inWidth*l.outWidth*16)
	if err := param.WithBlob(provider, param.Name(l.name, "weights"), l.number, 0, func(v any) error {
		src := v.([]float32)
		n := len(src)
		if n > len(l.weights) {
			n = len(l.weights)
		}
		copy(l.weights, src[:n])
		return nil
	}); err != nil {
		return errs.Wrap(errs.Resource, err, "loading linear layer %q weights", l.name)
	}

	l.bias = make([]float32, l.outWidth*4)
	if err := param.WithBlob(provider, param.Name(l.name, "bias"), l.number, 1, func(v any) error {
		src := v.([]float32)
		n := len(src)
		if n > len(l.bias) {
			n = len(l.bias)
		}
		copy(l.bias, src[:n])
		return nil
	}); err != nil {
		return errs.Wrap(errs.Resource, err, "loading linear layer %q bias", l.name)
	}
	return nil
}

func (l *LinearLayer) Forward(sequenceNo uint64, st state.Token) error {
	l.lockForward()
	defer l.unlockForward()

	handle, ok := l.inputs[0]
	if !ok {
		return errs.New(errs.Protocol, "linear layer %q has no input texture bound", l.name)
	}
	output, ok := l.outputTexture(0)
	if !ok {
		return errs.New(errs.Protocol, "linear layer %q has no output texture bound", l.name)
	}
	if err := l.ctx.BindInputTexture(l.provider, 0, handle); err != nil {
		return errs.Wrap(errs.Resource, err, "binding linear layer %q input", l.name)
	}

	paramBytes := make([]byte, 32)
	binary.LittleEndian.PutUint32(paramBytes[0:4], uint32(l.inWidth))
	binary.LittleEndian.PutUint32(paramBytes[4:8], uint32(l.outWidth))
	binary.LittleEndian.PutUint32(paramBytes[8:12], math.Float32bits(1.0/float32(l.inWidth)))
	binary.LittleEndian.PutUint32(paramBytes[12:16], uint32(st.SeqIndex))
	binary.LittleEndian.PutUint32(paramBytes[16:20], uint32(st.SeqLength))

	weightBytes := make([]byte, len(l.weights)*4)
	for i, w := range l.weights {
		binary.LittleEndian.PutUint32(weightBytes[i*4:i*4+4], math.Float32bits(w))
	}
	biasBytes := make([]byte, len(l.bias)*4)
	for i, b := range l.bias {
		binary.LittleEndian.PutUint32(biasBytes[i*4:i*4+4], math.Float32bits(b))
	}

	l.ctx.WriteBuffers([]bind_group_provider.BufferWrite{
		{Provider: l.provider, Binding: 2, Data: paramBytes},
		{Provider: l.provider, Binding: 3, Data: weightBytes},
		{Provider: l.provider, Binding: 4, Data: biasBytes},
	})

	// Only the very first chunk of a sequence clears the output: later incremental calls draw
	// just the new rows (the fragment shader discards the rest) and must keep earlier rows.
	clear := st.SeqIndex == 0
	if err := l.ctx.BeginRenderPass(output, clear); err != nil {
		return errs.Wrap(errs.Resource, err, "beginning linear layer %q render pass", l.name)
	}
	if err := l.ctx.DrawFullScreenQuad(l.pipelineKey, []bind_group_provider.BindGroupProvider{l.provider}); err != nil {
		l.ctx.EndRenderPass()
		return errs.Wrap(errs.Resource, err, "drawing linear layer %q", l.name)
	}
	l.ctx.EndRenderPass()
	return nil
}

func (l *LinearLayer) Cleanup() {
	if l.provider != nil {
		l.provider.Release()
		l.provider = nil
	}
}

var _ layer.GPULayer = (*LinearLayer)(nil)
