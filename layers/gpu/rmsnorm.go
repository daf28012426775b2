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

// defaultRMSEpsilon matches the donor's fused norm layers' default stabilizer.
const defaultRMSEpsilon = 1e-6

// RMSNormLayer scales every texel of a sequence row by the inverse root-mean-square of the
// whole row and a learned per-channel-group gain.
type RMSNormLayer struct {
	base

	width, seqLen int // width in texels, i.e. channels/4

	provider    bind_group_provider.BindGroupProvider
	pipelineKey string

	gain    []float32 // len = width*4
	epsilon float32
}

// NewRMSNormLayer builds an RMSNormLayer from a compiled builder.
func NewRMSNormLayer(b *layer.LayerBuilder, number int, ctx renderer.GfxContext) *RMSNormLayer {
	return &RMSNormLayer{
		base:        newBase(b.Name(), number, b.Flags(), ctx),
		pipelineKey: "rmsnorm:" + b.Name(),
		epsilon:     defaultRMSEpsilon,
	}
}

// WithGeometry sets the channel width (in texels) and sequence length this layer operates over.
func (r *RMSNormLayer) WithGeometry(width, seqLen int) *RMSNormLayer {
	r.width, r.seqLen = width, seqLen
	return r
}

// WithEpsilon overrides the default stabilizer added to the mean square before the inverse
// square root.
func (r *RMSNormLayer) WithEpsilon(eps float32) *RMSNormLayer {
	r.epsilon = eps
	return r
}

func (r *RMSNormLayer) RequiredInputBuffers() []layer.BufferSpec {
	shape := buffer.NewSequence(r.width*4, r.seqLen, buffer.Float32, buffer.PixelPacking)
	return []layer.BufferSpec{layer.NewBufferSpec(0, layer.Source, shape)}
}

func (r *RMSNormLayer) RequiredOutputBuffers() []layer.BufferSpec {
	shape := buffer.NewSequence(r.width*4, r.seqLen, buffer.Float32, buffer.PixelPacking)
	return []layer.BufferSpec{layer.NewBufferSpec(0, layer.Dest, shape)}
}

func (r *RMSNormLayer) Setup() error {
	layout := wgpu.BindGroupLayoutDescriptor{Entries: []wgpu.BindGroupLayoutEntry{
		textureEntry(0),
		samplerEntry(1),
		uniformEntry(2),
		storageEntry(3),
	}}
	if err := registerFragmentPipeline(r.ctx, r.pipelineKey, r.pipelineKey, shaderDir+"rmsnorm_fragment.wgsl", layout); err != nil {
		return errs.Wrap(errs.Resource, err, "registering rmsnorm pipeline %q", r.name)
	}

	r.provider = bind_group_provider.NewBindGroupProvider(r.name)
	if err := r.ctx.InitSampler(r.provider, 1, clampSamplerStaging()); err != nil {
		return errs.Wrap(errs.Resource, err, "initializing rmsnorm layer %q sampler", r.name)
	}
	if err := r.ctx.InitBindGroup(r.provider, layout, nil, nil); err != nil {
		return errs.Wrap(errs.Resource, err, "initializing rmsnorm layer %q bind group", r.name)
	}
	return nil
}

func (r *RMSNormLayer) LoadParameters(provider param.Provider) error {
	r.gain = make([]float32, r.width*4)
	if err := param.WithBlob(provider, param.Name(r.name, "gain"), r.number, 0, func(v any) error {
		src := v.([]float32)
		n := len(src)
		if n > len(r.gain) {
			n = len(r.gain)
		}
		copy(r.gain, src[:n])
		return nil
	}); err != nil {
		return errs.Wrap(errs.Resource, err, "loading rmsnorm layer %q gain", r.name)
	}
	return nil
}

func (r *RMSNormLayer) Forward(sequenceNo uint64, st state.Token) error {
	r.lockForward()
	defer r.unlockForward()

	handle, ok := r.inputs[0]
	if !ok {
		return errs.New(errs.Protocol, "rmsnorm layer %q has no input texture bound", r.name)
	}
	output, ok := r.outputTexture(0)
	if !ok {
		return errs.New(errs.Protocol, "rmsnorm layer %q has no output texture bound", r.name)
	}
	if err := r.ctx.BindInputTexture(r.provider, 0, handle); err != nil {
		return errs.Wrap(errs.Resource, err, "binding rmsnorm layer %q input", r.name)
	}

	paramBytes := make([]byte, 32)
	binary.LittleEndian.PutUint32(paramBytes[0:4], uint32(r.width))
	binary.LittleEndian.PutUint32(paramBytes[4:8], math.Float32bits(1.0/float32(r.width)))
	binary.LittleEndian.PutUint32(paramBytes[8:12], math.Float32bits(r.epsilon))
	binary.LittleEndian.PutUint32(paramBytes[12:16], uint32(st.SeqIndex))
	binary.LittleEndian.PutUint32(paramBytes[16:20], uint32(st.SeqLength))

	gainBytes := make([]byte, len(r.gain)*4)
	for i, g := range r.gain {
		binary.LittleEndian.PutUint32(gainBytes[i*4:i*4+4], math.Float32bits(g))
	}

	r.ctx.WriteBuffers([]bind_group_provider.BufferWrite{
		{Provider: r.provider, Binding: 2, Data: paramBytes},
		{Provider: r.provider, Binding: 3, Data: gainBytes},
	})

	clear := st.SeqIndex == 0
	if err := r.ctx.BeginRenderPass(output, clear); err != nil {
		return errs.Wrap(errs.Resource, err, "beginning rmsnorm layer %q render pass", r.name)
	}
	if err := r.ctx.DrawFullScreenQuad(r.pipelineKey, []bind_group_provider.BindGroupProvider{r.provider}); err != nil {
		r.ctx.EndRenderPass()
		return errs.Wrap(errs.Resource, err, "drawing rmsnorm layer %q", r.name)
	}
	r.ctx.EndRenderPass()
	return nil
}

func (r *RMSNormLayer) Cleanup() {
	if r.provider != nil {
		r.provider.Release()
		r.provider = nil
	}
}

var _ layer.GPULayer = (*RMSNormLayer)(nil)
