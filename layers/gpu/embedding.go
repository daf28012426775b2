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

// EmbeddingLayer looks up one embedding table row per sequence position. The input texture
// carries one token id per row in its red channel; the output texture carries that row's full
// embedding vector, outWidth texels wide.
type EmbeddingLayer struct {
	base

	outWidth  int // embedDim/4
	vocabRows int
	seqLen    int

	provider    bind_group_provider.BindGroupProvider
	pipelineKey string

	table []float32 // row-major [vocabRow][outTexel] of vec4, len = vocabRows*outWidth*4
}

// NewEmbeddingLayer builds an EmbeddingLayer from a compiled builder.
func NewEmbeddingLayer(b *layer.LayerBuilder, number int, ctx renderer.GfxContext) *EmbeddingLayer {
	return &EmbeddingLayer{
		base:        newBase(b.Name(), number, b.Flags(), ctx),
		vocabRows:   b.Embedding.VocabRows,
		outWidth:    b.Embedding.EmbedDim / buffer.PixelPacking,
		pipelineKey: "embedding:" + b.Name(),
	}
}

// WithGeometry sets the sequence length this layer's textures are laid out over.
func (e *EmbeddingLayer) WithGeometry(seqLen int) *EmbeddingLayer {
	e.seqLen = seqLen
	return e
}

func (e *EmbeddingLayer) RequiredInputBuffers() []layer.BufferSpec {
	shape := buffer.NewSequence(buffer.PixelPacking, e.seqLen, buffer.Float32, buffer.PixelPacking)
	return []layer.BufferSpec{layer.NewBufferSpec(0, layer.Source, shape)}
}

func (e *EmbeddingLayer) RequiredOutputBuffers() []layer.BufferSpec {
	shape := buffer.NewSequence(e.outWidth*buffer.PixelPacking, e.seqLen, buffer.Float32, buffer.PixelPacking)
	return []layer.BufferSpec{layer.NewBufferSpec(0, layer.Dest, shape)}
}

func (e *EmbeddingLayer) Setup() error {
	layout := wgpu.BindGroupLayoutDescriptor{Entries: []wgpu.BindGroupLayoutEntry{
		textureEntry(0),
		samplerEntry(1),
		uniformEntry(2),
		storageEntry(3),
	}}
	if err := registerFragmentPipeline(e.ctx, e.pipelineKey, e.pipelineKey, shaderDir+"embedding_fragment.wgsl", layout); err != nil {
		return errs.Wrap(errs.Resource, err, "registering embedding pipeline %q", e.name)
	}

	e.provider = bind_group_provider.NewBindGroupProvider(e.name)
	if err := e.ctx.InitSampler(e.provider, 1, clampSamplerStaging()); err != nil {
		return errs.Wrap(errs.Resource, err, "initializing embedding layer %q sampler", e.name)
	}
	if err := e.ctx.InitBindGroup(e.provider, layout, nil, nil); err != nil {
		return errs.Wrap(errs.Resource, err, "initializing embedding layer %q bind group", e.name)
	}
	return nil
}

func (e *EmbeddingLayer) LoadParameters(provider param.Provider) error {
	e.table = make([]float32, e.vocabRows*e.outWidth*4)
	if err := param.WithBlob(provider, param.Name(e.name, "table"), e.number, 0, func(v any) error {
		src := v.([]float32)
		n := len(src)
		if n > len(e.table) {
			n = len(e.table)
		}
		copy(e.table, src[:n])
		return nil
	}); err != nil {
		return errs.Wrap(errs.Resource, err, "loading embedding layer %q table", e.name)
	}
	return nil
}

func (e *EmbeddingLayer) Forward(sequenceNo uint64, st state.Token) error {
	e.lockForward()
	defer e.unlockForward()

	handle, ok := e.inputs[0]
	if !ok {
		return errs.New(errs.Protocol, "embedding layer %q has no input texture bound", e.name)
	}
	output, ok := e.outputTexture(0)
	if !ok {
		return errs.New(errs.Protocol, "embedding layer %q has no output texture bound", e.name)
	}
	if err := e.ctx.BindInputTexture(e.provider, 0, handle); err != nil {
		return errs.Wrap(errs.Resource, err, "binding embedding layer %q input", e.name)
	}

	paramBytes := make([]byte, 32)
	binary.LittleEndian.PutUint32(paramBytes[0:4], uint32(e.outWidth))
	binary.LittleEndian.PutUint32(paramBytes[4:8], uint32(e.vocabRows))
	binary.LittleEndian.PutUint32(paramBytes[8:12], uint32(st.SeqIndex))
	binary.LittleEndian.PutUint32(paramBytes[12:16], uint32(st.SeqLength))

	tableBytes := make([]byte, len(e.table)*4)
	for i, t := range e.table {
		binary.LittleEndian.PutUint32(tableBytes[i*4:i*4+4], math.Float32bits(t))
	}

	e.ctx.WriteBuffers([]bind_group_provider.BufferWrite{
		{Provider: e.provider, Binding: 2, Data: paramBytes},
		{Provider: e.provider, Binding: 3, Data: tableBytes},
	})

	clear := st.SeqIndex == 0
	if err := e.ctx.BeginRenderPass(output, clear); err != nil {
		return errs.Wrap(errs.Resource, err, "beginning embedding layer %q render pass", e.name)
	}
	if err := e.ctx.DrawFullScreenQuad(e.pipelineKey, []bind_group_provider.BindGroupProvider{e.provider}); err != nil {
		e.ctx.EndRenderPass()
		return errs.Wrap(errs.Resource, err, "drawing embedding layer %q", e.name)
	}
	e.ctx.EndRenderPass()
	return nil
}

func (e *EmbeddingLayer) Cleanup() {
	if e.provider != nil {
		e.provider.Release()
		e.provider = nil
	}
}

var _ layer.GPULayer = (*EmbeddingLayer)(nil)
