// Package gpu implements the GPU-resident layer types that run as WebGPU compute or render
// passes against textures allocated by the buffer manager: deep convolution, upload/download,
// linear projection, RMS normalization, embedding lookup, causal attention, and token scoring.
package gpu

import (
	"sync"

	"github.com/cogentcore/webgpu/wgpu"

	"github.com/fyusenet/fyusenet-go/common"
	"github.com/fyusenet/fyusenet-go/core/layer"
	"github.com/fyusenet/fyusenet-go/engine/renderer"
	"github.com/fyusenet/fyusenet-go/engine/renderer/pipeline"
	"github.com/fyusenet/fyusenet-go/engine/renderer/shader"
)

// shaderDir is the on-disk location every layer pipeline's WGSL source is read from. Layer
// shaders are hand-written and declare their own bind group layouts rather than relying on a
// source-reflection step, so every fragment shader here is paired with an explicit
// wgpu.BindGroupLayoutDescriptor built in Go.
const shaderDir = "shaders/"

const (
	fullscreenVertexKey  = "fullscreen_vertex"
	fullscreenVertexPath = shaderDir + "fullscreen_vertex.wgsl"
)

// fullscreenVertexShader returns the single vertex shader every render-pipeline layer shares.
// It emits a full-screen triangle from the builtin vertex index with no vertex buffer, so
// every layer pass is a single DrawFullScreenQuad invoking the paired fragment shader once per
// output texel.
func fullscreenVertexShader() shader.Shader {
	return shader.NewShader(fullscreenVertexKey, shader.ShaderTypeVertex, fullscreenVertexPath)
}

// textureEntry declares a sampled float texture binding visible to the fragment stage, used
// for every input/residual texture a layer's fragment shader reads.
func textureEntry(binding uint32) wgpu.BindGroupLayoutEntry {
	entry := wgpu.BindGroupLayoutEntry{Binding: binding, Visibility: wgpu.ShaderStageFragment}
	entry.Texture.SampleType = wgpu.TextureSampleTypeFloat
	entry.Texture.ViewDimension = wgpu.TextureViewDimension2D
	return entry
}

// samplerEntry declares a filtering sampler binding visible to the fragment stage, paired with
// a textureEntry at a neighboring binding index.
func samplerEntry(binding uint32) wgpu.BindGroupLayoutEntry {
	entry := wgpu.BindGroupLayoutEntry{Binding: binding, Visibility: wgpu.ShaderStageFragment}
	entry.Sampler.Type = wgpu.SamplerBindingTypeFiltering
	return entry
}

// uniformEntry declares a uniform buffer binding visible to the fragment stage, used for every
// layer's per-pass parameter block (geometry, weights that fit in a single buffer, scoring
// thresholds, and so on).
func uniformEntry(binding uint32) wgpu.BindGroupLayoutEntry {
	entry := wgpu.BindGroupLayoutEntry{Binding: binding, Visibility: wgpu.ShaderStageFragment}
	entry.Buffer.Type = wgpu.BufferBindingTypeUniform
	return entry
}

// storageEntry declares a read-only storage buffer binding visible to the fragment stage, used
// for parameter blobs too large to fit a uniform buffer's minimum guaranteed size (packed
// convolution weights, embedding tables, KV caches).
func storageEntry(binding uint32) wgpu.BindGroupLayoutEntry {
	entry := wgpu.BindGroupLayoutEntry{Binding: binding, Visibility: wgpu.ShaderStageFragment}
	entry.Buffer.Type = wgpu.BufferBindingTypeReadOnlyStorage
	return entry
}

// registerFragmentPipeline builds the fragment shader at fragPath with the given bind group
// layout at group 0, pairs it with the shared fullscreen vertex shader, and registers the
// resulting render pipeline under pipelineKey. RegisterPipelines is idempotent per key, so
// calling this again for an already-registered layer is a no-op.
func registerFragmentPipeline(ctx renderer.GfxContext, pipelineKey, fragKey, fragPath string, layout wgpu.BindGroupLayoutDescriptor) error {
	vs := fullscreenVertexShader()
	fs := shader.NewShader(fragKey, shader.ShaderTypeFragment, fragPath, shader.WithBindGroupLayout(0, layout))
	p := pipeline.NewTensorPassPipeline(pipelineKey, vs, fs)
	return ctx.RegisterPipelines(p)
}

// clampSamplerStaging returns the nearest-filtered, clamp-to-edge sampler configuration every
// tensor texture binding uses. Bilinear or wrapping sampling would corrupt tensor values at
// tile boundaries, so every GPU layer's input texture is sampled with this configuration.
func clampSamplerStaging() common.SamplerStagingData {
	return common.SamplerStagingData{
		AddressModeU: wgpu.AddressModeClampToEdge,
		AddressModeV: wgpu.AddressModeClampToEdge,
		AddressModeW: wgpu.AddressModeClampToEdge,
		MagFilter:    wgpu.FilterModeNearest,
		MinFilter:    wgpu.FilterModeNearest,
		MipmapFilter: wgpu.MipmapFilterModeNearest,
	}
}

// base carries the bookkeeping every GPU layer shares: identity, target device context, and the
// texture handles the buffer manager installs per channel group. Concrete layers embed it and
// add their own pipeline state and parameters.
type base struct {
	name   string
	number int
	flags  layer.Flags

	ctx renderer.GfxContext

	inputs    map[int]renderer.TextureHandle
	outputs   map[int]map[int]renderer.TextureHandle // port -> shadow index -> handle
	residuals map[int]renderer.TextureHandle

	// processingLock serializes Forward against itself on this layer instance. An async
	// worker (DownloadLayer's readback pipeline) may still be writing a prior Forward's
	// result when the engine starts the next one; without this, the two would race on the
	// same layer's output state.
	processingLock sync.Mutex
}

func newBase(name string, number int, flags layer.Flags, ctx renderer.GfxContext) base {
	return base{
		name:      name,
		number:    number,
		flags:     flags,
		ctx:       ctx,
		inputs:    make(map[int]renderer.TextureHandle),
		outputs:   make(map[int]map[int]renderer.TextureHandle),
		residuals: make(map[int]renderer.TextureHandle),
	}
}

func (b *base) Number() int        { return b.number }
func (b *base) Name() string       { return b.name }
func (b *base) Flags() layer.Flags { return b.flags }

// lockForward acquires this layer's exclusive forward lock. Every concrete layer's Forward
// takes it on entry and releases it on return, so a Forward call never overlaps another one
// on the same layer instance.
func (b *base) lockForward() { b.processingLock.Lock() }

// unlockForward releases the lock taken by lockForward.
func (b *base) unlockForward() { b.processingLock.Unlock() }

func (b *base) AddInputTexture(handle renderer.TextureHandle, channelGroup int) {
	b.inputs[channelGroup] = handle
}

func (b *base) UpdateInputTexture(handle renderer.TextureHandle, channelGroup int) {
	b.inputs[channelGroup] = handle
}

func (b *base) AddOutputTexture(handle renderer.TextureHandle, channelGroup, shadowIndex int) {
	group, ok := b.outputs[channelGroup]
	if !ok {
		group = make(map[int]renderer.TextureHandle)
		b.outputs[channelGroup] = group
	}
	group[shadowIndex] = handle
}

func (b *base) AddResidualTexture(handle renderer.TextureHandle, channelGroup int) {
	b.residuals[channelGroup] = handle
}

func (b *base) ClearInputTextures()    { b.inputs = make(map[int]renderer.TextureHandle) }
func (b *base) ClearOutputTextures()   { b.outputs = make(map[int]map[int]renderer.TextureHandle) }
func (b *base) ClearResidualTextures() { b.residuals = make(map[int]renderer.TextureHandle) }

// outputTexture returns the shadow index 0 texture installed for channelGroup, the common case
// for every layer type that writes a single render target per channel group.
func (b *base) outputTexture(channelGroup int) (renderer.TextureHandle, bool) {
	group, ok := b.outputs[channelGroup]
	if !ok {
		return 0, false
	}
	handle, ok := group[0]
	return handle, ok
}
