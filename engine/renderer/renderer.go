package renderer

import (
	"fmt"
	"sync"
	"time"

	"github.com/fyusenet/fyusenet-go/common"
	"github.com/fyusenet/fyusenet-go/engine/renderer/bind_group_provider"
	"github.com/fyusenet/fyusenet-go/engine/renderer/pipeline"
	"github.com/cogentcore/webgpu/wgpu"
)

// gfxContext is the implementation of the GfxContext interface.
type gfxContext struct {
	mu *sync.Mutex

	pipelineCache map[string]pipeline.Pipeline

	backendType GfxContextType
	backend     gfxBackend

	forceFallbackAdapter bool
	debug                bool
}

// GfxContext defines the interface for the GPU execution environment a network runs in.
//
// Unlike a windowed renderer, GfxContext never owns a surface or swapchain: every texture
// it creates is either an off-screen render target feeding the next layer, a sampled
// input texture carrying tensor data uploaded from the CPU, or a staging buffer awaiting
// readback by the download pipeline. It manages a cache of compiled pipelines keyed by
// the layer pipeline key that created them, so repeated Forward calls never recompile
// a pipeline already registered.
type GfxContext interface {
	// Pipeline retrieves the cached Pipeline associated with the given key.
	// If the Pipeline does not exist, this will return nil.
	Pipeline(key string) pipeline.Pipeline

	// Pipelines retrieves the entire cache of Pipelines.
	Pipelines() map[string]pipeline.Pipeline

	// RegisterPipelines registers one or more pipelines by creating the corresponding GPU
	// pipeline objects (render or compute) via the backend, then caching them by PipelineKey.
	// Pipelines whose keys are already registered are skipped to avoid duplicate GPU resource
	// creation.
	RegisterPipelines(pipelines ...pipeline.Pipeline) error

	// SetPipeline adds or updates a Pipeline in the cache with the given key.
	SetPipeline(key string, p pipeline.Pipeline)

	// CreateTexture creates a GPU texture suitable for sampling, with the given usage flags.
	CreateTexture(width, height uint32, format wgpu.TextureFormat, usage wgpu.TextureUsage) (TextureHandle, error)

	// CreateRenderTarget creates a GPU texture usable as a render pass color attachment and
	// as a sampled input to a subsequent layer.
	CreateRenderTarget(width, height uint32, format wgpu.TextureFormat) (TextureHandle, error)

	// ReleaseTexture releases the GPU resources backing a texture handle.
	ReleaseTexture(handle TextureHandle)

	// UpdateColorAttachment uploads raw pixel data into an existing texture, used by upload
	// layers to push host tensor data onto the GPU.
	UpdateColorAttachment(handle TextureHandle, pixels []byte, bytesPerRow uint32) error

	// InitBindGroup creates GPU buffers and a bind group from a layout descriptor and stores
	// them on the given BindGroupProvider. Textures and samplers must be initialized via
	// InitTextureView and InitSampler before calling this method.
	InitBindGroup(provider bind_group_provider.BindGroupProvider, descriptor wgpu.BindGroupLayoutDescriptor, bufferUsageOverrides map[int]wgpu.BufferUsage, bufferSizeOverrides map[int]uint64) error

	// InitTextureView creates a GPU texture from staging data and stores the resulting
	// texture view on the given BindGroupProvider at the specified binding index.
	InitTextureView(provider bind_group_provider.BindGroupProvider, bindingKey int, stagingData common.TextureStagingData) error

	// InitSampler creates a GPU sampler from staging data and stores it on the given
	// BindGroupProvider at the specified binding index.
	InitSampler(provider bind_group_provider.BindGroupProvider, bindingKey int, samplerStagingData common.SamplerStagingData) error

	// BindInputTexture points a BindGroupProvider's texture view at an existing texture
	// handle, used by every GPU layer to wire another layer's render-target output (or its
	// own upload target) as its fragment shader's sampled input, without re-creating GPU
	// resources the way InitTextureView does for CPU-staged data.
	BindInputTexture(provider bind_group_provider.BindGroupProvider, bindingKey int, handle TextureHandle) error

	// WriteBuffers writes all staged buffer writes to the GPU queue, used to push parameter
	// blobs (weights, biases, normalization statistics) onto uniform and storage buffers.
	WriteBuffers(writes []bind_group_provider.BufferWrite)

	// BeginComputeFrame creates a single command encoder for batching all compute dispatches
	// within a layer's Forward call into one GPU submission.
	BeginComputeFrame() error

	// DispatchCompute looks up the cached compute Pipeline by key and encodes a compute pass
	// within the current batched compute frame started by BeginComputeFrame.
	DispatchCompute(pipelineKey string, computeProvider bind_group_provider.BindGroupProvider, workGroupCount [3]uint32)

	// EndComputeFrame finishes the batched compute command encoder and submits the resulting
	// command buffer to the GPU queue.
	EndComputeFrame()

	// BeginRenderPass starts a render pass targeting the given texture handle. When clear is
	// true the attachment is cleared before drawing, otherwise its prior contents are kept
	// (used for multi-pass convolutions that accumulate partial sums across render targets).
	BeginRenderPass(target TextureHandle, clear bool) error

	// DrawFullScreenQuad issues the single full-screen-triangle draw call every layer pass
	// uses to invoke its fragment shader once per output pixel.
	DrawFullScreenQuad(pipelineKey string, bindGroups []bind_group_provider.BindGroupProvider) error

	// EndRenderPass ends the current render pass and submits its command buffer to the GPU.
	EndRenderPass()

	// BlitToStagingBuffer copies a render target into a host-visible staging buffer and
	// begins an asynchronous map, returning a SyncHandle that must be waited on before the
	// bytes are readable.
	BlitToStagingBuffer(handle TextureHandle, byteSize uint64) (SyncHandle, error)

	// WaitClientSync blocks until the asynchronous map started by BlitToStagingBuffer
	// completes, or until timeout elapses, and returns a copy of the mapped bytes.
	WaitClientSync(handle SyncHandle, timeout time.Duration) ([]byte, error)

	// RemoveSync releases the staging buffer associated with a SyncHandle.
	RemoveSync(handle SyncHandle)

	// Derive creates a new GfxContext that shares this context's GPU instance and adapter but
	// owns its own device and queue. It does not share textures or sync handles with this
	// context; nothing in the engine or the download pipeline calls it.
	Derive() (GfxContext, error)

	// SetDebug toggles debug mode. When enabled, Engine ticks an engine/profiler.Profiler once
	// per Forward call and logs throughput/memory statistics; this is an opt-in cost, off by
	// default.
	SetDebug(enabled bool)

	// IsDebug reports whether debug mode is enabled.
	IsDebug() bool

	// Release frees every GPU resource owned by this context.
	Release()
}

var _ GfxContext = &gfxContext{}

// NewGfxContext creates a new GfxContext backed by the given GPU API.
//
// Parameters:
//   - backendType: the type of GPU backend to use (currently only WGPU is supported)
//   - options: variadic list of GfxContextBuilderOption functions to configure the context
//
// Returns:
//   - GfxContext: a new instance ready to create textures and compile pipelines
//   - error: an error if the GPU adapter or device could not be acquired
func NewGfxContext(backendType GfxContextType, options ...GfxContextBuilderOption) (GfxContext, error) {
	r := &gfxContext{
		mu:            &sync.Mutex{},
		pipelineCache: make(map[string]pipeline.Pipeline),
		backendType:   backendType,
	}
	for _, opt := range options {
		opt(r)
	}

	switch backendType {
	case BackendTypeWGPU:
		fallthrough
	default:
		backend, err := newWGPUGfxContext(r.forceFallbackAdapter)
		if err != nil {
			return nil, err
		}
		r.backend = backend
	}
	return r, nil
}

func newGfxContextFromBackend(backendType GfxContextType, backend gfxBackend) GfxContext {
	return &gfxContext{
		mu:            &sync.Mutex{},
		pipelineCache: make(map[string]pipeline.Pipeline),
		backendType:   backendType,
		backend:       backend,
	}
}

func (r *gfxContext) Pipeline(key string) pipeline.Pipeline {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pipelineCache[key]
}

func (r *gfxContext) Pipelines() map[string]pipeline.Pipeline {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pipelineCache
}

func (r *gfxContext) RegisterPipelines(pipelines ...pipeline.Pipeline) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range pipelines {
		key := p.PipelineKey()
		if _, exists := r.pipelineCache[key]; exists {
			continue
		}
		switch p.Type() {
		case pipeline.PipelineTypeCompute:
			if err := r.backend.RegisterComputePipeline(p); err != nil {
				return err
			}
		case pipeline.PipelineTypeRender:
			if err := r.backend.RegisterRenderPipeline(p); err != nil {
				return err
			}
		}
		r.pipelineCache[key] = p
	}
	return nil
}

func (r *gfxContext) SetPipeline(key string, p pipeline.Pipeline) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pipelineCache[key] = p
}

func (r *gfxContext) CreateTexture(width, height uint32, format wgpu.TextureFormat, usage wgpu.TextureUsage) (TextureHandle, error) {
	return r.backend.CreateTexture(width, height, format, usage)
}

func (r *gfxContext) CreateRenderTarget(width, height uint32, format wgpu.TextureFormat) (TextureHandle, error) {
	return r.backend.CreateRenderTarget(width, height, format)
}

func (r *gfxContext) ReleaseTexture(handle TextureHandle) {
	r.backend.ReleaseTexture(handle)
}

func (r *gfxContext) UpdateColorAttachment(handle TextureHandle, pixels []byte, bytesPerRow uint32) error {
	return r.backend.UpdateColorAttachment(handle, pixels, bytesPerRow)
}

func (r *gfxContext) InitBindGroup(provider bind_group_provider.BindGroupProvider, descriptor wgpu.BindGroupLayoutDescriptor, bufferUsageOverrides map[int]wgpu.BufferUsage, bufferSizeOverrides map[int]uint64) error {
	return r.backend.InitBindGroup(provider, descriptor, bufferUsageOverrides, bufferSizeOverrides)
}

func (r *gfxContext) InitTextureView(provider bind_group_provider.BindGroupProvider, bindingKey int, stagingData common.TextureStagingData) error {
	return r.backend.InitTextureView(provider, bindingKey, stagingData)
}

func (r *gfxContext) InitSampler(provider bind_group_provider.BindGroupProvider, bindingKey int, samplerStagingData common.SamplerStagingData) error {
	return r.backend.InitSampler(provider, bindingKey, samplerStagingData)
}

func (r *gfxContext) BindInputTexture(provider bind_group_provider.BindGroupProvider, bindingKey int, handle TextureHandle) error {
	view := r.backend.TextureView(handle)
	if view == nil {
		return fmt.Errorf("gfxcontext: no texture view for handle %d", handle)
	}
	provider.SetTextureView(bindingKey, view)
	return nil
}

func (r *gfxContext) WriteBuffers(writes []bind_group_provider.BufferWrite) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backend.WriteBuffers(writes)
}

func (r *gfxContext) BeginComputeFrame() error {
	return r.backend.BeginComputeFrame()
}

func (r *gfxContext) DispatchCompute(pipelineKey string, computeProvider bind_group_provider.BindGroupProvider, workGroupCount [3]uint32) {
	r.mu.Lock()
	p, exists := r.pipelineCache[pipelineKey]
	r.mu.Unlock()
	if !exists {
		return
	}
	r.backend.DispatchCompute(p, computeProvider, workGroupCount)
}

func (r *gfxContext) EndComputeFrame() {
	r.backend.EndComputeFrame()
}

func (r *gfxContext) BeginRenderPass(target TextureHandle, clear bool) error {
	return r.backend.BeginRenderPass(target, clear)
}

func (r *gfxContext) DrawFullScreenQuad(pipelineKey string, bindGroups []bind_group_provider.BindGroupProvider) error {
	r.mu.Lock()
	p, exists := r.pipelineCache[pipelineKey]
	r.mu.Unlock()
	if !exists {
		return fmt.Errorf("render pipeline %q not found in cache", pipelineKey)
	}
	r.backend.DrawFullScreenQuad(p, bindGroups)
	return nil
}

func (r *gfxContext) EndRenderPass() {
	r.backend.EndRenderPass()
}

func (r *gfxContext) BlitToStagingBuffer(handle TextureHandle, byteSize uint64) (SyncHandle, error) {
	return r.backend.BlitToStagingBuffer(handle, byteSize)
}

func (r *gfxContext) WaitClientSync(handle SyncHandle, timeout time.Duration) ([]byte, error) {
	return r.backend.WaitClientSync(handle, timeout)
}

func (r *gfxContext) RemoveSync(handle SyncHandle) {
	r.backend.RemoveSync(handle)
}

func (r *gfxContext) Derive() (GfxContext, error) {
	derived, err := r.backend.DeriveContext()
	if err != nil {
		return nil, fmt.Errorf("derive context: %w", err)
	}
	return newGfxContextFromBackend(r.backendType, derived), nil
}

func (r *gfxContext) Release() {
	r.backend.Release()
}

func (r *gfxContext) SetDebug(enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.debug = enabled
}

func (r *gfxContext) IsDebug() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.debug
}
