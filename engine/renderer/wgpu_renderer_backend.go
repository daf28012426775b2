package renderer

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/fyusenet/fyusenet-go/common"
	"github.com/fyusenet/fyusenet-go/engine/renderer/bind_group_provider"
	"github.com/fyusenet/fyusenet-go/engine/renderer/pipeline"
	"github.com/fyusenet/fyusenet-go/engine/renderer/shader"
	"github.com/cogentcore/webgpu/wgpu"
)

// quadVertexData holds the corners of the fullscreen triangle every layer pass draws. Rather
// than drawing a textured quad from a vertex/index buffer per layer (as the donor renderer does
// for arbitrary meshes), every layer pass covers its render target with the same oversized
// triangle and lets the rasterizer clip it. The data is uploaded once and bound at vertex slot 0
// in every render pass, but layer pipelines declare no vertex buffer layout: the shared vertex
// shader derives the same corners from the vertex index.
var quadVertexData = []float32{
	-1, -1, 3, -1, -1, 3,
}

type stagingJob struct {
	buf  *wgpu.Buffer
	size uint64
	done chan struct{}
	err  error
}

type wgpuGfxContextImpl struct {
	mu       *sync.Mutex
	device   *wgpu.Device
	queue    *wgpu.Queue
	instance *wgpu.Instance
	adapter  *wgpu.Adapter

	quadBuffer *wgpu.Buffer

	nextTexture uint64
	textures    map[TextureHandle]*wgpu.Texture
	views       map[TextureHandle]*wgpu.TextureView
	formats     map[TextureHandle]wgpu.TextureFormat
	extents     map[TextureHandle]wgpu.Extent3D

	frameEncoder *wgpu.CommandEncoder
	framePass    *wgpu.RenderPassEncoder

	computeFrameEncoder *wgpu.CommandEncoder

	nextSync uint64
	syncs    map[SyncHandle]*stagingJob
}

// wgpuGfxBackend is the concrete WebGPU realization of gfxBackend. Unlike a windowed
// renderer it owns no surface or swapchain: every texture it creates is an
// off-screen render target or sampled input, consumed either by another layer's
// pass or blitted to a staging buffer for CPU readback.
type wgpuGfxBackend interface {
	Device() *wgpu.Device
	Queue() *wgpu.Queue
	Instance() *wgpu.Instance
	Adapter() *wgpu.Adapter

	CreateTexture(width, height uint32, format wgpu.TextureFormat, usage wgpu.TextureUsage) (TextureHandle, error)
	CreateRenderTarget(width, height uint32, format wgpu.TextureFormat) (TextureHandle, error)
	TextureView(handle TextureHandle) *wgpu.TextureView
	ReleaseTexture(handle TextureHandle)

	UpdateColorAttachment(handle TextureHandle, pixels []byte, bytesPerRow uint32) error

	InitBindGroup(provider bind_group_provider.BindGroupProvider, descriptor wgpu.BindGroupLayoutDescriptor, bufferUsageOverrides map[int]wgpu.BufferUsage, bufferSizeOverrides map[int]uint64) error
	InitTextureView(provider bind_group_provider.BindGroupProvider, bindingKey int, stagingData common.TextureStagingData) error
	InitSampler(provider bind_group_provider.BindGroupProvider, bindingKey int, samplerStagingData common.SamplerStagingData) error
	WriteBuffers(writes []bind_group_provider.BufferWrite)

	RegisterRenderPipeline(p pipeline.Pipeline) error
	RegisterComputePipeline(p pipeline.Pipeline) error

	BeginComputeFrame() error
	DispatchCompute(p pipeline.Pipeline, computeProvider bind_group_provider.BindGroupProvider, workGroupCount [3]uint32)
	EndComputeFrame()

	BeginRenderPass(target TextureHandle, clear bool) error
	DrawFullScreenQuad(p pipeline.Pipeline, bindGroups []bind_group_provider.BindGroupProvider)
	EndRenderPass()

	BlitToStagingBuffer(handle TextureHandle, byteSize uint64) (SyncHandle, error)
	WaitClientSync(handle SyncHandle, timeout time.Duration) ([]byte, error)
	RemoveSync(handle SyncHandle)

	DeriveContext() (wgpuGfxBackend, error)

	Release()
}

// newWGPUGfxContext requests a GPU adapter and device and wires up the shared
// fullscreen-triangle buffer used by every layer pass. forceFallbackAdapter requests a
// CPU/software adapter when true, which is useful for headless CI that has no GPU.
func newWGPUGfxContext(forceFallbackAdapter bool) (wgpuGfxBackend, error) {
	runtime.LockOSThread()

	w := &wgpuGfxContextImpl{
		mu:       &sync.Mutex{},
		instance: wgpu.CreateInstance(nil),
		textures: make(map[TextureHandle]*wgpu.Texture),
		views:    make(map[TextureHandle]*wgpu.TextureView),
		formats:  make(map[TextureHandle]wgpu.TextureFormat),
		extents:  make(map[TextureHandle]wgpu.Extent3D),
		syncs:    make(map[SyncHandle]*stagingJob),
	}

	a, err := w.instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		ForceFallbackAdapter: forceFallbackAdapter,
	})
	if err != nil {
		return nil, fmt.Errorf("request adapter: %w", err)
	}
	w.adapter = a

	limits := wgpu.DefaultLimits()
	limits.MaxBindGroups = 8

	d, err := a.RequestDevice(&wgpu.DeviceDescriptor{
		Label: "inference device",
		RequiredLimits: &wgpu.RequiredLimits{
			Limits: limits,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("request device: %w", err)
	}
	w.device = d
	w.queue = d.GetQueue()

	quadBytes := common.SliceToBytes(quadVertexData)
	buf, err := w.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label:            "fullscreen quad",
		Size:             uint64(len(quadBytes)),
		Usage:            wgpu.BufferUsageVertex | wgpu.BufferUsageCopyDst,
		MappedAtCreation: false,
	})
	if err != nil {
		return nil, fmt.Errorf("create quad buffer: %w", err)
	}
	w.queue.WriteBuffer(buf, 0, quadBytes)
	w.quadBuffer = buf

	return w, nil
}

func (b *wgpuGfxContextImpl) Device() *wgpu.Device     { return b.device }
func (b *wgpuGfxContextImpl) Queue() *wgpu.Queue       { return b.queue }
func (b *wgpuGfxContextImpl) Instance() *wgpu.Instance { return b.instance }
func (b *wgpuGfxContextImpl) Adapter() *wgpu.Adapter   { return b.adapter }

func (b *wgpuGfxContextImpl) CreateTexture(width, height uint32, format wgpu.TextureFormat, usage wgpu.TextureUsage) (TextureHandle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	extent := wgpu.Extent3D{Width: width, Height: height, DepthOrArrayLayers: 1}
	tex, err := b.device.CreateTexture(&wgpu.TextureDescriptor{
		Label:         "tensor texture",
		Dimension:     wgpu.TextureDimension2D,
		Size:          extent,
		Format:        format,
		MipLevelCount: 1,
		SampleCount:   1,
		Usage:         usage,
	})
	if err != nil {
		return 0, fmt.Errorf("create texture: %w", err)
	}
	view, err := tex.CreateView(nil)
	if err != nil {
		tex.Release()
		return 0, fmt.Errorf("create texture view: %w", err)
	}

	b.nextTexture++
	handle := TextureHandle(b.nextTexture)
	b.textures[handle] = tex
	b.views[handle] = view
	b.formats[handle] = format
	b.extents[handle] = extent
	return handle, nil
}

func (b *wgpuGfxContextImpl) CreateRenderTarget(width, height uint32, format wgpu.TextureFormat) (TextureHandle, error) {
	return b.CreateTexture(width, height, format, wgpu.TextureUsageRenderAttachment|wgpu.TextureUsageTextureBinding|wgpu.TextureUsageCopySrc)
}

func (b *wgpuGfxContextImpl) TextureView(handle TextureHandle) *wgpu.TextureView {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.views[handle]
}

func (b *wgpuGfxContextImpl) ReleaseTexture(handle TextureHandle) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if v, ok := b.views[handle]; ok {
		v.Release()
		delete(b.views, handle)
	}
	if t, ok := b.textures[handle]; ok {
		t.Release()
		delete(b.textures, handle)
	}
	delete(b.formats, handle)
	delete(b.extents, handle)
}

func (b *wgpuGfxContextImpl) UpdateColorAttachment(handle TextureHandle, pixels []byte, bytesPerRow uint32) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	tex, ok := b.textures[handle]
	if !ok {
		return fmt.Errorf("texture handle %d not found", handle)
	}
	extent := b.extents[handle]

	b.queue.WriteTexture(
		&wgpu.ImageCopyTexture{Texture: tex, MipLevel: 0, Origin: wgpu.Origin3D{}, Aspect: wgpu.TextureAspectAll},
		pixels,
		&wgpu.TextureDataLayout{Offset: 0, BytesPerRow: bytesPerRow, RowsPerImage: extent.Height},
		&extent,
	)
	return nil
}

func (b *wgpuGfxContextImpl) InitBindGroup(provider bind_group_provider.BindGroupProvider, descriptor wgpu.BindGroupLayoutDescriptor, bufferUsageOverrides map[int]wgpu.BufferUsage, bufferSizeOverrides map[int]uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	layout, err := b.device.CreateBindGroupLayout(&descriptor)
	if err != nil {
		return fmt.Errorf("create bind group layout: %w", err)
	}

	entries := make([]wgpu.BindGroupEntry, 0, len(descriptor.Entries))
	for _, e := range descriptor.Entries {
		binding := int(e.Binding)
		entry := wgpu.BindGroupEntry{Binding: e.Binding}

		switch {
		case e.Buffer.Type != wgpu.BufferBindingTypeUndefined:
			usage := wgpu.BufferUsageStorage | wgpu.BufferUsageCopyDst
			if e.Buffer.Type == wgpu.BufferBindingTypeUniform {
				usage = wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst
			}
			if override, ok := bufferUsageOverrides[binding]; ok {
				usage |= override
			}
			size := e.Buffer.MinBindingSize
			if override, ok := bufferSizeOverrides[binding]; ok {
				size = override
			}
			if size == 0 {
				return fmt.Errorf("binding %d has no size, set MinBindingSize or bufferSizeOverrides", binding)
			}
			buf, bufErr := b.device.CreateBuffer(&wgpu.BufferDescriptor{
				Label: fmt.Sprintf("%s binding %d", provider.Label(), binding),
				Size:  size,
				Usage: usage,
			})
			if bufErr != nil {
				return fmt.Errorf("create buffer for binding %d: %w", binding, bufErr)
			}
			provider.SetBuffer(binding, buf)
			entry.Buffer = buf
			entry.Size = size
		case e.Texture.SampleType != wgpu.TextureSampleTypeUndefined:
			view := provider.TextureView(binding)
			if view == nil {
				return fmt.Errorf("binding %d expects a texture view, call InitTextureView first", binding)
			}
			entry.TextureView = view
		case e.Sampler.Type != wgpu.SamplerBindingTypeUndefined:
			sampler := provider.Sampler(binding)
			if sampler == nil {
				return fmt.Errorf("binding %d expects a sampler, call InitSampler first", binding)
			}
			entry.Sampler = sampler
		}
		entries = append(entries, entry)
	}

	group, err := b.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:   provider.Label(),
		Layout:  layout,
		Entries: entries,
	})
	if err != nil {
		return fmt.Errorf("create bind group: %w", err)
	}
	provider.SetBindGroup(group)
	provider.SetBindGroupLayout(layout)
	return nil
}

func (b *wgpuGfxContextImpl) InitTextureView(provider bind_group_provider.BindGroupProvider, bindingKey int, stagingData common.TextureStagingData) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	tex, err := b.device.CreateTexture(&wgpu.TextureDescriptor{
		Label:     provider.Label() + " texture",
		Usage:     wgpu.TextureUsageTextureBinding | wgpu.TextureUsageCopyDst,
		Dimension: wgpu.TextureDimension2D,
		Size: wgpu.Extent3D{
			Width:              stagingData.Width,
			Height:             stagingData.Height,
			DepthOrArrayLayers: 1,
		},
		Format:        wgpu.TextureFormatRGBA32Float,
		MipLevelCount: 1,
		SampleCount:   1,
	})
	if err != nil {
		return fmt.Errorf("create texture: %w", err)
	}

	if len(stagingData.Pixels) > 0 {
		b.queue.WriteTexture(
			&wgpu.ImageCopyTexture{Texture: tex, MipLevel: 0, Origin: wgpu.Origin3D{}, Aspect: wgpu.TextureAspectAll},
			stagingData.Pixels,
			&wgpu.TextureDataLayout{Offset: 0, BytesPerRow: stagingData.Width * 16, RowsPerImage: stagingData.Height},
			&wgpu.Extent3D{Width: stagingData.Width, Height: stagingData.Height, DepthOrArrayLayers: 1},
		)
	}

	view, err := tex.CreateView(nil)
	if err != nil {
		return fmt.Errorf("create texture view: %w", err)
	}
	provider.SetTextureView(bindingKey, view)
	return nil
}

func (b *wgpuGfxContextImpl) InitSampler(provider bind_group_provider.BindGroupProvider, bindingKey int, samplerStagingData common.SamplerStagingData) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	samp, err := b.device.CreateSampler(&wgpu.SamplerDescriptor{
		Label:        provider.Label() + " sampler",
		AddressModeU: wgpu.AddressModeClampToEdge,
		AddressModeV: wgpu.AddressModeClampToEdge,
		AddressModeW: wgpu.AddressModeClampToEdge,
		MagFilter:    common.Coalesce(samplerStagingData.MagFilter, wgpu.FilterModeNearest),
		MinFilter:    common.Coalesce(samplerStagingData.MinFilter, wgpu.FilterModeNearest),
		MipmapFilter: wgpu.MipmapFilterModeNearest,
		LodMinClamp:  0,
		LodMaxClamp:  0,
	})
	if err != nil {
		return fmt.Errorf("create sampler: %w", err)
	}
	provider.SetSampler(bindingKey, samp)
	return nil
}

func (b *wgpuGfxContextImpl) WriteBuffers(writes []bind_group_provider.BufferWrite) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, w := range writes {
		buf := w.Provider.Buffer(w.Binding)
		if buf == nil {
			continue
		}
		b.queue.WriteBuffer(buf, w.Offset, w.Data)
	}
}

func (b *wgpuGfxContextImpl) RegisterRenderPipeline(p pipeline.Pipeline) error {
	fragmentShaderSrc := p.Shader(shader.ShaderTypeFragment)
	vertexShaderSrc := p.Shader(shader.ShaderTypeVertex)
	if vertexShaderSrc == nil || fragmentShaderSrc == nil {
		return errors.New("both vertex and fragment shaders must be set to create a render pipeline")
	}

	vs, err := b.device.CreateShaderModule(vertexShaderSrc.Module())
	if err != nil {
		return err
	}
	fs, err := b.device.CreateShaderModule(fragmentShaderSrc.Module())
	if err != nil {
		return err
	}

	bindGroupLayouts, err := b.buildBindGroupLayouts(mergeBindGroupLayouts(vertexShaderSrc.BindGroupLayoutDescriptors(), fragmentShaderSrc.BindGroupLayoutDescriptors()))
	if err != nil {
		return err
	}

	pipelineLayout, err := b.device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            p.PipelineKey(),
		BindGroupLayouts: bindGroupLayouts,
	})
	if err != nil {
		return err
	}

	created, err := b.device.CreateRenderPipeline(&wgpu.RenderPipelineDescriptor{
		Label:  p.PipelineKey() + " render pipeline",
		Layout: pipelineLayout,
		Vertex: wgpu.VertexState{
			Module:     vs,
			EntryPoint: vertexShaderSrc.EntryPoint(),
			Buffers:    vertexShaderSrc.VertexLayout(0),
		},
		Fragment: &wgpu.FragmentState{
			Module:     fs,
			EntryPoint: fragmentShaderSrc.EntryPoint(),
			Targets: []wgpu.ColorTargetState{
				{
					Format:    wgpu.TextureFormatRGBA32Float,
					WriteMask: p.WriteMask(),
				},
			},
		},
		Primitive: wgpu.PrimitiveState{
			Topology:  p.Topology(),
			FrontFace: p.FrontFace(),
			CullMode:  wgpu.CullModeNone,
		},
		Multisample: wgpu.MultisampleState{Count: 1, Mask: 0xFFFFFFFF},
	})
	if err != nil {
		return err
	}
	p.SetRenderPipeline(created)
	return nil
}

func (b *wgpuGfxContextImpl) RegisterComputePipeline(p pipeline.Pipeline) error {
	computeShaderSrc := p.Shader(shader.ShaderTypeCompute)
	if computeShaderSrc == nil {
		return errors.New("compute shader must be set to create a compute pipeline")
	}

	s, err := b.device.CreateShaderModule(computeShaderSrc.Module())
	if err != nil {
		return err
	}

	bindGroupLayouts, err := b.buildBindGroupLayouts(computeShaderSrc.BindGroupLayoutDescriptors())
	if err != nil {
		return err
	}

	layout, err := b.device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            p.PipelineKey(),
		BindGroupLayouts: bindGroupLayouts,
	})
	if err != nil {
		return err
	}

	created, err := b.device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label:  p.PipelineKey() + " compute pipeline",
		Layout: layout,
		Compute: wgpu.ProgrammableStageDescriptor{
			Module:     s,
			EntryPoint: computeShaderSrc.EntryPoint(),
		},
	})
	if err != nil {
		return err
	}
	p.SetComputePipeline(created)
	return nil
}

func (b *wgpuGfxContextImpl) buildBindGroupLayouts(descriptors map[int]wgpu.BindGroupLayoutDescriptor) ([]*wgpu.BindGroupLayout, error) {
	maxGroup := -1
	for g := range descriptors {
		if g > maxGroup {
			maxGroup = g
		}
	}
	layouts := make([]*wgpu.BindGroupLayout, maxGroup+1)
	for g, desc := range descriptors {
		layout, err := b.device.CreateBindGroupLayout(&desc)
		if err != nil {
			return nil, fmt.Errorf("create bind group layout for group %d: %w", g, err)
		}
		layouts[g] = layout
	}
	return layouts, nil
}

func (b *wgpuGfxContextImpl) BeginComputeFrame() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	encoder, err := b.device.CreateCommandEncoder(nil)
	if err != nil {
		return err
	}
	b.computeFrameEncoder = encoder
	return nil
}

func (b *wgpuGfxContextImpl) DispatchCompute(p pipeline.Pipeline, computeProvider bind_group_provider.BindGroupProvider, workGroupCount [3]uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.computeFrameEncoder == nil {
		return
	}
	computePipeline := p.Pipeline().(*wgpu.ComputePipeline)
	pass := b.computeFrameEncoder.BeginComputePass(nil)
	pass.SetPipeline(computePipeline)
	pass.SetBindGroup(0, computeProvider.BindGroup(), nil)
	pass.DispatchWorkgroups(workGroupCount[0], workGroupCount[1], workGroupCount[2])
	pass.End()
}

func (b *wgpuGfxContextImpl) EndComputeFrame() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.computeFrameEncoder == nil {
		return
	}
	commandBuffer, err := b.computeFrameEncoder.Finish(nil)
	b.computeFrameEncoder.Release()
	b.computeFrameEncoder = nil
	if err != nil {
		return
	}
	b.queue.Submit(commandBuffer)
	commandBuffer.Release()
}

func (b *wgpuGfxContextImpl) BeginRenderPass(target TextureHandle, clear bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	view, ok := b.views[target]
	if !ok {
		return fmt.Errorf("render target handle %d not found", target)
	}

	encoder, err := b.device.CreateCommandEncoder(nil)
	if err != nil {
		return err
	}

	loadOp := wgpu.LoadOpLoad
	if clear {
		loadOp = wgpu.LoadOpClear
	}

	pass := encoder.BeginRenderPass(&wgpu.RenderPassDescriptor{
		ColorAttachments: []wgpu.RenderPassColorAttachment{
			{
				View:       view,
				LoadOp:     loadOp,
				StoreOp:    wgpu.StoreOpStore,
				ClearValue: wgpu.Color{R: 0, G: 0, B: 0, A: 0},
			},
		},
	})
	pass.SetVertexBuffer(0, b.quadBuffer, 0, wgpu.WholeSize)

	b.frameEncoder = encoder
	b.framePass = pass
	return nil
}

func (b *wgpuGfxContextImpl) DrawFullScreenQuad(p pipeline.Pipeline, bindGroups []bind_group_provider.BindGroupProvider) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.framePass == nil {
		return
	}
	renderPipeline := p.Pipeline().(*wgpu.RenderPipeline)
	b.framePass.SetPipeline(renderPipeline)
	for i, bg := range bindGroups {
		b.framePass.SetBindGroup(uint32(i), bg.BindGroup(), nil)
	}
	b.framePass.Draw(3, 1, 0, 0)
}

func (b *wgpuGfxContextImpl) EndRenderPass() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.framePass == nil {
		return
	}
	b.framePass.End()

	commandBuffer, err := b.frameEncoder.Finish(nil)
	b.frameEncoder.Release()
	b.frameEncoder = nil
	b.framePass = nil
	if err != nil {
		return
	}
	b.queue.Submit(commandBuffer)
	commandBuffer.Release()
}

// BlitToStagingBuffer copies the contents of a GPU render target into a host-visible
// staging buffer and kicks off an asynchronous map. The returned SyncHandle mirrors a GL
// fence object: it must be passed to WaitClientSync to block until the copy and map have
// completed, and to RemoveSync to release the staging buffer once read.
func (b *wgpuGfxContextImpl) BlitToStagingBuffer(handle TextureHandle, byteSize uint64) (SyncHandle, error) {
	b.mu.Lock()
	tex, ok := b.textures[handle]
	extent := b.extents[handle]
	b.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("texture handle %d not found", handle)
	}

	buf, err := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "download staging buffer",
		Size:  byteSize,
		Usage: wgpu.BufferUsageCopyDst | wgpu.BufferUsageMapRead,
	})
	if err != nil {
		return 0, fmt.Errorf("create staging buffer: %w", err)
	}

	encoder, err := b.device.CreateCommandEncoder(nil)
	if err != nil {
		buf.Release()
		return 0, err
	}
	bytesPerRow := byteSize / uint64(extent.Height)
	encoder.CopyTextureToBuffer(
		&wgpu.ImageCopyTexture{Texture: tex, MipLevel: 0, Origin: wgpu.Origin3D{}, Aspect: wgpu.TextureAspectAll},
		&wgpu.ImageCopyBuffer{
			Layout: wgpu.TextureDataLayout{Offset: 0, BytesPerRow: uint32(bytesPerRow), RowsPerImage: extent.Height},
			Buffer: buf,
		},
		&extent,
	)
	commandBuffer, err := encoder.Finish(nil)
	encoder.Release()
	if err != nil {
		buf.Release()
		return 0, err
	}
	b.queue.Submit(commandBuffer)
	commandBuffer.Release()

	job := &stagingJob{buf: buf, size: byteSize, done: make(chan struct{})}
	buf.MapAsync(wgpu.MapModeRead, 0, byteSize, func(status wgpu.BufferMapAsyncStatus) {
		if status != wgpu.BufferMapAsyncStatusSuccess {
			job.err = fmt.Errorf("buffer map failed with status %v", status)
		}
		close(job.done)
	})

	b.mu.Lock()
	b.nextSync++
	handleOut := SyncHandle(b.nextSync)
	b.syncs[handleOut] = job
	b.mu.Unlock()

	return handleOut, nil
}

// WaitClientSync blocks, polling the device, until the asynchronous map started by
// BlitToStagingBuffer completes or timeout elapses, then returns a copy of the mapped bytes.
func (b *wgpuGfxContextImpl) WaitClientSync(handle SyncHandle, timeout time.Duration) ([]byte, error) {
	b.mu.Lock()
	job, ok := b.syncs[handle]
	b.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("sync handle %d not found", handle)
	}

	deadline := time.Now().Add(timeout)
	for {
		select {
		case <-job.done:
			if job.err != nil {
				return nil, job.err
			}
			mapped := job.buf.GetMappedRange(0, uint(job.size))
			out := make([]byte, len(mapped))
			copy(out, mapped)
			return out, nil
		default:
			b.device.Poll(false, nil)
			if timeout > 0 && time.Now().After(deadline) {
				return nil, fmt.Errorf("wait for sync %d timed out after %s", handle, timeout)
			}
			time.Sleep(time.Millisecond)
		}
	}
}

func (b *wgpuGfxContextImpl) RemoveSync(handle SyncHandle) {
	b.mu.Lock()
	defer b.mu.Unlock()

	job, ok := b.syncs[handle]
	if !ok {
		return
	}
	job.buf.Unmap()
	job.buf.Release()
	delete(b.syncs, handle)
}

// DeriveContext requests a fresh device and queue sharing this context's adapter. The derived
// context starts with empty texture and sync tables: textures and sync handles created through
// this context are not visible through it, so it cannot wait on a fence this context issued.
func (b *wgpuGfxContextImpl) DeriveContext() (wgpuGfxBackend, error) {
	limits := wgpu.DefaultLimits()
	limits.MaxBindGroups = 8

	d, err := b.adapter.RequestDevice(&wgpu.DeviceDescriptor{
		Label:          "derived download device",
		RequiredLimits: &wgpu.RequiredLimits{Limits: limits},
	})
	if err != nil {
		return nil, fmt.Errorf("request derived device: %w", err)
	}

	derived := &wgpuGfxContextImpl{
		mu:       &sync.Mutex{},
		instance: b.instance,
		adapter:  b.adapter,
		device:   d,
		queue:    d.GetQueue(),
		textures: make(map[TextureHandle]*wgpu.Texture),
		views:    make(map[TextureHandle]*wgpu.TextureView),
		formats:  make(map[TextureHandle]wgpu.TextureFormat),
		extents:  make(map[TextureHandle]wgpu.Extent3D),
		syncs:    make(map[SyncHandle]*stagingJob),
	}
	return derived, nil
}

func (b *wgpuGfxContextImpl) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for h := range b.syncs {
		job := b.syncs[h]
		job.buf.Unmap()
		job.buf.Release()
	}
	for h, v := range b.views {
		v.Release()
		b.textures[h].Release()
	}
	if b.quadBuffer != nil {
		b.quadBuffer.Release()
	}
}
