package buffer

import (
	"time"

	"github.com/cogentcore/webgpu/wgpu"

	"github.com/fyusenet/fyusenet-go/common"
	"github.com/fyusenet/fyusenet-go/engine/renderer"
	"github.com/fyusenet/fyusenet-go/engine/renderer/bind_group_provider"
	"github.com/fyusenet/fyusenet-go/engine/renderer/pipeline"
)

// fakeGfxContext is a minimal in-memory stand-in for renderer.GfxContext, tracking only what
// GPUBuffer exercises: texture allocation and release.
type fakeGfxContext struct {
	next     uint64
	released []renderer.TextureHandle
}

func newFakeGfxContext() *fakeGfxContext { return &fakeGfxContext{} }

func (f *fakeGfxContext) Pipeline(string) pipeline.Pipeline            { return nil }
func (f *fakeGfxContext) Pipelines() map[string]pipeline.Pipeline      { return nil }
func (f *fakeGfxContext) RegisterPipelines(...pipeline.Pipeline) error { return nil }
func (f *fakeGfxContext) SetPipeline(string, pipeline.Pipeline)        {}

func (f *fakeGfxContext) CreateTexture(uint32, uint32, wgpu.TextureFormat, wgpu.TextureUsage) (renderer.TextureHandle, error) {
	f.next++
	return renderer.TextureHandle(f.next), nil
}

func (f *fakeGfxContext) CreateRenderTarget(uint32, uint32, wgpu.TextureFormat) (renderer.TextureHandle, error) {
	f.next++
	return renderer.TextureHandle(f.next), nil
}

func (f *fakeGfxContext) ReleaseTexture(handle renderer.TextureHandle) {
	f.released = append(f.released, handle)
}

func (f *fakeGfxContext) UpdateColorAttachment(renderer.TextureHandle, []byte, uint32) error {
	return nil
}

func (f *fakeGfxContext) InitBindGroup(bind_group_provider.BindGroupProvider, wgpu.BindGroupLayoutDescriptor, map[int]wgpu.BufferUsage, map[int]uint64) error {
	return nil
}

func (f *fakeGfxContext) InitTextureView(bind_group_provider.BindGroupProvider, int, common.TextureStagingData) error {
	return nil
}

func (f *fakeGfxContext) InitSampler(bind_group_provider.BindGroupProvider, int, common.SamplerStagingData) error {
	return nil
}

func (f *fakeGfxContext) BindInputTexture(bind_group_provider.BindGroupProvider, int, renderer.TextureHandle) error {
	return nil
}

func (f *fakeGfxContext) WriteBuffers([]bind_group_provider.BufferWrite) {}

func (f *fakeGfxContext) BeginComputeFrame() error { return nil }
func (f *fakeGfxContext) DispatchCompute(string, bind_group_provider.BindGroupProvider, [3]uint32) {
}
func (f *fakeGfxContext) EndComputeFrame() {}

func (f *fakeGfxContext) BeginRenderPass(renderer.TextureHandle, bool) error { return nil }
func (f *fakeGfxContext) DrawFullScreenQuad(string, []bind_group_provider.BindGroupProvider) error {
	return nil
}
func (f *fakeGfxContext) EndRenderPass() {}

func (f *fakeGfxContext) BlitToStagingBuffer(renderer.TextureHandle, uint64) (renderer.SyncHandle, error) {
	return 0, nil
}
func (f *fakeGfxContext) WaitClientSync(renderer.SyncHandle, time.Duration) ([]byte, error) {
	return nil, nil
}
func (f *fakeGfxContext) RemoveSync(renderer.SyncHandle) {}

func (f *fakeGfxContext) Derive() (renderer.GfxContext, error) { return newFakeGfxContext(), nil }
func (f *fakeGfxContext) Release()                             {}
func (f *fakeGfxContext) SetDebug(bool)                        {}
func (f *fakeGfxContext) IsDebug() bool                        { return false }

var _ renderer.GfxContext = (*fakeGfxContext)(nil)
