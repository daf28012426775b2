package download

import (
	"time"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/fyusenet/fyusenet-go/common"
	"github.com/fyusenet/fyusenet-go/engine/renderer"
	"github.com/fyusenet/fyusenet-go/engine/renderer/bind_group_provider"
	"github.com/fyusenet/fyusenet-go/engine/renderer/pipeline"
)

// fakeGfxContext stands in for a derived GfxContext in download pipeline tests: WaitClientSync
// returns canned bytes (or a canned error) instead of touching real GPU state.
type fakeGfxContext struct {
	syncBytes   []byte
	syncErr     error
	removedSync []renderer.SyncHandle
}

func (f *fakeGfxContext) Pipeline(string) pipeline.Pipeline            { return nil }
func (f *fakeGfxContext) Pipelines() map[string]pipeline.Pipeline      { return nil }
func (f *fakeGfxContext) RegisterPipelines(...pipeline.Pipeline) error { return nil }
func (f *fakeGfxContext) SetPipeline(string, pipeline.Pipeline)        {}

func (f *fakeGfxContext) CreateTexture(uint32, uint32, wgpu.TextureFormat, wgpu.TextureUsage) (renderer.TextureHandle, error) {
	return 0, nil
}
func (f *fakeGfxContext) CreateRenderTarget(uint32, uint32, wgpu.TextureFormat) (renderer.TextureHandle, error) {
	return 0, nil
}
func (f *fakeGfxContext) ReleaseTexture(renderer.TextureHandle) {}

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
	return f.syncBytes, f.syncErr
}

func (f *fakeGfxContext) RemoveSync(handle renderer.SyncHandle) {
	f.removedSync = append(f.removedSync, handle)
}

func (f *fakeGfxContext) Derive() (renderer.GfxContext, error) { return &fakeGfxContext{}, nil }
func (f *fakeGfxContext) Release()                              {}
func (f *fakeGfxContext) SetDebug(bool)                         {}
func (f *fakeGfxContext) IsDebug() bool                         { return false }

var _ renderer.GfxContext = (*fakeGfxContext)(nil)
