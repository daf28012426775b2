package gpu

import (
	"time"

	"github.com/cogentcore/webgpu/wgpu"

	"github.com/fyusenet/fyusenet-go/common"
	"github.com/fyusenet/fyusenet-go/engine/renderer"
	"github.com/fyusenet/fyusenet-go/engine/renderer/bind_group_provider"
	"github.com/fyusenet/fyusenet-go/engine/renderer/pipeline"
)

// fakeGfxContext stands in for a real GfxContext in layer tests: every resource call succeeds
// as a no-op, and the calls layers care about asserting on are recorded for inspection.
type fakeGfxContext struct {
	registered []string

	boundTextures    map[int]renderer.TextureHandle
	writtenBuffers   []bind_group_provider.BufferWrite
	renderPassTarget renderer.TextureHandle
	drawnPipeline    string

	blitHandle renderer.TextureHandle
	syncBytes  []byte
	syncErr    error
	removed    []renderer.SyncHandle

	uploadedPixels []byte
}

func newFakeGfxContext() *fakeGfxContext {
	return &fakeGfxContext{boundTextures: make(map[int]renderer.TextureHandle)}
}

func (f *fakeGfxContext) Pipeline(string) pipeline.Pipeline       { return nil }
func (f *fakeGfxContext) Pipelines() map[string]pipeline.Pipeline { return nil }
func (f *fakeGfxContext) RegisterPipelines(pipelines ...pipeline.Pipeline) error {
	for _, p := range pipelines {
		f.registered = append(f.registered, p.PipelineKey())
	}
	return nil
}
func (f *fakeGfxContext) SetPipeline(string, pipeline.Pipeline) {}

func (f *fakeGfxContext) CreateTexture(uint32, uint32, wgpu.TextureFormat, wgpu.TextureUsage) (renderer.TextureHandle, error) {
	return 0, nil
}
func (f *fakeGfxContext) CreateRenderTarget(uint32, uint32, wgpu.TextureFormat) (renderer.TextureHandle, error) {
	return 0, nil
}
func (f *fakeGfxContext) ReleaseTexture(renderer.TextureHandle) {}

func (f *fakeGfxContext) UpdateColorAttachment(handle renderer.TextureHandle, pixels []byte, bytesPerRow uint32) error {
	f.uploadedPixels = pixels
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
func (f *fakeGfxContext) BindInputTexture(provider bind_group_provider.BindGroupProvider, bindingKey int, handle renderer.TextureHandle) error {
	f.boundTextures[bindingKey] = handle
	return nil
}
func (f *fakeGfxContext) WriteBuffers(writes []bind_group_provider.BufferWrite) {
	f.writtenBuffers = append(f.writtenBuffers, writes...)
}

func (f *fakeGfxContext) BeginComputeFrame() error { return nil }
func (f *fakeGfxContext) DispatchCompute(string, bind_group_provider.BindGroupProvider, [3]uint32) {
}
func (f *fakeGfxContext) EndComputeFrame() {}

func (f *fakeGfxContext) BeginRenderPass(target renderer.TextureHandle, clear bool) error {
	f.renderPassTarget = target
	return nil
}
func (f *fakeGfxContext) DrawFullScreenQuad(pipelineKey string, bindGroups []bind_group_provider.BindGroupProvider) error {
	f.drawnPipeline = pipelineKey
	return nil
}
func (f *fakeGfxContext) EndRenderPass() {}

func (f *fakeGfxContext) BlitToStagingBuffer(handle renderer.TextureHandle, byteSize uint64) (renderer.SyncHandle, error) {
	f.blitHandle = handle
	return 1, nil
}

func (f *fakeGfxContext) WaitClientSync(renderer.SyncHandle, time.Duration) ([]byte, error) {
	return f.syncBytes, f.syncErr
}

func (f *fakeGfxContext) RemoveSync(handle renderer.SyncHandle) {
	f.removed = append(f.removed, handle)
}

func (f *fakeGfxContext) Derive() (renderer.GfxContext, error) { return newFakeGfxContext(), nil }
func (f *fakeGfxContext) Release()                             {}
func (f *fakeGfxContext) SetDebug(bool)                        {}
func (f *fakeGfxContext) IsDebug() bool                        { return false }

var _ renderer.GfxContext = (*fakeGfxContext)(nil)
