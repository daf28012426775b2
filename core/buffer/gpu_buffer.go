package buffer

import (
	"github.com/cogentcore/webgpu/wgpu"

	"github.com/fyusenet/fyusenet-go/core/errs"
	"github.com/fyusenet/fyusenet-go/engine/renderer"
)

// GPUTextureFormat is the texture format every GPUBuffer-backed render target uses.
// RGBA16Float satisfies the minimum texture precision every storage order a GPUBuffer can
// describe requires.
const GPUTextureFormat = wgpu.TextureFormatRGBA16Float

// TexturePool supplies reusable render-target textures to a GPUBuffer instead of having it
// create a fresh one on every allocation. A nil pool is valid and means "always allocate
// fresh through the graphics context".
type TexturePool interface {
	Acquire(width, height uint32) (renderer.TextureHandle, error)
	Release(renderer.TextureHandle)
}

// GPUBuffer is the GPU-side counterpart to CPUBuffer: instead of owning a host memory block,
// it holds one texture handle per channel-group slice of its shape, whether allocated by the
// buffer itself or installed via PushSlice. A GPUShallow shape with C channels holds ceil(C/PixelPacking) slices; every other
// order holds exactly one.
type GPUBuffer struct {
	shape  Shape
	ctx    renderer.GfxContext
	pool   TexturePool
	slices []renderer.TextureHandle
}

// NewGPUBuffer allocates a GPUBuffer backing shape, drawing slices from pool when one is
// given and creating fresh render targets through ctx otherwise.
func NewGPUBuffer(shape Shape, ctx renderer.GfxContext, pool TexturePool) (*GPUBuffer, error) {
	if ctx == nil {
		return nil, errs.New(errs.Configuration, "gpu buffer requires a graphics context")
	}
	count := 1
	if shape.Order() == GPUShallow {
		count = (shape.Channels() + PixelPacking - 1) / PixelPacking
	}
	b := &GPUBuffer{shape: shape, ctx: ctx, pool: pool, slices: make([]renderer.TextureHandle, 0, count)}
	for i := 0; i < count; i++ {
		h, err := b.acquire()
		if err != nil {
			b.Release()
			return nil, errs.Wrap(errs.Resource, err, "allocating gpu buffer slice %d", i)
		}
		b.slices = append(b.slices, h)
	}
	return b, nil
}

// NewSequenceGPUBuffer allocates a GPUBuffer for a GPU_SEQUENCE-ordered shape: a single
// texture slice sized to the sequence's capacity and embedding width, used by attention and
// embedding layers.
func NewSequenceGPUBuffer(shape Shape, ctx renderer.GfxContext, pool TexturePool) (*GPUBuffer, error) {
	if shape.Order() != GPUSequence {
		return nil, errs.New(errs.Configuration, "NewSequenceGPUBuffer requires a GPU_SEQUENCE shape, got %s", shape.Order())
	}
	return NewGPUBuffer(shape, ctx, pool)
}

func (b *GPUBuffer) acquire() (renderer.TextureHandle, error) {
	if b.pool != nil {
		return b.pool.Acquire(uint32(b.shape.Width()), uint32(b.shape.Height()))
	}
	return b.ctx.CreateRenderTarget(uint32(b.shape.Width()), uint32(b.shape.Height()), GPUTextureFormat)
}

// Shape returns the shape this buffer backs.
func (b *GPUBuffer) Shape() Shape { return b.shape }

// SliceCount returns the number of channel-group texture slices this buffer holds.
func (b *GPUBuffer) SliceCount() int { return len(b.slices) }

// Slice returns the i-th channel-group texture handle.
func (b *GPUBuffer) Slice(i int) (renderer.TextureHandle, error) {
	if i < 0 || i >= len(b.slices) {
		return 0, errs.New(errs.Configuration, "gpu buffer slice index %d out of range (have %d)", i, len(b.slices))
	}
	return b.slices[i], nil
}

// PushSlice installs an externally created texture handle as the buffer's next slice, for
// callers (such as an upload layer binding a texture the buffer manager never allocated) that
// need to hand a buffer a handle they created themselves.
func (b *GPUBuffer) PushSlice(h renderer.TextureHandle) {
	b.slices = append(b.slices, h)
}

// Release frees every slice this buffer holds, including handles installed via PushSlice,
// returning slices to the pool instead of destroying them outright when a pool is set.
func (b *GPUBuffer) Release() {
	for _, h := range b.slices {
		if b.pool != nil {
			b.pool.Release(h)
		} else {
			b.ctx.ReleaseTexture(h)
		}
	}
	b.slices = nil
}
