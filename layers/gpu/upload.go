package gpu

import (
	"github.com/cogentcore/webgpu/wgpu"

	"github.com/fyusenet/fyusenet-go/core/buffer"
	"github.com/fyusenet/fyusenet-go/core/errs"
	"github.com/fyusenet/fyusenet-go/core/layer"
	"github.com/fyusenet/fyusenet-go/core/param"
	"github.com/fyusenet/fyusenet-go/core/state"
	"github.com/fyusenet/fyusenet-go/engine/renderer"
)

const textureFormat = wgpu.TextureFormatRGBA16Float

// UploadLayer pushes a host-resident CPUBuffer onto the GPU as the network's first layer's
// input texture. It owns no pipeline of its own — the upload is a plain texture write, not a
// shader pass.
type UploadLayer struct {
	base

	width, height, channels int

	source *buffer.CPUBuffer
}

// NewUploadLayer builds an UploadLayer from a compiled builder.
func NewUploadLayer(b *layer.LayerBuilder, number int, ctx renderer.GfxContext) *UploadLayer {
	return &UploadLayer{base: newBase(b.Name(), number, b.Flags(), ctx)}
}

// WithGeometry sets the layer's output spatial extent and channel count.
func (u *UploadLayer) WithGeometry(width, height, channels int) *UploadLayer {
	u.width, u.height, u.channels = width, height, channels
	return u
}

// SetSource assigns the host buffer this layer uploads on every Forward call. Callers update it
// between inference steps to feed new input data.
func (u *UploadLayer) SetSource(src *buffer.CPUBuffer) { u.source = src }

func (u *UploadLayer) RequiredInputBuffers() []layer.BufferSpec { return nil }

func (u *UploadLayer) RequiredOutputBuffers() []layer.BufferSpec {
	shape := buffer.New(u.height, u.width, u.channels, 0, buffer.Float16, buffer.GPUDeep)
	return []layer.BufferSpec{layer.NewBufferSpec(0, layer.Dest, shape)}
}

func (u *UploadLayer) Setup() error { return nil }

func (u *UploadLayer) LoadParameters(param.Provider) error { return nil }

// Forward uploads the current source buffer's bytes into the output texture installed by the
// buffer manager with a single UpdateColorAttachment call.
func (u *UploadLayer) Forward(sequenceNo uint64, st state.Token) error {
	u.lockForward()
	defer u.unlockForward()

	if u.source == nil {
		return errs.New(errs.Protocol, "upload layer %q has no source buffer set", u.name)
	}
	handle, ok := u.outputTexture(0)
	if !ok {
		return errs.New(errs.Protocol, "upload layer %q has no output texture bound", u.name)
	}
	data, err := u.source.Map()
	if err != nil {
		return errs.Wrap(errs.Protocol, err, "mapping upload layer %q source", u.name)
	}
	defer u.source.Unmap()
	bytesPerRow := uint32(u.width) * 8 // RGBA16Float: 4 channels * 2 bytes
	if err := u.ctx.UpdateColorAttachment(handle, data, bytesPerRow); err != nil {
		return errs.Wrap(errs.Resource, err, "uploading layer %q texture", u.name)
	}
	return nil
}

func (u *UploadLayer) Cleanup() { u.source = nil }

var _ layer.GPULayer = (*UploadLayer)(nil)
