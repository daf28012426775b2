package layer

import (
	"github.com/fyusenet/fyusenet-go/core/param"
	"github.com/fyusenet/fyusenet-go/core/state"
	"github.com/fyusenet/fyusenet-go/engine/renderer"
)

// Layer is the capability set every compiled layer exposes, regardless of whether it runs on
// the CPU or the GPU: describe its I/O requirements, allocate its resources, run one forward
// step, load its parameters, and release what it owns.
type Layer interface {
	// Number returns this layer's declared sequence number, used for ordering and as the
	// parameter-lookup key.
	Number() int
	// Name returns this layer's declared name, used as the parameter-name prefix.
	Name() string
	// Flags returns the cross-cutting modifier bits configured for this layer.
	Flags() Flags

	// RequiredInputBuffers returns one BufferSpec per input port/channel-group this layer
	// needs, including residual ports.
	RequiredInputBuffers() []BufferSpec
	// RequiredOutputBuffers returns one BufferSpec per output port/channel-group this layer
	// produces.
	RequiredOutputBuffers() []BufferSpec

	// Setup compiles shaders/pipelines, allocates render targets for outputs, and marks the
	// layer ready to accept Forward calls.
	Setup() error
	// Forward executes one pass. The caller has already checked state.Masked(Number()) and
	// guarantees inputs are populated before calling.
	Forward(sequenceNo uint64, st state.Token) error
	// LoadParameters fetches this layer's named weights from provider and populates its GPU or
	// CPU resources.
	LoadParameters(provider param.Provider) error
	// Cleanup releases every buffer, texture, and pipeline this layer owns.
	Cleanup()
}

// GPULayer extends Layer with the texture-handle I/O binding a GPU-resident layer exposes to
// the buffer manager. Updating any output invalidates the layer's render-target set; the next
// Forward call resolves it before rendering.
type GPULayer interface {
	Layer

	// AddInputTexture binds handle as the texture for the given input channel group.
	AddInputTexture(handle renderer.TextureHandle, channelGroup int)
	// UpdateInputTexture replaces the texture bound to the given input channel group.
	UpdateInputTexture(handle renderer.TextureHandle, channelGroup int)
	// AddOutputTexture binds handle as the texture for the given output channel group,
	// optionally tagged with a shadow-pass index for layers that render to more than one
	// target per channel group.
	AddOutputTexture(handle renderer.TextureHandle, channelGroup, shadowIndex int)
	// AddResidualTexture binds handle as the residual input for the given channel group.
	// Only meaningful when Flags().Has(ResidualInput).
	AddResidualTexture(handle renderer.TextureHandle, channelGroup int)
	// ClearInputTextures removes every bound input texture.
	ClearInputTextures()
	// ClearOutputTextures removes every bound output texture.
	ClearOutputTextures()
	// ClearResidualTextures removes every bound residual texture.
	ClearResidualTextures()
}
