package gpu

import (
	"github.com/fyusenet/fyusenet-go/core/errs"
	"github.com/fyusenet/fyusenet-go/core/layer"
	"github.com/fyusenet/fyusenet-go/core/param"
	"github.com/fyusenet/fyusenet-go/core/state"
	"github.com/fyusenet/fyusenet-go/engine/renderer"
)

// ForwardFunc is the user-supplied compute step a CustomLayer delegates Forward to. It receives
// the graphics context and the layer's bound input/output texture handles directly, with no
// buffer-manager or pipeline scaffolding of its own — callers that need a pipeline build and
// register it themselves against ctx before Forward is first invoked, typically from a
// ParamLoader or an explicit Setup hook supplied alongside it.
type ForwardFunc func(ctx renderer.GfxContext, inputs map[int]renderer.TextureHandle, outputs map[int]renderer.TextureHandle) error

// ParamLoader is the user-supplied parameter-loading step a CustomLayer delegates
// LoadParameters to.
type ParamLoader func(provider param.Provider) error

// CustomLayer is the escape hatch for network graphs that need a layer type this package
// doesn't otherwise provide: a user-registered network can declare a Custom layer and supply its
// own required buffer shapes, setup, parameter loading, and forward pass, while still
// participating in the standard texture-binding lifecycle every other GPU layer does.
type CustomLayer struct {
	base

	requiredInputs  []layer.BufferSpec
	requiredOutputs []layer.BufferSpec

	setupFn   func(ctx renderer.GfxContext) error
	loadFn    ParamLoader
	forwardFn ForwardFunc
	cleanupFn func()
}

// NewCustomLayer builds a CustomLayer from a compiled builder and the user-supplied hooks that
// give it behavior. forward is required; the rest may be nil.
func NewCustomLayer(b *layer.LayerBuilder, number int, ctx renderer.GfxContext, forward ForwardFunc) *CustomLayer {
	return &CustomLayer{
		base:      newBase(b.Name(), number, b.Flags(), ctx),
		forwardFn: forward,
	}
}

// WithBuffers declares the input and output buffer shapes this custom layer requires.
func (c *CustomLayer) WithBuffers(inputs, outputs []layer.BufferSpec) *CustomLayer {
	c.requiredInputs, c.requiredOutputs = inputs, outputs
	return c
}

// WithSetup registers the hook invoked once from Setup, typically to register a pipeline or
// allocate a bind group provider against the graphics context.
func (c *CustomLayer) WithSetup(fn func(ctx renderer.GfxContext) error) *CustomLayer {
	c.setupFn = fn
	return c
}

// WithParamLoader registers the hook invoked from LoadParameters.
func (c *CustomLayer) WithParamLoader(fn ParamLoader) *CustomLayer {
	c.loadFn = fn
	return c
}

// WithCleanup registers the hook invoked from Cleanup, typically to release a bind group
// provider allocated in WithSetup.
func (c *CustomLayer) WithCleanup(fn func()) *CustomLayer {
	c.cleanupFn = fn
	return c
}

func (c *CustomLayer) RequiredInputBuffers() []layer.BufferSpec  { return c.requiredInputs }
func (c *CustomLayer) RequiredOutputBuffers() []layer.BufferSpec { return c.requiredOutputs }

func (c *CustomLayer) Setup() error {
	if c.setupFn == nil {
		return nil
	}
	if err := c.setupFn(c.ctx); err != nil {
		return errs.Wrap(errs.Resource, err, "setting up custom layer %q", c.name)
	}
	return nil
}

func (c *CustomLayer) LoadParameters(provider param.Provider) error {
	if c.loadFn == nil {
		return nil
	}
	return c.loadFn(provider)
}

// Forward flattens this layer's output texture handles to one shadow index 0 entry per channel
// group before delegating to forwardFn, the common case every layer type but a multi-shadow
// one uses.
func (c *CustomLayer) Forward(sequenceNo uint64, st state.Token) error {
	c.lockForward()
	defer c.unlockForward()

	if c.forwardFn == nil {
		return errs.New(errs.Protocol, "custom layer %q has no forward function registered", c.name)
	}
	outputs := make(map[int]renderer.TextureHandle, len(c.outputs))
	for port := range c.outputs {
		if handle, ok := c.outputTexture(port); ok {
			outputs[port] = handle
		}
	}
	return c.forwardFn(c.ctx, c.inputs, outputs)
}

func (c *CustomLayer) Cleanup() {
	if c.cleanupFn != nil {
		c.cleanupFn()
	}
}

var _ layer.GPULayer = (*CustomLayer)(nil)
