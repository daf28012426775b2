// Package buffermanager resolves the texture routing between compiled layers: it allocates one
// or more textures per declared output port and installs the producing layer's textures onto
// each consuming layer's matching input port.
package buffermanager

import (
	"github.com/fyusenet/fyusenet-go/core/buffer"
	"github.com/fyusenet/fyusenet-go/core/errs"
	"github.com/fyusenet/fyusenet-go/core/layer"
	"github.com/fyusenet/fyusenet-go/engine/renderer"
)

type outputKey struct {
	layerNo int
	port    int
}

// Manager walks a set of compiled layers, allocates a GPUBuffer for every declared output
// port, and wires declared producer/consumer connections by installing the producer's texture
// slices onto the consumer's input ports. Each allocated texture carries one reference, held
// by the producing layer's output port, and is freed when that producer is released;
// connections installed by Connect do not add references.
type Manager struct {
	ctx      renderer.GfxContext
	pool     buffer.TexturePool
	outputs  map[outputKey]*buffer.GPUBuffer
	refcount map[renderer.TextureHandle]int
}

// New builds a Manager allocating textures through ctx. pool, if non-nil, is consulted before
// ctx for every texture slice a GPUBuffer allocates.
func New(ctx renderer.GfxContext, pool ...buffer.TexturePool) *Manager {
	if ctx == nil {
		panic("buffermanager: ctx must not be nil")
	}
	m := &Manager{
		ctx:      ctx,
		outputs:  make(map[outputKey]*buffer.GPUBuffer),
		refcount: make(map[renderer.TextureHandle]int),
	}
	if len(pool) > 0 {
		m.pool = pool[0]
	}
	return m
}

// AllocateOutputs allocates the GPUBuffer backing every output port of every layer in layers:
// one texture slice for GPUDeep/GPUSequence-ordered ports, ceil(channels/PixelPacking) slices
// for GPUShallow-ordered ports.
func (m *Manager) AllocateOutputs(layers []layer.Layer) error {
	for _, l := range layers {
		for _, spec := range l.RequiredOutputBuffers() {
			gpuBuf, err := buffer.NewGPUBuffer(spec.Shape, m.ctx, m.pool)
			if err != nil {
				return errs.Wrap(errs.Resource, err, "allocating output port %d of layer %q", spec.Port, l.Name())
			}
			key := outputKey{layerNo: l.Number(), port: spec.Port}
			m.outputs[key] = gpuBuf
			for i := 0; i < gpuBuf.SliceCount(); i++ {
				h, _ := gpuBuf.Slice(i)
				m.refcount[h]++
			}
		}
	}
	return nil
}

// Connect installs the producer layer's output-port textures onto the consumer layer's matching
// input port. If residual is true the textures are installed as the consumer's residual input
// instead of a regular input.
func (m *Manager) Connect(producer, consumer layer.Layer, producerPort, consumerPort int, residual bool) error {
	gpuConsumer, ok := consumer.(layer.GPULayer)
	if !ok {
		return errs.New(errs.Configuration, "layer %q is not a GPU layer and cannot receive texture connections", consumer.Name())
	}
	gpuBuf, ok := m.outputs[outputKey{layerNo: producer.Number(), port: producerPort}]
	if !ok {
		return errs.New(errs.Configuration, "layer %q has no allocated output at port %d", producer.Name(), producerPort)
	}
	for group := 0; group < gpuBuf.SliceCount(); group++ {
		h, _ := gpuBuf.Slice(group)
		if residual {
			gpuConsumer.AddResidualTexture(h, group)
		} else {
			gpuConsumer.AddInputTexture(h, group)
		}
	}
	return nil
}

// Release decrements the refcount on every texture this layer's output ports hold and frees any
// texture that reaches zero remaining references. Consumers that received the texture through
// Connect are not counted, so a producer's textures are freed here even if a consumer has not
// been released yet. Call once per layer during engine teardown.
func (m *Manager) Release(l layer.Layer) {
	for _, spec := range l.RequiredOutputBuffers() {
		key := outputKey{layerNo: l.Number(), port: spec.Port}
		gpuBuf, ok := m.outputs[key]
		if !ok {
			continue
		}
		for i := 0; i < gpuBuf.SliceCount(); i++ {
			h, _ := gpuBuf.Slice(i)
			m.refcount[h]--
			if m.refcount[h] <= 0 {
				m.ctx.ReleaseTexture(h)
				delete(m.refcount, h)
			}
		}
		delete(m.outputs, key)
	}
}
