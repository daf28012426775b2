package cpu

import (
	"math"

	"github.com/fyusenet/fyusenet-go/core/buffer"
	"github.com/fyusenet/fyusenet-go/core/errs"
	"github.com/fyusenet/fyusenet-go/core/layer"
	"github.com/fyusenet/fyusenet-go/core/param"
	"github.com/fyusenet/fyusenet-go/core/state"
)

// Norm selects the reduction ReduceLayer applies across a tensor's channels.
type Norm int

const (
	// NormL1 reduces channels via their L1 (sum of absolute values) norm.
	NormL1 Norm = iota
	// NormL2 reduces channels via their L2 (Euclidean) norm.
	NormL2
)

// ReduceLayer collapses a multi-channel tensor to a single channel by computing the L1 or L2
// norm across channels at every spatial position, leaving the spatial domain untouched. It is
// meant for the trailing end of a network, once the bulk of the processing has already happened
// on the GPU and the remaining tensor is small.
type ReduceLayer struct {
	name   string
	number int
	flags  layer.Flags
	norm   Norm

	width, height int
	channels      int

	input  *buffer.CPUBuffer
	output *buffer.CPUBuffer
}

// NewReduceLayer builds a ReduceLayer from a compiled builder and explicit norm selection.
func NewReduceLayer(b *layer.LayerBuilder, number int, norm Norm) *ReduceLayer {
	if b.Device() != layer.DeviceCPU {
		panic("cpu: ReduceLayer requires a CPU-device builder")
	}
	return &ReduceLayer{name: b.Name(), number: number, flags: b.Flags(), norm: norm}
}

// WithGeometry sets the layer's spatial extent and input channel count; the output always has a
// single channel.
func (r *ReduceLayer) WithGeometry(width, height, channels int) *ReduceLayer {
	r.width, r.height, r.channels = width, height, channels
	return r
}

func (r *ReduceLayer) Number() int        { return r.number }
func (r *ReduceLayer) Name() string       { return r.name }
func (r *ReduceLayer) Flags() layer.Flags { return r.flags }

func (r *ReduceLayer) RequiredInputBuffers() []layer.BufferSpec {
	shape := buffer.New(r.height, r.width, r.channels, 0, buffer.Float32, buffer.Channelwise)
	return []layer.BufferSpec{layer.NewBufferSpec(0, layer.Source, shape)}
}

func (r *ReduceLayer) RequiredOutputBuffers() []layer.BufferSpec {
	shape := buffer.New(r.height, r.width, 1, 0, buffer.Float32, buffer.Channelwise)
	return []layer.BufferSpec{layer.NewBufferSpec(0, layer.Dest, shape)}
}

func (r *ReduceLayer) Setup() error {
	r.input = buffer.NewCPUBuffer(r.RequiredInputBuffers()[0].Shape)
	r.output = buffer.NewCPUBuffer(r.RequiredOutputBuffers()[0].Shape)
	return nil
}

// LoadParameters is a no-op: reduction has no learned parameters.
func (r *ReduceLayer) LoadParameters(param.Provider) error { return nil }

func (r *ReduceLayer) Forward(sequenceNo uint64, st state.Token) error {
	if r.input == nil || r.output == nil {
		return errs.New(errs.Protocol, "reduce layer %q forwarded before Setup", r.name)
	}
	inBytes, err := r.input.Map()
	if err != nil {
		return errs.Wrap(errs.Protocol, err, "mapping reduce layer %q input", r.name)
	}
	defer r.input.Unmap()
	outBytes, err := r.output.Map()
	if err != nil {
		return errs.Wrap(errs.Protocol, err, "mapping reduce layer %q output", r.name)
	}
	defer r.output.Unmap()

	input := decodeFloat32(inBytes)
	output := make([]float32, len(outBytes)/4)
	switch r.norm {
	case NormL1:
		r.reduceL1(input, output)
	case NormL2:
		r.reduceL2(input, output)
	}
	encodeFloat32(outBytes, output)
	return nil
}

func (r *ReduceLayer) Cleanup() {
	r.input = nil
	r.output = nil
}

func (r *ReduceLayer) reduceL1(input, output []float32) {
	plane := r.width * r.height
	for p := 0; p < plane; p++ {
		var acc float32
		for ch := 0; ch < r.channels; ch++ {
			v := input[ch*plane+p]
			if v < 0 {
				v = -v
			}
			acc += v
		}
		output[p] = acc
	}
}

func (r *ReduceLayer) reduceL2(input, output []float32) {
	plane := r.width * r.height
	for p := 0; p < plane; p++ {
		var acc float32
		for ch := 0; ch < r.channels; ch++ {
			v := input[ch*plane+p]
			acc += v * v
		}
		output[p] = float32(math.Sqrt(float64(acc)))
	}
}
