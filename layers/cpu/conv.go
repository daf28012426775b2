// Package cpu implements the small set of layer types that run on the host CPU rather than the
// GPU pipeline: a plain 2D convolution and a channel-wise reduction, both intended for the very
// small tensors that occur at the very start or very end of a network, where the cost of a GPU
// round-trip outweighs any benefit from parallel execution.
package cpu

import (
	"encoding/binary"
	"math"

	"github.com/fyusenet/fyusenet-go/core/buffer"
	"github.com/fyusenet/fyusenet-go/core/errs"
	"github.com/fyusenet/fyusenet-go/core/layer"
	"github.com/fyusenet/fyusenet-go/core/param"
	"github.com/fyusenet/fyusenet-go/core/state"
)

// ConvLayer performs an unoptimized, spatially-local 2D convolution entirely on the CPU. It
// exists for the tensors at the very edges of a network that are too small to benefit from the
// GPU pipeline; it makes no attempt at vectorization or cache-friendly access patterns.
type ConvLayer struct {
	name   string
	number int
	flags  layer.Flags

	width, height                 int
	inputChannels, outputChannels int
	inputPadding, outputPadding   int
	downsampleX, downsampleY      int
	kernel                        int

	weights []float32
	bias    []float32
	bnScale []float32

	input  *buffer.CPUBuffer
	output *buffer.CPUBuffer
}

// NewConvLayer builds a ConvLayer from a compiled builder. It panics if the builder's device is
// not layer.DeviceCPU, since LayerFactory is responsible for routing builders to the right
// backend before construction.
func NewConvLayer(b *layer.LayerBuilder, number int) *ConvLayer {
	if b.Device() != layer.DeviceCPU {
		panic("cpu: ConvLayer requires a CPU-device builder")
	}
	return &ConvLayer{
		name:        b.Name(),
		number:      number,
		flags:       b.Flags(),
		kernel:      b.Conv.Kernel,
		downsampleX: 1,
		downsampleY: 1,
	}
}

// WithGeometry sets the layer's spatial extent, channel counts, and padding. It is separate from
// the constructor so callers (typically a backend's BuildLayer) can size the layer from the
// builder's shape fields without ConvLayer depending on LayerBuilder's private geometry layout.
func (c *ConvLayer) WithGeometry(width, height, inputChannels, outputChannels, inputPadding, outputPadding int) *ConvLayer {
	c.width, c.height = width, height
	c.inputChannels, c.outputChannels = inputChannels, outputChannels
	c.inputPadding, c.outputPadding = inputPadding, outputPadding
	return c
}

func (c *ConvLayer) Number() int        { return c.number }
func (c *ConvLayer) Name() string       { return c.name }
func (c *ConvLayer) Flags() layer.Flags { return c.flags }

func (c *ConvLayer) RequiredInputBuffers() []layer.BufferSpec {
	shape := buffer.New(c.height, c.width, c.inputChannels, c.inputPadding, buffer.Float32, buffer.Channelwise)
	return []layer.BufferSpec{layer.NewBufferSpec(0, layer.Source, shape)}
}

func (c *ConvLayer) RequiredOutputBuffers() []layer.BufferSpec {
	shape := buffer.New(c.height/c.downsampleY, c.width/c.downsampleX, c.outputChannels, c.outputPadding, buffer.Float32, buffer.Channelwise)
	return []layer.BufferSpec{layer.NewBufferSpec(0, layer.Dest, shape)}
}

func (c *ConvLayer) Setup() error {
	c.input = buffer.NewCPUBuffer(c.RequiredInputBuffers()[0].Shape)
	c.output = buffer.NewCPUBuffer(c.RequiredOutputBuffers()[0].Shape)
	return nil
}

// LoadParameters loads weights, bias, and (if flagged) batchnorm scale/shift, folding the
// batchnorm affine transform directly into the bias the same way the reference convolution does:
// a fused per-channel multiply-add is cheaper than a separate batchnorm pass over the output.
func (c *ConvLayer) LoadParameters(provider param.Provider) error {
	c.weights = make([]float32, c.kernel*c.kernel*c.inputChannels*c.outputChannels)
	if err := param.WithBlob(provider, param.Name(c.name, "weights"), c.number, 0, func(v any) error {
		copy(c.weights, v.([]float32))
		return nil
	}); err != nil {
		return err
	}

	c.bias = make([]float32, c.outputChannels)
	if err := param.WithBlob(provider, param.Name(c.name, "bias"), c.number, 1, func(v any) error {
		copy(c.bias, v.([]float32))
		return nil
	}); err != nil {
		return err
	}

	c.bnScale = make([]float32, c.outputChannels)
	if c.flags.Has(layer.PostBatchnorm) {
		if err := param.WithBlob(provider, param.Name(c.name, "bn"), c.number, 2, func(v any) error {
			src := v.([]float32)
			copy(c.bnScale, src[:c.outputChannels])
			for i := range c.bias {
				c.bias[i] = c.bias[i]*c.bnScale[i] + src[c.outputChannels+i]
			}
			return nil
		}); err != nil {
			return err
		}
	} else {
		for i := range c.bnScale {
			c.bnScale[i] = 1.0
		}
	}
	return nil
}

// Forward runs the convolution: fills the output with (batchnorm-folded) bias, applies an
// optional pre-ReLU to the input in place, convolves, and applies an optional post-ReLU.
func (c *ConvLayer) Forward(sequenceNo uint64, st state.Token) error {
	if c.input == nil || c.output == nil {
		return errs.New(errs.Protocol, "conv layer %q forwarded before Setup", c.name)
	}
	inBytes, err := c.input.Map()
	if err != nil {
		return errs.Wrap(errs.Protocol, err, "mapping conv layer %q input", c.name)
	}
	defer c.input.Unmap()
	outBytes, err := c.output.Map()
	if err != nil {
		return errs.Wrap(errs.Protocol, err, "mapping conv layer %q output", c.name)
	}
	defer c.output.Unmap()

	input := decodeFloat32(inBytes)
	output := make([]float32, len(outBytes)/4)

	outWidth := c.width/c.downsampleX + 2*c.outputPadding
	outHeight := c.height/c.downsampleY + 2*c.outputPadding
	c.fillBias(output, outWidth, outHeight)

	if c.flags.Has(layer.PreRelu) {
		reLUInPlace(input, c.inputChannels, c.width+2*c.inputPadding, c.height+2*c.inputPadding, c.inputPadding)
	}
	if c.inputPadding > 0 {
		c.paddedConv(input, output)
	} else {
		c.unpaddedConv(input, output)
	}
	if c.flags.Has(layer.PostRelu) {
		reLUInPlace(output, c.outputChannels, outWidth, outHeight, c.outputPadding)
	}

	encodeFloat32(outBytes, output)
	return nil
}

func (c *ConvLayer) Cleanup() {
	c.input = nil
	c.output = nil
}

func (c *ConvLayer) fillBias(output []float32, outWidth, outHeight int) {
	netWidth := outWidth - 2*c.outputPadding
	netHeight := outHeight - 2*c.outputPadding
	for ol := 0; ol < c.outputChannels; ol++ {
		plane := output[ol*outWidth*outHeight : (ol+1)*outWidth*outHeight]
		for y := c.outputPadding; y < netHeight+c.outputPadding; y++ {
			row := plane[y*outWidth : (y+1)*outWidth]
			for x := c.outputPadding; x < netWidth+c.outputPadding; x++ {
				row[x] = c.bias[ol]
			}
		}
	}
}

func (c *ConvLayer) unpaddedConv(input, output []float32) {
	inWidth := c.width + 2*c.inputPadding
	inHeight := c.height + 2*c.inputPadding
	outWidth := c.width/c.downsampleX + 2*c.outputPadding
	outHeight := c.height/c.downsampleY + 2*c.outputPadding
	shift := (c.kernel - 1) / 2
	fstride := c.kernel * c.kernel

	for ol := 0; ol < c.outputChannels; ol++ {
		outPlane := output[ol*outWidth*outHeight : (ol+1)*outWidth*outHeight]
		for il := 0; il < c.inputChannels; il++ {
			inPlane := input[il*inWidth*inHeight : (il+1)*inWidth*inHeight]
			wBase := ol*fstride*c.inputChannels + il
			for y := c.outputPadding; y < outHeight-c.outputPadding; y++ {
				yi := (y - c.outputPadding) * c.downsampleY
				for x := c.outputPadding; x < outWidth-c.outputPadding; x++ {
					xi := (x - c.outputPadding) * c.downsampleX
					var acc float32
					for fy := 0; fy < c.kernel; fy++ {
						cy := clamp(yi+fy-shift, 0, c.height-1)
						for fx := 0; fx < c.kernel; fx++ {
							cx := clamp(xi+fx-shift, 0, c.width-1)
							w := c.weights[wBase+fx*c.inputChannels+fy*c.inputChannels*c.kernel]
							acc += inPlane[cx+cy*inWidth] * w
						}
					}
					outPlane[x+y*outWidth] += acc * c.bnScale[ol]
				}
			}
		}
	}
}

func (c *ConvLayer) paddedConv(input, output []float32) {
	inWidth := c.width + 2*c.inputPadding
	outWidth := c.width/c.downsampleX + 2*c.outputPadding
	outHeight := c.height/c.downsampleY + 2*c.outputPadding
	shift := (c.kernel - 1) / 2
	fstride := c.kernel * c.kernel

	for ol := 0; ol < c.outputChannels; ol++ {
		outPlane := output[ol*outWidth*outHeight : (ol+1)*outWidth*outHeight]
		for il := 0; il < c.inputChannels; il++ {
			inBase := il*(inWidth*(c.height+2*c.inputPadding)) + c.inputPadding + c.inputPadding*inWidth
			inPlane := input[inBase:]
			wBase := ol*fstride*c.inputChannels + il
			for y := c.outputPadding; y < outHeight-c.outputPadding; y++ {
				yi := (y - c.outputPadding) * c.downsampleY
				for x := c.outputPadding; x < outWidth-c.outputPadding; x++ {
					xi := (x - c.outputPadding) * c.downsampleX
					var acc float32
					for fy := 0; fy < c.kernel; fy++ {
						for fx := 0; fx < c.kernel; fx++ {
							acc += inPlane[xi+fx-shift+(yi+fy-shift)*inWidth] * c.weights[wBase+fx*c.inputChannels+fy*c.inputChannels*c.kernel]
						}
					}
					outPlane[x+y*outWidth] += acc * c.bnScale[ol]
				}
			}
		}
	}
}

func reLUInPlace(data []float32, channels, width, height, padding int) {
	plane := width * height
	for ch := 0; ch < channels; ch++ {
		p := data[ch*plane : (ch+1)*plane]
		for y := padding; y < height-padding; y++ {
			for x := padding; x < width-padding; x++ {
				if v := p[x+y*width]; v < 0 {
					p[x+y*width] = 0
				}
			}
		}
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func decodeFloat32(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}

func encodeFloat32(dst []byte, src []float32) {
	for i, v := range src {
		binary.LittleEndian.PutUint32(dst[i*4:], math.Float32bits(v))
	}
}
