package tiling

import "github.com/fyusenet/fyusenet-go/core/layer"

// DeepTiler computes the tile layout for a GPU-deep tensor: the texture-space tile grid a
// tensor with more than PixelPacking channels is packed into, and the device/texture coordinate
// quads needed to render each output tile or sample each input tile. Every deep-channel layer
// (convolution, pooling, normalization, deep2shallow/shallow2deep conversion) builds one of
// these during Setup and keeps it for the lifetime of the layer.
type DeepTiler struct {
	width, height                 int
	inputPadding, outputPadding   int
	outputWidth, outputHeight     int
	inputChannels, outputChannels int
	inputTiles, outputTiles       int
	inputTiling                   [2]int
	outputTiling                  [2]int
	kernel                        int
	viewport                      [2]int
	inputSize                     [2]int
	downsample                    [2]int
	upsample                      [2]int
	globalPooling                 bool
	layerType                     layer.Type
}

// Option configures optional DeepTiler construction parameters that default to a neutral value
// (no scaling, no padding, unit sampling rate) when omitted.
type Option func(*DeepTiler)

// WithScale sets the horizontal/vertical scale factor applied to width/height to derive the
// output tile's spatial extent, used by scaling and transpose-convolution layers.
func WithScale(horizontal, vertical float32) Option {
	return func(t *DeepTiler) {
		t.outputWidth = int(float32(t.width) * horizontal)
		t.outputHeight = int(float32(t.height) * vertical)
	}
}

// WithPadding sets the symmetric spatial padding applied to the input and output tensors.
func WithPadding(input, output int) Option {
	return func(t *DeepTiler) {
		t.inputPadding = input
		t.outputPadding = output
	}
}

// WithDownsample sets the horizontal/vertical downsampling factor of a strided convolution or
// pooling layer, which offsets the input tile's sampling center by half a downsample step.
func WithDownsample(horizontal, vertical int) Option {
	return func(t *DeepTiler) {
		t.downsample[0] = horizontal
		t.downsample[1] = vertical
	}
}

// WithUpsample sets the horizontal/vertical upsampling factor of a transpose-convolution layer.
func WithUpsample(horizontal, vertical int) Option {
	return func(t *DeepTiler) {
		t.upsample[0] = horizontal
		t.upsample[1] = vertical
	}
}

// WithKernel sets the isotropic convolution kernel size, used by transpose convolution to widen
// the output tile beyond the plain scaled input size.
func WithKernel(kernel int) Option {
	return func(t *DeepTiler) { t.kernel = kernel }
}

// New builds a DeepTiler for a tensor with the given per-tile spatial geometry and channel
// counts, computing the tile grid, viewport, and input texture size up front. ltype must not be
// layer.Illegal.
func New(ltype layer.Type, width, height, inputChannels, outputChannels int, opts ...Option) *DeepTiler {
	if ltype == layer.Illegal {
		panic("tiling: layer type must not be illegal")
	}
	t := &DeepTiler{
		width:          width,
		height:         height,
		inputChannels:  inputChannels,
		outputChannels: outputChannels,
		outputWidth:    width,
		outputHeight:   height,
		kernel:         1,
		downsample:     [2]int{1, 1},
		upsample:       [2]int{1, 1},
		layerType:      ltype,
	}
	for _, opt := range opts {
		opt(t)
	}
	if ltype == layer.TransConvolution2D {
		t.outputWidth += t.kernel - t.upsample[0]
		t.outputHeight += t.kernel - t.upsample[1]
	}

	t.inputTiles = (inputChannels + PixelPacking - 1) / PixelPacking
	t.outputTiles = (outputChannels + PixelPacking - 1) / PixelPacking

	inCols, inRows := computeDeepTiling(inputChannels)
	t.inputTiling = [2]int{inCols, inRows}
	outCols, outRows := computeDeepTiling(outputChannels)
	t.outputTiling = [2]int{outCols, outRows}

	t.viewport[0] = outCols*(t.outputWidth+t.outputPadding) + t.outputPadding
	t.viewport[1] = outRows*(t.outputHeight+t.outputPadding) + t.outputPadding
	t.inputSize[0] = inCols*(width+t.inputPadding) + t.inputPadding
	t.inputSize[1] = inRows*(height+t.inputPadding) + t.inputPadding
	return t
}

// PixelPacking is the number of channels packed into a single tile, mirrored here from
// core/buffer so tiling does not need to import the buffer package just for one constant.
const PixelPacking = 4

// computeDeepTiling returns the (columns, rows) tile grid for a tensor with the given channel
// count, chosen as close to square as possible to minimize the longest texture edge.
func computeDeepTiling(channels int) (int, int) {
	groups := (channels + PixelPacking - 1) / PixelPacking
	if groups < 1 {
		groups = 1
	}
	cols := 1
	for cols*cols < groups {
		cols++
	}
	rows := (groups + cols - 1) / cols
	return cols, rows
}

// CreateOutputTiles computes the device-coordinate quad for every output tile, in row-major
// tile order. Each tile's quad spans the fraction of the viewport its tile occupies, expressed
// in the [-1, 1] device coordinate range a render pass draws into.
func (t *DeepTiler) CreateOutputTiles() []Tile {
	result := make([]Tile, 0, t.outputTiles)
	tileWidth := float32(t.outputWidth)
	tileHeight := float32(t.outputHeight)
	xExtent := (2 * tileWidth) / float32(t.viewport[0])
	yExtent := (2 * tileHeight) / float32(t.viewport[1])

	tileNum := 0
	for y := 0; y < t.outputTiling[1]; y++ {
		by := (2*(float32(y)*(tileHeight+float32(t.outputPadding))+float32(t.outputPadding)))/float32(t.viewport[1]) - 1
		for x := 0; x < t.outputTiling[0]; x++ {
			bx := (2*(float32(x)*(tileWidth+float32(t.outputPadding))+float32(t.outputPadding)))/float32(t.viewport[0]) - 1
			tile := Tile{
				Quad: [4][2]float32{
					{bx, by},
					{bx, by + yExtent},
					{bx + xExtent, by + yExtent},
					{bx + xExtent, by},
				},
				ImageCoords:  [2]int{x*(t.outputWidth+t.outputPadding) + t.outputPadding, y*(t.outputHeight+t.outputPadding) + t.outputPadding},
				ImageExtents: [2]int{t.outputWidth, t.outputHeight},
				Channels:     PixelPacking,
			}
			result = append(result, tile)
			tileNum++
			if tileNum >= t.outputTiles {
				return result
			}
		}
	}
	return result
}

// CreateInputTiles computes the texture-coordinate quad for every input tile, in row-major tile
// order, offset by xPixelOffset/yPixelOffset (a convolution's per-output-pixel sampling shift)
// and tagged with texID. The last tile's Channels is clamped to the remaining channel count when
// the channel total isn't a multiple of PixelPacking.
func (t *DeepTiler) CreateInputTiles(xPixelOffset, yPixelOffset, texID int) []Tile {
	result := make([]Tile, 0, t.inputTiles)
	tileWidth := float32(t.width)
	tileHeight := float32(t.height)
	xExtent := tileWidth / float32(t.inputSize[0])
	yExtent := tileHeight / float32(t.inputSize[1])
	dx, dy := t.samplingOffset()

	tileNum := 0
	remChannels := t.inputChannels
	for y := 0; y < t.inputTiling[1]; y++ {
		by := (float32(y)*(tileHeight+float32(t.inputPadding))+float32(t.inputPadding+yPixelOffset)-dy)/float32(t.inputSize[1])
		for x := 0; x < t.inputTiling[0]; x++ {
			bx := (float32(x)*(tileWidth+float32(t.inputPadding))+float32(t.inputPadding+xPixelOffset)-dx)/float32(t.inputSize[0])
			channels := PixelPacking
			if remChannels < PixelPacking {
				channels = remChannels
			}
			tile := Tile{
				TextureID: texID,
				Quad: [4][2]float32{
					{bx, by},
					{bx, by + yExtent},
					{bx + xExtent, by + yExtent},
					{bx + xExtent, by},
				},
				ImageCoords:  [2]int{x*(t.width+t.inputPadding) + t.inputPadding, y*(t.height+t.inputPadding) + t.inputPadding},
				ImageExtents: [2]int{t.width, t.height},
				LowClamp:     [2]float32{bx, by},
				HiClamp:      [2]float32{bx + xExtent, by + yExtent},
				Channels:     channels,
			}
			result = append(result, tile)
			tileNum++
			remChannels -= PixelPacking
			if tileNum >= t.inputTiles {
				return result
			}
		}
	}
	return result
}

// samplingOffset returns the half-pixel sampling center shift a strided convolution or pooling
// layer applies to its input tile, suppressed for global pooling since a global pool samples
// the entire tile rather than a sliding window.
func (t *DeepTiler) samplingOffset() (float32, float32) {
	if t.globalPooling {
		return 0, 0
	}
	return 0.5 * float32(t.downsample[0]-1), 0.5 * float32(t.downsample[1]-1)
}

// GetDefaultTextureExtents returns the texture-coordinate quad a single input tile occupies
// with no per-tile pixel offset applied, used as the baseline a per-tile ToDisplacement call
// measures against.
func (t *DeepTiler) GetDefaultTextureExtents() Tile {
	tileWidth := float32(t.width)
	tileHeight := float32(t.height)
	xExtent := tileWidth / float32(t.inputSize[0])
	yExtent := tileHeight / float32(t.inputSize[1])
	dx, dy := t.samplingOffset()
	bx := (float32(t.inputPadding) - dx) / float32(t.inputSize[0])
	by := (float32(t.inputPadding) - dy) / float32(t.inputSize[1])
	return Tile{
		Quad: [4][2]float32{
			{bx, by},
			{bx, by + yExtent},
			{bx + xExtent, by + yExtent},
			{bx + xExtent, by},
		},
		LowClamp: [2]float32{bx, by},
		HiClamp:  [2]float32{bx + xExtent, by + yExtent},
	}
}

// GetUnitTextureExtents returns a tile covering the full [0, 1] texture coordinate range,
// for layers (e.g. upload) that sample an entire, untiled source texture.
func GetUnitTextureExtents() Tile {
	return Tile{
		Quad: [4][2]float32{
			{0, 0},
			{0, 1},
			{1, 1},
			{1, 0},
		},
		LowClamp: [2]float32{0, 0},
		HiClamp:  [2]float32{1, 1},
	}
}

// GetTextureStepX returns the normalized texture-coordinate spacing between two horizontally
// adjacent input texels, for shaders that step across neighboring texels (e.g. convolution).
func (t *DeepTiler) GetTextureStepX() float32 { return 1 / float32(t.inputSize[0]) }

// GetTextureStepY returns the normalized texture-coordinate spacing between two vertically
// adjacent input texels.
func (t *DeepTiler) GetTextureStepY() float32 { return 1 / float32(t.inputSize[1]) }

// GetViewportWidth returns the full output render-target width across all output tiles.
func (t *DeepTiler) GetViewportWidth() int { return t.viewport[0] }

// GetViewportHeight returns the full output render-target height across all output tiles.
func (t *DeepTiler) GetViewportHeight() int { return t.viewport[1] }

// GetInputTextureWidth returns the full width of the texture the input tiling was computed
// against, including padding — not the spatial width of the tensor itself.
func (t *DeepTiler) GetInputTextureWidth() int { return t.inputSize[0] }

// GetInputTextureHeight returns the full height of the texture the input tiling was computed
// against, including padding.
func (t *DeepTiler) GetInputTextureHeight() int { return t.inputSize[1] }

// GetOutputWidth returns the net (unpadded) spatial width of a single output tile.
func (t *DeepTiler) GetOutputWidth() int { return t.outputWidth }

// GetOutputHeight returns the net (unpadded) spatial height of a single output tile.
func (t *DeepTiler) GetOutputHeight() int { return t.outputHeight }

// GetInputChannels returns the total number of input tensor channels.
func (t *DeepTiler) GetInputChannels() int { return t.inputChannels }

// GetOutputChannels returns the total number of output tensor channels.
func (t *DeepTiler) GetOutputChannels() int { return t.outputChannels }

// GetInputWidth returns the net (unpadded) spatial width of a single input tile.
func (t *DeepTiler) GetInputWidth() int { return t.width }

// GetInputHeight returns the net (unpadded) spatial height of a single input tile.
func (t *DeepTiler) GetInputHeight() int { return t.height }

// NumInputTiles returns the number of input tiles according to mode: the tile column count for
// Horizontal, the tile row count for Vertical, or the total tile count for All.
func (t *DeepTiler) NumInputTiles(mode QueryMode) int {
	switch mode {
	case Horizontal:
		return t.inputTiling[0]
	case Vertical:
		return t.inputTiling[1]
	default:
		return t.inputTiles
	}
}

// NumOutputTiles returns the number of output tiles according to mode, analogous to
// NumInputTiles.
func (t *DeepTiler) NumOutputTiles(mode QueryMode) int {
	switch mode {
	case Horizontal:
		return t.outputTiling[0]
	case Vertical:
		return t.outputTiling[1]
	default:
		return t.outputTiles
	}
}

// SetGlobalPooling marks this tiler as backing a global pooling layer, suppressing the
// half-pixel sampling offset CreateInputTiles and GetDefaultTextureExtents otherwise apply.
func (t *DeepTiler) SetGlobalPooling() { t.globalPooling = true }

// IsPooling reports whether this tiler was constructed for a spatial pooling layer.
func (t *DeepTiler) IsPooling() bool {
	return t.layerType == layer.MaxPool2D || t.layerType == layer.AvgPool2D
}
