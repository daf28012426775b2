package buffer

import "github.com/fyusenet/fyusenet-go/core/errs"

// Shape describes the geometry, element type, and storage order of a tensor buffer, on
// either the CPU or the GPU. It carries enough information to compute byte sizes, derive an
// equivalent shape in a different storage order, and allocate a matching CPU buffer — the
// same Shape type serves CPU and GPU buffers rather than keeping two parallel shape types
// that would need to be kept in sync by hand.
type Shape struct {
	width, height int
	channels      int
	padding       int
	elementType   ElementType
	order         StorageOrder

	// tileWidth and tileHeight record the untiled per-tile geometry for a GPUDeep shape, so
	// AsOrder can recover the original (unpadded, untiled) spatial extent.
	tileWidth, tileHeight int
}

// New creates a Shape for a tensor with the given spatial geometry, channel count, spatial
// padding, element type, and storage order. For GPUDeep order, the width and height passed in
// are per-tile dimensions; the resulting Shape's Width/Height report the full tiled texture
// extent.
func New(height, width, channels, padding int, elementType ElementType, order StorageOrder) Shape {
	s := Shape{
		width:       width + 2*padding,
		height:      height + 2*padding,
		channels:    channels,
		padding:     padding,
		elementType: elementType,
		order:       order,
	}
	if order == GPUDeep {
		cols, rows := computeDeepTiling(channels)
		s.tileWidth = width
		s.tileHeight = height
		s.width = cols*(width+padding) + padding
		s.height = rows*(height+padding) + padding
	}
	return s
}

// NewSequence creates a Shape for a GPUSequence buffer: a [seqLen][embedDim] tensor stored as
// one texture row per sequence position, used by attention and embedding layers.
func NewSequence(embedDim, seqLen int, elementType ElementType, packing int) Shape {
	if packing == 0 {
		packing = PixelPacking
	}
	return Shape{
		width:       embedDim,
		height:      seqLen,
		channels:    packing,
		elementType: elementType,
		order:       GPUSequence,
	}
}

// Width returns the full (padded, tiled) horizontal extent in elements/texels.
func (s Shape) Width() int { return s.width }

// Height returns the full (padded, tiled) vertical extent in elements/texels.
func (s Shape) Height() int { return s.height }

// Channels returns the number of tensor channels.
func (s Shape) Channels() int { return s.channels }

// Padding returns the spatial padding applied symmetrically on every edge.
func (s Shape) Padding() int { return s.padding }

// ElementType returns the scalar data type of the tensor's elements.
func (s Shape) ElementType() ElementType { return s.elementType }

// Order returns the storage order the shape currently describes.
func (s Shape) Order() StorageOrder { return s.order }

// Equal reports whether two shapes describe buffers of identical size, type, and order.
func (s Shape) Equal(other Shape) bool {
	return s.SameSize(other) && s.elementType == other.elementType && s.order == other.order
}

// SameSize reports whether two shapes of the same storage order have identical dimensions.
func (s Shape) SameSize(other Shape) bool {
	return s.width == other.width && s.height == other.height &&
		s.channels == other.channels && s.padding == other.padding
}

// Bytes returns the number of bytes needed to store this buffer in its native storage order.
func (s Shape) Bytes() int {
	if s.width*s.height*s.channels <= 0 {
		return 0
	}
	elemSize := s.elementType.Size()
	switch s.order {
	case Channelwise:
		return s.width * s.height * s.channels * elemSize
	case GPUShallow:
		return s.width * s.height * padChannels(s.channels) * elemSize
	case GPUDeep:
		return s.width * s.height * PixelPacking * elemSize
	case GPUSequence:
		return s.width * s.height * elemSize
	default:
		return 0
	}
}

// BytesAs returns the number of bytes needed to store this buffer's data reformatted into
// targetOrder, without actually performing the conversion. Asking for the shape's own order
// returns Bytes(). Not every other order pair is supported — conversions into or out of
// GPUSequence fail with ErrUnsupportedConversion, matching the original FyuseNet
// implementation's bytes(order), which throws for GPU_SEQUENCE rather than guessing at a size.
func (s Shape) BytesAs(targetOrder StorageOrder) (int, error) {
	if s.width*s.height*s.channels <= 0 {
		return 0, nil
	}
	if targetOrder == s.order {
		return s.Bytes(), nil
	}
	elemSize := s.elementType.Size()

	switch s.order {
	case GPUDeep:
		switch targetOrder {
		case Channelwise:
			tw, th := s.untiledExtent()
			return tw * th * s.channels * elemSize, nil
		case GPUShallow:
			tw, th := s.untiledExtent()
			return tw * th * padChannels(s.channels) * elemSize, nil
		default:
			return 0, errs.Wrap(errs.Unsupported, errs.ErrUnsupportedConversion, "cannot convert gpu-deep shape to order %s", targetOrder)
		}
	case GPUShallow:
		switch targetOrder {
		case Channelwise:
			return s.width * s.height * s.channels * elemSize, nil
		case GPUDeep:
			cols, rows := computeDeepTiling(s.channels)
			tw := s.width - 2*s.padding
			th := s.height - 2*s.padding
			finWidth := cols*(tw+s.padding) + s.padding
			finHeight := rows*(th+s.padding) + s.padding
			return finWidth * finHeight * PixelPacking * elemSize, nil
		default:
			return 0, errs.Wrap(errs.Unsupported, errs.ErrUnsupportedConversion, "cannot convert gpu-shallow shape to order %s", targetOrder)
		}
	case Channelwise:
		switch targetOrder {
		case GPUShallow:
			return s.width * s.height * padChannels(s.channels) * elemSize, nil
		case GPUDeep:
			cols, rows := computeDeepTiling(s.channels)
			tw := s.width - 2*s.padding
			th := s.height - 2*s.padding
			finWidth := cols*(tw+s.padding) + s.padding
			finHeight := rows*(th+s.padding) + s.padding
			return finWidth * finHeight * PixelPacking * elemSize, nil
		default:
			return 0, errs.Wrap(errs.Unsupported, errs.ErrUnsupportedConversion, "cannot convert channelwise shape to order %s", targetOrder)
		}
	default:
		// GPUSequence: no cross-order conversion makes sense, matching the original
		// implementation's unconditional "Not supported yet" for this order.
		return 0, errs.Wrap(errs.Unsupported, errs.ErrUnsupportedConversion, "order %s does not support conversion", s.order)
	}
}

func (s Shape) untiledExtent() (int, int) {
	if s.order != GPUDeep {
		return s.width, s.height
	}
	return s.tileWidth, s.tileHeight
}

// AsOrder derives a new Shape describing the same logical tensor in a different storage
// order. Only Channelwise, GPUShallow, and GPUDeep shapes can be re-ordered this way;
// GPUSequence shapes return ErrUnsupportedConversion, matching the original implementation.
func (s Shape) AsOrder(newOrder StorageOrder) (Shape, error) {
	switch s.order {
	case Channelwise, GPUShallow:
		return New(s.height-2*s.padding, s.width-2*s.padding, s.channels, s.padding, s.elementType, newOrder), nil
	case GPUDeep:
		if s.tileWidth <= 0 || s.tileHeight <= 0 {
			return Shape{}, errs.New(errs.Configuration, "gpu-deep shape missing tile geometry")
		}
		return New(s.tileHeight, s.tileWidth, s.channels, s.padding, s.elementType, newOrder), nil
	default:
		return Shape{}, errs.Wrap(errs.Unsupported, errs.ErrUnsupportedConversion, "order %s is not supported yet", s.order)
	}
}
