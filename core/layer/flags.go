package layer

// Flags is a bit mask of cross-cutting modifiers whose scope is a single compiled layer. The
// builder translates a higher-level ActType/NormType/residual configuration into this mask;
// layers read it directly at Forward time rather than re-deriving it from builder state.
type Flags uint32

const (
	NoFlags Flags = 0

	// ResidualInput marks a layer that adds another layer's output directly to its own result.
	ResidualInput Flags = 1 << (iota - 1)
	// ReluOnResidual applies a ReLU to the residual input before it is added.
	ReluOnResidual
	// BatchnormOnResidual applies the layer's post-batchnorm to the residual input as well.
	BatchnormOnResidual
	// PostBatchnorm rescales/biases the layer's output on write, using fixed training-time
	// batchnorm parameters.
	PostBatchnorm
	// Deep marks a layer that executes in the GPU-deep memory layout.
	Deep
	// PostRelu applies a ReLU to the layer's output on write. Not supported on GPU layers.
	PostRelu
	// PreRelu applies a ReLU to the layer's input on read.
	PreRelu
	// PreClip clips the layer's input to a configured value range on read.
	PreClip
	// PreSigmoid applies a sigmoid activation to the layer's input on read.
	PreSigmoid
	// PreTanh applies a tanh activation to the layer's input on read.
	PreTanh
	// PreSilu applies a SiLU activation to the layer's input on read.
	PreSilu
	// PreGelu applies a GeLU activation to the layer's input on read.
	PreGelu
)

// ActMask is the set of flags that represent an activation function, applied either on read
// (Pre*) or on write (PostRelu).
const ActMask = PreRelu | PreClip | PreSigmoid | PreTanh | PostRelu | PreSilu | PreGelu

// PreActMask is the subset of ActMask applied on read of the layer's input.
const PreActMask = PreRelu | PreClip | PreSigmoid | PreTanh | PreSilu | PreGelu

// Has reports whether every flag in want is set in f.
func (f Flags) Has(want Flags) bool {
	return f&want == want
}

// ActType identifies a configured activation function, used by the builder to derive the
// matching Pre*/Post* bit in Flags. Kept distinct from Flags because an activation may need a
// parameter (leaky-ReLU slope, clip bounds) a bit mask cannot carry.
type ActType uint8

const (
	ActNone ActType = iota
	ActRelu
	ActLeakyRelu
	ActClip
	ActSigmoid
	ActTanh
	ActSilu
	ActGelu
)

// NormType identifies a configured post-normalization.
type NormType uint8

const (
	NormNone NormType = iota
	NormBatchnorm
)

// PosEncType identifies a sequence layer's positional encoding scheme.
type PosEncType uint8

const (
	PosEncNone PosEncType = iota
	PosEncRotary
)

// ScoringType identifies a token-scoring layer's sampling strategy.
type ScoringType uint8

const (
	ScoringGreedy ScoringType = iota
	ScoringTopK
	ScoringTopP
)

// ScalingType identifies a scale-layer's interpolation mode.
type ScalingType uint8

const (
	ScalingNearest ScalingType = iota
	ScalingLinear
)
