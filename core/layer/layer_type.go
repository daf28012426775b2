// Package layer defines the layer type taxonomy and the Layer contract shared by every concrete
// layer implementation, independent of whether it executes on the CPU or the GPU.
package layer

import "fmt"

// Type identifies the operation a layer performs. It drives both layer-factory dispatch and
// tiling decisions (pooling layers suppress the half-pixel sampling offset other layers use).
type Type uint16

const (
	Add Type = iota + 1
	Sub
	ArgMax
	Cast
	Concat
	Convolution2D
	FracConvolution2D
	TransConvolution2D
	AvgPool2D
	MaxPool2D
	Padding2D
	Scale2D
	SingletonArith
	ReLU
	Clip
	Tanh
	Sigmoid
	SiLU
	GeLU
	Reduce
	Transpose
	ImgExtract
	Blur2D
	NonMax2D
	RGB2BGR
	Deep2Shallow
	Shallow2Deep
	Download
	Upload
	Residual
	BatchNorm
	RMSNorm
	GEMM
	Linear
	Attention
	Embedding
	TokenScoring
	Custom

	// Illegal marks an uninitialized or invalid layer type, mirroring the zero-value guard the
	// original implementation enforces on every tiler and layer constructor.
	Illegal Type = 1000
)

// String returns the human-readable name of the layer type.
func (t Type) String() string {
	switch t {
	case Add:
		return "add"
	case Sub:
		return "sub"
	case ArgMax:
		return "arg-max"
	case Cast:
		return "cast"
	case Concat:
		return "concat"
	case Convolution2D:
		return "convolution-2d"
	case FracConvolution2D:
		return "frac-convolution-2d"
	case TransConvolution2D:
		return "trans-convolution-2d"
	case AvgPool2D:
		return "avg-pool-2d"
	case MaxPool2D:
		return "max-pool-2d"
	case Padding2D:
		return "padding-2d"
	case Scale2D:
		return "scale-2d"
	case SingletonArith:
		return "singleton-arith"
	case ReLU:
		return "relu"
	case Clip:
		return "clip"
	case Tanh:
		return "tanh"
	case Sigmoid:
		return "sigmoid"
	case SiLU:
		return "silu"
	case GeLU:
		return "gelu"
	case Reduce:
		return "reduce"
	case Transpose:
		return "transpose"
	case ImgExtract:
		return "img-extract"
	case Blur2D:
		return "blur-2d"
	case NonMax2D:
		return "non-max-2d"
	case RGB2BGR:
		return "rgb2bgr"
	case Deep2Shallow:
		return "deep2shallow"
	case Shallow2Deep:
		return "shallow2deep"
	case Download:
		return "download"
	case Upload:
		return "upload"
	case Residual:
		return "residual"
	case BatchNorm:
		return "batchnorm"
	case RMSNorm:
		return "rmsnorm"
	case GEMM:
		return "gemm"
	case Linear:
		return "linear"
	case Attention:
		return "attention"
	case Embedding:
		return "embedding"
	case TokenScoring:
		return "token-scoring"
	case Custom:
		return "custom"
	case Illegal:
		return "illegal"
	default:
		return fmt.Sprintf("layerType(%d)", uint16(t))
	}
}
