// Package buffer defines the tensor buffer shape and element-type model shared by every
// layer, independent of whether the backing storage lives on the CPU or the GPU.
package buffer

import "fmt"

// ElementType identifies the scalar data type of a tensor's elements.
type ElementType int

const (
	// Float32 is a 32-bit IEEE-754 float. The default and only type most layers support.
	Float32 ElementType = iota
	// Float16 is a 16-bit IEEE-754 half-precision float.
	Float16
	// Int32 is a 32-bit signed integer.
	Int32
	// Uint32 is a 32-bit unsigned integer.
	Uint32
	// Int16 is a 16-bit signed integer.
	Int16
	// Uint16 is a 16-bit unsigned integer.
	Uint16
	// Int8 is an 8-bit signed integer, used for quantized weights.
	Int8
	// Uint8 is an 8-bit unsigned integer, used for quantized weights and activations.
	Uint8
)

// String returns the human-readable name of the element type.
func (t ElementType) String() string {
	switch t {
	case Float32:
		return "float32"
	case Float16:
		return "float16"
	case Int32:
		return "int32"
	case Uint32:
		return "uint32"
	case Int16:
		return "int16"
	case Uint16:
		return "uint16"
	case Int8:
		return "int8"
	case Uint8:
		return "uint8"
	default:
		return fmt.Sprintf("elementType(%d)", int(t))
	}
}

// Size returns the number of bytes occupied by a single element of this type.
func (t ElementType) Size() int {
	switch t {
	case Float32, Int32, Uint32:
		return 4
	case Float16, Int16, Uint16:
		return 2
	case Int8, Uint8:
		return 1
	default:
		panic(fmt.Sprintf("buffer: unknown element type %d", int(t)))
	}
}
