package layer

import "github.com/fyusenet/fyusenet-go/core/buffer"

// Role identifies how a declared port participates in a layer's dataflow.
type Role int

const (
	// Source is a regular input port, read and consumed by the layer.
	Source Role = iota
	// Dest is a regular output port, written by the layer.
	Dest
	// Residual is an additional input port added directly to a layer's result rather than
	// convolved/transformed, gated by the ResidualInput flag.
	Residual
)

// BufferSpec declares one input or output port a layer requires: its position among the
// layer's ports, its dataflow role, and the shape the buffer manager must allocate or match
// against a connected peer's declared shape.
type BufferSpec struct {
	Port    int
	Role    Role
	Shape   buffer.Shape
	Padding int
}

// NewBufferSpec builds a BufferSpec for the given port, role, and shape.
func NewBufferSpec(port int, role Role, shape buffer.Shape) BufferSpec {
	return BufferSpec{Port: port, Role: role, Shape: shape, Padding: shape.Padding()}
}
