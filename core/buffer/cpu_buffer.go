package buffer

import "github.com/fyusenet/fyusenet-go/core/errs"

// CPUBuffer is a host-resident tensor buffer: a Shape paired with the raw bytes that back it.
// It is what a download layer writes into and what a CPU layer (reduce, argmax scoring, token
// decode) reads from and writes to directly, with no GPU resource of its own.
type CPUBuffer struct {
	shape  Shape
	data   []byte
	mapped bool
}

// NewCPUBuffer allocates a zeroed CPUBuffer sized for the given shape in its native storage
// order. Returns nil for a degenerate (zero-sized) shape, mirroring the original
// implementation's createCPUBuffer.
func NewCPUBuffer(shape Shape) *CPUBuffer {
	size := shape.Bytes()
	if size <= 0 {
		return nil
	}
	return &CPUBuffer{shape: shape, data: make([]byte, size)}
}

// NewCPUBufferAs allocates a zeroed CPUBuffer for shape reformatted into targetOrder.
func NewCPUBufferAs(shape Shape, targetOrder StorageOrder) (*CPUBuffer, error) {
	reordered, err := shape.AsOrder(targetOrder)
	if err != nil {
		return nil, err
	}
	return NewCPUBuffer(reordered), nil
}

// Shape returns the shape describing this buffer's geometry, type, and order.
func (b *CPUBuffer) Shape() Shape { return b.shape }

// Bytes returns the number of bytes backing this buffer.
func (b *CPUBuffer) Bytes() int { return len(b.data) }

// Map returns the raw byte slice backing this buffer for direct read/write access. Calling
// Map while already mapped is a protocol error — matching the download pipeline's
// map-while-mapped guard, since a staging buffer handed out for writing must be unmapped
// before it can be handed out again.
func (b *CPUBuffer) Map() ([]byte, error) {
	if b.mapped {
		return nil, errs.New(errs.Protocol, "buffer is already mapped")
	}
	b.mapped = true
	return b.data, nil
}

// Unmap releases the mapping acquired by Map.
func (b *CPUBuffer) Unmap() {
	b.mapped = false
}
