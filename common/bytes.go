package common

import "unsafe"

// SliceToBytes reinterprets a slice of fixed-size elements as a raw byte slice without
// copying, for uploading CPU-side tensor or parameter data directly to a GPU buffer via
// queue.WriteBuffer.
//
// Parameters:
//   - data: the slice to reinterpret, e.g. a []float32 of tensor elements
//
// Returns:
//   - []byte: the same underlying memory viewed as bytes
func SliceToBytes[T any](data []T) []byte {
	if len(data) == 0 {
		return nil
	}
	var zero T
	size := int(unsafe.Sizeof(zero))
	return unsafe.Slice((*byte)(unsafe.Pointer(&data[0])), len(data)*size)
}

// StructToBytes reinterprets a pointer to a fixed-size struct as a raw byte slice without
// copying, for uploading uniform-buffer data such as layer parameters and shape metadata.
//
// Parameters:
//   - data: a pointer to the struct to reinterpret
//
// Returns:
//   - []byte: the struct's memory viewed as bytes
func StructToBytes[T any](data *T) []byte {
	if data == nil {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(data)), int(unsafe.Sizeof(*data)))
}
