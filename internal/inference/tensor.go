// Package inference owns model sessions and the tensors passed through them.
package inference

import (
	"fmt"
)

// DataType names a tensor element type.
type DataType int

const (
	Float32 DataType = iota
	Uint8
)

func (d DataType) String() string {
	switch d {
	case Float32:
		return "float32"
	case Uint8:
		return "uint8"
	default:
		return "unknown"
	}
}

// Tensor is a dense row-major buffer with a shape. Exactly one of the data
// slices is populated, according to Type.
type Tensor struct {
	Type    DataType
	Shape   []int64
	Float32 []float32
	Uint8   []uint8
}

// NewFloat32 wraps data with the given shape.
func NewFloat32(shape []int64, data []float32) (*Tensor, error) {
	if n := NumElements(shape); int64(len(data)) != n {
		return nil, fmt.Errorf("shape %v needs %d elements, got %d", shape, n, len(data))
	}
	return &Tensor{Type: Float32, Shape: shape, Float32: data}, nil
}

// NewUint8 wraps data with the given shape.
func NewUint8(shape []int64, data []uint8) (*Tensor, error) {
	if n := NumElements(shape); int64(len(data)) != n {
		return nil, fmt.Errorf("shape %v needs %d elements, got %d", shape, n, len(data))
	}
	return &Tensor{Type: Uint8, Shape: shape, Uint8: data}, nil
}

// Zeros returns a float32 tensor of zeros.
func Zeros(shape ...int64) *Tensor {
	return &Tensor{Type: Float32, Shape: shape, Float32: make([]float32, NumElements(shape))}
}

// NumElements returns the product of the dimensions.
func NumElements(shape []int64) int64 {
	n := int64(1)
	for _, d := range shape {
		n *= d
	}
	return n
}

// Len returns the number of elements held.
func (t *Tensor) Len() int {
	if t.Type == Uint8 {
		return len(t.Uint8)
	}
	return len(t.Float32)
}

// Reshape returns a tensor sharing t's data with a new shape.
func (t *Tensor) Reshape(shape ...int64) (*Tensor, error) {
	if NumElements(shape) != int64(t.Len()) {
		return nil, fmt.Errorf("cannot reshape %v to %v", t.Shape, shape)
	}
	out := *t
	out.Shape = shape
	return &out, nil
}

// Release drops the tensor's buffers.
func (t *Tensor) Release() {
	if t == nil {
		return
	}
	t.Float32 = nil
	t.Uint8 = nil
	t.Shape = nil
}
