package tensor

import (
	"fmt"
)

// resolveShape fills a single -1 entry of newShape from numElems and
// checks that the element counts agree.
func resolveShape(numElems int, newShape []int) ([]int, error) {
	shape := copyShape(newShape)
	known := 1
	negOneIdx := -1

	for i, dim := range shape {
		switch {
		case dim == -1:
			if negOneIdx >= 0 {
				return nil, fmt.Errorf("only one dimension can be -1")
			}
			negOneIdx = i
		case dim <= 0:
			return nil, fmt.Errorf("invalid dimension %d at index %d", dim, i)
		default:
			known *= dim
		}
	}

	if negOneIdx >= 0 {
		if known == 0 || numElems%known != 0 {
			return nil, fmt.Errorf("cannot reshape tensor of size %d into shape %v", numElems, newShape)
		}
		shape[negOneIdx] = numElems / known
		known *= shape[negOneIdx]
	}

	if known != numElems {
		return nil, fmt.Errorf("cannot reshape tensor of size %d into shape %v (size %d)", numElems, newShape, known)
	}
	return shape, nil
}

// Reshape returns a view of t with a different shape. The data is shared and
// the view is detached from the autograd graph; use ReshapeAutograd to keep
// gradients flowing.
func (t *Tensor) Reshape(newShape []int) (*Tensor, error) {
	shape, err := resolveShape(t.NumElems, newShape)
	if err != nil {
		return nil, err
	}

	return &Tensor{
		Shape:    shape,
		Strides:  calculateStrides(shape),
		DType:    t.DType,
		Device:   t.Device,
		Data:     t.Data,
		NumElems: t.NumElems,
	}, nil
}

// Detach returns a tensor sharing t's data with no autograd history.
func (t *Tensor) Detach() *Tensor {
	return &Tensor{
		Shape:    copyShape(t.Shape),
		Strides:  copyShape(t.Strides),
		DType:    t.DType,
		Device:   t.Device,
		Data:     t.Data,
		NumElems: t.NumElems,
	}
}

func (t *Tensor) Clone() (*Tensor, error) {
	clone := &Tensor{
		Shape:        copyShape(t.Shape),
		Strides:      copyShape(t.Strides),
		DType:        t.DType,
		Device:       t.Device,
		NumElems:     t.NumElems,
		requiresGrad: t.requiresGrad,
	}

	switch t.DType {
	case Float32:
		data, ok := t.Data.([]float32)
		if !ok {
			return nil, fmt.Errorf("tensor has nil data")
		}
		cloneData := make([]float32, len(data))
		copy(cloneData, data)
		clone.Data = cloneData
	case Int32:
		data, ok := t.Data.([]int32)
		if !ok {
			return nil, fmt.Errorf("tensor has nil data")
		}
		cloneData := make([]int32, len(data))
		copy(cloneData, data)
		clone.Data = cloneData
	default:
		return nil, fmt.Errorf("unsupported dtype for Clone: %s", t.DType)
	}

	return clone, nil
}

func (t *Tensor) GetFloat32Data() ([]float32, error) {
	if t.DType != Float32 {
		return nil, fmt.Errorf("tensor dtype is %s, not Float32", t.DType)
	}
	return t.Data.([]float32), nil
}

func (t *Tensor) GetInt32Data() ([]int32, error) {
	if t.DType != Int32 {
		return nil, fmt.Errorf("tensor dtype is %s, not Int32", t.DType)
	}
	return t.Data.([]int32), nil
}

// floats is the unchecked accessor used inside the package once the dtype
// has been validated.
func (t *Tensor) floats() []float32 {
	return t.Data.([]float32)
}

func (t *Tensor) Item() (interface{}, error) {
	if t.NumElems != 1 {
		return nil, fmt.Errorf("item() can only be called on tensors with exactly one element, got %d", t.NumElems)
	}

	switch t.DType {
	case Float32:
		return t.Data.([]float32)[0], nil
	case Int32:
		return t.Data.([]int32)[0], nil
	default:
		return nil, fmt.Errorf("unsupported dtype for Item: %s", t.DType)
	}
}

// Scalar reads a one-element Float32 tensor as float64.
func (t *Tensor) Scalar() (float64, error) {
	if t.DType != Float32 {
		return 0, fmt.Errorf("scalar requires Float32 tensor, got %s", t.DType)
	}
	v, err := t.Item()
	if err != nil {
		return 0, err
	}
	return float64(v.(float32)), nil
}

func (t *Tensor) Numel() int {
	return t.NumElems
}

func (t *Tensor) Dim() int {
	return len(t.Shape)
}

// Equal reports exact equality of shape, dtype and every element.
func (t *Tensor) Equal(other *Tensor) (bool, error) {
	if t.DType != other.DType {
		return false, fmt.Errorf("cannot compare %s with %s", t.DType, other.DType)
	}
	if !shapesEqual(t.Shape, other.Shape) {
		return false, nil
	}

	switch t.DType {
	case Float32:
		a, b := t.Data.([]float32), other.Data.([]float32)
		for i := range a {
			if a[i] != b[i] {
				return false, nil
			}
		}
	case Int32:
		a, b := t.Data.([]int32), other.Data.([]int32)
		for i := range a {
			if a[i] != b[i] {
				return false, nil
			}
		}
	}
	return true, nil
}

// ZeroGrad clears the accumulated gradients of tensors.
func ZeroGrad(tensors []*Tensor) {
	for _, t := range tensors {
		if t.requiresGrad && t.grad != nil {
			data := t.grad.floats()
			for i := range data {
				data[i] = 0
			}
		}
	}
}

func checkFloat32(ts ...*Tensor) error {
	for _, t := range ts {
		if t == nil {
			return fmt.Errorf("nil tensor")
		}
		if t.DType != Float32 {
			return fmt.Errorf("operation requires Float32 tensors, got %s", t.DType)
		}
	}
	return nil
}

func checkCompatibility(t1, t2 *Tensor) error {
	if err := checkFloat32(t1, t2); err != nil {
		return err
	}
	if t1.Device != t2.Device {
		return fmt.Errorf("tensors must be on same device: %s vs %s", t1.Device, t2.Device)
	}
	return nil
}
