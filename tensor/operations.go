package tensor

import (
	"fmt"
)

func checkShapesCompatible(shape1, shape2 []int) error {
	if !shapesEqual(shape1, shape2) {
		return fmt.Errorf("tensor shapes must match: %v vs %v", shape1, shape2)
	}
	return nil
}

func elementwise(t1, t2 *Tensor, fn func(a, b float32) float32) (*Tensor, error) {
	if err := checkCompatibility(t1, t2); err != nil {
		return nil, err
	}
	if err := checkShapesCompatible(t1.Shape, t2.Shape); err != nil {
		return nil, err
	}

	a, b := t1.floats(), t2.floats()
	out := make([]float32, len(a))
	for i := range a {
		out[i] = fn(a[i], b[i])
	}
	return NewTensor(t1.Shape, Float32, t1.Device, out)
}

func Add(t1, t2 *Tensor) (*Tensor, error) {
	return elementwise(t1, t2, func(a, b float32) float32 { return a + b })
}

func Sub(t1, t2 *Tensor) (*Tensor, error) {
	return elementwise(t1, t2, func(a, b float32) float32 { return a - b })
}

func Mul(t1, t2 *Tensor) (*Tensor, error) {
	return elementwise(t1, t2, func(a, b float32) float32 { return a * b })
}

// AddRow adds a vector of length n to every row of an [..., n] tensor.
func AddRow(t, row *Tensor) (*Tensor, error) {
	if err := checkCompatibility(t, row); err != nil {
		return nil, err
	}
	n := row.NumElems
	if len(t.Shape) == 0 || t.Shape[len(t.Shape)-1] != n {
		return nil, fmt.Errorf("cannot broadcast row of size %d over shape %v", n, t.Shape)
	}

	src, r := t.floats(), row.floats()
	out := make([]float32, len(src))
	for i := range src {
		out[i] = src[i] + r[i%n]
	}
	return NewTensor(t.Shape, Float32, t.Device, out)
}

// AddScalar adds c to every element; Scale multiplies every element by c.
func AddScalar(t *Tensor, c float32) (*Tensor, error) {
	return unary(t, func(v float32) float32 { return v + c })
}

func Scale(t *Tensor, c float32) (*Tensor, error) {
	return unary(t, func(v float32) float32 { return v * c })
}

func unary(t *Tensor, fn func(float32) float32) (*Tensor, error) {
	if err := checkFloat32(t); err != nil {
		return nil, err
	}
	src := t.floats()
	out := make([]float32, len(src))
	for i, v := range src {
		out[i] = fn(v)
	}
	return NewTensor(t.Shape, Float32, t.Device, out)
}

// SumDim0 reduces the leading dimension: [T, ...] -> [...].
func SumDim0(t *Tensor) (*Tensor, error) {
	if err := checkFloat32(t); err != nil {
		return nil, err
	}
	if len(t.Shape) < 2 {
		return nil, fmt.Errorf("SumDim0 requires at least 2 dimensions, got %v", t.Shape)
	}

	inner := t.NumElems / t.Shape[0]
	out, err := Zeros(t.Shape[1:], Float32, t.Device)
	if err != nil {
		return nil, err
	}
	src, dst := t.floats(), out.floats()
	for s := 0; s < t.Shape[0]; s++ {
		row := src[s*inner : (s+1)*inner]
		for i, v := range row {
			dst[i] += v
		}
	}
	return out, nil
}

// Mean averages every element into a one-element tensor.
func Mean(t *Tensor) (*Tensor, error) {
	if err := checkFloat32(t); err != nil {
		return nil, err
	}
	var sum float64
	for _, v := range t.floats() {
		sum += float64(v)
	}
	return FromScalar(sum/float64(t.NumElems), t.Device), nil
}

// Stack joins equally shaped tensors along a new leading dimension.
func Stack(ts []*Tensor) (*Tensor, error) {
	if len(ts) == 0 {
		return nil, fmt.Errorf("stack requires at least one tensor")
	}
	first := ts[0]
	if err := checkFloat32(ts...); err != nil {
		return nil, err
	}

	out, err := Zeros(append([]int{len(ts)}, first.Shape...), Float32, first.Device)
	if err != nil {
		return nil, err
	}
	dst := out.floats()
	for i, t := range ts {
		if !shapesEqual(t.Shape, first.Shape) {
			return nil, fmt.Errorf("stack: tensor %d has shape %v, expected %v", i, t.Shape, first.Shape)
		}
		copy(dst[i*first.NumElems:(i+1)*first.NumElems], t.floats())
	}
	return out, nil
}

// Select copies slice idx of the leading dimension: [T, ...] -> [...].
func Select(t *Tensor, idx int) (*Tensor, error) {
	if err := checkFloat32(t); err != nil {
		return nil, err
	}
	if len(t.Shape) < 2 {
		return nil, fmt.Errorf("select requires at least 2 dimensions, got %v", t.Shape)
	}
	if idx < 0 || idx >= t.Shape[0] {
		return nil, fmt.Errorf("select index %d out of range [0, %d)", idx, t.Shape[0])
	}

	inner := t.NumElems / t.Shape[0]
	data := make([]float32, inner)
	copy(data, t.floats()[idx*inner:(idx+1)*inner])
	return NewTensor(t.Shape[1:], Float32, t.Device, data)
}
