package tensor

import (
	"fmt"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// general wraps a row-major 2D tensor as a BLAS matrix without copying.
func general(t *Tensor) blas32.General {
	return blas32.General{
		Rows:   t.Shape[0],
		Cols:   t.Shape[1],
		Stride: t.Shape[1],
		Data:   t.floats(),
	}
}

func transposeFlag(trans bool) blas.Transpose {
	if trans {
		return blas.Trans
	}
	return blas.NoTrans
}

// gemm computes op(a) @ op(b) into a new [m, n] tensor.
func gemm(a *Tensor, transA bool, b *Tensor, transB bool) (*Tensor, error) {
	if err := checkCompatibility(a, b); err != nil {
		return nil, err
	}
	if len(a.Shape) != 2 || len(b.Shape) != 2 {
		return nil, fmt.Errorf("matmul requires 2D tensors, got %v and %v", a.Shape, b.Shape)
	}

	m, k := a.Shape[0], a.Shape[1]
	if transA {
		m, k = k, m
	}
	kb, n := b.Shape[0], b.Shape[1]
	if transB {
		kb, n = n, kb
	}
	if k != kb {
		return nil, fmt.Errorf("matmul dimension mismatch: %v x %v (transA=%t, transB=%t)", a.Shape, b.Shape, transA, transB)
	}

	out, err := Zeros([]int{m, n}, Float32, a.Device)
	if err != nil {
		return nil, err
	}
	blas32.Gemm(transposeFlag(transA), transposeFlag(transB), 1, general(a), general(b), 0, general(out))
	return out, nil
}

// MatMul multiplies two 2D tensors: [m, k] @ [k, n] -> [m, n].
func MatMul(t1, t2 *Tensor) (*Tensor, error) {
	return gemm(t1, false, t2, false)
}

// Transpose01 swaps the first two dimensions of a tensor with at least two
// dimensions, e.g. batch-major [B, T, ...] into time-major [T, B, ...].
func Transpose01(t *Tensor) (*Tensor, error) {
	if err := checkFloat32(t); err != nil {
		return nil, err
	}
	if len(t.Shape) < 2 {
		return nil, fmt.Errorf("transpose requires at least 2 dimensions, got %v", t.Shape)
	}

	d0, d1 := t.Shape[0], t.Shape[1]
	inner := t.NumElems / (d0 * d1)
	outShape := copyShape(t.Shape)
	outShape[0], outShape[1] = d1, d0

	out, err := Zeros(outShape, Float32, t.Device)
	if err != nil {
		return nil, err
	}
	src, dst := t.floats(), out.floats()
	for i := 0; i < d0; i++ {
		for j := 0; j < d1; j++ {
			copy(dst[(j*d0+i)*inner:(j*d0+i+1)*inner], src[(i*d1+j)*inner:(i*d1+j+1)*inner])
		}
	}
	return out, nil
}

// Reshape is the functional form of Tensor.Reshape.
func Reshape(t *Tensor, newShape []int) (*Tensor, error) {
	return t.Reshape(newShape)
}
