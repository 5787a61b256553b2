package tensor

import (
	"fmt"
	"math"
)

// record attaches op as the creator of out when gradients are enabled and any
// input takes part in the graph.
func record(op Operation, out *Tensor, inputs ...*Tensor) *Tensor {
	if !GradEnabled() {
		return out
	}
	for _, in := range inputs {
		if in.requiresGrad {
			out.requiresGrad = true
			out.creator = op
			break
		}
	}
	return out
}

// AddOp implements the Operation interface for same-shape addition
type AddOp struct {
	inputs []*Tensor
}

func (op *AddOp) Inputs() []*Tensor { return op.inputs }

func (op *AddOp) Forward(inputs ...*Tensor) (*Tensor, error) {
	if len(inputs) != 2 {
		return nil, fmt.Errorf("AddOp requires exactly 2 inputs")
	}
	op.inputs = inputs
	out, err := Add(inputs[0], inputs[1])
	if err != nil {
		return nil, err
	}
	return record(op, out, inputs...), nil
}

func (op *AddOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	// ∂(a + b)/∂a = ∂(a + b)/∂b = 1
	return []*Tensor{gradOut, gradOut}, nil
}

// SubOp implements the Operation interface for same-shape subtraction
type SubOp struct {
	inputs []*Tensor
}

func (op *SubOp) Inputs() []*Tensor { return op.inputs }

func (op *SubOp) Forward(inputs ...*Tensor) (*Tensor, error) {
	if len(inputs) != 2 {
		return nil, fmt.Errorf("SubOp requires exactly 2 inputs")
	}
	op.inputs = inputs
	out, err := Sub(inputs[0], inputs[1])
	if err != nil {
		return nil, err
	}
	return record(op, out, inputs...), nil
}

func (op *SubOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	neg, err := Scale(gradOut, -1)
	if err != nil {
		return nil, err
	}
	return []*Tensor{gradOut, neg}, nil
}

// MulOp implements the Operation interface for elementwise multiplication
type MulOp struct {
	inputs []*Tensor
}

func (op *MulOp) Inputs() []*Tensor { return op.inputs }

func (op *MulOp) Forward(inputs ...*Tensor) (*Tensor, error) {
	if len(inputs) != 2 {
		return nil, fmt.Errorf("MulOp requires exactly 2 inputs")
	}
	op.inputs = inputs
	out, err := Mul(inputs[0], inputs[1])
	if err != nil {
		return nil, err
	}
	return record(op, out, inputs...), nil
}

func (op *MulOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	a, b := op.inputs[0], op.inputs[1]
	// ∂(a * b)/∂a = b, ∂(a * b)/∂b = a
	var gradA, gradB *Tensor
	var err error
	if a.requiresGrad {
		if gradA, err = Mul(gradOut, b); err != nil {
			return nil, err
		}
	}
	if b.requiresGrad {
		if gradB, err = Mul(gradOut, a); err != nil {
			return nil, err
		}
	}
	return []*Tensor{gradA, gradB}, nil
}

// AddRowOp broadcasts a bias vector over the trailing dimension
type AddRowOp struct {
	inputs []*Tensor
}

func (op *AddRowOp) Inputs() []*Tensor { return op.inputs }

func (op *AddRowOp) Forward(inputs ...*Tensor) (*Tensor, error) {
	if len(inputs) != 2 {
		return nil, fmt.Errorf("AddRowOp requires exactly 2 inputs")
	}
	op.inputs = inputs
	out, err := AddRow(inputs[0], inputs[1])
	if err != nil {
		return nil, err
	}
	return record(op, out, inputs...), nil
}

func (op *AddRowOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	row := op.inputs[1]
	n := row.NumElems
	sum := make([]float32, n)
	for i, g := range gradOut.floats() {
		sum[i%n] += g
	}
	gradRow, err := NewTensor(row.Shape, Float32, row.Device, sum)
	if err != nil {
		return nil, err
	}
	return []*Tensor{gradOut, gradRow}, nil
}

// ScaleOp multiplies by a constant
type ScaleOp struct {
	inputs []*Tensor
	c      float32
}

func (op *ScaleOp) Inputs() []*Tensor { return op.inputs }

func (op *ScaleOp) Forward(inputs ...*Tensor) (*Tensor, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("ScaleOp requires exactly 1 input")
	}
	op.inputs = inputs
	out, err := Scale(inputs[0], op.c)
	if err != nil {
		return nil, err
	}
	return record(op, out, inputs...), nil
}

func (op *ScaleOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	grad, err := Scale(gradOut, op.c)
	if err != nil {
		return nil, err
	}
	return []*Tensor{grad}, nil
}

// AddScalarOp shifts by a constant
type AddScalarOp struct {
	inputs []*Tensor
	c      float32
}

func (op *AddScalarOp) Inputs() []*Tensor { return op.inputs }

func (op *AddScalarOp) Forward(inputs ...*Tensor) (*Tensor, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("AddScalarOp requires exactly 1 input")
	}
	op.inputs = inputs
	out, err := AddScalar(inputs[0], op.c)
	if err != nil {
		return nil, err
	}
	return record(op, out, inputs...), nil
}

func (op *AddScalarOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	return []*Tensor{gradOut}, nil
}

// MatMulOp implements the Operation interface for matrix multiplication
type MatMulOp struct {
	inputs []*Tensor
}

func (op *MatMulOp) Inputs() []*Tensor { return op.inputs }

func (op *MatMulOp) Forward(inputs ...*Tensor) (*Tensor, error) {
	if len(inputs) != 2 {
		return nil, fmt.Errorf("MatMulOp requires exactly 2 inputs")
	}
	op.inputs = inputs
	out, err := MatMul(inputs[0], inputs[1])
	if err != nil {
		return nil, err
	}
	return record(op, out, inputs...), nil
}

func (op *MatMulOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	a, b := op.inputs[0], op.inputs[1]
	// ∂(A @ B)/∂A = gradOut @ B^T, ∂(A @ B)/∂B = A^T @ gradOut
	var gradA, gradB *Tensor
	var err error
	if a.requiresGrad {
		if gradA, err = gemm(gradOut, false, b, true); err != nil {
			return nil, fmt.Errorf("matmul backward for A: %w", err)
		}
	}
	if b.requiresGrad {
		if gradB, err = gemm(a, true, gradOut, false); err != nil {
			return nil, fmt.Errorf("matmul backward for B: %w", err)
		}
	}
	return []*Tensor{gradA, gradB}, nil
}

// ReshapeOp keeps a reshape in the graph
type ReshapeOp struct {
	inputs []*Tensor
	shape  []int
}

func (op *ReshapeOp) Inputs() []*Tensor { return op.inputs }

func (op *ReshapeOp) Forward(inputs ...*Tensor) (*Tensor, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("ReshapeOp requires exactly 1 input")
	}
	op.inputs = inputs
	out, err := inputs[0].Reshape(op.shape)
	if err != nil {
		return nil, err
	}
	return record(op, out, inputs...), nil
}

func (op *ReshapeOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	grad, err := gradOut.Reshape(op.inputs[0].Shape)
	if err != nil {
		return nil, err
	}
	return []*Tensor{grad}, nil
}

// Transpose01Op swaps the two leading dimensions
type Transpose01Op struct {
	inputs []*Tensor
}

func (op *Transpose01Op) Inputs() []*Tensor { return op.inputs }

func (op *Transpose01Op) Forward(inputs ...*Tensor) (*Tensor, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("Transpose01Op requires exactly 1 input")
	}
	op.inputs = inputs
	out, err := Transpose01(inputs[0])
	if err != nil {
		return nil, err
	}
	return record(op, out, inputs...), nil
}

func (op *Transpose01Op) Backward(gradOut *Tensor) ([]*Tensor, error) {
	grad, err := Transpose01(gradOut)
	if err != nil {
		return nil, err
	}
	return []*Tensor{grad}, nil
}

// SumDim0Op sums over the leading (time) dimension
type SumDim0Op struct {
	inputs []*Tensor
}

func (op *SumDim0Op) Inputs() []*Tensor { return op.inputs }

func (op *SumDim0Op) Forward(inputs ...*Tensor) (*Tensor, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("SumDim0Op requires exactly 1 input")
	}
	op.inputs = inputs
	out, err := SumDim0(inputs[0])
	if err != nil {
		return nil, err
	}
	return record(op, out, inputs...), nil
}

func (op *SumDim0Op) Backward(gradOut *Tensor) ([]*Tensor, error) {
	in := op.inputs[0]
	steps := make([]*Tensor, in.Shape[0])
	for i := range steps {
		steps[i] = gradOut
	}
	grad, err := Stack(steps)
	if err != nil {
		return nil, err
	}
	return []*Tensor{grad}, nil
}

// MeanOp averages every element into a scalar
type MeanOp struct {
	inputs []*Tensor
}

func (op *MeanOp) Inputs() []*Tensor { return op.inputs }

func (op *MeanOp) Forward(inputs ...*Tensor) (*Tensor, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("MeanOp requires exactly 1 input")
	}
	op.inputs = inputs
	out, err := Mean(inputs[0])
	if err != nil {
		return nil, err
	}
	return record(op, out, inputs...), nil
}

func (op *MeanOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	in := op.inputs[0]
	g := gradOut.floats()[0] / float32(in.NumElems)
	grad, err := Full(in.Shape, g, in.Device)
	if err != nil {
		return nil, err
	}
	return []*Tensor{grad}, nil
}

// StackOp joins tensors along a new leading dimension
type StackOp struct {
	inputs []*Tensor
}

func (op *StackOp) Inputs() []*Tensor { return op.inputs }

func (op *StackOp) Forward(inputs ...*Tensor) (*Tensor, error) {
	op.inputs = inputs
	out, err := Stack(inputs)
	if err != nil {
		return nil, err
	}
	return record(op, out, inputs...), nil
}

func (op *StackOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	grads := make([]*Tensor, len(op.inputs))
	for i, in := range op.inputs {
		if !in.requiresGrad {
			continue
		}
		g, err := Select(gradOut, i)
		if err != nil {
			return nil, err
		}
		grads[i] = g
	}
	return grads, nil
}

// SelectOp picks one slice of the leading dimension
type SelectOp struct {
	inputs []*Tensor
	idx    int
}

func (op *SelectOp) Inputs() []*Tensor { return op.inputs }

func (op *SelectOp) Forward(inputs ...*Tensor) (*Tensor, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("SelectOp requires exactly 1 input")
	}
	op.inputs = inputs
	out, err := Select(inputs[0], op.idx)
	if err != nil {
		return nil, err
	}
	return record(op, out, inputs...), nil
}

func (op *SelectOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	in := op.inputs[0]
	grad, err := Zeros(in.Shape, Float32, in.Device)
	if err != nil {
		return nil, err
	}
	inner := gradOut.NumElems
	copy(grad.floats()[op.idx*inner:(op.idx+1)*inner], gradOut.floats())
	return []*Tensor{grad}, nil
}

// SpikeOp is the Heaviside step Θ(x) with a sigmoid surrogate gradient
// α·σ(αx)·(1-σ(αx)) in the backward pass.
type SpikeOp struct {
	inputs []*Tensor
	alpha  float32
}

func (op *SpikeOp) Inputs() []*Tensor { return op.inputs }

func (op *SpikeOp) Forward(inputs ...*Tensor) (*Tensor, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("SpikeOp requires exactly 1 input")
	}
	op.inputs = inputs
	out, err := unary(inputs[0], func(v float32) float32 {
		if v >= 0 {
			return 1
		}
		return 0
	})
	if err != nil {
		return nil, err
	}
	return record(op, out, inputs...), nil
}

func (op *SpikeOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	x := op.inputs[0].floats()
	g := gradOut.floats()
	out := make([]float32, len(x))
	alpha := float64(op.alpha)
	for i, v := range x {
		sig := 1 / (1 + math.Exp(-alpha*float64(v)))
		out[i] = g[i] * float32(alpha*sig*(1-sig))
	}
	grad, err := NewTensor(op.inputs[0].Shape, Float32, gradOut.Device, out)
	if err != nil {
		return nil, err
	}
	return []*Tensor{grad}, nil
}

// High-level autograd functions that create and execute operations

// AddAutograd performs addition with automatic differentiation
func AddAutograd(a, b *Tensor) (*Tensor, error) {
	return (&AddOp{}).Forward(a, b)
}

// SubAutograd performs subtraction with automatic differentiation
func SubAutograd(a, b *Tensor) (*Tensor, error) {
	return (&SubOp{}).Forward(a, b)
}

// MulAutograd performs elementwise multiplication with automatic differentiation
func MulAutograd(a, b *Tensor) (*Tensor, error) {
	return (&MulOp{}).Forward(a, b)
}

// AddRowAutograd adds a bias row with automatic differentiation
func AddRowAutograd(a, row *Tensor) (*Tensor, error) {
	return (&AddRowOp{}).Forward(a, row)
}

func ScaleAutograd(a *Tensor, c float32) (*Tensor, error) {
	return (&ScaleOp{c: c}).Forward(a)
}

func AddScalarAutograd(a *Tensor, c float32) (*Tensor, error) {
	return (&AddScalarOp{c: c}).Forward(a)
}

// MatMulAutograd performs matrix multiplication with automatic differentiation
func MatMulAutograd(a, b *Tensor) (*Tensor, error) {
	return (&MatMulOp{}).Forward(a, b)
}

// ReshapeAutograd reshapes while keeping the autograd graph intact
func ReshapeAutograd(a *Tensor, shape []int) (*Tensor, error) {
	return (&ReshapeOp{shape: shape}).Forward(a)
}

func Transpose01Autograd(a *Tensor) (*Tensor, error) {
	return (&Transpose01Op{}).Forward(a)
}

func SumDim0Autograd(a *Tensor) (*Tensor, error) {
	return (&SumDim0Op{}).Forward(a)
}

func MeanAutograd(a *Tensor) (*Tensor, error) {
	return (&MeanOp{}).Forward(a)
}

func StackAutograd(ts []*Tensor) (*Tensor, error) {
	return (&StackOp{}).Forward(ts...)
}

func SelectAutograd(a *Tensor, idx int) (*Tensor, error) {
	return (&SelectOp{idx: idx}).Forward(a)
}

// SpikeAutograd fires where x >= 0; alpha sets the surrogate sharpness.
func SpikeAutograd(x *Tensor, alpha float32) (*Tensor, error) {
	return (&SpikeOp{alpha: alpha}).Forward(x)
}
