package tensor

import (
	"math"
	"testing"
)

func leaf(t *testing.T, shape []int, data []float32) *Tensor {
	t.Helper()
	x, err := NewTensor(shape, Float32, CPU, data)
	if err != nil {
		t.Fatalf("Failed to create tensor: %v", err)
	}
	x.SetRequiresGrad(true)
	return x
}

func assertGrad(t *testing.T, name string, x *Tensor, expected []float32) {
	t.Helper()
	if x.Grad() == nil {
		t.Fatalf("Gradient for %s is nil", name)
	}
	got := x.Grad().Data.([]float32)
	if len(got) != len(expected) {
		t.Fatalf("%s gradient length: expected %d, got %d", name, len(expected), len(got))
	}
	for i := range expected {
		if math.Abs(float64(got[i]-expected[i])) > 1e-5 {
			t.Errorf("%s gradient mismatch at index %d: expected %f, got %f", name, i, expected[i], got[i])
		}
	}
}

func TestMulMeanBackward(t *testing.T) {
	a := leaf(t, []int{2, 2}, []float32{1, 2, 3, 4})
	b := leaf(t, []int{2, 2}, []float32{5, 6, 7, 8})

	c, err := MulAutograd(a, b)
	if err != nil {
		t.Fatalf("MulAutograd failed: %v", err)
	}
	loss, err := MeanAutograd(c)
	if err != nil {
		t.Fatalf("MeanAutograd failed: %v", err)
	}
	if err := loss.Backward(); err != nil {
		t.Fatalf("Backward pass failed: %v", err)
	}

	// d(mean(a*b))/da = b/4
	assertGrad(t, "a", a, []float32{1.25, 1.5, 1.75, 2})
	assertGrad(t, "b", b, []float32{0.25, 0.5, 0.75, 1})
}

func TestSubBackward(t *testing.T) {
	a := leaf(t, []int{2}, []float32{1, 2})
	b := leaf(t, []int{2}, []float32{3, 4})
	c, _ := SubAutograd(a, b)
	loss, _ := MeanAutograd(c)
	if err := loss.Backward(); err != nil {
		t.Fatalf("Backward pass failed: %v", err)
	}
	assertGrad(t, "a", a, []float32{0.5, 0.5})
	assertGrad(t, "b", b, []float32{-0.5, -0.5})
}

func TestLinearBackward(t *testing.T) {
	// y = x @ w + bias
	x := leaf(t, []int{2, 3}, []float32{1, 2, 3, 4, 5, 6})
	w := leaf(t, []int{3, 1}, []float32{0.1, 0.2, 0.3})
	bias := leaf(t, []int{1}, []float32{0.5})

	h, err := MatMulAutograd(x, w)
	if err != nil {
		t.Fatalf("MatMulAutograd failed: %v", err)
	}
	y, err := AddRowAutograd(h, bias)
	if err != nil {
		t.Fatalf("AddRowAutograd failed: %v", err)
	}
	loss, _ := MeanAutograd(y)
	if err := loss.Backward(); err != nil {
		t.Fatalf("Backward pass failed: %v", err)
	}

	// dL/dw = x^T @ (1/2) ; dL/dx = (1/2) @ w^T ; dL/dbias = 1
	assertGrad(t, "w", w, []float32{2.5, 3.5, 4.5})
	assertGrad(t, "x", x, []float32{0.05, 0.1, 0.15, 0.05, 0.1, 0.15})
	assertGrad(t, "bias", bias, []float32{1})
}

func TestGradientAccumulatesAcrossBackwardCalls(t *testing.T) {
	a := leaf(t, []int{1}, []float32{3})
	for i := 0; i < 2; i++ {
		y, _ := ScaleAutograd(a, 2)
		if err := y.Backward(); err != nil {
			t.Fatalf("Backward pass %d failed: %v", i, err)
		}
	}
	assertGrad(t, "a", a, []float32{4})

	ZeroGrad([]*Tensor{a})
	assertGrad(t, "a", a, []float32{0})
}

func TestSharedInputGradientsSum(t *testing.T) {
	a := leaf(t, []int{1}, []float32{3})
	// y = a*a + a
	sq, _ := MulAutograd(a, a)
	y, _ := AddAutograd(sq, a)
	if err := y.Backward(); err != nil {
		t.Fatalf("Backward pass failed: %v", err)
	}
	assertGrad(t, "a", a, []float32{7})
}

func TestSpikeSurrogateGradient(t *testing.T) {
	x := leaf(t, []int{3}, []float32{-1, 0, 0.5})
	s, err := SpikeAutograd(x, 4)
	if err != nil {
		t.Fatalf("SpikeAutograd failed: %v", err)
	}
	expectedSpikes := []float32{0, 1, 1}
	for i, v := range s.Data.([]float32) {
		if v != expectedSpikes[i] {
			t.Errorf("spike %d: expected %f, got %f", i, expectedSpikes[i], v)
		}
	}

	if err := s.BackwardWithGrad(mustOnes(t, []int{3})); err != nil {
		t.Fatalf("Backward pass failed: %v", err)
	}
	expected := make([]float32, 3)
	for i, v := range []float64{-1, 0, 0.5} {
		sig := 1 / (1 + math.Exp(-4*v))
		expected[i] = float32(4 * sig * (1 - sig))
	}
	assertGrad(t, "x", x, expected)
	if math.Abs(float64(expected[1])-1) > 1e-6 {
		t.Errorf("surrogate gradient at threshold should be alpha/4 = 1, got %f", expected[1])
	}
}

func TestStackSelectSumDim0Backward(t *testing.T) {
	a := leaf(t, []int{2}, []float32{1, 2})
	b := leaf(t, []int{2}, []float32{3, 4})
	s, _ := StackAutograd([]*Tensor{a, b})
	second, _ := SelectAutograd(s, 1)
	total, _ := SumDim0Autograd(s)
	y, _ := AddAutograd(second, total)
	loss, _ := MeanAutograd(y)
	if err := loss.Backward(); err != nil {
		t.Fatalf("Backward pass failed: %v", err)
	}
	assertGrad(t, "a", a, []float32{0.5, 0.5})
	assertGrad(t, "b", b, []float32{1, 1})
}

func TestReshapeTransposeBackward(t *testing.T) {
	x := leaf(t, []int{2, 3}, []float32{1, 2, 3, 4, 5, 6})
	w := leaf(t, []int{3, 2}, []float32{1, 0, 0, 1, 1, 1})
	r, _ := ReshapeAutograd(x, []int{3, 2})
	tr, _ := Transpose01Autograd(r)
	y, _ := MulAutograd(r, w)
	loss, _ := MeanAutograd(y)
	if err := loss.Backward(); err != nil {
		t.Fatalf("Backward pass failed: %v", err)
	}
	if tr.Shape[0] != 2 || tr.Shape[1] != 3 {
		t.Errorf("expected transposed shape [2 3], got %v", tr.Shape)
	}
	assertGrad(t, "x", x, []float32{1.0 / 6, 0, 0, 1.0 / 6, 1.0 / 6, 1.0 / 6})
	if len(x.Grad().Shape) != 2 {
		t.Errorf("leaf gradient should keep leaf shape, got %v", x.Grad().Shape)
	}
}

func TestNoGradSkipsRecording(t *testing.T) {
	a := leaf(t, []int{2}, []float32{1, 2})
	var y *Tensor
	err := NoGrad(func() error {
		var err error
		y, err = ScaleAutograd(a, 2)
		return err
	})
	if err != nil {
		t.Fatalf("NoGrad failed: %v", err)
	}
	if y.RequiresGrad() || !y.IsLeaf() {
		t.Error("operations inside NoGrad should not be recorded")
	}
	if !GradEnabled() {
		t.Error("grad mode should be restored after NoGrad")
	}
}

func TestDetachStopsGradient(t *testing.T) {
	a := leaf(t, []int{1}, []float32{2})
	b := leaf(t, []int{1}, []float32{3})
	c, _ := MulAutograd(a.Detach(), b)
	if err := c.Backward(); err != nil {
		t.Fatalf("Backward pass failed: %v", err)
	}
	if a.Grad() != nil {
		t.Error("detached input should receive no gradient")
	}
	assertGrad(t, "b", b, []float32{2})
}

func TestBackwardErrors(t *testing.T) {
	x, _ := NewTensor([]int{2}, Float32, CPU, []float32{1, 2})
	if err := x.Backward(); err == nil {
		t.Error("expected error for tensor without grad")
	}
	a := leaf(t, []int{2}, []float32{1, 2})
	y, _ := ScaleAutograd(a, 3)
	if err := y.Backward(); err == nil {
		t.Error("expected error for implicit gradient of non-scalar output")
	}
}

func mustOnes(t *testing.T, shape []int) *Tensor {
	t.Helper()
	o, err := Ones(shape, Float32, CPU)
	if err != nil {
		t.Fatalf("Ones failed: %v", err)
	}
	return o
}
