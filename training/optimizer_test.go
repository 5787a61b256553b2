package training

import (
	"math"
	"testing"

	"github.com/tsawler/spiking-gan/tensor"
)

func paramWithGrad(t *testing.T, data, grad []float32) *tensor.Tensor {
	t.Helper()
	param, err := tensor.NewTensor([]int{len(data)}, tensor.Float32, tensor.CPU, data)
	if err != nil {
		t.Fatalf("Failed to create parameter tensor: %v", err)
	}
	param.SetRequiresGrad(true)
	g, err := tensor.NewTensor([]int{len(grad)}, tensor.Float32, tensor.CPU, grad)
	if err != nil {
		t.Fatalf("Failed to create gradient tensor: %v", err)
	}
	param.SetGrad(g)
	return param
}

func TestRMSpropOptimizer(t *testing.T) {
	t.Run("Single RMSprop step", func(t *testing.T) {
		param := paramWithGrad(t, []float32{1.0, 2.0}, []float32{0.1, -0.2})
		optimizer := NewDefaultRMSprop([]*tensor.Tensor{param}, 0.01)

		if err := optimizer.Step(); err != nil {
			t.Fatalf("RMSprop step failed: %v", err)
		}

		// s = 0.01 * g², update = lr * g / (sqrt(s) + eps) = lr * sign(g) * 10
		expectedData := []float32{1.0 - 0.1, 2.0 + 0.1}
		actualData := param.Data.([]float32)
		for i, expected := range expectedData {
			if math.Abs(float64(actualData[i]-expected)) > 1e-5 {
				t.Errorf("Parameter %d: expected %.6f, got %.6f", i, expected, actualData[i])
			}
		}
	})

	t.Run("RMSprop skips parameters without gradients", func(t *testing.T) {
		param, _ := tensor.NewTensor([]int{2}, tensor.Float32, tensor.CPU, []float32{1, 2})
		param.SetRequiresGrad(true)
		optimizer := NewDefaultRMSprop([]*tensor.Tensor{param}, 0.01)
		if err := optimizer.Step(); err != nil {
			t.Fatalf("RMSprop step failed: %v", err)
		}
		if d := param.Data.([]float32); d[0] != 1 || d[1] != 2 {
			t.Errorf("Parameter without gradient changed: %v", d)
		}
	})

	t.Run("RMSprop state round trip", func(t *testing.T) {
		param := paramWithGrad(t, []float32{1.0, 2.0, 3.0}, []float32{0.3, 0.2, 0.1})
		optimizer := NewDefaultRMSprop([]*tensor.Tensor{param}, 0.05)
		for i := 0; i < 3; i++ {
			_ = optimizer.Step()
		}
		state := optimizer.State()
		if state.Type != "RMSprop" || state.Step != 3 || len(state.StateData) != 1 {
			t.Fatalf("Unexpected state header: %+v", state)
		}

		other := paramWithGrad(t, []float32{1.0, 2.0, 3.0}, []float32{0.3, 0.2, 0.1})
		restored := NewDefaultRMSprop([]*tensor.Tensor{other}, 0.5)
		if err := restored.LoadState(state); err != nil {
			t.Fatalf("LoadState failed: %v", err)
		}
		if restored.GetLR() != 0.05 {
			t.Errorf("Expected restored LR 0.05, got %f", restored.GetLR())
		}
		again := restored.State()
		for i, v := range state.StateData[0].Data {
			if again.StateData[0].Data[i] != v {
				t.Errorf("Slot %d: expected %f, got %f", i, v, again.StateData[0].Data[i])
			}
		}
	})
}

func TestAdamOptimizer(t *testing.T) {
	t.Run("First Adam step moves by lr", func(t *testing.T) {
		param := paramWithGrad(t, []float32{1.0, -1.0}, []float32{0.5, -2.0})
		optimizer := NewAdam([]*tensor.Tensor{param}, 0.001, 0.9, 0.999, 1e-8, 0)

		if err := optimizer.Step(); err != nil {
			t.Fatalf("Adam step failed: %v", err)
		}
		// mHat = g, vHat = g², so the first update is lr * sign(g)
		expected := []float32{0.999, -0.999}
		for i, v := range param.Data.([]float32) {
			if math.Abs(float64(v-expected[i])) > 1e-6 {
				t.Errorf("Parameter %d: expected %.6f, got %.6f", i, expected[i], v)
			}
		}
	})

	t.Run("Adam rejects RMSprop state", func(t *testing.T) {
		param := paramWithGrad(t, []float32{1.0}, []float32{0.5})
		rms := NewDefaultRMSprop([]*tensor.Tensor{param}, 0.01)
		adam := NewAdam([]*tensor.Tensor{param}, 0.001, 0.9, 0.999, 1e-8, 0)
		if err := adam.LoadState(rms.State()); err == nil {
			t.Error("Expected error loading RMSprop state into Adam")
		}
	})

	t.Run("Adam rejects shape mismatch", func(t *testing.T) {
		a := paramWithGrad(t, []float32{1.0, 2.0}, []float32{0.5, 0.5})
		b := paramWithGrad(t, []float32{1.0}, []float32{0.5})
		state := NewAdam([]*tensor.Tensor{a}, 0.001, 0.9, 0.999, 1e-8, 0).State()
		if err := NewAdam([]*tensor.Tensor{b}, 0.001, 0.9, 0.999, 1e-8, 0).LoadState(state); err == nil {
			t.Error("Expected error for mismatched parameter shapes")
		}
	})
}

func TestOptimizerZeroGradAndLR(t *testing.T) {
	param := paramWithGrad(t, []float32{1.0}, []float32{0.5})
	for _, name := range []string{"rmsprop", "adam"} {
		opt, err := NewOptimizer(name, []*tensor.Tensor{param}, 0.1)
		if err != nil {
			t.Fatalf("NewOptimizer(%s) failed: %v", name, err)
		}
		opt.SetLR(0.2)
		if opt.GetLR() != 0.2 {
			t.Errorf("%s: expected LR 0.2, got %f", name, opt.GetLR())
		}
		param.Grad().Data.([]float32)[0] = 0.5
		opt.ZeroGrad()
		if g := param.Grad().Data.([]float32)[0]; g != 0 {
			t.Errorf("%s: expected zeroed gradient, got %f", name, g)
		}
	}

	if _, err := NewOptimizer("sgd", nil, 0.1); err == nil {
		t.Error("Expected error for unknown optimizer")
	}
}
