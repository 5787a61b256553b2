package training

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/tsawler/spiking-gan/tensor"
)

func TestLinearModule(t *testing.T) {
	SetRandomSeed(1)

	t.Run("Linear layer forward pass", func(t *testing.T) {
		linear, err := NewLinear(3, 2, true, tensor.CPU)
		if err != nil {
			t.Fatalf("Failed to create Linear layer: %v", err)
		}

		input, err := tensor.NewTensor([]int{2, 3}, tensor.Float32, tensor.CPU,
			[]float32{1.0, 2.0, 3.0, 4.0, 5.0, 6.0})
		if err != nil {
			t.Fatalf("Failed to create input tensor: %v", err)
		}

		output, err := linear.Forward(input)
		if err != nil {
			t.Fatalf("Linear forward pass failed: %v", err)
		}

		if len(output.Shape) != 2 || output.Shape[0] != 2 || output.Shape[1] != 2 {
			t.Fatalf("Expected output shape [2 2], got %v", output.Shape)
		}

		for i, val := range output.Data.([]float32) {
			if math.IsNaN(float64(val)) || math.IsInf(float64(val), 0) {
				t.Errorf("Output[%d] is invalid: %f", i, val)
			}
		}
	})

	t.Run("Linear layer over time-major input", func(t *testing.T) {
		linear, _ := NewLinear(4, 3, true, tensor.CPU)
		input, _ := tensor.Zeros([]int{5, 2, 4}, tensor.Float32, tensor.CPU)

		output, err := linear.Forward(input)
		if err != nil {
			t.Fatalf("Linear forward pass failed: %v", err)
		}
		expected := []int{5, 2, 3}
		for i, dim := range expected {
			if output.Shape[i] != dim {
				t.Fatalf("Expected output shape %v, got %v", expected, output.Shape)
			}
		}
		// zero input leaves only the bias
		bias := linear.bias.Data.([]float32)
		for i, v := range output.Data.([]float32) {
			if v != bias[i%3] {
				t.Fatalf("Output[%d] = %f, expected bias %f", i, v, bias[i%3])
			}
		}
	})

	t.Run("Linear layer without bias", func(t *testing.T) {
		linear, err := NewLinear(2, 1, false, tensor.CPU)
		if err != nil {
			t.Fatalf("Failed to create Linear layer without bias: %v", err)
		}
		if linear.bias != nil {
			t.Error("Linear layer without bias should have nil bias tensor")
		}
		if len(linear.Parameters()) != 1 {
			t.Errorf("Expected 1 parameter, got %d", len(linear.Parameters()))
		}
	})

	t.Run("Linear layer input mismatch", func(t *testing.T) {
		linear, _ := NewLinear(3, 2, true, tensor.CPU)
		input, _ := tensor.Zeros([]int{2, 4}, tensor.Float32, tensor.CPU)
		if _, err := linear.Forward(input); err == nil {
			t.Error("Expected error for input size mismatch")
		}
	})

	t.Run("Linear init bound", func(t *testing.T) {
		linear, _ := NewLinear(16, 8, true, tensor.CPU)
		bound := float32(0.25)
		for _, p := range linear.Parameters() {
			if !p.RequiresGrad() {
				t.Error("Linear parameters should require grad")
			}
			for _, v := range p.Data.([]float32) {
				if v < -bound || v > bound {
					t.Fatalf("Parameter value %f outside [-%f, %f]", v, bound, bound)
				}
			}
		}
	})
}

func TestFlatten(t *testing.T) {
	input, _ := tensor.Zeros([]int{5, 4, 2, 28, 28}, tensor.Float32, tensor.CPU)
	output, err := NewFlatten(2).Forward(input)
	if err != nil {
		t.Fatalf("Flatten failed: %v", err)
	}
	if len(output.Shape) != 3 || output.Shape[2] != 1568 {
		t.Errorf("Expected shape [5 4 1568], got %v", output.Shape)
	}

	flat, _ := tensor.Zeros([]int{5, 4, 784}, tensor.Float32, tensor.CPU)
	same, err := NewFlatten(2).Forward(flat)
	if err != nil || same != flat {
		t.Errorf("Flatten of already flat input should be identity (err=%v)", err)
	}
}

// statefulLayer records how often it has been reset.
type statefulLayer struct {
	Flatten
	dirty  bool
	resets int
	err    error
}

func (p *statefulLayer) Reset() error {
	if p.err != nil {
		return p.err
	}
	p.dirty = false
	p.resets++
	return nil
}

func TestResetNetNested(t *testing.T) {
	layers := make([]*statefulLayer, 5)
	for i := range layers {
		layers[i] = &statefulLayer{Flatten: *NewFlatten(1), dirty: true}
	}
	linear, _ := NewLinear(2, 2, true, tensor.CPU)

	// depth 0..3 with a plain module in between
	net := NewSequential(
		layers[0],
		NewSequential(linear, layers[1], NewSequential(layers[2], NewSequential(layers[3]))),
		layers[4],
	)

	if err := ResetNet(net); err != nil {
		t.Fatalf("ResetNet failed: %v", err)
	}
	for i, p := range layers {
		if p.dirty || p.resets != 1 {
			t.Errorf("layer %d: dirty=%t resets=%d, expected clean with 1 reset", i, p.dirty, p.resets)
		}
	}
}

func TestResetNetPropagatesErrors(t *testing.T) {
	failing := &statefulLayer{Flatten: *NewFlatten(1), err: errors.New("boom")}
	net := NewSequential(NewSequential(failing))

	err := ResetNet(net)
	if err == nil {
		t.Fatal("Expected reset error to propagate")
	}
	if !errors.Is(err, failing.err) {
		t.Errorf("Expected wrapped reset error, got %v", err)
	}
	if !strings.Contains(err.Error(), "0.0") {
		t.Errorf("Expected module path in error, got %v", err)
	}
}

func TestNamedParameters(t *testing.T) {
	l1, _ := NewLinear(3, 4, true, tensor.CPU)
	l2, _ := NewLinear(4, 1, false, tensor.CPU)
	net := NewSequential(l1, NewLIFNode(), NewSequential(l2))

	named := NamedParameters(net)
	expected := []string{"0.weight", "0.bias", "2.0.weight"}
	if len(named) != len(expected) {
		t.Fatalf("Expected %d named parameters, got %d", len(expected), len(named))
	}
	params := net.Parameters()
	for i, name := range expected {
		if named[i].Name != name {
			t.Errorf("Parameter %d: expected name %s, got %s", i, name, named[i].Name)
		}
		if named[i].Tensor != params[i] {
			t.Errorf("Parameter %d: named order differs from Parameters()", i)
		}
	}
}

func TestSequentialTrainEval(t *testing.T) {
	lif := NewLIFNode()
	seq := NewSequential(NewFlatten(1), lif)
	seq.Eval()
	if seq.IsTraining() || lif.IsTraining() {
		t.Error("Eval should propagate to children")
	}
	seq.Train()
	if !seq.IsTraining() || !lif.IsTraining() {
		t.Error("Train should propagate to children")
	}
}
