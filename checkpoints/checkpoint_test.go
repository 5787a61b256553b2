package checkpoints

import (
	"math"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/tsawler/spiking-gan/tensor"
	"github.com/tsawler/spiking-gan/training"
)

func testNetworks(t *testing.T, seed int64, optimizer string) Networks {
	t.Helper()
	training.SetRandomSeed(seed)

	build := func(in, hidden, out int) training.Module {
		l1, err := training.NewLinear(in, hidden, true, tensor.CPU)
		if err != nil {
			t.Fatalf("NewLinear failed: %v", err)
		}
		l2, err := training.NewLinear(hidden, out, false, tensor.CPU)
		if err != nil {
			t.Fatalf("NewLinear failed: %v", err)
		}
		return training.NewSequential(l1, training.NewLIFNode(), training.NewSequential(l2, training.NewMembraneNode()))
	}

	g := build(4, 3, 6)
	d := build(6, 3, 1)
	optG, err := training.NewOptimizer(optimizer, g.Parameters(), 0.01)
	if err != nil {
		t.Fatalf("NewOptimizer failed: %v", err)
	}
	optD, err := training.NewOptimizer(optimizer, d.Parameters(), 0.02)
	if err != nil {
		t.Fatalf("NewOptimizer failed: %v", err)
	}
	return Networks{Generator: g, Discriminator: d, GeneratorOptimizer: optG, DiscriminatorOptimizer: optD}
}

// stepOnce gives every parameter a gradient and steps both optimizers so the
// optimizer buffers are non-trivial.
func stepOnce(t *testing.T, nets Networks) {
	t.Helper()
	for _, m := range []training.Module{nets.Generator, nets.Discriminator} {
		for i, p := range m.Parameters() {
			g, _ := tensor.Full(p.Shape, 0.1*float32(i+1), tensor.CPU)
			p.SetGrad(g)
		}
	}
	if err := nets.GeneratorOptimizer.Step(); err != nil {
		t.Fatalf("Generator step failed: %v", err)
	}
	if err := nets.DiscriminatorOptimizer.Step(); err != nil {
		t.Fatalf("Discriminator step failed: %v", err)
	}
}

func testCheckpoint(t *testing.T, optimizer string) (*Checkpoint, Networks) {
	t.Helper()
	nets := testNetworks(t, 42, optimizer)
	stepOnce(t, nets)
	ckpt, err := Capture(nets, TrainingState{Epoch: 4, Step: 120}, CheckpointMetadata{
		Name:      "mnist-test",
		Dataset:   "MNIST",
		CreatedAt: time.Date(2024, 5, 1, 12, 30, 0, 123456789, time.UTC),
		Tags:      []string{"unit", "resume"},
	})
	if err != nil {
		t.Fatalf("Capture failed: %v", err)
	}
	return ckpt, nets
}

func TestCaptureNamesAndState(t *testing.T) {
	ckpt, nets := testCheckpoint(t, "rmsprop")

	names := make([]string, len(ckpt.Generator))
	for i, w := range ckpt.Generator {
		names[i] = w.Name
	}
	want := []string{"0.weight", "0.bias", "2.0.weight"}
	if !reflect.DeepEqual(names, want) {
		t.Errorf("Expected weight names %v, got %v", want, names)
	}
	if ckpt.Generator[2].Layer != "2.0" || ckpt.Generator[2].Type != "weight" {
		t.Errorf("Unexpected layer split %q / %q", ckpt.Generator[2].Layer, ckpt.Generator[2].Type)
	}
	if ckpt.TrainingState.LearningRateG != 0.01 || ckpt.TrainingState.LearningRateD != 0.02 {
		t.Errorf("Expected optimizer learning rates, got %+v", ckpt.TrainingState)
	}
	if ckpt.Metadata.RunID == "" {
		t.Error("Expected a generated run id")
	}
	if ckpt.GeneratorOptimizer.Step != 1 || ckpt.GeneratorOptimizer.Type != "RMSprop" {
		t.Errorf("Unexpected generator optimizer state %+v", ckpt.GeneratorOptimizer)
	}

	// Captured data is a copy
	nets.Generator.Parameters()[0].Data.([]float32)[0] = 1234
	if ckpt.Generator[0].Data[0] == 1234 {
		t.Error("Capture should copy parameter data")
	}
}

func TestCheckpointRoundTrip(t *testing.T) {
	tests := []struct {
		format    CheckpointFormat
		optimizer string
	}{
		{FormatJSON, "rmsprop"},
		{FormatProto, "rmsprop"},
		{FormatJSON, "adam"},
		{FormatProto, "adam"},
	}

	for _, tt := range tests {
		t.Run(tt.format.String()+"/"+tt.optimizer, func(t *testing.T) {
			ckpt, _ := testCheckpoint(t, tt.optimizer)
			path := filepath.Join(t.TempDir(), "checkpoints", "run_5."+tt.format.Extension())

			saver := NewCheckpointSaver(tt.format)
			if err := saver.SaveCheckpoint(ckpt, path); err != nil {
				t.Fatalf("SaveCheckpoint failed: %v", err)
			}
			loaded, err := saver.LoadCheckpoint(path)
			if err != nil {
				t.Fatalf("LoadCheckpoint failed: %v", err)
			}

			if !loaded.Metadata.CreatedAt.Equal(ckpt.Metadata.CreatedAt) {
				t.Errorf("CreatedAt: expected %v, got %v", ckpt.Metadata.CreatedAt, loaded.Metadata.CreatedAt)
			}
			loaded.Metadata.CreatedAt = ckpt.Metadata.CreatedAt
			if !reflect.DeepEqual(loaded, ckpt) {
				t.Errorf("Round trip mismatch:\nsaved  %+v\nloaded %+v", ckpt, loaded)
			}

			entries, _ := os.ReadDir(filepath.Dir(path))
			if len(entries) != 1 {
				t.Errorf("Expected only the checkpoint file, got %d entries", len(entries))
			}
		})
	}
}

func TestSaveNonFinite(t *testing.T) {
	tests := []struct {
		name    string
		diverge func(c *Checkpoint)
		kept    func(c *Checkpoint) bool
	}{
		{
			"NaN weight",
			func(c *Checkpoint) { c.Generator[0].Data[1] = float32(math.NaN()) },
			func(c *Checkpoint) bool { return math.IsNaN(float64(c.Generator[0].Data[1])) },
		},
		{
			"Inf optimizer state",
			func(c *Checkpoint) { c.DiscriminatorOptimizer.StateData[0].Data[0] = float32(math.Inf(-1)) },
			func(c *Checkpoint) bool { return math.IsInf(float64(c.DiscriminatorOptimizer.StateData[0].Data[0]), -1) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ckpt, _ := testCheckpoint(t, "adam")
			tt.diverge(ckpt)
			dir := t.TempDir()

			jsonPath := filepath.Join(dir, "run_1.json")
			err := NewCheckpointSaver(FormatJSON).SaveCheckpoint(ckpt, jsonPath)
			if err == nil || !strings.Contains(err.Error(), "proto format") {
				t.Fatalf("Expected JSON save to point at the proto format, got %v", err)
			}
			if _, statErr := os.Stat(jsonPath); !os.IsNotExist(statErr) {
				t.Errorf("Expected no JSON file after a rejected save, stat gave %v", statErr)
			}

			protoPath := filepath.Join(dir, "run_1.pb")
			saver := NewCheckpointSaver(FormatProto)
			if err := saver.SaveCheckpoint(ckpt, protoPath); err != nil {
				t.Fatalf("Proto SaveCheckpoint failed: %v", err)
			}
			loaded, err := saver.LoadCheckpoint(protoPath)
			if err != nil {
				t.Fatalf("LoadCheckpoint failed: %v", err)
			}
			if !tt.kept(loaded) {
				t.Error("Expected the non-finite value to survive the proto round trip")
			}
		})
	}
}

func TestRestore(t *testing.T) {
	ckpt, original := testCheckpoint(t, "adam")

	fresh := testNetworks(t, 7, "adam")
	if err := Restore(ckpt, fresh); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}

	for _, pair := range [][2]training.Module{
		{original.Generator, fresh.Generator},
		{original.Discriminator, fresh.Discriminator},
	} {
		a, b := pair[0].Parameters(), pair[1].Parameters()
		for i := range a {
			if eq, _ := a[i].Equal(b[i]); !eq {
				t.Errorf("Parameter %d differs after restore", i)
			}
		}
	}

	if fresh.GeneratorOptimizer.GetLR() != 0.01 {
		t.Errorf("Expected restored generator LR 0.01, got %f", fresh.GeneratorOptimizer.GetLR())
	}
	if !reflect.DeepEqual(fresh.DiscriminatorOptimizer.State(), original.DiscriminatorOptimizer.State()) {
		t.Error("Discriminator optimizer state differs after restore")
	}

	// Stepping both copies keeps them bit-identical
	stepOnce(t, original)
	stepOnce(t, fresh)
	a, b := original.Generator.Parameters(), fresh.Generator.Parameters()
	for i := range a {
		if eq, _ := a[i].Equal(b[i]); !eq {
			t.Errorf("Parameter %d diverged after a resumed step", i)
		}
	}
}

func TestRestoreErrors(t *testing.T) {
	ckpt, _ := testCheckpoint(t, "rmsprop")

	t.Run("optimizer type mismatch", func(t *testing.T) {
		if err := Restore(ckpt, testNetworks(t, 1, "adam")); err == nil {
			t.Error("Expected error restoring RMSprop state into Adam")
		}
	})

	t.Run("missing parameter", func(t *testing.T) {
		broken := *ckpt
		broken.Generator = append([]WeightTensor(nil), ckpt.Generator...)
		broken.Generator[1].Name = "9.bias"
		if err := Restore(&broken, testNetworks(t, 1, "rmsprop")); err == nil {
			t.Error("Expected error for unknown parameter name")
		}
	})

	t.Run("shape mismatch", func(t *testing.T) {
		broken := *ckpt
		broken.Discriminator = append([]WeightTensor(nil), ckpt.Discriminator...)
		w := broken.Discriminator[0]
		w.Shape = []int{w.Shape[1], w.Shape[0]}
		broken.Discriminator[0] = w
		if err := Restore(&broken, testNetworks(t, 1, "rmsprop")); err == nil {
			t.Error("Expected error for transposed weight shape")
		}
	})
}

func TestLoadCheckpointErrors(t *testing.T) {
	dir := t.TempDir()
	ckpt, _ := testCheckpoint(t, "rmsprop")

	if _, err := NewCheckpointSaver(FormatProto).LoadCheckpoint(filepath.Join(dir, "missing.pb")); err == nil {
		t.Error("Expected error for missing file")
	}

	// Truncated protobuf payload
	path := filepath.Join(dir, "run.pb")
	if err := NewCheckpointSaver(FormatProto).SaveCheckpoint(ckpt, path); err != nil {
		t.Fatalf("SaveCheckpoint failed: %v", err)
	}
	data, _ := os.ReadFile(path)
	os.WriteFile(path, data[:len(data)/2], 0644)
	if _, err := NewCheckpointSaver(FormatProto).LoadCheckpoint(path); err == nil {
		t.Error("Expected error for truncated checkpoint")
	}

	// Data length disagreeing with the shape
	bad := *ckpt
	bad.Generator = append([]WeightTensor(nil), ckpt.Generator...)
	bad.Generator[0].Data = bad.Generator[0].Data[:1]
	jsonPath := filepath.Join(dir, "run.json")
	if err := NewCheckpointSaver(FormatJSON).SaveCheckpoint(&bad, jsonPath); err != nil {
		t.Fatalf("SaveCheckpoint failed: %v", err)
	}
	if _, err := NewCheckpointSaver(FormatJSON).LoadCheckpoint(jsonPath); err == nil || !strings.Contains(err.Error(), "values for shape") {
		t.Errorf("Expected payload validation error, got %v", err)
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    CheckpointFormat
		wantErr bool
	}{
		{"json", FormatJSON, false},
		{"proto", FormatProto, false},
		{"", FormatProto, false},
		{"onnx", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if (err != nil) != tt.wantErr || (!tt.wantErr && got != tt.want) {
			t.Errorf("ParseFormat(%q) = %v, %v", tt.in, got, err)
		}
	}
	if FormatJSON.Extension() != "json" || FormatProto.Extension() != "pb" {
		t.Error("Unexpected format extensions")
	}
}

func TestFormatForPath(t *testing.T) {
	tests := map[string]CheckpointFormat{
		"run_3.json":   FormatJSON,
		"run_3.JSON":   FormatJSON,
		"dir/run_3.pb": FormatProto,
		"run_3.ckpt":   FormatJSON,
		"no-extension": FormatJSON,
	}
	for path, want := range tests {
		if got := FormatForPath(path, FormatJSON); got != want {
			t.Errorf("FormatForPath(%q) = %v, want %v", path, got, want)
		}
	}
}
