package checkpoints

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tsawler/spiking-gan/training"
)

const (
	Framework = "spiking-gan"
	Version   = "1.0.0"
)

// CheckpointFormat defines the serialization format
type CheckpointFormat int

const (
	FormatJSON CheckpointFormat = iota
	FormatProto
)

func (cf CheckpointFormat) String() string {
	switch cf {
	case FormatJSON:
		return "JSON"
	case FormatProto:
		return "Proto"
	default:
		return "Unknown"
	}
}

// Extension returns the file extension used for the format, without the dot
func (cf CheckpointFormat) Extension() string {
	switch cf {
	case FormatJSON:
		return "json"
	case FormatProto:
		return "pb"
	default:
		return "bin"
	}
}

// ParseFormat maps a configuration value onto a format. Only the proto
// format can store NaN or Inf values; a JSON save of a diverged network
// fails.
func ParseFormat(name string) (CheckpointFormat, error) {
	switch name {
	case "json":
		return FormatJSON, nil
	case "proto", "":
		return FormatProto, nil
	default:
		return 0, fmt.Errorf("unknown checkpoint format %q (want json or proto)", name)
	}
}

// FormatForPath picks the format matching the file extension of path,
// falling back to fallback for unknown extensions.
func FormatForPath(path string, fallback CheckpointFormat) CheckpointFormat {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON
	case ".pb":
		return FormatProto
	default:
		return fallback
	}
}

// Checkpoint holds both networks, both optimizers and the training progress
type Checkpoint struct {
	TrainingState TrainingState `json:"training_state"`

	Generator     []WeightTensor `json:"generator"`
	Discriminator []WeightTensor `json:"discriminator"`

	GeneratorOptimizer     *training.OptimizerState `json:"generator_optimizer,omitempty"`
	DiscriminatorOptimizer *training.OptimizerState `json:"discriminator_optimizer,omitempty"`

	Metadata CheckpointMetadata `json:"metadata"`
}

// WeightTensor represents a model parameter tensor with its data
type WeightTensor struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
	Layer string    `json:"layer"`
	Type  string    `json:"type"` // "weight", "bias"
}

// TrainingState captures the current training progress. Epoch is the last
// completed epoch; training resumes at Epoch+1.
type TrainingState struct {
	Epoch         int     `json:"epoch"`
	Step          int     `json:"step"`
	LearningRateG float64 `json:"learning_rate_g"`
	LearningRateD float64 `json:"learning_rate_d"`
}

// CheckpointMetadata contains checkpoint metadata
type CheckpointMetadata struct {
	Version     string    `json:"version"`
	Framework   string    `json:"framework"`
	CreatedAt   time.Time `json:"created_at"`
	RunID       string    `json:"run_id"`
	Name        string    `json:"name,omitempty"`
	Dataset     string    `json:"dataset,omitempty"`
	Description string    `json:"description,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
}

// Validate checks the internal consistency of a checkpoint
func (c *Checkpoint) Validate() error {
	if c.TrainingState.Epoch < 0 {
		return fmt.Errorf("negative epoch %d", c.TrainingState.Epoch)
	}
	if len(c.Generator) == 0 || len(c.Discriminator) == 0 {
		return fmt.Errorf("checkpoint is missing network weights")
	}
	for _, set := range [][]WeightTensor{c.Generator, c.Discriminator} {
		for _, w := range set {
			if err := checkPayload(w.Name, w.Shape, len(w.Data)); err != nil {
				return err
			}
		}
	}
	for _, state := range []*training.OptimizerState{c.GeneratorOptimizer, c.DiscriminatorOptimizer} {
		if state == nil {
			return fmt.Errorf("checkpoint is missing optimizer state")
		}
		for _, st := range state.StateData {
			if err := checkPayload(st.Name+"."+st.StateType, st.Shape, len(st.Data)); err != nil {
				return err
			}
		}
	}
	return nil
}

// checkFinite reports the first NaN or Inf value held by the checkpoint.
func (c *Checkpoint) checkFinite() error {
	finite := func(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
	if !finite(c.TrainingState.LearningRateG) || !finite(c.TrainingState.LearningRateD) {
		return fmt.Errorf("learning rate is not finite")
	}
	for _, set := range [][]WeightTensor{c.Generator, c.Discriminator} {
		for _, w := range set {
			for i, v := range w.Data {
				if !finite(float64(v)) {
					return fmt.Errorf("tensor %s value %d is %v", w.Name, i, v)
				}
			}
		}
	}
	for _, state := range []*training.OptimizerState{c.GeneratorOptimizer, c.DiscriminatorOptimizer} {
		if state == nil {
			continue
		}
		for name, v := range state.Parameters {
			if !finite(v) {
				return fmt.Errorf("optimizer parameter %s is %v", name, v)
			}
		}
		for _, st := range state.StateData {
			for i, v := range st.Data {
				if !finite(float64(v)) {
					return fmt.Errorf("optimizer tensor %s.%s value %d is %v", st.Name, st.StateType, i, v)
				}
			}
		}
	}
	return nil
}

func checkPayload(name string, shape []int, n int) error {
	size := 1
	for _, d := range shape {
		if d <= 0 {
			return fmt.Errorf("tensor %s has invalid shape %v", name, shape)
		}
		size *= d
	}
	if size != n {
		return fmt.Errorf("tensor %s has %d values for shape %v", name, n, shape)
	}
	return nil
}

// CheckpointSaver handles saving model checkpoints in various formats
type CheckpointSaver struct {
	format CheckpointFormat
}

// NewCheckpointSaver creates a new checkpoint saver for the specified format
func NewCheckpointSaver(format CheckpointFormat) *CheckpointSaver {
	return &CheckpointSaver{
		format: format,
	}
}

// Format returns the serialization format of the saver
func (cs *CheckpointSaver) Format() CheckpointFormat {
	return cs.format
}

// SaveCheckpoint writes the checkpoint to path. The file is written to a
// temporary name first and renamed into place.
func (cs *CheckpointSaver) SaveCheckpoint(checkpoint *Checkpoint, path string) error {
	// Ensure metadata is set
	if checkpoint.Metadata.Framework == "" {
		checkpoint.Metadata.Framework = Framework
		checkpoint.Metadata.Version = Version
	}
	if checkpoint.Metadata.CreatedAt.IsZero() {
		checkpoint.Metadata.CreatedAt = time.Now().UTC()
	}

	var encode func(io.Writer) error
	switch cs.format {
	case FormatJSON:
		if err := checkpoint.checkFinite(); err != nil {
			return fmt.Errorf("cannot encode checkpoint as JSON: %w; use the proto format", err)
		}
		encode = func(w io.Writer) error {
			encoder := json.NewEncoder(w)
			encoder.SetIndent("", "  ") // Pretty print JSON
			return encoder.Encode(checkpoint)
		}
	case FormatProto:
		encode = func(w io.Writer) error {
			_, err := w.Write(marshalCheckpoint(checkpoint))
			return err
		}
	default:
		return fmt.Errorf("unsupported checkpoint format: %s", cs.format.String())
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create checkpoint directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("failed to create checkpoint file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := encode(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close checkpoint: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move checkpoint into place: %w", err)
	}
	return nil
}

// LoadCheckpoint loads and validates a model checkpoint
func (cs *CheckpointSaver) LoadCheckpoint(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint file: %w", err)
	}

	var checkpoint *Checkpoint
	switch cs.format {
	case FormatJSON:
		checkpoint = &Checkpoint{}
		if err := json.Unmarshal(data, checkpoint); err != nil {
			return nil, fmt.Errorf("failed to decode checkpoint: %w", err)
		}
	case FormatProto:
		if checkpoint, err = unmarshalCheckpoint(data); err != nil {
			return nil, fmt.Errorf("failed to decode checkpoint: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported checkpoint format: %s", cs.format.String())
	}

	if err := checkpoint.Validate(); err != nil {
		return nil, fmt.Errorf("invalid checkpoint %s: %w", path, err)
	}
	return checkpoint, nil
}
