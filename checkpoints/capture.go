package checkpoints

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/tsawler/spiking-gan/training"
)

// Networks bundles the two adversaries and their optimizers
type Networks struct {
	Generator              training.Module
	Discriminator          training.Module
	GeneratorOptimizer     training.Optimizer
	DiscriminatorOptimizer training.Optimizer
}

// NewRunID returns a fresh identifier for a training run
func NewRunID() string {
	return uuid.NewString()
}

// Capture copies the weights and optimizer state of nets into a checkpoint
// recording state as the last completed epoch.
func Capture(nets Networks, state TrainingState, meta CheckpointMetadata) (*Checkpoint, error) {
	gen, err := ExtractWeights(nets.Generator)
	if err != nil {
		return nil, fmt.Errorf("generator: %w", err)
	}
	disc, err := ExtractWeights(nets.Discriminator)
	if err != nil {
		return nil, fmt.Errorf("discriminator: %w", err)
	}
	if meta.RunID == "" {
		meta.RunID = NewRunID()
	}

	genState := nets.GeneratorOptimizer.State()
	discState := nets.DiscriminatorOptimizer.State()
	state.LearningRateG = nets.GeneratorOptimizer.GetLR()
	state.LearningRateD = nets.DiscriminatorOptimizer.GetLR()

	return &Checkpoint{
		TrainingState:          state,
		Generator:              gen,
		Discriminator:          disc,
		GeneratorOptimizer:     &genState,
		DiscriminatorOptimizer: &discState,
		Metadata:               meta,
	}, nil
}

// Restore loads the weights and optimizer state of c into nets
func Restore(c *Checkpoint, nets Networks) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if err := LoadWeights(c.Generator, nets.Generator); err != nil {
		return fmt.Errorf("generator: %w", err)
	}
	if err := LoadWeights(c.Discriminator, nets.Discriminator); err != nil {
		return fmt.Errorf("discriminator: %w", err)
	}
	if err := nets.GeneratorOptimizer.LoadState(*c.GeneratorOptimizer); err != nil {
		return fmt.Errorf("generator optimizer: %w", err)
	}
	if err := nets.DiscriminatorOptimizer.LoadState(*c.DiscriminatorOptimizer); err != nil {
		return fmt.Errorf("discriminator optimizer: %w", err)
	}
	return nil
}

// ExtractWeights copies every named parameter of m
func ExtractWeights(m training.Module) ([]WeightTensor, error) {
	params := training.NamedParameters(m)
	if len(params) == 0 {
		return nil, fmt.Errorf("module %T has no named parameters", m)
	}

	weights := make([]WeightTensor, 0, len(params))
	for _, p := range params {
		data, err := p.Tensor.GetFloat32Data()
		if err != nil {
			return nil, fmt.Errorf("failed to extract data for %s: %w", p.Name, err)
		}
		layer, kind := splitName(p.Name)
		weights = append(weights, WeightTensor{
			Name:  p.Name,
			Shape: append([]int(nil), p.Tensor.Shape...),
			Data:  append([]float32(nil), data...),
			Layer: layer,
			Type:  kind,
		})
	}
	return weights, nil
}

func splitName(name string) (layer, kind string) {
	i := strings.LastIndex(name, ".")
	if i < 0 {
		return "", name
	}
	return name[:i], name[i+1:]
}

// LoadWeights copies weights into the matching named parameters of m. Every
// parameter must be present with the same shape.
func LoadWeights(weights []WeightTensor, m training.Module) error {
	// Create a map for quick weight lookup
	weightMap := make(map[string]WeightTensor, len(weights))
	for _, weight := range weights {
		weightMap[weight.Name] = weight
	}

	params := training.NamedParameters(m)
	if len(weights) != len(params) {
		return fmt.Errorf("weight count mismatch: %d weights, %d parameters", len(weights), len(params))
	}

	for _, p := range params {
		weight, ok := weightMap[p.Name]
		if !ok {
			return fmt.Errorf("checkpoint has no weight for parameter %s", p.Name)
		}
		if !sameShape(p.Tensor.Shape, weight.Shape) {
			return fmt.Errorf("shape mismatch for weight %s: parameter %v vs checkpoint %v",
				p.Name, p.Tensor.Shape, weight.Shape)
		}
		data, err := p.Tensor.GetFloat32Data()
		if err != nil {
			return fmt.Errorf("failed to copy weight data for %s: %w", p.Name, err)
		}
		copy(data, weight.Data)
	}
	return nil
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
