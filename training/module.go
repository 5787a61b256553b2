package training

import (
	"fmt"
	"math"
	"math/rand"
	"strconv"

	"github.com/tsawler/spiking-gan/tensor"
)

// Global random source for deterministic initialization
var globalRng *rand.Rand = rand.New(rand.NewSource(1))

// SetRandomSeed sets the global random seed for deterministic weight initialization
func SetRandomSeed(seed int64) {
	globalRng = rand.New(rand.NewSource(seed))
}

// Module interface defines methods that all neural network layers must implement
type Module interface {
	Forward(input *tensor.Tensor) (*tensor.Tensor, error)
	Parameters() []*tensor.Tensor // Returns trainable parameters (tensors with requiresGrad=true)
	Train()                       // Sets module to training mode
	Eval()                        // Sets module to evaluation mode
	IsTraining() bool             // Returns true if in training mode
}

// Container is implemented by modules composed of sub-modules.
type Container interface {
	Children() []Module
}

// Resettable is implemented by modules that carry state across time steps
// which must be cleared between unrelated forward passes.
type Resettable interface {
	Reset() error
}

// NamedParameter pairs a parameter tensor with its dotted path in the module tree.
type NamedParameter struct {
	Name   string
	Tensor *tensor.Tensor
}

type parameterNamer interface {
	NamedParameters() []NamedParameter
}

// Walk visits m and every nested sub-module depth first. path is the dotted
// child index of the visited module, empty for the root.
func Walk(m Module, fn func(path string, m Module) error) error {
	return walk("", m, fn)
}

func walk(path string, m Module, fn func(string, Module) error) error {
	if err := fn(path, m); err != nil {
		return err
	}
	c, ok := m.(Container)
	if !ok {
		return nil
	}
	for i, child := range c.Children() {
		if err := walk(joinPath(path, strconv.Itoa(i)), child, fn); err != nil {
			return err
		}
	}
	return nil
}

func joinPath(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

// ResetNet clears the state of every Resettable module reachable from m.
func ResetNet(m Module) error {
	return Walk(m, func(path string, m Module) error {
		r, ok := m.(Resettable)
		if !ok {
			return nil
		}
		if err := r.Reset(); err != nil {
			if path == "" {
				path = "root"
			}
			return fmt.Errorf("reset module %s (%T): %w", path, m, err)
		}
		return nil
	})
}

// NamedParameters lists the parameters of m in Parameters() order, each
// named by its module path and role ("0.1.weight").
func NamedParameters(m Module) []NamedParameter {
	var out []NamedParameter
	_ = Walk(m, func(path string, m Module) error {
		if n, ok := m.(parameterNamer); ok {
			for _, p := range n.NamedParameters() {
				out = append(out, NamedParameter{Name: joinPath(path, p.Name), Tensor: p.Tensor})
			}
		}
		return nil
	})
	return out
}

// Linear implements a fully connected (dense) layer: y = xW + b over the last
// dimension, so [..., in] maps to [..., out].
type Linear struct {
	weight   *tensor.Tensor
	bias     *tensor.Tensor
	training bool
}

// NewLinear creates a new Linear layer
func NewLinear(inputSize, outputSize int, bias bool, device tensor.DeviceType) (*Linear, error) {
	if inputSize <= 0 || outputSize <= 0 {
		return nil, fmt.Errorf("invalid Linear dimensions %d -> %d", inputSize, outputSize)
	}
	// W, b ~ U(-1/sqrt(fan_in), 1/sqrt(fan_in))
	bound := float32(1.0 / math.Sqrt(float64(inputSize)))

	// Weight shape is [inputSize, outputSize] so Forward is a plain MatMul
	weight, err := tensor.RandomUniform(globalRng, []int{inputSize, outputSize}, -bound, bound, device)
	if err != nil {
		return nil, fmt.Errorf("failed to create weight tensor: %w", err)
	}
	weight.SetRequiresGrad(true)

	linear := &Linear{
		weight:   weight,
		training: true,
	}

	if bias {
		biasT, err := tensor.RandomUniform(globalRng, []int{outputSize}, -bound, bound, device)
		if err != nil {
			return nil, fmt.Errorf("failed to create bias tensor: %w", err)
		}
		biasT.SetRequiresGrad(true)
		linear.bias = biasT
	}

	return linear, nil
}

// Forward performs the forward pass: y = xW + b
func (l *Linear) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	inputSize := l.weight.Shape[0]
	if input.Shape[len(input.Shape)-1] != inputSize {
		return nil, fmt.Errorf("input size mismatch: expected %d, got shape %v", inputSize, input.Shape)
	}

	lead := input.Shape[:len(input.Shape)-1]
	x := input
	var err error
	if len(input.Shape) != 2 {
		x, err = tensor.ReshapeAutograd(input, []int{-1, inputSize})
		if err != nil {
			return nil, err
		}
	}

	output, err := tensor.MatMulAutograd(x, l.weight)
	if err != nil {
		return nil, fmt.Errorf("linear matmul failed: %w", err)
	}

	if l.bias != nil {
		output, err = tensor.AddRowAutograd(output, l.bias)
		if err != nil {
			return nil, fmt.Errorf("bias addition failed: %w", err)
		}
	}

	if len(input.Shape) != 2 {
		outShape := append(append([]int{}, lead...), l.weight.Shape[1])
		return tensor.ReshapeAutograd(output, outShape)
	}
	return output, nil
}

// Parameters returns the trainable parameters
func (l *Linear) Parameters() []*tensor.Tensor {
	params := []*tensor.Tensor{l.weight}
	if l.bias != nil {
		params = append(params, l.bias)
	}
	return params
}

func (l *Linear) NamedParameters() []NamedParameter {
	params := []NamedParameter{{Name: "weight", Tensor: l.weight}}
	if l.bias != nil {
		params = append(params, NamedParameter{Name: "bias", Tensor: l.bias})
	}
	return params
}

// Train sets the module to training mode
func (l *Linear) Train() {
	l.training = true
}

// Eval sets the module to evaluation mode
func (l *Linear) Eval() {
	l.training = false
}

// IsTraining returns true if in training mode
func (l *Linear) IsTraining() bool {
	return l.training
}

// Flatten keeps the first keep dimensions and merges the rest, e.g. keep=2
// turns [T, B, C, H, W] into [T, B, C*H*W].
type Flatten struct {
	keep     int
	training bool
}

// NewFlatten creates a new Flatten layer
func NewFlatten(keep int) *Flatten {
	if keep < 1 {
		keep = 1
	}
	return &Flatten{keep: keep, training: true}
}

// Forward flattens the trailing dimensions of the input tensor
func (f *Flatten) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	if len(input.Shape) < f.keep {
		return nil, fmt.Errorf("Flatten expects input with at least %d dimensions, got shape %v", f.keep, input.Shape)
	}
	if len(input.Shape) == f.keep+1 {
		return input, nil
	}

	shape := append(append([]int{}, input.Shape[:f.keep]...), -1)
	// Use autograd reshape to maintain computational graph
	return tensor.ReshapeAutograd(input, shape)
}

// Parameters returns empty slice (Flatten has no parameters)
func (f *Flatten) Parameters() []*tensor.Tensor {
	return []*tensor.Tensor{}
}

// Train sets the module to training mode
func (f *Flatten) Train() {
	f.training = true
}

// Eval sets the module to evaluation mode
func (f *Flatten) Eval() {
	f.training = false
}

// IsTraining returns true if in training mode
func (f *Flatten) IsTraining() bool {
	return f.training
}

// Sequential allows chaining multiple modules together
type Sequential struct {
	modules  []Module
	training bool
}

// NewSequential creates a new Sequential container
func NewSequential(modules ...Module) *Sequential {
	return &Sequential{
		modules:  modules,
		training: true,
	}
}

// Forward passes input through all modules in sequence
func (s *Sequential) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	output := input
	var err error

	for i, module := range s.modules {
		output, err = module.Forward(output)
		if err != nil {
			return nil, fmt.Errorf("module %d forward failed: %w", i, err)
		}
	}

	return output, nil
}

// Parameters returns all trainable parameters from all modules
func (s *Sequential) Parameters() []*tensor.Tensor {
	var params []*tensor.Tensor
	for _, module := range s.modules {
		params = append(params, module.Parameters()...)
	}
	return params
}

// Children returns the contained modules in order
func (s *Sequential) Children() []Module {
	return s.modules
}

// Train sets all modules to training mode
func (s *Sequential) Train() {
	s.training = true
	for _, module := range s.modules {
		module.Train()
	}
}

// Eval sets all modules to evaluation mode
func (s *Sequential) Eval() {
	s.training = false
	for _, module := range s.modules {
		module.Eval()
	}
}

// IsTraining returns true if in training mode
func (s *Sequential) IsTraining() bool {
	return s.training
}

// Add appends a module to the sequential container
func (s *Sequential) Add(module Module) {
	s.modules = append(s.modules, module)
}
