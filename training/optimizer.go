package training

import (
	"fmt"
	"math"
	"sync"

	"github.com/tsawler/spiking-gan/tensor"
)

// Optimizer interface defines the methods that all optimizers must implement
type Optimizer interface {
	Step() error     // Updates model parameters based on gradients
	ZeroGrad()       // Resets gradients to zero for all parameters
	GetLR() float64  // Gets current learning rate
	SetLR(lr float64) // Sets learning rate

	// State exports hyperparameters, step count and per-parameter buffers.
	State() OptimizerState
	// LoadState restores a snapshot taken from an optimizer of the same type
	// over parameters of the same shapes.
	LoadState(state OptimizerState) error
}

// OptimizerState captures optimizer-specific state (square averages, moments, etc.)
type OptimizerState struct {
	Type       string             `json:"type"` // "RMSprop", "Adam"
	Parameters map[string]float64 `json:"parameters"`
	Step       int64              `json:"step"`
	StateData  []OptimizerTensor  `json:"state_data"`
}

// OptimizerTensor represents one optimizer buffer for one parameter
type OptimizerTensor struct {
	Name      string    `json:"name"`
	Shape     []int     `json:"shape"`
	Data      []float32 `json:"data"`
	StateType string    `json:"state_type"` // "square_avg", "exp_avg", "exp_avg_sq"
}

// slotSet holds one named buffer per parameter, aligned with the parameter list.
type slotSet struct {
	names []string
	data  map[string][][]float32
}

func newSlotSet(parameters []*tensor.Tensor, names ...string) slotSet {
	s := slotSet{names: names, data: make(map[string][][]float32, len(names))}
	for _, name := range names {
		bufs := make([][]float32, len(parameters))
		for i, p := range parameters {
			bufs[i] = make([]float32, p.NumElems)
		}
		s.data[name] = bufs
	}
	return s
}

func (s slotSet) export(parameters []*tensor.Tensor) []OptimizerTensor {
	var out []OptimizerTensor
	for i, p := range parameters {
		for _, name := range s.names {
			buf := make([]float32, len(s.data[name][i]))
			copy(buf, s.data[name][i])
			out = append(out, OptimizerTensor{
				Name:      fmt.Sprintf("param.%d", i),
				Shape:     append([]int{}, p.Shape...),
				Data:      buf,
				StateType: name,
			})
		}
	}
	return out
}

func (s slotSet) load(parameters []*tensor.Tensor, tensors []OptimizerTensor) error {
	if len(tensors) != len(parameters)*len(s.names) {
		return fmt.Errorf("optimizer state has %d tensors, expected %d", len(tensors), len(parameters)*len(s.names))
	}
	for i, p := range parameters {
		for j, name := range s.names {
			st := tensors[i*len(s.names)+j]
			if st.StateType != name {
				return fmt.Errorf("optimizer state tensor %s: expected %s, got %s", st.Name, name, st.StateType)
			}
			if len(st.Data) != p.NumElems {
				return fmt.Errorf("optimizer state tensor %s has %d elements, parameter has %d", st.Name, len(st.Data), p.NumElems)
			}
		}
	}
	for i := range parameters {
		for j, name := range s.names {
			copy(s.data[name][i], tensors[i*len(s.names)+j].Data)
		}
	}
	return nil
}

func checkStateType(state OptimizerState, want string) error {
	if state.Type != want {
		return fmt.Errorf("cannot load %s state into %s optimizer", state.Type, want)
	}
	if _, ok := state.Parameters["lr"]; !ok {
		return fmt.Errorf("%s state is missing lr", want)
	}
	return nil
}

// RMSprop implements the RMSprop optimizer without momentum or centering:
// s = alpha*s + (1-alpha)*g², p -= lr * g / (sqrt(s) + eps)
type RMSprop struct {
	parameters  []*tensor.Tensor
	lr          float64
	alpha       float64
	eps         float64
	weightDecay float64
	step        int64
	slots       slotSet
	mutex       sync.RWMutex
}

// NewRMSprop creates a new RMSprop optimizer
func NewRMSprop(parameters []*tensor.Tensor, lr, alpha, eps, weightDecay float64) *RMSprop {
	return &RMSprop{
		parameters:  parameters,
		lr:          lr,
		alpha:       alpha,
		eps:         eps,
		weightDecay: weightDecay,
		slots:       newSlotSet(parameters, "square_avg"),
	}
}

// NewDefaultRMSprop uses alpha=0.99, eps=1e-8 and no weight decay.
func NewDefaultRMSprop(parameters []*tensor.Tensor, lr float64) *RMSprop {
	return NewRMSprop(parameters, lr, 0.99, 1e-8, 0)
}

// Step performs a single optimization step
func (r *RMSprop) Step() error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.step++
	for i, param := range r.parameters {
		if !param.RequiresGrad() || param.Grad() == nil {
			continue
		}
		data, err := param.GetFloat32Data()
		if err != nil {
			return fmt.Errorf("parameter %d: %w", i, err)
		}
		grad, err := param.Grad().GetFloat32Data()
		if err != nil {
			return fmt.Errorf("gradient %d: %w", i, err)
		}
		sq := r.slots.data["square_avg"][i]

		for j := range data {
			g := float64(grad[j])
			if r.weightDecay > 0 {
				g += r.weightDecay * float64(data[j])
			}
			s := r.alpha*float64(sq[j]) + (1-r.alpha)*g*g
			sq[j] = float32(s)
			data[j] -= float32(r.lr * g / (math.Sqrt(s) + r.eps))
		}
	}
	return nil
}

// ZeroGrad resets gradients to zero for all parameters
func (r *RMSprop) ZeroGrad() {
	tensor.ZeroGrad(r.parameters)
}

// GetLR returns the current learning rate
func (r *RMSprop) GetLR() float64 {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.lr
}

// SetLR sets the learning rate
func (r *RMSprop) SetLR(lr float64) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.lr = lr
}

func (r *RMSprop) State() OptimizerState {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return OptimizerState{
		Type: "RMSprop",
		Parameters: map[string]float64{
			"lr":           r.lr,
			"alpha":        r.alpha,
			"eps":          r.eps,
			"weight_decay": r.weightDecay,
		},
		Step:      r.step,
		StateData: r.slots.export(r.parameters),
	}
}

func (r *RMSprop) LoadState(state OptimizerState) error {
	if err := checkStateType(state, "RMSprop"); err != nil {
		return err
	}
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if err := r.slots.load(r.parameters, state.StateData); err != nil {
		return err
	}
	r.lr = state.Parameters["lr"]
	r.alpha = state.Parameters["alpha"]
	r.eps = state.Parameters["eps"]
	r.weightDecay = state.Parameters["weight_decay"]
	r.step = state.Step
	return nil
}

// Adam implements the Adam optimizer
type Adam struct {
	parameters  []*tensor.Tensor
	lr          float64
	beta1       float64
	beta2       float64
	eps         float64
	weightDecay float64
	step        int64
	slots       slotSet // First and second moment estimates
	mutex       sync.RWMutex
}

// NewAdam creates a new Adam optimizer
func NewAdam(parameters []*tensor.Tensor, lr, beta1, beta2, eps, weightDecay float64) *Adam {
	return &Adam{
		parameters:  parameters,
		lr:          lr,
		beta1:       beta1,
		beta2:       beta2,
		eps:         eps,
		weightDecay: weightDecay,
		slots:       newSlotSet(parameters, "exp_avg", "exp_avg_sq"),
	}
}

// Step performs a single optimization step
func (adam *Adam) Step() error {
	adam.mutex.Lock()
	defer adam.mutex.Unlock()

	adam.step++

	// Bias correction factors
	bias1 := 1.0 - math.Pow(adam.beta1, float64(adam.step))
	bias2 := 1.0 - math.Pow(adam.beta2, float64(adam.step))

	for i, param := range adam.parameters {
		if !param.RequiresGrad() || param.Grad() == nil {
			continue
		}
		data, err := param.GetFloat32Data()
		if err != nil {
			return fmt.Errorf("parameter %d: %w", i, err)
		}
		grad, err := param.Grad().GetFloat32Data()
		if err != nil {
			return fmt.Errorf("gradient %d: %w", i, err)
		}
		m := adam.slots.data["exp_avg"][i]
		v := adam.slots.data["exp_avg_sq"][i]

		for j := range data {
			g := float64(grad[j])
			if adam.weightDecay > 0 {
				g += adam.weightDecay * float64(data[j])
			}
			// m = beta1 * m + (1 - beta1) * grad
			mj := adam.beta1*float64(m[j]) + (1-adam.beta1)*g
			// v = beta2 * v + (1 - beta2) * grad^2
			vj := adam.beta2*float64(v[j]) + (1-adam.beta2)*g*g
			m[j], v[j] = float32(mj), float32(vj)

			mHat := mj / bias1
			vHat := vj / bias2
			data[j] -= float32(adam.lr * mHat / (math.Sqrt(vHat) + adam.eps))
		}
	}

	return nil
}

// ZeroGrad resets gradients to zero for all parameters
func (adam *Adam) ZeroGrad() {
	tensor.ZeroGrad(adam.parameters)
}

// GetLR returns the current learning rate
func (adam *Adam) GetLR() float64 {
	adam.mutex.RLock()
	defer adam.mutex.RUnlock()
	return adam.lr
}

// SetLR sets the learning rate
func (adam *Adam) SetLR(lr float64) {
	adam.mutex.Lock()
	defer adam.mutex.Unlock()
	adam.lr = lr
}

func (adam *Adam) State() OptimizerState {
	adam.mutex.RLock()
	defer adam.mutex.RUnlock()
	return OptimizerState{
		Type: "Adam",
		Parameters: map[string]float64{
			"lr":           adam.lr,
			"beta1":        adam.beta1,
			"beta2":        adam.beta2,
			"eps":          adam.eps,
			"weight_decay": adam.weightDecay,
		},
		Step:      adam.step,
		StateData: adam.slots.export(adam.parameters),
	}
}

func (adam *Adam) LoadState(state OptimizerState) error {
	if err := checkStateType(state, "Adam"); err != nil {
		return err
	}
	adam.mutex.Lock()
	defer adam.mutex.Unlock()
	if err := adam.slots.load(adam.parameters, state.StateData); err != nil {
		return err
	}
	adam.lr = state.Parameters["lr"]
	adam.beta1 = state.Parameters["beta1"]
	adam.beta2 = state.Parameters["beta2"]
	adam.eps = state.Parameters["eps"]
	adam.weightDecay = state.Parameters["weight_decay"]
	adam.step = state.Step
	return nil
}

// NewOptimizer builds an optimizer by name ("rmsprop" or "adam") with the
// library defaults for everything except the learning rate.
func NewOptimizer(name string, parameters []*tensor.Tensor, lr float64) (Optimizer, error) {
	switch name {
	case "rmsprop", "":
		return NewDefaultRMSprop(parameters, lr), nil
	case "adam":
		return NewAdam(parameters, lr, 0.9, 0.999, 1e-8, 0), nil
	default:
		return nil, fmt.Errorf("unknown optimizer %q", name)
	}
}
