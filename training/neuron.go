package training

import (
	"fmt"

	"github.com/tsawler/spiking-gan/tensor"
)

// Default LIF constants.
const (
	DefaultTau            = 2.0
	DefaultVThreshold     = 1.0
	DefaultSurrogateAlpha = 4.0
)

// LIFNode is a multi-step leaky integrate-and-fire neuron layer with hard
// reset to zero. Input and output are time-major [T, ...]; the output holds
// spikes. The membrane potential carries over between Forward calls until
// Reset is called.
//
//	H[t] = V[t-1]*(1 - 1/tau) + X[t]/tau
//	S[t] = Θ(H[t] - vThreshold)
//	V[t] = H[t]*(1 - S[t])
type LIFNode struct {
	tau        float32
	vThreshold float32
	alpha      float32
	v          *tensor.Tensor
	training   bool
}

func NewLIFNode() *LIFNode {
	return NewLIFNodeWith(DefaultTau, DefaultVThreshold, DefaultSurrogateAlpha)
}

func NewLIFNodeWith(tau, vThreshold, alpha float32) *LIFNode {
	return &LIFNode{tau: tau, vThreshold: vThreshold, alpha: alpha, training: true}
}

// V returns the current membrane potential, nil after Reset.
func (n *LIFNode) V() *tensor.Tensor {
	return n.v
}

func (n *LIFNode) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	return integrate(input, &n.v, n.tau, func(h *tensor.Tensor) (*tensor.Tensor, *tensor.Tensor, error) {
		shifted, err := tensor.AddScalarAutograd(h, -n.vThreshold)
		if err != nil {
			return nil, nil, err
		}
		spike, err := tensor.SpikeAutograd(shifted, n.alpha)
		if err != nil {
			return nil, nil, err
		}
		// 1 - S
		negSpike, err := tensor.ScaleAutograd(spike, -1)
		if err != nil {
			return nil, nil, err
		}
		keep, err := tensor.AddScalarAutograd(negSpike, 1)
		if err != nil {
			return nil, nil, err
		}
		v, err := tensor.MulAutograd(h, keep)
		if err != nil {
			return nil, nil, err
		}
		return spike, v, nil
	})
}

func (n *LIFNode) Reset() error {
	n.v = nil
	return nil
}

func (n *LIFNode) Parameters() []*tensor.Tensor { return []*tensor.Tensor{} }
func (n *LIFNode) Train()                       { n.training = true }
func (n *LIFNode) Eval()                        { n.training = false }
func (n *LIFNode) IsTraining() bool             { return n.training }

// MembraneNode integrates its input without firing and emits the membrane
// potential at every step. It is the readout layer of the networks.
type MembraneNode struct {
	tau      float32
	v        *tensor.Tensor
	training bool
}

func NewMembraneNode() *MembraneNode {
	return &MembraneNode{tau: DefaultTau, training: true}
}

func (n *MembraneNode) V() *tensor.Tensor {
	return n.v
}

func (n *MembraneNode) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	return integrate(input, &n.v, n.tau, func(h *tensor.Tensor) (*tensor.Tensor, *tensor.Tensor, error) {
		return h, h, nil
	})
}

func (n *MembraneNode) Reset() error {
	n.v = nil
	return nil
}

func (n *MembraneNode) Parameters() []*tensor.Tensor { return []*tensor.Tensor{} }
func (n *MembraneNode) Train()                       { n.training = true }
func (n *MembraneNode) Eval()                        { n.training = false }
func (n *MembraneNode) IsTraining() bool             { return n.training }

// integrate runs the charge step over the leading time dimension. fire maps
// the charged potential H[t] to the step output and the next potential.
func integrate(input *tensor.Tensor, v **tensor.Tensor, tau float32, fire func(h *tensor.Tensor) (*tensor.Tensor, *tensor.Tensor, error)) (*tensor.Tensor, error) {
	if len(input.Shape) < 2 {
		return nil, fmt.Errorf("neuron layer expects time-major input [T, ...], got shape %v", input.Shape)
	}
	steps := input.Shape[0]
	if *v != nil && !sameShape((*v).Shape, input.Shape[1:]) {
		return nil, fmt.Errorf("membrane state has shape %v but input step has shape %v; reset the network between unrelated passes", (*v).Shape, input.Shape[1:])
	}

	outputs := make([]*tensor.Tensor, steps)
	for t := 0; t < steps; t++ {
		x, err := tensor.SelectAutograd(input, t)
		if err != nil {
			return nil, err
		}
		h, err := tensor.ScaleAutograd(x, 1/tau)
		if err != nil {
			return nil, err
		}
		if *v != nil {
			decayed, err := tensor.ScaleAutograd(*v, 1-1/tau)
			if err != nil {
				return nil, err
			}
			if h, err = tensor.AddAutograd(decayed, h); err != nil {
				return nil, err
			}
		}
		out, next, err := fire(h)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", t, err)
		}
		outputs[t] = out
		*v = next
	}
	return tensor.StackAutograd(outputs)
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
