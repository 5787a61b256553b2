package tensor

import (
	"fmt"
)

// gradEnabled gates graph recording. Training runs on a single goroutine, so
// the flag is package state like torch's thread-local grad mode.
var gradEnabled = true

// GradEnabled reports whether new operations are recorded for backprop.
func GradEnabled() bool {
	return gradEnabled
}

// SetGradEnabled toggles graph recording and returns the previous mode.
func SetGradEnabled(enabled bool) bool {
	prev := gradEnabled
	gradEnabled = enabled
	return prev
}

// NoGrad runs fn with graph recording disabled.
func NoGrad(fn func() error) error {
	prev := SetGradEnabled(false)
	defer SetGradEnabled(prev)
	return fn()
}

// Backward computes gradients of a one-element tensor with respect to every
// leaf that requires grad. Gradients accumulate into the leaves.
func (t *Tensor) Backward() error {
	return t.BackwardWithGrad(nil)
}

// BackwardWithGrad seeds the backward pass with grad instead of ones.
func (t *Tensor) BackwardWithGrad(grad *Tensor) error {
	if !t.requiresGrad {
		return fmt.Errorf("tensor does not require grad")
	}
	if grad == nil {
		if t.NumElems != 1 {
			return fmt.Errorf("grad can be implicitly created only for one-element outputs, got shape %v", t.Shape)
		}
		var err error
		if grad, err = Ones(t.Shape, Float32, t.Device); err != nil {
			return err
		}
	} else if !shapesEqual(grad.Shape, t.Shape) {
		return fmt.Errorf("gradient shape %v does not match tensor shape %v", grad.Shape, t.Shape)
	}

	order := topoSort(t)
	grads := map[*Tensor]*Tensor{t: grad}

	for i := len(order) - 1; i >= 0; i-- {
		node := order[i]
		g := grads[node]
		if g == nil {
			continue
		}
		delete(grads, node)

		if node.creator == nil {
			if err := node.accumulateGrad(g); err != nil {
				return err
			}
			continue
		}

		inGrads, err := node.creator.Backward(g)
		if err != nil {
			return fmt.Errorf("backward through %T: %w", node.creator, err)
		}
		for j, in := range node.creator.Inputs() {
			if j >= len(inGrads) || inGrads[j] == nil || !in.requiresGrad {
				continue
			}
			if grads[in] == nil {
				grads[in] = inGrads[j]
				continue
			}
			sum, err := Add(grads[in], inGrads[j])
			if err != nil {
				return fmt.Errorf("accumulating gradient: %w", err)
			}
			grads[in] = sum
		}
	}
	return nil
}

func (t *Tensor) accumulateGrad(g *Tensor) error {
	if !shapesEqual(g.Shape, t.Shape) {
		reshaped, err := g.Reshape(t.Shape)
		if err != nil {
			return fmt.Errorf("leaf gradient shape %v does not match %v", g.Shape, t.Shape)
		}
		g = reshaped
	}
	if t.grad == nil {
		clone, err := g.Detach().Clone()
		if err != nil {
			return err
		}
		t.grad = clone
		return nil
	}
	dst, src := t.grad.floats(), g.floats()
	for i := range dst {
		dst[i] += src[i]
	}
	return nil
}

// topoSort returns every node reachable from root through tensors that
// require grad, inputs before the outputs they feed.
func topoSort(root *Tensor) []*Tensor {
	var order []*Tensor
	visited := make(map[*Tensor]bool)
	var visit func(*Tensor)
	visit = func(t *Tensor) {
		if visited[t] {
			return
		}
		visited[t] = true
		if t.creator != nil {
			for _, in := range t.creator.Inputs() {
				if in.requiresGrad {
					visit(in)
				}
			}
		}
		order = append(order, t)
	}
	visit(root)
	return order
}
