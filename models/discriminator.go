package models

import (
	"fmt"

	"github.com/tsawler/spiking-gan/tensor"
	"github.com/tsawler/spiking-gan/training"
)

// Discriminator scores time-major samples, producing (T, B, 1). With a
// membrane readout the score is the potential at every step, otherwise the
// spike train of the output neuron.
type Discriminator struct {
	nSteps     int
	inFeatures int
	flatten    *training.Flatten
	net        *training.Sequential
	training   bool
}

// NewDiscriminator builds a discriminator with the given hidden widths
func NewDiscriminator(inFeatures, nSteps int, hidden []int, isMem bool) (*Discriminator, error) {
	if inFeatures <= 0 || nSteps <= 0 {
		return nil, fmt.Errorf("invalid discriminator geometry: features %d, steps %d", inFeatures, nSteps)
	}
	net, err := spikingStack(inFeatures, hidden, 1)
	if err != nil {
		return nil, fmt.Errorf("discriminator: %w", err)
	}
	if isMem {
		net.Add(training.NewMembraneNode())
	} else {
		net.Add(training.NewLIFNode())
	}

	return &Discriminator{
		nSteps:     nSteps,
		inFeatures: inFeatures,
		flatten:    training.NewFlatten(2),
		net:        net,
		training:   true,
	}, nil
}

// Forward scores a time-major batch (T, B, ...) whose trailing dimensions
// hold inFeatures values.
func (d *Discriminator) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if len(x.Shape) < 3 {
		return nil, fmt.Errorf("discriminator expects time-major input (T, B, ...), got shape %v", x.Shape)
	}
	flat, err := d.flatten.Forward(x)
	if err != nil {
		return nil, err
	}
	if flat.Shape[2] != d.inFeatures {
		return nil, fmt.Errorf("discriminator expects %d features per step, got shape %v", d.inFeatures, x.Shape)
	}
	return d.net.Forward(flat)
}

// ForwardImages scores a batch-major batch of real samples (B, ...). Static
// samples of inFeatures values are presented at every step; sequences of
// nSteps*inFeatures values are fed one frame per step.
func (d *Discriminator) ForwardImages(x *tensor.Tensor) (*tensor.Tensor, error) {
	if len(x.Shape) < 2 {
		return nil, fmt.Errorf("discriminator expects a batch (B, ...), got shape %v", x.Shape)
	}
	batch := x.Shape[0]
	perSample := x.NumElems / batch

	var seq *tensor.Tensor
	switch perSample {
	case d.inFeatures:
		flat, err := tensor.ReshapeAutograd(x, []int{batch, d.inFeatures})
		if err != nil {
			return nil, err
		}
		seq, err = repeatSteps(flat, d.nSteps)
		if err != nil {
			return nil, err
		}
	case d.nSteps * d.inFeatures:
		frames, err := tensor.ReshapeAutograd(x, []int{batch, d.nSteps, d.inFeatures})
		if err != nil {
			return nil, err
		}
		if seq, err = tensor.Transpose01Autograd(frames); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("real sample of %d values matches neither %d features nor %d steps of them (shape %v)",
			perSample, d.inFeatures, d.nSteps, x.Shape)
	}
	return d.net.Forward(seq)
}

// InFeatures returns the number of values scored per sample and step
func (d *Discriminator) InFeatures() int { return d.inFeatures }

func (d *Discriminator) Parameters() []*tensor.Tensor { return d.net.Parameters() }
func (d *Discriminator) Children() []training.Module  { return []training.Module{d.flatten, d.net} }

func (d *Discriminator) Train() {
	d.training = true
	d.net.Train()
}

func (d *Discriminator) Eval() {
	d.training = false
	d.net.Eval()
}

func (d *Discriminator) IsTraining() bool { return d.training }
