// Package models holds the spiking generator and discriminator networks.
package models

import (
	"fmt"

	"github.com/tsawler/spiking-gan/tensor"
	"github.com/tsawler/spiking-gan/training"
)

// Generator maps a latent batch (B, latent) to membrane potentials
// (T, B, features). The latent vector is presented at every time step to a
// stack of Linear+LIF layers read out by a non-spiking MembraneNode.
type Generator struct {
	latentDim   int
	nSteps      int
	outFeatures int
	net         *training.Sequential
	training    bool
}

// NewGenerator builds a generator with the given hidden widths
func NewGenerator(latentDim, nSteps int, hidden []int, outFeatures int) (*Generator, error) {
	if latentDim <= 0 || nSteps <= 0 || outFeatures <= 0 {
		return nil, fmt.Errorf("invalid generator geometry: latent %d, steps %d, features %d", latentDim, nSteps, outFeatures)
	}
	net, err := spikingStack(latentDim, hidden, outFeatures)
	if err != nil {
		return nil, fmt.Errorf("generator: %w", err)
	}
	net.Add(training.NewMembraneNode())

	return &Generator{
		latentDim:   latentDim,
		nSteps:      nSteps,
		outFeatures: outFeatures,
		net:         net,
		training:    true,
	}, nil
}

// spikingStack chains Linear layers with LIF neurons between them; the last
// Linear has no neuron so callers choose the readout.
func spikingStack(in int, hidden []int, out int) (*training.Sequential, error) {
	net := training.NewSequential()
	width := in
	for _, h := range hidden {
		linear, err := training.NewLinear(width, h, true, tensor.CPU)
		if err != nil {
			return nil, err
		}
		net.Add(linear)
		net.Add(training.NewLIFNode())
		width = h
	}
	linear, err := training.NewLinear(width, out, true, tensor.CPU)
	if err != nil {
		return nil, err
	}
	net.Add(linear)
	return net, nil
}

// Forward runs z (B, latent) through all time steps
func (g *Generator) Forward(z *tensor.Tensor) (*tensor.Tensor, error) {
	if len(z.Shape) != 2 || z.Shape[1] != g.latentDim {
		return nil, fmt.Errorf("generator expects latent batch (B, %d), got shape %v", g.latentDim, z.Shape)
	}
	seq, err := repeatSteps(z, g.nSteps)
	if err != nil {
		return nil, err
	}
	return g.net.Forward(seq)
}

// repeatSteps stacks x n times along a new leading time dimension
func repeatSteps(x *tensor.Tensor, n int) (*tensor.Tensor, error) {
	copies := make([]*tensor.Tensor, n)
	for i := range copies {
		copies[i] = x
	}
	return tensor.StackAutograd(copies)
}

// LatentDim returns the size of the latent vector
func (g *Generator) LatentDim() int { return g.latentDim }

// OutFeatures returns the number of values generated per sample and step
func (g *Generator) OutFeatures() int { return g.outFeatures }

func (g *Generator) Parameters() []*tensor.Tensor { return g.net.Parameters() }
func (g *Generator) Children() []training.Module  { return []training.Module{g.net} }

func (g *Generator) Train() {
	g.training = true
	g.net.Train()
}

func (g *Generator) Eval() {
	g.training = false
	g.net.Eval()
}

func (g *Generator) IsTraining() bool { return g.training }
