// Package gan trains a spiking generator against a spiking critic.
package gan

import (
	"fmt"

	"github.com/tsawler/spiking-gan/config"
	"github.com/tsawler/spiking-gan/tensor"
	"github.com/tsawler/spiking-gan/training"
)

// Critic scores time-major fake batches with Forward and batch-major real
// batches with ForwardImages. Both return (T, B, 1).
type Critic interface {
	training.Module
	ForwardImages(x *tensor.Tensor) (*tensor.Tensor, error)
}

// DiscriminatorScores are the detached results of one critic update
type DiscriminatorScores struct {
	Fake float64
	Real float64
	Loss float64
}

// ReduceScore turns a (T, B, 1) score into a scalar. Spike outputs are
// averaged over nSteps into firing rates before the batch mean; membrane
// outputs are averaged as they are.
func ReduceScore(y *tensor.Tensor, nSteps int, isMem bool) (*tensor.Tensor, error) {
	if isMem {
		return tensor.MeanAutograd(y)
	}
	if nSteps <= 0 {
		return nil, fmt.Errorf("n_steps must be positive, got %d", nSteps)
	}
	sum, err := tensor.SumDim0Autograd(y)
	if err != nil {
		return nil, err
	}
	rate, err := tensor.ScaleAutograd(sum, 1/float32(nSteps))
	if err != nil {
		return nil, err
	}
	return tensor.MeanAutograd(rate)
}

// FakeBatchShape is the shape generator output takes before it reaches the
// critic: (T, B, C, H, W) for direct input, (T, B, H*W) otherwise.
func FakeBatchShape(cfg *config.Config, imgSize, channels, batch int) []int {
	if cfg.NetDDirectInput {
		return []int{cfg.NSteps, batch, channels, imgSize, imgSize}
	}
	return []int{cfg.NSteps, batch, imgSize * imgSize}
}

func generate(cfg *config.Config, z *tensor.Tensor, netG training.Module, imgSize, channels int) (*tensor.Tensor, error) {
	out, err := netG.Forward(z)
	if err != nil {
		return nil, fmt.Errorf("generator forward: %w", err)
	}
	fake, err := tensor.ReshapeAutograd(out, FakeBatchShape(cfg, imgSize, channels, z.Shape[0]))
	if err != nil {
		return nil, fmt.Errorf("reshape generator output %v: %w", out.Shape, err)
	}
	return fake, nil
}

// UpdateDiscriminator runs one critic step on the real batch x and
// generated samples from z. Neuron state is left as the last forward pass
// left it.
func UpdateDiscriminator(cfg *config.Config, x, z *tensor.Tensor, netD Critic, netG training.Module, optD training.Optimizer, imgSize, channels int) (DiscriminatorScores, error) {
	var scores DiscriminatorScores
	if len(x.Shape) == 0 || len(z.Shape) == 0 || x.Shape[0] != z.Shape[0] {
		return scores, fmt.Errorf("real batch %v and latent batch %v differ in size", x.Shape, z.Shape)
	}

	optD.ZeroGrad()

	realOut, err := netD.ForwardImages(x)
	if err != nil {
		return scores, fmt.Errorf("critic forward on real batch: %w", err)
	}
	realY, err := ReduceScore(realOut, cfg.NSteps, cfg.IsMem)
	if err != nil {
		return scores, err
	}
	if err := realY.Backward(); err != nil {
		return scores, fmt.Errorf("backward real score: %w", err)
	}
	if err := training.ResetNet(netD); err != nil {
		return scores, err
	}

	var fake *tensor.Tensor
	err = tensor.NoGrad(func() error {
		var err error
		fake, err = generate(cfg, z, netG, imgSize, channels)
		return err
	})
	if err != nil {
		return scores, err
	}
	fake = fake.Detach()

	fakeOut, err := netD.Forward(fake)
	if err != nil {
		return scores, fmt.Errorf("critic forward on fake batch: %w", err)
	}
	fakeY, err := ReduceScore(fakeOut, cfg.NSteps, cfg.IsMem)
	if err != nil {
		return scores, err
	}
	loss, err := tensor.ScaleAutograd(fakeY, -1)
	if err != nil {
		return scores, err
	}
	if err := loss.Backward(); err != nil {
		return scores, fmt.Errorf("backward fake score: %w", err)
	}
	if err := optD.Step(); err != nil {
		return scores, fmt.Errorf("critic optimizer: %w", err)
	}

	if scores.Real, err = realY.Scalar(); err != nil {
		return scores, err
	}
	if scores.Fake, err = fakeY.Scalar(); err != nil {
		return scores, err
	}
	if scores.Loss, err = loss.Scalar(); err != nil {
		return scores, err
	}
	return scores, nil
}

// UpdateGenerator runs one generator step against the critic and returns
// the critic's score of the generated batch. Gradients reach the critic
// parameters but only the generator is stepped.
func UpdateGenerator(cfg *config.Config, z *tensor.Tensor, netD Critic, netG training.Module, optG training.Optimizer, imgSize, channels int) (float64, error) {
	optG.ZeroGrad()

	fake, err := generate(cfg, z, netG, imgSize, channels)
	if err != nil {
		return 0, err
	}
	out, err := netD.Forward(fake)
	if err != nil {
		return 0, fmt.Errorf("critic forward on generated batch: %w", err)
	}
	fakeY, err := ReduceScore(out, cfg.NSteps, cfg.IsMem)
	if err != nil {
		return 0, err
	}
	if err := fakeY.Backward(); err != nil {
		return 0, fmt.Errorf("backward generator score: %w", err)
	}
	if err := optG.Step(); err != nil {
		return 0, fmt.Errorf("generator optimizer: %w", err)
	}
	return fakeY.Scalar()
}
