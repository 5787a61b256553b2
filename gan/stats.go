package gan

import (
	"fmt"
	"time"

	"gonum.org/v1/gonum/stat"
)

// EpochStats summarises one epoch of training
type EpochStats struct {
	Epoch   int
	Batches int

	FakeMean      float64
	RealMean      float64
	GeneratorMean float64
	LossMean      float64

	FakeStd      float64
	RealStd      float64
	GeneratorStd float64

	LearningRateG float64
	LearningRateD float64
	Duration      time.Duration
}

// String formats the per-epoch summary line
func (s EpochStats) String() string {
	return fmt.Sprintf("Epoch %d: fake %.4f (±%.4f), real %.4f (±%.4f), generator %.4f (±%.4f), lr_G %.2e, lr_D %.2e, %d batches in %s",
		s.Epoch, s.FakeMean, s.FakeStd, s.RealMean, s.RealStd, s.GeneratorMean, s.GeneratorStd,
		s.LearningRateG, s.LearningRateD, s.Batches, s.Duration.Round(time.Millisecond))
}

// scoreAccumulator collects the per-batch scores of one epoch
type scoreAccumulator struct {
	fake, real, gen, loss []float64
}

func (a *scoreAccumulator) add(d DiscriminatorScores, g float64) {
	a.fake = append(a.fake, d.Fake)
	a.real = append(a.real, d.Real)
	a.loss = append(a.loss, d.Loss)
	a.gen = append(a.gen, g)
}

func (a *scoreAccumulator) stats(epoch int) EpochStats {
	s := EpochStats{Epoch: epoch, Batches: len(a.fake)}
	s.FakeMean, s.FakeStd = meanStd(a.fake)
	s.RealMean, s.RealStd = meanStd(a.real)
	s.GeneratorMean, s.GeneratorStd = meanStd(a.gen)
	s.LossMean, _ = meanStd(a.loss)
	return s
}

// meanStd is zero for an empty sample and has zero spread for one value
func meanStd(x []float64) (float64, float64) {
	switch len(x) {
	case 0:
		return 0, 0
	case 1:
		return x[0], 0
	}
	return stat.MeanStdDev(x, nil)
}
