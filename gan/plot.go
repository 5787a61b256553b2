package gan

import (
	"fmt"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// PlotScores draws the per-epoch mean scores of history to path. The image
// format follows the file extension.
func PlotScores(path, title string, history []EpochStats) error {
	if len(history) == 0 {
		return fmt.Errorf("no epochs to plot")
	}

	fake := make(plotter.XYs, len(history))
	reals := make(plotter.XYs, len(history))
	gen := make(plotter.XYs, len(history))
	for i, s := range history {
		x := float64(s.Epoch)
		fake[i] = plotter.XY{X: x, Y: s.FakeMean}
		reals[i] = plotter.XY{X: x, Y: s.RealMean}
		gen[i] = plotter.XY{X: x, Y: s.GeneratorMean}
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "epoch"
	p.Y.Label.Text = "critic score"
	p.Legend.Top = true

	if err := plotutil.AddLinePoints(p, "fake", fake, "real", reals, "generator", gen); err != nil {
		return fmt.Errorf("plot scores: %w", err)
	}
	if err := p.Save(6*vg.Inch, 4*vg.Inch, path); err != nil {
		return fmt.Errorf("save score plot: %w", err)
	}
	return nil
}
