package gan

import (
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/tsawler/spiking-gan/checkpoints"
	"github.com/tsawler/spiking-gan/config"
	"github.com/tsawler/spiking-gan/models"
	"github.com/tsawler/spiking-gan/tensor"
	"github.com/tsawler/spiking-gan/training"
	"github.com/tsawler/spiking-gan/vision/dataloader"
	"github.com/tsawler/spiking-gan/vision/dataset"
	"github.com/tsawler/spiking-gan/vision/render"
)

// ScorePlotFile is the chart written next to the epoch samples
const ScorePlotFile = "scores.png"

// Option customises a Trainer before Prepare
type Option func(*Trainer)

// WithDataset trains on ds instead of opening the configured dataset
func WithDataset(ds training.Dataset) Option {
	return func(t *Trainer) { t.dataset = ds }
}

// WithOutput sends summaries and progress bars to w instead of stdout
func WithOutput(w io.Writer) Option {
	return func(t *Trainer) { t.out = w }
}

// Trainer drives adversarial training of one generator/critic pair
type Trainer struct {
	cfg    *config.Config
	info   dataset.Info
	device tensor.DeviceType
	rng    *rand.Rand
	out    io.Writer

	dataset training.Dataset
	cached  *dataloader.CachedDataset
	loader  *training.DataLoader

	gen    *models.Generator
	disc   *models.Discriminator
	optG   training.Optimizer
	optD   training.Optimizer
	schedG *training.SchedulerStepper
	schedD *training.SchedulerStepper

	// resetNet clears neuron state between passes
	resetNet func(training.Module) error

	saver   *checkpoints.CheckpointSaver
	logger  *log.Logger
	logFile *os.File

	startEpoch int
	step       int
	runID      string
	metrics    []EpochStats
}

// NewTrainer creates a Trainer for a validated configuration
func NewTrainer(cfg *config.Config, opts ...Option) *Trainer {
	t := &Trainer{
		cfg:      cfg,
		out:      os.Stdout,
		rng:      rand.New(rand.NewSource(cfg.Seed)),
		resetNet: training.ResetNet,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Prepare creates the output directories, opens the log, builds data
// pipeline, networks and optimizers, and restores the checkpoint when
// resuming.
func (t *Trainer) Prepare() error {
	cfg := t.cfg
	var err error
	if t.device, err = tensor.ParseDevice(cfg.Device); err != nil {
		return err
	}
	if t.info, err = cfg.DatasetInfo(); err != nil {
		return err
	}

	for _, dir := range []string{filepath.Dir(cfg.LogPath()), cfg.ImageDir(), cfg.CheckpointDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	if t.logFile, err = os.OpenFile(cfg.LogPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644); err != nil {
		return fmt.Errorf("failed to open log: %w", err)
	}
	t.logger = log.New(t.logFile, "", log.LstdFlags)
	t.logger.Printf("config: %+v", *cfg)

	training.SetRandomSeed(cfg.Seed)
	if err := t.prepareData(); err != nil {
		return err
	}

	if t.gen, t.disc, err = models.ForDataset(t.info.Name, cfg.LatentDim, cfg.NSteps, cfg.IsMem); err != nil {
		return err
	}
	if t.optG, err = training.NewOptimizer(cfg.Optimizer, t.gen.Parameters(), cfg.LrG); err != nil {
		return err
	}
	if t.optD, err = training.NewOptimizer(cfg.Optimizer, t.disc.Parameters(), cfg.LrD); err != nil {
		return err
	}

	format, err := checkpoints.ParseFormat(cfg.CheckpointFormat)
	if err != nil {
		return err
	}
	t.saver = checkpoints.NewCheckpointSaver(format)
	t.runID = checkpoints.NewRunID()
	if cfg.FromCheckpoint {
		if err := t.resume(format); err != nil {
			return err
		}
	}

	if cfg.IsScheduler {
		t.schedG = training.NewSchedulerStepper(training.NewCosineAnnealingLRScheduler(cfg.SchedulerTMax, 0), t.optG, cfg.LrG, t.startEpoch)
		t.schedD = training.NewSchedulerStepper(training.NewCosineAnnealingLRScheduler(cfg.SchedulerTMax, 0), t.optD, cfg.LrD, t.startEpoch)
	}
	return nil
}

func (t *Trainer) prepareData() error {
	cfg := t.cfg
	ds := t.dataset
	if ds == nil {
		var err error
		ds, err = t.info.Open(dataset.Options{DataPath: cfg.DataPath, NSteps: cfg.NSteps, Normalize: cfg.IsDataNormalized})
		if err != nil {
			return fmt.Errorf("open dataset %s: %w", t.info.Name, err)
		}
	}
	if cfg.MaxSamples > 0 {
		sub, err := training.NewSubsetDataset(ds, cfg.MaxSamples)
		if err != nil {
			return err
		}
		ds = sub
	}

	budget, err := cfg.CacheBytes()
	if err != nil {
		return err
	}
	if budget > 0 {
		cache, err := dataloader.NewCacheManagerForBytes(budget, t.info.SampleBytes(cfg.NSteps))
		if err != nil {
			return err
		}
		t.cached = dataloader.NewCachedDataset(ds, cache)
		ds = t.cached
	}
	t.dataset = ds

	t.loader, err = training.NewDataLoader(ds, cfg.BatchSize, true, cfg.DropLast, rand.New(rand.NewSource(cfg.Seed)), t.device)
	if err != nil {
		return fmt.Errorf("create data loader: %w", err)
	}
	t.logger.Printf("dataset %s: %d samples, %d batches per epoch", t.info.Name, ds.Len(), t.loader.Len())
	return nil
}

func (t *Trainer) networks() checkpoints.Networks {
	return checkpoints.Networks{
		Generator:              t.gen,
		Discriminator:          t.disc,
		GeneratorOptimizer:     t.optG,
		DiscriminatorOptimizer: t.optD,
	}
}

func (t *Trainer) resume(fallback checkpoints.CheckpointFormat) error {
	path := t.cfg.CheckpointPath
	saver := checkpoints.NewCheckpointSaver(checkpoints.FormatForPath(path, fallback))
	c, err := saver.LoadCheckpoint(path)
	if err != nil {
		return fmt.Errorf("load checkpoint %s: %w", path, err)
	}
	if err := checkpoints.Restore(c, t.networks()); err != nil {
		return fmt.Errorf("restore checkpoint %s: %w", path, err)
	}
	t.startEpoch = c.TrainingState.Epoch + 1
	t.step = c.TrainingState.Step
	if c.Metadata.RunID != "" {
		t.runID = c.Metadata.RunID
	}
	t.logger.Printf("resumed from %s at epoch %d", path, t.startEpoch)
	fmt.Fprintf(t.out, "Resumed from %s, starting at epoch %d\n", path, t.startEpoch)
	return nil
}

// Close releases the log file
func (t *Trainer) Close() error {
	if t.logFile == nil {
		return nil
	}
	err := t.logFile.Close()
	t.logFile = nil
	return err
}

// StartEpoch is the first epoch Run will train
func (t *Trainer) StartEpoch() int { return t.startEpoch }

// Generator returns the generator network
func (t *Trainer) Generator() *models.Generator { return t.gen }

// Discriminator returns the critic network
func (t *Trainer) Discriminator() *models.Discriminator { return t.disc }

// Run trains from the start epoch up to the configured number of epochs
func (t *Trainer) Run() ([]EpochStats, error) {
	if t.loader == nil {
		return nil, errors.New("trainer is not prepared")
	}
	var history []EpochStats
	for epoch := t.startEpoch; epoch < t.cfg.Epochs; epoch++ {
		stats, err := t.RunEpoch(epoch)
		if err != nil {
			return history, fmt.Errorf("epoch %d: %w", epoch, err)
		}
		history = append(history, stats)
	}
	return history, nil
}

func (t *Trainer) latent(batch int) (*tensor.Tensor, error) {
	return tensor.RandomNormal(t.rng, []int{batch, t.cfg.LatentDim}, 0, 1, t.device)
}

func (t *Trainer) resetNets() error {
	if err := t.resetNet(t.disc); err != nil {
		return err
	}
	return t.resetNet(t.gen)
}

// RunEpoch trains one pass over the data, then samples, renders and
// checkpoints as configured.
func (t *Trainer) RunEpoch(epoch int) (EpochStats, error) {
	cfg := t.cfg
	start := time.Now()
	t.gen.Train()
	t.disc.Train()
	t.loader.Reset()

	var bar *training.ProgressBar
	if cfg.Progress {
		bar = training.NewProgressBarTo(t.out, fmt.Sprintf("Epoch %d", epoch), t.loader.Len())
	}

	var acc scoreAccumulator
	for i := 1; ; i++ {
		batch, err := t.loader.Next()
		if err != nil {
			return EpochStats{}, err
		}
		if batch == nil {
			break
		}

		x := batch.Data
		if !cfg.NetDDirectInput {
			if x, err = x.Reshape([]int{x.Shape[0], -1}); err != nil {
				return EpochStats{}, err
			}
		}
		if x, err = x.ToDevice(t.device); err != nil {
			return EpochStats{}, err
		}

		z, err := t.latent(x.Shape[0])
		if err != nil {
			return EpochStats{}, err
		}
		scores, err := UpdateDiscriminator(cfg, x, z, t.disc, t.gen, t.optD, t.info.ImgSize, t.info.Channels)
		if err != nil {
			return EpochStats{}, fmt.Errorf("batch %d critic step: %w", i, err)
		}
		if err := t.resetNets(); err != nil {
			return EpochStats{}, err
		}

		genScore, err := UpdateGenerator(cfg, z, t.disc, t.gen, t.optG, t.info.ImgSize, t.info.Channels)
		if err != nil {
			return EpochStats{}, fmt.Errorf("batch %d generator step: %w", i, err)
		}
		if err := t.resetNets(); err != nil {
			return EpochStats{}, err
		}

		acc.add(scores, genScore)
		t.step++
		if bar != nil {
			bar.Update(i, map[string]float64{"fake": scores.Fake, "real": scores.Real, "gen": genScore})
		}
	}
	if bar != nil {
		bar.Finish()
	}

	stats := acc.stats(epoch)
	if err := t.finishEpoch(epoch, &stats); err != nil {
		return stats, err
	}
	stats.Duration = time.Since(start)

	t.metrics = append(t.metrics, stats)
	if cfg.PlotScores {
		if err := PlotScores(filepath.Join(cfg.ImageDir(), ScorePlotFile), cfg.Name, t.metrics); err != nil {
			return stats, err
		}
	}

	t.logger.Print(stats.String())
	fmt.Fprintln(t.out, stats.String())
	if t.cached != nil {
		t.logger.Printf("sample cache: %s", t.cached.Stats())
	}
	return stats, nil
}

func (t *Trainer) finishEpoch(epoch int, stats *EpochStats) error {
	cfg := t.cfg
	if cfg.IsScheduler {
		t.schedG.Step()
		t.schedD.Step()
	}
	stats.LearningRateG = t.optG.GetLR()
	stats.LearningRateD = t.optD.GetLR()

	if err := t.sample(epoch); err != nil {
		return fmt.Errorf("sample: %w", err)
	}

	if (epoch+1)%cfg.SaveEvery != 0 {
		return nil
	}
	c, err := checkpoints.Capture(t.networks(), checkpoints.TrainingState{Epoch: epoch, Step: t.step}, checkpoints.CheckpointMetadata{
		RunID:       t.runID,
		Name:        cfg.Name,
		Dataset:     t.info.Name,
		Description: fmt.Sprintf("%s after epoch %d", cfg.Name, epoch),
	})
	if err != nil {
		return err
	}
	path := t.CheckpointPath(epoch)
	if err := t.saver.SaveCheckpoint(c, path); err != nil {
		return err
	}
	t.logger.Printf("saved checkpoint %s", path)
	return nil
}

// CheckpointPath is where the checkpoint written after epoch is stored
func (t *Trainer) CheckpointPath(epoch int) string {
	name := fmt.Sprintf("%s_%d.%s", t.cfg.Name, epoch+1, t.saver.Format().Extension())
	return filepath.Join(t.cfg.CheckpointDir(), name)
}

// SamplePath is where the samples drawn after epoch are rendered
func (t *Trainer) SamplePath(epoch int) string {
	ext := "png"
	if t.cfg.DecodeMethod == config.DecodeNone {
		ext = "gif"
	}
	return filepath.Join(t.cfg.ImageDir(), fmt.Sprintf("Epoch%d.%s", epoch, ext))
}

func (t *Trainer) sample(epoch int) error {
	cfg := t.cfg
	t.gen.Eval()
	defer t.gen.Train()

	var out *tensor.Tensor
	err := tensor.NoGrad(func() error {
		z, err := t.latent(cfg.SampleCount)
		if err != nil {
			return err
		}
		if out, err = t.gen.Forward(z); err != nil {
			return err
		}
		return t.resetNet(t.gen)
	})
	if err != nil {
		return err
	}

	imgs, err := Decode(cfg.DecodeMethod, out, t.info.Channels, t.info.ImgSize)
	if err != nil {
		return err
	}
	path := t.SamplePath(epoch)
	if cfg.DecodeMethod == config.DecodeNone {
		return render.SaveGIF(path, imgs, cfg.SampleCols)
	}
	return render.SavePNG(path, imgs, cfg.SampleCols)
}
