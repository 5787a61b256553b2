package dataset

import (
	"fmt"
	"sort"

	"github.com/tsawler/spiking-gan/training"
)

// Options carries the configuration a loader needs to open its dataset
type Options struct {
	DataPath  string
	NSteps    int
	Normalize bool
}

// Info describes a registered dataset
type Info struct {
	Name     string
	Channels int
	ImgSize  int
	// Temporal datasets yield (n_steps, C, H, W) samples, static ones (C, H, W)
	Temporal bool
	Open     func(Options) (training.Dataset, error)
}

// SampleBytes is the memory footprint of one preprocessed sample and its label
func (i Info) SampleBytes(nSteps int) int {
	n := i.Channels * i.ImgSize * i.ImgSize
	if i.Temporal {
		n *= nSteps
	}
	return 4 * (n + 1)
}

var registry = map[string]Info{
	"MNIST": {
		Name: "MNIST", Channels: 1, ImgSize: 28,
		Open: func(o Options) (training.Dataset, error) {
			return NewMNISTDataset(o.DataPath, o.Normalize)
		},
	},
	"CelebA": {
		Name: "CelebA", Channels: 3, ImgSize: 64,
		Open: func(o Options) (training.Dataset, error) {
			return NewImageFolderDataset(o.DataPath, 64, o.Normalize)
		},
	},
	"dvs_mnist_28": {
		Name: "dvs_mnist_28", Channels: 2, ImgSize: 28, Temporal: true,
		Open: func(o Options) (training.Dataset, error) {
			return NewNMNISTDataset(o.DataPath, o.NSteps, 28, false)
		},
	},
	"dvs_mnist_28_denoise": {
		Name: "dvs_mnist_28_denoise", Channels: 2, ImgSize: 28, Temporal: true,
		Open: func(o Options) (training.Dataset, error) {
			return NewNMNISTDataset(o.DataPath, o.NSteps, 28, true)
		},
	},
}

// Lookup returns the registered dataset called name
func Lookup(name string) (Info, error) {
	info, ok := registry[name]
	if !ok {
		return Info{}, fmt.Errorf("unknown dataset %q (known: %v)", name, Names())
	}
	return info, nil
}

// Names lists the registered datasets in sorted order
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
