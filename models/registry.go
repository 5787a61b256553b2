package models

import (
	"fmt"
	"sort"

	"github.com/tsawler/spiking-gan/vision/dataset"
)

// Layout describes the hidden widths used for one dataset
type Layout struct {
	GeneratorHidden     []int
	DiscriminatorHidden []int
}

var layouts = map[string]Layout{
	"MNIST": {
		GeneratorHidden:     []int{256, 512},
		DiscriminatorHidden: []int{512, 256},
	},
	"CelebA": {
		GeneratorHidden:     []int{512, 1024},
		DiscriminatorHidden: []int{1024, 512},
	},
	"dvs_mnist_28": {
		GeneratorHidden:     []int{256, 512},
		DiscriminatorHidden: []int{512, 256},
	},
	"dvs_mnist_28_denoise": {
		GeneratorHidden:     []int{256, 512},
		DiscriminatorHidden: []int{512, 256},
	},
}

// Supported reports whether a network layout exists for the dataset
func Supported(name string) bool {
	_, ok := layouts[name]
	return ok
}

// Datasets lists the dataset names with a network layout
func Datasets() []string {
	names := make([]string, 0, len(layouts))
	for name := range layouts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ForDataset builds the generator and discriminator pair for a registered
// dataset. Both networks see C*H*W values per time step.
func ForDataset(name string, latentDim, nSteps int, isMem bool) (*Generator, *Discriminator, error) {
	layout, ok := layouts[name]
	if !ok {
		return nil, nil, fmt.Errorf("no network layout for dataset %q", name)
	}
	info, err := dataset.Lookup(name)
	if err != nil {
		return nil, nil, err
	}
	features := info.Channels * info.ImgSize * info.ImgSize

	gen, err := NewGenerator(latentDim, nSteps, layout.GeneratorHidden, features)
	if err != nil {
		return nil, nil, err
	}
	disc, err := NewDiscriminator(features, nSteps, layout.DiscriminatorHidden, isMem)
	if err != nil {
		return nil, nil, err
	}
	return gen, disc, nil
}
