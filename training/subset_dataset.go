package training

import (
	"fmt"

	"github.com/tsawler/spiking-gan/tensor"
)

// SubsetDataset exposes a fixed selection of samples of another dataset,
// renumbered from zero.
type SubsetDataset struct {
	source  Dataset
	indices []int
}

// NewSubsetDataset keeps the first limit samples of source. A limit beyond
// the end of source keeps everything.
func NewSubsetDataset(source Dataset, limit int) (*SubsetDataset, error) {
	if limit < 0 {
		return nil, fmt.Errorf("subset limit must be >= 0, got %d", limit)
	}
	limit = min(limit, source.Len())
	indices := make([]int, limit)
	for i := range indices {
		indices[i] = i
	}
	return &SubsetDataset{source: source, indices: indices}, nil
}

func (sd *SubsetDataset) Len() int {
	return len(sd.indices)
}

// Get returns sample idx of the subset
func (sd *SubsetDataset) Get(idx int) (*tensor.Tensor, *tensor.Tensor, error) {
	if idx < 0 || idx >= len(sd.indices) {
		return nil, nil, fmt.Errorf("subset index %d out of range [0, %d)", idx, len(sd.indices))
	}
	return sd.source.Get(sd.indices[idx])
}
