package dataloader

import (
	"fmt"

	"github.com/tsawler/spiking-gan/tensor"
	"github.com/tsawler/spiking-gan/training"
)

// CachedDataset memoises the samples of an expensive dataset (event binning,
// image decoding) so later epochs skip the preprocessing.
type CachedDataset struct {
	inner training.Dataset
	cache *CacheManager
}

// NewCachedDataset wraps inner with cache
func NewCachedDataset(inner training.Dataset, cache *CacheManager) *CachedDataset {
	return &CachedDataset{inner: inner, cache: cache}
}

// Len returns the length of the wrapped dataset
func (cd *CachedDataset) Len() int {
	return cd.inner.Len()
}

// Get returns sample idx, loading it from the wrapped dataset on a miss.
// Returned tensors never alias cached memory.
func (cd *CachedDataset) Get(idx int) (*tensor.Tensor, *tensor.Tensor, error) {
	if s, ok := cd.cache.Get(idx); ok {
		return s.tensors()
	}

	data, label, err := cd.inner.Get(idx)
	if err != nil {
		return nil, nil, err
	}
	s, err := newSample(data, label)
	if err != nil {
		return nil, nil, fmt.Errorf("cache sample %d: %w", idx, err)
	}
	cd.cache.Put(idx, s)
	return data, label, nil
}

// Stats exposes the cache statistics
func (cd *CachedDataset) Stats() CacheStats {
	return cd.cache.Stats()
}

func newSample(data, label *tensor.Tensor) (*Sample, error) {
	values, err := data.GetFloat32Data()
	if err != nil {
		return nil, err
	}
	s := &Sample{
		Data:  append([]float32(nil), values...),
		Shape: append([]int(nil), data.Shape...),
	}
	if label != nil {
		labels, err := label.GetInt32Data()
		if err != nil {
			return nil, err
		}
		s.Label = append([]int32(nil), labels...)
	}
	return s, nil
}

func (s *Sample) tensors() (*tensor.Tensor, *tensor.Tensor, error) {
	data, err := tensor.NewTensor(s.Shape, tensor.Float32, tensor.CPU, append([]float32(nil), s.Data...))
	if err != nil {
		return nil, nil, err
	}
	if s.Label == nil {
		return data, nil, nil
	}
	label, err := tensor.NewTensor([]int{len(s.Label)}, tensor.Int32, tensor.CPU, append([]int32(nil), s.Label...))
	if err != nil {
		return nil, nil, err
	}
	return data, label, nil
}
