package training

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/tsawler/spiking-gan/tensor"
)

// Dataset interface defines methods that all datasets must implement
type Dataset interface {
	Len() int                                                           // Total number of samples
	Get(idx int) (data *tensor.Tensor, label *tensor.Tensor, err error) // Returns a single sample
}

// DataLoader provides batching and shuffling over a Dataset
type DataLoader struct {
	dataset   Dataset
	batchSize int
	shuffle   bool
	dropLast  bool
	device    tensor.DeviceType
	rng       *rand.Rand
	indices   []int
	position  int
	mutex     sync.Mutex
}

// NewDataLoader creates a new DataLoader. rng drives shuffling; a nil rng
// with shuffle enabled uses a source seeded with 1.
func NewDataLoader(dataset Dataset, batchSize int, shuffle, dropLast bool, rng *rand.Rand, device tensor.DeviceType) (*DataLoader, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}
	if dataset.Len() == 0 {
		return nil, fmt.Errorf("dataset is empty")
	}
	if dropLast && dataset.Len() < batchSize {
		return nil, fmt.Errorf("dataset has %d samples, fewer than one batch of %d", dataset.Len(), batchSize)
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}

	datasetLen := dataset.Len()
	indices := make([]int, datasetLen)
	for i := range indices {
		indices[i] = i
	}

	return &DataLoader{
		dataset:   dataset,
		batchSize: batchSize,
		shuffle:   shuffle,
		dropLast:  dropLast,
		device:    device,
		rng:       rng,
		indices:   indices,
	}, nil
}

// Batch represents a batch of data and labels
type Batch struct {
	Data   *tensor.Tensor
	Labels *tensor.Tensor
}

// Len returns the number of batches in an epoch
func (dl *DataLoader) Len() int {
	if dl.dropLast {
		return dl.dataset.Len() / dl.batchSize
	}
	return (dl.dataset.Len() + dl.batchSize - 1) / dl.batchSize
}

// Reset resets the data loader for a new epoch
func (dl *DataLoader) Reset() {
	dl.mutex.Lock()
	defer dl.mutex.Unlock()

	dl.position = 0

	if dl.shuffle {
		dl.rng.Shuffle(len(dl.indices), func(i, j int) {
			dl.indices[i], dl.indices[j] = dl.indices[j], dl.indices[i]
		})
	}
}

// Next returns the next batch or nil if epoch is complete
func (dl *DataLoader) Next() (*Batch, error) {
	dl.mutex.Lock()
	defer dl.mutex.Unlock()

	if !dl.hasNext() {
		return nil, nil // End of epoch
	}

	// Calculate batch end position
	batchEnd := dl.position + dl.batchSize
	if batchEnd > len(dl.indices) {
		batchEnd = len(dl.indices)
	}

	batchIndices := dl.indices[dl.position:batchEnd]
	dl.position = batchEnd

	batch, err := dl.loadBatch(batchIndices)
	if err != nil {
		return nil, fmt.Errorf("failed to load batch: %w", err)
	}

	return batch, nil
}

// HasNext returns true if there are more batches in the current epoch
func (dl *DataLoader) HasNext() bool {
	dl.mutex.Lock()
	defer dl.mutex.Unlock()
	return dl.hasNext()
}

func (dl *DataLoader) hasNext() bool {
	remaining := len(dl.indices) - dl.position
	if dl.dropLast {
		return remaining >= dl.batchSize
	}
	return remaining > 0
}

// loadBatch loads a batch of samples and combines them into batched tensors
func (dl *DataLoader) loadBatch(indices []int) (*Batch, error) {
	if len(indices) == 0 {
		return nil, fmt.Errorf("empty batch indices")
	}
	batchSize := len(indices)

	// Load first sample to determine shapes and types
	firstData, firstLabel, err := dl.dataset.Get(indices[0])
	if err != nil {
		return nil, fmt.Errorf("failed to load sample %d: %w", indices[0], err)
	}

	// Determine batch shapes
	dataShape := append([]int{batchSize}, firstData.Shape...)
	labelShape := append([]int{batchSize}, firstLabel.Shape...)

	batchData, err := tensor.Zeros(dataShape, firstData.DType, dl.device)
	if err != nil {
		return nil, fmt.Errorf("failed to create batch data tensor: %w", err)
	}

	batchLabels, err := tensor.Zeros(labelShape, firstLabel.DType, dl.device)
	if err != nil {
		return nil, fmt.Errorf("failed to create batch labels tensor: %w", err)
	}

	// Load and copy all samples into batch tensors
	for i, idx := range indices {
		data, label := firstData, firstLabel
		if i > 0 {
			if data, label, err = dl.dataset.Get(idx); err != nil {
				return nil, fmt.Errorf("failed to load sample %d: %w", idx, err)
			}
		}

		if err := copyInto(batchData, data, i); err != nil {
			return nil, fmt.Errorf("failed to copy data for sample %d: %w", idx, err)
		}
		if err := copyInto(batchLabels, label, i); err != nil {
			return nil, fmt.Errorf("failed to copy label for sample %d: %w", idx, err)
		}
	}

	return &Batch{
		Data:   batchData,
		Labels: batchLabels,
	}, nil
}

// copyInto copies a sample tensor into a specific position in the batch tensor
func copyInto(batchTensor, sampleTensor *tensor.Tensor, batchIndex int) error {
	if batchTensor.DType != sampleTensor.DType {
		return fmt.Errorf("dtype mismatch: batch %s, sample %s", batchTensor.DType, sampleTensor.DType)
	}

	sampleSize := sampleTensor.NumElems
	if batchTensor.NumElems/batchTensor.Shape[0] != sampleSize {
		return fmt.Errorf("sample shape %v does not match batch shape %v", sampleTensor.Shape, batchTensor.Shape)
	}
	offset := batchIndex * sampleSize

	switch batchTensor.DType {
	case tensor.Float32:
		dst, _ := batchTensor.GetFloat32Data()
		src, _ := sampleTensor.GetFloat32Data()
		copy(dst[offset:offset+sampleSize], src)
	case tensor.Int32:
		dst, _ := batchTensor.GetInt32Data()
		src, _ := sampleTensor.GetInt32Data()
		copy(dst[offset:offset+sampleSize], src)
	default:
		return fmt.Errorf("unsupported dtype: %s", batchTensor.DType)
	}

	return nil
}

// SimpleDataset holds in-memory samples
type SimpleDataset struct {
	data   []*tensor.Tensor
	labels []*tensor.Tensor
}

// NewSimpleDataset creates a new SimpleDataset
func NewSimpleDataset(data, labels []*tensor.Tensor) (*SimpleDataset, error) {
	if len(data) != len(labels) {
		return nil, fmt.Errorf("data and labels must have the same length: got %d and %d", len(data), len(labels))
	}

	return &SimpleDataset{
		data:   data,
		labels: labels,
	}, nil
}

// Len returns the number of samples in the dataset
func (ds *SimpleDataset) Len() int {
	return len(ds.data)
}

// Get returns a sample at the given index
func (ds *SimpleDataset) Get(idx int) (data *tensor.Tensor, label *tensor.Tensor, err error) {
	if idx < 0 || idx >= len(ds.data) {
		return nil, nil, fmt.Errorf("index %d out of range [0, %d)", idx, len(ds.data))
	}

	return ds.data[idx], ds.labels[idx], nil
}
