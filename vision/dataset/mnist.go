package dataset

import (
	"bufio"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/tsawler/spiking-gan/tensor"
	"github.com/tsawler/spiking-gan/vision/preprocessing"
)

const (
	idxImageMagic = 2051
	idxLabelMagic = 2049

	mnistTrainImages = "train-images-idx3-ubyte"
	mnistTrainLabels = "train-labels-idx1-ubyte"
)

// MNISTDataset holds the MNIST training images in memory as (1, 28, 28) samples
type MNISTDataset struct {
	images    []float32
	labels    []int32
	rows      int
	cols      int
	count     int
	normalize bool
}

// NewMNISTDataset reads the IDX training files under root. Both the raw and
// the gzip-compressed file names are accepted. The labels file is optional;
// without it every label is zero.
func NewMNISTDataset(root string, normalize bool) (*MNISTDataset, error) {
	r, closer, err := openIDX(root, mnistTrainImages)
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	ds := &MNISTDataset{normalize: normalize}
	if err := ds.readImages(r); err != nil {
		return nil, fmt.Errorf("read %s: %w", mnistTrainImages, err)
	}

	ds.labels = make([]int32, ds.count)
	lr, lcloser, err := openIDX(root, mnistTrainLabels)
	if err == nil {
		defer lcloser.Close()
		if err := ds.readLabels(lr); err != nil {
			return nil, fmt.Errorf("read %s: %w", mnistTrainLabels, err)
		}
	}
	return ds, nil
}

func openIDX(root, name string) (io.Reader, io.Closer, error) {
	plain := filepath.Join(root, name)
	if f, err := os.Open(plain); err == nil {
		return bufio.NewReader(f), f, nil
	}

	f, err := os.Open(plain + ".gz")
	if err != nil {
		return nil, nil, fmt.Errorf("open %s[.gz]: %w", plain, err)
	}
	gz, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("open %s.gz: %w", plain, err)
	}
	return gz, multiCloser{gz, f}, nil
}

type multiCloser []io.Closer

func (mc multiCloser) Close() error {
	var first error
	for _, c := range mc {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (ds *MNISTDataset) readImages(r io.Reader) error {
	var header [4]uint32
	if err := binary.Read(r, binary.BigEndian, &header); err != nil {
		return fmt.Errorf("header: %w", err)
	}
	if header[0] != idxImageMagic {
		return fmt.Errorf("bad magic %d, expected %d", header[0], idxImageMagic)
	}
	ds.count, ds.rows, ds.cols = int(header[1]), int(header[2]), int(header[3])
	if ds.count == 0 || ds.rows == 0 || ds.cols == 0 {
		return fmt.Errorf("empty image file (%d x %d x %d)", ds.count, ds.rows, ds.cols)
	}

	raw := make([]byte, ds.count*ds.rows*ds.cols)
	if _, err := io.ReadFull(r, raw); err != nil {
		return fmt.Errorf("pixels: %w", err)
	}
	ds.images = make([]float32, len(raw))
	for i, b := range raw {
		ds.images[i] = float32(b) / 255.0
	}
	if ds.normalize {
		preprocessing.NormalizeSymmetric(ds.images)
	}
	return nil
}

func (ds *MNISTDataset) readLabels(r io.Reader) error {
	var header [2]uint32
	if err := binary.Read(r, binary.BigEndian, &header); err != nil {
		return fmt.Errorf("header: %w", err)
	}
	if header[0] != idxLabelMagic {
		return fmt.Errorf("bad magic %d, expected %d", header[0], idxLabelMagic)
	}
	if int(header[1]) != ds.count {
		return fmt.Errorf("%d labels for %d images", header[1], ds.count)
	}
	raw := make([]byte, ds.count)
	if _, err := io.ReadFull(r, raw); err != nil {
		return fmt.Errorf("labels: %w", err)
	}
	for i, b := range raw {
		ds.labels[i] = int32(b)
	}
	return nil
}

// Len returns the number of images
func (ds *MNISTDataset) Len() int {
	return ds.count
}

// Get returns image idx as a (1, rows, cols) tensor and its digit label
func (ds *MNISTDataset) Get(idx int) (*tensor.Tensor, *tensor.Tensor, error) {
	if idx < 0 || idx >= ds.count {
		return nil, nil, fmt.Errorf("index %d out of range [0, %d)", idx, ds.count)
	}
	size := ds.rows * ds.cols
	pixels := append([]float32(nil), ds.images[idx*size:(idx+1)*size]...)
	data, err := tensor.NewTensor([]int{1, ds.rows, ds.cols}, tensor.Float32, tensor.CPU, pixels)
	if err != nil {
		return nil, nil, err
	}
	label, err := tensor.NewTensor([]int{1}, tensor.Int32, tensor.CPU, []int32{ds.labels[idx]})
	if err != nil {
		return nil, nil, err
	}
	return data, label, nil
}
