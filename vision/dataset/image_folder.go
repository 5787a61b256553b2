package dataset

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/tsawler/spiking-gan/tensor"
	"github.com/tsawler/spiking-gan/vision/preprocessing"
)

var imageMIMETypes = []string{"image/jpeg", "image/png"}

// ImageFolderDataset represents a dataset loaded from a directory structure
// where each subdirectory represents a class
type ImageFolderDataset struct {
	imagePaths []string
	labels     []int
	classNames []string
	processor  *preprocessing.ImageProcessor
	normalize  bool
}

// NewImageFolderDataset creates a dataset from a directory structure. Files
// are selected by content, not by extension. Images are center-cropped and
// resized to size x size; normalize maps pixels onto [-1, 1].
func NewImageFolderDataset(root string, size int, normalize bool) (*ImageFolderDataset, error) {
	if size <= 0 {
		return nil, fmt.Errorf("image size must be positive, got %d", size)
	}

	dataset := &ImageFolderDataset{
		processor: preprocessing.NewImageProcessor(size),
		normalize: normalize,
	}

	// Find all classes (subdirectories)
	classes, err := filepath.Glob(filepath.Join(root, "*"))
	if err != nil {
		return nil, fmt.Errorf("failed to list classes: %w", err)
	}
	sort.Strings(classes)

	for _, classPath := range classes {
		info, err := os.Stat(classPath)
		if err != nil || !info.IsDir() {
			continue
		}

		files, err := filepath.Glob(filepath.Join(classPath, "*"))
		if err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", classPath, err)
		}
		sort.Strings(files)

		classIdx := len(dataset.classNames)
		found := false
		for _, file := range files {
			if !isImage(file) {
				continue
			}
			dataset.imagePaths = append(dataset.imagePaths, file)
			dataset.labels = append(dataset.labels, classIdx)
			found = true
		}
		if found {
			dataset.classNames = append(dataset.classNames, filepath.Base(classPath))
		}
	}

	if len(dataset.imagePaths) == 0 {
		return nil, fmt.Errorf("no images found in %s", root)
	}

	return dataset, nil
}

func isImage(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return false
	}
	for _, want := range imageMIMETypes {
		if mtype.Is(want) {
			return true
		}
	}
	return false
}

// Len returns the number of items in the dataset
func (d *ImageFolderDataset) Len() int {
	return len(d.imagePaths)
}

// GetItem returns the image path and label at the given index
func (d *ImageFolderDataset) GetItem(index int) (string, int, error) {
	if index < 0 || index >= len(d.imagePaths) {
		return "", 0, fmt.Errorf("index %d out of range [0, %d)", index, len(d.imagePaths))
	}
	return d.imagePaths[index], d.labels[index], nil
}

// Get decodes image index into a (3, size, size) tensor
func (d *ImageFolderDataset) Get(index int) (*tensor.Tensor, *tensor.Tensor, error) {
	path, classIdx, err := d.GetItem(index)
	if err != nil {
		return nil, nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	img, err := d.processor.DecodeAndPreprocess(f)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	if d.normalize {
		preprocessing.NormalizeSymmetric(img.Data)
	}

	data, err := tensor.NewTensor([]int{img.Channels, img.Height, img.Width}, tensor.Float32, tensor.CPU, img.Data)
	if err != nil {
		return nil, nil, err
	}
	label, err := tensor.NewTensor([]int{1}, tensor.Int32, tensor.CPU, []int32{int32(classIdx)})
	if err != nil {
		return nil, nil, err
	}
	return data, label, nil
}

// NumClasses returns the number of classes
func (d *ImageFolderDataset) NumClasses() int {
	return len(d.classNames)
}

// ClassNames returns the list of class names
func (d *ImageFolderDataset) ClassNames() []string {
	return d.classNames
}

// String returns a string representation of the dataset
func (d *ImageFolderDataset) String() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("ImageFolderDataset: %d samples, %d classes\n", len(d.imagePaths), len(d.classNames)))

	counts := make([]int, len(d.classNames))
	for _, label := range d.labels {
		counts[label]++
	}
	for i, className := range d.classNames {
		sb.WriteString(fmt.Sprintf("  %s: %d samples\n", className, counts[i]))
	}

	return sb.String()
}
