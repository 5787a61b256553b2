package dataset

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/tsawler/spiking-gan/tensor"
	"github.com/tsawler/spiking-gan/vision/preprocessing"
)

const (
	// NMNISTSensorSize is the side of the ATIS sensor used to record N-MNIST
	NMNISTSensorSize = 34
	// DefaultFilterTime is the denoise support window in microseconds
	DefaultFilterTime = 10000

	eventBytes = 5
)

// Event is a single DVS event. T is in microseconds, P is 0 or 1
type Event struct {
	X, Y uint16
	P    uint8
	T    uint32
}

// DecodeEvents parses the N-MNIST binary format: 40 bits per event holding
// x (8), y (8), polarity (1) and timestamp (23).
func DecodeEvents(raw []byte) ([]Event, error) {
	if len(raw)%eventBytes != 0 {
		return nil, fmt.Errorf("event stream length %d is not a multiple of %d", len(raw), eventBytes)
	}
	events := make([]Event, len(raw)/eventBytes)
	for i := range events {
		b := raw[i*eventBytes : (i+1)*eventBytes]
		events[i] = Event{
			X: uint16(b[0]),
			Y: uint16(b[1]),
			P: b[2] >> 7,
			T: uint32(b[2]&0x7f)<<16 | uint32(b[3])<<8 | uint32(b[4]),
		}
	}
	return events, nil
}

// EncodeEvents is the inverse of DecodeEvents
func EncodeEvents(events []Event) []byte {
	raw := make([]byte, 0, len(events)*eventBytes)
	for _, e := range events {
		raw = append(raw,
			byte(e.X),
			byte(e.Y),
			e.P<<7|byte(e.T>>16)&0x7f,
			byte(e.T>>8),
			byte(e.T))
	}
	return raw
}

// Denoise drops events that have no neighbouring event (4-connected) within
// filterTime microseconds before them. Events must be time ordered.
func Denoise(events []Event, filterTime uint32) []Event {
	if len(events) == 0 {
		return nil
	}
	width, height := 0, 0
	for _, e := range events {
		width = max(width, int(e.X)+1)
		height = max(height, int(e.Y)+1)
	}

	memory := make([]uint64, width*height)
	for i := range memory {
		memory[i] = uint64(filterTime)
	}

	kept := make([]Event, 0, len(events))
	for _, e := range events {
		x, y, t := int(e.X), int(e.Y), uint64(e.T)
		memory[x*height+y] = t + uint64(filterTime)

		if (x > 0 && memory[(x-1)*height+y] > t) ||
			(x < width-1 && memory[(x+1)*height+y] > t) ||
			(y > 0 && memory[x*height+y-1] > t) ||
			(y < height-1 && memory[x*height+y+1] > t) {
			kept = append(kept, e)
		}
	}
	return kept
}

// ToFrame accumulates events into nBins equal-duration frames laid out as
// (nBins, 2, height, width). Events past the last full window are dropped.
// A recording shorter than nBins microseconds has zero-width windows and
// yields all-zero frames.
func ToFrame(events []Event, width, height, nBins int) ([]float32, error) {
	if nBins <= 0 {
		return nil, fmt.Errorf("number of time bins must be positive, got %d", nBins)
	}
	plane := width * height
	frames := make([]float32, nBins*2*plane)
	if len(events) == 0 {
		return frames, nil
	}

	t0 := events[0].T
	window := (events[len(events)-1].T - t0) / uint32(nBins)

	for _, e := range events {
		if int(e.X) >= width || int(e.Y) >= height {
			return nil, fmt.Errorf("event (%d, %d) outside %dx%d sensor", e.X, e.Y, width, height)
		}
		if window == 0 {
			continue
		}
		bin := int((e.T - t0) / window)
		if bin >= nBins {
			continue
		}
		frames[(bin*2+int(e.P))*plane+int(e.Y)*width+int(e.X)]++
	}
	return frames, nil
}

type eventFile struct {
	path  string
	label int32
}

// NMNISTDataset turns N-MNIST recordings into (nSteps, 2, size, size) frame
// sequences.
type NMNISTDataset struct {
	files      []eventFile
	nSteps     int
	size       int
	denoise    bool
	filterTime uint32
}

// NewNMNISTDataset indexes the .bin recordings under root/Train/<digit>/
func NewNMNISTDataset(root string, nSteps, size int, denoise bool) (*NMNISTDataset, error) {
	if nSteps <= 0 || size <= 0 {
		return nil, fmt.Errorf("invalid N-MNIST geometry: %d steps, size %d", nSteps, size)
	}

	ds := &NMNISTDataset{
		nSteps:     nSteps,
		size:       size,
		denoise:    denoise,
		filterTime: DefaultFilterTime,
	}

	classes, err := filepath.Glob(filepath.Join(root, "Train", "*"))
	if err != nil {
		return nil, fmt.Errorf("failed to list classes: %w", err)
	}
	sort.Strings(classes)
	for _, classPath := range classes {
		info, err := os.Stat(classPath)
		if err != nil || !info.IsDir() {
			continue
		}
		digit, err := strconv.Atoi(filepath.Base(classPath))
		if err != nil {
			continue
		}
		files, err := filepath.Glob(filepath.Join(classPath, "*.bin"))
		if err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", classPath, err)
		}
		sort.Strings(files)
		for _, f := range files {
			ds.files = append(ds.files, eventFile{path: f, label: int32(digit)})
		}
	}

	if len(ds.files) == 0 {
		return nil, fmt.Errorf("no N-MNIST recordings found in %s", filepath.Join(root, "Train"))
	}
	return ds, nil
}

// Len returns the number of recordings
func (ds *NMNISTDataset) Len() int {
	return len(ds.files)
}

// Get bins recording idx into frames and resizes them to the target size
func (ds *NMNISTDataset) Get(idx int) (*tensor.Tensor, *tensor.Tensor, error) {
	if idx < 0 || idx >= len(ds.files) {
		return nil, nil, fmt.Errorf("index %d out of range [0, %d)", idx, len(ds.files))
	}
	file := ds.files[idx]

	raw, err := os.ReadFile(file.path)
	if err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", file.path, err)
	}
	events, err := DecodeEvents(raw)
	if err != nil {
		return nil, nil, fmt.Errorf("decode %s: %w", file.path, err)
	}
	if ds.denoise {
		events = Denoise(events, ds.filterTime)
	}

	frames, err := ToFrame(events, NMNISTSensorSize, NMNISTSensorSize, ds.nSteps)
	if err != nil {
		return nil, nil, fmt.Errorf("bin %s: %w", file.path, err)
	}
	if ds.size != NMNISTSensorSize {
		frames, err = preprocessing.ResizeFrames(frames, ds.nSteps*2, NMNISTSensorSize, NMNISTSensorSize, ds.size, ds.size)
		if err != nil {
			return nil, nil, err
		}
	}

	data, err := tensor.NewTensor([]int{ds.nSteps, 2, ds.size, ds.size}, tensor.Float32, tensor.CPU, frames)
	if err != nil {
		return nil, nil, err
	}
	label, err := tensor.NewTensor([]int{1}, tensor.Int32, tensor.CPU, []int32{file.label})
	if err != nil {
		return nil, nil, err
	}
	return data, label, nil
}
