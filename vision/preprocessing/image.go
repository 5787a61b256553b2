package preprocessing

import (
	"fmt"
	"image"
	_ "image/jpeg" // register JPEG decoder
	_ "image/png"  // register PNG decoder
	"io"
	"sync"

	"golang.org/x/image/draw"
)

// ImageProcessor decodes images into square CHW float32 samples with buffer reuse
type ImageProcessor struct {
	mu              sync.Mutex
	tempImageBuffer *image.RGBA
	targetSize      int
}

// NewImageProcessor creates a new image processor with the specified target size
func NewImageProcessor(targetSize int) *ImageProcessor {
	return &ImageProcessor{
		targetSize: targetSize,
	}
}

// ProcessedImage represents a preprocessed image ready for neural network input
type ProcessedImage struct {
	Data     []float32
	Width    int
	Height   int
	Channels int
}

// DecodeAndPreprocess decodes a JPEG or PNG image, center-crops it to a square,
// resizes it bilinearly and returns RGB in CHW format normalized to [0, 1].
func (p *ImageProcessor) DecodeAndPreprocess(reader io.Reader) (*ProcessedImage, error) {
	img, _, err := image.Decode(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return p.Preprocess(img), nil
}

// Preprocess converts an already decoded image.
func (p *ImageProcessor) Preprocess(img image.Image) *ProcessedImage {
	p.mu.Lock()
	defer p.mu.Unlock()

	size := p.targetSize
	// Reuse image buffer
	if p.tempImageBuffer == nil || p.tempImageBuffer.Bounds().Dx() != size {
		p.tempImageBuffer = image.NewRGBA(image.Rect(0, 0, size, size))
	}
	targetImg := p.tempImageBuffer

	draw.BiLinear.Scale(targetImg, targetImg.Bounds(), img, centerSquare(img.Bounds()), draw.Src, nil)

	plane := size * size
	data := make([]float32, 3*plane)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			off := targetImg.PixOffset(x, y)
			idx := y*size + x
			data[idx] = float32(targetImg.Pix[off]) / 255.0         // R channel
			data[plane+idx] = float32(targetImg.Pix[off+1]) / 255.0   // G channel
			data[2*plane+idx] = float32(targetImg.Pix[off+2]) / 255.0 // B channel
		}
	}

	return &ProcessedImage{
		Data:     data,
		Width:    size,
		Height:   size,
		Channels: 3,
	}
}

// centerSquare returns the largest centered square inside r.
func centerSquare(r image.Rectangle) image.Rectangle {
	w, h := r.Dx(), r.Dy()
	if w > h {
		off := (w - h) / 2
		return image.Rect(r.Min.X+off, r.Min.Y, r.Min.X+off+h, r.Max.Y)
	}
	off := (h - w) / 2
	return image.Rect(r.Min.X, r.Min.Y+off, r.Max.X, r.Min.Y+off+w)
}

// NormalizeSymmetric maps [0, 1] samples onto [-1, 1] in place.
func NormalizeSymmetric(data []float32) {
	for i, v := range data {
		data[i] = v*2 - 1
	}
}
