// Package render tiles generated samples into image grids and writes them as
// PNG stills or animated GIFs.
package render

import (
	"fmt"
	"image"
	"image/color"
	"image/color/palette"
	"image/gif"
	"image/png"
	"io"
	"math"
	"os"
	"path/filepath"

	"golang.org/x/image/draw"

	"github.com/tsawler/spiking-gan/tensor"
)

const (
	// Padding between tiles, in pixels
	Padding = 2
	// FrameDelay is the GIF frame delay in hundredths of a second
	FrameDelay = 10
)

var greyPalette = func() color.Palette {
	p := make(color.Palette, 256)
	for i := range p {
		p[i] = color.Gray{Y: uint8(i)}
	}
	return p
}()

// SavePNG writes imgs, shaped (S, C, H, W), as a single grid with cols tiles
// per row.
func SavePNG(path string, imgs *tensor.Tensor, cols int) error {
	if len(imgs.Shape) != 4 {
		return fmt.Errorf("expected (S, C, H, W) images, got shape %v", imgs.Shape)
	}
	data, err := imgs.GetFloat32Data()
	if err != nil {
		return err
	}
	s, c, h, w := imgs.Shape[0], imgs.Shape[1], imgs.Shape[2], imgs.Shape[3]
	lo, hi := bounds(data)

	grid, err := tile(data, s, c, h, w, cols, lo, hi)
	if err != nil {
		return err
	}
	return writeAtomic(path, func(f io.Writer) error {
		return png.Encode(f, grid)
	})
}

// SaveGIF writes seq, shaped (S, T, C, H, W), as an animated GIF whose frame
// t shows time step t of every sample.
func SaveGIF(path string, seq *tensor.Tensor, cols int) error {
	if len(seq.Shape) != 5 {
		return fmt.Errorf("expected (S, T, C, H, W) sequence, got shape %v", seq.Shape)
	}
	data, err := seq.GetFloat32Data()
	if err != nil {
		return err
	}
	s, steps, c, h, w := seq.Shape[0], seq.Shape[1], seq.Shape[2], seq.Shape[3], seq.Shape[4]
	lo, hi := bounds(data)

	frameSize := c * h * w
	anim := &gif.GIF{}
	frame := make([]float32, s*frameSize)
	for t := 0; t < steps; t++ {
		for i := 0; i < s; i++ {
			src := data[(i*steps+t)*frameSize : (i*steps+t+1)*frameSize]
			copy(frame[i*frameSize:], src)
		}
		grid, err := tile(frame, s, c, h, w, cols, lo, hi)
		if err != nil {
			return err
		}
		anim.Image = append(anim.Image, quantize(grid, c))
		anim.Delay = append(anim.Delay, FrameDelay)
	}

	return writeAtomic(path, func(f io.Writer) error {
		return gif.EncodeAll(f, anim)
	})
}

// Grid returns the tiled image of imgs (S, C, H, W) without writing it
func Grid(imgs *tensor.Tensor, cols int) (*image.RGBA, error) {
	if len(imgs.Shape) != 4 {
		return nil, fmt.Errorf("expected (S, C, H, W) images, got shape %v", imgs.Shape)
	}
	data, err := imgs.GetFloat32Data()
	if err != nil {
		return nil, err
	}
	lo, hi := bounds(data)
	return tile(data, imgs.Shape[0], imgs.Shape[1], imgs.Shape[2], imgs.Shape[3], cols, lo, hi)
}

// bounds returns the range of the finite values in data, or (0, 0) when
// there are none.
func bounds(data []float32) (float32, float32) {
	lo, hi := float32(math.Inf(1)), float32(math.Inf(-1))
	for _, v := range data {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			continue
		}
		lo = min(lo, v)
		hi = max(hi, v)
	}
	if lo > hi {
		return 0, 0
	}
	return lo, hi
}

// tile lays s samples of (c, h, w) values out on a padded grid, mapping
// [lo, hi] onto [0, 255]. NaN renders black and infinities saturate.
func tile(data []float32, s, c, h, w, cols int, lo, hi float32) (*image.RGBA, error) {
	if cols <= 0 {
		return nil, fmt.Errorf("columns must be positive, got %d", cols)
	}
	if c < 1 || c > 3 {
		return nil, fmt.Errorf("cannot render %d channels", c)
	}
	cols = min(cols, s)
	rows := (s + cols - 1) / cols

	width := cols*(w+Padding) + Padding
	height := rows*(h+Padding) + Padding
	grid := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(grid, grid.Bounds(), image.Black, image.Point{}, draw.Src)

	scale := float32(0)
	if hi > lo {
		scale = 255 / (hi - lo)
	}
	level := func(v float32) uint8 {
		if math.IsNaN(float64(v)) {
			return 0
		}
		return uint8(math.Round(math.Min(math.Max(float64((v-lo)*scale), 0), 255)))
	}

	plane := h * w
	for i := 0; i < s; i++ {
		sample := data[i*c*plane : (i+1)*c*plane]
		ox := Padding + (i%cols)*(w+Padding)
		oy := Padding + (i/cols)*(h+Padding)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				idx := y*w + x
				var px color.RGBA
				switch c {
				case 1:
					g := level(sample[idx])
					px = color.RGBA{R: g, G: g, B: g, A: 255}
				case 2:
					// on polarity red, off polarity green
					px = color.RGBA{R: level(sample[idx]), G: level(sample[plane+idx]), A: 255}
				default:
					px = color.RGBA{R: level(sample[idx]), G: level(sample[plane+idx]), B: level(sample[2*plane+idx]), A: 255}
				}
				grid.SetRGBA(ox+x, oy+y, px)
			}
		}
	}
	return grid, nil
}

func quantize(img *image.RGBA, channels int) *image.Paletted {
	p := palette.Plan9
	if channels == 1 {
		p = greyPalette
	}
	out := image.NewPaletted(img.Bounds(), p)
	if channels == 1 {
		draw.Draw(out, out.Bounds(), img, image.Point{}, draw.Src)
	} else {
		draw.FloydSteinberg.Draw(out, out.Bounds(), img, image.Point{})
	}
	return out
}

func writeAtomic(path string, encode func(io.Writer) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(path), err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := encode(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp.Name(), err)
	}
	return os.Rename(tmp.Name(), path)
}
