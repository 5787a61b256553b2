package gan

import (
	"fmt"

	"github.com/tsawler/spiking-gan/config"
	"github.com/tsawler/spiking-gan/tensor"
)

// Decode converts generator output (T, S, C*H*W) into something to render.
// "none" keeps every step as (S, T, C, H, W) for an animation, "mean"
// averages over time and "last" keeps the final step, both as (S, C, H, W).
func Decode(method string, out *tensor.Tensor, channels, imgSize int) (*tensor.Tensor, error) {
	if len(out.Shape) != 3 {
		return nil, fmt.Errorf("decode expects generator output (T, S, features), got shape %v", out.Shape)
	}
	steps, samples := out.Shape[0], out.Shape[1]
	if out.Shape[2] != channels*imgSize*imgSize {
		return nil, fmt.Errorf("generator output %v does not hold %dx%dx%d images", out.Shape, channels, imgSize, imgSize)
	}

	switch method {
	case config.DecodeNone:
		seq, err := tensor.Transpose01(out)
		if err != nil {
			return nil, err
		}
		return seq.Reshape([]int{samples, steps, channels, imgSize, imgSize})
	case config.DecodeMean:
		sum, err := tensor.SumDim0(out)
		if err != nil {
			return nil, err
		}
		mean, err := tensor.Scale(sum, 1/float32(steps))
		if err != nil {
			return nil, err
		}
		return mean.Reshape([]int{samples, channels, imgSize, imgSize})
	case config.DecodeLast:
		last, err := tensor.Select(out, steps-1)
		if err != nil {
			return nil, err
		}
		return last.Reshape([]int{samples, channels, imgSize, imgSize})
	default:
		return nil, fmt.Errorf("unknown decode method %q", method)
	}
}
