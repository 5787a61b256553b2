package preprocessing

import "fmt"

// ResizeFrames bilinearly resizes a stack of planes laid out as
// (planes, inH, inW) to (planes, outH, outW). Corner pixels of the input and
// output grids are aligned, so the border values are preserved exactly.
func ResizeFrames(data []float32, planes, inH, inW, outH, outW int) ([]float32, error) {
	if planes <= 0 || inH <= 0 || inW <= 0 || outH <= 0 || outW <= 0 {
		return nil, fmt.Errorf("invalid resize geometry %dx%dx%d -> %dx%d", planes, inH, inW, outH, outW)
	}
	if len(data) != planes*inH*inW {
		return nil, fmt.Errorf("frame data has %d values, expected %d", len(data), planes*inH*inW)
	}

	ys := axisWeights(inH, outH)
	xs := axisWeights(inW, outW)
	out := make([]float32, planes*outH*outW)

	for p := 0; p < planes; p++ {
		src := data[p*inH*inW : (p+1)*inH*inW]
		dst := out[p*outH*outW : (p+1)*outH*outW]
		for oy, wy := range ys {
			row0 := src[wy.lo*inW : (wy.lo+1)*inW]
			row1 := src[wy.hi*inW : (wy.hi+1)*inW]
			for ox, wx := range xs {
				top := row0[wx.lo]*(1-wx.frac) + row0[wx.hi]*wx.frac
				bottom := row1[wx.lo]*(1-wx.frac) + row1[wx.hi]*wx.frac
				dst[oy*outW+ox] = top*(1-wy.frac) + bottom*wy.frac
			}
		}
	}
	return out, nil
}

type weight struct {
	lo, hi int
	frac   float32
}

func axisWeights(in, out int) []weight {
	ws := make([]weight, out)
	if out == 1 || in == 1 {
		return ws
	}
	scale := float64(in-1) / float64(out-1)
	for i := range ws {
		pos := float64(i) * scale
		lo := int(pos)
		if lo >= in-1 {
			ws[i] = weight{lo: in - 1, hi: in - 1}
			continue
		}
		ws[i] = weight{lo: lo, hi: lo + 1, frac: float32(pos - float64(lo))}
	}
	return ws
}
