package features

import (
	"context"
	"math"
	"math/cmplx"
)

const hpssKernel = 31

// harmonicMask separates s into harmonic and percussive parts by median
// filtering its magnitude along time and frequency, and returns the soft
// mask (power 2, margin 1) that keeps the harmonic part. mask[t][k].
func harmonicMask(ctx context.Context, s *spectrum) ([][]float64, error) {
	mag := make([][]float64, s.frames)
	for t, col := range s.data {
		mag[t] = make([]float64, s.bins)
		for k, v := range col {
			mag[t][k] = cmplx.Abs(v)
		}
	}

	half := hpssKernel / 2
	buf := make([]float64, hpssKernel)
	harm := make([][]float64, s.frames)
	perc := make([][]float64, s.frames)
	for t := 0; t < s.frames; t++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		harm[t] = make([]float64, s.bins)
		perc[t] = make([]float64, s.bins)
		for k := 0; k < s.bins; k++ {
			// along time
			for j := -half; j <= half; j++ {
				buf[j+half] = mag[reflectIndex(t+j, s.frames)][k]
			}
			harm[t][k] = median(buf)
			// along frequency
			for j := -half; j <= half; j++ {
				buf[j+half] = mag[t][reflectIndex(k+j, s.bins)]
			}
			perc[t][k] = median(buf)
		}
	}

	mask := make([][]float64, s.frames)
	for t := range mask {
		mask[t] = make([]float64, s.bins)
		for k := range mask[t] {
			mask[t][k] = softmask(harm[t][k], perc[t][k])
		}
	}
	return mask, nil
}

// softmask returns x^2 / (x^2 + ref^2) after scaling both by their max.
// When both are numerically zero the cell is split evenly between the two
// parts.
func softmask(x, ref float64) float64 {
	z := math.Max(x, ref)
	if z < tiny {
		return 0.5
	}
	m := (x / z) * (x / z)
	r := (ref / z) * (ref / z)
	return m / (m + r)
}

// harmonic returns the harmonic component of y, the same length as y.
func (c stftConfig) harmonic(ctx context.Context, y []float64, s *spectrum) ([]float64, error) {
	mask, err := harmonicMask(ctx, s)
	if err != nil {
		return nil, err
	}
	h := &spectrum{bins: s.bins, frames: s.frames, data: make([][]complex128, s.frames)}
	for t, col := range s.data {
		h.data[t] = make([]complex128, len(col))
		for k, v := range col {
			h.data[t][k] = v * complex(mask[t][k], 0)
		}
	}
	return c.istft(ctx, h, len(y))
}
