package features

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// pitchPeak is one spectral local maximum found by piptrack.
type pitchPeak struct {
	freq float64
	mag  float64
}

// piptrack finds parabolically interpolated spectral peaks between 150 Hz
// and 4 kHz that rise above a tenth of their frame's maximum.
func piptrack(mag *mat.Dense, sr float64, nFFT int) []pitchPeak {
	const (
		fmin      = 150.0
		threshold = 0.1
	)
	fmax := math.Min(4000, sr/2)
	bins, frames := mag.Dims()
	freqs := fftFrequencies(sr, nFFT)

	var peaks []pitchPeak
	col := make([]float64, bins)
	masked := make([]float64, bins)
	for t := 0; t < frames; t++ {
		mat.Col(col, t, mag)

		ref := 0.0
		for _, v := range col {
			ref = math.Max(ref, v)
		}
		ref *= threshold
		for k, v := range col {
			if v > ref {
				masked[k] = v
			} else {
				masked[k] = 0
			}
		}

		for k := 1; k < bins-1; k++ {
			if freqs[k] < fmin || freqs[k] >= fmax {
				continue
			}
			// local maximum along frequency, strict on the left
			if !(masked[k] > masked[k-1] && masked[k] >= masked[k+1]) {
				continue
			}
			avg := 0.5 * (col[k+1] - col[k-1])
			shift := 2*col[k] - col[k+1] - col[k-1]
			if math.Abs(shift) < tiny {
				shift += 1
			}
			shift = avg / shift
			peaks = append(peaks, pitchPeak{
				freq: (float64(k) + shift) * sr / float64(nFFT),
				mag:  col[k] + 0.5*avg*shift,
			})
		}
	}
	return peaks
}

// estimateTuning returns the deviation from A440 tuning in fractions of a
// bin, in [-0.5, 0.5).
func estimateTuning(mag *mat.Dense, sr float64, nFFT, binsPerOctave int) float64 {
	peaks := piptrack(mag, sr, nFFT)

	var voiced []pitchPeak
	for _, p := range peaks {
		if p.freq > 0 {
			voiced = append(voiced, p)
		}
	}
	if len(voiced) == 0 {
		return 0
	}

	mags := make([]float64, len(voiced))
	for i, p := range voiced {
		mags[i] = p.mag
	}
	sort.Float64s(mags)
	var threshold float64
	if n := len(mags); n%2 == 1 {
		threshold = mags[n/2]
	} else {
		threshold = 0.5 * (mags[n/2-1] + mags[n/2])
	}

	var freqs []float64
	for _, p := range voiced {
		if p.mag >= threshold {
			freqs = append(freqs, p.freq)
		}
	}
	return pitchTuning(freqs, 0.01, binsPerOctave)
}

// pitchTuning histograms the fractional-bin residuals of freqs and returns
// the left edge of the most populated bin.
func pitchTuning(freqs []float64, resolution float64, binsPerOctave int) float64 {
	nBins := int(math.Ceil(1 / resolution))
	counts := make([]int, nBins)
	seen := false
	for _, f := range freqs {
		if f <= 0 {
			continue
		}
		seen = true
		r := floorMod(float64(binsPerOctave)*hzToOcts(f, 0, binsPerOctave), 1)
		if r >= 0.5 {
			r -= 1
		}
		idx := int(math.Floor((r + 0.5) / resolution))
		if idx >= nBins {
			idx = nBins - 1
		}
		if idx < 0 {
			idx = 0
		}
		counts[idx]++
	}
	if !seen {
		return 0
	}

	best := 0
	for i, c := range counts {
		if c > counts[best] {
			best = i
		}
	}
	return -0.5 + float64(best)*resolution
}
