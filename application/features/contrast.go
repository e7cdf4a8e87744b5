package features

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
)

const contrastBands = 6

// spectralContrast computes peak-minus-valley energy (dB) in contrastBands
// octave bands above fmin plus one band covering everything below it.
// The result has contrastBands+1 rows.
func spectralContrast(mag *mat.Dense, sr float64, nFFT int, fmin float64) (*mat.Dense, error) {
	const quantile = 0.02

	freq := fftFrequencies(sr, nFFT)
	octa := make([]float64, contrastBands+2)
	for i := 1; i < len(octa); i++ {
		octa[i] = fmin * math.Pow(2, float64(i-1))
	}
	for _, f := range octa[:len(octa)-1] {
		if f >= 0.5*sr {
			return nil, fmt.Errorf("frequency band edge %.1f Hz exceeds Nyquist; reduce fmin or the band count", f)
		}
	}

	bins, frames := mag.Dims()
	valley := mat.NewDense(contrastBands+1, frames, nil)
	peak := mat.NewDense(contrastBands+1, frames, nil)

	for k := 0; k <= contrastBands; k++ {
		fLow, fHigh := octa[k], octa[k+1]
		first, last := -1, -1
		for i, f := range freq {
			if f >= fLow && f <= fHigh {
				if first < 0 {
					first = i
				}
				last = i
			}
		}
		if first < 0 {
			return nil, fmt.Errorf("band %d [%.1f, %.1f] Hz holds no frequency bins", k, fLow, fHigh)
		}

		lo, hi := first, last+1
		if k > 0 && lo > 0 {
			lo--
		}
		if k == contrastBands {
			hi = bins
		}
		selected := hi - lo

		// the top edge bin belongs to the next band
		subHi := hi
		if k < contrastBands {
			subHi--
		}

		n := int(math.Max(math.RoundToEven(quantile*float64(selected)), 1))
		sub := make([]float64, subHi-lo)
		for t := 0; t < frames; t++ {
			for i := lo; i < subHi; i++ {
				sub[i-lo] = mag.At(i, t)
			}
			sort.Float64s(sub)
			valley.Set(k, t, meanOf(sub[:min(n, len(sub))]))
			peak.Set(k, t, meanOf(sub[max(len(sub)-n, 0):]))
		}
	}

	peakDB := powerToDB(peak)
	valleyDB := powerToDB(valley)
	var out mat.Dense
	out.Sub(peakDB, valleyDB)
	return &out, nil
}

func meanOf(v []float64) float64 {
	if len(v) == 0 {
		return math.NaN()
	}
	s := 0.0
	for _, x := range v {
		s += x
	}
	return s / float64(len(v))
}
