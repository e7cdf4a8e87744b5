package features

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

const nChroma = 12

// chromaFilterBank maps rfft bins onto 12 pitch classes with Gaussian
// bumps, starting at C.
func chromaFilterBank(sr float64, nFFT int, tuning float64) *mat.Dense {
	const (
		ctroct   = 5.0
		octwidth = 2.0
	)

	// frqbins[0] is a virtual bin 1.5 octaves below bin 1.
	frqbins := make([]float64, nFFT)
	for k := 1; k < nFFT; k++ {
		f := float64(k) * sr / float64(nFFT)
		frqbins[k] = nChroma * hzToOcts(f, tuning, nChroma)
	}
	frqbins[0] = frqbins[1] - 1.5*nChroma

	binwidth := make([]float64, nFFT)
	for i := 0; i < nFFT-1; i++ {
		binwidth[i] = math.Max(frqbins[i+1]-frqbins[i], 1)
	}
	binwidth[nFFT-1] = 1

	half := nChroma / 2
	wts := make([][]float64, nChroma)
	for c := range wts {
		wts[c] = make([]float64, nFFT)
		for i := 0; i < nFFT; i++ {
			d := floorMod(frqbins[i]-float64(c)+float64(half)+10*nChroma, nChroma) - float64(half)
			x := 2 * d / binwidth[i]
			wts[c][i] = math.Exp(-0.5 * x * x)
		}
	}

	// L2-normalise columns, then weight by the octave Gaussian.
	for i := 0; i < nFFT; i++ {
		norm := 0.0
		for c := 0; c < nChroma; c++ {
			norm += wts[c][i] * wts[c][i]
		}
		norm = math.Sqrt(norm)
		oct := (frqbins[i]/nChroma - ctroct) / octwidth
		g := math.Exp(-0.5 * oct * oct)
		for c := 0; c < nChroma; c++ {
			if norm >= tiny {
				wts[c][i] /= norm
			}
			wts[c][i] *= g
		}
	}

	// Rows start at A; roll so row 0 is C. Keep the non-negative bins.
	bins := nFFT/2 + 1
	out := mat.NewDense(nChroma, bins, nil)
	for c := 0; c < nChroma; c++ {
		src := wts[(c+3)%nChroma]
		for i := 0; i < bins; i++ {
			out.Set(c, i, src[i])
		}
	}
	return out
}

// chromaSTFT computes a max-normalised chromagram from a magnitude
// spectrogram.
func chromaSTFT(mag *mat.Dense, sr float64, nFFT int) *mat.Dense {
	tuning := estimateTuning(mag, sr, nFFT, nChroma)
	basis := chromaFilterBank(sr, nFFT, tuning)

	var raw mat.Dense
	raw.Mul(basis, mag)
	normalizeColumnsMax(&raw)
	return &raw
}
