package features

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// melFilterBank builds Slaney-normalised triangular filters, nMels x (nFFT/2+1).
func melFilterBank(sr float64, nFFT, nMels int, fmin, fmax float64) *mat.Dense {
	fftFreqs := fftFrequencies(sr, nFFT)

	// nMels+2 band edges equally spaced on the mel scale.
	lo, hi := hzToMel(fmin), hzToMel(fmax)
	melF := make([]float64, nMels+2)
	for i := range melF {
		melF[i] = melToHz(lo + (hi-lo)*float64(i)/float64(nMels+1))
	}

	w := mat.NewDense(nMels, len(fftFreqs), nil)
	for m := 0; m < nMels; m++ {
		lowerW := melF[m+1] - melF[m]
		upperW := melF[m+2] - melF[m+1]
		enorm := 2.0 / (melF[m+2] - melF[m])
		for k, f := range fftFreqs {
			lower := (f - melF[m]) / lowerW
			upper := (melF[m+2] - f) / upperW
			v := math.Max(0, math.Min(lower, upper))
			w.Set(m, k, v*enorm)
		}
	}
	return w
}

// melSpectrogram projects a power spectrogram onto the mel filters.
func melSpectrogram(power *mat.Dense, basis *mat.Dense) *mat.Dense {
	var out mat.Dense
	out.Mul(basis, power)
	return &out
}

// dctBasis returns the first nCoeff rows of the orthonormal DCT-II matrix
// of size n.
func dctBasis(nCoeff, n int) *mat.Dense {
	b := mat.NewDense(nCoeff, n, nil)
	s0 := math.Sqrt(1 / float64(n))
	sk := math.Sqrt(2 / float64(n))
	for k := 0; k < nCoeff; k++ {
		scale := sk
		if k == 0 {
			scale = s0
		}
		for i := 0; i < n; i++ {
			b.Set(k, i, scale*math.Cos(math.Pi*float64(k)*(2*float64(i)+1)/(2*float64(n))))
		}
	}
	return b
}

// mfcc computes cepstral coefficients from a mel power spectrogram.
func mfcc(melPower *mat.Dense, basis *mat.Dense) *mat.Dense {
	logMel := powerToDB(melPower)
	var out mat.Dense
	out.Mul(basis, logMel)
	return &out
}
