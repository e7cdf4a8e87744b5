package features

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

const tonnetzDims = 6

// tonnetzBasis projects 12 pitch classes onto the fifths, minor-thirds and
// major-thirds circles (sin/cos pairs).
func tonnetzBasis() *mat.Dense {
	scale := [tonnetzDims]float64{7.0 / 6, 7.0 / 6, 3.0 / 2, 3.0 / 2, 2.0 / 3, 2.0 / 3}
	radius := [tonnetzDims]float64{1, 1, 1, 1, 0.5, 0.5}

	phi := mat.NewDense(tonnetzDims, nChroma, nil)
	for r := 0; r < tonnetzDims; r++ {
		for c := 0; c < nChroma; c++ {
			v := scale[r] * float64(c)
			if r%2 == 0 {
				v -= 0.5
			}
			phi.Set(r, c, radius[r]*math.Cos(math.Pi*v))
		}
	}
	return phi
}

// tonalCentroid maps a chromagram to 6-d tonal centroid features.
func tonalCentroid(chroma *mat.Dense) *mat.Dense {
	var norm mat.Dense
	norm.CloneFrom(chroma)
	normalizeColumnsL1(&norm)

	var out mat.Dense
	out.Mul(tonnetzBasis(), &norm)
	return &out
}
