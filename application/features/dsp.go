package features

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// tiny is the smallest positive normal float64; values below it count as zero.
const tiny = 2.2250738585072014e-308

// hannWindow returns a periodic Hann window of length n.
func hannWindow(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(n))
	}
	return w
}

// fftFrequencies returns the center frequency of each rfft bin.
func fftFrequencies(sr float64, nFFT int) []float64 {
	out := make([]float64, nFFT/2+1)
	for k := range out {
		out[k] = float64(k) * sr / float64(nFFT)
	}
	return out
}

// hzToMel uses the Slaney formula: linear below 1 kHz, log above.
func hzToMel(hz float64) float64 {
	const (
		fSp       = 200.0 / 3
		minLogHz  = 1000.0
		minLogMel = minLogHz / fSp
	)
	logstep := math.Log(6.4) / 27.0
	if hz >= minLogHz {
		return minLogMel + math.Log(hz/minLogHz)/logstep
	}
	return hz / fSp
}

func melToHz(mel float64) float64 {
	const (
		fSp       = 200.0 / 3
		minLogHz  = 1000.0
		minLogMel = minLogHz / fSp
	)
	logstep := math.Log(6.4) / 27.0
	if mel >= minLogMel {
		return minLogHz * math.Exp(logstep*(mel-minLogMel))
	}
	return fSp * mel
}

// hzToOcts converts frequency to octave number relative to A0, shifted by
// tuning (fractions of a bin).
func hzToOcts(hz, tuning float64, binsPerOctave int) float64 {
	a440 := 440.0 * math.Pow(2, tuning/float64(binsPerOctave))
	return math.Log2(hz / (a440 / 16))
}

// powerToDB converts a power matrix to decibels:
// 10*log10(max(amin, S)), floored at max - topDB.
func powerToDB(s *mat.Dense) *mat.Dense {
	const (
		amin  = 1e-10
		topDB = 80.0
	)
	r, c := s.Dims()
	out := mat.NewDense(r, c, nil)
	out.Apply(func(_, _ int, v float64) float64 {
		return 10 * math.Log10(math.Max(amin, v))
	}, s)
	floor := mat.Max(out) - topDB
	out.Apply(func(_, _ int, v float64) float64 {
		return math.Max(v, floor)
	}, out)
	return out
}

// rowMeans averages every row of m across its columns (time).
func rowMeans(m mat.Matrix) []float64 {
	r, c := m.Dims()
	out := make([]float64, r)
	row := make([]float64, c)
	for i := 0; i < r; i++ {
		mat.Row(row, i, m)
		out[i] = floats.Sum(row) / float64(c)
	}
	return out
}

// normalizeColumnsMax divides each column by its largest absolute value.
// Columns whose peak is below tiny are left untouched.
func normalizeColumnsMax(m *mat.Dense) {
	r, c := m.Dims()
	for j := 0; j < c; j++ {
		peak := 0.0
		for i := 0; i < r; i++ {
			peak = math.Max(peak, math.Abs(m.At(i, j)))
		}
		if peak < tiny {
			continue
		}
		for i := 0; i < r; i++ {
			m.Set(i, j, m.At(i, j)/peak)
		}
	}
}

// normalizeColumnsL1 divides each column by the sum of absolute values.
func normalizeColumnsL1(m *mat.Dense) {
	r, c := m.Dims()
	for j := 0; j < c; j++ {
		sum := 0.0
		for i := 0; i < r; i++ {
			sum += math.Abs(m.At(i, j))
		}
		if sum < tiny {
			continue
		}
		for i := 0; i < r; i++ {
			m.Set(i, j, m.At(i, j)/sum)
		}
	}
}

// reflectIndex maps any integer onto [0, n) with half-sample symmetric
// reflection (d c b a | a b c d | d c b a).
func reflectIndex(i, n int) int {
	if n == 1 {
		return 0
	}
	period := 2 * n
	m := i % period
	if m < 0 {
		m += period
	}
	if m >= n {
		m = period - 1 - m
	}
	return m
}

// median returns the median of buf, reordering it.
func median(buf []float64) float64 {
	sort.Float64s(buf)
	n := len(buf)
	if n%2 == 1 {
		return buf[n/2]
	}
	return 0.5 * (buf[n/2-1] + buf[n/2])
}

// checkFinite fails on the first NaN or Inf in v.
func checkFinite(v []float64) error {
	for i, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return fmt.Errorf("non-finite value %v at position %d", x, i)
		}
	}
	return nil
}

// floorMod is the remainder with the sign of the divisor.
func floorMod(x, y float64) float64 {
	m := math.Mod(x, y)
	if m < 0 {
		m += y
	}
	return m
}
