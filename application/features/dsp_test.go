package features

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestMelScale_RoundTrip(t *testing.T) {
	for _, hz := range []float64{0, 100, 999, 1000, 2500, 8000, 11025} {
		assert.InDelta(t, hz, melToHz(hzToMel(hz)), 1e-9, "hz=%v", hz)
	}
	assert.InDelta(t, 15.0, hzToMel(1000), 1e-12)
}

func TestMelFilterBank_Shape(t *testing.T) {
	b := melFilterBank(16000, 2048, 128, 0, 8000)
	r, c := b.Dims()
	assert.Equal(t, 128, r)
	assert.Equal(t, 1025, c)
	for i := 0; i < r; i++ {
		row := mat.Row(nil, i, b)
		sum := 0.0
		for _, v := range row {
			require.GreaterOrEqual(t, v, 0.0)
			sum += v
		}
		assert.Positive(t, sum, "mel band %d is empty", i)
	}
}

func TestDCTBasis_Orthonormal(t *testing.T) {
	b := dctBasis(40, 128)
	var g mat.Dense
	g.Mul(b, b.T())
	for i := 0; i < 40; i++ {
		for j := 0; j < 40; j++ {
			want := 0.0
			if i == j {
				want = 1
			}
			assert.InDelta(t, want, g.At(i, j), 1e-9)
		}
	}
}

func TestReflectIndex(t *testing.T) {
	tests := []struct {
		i, n, want int
	}{
		{i: 0, n: 4, want: 0},
		{i: -1, n: 4, want: 0},
		{i: -2, n: 4, want: 1},
		{i: 4, n: 4, want: 3},
		{i: 5, n: 4, want: 2},
		{i: 9, n: 4, want: 1},
		{i: 3, n: 1, want: 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, reflectIndex(tt.i, tt.n), "reflectIndex(%d, %d)", tt.i, tt.n)
	}
}

func TestPitchTuning(t *testing.T) {
	assert.Zero(t, pitchTuning(nil, 0.01, 12))
	assert.InDelta(t, 0.0, pitchTuning([]float64{440, 880, 220}, 0.01, 12), 1e-9)

	sharp := 440 * math.Pow(2, 0.25/12)
	assert.InDelta(t, 0.25, pitchTuning([]float64{sharp, sharp * 2}, 0.01, 12), 0.011)
}

func TestSTFT_RoundTrip(t *testing.T) {
	cfg := newSTFTConfig(2048, 512, PadReflect)
	w := sine(440, 16000, 0.5, 0.5)
	s, err := cfg.stft(context.Background(), w.Samples)
	require.NoError(t, err)
	assert.Equal(t, 1+len(w.Samples)/512, s.frames)
	assert.Equal(t, 1025, s.bins)

	back, err := cfg.istft(context.Background(), s, len(w.Samples))
	require.NoError(t, err)
	require.Len(t, back, len(w.Samples))
	for i := 2048; i < len(back)-2048; i++ {
		require.InDelta(t, w.Samples[i], back[i], 1e-6, "sample %d", i)
	}
}

func TestChromaSTFT_PeaksAtA(t *testing.T) {
	cfg := newSTFTConfig(2048, 512, PadReflect)
	w := sine(440, 22050, 1.0, 0.5)
	s, err := cfg.stft(context.Background(), w.Samples)
	require.NoError(t, err)

	means := rowMeans(chromaSTFT(s.magnitude(), 22050, 2048))
	best := 0
	for i, v := range means {
		if v > means[best] {
			best = i
		}
	}
	assert.Equal(t, 9, best, "chroma=%v", means)
}

func TestHarmonic_KeepsSteadyTone(t *testing.T) {
	cfg := newSTFTConfig(2048, 512, PadReflect)
	w := sine(440, 16000, 1.0, 0.5)
	s, err := cfg.stft(context.Background(), w.Samples)
	require.NoError(t, err)

	h, err := cfg.harmonic(context.Background(), w.Samples, s)
	require.NoError(t, err)
	require.Len(t, h, len(w.Samples))

	var in, out float64
	for i := 4096; i < len(h)-4096; i++ {
		in += w.Samples[i] * w.Samples[i]
		out += h[i] * h[i]
	}
	assert.Greater(t, out/in, 0.8)
}

func TestHarmonicMask_SplitsEmptyCells(t *testing.T) {
	s := &spectrum{bins: 64, frames: 64, data: make([][]complex128, 64)}
	for i := range s.data {
		s.data[i] = make([]complex128, 64)
	}
	s.data[32][20] = 3

	mask, err := harmonicMask(context.Background(), s)
	require.NoError(t, err)

	// both median filters are zero around an isolated cell
	assert.Equal(t, 0.5, mask[32][20])
	assert.Equal(t, 0.5, mask[0][0])
}

func TestSoftmask(t *testing.T) {
	tests := []struct {
		name     string
		x, ref   float64
		expected float64
	}{
		{name: "both zero", x: 0, ref: 0, expected: 0.5},
		{name: "no reference", x: 2, ref: 0, expected: 1},
		{name: "no signal", x: 0, ref: 2, expected: 0},
		{name: "equal", x: 3, ref: 3, expected: 0.5},
		{name: "power two", x: 2, ref: 1, expected: 0.8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, softmask(tt.x, tt.ref), 1e-12)
		})
	}
}

func TestSpectralContrast_Rows(t *testing.T) {
	cfg := newSTFTConfig(2048, 512, PadReflect)
	w := noise(3, 16000, 0.5)
	s, err := cfg.stft(context.Background(), w.Samples)
	require.NoError(t, err)

	c, err := spectralContrast(s.magnitude(), 16000, 2048, 0.5*16000*math.Exp2(-6))
	require.NoError(t, err)
	r, cols := c.Dims()
	assert.Equal(t, ContrastWidth, r)
	assert.Equal(t, s.frames, cols)

	_, err = spectralContrast(s.magnitude(), 16000, 2048, 4000)
	assert.ErrorContains(t, err, "Nyquist")
}

func TestCQT_NyquistIncludesFilterBandwidth(t *testing.T) {
	c := cqtConfig{fmin: noteC1, binsPerOctave: 36, octaves: 7, hop: 512, workers: 2}
	y := make([]float64, 1024)

	// the top bin centre (about 4106 Hz) fits, its passband does not
	_, err := c.cqtMagnitude(context.Background(), y, 8300, 0)
	assert.ErrorContains(t, err, "Nyquist")

	_, err = c.cqtMagnitude(context.Background(), y, 8400, 0)
	assert.NoError(t, err)
}

func TestTonnetzBasis(t *testing.T) {
	phi := tonnetzBasis()
	// C (class 0): sin(0)=0 on the odd-offset rows, cos(0)=radius on the others
	assert.InDelta(t, 0.0, phi.At(0, 0), 1e-12)
	assert.InDelta(t, 1.0, phi.At(1, 0), 1e-12)
	assert.InDelta(t, 0.5, phi.At(5, 0), 1e-12)
}
