package features

import (
	"context"
	"fmt"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/mat"
)

// PadMode controls how the signal is extended before centred framing.
// PadReflect is what the models were trained with (librosa before 0.10).
// PadConstant matches librosa 0.10 and later, which zero-pads and so also
// accepts clips shorter than half a frame.
type PadMode string

const (
	PadReflect  PadMode = "reflect"
	PadConstant PadMode = "constant"
)

// spectrum is a complex STFT stored frame-major: data[t][k].
type spectrum struct {
	bins   int
	frames int
	data   [][]complex128
}

// stftConfig holds the framing shared by every block.
type stftConfig struct {
	nFFT    int
	hop     int
	padMode PadMode
	window  []float64
}

func newSTFTConfig(nFFT, hop int, pad PadMode) stftConfig {
	return stftConfig{nFFT: nFFT, hop: hop, padMode: pad, window: hannWindow(nFFT)}
}

// pad extends y by nFFT/2 on both sides.
func (c stftConfig) pad(y []float64) ([]float64, error) {
	p := c.nFFT / 2
	n := len(y)
	out := make([]float64, n+2*p)
	copy(out[p:], y)
	if c.padMode == PadConstant {
		return out, nil
	}
	if n <= p {
		return nil, fmt.Errorf("signal of %d samples is too short to reflect-pad by %d", n, p)
	}
	for i := 1; i <= p; i++ {
		out[p-i] = y[i]
		out[p+n-1+i] = y[n-1-i]
	}
	return out, nil
}

// stft computes the centred short-time Fourier transform of y.
func (c stftConfig) stft(ctx context.Context, y []float64) (*spectrum, error) {
	padded, err := c.pad(y)
	if err != nil {
		return nil, err
	}
	frames := 1 + (len(padded)-c.nFFT)/c.hop
	fft := fourier.NewFFT(c.nFFT)
	buf := make([]float64, c.nFFT)

	s := &spectrum{bins: c.nFFT/2 + 1, frames: frames, data: make([][]complex128, frames)}
	for t := 0; t < frames; t++ {
		if t%64 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		off := t * c.hop
		for i := range buf {
			buf[i] = padded[off+i] * c.window[i]
		}
		s.data[t] = fft.Coefficients(nil, buf)
	}
	return s, nil
}

// istft inverts s by windowed overlap-add and trims to length samples.
func (c stftConfig) istft(ctx context.Context, s *spectrum, length int) ([]float64, error) {
	n := c.nFFT
	total := n + c.hop*(s.frames-1)
	y := make([]float64, total)
	wsum := make([]float64, total)
	fft := fourier.NewFFT(n)
	frame := make([]float64, n)

	for t := 0; t < s.frames; t++ {
		if t%64 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		fft.Sequence(frame, s.data[t])
		off := t * c.hop
		for i := 0; i < n; i++ {
			w := c.window[i]
			y[off+i] += frame[i] / float64(n) * w
			wsum[off+i] += w * w
		}
	}
	for i := range y {
		if wsum[i] > tiny {
			y[i] /= wsum[i]
		}
	}

	out := make([]float64, length)
	start := n / 2
	if start < len(y) {
		copy(out, y[start:])
	}
	return out, nil
}

// magnitude returns |S| as a bins x frames matrix.
func (s *spectrum) magnitude() *mat.Dense {
	m := mat.NewDense(s.bins, s.frames, nil)
	for t, col := range s.data {
		for k, v := range col {
			m.Set(k, t, cmplx.Abs(v))
		}
	}
	return m
}

// power returns |S|^2 as a bins x frames matrix.
func (s *spectrum) power() *mat.Dense {
	m := mat.NewDense(s.bins, s.frames, nil)
	for t, col := range s.data {
		for k, v := range col {
			re, im := real(v), imag(v)
			m.Set(k, t, re*re+im*im)
		}
	}
	return m
}
