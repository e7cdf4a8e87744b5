package features

import (
	"context"
	"fmt"
	"math"
	"sync"

	"go.uber.org/multierr"
	"gonum.org/v1/gonum/mat"
)

// noteC1 is the frequency of MIDI note 24.
const noteC1 = 32.70319566257483

// hannBandwidth is the equivalent noise bandwidth of a Hann window, in bins.
const hannBandwidth = 1.50018310546875

// cqtConfig describes the constant-Q analysis behind the tonal features.
type cqtConfig struct {
	fmin          float64
	binsPerOctave int
	octaves       int
	hop           int
	workers       int
}

func (c cqtConfig) nBins() int { return c.binsPerOctave * c.octaves }

// cqtMagnitude computes |CQT| of y at sample rate sr. Each bin is a
// Hann-windowed complex exponential with L1 norm, scaled by the square
// root of its length. Frames are centred at t*hop with zeros outside the
// signal. Returns nBins x frames.
func (c cqtConfig) cqtMagnitude(ctx context.Context, y []float64, sr, tuning float64) (*mat.Dense, error) {
	nBins := c.nBins()
	fmin := c.fmin * math.Pow(2, tuning/float64(c.binsPerOctave))
	fmax := fmin * math.Pow(2, float64(nBins-1)/float64(c.binsPerOctave))
	q := 1 / (math.Pow(2, 1/float64(c.binsPerOctave)) - 1)

	// the top filter's passband, not just its centre, must fit below Nyquist
	cutoff := fmax * (1 + 0.5*hannBandwidth/q)
	if cutoff > sr/2 {
		return nil, fmt.Errorf("constant-Q filter at %.1f Hz reaches %.1f Hz, above Nyquist %.1f Hz", fmax, cutoff, sr/2)
	}
	frames := 1 + len(y)/c.hop
	rows := make([][]float64, nBins)

	workers := c.workers
	if workers < 1 {
		workers = 1
	}
	binCh := make(chan int, nBins)
	for k := 0; k < nBins; k++ {
		binCh <- k
	}
	close(binCh)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs error
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for k := range binCh {
				if err := ctx.Err(); err != nil {
					mu.Lock()
					errs = multierr.Append(errs, err)
					mu.Unlock()
					return
				}
				freq := fmin * math.Pow(2, float64(k)/float64(c.binsPerOctave))
				rows[k] = cqtBin(y, sr, freq, q*sr/freq, c.hop, frames)
			}
		}()
	}
	wg.Wait()
	if errs != nil {
		return nil, errs
	}

	out := mat.NewDense(nBins, frames, nil)
	for k, row := range rows {
		out.SetRow(k, row)
	}
	return out, nil
}

// cqtBin correlates y with one wavelet of nominal length length at every
// frame centre.
func cqtBin(y []float64, sr, freq, length float64, hop, frames int) []float64 {
	lo := int(math.Floor(-length / 2))
	hi := int(math.Floor(length / 2))
	n := hi - lo
	win := hannWindow(n)

	re := make([]float64, n)
	im := make([]float64, n)
	l1 := 0.0
	for i := 0; i < n; i++ {
		phase := 2 * math.Pi * freq * float64(lo+i) / sr
		re[i] = win[i] * math.Cos(phase)
		im[i] = -win[i] * math.Sin(phase)
		l1 += win[i]
	}
	scale := math.Sqrt(length) / l1

	out := make([]float64, frames)
	for t := 0; t < frames; t++ {
		start := t*hop + lo
		i0 := max(0, -start)
		i1 := min(n, len(y)-start)
		var accRe, accIm float64
		for i := i0; i < i1; i++ {
			x := y[start+i]
			accRe += x * re[i]
			accIm += x * im[i]
		}
		out[t] = scale * math.Hypot(accRe, accIm)
	}
	return out
}

// chromaCQT folds constant-Q magnitudes into 12 max-normalised pitch classes.
func (c cqtConfig) chromaCQT(ctx context.Context, y []float64, sr, tuning float64) (*mat.Dense, error) {
	cq, err := c.cqtMagnitude(ctx, y, sr, tuning)
	if err != nil {
		return nil, err
	}
	nBins, frames := cq.Dims()
	merge := c.binsPerOctave / nChroma

	chroma := mat.NewDense(nChroma, frames, nil)
	for j := 0; j < nBins; j++ {
		class := ((j + merge/2) % c.binsPerOctave) / merge
		for t := 0; t < frames; t++ {
			chroma.Set(class, t, chroma.At(class, t)+cq.At(j, t))
		}
	}
	normalizeColumnsMax(chroma)
	return chroma, nil
}
