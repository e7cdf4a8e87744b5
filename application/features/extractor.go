// Package features turns a mono waveform into the 193-wide acoustic
// feature vector the affect classifier was trained on.
//
// The vector is the time-average of five blocks, always in this order:
//
//	mfcc      40  cepstral coefficients of the 128-band mel spectrogram
//	chroma    12  pitch-class energy from the magnitude STFT
//	mel      128  mel power spectrogram
//	contrast   7  octave-band spectral contrast (fmin = sr/128)
//	tonnetz    6  tonal centroid of the harmonic part, analysed at 2*sr
//
// No scaling is applied to the result.
package features

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sync"
	"time"

	"github.com/Skryldev/affect-lab/domain/model"
	pkgerrors "github.com/Skryldev/affect-lab/pkg/errors"
	"github.com/Skryldev/affect-lab/pkg/logger"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
)

// Block widths.
const (
	MFCCWidth     = 40
	ChromaWidth   = nChroma
	MelWidth      = 128
	ContrastWidth = contrastBands + 1
	TonnetzWidth  = tonnetzDims

	// Width is the full feature vector length.
	Width = MFCCWidth + ChromaWidth + MelWidth + ContrastWidth + TonnetzWidth
)

// Block names, in concatenation order.
const (
	BlockSTFT     = "stft"
	BlockMFCC     = "mfcc"
	BlockChroma   = "chroma"
	BlockMel      = "mel"
	BlockContrast = "contrast"
	BlockTonnetz  = "tonnetz"
)

var blockOrder = [...]string{BlockMFCC, BlockChroma, BlockMel, BlockContrast, BlockTonnetz}

var blockWidth = map[string]int{
	BlockMFCC:     MFCCWidth,
	BlockChroma:   ChromaWidth,
	BlockMel:      MelWidth,
	BlockContrast: ContrastWidth,
	BlockTonnetz:  TonnetzWidth,
}

// Config holds analysis parameters. The defaults match the settings the
// shipped models were trained with; changing them changes the features.
type Config struct {
	NFFT      int
	HopLength int
	PadMode   PadMode

	// Workers bounds the goroutines used for the constant-Q analysis.
	Workers int

	// Sequential computes the five blocks one after another.
	Sequential bool

	Logger *logger.Logger
}

// DefaultConfig returns the training-time analysis parameters.
func DefaultConfig() Config {
	return Config{
		NFFT:      2048,
		HopLength: 512,
		PadMode:   PadReflect,
		Workers:   runtime.GOMAXPROCS(0),
	}
}

// Extractor implements ports.FeatureExtractor. It is safe for concurrent use.
type Extractor struct {
	cfg  Config
	stft stftConfig
	dct  *mat.Dense
	log  *logger.Logger
	mels sync.Map // sample rate -> *mat.Dense
	cqt  cqtConfig
}

// New creates an Extractor. Zero fields in cfg take their defaults.
func New(cfg Config) *Extractor {
	def := DefaultConfig()
	if cfg.NFFT <= 0 {
		cfg.NFFT = def.NFFT
	}
	if cfg.HopLength <= 0 {
		cfg.HopLength = def.HopLength
	}
	if cfg.PadMode == "" {
		cfg.PadMode = def.PadMode
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}

	return &Extractor{
		cfg:  cfg,
		stft: newSTFTConfig(cfg.NFFT, cfg.HopLength, cfg.PadMode),
		dct:  dctBasis(MFCCWidth, MelWidth),
		log:  logger.OrDefault(cfg.Logger).Named("features"),
		cqt: cqtConfig{
			fmin:          noteC1,
			binsPerOctave: 36,
			octaves:       7,
			hop:           cfg.HopLength,
			workers:       cfg.Workers,
		},
	}
}

// Width returns the length of every vector Extract produces.
func (e *Extractor) Width() int { return Width }

func (e *Extractor) melBasis(sr int) *mat.Dense {
	if b, ok := e.mels.Load(sr); ok {
		return b.(*mat.Dense)
	}
	b := melFilterBank(float64(sr), e.cfg.NFFT, MelWidth, 0, float64(sr)/2)
	actual, _ := e.mels.LoadOrStore(sr, b)
	return actual.(*mat.Dense)
}

// analysis holds what the blocks share.
type analysis struct {
	y    []float64
	sr   float64
	spec *spectrum
	mag  *mat.Dense
	melS *mat.Dense
}

// Extract computes the feature vector of w. A waveform that is empty or
// has no sample rate is an InputError; any block failure, including NaN
// or Inf output, is a single FeatureError naming the failed blocks.
func (e *Extractor) Extract(ctx context.Context, w model.Waveform) ([]float64, error) {
	if len(w.Samples) == 0 {
		return nil, pkgerrors.NewInputError("samples", 0, "waveform is empty")
	}
	if w.SampleRate <= 0 {
		return nil, pkgerrors.NewInputError("sampleRate", w.SampleRate, "sample rate must be positive")
	}

	start := time.Now()
	spec, err := e.stft.stft(ctx, w.Samples)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, pkgerrors.NewFeatureError([]string{BlockSTFT}, err)
	}

	a := &analysis{
		y:    w.Samples,
		sr:   float64(w.SampleRate),
		spec: spec,
		mag:  spec.magnitude(),
	}
	a.melS = melSpectrogram(spec.power(), e.melBasis(w.SampleRate))

	blocks := map[string]func(context.Context, *analysis) ([]float64, error){
		BlockMFCC:     e.mfccBlock,
		BlockChroma:   e.chromaBlock,
		BlockMel:      e.melBlock,
		BlockContrast: e.contrastBlock,
		BlockTonnetz:  e.tonnetzBlock,
	}

	results := make([][]float64, len(blockOrder))
	blockErrs := make([]error, len(blockOrder))
	run := func(i int, name string) {
		out, err := blocks[name](ctx, a)
		if err == nil {
			err = validateBlock(name, out)
		}
		results[i], blockErrs[i] = out, err
	}

	if e.cfg.Sequential {
		for i, name := range blockOrder {
			run(i, name)
		}
	} else {
		var wg sync.WaitGroup
		for i, name := range blockOrder {
			wg.Add(1)
			go func(i int, name string) {
				defer wg.Done()
				run(i, name)
			}(i, name)
		}
		wg.Wait()
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		errs   error
		failed []string
	)
	for i, err := range blockErrs {
		if err != nil {
			failed = append(failed, blockOrder[i])
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", blockOrder[i], err))
		}
	}
	if errs != nil {
		e.log.Warn("feature extraction failed",
			zap.Strings("blocks", failed),
			zap.Error(errs),
		)
		return nil, pkgerrors.NewFeatureError(failed, errs)
	}

	vec := make([]float64, 0, Width)
	for _, r := range results {
		vec = append(vec, r...)
	}

	e.log.Timed("features extracted", start,
		zap.Int("sample_rate", w.SampleRate),
		zap.Int("samples", len(w.Samples)),
		zap.Int("frames", spec.frames),
	)
	return vec, nil
}

func validateBlock(name string, out []float64) error {
	if len(out) != blockWidth[name] {
		return fmt.Errorf("produced %d values, want %d", len(out), blockWidth[name])
	}
	return checkFinite(out)
}

func (e *Extractor) mfccBlock(_ context.Context, a *analysis) ([]float64, error) {
	return rowMeans(mfcc(a.melS, e.dct)), nil
}

func (e *Extractor) chromaBlock(_ context.Context, a *analysis) ([]float64, error) {
	return rowMeans(chromaSTFT(a.mag, a.sr, e.cfg.NFFT)), nil
}

func (e *Extractor) melBlock(_ context.Context, a *analysis) ([]float64, error) {
	return rowMeans(a.melS), nil
}

func (e *Extractor) contrastBlock(_ context.Context, a *analysis) ([]float64, error) {
	fmin := 0.5 * a.sr * math.Exp2(-6)
	c, err := spectralContrast(a.mag, a.sr, e.cfg.NFFT, fmin)
	if err != nil {
		return nil, err
	}
	return rowMeans(c), nil
}

// tonnetzBlock analyses the harmonic component as if it were sampled at
// twice the real rate.
func (e *Extractor) tonnetzBlock(ctx context.Context, a *analysis) ([]float64, error) {
	yh, err := e.stft.harmonic(ctx, a.y, a.spec)
	if err != nil {
		return nil, fmt.Errorf("harmonic separation: %w", err)
	}

	sr2 := 2 * a.sr
	hs, err := e.stft.stft(ctx, yh)
	if err != nil {
		return nil, err
	}
	tuning := estimateTuning(hs.magnitude(), sr2, e.cfg.NFFT, e.cqt.binsPerOctave)

	chroma, err := e.cqt.chromaCQT(ctx, yh, sr2, tuning)
	if err != nil {
		return nil, fmt.Errorf("constant-Q chroma: %w", err)
	}
	return rowMeans(tonalCentroid(chroma)), nil
}
