package affectlab

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Skryldev/affect-lab/application/classifier"
	"github.com/Skryldev/affect-lab/application/features"
	"github.com/Skryldev/affect-lab/application/usecase"
	"github.com/Skryldev/affect-lab/domain/model"
	"github.com/Skryldev/affect-lab/domain/ports"
	"github.com/Skryldev/affect-lab/infrastructure/decoder"
	"github.com/Skryldev/affect-lab/infrastructure/ffmpeg"
	"github.com/Skryldev/affect-lab/infrastructure/httpapi"
	"github.com/Skryldev/affect-lab/infrastructure/onnx"
	"github.com/Skryldev/affect-lab/infrastructure/storage"
	"github.com/Skryldev/affect-lab/pkg/logger"
	"github.com/Skryldev/affect-lab/pkg/progress"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Re-export types for convenient use by callers
type (
	Emotion               = model.Emotion
	ScoreRecord           = model.ScoreRecord
	Waveform              = model.Waveform
	ClassificationResult  = model.ClassificationResult
	AudioMetadata         = model.AudioMetadata
	ClassificationOptions = model.ClassificationOptions
	BatchJob              = model.BatchJob
	BatchResult           = model.BatchResult
	Option                = ports.Option
	ProgressUpdate        = progress.Update
	ProgressStage         = progress.Stage
	ProgressReporter      = progress.Reporter
)

const (
	EmotionNeutral   = model.EmotionNeutral
	EmotionCalm      = model.EmotionCalm
	EmotionHappy     = model.EmotionHappy
	EmotionSad       = model.EmotionSad
	EmotionAngry     = model.EmotionAngry
	EmotionFearful   = model.EmotionFearful
	EmotionDisgust   = model.EmotionDisgust
	EmotionSurprised = model.EmotionSurprised

	StageDecode  = progress.StageDecode
	StageExtract = progress.StageExtract
	StageInfer   = progress.StageInfer
	StageMap     = progress.StageMap
	StageDone    = progress.StageDone

	// FeatureWidth is the length of every feature vector.
	FeatureWidth = features.Width
)

// Labels returns the classifier's output order. The slice is a copy.
func Labels() []Emotion { return model.Labels() }

// Re-export option functions
var (
	WithTimeout = ports.WithTimeout
	WithPersist = ports.WithPersist
	WithSource  = ports.WithSource
)

// ModelConfig points at the network to load. ONNXPath wins when set.
type ModelConfig struct {
	TopologyPath string
	WeightsPath  string
	ONNXPath     string

	// ONNXLibrary is the onnxruntime shared library. Empty uses the
	// platform default.
	ONNXLibrary string
}

// Config holds top-level configuration for the classifier
type Config struct {
	Model ModelConfig

	// Network replaces Model with an already loaded network. The
	// Classifier takes ownership and closes it.
	Network ports.Network

	// FFmpegPath is the path to ffmpeg binary (auto-detected if empty)
	FFmpegPath string

	// FFprobePath is the path to ffprobe binary (auto-detected if empty)
	FFprobePath string

	// DisableFFmpeg skips ffmpeg entirely. Only WAV and MP3 decode and
	// ProbeAudio fails.
	DisableFFmpeg bool

	// StorePath is the SQLite history database. Empty disables history.
	StorePath string

	// Logger is an optional custom logger. Uses production zap if nil.
	Logger *logger.Logger

	// ZapLogger allows passing a *zap.Logger directly
	ZapLogger *zap.Logger

	// Development selects zap's development config when no logger is given.
	Development bool

	// ProgressCh is an optional channel for receiving progress updates
	ProgressCh chan<- ProgressUpdate

	// Reporter also receives every update, synchronously.
	Reporter ProgressReporter

	// Workers sets the number of parallel batch workers (default: 4)
	Workers int

	// SequentialFeatures computes feature blocks one after another.
	SequentialFeatures bool
}

// Classifier is the main entry point
type Classifier struct {
	service *usecase.AffectService
	network ports.Network
	storage ports.StorageProvider
	store   ports.ResultStore
	log     *logger.Logger
}

// New loads the network once and wires the pipeline around it.
func New(cfg Config) (*Classifier, error) {
	log := cfg.Logger
	if log == nil && cfg.ZapLogger != nil {
		log = logger.FromZap(cfg.ZapLogger)
	}
	if log == nil {
		var err error
		log, err = logger.New(cfg.Development)
		if err != nil {
			return nil, err
		}
	}

	var exec ports.FFmpegExecutor
	if !cfg.DisableFFmpeg {
		e, err := ffmpeg.NewExecutor(ffmpeg.ExecutorConfig{
			FFmpegPath:  cfg.FFmpegPath,
			FFprobePath: cfg.FFprobePath,
			Logger:      log,
		})
		if err != nil {
			log.Warn("ffmpeg unavailable, only wav and mp3 will decode", zap.Error(err))
		} else {
			exec = e
		}
	}

	net := cfg.Network
	if net == nil {
		var err error
		net, err = LoadNetwork(cfg.Model, log)
		if err != nil {
			return nil, err
		}
	}

	c := &Classifier{
		network: net,
		storage: storage.NewLocalStorage(),
		log:     log,
	}

	if cfg.StorePath != "" {
		st, err := storage.NewSQLiteStore(cfg.StorePath, log)
		if err != nil {
			return nil, multierr.Append(err, net.Close())
		}
		c.store = st
	}

	reporter := progress.NewMultiReporter()
	if cfg.ProgressCh != nil {
		reporter.Add(progress.NewChannelReporter(cfg.ProgressCh))
	}
	if cfg.Reporter != nil {
		reporter.Add(cfg.Reporter)
	}

	svcCfg := usecase.Config{
		Network: net,
		Extractor: features.New(features.Config{
			Sequential: cfg.SequentialFeatures,
			Logger:     log,
		}),
		Decoder: decoder.New(decoder.Config{
			FFmpeg: exec,
			Logger: log,
		}),
		Storage:  c.storage,
		Executor: exec,
		Store:    c.store,
		Reporter: reporter,
		Logger:   log,
		Workers:  cfg.Workers,
	}

	svc, err := usecase.NewAffectService(svcCfg)
	if err != nil {
		return nil, multierr.Append(err, c.closeResources())
	}
	c.service = svc
	return c, nil
}

// LoadNetwork opens the ONNX model when one is configured, and the Keras
// topology plus weight blob otherwise. Both honour a <model>.yaml sidecar.
func LoadNetwork(cfg ModelConfig, log *logger.Logger) (ports.Network, error) {
	log = logger.OrDefault(log)
	if cfg.ONNXPath != "" {
		if _, err := classifier.LoadMetadata(cfg.ONNXPath); err != nil {
			return nil, err
		}
		n, err := onnx.Open(onnx.Config{
			ModelPath:   cfg.ONNXPath,
			LibraryPath: cfg.ONNXLibrary,
			Logger:      log,
		})
		if err != nil {
			return nil, err
		}
		return n, nil
	}
	if cfg.TopologyPath == "" || cfg.WeightsPath == "" {
		return nil, fmt.Errorf("affectlab: no model configured")
	}
	m, err := classifier.LoadMLP(cfg.TopologyPath, cfg.WeightsPath)
	if err != nil {
		return nil, err
	}
	log.Info("mlp model loaded",
		zap.String("topology", cfg.TopologyPath),
		zap.Int("input_width", m.InputWidth()),
		zap.Int("output_width", m.OutputWidth()),
	)
	return m, nil
}

// ClassifyFile classifies a single audio file
func (c *Classifier) ClassifyFile(ctx context.Context, inputPath string, opts ...Option) (*ClassificationResult, error) {
	return c.service.ClassifyFile(ctx, inputPath, opts...)
}

// ClassifyWaveform classifies decoded mono samples
func (c *Classifier) ClassifyWaveform(ctx context.Context, w Waveform, opts ...Option) (*ClassificationResult, error) {
	return c.service.ClassifyWaveform(ctx, w, opts...)
}

// ClassifyBatch classifies multiple files concurrently
func (c *Classifier) ClassifyBatch(ctx context.Context, jobs []BatchJob) (<-chan BatchResult, error) {
	return c.service.ClassifyBatch(ctx, jobs)
}

// ProbeAudio returns metadata about an audio file without classifying it
func (c *Classifier) ProbeAudio(ctx context.Context, inputPath string) (*AudioMetadata, error) {
	return c.service.ProbeAudio(ctx, inputPath)
}

// History returns stored results, newest first
func (c *Classifier) History(ctx context.Context, limit int) ([]*ClassificationResult, error) {
	return c.service.History(ctx, limit)
}

// Lookup returns one stored result
func (c *Classifier) Lookup(ctx context.Context, id string) (*ClassificationResult, error) {
	return c.service.Lookup(ctx, id)
}

// HandlerConfig configures the HTTP adapter returned by Handler.
type HandlerConfig struct {
	// UploadDir stages uploads. Empty means the system temp dir.
	UploadDir string
	// MaxUploadBytes caps one upload. Zero means 32 MiB.
	MaxUploadBytes int64
	// Timeout bounds each request's classification. Zero keeps the
	// two minute default.
	Timeout time.Duration
}

// Handler returns the HTTP adapter for this classifier.
func (c *Classifier) Handler(cfg HandlerConfig) http.Handler {
	return httpapi.NewHandler(httpapi.Config{
		Service:        c.service,
		Storage:        c.storage,
		UploadDir:      cfg.UploadDir,
		MaxUploadBytes: cfg.MaxUploadBytes,
		Timeout:        cfg.Timeout,
		Logger:         c.log,
	})
}

// Logger returns the logger every component of c writes to.
func (c *Classifier) Logger() *logger.Logger {
	return c.log
}

// Close releases the network and the history store and flushes the logger.
func (c *Classifier) Close() error {
	err := c.closeResources()
	// Sync fails on stderr/stdout on some platforms; that is not worth reporting.
	_ = c.log.Sync()
	return err
}

func (c *Classifier) closeResources() error {
	var err error
	if c.network != nil {
		err = multierr.Append(err, c.network.Close())
	}
	if c.store != nil {
		err = multierr.Append(err, c.store.Close())
	}
	return err
}
