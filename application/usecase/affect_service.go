package usecase

import (
	"context"
	"fmt"

	"github.com/Skryldev/affect-lab/application/classifier"
	"github.com/Skryldev/affect-lab/application/pipeline"
	"github.com/Skryldev/affect-lab/domain/model"
	"github.com/Skryldev/affect-lab/domain/ports"
	pkgerrors "github.com/Skryldev/affect-lab/pkg/errors"
	"github.com/Skryldev/affect-lab/pkg/logger"
	"github.com/Skryldev/affect-lab/pkg/progress"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AffectService is the main application service implementing ports.AffectClassifier
type AffectService struct {
	pipeline   *pipeline.Pipeline
	workerPool *pipeline.WorkerPool
	storage    ports.StorageProvider
	store      ports.ResultStore
	reporter   progress.Reporter
	log        *logger.Logger
}

// Config holds AffectService configuration
type Config struct {
	Network   ports.Network
	Extractor ports.FeatureExtractor
	Decoder   ports.Decoder
	Storage   ports.StorageProvider

	// Executor is optional; without it ProbeAudio fails.
	Executor ports.FFmpegExecutor

	// Store is optional; without it nothing is persisted.
	Store ports.ResultStore

	Reporter progress.Reporter
	Logger   *logger.Logger
	Workers  int
}

// NewAffectService creates a new AffectService
func NewAffectService(cfg Config) (*AffectService, error) {
	if cfg.Network == nil {
		return nil, fmt.Errorf("Network is required")
	}
	if cfg.Extractor == nil {
		return nil, fmt.Errorf("FeatureExtractor is required")
	}
	if cfg.Decoder == nil {
		return nil, fmt.Errorf("Decoder is required")
	}
	if cfg.Storage == nil {
		return nil, fmt.Errorf("StorageProvider is required")
	}
	if cfg.Extractor.Width() != cfg.Network.InputWidth() {
		return nil, pkgerrors.NewShapeMismatchError("extractor width", cfg.Network.InputWidth(), cfg.Extractor.Width())
	}

	adapter, err := classifier.NewAdapter(cfg.Network)
	if err != nil {
		return nil, err
	}

	log := logger.OrDefault(cfg.Logger)

	reporter := cfg.Reporter
	if reporter == nil {
		reporter = progress.NoopReporter{}
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}

	p := pipeline.NewPipeline(pipeline.Config{
		Decoder:   cfg.Decoder,
		Extractor: cfg.Extractor,
		Adapter:   adapter,
		Executor:  cfg.Executor,
		Storage:   cfg.Storage,
		Logger:    log,
	})
	wp := pipeline.NewWorkerPool(p, workers, log)

	return &AffectService{
		pipeline:   p,
		workerPool: wp,
		storage:    cfg.Storage,
		store:      cfg.Store,
		reporter:   reporter,
		log:        log,
	}, nil
}

// ClassifyFile decodes and classifies one audio file
func (s *AffectService) ClassifyFile(ctx context.Context, inputPath string, opts ...ports.Option) (*model.ClassificationResult, error) {
	return s.classify(ctx, &pipeline.Job{InputPath: inputPath}, opts)
}

// ClassifyWaveform classifies audio that is already decoded
func (s *AffectService) ClassifyWaveform(ctx context.Context, w model.Waveform, opts ...ports.Option) (*model.ClassificationResult, error) {
	return s.classify(ctx, &pipeline.Job{Waveform: &w}, opts)
}

func (s *AffectService) classify(ctx context.Context, job *pipeline.Job, opts []ports.Option) (*model.ClassificationResult, error) {
	// Apply options on top of defaults
	options := model.DefaultClassificationOptions()
	for _, o := range opts {
		o(options)
	}

	// Apply timeout
	if options.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, options.Timeout)
		defer cancel()
	}

	job.ID = uuid.NewString()
	job.Options = options
	job.Reporter = s.reporter
	job.Log = s.log.With(zap.String("job_id", job.ID))

	job.Log.Info("starting classification",
		zap.String("input", job.InputPath),
		zap.Bool("preloaded", job.Waveform != nil),
	)

	// The pipeline is deterministic; a failed run is not retried.
	result, err := s.pipeline.Run(ctx, job)
	if err != nil {
		job.Log.Error("classification failed",
			zap.String("input", job.InputPath),
			zap.Error(err),
		)
		return nil, err
	}

	if options.Persist {
		s.persist(ctx, result)
	}

	job.Log.Info("classification completed",
		zap.String("label", string(result.Label)),
		zap.Duration("duration", result.ProcessingTime),
	)
	return result, nil
}

// persist stores r. A history failure is logged and never fails the
// classification it describes.
func (s *AffectService) persist(ctx context.Context, r *model.ClassificationResult) {
	if s.store == nil {
		return
	}
	if err := s.store.Save(ctx, r); err != nil {
		s.log.Warn("failed to store classification",
			zap.String("id", r.ID),
			zap.Error(err),
		)
	}
}

// ClassifyBatch classifies multiple files concurrently. Results arrive in
// completion order.
func (s *AffectService) ClassifyBatch(ctx context.Context, jobs []model.BatchJob) (<-chan model.BatchResult, error) {
	if len(jobs) == 0 {
		ch := make(chan model.BatchResult)
		close(ch)
		return ch, nil
	}

	for i := range jobs {
		if jobs[i].ID == "" {
			jobs[i].ID = uuid.NewString()
		}
	}

	s.log.Info("starting batch classification",
		zap.Int("job_count", len(jobs)),
	)

	results, err := s.workerPool.Run(ctx, jobs, s.reporter)
	if err != nil {
		return nil, err
	}

	persist := make(map[string]bool, len(jobs))
	for _, j := range jobs {
		persist[j.ID] = j.Options == nil || j.Options.Persist
	}

	out := make(chan model.BatchResult, len(jobs))
	go func() {
		defer close(out)
		for r := range results {
			if r.Err == nil && persist[r.JobID] {
				s.persist(ctx, r.Result)
			}
			out <- r
		}
	}()
	return out, nil
}

// ProbeAudio returns metadata about an audio file without classifying it
func (s *AffectService) ProbeAudio(ctx context.Context, inputPath string) (*model.AudioMetadata, error) {
	exists, err := s.storage.Exists(ctx, inputPath)
	if err != nil {
		return nil, pkgerrors.NewProcessingError("probe", "failed to check file", err)
	}
	if !exists {
		return nil, pkgerrors.NewInputError("inputPath", inputPath, "file does not exist")
	}

	return s.pipeline.ProbeFile(ctx, inputPath)
}

// History returns the most recent stored classifications, newest first
func (s *AffectService) History(ctx context.Context, limit int) ([]*model.ClassificationResult, error) {
	if s.store == nil {
		return nil, nil
	}
	return s.store.Recent(ctx, limit)
}

// Lookup returns one stored classification, or pkgerrors.ErrNotFound
func (s *AffectService) Lookup(ctx context.Context, id string) (*model.ClassificationResult, error) {
	if s.store == nil {
		return nil, pkgerrors.ErrNotFound
	}
	return s.store.Get(ctx, id)
}
