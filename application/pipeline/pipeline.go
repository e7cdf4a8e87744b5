package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/Skryldev/affect-lab/application/classifier"
	"github.com/Skryldev/affect-lab/domain/model"
	"github.com/Skryldev/affect-lab/domain/ports"
	"github.com/Skryldev/affect-lab/infrastructure/ffmpeg"
	pkgerrors "github.com/Skryldev/affect-lab/pkg/errors"
	"github.com/Skryldev/affect-lab/pkg/logger"
	"github.com/Skryldev/affect-lab/pkg/progress"
	"go.uber.org/zap"
)

// Stage represents a single pipeline stage function
type Stage func(ctx context.Context, job *Job) error

// Job holds the state of a single classification
type Job struct {
	ID        string
	InputPath string

	// Waveform is filled by the decode stage, or set up front to skip it.
	Waveform *model.Waveform

	Options  *model.ClassificationOptions
	Reporter progress.Reporter
	Log      *logger.Logger

	vector     []float64
	prediction classifier.Prediction
	label      model.Emotion
	scores     model.ScoreRecord
}

// Pipeline runs decode, extract, infer and map in order
type Pipeline struct {
	decoder   ports.Decoder
	extractor ports.FeatureExtractor
	adapter   *classifier.Adapter
	executor  ports.FFmpegExecutor
	storage   ports.StorageProvider
	stages    []namedStage
	log       *logger.Logger
}

type namedStage struct {
	name    progress.Stage
	percent float64
	stage   Stage
}

// Config lists the collaborators of a Pipeline. Executor is only needed
// for probing.
type Config struct {
	Decoder   ports.Decoder
	Extractor ports.FeatureExtractor
	Adapter   *classifier.Adapter
	Executor  ports.FFmpegExecutor
	Storage   ports.StorageProvider
	Logger    *logger.Logger
}

// NewPipeline creates a new classification pipeline
func NewPipeline(cfg Config) *Pipeline {
	p := &Pipeline{
		decoder:   cfg.Decoder,
		extractor: cfg.Extractor,
		adapter:   cfg.Adapter,
		executor:  cfg.Executor,
		storage:   cfg.Storage,
		log:       logger.OrDefault(cfg.Logger).Named("pipeline"),
	}
	p.stages = []namedStage{
		{name: progress.StageDecode, percent: 20, stage: p.decode},
		{name: progress.StageExtract, percent: 70, stage: p.extract},
		{name: progress.StageInfer, percent: 90, stage: p.infer},
		{name: progress.StageMap, percent: 95, stage: p.mapScores},
	}
	return p
}

// Run executes every stage for job and assembles the result.
func (p *Pipeline) Run(ctx context.Context, job *Job) (*model.ClassificationResult, error) {
	start := time.Now()
	if job.Options == nil {
		job.Options = model.DefaultClassificationOptions()
	}
	if job.Log == nil {
		job.Log = p.log.With(zap.String("job_id", job.ID))
	}

	if err := p.validateInput(ctx, job); err != nil {
		return nil, err
	}

	for _, s := range p.stages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		stageStart := time.Now()
		if err := s.stage(ctx, job); err != nil {
			job.Log.Warn("stage failed",
				zap.String("stage", string(s.name)),
				zap.Error(err),
			)
			return nil, wrapStageError(ctx, s.name, err)
		}
		job.Log.Timed("stage complete", stageStart, zap.String("stage", string(s.name)))
		job.report(s.name, s.percent, string(s.name)+" complete")
	}

	source := job.Options.Source
	if source == "" {
		source = job.InputPath
	}
	result := &model.ClassificationResult{
		ID:             job.ID,
		Source:         source,
		Label:          job.label,
		ClassIndex:     job.prediction.Index,
		Scores:         job.scores,
		Probabilities:  job.prediction.Probabilities,
		SampleRate:     job.Waveform.SampleRate,
		AudioDuration:  job.Waveform.Duration(),
		ProcessingTime: time.Since(start),
		CreatedAt:      time.Now().UTC(),
	}

	job.report(progress.StageDone, 100, "done")
	return result, nil
}

// wrapStageError keeps typed errors as they are and tags anything else
// with the stage it came from.
func wrapStageError(ctx context.Context, stage progress.Stage, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if pkgerrors.CodeOf(err) != "" {
		return err
	}
	return pkgerrors.NewProcessingError(string(stage), fmt.Sprintf("%s failed", stage), err)
}

func (p *Pipeline) validateInput(ctx context.Context, job *Job) error {
	if job.Waveform != nil {
		if len(job.Waveform.Samples) == 0 {
			return pkgerrors.NewInputError("samples", 0, "waveform is empty")
		}
		if job.Waveform.SampleRate <= 0 {
			return pkgerrors.NewInputError("sampleRate", job.Waveform.SampleRate, "sample rate must be positive")
		}
		return nil
	}

	if job.InputPath == "" {
		return pkgerrors.NewInputError("inputPath", "", "input path must not be empty")
	}
	exists, err := p.storage.Exists(ctx, job.InputPath)
	if err != nil {
		return pkgerrors.NewProcessingError("validate", "failed to check input file", err)
	}
	if !exists {
		return pkgerrors.NewInputError("inputPath", job.InputPath, "input file does not exist")
	}
	size, err := p.storage.Size(ctx, job.InputPath)
	if err != nil {
		return pkgerrors.NewProcessingError("validate", "failed to stat input file", err)
	}
	if size == 0 {
		return pkgerrors.NewInputError("inputPath", job.InputPath, "input file is empty")
	}
	return nil
}

func (p *Pipeline) decode(ctx context.Context, job *Job) error {
	if job.Waveform != nil {
		return nil
	}
	w, err := p.decoder.Decode(ctx, job.InputPath)
	if err != nil {
		return err
	}
	job.Waveform = &w
	return nil
}

func (p *Pipeline) extract(ctx context.Context, job *Job) error {
	vec, err := p.extractor.Extract(ctx, *job.Waveform)
	if err != nil {
		return err
	}
	job.vector = vec
	return nil
}

func (p *Pipeline) infer(ctx context.Context, job *Job) error {
	pred, err := p.adapter.Predict(ctx, job.vector)
	if err != nil {
		return err
	}
	job.prediction = pred
	return nil
}

func (p *Pipeline) mapScores(_ context.Context, job *Job) error {
	label, err := model.LabelFor(job.prediction.Index)
	if err != nil {
		return err
	}
	scores, err := model.ScoresFor(label)
	if err != nil {
		return err
	}
	job.label, job.scores = label, scores
	return nil
}

// ProbeFile probes audio metadata for a path.
func (p *Pipeline) ProbeFile(ctx context.Context, path string) (*model.AudioMetadata, error) {
	if p.executor == nil {
		return nil, pkgerrors.NewProcessingError("probe", "ffprobe is not configured", nil)
	}
	data, err := p.executor.Probe(ctx, path)
	if err != nil {
		return nil, err
	}
	meta, err := ffmpeg.ParseProbe(data)
	if err != nil {
		return nil, pkgerrors.NewProcessingError("probe", "failed to read ffprobe output", err)
	}
	return meta, nil
}

// report is a helper to emit progress updates
func (j *Job) report(stage progress.Stage, percent float64, msg string) {
	if j.Reporter == nil {
		return
	}
	j.Reporter.Report(progress.Update{
		JobID:   j.ID,
		Stage:   stage,
		Percent: percent,
		Message: msg,
	})
}
