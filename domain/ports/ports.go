package ports

import (
	"context"
	"io"
	"time"

	"github.com/Skryldev/affect-lab/domain/model"
)

// AffectClassifier defines the main service interface
type AffectClassifier interface {
	// ClassifyFile decodes an audio file and classifies it
	ClassifyFile(ctx context.Context, inputPath string, opts ...Option) (*model.ClassificationResult, error)

	// ClassifyWaveform classifies already decoded audio
	ClassifyWaveform(ctx context.Context, w model.Waveform, opts ...Option) (*model.ClassificationResult, error)

	// ClassifyBatch classifies multiple files concurrently
	ClassifyBatch(ctx context.Context, jobs []model.BatchJob) (<-chan model.BatchResult, error)

	// ProbeAudio returns metadata about an audio file without classifying it
	ProbeAudio(ctx context.Context, inputPath string) (*model.AudioMetadata, error)
}

// FeatureExtractor turns a waveform into the classifier's input vector.
type FeatureExtractor interface {
	Extract(ctx context.Context, w model.Waveform) ([]float64, error)
	Width() int
}

// Network is a loaded, immutable feed-forward model. Forward takes one
// input row and returns one output row.
type Network interface {
	Forward(ctx context.Context, input []float64) ([]float64, error)
	InputWidth() int
	OutputWidth() int
	Close() error
}

// Decoder turns an audio file into a mono waveform at its native rate.
type Decoder interface {
	Decode(ctx context.Context, path string) (model.Waveform, error)
}

// FFmpegExecutor is the abstraction for FFmpeg command execution
type FFmpegExecutor interface {
	// Output runs an ffmpeg command and returns its stdout
	Output(ctx context.Context, args []string) ([]byte, error)

	// Probe runs ffprobe and returns JSON output
	Probe(ctx context.Context, inputPath string) ([]byte, error)
}

// StorageProvider abstracts filesystem or object storage operations
type StorageProvider interface {
	Exists(ctx context.Context, path string) (bool, error)
	Size(ctx context.Context, path string) (int64, error)
	Remove(ctx context.Context, path string) error
	TempFile(ctx context.Context, dir, pattern string) (string, error)
	WriteFile(ctx context.Context, path string, r io.Reader, limit int64) (int64, error)
}

// ResultStore persists classification results.
type ResultStore interface {
	Save(ctx context.Context, r *model.ClassificationResult) error
	Get(ctx context.Context, id string) (*model.ClassificationResult, error)
	Recent(ctx context.Context, limit int) ([]*model.ClassificationResult, error)
	Close() error
}

// Option is the functional option type
type Option func(*model.ClassificationOptions)

// WithTimeout bounds the whole classification
func WithTimeout(d time.Duration) Option {
	return func(o *model.ClassificationOptions) {
		o.Timeout = d
	}
}

// WithPersist turns history storage on or off for this request
func WithPersist(enabled bool) Option {
	return func(o *model.ClassificationOptions) {
		o.Persist = enabled
	}
}

// WithSource sets the name recorded for the input
func WithSource(name string) Option {
	return func(o *model.ClassificationOptions) {
		o.Source = name
	}
}
