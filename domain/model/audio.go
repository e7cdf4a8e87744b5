package model

import (
	"math"
	"time"
)

// Waveform is mono time-domain audio at its native sample rate.
// Samples are expected in [-1, 1].
type Waveform struct {
	Samples    []float64
	SampleRate int
}

// Duration returns the playing time of the waveform.
func (w Waveform) Duration() time.Duration {
	if w.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(len(w.Samples)) / float64(w.SampleRate) * float64(time.Second))
}

// IsSilent reports whether every sample is zero.
func (w Waveform) IsSilent() bool {
	for _, s := range w.Samples {
		if s != 0 {
			return false
		}
	}
	return true
}

// Peak returns the largest absolute sample value.
func (w Waveform) Peak() float64 {
	var p float64
	for _, s := range w.Samples {
		p = math.Max(p, math.Abs(s))
	}
	return p
}

// AudioMetadata holds metadata of an audio file
type AudioMetadata struct {
	Duration   time.Duration
	SampleRate int
	Channels   int
	Bitrate    int
	Codec      string
	Format     string
	Size       int64
}

// ClassificationOptions holds per-request settings
type ClassificationOptions struct {
	// Timeout bounds the whole request. Zero means no deadline.
	Timeout time.Duration

	// Persist stores the result in the history store when one is configured.
	Persist bool

	// Source overrides the name recorded for the input (defaults to the path).
	Source string
}

// DefaultClassificationOptions returns defaults
func DefaultClassificationOptions() *ClassificationOptions {
	return &ClassificationOptions{
		Timeout: 2 * time.Minute,
		Persist: true,
	}
}

// ClassificationResult is what one classification produces.
type ClassificationResult struct {
	ID         string      `json:"id"`
	Source     string      `json:"source"`
	Label      Emotion     `json:"label"`
	ClassIndex int         `json:"class_index"`
	Scores     ScoreRecord `json:"scores"`

	// Probabilities is the raw network output, kept for diagnostics.
	// Scores does not depend on it.
	Probabilities []float64 `json:"probabilities,omitempty"`

	SampleRate     int           `json:"sample_rate"`
	AudioDuration  time.Duration `json:"audio_duration"`
	ProcessingTime time.Duration `json:"processing_time"`
	CreatedAt      time.Time     `json:"created_at"`
}

// BatchJob represents one file in a batch
type BatchJob struct {
	ID        string
	InputPath string
	Options   *ClassificationOptions
}

// BatchResult holds results of a batch operation
type BatchResult struct {
	JobID  string
	Result *ClassificationResult
	Err    error
}
