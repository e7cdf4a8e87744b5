// Package decoder loads audio files as mono waveforms at their native
// sample rate.
package decoder

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/Skryldev/affect-lab/domain/model"
	"github.com/Skryldev/affect-lab/domain/ports"
	"github.com/Skryldev/affect-lab/infrastructure/ffmpeg"
	pkgerrors "github.com/Skryldev/affect-lab/pkg/errors"
	"github.com/Skryldev/affect-lab/pkg/logger"
	"go.uber.org/zap"
)

// Config wires the optional ffmpeg fallback.
type Config struct {
	// FFmpeg decodes formats without a native decoder. Nil disables the
	// fallback.
	FFmpeg ports.FFmpegExecutor
	Logger *logger.Logger
}

// Router implements ports.Decoder by picking a decoder from the file
// extension.
type Router struct {
	ffmpeg ports.FFmpegExecutor
	log    *logger.Logger
}

func New(cfg Config) *Router {
	return &Router{
		ffmpeg: cfg.FFmpeg,
		log:    logger.OrDefault(cfg.Logger).Named("decoder"),
	}
}

// Decode reads path. WAV and MP3 are decoded natively; a native failure
// and every other extension go through ffmpeg when it is configured.
func (r *Router) Decode(ctx context.Context, path string) (model.Waveform, error) {
	if err := ctx.Err(); err != nil {
		return model.Waveform{}, err
	}

	start := time.Now()
	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")

	var (
		w   model.Waveform
		err error
	)
	switch format {
	case "wav", "wave":
		w, err = decodeWAV(path)
	case "mp3":
		w, err = decodeMP3(path)
	default:
		err = errUnsupported
	}

	if err != nil {
		if r.ffmpeg == nil {
			return model.Waveform{}, pkgerrors.NewDecodeError(path, format, "cannot decode audio", err)
		}
		if err != errUnsupported {
			r.log.Warn("native decode failed, falling back to ffmpeg",
				zap.String("path", path),
				zap.String("format", format),
				zap.Error(err),
			)
		}
		w, err = ffmpeg.DecodePCM(ctx, r.ffmpeg, path)
		if err != nil {
			if ctx.Err() != nil {
				return model.Waveform{}, ctx.Err()
			}
			return model.Waveform{}, pkgerrors.NewDecodeError(path, format, "ffmpeg could not decode audio", err)
		}
		format = "ffmpeg"
	}

	if err := validate(w); err != nil {
		return model.Waveform{}, err
	}

	r.log.Timed("audio decoded", start,
		zap.String("path", path),
		zap.String("decoder", format),
		zap.Int("sample_rate", w.SampleRate),
		zap.Duration("duration", w.Duration()),
	)
	return w, nil
}

func validate(w model.Waveform) error {
	if len(w.Samples) == 0 {
		return pkgerrors.NewInputError("samples", 0, "audio contains no samples")
	}
	if w.SampleRate <= 0 {
		return pkgerrors.NewInputError("sampleRate", w.SampleRate, "sample rate must be positive")
	}
	return nil
}

type decodeErr string

func (e decodeErr) Error() string { return string(e) }

const errUnsupported = decodeErr("no native decoder for this format")

// downmix averages interleaved frames into one channel.
func downmix(interleaved []float64, channels int) []float64 {
	if channels <= 1 {
		return interleaved
	}
	out := make([]float64, len(interleaved)/channels)
	for i := range out {
		var sum float64
		for c := 0; c < channels; c++ {
			sum += interleaved[i*channels+c]
		}
		out[i] = sum / float64(channels)
	}
	return out
}
