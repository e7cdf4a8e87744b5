package ffmpeg

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"time"

	"github.com/Skryldev/affect-lab/domain/model"
	"github.com/Skryldev/affect-lab/domain/ports"
	pkgerrors "github.com/Skryldev/affect-lab/pkg/errors"
	"github.com/Skryldev/affect-lab/pkg/logger"
	"go.uber.org/zap"
)

// Executor implements ports.FFmpegExecutor
type Executor struct {
	ffmpegPath  string
	ffprobePath string
	log         *logger.Logger
}

// ExecutorConfig holds configuration for the FFmpeg executor
type ExecutorConfig struct {
	FFmpegPath  string
	FFprobePath string
	Logger      *logger.Logger
}

// NewExecutor creates a new FFmpeg executor
func NewExecutor(cfg ExecutorConfig) (*Executor, error) {
	ffmpegPath := cfg.FFmpegPath
	if ffmpegPath == "" {
		var err error
		ffmpegPath, err = exec.LookPath("ffmpeg")
		if err != nil {
			return nil, fmt.Errorf("ffmpeg not found in PATH: %w", err)
		}
	}

	ffprobePath := cfg.FFprobePath
	if ffprobePath == "" {
		var err error
		ffprobePath, err = exec.LookPath("ffprobe")
		if err != nil {
			return nil, fmt.Errorf("ffprobe not found in PATH: %w", err)
		}
	}

	return &Executor{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		log:         logger.OrDefault(cfg.Logger).Named("ffmpeg"),
	}, nil
}

// Output runs ffmpeg and returns what it wrote to stdout
func (e *Executor) Output(ctx context.Context, args []string) ([]byte, error) {
	return e.run(ctx, e.ffmpegPath, "ffmpeg", args)
}

// Probe runs ffprobe and returns JSON output
func (e *Executor) Probe(ctx context.Context, inputPath string) ([]byte, error) {
	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		inputPath,
	}
	return e.run(ctx, e.ffprobePath, "ffprobe", args)
}

func (e *Executor) run(ctx context.Context, bin, name string, args []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, bin, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	e.log.Debug("executing "+name,
		zap.Strings("args", args),
	)

	start := time.Now()
	if err := cmd.Run(); err != nil {
		exitCode := -1
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		}
		return nil, pkgerrors.NewFFmpegError(
			name+" execution failed",
			args,
			exitCode,
			stderr.String(),
			err,
		)
	}
	e.log.Timed(name+" finished", start, zap.Int("stdout_bytes", stdout.Len()))

	return stdout.Bytes(), nil
}

// probeOutput maps key fields from ffprobe JSON
type probeOutput struct {
	Format struct {
		Duration   string `json:"duration"`
		BitRate    string `json:"bit_rate"`
		Size       string `json:"size"`
		FormatName string `json:"format_name"`
	} `json:"format"`
	Streams []struct {
		CodecType  string `json:"codec_type"`
		CodecName  string `json:"codec_name"`
		SampleRate string `json:"sample_rate"`
		Channels   int    `json:"channels"`
		BitRate    string `json:"bit_rate"`
	} `json:"streams"`
}

// ParseProbe converts ffprobe JSON into metadata of the first audio stream.
func ParseProbe(data []byte) (*model.AudioMetadata, error) {
	var probe probeOutput
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	meta := &model.AudioMetadata{
		Format: probe.Format.FormatName,
	}
	if sec, err := strconv.ParseFloat(probe.Format.Duration, 64); err == nil {
		meta.Duration = time.Duration(sec * float64(time.Second))
	}
	meta.Size, _ = strconv.ParseInt(probe.Format.Size, 10, 64)
	meta.Bitrate, _ = strconv.Atoi(probe.Format.BitRate)

	for _, s := range probe.Streams {
		if s.CodecType != "" && s.CodecType != "audio" {
			continue
		}
		meta.Codec = s.CodecName
		meta.Channels = s.Channels
		meta.SampleRate, _ = strconv.Atoi(s.SampleRate)
		if br, err := strconv.Atoi(s.BitRate); err == nil {
			meta.Bitrate = br
		}
		return meta, nil
	}
	return nil, fmt.Errorf("no audio stream in ffprobe output")
}

// PCMCommand builds the ffmpeg arguments that write raw samples of one
// input to stdout at its native rate.
type PCMCommand struct {
	input    string
	channels int
}

func NewPCMCommand(input string) *PCMCommand {
	return &PCMCommand{input: input}
}

// Mono downmixes all channels to one.
func (c *PCMCommand) Mono() *PCMCommand {
	c.channels = 1
	return c
}

// Args returns the full argument list. Samples come out as f32le.
func (c *PCMCommand) Args() []string {
	args := []string{"-nostdin", "-v", "error", "-i", c.input, "-vn"}
	if c.channels > 0 {
		args = append(args, "-ac", strconv.Itoa(c.channels))
	}
	return append(args, "-f", "f32le", "-acodec", "pcm_f32le", "pipe:1")
}

// DecodePCM decodes any input ffmpeg understands to mono float samples at
// the stream's native rate.
func DecodePCM(ctx context.Context, ff ports.FFmpegExecutor, path string) (model.Waveform, error) {
	raw, err := ff.Probe(ctx, path)
	if err != nil {
		return model.Waveform{}, err
	}
	meta, err := ParseProbe(raw)
	if err != nil {
		return model.Waveform{}, err
	}
	if meta.SampleRate <= 0 {
		return model.Waveform{}, fmt.Errorf("ffprobe reports sample rate %d", meta.SampleRate)
	}

	pcm, err := ff.Output(ctx, NewPCMCommand(path).Mono().Args())
	if err != nil {
		return model.Waveform{}, err
	}
	if len(pcm)%4 != 0 {
		return model.Waveform{}, fmt.Errorf("ffmpeg emitted %d bytes, not a whole number of float32 samples", len(pcm))
	}

	samples := make([]float64, len(pcm)/4)
	for i := range samples {
		samples[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(pcm[4*i:])))
	}
	return model.Waveform{Samples: samples, SampleRate: meta.SampleRate}, nil
}
