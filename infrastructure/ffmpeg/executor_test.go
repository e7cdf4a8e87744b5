package ffmpeg

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"os/exec"
	"path/filepath"
	"reflect"
	"sort"
	"testing"
	"time"

	"github.com/Skryldev/affect-lab/domain/ports"
	"github.com/Skryldev/affect-lab/internal/mocks"
	pkgerrors "github.com/Skryldev/affect-lab/pkg/errors"
	"github.com/Skryldev/affect-lab/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ ports.FFmpegExecutor = (*Executor)(nil)
	_ ports.FFmpegExecutor = (*mocks.MockFFmpegExecutor)(nil)
)

func TestFFmpegExecutor_MethodSet(t *testing.T) {
	port := reflect.TypeOf((*ports.FFmpegExecutor)(nil)).Elem()
	var names []string
	for i := 0; i < port.NumMethod(); i++ {
		names = append(names, port.Method(i).Name)
	}
	sort.Strings(names)
	assert.Equal(t, []string{"Output", "Probe"}, names)
}

func TestExecutor_Run(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing")
	e, err := NewExecutor(ExecutorConfig{FFmpegPath: missing, FFprobePath: missing, Logger: logger.NewNop()})
	require.NoError(t, err)

	tests := []struct {
		name string
		call func() ([]byte, error)
		msg  string
	}{
		{name: "output", call: func() ([]byte, error) { return e.Output(context.Background(), []string{"-version"}) }, msg: "ffmpeg execution failed"},
		{name: "probe", call: func() ([]byte, error) { return e.Probe(context.Background(), "clip.wav") }, msg: "ffprobe execution failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.call()
			ffErr, ok := pkgerrors.As[*pkgerrors.FFmpegError](err)
			require.True(t, ok, "got %v", err)
			assert.Contains(t, ffErr.Error(), tt.msg)
			assert.Equal(t, -1, ffErr.ExitCode)
		})
	}

	if bin, err := exec.LookPath("true"); err == nil {
		trueExec, err := NewExecutor(ExecutorConfig{FFmpegPath: bin, FFprobePath: bin, Logger: logger.NewNop()})
		require.NoError(t, err)
		out, err := trueExec.Output(context.Background(), nil)
		require.NoError(t, err)
		assert.Empty(t, out)
	}
}

func TestParseProbe(t *testing.T) {
	meta, err := ParseProbe(mocks.DefaultProbeResponse())
	require.NoError(t, err)
	assert.Equal(t, 16000, meta.SampleRate)
	assert.Equal(t, 1, meta.Channels)
	assert.Equal(t, "pcm_s16le", meta.Codec)
	assert.Equal(t, "wav", meta.Format)
	assert.Equal(t, 3*time.Second, meta.Duration)
	assert.Equal(t, int64(96044), meta.Size)

	video := `{"format": {"format_name": "mov"}, "streams": [
		{"codec_type": "video", "codec_name": "h264"},
		{"codec_type": "audio", "codec_name": "aac", "sample_rate": "44100", "channels": 2}
	]}`
	meta, err = ParseProbe([]byte(video))
	require.NoError(t, err)
	assert.Equal(t, "aac", meta.Codec)
	assert.Equal(t, 44100, meta.SampleRate)

	_, err = ParseProbe([]byte(`{"streams": [{"codec_type": "video"}]}`))
	assert.ErrorContains(t, err, "no audio stream")

	_, err = ParseProbe([]byte(`not json`))
	assert.Error(t, err)
}

func TestPCMCommand_Args(t *testing.T) {
	args := NewPCMCommand("in.ogg").Mono().Args()
	assert.Equal(t, []string{
		"-nostdin", "-v", "error", "-i", "in.ogg", "-vn",
		"-ac", "1",
		"-f", "f32le", "-acodec", "pcm_f32le", "pipe:1",
	}, args)
}

func f32le(vals ...float32) []byte {
	out := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(v))
	}
	return out
}

func TestDecodePCM(t *testing.T) {
	tests := []struct {
		name    string
		probe   func(context.Context, string) ([]byte, error)
		output  func(context.Context, []string) ([]byte, error)
		want    []float64
		wantErr string
	}{
		{
			name: "ok",
			output: func(context.Context, []string) ([]byte, error) {
				return f32le(0.5, -0.25, 0), nil
			},
			want: []float64{0.5, -0.25, 0},
		},
		{
			name: "probe fails",
			probe: func(context.Context, string) ([]byte, error) {
				return nil, errors.New("boom")
			},
			wantErr: "boom",
		},
		{
			name: "no rate",
			probe: func(context.Context, string) ([]byte, error) {
				return []byte(`{"streams": [{"codec_type": "audio", "sample_rate": "0"}]}`), nil
			},
			wantErr: "sample rate 0",
		},
		{
			name: "torn sample",
			output: func(context.Context, []string) ([]byte, error) {
				return []byte{1, 2, 3}, nil
			},
			wantErr: "whole number",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ff := &mocks.MockFFmpegExecutor{ProbeFunc: tt.probe, OutputFunc: tt.output}
			w, err := DecodePCM(context.Background(), ff, "clip.ogg")
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 16000, w.SampleRate)
			assert.Equal(t, tt.want, w.Samples)
			require.Len(t, ff.ExecutedArgs, 1)
			assert.Contains(t, ff.ExecutedArgs[0], "clip.ogg")
		})
	}
}
