package usecase

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Skryldev/affect-lab/application/classifier"
	"github.com/Skryldev/affect-lab/application/features"
	"github.com/Skryldev/affect-lab/domain/model"
	"github.com/Skryldev/affect-lab/domain/ports"
	"github.com/Skryldev/affect-lab/infrastructure/decoder"
	"github.com/Skryldev/affect-lab/infrastructure/storage"
	"github.com/Skryldev/affect-lab/internal/mocks"
	pkgerrors "github.com/Skryldev/affect-lab/pkg/errors"
	"github.com/Skryldev/affect-lab/pkg/logger"
	"github.com/Skryldev/affect-lab/pkg/progress"
	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// favouring returns a softmax network that ignores its input and always
// prefers label.
func favouring(t *testing.T, label model.Emotion) *classifier.MLP {
	t.Helper()
	bias := make([]float64, model.NumClasses)
	bias[model.IndexOf(label)] = 5
	m, err := classifier.NewMLP([]classifier.Layer{{
		Kernel:     mat.NewDense(features.Width, model.NumClasses, nil),
		Bias:       bias,
		Activation: classifier.ActSoftmax,
	}})
	require.NoError(t, err)
	return m
}

func tone(sr int, seconds float64) model.Waveform {
	s := make([]float64, int(float64(sr)*seconds))
	for i := range s {
		s[i] = 0.4 * math.Sin(2*math.Pi*220*float64(i)/float64(sr))
	}
	return model.Waveform{Samples: s, SampleRate: sr}
}

func writeToneWAV(t *testing.T, dir string, sr int, seconds float64) string {
	t.Helper()
	w := tone(sr, seconds)
	data := make([]int, len(w.Samples))
	for i, v := range w.Samples {
		data[i] = int(v * 32767)
	}

	path := filepath.Join(dir, "tone.wav")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	enc := wav.NewEncoder(f, sr, 16, 1, 1)
	require.NoError(t, enc.Write(&audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: sr},
		Data:           data,
		SourceBitDepth: 16,
	}))
	require.NoError(t, enc.Close())
	return path
}

func TestAffectService_EndToEnd(t *testing.T) {
	dir := t.TempDir()
	path := writeToneWAV(t, dir, 16000, 3)

	store, err := storage.NewSQLiteStore(filepath.Join(dir, "history.db"), logger.NewNop())
	require.NoError(t, err)
	defer store.Close()

	rec := &progress.RecordingReporter{}
	svc, err := NewAffectService(Config{
		Network:   favouring(t, model.EmotionCalm),
		Extractor: features.New(features.Config{Logger: logger.NewNop()}),
		Decoder:   decoder.New(decoder.Config{Logger: logger.NewNop()}),
		Storage:   storage.NewLocalStorage(),
		Store:     store,
		Reporter:  rec,
		Logger:    logger.NewNop(),
	})
	require.NoError(t, err)

	res, err := svc.ClassifyFile(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, model.EmotionCalm, res.Label)
	assert.Equal(t, model.EmotionCalm, res.Scores.ProminentSentiment)
	assert.GreaterOrEqual(t, res.Scores.Calm, 0.8)
	assert.Equal(t, 16000, res.SampleRate)
	assert.Equal(t, 3*time.Second, res.AudioDuration)
	assert.Len(t, res.Probabilities, model.NumClasses)
	assert.Len(t, rec.Stages(res.ID), 5)

	again, err := svc.ClassifyFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, res.Scores, again.Scores)
	assert.Equal(t, res.Probabilities, again.Probabilities)

	history, err := svc.History(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, again.ID, history[0].ID)

	stored, err := svc.Lookup(context.Background(), res.ID)
	require.NoError(t, err)
	assert.Equal(t, res.Scores, stored.Scores)
}

func newMockService(t *testing.T, out []float64, store ports.ResultStore) *AffectService {
	t.Helper()
	cfg := Config{
		Network:   &mocks.MockNetwork{In: features.Width, Out: model.NumClasses, Output: out},
		Extractor: &mocks.MockExtractor{Vector: make([]float64, features.Width)},
		Decoder: &mocks.MockDecoder{Waveform: model.Waveform{
			Samples: make([]float64, 1600), SampleRate: 16000,
		}},
		Storage:  &mocks.MockStorageProvider{},
		Executor: &mocks.MockFFmpegExecutor{},
		Logger:   logger.NewNop(),
		Workers:  2,
	}
	if store != nil {
		cfg.Store = store
	}
	svc, err := NewAffectService(cfg)
	require.NoError(t, err)
	return svc
}

func TestAffectService_EveryIndexMapsToItsRecord(t *testing.T) {
	for i, label := range model.Labels() {
		t.Run(string(label), func(t *testing.T) {
			out := make([]float64, model.NumClasses)
			out[i] = 1
			res, err := newMockService(t, out, nil).ClassifyWaveform(context.Background(), tone(16000, 0.5))
			require.NoError(t, err)
			assert.Equal(t, label, res.Label)
			assert.Equal(t, model.MustScoresFor(label), res.Scores)
		})
	}
}

func TestAffectService_ClassifyWaveformRejects(t *testing.T) {
	svc := newMockService(t, make([]float64, model.NumClasses), nil)
	tests := []struct {
		name string
		w    model.Waveform
	}{
		{name: "empty", w: model.Waveform{SampleRate: 16000}},
		{name: "no rate", w: model.Waveform{Samples: []float64{0.5}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.ClassifyWaveform(context.Background(), tt.w)
			_, ok := pkgerrors.As[*pkgerrors.InputError](err)
			assert.True(t, ok, "got %v", err)
		})
	}
}

func TestAffectService_Persistence(t *testing.T) {
	out := []float64{0, 0, 0, 0, 1, 0, 0, 0}

	t.Run("persisted by default", func(t *testing.T) {
		store := mocks.NewMemoryResultStore()
		_, err := newMockService(t, out, store).ClassifyFile(context.Background(), "/clip.wav")
		require.NoError(t, err)
		assert.Equal(t, 1, store.Len())
	})

	t.Run("opt out", func(t *testing.T) {
		store := mocks.NewMemoryResultStore()
		_, err := newMockService(t, out, store).ClassifyFile(context.Background(), "/clip.wav", ports.WithPersist(false))
		require.NoError(t, err)
		assert.Zero(t, store.Len())
	})

	t.Run("store failure does not fail classification", func(t *testing.T) {
		store := mocks.NewMemoryResultStore()
		store.SaveErr = errors.New("disk full")
		res, err := newMockService(t, out, store).ClassifyFile(context.Background(), "/clip.wav")
		require.NoError(t, err)
		assert.Equal(t, model.EmotionAngry, res.Label)
	})

	t.Run("no store", func(t *testing.T) {
		svc := newMockService(t, out, nil)
		h, err := svc.History(context.Background(), 5)
		require.NoError(t, err)
		assert.Empty(t, h)
		_, err = svc.Lookup(context.Background(), "x")
		assert.ErrorIs(t, err, pkgerrors.ErrNotFound)
	})
}

func TestAffectService_ClassifyBatch(t *testing.T) {
	store := mocks.NewMemoryResultStore()
	svc := newMockService(t, []float64{0, 0, 0, 1, 0, 0, 0, 0}, store)

	jobs := []model.BatchJob{
		{InputPath: "/a.wav"},
		{ID: "b", InputPath: "/b.wav"},
		{ID: "c", InputPath: "/c.wav", Options: &model.ClassificationOptions{Persist: false}},
	}
	ch, err := svc.ClassifyBatch(context.Background(), jobs)
	require.NoError(t, err)

	n := 0
	for r := range ch {
		n++
		require.NoError(t, r.Err)
		assert.NotEmpty(t, r.JobID)
		assert.Equal(t, model.EmotionSad, r.Result.Label)
	}
	assert.Equal(t, 3, n)
	assert.Equal(t, 2, store.Len())

	empty, err := svc.ClassifyBatch(context.Background(), nil)
	require.NoError(t, err)
	_, open := <-empty
	assert.False(t, open)
}

func TestAffectService_Timeout(t *testing.T) {
	cfg := Config{
		Network: &mocks.MockNetwork{In: features.Width, Out: model.NumClasses, Output: make([]float64, model.NumClasses)},
		Extractor: &mocks.MockExtractor{
			Vector: make([]float64, features.Width),
			ExtractFunc: func(ctx context.Context, _ model.Waveform) ([]float64, error) {
				<-ctx.Done()
				return nil, ctx.Err()
			},
		},
		Decoder: &mocks.MockDecoder{},
		Storage: &mocks.MockStorageProvider{},
		Logger:  logger.NewNop(),
	}
	svc, err := NewAffectService(cfg)
	require.NoError(t, err)

	_, err = svc.ClassifyWaveform(context.Background(), tone(16000, 0.1), ports.WithTimeout(20*time.Millisecond))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAffectService_ProbeAudio(t *testing.T) {
	svc := newMockService(t, make([]float64, model.NumClasses), nil)
	meta, err := svc.ProbeAudio(context.Background(), "/clip.wav")
	require.NoError(t, err)
	assert.Equal(t, "pcm_s16le", meta.Codec)
}

func TestNewAffectService_Validation(t *testing.T) {
	net := &mocks.MockNetwork{In: features.Width, Out: model.NumClasses}
	ext := &mocks.MockExtractor{Vector: make([]float64, features.Width)}
	dec := &mocks.MockDecoder{}
	st := &mocks.MockStorageProvider{}

	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "no network", cfg: Config{Extractor: ext, Decoder: dec, Storage: st}},
		{name: "no extractor", cfg: Config{Network: net, Decoder: dec, Storage: st}},
		{name: "no decoder", cfg: Config{Network: net, Extractor: ext, Storage: st}},
		{name: "no storage", cfg: Config{Network: net, Extractor: ext, Decoder: dec}},
		{name: "width mismatch", cfg: Config{
			Network: net, Decoder: dec, Storage: st,
			Extractor: &mocks.MockExtractor{Vector: make([]float64, 100)},
		}},
		{name: "narrow network", cfg: Config{
			Network: &mocks.MockNetwork{In: 100, Out: model.NumClasses}, Decoder: dec, Storage: st,
			Extractor: &mocks.MockExtractor{Vector: make([]float64, 100)},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.cfg.Logger = logger.NewNop()
			_, err := NewAffectService(tt.cfg)
			assert.Error(t, err)
		})
	}
}
