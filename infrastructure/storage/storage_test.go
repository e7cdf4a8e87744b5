package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Skryldev/affect-lab/domain/model"
	pkgerrors "github.com/Skryldev/affect-lab/pkg/errors"
	"github.com/Skryldev/affect-lab/pkg/logger"
	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "history.db"), logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func result(label model.Emotion, at time.Time) *model.ClassificationResult {
	return &model.ClassificationResult{
		Source:         "clip.wav",
		Label:          label,
		ClassIndex:     model.IndexOf(label),
		Scores:         model.MustScoresFor(label),
		Probabilities:  []float64{0.1, 0.2, 0.3, 0.1, 0.1, 0.1, 0.05, 0.05},
		SampleRate:     16000,
		AudioDuration:  3 * time.Second,
		ProcessingTime: 120 * time.Millisecond,
		CreatedAt:      at,
	}
}

func TestSQLiteStore_SaveGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r := result(model.EmotionSad, time.Date(2026, 3, 1, 12, 0, 0, 123, time.UTC))
	require.NoError(t, s.Save(ctx, r))
	require.NotEmpty(t, r.ID)

	got, err := s.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, r, got)
	assert.Equal(t, model.SadScores, got.Scores)
}

func TestSQLiteStore_GetMissing(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, pkgerrors.ErrNotFound)
}

func TestSQLiteStore_Recent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	labels := []model.Emotion{model.EmotionCalm, model.EmotionAngry, model.EmotionHappy}
	for i, l := range labels {
		require.NoError(t, s.Save(ctx, result(l, base.Add(time.Duration(i)*time.Minute))))
	}

	tests := []struct {
		name  string
		limit int
		want  []model.Emotion
	}{
		{name: "all", limit: 0, want: []model.Emotion{model.EmotionHappy, model.EmotionAngry, model.EmotionCalm}},
		{name: "two", limit: 2, want: []model.Emotion{model.EmotionHappy, model.EmotionAngry}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Recent(ctx, tt.limit)
			require.NoError(t, err)
			var labels []model.Emotion
			for _, r := range got {
				labels = append(labels, r.Label)
			}
			assert.Equal(t, tt.want, labels)
		})
	}
}

func TestSQLiteStore_ConcurrentSaves(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.Save(ctx, result(model.EmotionNeutral, time.Time{}))
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	all, err := s.Recent(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 16)
}

func TestSQLiteStore_DuplicateID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r := result(model.EmotionFearful, time.Now())
	r.ID = "fixed"
	require.NoError(t, s.Save(ctx, r))
	err := s.Save(ctx, r)
	require.Error(t, err)
	assert.False(t, IsBusy(err))
}

func TestIsBusy(t *testing.T) {
	assert.True(t, IsBusy(sqlite3.Error{Code: sqlite3.ErrBusy}))
	assert.True(t, IsBusy(sqlite3.Error{Code: sqlite3.ErrLocked}))
	assert.False(t, IsBusy(sqlite3.Error{Code: sqlite3.ErrConstraint}))
	assert.False(t, IsBusy(os.ErrClosed))
}

func TestLocalStorage(t *testing.T) {
	ctx := context.Background()
	s := NewLocalStorage()
	dir := filepath.Join(t.TempDir(), "uploads")

	path, err := s.TempFile(ctx, dir, "upload-*.wav")
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(path))
	assert.Equal(t, ".wav", filepath.Ext(path))

	ok, err := s.Exists(ctx, path)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Exists(ctx, dir)
	require.NoError(t, err)
	assert.False(t, ok, "directories are not inputs")

	n, err := s.WriteFile(ctx, path, strings.NewReader("RIFFdata"), 100)
	require.NoError(t, err)
	assert.Equal(t, int64(8), n)

	size, err := s.Size(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, int64(8), size)

	_, err = s.WriteFile(ctx, path, strings.NewReader("0123456789"), 4)
	assert.ErrorContains(t, err, "exceeds 4 bytes")

	require.NoError(t, s.Remove(ctx, path))
	require.NoError(t, s.Remove(ctx, path))
	ok, err = s.Exists(ctx, path)
	require.NoError(t, err)
	assert.False(t, ok)
}
