package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Skryldev/affect-lab/domain/model"
	pkgerrors "github.com/Skryldev/affect-lab/pkg/errors"
	"github.com/Skryldev/affect-lab/pkg/logger"
	"github.com/Skryldev/affect-lab/pkg/retry"
	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// SQLiteStore implements ports.ResultStore on a local SQLite file.
type SQLiteStore struct {
	db    *sql.DB
	log   *logger.Logger
	retry retry.Config
}

// NewSQLiteStore opens path, creating the file and schema when missing.
func NewSQLiteStore(path string, log *logger.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_busy_timeout=2000&_journal_mode=WAL", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite db: %w", err)
	}

	cfg := retry.DefaultConfig()
	cfg.Retryable = IsBusy

	s := &SQLiteStore{
		db:    db,
		log:   logger.OrDefault(log).Named("store"),
		retry: cfg,
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS classifications (
		id TEXT PRIMARY KEY,
		source TEXT NOT NULL,
		label TEXT NOT NULL,
		class_index INTEGER NOT NULL,
		scores TEXT NOT NULL,
		probabilities TEXT,
		sample_rate INTEGER NOT NULL,
		audio_duration_ns INTEGER NOT NULL,
		processing_ns INTEGER NOT NULL,
		created_at_ns INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_classifications_created
		ON classifications (created_at_ns DESC);
	`
	_, err := s.db.Exec(query)
	return err
}

// IsBusy reports whether err is SQLite contention worth retrying.
func IsBusy(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked
}

// Save inserts r. A missing ID is filled with a new UUID and a zero
// CreatedAt with the current time.
func (s *SQLiteStore) Save(ctx context.Context, r *model.ClassificationResult) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}

	scores, err := json.Marshal(r.Scores)
	if err != nil {
		return fmt.Errorf("encode scores: %w", err)
	}
	probs, err := json.Marshal(r.Probabilities)
	if err != nil {
		return fmt.Errorf("encode probabilities: %w", err)
	}

	attempts := 0
	err = retry.Do(ctx, s.retry, func() error {
		attempts++
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO classifications
				(id, source, label, class_index, scores, probabilities,
				 sample_rate, audio_duration_ns, processing_ns, created_at_ns)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, r.Source, string(r.Label), r.ClassIndex, string(scores), string(probs),
			r.SampleRate, int64(r.AudioDuration), int64(r.ProcessingTime), r.CreatedAt.UnixNano(),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to save classification: %w", err)
	}
	if attempts > 1 {
		s.log.Debug("history write retried", zap.String("id", r.ID), zap.Int("attempts", attempts))
	}
	return nil
}

const selectColumns = `id, source, label, class_index, scores, probabilities,
	sample_rate, audio_duration_ns, processing_ns, created_at_ns`

// Get returns the result with the given id, or pkgerrors.ErrNotFound.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*model.ClassificationResult, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+selectColumns+" FROM classifications WHERE id = ?", id)
	r, err := scanResult(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, pkgerrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to load classification: %w", err)
	}
	return r, nil
}

// Recent returns up to limit results, newest first. A limit <= 0 returns
// everything.
func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]*model.ClassificationResult, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+selectColumns+" FROM classifications ORDER BY created_at_ns DESC, id LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list classifications: %w", err)
	}
	defer rows.Close()

	var out []*model.ClassificationResult
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan classification: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate classifications: %w", err)
	}
	return out, nil
}

// Close ensures the DB connection is closed gracefully
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanResult(sc scanner) (*model.ClassificationResult, error) {
	var (
		r                        model.ClassificationResult
		label, scores            string
		probs                    sql.NullString
		audioNS, procNS, created int64
	)
	if err := sc.Scan(&r.ID, &r.Source, &label, &r.ClassIndex, &scores, &probs,
		&r.SampleRate, &audioNS, &procNS, &created); err != nil {
		return nil, err
	}

	r.Label = model.Emotion(label)
	if err := json.Unmarshal([]byte(scores), &r.Scores); err != nil {
		return nil, fmt.Errorf("decode scores of %s: %w", r.ID, err)
	}
	if probs.Valid && probs.String != "" && probs.String != "null" {
		if err := json.Unmarshal([]byte(probs.String), &r.Probabilities); err != nil {
			return nil, fmt.Errorf("decode probabilities of %s: %w", r.ID, err)
		}
	}
	r.AudioDuration = time.Duration(audioNS)
	r.ProcessingTime = time.Duration(procNS)
	r.CreatedAt = time.Unix(0, created).UTC()
	return &r, nil
}
