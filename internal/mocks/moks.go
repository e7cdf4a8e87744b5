package mocks

import (
	"context"
	"encoding/json"
	"io"
	"sort"
	"sync"

	"github.com/Skryldev/affect-lab/domain/model"
	pkgerrors "github.com/Skryldev/affect-lab/pkg/errors"
)

// MockFFmpegExecutor is a test double for ports.FFmpegExecutor
type MockFFmpegExecutor struct {
	OutputFunc   func(ctx context.Context, args []string) ([]byte, error)
	ProbeFunc    func(ctx context.Context, inputPath string) ([]byte, error)
	ExecutedArgs [][]string

	mu sync.Mutex
}

func (m *MockFFmpegExecutor) Output(ctx context.Context, args []string) ([]byte, error) {
	m.record(args)
	if m.OutputFunc != nil {
		return m.OutputFunc(ctx, args)
	}
	return nil, nil
}

func (m *MockFFmpegExecutor) Probe(ctx context.Context, inputPath string) ([]byte, error) {
	if m.ProbeFunc != nil {
		return m.ProbeFunc(ctx, inputPath)
	}
	return DefaultProbeResponse(), nil
}

func (m *MockFFmpegExecutor) record(args []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ExecutedArgs = append(m.ExecutedArgs, args)
}

// DefaultProbeResponse is the ffprobe JSON of a 3 second 16 kHz mono WAV.
func DefaultProbeResponse() []byte {
	resp := map[string]interface{}{
		"format": map[string]interface{}{
			"duration":    "3.000000",
			"bit_rate":    "256000",
			"size":        "96044",
			"format_name": "wav",
		},
		"streams": []map[string]interface{}{
			{
				"codec_type":  "audio",
				"codec_name":  "pcm_s16le",
				"sample_rate": "16000",
				"channels":    1,
				"bit_rate":    "256000",
			},
		},
	}
	b, _ := json.Marshal(resp)
	return b
}

// MockStorageProvider is a test double for ports.StorageProvider
type MockStorageProvider struct {
	ExistsFunc    func(ctx context.Context, path string) (bool, error)
	SizeFunc      func(ctx context.Context, path string) (int64, error)
	RemoveFunc    func(ctx context.Context, path string) error
	TempFileFunc  func(ctx context.Context, dir, pattern string) (string, error)
	WriteFileFunc func(ctx context.Context, path string, r io.Reader, limit int64) (int64, error)
}

func (m *MockStorageProvider) Exists(ctx context.Context, path string) (bool, error) {
	if m.ExistsFunc != nil {
		return m.ExistsFunc(ctx, path)
	}
	return true, nil
}

func (m *MockStorageProvider) Size(ctx context.Context, path string) (int64, error) {
	if m.SizeFunc != nil {
		return m.SizeFunc(ctx, path)
	}
	return 1024, nil
}

func (m *MockStorageProvider) Remove(ctx context.Context, path string) error {
	if m.RemoveFunc != nil {
		return m.RemoveFunc(ctx, path)
	}
	return nil
}

func (m *MockStorageProvider) TempFile(ctx context.Context, dir, pattern string) (string, error) {
	if m.TempFileFunc != nil {
		return m.TempFileFunc(ctx, dir, pattern)
	}
	return "/tmp/mock_temp_file", nil
}

func (m *MockStorageProvider) WriteFile(ctx context.Context, path string, r io.Reader, limit int64) (int64, error) {
	if m.WriteFileFunc != nil {
		return m.WriteFileFunc(ctx, path, r, limit)
	}
	return io.Copy(io.Discard, r)
}

// MockNetwork is a test double for ports.Network. Without ForwardFunc it
// returns Output.
type MockNetwork struct {
	In, Out     int
	Output      []float64
	ForwardFunc func(ctx context.Context, input []float64) ([]float64, error)
	Closed      bool
}

func (m *MockNetwork) Forward(ctx context.Context, input []float64) ([]float64, error) {
	if m.ForwardFunc != nil {
		return m.ForwardFunc(ctx, input)
	}
	return append([]float64(nil), m.Output...), nil
}

func (m *MockNetwork) InputWidth() int  { return m.In }
func (m *MockNetwork) OutputWidth() int { return m.Out }

func (m *MockNetwork) Close() error {
	m.Closed = true
	return nil
}

// MockDecoder is a test double for ports.Decoder
type MockDecoder struct {
	DecodeFunc func(ctx context.Context, path string) (model.Waveform, error)
	Waveform   model.Waveform
}

func (m *MockDecoder) Decode(ctx context.Context, path string) (model.Waveform, error) {
	if m.DecodeFunc != nil {
		return m.DecodeFunc(ctx, path)
	}
	return m.Waveform, nil
}

// MockExtractor is a test double for ports.FeatureExtractor
type MockExtractor struct {
	ExtractFunc func(ctx context.Context, w model.Waveform) ([]float64, error)
	Vector      []float64
}

func (m *MockExtractor) Extract(ctx context.Context, w model.Waveform) ([]float64, error) {
	if m.ExtractFunc != nil {
		return m.ExtractFunc(ctx, w)
	}
	return append([]float64(nil), m.Vector...), nil
}

func (m *MockExtractor) Width() int { return len(m.Vector) }

// MemoryResultStore is an in-memory ports.ResultStore
type MemoryResultStore struct {
	SaveErr error

	mu      sync.Mutex
	results map[string]*model.ClassificationResult
}

func NewMemoryResultStore() *MemoryResultStore {
	return &MemoryResultStore{results: make(map[string]*model.ClassificationResult)}
}

func (m *MemoryResultStore) Save(_ context.Context, r *model.ClassificationResult) error {
	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.results[r.ID] = &cp
	return nil
}

func (m *MemoryResultStore) Get(_ context.Context, id string) (*model.ClassificationResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.results[id]
	if !ok {
		return nil, pkgerrors.ErrNotFound
	}
	return r, nil
}

func (m *MemoryResultStore) Recent(_ context.Context, limit int) ([]*model.ClassificationResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.ClassificationResult, 0, len(m.results))
	for _, r := range m.results {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryResultStore) Close() error { return nil }

// Len returns how many results were saved.
func (m *MemoryResultStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.results)
}
