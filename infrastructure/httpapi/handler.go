package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/Skryldev/affect-lab/domain/model"
	"github.com/Skryldev/affect-lab/domain/ports"
	pkgerrors "github.com/Skryldev/affect-lab/pkg/errors"
	"github.com/Skryldev/affect-lab/pkg/logger"
	"go.uber.org/zap"
)

// Service is the part of the application the HTTP adapter drives.
type Service interface {
	ClassifyFile(ctx context.Context, inputPath string, opts ...ports.Option) (*model.ClassificationResult, error)
	History(ctx context.Context, limit int) ([]*model.ClassificationResult, error)
	Lookup(ctx context.Context, id string) (*model.ClassificationResult, error)
}

// Config configures a Handler.
type Config struct {
	Service Service
	Storage ports.StorageProvider

	// UploadDir holds uploads while they are classified. Empty means the
	// system temp dir.
	UploadDir string

	// MaxUploadBytes caps one upload. Zero means 32 MiB.
	MaxUploadBytes int64

	// Timeout bounds each classification. Zero keeps the service default.
	Timeout time.Duration

	Logger *logger.Logger
}

const (
	defaultMaxUpload    = 32 << 20
	defaultHistoryLimit = 20
	uploadField         = "input"
)

// Handler manages the HTTP interface of the classifier.
type Handler struct {
	svc       Service
	storage   ports.StorageProvider
	uploadDir string
	maxUpload int64
	timeout   time.Duration
	log       *logger.Logger
	router    *http.ServeMux
}

// NewHandler initializes the HTTP adapter and sets up routes.
func NewHandler(cfg Config) *Handler {
	h := &Handler{
		svc:       cfg.Service,
		storage:   cfg.Storage,
		uploadDir: cfg.UploadDir,
		maxUpload: cfg.MaxUploadBytes,
		timeout:   cfg.Timeout,
		log:       logger.OrDefault(cfg.Logger).Named("http"),
		router:    http.NewServeMux(),
	}
	if h.maxUpload <= 0 {
		h.maxUpload = defaultMaxUpload
	}
	h.routes()
	return h
}

// ServeHTTP satisfies the http.Handler interface.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqLog := h.log.With(zap.String("method", r.Method), zap.String("path", r.URL.Path))
	h.router.ServeHTTP(w, r.WithContext(logger.WithContext(r.Context(), reqLog)))
}

func (h *Handler) routes() {
	h.router.HandleFunc("GET /health", h.HealthCheck)
	h.router.HandleFunc("POST /{$}", h.Classify)
	h.router.HandleFunc("GET /history", h.History)
	h.router.HandleFunc("GET /history/{id}", h.Lookup)
}

// HealthCheck is a simple endpoint to verify the API is running.
func (h *Handler) HealthCheck(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Classify accepts one multipart upload in field "input" and answers with
// its score record.
func (h *Handler) Classify(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload+1<<20)
	file, header, err := r.FormFile(uploadField)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload too large")
			return
		}
		writeError(w, http.StatusBadRequest, "multipart field \"input\" is required")
		return
	}
	defer file.Close()

	path, err := h.save(r.Context(), file, header.Filename)
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	defer func() {
		if err := h.storage.Remove(context.WithoutCancel(r.Context()), path); err != nil {
			logger.FromContext(r.Context()).Warn("failed to remove upload", zap.String("path", path), zap.Error(err))
		}
	}()

	opts := []ports.Option{ports.WithSource(filepath.Base(header.Filename))}
	if h.timeout > 0 {
		opts = append(opts, ports.WithTimeout(h.timeout))
	}
	res, err := h.svc.ClassifyFile(r.Context(), path, opts...)
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res.Scores)
}

// save copies an upload to a temp file that keeps the upload's extension,
// since decoders are picked by extension.
func (h *Handler) save(ctx context.Context, src io.Reader, name string) (string, error) {
	ext := strings.ToLower(filepath.Ext(name))
	path, err := h.storage.TempFile(ctx, h.uploadDir, "upload-*"+ext)
	if err != nil {
		return "", pkgerrors.NewProcessingError("upload", "failed to create upload file", err)
	}
	n, err := h.storage.WriteFile(ctx, path, src, h.maxUpload)
	if err != nil {
		_ = h.storage.Remove(ctx, path)
		return "", pkgerrors.NewInputError("input", name, err.Error())
	}
	if n == 0 {
		_ = h.storage.Remove(ctx, path)
		return "", pkgerrors.NewInputError("input", name, "upload is empty")
	}
	return path, nil
}

// History lists stored results, newest first. The limit query parameter
// defaults to 20.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	results, err := h.svc.History(r.Context(), limit)
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	if results == nil {
		results = []*model.ClassificationResult{}
	}
	writeJSON(w, http.StatusOK, results)
}

// Lookup returns one stored result.
func (h *Handler) Lookup(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Lookup(r.Context(), r.PathValue("id"))
	if errors.Is(err, pkgerrors.ErrNotFound) {
		writeError(w, http.StatusNotFound, "classification not found")
		return
	}
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	log := logger.FromContext(r.Context())
	if status >= http.StatusInternalServerError {
		log.Error("request failed", zap.Error(err))
	} else {
		log.Debug("request rejected", zap.Int("status", status), zap.Error(err))
	}
	writeError(w, status, err.Error())
}

// StatusFor maps an application error to an HTTP status.
func StatusFor(err error) int {
	switch pkgerrors.CodeOf(err) {
	case pkgerrors.ErrCodeInput:
		return http.StatusBadRequest
	case pkgerrors.ErrCodeFeature, pkgerrors.ErrCodeDecode:
		return http.StatusUnprocessableEntity
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
