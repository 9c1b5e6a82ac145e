package storage

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"offchain-exchange/go-backend/internal/platform/metrics"
)

// Handler serves a LocalWriter directory as a storage root: GET/HEAD read blobs and,
// when writes are enabled, PUT stores them.
type Handler struct {
	store       *LocalWriter
	allowWrite  bool
	maxBlobSize int64
	logger      *slog.Logger
	metrics     *metrics.Recorder
}

type HandlerOption func(*Handler)

func WithWrites(enabled bool) HandlerOption {
	return func(h *Handler) { h.allowWrite = enabled }
}

// WithMaxBlobSize caps PUT bodies. Non-positive values keep the default.
func WithMaxBlobSize(n int64) HandlerOption {
	return func(h *Handler) {
		if n > 0 {
			h.maxBlobSize = n
		}
	}
}

func WithHandlerLogger(logger *slog.Logger) HandlerOption {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

func WithHandlerMetrics(m *metrics.Recorder) HandlerOption {
	return func(h *Handler) { h.metrics = m }
}

func NewHandler(store *LocalWriter, opts ...HandlerOption) *Handler {
	h := &Handler{
		store:       store,
		maxBlobSize: DefaultMaxBlobSize,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p := strings.TrimPrefix(r.URL.Path, "/")
	switch r.Method {
	case http.MethodGet, http.MethodHead:
		h.serveRead(w, r, p)
	case http.MethodPut:
		h.serveWrite(w, r, p)
	default:
		w.Header().Set("Allow", "GET, HEAD, PUT")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) serveRead(w http.ResponseWriter, r *http.Request, p string) {
	started := time.Now()
	defer h.metrics.RecordOp("serve_read", started)

	data, err := h.store.ReadFile(p)
	switch {
	case errors.Is(err, ErrInvalidPath):
		http.Error(w, "invalid path", http.StatusBadRequest)
		return
	case errors.Is(err, ErrNotFound):
		http.NotFound(w, r)
		return
	case err != nil:
		h.metrics.RecordOpError("serve_read")
		h.logger.Error("storage read failed", "path", p, "error", err)
		http.Error(w, "read failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}
	_, _ = w.Write(data)
}

func (h *Handler) serveWrite(w http.ResponseWriter, r *http.Request, p string) {
	if !h.allowWrite {
		http.Error(w, "writes are disabled", http.StatusMethodNotAllowed)
		return
	}
	started := time.Now()
	defer h.metrics.RecordOp("serve_write", started)

	body, err := io.ReadAll(io.LimitReader(r.Body, h.maxBlobSize+1))
	if err != nil {
		http.Error(w, "read body failed", http.StatusBadRequest)
		return
	}
	if int64(len(body)) > h.maxBlobSize {
		http.Error(w, "blob too large", http.StatusRequestEntityTooLarge)
		return
	}
	if err := h.store.WriteBlob(r.Context(), p, body); err != nil {
		if errors.Is(err, ErrInvalidPath) {
			http.Error(w, "invalid path", http.StatusBadRequest)
			return
		}
		h.metrics.RecordOpError("serve_write")
		h.logger.Error("storage write failed", "path", p, "error", err)
		http.Error(w, "write failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
