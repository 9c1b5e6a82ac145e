package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"offchain-exchange/go-backend/internal/platform/metrics"
	"offchain-exchange/go-backend/internal/platform/ratelimiter"
	"offchain-exchange/go-backend/internal/retry"
)

type HTTPConfig struct {
	Client      *http.Client
	Timeout     time.Duration
	MaxBlobSize int64
	Retry       retry.Policy
	Limiter     *ratelimiter.MapLimiter
	Metrics     *metrics.Recorder
	Logger      *slog.Logger
}

func (c HTTPConfig) normalize() HTTPConfig {
	if c.Client == nil {
		c.Client = http.DefaultClient
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.MaxBlobSize <= 0 {
		c.MaxBlobSize = DefaultMaxBlobSize
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// HTTPReader fetches blobs with GET, retrying transient failures per host.
type HTTPReader struct {
	cfg HTTPConfig
}

func NewHTTPReader(cfg HTTPConfig) *HTTPReader {
	return &HTTPReader{cfg: cfg.normalize()}
}

func (r *HTTPReader) ReadBlob(ctx context.Context, rawURL string) ([]byte, error) {
	started := time.Now()
	policy := r.cfg.Retry
	policy.Retryable = Retryable
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		r.cfg.Metrics.RecordRetryAttempt()
		r.cfg.Logger.Debug("storage read retry", "url", rawURL, "attempt", attempt, "delay", delay, "error", err)
	}

	data, err := retry.Do(ctx, policy, func(ctx context.Context) ([]byte, error) {
		return r.fetch(ctx, rawURL)
	})
	r.cfg.Metrics.RecordOp("storage_read", started)
	if err != nil && !errors.Is(err, ErrNotFound) {
		r.cfg.Metrics.RecordOpError("storage_read")
		r.cfg.Metrics.RecordError("network")
	}
	return data, err
}

func (r *HTTPReader) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return nil, &FetchError{Type: FetchRequestError, URL: rawURL, Err: fmt.Errorf("invalid url: %v", err)}
	}
	if err := r.cfg.Limiter.Wait(ctx, u.Host); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &FetchError{Type: FetchRequestError, URL: rawURL, Err: err}
	}
	resp, err := r.cfg.Client.Do(req)
	if err != nil {
		return nil, &FetchError{Type: FetchNetworkError, URL: rawURL, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w: %s", ErrNotFound, rawURL)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &FetchError{Type: classifyStatus(resp.StatusCode), StatusCode: resp.StatusCode, URL: rawURL}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, r.cfg.MaxBlobSize+1))
	if err != nil {
		return nil, &FetchError{Type: FetchNetworkError, StatusCode: resp.StatusCode, URL: rawURL, Err: err}
	}
	if int64(len(body)) > r.cfg.MaxBlobSize {
		return nil, &FetchError{Type: FetchDecodeError, StatusCode: resp.StatusCode, URL: rawURL, Err: errors.New("blob exceeds size limit")}
	}
	return body, nil
}

// HTTPWriter stores blobs with PUT under a fixed storage root.
type HTTPWriter struct {
	root string
	cfg  HTTPConfig
}

func NewHTTPWriter(root string, cfg HTTPConfig) (*HTTPWriter, error) {
	u, err := url.Parse(root)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("storage: invalid storage root %q", root)
	}
	return &HTTPWriter{root: root, cfg: cfg.normalize()}, nil
}

func (w *HTTPWriter) WriteBlob(ctx context.Context, p string, data []byte) error {
	started := time.Now()
	err := w.put(ctx, p, data)
	w.cfg.Metrics.RecordOp("storage_write", started)
	if err != nil {
		w.cfg.Metrics.RecordOpError("storage_write")
	}
	return err
}

func (w *HTTPWriter) put(ctx context.Context, p string, data []byte) error {
	clean, err := CleanPath(p)
	if err != nil {
		return err
	}
	target := JoinURL(w.root, clean)

	ctx, cancel := context.WithTimeout(ctx, w.cfg.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target, bytes.NewReader(data))
	if err != nil {
		return &FetchError{Type: FetchRequestError, URL: target, Err: err}
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	resp, err := w.cfg.Client.Do(req)
	if err != nil {
		return &FetchError{Type: FetchNetworkError, URL: target, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &FetchError{Type: classifyStatus(resp.StatusCode), StatusCode: resp.StatusCode, URL: target}
	}
	return nil
}
