package storage

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"offchain-exchange/go-backend/internal/retry"
)

func fastRetry() retry.Policy {
	return retry.Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    time.Millisecond,
		Sleep:       func(context.Context, time.Duration) error { return nil },
	}
}

func TestHTTPReaderReadsBlob(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/root/account/name" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"name":"test"}`))
	}))
	defer srv.Close()

	r := NewHTTPReader(HTTPConfig{Client: srv.Client(), Retry: fastRetry()})
	data, err := r.ReadBlob(context.Background(), srv.URL+"/root/account/name")
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if string(data) != `{"name":"test"}` {
		t.Fatalf("unexpected body: %q", data)
	}

	_, err = r.ReadBlob(context.Background(), srv.URL+"/root/missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestHTTPReaderRetriesServiceUnavailable(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	r := NewHTTPReader(HTTPConfig{Client: srv.Client(), Retry: fastRetry()})
	data, err := r.ReadBlob(context.Background(), srv.URL+"/blob")
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if string(data) != "ok" || calls.Load() != 3 {
		t.Fatalf("unexpected result %q after %d calls", data, calls.Load())
	}
}

func TestHTTPReaderDoesNotRetryClientErrors(t *testing.T) {
	cases := []struct {
		status int
		want   FetchErrorType
	}{
		{status: http.StatusForbidden, want: FetchUnauthorised},
		{status: http.StatusBadRequest, want: FetchRequestError},
	}
	for _, tc := range cases {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			calls.Add(1)
			w.WriteHeader(tc.status)
		}))

		r := NewHTTPReader(HTTPConfig{Client: srv.Client(), Retry: fastRetry()})
		_, err := r.ReadBlob(context.Background(), srv.URL+"/blob")
		srv.Close()

		typ, ok := FetchErrorTypeOf(err)
		if !ok || typ != tc.want {
			t.Fatalf("status %d: expected %s, got %v", tc.status, tc.want, err)
		}
		if calls.Load() != 1 {
			t.Fatalf("status %d: expected a single request, got %d", tc.status, calls.Load())
		}
	}
}

func TestHTTPReaderGivesUpAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	r := NewHTTPReader(HTTPConfig{Client: srv.Client(), Retry: fastRetry()})
	_, err := r.ReadBlob(context.Background(), srv.URL+"/blob")
	if typ, _ := FetchErrorTypeOf(err); typ != FetchServiceUnavailable {
		t.Fatalf("expected ServiceUnavailable, got %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestHTTPReaderRejectsOversizedBlob(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(make([]byte, 64))
	}))
	defer srv.Close()

	r := NewHTTPReader(HTTPConfig{Client: srv.Client(), MaxBlobSize: 16, Retry: fastRetry()})
	_, err := r.ReadBlob(context.Background(), srv.URL+"/blob")
	if typ, _ := FetchErrorTypeOf(err); typ != FetchDecodeError {
		t.Fatalf("expected DecodeError, got %v", err)
	}
}

func TestHTTPReaderNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL + "/blob"
	srv.Close()

	r := NewHTTPReader(HTTPConfig{Retry: fastRetry()})
	_, err := r.ReadBlob(context.Background(), url)
	if typ, _ := FetchErrorTypeOf(err); typ != FetchNetworkError {
		t.Fatalf("expected NetworkError, got %v", err)
	}
}

func TestHTTPWriterPutsBlobs(t *testing.T) {
	got := map[string]string{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		buf, _ := io.ReadAll(r.Body)
		got[r.URL.Path] = string(buf)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	w, err := NewHTTPWriter(srv.URL+"/root/", HTTPConfig{Client: srv.Client()})
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	if err := w.WriteBlob(context.Background(), "account/name", []byte("v")); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if got["/root/account/name"] != "v" {
		t.Fatalf("unexpected writes: %v", got)
	}
	if err := w.WriteBlob(context.Background(), "../escape", []byte("v")); !errors.Is(err, ErrInvalidPath) {
		t.Fatalf("expected ErrInvalidPath, got %v", err)
	}
	if _, err := NewHTTPWriter("ftp://example.com", HTTPConfig{}); err == nil {
		t.Fatal("expected invalid root error")
	}
}
