// Package storageserver serves a local storage root over HTTP together with its
// metrics.
package storageserver

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"offchain-exchange/go-backend/internal/platform/metrics"
	"offchain-exchange/go-backend/internal/storage"
)

const DefaultAddr = "127.0.0.1:8790"

type Options struct {
	AllowWrites bool
	MaxBlobSize int64
	Logger      *slog.Logger
	Registry    *prometheus.Registry
}

type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

func New(addr, dir string, opts Options) (*Server, error) {
	if addr == "" {
		addr = DefaultAddr
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	reg := opts.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	local, err := storage.NewLocalWriter(dir)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("/", storage.NewHandler(local,
		storage.WithWrites(opts.AllowWrites),
		storage.WithMaxBlobSize(opts.MaxBlobSize),
		storage.WithHandlerLogger(logger),
		storage.WithHandlerMetrics(metrics.New(reg)),
	))
	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}, nil
}

func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		err := s.httpServer.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
			return
		}
		errCh <- err
	}()
	s.logger.Info("storage server listening", "addr", s.httpServer.Addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return <-errCh
	case err := <-errCh:
		return err
	}
}
