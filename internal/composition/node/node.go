// Package node assembles an offchain wrapper from configuration: logger, metrics,
// directory, wallet and storage backends.
package node

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"

	"offchain-exchange/go-backend/internal/config"
	"offchain-exchange/go-backend/internal/identity"
	"offchain-exchange/go-backend/internal/offchain"
	"offchain-exchange/go-backend/internal/platform/metrics"
	"offchain-exchange/go-backend/internal/platform/privacylog"
	"offchain-exchange/go-backend/internal/platform/ratelimiter"
	"offchain-exchange/go-backend/internal/storage"
	"offchain-exchange/go-backend/internal/wallet"
)

const limiterIdleTTL = 5 * time.Minute

var ErrKeysRequired = errors.New("node: wallet keyfile or keys are required")

type Options struct {
	// LogOutput receives log lines when Logger is nil. Nil means stderr.
	LogOutput  io.Writer
	Logger     *slog.Logger
	Registerer prometheus.Registerer
	HTTPClient *http.Client
	// Keys skips loading the wallet keyfile.
	Keys *wallet.Keys
}

type Node struct {
	Config   config.Config
	Logger   *slog.Logger
	Metrics  *metrics.Recorder
	Registry *identity.StaticRegistry
	Keys     *wallet.Keys
	Wallet   *wallet.Local
	Reader   *storage.HTTPReader
	Writer   storage.Writer
	Local    *storage.LocalWriter
	Wrapper  *offchain.Wrapper
}

func (n *Node) Self() common.Address { return n.Wrapper.Self() }

func Build(cfg config.Config, opts Options) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		out := opts.LogOutput
		if out == nil {
			out = os.Stderr
		}
		logger = privacylog.NewLogger(out, cfg.Log.Level, cfg.Log.Format)
	}
	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	rec := metrics.New(reg)

	entries, err := cfg.DirectoryEntries()
	if err != nil {
		return nil, err
	}
	registry := identity.NewStaticRegistry(entries...)

	keys := opts.Keys
	if keys == nil {
		if cfg.Wallet.Keyfile == "" {
			return nil, ErrKeysRequired
		}
		keys, err = wallet.LoadKeyfile(cfg.Wallet.Keyfile, cfg.Wallet.Passphrase)
		if err != nil {
			return nil, err
		}
	}
	w := keys.Wallet()

	self, ok := cfg.SelfAddress()
	if !ok {
		self = keys.Address()
	}
	signer, ok := cfg.SignerAddress()
	if !ok {
		signer = self
	}
	if !w.HasAccount(signer) {
		logger.Warn("signer key is not in the wallet; writes will fail", "signer", signer.Hex())
	}

	httpCfg := storage.HTTPConfig{
		Client:      opts.HTTPClient,
		Timeout:     cfg.Storage.Timeout,
		MaxBlobSize: cfg.Storage.MaxBlobSize,
		Retry:       cfg.RetryPolicy(),
		Limiter:     ratelimiter.New(cfg.Storage.RateLimit, cfg.Storage.RateBurst, limiterIdleTTL),
		Metrics:     rec,
		Logger:      logger,
	}
	n := &Node{
		Config:   cfg,
		Logger:   logger,
		Metrics:  rec,
		Registry: registry,
		Keys:     keys,
		Wallet:   w,
		Reader:   storage.NewHTTPReader(httpCfg),
	}
	switch cfg.Storage.Mode {
	case config.StorageModeLocal:
		local, err := storage.NewLocalWriter(cfg.Storage.LocalDir)
		if err != nil {
			return nil, err
		}
		n.Local = local
		n.Writer = local
	case config.StorageModeHTTP:
		hw, err := storage.NewHTTPWriter(cfg.Storage.Root, httpCfg)
		if err != nil {
			return nil, err
		}
		n.Writer = hw
	default:
		return nil, fmt.Errorf("%w: unknown storage mode %q", config.ErrInvalidConfig, cfg.Storage.Mode)
	}

	n.Wrapper, err = offchain.New(
		offchain.Config{
			ChainID:      big.NewInt(cfg.ChainID),
			Self:         self,
			Signer:       signer,
			RootCacheTTL: cfg.RootCacheTTL,
		},
		registry, n.Reader, n.Writer, w,
		offchain.WithLogger(logger),
		offchain.WithMetrics(rec),
	)
	if err != nil {
		return nil, err
	}
	logger.Debug("offchain node ready", "address", self.Hex(), "signer", signer.Hex(), "storage_mode", cfg.Storage.Mode)
	return n, nil
}
