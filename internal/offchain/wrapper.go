// Package offchain reads and writes signed blobs below the storage roots that
// accounts advertise in their metadata. Every read is authenticated: the blob's
// detached signature must recover to the account owner or to a signer the owner
// has authorized.
package offchain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"golang.org/x/sync/errgroup"

	"offchain-exchange/go-backend/internal/crypto"
	"offchain-exchange/go-backend/internal/identity"
	"offchain-exchange/go-backend/internal/platform/metrics"
	"offchain-exchange/go-backend/internal/storage"
	"offchain-exchange/go-backend/internal/wallet"
	"offchain-exchange/go-backend/pkg/result"
)

// SignatureSuffix names the detached signature blob stored next to every payload.
const SignatureSuffix = ".signature"

var ErrReadOnly = errors.New("offchain: wrapper has no storage writer")

type Config struct {
	ChainID *big.Int
	// Self is the account whose storage root this wrapper writes to.
	Self common.Address
	// Signer signs written blobs. Zero means Self.
	Signer       common.Address
	RootCacheTTL time.Duration
}

type Option func(*Wrapper)

func WithLogger(logger *slog.Logger) Option {
	return func(w *Wrapper) {
		if logger != nil {
			w.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Recorder) Option {
	return func(w *Wrapper) { w.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(w *Wrapper) {
		if now != nil {
			w.now = now
		}
	}
}

type Wrapper struct {
	chainID  *big.Int
	self     common.Address
	signer   common.Address
	registry identity.Registry
	reader   storage.Reader
	writer   storage.Writer
	wallet   wallet.Wallet
	logger   *slog.Logger
	metrics  *metrics.Recorder
	now      func() time.Time
	cacheTTL time.Duration

	mu    sync.Mutex
	roots map[common.Address]cachedRoots
}

type cachedRoots struct {
	roots     []string
	expiresAt time.Time
}

// New builds a wrapper. writer may be nil for a read-only wrapper.
func New(cfg Config, registry identity.Registry, reader storage.Reader, writer storage.Writer, w wallet.Wallet, opts ...Option) (*Wrapper, error) {
	if cfg.ChainID == nil {
		return nil, errors.New("offchain: chain id is required")
	}
	if registry == nil || reader == nil || w == nil {
		return nil, errors.New("offchain: registry, reader and wallet are required")
	}
	signer := cfg.Signer
	if signer == (common.Address{}) {
		signer = cfg.Self
	}
	wr := &Wrapper{
		chainID:  new(big.Int).Set(cfg.ChainID),
		self:     cfg.Self,
		signer:   signer,
		registry: registry,
		reader:   reader,
		writer:   writer,
		wallet:   w,
		logger:   slog.Default(),
		now:      time.Now,
		cacheTTL: cfg.RootCacheTTL,
		roots:    make(map[common.Address]cachedRoots),
	}
	for _, opt := range opts {
		opt(wr)
	}
	return wr, nil
}

func (w *Wrapper) Self() common.Address        { return w.self }
func (w *Wrapper) Signer() common.Address      { return w.signer }
func (w *Wrapper) ChainID() *big.Int           { return new(big.Int).Set(w.chainID) }
func (w *Wrapper) Registry() identity.Registry { return w.registry }
func (w *Wrapper) Wallet() wallet.Wallet       { return w.wallet }
func (w *Wrapper) Logger() *slog.Logger        { return w.logger }

// ResolveStorageRoot returns the first storage root address advertises.
func (w *Wrapper) ResolveStorageRoot(ctx context.Context, address common.Address) (string, error) {
	roots, err := w.ResolveStorageRoots(ctx, address)
	if err != nil {
		return "", err
	}
	return roots[0], nil
}

func (w *Wrapper) ResolveStorageRootAsResult(ctx context.Context, address common.Address) result.Result[string] {
	return result.From(w.ResolveStorageRoot(ctx, address))
}

// ResolveStorageRoots fetches and verifies address's metadata and returns its storage
// roots. The result is never empty on success.
func (w *Wrapper) ResolveStorageRoots(ctx context.Context, address common.Address) ([]string, error) {
	if roots, ok := w.cachedRoots(address); ok {
		return roots, nil
	}
	started := time.Now()
	roots, err := w.resolveRoots(ctx, address)
	w.metrics.RecordOp("resolve_storage_root", started)
	if err != nil {
		w.metrics.RecordOpError("resolve_storage_root")
		return nil, err
	}
	w.cacheRoots(address, roots)
	return roots, nil
}

func (w *Wrapper) resolveRoots(ctx context.Context, address common.Address) ([]string, error) {
	metadataURL, err := w.registry.MetadataURL(ctx, address)
	if errors.Is(err, identity.ErrNotRegistered) {
		return nil, newError(KindNoStorageRoot, address, "", err)
	}
	if err != nil {
		return nil, newError(KindFetch, address, "", err)
	}

	raw, err := w.reader.ReadBlob(ctx, metadataURL)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, newError(KindNoStorageRoot, address, "", err)
	}
	if err != nil {
		return nil, newError(KindFetch, address, "", err)
	}
	doc, err := identity.ParseMetadata(raw)
	if err != nil {
		return nil, newError(KindFetch, address, "", &storage.FetchError{Type: storage.FetchDecodeError, URL: metadataURL, Err: err})
	}
	if err := identity.VerifyDocument(address, doc); err != nil {
		w.metrics.RecordError("signature")
		w.logger.Warn("metadata claim rejected", "address", address.Hex(), "error", err)
		return nil, newError(KindInvalidSignature, address, "", err)
	}
	roots := identity.StorageRoots(doc)
	if len(roots) == 0 {
		return nil, newError(KindNoStorageRoot, address, "", errors.New("metadata has no storage root claim"))
	}
	return roots, nil
}

func (w *Wrapper) cachedRoots(address common.Address) ([]string, bool) {
	if w.cacheTTL <= 0 {
		return nil, false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	c, ok := w.roots[address]
	if !ok || !w.now().Before(c.expiresAt) {
		delete(w.roots, address)
		return nil, false
	}
	return append([]string(nil), c.roots...), true
}

func (w *Wrapper) cacheRoots(address common.Address, roots []string) {
	if w.cacheTTL <= 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.roots[address] = cachedRoots{roots: append([]string(nil), roots...), expiresAt: w.now().Add(w.cacheTTL)}
}

// InvalidateRoots drops the cached storage roots of address.
func (w *Wrapper) InvalidateRoots(address common.Address) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.roots, address)
}

// ReadDataFrom returns the blob at dataPath in from's storage after checking its
// signature against the typed data build derives from it. A nil build covers the raw
// bytes. Roots are tried in order and the first authenticated blob wins. Errors from
// build are returned unchanged.
func (w *Wrapper) ReadDataFrom(ctx context.Context, from common.Address, dataPath string, build TypedDataBuilder) ([]byte, error) {
	started := time.Now()
	data, err := w.readDataFrom(ctx, from, dataPath, build)
	w.metrics.RecordOp("read_data", started)
	if err != nil {
		w.metrics.RecordOpError("read_data")
	}
	return data, err
}

// ReadDataFromAsResult is ReadDataFrom in result form.
func (w *Wrapper) ReadDataFromAsResult(ctx context.Context, from common.Address, dataPath string, build TypedDataBuilder) result.Result[[]byte] {
	return result.From(w.ReadDataFrom(ctx, from, dataPath, build))
}

func (w *Wrapper) readDataFrom(ctx context.Context, from common.Address, dataPath string, build TypedDataBuilder) ([]byte, error) {
	if build == nil {
		build = RawBuilder(w.chainID, dataPath)
	}
	roots, err := w.ResolveStorageRoots(ctx, from)
	if err != nil {
		return nil, err
	}
	var firstErr error
	for _, root := range roots {
		data, err := w.readFromRoot(ctx, from, root, dataPath, build, true)
		if err == nil {
			return data, nil
		}
		firstErr = preferError(firstErr, err)
		w.logger.Debug("storage root read failed", "address", from.Hex(), "root", root, "path", dataPath, "error", err)
	}
	w.InvalidateRoots(from)
	return nil, firstErr
}

// preferError keeps the most informative failure across roots: anything beats a
// plain "not there".
func preferError(current, next error) error {
	if current == nil {
		return next
	}
	if kind, _ := KindOf(current); kind == KindNoStorageRoot {
		if nextKind, _ := KindOf(next); nextKind != KindNoStorageRoot {
			return next
		}
	}
	return current
}

func (w *Wrapper) readFromRoot(ctx context.Context, owner common.Address, root, dataPath string, build TypedDataBuilder, allowDelegates bool) ([]byte, error) {
	var data, sig []byte
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		data, err = w.fetch(gctx, owner, root, dataPath)
		return err
	})
	g.Go(func() error {
		var err error
		sig, err = w.fetch(gctx, owner, root, dataPath+SignatureSuffix)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	td, err := build(data)
	if err != nil {
		return nil, err
	}
	hash, err := HashTypedData(td)
	if err != nil {
		return nil, newError(KindInvalidSignature, owner, dataPath, err)
	}
	signer, err := crypto.RecoverAddress(hash, sig)
	if err != nil {
		w.metrics.RecordError("signature")
		return nil, newError(KindInvalidSignature, owner, dataPath, err)
	}
	if signer == owner {
		return data, nil
	}
	if !allowDelegates {
		w.metrics.RecordError("signature")
		return nil, newError(KindInvalidSignature, owner, dataPath, fmt.Errorf("signed by %s", signer.Hex()))
	}
	if err := w.checkAuthorizedSigner(ctx, owner, root, signer, dataPath); err != nil {
		w.metrics.RecordError("signature")
		w.logger.Warn("unauthorized signer", "address", owner.Hex(), "signer", signer.Hex(), "path", dataPath)
		return nil, err
	}
	return data, nil
}

func (w *Wrapper) fetch(ctx context.Context, owner common.Address, root, p string) ([]byte, error) {
	data, err := w.reader.ReadBlob(ctx, storage.JoinURL(root, p))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, newError(KindNoStorageRoot, owner, p, err)
	}
	if err != nil {
		return nil, newError(KindFetch, owner, p, err)
	}
	return data, nil
}

// WriteDataTo stores data and its signature at dataPath below the wrapper's own root.
func (w *Wrapper) WriteDataTo(ctx context.Context, data, signature []byte, dataPath string) error {
	if w.writer == nil {
		return ErrReadOnly
	}
	started := time.Now()
	err := w.writeDataTo(ctx, data, signature, dataPath)
	w.metrics.RecordOp("write_data", started)
	if err != nil {
		w.metrics.RecordOpError("write_data")
	}
	return err
}

func (w *Wrapper) WriteDataToAsResult(ctx context.Context, data, signature []byte, dataPath string) result.Result[struct{}] {
	return result.From(struct{}{}, w.WriteDataTo(ctx, data, signature, dataPath))
}

func (w *Wrapper) writeDataTo(ctx context.Context, data, signature []byte, dataPath string) error {
	if err := w.writer.WriteBlob(ctx, dataPath, data); err != nil {
		return fmt.Errorf("offchain: write %s: %w", dataPath, err)
	}
	if err := w.writer.WriteBlob(ctx, dataPath+SignatureSuffix, signature); err != nil {
		return fmt.Errorf("offchain: write %s: %w", dataPath+SignatureSuffix, err)
	}
	w.logger.Debug("offchain data written", "address", w.self.Hex(), "path", dataPath, "bytes", len(data))
	return nil
}

// SignTypedData signs td with the wrapper's signer.
func (w *Wrapper) SignTypedData(ctx context.Context, td apitypes.TypedData) ([]byte, error) {
	return w.wallet.SignTypedData(ctx, w.signer, td)
}

// SignBuffer signs the raw-bytes typed data of data at dataPath.
func (w *Wrapper) SignBuffer(ctx context.Context, dataPath string, data []byte) ([]byte, error) {
	return w.SignTypedData(ctx, BuildTypedData(w.chainID, dataPath, data))
}

// WriteSigned signs data as raw bytes and writes it.
func (w *Wrapper) WriteSigned(ctx context.Context, dataPath string, data []byte) error {
	sig, err := w.SignBuffer(ctx, dataPath, data)
	if err != nil {
		return err
	}
	return w.WriteDataTo(ctx, data, sig, dataPath)
}
