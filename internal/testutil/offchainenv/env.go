// Package offchainenv wires in-memory identities for offchain tests: a shared blob
// store, a static registry and one wrapper per actor.
package offchainenv

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"offchain-exchange/go-backend/internal/identity"
	"offchain-exchange/go-backend/internal/offchain"
	"offchain-exchange/go-backend/internal/storage"
	"offchain-exchange/go-backend/internal/wallet"
)

const baseURL = "http://example.com"

var ChainID = big.NewInt(44787)

type Env struct {
	Store    *storage.MemoryStore
	Registry *identity.StaticRegistry
	Logger   *slog.Logger
}

type Actor struct {
	Name        string
	Keys        *wallet.Keys
	Wallet      *wallet.Local
	Root        string
	MetadataURL string
	Wrapper     *offchain.Wrapper
}

func (a *Actor) Address() common.Address { return a.Keys.Address() }

// URL is the absolute location of p below the actor's storage root.
func (a *Actor) URL(p string) string { return storage.JoinURL(a.Root, p) }

type actorConfig struct {
	publishDEK      bool
	publishMetadata bool
	root            string
	roots           []string
}

type ActorOption func(*actorConfig)

// WithoutDEK leaves the actor's data encryption key out of the registry.
func WithoutDEK() ActorOption {
	return func(c *actorConfig) { c.publishDEK = false }
}

// WithoutMetadata registers a metadata URL but never writes the document.
func WithoutMetadata() ActorOption {
	return func(c *actorConfig) { c.publishMetadata = false }
}

// WithRoot replaces the actor's default storage root.
func WithRoot(root string) ActorOption {
	return func(c *actorConfig) { c.root = root }
}

// WithExtraRoots advertises additional storage roots after the actor's own.
func WithExtraRoots(roots ...string) ActorOption {
	return func(c *actorConfig) { c.roots = append(c.roots, roots...) }
}

func New() *Env {
	return &Env{
		Store:    storage.NewMemoryStore(),
		Registry: identity.NewStaticRegistry(),
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// NewActor creates keys for name, registers them and publishes a metadata document
// advertising http://example.com/<name>/root unless WithRoot says otherwise.
func (e *Env) NewActor(t testing.TB, name string, opts ...ActorOption) *Actor {
	t.Helper()
	cfg := actorConfig{publishDEK: true, publishMetadata: true, root: baseURL + "/" + name + "/root"}
	for _, opt := range opts {
		opt(&cfg)
	}
	keys, err := wallet.GenerateKeys()
	if err != nil {
		t.Fatalf("generate keys for %s: %v", name, err)
	}
	a := &Actor{
		Name:        name,
		Keys:        keys,
		Wallet:      keys.Wallet(),
		Root:        cfg.root,
		MetadataURL: baseURL + "/" + name + "/metadata",
	}
	e.Registry.SetMetadataURL(a.Address(), a.MetadataURL)
	if cfg.publishDEK {
		e.Registry.SetDataEncryptionKey(a.Address(), &keys.DataEncryption.PublicKey)
	}
	if cfg.publishMetadata {
		e.PublishMetadata(t, a, append([]string{a.Root}, cfg.roots...)...)
	}
	a.Wrapper = e.NewWrapper(t, a, a.Wallet, a.Address())
	return a
}

// NewWrapper builds a wrapper writing to a's root and signing as signer with w.
func (e *Env) NewWrapper(t testing.TB, a *Actor, w wallet.Wallet, signer common.Address) *offchain.Wrapper {
	t.Helper()
	wr, err := offchain.New(
		offchain.Config{ChainID: ChainID, Self: a.Address(), Signer: signer},
		e.Registry,
		e.Store,
		e.Store.Writer(a.Root),
		w,
		offchain.WithLogger(e.Logger),
	)
	if err != nil {
		t.Fatalf("new wrapper for %s: %v", a.Name, err)
	}
	return wr
}

// PublishMetadata writes a signed metadata document for a listing roots.
func (e *Env) PublishMetadata(t testing.TB, a *Actor, roots ...string) {
	t.Helper()
	doc, err := identity.BuildMetadata(context.Background(), a.Wallet, a.Address(), roots, time.Unix(1_700_000_000, 0))
	if err != nil {
		t.Fatalf("build metadata for %s: %v", a.Name, err)
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal metadata for %s: %v", a.Name, err)
	}
	e.Store.Put(a.MetadataURL, raw)
}
