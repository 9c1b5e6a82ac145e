package identity

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"offchain-exchange/go-backend/internal/crypto"
)

var (
	ErrNotRegistered   = errors.New("identity: account is not registered")
	ErrKeyNotPublished = errors.New("identity: data encryption key is not published")
	ErrInvalidEntry    = errors.New("identity: invalid directory entry")
)

// Registry answers the two lookups the offchain protocol needs from the ledger.
type Registry interface {
	MetadataURL(ctx context.Context, address common.Address) (string, error)
	DataEncryptionKey(ctx context.Context, address common.Address) (*ecdsa.PublicKey, error)
}

type Entry struct {
	Address           common.Address
	MetadataURL       string
	DataEncryptionKey *ecdsa.PublicKey
}

// ParseEntry builds an entry from its textual form. dek may be empty, a compressed
// 33-byte key or an uncompressed 65-byte key, hex encoded with or without 0x.
func ParseEntry(address, metadataURL, dek string) (Entry, error) {
	address = strings.TrimSpace(address)
	if !common.IsHexAddress(address) {
		return Entry{}, fmt.Errorf("%w: address %q", ErrInvalidEntry, address)
	}
	entry := Entry{
		Address:     common.HexToAddress(address),
		MetadataURL: strings.TrimSpace(metadataURL),
	}
	dek = strings.TrimSpace(dek)
	if dek == "" {
		return entry, nil
	}
	if !strings.HasPrefix(dek, "0x") {
		dek = "0x" + dek
	}
	raw, err := hexutil.Decode(dek)
	if err != nil {
		return Entry{}, fmt.Errorf("%w: data encryption key: %v", ErrInvalidEntry, err)
	}
	pub, err := parsePublicKey(raw)
	if err != nil {
		return Entry{}, fmt.Errorf("%w: data encryption key: %v", ErrInvalidEntry, err)
	}
	entry.DataEncryptionKey = pub
	return entry, nil
}

func parsePublicKey(raw []byte) (*ecdsa.PublicKey, error) {
	if len(raw) == crypto.CompressedPubkeySize {
		return crypto.DecompressPubkey(raw)
	}
	return ethcrypto.UnmarshalPubkey(raw)
}

// StaticRegistry is an in-memory directory, filled from configuration or by tests.
type StaticRegistry struct {
	mu      sync.RWMutex
	entries map[common.Address]Entry
}

func NewStaticRegistry(entries ...Entry) *StaticRegistry {
	r := &StaticRegistry{entries: make(map[common.Address]Entry, len(entries))}
	for _, e := range entries {
		r.Register(e)
	}
	return r
}

func (r *StaticRegistry) Register(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[e.Address] = e
}

func (r *StaticRegistry) SetMetadataURL(address common.Address, url string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.entries[address]
	e.Address = address
	e.MetadataURL = url
	r.entries[address] = e
}

func (r *StaticRegistry) SetDataEncryptionKey(address common.Address, pub *ecdsa.PublicKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.entries[address]
	e.Address = address
	e.DataEncryptionKey = pub
	r.entries[address] = e
}

func (r *StaticRegistry) MetadataURL(_ context.Context, address common.Address) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[address]
	if !ok || e.MetadataURL == "" {
		return "", fmt.Errorf("%w: %s", ErrNotRegistered, address.Hex())
	}
	return e.MetadataURL, nil
}

func (r *StaticRegistry) DataEncryptionKey(_ context.Context, address common.Address) (*ecdsa.PublicKey, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[address]
	if !ok || e.DataEncryptionKey == nil {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotPublished, address.Hex())
	}
	return e.DataEncryptionKey, nil
}
