// Package wallet holds secp256k1 private keys and exposes only the operations the
// offchain protocol needs: typed-data and message signatures, ECDH with a peer's data
// encryption key, and ECIES decryption.
package wallet

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"offchain-exchange/go-backend/internal/crypto"
)

var ErrAccountNotFound = errors.New("could not find address")

type Wallet interface {
	HasAccount(address common.Address) bool
	SignTypedData(ctx context.Context, address common.Address, td apitypes.TypedData) ([]byte, error)
	SignMessage(ctx context.Context, address common.Address, message []byte) ([]byte, error)
	ComputeSharedSecret(ctx context.Context, address common.Address, peer *ecdsa.PublicKey) ([]byte, error)
	Decrypt(ctx context.Context, address common.Address, ciphertext []byte) ([]byte, error)
}

// Local is an in-memory wallet.
type Local struct {
	mu   sync.RWMutex
	keys map[common.Address]*ecdsa.PrivateKey
}

func NewLocal(keys ...*ecdsa.PrivateKey) *Local {
	w := &Local{keys: make(map[common.Address]*ecdsa.PrivateKey, len(keys))}
	for _, key := range keys {
		w.Add(key)
	}
	return w
}

// Add stores key and returns its address.
func (w *Local) Add(key *ecdsa.PrivateKey) common.Address {
	addr := ethcrypto.PubkeyToAddress(key.PublicKey)
	w.mu.Lock()
	defer w.mu.Unlock()
	w.keys[addr] = key
	return addr
}

func (w *Local) Accounts() []common.Address {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]common.Address, 0, len(w.keys))
	for addr := range w.keys {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cmp(out[j]) < 0 })
	return out
}

func (w *Local) HasAccount(address common.Address) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	_, ok := w.keys[address]
	return ok
}

func (w *Local) PublicKey(address common.Address) (*ecdsa.PublicKey, error) {
	key, err := w.key(address)
	if err != nil {
		return nil, err
	}
	return &key.PublicKey, nil
}

func (w *Local) SignTypedData(_ context.Context, address common.Address, td apitypes.TypedData) ([]byte, error) {
	key, err := w.key(address)
	if err != nil {
		return nil, err
	}
	hash, _, err := apitypes.TypedDataAndHash(td)
	if err != nil {
		return nil, fmt.Errorf("hash typed data: %w", err)
	}
	return crypto.SignHash(key, hash)
}

func (w *Local) SignMessage(_ context.Context, address common.Address, message []byte) ([]byte, error) {
	key, err := w.key(address)
	if err != nil {
		return nil, err
	}
	return crypto.SignPersonal(key, message)
}

func (w *Local) ComputeSharedSecret(_ context.Context, address common.Address, peer *ecdsa.PublicKey) ([]byte, error) {
	key, err := w.key(address)
	if err != nil {
		return nil, err
	}
	return crypto.SharedSecret(key, peer)
}

func (w *Local) Decrypt(_ context.Context, address common.Address, ciphertext []byte) ([]byte, error) {
	key, err := w.key(address)
	if err != nil {
		return nil, err
	}
	return crypto.UnwrapKey(key, ciphertext)
}

func (w *Local) key(address common.Address) (*ecdsa.PrivateKey, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	key, ok := w.keys[address]
	if !ok {
		return nil, fmt.Errorf("%w %s", ErrAccountNotFound, strings.ToLower(address.Hex()))
	}
	return key, nil
}
