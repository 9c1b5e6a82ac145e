package schemas

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/sync/errgroup"

	"offchain-exchange/go-backend/internal/crypto"
	"offchain-exchange/go-backend/internal/identity"
	"offchain-exchange/go-backend/internal/offchain"
	"offchain-exchange/go-backend/internal/wallet"
	"offchain-exchange/go-backend/pkg/result"
)

const (
	encryptedSuffix = ".enc"
	keySuffix       = ".key"
)

type dekSource interface {
	DataEncryptionKey(ctx context.Context, address common.Address) (*ecdsa.PublicKey, error)
}

// fixedKeys answers DEK lookups from keys supplied by the caller.
type fixedKeys map[common.Address]*ecdsa.PublicKey

func (k fixedKeys) DataEncryptionKey(_ context.Context, address common.Address) (*ecdsa.PublicKey, error) {
	pub, ok := k[address]
	if !ok {
		return nil, fmt.Errorf("%w: %s", identity.ErrKeyNotPublished, address.Hex())
	}
	return pub, nil
}

// cipherSuite runs the encryption protocol for one wrapper. keys and wallet are the
// registry and wallet of the wrapper unless raw key material was supplied.
type cipherSuite struct {
	wrapper *offchain.Wrapper
	keys    dekSource
	wallet  wallet.Wallet
}

func newCipherSuite(w *offchain.Wrapper) cipherSuite {
	return cipherSuite{wrapper: w, keys: w.Registry(), wallet: w.Wallet()}
}

// withRawKeys uses myKey as the wrapper's DEK and peerKey as peer's, held in a
// throwaway wallet.
func withRawKeys(w *offchain.Wrapper, peer common.Address, myKey *ecdsa.PrivateKey, peerKey *ecdsa.PublicKey) cipherSuite {
	return cipherSuite{
		wrapper: w,
		keys:    fixedKeys{w.Self(): &myKey.PublicKey, peer: peerKey},
		wallet:  wallet.NewLocal(myKey),
	}
}

// WriteEncrypted encrypts data under a content key, stores it at dataPath.enc and
// distributes the key to the wrapper itself and every address in to. A nil
// symmetricKey reuses the key already distributed for dataPath or makes a new one.
func WriteEncrypted(ctx context.Context, w *offchain.Wrapper, dataPath string, data []byte, to []common.Address, symmetricKey []byte) error {
	return newCipherSuite(w).writeEncrypted(ctx, dataPath, data, to, symmetricKey)
}

func WriteEncryptedAsResult(ctx context.Context, w *offchain.Wrapper, dataPath string, data []byte, to []common.Address, symmetricKey []byte) result.Result[struct{}] {
	return result.From(struct{}{}, WriteEncrypted(ctx, w, dataPath, data, to, symmetricKey))
}

// ReadEncrypted fetches and decrypts dataPath.enc written by sender.
func ReadEncrypted(ctx context.Context, w *offchain.Wrapper, dataPath string, sender common.Address) ([]byte, error) {
	return newCipherSuite(w).readEncrypted(ctx, dataPath, sender)
}

func ReadEncryptedAsResult(ctx context.Context, w *offchain.Wrapper, dataPath string, sender common.Address) result.Result[[]byte] {
	return result.From(ReadEncrypted(ctx, w, dataPath, sender))
}

// Distribute wraps key for the wrapper itself and every recipient.
func Distribute(ctx context.Context, w *offchain.Wrapper, dataPath string, key []byte, recipients []common.Address) error {
	return newCipherSuite(w).distribute(ctx, dataPath, key, recipients)
}

func DistributeAsResult(ctx context.Context, w *offchain.Wrapper, dataPath string, key []byte, recipients []common.Address) result.Result[struct{}] {
	return result.From(struct{}{}, Distribute(ctx, w, dataPath, key, recipients))
}

func (s cipherSuite) writeEncrypted(ctx context.Context, dataPath string, data []byte, to []common.Address, symmetricKey []byte) error {
	key, err := s.fetchOrGenerateKey(ctx, dataPath, symmetricKey)
	if err != nil {
		return err
	}
	defer clear(key)

	blob, err := crypto.SealContent(key, data)
	if err != nil {
		return invalidKey(err)
	}
	encPath := dataPath + encryptedSuffix
	sig, err := s.wrapper.SignBuffer(ctx, encPath, blob)
	if err != nil {
		return fmt.Errorf("sign %s: %w", encPath, err)
	}
	if err := s.wrapper.WriteDataTo(ctx, blob, sig, encPath); err != nil {
		return classify(err)
	}
	return s.distribute(ctx, dataPath, key, to)
}

func (s cipherSuite) fetchOrGenerateKey(ctx context.Context, dataPath string, symmetricKey []byte) ([]byte, error) {
	if symmetricKey != nil {
		if len(symmetricKey) != crypto.ContentKeySize {
			return nil, invalidKey(fmt.Errorf("content key must be %d bytes, got %d", crypto.ContentKeySize, len(symmetricKey)))
		}
		return append([]byte(nil), symmetricKey...), nil
	}
	existing, err := s.readSymmetricKey(ctx, dataPath, s.wrapper.Self())
	if err == nil {
		return existing, nil
	}
	if errors.Is(err, offchain.ErrNoStorageRoot) {
		return crypto.NewContentKey()
	}
	return nil, err
}

func (s cipherSuite) distribute(ctx context.Context, dataPath string, key []byte, recipients []common.Address) error {
	self := s.wrapper.Self()
	writerDEK, err := s.dek(ctx, self)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, recipient := range uniqueAddresses(self, recipients) {
		g.Go(func() error {
			return s.distributeTo(gctx, dataPath, key, writerDEK, recipient)
		})
	}
	return g.Wait()
}

func (s cipherSuite) distributeTo(ctx context.Context, dataPath string, key []byte, writerDEK *ecdsa.PublicKey, recipient common.Address) error {
	recipientDEK, err := s.dek(ctx, recipient)
	if err != nil {
		return err
	}
	writerAccount := ethcrypto.PubkeyToAddress(*writerDEK)
	secret, err := s.wallet.ComputeSharedSecret(ctx, writerAccount, recipientDEK)
	if err != nil {
		return unavailableKey(writerAccount, err)
	}
	label := CiphertextLabel(secret, crypto.CompressPubkey(writerDEK), crypto.CompressPubkey(recipientDEK), dataPath+keySuffix)
	clear(secret)

	wrapped, err := crypto.WrapKey(recipientDEK, key)
	if err != nil {
		return fmt.Errorf("wrap content key for %s: %w", recipient.Hex(), err)
	}
	sig, err := s.wrapper.SignBuffer(ctx, label, wrapped)
	if err != nil {
		return fmt.Errorf("sign %s: %w", label, err)
	}
	if err := s.wrapper.WriteDataTo(ctx, wrapped, sig, label); err != nil {
		return classify(err)
	}
	s.wrapper.Logger().Debug("content key distributed", "path", dataPath, "recipient", recipient.Hex(), "label", label)
	return nil
}

func (s cipherSuite) readSymmetricKey(ctx context.Context, dataPath string, sender common.Address) ([]byte, error) {
	reader := s.wrapper.Self()
	readerDEK, err := s.dek(ctx, reader)
	if err != nil {
		return nil, err
	}
	readerAccount := ethcrypto.PubkeyToAddress(*readerDEK)
	if !s.wallet.HasAccount(readerAccount) {
		return nil, unavailableKey(readerAccount, wallet.ErrAccountNotFound)
	}
	senderDEK, err := s.dek(ctx, sender)
	if err != nil {
		return nil, err
	}

	secret, err := s.wallet.ComputeSharedSecret(ctx, readerAccount, senderDEK)
	if err != nil {
		return nil, unavailableKey(readerAccount, err)
	}
	label := CiphertextLabel(secret, crypto.CompressPubkey(senderDEK), crypto.CompressPubkey(readerDEK), dataPath+keySuffix)
	clear(secret)

	wrapped, err := s.wrapper.ReadDataFrom(ctx, sender, label, nil)
	if err != nil {
		return nil, classify(err)
	}
	key, err := s.wallet.Decrypt(ctx, readerAccount, wrapped)
	if err != nil {
		return nil, invalidKey(err)
	}
	return key, nil
}

type fetched struct {
	data []byte
	err  error
}

func (s cipherSuite) readEncrypted(ctx context.Context, dataPath string, sender common.Address) ([]byte, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	payloadCh := make(chan fetched, 1)
	keyCh := make(chan fetched, 1)
	go func() {
		data, err := s.wrapper.ReadDataFrom(ctx, sender, dataPath+encryptedSuffix, nil)
		payloadCh <- fetched{data: data, err: classify(err)}
	}()
	go func() {
		key, err := s.readSymmetricKey(ctx, dataPath, sender)
		keyCh <- fetched{data: key, err: err}
	}()

	var payload, key []byte
	for range 2 {
		select {
		case r := <-payloadCh:
			if r.err != nil {
				return nil, r.err
			}
			payload = r.data
		case r := <-keyCh:
			if r.err != nil {
				return nil, r.err
			}
			key = r.data
		}
	}
	defer clear(key)

	if len(key) != crypto.ContentKeySize {
		return nil, invalidKey(fmt.Errorf("content key must be %d bytes, got %d", crypto.ContentKeySize, len(key)))
	}
	plaintext, err := crypto.OpenContent(key, payload)
	if err != nil {
		return nil, invalidData(err)
	}
	return plaintext, nil
}

func (s cipherSuite) dek(ctx context.Context, address common.Address) (*ecdsa.PublicKey, error) {
	pub, err := s.keys.DataEncryptionKey(ctx, address)
	if errors.Is(err, identity.ErrKeyNotPublished) {
		return nil, unavailableKey(address, err)
	}
	if err != nil {
		return nil, &Error{Kind: KindOffchain, Address: address, Err: err}
	}
	return pub, nil
}

// uniqueAddresses returns self followed by recipients, without repeats.
func uniqueAddresses(self common.Address, recipients []common.Address) []common.Address {
	out := make([]common.Address, 0, len(recipients)+1)
	seen := make(map[common.Address]struct{}, len(recipients)+1)
	for _, addr := range append([]common.Address{self}, recipients...) {
		if _, ok := seen[addr]; ok {
			continue
		}
		seen[addr] = struct{}{}
		out = append(out, addr)
	}
	return out
}
