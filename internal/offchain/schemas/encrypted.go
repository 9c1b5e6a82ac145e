package schemas

import (
	"context"
	"crypto/ecdsa"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"offchain-exchange/go-backend/internal/offchain"
	"offchain-exchange/go-backend/pkg/result"
)

// EncryptedSchema stores values of T encrypted to a list of recipients. The
// ciphertext lives at path.enc and each recipient's wrapped key under ciphertexts/.
type EncryptedSchema[T any] struct {
	plain *Schema[T]
}

func NewEncryptedSchema[T any](w *offchain.Wrapper, dataPath string, shape offchain.Shape) *EncryptedSchema[T] {
	return &EncryptedSchema[T]{plain: NewSchema[T](w, dataPath, shape)}
}

func (s *EncryptedSchema[T]) Path() string { return s.plain.path }

// Write encrypts data to the wrapper itself and every address in to. symmetricKey may
// be nil.
func (s *EncryptedSchema[T]) Write(ctx context.Context, data T, to []common.Address, symmetricKey []byte) error {
	raw, _, err := s.plain.encode(data)
	if err != nil {
		return err
	}
	return newCipherSuite(s.plain.wrapper).writeEncrypted(ctx, s.plain.path, raw, to, symmetricKey)
}

func (s *EncryptedSchema[T]) WriteAsResult(ctx context.Context, data T, to []common.Address, symmetricKey []byte) result.Result[struct{}] {
	return result.From(struct{}{}, s.Write(ctx, data, to, symmetricKey))
}

func (s *EncryptedSchema[T]) ReadEncrypted(ctx context.Context, from common.Address) result.Result[T] {
	return s.read(ctx, newCipherSuite(s.plain.wrapper), from)
}

func (s *EncryptedSchema[T]) ReadAsResult(ctx context.Context, from common.Address) result.Result[T] {
	return s.ReadEncrypted(ctx, from)
}

func (s *EncryptedSchema[T]) Read(ctx context.Context, from common.Address) (T, error) {
	return s.ReadEncrypted(ctx, from).Unwrap()
}

// WriteEncryptedWithKey encrypts data to the holder of peerKey using myKey as this
// side's data encryption key. Neither key is looked up in the registry or the wallet.
func (s *EncryptedSchema[T]) WriteEncryptedWithKey(ctx context.Context, data T, myKey *ecdsa.PrivateKey, peerKey *ecdsa.PublicKey) error {
	if myKey == nil || peerKey == nil {
		return unavailableKey(common.Address{}, errors.New("both keys are required"))
	}
	raw, _, err := s.plain.encode(data)
	if err != nil {
		return err
	}
	peer := ethcrypto.PubkeyToAddress(*peerKey)
	suite := withRawKeys(s.plain.wrapper, peer, myKey, peerKey)
	return suite.writeEncrypted(ctx, s.plain.path, raw, []common.Address{peer}, nil)
}

func (s *EncryptedSchema[T]) WriteEncryptedWithKeyAsResult(ctx context.Context, data T, myKey *ecdsa.PrivateKey, peerKey *ecdsa.PublicKey) result.Result[struct{}] {
	return result.From(struct{}{}, s.WriteEncryptedWithKey(ctx, data, myKey, peerKey))
}

// ReadEncryptedWithKey reads data from encrypted with peerKey as the sender's data
// encryption key and myKey as this side's.
func (s *EncryptedSchema[T]) ReadEncryptedWithKey(ctx context.Context, from common.Address, myKey *ecdsa.PrivateKey, peerKey *ecdsa.PublicKey) result.Result[T] {
	if myKey == nil || peerKey == nil {
		return result.Err[T](unavailableKey(from, errors.New("both keys are required")))
	}
	return s.read(ctx, withRawKeys(s.plain.wrapper, from, myKey, peerKey), from)
}

// ReadWithKey is ReadEncryptedWithKey in (value, error) form.
func (s *EncryptedSchema[T]) ReadWithKey(ctx context.Context, from common.Address, myKey *ecdsa.PrivateKey, peerKey *ecdsa.PublicKey) (T, error) {
	return s.ReadEncryptedWithKey(ctx, from, myKey, peerKey).Unwrap()
}

func (s *EncryptedSchema[T]) read(ctx context.Context, suite cipherSuite, from common.Address) result.Result[T] {
	raw, err := suite.readEncrypted(ctx, s.plain.path, from)
	if err != nil {
		return result.Err[T](err)
	}
	return result.From(s.plain.decode(raw))
}
