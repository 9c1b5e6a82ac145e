package crypto

import (
	"crypto/ecdsa"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/crypto/ecies"
)

const (
	SignatureSize        = 65
	CompressedPubkeySize = 33

	sharedKeyLen = 16
	sharedMacLen = 16
)

var (
	ErrInvalidSignature = errors.New("invalid signature")
	ErrInvalidPublicKey = errors.New("invalid public key")
)

// SignHash signs a 32-byte digest and returns R || S || V with V in {27, 28}.
func SignHash(priv *ecdsa.PrivateKey, hash []byte) ([]byte, error) {
	sig, err := ethcrypto.Sign(hash, priv)
	if err != nil {
		return nil, err
	}
	sig[64] += 27
	return sig, nil
}

// RecoverAddress returns the address whose key produced sig over hash. Both V
// conventions (0/1 and 27/28) are accepted.
func RecoverAddress(hash, sig []byte) (common.Address, error) {
	if len(sig) != SignatureSize {
		return common.Address{}, fmt.Errorf("%w: length %d", ErrInvalidSignature, len(sig))
	}
	normalized := make([]byte, SignatureSize)
	copy(normalized, sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}
	if normalized[64] > 1 {
		return common.Address{}, fmt.Errorf("%w: recovery id %d", ErrInvalidSignature, sig[64])
	}
	pub, err := ethcrypto.SigToPub(hash, normalized)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// PersonalHash is the EIP-191 digest used by personal_sign.
func PersonalHash(message []byte) []byte {
	return accounts.TextHash(message)
}

func SignPersonal(priv *ecdsa.PrivateKey, message []byte) ([]byte, error) {
	return SignHash(priv, PersonalHash(message))
}

func RecoverPersonal(message, sig []byte) (common.Address, error) {
	return RecoverAddress(PersonalHash(message), sig)
}

// SharedSecret is the x coordinate of the ECDH point, left padded to 32 bytes.
func SharedSecret(priv *ecdsa.PrivateKey, pub *ecdsa.PublicKey) ([]byte, error) {
	if priv == nil || pub == nil {
		return nil, ErrInvalidPublicKey
	}
	return ecies.ImportECDSA(priv).GenerateShared(ecies.ImportECDSAPublic(pub), sharedKeyLen, sharedMacLen)
}

// WrapKey encrypts key material to pub with ECIES.
func WrapKey(pub *ecdsa.PublicKey, key []byte) ([]byte, error) {
	if pub == nil {
		return nil, ErrInvalidPublicKey
	}
	return ecies.Encrypt(rand.Reader, ecies.ImportECDSAPublic(pub), key, nil, nil)
}

func UnwrapKey(priv *ecdsa.PrivateKey, blob []byte) ([]byte, error) {
	return ecies.ImportECDSA(priv).Decrypt(blob, nil, nil)
}

func CompressPubkey(pub *ecdsa.PublicKey) []byte {
	return ethcrypto.CompressPubkey(pub)
}

func DecompressPubkey(raw []byte) (*ecdsa.PublicKey, error) {
	if len(raw) != CompressedPubkeySize {
		return nil, fmt.Errorf("%w: length %d", ErrInvalidPublicKey, len(raw))
	}
	pub, err := ethcrypto.DecompressPubkey(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	return pub, nil
}

// PrivateKeyFromBytes wipes raw once the key is parsed.
func PrivateKeyFromBytes(raw []byte) (*ecdsa.PrivateKey, error) {
	defer zeroBytes(raw)
	return ethcrypto.ToECDSA(raw)
}
