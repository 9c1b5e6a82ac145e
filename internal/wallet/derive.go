package wallet

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"errors"
	"io"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip39"
	"golang.org/x/crypto/hkdf"

	"offchain-exchange/go-backend/internal/crypto"
)

const (
	hkdfInfoAccount        = "offchain/wallet/account/v1"
	hkdfInfoDataEncryption = "offchain/wallet/data-encryption/v1"
)

var (
	ErrInvalidMnemonic  = errors.New("invalid mnemonic")
	ErrMnemonicRequired = errors.New("mnemonic is required")
)

// Keys is the key pair of one identity: the account key authorizes writes and the
// data encryption key (DEK) is only used for key agreement.
type Keys struct {
	Account        *ecdsa.PrivateKey
	DataEncryption *ecdsa.PrivateKey
}

func (k *Keys) Address() common.Address {
	return ethcrypto.PubkeyToAddress(k.Account.PublicKey)
}

// DEKAddress is the wallet account under which the data encryption key is held.
func (k *Keys) DEKAddress() common.Address {
	return ethcrypto.PubkeyToAddress(k.DataEncryption.PublicKey)
}

func (k *Keys) CompressedDEK() []byte {
	return crypto.CompressPubkey(&k.DataEncryption.PublicKey)
}

// Wallet returns a Local wallet holding both keys.
func (k *Keys) Wallet() *Local {
	return NewLocal(k.Account, k.DataEncryption)
}

func GenerateKeys() (*Keys, error) {
	account, err := ethcrypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	dek, err := ethcrypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	return &Keys{Account: account, DataEncryption: dek}, nil
}

// DeriveKeys expands seed material into independent account and DEK keys.
func DeriveKeys(seed []byte) (*Keys, error) {
	accountBytes, err := hkdfExpand(seed, hkdfInfoAccount, 32)
	if err != nil {
		return nil, err
	}
	dekBytes, err := hkdfExpand(seed, hkdfInfoDataEncryption, 32)
	if err != nil {
		return nil, err
	}
	account, err := crypto.PrivateKeyFromBytes(accountBytes)
	if err != nil {
		return nil, err
	}
	dek, err := crypto.PrivateKeyFromBytes(dekBytes)
	if err != nil {
		return nil, err
	}
	return &Keys{Account: account, DataEncryption: dek}, nil
}

func NewMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return "", err
	}
	return bip39.NewMnemonic(entropy)
}

func KeysFromMnemonic(mnemonic, passphrase string) (*Keys, error) {
	mnemonic = strings.TrimSpace(mnemonic)
	if mnemonic == "" {
		return nil, ErrMnemonicRequired
	}
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, ErrInvalidMnemonic
	}
	return DeriveKeys(bip39.NewSeed(mnemonic, passphrase))
}

func hkdfExpand(seed []byte, info string, outLen int) ([]byte, error) {
	reader := hkdf.New(sha256.New, seed, nil, []byte(info))
	out := make([]byte, outLen)
	if _, err := io.ReadFull(reader, out); err != nil {
		return nil, err
	}
	return out, nil
}
