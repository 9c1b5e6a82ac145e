package wallet

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"offchain-exchange/go-backend/internal/crypto"
	"offchain-exchange/go-backend/internal/securestore"
)

const keyfileVersion = 1

type keyfile struct {
	Version           int    `json:"version"`
	Mnemonic          string `json:"mnemonic,omitempty"`
	AccountKey        string `json:"account_key"`
	DataEncryptionKey string `json:"data_encryption_key"`
}

// SaveKeyfile seals keys (and the mnemonic they came from, if any) under passphrase.
func SaveKeyfile(path, passphrase, mnemonic string, keys *Keys) error {
	if keys == nil || keys.Account == nil || keys.DataEncryption == nil {
		return fmt.Errorf("wallet: keys are required")
	}
	return securestore.WriteEncryptedJSON(path, passphrase, keyfile{
		Version:           keyfileVersion,
		Mnemonic:          mnemonic,
		AccountKey:        hex.EncodeToString(ethcrypto.FromECDSA(keys.Account)),
		DataEncryptionKey: hex.EncodeToString(ethcrypto.FromECDSA(keys.DataEncryption)),
	})
}

func LoadKeyfile(path, passphrase string) (*Keys, error) {
	var kf keyfile
	if err := securestore.ReadDecryptedJSON(path, passphrase, &kf); err != nil {
		return nil, fmt.Errorf("wallet: open keyfile: %w", err)
	}
	if kf.Version != keyfileVersion {
		return nil, fmt.Errorf("wallet: unsupported keyfile version %d", kf.Version)
	}
	if kf.Mnemonic != "" {
		return KeysFromMnemonic(kf.Mnemonic, "")
	}
	account, err := parseHexKey(kf.AccountKey)
	if err != nil {
		return nil, fmt.Errorf("wallet: account key: %w", err)
	}
	dek, err := parseHexKey(kf.DataEncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("wallet: data encryption key: %w", err)
	}
	return &Keys{Account: account, DataEncryption: dek}, nil
}

func parseHexKey(raw string) (*ecdsa.PrivateKey, error) {
	b, err := hex.DecodeString(raw)
	if err != nil {
		return nil, err
	}
	return crypto.PrivateKeyFromBytes(b)
}
