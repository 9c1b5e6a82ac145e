package securestore

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
)

var ErrPassphraseRequired = errors.New("securestore passphrase is required")

// ReadDecryptedJSON reads a sealed file and unmarshals its JSON payload into v.
func ReadDecryptedJSON(path, passphrase string, v any) error {
	if strings.TrimSpace(passphrase) == "" {
		return ErrPassphraseRequired
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	plain, err := Decrypt(passphrase, raw)
	if err != nil {
		return err
	}
	defer zeroBytes(plain)
	return json.Unmarshal(plain, v)
}

// WriteEncryptedJSON marshals, seals and writes v through a temp file in the target directory.
func WriteEncryptedJSON(path, passphrase string, v any) error {
	if strings.TrimSpace(passphrase) == "" {
		return ErrPassphraseRequired
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	defer zeroBytes(payload)
	encrypted, err := Encrypt(passphrase, payload)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".sealed-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(encrypted); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
