// Package securestore seals small files (wallet keyfiles) under a passphrase.
package securestore

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"errors"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	magic      = "OFFKEY1\n"
	saltSize   = 16
	paramsSize = 4 + 4 + 1
	headerSize = len(magic) + paramsSize + saltSize + chacha20poly1305.NonceSizeX
)

var (
	ErrAuthFailed = errors.New("securestore authentication failed")
	ErrInvalid    = errors.New("securestore envelope is invalid")
	ErrNotSealed  = errors.New("securestore data is not sealed")
)

// KDFParams are the argon2id cost parameters. They are stored in the clear and
// authenticated as associated data.
type KDFParams struct {
	Time     uint32
	MemoryKB uint32
	Threads  uint8
}

var (
	DefaultKDF = KDFParams{Time: 2, MemoryKB: 64 * 1024, Threads: 1}

	minKDF = KDFParams{Time: 1, MemoryKB: 8 * 1024, Threads: 1}
	maxKDF = KDFParams{Time: 16, MemoryKB: 1024 * 1024, Threads: 16}
)

func (p KDFParams) valid() bool {
	return p.Time >= minKDF.Time && p.Time <= maxKDF.Time &&
		p.MemoryKB >= minKDF.MemoryKB && p.MemoryKB <= maxKDF.MemoryKB &&
		p.Threads >= minKDF.Threads && p.Threads <= maxKDF.Threads
}

// Encrypt seals plaintext with the default cost parameters.
func Encrypt(passphrase string, plaintext []byte) ([]byte, error) {
	return EncryptWithParams(passphrase, plaintext, DefaultKDF)
}

// EncryptWithParams seals plaintext as magic | params | salt | nonce | ciphertext.
func EncryptWithParams(passphrase string, plaintext []byte, params KDFParams) ([]byte, error) {
	if !params.valid() {
		return nil, ErrInvalid
	}
	header := make([]byte, 0, headerSize)
	header = append(header, magic...)
	header = binary.BigEndian.AppendUint32(header, params.Time)
	header = binary.BigEndian.AppendUint32(header, params.MemoryKB)
	header = append(header, params.Threads)

	random := make([]byte, saltSize+chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(random); err != nil {
		return nil, err
	}
	header = append(header, random...)
	salt := random[:saltSize]
	nonce := random[saltSize:]

	key := deriveKey(passphrase, salt, params)
	defer zeroBytes(key)
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	return append(header, aead.Seal(nil, nonce, plaintext, header)...), nil
}

func Decrypt(passphrase string, data []byte) ([]byte, error) {
	if !bytes.HasPrefix(data, []byte(magic)) {
		return nil, ErrNotSealed
	}
	if len(data) < headerSize+chacha20poly1305.Overhead {
		return nil, ErrInvalid
	}
	header := data[:headerSize]
	rest := header[len(magic):]
	params := KDFParams{
		Time:     binary.BigEndian.Uint32(rest[0:4]),
		MemoryKB: binary.BigEndian.Uint32(rest[4:8]),
		Threads:  rest[8],
	}
	if !params.valid() {
		return nil, ErrInvalid
	}
	salt := rest[paramsSize : paramsSize+saltSize]
	nonce := rest[paramsSize+saltSize:]

	key := deriveKey(passphrase, salt, params)
	defer zeroBytes(key)
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, nonce, data[headerSize:], header)
	if err != nil {
		return nil, ErrAuthFailed
	}
	return plaintext, nil
}

func deriveKey(passphrase string, salt []byte, p KDFParams) []byte {
	return argon2.IDKey([]byte(passphrase), salt, p.Time, p.MemoryKB, p.Threads, chacha20poly1305.KeySize)
}

func zeroBytes(b []byte) {
	clear(b)
}
