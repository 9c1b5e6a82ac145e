package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
)

const (
	ContentKeySize = 16
	IVSize         = aes.BlockSize
)

var (
	ErrInvalidContentKey  = errors.New("content key must be 16 bytes")
	ErrCiphertextTooShort = errors.New("ciphertext is shorter than the iv")
)

// NewContentKey returns a fresh AES-128 key.
func NewContentKey() ([]byte, error) {
	key := make([]byte, ContentKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return key, nil
}

// SealContent encrypts plaintext with AES-128-CTR under a random IV and returns IV || ciphertext.
func SealContent(key, plaintext []byte) ([]byte, error) {
	stream, iv, err := newStream(key, nil)
	if err != nil {
		return nil, err
	}
	out := make([]byte, IVSize+len(plaintext))
	copy(out, iv)
	stream.XORKeyStream(out[IVSize:], plaintext)
	return out, nil
}

// OpenContent reverses SealContent. CTR mode carries no integrity tag; authenticity of
// the blob comes from its detached signature.
func OpenContent(key, blob []byte) ([]byte, error) {
	if len(blob) < IVSize {
		return nil, ErrCiphertextTooShort
	}
	stream, _, err := newStream(key, blob[:IVSize])
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(blob)-IVSize)
	stream.XORKeyStream(out, blob[IVSize:])
	return out, nil
}

func newStream(key, iv []byte) (cipher.Stream, []byte, error) {
	if len(key) != ContentKeySize {
		return nil, nil, fmt.Errorf("%w: got %d", ErrInvalidContentKey, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, err
	}
	if iv == nil {
		iv = make([]byte, IVSize)
		if _, err := rand.Read(iv); err != nil {
			return nil, nil, err
		}
	}
	return cipher.NewCTR(block, iv), iv, nil
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
