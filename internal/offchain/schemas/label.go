package schemas

import (
	"crypto/hmac"
	"encoding/base64"
	"hash"
	"path"

	"golang.org/x/crypto/blake2s"
)

const ciphertextsDir = "ciphertexts"

// CiphertextLabel derives where the content key for dataPath is stored for one
// sender/receiver pair: HMAC-BLAKE2s-256 keyed by the pair's ECDH secret over
// senderDEK || receiverDEK || dataPath. Keys are in compressed form.
func CiphertextLabel(sharedSecret, senderDEK, receiverDEK []byte, dataPath string) string {
	mac := hmac.New(newBlake2s256, sharedSecret)
	mac.Write(senderDEK)
	mac.Write(receiverDEK)
	mac.Write([]byte(dataPath))
	return path.Join(ciphertextsDir, base64.StdEncoding.EncodeToString(mac.Sum(nil)))
}

func newBlake2s256() hash.Hash {
	// Unkeyed construction cannot fail.
	h, _ := blake2s.New256(nil)
	return h
}
