package secure

import (
	"crypto/aes"
	"crypto/cipher"

	"golang.org/x/crypto/chacha20poly1305"
)

// KeySize is the size in bytes of the keys generated for regions.
const KeySize = 32

// CipherFactory returns an AEAD using key. The key is only readable for the duration of the call and the
// returned AEAD is discarded after a single seal or open.
type CipherFactory func(key []byte) (cipher.AEAD, error)

// XChaCha20Poly1305 is a CipherFactory for XChaCha20-Poly1305. It is the default.
func XChaCha20Poly1305(key []byte) (cipher.AEAD, error) {
	return chacha20poly1305.NewX(key)
}

// AES256GCM is a CipherFactory for AES-256 in Galois/Counter Mode.
func AES256GCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	return cipher.NewGCM(block)
}
