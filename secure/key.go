package secure

import (
	"crypto/cipher"
	"encoding/binary"
	"math"

	"github.com/pkg/errors"

	"github.com/godaddy/asherah/go/flexmem"
	"github.com/godaddy/asherah/go/flexmem/internal/wipe"
	"github.com/godaddy/asherah/go/flexmem/keystore"
)

const counterSize = 8

// keyMaterial is the random key of a single region along with its nonce sequence. A nonce is a random prefix
// followed by a big endian counter that is never reused under the same key.
type keyMaterial struct {
	secret    keystore.Secret
	cipher    CipherFactory
	prefix    []byte
	counter   uint64
	nonceSize int
	overhead  int
}

func newKeyMaterial(keys keystore.Factory, cf CipherFactory) (*keyMaterial, error) {
	s, err := keys.CreateRandom(KeySize)
	if err != nil {
		return nil, err
	}

	k := &keyMaterial{
		secret: s,
		cipher: cf,
	}

	err = k.withAEAD(func(aead cipher.AEAD) error {
		k.nonceSize = aead.NonceSize()
		k.overhead = aead.Overhead()

		return nil
	})

	if err == nil && k.nonceSize < counterSize {
		err = errors.Wrapf(flexmem.ErrUnsupported, "nonce of %d bytes is too short", k.nonceSize)
	}

	if err != nil {
		if err2 := s.Close(); err2 != nil {
			err = errors.Wrap(err, err2.Error())
		}

		return nil, err
	}

	k.prefix = make([]byte, k.nonceSize-counterSize)
	wipe.FillRandom(k.prefix)

	return k, nil
}

func (k *keyMaterial) withAEAD(action func(cipher.AEAD) error) error {
	return k.secret.WithBytes(func(key []byte) error {
		aead, err := k.cipher(key)
		if err != nil {
			return errors.Wrap(err, "unable to create cipher")
		}

		return action(aead)
	})
}

func (k *keyMaterial) nextNonce() ([]byte, error) {
	if k.counter == math.MaxUint64 {
		return nil, errors.WithStack(flexmem.ErrNonceExhausted)
	}

	k.counter++

	nonce := make([]byte, k.nonceSize)
	copy(nonce, k.prefix)
	binary.BigEndian.PutUint64(nonce[len(k.prefix):], k.counter)

	return nonce, nil
}

// seal encrypts the first n bytes of mem in place, appending the tag, and returns the nonce it used. mem must
// have room for n plus the AEAD overhead.
func (k *keyMaterial) seal(mem []byte, n int) ([]byte, error) {
	nonce, err := k.nextNonce()
	if err != nil {
		return nil, err
	}

	err = k.withAEAD(func(aead cipher.AEAD) error {
		aead.Seal(mem[:0], nonce, mem[:n], nil)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return nonce, nil
}

// open decrypts the n bytes of plaintext sealed in mem with nonce, in place.
func (k *keyMaterial) open(mem []byte, n int, nonce []byte) error {
	return k.withAEAD(func(aead cipher.AEAD) error {
		if _, err := aead.Open(mem[:0], nonce, mem[:n+k.overhead], nil); err != nil {
			return errors.Wrap(flexmem.ErrDecryptionFailed, err.Error())
		}

		return nil
	})
}

func (k *keyMaterial) close() error {
	return k.secret.Close()
}
