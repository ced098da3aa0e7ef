package crypto

import (
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"
)

var ErrDecryptionFailed = errors.New("decryption failed")

// Seal encrypts plaintext with XSalsa20-Poly1305 under a fresh random nonce
func Seal(key *[32]byte, plaintext []byte) ([]byte, [NonceSize]byte, error) {
	var nonce [NonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, nonce, fmt.Errorf("failed to generate nonce: %v", err)
	}

	return secretbox.Seal(nil, plaintext, &nonce, key), nonce, nil
}

// Open authenticates and decrypts a ciphertext produced by Seal
func Open(key *[32]byte, nonce []byte, ciphertext []byte) ([]byte, error) {
	if len(nonce) != NonceSize {
		return nil, fmt.Errorf("%w: invalid nonce size %d", ErrDecryptionFailed, len(nonce))
	}
	var n [NonceSize]byte
	copy(n[:], nonce)

	plaintext, ok := secretbox.Open(nil, ciphertext, &n, key)
	if !ok {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}
