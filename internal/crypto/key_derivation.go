package crypto

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	KeySize   = 32 // 256 bits for symmetric keys
	NonceSize = 24 // NaCl secretbox nonce size

	// HKDF info strings (domain separation)
	InfoRecoveryLogKey = "SecureGroupsRecoveryLogKey"
)

// DeriveRecoveryLogKey derives the journal encryption key from the stored secret
func DeriveRecoveryLogKey(secret []byte) ([32]byte, error) {
	var key [32]byte

	hkdfReader := hkdf.New(sha256.New, secret, nil, []byte(InfoRecoveryLogKey))
	if _, err := io.ReadFull(hkdfReader, key[:]); err != nil {
		return key, err
	}

	return key, nil
}

// ZeroKey securely zeros out a key from memory
func ZeroKey(key *[32]byte) {
	if key == nil {
		return
	}
	for i := range key {
		key[i] = 0
	}
}
