package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// Session id prefixes
const (
	StandardPrefix = "05"
	GroupPrefix    = "03"

	SeedSize = ed25519.SeedSize
)

var ErrInvalidSessionID = errors.New("invalid session id")

// KeyPair is an Ed25519 identity keypair
type KeyPair struct {
	PublicKey  ed25519.PublicKey
	PrivateKey ed25519.PrivateKey
}

// GenerateKeypair generates a new random Ed25519 keypair
func GenerateKeypair() (*KeyPair, error) {
	publicKey, privateKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate Ed25519 keypair: %v", err)
	}

	return &KeyPair{
		PublicKey:  publicKey,
		PrivateKey: privateKey,
	}, nil
}

// KeyPairFromSeed regenerates a keypair from a 32-byte seed. A full 64-byte
// private key is also accepted; its leading 32 bytes are the seed.
func KeyPairFromSeed(seed []byte) (*KeyPair, error) {
	switch len(seed) {
	case ed25519.SeedSize:
	case ed25519.PrivateKeySize:
		seed = seed[:ed25519.SeedSize]
	default:
		return nil, fmt.Errorf("invalid seed size: %d", len(seed))
	}

	privateKey := ed25519.NewKeyFromSeed(seed)
	return &KeyPair{
		PublicKey:  privateKey.Public().(ed25519.PublicKey),
		PrivateKey: privateKey,
	}, nil
}

// Seed returns the 32-byte seed of the private key
func (kp *KeyPair) Seed() []byte {
	return kp.PrivateKey.Seed()
}

// Sign signs a message with the private key (Ed25519 signature)
func (kp *KeyPair) Sign(message []byte) []byte {
	return ed25519.Sign(kp.PrivateKey, message)
}

// Verify verifies a signature against a message using the public key
func (kp *KeyPair) Verify(message, signature []byte) bool {
	return ed25519.Verify(kp.PublicKey, message, signature)
}

// VerifyWithPublicKey verifies a signature using a standalone public key
func VerifyWithPublicKey(publicKey ed25519.PublicKey, message, signature []byte) bool {
	if len(publicKey) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(publicKey, message, signature)
}

// GroupSessionID returns the group identifier for this keypair
func (kp *KeyPair) GroupSessionID() string {
	return GroupPrefix + hex.EncodeToString(kp.PublicKey)
}

// StandardSessionID returns the user identifier for this keypair
func (kp *KeyPair) StandardSessionID() string {
	return StandardPrefix + hex.EncodeToString(kp.PublicKey)
}

// PublicKeyFromSessionID strips the prefix and decodes the Ed25519 key
func PublicKeyFromSessionID(sessionID string) (ed25519.PublicKey, error) {
	if len(sessionID) != 2+2*ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: length %d", ErrInvalidSessionID, len(sessionID))
	}
	prefix := sessionID[:2]
	if prefix != StandardPrefix && prefix != GroupPrefix {
		return nil, fmt.Errorf("%w: unknown prefix %s", ErrInvalidSessionID, prefix)
	}

	raw, err := hex.DecodeString(sessionID[2:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSessionID, err)
	}
	return ed25519.PublicKey(raw), nil
}

// SessionIDBytes decodes a session id including its prefix byte
func SessionIDBytes(sessionID string) ([]byte, error) {
	raw, err := hex.DecodeString(sessionID)
	if err != nil || len(raw) != 1+ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: %s", ErrInvalidSessionID, sessionID)
	}
	return raw, nil
}

// IsGroupSessionID reports whether id looks like a group identifier
func IsGroupSessionID(id string) bool {
	return strings.HasPrefix(id, GroupPrefix) && len(id) == 2+2*ed25519.PublicKeySize
}

// Truncated renders an identifier as first4...last4 for display fallbacks
func Truncated(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:4] + "..." + id[len(id)-4:]
}
