package crypto

import "crypto/ed25519"

// Provider is the set of primitives the group pipeline depends on. Tests swap
// it out to force verification outcomes.
type Provider interface {
	GenerateEd25519KeyPair(seed []byte) (*KeyPair, error)
	Sign(privateKey ed25519.PrivateKey, message []byte) []byte
	Verify(signature, message []byte, publicKey ed25519.PublicKey) bool
	EncryptAEAD(key *[32]byte, plaintext []byte) ([]byte, [NonceSize]byte, error)
	DecryptAEAD(key *[32]byte, nonce, ciphertext []byte) ([]byte, error)
}

// DefaultProvider implements Provider with Ed25519 and NaCl secretbox
type DefaultProvider struct{}

func (DefaultProvider) GenerateEd25519KeyPair(seed []byte) (*KeyPair, error) {
	return KeyPairFromSeed(seed)
}

func (DefaultProvider) Sign(privateKey ed25519.PrivateKey, message []byte) []byte {
	return ed25519.Sign(privateKey, message)
}

func (DefaultProvider) Verify(signature, message []byte, publicKey ed25519.PublicKey) bool {
	return VerifyWithPublicKey(publicKey, message, signature)
}

func (DefaultProvider) EncryptAEAD(key *[32]byte, plaintext []byte) ([]byte, [NonceSize]byte, error) {
	return Seal(key, plaintext)
}

func (DefaultProvider) DecryptAEAD(key *[32]byte, nonce, ciphertext []byte) ([]byte, error) {
	return Open(key, nonce, ciphertext)
}
