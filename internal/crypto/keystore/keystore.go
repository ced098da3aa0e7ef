package keystore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/zalando/go-keyring"
	"golang.org/x/crypto/argon2"
)

var (
	ErrSecretNotFound = errors.New("secret not found")
	// ErrKeySpecInaccessible means the backing store exists but cannot be
	// read right now (locked keychain, missing session bus, wrong passphrase).
	ErrKeySpecInaccessible = errors.New("key spec inaccessible")
)

// SecretStore holds small named secrets outside the database
type SecretStore interface {
	Get(name string) ([]byte, error)
	Set(name string, secret []byte) error
}

// GetOrCreateSecret returns the named secret, generating and persisting a
// random one of the given size on first use. An inaccessible store is never
// papered over with a fresh secret.
func GetOrCreateSecret(store SecretStore, name string, size int) ([]byte, error) {
	secret, err := store.Get(name)
	if err == nil {
		if len(secret) != size {
			return nil, fmt.Errorf("%w: stored secret %s has size %d", ErrKeySpecInaccessible, name, len(secret))
		}
		return secret, nil
	}
	if !errors.Is(err, ErrSecretNotFound) {
		return nil, err
	}

	secret = make([]byte, size)
	if _, err := io.ReadFull(rand.Reader, secret); err != nil {
		return nil, fmt.Errorf("failed to generate secret: %v", err)
	}
	if err := store.Set(name, secret); err != nil {
		return nil, err
	}
	return secret, nil
}

// KeyringStore keeps secrets in the OS keychain
type KeyringStore struct {
	service string
}

func NewKeyringStore(service string) *KeyringStore {
	return &KeyringStore{service: service}
}

func (ks *KeyringStore) Get(name string) ([]byte, error) {
	value, err := keyring.Get(ks.service, name)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, ErrSecretNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeySpecInaccessible, err)
	}

	secret, err := hex.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("%w: corrupted keyring entry: %v", ErrKeySpecInaccessible, err)
	}
	return secret, nil
}

func (ks *KeyringStore) Set(name string, secret []byte) error {
	if err := keyring.Set(ks.service, name, hex.EncodeToString(secret)); err != nil {
		return fmt.Errorf("%w: %v", ErrKeySpecInaccessible, err)
	}
	return nil
}

// Keystore is the on-disk form of a FileStore
type Keystore struct {
	Version int    `json:"version"` // Keystore format version
	Salt    []byte `json:"salt"`    // Salt for key derivation (32 bytes)
	Nonce   []byte `json:"nonce"`   // Nonce for AES-GCM (12 bytes)
	Data    []byte `json:"data"`    // Encrypted JSON map of name -> secret
}

const (
	// Argon2id parameters (recommended by OWASP)
	argon2Time      = 3
	argon2Memory    = 64 * 1024
	argon2Threads   = 4
	argon2KeyLength = 32

	saltSize  = 32
	nonceSize = 12

	keystoreVersion = 1
)

// FileStore is a passphrase-protected secret file for hosts without a keychain
type FileStore struct {
	path       string
	passphrase string
	mu         sync.Mutex
}

func NewFileStore(path, passphrase string) *FileStore {
	return &FileStore{path: path, passphrase: passphrase}
}

func (fs *FileStore) Get(name string) ([]byte, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	secrets, err := fs.load()
	if err != nil {
		return nil, err
	}
	secret, ok := secrets[name]
	if !ok {
		return nil, ErrSecretNotFound
	}
	return secret, nil
}

func (fs *FileStore) Set(name string, secret []byte) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	secrets, err := fs.load()
	if err != nil {
		return err
	}
	secrets[name] = secret
	return fs.save(secrets)
}

func (fs *FileStore) load() (map[string][]byte, error) {
	data, err := os.ReadFile(fs.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string][]byte{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read keystore file: %v", ErrKeySpecInaccessible, err)
	}

	var ks Keystore
	if err := json.Unmarshal(data, &ks); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal keystore: %v", ErrKeySpecInaccessible, err)
	}
	return unlock(&ks, fs.passphrase)
}

func (fs *FileStore) save(secrets map[string][]byte) error {
	ks, err := lock(secrets, fs.passphrase)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(ks, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal keystore: %v", err)
	}

	// Write-then-rename so a crash never leaves a truncated keystore
	tmp := fs.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write keystore file: %v", err)
	}
	return os.Rename(tmp, fs.path)
}

func deriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLength)
}

func newGCM(passphrase string, salt []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(deriveKey(passphrase, salt))
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %v", err)
	}
	return cipher.NewGCM(block)
}

func lock(secrets map[string][]byte, passphrase string) (*Keystore, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("%w: passphrase cannot be empty", ErrKeySpecInaccessible)
	}

	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %v", err)
	}
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %v", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return nil, err
	}

	plaintext, err := json.Marshal(secrets)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal keystore data: %v", err)
	}

	return &Keystore{
		Version: keystoreVersion,
		Salt:    salt,
		Nonce:   nonce,
		Data:    gcm.Seal(nil, nonce, plaintext, nil),
	}, nil
}

func unlock(ks *Keystore, passphrase string) (map[string][]byte, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("%w: passphrase cannot be empty", ErrKeySpecInaccessible)
	}
	if ks.Version != keystoreVersion {
		return nil, fmt.Errorf("%w: unsupported keystore version: %d", ErrKeySpecInaccessible, ks.Version)
	}
	if len(ks.Salt) != saltSize || len(ks.Nonce) != nonceSize {
		return nil, fmt.Errorf("%w: corrupted keystore header", ErrKeySpecInaccessible)
	}

	gcm, err := newGCM(passphrase, ks.Salt)
	if err != nil {
		return nil, err
	}

	plaintext, err := gcm.Open(nil, ks.Nonce, ks.Data, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: decryption failed (incorrect passphrase?)", ErrKeySpecInaccessible)
	}

	secrets := map[string][]byte{}
	if err := json.Unmarshal(plaintext, &secrets); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal keystore data: %v", ErrKeySpecInaccessible, err)
	}
	return secrets, nil
}
