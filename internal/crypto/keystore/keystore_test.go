package keystore

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/zalando/go-keyring"
)

func TestKeyringStoreGetOrCreate(t *testing.T) {
	keyring.MockInit()
	store := NewKeyringStore("secure-groups-test")

	first, err := GetOrCreateSecret(store, "recovery", 32)
	if err != nil {
		t.Fatalf("GetOrCreateSecret failed: %v", err)
	}
	if len(first) != 32 {
		t.Fatalf("Expected 32-byte secret, got %d", len(first))
	}

	second, err := GetOrCreateSecret(store, "recovery", 32)
	if err != nil {
		t.Fatalf("GetOrCreateSecret failed on second call: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Error("Secret was regenerated instead of reused")
	}
}

func TestKeyringStoreInaccessible(t *testing.T) {
	keyring.MockInitWithError(errors.New("keychain locked"))
	defer keyring.MockInit()

	store := NewKeyringStore("secure-groups-test")
	_, err := GetOrCreateSecret(store, "recovery", 32)
	if !errors.Is(err, ErrKeySpecInaccessible) {
		t.Fatalf("Expected ErrKeySpecInaccessible, got %v", err)
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.dat")
	store := NewFileStore(path, "test-passphrase")

	if _, err := store.Get("missing"); !errors.Is(err, ErrSecretNotFound) {
		t.Fatalf("Expected ErrSecretNotFound, got %v", err)
	}

	secret, err := GetOrCreateSecret(store, "recovery", 32)
	if err != nil {
		t.Fatalf("GetOrCreateSecret failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Failed to stat keystore file: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("Expected file permissions 0600, got %v", info.Mode().Perm())
	}

	reopened := NewFileStore(path, "test-passphrase")
	loaded, err := reopened.Get("recovery")
	if err != nil {
		t.Fatalf("Get after reopen failed: %v", err)
	}
	if !bytes.Equal(secret, loaded) {
		t.Error("Secret mismatch after reopen")
	}
}

func TestFileStoreWrongPassphrase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.dat")
	if err := NewFileStore(path, "correct").Set("recovery", []byte("secret")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	_, err := NewFileStore(path, "wrong").Get("recovery")
	if !errors.Is(err, ErrKeySpecInaccessible) {
		t.Errorf("Expected ErrKeySpecInaccessible, got %v", err)
	}

	// A locked store must not be replaced by a fresh secret
	if _, err := GetOrCreateSecret(NewFileStore(path, "wrong"), "recovery", 32); !errors.Is(err, ErrKeySpecInaccessible) {
		t.Errorf("Expected ErrKeySpecInaccessible, got %v", err)
	}
}
