package crypto

import (
	"bytes"
	"errors"
	"testing"
)

func TestSealOpenRoundTrip(t *testing.T) {
	key, err := DeriveRecoveryLogKey([]byte("0123456789abcdef0123456789abcdef"))
	if err != nil {
		t.Fatalf("Failed to derive key: %v", err)
	}

	plaintext := []byte("pending envelope")
	ciphertext, nonce, err := Seal(&key, plaintext)
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}

	if bytes.Contains(ciphertext, plaintext) {
		t.Error("Ciphertext contains plaintext")
	}

	opened, err := Open(&key, nonce[:], ciphertext)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Errorf("Expected %q, got %q", plaintext, opened)
	}
}

func TestOpenRejectsTampering(t *testing.T) {
	var key [32]byte
	copy(key[:], "a fixed thirty two byte test key")

	ciphertext, nonce, _ := Seal(&key, []byte("payload"))

	t.Run("flipped byte", func(t *testing.T) {
		corrupted := append([]byte(nil), ciphertext...)
		corrupted[len(corrupted)-1] ^= 0xff
		if _, err := Open(&key, nonce[:], corrupted); !errors.Is(err, ErrDecryptionFailed) {
			t.Errorf("Expected ErrDecryptionFailed, got %v", err)
		}
	})

	t.Run("wrong key", func(t *testing.T) {
		var other [32]byte
		if _, err := Open(&other, nonce[:], ciphertext); !errors.Is(err, ErrDecryptionFailed) {
			t.Errorf("Expected ErrDecryptionFailed, got %v", err)
		}
	})

	t.Run("short nonce", func(t *testing.T) {
		if _, err := Open(&key, nonce[:8], ciphertext); !errors.Is(err, ErrDecryptionFailed) {
			t.Errorf("Expected ErrDecryptionFailed, got %v", err)
		}
	})
}

func TestDeriveRecoveryLogKeyDeterministic(t *testing.T) {
	secret := []byte("stable secret")
	a, _ := DeriveRecoveryLogKey(secret)
	b, _ := DeriveRecoveryLogKey(secret)
	if a != b {
		t.Error("Derivation is not deterministic")
	}

	c, _ := DeriveRecoveryLogKey([]byte("other secret"))
	if a == c {
		t.Error("Different secrets produced the same key")
	}
}
