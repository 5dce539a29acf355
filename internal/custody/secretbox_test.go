package custody

import (
	"bytes"
	"testing"

	"github.com/lumenpay/backend/internal/apperr"
)

func TestSecretBoxRoundTrip(t *testing.T) {
	box, err := NewSecretBox("test-master-passphrase")
	if err != nil {
		t.Fatalf("NewSecretBox: %v", err)
	}

	seed := []byte("SCZANGBA5YHTNYVVV4C3U252E2B6P6F5T3U6MM63WBSBZATAQI3EBTQ4")
	sealed, iv, err := box.Seal(seed)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if len(iv) != 16 {
		t.Errorf("iv length = %d, want 16", len(iv))
	}
	if bytes.Contains(sealed, seed) {
		t.Error("ciphertext contains the plaintext seed")
	}

	opened, err := box.Open(sealed, iv)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !bytes.Equal(opened, seed) {
		t.Errorf("round trip mismatch: got %q", opened)
	}
}

func TestSecretBoxUniqueIVs(t *testing.T) {
	box, err := NewSecretBox("test-master-passphrase")
	if err != nil {
		t.Fatalf("NewSecretBox: %v", err)
	}

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		_, iv, err := box.Seal([]byte("same plaintext"))
		if err != nil {
			t.Fatalf("Seal: %v", err)
		}
		if seen[string(iv)] {
			t.Fatal("iv repeated across seals")
		}
		seen[string(iv)] = true
	}
}

func TestSecretBoxDetectsTampering(t *testing.T) {
	box, err := NewSecretBox("test-master-passphrase")
	if err != nil {
		t.Fatalf("NewSecretBox: %v", err)
	}
	sealed, iv, err := box.Seal([]byte("secret seed material"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	tampered := append([]byte(nil), sealed...)
	tampered[0] ^= 0xff
	if _, err := box.Open(tampered, iv); apperr.CodeOf(err) != apperr.CodeCrypto {
		t.Errorf("tampered ciphertext: code = %s, want CRYPTO_ERROR", apperr.CodeOf(err))
	}

	wrongIV := append([]byte(nil), iv...)
	wrongIV[3] ^= 0x01
	if _, err := box.Open(sealed, wrongIV); apperr.CodeOf(err) != apperr.CodeCrypto {
		t.Errorf("wrong iv: code = %s, want CRYPTO_ERROR", apperr.CodeOf(err))
	}
}

func TestSecretBoxWrongKeyFails(t *testing.T) {
	box1, _ := NewSecretBox("passphrase-one")
	box2, _ := NewSecretBox("passphrase-two")

	sealed, iv, err := box1.Seal([]byte("secret"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if _, err := box2.Open(sealed, iv); apperr.CodeOf(err) != apperr.CodeCrypto {
		t.Errorf("wrong key: code = %s, want CRYPTO_ERROR", apperr.CodeOf(err))
	}
}
