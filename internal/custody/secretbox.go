package custody

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/pbkdf2"

	"github.com/lumenpay/backend/internal/apperr"
)

const (
	keyLen     = 32
	ivLen      = 16
	pbkdf2Iter = 100_000
)

// kdfSalt is versioned so a future key rotation can re-derive old keys.
var kdfSalt = []byte("lumenpay.wallet-seed.v1")

// SecretBox seals and opens wallet secret seeds with AES-256-GCM. The key is
// derived once from the configured master passphrase; each seal draws a fresh
// random 16-byte IV, and the GCM tag rides along with the ciphertext.
type SecretBox struct {
	aead cipher.AEAD
}

func NewSecretBox(masterKey string) (*SecretBox, error) {
	key := pbkdf2.Key([]byte(masterKey), kdfSalt, pbkdf2Iter, keyLen, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeCrypto, "init cipher", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, ivLen)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeCrypto, "init gcm", err)
	}
	return &SecretBox{aead: aead}, nil
}

// Seal encrypts plaintext, returning ciphertext (with the auth tag appended)
// and the IV used.
func (b *SecretBox) Seal(plaintext []byte) (ciphertext, iv []byte, err error) {
	iv = make([]byte, ivLen)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, nil, apperr.Wrap(apperr.CodeCrypto, "generate iv", err)
	}
	return b.aead.Seal(nil, iv, plaintext, nil), iv, nil
}

// Open decrypts and verifies. A tag mismatch means tampering or corruption
// and surfaces as CRYPTO_ERROR; callers must treat it as fatal, never retry.
func (b *SecretBox) Open(ciphertext, iv []byte) ([]byte, error) {
	plaintext, err := b.aead.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeCrypto, "seed integrity check failed", err)
	}
	return plaintext, nil
}
