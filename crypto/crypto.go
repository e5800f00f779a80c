package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// ErrDecrypt is returned for any tampered or mismatched ciphertext. Callers
// must treat it as data corruption, never as a client error.
var ErrDecrypt = errors.New("crypto: decryption failed")

const (
	nonceSize = 12
	tagSize   = 16
)

// Box encrypts and decrypts per-customer secret material with AES-256-GCM
// under the master key.
type Box struct {
	aead cipher.AEAD
}

// NewBox creates a Box from a 32-byte master key.
func NewBox(masterKey []byte) (*Box, error) {
	if len(masterKey) != 32 {
		return nil, fmt.Errorf("crypto: master key must be 32 bytes, got %d", len(masterKey))
	}

	block, err := aes.NewCipher(masterKey)
	if err != nil {
		return nil, fmt.Errorf("crypto: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: %w", err)
	}

	return &Box{aead: aead}, nil
}

// Encrypt seals plaintext and returns the stored blob layout
// hex(nonce):hex(tag):hex(ciphertext).
func (b *Box) Encrypt(plaintext []byte) (string, error) {
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("crypto: failed to generate nonce: %w", err)
	}

	sealed := b.aead.Seal(nil, nonce, plaintext, nil)
	// GCM appends the tag to the ciphertext; the stored layout keeps it separate
	ciphertext := sealed[:len(sealed)-tagSize]
	tag := sealed[len(sealed)-tagSize:]

	return fmt.Sprintf("%s:%s:%s",
		hex.EncodeToString(nonce),
		hex.EncodeToString(tag),
		hex.EncodeToString(ciphertext),
	), nil
}

// Decrypt opens a blob produced by Encrypt. Any malformed or tampered field
// yields ErrDecrypt.
func (b *Box) Decrypt(blob string) ([]byte, error) {
	parts := strings.Split(blob, ":")
	if len(parts) != 3 {
		return nil, ErrDecrypt
	}

	nonce, err := hex.DecodeString(parts[0])
	if err != nil || len(nonce) != nonceSize {
		return nil, ErrDecrypt
	}
	tag, err := hex.DecodeString(parts[1])
	if err != nil || len(tag) != tagSize {
		return nil, ErrDecrypt
	}
	ciphertext, err := hex.DecodeString(parts[2])
	if err != nil {
		return nil, ErrDecrypt
	}

	plaintext, err := b.aead.Open(nil, nonce, append(ciphertext, tag...), nil)
	if err != nil {
		return nil, ErrDecrypt
	}

	return plaintext, nil
}

// HashPassword hashes a password with bcrypt at the given cost.
func HashPassword(password string, cost int) (string, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("crypto: failed to hash password: %w", err)
	}

	return string(hash), nil
}

// VerifyPassword reports whether password matches the bcrypt hash.
func VerifyPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// GenerateToken returns n CSPRNG bytes hex-encoded. Used for API keys,
// verification tokens and raw JWT secrets.
func GenerateToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("crypto: failed to generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// GenerateSecret returns n raw CSPRNG bytes.
func GenerateSecret(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("crypto: failed to generate secret: %w", err)
	}
	return buf, nil
}

// HashSHA256 returns the hex sha256 digest of data. Shared by refresh-token
// storage and blob deduplication.
func HashSHA256(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
