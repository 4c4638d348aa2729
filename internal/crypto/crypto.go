// Package crypto seals the personal Gemini API keys users store on their
// profile.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
)

const keySize = 32

var (
	ErrInvalidKey         = errors.New("encryption key must be 32 bytes for AES-256")
	ErrCiphertextTooShort = errors.New("ciphertext too short")
	ErrDecryptionFailed   = errors.New("decryption failed")
)

// Encryptor seals secrets with AES-256-GCM. The output is
// base64(nonce || ciphertext || tag).
type Encryptor struct {
	aead cipher.AEAD
}

func NewEncryptor(key []byte) (*Encryptor, error) {
	if len(key) != keySize {
		return nil, ErrInvalidKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &Encryptor{aead: aead}, nil
}

// NewEncryptorFromString accepts either a base64 encoded 32 byte key or a
// passphrase of at least 32 characters, which is hashed down to a key.
func NewEncryptorFromString(keyStr string) (*Encryptor, error) {
	if raw, err := base64.StdEncoding.DecodeString(keyStr); err == nil && len(raw) == keySize {
		return NewEncryptor(raw)
	}
	if len(keyStr) < keySize {
		return nil, ErrInvalidKey
	}
	sum := sha256.Sum256([]byte(keyStr))
	return NewEncryptor(sum[:])
}

// Encrypt seals plaintext. An empty plaintext stays empty so a cleared key
// is stored as "".
func (e *Encryptor) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	nonce := make([]byte, e.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := e.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt.
func (e *Encryptor) Decrypt(encoded string) (string, error) {
	if encoded == "" {
		return "", nil
	}

	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("failed to decode base64: %w", err)
	}

	n := e.aead.NonceSize()
	if len(sealed) < n+e.aead.Overhead() {
		return "", ErrCiphertextTooShort
	}

	plaintext, err := e.aead.Open(nil, sealed[:n], sealed[n:], nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plaintext), nil
}
