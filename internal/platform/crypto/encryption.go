// Package crypto seals sensitive employee fields, such as bank account
// numbers, with XChaCha20-Poly1305 before they are stored.
package crypto

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

var ErrCiphertextTooShort = errors.New("crypto: ciphertext too short")

// FieldCipher encrypts single column values. A cipher without a key passes
// values through unchanged so local databases can hold plaintext.
type FieldCipher struct {
	aead cipher.AEAD
}

// NewFieldCipher accepts a 32 byte key encoded as hex or base64. An empty
// key yields a pass-through cipher.
func NewFieldCipher(key string) (*FieldCipher, error) {
	if strings.TrimSpace(key) == "" {
		return &FieldCipher{}, nil
	}
	raw, err := decodeKey(key)
	if err != nil {
		return nil, err
	}
	if len(raw) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("DATA_ENCRYPTION_KEY must decode to %d bytes, got %d", chacha20poly1305.KeySize, len(raw))
	}
	aead, err := chacha20poly1305.NewX(raw)
	if err != nil {
		return nil, err
	}
	return &FieldCipher{aead: aead}, nil
}

func (c *FieldCipher) Enabled() bool {
	return c != nil && c.aead != nil
}

// Seal returns nonce || ciphertext.
func (c *FieldCipher) Seal(value string) ([]byte, error) {
	if value == "" {
		return nil, nil
	}
	if !c.Enabled() {
		return []byte(value), nil
	}
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return c.aead.Seal(nonce, nonce, []byte(value), nil), nil
}

func (c *FieldCipher) Open(sealed []byte) (string, error) {
	if len(sealed) == 0 {
		return "", nil
	}
	if !c.Enabled() {
		return string(sealed), nil
	}
	size := c.aead.NonceSize()
	if len(sealed) < size {
		return "", ErrCiphertextTooShort
	}
	plain, err := c.aead.Open(nil, sealed[:size], sealed[size:], nil)
	if err != nil {
		return "", fmt.Errorf("crypto: open field: %w", err)
	}
	return string(plain), nil
}

// Mask keeps the last four characters of an account number.
func Mask(account string) string {
	account = strings.TrimSpace(account)
	if len(account) <= 4 {
		return account
	}
	return strings.Repeat("*", len(account)-4) + account[len(account)-4:]
}

func decodeKey(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if len(raw) == 64 {
		if decoded, err := hex.DecodeString(raw); err == nil {
			return decoded, nil
		}
	}
	if decoded, err := base64.StdEncoding.DecodeString(raw); err == nil {
		return decoded, nil
	}
	if decoded, err := base64.RawStdEncoding.DecodeString(raw); err == nil {
		return decoded, nil
	}
	return nil, errors.New("DATA_ENCRYPTION_KEY must be hex or base64 encoded")
}
