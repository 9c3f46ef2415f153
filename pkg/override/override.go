// Package override encodes and decodes the encrypted flag-override payload
// carried in a request cookie. Overrides are a manual-testing tool: a map
// from flag key to forced value, sealed with AES-GCM under a secret the
// application owns.
package override

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// CookieName is the designated request cookie carrying the override
// ciphertext.
const CookieName = "driftflag-overrides"

var (
	ErrInvalidSecret     = errors.New("override: secret must be 16, 24 or 32 bytes")
	ErrInvalidCiphertext = errors.New("override: invalid ciphertext")
)

// Encrypt seals an override map into a base64url ciphertext suitable for a
// cookie value. The nonce is prepended to the sealed payload.
func Encrypt(values map[string]any, secret []byte) (string, error) {
	aead, err := newAEAD(secret)
	if err != nil {
		return "", err
	}

	plaintext, err := json.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("override: marshal values: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("override: generate nonce: %w", err)
	}

	ciphertext := aead.Seal(nonce, nonce, plaintext, nil)
	return base64.RawURLEncoding.EncodeToString(ciphertext), nil
}

// Decrypt opens a ciphertext produced by Encrypt. Any failure (wrong
// secret, corrupted or truncated ciphertext, malformed payload) returns an
// error; callers treat that identically to "no override present".
func Decrypt(ciphertext string, secret []byte) (map[string]any, error) {
	aead, err := newAEAD(secret)
	if err != nil {
		return nil, err
	}

	raw, err := base64.RawURLEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, errors.Join(ErrInvalidCiphertext, err)
	}

	nonceSize := aead.NonceSize()
	if len(raw) < nonceSize {
		return nil, ErrInvalidCiphertext
	}
	nonce, sealed := raw[:nonceSize], raw[nonceSize:]

	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, errors.Join(ErrInvalidCiphertext, err)
	}

	var values map[string]any
	if err := json.Unmarshal(plaintext, &values); err != nil {
		return nil, errors.Join(ErrInvalidCiphertext, err)
	}
	return values, nil
}

func newAEAD(secret []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(secret)
	if err != nil {
		return nil, errors.Join(ErrInvalidSecret, err)
	}
	return cipher.NewGCM(block)
}
