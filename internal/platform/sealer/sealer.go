// Package sealer encrypts biometric vectors at rest with XChaCha20-Poly1305.
// Each blob is bound to an owner through the associated data, so a blob
// copied onto another subject's template fails to open.
package sealer

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// ErrOpen is returned when a sealed blob fails authentication.
var ErrOpen = errors.New("sealed data could not be opened")

// Sealer is safe for concurrent use.
type Sealer struct {
	aead cipher.AEAD
}

// New builds a sealer from a 32-byte key.
func New(key []byte) (*Sealer, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("init sealer: %w", err)
	}
	return &Sealer{aead: aead}, nil
}

// FromBase64 builds a sealer from a standard base64 encoded key.
func FromBase64(encoded string) (*Sealer, error) {
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode sealer key: %w", err)
	}
	return New(key)
}

// Ephemeral returns a sealer with a random key. Data sealed with it does not
// survive a restart; intended for development and tests.
func Ephemeral() (*Sealer, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate sealer key: %w", err)
	}
	return New(key)
}

// Seal returns nonce || ciphertext.
func (s *Sealer) Seal(owner string, plaintext []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(plaintext)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return s.aead.Seal(nonce, nonce, plaintext, []byte(owner)), nil
}

// Open reverses Seal for the same owner.
func (s *Sealer) Open(owner string, sealed []byte) ([]byte, error) {
	if len(sealed) < s.aead.NonceSize()+s.aead.Overhead() {
		return nil, ErrOpen
	}
	nonce, ciphertext := sealed[:s.aead.NonceSize()], sealed[s.aead.NonceSize():]
	plaintext, err := s.aead.Open(nil, nonce, ciphertext, []byte(owner))
	if err != nil {
		return nil, ErrOpen
	}
	return plaintext, nil
}
