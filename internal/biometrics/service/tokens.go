package service

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"math/big"
	"strings"

	"veriface/internal/biometrics/models"
)

const (
	secretBytes      = 32
	proofTokenPrefix = "vt_"
	// proofTokenLength is the prefix plus 32 bytes in unpadded base64url.
	proofTokenLength = len(proofTokenPrefix) + 43
)

// randomSecret returns n crypto-random bytes as unpadded base64url.
func randomSecret(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate random secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func newNonce() (string, error) {
	return randomSecret(secretBytes)
}

// newProofToken returns a raw proof token and the hash that is persisted.
func newProofToken() (token, hash string, err error) {
	secret, err := randomSecret(secretBytes)
	if err != nil {
		return "", "", err
	}
	token = proofTokenPrefix + secret
	return token, models.HashSecret(token), nil
}

func looksLikeProofToken(token string) bool {
	return len(token) == proofTokenLength && strings.HasPrefix(token, proofTokenPrefix)
}

// pickLiveness draws n distinct prompts from the pool in random order with a
// partial Fisher-Yates shuffle over crypto/rand.
func pickLiveness(n int) ([]models.LivenessAction, error) {
	pool := append([]models.LivenessAction(nil), models.LivenessPool...)
	if n > len(pool) {
		n = len(pool)
	}
	for i := 0; i < n; i++ {
		j, err := rand.Int(rand.Reader, big.NewInt(int64(len(pool)-i)))
		if err != nil {
			return nil, fmt.Errorf("select liveness actions: %w", err)
		}
		k := i + int(j.Int64())
		pool[i], pool[k] = pool[k], pool[i]
	}
	return pool[:n], nil
}
