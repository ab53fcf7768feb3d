// Package payloadcipher decrypts client capture payloads.
//
// Clients seal payloads to the advertised X25519 public key with an anonymous
// NaCl box; only the server holding the matching private key can open them.
// Keys rotate on a schedule and retired keys stay usable for a grace period so
// challenges issued just before a rotation can still be answered.
package payloadcipher

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/nacl/box"
)

// ErrDecrypt is returned for any payload that cannot be opened: unknown or
// retired key, truncated input or failed authentication.
var ErrDecrypt = errors.New("payload decryption failed")

// PublicKey is the key advertised to clients at challenge issuance.
type PublicKey struct {
	KeyID string
	Key   [32]byte
}

// Encoded returns the key in standard base64 for transport.
func (k PublicKey) Encoded() string {
	return base64.StdEncoding.EncodeToString(k.Key[:])
}

type keyPair struct {
	id        string
	public    *[32]byte
	private   *[32]byte
	createdAt time.Time
	retiredAt *time.Time
}

// Keyring holds the current key pair and recently retired ones.
type Keyring struct {
	category string
	grace    time.Duration
	now      func() time.Time
	random   io.Reader

	mu      sync.RWMutex
	current *keyPair
	retired []*keyPair
}

// Option configures a Keyring.
type Option func(*Keyring)

// WithGracePeriod sets how long retired keys keep decrypting.
func WithGracePeriod(d time.Duration) Option {
	return func(k *Keyring) {
		if d >= 0 {
			k.grace = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(k *Keyring) {
		if now != nil {
			k.now = now
		}
	}
}

// New creates a keyring for a key category (e.g. "biometrics") with a freshly
// generated current key.
func New(category string, opts ...Option) (*Keyring, error) {
	k := &Keyring{
		category: category,
		grace:    10 * time.Minute,
		now:      time.Now,
		random:   rand.Reader,
	}
	for _, opt := range opts {
		opt(k)
	}
	kp, err := k.generate()
	if err != nil {
		return nil, err
	}
	k.current = kp
	return k, nil
}

func (k *Keyring) generate() (*keyPair, error) {
	pub, priv, err := box.GenerateKey(k.random)
	if err != nil {
		return nil, fmt.Errorf("generate %s key pair: %w", k.category, err)
	}
	return &keyPair{
		id:        k.category + "-" + uuid.NewString(),
		public:    pub,
		private:   priv,
		createdAt: k.now(),
	}, nil
}

// PublicKey returns the current public key and its id.
func (k *Keyring) PublicKey() PublicKey {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return PublicKey{KeyID: k.current.id, Key: *k.current.public}
}

// Rotate promotes a new key pair. The previous key stays available for the
// grace period; keys past it are dropped.
func (k *Keyring) Rotate() (PublicKey, error) {
	next, err := k.generate()
	if err != nil {
		return PublicKey{}, err
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	now := k.now()
	prev := k.current
	prev.retiredAt = &now
	k.retired = append(k.pruneLocked(now), prev)
	k.current = next
	return PublicKey{KeyID: next.id, Key: *next.public}, nil
}

func (k *Keyring) pruneLocked(now time.Time) []*keyPair {
	kept := k.retired[:0]
	for _, kp := range k.retired {
		if now.Sub(*kp.retiredAt) < k.grace {
			kept = append(kept, kp)
		}
	}
	return kept
}

// Decrypt opens a sealed payload addressed to keyID.
func (k *Keyring) Decrypt(keyID string, ciphertext []byte) ([]byte, error) {
	kp := k.lookup(keyID)
	if kp == nil {
		return nil, fmt.Errorf("%w: unknown or retired key", ErrDecrypt)
	}
	plaintext, ok := box.OpenAnonymous(nil, ciphertext, kp.public, kp.private)
	if !ok {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}

func (k *Keyring) lookup(keyID string) *keyPair {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.current.id == keyID {
		return k.current
	}
	now := k.now()
	for _, kp := range k.retired {
		if kp.id == keyID && now.Sub(*kp.retiredAt) < k.grace {
			return kp
		}
	}
	return nil
}

// Encrypt seals plaintext to a public key the way capture clients do.
func Encrypt(publicKey [32]byte, plaintext []byte) ([]byte, error) {
	sealed, err := box.SealAnonymous(nil, plaintext, &publicKey, rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("seal payload: %w", err)
	}
	return sealed, nil
}
