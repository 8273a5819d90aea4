package kv

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/scrypt"
)

const sealedPrefix = "sb1:"

// ErrUnseal is returned when a stored value fails authentication
var ErrUnseal = errors.New("kv: cannot decrypt value")

// Sealed encrypts values with NaCl secretbox before handing them to the
// underlying store. Values written before encryption was enabled are
// returned unchanged.
type Sealed struct {
	inner Store
	key   [32]byte
}

// NewSealed derives a key from passphrase and wraps inner
func NewSealed(inner Store, passphrase string) (*Sealed, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("encryption passphrase is empty")
	}
	derived, err := scrypt.Key([]byte(passphrase), []byte("letterbox/settings"), 1<<15, 8, 1, 32)
	if err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	s := &Sealed{inner: inner}
	copy(s.key[:], derived)
	return s, nil
}

// Get returns the decrypted value for key
func (s *Sealed) Get(ctx context.Context, key string) (string, bool, error) {
	v, ok, err := s.inner.Get(ctx, key)
	if err != nil || !ok {
		return v, ok, err
	}
	if !strings.HasPrefix(v, sealedPrefix) {
		return v, true, nil
	}

	box, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(v, sealedPrefix))
	if err != nil || len(box) < 24 {
		return "", false, fmt.Errorf("%w: %s", ErrUnseal, key)
	}
	var nonce [24]byte
	copy(nonce[:], box[:24])
	plain, ok := secretbox.Open(nil, box[24:], &nonce, &s.key)
	if !ok {
		return "", false, fmt.Errorf("%w: %s", ErrUnseal, key)
	}
	return string(plain), true, nil
}

// Set encrypts value and stores it under key
func (s *Sealed) Set(ctx context.Context, key, value string) error {
	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}
	box := secretbox.Seal(nonce[:], []byte(value), &nonce, &s.key)
	return s.inner.Set(ctx, key, sealedPrefix+base64.StdEncoding.EncodeToString(box))
}

// Close closes the underlying store
func (s *Sealed) Close() error {
	return s.inner.Close()
}
