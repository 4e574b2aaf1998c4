// Package secrets implements the SecretStore collaborator (§6):
// getKey(userId, provider) -> plaintext, backed by an AES-256-GCM
// wrapped-at-rest key/value map.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
)

// ErrNotFound is returned when no key is stored for a user/provider pair.
var ErrNotFound = errors.New("secrets: key not found")

// Store is an AEAD-wrapped in-memory SecretStore keyed by (userId, provider).
// Values are encrypted with AES-256-GCM under a single master key before
// being held in memory, so a process memory dump never exposes plaintext.
type Store struct {
	mu      sync.RWMutex
	aead    cipher.AEAD
	entries map[string][]byte // "userID\x00provider" -> nonce||ciphertext
}

// New builds a Store. masterKey must be exactly 32 bytes (AES-256).
func New(masterKey []byte) (*Store, error) {
	if len(masterKey) != 32 {
		return nil, fmt.Errorf("secrets: master key must be 32 bytes, got %d", len(masterKey))
	}
	block, err := aes.NewCipher(masterKey)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Store{aead: aead, entries: make(map[string][]byte)}, nil
}

func entryKey(userID, provider string) string {
	return userID + "\x00" + provider
}

// SetKey stores plaintext under (userID, provider), encrypting it at rest.
func (s *Store) SetKey(userID, provider, plaintext string) error {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return err
	}
	sealed := s.aead.Seal(nonce, nonce, []byte(plaintext), nil)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entryKey(userID, provider)] = sealed
	return nil
}

// GetKey returns the plaintext stored for (userID, provider).
func (s *Store) GetKey(userID, provider string) (string, error) {
	s.mu.RLock()
	sealed, ok := s.entries[entryKey(userID, provider)]
	s.mu.RUnlock()
	if !ok {
		return "", ErrNotFound
	}

	nonceSize := s.aead.NonceSize()
	if len(sealed) < nonceSize {
		return "", errors.New("secrets: stored entry too short")
	}
	nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]
	plaintext, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("secrets: decrypt failed: %w", err)
	}
	return string(plaintext), nil
}

// DeleteKey removes any stored key for (userID, provider). A no-op if absent.
func (s *Store) DeleteKey(userID, provider string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, entryKey(userID, provider))
}
