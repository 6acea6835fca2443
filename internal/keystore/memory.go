package keystore

import (
	"fmt"
	"sync"

	"filippo.io/age"

	"github.com/benwis/bmail/internal/bmail"
)

// MemoryStore holds an identity in memory only. Used in tests and anywhere a
// throwaway key is acceptable.
type MemoryStore struct {
	mu       sync.RWMutex
	identity *age.X25519Identity
}

var _ bmail.KeyStore = (*MemoryStore)(nil)

// NewMemoryStore creates a MemoryStore with a freshly generated identity.
func NewMemoryStore() (*MemoryStore, error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("generating key pair: %w", err)
	}
	return &MemoryStore{identity: identity}, nil
}

// NewMemoryStoreFromIdentity wraps an existing identity.
func NewMemoryStoreFromIdentity(identity *age.X25519Identity) *MemoryStore {
	return &MemoryStore{identity: identity}
}

func (s *MemoryStore) PublicKey() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity.Recipient().String()
}

func (s *MemoryStore) Rotate() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return "", fmt.Errorf("generating key pair: %w", err)
	}
	s.identity = identity
	return identity.Recipient().String(), nil
}

// WithIdentity runs fn with the private identity under the read lock.
func (s *MemoryStore) WithIdentity(fn func(age.Identity) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(s.identity)
}
