// Package keystore owns the local identity's age key pair. The private key
// lives in a single file under exclusive local ownership and is never sent
// anywhere; everything outside this package sees the public key string only,
// plus a borrow-style accessor the envelope uses to decrypt.
package keystore

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"filippo.io/age"

	"github.com/benwis/bmail/internal/bmail"
)

// FileStore persists an X25519 identity in a key file. When a passphrase is
// configured the file is encrypted at rest with age's scrypt recipient;
// otherwise it holds the identity string in plaintext with 0600 permissions.
type FileStore struct {
	path       string
	passphrase string

	// mu serializes Rotate against in-flight decrypts: WithIdentity holds
	// the read lock for the whole decrypt, so a rotate can never swap the
	// key out from under one.
	mu       sync.RWMutex
	identity *age.X25519Identity
}

var _ bmail.KeyStore = (*FileStore)(nil)

// NewFileStore creates a FileStore for the given key file path. An empty
// passphrase stores the key in plaintext.
func NewFileStore(path, passphrase string) *FileStore {
	return &FileStore{path: path, passphrase: passphrase}
}

// LoadOrCreate reads the saved identity, generating and persisting a new one
// on first run. Unreadable or corrupt key storage is fatal: the error wraps
// bmail.ErrKeyUnavailable and the engine must not start without a key.
func (s *FileStore) LoadOrCreate() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	switch {
	case os.IsNotExist(err) || (err == nil && len(bytes.TrimSpace(data)) == 0):
		identity, err := age.GenerateX25519Identity()
		if err != nil {
			return fmt.Errorf("%w: generating key pair: %v", bmail.ErrKeyUnavailable, err)
		}
		if err := s.write(identity); err != nil {
			return fmt.Errorf("%w: %v", bmail.ErrKeyUnavailable, err)
		}
		s.identity = identity
		return nil
	case err != nil:
		return fmt.Errorf("%w: reading key file: %v", bmail.ErrKeyUnavailable, err)
	}

	identity, err := s.parse(data)
	if err != nil {
		return fmt.Errorf("%w: %v", bmail.ErrKeyUnavailable, err)
	}
	s.identity = identity
	return nil
}

// PublicKey returns the current public key in age's textual recipient form.
func (s *FileStore) PublicKey() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity.Recipient().String()
}

// Rotate discards the current key pair and persists a fresh one. Anything
// sealed to the old key is unreadable from here on.
func (s *FileStore) Rotate() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return "", fmt.Errorf("generating key pair: %w", err)
	}
	if err := s.write(identity); err != nil {
		return "", err
	}
	s.identity = identity
	return identity.Recipient().String(), nil
}

// WithIdentity runs fn with the current private identity under the read lock.
// The identity must not escape fn.
func (s *FileStore) WithIdentity(fn func(age.Identity) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.identity == nil {
		return bmail.ErrKeyUnavailable
	}
	return fn(s.identity)
}

func (s *FileStore) write(identity *age.X25519Identity) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("creating key directory: %w", err)
	}

	f, err := os.OpenFile(s.path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("creating key file: %w", err)
	}
	defer f.Close()

	if s.passphrase == "" {
		if _, err := io.WriteString(f, identity.String()+"\n"); err != nil {
			return fmt.Errorf("writing key file: %w", err)
		}
		return nil
	}

	recipient, err := age.NewScryptRecipient(s.passphrase)
	if err != nil {
		return fmt.Errorf("creating scrypt recipient: %w", err)
	}
	w, err := age.Encrypt(f, recipient)
	if err != nil {
		return fmt.Errorf("creating encrypted writer: %w", err)
	}
	if _, err := io.WriteString(w, identity.String()+"\n"); err != nil {
		return fmt.Errorf("writing encrypted key: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalizing encrypted key: %w", err)
	}
	return nil
}

func (s *FileStore) parse(data []byte) (*age.X25519Identity, error) {
	if s.passphrase != "" {
		scrypt, err := age.NewScryptIdentity(s.passphrase)
		if err != nil {
			return nil, fmt.Errorf("creating scrypt identity: %w", err)
		}
		r, err := age.Decrypt(bytes.NewReader(data), scrypt)
		if err != nil {
			return nil, fmt.Errorf("decrypting key file: %w", err)
		}
		data, err = io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("reading decrypted key: %w", err)
		}
	}

	identity, err := age.ParseX25519Identity(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("parsing key file: %w", err)
	}
	return identity, nil
}
