// Package envelope implements bmail.Envelope on filippo.io/age. The crypto
// format is treated as a black box: one seal produces one ciphertext every
// listed recipient can open, and nobody else.
package envelope

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"filippo.io/age"

	"github.com/benwis/bmail/internal/bmail"
)

// KeyAccess is the slice of the keystore the envelope needs: a way to run a
// decrypt against the current private identity without ever holding it.
type KeyAccess interface {
	WithIdentity(fn func(age.Identity) error) error
}

// AgeEnvelope seals and opens age envelopes using the local keystore.
type AgeEnvelope struct {
	keys KeyAccess
}

var _ bmail.Envelope = (*AgeEnvelope)(nil)

// NewAgeEnvelope creates an AgeEnvelope backed by the given keystore.
func NewAgeEnvelope(keys KeyAccess) *AgeEnvelope {
	return &AgeEnvelope{keys: keys}
}

// Seal encrypts plaintext once for the full recipient set. Encrypting
// per-recipient would mint N divergent ciphertexts for one logical message,
// so the whole set goes into a single envelope.
func (e *AgeEnvelope) Seal(plaintext []byte, recipientKeys []string) ([]byte, error) {
	if len(recipientKeys) == 0 {
		return nil, fmt.Errorf("empty recipient key set")
	}

	recipients := make([]age.Recipient, 0, len(recipientKeys))
	for _, key := range recipientKeys {
		r, err := age.ParseX25519Recipient(key)
		if err != nil {
			return nil, fmt.Errorf("parsing recipient key %q: %w", key, err)
		}
		recipients = append(recipients, r)
	}

	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, recipients...)
	if err != nil {
		return nil, fmt.Errorf("creating envelope: %w", err)
	}
	if _, err := w.Write(plaintext); err != nil {
		return nil, fmt.Errorf("sealing envelope: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finalizing envelope: %w", err)
	}
	return buf.Bytes(), nil
}

// Open decrypts a ciphertext with the local private key. The key stays inside
// the keystore's lock for the whole operation, so a concurrent rotate waits
// rather than tearing the decrypt. Any failure to open maps to
// bmail.ErrDecryptFailed; on a shared firehose most ciphertexts are simply
// not ours.
func (e *AgeEnvelope) Open(ciphertext []byte) ([]byte, error) {
	var plaintext []byte
	err := e.keys.WithIdentity(func(identity age.Identity) error {
		r, err := age.Decrypt(bytes.NewReader(ciphertext), identity)
		if err != nil {
			var noMatch *age.NoIdentityMatchError
			if errors.As(err, &noMatch) {
				return fmt.Errorf("%w: not sealed to this key", bmail.ErrDecryptFailed)
			}
			return fmt.Errorf("%w: %v", bmail.ErrDecryptFailed, err)
		}
		plaintext, err = io.ReadAll(r)
		if err != nil {
			return fmt.Errorf("%w: %v", bmail.ErrDecryptFailed, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return plaintext, nil
}
