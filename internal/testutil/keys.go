package testutil

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/benwis/bmail/internal/bmail"
	"github.com/benwis/bmail/internal/envelope"
	"github.com/benwis/bmail/internal/keystore"
)

// NewMemoryKeys returns a fresh in-memory keystore and an envelope over it.
func NewMemoryKeys(t *testing.T) (*keystore.MemoryStore, *envelope.AgeEnvelope) {
	t.Helper()
	store, err := keystore.NewMemoryStore()
	if err != nil {
		t.Fatalf("generating test key pair: %v", err)
	}
	return store, envelope.NewAgeEnvelope(store)
}

// StubKeyDirectory returns fixed public keys by DID, with no fetching or
// caching. Identities without a registered key resolve to ErrKeyNotFound.
type StubKeyDirectory struct {
	mu   sync.Mutex
	keys map[string]string

	// Err, when set, is returned by every resolution as a transient failure.
	Err error
}

var _ bmail.KeyDirectory = (*StubKeyDirectory)(nil)

func NewStubKeyDirectory() *StubKeyDirectory {
	return &StubKeyDirectory{keys: make(map[string]string)}
}

// SetKey registers (or replaces) the public key for a DID.
func (d *StubKeyDirectory) SetKey(did, publicKey string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.keys[did] = publicKey
}

// RemoveKey unregisters a DID's key.
func (d *StubKeyDirectory) RemoveKey(did string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.keys, did)
}

func (d *StubKeyDirectory) Resolve(ctx context.Context, id bmail.Identity) (*bmail.PublicKeyRecord, error) {
	return d.lookup(id)
}

func (d *StubKeyDirectory) Refresh(ctx context.Context, id bmail.Identity) (*bmail.PublicKeyRecord, error) {
	return d.lookup(id)
}

func (d *StubKeyDirectory) lookup(id bmail.Identity) (*bmail.PublicKeyRecord, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Err != nil {
		return nil, &bmail.ResolutionError{Identity: id, Err: d.Err}
	}
	key, ok := d.keys[id.DID]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, bmail.ErrKeyNotFound)
	}
	return &bmail.PublicKeyRecord{
		Identity:  id,
		PublicKey: key,
		FetchedAt: time.Now().UTC(),
	}, nil
}
