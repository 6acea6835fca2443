package bmail

import (
	"context"
	"time"
)

// PublicKeyRecord is a cached snapshot of a remote identity's published key.
// Advisory only: the remote side may have rotated since FetchedAt, in which
// case sealing to this key produces mail they cannot read. The engine
// tolerates that staleness; callers who need freshness use Refresh before a
// first send.
type PublicKeyRecord struct {
	Identity  Identity
	PublicKey string
	FetchedAt time.Time
}

// KeyDirectory maps an identity to its currently published public key.
//
// The single production implementation reads the key out of the identity's
// profile record. There is no verification that the key belongs to the claimed
// owner beyond trusting the profile host; that trust boundary is inherent to
// using the network as the key directory and is not papered over here.
type KeyDirectory interface {
	// Resolve returns the identity's public key, serving from cache when a
	// fresh enough entry exists. Returns ErrKeyNotFound when the profile
	// carries no key, or a *ResolutionError on transient fetch failure.
	Resolve(ctx context.Context, id Identity) (*PublicKeyRecord, error)

	// Refresh bypasses the cache and fetches the currently published key.
	Refresh(ctx context.Context, id Identity) (*PublicKeyRecord, error)
}
