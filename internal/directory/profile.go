// Package directory resolves a remote identity's published public key from
// its profile record. The profile host is trusted to serve honest data; there
// is no out-of-band verification that a key belongs to the claimed owner.
// That is the network's trust model, stated rather than hidden.
package directory

import (
	"context"
	"fmt"
	"time"

	"github.com/benwis/bmail/internal/bmail"
)

// ProfileDirectory implements bmail.KeyDirectory over a ProfileFetcher with a
// KeyCache in front. Cache entries are advisory: within the TTL they are
// served as-is, which means a counterpart who rotated recently may briefly
// get mail they cannot read. Callers who care (first message to someone)
// use Refresh.
type ProfileDirectory struct {
	profiles bmail.ProfileFetcher
	cache    bmail.KeyCache
	clock    bmail.Clock
	logger   bmail.Logger
	ttl      time.Duration
}

var _ bmail.KeyDirectory = (*ProfileDirectory)(nil)

// NewProfileDirectory creates a ProfileDirectory. A ttl of zero means cached
// entries never expire on their own.
func NewProfileDirectory(profiles bmail.ProfileFetcher, cache bmail.KeyCache, clock bmail.Clock, logger bmail.Logger, ttl time.Duration) *ProfileDirectory {
	return &ProfileDirectory{
		profiles: profiles,
		cache:    cache,
		clock:    clock,
		logger:   logger,
		ttl:      ttl,
	}
}

// Resolve returns the identity's public key, serving from cache when the
// entry is within the TTL. Cache failures degrade to a fetch, never to a
// resolution failure.
func (d *ProfileDirectory) Resolve(ctx context.Context, id bmail.Identity) (*bmail.PublicKeyRecord, error) {
	if id.DID != "" {
		cached, ok, err := d.cache.Get(id.DID)
		if err != nil {
			d.logger.Warn("key cache read failed", "did", id.DID, "error", err)
		} else if ok && (d.ttl == 0 || d.clock.Now().Sub(cached.FetchedAt) < d.ttl) {
			return cached, nil
		}
	}
	return d.fetch(ctx, id)
}

// Refresh bypasses the cache and fetches the currently published key.
func (d *ProfileDirectory) Refresh(ctx context.Context, id bmail.Identity) (*bmail.PublicKeyRecord, error) {
	return d.fetch(ctx, id)
}

func (d *ProfileDirectory) fetch(ctx context.Context, id bmail.Identity) (*bmail.PublicKeyRecord, error) {
	actor := id.DID
	if actor == "" {
		actor = id.Handle
	}
	if actor == "" {
		return nil, fmt.Errorf("identity has neither DID nor handle")
	}

	profile, err := d.profiles.GetProfile(ctx, actor)
	if err != nil {
		return nil, &bmail.ResolutionError{Identity: id, Err: err}
	}
	if profile.BmailPubKey == "" {
		return nil, fmt.Errorf("%s: %w", id, bmail.ErrKeyNotFound)
	}

	record := &bmail.PublicKeyRecord{
		Identity:  bmail.Identity{Handle: profile.Handle, DID: profile.DID},
		PublicKey: profile.BmailPubKey,
		FetchedAt: d.clock.Now().UTC(),
	}
	if err := d.cache.Put(record); err != nil {
		// The caller still gets the key; only persistence suffered.
		d.logger.Warn("key cache write failed", "did", record.Identity.DID, "error", err)
	}
	return record, nil
}
