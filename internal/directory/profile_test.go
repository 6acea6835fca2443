package directory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benwis/bmail/internal/bmail"
	"github.com/benwis/bmail/internal/cache"
	"github.com/benwis/bmail/internal/testutil"
)

var bob = bmail.Identity{Handle: "bob.test", DID: "did:plc:bob"}

func newDirectory(t *testing.T, ttl time.Duration) (*ProfileDirectory, *testutil.StubProfileFetcher, *testutil.StubClock) {
	t.Helper()
	profiles := testutil.NewStubProfileFetcher()
	clock := testutil.FixedClock()
	d := NewProfileDirectory(profiles, cache.NewMemoryCache(), clock, bmail.NopLogger{}, ttl)
	return d, profiles, clock
}

func TestProfileDirectory_Resolve(t *testing.T) {
	t.Parallel()

	d, profiles, _ := newDirectory(t, time.Hour)
	profiles.SetProfile(bmail.Profile{DID: bob.DID, Handle: bob.Handle, BmailPubKey: "age1bobkey"})

	rec, err := d.Resolve(context.Background(), bob)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if rec.PublicKey != "age1bobkey" {
		t.Errorf("PublicKey = %q, want age1bobkey", rec.PublicKey)
	}
	if rec.Identity.DID != bob.DID {
		t.Errorf("DID = %q, want %q", rec.Identity.DID, bob.DID)
	}
}

func TestProfileDirectory_Resolve_ServesFromCache(t *testing.T) {
	t.Parallel()

	d, profiles, _ := newDirectory(t, time.Hour)
	profiles.SetProfile(bmail.Profile{DID: bob.DID, Handle: bob.Handle, BmailPubKey: "age1bobkey"})

	for i := 0; i < 3; i++ {
		if _, err := d.Resolve(context.Background(), bob); err != nil {
			t.Fatalf("Resolve() #%d error = %v", i, err)
		}
	}
	if got := profiles.Fetches(); got != 1 {
		t.Errorf("profile fetches = %d, want 1 (rest from cache)", got)
	}
}

func TestProfileDirectory_Resolve_TTLExpiry(t *testing.T) {
	t.Parallel()

	d, profiles, clock := newDirectory(t, time.Hour)
	profiles.SetProfile(bmail.Profile{DID: bob.DID, Handle: bob.Handle, BmailPubKey: "age1bobkey"})

	if _, err := d.Resolve(context.Background(), bob); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	clock.Advance(2 * time.Hour)
	if _, err := d.Resolve(context.Background(), bob); err != nil {
		t.Fatalf("Resolve() after expiry error = %v", err)
	}
	if got := profiles.Fetches(); got != 2 {
		t.Errorf("profile fetches = %d, want 2 (stale entry refetched)", got)
	}
}

func TestProfileDirectory_Refresh_BypassesCache(t *testing.T) {
	t.Parallel()

	d, profiles, _ := newDirectory(t, time.Hour)
	profiles.SetProfile(bmail.Profile{DID: bob.DID, Handle: bob.Handle, BmailPubKey: "age1old"})

	if _, err := d.Resolve(context.Background(), bob); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	// Bob rotates; Resolve still serves the cached key, Refresh sees the new
	// one and updates the cache.
	profiles.SetProfile(bmail.Profile{DID: bob.DID, Handle: bob.Handle, BmailPubKey: "age1new"})

	cached, err := d.Resolve(context.Background(), bob)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if cached.PublicKey != "age1old" {
		t.Errorf("Resolve() = %q, want cached age1old", cached.PublicKey)
	}

	fresh, err := d.Refresh(context.Background(), bob)
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if fresh.PublicKey != "age1new" {
		t.Errorf("Refresh() = %q, want age1new", fresh.PublicKey)
	}

	after, err := d.Resolve(context.Background(), bob)
	if err != nil {
		t.Fatalf("Resolve() after refresh error = %v", err)
	}
	if after.PublicKey != "age1new" {
		t.Errorf("Resolve() after refresh = %q, want age1new", after.PublicKey)
	}
}

func TestProfileDirectory_Resolve_NoKeyPublished(t *testing.T) {
	t.Parallel()

	d, profiles, _ := newDirectory(t, time.Hour)
	profiles.SetProfile(bmail.Profile{DID: bob.DID, Handle: bob.Handle})

	if _, err := d.Resolve(context.Background(), bob); !errors.Is(err, bmail.ErrKeyNotFound) {
		t.Errorf("Resolve() error = %v, want ErrKeyNotFound", err)
	}
}

func TestProfileDirectory_Resolve_TransientFailure(t *testing.T) {
	t.Parallel()

	d, profiles, _ := newDirectory(t, time.Hour)
	profiles.Err = errors.New("connection reset")

	_, err := d.Resolve(context.Background(), bob)
	var resErr *bmail.ResolutionError
	if !errors.As(err, &resErr) {
		t.Fatalf("Resolve() error = %v, want *ResolutionError", err)
	}
	if !resErr.Identity.Equal(bob) {
		t.Errorf("ResolutionError.Identity = %v, want %v", resErr.Identity, bob)
	}
}

func TestProfileDirectory_Resolve_Cancelled(t *testing.T) {
	t.Parallel()

	d, profiles, _ := newDirectory(t, time.Hour)
	profiles.SetProfile(bmail.Profile{DID: bob.DID, Handle: bob.Handle, BmailPubKey: "age1bobkey"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := d.Resolve(ctx, bob); err == nil {
		t.Error("Resolve() with cancelled context should fail")
	}
	// A cancelled resolution must not leave a partial cache entry behind.
	if got := profiles.Fetches(); got != 0 {
		t.Errorf("fetches = %d, want 0", got)
	}
}
