package bmail

import (
	"context"
	"encoding/json"
)

// Record collections (lexicon NSIDs) bmail reads and writes.
const (
	// MessageCollection holds encrypted message records, one per sent
	// message, in the author's own repository.
	MessageCollection = "app.bmail.message"

	// ProfileCollection is the network's profile record; bmail adds the
	// bmailPubKey field to it.
	ProfileCollection = "app.bsky.actor.profile"

	// PostCollection and LikeCollection are used by the notification
	// correlator's anchor scheme.
	PostCollection = "app.bsky.feed.post"
	LikeCollection = "app.bsky.feed.like"
)

// RepoRecord is one typed record read back from a repository.
type RepoRecord struct {
	URI   string
	CID   string
	Value json.RawMessage
}

// RepoClient is the boundary to the network's repository API. Implementations
// talk HTTP to the identity's host; tests substitute an in-memory double. All
// calls are network-bound, so cancellation comes from the caller's context;
// the engine imposes no timeouts of its own.
type RepoClient interface {
	// CreateRecord publishes a new record into the local identity's
	// repository under the given collection and returns its URI.
	CreateRecord(ctx context.Context, collection string, record any) (string, error)

	// PutRecord writes a record at a fixed key, overwriting any previous
	// value. Used for the profile record and the anchor post.
	PutRecord(ctx context.Context, collection, rkey string, record any) (string, error)

	// ListRecords returns every record in the given repository's collection.
	// Any identity's repository is publicly listable; reconstruction reads
	// each participant's.
	ListRecords(ctx context.Context, repoDID, collection string) ([]RepoRecord, error)

	// GetRecord reads one record at a fixed key from any repository, or
	// ErrRecordNotFound when the repository holds none.
	GetRecord(ctx context.Context, repoDID, collection, rkey string) (json.RawMessage, error)
}

// Profile is the slice of a profile record the engine cares about.
type Profile struct {
	DID         string
	Handle      string
	DisplayName string
	BmailPubKey string
}

// ProfileFetcher reads remote profile data; the key directory is built on it.
type ProfileFetcher interface {
	// GetProfile fetches the profile for a handle or DID.
	GetProfile(ctx context.Context, actor string) (*Profile, error)

	// ResolveHandle maps a handle to its DID.
	ResolveHandle(ctx context.Context, handle string) (string, error)
}
