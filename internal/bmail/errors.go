package bmail

import (
	"errors"
	"fmt"
)

// Sentinel errors for the conditions callers are expected to branch on.
// Everything else is wrapped context via fmt.Errorf("...: %w", err).
var (
	// ErrKeyUnavailable means the local key storage is unreadable or corrupt.
	// The engine cannot decrypt anything or prove authorship without it, so
	// this is fatal at startup rather than something to degrade around.
	ErrKeyUnavailable = errors.New("local key unavailable")

	// ErrKeyNotFound means a recipient has not published a public key.
	// A send to them is impossible until they do; never skipped silently.
	ErrKeyNotFound = errors.New("no public key published")

	// ErrDecryptFailed means a ciphertext could not be opened with the local
	// key. Benign for records observed on the shared stream that were never
	// addressed to us; suspicious when our identity is in the recipient list.
	ErrDecryptFailed = errors.New("decrypt failed")

	// ErrMalformedRecord means a repository record is missing required fields
	// or is not decodable. Affects that record only; batch loads continue.
	ErrMalformedRecord = errors.New("malformed message record")

	// ErrUnrelated means an observed interaction carries no conversation
	// marker. Expected for ordinary likes on the anchor post.
	ErrUnrelated = errors.New("interaction unrelated to any conversation")

	// ErrRecordNotFound means a repository holds no record at the requested
	// key. Expected for accounts that have never written one.
	ErrRecordNotFound = errors.New("record not found")
)

// ResolutionError wraps a transient failure while fetching a remote profile.
// Distinct from ErrKeyNotFound: the key may well exist, we just could not
// reach the profile host. Callers retry with their own backoff; the engine
// does not retry internally.
type ResolutionError struct {
	Identity Identity
	Err      error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolving key for %s: %v", e.Identity, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// SendError reports which recipient a failed send foundered on, so the caller
// can distinguish "bob has no key" from "network flake" from "our key is
// broken".
type SendError struct {
	Recipient Identity
	Err       error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("sending to %s: %v", e.Recipient, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }
