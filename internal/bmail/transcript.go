package bmail

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"sync"
	"time"
)

// Entry is one decrypted message in a transcript.
type Entry struct {
	Author    Identity
	CreatedAt time.Time
	Plaintext string
}

// contentHash is the tie-break and dedupe component derived from the message
// body. Two records from the same author at the same instant with the same
// body are one message, however many times the stream redelivers them.
func (e Entry) contentHash() string {
	sum := sha256.Sum256([]byte(e.Plaintext))
	return hex.EncodeToString(sum[:])
}

// sortKey produces the total order over entries: createdAt first, then author
// DID, then content hash. The trailing components only matter for timestamp
// collisions, where they guarantee every participant merges the same records
// into the same order.
func (e Entry) sortKey() entryKey {
	return entryKey{
		createdAt: e.CreatedAt.UTC(),
		author:    e.Author.DID,
		hash:      e.contentHash(),
	}
}

type entryKey struct {
	createdAt time.Time
	author    string
	hash      string
}

func (k entryKey) less(other entryKey) bool {
	if !k.createdAt.Equal(other.createdAt) {
		return k.createdAt.Before(other.createdAt)
	}
	if k.author != other.author {
		return k.author < other.author
	}
	return k.hash < other.hash
}

// Transcript is the ordered, deduplicated view of one conversation. It is
// derived state: the union of the participants' repositories is always the
// source of truth, and a transcript can be rebuilt from it at any time.
//
// A transcript stays live after OpenConversation returns it: the engine keeps
// merging firehose arrivals into the same object. Reads and writes share the
// transcript's own lock, so a caller iterating Entries() while a live record
// lands is safe.
type Transcript struct {
	ConversationKey string

	mu      sync.RWMutex
	entries []Entry
	skipped int
	index   map[entryKey]bool
}

// NewTranscript returns an empty transcript for the given conversation key.
func NewTranscript(conversationKey string) *Transcript {
	return &Transcript{
		ConversationKey: conversationKey,
		index:           make(map[entryKey]bool),
	}
}

// Apply inserts one entry at its sorted position, deduplicating against
// entries already present. Idempotent under redelivery: applying the same
// entry twice leaves the transcript unchanged. Returns true if the entry was
// new.
func (t *Transcript) Apply(e Entry) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.index == nil {
		t.index = make(map[entryKey]bool, len(t.entries))
		for _, existing := range t.entries {
			t.index[existing.sortKey()] = true
		}
	}

	key := e.sortKey()
	if t.index[key] {
		return false
	}
	t.index[key] = true

	pos := sort.Search(len(t.entries), func(i int) bool {
		return key.less(t.entries[i].sortKey())
	})
	t.entries = append(t.entries, Entry{})
	copy(t.entries[pos+1:], t.entries[pos:])
	t.entries[pos] = e
	return true
}

// Entries returns a snapshot of the entries in order. The copy is the
// caller's own; later live merges never shift it underfoot.
func (t *Transcript) Entries() []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Len returns the number of entries.
func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Skipped returns how many records were present but unreadable: malformed,
// or addressed to us yet undecryptable.
func (t *Transcript) Skipped() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.skipped
}

// recordSkipped counts one unreadable record.
func (t *Transcript) recordSkipped() {
	t.mu.Lock()
	t.skipped++
	t.mu.Unlock()
}
