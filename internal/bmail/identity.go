package bmail

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// Identity names one account on the network: a human-readable handle and the
// stable decentralized identifier behind it. The DID is authoritative; handles
// can be reassigned, so all equality and conversation-key computations use the
// DID.
type Identity struct {
	Handle string `json:"handle,omitempty"`
	DID    string `json:"did"`
}

// Equal reports whether two identities refer to the same account.
func (id Identity) Equal(other Identity) bool {
	return id.DID == other.DID
}

// String returns the handle when known, otherwise the DID.
func (id Identity) String() string {
	if id.Handle != "" {
		return id.Handle
	}
	return id.DID
}

// Participants is the full set of identities in a conversation, author
// included.
type Participants []Identity

// Contains reports whether the set includes the given identity.
func (p Participants) Contains(id Identity) bool {
	for _, member := range p {
		if member.Equal(id) {
			return true
		}
	}
	return false
}

// ConversationKey derives the canonical identifier for a conversation from its
// participant set. The key is order-independent and computable without any key
// material: duplicate DIDs collapse, the rest are sorted and hashed. Every
// participant derives the same key for the same set, which is what lets a
// thread be reassembled from independent per-author repositories with no
// shared sequence authority.
func ConversationKey(participants Participants) string {
	seen := make(map[string]bool, len(participants))
	dids := make([]string, 0, len(participants))
	for _, p := range participants {
		if p.DID == "" || seen[p.DID] {
			continue
		}
		seen[p.DID] = true
		dids = append(dids, p.DID)
	}
	sort.Strings(dids)

	sum := sha256.Sum256([]byte(strings.Join(dids, "\n")))
	return hex.EncodeToString(sum[:])
}
