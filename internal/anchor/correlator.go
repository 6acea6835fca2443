// Package anchor implements unread signaling over the network's own
// interaction records. Each identity keeps one well-known, timeline-hidden
// post (the anchor); a sender marks a conversation active by liking the
// recipient's anchor with the conversation key attached. The whole scheme is
// advisory; message delivery and reconstruction never depend on it.
package anchor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/benwis/bmail/internal/bmail"
)

// AnchorRKey is the fixed record key of the anchor post, the same for every
// identity, so anyone can address anyone else's anchor without a lookup.
const AnchorRKey = "bmail-anchor"

type anchorPost struct {
	Type      string    `json:"$type"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
	BmailID   string    `json:"bmailAnchorId"`
	// Hidden from timelines by the self-label convention.
	Labels []string `json:"labels,omitempty"`
}

type likeRecord struct {
	Type      string      `json:"$type"`
	Subject   likeSubject `json:"subject"`
	CreatedAt time.Time   `json:"createdAt"`

	// ConversationKey is the bmail extension: its presence marks this like
	// as a conversation signal rather than an ordinary like.
	ConversationKey string `json:"bmailConversationKey,omitempty"`
}

type likeSubject struct {
	URI string `json:"uri"`
	CID string `json:"cid,omitempty"`
}

// anchorURI returns the repository URI of an identity's anchor post.
func anchorURI(did string) string {
	return fmt.Sprintf("at://%s/%s/%s", did, bmail.PostCollection, AnchorRKey)
}

// Correlator creates the local anchor and maps observed likes back to
// conversation keys.
type Correlator struct {
	repo   bmail.RepoClient
	local  bmail.Identity
	clock  bmail.Clock
	ids    bmail.IDGenerator
	logger bmail.Logger

	once sync.Once
}

// NewCorrelator creates a Correlator for the local identity.
func NewCorrelator(repo bmail.RepoClient, local bmail.Identity, clock bmail.Clock, ids bmail.IDGenerator, logger bmail.Logger) *Correlator {
	return &Correlator{repo: repo, local: local, clock: clock, ids: ids, logger: logger}
}

// EnsureAnchor writes the local anchor post at its well-known key. Writing is
// idempotent: the fixed rkey means re-running init just refreshes the post.
func (c *Correlator) EnsureAnchor(ctx context.Context) (string, error) {
	post := anchorPost{
		Type:      bmail.PostCollection,
		Text:      "bmail notification anchor",
		CreatedAt: c.clock.Now().UTC(),
		BmailID:   c.ids.New(),
		Labels:    []string{"!no-unauthenticated"},
	}
	uri, err := c.repo.PutRecord(ctx, bmail.PostCollection, AnchorRKey, post)
	if err != nil {
		return "", fmt.Errorf("writing anchor post: %w", err)
	}
	c.once.Do(func() {
		c.logger.Info("anchor post ready", "uri", uri)
	})
	return uri, nil
}

// MarkConversationActive likes the counterpart's anchor post with the
// conversation key attached, signaling unread activity in that thread.
func (c *Correlator) MarkConversationActive(ctx context.Context, counterpart bmail.Identity, conversationKey string) error {
	like := likeRecord{
		Type:            bmail.LikeCollection,
		Subject:         likeSubject{URI: anchorURI(counterpart.DID)},
		CreatedAt:       c.clock.Now().UTC(),
		ConversationKey: conversationKey,
	}
	if _, err := c.repo.CreateRecord(ctx, bmail.LikeCollection, like); err != nil {
		return fmt.Errorf("liking anchor for %s: %w", counterpart, err)
	}
	return nil
}

// Correlate inspects an observed like record and extracts the conversation
// key it carries. Likes on anything but the local anchor, and likes without
// the bmail field, are ErrUnrelated: ordinary social traffic, not a signal.
func (c *Correlator) Correlate(record json.RawMessage) (string, error) {
	var like likeRecord
	if err := json.Unmarshal(record, &like); err != nil {
		return "", fmt.Errorf("%w: %v", bmail.ErrUnrelated, err)
	}
	if like.Subject.URI != anchorURI(c.local.DID) {
		return "", bmail.ErrUnrelated
	}
	if like.ConversationKey == "" {
		return "", bmail.ErrUnrelated
	}
	return like.ConversationKey, nil
}
