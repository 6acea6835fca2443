package bmail

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageRecord is one encrypted message as stored in its author's
// repository. Records are immutable once published. The author is not part of
// the serialized form (repository ownership implies it), so decoding always
// takes the owning identity alongside the raw bytes.
//
// Note that a record "deleted" from a repository may live on in caches and
// backups elsewhere on the network; absence after delete is never treated as
// confidentiality.
type MessageRecord struct {
	Author          Identity
	Recipients      []Identity
	ConversationKey string
	CreatedAt       time.Time
	Ciphertext      []byte
}

// Participants returns the full participant set: author plus recipients.
func (r *MessageRecord) Participants() Participants {
	return append(Participants{r.Author}, r.Recipients...)
}

// AddressedTo reports whether the record names id as author or recipient.
func (r *MessageRecord) AddressedTo(id Identity) bool {
	if r.Author.Equal(id) {
		return true
	}
	return Participants(r.Recipients).Contains(id)
}

// wireMessage is the repository record form of a MessageRecord.
type wireMessage struct {
	Type            string     `json:"$type"`
	Recipients      []Identity `json:"recipients"`
	ConversationKey string     `json:"conversationKey"`
	CreatedAt       time.Time  `json:"createdAt"`
	Ciphertext      []byte     `json:"ciphertext"`
}

// EncodeMessage serializes a MessageRecord to repository record bytes.
// The conversation key is always recomputed from the participant set, never
// taken on faith from the struct.
func EncodeMessage(r *MessageRecord) ([]byte, error) {
	if err := validateMessage(r); err != nil {
		return nil, err
	}
	w := wireMessage{
		Type:            MessageCollection,
		Recipients:      r.Recipients,
		ConversationKey: ConversationKey(r.Participants()),
		CreatedAt:       r.CreatedAt.UTC(),
		Ciphertext:      r.Ciphertext,
	}
	data, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("encoding message record: %w", err)
	}
	return data, nil
}

// DecodeMessage parses repository record bytes owned by the given identity.
// Records missing recipients, payload, or timestamp are rejected with
// ErrMalformedRecord; an empty recipient list is not a broadcast. A stored
// conversation key that disagrees with the one recomputed from the
// participant set is also rejected; a sender cannot claim one thread while
// addressing another.
func DecodeMessage(owner Identity, data []byte) (*MessageRecord, error) {
	if owner.DID == "" {
		return nil, fmt.Errorf("%w: no repository owner", ErrMalformedRecord)
	}

	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	if w.Type != MessageCollection {
		return nil, fmt.Errorf("%w: unexpected $type %q", ErrMalformedRecord, w.Type)
	}

	r := &MessageRecord{
		Author:          owner,
		Recipients:      w.Recipients,
		ConversationKey: w.ConversationKey,
		CreatedAt:       w.CreatedAt,
		Ciphertext:      w.Ciphertext,
	}
	if err := validateMessage(r); err != nil {
		return nil, err
	}

	want := ConversationKey(r.Participants())
	if w.ConversationKey == "" {
		return nil, fmt.Errorf("%w: missing conversation key", ErrMalformedRecord)
	}
	if w.ConversationKey != want {
		return nil, fmt.Errorf("%w: conversation key does not match participants", ErrMalformedRecord)
	}
	return r, nil
}

func validateMessage(r *MessageRecord) error {
	if r.Author.DID == "" {
		return fmt.Errorf("%w: missing author", ErrMalformedRecord)
	}
	if len(r.Recipients) == 0 {
		return fmt.Errorf("%w: empty recipient list", ErrMalformedRecord)
	}
	for _, rcpt := range r.Recipients {
		if rcpt.DID == "" {
			return fmt.Errorf("%w: recipient without DID", ErrMalformedRecord)
		}
	}
	if len(r.Ciphertext) == 0 {
		return fmt.Errorf("%w: missing ciphertext", ErrMalformedRecord)
	}
	if r.CreatedAt.IsZero() {
		return fmt.Errorf("%w: missing createdAt", ErrMalformedRecord)
	}
	return nil
}
