package bmail

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// LiveCallback receives entries as they arrive on the firehose. Callbacks run
// outside the engine's locks and must not block for long.
type LiveCallback func(conversationKey string, entry Entry)

// Engine coordinates the key store, envelope, key directory, and repository
// client into the operations the UI layer consumes: send a message, open a
// conversation cold, follow it live, rotate the local key.
//
// All dependencies are injected; there is no process-wide key pair or client.
type Engine struct {
	local     Identity
	keys      KeyStore
	envelope  Envelope
	directory KeyDirectory
	repo      RepoClient
	logger    Logger
	clock     Clock

	// mu guards the conversation map and callback list only. Each open
	// transcript carries its own lock, so a cold load of one thread never
	// contends with a live insert into another.
	mu            sync.Mutex
	conversations map[string]*Transcript
	callbacks     []LiveCallback
}

// NewEngine creates an Engine for the given local identity.
func NewEngine(local Identity, keys KeyStore, envelope Envelope, directory KeyDirectory, repo RepoClient, logger Logger, clock Clock) *Engine {
	return &Engine{
		local:         local,
		keys:          keys,
		envelope:      envelope,
		directory:     directory,
		repo:          repo,
		logger:        logger,
		clock:         clock,
		conversations: make(map[string]*Transcript),
	}
}

// Local returns the engine's own identity.
func (e *Engine) Local() Identity { return e.local }

// Send encrypts plaintext for the given recipients and publishes the message
// record to the local repository. The envelope is sealed once for the whole
// recipient set plus the local key, so the author can read their own thread
// back. A recipient with no published key fails the send with a *SendError
// wrapping ErrKeyNotFound; nothing is published in that case.
func (e *Engine) Send(ctx context.Context, plaintext string, recipients []Identity) error {
	if len(recipients) == 0 {
		return fmt.Errorf("no recipients")
	}

	recipientKeys := make([]string, 0, len(recipients)+1)
	for _, rcpt := range recipients {
		rec, err := e.directory.Resolve(ctx, rcpt)
		if err != nil {
			return &SendError{Recipient: rcpt, Err: err}
		}
		recipientKeys = append(recipientKeys, rec.PublicKey)
	}
	recipientKeys = append(recipientKeys, e.keys.PublicKey())

	ciphertext, err := e.envelope.Seal([]byte(plaintext), recipientKeys)
	if err != nil {
		return fmt.Errorf("sealing message: %w", err)
	}

	record := &MessageRecord{
		Author:     e.local,
		Recipients: recipients,
		CreatedAt:  e.clock.Now().UTC(),
		Ciphertext: ciphertext,
	}
	record.ConversationKey = ConversationKey(record.Participants())

	data, err := EncodeMessage(record)
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}
	uri, err := e.repo.CreateRecord(ctx, MessageCollection, json.RawMessage(data))
	if err != nil {
		return fmt.Errorf("publishing message: %w", err)
	}

	e.logger.Info("message sent", "uri", uri, "conversation", record.ConversationKey)

	// Echo into the open transcript immediately; the firehose will redeliver
	// this record and Apply dedupes it.
	e.applyEntry(record.ConversationKey, Entry{
		Author:    e.local,
		CreatedAt: record.CreatedAt,
		Plaintext: plaintext,
	})
	return nil
}

// OpenConversation rebuilds the transcript for a participant set from
// scratch. Each participant's repository holds only the messages that
// participant sent, so all of them are fetched, decoded, decrypted, merged,
// deduplicated, and ordered. The local identity is always part of the set.
//
// Per-record failures never abort the load: malformed records and records we
// cannot read are counted in the transcript's Skipped field and the rest of
// the conversation comes through.
func (e *Engine) OpenConversation(ctx context.Context, participants Participants) (*Transcript, error) {
	if !participants.Contains(e.local) {
		participants = append(Participants{e.local}, participants...)
	}
	key := ConversationKey(participants)
	transcript := NewTranscript(key)

	for _, participant := range participants {
		records, err := e.repo.ListRecords(ctx, participant.DID, MessageCollection)
		if err != nil {
			return nil, fmt.Errorf("listing records for %s: %w", participant, err)
		}
		for _, raw := range records {
			record, err := DecodeMessage(participant, raw.Value)
			if err != nil {
				transcript.recordSkipped()
				e.logger.Warn("skipping unreadable record", "uri", raw.URI, "error", err)
				continue
			}
			if record.ConversationKey != key {
				continue
			}
			entry, err := e.openRecord(record)
			if err != nil {
				if errors.Is(err, ErrDecryptFailed) && !record.AddressedTo(e.local) {
					// Not for us; normal on a shared network, not an error.
					continue
				}
				transcript.recordSkipped()
				e.logger.Warn("skipping undecryptable record", "uri", raw.URI, "error", err)
				continue
			}
			transcript.Apply(entry)
		}
	}

	e.mu.Lock()
	e.conversations[key] = transcript
	e.mu.Unlock()

	e.logger.Debug("conversation loaded", "conversation", key,
		"entries", transcript.Len(), "skipped", transcript.Skipped())
	return transcript, nil
}

// CloseConversation stops live-merging into the given conversation.
func (e *Engine) CloseConversation(conversationKey string) {
	e.mu.Lock()
	delete(e.conversations, conversationKey)
	e.mu.Unlock()
}

// OnLiveMessage registers a callback for entries arriving via HandleLive.
func (e *Engine) OnLiveMessage(fn LiveCallback) {
	e.mu.Lock()
	e.callbacks = append(e.callbacks, fn)
	e.mu.Unlock()
}

// HandleLive processes one decoded message record from the firehose. Records
// sealed to other people are dropped quietly; records that name us but won't
// open are logged loudly, since that means a stale key on the sender's side
// or tampering. Decrypted entries are merged into the open transcript, if
// any, and fanned out to live callbacks. A conversation that is not open is
// not tracked here; a later cold load re-reads the authors' repositories and
// picks the record up regardless.
func (e *Engine) HandleLive(record *MessageRecord) {
	entry, err := e.openRecord(record)
	if err != nil {
		if errors.Is(err, ErrDecryptFailed) && !record.AddressedTo(e.local) {
			e.logger.Debug("ignoring message for someone else", "conversation", record.ConversationKey)
			return
		}
		e.logger.Warn("message addressed to us but unreadable",
			"conversation", record.ConversationKey, "author", record.Author.String(), "error", err)
		return
	}
	e.applyEntry(record.ConversationKey, entry)
}

// RotateKey discards the current key pair, generates a fresh one, and
// republishes the public half to the profile record. Everything received
// under the old key becomes permanently unreadable.
func (e *Engine) RotateKey(ctx context.Context) (string, error) {
	publicKey, err := e.keys.Rotate()
	if err != nil {
		return "", fmt.Errorf("rotating key: %w", err)
	}
	if err := e.PublishKey(ctx); err != nil {
		return "", fmt.Errorf("republishing key: %w", err)
	}
	e.logger.Info("key rotated", "public_key", publicKey)
	return publicKey, nil
}

// PublishKey writes the current public key into the profile record so other
// participants can resolve it. The existing record is fetched first and the
// key merged into it; display name, description, avatar, and whatever else
// the profile carries survive a publish.
func (e *Engine) PublishKey(ctx context.Context) error {
	profile := map[string]any{}
	raw, err := e.repo.GetRecord(ctx, e.local.DID, ProfileCollection, "self")
	switch {
	case err == nil:
		if err := json.Unmarshal(raw, &profile); err != nil {
			return fmt.Errorf("decoding existing profile record: %w", err)
		}
	case errors.Is(err, ErrRecordNotFound):
		// First publish on an account with no profile record yet.
	default:
		return fmt.Errorf("reading profile record: %w", err)
	}

	profile["$type"] = ProfileCollection
	profile["bmailPubKey"] = e.keys.PublicKey()
	if _, err := e.repo.PutRecord(ctx, ProfileCollection, "self", profile); err != nil {
		return fmt.Errorf("writing profile record: %w", err)
	}
	return nil
}

// openRecord decrypts a record into a transcript entry.
func (e *Engine) openRecord(record *MessageRecord) (Entry, error) {
	plaintext, err := e.envelope.Open(record.Ciphertext)
	if err != nil {
		return Entry{}, err
	}
	return Entry{
		Author:    record.Author,
		CreatedAt: record.CreatedAt,
		Plaintext: string(plaintext),
	}, nil
}

// applyEntry merges an entry into the open transcript for the conversation,
// if one exists, and notifies live callbacks. Redelivered entries dedupe
// inside Apply and are not re-announced.
func (e *Engine) applyEntry(conversationKey string, entry Entry) {
	e.mu.Lock()
	transcript := e.conversations[conversationKey]
	callbacks := make([]LiveCallback, len(e.callbacks))
	copy(callbacks, e.callbacks)
	e.mu.Unlock()

	if transcript != nil && !transcript.Apply(entry) {
		return
	}

	for _, fn := range callbacks {
		fn(conversationKey, entry)
	}
}
