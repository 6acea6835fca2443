package firehose

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/benwis/bmail/internal/bmail"
)

var (
	localID  = bmail.Identity{Handle: "alice.test", DID: "did:plc:alice"}
	remoteID = bmail.Identity{Handle: "bob.test", DID: "did:plc:bob"}
	otherID  = bmail.Identity{Handle: "carol.test", DID: "did:plc:carol"}
)

func newTestConsumer(t *testing.T) (*Consumer, *[]*bmail.MessageRecord) {
	t.Helper()
	var got []*bmail.MessageRecord
	c := NewConsumer("wss://stream.test/subscribe", localID, bmail.NopLogger{})
	c.OnMessage = func(r *bmail.MessageRecord) { got = append(got, r) }
	return c, &got
}

// messageFrame builds a commit event frame carrying an encoded message record.
func messageFrame(t *testing.T, author bmail.Identity, recipients []bmail.Identity, timeUS int64) []byte {
	t.Helper()
	record := &bmail.MessageRecord{
		Author:     author,
		Recipients: recipients,
		CreatedAt:  time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		Ciphertext: []byte("ciphertext"),
	}
	encoded, err := bmail.EncodeMessage(record)
	if err != nil {
		t.Fatalf("EncodeMessage() error = %v", err)
	}
	frame, err := json.Marshal(Event{
		DID:    author.DID,
		TimeUS: timeUS,
		Kind:   "commit",
		Commit: &Commit{
			Operation:  "create",
			Collection: bmail.MessageCollection,
			RKey:       "rkey1",
			Record:     encoded,
		},
	})
	if err != nil {
		t.Fatalf("marshaling frame: %v", err)
	}
	return frame
}

func TestConsumer_ForwardsMessagesForLocalIdentity(t *testing.T) {
	t.Parallel()

	c, got := newTestConsumer(t)

	// Addressed to us.
	c.handleFrame(messageFrame(t, remoteID, []bmail.Identity{localID}, 100))
	// Authored by us.
	c.handleFrame(messageFrame(t, localID, []bmail.Identity{remoteID}, 200))

	if len(*got) != 2 {
		t.Fatalf("forwarded %d records, want 2", len(*got))
	}
	if !(*got)[0].Author.Equal(remoteID) || !(*got)[1].Author.Equal(localID) {
		t.Errorf("unexpected authors: %v, %v", (*got)[0].Author, (*got)[1].Author)
	}
}

func TestConsumer_DropsIrrelevantFrames(t *testing.T) {
	t.Parallel()

	c, got := newTestConsumer(t)

	// A conversation we are not part of.
	c.handleFrame(messageFrame(t, remoteID, []bmail.Identity{otherID}, 100))
	// Not JSON at all.
	c.handleFrame([]byte("definitely not json"))
	// Identity events, deletes, other collections.
	frames := []Event{
		{DID: remoteID.DID, TimeUS: 200, Kind: "identity"},
		{DID: remoteID.DID, TimeUS: 300, Kind: "commit", Commit: &Commit{Operation: "delete", Collection: bmail.MessageCollection}},
		{DID: remoteID.DID, TimeUS: 400, Kind: "commit", Commit: &Commit{Operation: "create", Collection: "app.bsky.feed.post", Record: json.RawMessage(`{}`)}},
	}
	for _, e := range frames {
		data, err := json.Marshal(e)
		if err != nil {
			t.Fatalf("marshaling frame: %v", err)
		}
		c.handleFrame(data)
	}
	// A malformed message record in the right collection.
	bad, err := json.Marshal(Event{
		DID: remoteID.DID, TimeUS: 500, Kind: "commit",
		Commit: &Commit{Operation: "create", Collection: bmail.MessageCollection, Record: json.RawMessage(`{"$type":"app.bmail.message"}`)},
	})
	if err != nil {
		t.Fatalf("marshaling frame: %v", err)
	}
	c.handleFrame(bad)

	if len(*got) != 0 {
		t.Errorf("forwarded %d records, want 0", len(*got))
	}
}

func TestConsumer_TracksCursor(t *testing.T) {
	t.Parallel()

	c, _ := newTestConsumer(t)
	if c.Cursor() != 0 {
		t.Fatalf("initial cursor = %d, want 0", c.Cursor())
	}

	// Every event advances the cursor, relevant to us or not.
	c.handleFrame(messageFrame(t, remoteID, []bmail.Identity{otherID}, 111))
	if c.Cursor() != 111 {
		t.Errorf("cursor = %d, want 111", c.Cursor())
	}
	c.handleFrame(messageFrame(t, remoteID, []bmail.Identity{localID}, 222))
	if c.Cursor() != 222 {
		t.Errorf("cursor = %d, want 222", c.Cursor())
	}
}

func TestConsumer_SubscribeURL(t *testing.T) {
	t.Parallel()

	c, _ := newTestConsumer(t)

	u, err := c.subscribeURL()
	if err != nil {
		t.Fatalf("subscribeURL() error = %v", err)
	}
	if !strings.Contains(u, "wantedCollections=app.bmail.message") {
		t.Errorf("subscribe URL %q missing message collection filter", u)
	}
	if strings.Contains(u, "cursor=") {
		t.Errorf("subscribe URL %q carries a cursor before any event", u)
	}

	c.handleFrame(messageFrame(t, remoteID, []bmail.Identity{localID}, 987))
	u, err = c.subscribeURL()
	if err != nil {
		t.Fatalf("subscribeURL() error = %v", err)
	}
	if !strings.Contains(u, "cursor=987") {
		t.Errorf("subscribe URL %q missing resume cursor", u)
	}
}

func TestConsumer_ForwardsLikes(t *testing.T) {
	t.Parallel()

	c, _ := newTestConsumer(t)
	var likeAuthor bmail.Identity
	var likeRecord json.RawMessage
	c.OnLike = func(author bmail.Identity, record json.RawMessage) {
		likeAuthor = author
		likeRecord = record
	}

	data, err := json.Marshal(Event{
		DID: remoteID.DID, TimeUS: 100, Kind: "commit",
		Commit: &Commit{Operation: "create", Collection: bmail.LikeCollection, Record: json.RawMessage(`{"$type":"app.bsky.feed.like"}`)},
	})
	if err != nil {
		t.Fatalf("marshaling frame: %v", err)
	}
	c.handleFrame(data)

	if !likeAuthor.Equal(remoteID) {
		t.Errorf("like author = %v, want %v", likeAuthor, remoteID)
	}
	if len(likeRecord) == 0 {
		t.Error("like record not forwarded")
	}
}

func TestNextBackoff(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		previous  time.Duration
		connected time.Duration
		want      time.Duration
	}{
		{name: "first attempt", previous: 0, connected: 0, want: initialBackoff},
		{name: "fast flap doubles", previous: time.Second, connected: 100 * time.Millisecond, want: 2 * time.Second},
		{name: "doubling caps", previous: 16 * time.Second, connected: 0, want: maxBackoff},
		{name: "stays at cap", previous: maxBackoff, connected: time.Second, want: maxBackoff},
		{name: "healthy connection resets", previous: maxBackoff, connected: 2 * time.Hour, want: initialBackoff},
		{name: "reset window boundary", previous: 8 * time.Second, connected: backoffResetWindow, want: initialBackoff},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := nextBackoff(tt.previous, tt.connected); got != tt.want {
				t.Errorf("nextBackoff(%v, %v) = %v, want %v", tt.previous, tt.connected, got, tt.want)
			}
		})
	}
}
