// Package firehose consumes the network's live commit-event stream over a
// websocket and narrows it down to the records bmail cares about: message
// creations involving the local identity, and likes (for the notification
// correlator). The stream is ordered per repository but nothing more; events
// from different repositories interleave arbitrarily, and events can be
// missed entirely across a disconnect. Both are tolerated: a cold
// reconstruction from the authors' repositories reconciles any gap.
package firehose

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/benwis/bmail/internal/bmail"
)

// Event is one frame from the commit stream.
type Event struct {
	DID    string  `json:"did"`
	TimeUS int64   `json:"time_us"`
	Kind   string  `json:"kind"`
	Commit *Commit `json:"commit,omitempty"`
}

// Commit describes a single repository operation inside an event.
type Commit struct {
	Rev        string          `json:"rev"`
	Operation  string          `json:"operation"`
	Collection string          `json:"collection"`
	RKey       string          `json:"rkey"`
	Record     json.RawMessage `json:"record,omitempty"`
	CID        string          `json:"cid,omitempty"`
}

const (
	opCreate = "create"

	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second

	// A connection that stayed up at least this long counts as healthy and
	// resets the reconnect delay, so a flap after hours of streaming waits
	// initialBackoff again rather than the accumulated cap.
	backoffResetWindow = time.Minute
)

// nextBackoff returns the delay before the next dial attempt, given the
// previous delay (zero on the first attempt) and how long the last
// connection stayed up.
func nextBackoff(previous, connected time.Duration) time.Duration {
	if previous == 0 || connected >= backoffResetWindow {
		return initialBackoff
	}
	next := previous * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

// Consumer runs the subscription loop. It reconnects on stream loss, resuming
// from the last confirmed sequence position when it has one; when it does
// not, it resubscribes from "now" and accepts the gap.
type Consumer struct {
	endpoint string
	local    bmail.Identity
	logger   bmail.Logger

	// OnMessage receives decoded message records addressed to (or authored
	// by) the local identity. Required.
	OnMessage func(*bmail.MessageRecord)

	// OnLike, if set, receives raw like records along with their author, for
	// anchor correlation.
	OnLike func(author bmail.Identity, record json.RawMessage)

	mu     sync.Mutex
	cursor int64
}

// NewConsumer creates a Consumer for the given stream endpoint.
func NewConsumer(endpoint string, local bmail.Identity, logger bmail.Logger) *Consumer {
	return &Consumer{endpoint: endpoint, local: local, logger: logger}
}

// Cursor returns the sequence position of the last processed event.
func (c *Consumer) Cursor() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cursor
}

// Run consumes the stream until ctx is cancelled. One long-lived loop: it
// blocks on the next frame, never polls, and only returns when cancelled.
// Connection errors trigger reconnection with capped exponential backoff.
func (c *Consumer) Run(ctx context.Context) error {
	var backoff time.Duration
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		start := time.Now()
		err := c.consumeOnce(ctx)
		backoff = nextBackoff(backoff, time.Since(start))
		if err != nil && ctx.Err() == nil {
			c.logger.Warn("stream disconnected", "error", err, "retry_in", backoff)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
}

// consumeOnce dials the stream and reads frames until the connection drops or
// ctx is cancelled.
func (c *Consumer) consumeOnce(ctx context.Context) error {
	endpoint, err := c.subscribeURL()
	if err != nil {
		return err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return fmt.Errorf("dialing stream: %w", err)
	}
	defer conn.Close()

	c.logger.Info("stream connected", "endpoint", c.endpoint, "cursor", c.Cursor())

	// Unblock ReadMessage when the context is cancelled.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("reading stream: %w", err)
		}
		c.handleFrame(data)
	}
}

// subscribeURL builds the subscription URL: wanted collections plus the
// resume cursor when one is known.
func (c *Consumer) subscribeURL() (string, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return "", fmt.Errorf("parsing stream endpoint: %w", err)
	}
	q := u.Query()
	q.Del("wantedCollections")
	q.Add("wantedCollections", bmail.MessageCollection)
	if c.OnLike != nil {
		q.Add("wantedCollections", bmail.LikeCollection)
	}
	if cursor := c.Cursor(); cursor > 0 {
		q.Set("cursor", strconv.FormatInt(cursor, 10))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// handleFrame processes one raw frame. Anything unparsable or irrelevant is
// dropped without fuss; the stream carries the whole network's traffic and
// almost none of it is for us.
func (c *Consumer) handleFrame(data []byte) {
	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		c.logger.Debug("unparsable stream frame", "error", err)
		return
	}

	if event.TimeUS > 0 {
		c.mu.Lock()
		c.cursor = event.TimeUS
		c.mu.Unlock()
	}

	if event.Kind != "commit" || event.Commit == nil || event.Commit.Operation != opCreate {
		return
	}

	switch event.Commit.Collection {
	case bmail.MessageCollection:
		c.handleMessage(event.DID, event.Commit.Record)
	case bmail.LikeCollection:
		if c.OnLike != nil {
			c.OnLike(bmail.Identity{DID: event.DID}, event.Commit.Record)
		}
	}
}

func (c *Consumer) handleMessage(authorDID string, raw json.RawMessage) {
	record, err := bmail.DecodeMessage(bmail.Identity{DID: authorDID}, raw)
	if err != nil {
		// Someone else's malformed record is their problem, not an error
		// condition for this consumer.
		c.logger.Debug("dropping undecodable message record", "repo", authorDID, "error", err)
		return
	}
	if !record.AddressedTo(c.local) {
		return
	}
	c.OnMessage(record)
}
