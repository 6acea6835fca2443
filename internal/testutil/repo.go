package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/benwis/bmail/internal/bmail"
)

// StubNetwork is an in-memory stand-in for the federated repository network:
// one shared record store, one client per identity. Tests wire several
// engines to the same network to exercise multi-party conversations without
// any transport.
type StubNetwork struct {
	mu      sync.Mutex
	repos   map[string][]*storedRecord // DID -> records
	nextSeq int

	// Err, when set, fails every repository call.
	Err error
}

type storedRecord struct {
	collection string
	rkey       string
	uri        string
	value      json.RawMessage
}

func NewStubNetwork() *StubNetwork {
	return &StubNetwork{repos: make(map[string][]*storedRecord)}
}

// Client returns a RepoClient that writes into the given DID's repository.
func (n *StubNetwork) Client(did string) *StubRepoClient {
	return &StubRepoClient{network: n, did: did}
}

// RecordCount returns how many records the DID's repository holds in the
// given collection.
func (n *StubNetwork) RecordCount(did, collection string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	count := 0
	for _, r := range n.repos[did] {
		if r.collection == collection {
			count++
		}
	}
	return count
}

// InjectRecord places raw record bytes directly into a repository, bypassing
// any client-side validation. Used to simulate malformed or hostile records.
func (n *StubNetwork) InjectRecord(did, collection string, value []byte) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nextSeq++
	n.repos[did] = append(n.repos[did], &storedRecord{
		collection: collection,
		uri:        fmt.Sprintf("at://%s/%s/%d", did, collection, n.nextSeq),
		value:      value,
	})
}

// StubRepoClient implements bmail.RepoClient against a StubNetwork.
type StubRepoClient struct {
	network *StubNetwork
	did     string
}

var _ bmail.RepoClient = (*StubRepoClient)(nil)

func (c *StubRepoClient) CreateRecord(ctx context.Context, collection string, record any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	value, err := json.Marshal(record)
	if err != nil {
		return "", err
	}

	c.network.mu.Lock()
	defer c.network.mu.Unlock()
	if c.network.Err != nil {
		return "", c.network.Err
	}
	c.network.nextSeq++
	uri := fmt.Sprintf("at://%s/%s/%d", c.did, collection, c.network.nextSeq)
	c.network.repos[c.did] = append(c.network.repos[c.did], &storedRecord{
		collection: collection,
		uri:        uri,
		value:      value,
	})
	return uri, nil
}

func (c *StubRepoClient) PutRecord(ctx context.Context, collection, rkey string, record any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	value, err := json.Marshal(record)
	if err != nil {
		return "", err
	}

	c.network.mu.Lock()
	defer c.network.mu.Unlock()
	if c.network.Err != nil {
		return "", c.network.Err
	}
	uri := fmt.Sprintf("at://%s/%s/%s", c.did, collection, rkey)
	for _, r := range c.network.repos[c.did] {
		if r.collection == collection && r.rkey == rkey {
			r.value = value
			return uri, nil
		}
	}
	c.network.repos[c.did] = append(c.network.repos[c.did], &storedRecord{
		collection: collection,
		rkey:       rkey,
		uri:        uri,
		value:      value,
	})
	return uri, nil
}

func (c *StubRepoClient) GetRecord(ctx context.Context, repoDID, collection, rkey string) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.network.mu.Lock()
	defer c.network.mu.Unlock()
	if c.network.Err != nil {
		return nil, c.network.Err
	}
	for _, r := range c.network.repos[repoDID] {
		if r.collection == collection && r.rkey == rkey {
			return r.value, nil
		}
	}
	return nil, fmt.Errorf("%s/%s in %s: %w", collection, rkey, repoDID, bmail.ErrRecordNotFound)
}

func (c *StubRepoClient) ListRecords(ctx context.Context, repoDID, collection string) ([]bmail.RepoRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.network.mu.Lock()
	defer c.network.mu.Unlock()
	if c.network.Err != nil {
		return nil, c.network.Err
	}
	var out []bmail.RepoRecord
	for _, r := range c.network.repos[repoDID] {
		if r.collection == collection {
			out = append(out, bmail.RepoRecord{URI: r.uri, Value: r.value})
		}
	}
	return out, nil
}
