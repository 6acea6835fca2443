// Package xrpc is a minimal JSON-over-HTTP client for the network's
// repository and identity endpoints: just the handful of calls bmail needs,
// not a general API binding. It implements the core RepoClient and
// ProfileFetcher ports.
package xrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/benwis/bmail/internal/bmail"
)

const listPageSize = 100

// Client talks to one PDS host. Safe for concurrent use once logged in.
type Client struct {
	baseURL string
	http    *http.Client

	mu        sync.RWMutex
	accessJWT string
	did       string
	handle    string
}

var (
	_ bmail.RepoClient     = (*Client)(nil)
	_ bmail.ProfileFetcher = (*Client)(nil)
)

// NewClient creates a Client for the given PDS base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// xrpcError is the wire form of an API error response.
type xrpcError struct {
	Code    string `json:"error"`
	Message string `json:"message"`
}

func (e *xrpcError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Code
}

// Login creates a session for the identifier (handle or DID) and app
// password. Subsequent writes are authenticated with the session token.
func (c *Client) Login(ctx context.Context, identifier, password string) error {
	var out struct {
		AccessJWT string `json:"accessJwt"`
		DID       string `json:"did"`
		Handle    string `json:"handle"`
	}
	input := map[string]string{"identifier": identifier, "password": password}
	if err := c.call(ctx, http.MethodPost, "com.atproto.server.createSession", nil, input, &out); err != nil {
		return fmt.Errorf("creating session: %w", err)
	}

	c.mu.Lock()
	c.accessJWT = out.AccessJWT
	c.did = out.DID
	c.handle = out.Handle
	c.mu.Unlock()
	return nil
}

// Session returns the logged-in identity.
func (c *Client) Session() bmail.Identity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return bmail.Identity{Handle: c.handle, DID: c.did}
}

// CreateRecord publishes a record into the session identity's repository.
func (c *Client) CreateRecord(ctx context.Context, collection string, record any) (string, error) {
	var out struct {
		URI string `json:"uri"`
	}
	input := map[string]any{
		"repo":       c.Session().DID,
		"collection": collection,
		"record":     record,
	}
	if err := c.call(ctx, http.MethodPost, "com.atproto.repo.createRecord", nil, input, &out); err != nil {
		return "", fmt.Errorf("creating %s record: %w", collection, err)
	}
	return out.URI, nil
}

// PutRecord writes a record at a fixed key in the session identity's
// repository, overwriting any previous value.
func (c *Client) PutRecord(ctx context.Context, collection, rkey string, record any) (string, error) {
	var out struct {
		URI string `json:"uri"`
	}
	input := map[string]any{
		"repo":       c.Session().DID,
		"collection": collection,
		"rkey":       rkey,
		"record":     record,
	}
	if err := c.call(ctx, http.MethodPost, "com.atproto.repo.putRecord", nil, input, &out); err != nil {
		return "", fmt.Errorf("putting %s record: %w", collection, err)
	}
	return out.URI, nil
}

// ListRecords pages through every record in a repository's collection.
// Repositories are public; no session is required.
func (c *Client) ListRecords(ctx context.Context, repoDID, collection string) ([]bmail.RepoRecord, error) {
	var all []bmail.RepoRecord
	cursor := ""
	for {
		params := url.Values{
			"repo":       {repoDID},
			"collection": {collection},
			"limit":      {fmt.Sprint(listPageSize)},
		}
		if cursor != "" {
			params.Set("cursor", cursor)
		}

		var out struct {
			Cursor  string `json:"cursor"`
			Records []struct {
				URI   string          `json:"uri"`
				CID   string          `json:"cid"`
				Value json.RawMessage `json:"value"`
			} `json:"records"`
		}
		if err := c.call(ctx, http.MethodGet, "com.atproto.repo.listRecords", params, nil, &out); err != nil {
			return nil, fmt.Errorf("listing %s records for %s: %w", collection, repoDID, err)
		}
		for _, r := range out.Records {
			all = append(all, bmail.RepoRecord{URI: r.URI, CID: r.CID, Value: r.Value})
		}
		if out.Cursor == "" || len(out.Records) == 0 {
			return all, nil
		}
		cursor = out.Cursor
	}
}

// GetRecord reads one record at a fixed key from any repository. A missing
// record maps to bmail.ErrRecordNotFound.
func (c *Client) GetRecord(ctx context.Context, repoDID, collection, rkey string) (json.RawMessage, error) {
	params := url.Values{
		"repo":       {repoDID},
		"collection": {collection},
		"rkey":       {rkey},
	}
	var out struct {
		Value json.RawMessage `json:"value"`
	}
	err := c.call(ctx, http.MethodGet, "com.atproto.repo.getRecord", params, nil, &out)
	if err != nil {
		var apiErr *xrpcError
		if errors.As(err, &apiErr) && apiErr.Code == "RecordNotFound" {
			return nil, fmt.Errorf("%s/%s in %s: %w", collection, rkey, repoDID, bmail.ErrRecordNotFound)
		}
		return nil, fmt.Errorf("getting %s record: %w", collection, err)
	}
	return out.Value, nil
}

// GetProfile reads the actor's profile record directly from their repository,
// which is where the bmail key field lives (the aggregated profile view
// strips unknown fields).
func (c *Client) GetProfile(ctx context.Context, actor string) (*bmail.Profile, error) {
	did := actor
	if !strings.HasPrefix(actor, "did:") {
		resolved, err := c.ResolveHandle(ctx, actor)
		if err != nil {
			return nil, err
		}
		did = resolved
	}

	raw, err := c.GetRecord(ctx, did, bmail.ProfileCollection, "self")
	if err != nil {
		if errors.Is(err, bmail.ErrRecordNotFound) {
			// No profile record at all: a real account with no key published.
			return &bmail.Profile{DID: did, Handle: handleIfNotDID(actor)}, nil
		}
		return nil, fmt.Errorf("fetching profile for %s: %w", actor, err)
	}

	var value struct {
		DisplayName string `json:"displayName"`
		BmailPubKey string `json:"bmailPubKey"`
	}
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, fmt.Errorf("decoding profile for %s: %w", actor, err)
	}

	return &bmail.Profile{
		DID:         did,
		Handle:      handleIfNotDID(actor),
		DisplayName: value.DisplayName,
		BmailPubKey: value.BmailPubKey,
	}, nil
}

// ResolveHandle maps a handle to its DID.
func (c *Client) ResolveHandle(ctx context.Context, handle string) (string, error) {
	var out struct {
		DID string `json:"did"`
	}
	params := url.Values{"handle": {handle}}
	if err := c.call(ctx, http.MethodGet, "com.atproto.identity.resolveHandle", params, nil, &out); err != nil {
		return "", fmt.Errorf("resolving handle %s: %w", handle, err)
	}
	return out.DID, nil
}

// call performs one XRPC request. input (for POST) and output are JSON.
func (c *Client) call(ctx context.Context, method, nsid string, params url.Values, input, output any) error {
	endpoint := c.baseURL + "/xrpc/" + nsid
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	var body io.Reader
	if input != nil {
		data, err := json.Marshal(input)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if input != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.mu.RLock()
	if c.accessJWT != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessJWT)
	}
	c.mu.RUnlock()

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		apiErr := &xrpcError{}
		if err := json.NewDecoder(resp.Body).Decode(apiErr); err != nil || apiErr.Code == "" {
			return fmt.Errorf("%s: HTTP %d", nsid, resp.StatusCode)
		}
		return apiErr
	}

	if output == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(output); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func handleIfNotDID(actor string) string {
	if strings.HasPrefix(actor, "did:") {
		return ""
	}
	return actor
}
