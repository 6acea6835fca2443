package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/benwis/bmail/internal/bmail"
)

// StubProfileFetcher serves fixed profiles keyed by handle and DID, counting
// fetches so tests can assert cache behavior. Safe for concurrent use.
type StubProfileFetcher struct {
	mu       sync.Mutex
	profiles map[string]bmail.Profile
	fetches  int

	// Err, when set, is returned by every call, simulating a transient
	// network failure.
	Err error
}

func NewStubProfileFetcher() *StubProfileFetcher {
	return &StubProfileFetcher{profiles: make(map[string]bmail.Profile)}
}

// SetProfile registers a profile under both its handle and DID.
func (s *StubProfileFetcher) SetProfile(p bmail.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.Handle != "" {
		s.profiles[p.Handle] = p
	}
	if p.DID != "" {
		s.profiles[p.DID] = p
	}
}

// Fetches returns the number of GetProfile calls made so far.
func (s *StubProfileFetcher) Fetches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetches
}

func (s *StubProfileFetcher) GetProfile(ctx context.Context, actor string) (*bmail.Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches++
	if s.Err != nil {
		return nil, s.Err
	}
	p, ok := s.profiles[actor]
	if !ok {
		return nil, fmt.Errorf("unknown actor %q", actor)
	}
	out := p
	return &out, nil
}

func (s *StubProfileFetcher) ResolveHandle(ctx context.Context, handle string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return "", s.Err
	}
	p, ok := s.profiles[handle]
	if !ok {
		return "", fmt.Errorf("unknown handle %q", handle)
	}
	return p.DID, nil
}
