package auth

import (
	"fmt"
	"net/netip"
	"sync"
	"time"
)

// State store defaults.
const (
	DefaultStateTTL         = 10 * time.Minute
	DefaultMaxPendingStates = 1000
)

// PendingAuthorization is an in-flight PKCE authorization attempt.
type PendingAuthorization struct {
	// Verifier is the PKCE code verifier. It never leaves the gateway.
	Verifier string

	// ClientIP is the address that started the attempt.
	ClientIP netip.Addr

	// CreatedAt is when the attempt started.
	CreatedAt time.Time
}

// StateStore holds pending authorizations keyed by their state value.
//
// Entries expire after a fixed window, are swept on insert, and are
// single use. The number of pending entries is capped.
type StateStore struct {
	ttl        time.Duration
	maxPending int
	now        func() time.Time

	mu      sync.Mutex
	entries map[string]PendingAuthorization
}

// NewStateStore creates a store. Non-positive arguments select the
// defaults; a nil now uses time.Now.
func NewStateStore(ttl time.Duration, maxPending int, now func() time.Time) *StateStore {
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	if maxPending <= 0 {
		maxPending = DefaultMaxPendingStates
	}
	if now == nil {
		now = time.Now
	}
	return &StateStore{
		ttl:        ttl,
		maxPending: maxPending,
		now:        now,
		entries:    make(map[string]PendingAuthorization),
	}
}

// Put records a pending authorization. It fails with an Internal error
// when the store is full after expired entries are swept.
func (s *StateStore) Put(state string, p PendingAuthorization) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for k, e := range s.entries {
		if now.Sub(e.CreatedAt) > s.ttl {
			delete(s.entries, k)
		}
	}

	if len(s.entries) >= s.maxPending {
		return Internal(fmt.Sprintf("too many pending authorizations (%d)", len(s.entries)), nil).withProvider(ProviderOAuth)
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.ClientIP = p.ClientIP.Unmap()
	s.entries[state] = p
	return nil
}

// Take consumes the pending authorization for state.
//
// The state must exist, be within the window, and have been created from
// clientIP. A client IP mismatch leaves the entry in place for the
// legitimate client.
func (s *StateStore) Take(state string, clientIP netip.Addr) (PendingAuthorization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.entries[state]
	if !ok {
		return PendingAuthorization{}, InvalidCredential("unknown or already used oauth state").withProvider(ProviderOAuth)
	}
	if s.now().Sub(p.CreatedAt) > s.ttl {
		delete(s.entries, state)
		return PendingAuthorization{}, Expired("oauth state expired").withProvider(ProviderOAuth)
	}
	if p.ClientIP != clientIP.Unmap() {
		return PendingAuthorization{}, InvalidCredential("oauth state presented from a different client ip").withProvider(ProviderOAuth)
	}

	delete(s.entries, state)
	return p, nil
}

// Len returns the number of pending entries, expired ones included.
func (s *StateStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Cap returns the maximum number of pending entries.
func (s *StateStore) Cap() int {
	return s.maxPending
}
