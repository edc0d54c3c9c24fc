package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/custodia-labs/ledgersync/internal/core/ports/driven"
)

// MockOAuthStateStore is an in-memory OAuthStateStore for testing
type MockOAuthStateStore struct {
	mu     sync.Mutex
	states map[string]*driven.OAuthState
	ttl    time.Duration
}

// NewMockOAuthStateStore creates a new MockOAuthStateStore
func NewMockOAuthStateStore() *MockOAuthStateStore {
	return &MockOAuthStateStore{
		states: make(map[string]*driven.OAuthState),
		ttl:    10 * time.Minute,
	}
}

func (m *MockOAuthStateStore) Save(ctx context.Context, state *driven.OAuthState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	if state.CreatedAt.IsZero() {
		state.CreatedAt = now
	}
	if state.ExpiresAt.IsZero() {
		state.ExpiresAt = now.Add(m.ttl)
	}
	cp := *state
	m.states[state.Nonce] = &cp
	return nil
}

func (m *MockOAuthStateStore) Consume(ctx context.Context, nonce string) (*driven.OAuthState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[nonce]
	if !ok {
		return nil, nil
	}
	delete(m.states, nonce)
	if time.Now().After(st.ExpiresAt) {
		return nil, nil
	}
	return st, nil
}

func (m *MockOAuthStateStore) Cleanup(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for k, st := range m.states {
		if now.After(st.ExpiresAt) {
			delete(m.states, k)
		}
	}
	return nil
}

func (m *MockOAuthStateStore) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.states)
}
