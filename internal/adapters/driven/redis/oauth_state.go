package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/custodia-labs/ledgersync/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.OAuthStateStore = (*OAuthStateStore)(nil)

const (
	oauthStatePrefix = "ledgersync:oauth_state:"

	// DefaultOAuthStateTTL is used when a state carries no expiry.
	DefaultOAuthStateTTL = 10 * time.Minute
)

// OAuthStateStore implements driven.OAuthStateStore using Redis.
// Keys expire on their own, so Cleanup has nothing to do.
type OAuthStateStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewOAuthStateStore creates a Redis-backed state store.
// A non-positive ttl uses DefaultOAuthStateTTL.
func NewOAuthStateStore(client redis.UniversalClient, ttl time.Duration) *OAuthStateStore {
	if ttl <= 0 {
		ttl = DefaultOAuthStateTTL
	}
	return &OAuthStateStore{client: client, ttl: ttl}
}

// Save stores the state until its ExpiresAt.
func (s *OAuthStateStore) Save(ctx context.Context, state *driven.OAuthState) error {
	now := time.Now()
	if state.CreatedAt.IsZero() {
		state.CreatedAt = now
	}
	if state.ExpiresAt.IsZero() {
		state.ExpiresAt = now.Add(s.ttl)
	}

	ttl := time.Until(state.ExpiresAt)
	if ttl <= 0 {
		// Already expired; nothing could consume it
		return nil
	}

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal oauth state: %w", err)
	}
	if err := s.client.Set(ctx, oauthStatePrefix+state.Nonce, data, ttl).Err(); err != nil {
		return fmt.Errorf("save oauth state: %w", err)
	}
	return nil
}

// Consume reads and deletes the state in one GETDEL.
func (s *OAuthStateStore) Consume(ctx context.Context, nonce string) (*driven.OAuthState, error) {
	data, err := s.client.GetDel(ctx, oauthStatePrefix+nonce).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("consume oauth state: %w", err)
	}

	var st driven.OAuthState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("unmarshal oauth state: %w", err)
	}
	if !st.ExpiresAt.IsZero() && time.Now().After(st.ExpiresAt) {
		return nil, nil
	}
	return &st, nil
}

// Cleanup is a no-op; Redis expires states itself.
func (s *OAuthStateStore) Cleanup(ctx context.Context) error {
	return nil
}
