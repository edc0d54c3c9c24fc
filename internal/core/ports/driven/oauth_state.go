package driven

import (
	"context"
	"time"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
)

// OAuthState is a pending authorization flow. The nonce travels inside the
// signed state parameter and is consumed on callback.
type OAuthState struct {
	Nonce     string
	CompanyID string
	Provider  domain.ProviderType
	CreatedAt time.Time
	ExpiresAt time.Time
}

// OAuthStateStore manages OAuth flow state for CSRF protection.
// States are single-use and expire after a short period.
type OAuthStateStore interface {
	// Save stores a new state. A zero ExpiresAt gets the store's default TTL.
	Save(ctx context.Context, state *OAuthState) error

	// Consume atomically retrieves and deletes the state.
	// Returns nil, nil if it doesn't exist or has expired.
	Consume(ctx context.Context, nonce string) (*OAuthState, error)

	// Cleanup removes expired states.
	Cleanup(ctx context.Context) error
}

// StateClaims is what the signed state parameter carries
type StateClaims struct {
	Nonce     string
	CompanyID string
	Provider  domain.ProviderType
	ExpiresAt time.Time
}

// StateSigner signs and verifies the OAuth state parameter.
type StateSigner interface {
	Sign(claims StateClaims) (string, error)

	// Verify returns domain.ErrInvalidState for tampered or expired states.
	Verify(state string) (*StateClaims, error)
}
