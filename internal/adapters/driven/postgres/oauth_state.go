package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/custodia-labs/ledgersync/internal/core/ports/driven"
)

// Ensure OAuthStateStore implements the interface.
var _ driven.OAuthStateStore = (*OAuthStateStore)(nil)

// DefaultOAuthStateTTL is the default time-to-live for OAuth states.
const DefaultOAuthStateTTL = 10 * time.Minute

// OAuthStateStore implements driven.OAuthStateStore using PostgreSQL.
type OAuthStateStore struct {
	db  *sql.DB
	ttl time.Duration
}

// NewOAuthStateStore creates a new PostgreSQL-backed OAuth state store.
// A non-positive ttl uses DefaultOAuthStateTTL.
func NewOAuthStateStore(db *sql.DB, ttl time.Duration) *OAuthStateStore {
	if ttl <= 0 {
		ttl = DefaultOAuthStateTTL
	}
	return &OAuthStateStore{db: db, ttl: ttl}
}

// Save stores a new OAuth state.
func (s *OAuthStateStore) Save(ctx context.Context, state *driven.OAuthState) error {
	now := time.Now()
	if state.CreatedAt.IsZero() {
		state.CreatedAt = now
	}
	if state.ExpiresAt.IsZero() {
		state.ExpiresAt = now.Add(s.ttl)
	}

	query := `
		INSERT INTO oauth_states (nonce, company_id, provider, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := s.db.ExecContext(ctx, query,
		state.Nonce,
		state.CompanyID,
		state.Provider,
		state.CreatedAt,
		state.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("save oauth state: %w", err)
	}
	return nil
}

// Consume atomically retrieves and deletes the state.
// DELETE ... RETURNING gives single-use semantics without a transaction.
func (s *OAuthStateStore) Consume(ctx context.Context, nonce string) (*driven.OAuthState, error) {
	query := `
		DELETE FROM oauth_states
		WHERE nonce = $1 AND expires_at > NOW()
		RETURNING nonce, company_id, provider, created_at, expires_at
	`

	var st driven.OAuthState
	err := s.db.QueryRowContext(ctx, query, nonce).Scan(
		&st.Nonce,
		&st.CompanyID,
		&st.Provider,
		&st.CreatedAt,
		&st.ExpiresAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("consume oauth state: %w", err)
	}
	return &st, nil
}

// Cleanup removes expired states.
func (s *OAuthStateStore) Cleanup(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM oauth_states WHERE expires_at < NOW()`); err != nil {
		return fmt.Errorf("cleanup oauth states: %w", err)
	}
	return nil
}
