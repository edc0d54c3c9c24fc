package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
	"github.com/custodia-labs/ledgersync/internal/core/ports/driven"
)

// Ensure TokenStore implements the interface.
var _ driven.TokenStore = (*TokenStore)(nil)

// tokenSecrets is the encrypted part of a token row.
type tokenSecrets struct {
	AccessToken  string          `json:"access_token"`
	RefreshToken string          `json:"refresh_token"`
	Raw          json.RawMessage `json:"raw,omitempty"`
}

// TokenStore implements driven.TokenStore using PostgreSQL.
// Access token, refresh token and the raw provider response are sealed in
// secret_blob; expiry and tenant stay in clear columns for querying.
type TokenStore struct {
	db        *sql.DB
	encryptor *SecretEncryptor
}

// NewTokenStore creates a new PostgreSQL-backed token store.
func NewTokenStore(db *sql.DB, encryptor *SecretEncryptor) *TokenStore {
	return &TokenStore{db: db, encryptor: encryptor}
}

// Save creates or overwrites the company's token.
func (s *TokenStore) Save(ctx context.Context, token *domain.TokenRecord) error {
	if token.CompanyID == "" {
		return fmt.Errorf("%w: token has no company id", domain.ErrInvalidInput)
	}

	blob, err := s.encryptor.Encrypt(tokenSecrets{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		Raw:          token.Raw,
	}, []byte(token.CompanyID))
	if err != nil {
		return fmt.Errorf("encrypt token: %w", err)
	}

	now := time.Now()
	if token.CreatedAt.IsZero() {
		token.CreatedAt = now
	}
	token.UpdatedAt = now

	query := `
		INSERT INTO oauth_tokens (
			company_id, provider, tenant_id, secret_blob, token_type,
			expiry, refresh_expiry, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (company_id) DO UPDATE SET
			provider = EXCLUDED.provider,
			tenant_id = EXCLUDED.tenant_id,
			secret_blob = EXCLUDED.secret_blob,
			token_type = EXCLUDED.token_type,
			expiry = EXCLUDED.expiry,
			refresh_expiry = EXCLUDED.refresh_expiry,
			updated_at = EXCLUDED.updated_at
	`

	var expiry *time.Time
	if !token.Expiry.IsZero() {
		expiry = &token.Expiry
	}

	_, err = s.db.ExecContext(ctx, query,
		token.CompanyID,
		token.Provider,
		nullText(token.TenantID),
		blob,
		nullText(token.TokenType),
		nullTime(expiry),
		nullTime(token.RefreshExpiry),
		token.CreatedAt,
		token.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	return nil
}

// Get returns the decrypted token for a company.
func (s *TokenStore) Get(ctx context.Context, companyID string) (*domain.TokenRecord, error) {
	query := `
		SELECT company_id, provider, tenant_id, secret_blob, token_type,
		       expiry, refresh_expiry, created_at, updated_at
		FROM oauth_tokens
		WHERE company_id = $1
	`

	var tok domain.TokenRecord
	var blob []byte
	var tenantID, tokenType sql.NullString
	var expiry, refreshExpiry sql.NullTime

	err := s.db.QueryRowContext(ctx, query, companyID).Scan(
		&tok.CompanyID,
		&tok.Provider,
		&tenantID,
		&blob,
		&tokenType,
		&expiry,
		&refreshExpiry,
		&tok.CreatedAt,
		&tok.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get token: %w", err)
	}

	var secrets tokenSecrets
	if err := s.encryptor.Decrypt(blob, []byte(tok.CompanyID), &secrets); err != nil {
		return nil, fmt.Errorf("decrypt token: %w", err)
	}

	tok.TenantID = tenantID.String
	tok.TokenType = tokenType.String
	tok.AccessToken = secrets.AccessToken
	tok.RefreshToken = secrets.RefreshToken
	tok.Raw = secrets.Raw
	if expiry.Valid {
		tok.Expiry = expiry.Time
	}
	tok.RefreshExpiry = timePtr(refreshExpiry)

	return &tok, nil
}

// Delete removes the company's token.
func (s *TokenStore) Delete(ctx context.Context, companyID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM oauth_tokens WHERE company_id = $1`, companyID); err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	return nil
}
