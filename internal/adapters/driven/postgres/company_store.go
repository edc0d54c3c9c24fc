package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
	"github.com/custodia-labs/ledgersync/internal/core/ports/driven"
)

// Ensure CompanyStore implements the interface.
var _ driven.CompanyStore = (*CompanyStore)(nil)

const companyColumns = `
	id, name, provider, tenant_id, connection_status, sync_enabled,
	sync_interval_secs, last_sync_at, last_sync_attempt_at, last_sync_error,
	created_at, updated_at
`

// CompanyStore implements driven.CompanyStore using PostgreSQL.
type CompanyStore struct {
	db *sql.DB
}

// NewCompanyStore creates a new PostgreSQL-backed company store.
func NewCompanyStore(db *sql.DB) *CompanyStore {
	return &CompanyStore{db: db}
}

// Get retrieves a company by ID.
func (s *CompanyStore) Get(ctx context.Context, id string) (*domain.Company, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+companyColumns+` FROM companies WHERE id = $1`, id)
	c, err := scanCompany(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get company: %w", err)
	}
	return c, nil
}

// Save creates or updates a company.
func (s *CompanyStore) Save(ctx context.Context, c *domain.Company) error {
	now := time.Now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	if c.ConnectionStatus == "" {
		c.ConnectionStatus = domain.ConnectionStatusDisconnected
	}

	query := `
		INSERT INTO companies (` + companyColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			provider = EXCLUDED.provider,
			tenant_id = EXCLUDED.tenant_id,
			connection_status = EXCLUDED.connection_status,
			sync_enabled = EXCLUDED.sync_enabled,
			sync_interval_secs = EXCLUDED.sync_interval_secs,
			last_sync_at = EXCLUDED.last_sync_at,
			last_sync_attempt_at = EXCLUDED.last_sync_attempt_at,
			last_sync_error = EXCLUDED.last_sync_error,
			updated_at = EXCLUDED.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		c.ID,
		c.Name,
		nullText(string(c.Provider)),
		nullText(c.TenantID),
		c.ConnectionStatus,
		c.SyncEnabled,
		int64(c.SyncInterval/time.Second),
		nullTime(c.LastSyncAt),
		nullTime(c.LastSyncAttemptAt),
		c.LastSyncError,
		c.CreatedAt,
		c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save company: %w", err)
	}
	return nil
}

// ListConnected returns every company bound to a provider, ordered by id.
func (s *CompanyStore) ListConnected(ctx context.Context) ([]*domain.Company, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+companyColumns+` FROM companies WHERE provider IS NOT NULL ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list connected companies: %w", err)
	}
	defer rows.Close()

	var companies []*domain.Company
	for rows.Next() {
		c, err := scanCompany(rows)
		if err != nil {
			return nil, fmt.Errorf("scan company: %w", err)
		}
		companies = append(companies, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate companies: %w", err)
	}
	return companies, nil
}

// SetConnection binds the company to a provider tenant and marks it connected.
func (s *CompanyStore) SetConnection(ctx context.Context, id string, provider domain.ProviderType, tenantID string) error {
	return s.update(ctx, "set connection", `
		UPDATE companies
		SET provider = $2, tenant_id = $3, connection_status = $4, updated_at = NOW()
		WHERE id = $1
	`, id, string(provider), nullText(tenantID), domain.ConnectionStatusConnected)
}

// ClearConnection removes the provider binding and resets LastSyncAt.
func (s *CompanyStore) ClearConnection(ctx context.Context, id string) error {
	return s.update(ctx, "clear connection", `
		UPDATE companies
		SET provider = NULL, tenant_id = NULL, connection_status = $2, last_sync_at = NULL, updated_at = NOW()
		WHERE id = $1
	`, id, domain.ConnectionStatusDisconnected)
}

// SetConnectionStatus updates the status without touching the binding.
func (s *CompanyStore) SetConnectionStatus(ctx context.Context, id string, status domain.ConnectionStatus) error {
	return s.update(ctx, "set connection status", `
		UPDATE companies SET connection_status = $2, updated_at = NOW() WHERE id = $1
	`, id, status)
}

// RecordSyncAttempt stores the attempt; last_sync_at moves only on success.
func (s *CompanyStore) RecordSyncAttempt(ctx context.Context, id string, at time.Time, succeeded bool, syncErr string) error {
	return s.update(ctx, "record sync attempt", `
		UPDATE companies
		SET last_sync_attempt_at = $2,
		    last_sync_error = $3,
		    last_sync_at = CASE WHEN $4 THEN $2 ELSE last_sync_at END,
		    updated_at = NOW()
		WHERE id = $1
	`, id, at, syncErr, succeeded)
}

func (s *CompanyStore) update(ctx context.Context, op, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func scanCompany(row rowScanner) (*domain.Company, error) {
	var c domain.Company
	var provider, tenantID sql.NullString
	var intervalSecs int64
	var lastSync, lastAttempt sql.NullTime

	err := row.Scan(
		&c.ID,
		&c.Name,
		&provider,
		&tenantID,
		&c.ConnectionStatus,
		&c.SyncEnabled,
		&intervalSecs,
		&lastSync,
		&lastAttempt,
		&c.LastSyncError,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	c.Provider = domain.ProviderType(provider.String)
	c.TenantID = tenantID.String
	c.SyncInterval = time.Duration(intervalSecs) * time.Second
	c.LastSyncAt = timePtr(lastSync)
	c.LastSyncAttemptAt = timePtr(lastAttempt)
	return &c, nil
}
