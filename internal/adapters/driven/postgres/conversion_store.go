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

// Ensure ConversionStore implements the interface.
var _ driven.ConversionStore = (*ConversionStore)(nil)

const conversionColumns = `
	company_id, order_number, provider, status, remote_id, remote_number, remote_url,
	error_code, error_message, attempts, created_at, updated_at
`

// ConversionStore implements driven.ConversionStore using PostgreSQL.
// One row per (company, order number); every upsert bumps attempts.
type ConversionStore struct {
	db *sql.DB
}

// NewConversionStore creates a new PostgreSQL-backed conversion store.
func NewConversionStore(db *sql.DB) *ConversionStore {
	return &ConversionStore{db: db}
}

// Upsert writes the outcome and sets record.Attempts to the stored count.
func (s *ConversionStore) Upsert(ctx context.Context, r *domain.ConversionRecord) error {
	now := time.Now()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = now
	}

	query := `
		INSERT INTO conversions (` + conversionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 1, $10, $11)
		ON CONFLICT (company_id, order_number) DO UPDATE SET
			provider = EXCLUDED.provider,
			status = EXCLUDED.status,
			remote_id = EXCLUDED.remote_id,
			remote_number = EXCLUDED.remote_number,
			remote_url = EXCLUDED.remote_url,
			error_code = EXCLUDED.error_code,
			error_message = EXCLUDED.error_message,
			attempts = conversions.attempts + 1,
			updated_at = EXCLUDED.updated_at
		RETURNING attempts, created_at
	`

	err := s.db.QueryRowContext(ctx, query,
		r.CompanyID,
		r.OrderNumber,
		nullText(string(r.Provider)),
		r.Status,
		r.RemoteID,
		r.RemoteNumber,
		r.RemoteURL,
		r.ErrorCode,
		r.ErrorMessage,
		r.CreatedAt,
		r.UpdatedAt,
	).Scan(&r.Attempts, &r.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert conversion: %w", err)
	}
	return nil
}

// Get returns the record for one order number.
func (s *ConversionStore) Get(ctx context.Context, companyID, orderNumber string) (*domain.ConversionRecord, error) {
	query := `SELECT ` + conversionColumns + ` FROM conversions WHERE company_id = $1 AND order_number = $2`

	r, err := scanConversion(s.db.QueryRowContext(ctx, query, companyID, orderNumber))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get conversion: %w", err)
	}
	return r, nil
}

// ListByCompany returns records newest first.
func (s *ConversionStore) ListByCompany(ctx context.Context, companyID string, limit int) ([]*domain.ConversionRecord, error) {
	query := `SELECT ` + conversionColumns + ` FROM conversions WHERE company_id = $1 ORDER BY updated_at DESC`
	args := []any{companyID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list conversions: %w", err)
	}
	defer rows.Close()

	var records []*domain.ConversionRecord
	for rows.Next() {
		r, err := scanConversion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversion: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversions: %w", err)
	}
	return records, nil
}

func scanConversion(row rowScanner) (*domain.ConversionRecord, error) {
	var r domain.ConversionRecord
	var provider sql.NullString
	err := row.Scan(
		&r.CompanyID,
		&r.OrderNumber,
		&provider,
		&r.Status,
		&r.RemoteID,
		&r.RemoteNumber,
		&r.RemoteURL,
		&r.ErrorCode,
		&r.ErrorMessage,
		&r.Attempts,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.Provider = domain.ProviderType(provider.String)
	return &r, nil
}
