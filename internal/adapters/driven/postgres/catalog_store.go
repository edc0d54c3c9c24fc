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

// Verify interface compliance
var (
	_ driven.ProductStore  = (*ProductStore)(nil)
	_ driven.CustomerStore = (*CustomerStore)(nil)
)

const productColumns = `
	id, company_id, external_id, sku, barcode, name, description,
	price, quantity_on_hand, archived, created_at, updated_at
`

// lookupOrder prefers live rows over archived ones, then the most recently touched.
const lookupOrder = ` ORDER BY archived ASC, updated_at DESC LIMIT 1`

// ProductStore implements driven.ProductStore using PostgreSQL.
type ProductStore struct {
	db *sql.DB
}

// NewProductStore creates a new PostgreSQL-backed product store.
func NewProductStore(db *sql.DB) *ProductStore {
	return &ProductStore{db: db}
}

// GetByExternalID looks a product up by its provider id.
func (s *ProductStore) GetByExternalID(ctx context.Context, companyID, externalID string) (*domain.Product, error) {
	return s.getOne(ctx, "external_id", companyID, externalID)
}

// GetBySKU looks a product up by SKU.
func (s *ProductStore) GetBySKU(ctx context.Context, companyID, sku string) (*domain.Product, error) {
	return s.getOne(ctx, "sku", companyID, sku)
}

// GetByBarcode looks a product up by barcode.
func (s *ProductStore) GetByBarcode(ctx context.Context, companyID, barcode string) (*domain.Product, error) {
	return s.getOne(ctx, "barcode", companyID, barcode)
}

// getOne runs a single-key lookup. column is always a constant from this file.
func (s *ProductStore) getOne(ctx context.Context, column, companyID, value string) (*domain.Product, error) {
	if value == "" {
		return nil, domain.ErrNotFound
	}
	query := `SELECT ` + productColumns + ` FROM products WHERE company_id = $1 AND ` + column + ` = $2` + lookupOrder

	p, err := scanProduct(s.db.QueryRowContext(ctx, query, companyID, value))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get product by %s: %w", column, err)
	}
	return p, nil
}

// Save inserts or updates a product by ID.
func (s *ProductStore) Save(ctx context.Context, p *domain.Product) error {
	now := time.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = now
	}

	query := `
		INSERT INTO products (` + productColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			external_id = EXCLUDED.external_id,
			sku = EXCLUDED.sku,
			barcode = EXCLUDED.barcode,
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			price = EXCLUDED.price,
			quantity_on_hand = EXCLUDED.quantity_on_hand,
			archived = EXCLUDED.archived,
			updated_at = EXCLUDED.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		p.ID,
		p.CompanyID,
		nullString(p.ExternalID),
		p.SKU,
		p.Barcode,
		p.Name,
		p.Description,
		p.Price,
		p.QuantityOnHand,
		p.Archived,
		p.CreatedAt,
		p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save product: %w", err)
	}
	return nil
}

// ClearExternalIDs drops every product mapping for the company.
func (s *ProductStore) ClearExternalIDs(ctx context.Context, companyID string) (int, error) {
	return clearExternalIDs(ctx, s.db, "products", companyID)
}

func scanProduct(row rowScanner) (*domain.Product, error) {
	var p domain.Product
	var externalID sql.NullString
	err := row.Scan(
		&p.ID,
		&p.CompanyID,
		&externalID,
		&p.SKU,
		&p.Barcode,
		&p.Name,
		&p.Description,
		&p.Price,
		&p.QuantityOnHand,
		&p.Archived,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.ExternalID = stringPtr(externalID)
	return &p, nil
}

const customerColumns = `
	id, company_id, external_id, display_name, email, archived, created_at, updated_at
`

// CustomerStore implements driven.CustomerStore using PostgreSQL.
type CustomerStore struct {
	db *sql.DB
}

// NewCustomerStore creates a new PostgreSQL-backed customer store.
func NewCustomerStore(db *sql.DB) *CustomerStore {
	return &CustomerStore{db: db}
}

// GetByExternalID looks a customer up by its provider id.
func (s *CustomerStore) GetByExternalID(ctx context.Context, companyID, externalID string) (*domain.Customer, error) {
	if externalID == "" {
		return nil, domain.ErrNotFound
	}
	query := `SELECT ` + customerColumns + ` FROM customers WHERE company_id = $1 AND external_id = $2` + lookupOrder
	return s.getOne(ctx, "external id", query, companyID, externalID)
}

// GetByName matches the display name case-insensitively.
func (s *CustomerStore) GetByName(ctx context.Context, companyID, displayName string) (*domain.Customer, error) {
	if displayName == "" {
		return nil, domain.ErrNotFound
	}
	query := `SELECT ` + customerColumns + ` FROM customers WHERE company_id = $1 AND LOWER(display_name) = LOWER($2)` + lookupOrder
	return s.getOne(ctx, "name", query, companyID, displayName)
}

func (s *CustomerStore) getOne(ctx context.Context, key, query string, args ...any) (*domain.Customer, error) {
	c, err := scanCustomer(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get customer by %s: %w", key, err)
	}
	return c, nil
}

// Save inserts or updates a customer by ID.
func (s *CustomerStore) Save(ctx context.Context, c *domain.Customer) error {
	now := time.Now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = now
	}

	query := `
		INSERT INTO customers (` + customerColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			external_id = EXCLUDED.external_id,
			display_name = EXCLUDED.display_name,
			email = EXCLUDED.email,
			archived = EXCLUDED.archived,
			updated_at = EXCLUDED.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		c.ID,
		c.CompanyID,
		nullString(c.ExternalID),
		c.DisplayName,
		c.Email,
		c.Archived,
		c.CreatedAt,
		c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save customer: %w", err)
	}
	return nil
}

// ClearExternalIDs drops every customer mapping for the company.
func (s *CustomerStore) ClearExternalIDs(ctx context.Context, companyID string) (int, error) {
	return clearExternalIDs(ctx, s.db, "customers", companyID)
}

func scanCustomer(row rowScanner) (*domain.Customer, error) {
	var c domain.Customer
	var externalID sql.NullString
	err := row.Scan(
		&c.ID,
		&c.CompanyID,
		&externalID,
		&c.DisplayName,
		&c.Email,
		&c.Archived,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.ExternalID = stringPtr(externalID)
	return &c, nil
}

func clearExternalIDs(ctx context.Context, db *sql.DB, table, companyID string) (int, error) {
	res, err := db.ExecContext(ctx,
		`UPDATE `+table+` SET external_id = NULL, updated_at = NOW() WHERE company_id = $1 AND external_id IS NOT NULL`,
		companyID)
	if err != nil {
		return 0, fmt.Errorf("clear %s external ids: %w", table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("clear %s external ids: %w", table, err)
	}
	return int(n), nil
}
