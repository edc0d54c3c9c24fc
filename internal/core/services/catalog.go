package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
	"github.com/custodia-labs/ledgersync/internal/core/ports/driven"
	"github.com/custodia-labs/ledgersync/internal/core/ports/driving"
)

// Ensure catalogService implements the driving port
var _ driving.CatalogService = (*catalogService)(nil)

type catalogService struct {
	products driven.ProductStore
}

// NewCatalogService creates a catalog matcher over the product store.
func NewCatalogService(products driven.ProductStore) driving.CatalogService {
	return &catalogService{products: products}
}

func (s *catalogService) MatchProduct(ctx context.Context, companyID string, key domain.ProductKey) (*domain.Product, domain.MatchKind, error) {
	lookups := []struct {
		kind  domain.MatchKind
		value string
		get   func(context.Context, string, string) (*domain.Product, error)
	}{
		{domain.MatchExternalID, key.ExternalID, s.products.GetByExternalID},
		{domain.MatchSKU, key.SKU, s.products.GetBySKU},
		{domain.MatchBarcode, key.Barcode, s.products.GetByBarcode},
	}

	for _, l := range lookups {
		value := strings.TrimSpace(l.value)
		if value == "" {
			continue
		}
		p, err := l.get(ctx, companyID, value)
		if err == nil {
			return p, l.kind, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, domain.MatchNone, fmt.Errorf("match product by %s: %w", l.kind, err)
		}
	}
	return nil, domain.MatchNone, domain.ErrNotFound
}

func (s *catalogService) ResolveOrderLines(ctx context.Context, companyID string, order *domain.Order) ([]int, error) {
	var unresolved []int
	for i := range order.Lines {
		line := &order.Lines[i]
		if line.ExternalItemID != "" {
			continue
		}

		p, _, err := s.MatchProduct(ctx, companyID, domain.ProductKey{
			SKU:     line.SKU,
			Barcode: line.Barcode,
		})
		if errors.Is(err, domain.ErrNotFound) || (err == nil && p.ExternalID == nil) {
			unresolved = append(unresolved, i)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("resolve line %d: %w", i+1, err)
		}

		line.ExternalItemID = *p.ExternalID
		if line.ProductID == "" {
			line.ProductID = p.ID
		}
		if line.SKU == "" {
			line.SKU = p.SKU
		}
		if line.Description == "" {
			line.Description = p.Name
		}
	}
	return unresolved, nil
}
