package checkout

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/joao-fontenele/honey-marketplace/internal/domain"
)

type CatalogReader interface {
	LookupVariants(ctx context.Context, variantIDs []string) (map[string]domain.CatalogEntry, error)
}

type Resolver struct {
	catalog CatalogReader
}

func NewResolver(catalog CatalogReader) *Resolver {
	return &Resolver{catalog: catalog}
}

// Resolve joins each cart line with its product and variant and checks the
// requested quantity against recorded stock. Ids are compared in canonical
// lowercase form. Lines naming the same variant
// are checked against stock together. The read is advisory: nothing is
// reserved.
func (r *Resolver) Resolve(ctx context.Context, items []domain.CartLine) ([]domain.ResolvedLine, error) {
	if len(items) == 0 {
		return nil, ErrEmptyCart
	}

	items = append([]domain.CartLine(nil), items...)
	requested := make(map[string]int, len(items))
	ids := make([]string, 0, len(items))
	for i := range items {
		item := &items[i]
		productID, err := uuid.Parse(item.ProductID)
		if err != nil {
			return nil, fmt.Errorf("%w: item %d has a malformed product id", ErrInvalidCartItem, i)
		}
		variantID, err := uuid.Parse(item.VariantID)
		if err != nil {
			return nil, fmt.Errorf("%w: item %d has a malformed variant id", ErrInvalidCartItem, i)
		}
		item.ProductID, item.VariantID = productID.String(), variantID.String()
		if item.Quantity <= 0 {
			return nil, fmt.Errorf("%w: item %d quantity must be positive", ErrInvalidQuantity, i)
		}
		if _, seen := requested[item.VariantID]; !seen {
			ids = append(ids, item.VariantID)
		}
		requested[item.VariantID] += item.Quantity
	}

	entries, err := r.catalog.LookupVariants(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("lookup variants: %w", err)
	}

	lines := make([]domain.ResolvedLine, 0, len(items))
	for i, item := range items {
		entry, ok := entries[item.VariantID]
		if !ok || entry.ProductID != item.ProductID {
			return nil, fmt.Errorf("%w: item %d is no longer available", ErrInvalidCartItem, i)
		}
		if requested[item.VariantID] > entry.Stock {
			return nil, fmt.Errorf("%w: only %d of %s (%s) in stock", ErrInvalidQuantity,
				entry.Stock, entry.ProductTitle, entry.VariantSize)
		}

		lines = append(lines, domain.ResolvedLine{
			ProductID:      entry.ProductID,
			VariantID:      entry.VariantID,
			ProducerID:     entry.ProducerID,
			ProductTitle:   entry.ProductTitle,
			VariantSize:    entry.VariantSize,
			Quantity:       item.Quantity,
			UnitPrice:      entry.Price,
			AvailableStock: entry.Stock,
			BatchID:        entry.BatchID,
		})
	}

	return lines, nil
}
