package catalog

import (
	"context"
	"database/sql"

	"github.com/lib/pq"

	"github.com/joao-fontenele/honey-marketplace/internal/domain"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// LookupVariants loads every requested variant joined with its published
// product in a single statement, so all entries come from one snapshot.
// Variants that do not exist, or whose product is unpublished, are absent
// from the returned map.
func (r *Repository) LookupVariants(ctx context.Context, variantIDs []string) (map[string]domain.CatalogEntry, error) {
	entries := make(map[string]domain.CatalogEntry, len(variantIDs))
	if len(variantIDs) == 0 {
		return entries, nil
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT p.id, v.id, p.producer_id, p.title, v.size, v.price, v.stock,
			COALESCE((
				SELECT b.id::text FROM batches b
				WHERE b.product_id = p.id
				ORDER BY b.created_at DESC
				LIMIT 1
			), '')
		FROM product_variants v
		JOIN products p ON p.id = v.product_id
		WHERE v.id = ANY($1::uuid[]) AND p.published
	`, pq.Array(variantIDs))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var entry domain.CatalogEntry
		if err := rows.Scan(&entry.ProductID, &entry.VariantID, &entry.ProducerID, &entry.ProductTitle,
			&entry.VariantSize, &entry.Price, &entry.Stock, &entry.BatchID); err != nil {
			return nil, err
		}
		entries[entry.VariantID] = entry
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return entries, nil
}
