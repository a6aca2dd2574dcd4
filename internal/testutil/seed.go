package testutil

import (
	"context"
	"database/sql"
	"testing"

	"github.com/google/uuid"
)

// Variant identifies a seeded product variant and the batch attached to its
// product.
type Variant struct {
	ProducerID string
	ProductID  string
	VariantID  string
	BatchID    string
}

// SeedUser inserts a user row, ignoring duplicates.
func SeedUser(ctx context.Context, t *testing.T, db *sql.DB, id, email string) {
	t.Helper()

	_, err := db.ExecContext(ctx,
		`INSERT INTO users (id, email) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`, id, email)
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
}

// SeedProducer inserts an approved producer owned by userID and returns its id.
func SeedProducer(ctx context.Context, t *testing.T, db *sql.DB, userID, name string) string {
	t.Helper()

	SeedUser(ctx, t, db, userID, userID+"@example.com")

	id := uuid.New().String()
	_, err := db.ExecContext(ctx, `
		INSERT INTO producers (id, user_id, business_name, email, status)
		VALUES ($1, $2, $3, $4, 'approved')
	`, id, userID, name, userID+"@example.com")
	if err != nil {
		t.Fatalf("seed producer: %v", err)
	}
	return id
}

// SeedVariant inserts a published product with one batch and one variant.
func SeedVariant(ctx context.Context, t *testing.T, db *sql.DB, producerID, title, size, price string, stock int) Variant {
	t.Helper()

	v := Variant{
		ProducerID: producerID,
		ProductID:  uuid.New().String(),
		VariantID:  uuid.New().String(),
		BatchID:    uuid.New().String(),
	}

	if _, err := db.ExecContext(ctx,
		`INSERT INTO products (id, producer_id, title) VALUES ($1, $2, $3)`,
		v.ProductID, producerID, title); err != nil {
		t.Fatalf("seed product: %v", err)
	}
	if _, err := db.ExecContext(ctx, `
		INSERT INTO batches (id, product_id, region, floral_sources)
		VALUES ($1, $2, 'Tasmania', '{leatherwood}')
	`, v.BatchID, v.ProductID); err != nil {
		t.Fatalf("seed batch: %v", err)
	}
	if _, err := db.ExecContext(ctx, `
		INSERT INTO product_variants (id, product_id, size, price, stock)
		VALUES ($1, $2, $3, $4, $5)
	`, v.VariantID, v.ProductID, size, price, stock); err != nil {
		t.Fatalf("seed variant: %v", err)
	}
	return v
}

// Stock reads the current stock of a variant.
func Stock(ctx context.Context, t *testing.T, db *sql.DB, variantID string) int {
	t.Helper()

	var stock int
	if err := db.QueryRowContext(ctx,
		`SELECT stock FROM product_variants WHERE id = $1`, variantID).Scan(&stock); err != nil {
		t.Fatalf("read stock: %v", err)
	}
	return stock
}
