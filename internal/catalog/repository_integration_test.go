//go:build integration

package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joao-fontenele/honey-marketplace/internal/testutil"
)

func TestLookupVariants(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pg := testutil.SetupPostgres(ctx, t)
	defer pg.Cleanup()

	producerID := testutil.SeedProducer(ctx, t, pg.DB, "seller-1", "Hill Apiary")
	leatherwood := testutil.SeedVariant(ctx, t, pg.DB, producerID, "Leatherwood", "500g", "24.50", 7)
	hidden := testutil.SeedVariant(ctx, t, pg.DB, producerID, "Draft Blend", "250g", "9.00", 3)
	_, err := pg.DB.ExecContext(ctx, `UPDATE products SET published = FALSE WHERE id = $1`, hidden.ProductID)
	require.NoError(t, err)

	repo := NewRepository(pg.DB)
	missing := uuid.New().String()

	entries, err := repo.LookupVariants(ctx, []string{leatherwood.VariantID, hidden.VariantID, missing})
	require.NoError(t, err)

	require.Len(t, entries, 1)
	entry := entries[leatherwood.VariantID]
	assert.Equal(t, leatherwood.ProductID, entry.ProductID)
	assert.Equal(t, producerID, entry.ProducerID)
	assert.Equal(t, "Leatherwood", entry.ProductTitle)
	assert.Equal(t, "500g", entry.VariantSize)
	assert.Equal(t, "24.5", entry.Price.String())
	assert.Equal(t, 7, entry.Stock)
	assert.Equal(t, leatherwood.BatchID, entry.BatchID)
}

func TestLookupVariants_Empty(t *testing.T) {
	repo := NewRepository(nil)

	entries, err := repo.LookupVariants(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
