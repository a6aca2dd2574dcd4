//go:build integration

package users

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joao-fontenele/honey-marketplace/internal/testutil"
)

func TestEnsureUser_KeepsFirstRow(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pg := testutil.SetupPostgres(ctx, t)
	defer pg.Cleanup()

	repo := NewRepository(pg.DB)

	require.NoError(t, repo.EnsureUser(ctx, "user-1", "first@example.com"))
	require.NoError(t, repo.EnsureUser(ctx, "user-1", "second@example.com"))

	var email string
	require.NoError(t, pg.DB.QueryRowContext(ctx, `SELECT email FROM users WHERE id = $1`, "user-1").Scan(&email))
	assert.Equal(t, "first@example.com", email)

	assert.Error(t, repo.EnsureUser(ctx, "", "nobody@example.com"))
}
