package users

import (
	"context"
	"database/sql"
	"errors"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// EnsureUser materializes a user row for an authenticated identity the
// first time it is seen. Existing rows are left untouched.
func (r *Repository) EnsureUser(ctx context.Context, id, email string) error {
	if id == "" {
		return errors.New("empty user id")
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, email)
		VALUES ($1, $2)
		ON CONFLICT (id) DO NOTHING
	`, id, email)
	return err
}
