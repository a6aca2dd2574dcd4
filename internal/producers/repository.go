package producers

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/joao-fontenele/honey-marketplace/internal/domain"
)

var ErrAlreadyRegistered = errors.New("user already has a producer profile")

const uniqueViolation = "23505"

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Create stores a new producer awaiting verification. A user owns at most one
// producer; a second registration returns ErrAlreadyRegistered.
func (r *Repository) Create(ctx context.Context, p *domain.Producer) error {
	p.ID = uuid.New().String()
	p.Status = domain.VerificationPending
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO producers (id, user_id, business_name, email, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, p.ID, p.UserID, p.BusinessName, p.Email, p.Status, p.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return ErrAlreadyRegistered
		}
		return err
	}

	return nil
}

func (r *Repository) GetByUserID(ctx context.Context, userID string) (*domain.Producer, error) {
	var p domain.Producer
	err := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, business_name, email, status, created_at
		FROM producers
		WHERE user_id = $1
	`, userID).Scan(&p.ID, &p.UserID, &p.BusinessName, &p.Email, &p.Status, &p.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}
