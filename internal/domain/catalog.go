package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type VerificationStatus string

const (
	VerificationPending  VerificationStatus = "pending"
	VerificationApproved VerificationStatus = "approved"
	VerificationRejected VerificationStatus = "rejected"
)

type Producer struct {
	ID           string             `json:"id"`
	UserID       string             `json:"user_id"`
	BusinessName string             `json:"business_name"`
	Email        string             `json:"email"`
	Status       VerificationStatus `json:"status"`
	CreatedAt    time.Time          `json:"created_at"`
}

// CatalogEntry is a product joined with one of its variants, as read at
// checkout time.
type CatalogEntry struct {
	ProductID    string
	VariantID    string
	ProducerID   string
	ProductTitle string
	VariantSize  string
	Price        decimal.Decimal
	Stock        int
	BatchID      string
}
