// Package payment creates hosted checkout sessions with the payment
// provider.
package payment

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// ErrUnavailable is returned while the provider circuit is open.
var ErrUnavailable = errors.New("payment provider unavailable")

// MetadataNonce is the session metadata key carrying the reconciliation
// nonce; MetadataOrderID carries the local order id.
const (
	MetadataNonce   = "checkout_nonce"
	MetadataOrderID = "order_id"
)

type LineItem struct {
	Name       string
	UnitAmount decimal.Decimal
	Quantity   int
}

type SessionRequest struct {
	LineItems     []LineItem
	ShippingTotal decimal.Decimal
	Currency      string
	CustomerEmail string
	SuccessURL    string
	CancelURL     string
	Metadata      map[string]string
}

type Session struct {
	ID  string
	URL string
}

type Broker interface {
	CreateSession(ctx context.Context, req SessionRequest) (*Session, error)
}

// ToMinorUnits converts a decimal amount to integer minor currency units,
// rounding half away from zero.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}
