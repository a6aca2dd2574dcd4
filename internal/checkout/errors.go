package checkout

import (
	"errors"

	"github.com/joao-fontenele/honey-marketplace/internal/domain"
)

var (
	ErrEmptyCart       = errors.New("cart is empty")
	ErrInvalidCartItem = errors.New("invalid cart item")
	ErrInvalidQuantity = errors.New("invalid quantity")
	ErrStockRaceLost   = domain.ErrStockRaceLost
	ErrSessionCreate   = errors.New("failed to create checkout session")
	ErrReconcile       = errors.New("failed to record checkout session")
)

// ValidationError reports a malformed contact or address field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// IsClientError reports whether err is correctable by the caller.
func IsClientError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve) ||
		errors.Is(err, ErrEmptyCart) ||
		errors.Is(err, ErrInvalidCartItem) ||
		errors.Is(err, ErrInvalidQuantity)
}
