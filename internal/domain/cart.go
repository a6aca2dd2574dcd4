package domain

import "github.com/shopspring/decimal"

type CartLine struct {
	ProductID string `json:"productId"`
	VariantID string `json:"variantId"`
	Quantity  int    `json:"quantity"`
}

type CustomerInfo struct {
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// ResolvedLine is a cart line joined against catalog state at one point in
// time. Stock is advisory; nothing is reserved by resolving.
type ResolvedLine struct {
	ProductID      string
	VariantID      string
	ProducerID     string
	ProductTitle   string
	VariantSize    string
	Quantity       int
	UnitPrice      decimal.Decimal
	AvailableStock int
	BatchID        string
}

// SubOrderDraft is one seller's share of a cart before it is persisted.
type SubOrderDraft struct {
	ProducerID   string
	Lines        []DraftLine
	Subtotal     decimal.Decimal
	PlatformFee  decimal.Decimal
	ShippingCost decimal.Decimal
}

type DraftLine struct {
	ResolvedLine
	GST decimal.Decimal
}
