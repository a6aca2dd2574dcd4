package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PendingSessionPrefix marks a payment session id that is still a local
// placeholder and has not been replaced by the provider's real session id.
const PendingSessionPrefix = "pending_"

type SubOrderStatus string

const (
	SubOrderStatusPending    SubOrderStatus = "pending"
	SubOrderStatusConfirmed  SubOrderStatus = "confirmed"
	SubOrderStatusProcessing SubOrderStatus = "processing"
	SubOrderStatusPacked     SubOrderStatus = "packed"
	SubOrderStatusShipped    SubOrderStatus = "shipped"
	SubOrderStatusDelivered  SubOrderStatus = "delivered"
	SubOrderStatusCancelled  SubOrderStatus = "cancelled"
	SubOrderStatusRefunded   SubOrderStatus = "refunded"
)

type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "pending"
	PaymentStatusPaid    PaymentStatus = "paid"
	PaymentStatusFailed  PaymentStatus = "failed"
	PaymentStatusExpired PaymentStatus = "expired"
)

type ShippingAddress struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Street    string `json:"street"`
	Suburb    string `json:"suburb"`
	State     string `json:"state"`
	Postcode  string `json:"postcode"`
	Country   string `json:"country"`
}

// ProvenanceSnapshot freezes batch details on a line item at order time.
// Only BatchID is carried today; the remaining fields stay blank.
type ProvenanceSnapshot struct {
	BatchID       string   `json:"batch_id"`
	Region        string   `json:"region"`
	HarvestDate   string   `json:"harvest_date"`
	FloralSources []string `json:"floral_sources"`
}

type OrderLineItem struct {
	ID           string             `json:"id"`
	SubOrderID   string             `json:"sub_order_id"`
	ProductID    string             `json:"product_id"`
	VariantID    string             `json:"variant_id"`
	ProductTitle string             `json:"product_title"`
	VariantSize  string             `json:"variant_size"`
	Quantity     int                `json:"quantity"`
	UnitPrice    decimal.Decimal    `json:"unit_price"`
	GST          decimal.Decimal    `json:"gst"`
	Provenance   ProvenanceSnapshot `json:"provenance"`
}

// LineTotal is unit price times quantity, unrounded.
func (li OrderLineItem) LineTotal() decimal.Decimal {
	return li.UnitPrice.Mul(decimal.NewFromInt(int64(li.Quantity)))
}

type SubOrder struct {
	ID           string          `json:"id"`
	OrderID      string          `json:"order_id"`
	ProducerID   string          `json:"producer_id"`
	Status       SubOrderStatus  `json:"status"`
	Subtotal     decimal.Decimal `json:"subtotal"`
	ShippingCost decimal.Decimal `json:"shipping_cost"`
	PlatformFee  decimal.Decimal `json:"platform_fee"`
	Items        []OrderLineItem `json:"items"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

type PaymentRecord struct {
	ID        string          `json:"id"`
	OrderID   string          `json:"order_id"`
	SessionID string          `json:"session_id"`
	Nonce     string          `json:"-"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	Status    PaymentStatus   `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// HasPlaceholderSession reports whether the session id is still the local
// pending placeholder.
func (p PaymentRecord) HasPlaceholderSession() bool {
	return strings.HasPrefix(p.SessionID, PendingSessionPrefix)
}

type Order struct {
	ID              string          `json:"id"`
	BuyerID         string          `json:"buyer_id"`
	Customer        CustomerInfo    `json:"customer"`
	ShippingAddress ShippingAddress `json:"shipping_address"`
	SubOrders       []SubOrder      `json:"sub_orders"`
	Payment         *PaymentRecord  `json:"payment,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Total is the sum of every sub-order subtotal plus its shipping share; it is
// the amount the payment provider charges for the order.
func (o Order) Total() decimal.Decimal {
	total := decimal.Zero
	for _, so := range o.SubOrders {
		total = total.Add(so.Subtotal).Add(so.ShippingCost)
	}
	return total
}
