package checkout

import (
	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/honey-marketplace/internal/domain"
)

var gstRate = decimal.RequireFromString("0.10")

// ShippingPolicy prices shipping for a whole order.
type ShippingPolicy struct {
	FlatFee decimal.Decimal
	// FreeThreshold waives shipping when merchandise reaches it. Zero
	// disables the waiver.
	FreeThreshold decimal.Decimal
}

func (p ShippingPolicy) Total(merchandise decimal.Decimal) decimal.Decimal {
	if p.FreeThreshold.IsPositive() && merchandise.GreaterThanOrEqual(p.FreeThreshold) {
		return decimal.Zero
	}
	return p.FlatFee
}

// Merchandise is the sum of unit price times quantity over all lines.
func Merchandise(lines []domain.ResolvedLine) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}
	return total
}

// Partition groups lines by seller in order of first appearance, preserving
// line order within each group. Shipping is split evenly across sellers
// regardless of item count or weight.
func Partition(lines []domain.ResolvedLine, shippingTotal, feeRate decimal.Decimal) []domain.SubOrderDraft {
	index := make(map[string]int)
	var drafts []domain.SubOrderDraft

	for _, l := range lines {
		i, ok := index[l.ProducerID]
		if !ok {
			i = len(drafts)
			index[l.ProducerID] = i
			drafts = append(drafts, domain.SubOrderDraft{ProducerID: l.ProducerID, Subtotal: decimal.Zero})
		}

		d := &drafts[i]
		d.Lines = append(d.Lines, domain.DraftLine{
			ResolvedLine: l,
			GST:          l.UnitPrice.Mul(gstRate).Round(2),
		})
		d.Subtotal = d.Subtotal.Add(l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}

	shares := ShareShipping(shippingTotal, len(drafts))
	for i := range drafts {
		drafts[i].PlatformFee = drafts[i].Subtotal.Mul(feeRate).Round(2)
		drafts[i].ShippingCost = shares[i]
	}

	return drafts
}

// ShareShipping splits total into n cent-precise shares that sum exactly to
// total. Leftover cents go to the first share.
func ShareShipping(total decimal.Decimal, n int) []decimal.Decimal {
	if n <= 0 {
		return nil
	}

	base := total.Div(decimal.NewFromInt(int64(n))).Truncate(2)
	shares := make([]decimal.Decimal, n)
	for i := range shares {
		shares[i] = base
	}
	shares[0] = total.Sub(base.Mul(decimal.NewFromInt(int64(n - 1))))

	return shares
}
