package domain

import "fmt"

type TransitionError struct {
	From   SubOrderStatus
	To     SubOrderStatus
	Reason string
}

func (e *TransitionError) Error() string {
	msg := fmt.Sprintf("invalid sub-order transition from %s to %s", e.From, e.To)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

var forwardTransitions = map[SubOrderStatus]SubOrderStatus{
	SubOrderStatusPending:    SubOrderStatusConfirmed,
	SubOrderStatusConfirmed:  SubOrderStatusProcessing,
	SubOrderStatusProcessing: SubOrderStatusPacked,
	SubOrderStatusPacked:     SubOrderStatusShipped,
	SubOrderStatusShipped:    SubOrderStatusDelivered,
}

func (s SubOrderStatus) Valid() bool {
	switch s {
	case SubOrderStatusPending, SubOrderStatusConfirmed, SubOrderStatusProcessing,
		SubOrderStatusPacked, SubOrderStatusShipped, SubOrderStatusDelivered,
		SubOrderStatusCancelled, SubOrderStatusRefunded:
		return true
	}
	return false
}

func (s SubOrderStatus) IsTerminal() bool {
	return s == SubOrderStatusDelivered || s == SubOrderStatusCancelled || s == SubOrderStatusRefunded
}

// CanTransitionTo allows one step along the fulfilment chain, or a jump to
// cancelled/refunded from any non-terminal state.
func (s SubOrderStatus) CanTransitionTo(next SubOrderStatus) bool {
	if s.IsTerminal() {
		return false
	}
	if next == SubOrderStatusCancelled || next == SubOrderStatusRefunded {
		return true
	}
	return forwardTransitions[s] == next
}

func (s SubOrderStatus) TransitionTo(next SubOrderStatus) error {
	if !next.Valid() || !s.CanTransitionTo(next) {
		return &TransitionError{From: s, To: next}
	}
	return nil
}

// SellerTransitionTo is TransitionTo for moves requested by the selling
// producer. A pending sub-order belongs to the payment lifecycle: it is
// confirmed when payment lands and cancelled when the session expires.
func (s SubOrderStatus) SellerTransitionTo(next SubOrderStatus) error {
	if s == SubOrderStatusPending {
		return &TransitionError{From: s, To: next, Reason: "awaiting payment"}
	}
	return s.TransitionTo(next)
}

// HoldsStock reports whether a sub-order in this state still has its line
// items' stock taken out of inventory and not yet shipped.
func (s SubOrderStatus) HoldsStock() bool {
	switch s {
	case SubOrderStatusPending, SubOrderStatusConfirmed, SubOrderStatusProcessing, SubOrderStatusPacked:
		return true
	}
	return false
}

// ReleasesStock reports whether moving into this state gives held stock back.
func (s SubOrderStatus) ReleasesStock() bool {
	return s == SubOrderStatusCancelled || s == SubOrderStatusRefunded
}
