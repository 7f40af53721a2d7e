// Package sales is the order-collection dialog: it derives the single next
// requirement of the draft, prompts for it, and applies the answer.
package sales

import (
	"github.com/boddenberg/fenix-agent-go/internal/domain"

	"github.com/shopspring/decimal"
)

// Step is the requirement the dialog is waiting on. The set of variants is
// closed; each carries only what its prompt and its answer need.
type Step interface {
	Tag() string
	step()
}

type (
	// Initial is the idle step: free text is read as an order.
	Initial struct{}
	// AwaitingItems means a location arrived before any product.
	AwaitingItems struct{}
	// AwaitingClarification waits for the head of the ambiguity queue to be chosen.
	AwaitingClarification struct{ Item domain.AmbiguousItem }
	// AwaitingSaleType waits for the wholesale/retail choice of one item.
	AwaitingSaleType struct {
		Index    int
		ItemName string
	}
	// AwaitingPrice waits for the unit price of one item.
	AwaitingPrice struct {
		Index    int
		ItemName string
	}
	// AwaitingPhoto waits for the product photo of one item.
	AwaitingPhoto struct {
		Index    int
		ItemName string
	}
	AwaitingCustomer struct {
		MissingName  bool
		MissingPhone bool
	}
	AwaitingOrderType     struct{}
	AwaitingDestination   struct{}
	AwaitingLocation      struct{}
	AwaitingPaymentMethod struct{}
	AwaitingPaymentSplit struct {
		Method domain.PaymentMethod
		Total  decimal.Decimal
	}
	AwaitingPartialAmount struct {
		Method domain.PaymentMethod
		Total  decimal.Decimal
	}
	// AwaitingPaymentProof waits for the proof photo of Payments[PaymentIndex].
	AwaitingPaymentProof struct{ PaymentIndex int }
	Confirming           struct{}
)

func (Initial) Tag() string               { return "initial" }
func (AwaitingItems) Tag() string         { return "awaiting_items" }
func (AwaitingClarification) Tag() string { return "awaiting_clarification" }
func (AwaitingSaleType) Tag() string      { return "awaiting_sale_type" }
func (AwaitingPrice) Tag() string         { return "awaiting_price" }
func (AwaitingPhoto) Tag() string         { return "awaiting_photo" }
func (AwaitingCustomer) Tag() string      { return "awaiting_customer" }
func (AwaitingOrderType) Tag() string     { return "awaiting_order_type" }
func (AwaitingDestination) Tag() string   { return "awaiting_destination" }
func (AwaitingLocation) Tag() string      { return "awaiting_location" }
func (AwaitingPaymentMethod) Tag() string { return "awaiting_payment_method" }
func (AwaitingPaymentSplit) Tag() string  { return "awaiting_payment_split" }
func (AwaitingPartialAmount) Tag() string { return "awaiting_partial_amount" }
func (AwaitingPaymentProof) Tag() string  { return "awaiting_payment_proof" }
func (Confirming) Tag() string            { return "confirming" }

func (Initial) step()               {}
func (AwaitingItems) step()         {}
func (AwaitingClarification) step() {}
func (AwaitingSaleType) step()      {}
func (AwaitingPrice) step()         {}
func (AwaitingPhoto) step()         {}
func (AwaitingCustomer) step()      {}
func (AwaitingOrderType) step()     {}
func (AwaitingDestination) step()   {}
func (AwaitingLocation) step()      {}
func (AwaitingPaymentMethod) step() {}
func (AwaitingPaymentSplit) step()  {}
func (AwaitingPartialAmount) step() {}
func (AwaitingPaymentProof) step()  {}
func (Confirming) step()            {}

// State is the sale side of a session.
type State struct {
	Step          Step
	PaymentMethod domain.PaymentMethod
	// Split remembers that "pay part now" was chosen, so the partial amount
	// prompt is re-derived until the amount arrives.
	Split     domain.PaymentSplit
	Ambiguous []domain.AmbiguousItem
	Draft     domain.OrderDraft
}

// NewState returns an idle sale with an empty draft.
func NewState() State {
	return State{Step: Initial{}}
}

// Reset discards the draft and returns to idle.
func (s *State) Reset() { *s = NewState() }

// Active reports whether a sale is in progress.
func (s *State) Active() bool {
	if s.Step == nil {
		return false
	}
	_, idle := s.Step.(Initial)
	return !idle || len(s.Draft.Items) > 0 || len(s.Ambiguous) > 0
}

// buttonOnly reports whether the step only accepts a keyboard answer.
func buttonOnly(s Step) bool {
	switch s.(type) {
	case AwaitingClarification, AwaitingSaleType, AwaitingOrderType,
		AwaitingPaymentMethod, AwaitingPaymentSplit, Confirming:
		return true
	}
	return false
}
