// Package returns implements the linear dialog that registers a product
// return against an existing order.
package returns

import "github.com/boddenberg/fenix-agent-go/internal/domain"

// Step is the return dialog position. Steps only move forward.
type Step string

const (
	StepInitial          Step = "initial"
	StepAwaitingOrderNo  Step = "awaiting_order_no"
	StepAwaitingItems    Step = "awaiting_items"
	StepAwaitingQuantity Step = "awaiting_quantity"
	StepAwaitingReason   Step = "awaiting_reason"
	StepAwaitingAmount   Step = "awaiting_amount"
	StepConfirming       Step = "confirming"
)

// State is the return sub-state of a session.
type State struct {
	Step          Step
	OriginalOrder *domain.OrderSnapshot
	Details       domain.ReturnDetails
}

// Active reports whether a return dialog is in progress.
func (s *State) Active() bool {
	return s.Step != "" && s.Step != StepInitial
}

// Reset discards the return draft.
func (s *State) Reset() {
	*s = State{Step: StepInitial}
}

// pending is the line picked at awaiting_items whose quantity is still unknown.
func (s *State) pending() *domain.ReturnedItem {
	if n := len(s.Details.Items); n > 0 {
		return &s.Details.Items[n-1]
	}
	return nil
}
