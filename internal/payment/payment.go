// Package payment computes order totals and builds the payment records for
// the three collection modes the bot offers.
package payment

import (
	"fmt"

	"github.com/boddenberg/fenix-agent-go/internal/domain"

	"github.com/shopspring/decimal"
)

// Total is Σ qty × unitPrice. A missing price counts as 0 and a missing or
// zero quantity as 1.
func Total(items []domain.Item) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		qty := it.Qty
		if qty.IsZero() {
			qty = decimal.NewFromInt(1)
		}
		if it.UnitPrice == nil {
			continue
		}
		total = total.Add(qty.Mul(*it.UnitPrice))
	}
	return total
}

// FullNow records the whole total as paid with method.
func FullNow(total decimal.Decimal, method domain.PaymentMethod) domain.Payment {
	return domain.Payment{Amount: total, Method: method, Status: domain.PaymentCompleted}
}

// FullOnDelivery records the whole total as cash collected on delivery,
// whatever method was chosen before.
func FullOnDelivery(total decimal.Decimal) domain.Payment {
	return domain.Payment{Amount: total, Method: domain.PaymentCash, Status: domain.PaymentPending}
}

// Partial records the part paid now. The remainder is due on delivery and is
// not materialized as a second payment.
func Partial(total decimal.Decimal, method domain.PaymentMethod, amount decimal.Decimal) (domain.Payment, error) {
	if !amount.IsPositive() || amount.GreaterThanOrEqual(total) {
		return domain.Payment{}, &domain.ErrValidation{
			Field:   "amount",
			Message: fmt.Sprintf("must be greater than 0 and less than %s", total.StringFixed(2)),
		}
	}
	return domain.Payment{Amount: amount, Method: method, Status: domain.PaymentCompleted}, nil
}

// NeedsProof reports whether p still requires a proof-of-payment image.
func NeedsProof(p domain.Payment) bool {
	return p.Status == domain.PaymentCompleted && p.Method != domain.PaymentCash && p.ProofURL == nil
}

// FirstMissingProof returns the index of the first payment that needs proof, or -1.
func FirstMissingProof(payments []domain.Payment) int {
	for i, p := range payments {
		if NeedsProof(p) {
			return i
		}
	}
	return -1
}

// Sum adds up the recorded payment amounts.
func Sum(payments []domain.Payment) decimal.Decimal {
	sum := decimal.Zero
	for _, p := range payments {
		sum = sum.Add(p.Amount)
	}
	return sum
}
