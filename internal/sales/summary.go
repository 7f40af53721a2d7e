package sales

import (
	"fmt"
	"strings"

	"github.com/boddenberg/fenix-agent-go/internal/domain"
	"github.com/boddenberg/fenix-agent-go/internal/payment"
	"github.com/boddenberg/fenix-agent-go/internal/textutil"
)

// Summary renders the draft for the final confirmation.
func Summary(d *domain.OrderDraft) string {
	var lines []string

	if len(d.Items) > 0 {
		lines = append(lines, "• *Productos:*")
		for i, it := range d.Items {
			icon := "⚠️"
			if it.IsRecognized {
				icon = "✅"
			}
			price := "(Sin precio)"
			if it.UnitPrice != nil && !it.UnitPrice.IsZero() {
				price = "(Bs " + it.UnitPrice.StringFixed(2) + ")"
			}
			saleType := ""
			if it.SaleType != nil {
				saleType = " [" + string(*it.SaleType) + "]"
			}
			lines = append(lines, fmt.Sprintf("  %d. %s %s× *%s*%s %s", i+1, icon, it.Qty.String(), it.Name, saleType, price))
		}
	}

	lines = append(lines, fmt.Sprintf("\n• 💰 *Monto Total: %s Bs.*", payment.Total(d.Items).StringFixed(2)))

	if len(d.Payments) > 0 {
		lines = append(lines, "\n• *Pagos Registrados:*")
		for _, p := range d.Payments {
			status := "🚚 A pagar en entrega"
			if p.Status == domain.PaymentCompleted {
				status = "✅ Pagado"
			}
			proof := ""
			if p.ProofURL != nil {
				proof = " (comprobante adjunto)"
			}
			lines = append(lines, fmt.Sprintf("  - Bs %s (%s) - %s%s", p.Amount.StringFixed(2), p.Method, status, proof))
		}
	}

	if d.CustomerName != "" {
		phone := textutil.NormalizePhone(d.CustomerPhone)
		if phone == "" {
			phone = "Teléfono no especificado"
		}
		lines = append(lines, fmt.Sprintf("\n• *Cliente:* %s (%s)", d.CustomerName, phone))
	}
	if d.TimePreference != "" {
		lines = append(lines, "• *Horario:* "+d.TimePreference)
	}
	if d.IsEncomienda != nil {
		switch {
		case !*d.IsEncomienda && d.Location != nil && d.Location.Address != "":
			lines = append(lines, "• *Dirección:* "+d.Location.Address)
		case *d.IsEncomienda && d.Destination != nil:
			lines = append(lines, "• *Destino (Encomienda):* "+*d.Destination)
		}
	}
	if len(d.Notes) > 0 {
		lines = append(lines, "• *Notas:* "+strings.Join(d.Notes, " | "))
	}
	return strings.Join(lines, "\n")
}
