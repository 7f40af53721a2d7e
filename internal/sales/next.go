package sales

import (
	"fmt"

	"github.com/boddenberg/fenix-agent-go/internal/chat"
	"github.com/boddenberg/fenix-agent-go/internal/command"
	"github.com/boddenberg/fenix-agent-go/internal/domain"
	"github.com/boddenberg/fenix-agent-go/internal/payment"
)

// Directive is the outcome of Next: the step to wait on and its prompt.
// Reply is nil when the step needs no prompt.
type Directive struct {
	Step  Step
	Reply *chat.Reply
}

// rule inspects the state and returns a directive when its requirement is unmet.
type rule struct {
	name  string
	check func(st *State) (Directive, bool)
}

// rules are evaluated top to bottom; the first unmet requirement wins.
var rules = []rule{
	{"ambiguous item", func(st *State) (Directive, bool) {
		if len(st.Ambiguous) == 0 {
			return Directive{}, false
		}
		head := st.Ambiguous[0]
		return prompt(AwaitingClarification{Item: head}, clarifyPrompt(head)), true
	}},
	{"sale type", func(st *State) (Directive, bool) {
		for i, it := range st.Draft.Items {
			if it.SaleType == nil {
				name := it.OriginalName
				if name == "" {
					name = it.Name
				}
				return prompt(AwaitingSaleType{Index: i, ItemName: name}, saleTypePrompt(name)), true
			}
		}
		return Directive{}, false
	}},
	{"unit price", func(st *State) (Directive, bool) {
		for i, it := range st.Draft.Items {
			if it.UnitPrice == nil {
				return prompt(AwaitingPrice{Index: i, ItemName: it.Name},
					chat.Text(fmt.Sprintf("¿Cuál es el precio unitario en Bs. para *%s*?", it.Name))), true
			}
		}
		return Directive{}, false
	}},
	{"photo", func(st *State) (Directive, bool) {
		for i, it := range st.Draft.Items {
			if it.ImageURL == nil {
				return prompt(AwaitingPhoto{Index: i, ItemName: it.Name},
					chat.Text(fmt.Sprintf("Ahora, por favor, envía la foto de *%s*", it.Name))), true
			}
		}
		return Directive{}, false
	}},
	{"no items", func(st *State) (Directive, bool) {
		if len(st.Draft.Items) > 0 {
			return Directive{}, false
		}
		if st.Draft.Location != nil {
			return prompt(AwaitingItems{},
				chat.Text("✅ Ubicación registrada. Ahora, por favor, envíame la lista de productos.")), true
		}
		return prompt(Initial{},
			chat.Text("No encontré productos en tu mensaje. Por favor, envíame la lista de productos del pedido.")), true
	}},
	{"customer", func(st *State) (Directive, bool) {
		d := st.Draft
		missingName, missingPhone := d.CustomerName == "", d.CustomerPhone == ""
		if !missingName && !missingPhone {
			return Directive{}, false
		}
		var text string
		switch {
		case missingName && missingPhone:
			text = "Tengo los productos. ¿A nombre de quién es el pedido y cuál es su número de teléfono?"
		case missingName:
			text = fmt.Sprintf("✅ Teléfono %s registrado. Ahora, por favor, dime ¿a nombre de quién es el pedido?", d.CustomerPhone)
		default:
			text = fmt.Sprintf("✅ Nombre \"%s\" registrado. Ahora, por favor, envíame el número de teléfono.", d.CustomerName)
		}
		return prompt(AwaitingCustomer{MissingName: missingName, MissingPhone: missingPhone}, chat.Text(text)), true
	}},
	{"delivery mode", func(st *State) (Directive, bool) {
		if st.Draft.IsEncomienda != nil {
			return Directive{}, false
		}
		return prompt(AwaitingOrderType{}, chat.Reply{
			Text: "Ok, ¿el pedido es para entrega local o es una encomienda?",
			Keyboard: [][]chat.Button{chat.Row(
				chat.Btn("🛵 Entrega Local", command.SetOrderType(false)),
				chat.Btn("📦 Encomienda", command.SetOrderType(true)),
			)},
		}), true
	}},
	{"destination", func(st *State) (Directive, bool) {
		d := st.Draft
		if !*d.IsEncomienda || (d.Destination != nil && *d.Destination != "") {
			return Directive{}, false
		}
		return prompt(AwaitingDestination{},
			chat.Text("Entendido, es encomienda. ¿A qué ciudad o departamento la enviamos?")), true
	}},
	{"location", func(st *State) (Directive, bool) {
		d := st.Draft
		if *d.IsEncomienda || d.Location != nil {
			return Directive{}, false
		}
		return prompt(AwaitingLocation{},
			chat.Text("Ok, es entrega local. Por favor, envíame la ubicación (link de Google Maps o coordenadas).")), true
	}},
	{"payment", func(st *State) (Directive, bool) {
		if len(st.Draft.Payments) > 0 {
			return Directive{}, false
		}
		if st.PaymentMethod == "" {
			return prompt(AwaitingPaymentMethod{}, paymentMethodPrompt()), true
		}
		total := payment.Total(st.Draft.Items)
		if st.Split == domain.SplitPartialNow {
			return prompt(AwaitingPartialAmount{Method: st.PaymentMethod, Total: total}, chat.Text(fmt.Sprintf(
				"Entendido. Se pagará una parte con *%s*. El total es *Bs %s*. ¿Qué monto se pagará ahora?",
				st.PaymentMethod, total.StringFixed(2)))), true
		}
		return prompt(AwaitingPaymentSplit{Method: st.PaymentMethod, Total: total}, paymentSplitPrompt(st.PaymentMethod, total.StringFixed(2))), true
	}},
	{"payment proof", func(st *State) (Directive, bool) {
		i := payment.FirstMissingProof(st.Draft.Payments)
		if i < 0 {
			return Directive{}, false
		}
		p := st.Draft.Payments[i]
		return prompt(AwaitingPaymentProof{PaymentIndex: i}, chat.Text(fmt.Sprintf(
			"Para confirmar el pago de *Bs %s* con *%s*, por favor envía la foto del comprobante.",
			p.Amount.StringFixed(2), p.Method))), true
	}},
}

// Next derives the single next requirement of the sale, records it as the
// current step and returns its prompt. It reads the draft and never changes
// it, so calling it twice in a row yields the same directive.
func Next(st *State) Directive {
	for _, r := range rules {
		if d, ok := r.check(st); ok {
			st.Step = d.Step
			return d
		}
	}
	d := prompt(Confirming{}, chat.Reply{
		Text: "📝 *Resumen del Pedido*\nPor favor, revisa que todo esté correcto:\n\n" + Summary(&st.Draft),
		Keyboard: [][]chat.Button{chat.Row(
			chat.Btn("✅ Confirmar y Enviar Pedido", command.ConfirmOrder()),
			chat.Btn("✏️ Editar", command.EditOrder()),
		)},
	})
	st.Step = d.Step
	return d
}

func prompt(s Step, r chat.Reply) Directive {
	return Directive{Step: s, Reply: &r}
}

func clarifyPrompt(amb domain.AmbiguousItem) chat.Reply {
	rows := make([][]chat.Button, 0, len(amb.Options)+1)
	for _, opt := range amb.Options {
		rows = append(rows, chat.Row(chat.Btn(opt.Name, command.Clarify(opt.ID))))
	}
	rows = append(rows, chat.Row(chat.Btn("❌ Dejar como está", command.ClarifyNone())))
	return chat.Reply{
		Text:     fmt.Sprintf("Para *\"%s\"*, encontré estas opciones. Por favor, selecciona el nombre correcto:", amb.Original.Name),
		Keyboard: rows,
	}
}

func saleTypePrompt(name string) chat.Reply {
	return chat.Reply{
		Text: fmt.Sprintf("Para el producto *\"%s\"*, ¿es venta por mayor o al detalle?", name),
		Keyboard: [][]chat.Button{chat.Row(
			chat.Btn("📦 Venta por Mayor", command.SetSaleType(domain.SaleTypeWholesale, name)),
			chat.Btn("🛍️ Venta al Detalle", command.SetSaleType(domain.SaleTypeRetail, name)),
		)},
	}
}

func paymentMethodPrompt() chat.Reply {
	return chat.Reply{
		Text: "Ya casi terminamos. ¿Cuál será el método de pago?",
		Keyboard: [][]chat.Button{
			chat.Row(
				chat.Btn("💵 Efectivo", command.SetPayment(domain.PaymentCash)),
				chat.Btn("📲 QR", command.SetPayment(domain.PaymentQR)),
			),
			chat.Row(chat.Btn("🏦 Transferencia", command.SetPayment(domain.PaymentTransfer))),
		},
	}
}

func paymentSplitPrompt(method domain.PaymentMethod, total string) chat.Reply {
	return chat.Reply{
		Text: fmt.Sprintf("Perfecto, pago con *%s*. El total es de *Bs %s*. ¿Cómo procederá el cliente?", method, total),
		Keyboard: [][]chat.Button{chat.Row(
			chat.Btn(fmt.Sprintf("Pagar Total (Bs %s) Ahora", total), command.Pay(domain.SplitFullNow)),
			chat.Btn("Pagar una Parte Ahora", command.Pay(domain.SplitPartialNow)),
			chat.Btn("Pagar Todo en la Entrega", command.Pay(domain.SplitFullOnDelivery)),
		)},
	}
}
