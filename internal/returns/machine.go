package returns

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/boddenberg/fenix-agent-go/internal/chat"
	"github.com/boddenberg/fenix-agent-go/internal/command"
	"github.com/boddenberg/fenix-agent-go/internal/domain"
	"github.com/boddenberg/fenix-agent-go/internal/port"
	"github.com/boddenberg/fenix-agent-go/internal/textutil"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("returns")

// ErrUnhandledCommand is returned for commands that belong to the sale flow.
var ErrUnhandledCommand = errors.New("returns: command not handled by the return flow")

// SubmissionRecorder counts final submissions.
type SubmissionRecorder interface {
	RecordSubmission(kind string, ok bool)
}

// Deps are the collaborators of the return flow.
type Deps struct {
	Orders  port.OrderLookup
	Returns port.ReturnStore
	Metrics SubmissionRecorder
	Logger  *zap.Logger
}

// Machine applies operator input to a return State.
type Machine struct {
	deps Deps
}

// NewMachine creates the return flow.
func NewMachine(deps Deps) *Machine {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Machine{deps: deps}
}

// Start opens a fresh return and asks for the order number.
func (m *Machine) Start(ctx context.Context, st *State, t chat.Turn) {
	*st = State{Step: StepAwaitingOrderNo}
	t.Say(ctx, chat.Text("Entendido. Para iniciar una devolución, por favor, envíame el número del pedido (Ej: 12345)."))
}

// HandleText applies a free-text message to the current step.
func (m *Machine) HandleText(ctx context.Context, st *State, t chat.Turn, text string) error {
	ctx, span := tracer.Start(ctx, "Machine.HandleText")
	defer span.End()
	span.SetAttributes(attribute.String("return.step", string(st.Step)))

	text = strings.TrimSpace(text)
	switch st.Step {
	case StepAwaitingOrderNo:
		return m.lookupOrder(ctx, st, t, text)
	case StepAwaitingQuantity:
		m.applyQuantity(ctx, st, t, text)
	case StepAwaitingReason:
		if text == "" {
			t.Say(ctx, chat.Text("Por favor, describe brevemente el motivo de la devolución."))
			return nil
		}
		st.Details.Reason = text
		st.Step = StepAwaitingAmount
		t.Say(ctx, chat.Text("¿Cuál es el monto total en Bs. que se devolverá al cliente?"))
	case StepAwaitingAmount:
		amount, ok := textutil.ParseAmount(text)
		if !ok || amount.IsNegative() {
			t.Say(ctx, chat.Text("Por favor, introduce un monto válido."))
			return nil
		}
		st.Details.Amount = &amount
		st.Step = StepConfirming
		t.Say(ctx, confirmPrompt(st))
	default:
		t.Say(ctx, chat.Text("Por favor, selecciona una de las opciones del mensaje anterior para continuar. 🙏"))
	}
	return nil
}

func (m *Machine) lookupOrder(ctx context.Context, st *State, t chat.Turn, orderNo string) error {
	orderNo = strings.TrimPrefix(orderNo, "#")
	order, err := m.deps.Orders.FindOrderByNumber(ctx, orderNo)
	var nf *domain.ErrNotFound
	switch {
	case errors.As(err, &nf):
		t.Sayf(ctx, "❌ No encontré ningún pedido con el número *%s*.", orderNo)
		return nil
	case err != nil:
		m.deps.Logger.Error("order lookup failed", zap.String("order_no", orderNo), zap.Error(err))
		return fmt.Errorf("looking up order %s: %w", orderNo, err)
	}

	st.OriginalOrder = order
	st.Step = StepAwaitingItems
	t.Say(ctx, itemsPrompt(order))
	return nil
}

func (m *Machine) applyQuantity(ctx context.Context, st *State, t chat.Turn, text string) {
	line := st.pending()
	qty, ok := textutil.ParseInt(text)
	if !ok || qty <= 0 || line == nil {
		t.Say(ctx, chat.Text("Por favor, introduce una cantidad numérica válida."))
		return
	}
	if ordered, found := st.orderedQty(line.ProductName); found && qty > ordered {
		t.Sayf(ctx, "El pedido solo tiene %d unidad(es) de *%s*. Introduce una cantidad válida.", ordered, line.ProductName)
		return
	}
	line.Qty = qty
	st.Step = StepAwaitingReason
	t.Say(ctx, chat.Text("Perfecto. Ahora, describe brevemente el motivo de la devolución."))
}

// orderedQty is the quantity of the named line in the original order.
func (s *State) orderedQty(name string) (int, bool) {
	if s.OriginalOrder == nil {
		return 0, false
	}
	for _, it := range s.OriginalOrder.Items {
		if it.ProductName == name {
			return int(it.Quantity.IntPart()), true
		}
	}
	return 0, false
}

// HandleCommand applies a button press.
func (m *Machine) HandleCommand(ctx context.Context, st *State, t chat.Turn, cmd command.Command) error {
	ctx, span := tracer.Start(ctx, "Machine.HandleCommand")
	defer span.End()
	span.SetAttributes(attribute.String("return.command", cmd.Kind.String()))

	switch cmd.Kind {
	case command.KindReturnItem:
		if st.Step != StepAwaitingItems || st.OriginalOrder == nil {
			return nil
		}
		item := st.OriginalOrder.FindItem(cmd.ItemID)
		if item == nil {
			t.Say(ctx, itemsPrompt(st.OriginalOrder))
			return nil
		}
		st.Details.Items = []domain.ReturnedItem{{ProductName: item.ProductName}}
		st.Step = StepAwaitingQuantity
		t.Sayf(ctx, "Entendido. ¿Cuántas unidades de *%s* se devuelven?", item.ProductName)
	case command.KindConfirmReturn:
		if st.Step != StepConfirming {
			return nil
		}
		return m.confirm(ctx, st, t)
	case command.KindCancelReturn:
		st.Reset()
		t.Say(ctx, chat.Text("Operación de devolución cancelada."))
	default:
		return fmt.Errorf("%w: %s", ErrUnhandledCommand, cmd.Kind)
	}
	return nil
}

func (m *Machine) confirm(ctx context.Context, st *State, t chat.Turn) error {
	t.Say(ctx, chat.Text("⏳ Registrando la devolución..."))

	receipt, err := m.deps.Returns.InsertReturn(ctx, st.OriginalOrder, &st.Details, t.Operator)
	if m.deps.Metrics != nil {
		m.deps.Metrics.RecordSubmission("return", err == nil)
	}
	if err != nil {
		m.deps.Logger.Error("return insert failed",
			zap.Int64("chat_id", t.ChatID),
			zap.String("order_no", st.OriginalOrder.OrderNumber.String()),
			zap.Error(err),
		)
		t.Sayf(ctx, "❌ No pude guardar la devolución. Error: %s", err.Error())
		return nil
	}

	m.deps.Logger.Info("return registered",
		zap.Int64("chat_id", t.ChatID),
		zap.String("return_id", receipt.ID.String()),
	)
	t.Sayf(ctx, "✅ ¡Devolución #%s registrada para el pedido #%s!", receipt.ID, st.OriginalOrder.OrderNumber)
	st.Reset()
	return nil
}

func itemsPrompt(o *domain.OrderSnapshot) chat.Reply {
	rows := make([][]chat.Button, 0, len(o.Items))
	for _, it := range o.Items {
		label := fmt.Sprintf("%sx %s", it.Quantity.String(), it.ProductName)
		rows = append(rows, chat.Row(chat.Btn(label, command.ReturnItem(it.ID.String()))))
	}
	return chat.Reply{
		Text:     fmt.Sprintf("Pedido #%s encontrado (Cliente: *%s*). ¿Qué producto se va a devolver?", o.OrderNumber, o.CustomerName),
		Keyboard: rows,
	}
}

func confirmPrompt(st *State) chat.Reply {
	return chat.Reply{
		Text: "📝 *Resumen de Devolución*\nPor favor, revisa que todo sea correcto:\n\n" + Summary(st),
		Keyboard: [][]chat.Button{chat.Row(
			chat.Btn("✅ Confirmar Devolución", command.ConfirmReturn()),
			chat.Btn("❌ Cancelar", command.CancelReturn()),
		)},
	}
}

// Summary renders the return draft for confirmation.
func Summary(st *State) string {
	o := st.OriginalOrder
	if o == nil {
		return ""
	}
	lines := []string{
		"• *Pedido Original:* #" + o.OrderNumber.String(),
		"• *Cliente:* " + o.CustomerName,
		"• *Vendedor Original:* " + o.Seller,
		"• *Ítem a devolver:*",
	}
	for _, it := range st.Details.Items {
		lines = append(lines, fmt.Sprintf("  - %dx %s", it.Qty, it.ProductName))
	}
	lines = append(lines, "• *Motivo:* "+st.Details.Reason)
	if st.Details.Amount != nil {
		lines = append(lines, fmt.Sprintf("• *Monto a Devolver:* %s Bs.", st.Details.Amount.StringFixed(2)))
	}
	return strings.Join(lines, "\n")
}
