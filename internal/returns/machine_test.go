package returns

import (
	"context"
	"errors"
	"testing"

	"github.com/boddenberg/fenix-agent-go/internal/chat"
	"github.com/boddenberg/fenix-agent-go/internal/command"
	"github.com/boddenberg/fenix-agent-go/internal/domain"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeLookup struct {
	order *domain.OrderSnapshot
	err   error
	asked []string
}

func (f *fakeLookup) FindOrderByNumber(_ context.Context, orderNo string) (*domain.OrderSnapshot, error) {
	f.asked = append(f.asked, orderNo)
	if f.err != nil {
		return nil, f.err
	}
	if f.order == nil || f.order.OrderNumber.String() != orderNo {
		return nil, &domain.ErrNotFound{Resource: "order", ID: orderNo}
	}
	return f.order, nil
}

type fakeReturns struct {
	err     error
	details []domain.ReturnDetails
}

func (f *fakeReturns) InsertReturn(_ context.Context, _ *domain.OrderSnapshot, d *domain.ReturnDetails, _ *domain.OperatorProfile) (*domain.ReturnReceipt, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.details = append(f.details, *d)
	return &domain.ReturnReceipt{ID: "77"}, nil
}

type submissions map[bool]int

func (s submissions) RecordSubmission(_ string, ok bool) { s[ok]++ }

func order() *domain.OrderSnapshot {
	return &domain.OrderSnapshot{
		ID:           "o-1",
		OrderNumber:  "1042",
		CustomerName: "Juan",
		Seller:       "Ana",
		Items: []domain.OrderSnapshotItem{
			{ID: "5", ProductName: "POLERA ALGODON", Quantity: decimal.NewFromInt(3)},
			{ID: "6", ProductName: "GORRA NEGRA", Quantity: decimal.NewFromInt(1)},
		},
	}
}

type fixture struct {
	m       *Machine
	st      State
	out     *chat.Transcript
	turn    chat.Turn
	lookup  *fakeLookup
	store   *fakeReturns
	metrics submissions
}

func newFixture() *fixture {
	f := &fixture{
		out:     &chat.Transcript{},
		lookup:  &fakeLookup{order: order()},
		store:   &fakeReturns{},
		metrics: submissions{},
	}
	f.turn = chat.Turn{ChatID: 9, Out: f.out}
	f.m = NewMachine(Deps{Orders: f.lookup, Returns: f.store, Metrics: f.metrics, Logger: zap.NewNop()})
	f.m.Start(context.Background(), &f.st, f.turn)
	return f
}

func (f *fixture) text(t *testing.T, s string) {
	t.Helper()
	require.NoError(t, f.m.HandleText(context.Background(), &f.st, f.turn, s))
}

func (f *fixture) press(t *testing.T, c command.Command) {
	t.Helper()
	require.NoError(t, f.m.HandleCommand(context.Background(), &f.st, f.turn, c))
}

func (f *fixture) last() string { return f.out.Last().Text }

func TestMachine_FullReturn(t *testing.T) {
	f := newFixture()
	assert.Equal(t, StepAwaitingOrderNo, f.st.Step)
	assert.True(t, f.st.Active())
	assert.Equal(t, "Entendido. Para iniciar una devolución, por favor, envíame el número del pedido (Ej: 12345).", f.last())

	f.text(t, "#1042")
	assert.Equal(t, []string{"1042"}, f.lookup.asked)
	assert.Equal(t, StepAwaitingItems, f.st.Step)
	assert.Equal(t, "Pedido #1042 encontrado (Cliente: *Juan*). ¿Qué producto se va a devolver?", f.last())
	assert.Equal(t, []command.Command{command.ReturnItem("5"), command.ReturnItem("6")}, f.out.Last().Commands())
	assert.Equal(t, "3x POLERA ALGODON", f.out.Last().Keyboard[0][0].Label)

	f.press(t, command.ReturnItem("5"))
	assert.Equal(t, StepAwaitingQuantity, f.st.Step)
	assert.Equal(t, "Entendido. ¿Cuántas unidades de *POLERA ALGODON* se devuelven?", f.last())

	f.text(t, "2")
	assert.Equal(t, StepAwaitingReason, f.st.Step)

	f.text(t, "talla incorrecta")
	assert.Equal(t, StepAwaitingAmount, f.st.Step)

	f.text(t, "Bs 100,50")
	assert.Equal(t, StepConfirming, f.st.Step)
	assert.Contains(t, f.last(), "  - 2x POLERA ALGODON")
	assert.Contains(t, f.last(), "• *Vendedor Original:* Ana")
	assert.Contains(t, f.last(), "• *Monto a Devolver:* 100.50 Bs.")
	assert.Equal(t, []command.Command{command.ConfirmReturn(), command.CancelReturn()}, f.out.Last().Commands())

	f.press(t, command.ConfirmReturn())
	require.Len(t, f.store.details, 1)
	assert.Equal(t, []domain.ReturnedItem{{ProductName: "POLERA ALGODON", Qty: 2}}, f.store.details[0].Items)
	assert.Equal(t, "talla incorrecta", f.store.details[0].Reason)
	assert.Equal(t, "✅ ¡Devolución #77 registrada para el pedido #1042!", f.last())
	assert.False(t, f.st.Active())
	assert.Equal(t, 1, f.metrics[true])
}

func TestMachine_UnknownOrderStays(t *testing.T) {
	f := newFixture()
	f.text(t, "999")
	assert.Equal(t, "❌ No encontré ningún pedido con el número *999*.", f.last())
	assert.Equal(t, StepAwaitingOrderNo, f.st.Step)
	assert.Nil(t, f.st.OriginalOrder)
}

func TestMachine_LookupFailureIsReturned(t *testing.T) {
	f := newFixture()
	f.lookup.err = &domain.ErrExternalService{Service: "supabase", Err: errors.New("boom")}

	err := f.m.HandleText(context.Background(), &f.st, f.turn, "1042")
	var ext *domain.ErrExternalService
	assert.ErrorAs(t, err, &ext)
	assert.Equal(t, StepAwaitingOrderNo, f.st.Step)
}

func TestMachine_InputValidation(t *testing.T) {
	f := newFixture()
	f.text(t, "1042")
	f.press(t, command.ReturnItem("6"))

	for _, bad := range []string{"cero", "0", "-1"} {
		f.text(t, bad)
		assert.Equal(t, "Por favor, introduce una cantidad numérica válida.", f.last(), bad)
		assert.Equal(t, StepAwaitingQuantity, f.st.Step)
	}
	f.text(t, "2")
	assert.Contains(t, f.last(), "solo tiene 1 unidad(es)")
	assert.Equal(t, StepAwaitingQuantity, f.st.Step)

	f.text(t, "1")
	f.text(t, "   ")
	assert.Equal(t, StepAwaitingReason, f.st.Step)

	f.text(t, "fallada")
	f.text(t, "nada")
	assert.Equal(t, "Por favor, introduce un monto válido.", f.last())
	f.text(t, "0")
	assert.Equal(t, StepConfirming, f.st.Step)
}

func TestMachine_UnknownItemReprompts(t *testing.T) {
	f := newFixture()
	f.text(t, "1042")
	f.press(t, command.ReturnItem("404"))
	assert.Equal(t, StepAwaitingItems, f.st.Step)
	assert.Contains(t, f.last(), "¿Qué producto se va a devolver?")
}

func TestMachine_FailedInsertKeepsDraft(t *testing.T) {
	f := newFixture()
	f.text(t, "1042")
	f.press(t, command.ReturnItem("5"))
	f.text(t, "1")
	f.text(t, "mancha")
	f.text(t, "50")
	f.store.err = errors.New("insert failed")

	f.press(t, command.ConfirmReturn())
	assert.Equal(t, "❌ No pude guardar la devolución. Error: insert failed", f.last())
	assert.Equal(t, StepConfirming, f.st.Step)
	assert.Equal(t, "mancha", f.st.Details.Reason)
	assert.Equal(t, 1, f.metrics[false])
}

func TestMachine_CancelResets(t *testing.T) {
	f := newFixture()
	f.text(t, "1042")
	f.press(t, command.CancelReturn())
	assert.Equal(t, "Operación de devolución cancelada.", f.last())
	assert.Equal(t, State{Step: StepInitial}, f.st)
}

func TestMachine_SaleCommandIsNotHandled(t *testing.T) {
	f := newFixture()
	err := f.m.HandleCommand(context.Background(), &f.st, f.turn, command.ConfirmOrder())
	assert.ErrorIs(t, err, ErrUnhandledCommand)
}
