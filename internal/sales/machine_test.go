package sales

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/boddenberg/fenix-agent-go/internal/catalog"
	"github.com/boddenberg/fenix-agent-go/internal/chat"
	"github.com/boddenberg/fenix-agent-go/internal/command"
	"github.com/boddenberg/fenix-agent-go/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// --- fakes ---

type fakeSearcher struct {
	byTerm map[string][]domain.CandidateProduct
}

func (f *fakeSearcher) SearchProducts(_ context.Context, term string, _ int) ([]domain.CandidateProduct, error) {
	return f.byTerm[term], nil
}

type fakeExtractor struct {
	result *domain.Extraction
	err    error
	calls  int
}

func (f *fakeExtractor) Extract(context.Context, string) (*domain.Extraction, error) {
	f.calls++
	return f.result, f.err
}

type fakeLocator struct {
	text   *domain.LocationResult
	locate *domain.LocationResult
}

func (f *fakeLocator) ResolveText(context.Context, string) *domain.LocationResult { return f.text }
func (f *fakeLocator) Locate(context.Context, string) *domain.LocationResult      { return f.locate }
func (f *fakeLocator) ResolveCoordinates(_ context.Context, lat, lng float64) *domain.LocationResult {
	return &domain.LocationResult{Lat: lat, Lng: lng, Address: "Calle 1"}
}

type fakeFiles struct{ err error }

func (f *fakeFiles) DownloadFile(context.Context, string) (*domain.PhotoFile, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &domain.PhotoFile{Data: []byte("jpg"), Extension: "jpg"}, nil
}

type fakePhotos struct {
	mu      sync.Mutex
	buckets []string
	err     error
}

func (f *fakePhotos) UploadPhoto(_ context.Context, _ int64, _ *domain.PhotoFile, bucket string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.buckets = append(f.buckets, bucket)
	return "https://storage/" + bucket, nil
}

type fakeOrders struct {
	err   error
	saved []domain.OrderDraft
}

func (f *fakeOrders) InsertOrder(_ context.Context, d *domain.OrderDraft, _ *domain.OperatorProfile, _ int64) (*domain.OrderReceipt, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.saved = append(f.saved, *d)
	return &domain.OrderReceipt{ID: "o-1", OrderNumber: "1042"}, nil
}

type submissionSpy struct{ ok, failed int }

func (s *submissionSpy) RecordSubmission(_ string, ok bool) {
	if ok {
		s.ok++
	} else {
		s.failed++
	}
}

type fixture struct {
	m         *Machine
	st        State
	turn      chat.Turn
	out       *chat.Transcript
	extractor *fakeExtractor
	locator   *fakeLocator
	photos    *fakePhotos
	orders    *fakeOrders
	metrics   *submissionSpy
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	searcher := &fakeSearcher{byTerm: map[string][]domain.CandidateProduct{
		"poleras": {{ID: "10", Name: "POLERA ALGODON"}},
		"gorra":   {{ID: "20", Name: "GORRA NEGRA"}, {ID: "21", Name: "GORRA BLANCA"}},
	}}
	f := &fixture{
		st:        NewState(),
		out:       &chat.Transcript{},
		extractor: &fakeExtractor{},
		locator:   &fakeLocator{},
		photos:    &fakePhotos{},
		orders:    &fakeOrders{},
		metrics:   &submissionSpy{},
	}
	f.turn = chat.Turn{ChatID: 7, Out: f.out}
	f.m = NewMachine(Deps{
		Resolver:  catalog.NewResolver(searcher, nil, zap.NewNop()),
		Extractor: f.extractor,
		Locator:   f.locator,
		Files:     &fakeFiles{},
		Photos:    f.photos,
		Orders:    f.orders,
		Metrics:   f.metrics,
		Logger:    zap.NewNop(),
	})
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

func (f *fixture) photo(t *testing.T) {
	t.Helper()
	require.NoError(t, f.m.HandlePhoto(context.Background(), &f.st, f.turn, "file-1"))
}

func (f *fixture) lastText() string { return f.out.Last().Text }

func (f *fixture) said(sub string) bool {
	for _, r := range f.out.Replies() {
		if strings.Contains(r.Text, sub) {
			return true
		}
	}
	return false
}

// --- tests ---

func TestMachine_FullSale(t *testing.T) {
	f := newFixture(t)
	f.extractor.result = &domain.Extraction{
		Items: []domain.ExtractedItem{{Name: "poleras", Qty: dec("2"), UnitPrice: ptr(dec("50"))}},
	}

	f.text(t, "2 poleras a 100bs")
	assert.True(t, f.said(`✅ Producto "poleras" normalizado a *POLERA ALGODON* (a Bs 50).`))
	assert.IsType(t, AwaitingSaleType{}, f.st.Step)
	assert.Equal(t, []command.Command{
		command.SetSaleType(domain.SaleTypeWholesale, "poleras"),
		command.SetSaleType(domain.SaleTypeRetail, "poleras"),
	}, f.out.Last().Commands())

	f.press(t, command.SetSaleType(domain.SaleTypeWholesale, "poleras"))
	assert.IsType(t, AwaitingPhoto{}, f.st.Step)

	f.photo(t)
	assert.Equal(t, []string{"order-images"}, f.photos.buckets)
	assert.IsType(t, AwaitingCustomer{}, f.st.Step)

	f.extractor.result = &domain.Extraction{CustomerName: ptr("Juan"), CustomerPhone: ptr("71234567")}
	f.text(t, "Juan 71234567")
	assert.Equal(t, "+59171234567", f.st.Draft.CustomerPhone)
	assert.IsType(t, AwaitingOrderType{}, f.st.Step)

	f.press(t, command.SetOrderType(false))
	assert.IsType(t, AwaitingLocation{}, f.st.Step)

	f.locator.locate = &domain.LocationResult{Lat: -17.78, Lng: -63.18, Address: "Av. Busch"}
	f.text(t, "https://maps.app.goo.gl/abc")
	assert.IsType(t, AwaitingPaymentMethod{}, f.st.Step)

	f.press(t, command.SetPayment(domain.PaymentQR))
	assert.IsType(t, AwaitingPaymentSplit{}, f.st.Step)

	f.press(t, command.Pay(domain.SplitFullNow))
	require.Len(t, f.st.Draft.Payments, 1)
	assert.Equal(t, "100", f.st.Draft.Payments[0].Amount.String())
	assert.IsType(t, AwaitingPaymentProof{}, f.st.Step)

	f.photo(t)
	assert.Equal(t, []string{"order-images", "delivery-proofs"}, f.photos.buckets)
	assert.IsType(t, Confirming{}, f.st.Step)
	assert.Contains(t, f.lastText(), "Resumen del Pedido")

	f.press(t, command.ConfirmOrder())
	require.Len(t, f.orders.saved, 1)
	assert.Equal(t, "✅ ¡Pedido #1042 guardado exitosamente!", f.lastText())
	assert.IsType(t, Initial{}, f.st.Step)
	assert.Empty(t, f.st.Draft.Items)
	assert.Equal(t, 1, f.metrics.ok)
}

func TestMachine_ConfirmFailureKeepsDraft(t *testing.T) {
	f := newFixture(t)
	f.st = readyState()
	f.st.Draft.Payments = []domain.Payment{{Amount: dec("100"), Method: domain.PaymentCash, Status: domain.PaymentPending}}
	Next(&f.st)
	f.orders.err = errors.New("duplicate key")

	f.press(t, command.ConfirmOrder())
	assert.Equal(t, "❌ No pude guardar el pedido. Error: duplicate key", f.lastText())
	assert.Len(t, f.st.Draft.Items, 1)
	assert.IsType(t, Confirming{}, f.st.Step)
	assert.Equal(t, 1, f.metrics.failed)
}

func TestMachine_StaleConfirmIsNotSubmitted(t *testing.T) {
	f := newFixture(t)
	f.st = readyState()
	Next(&f.st)

	f.press(t, command.ConfirmOrder())
	assert.Empty(t, f.orders.saved)
	assert.IsType(t, AwaitingPaymentMethod{}, f.st.Step)
}

func TestMachine_InvalidPriceKeepsStep(t *testing.T) {
	f := newFixture(t)
	f.st = readyState()
	f.st.Draft.Items[0].UnitPrice = nil
	Next(&f.st)

	f.text(t, "no sé")
	assert.Equal(t, "Por favor, introduce un precio válido (solo números).", f.lastText())
	assert.IsType(t, AwaitingPrice{}, f.st.Step)

	f.text(t, "Bs 35,50")
	require.NotNil(t, f.st.Draft.Items[0].UnitPrice)
	assert.Equal(t, "35.5", f.st.Draft.Items[0].UnitPrice.String())
	assert.True(t, f.said("✅ Precio de *Bs. 35.50* establecido para *POLERA*"))
}

func TestMachine_PartialPayment(t *testing.T) {
	f := newFixture(t)
	f.st = readyState()
	f.st.PaymentMethod = domain.PaymentCash
	Next(&f.st)

	f.press(t, command.Pay(domain.SplitPartialNow))
	assert.IsType(t, AwaitingPartialAmount{}, f.st.Step)
	assert.Contains(t, f.lastText(), "Se pagará una parte con *Efectivo*")

	f.text(t, "150")
	assert.Equal(t, "Monto inválido. Debe ser un número mayor a 0 y menor a 100.00.", f.lastText())
	assert.IsType(t, AwaitingPartialAmount{}, f.st.Step)

	f.text(t, "40")
	require.Len(t, f.st.Draft.Payments, 1)
	assert.Equal(t, domain.PaymentCompleted, f.st.Draft.Payments[0].Status)
	assert.IsType(t, Confirming{}, f.st.Step, "a cash partial payment needs no proof")
}

func TestMachine_ButtonOnlyStepRejectsText(t *testing.T) {
	f := newFixture(t)
	f.st = readyState()
	f.st.Draft.IsEncomienda = nil
	f.st.Draft.Location = nil
	Next(&f.st)

	f.text(t, "local")
	assert.Equal(t, chooseOption, f.lastText())
	assert.Zero(t, f.extractor.calls)
}

func TestMachine_Clarification(t *testing.T) {
	f := newFixture(t)
	f.extractor.result = &domain.Extraction{
		Items: []domain.ExtractedItem{
			{Name: "gorra", Qty: dec("1"), UnitPrice: ptr(dec("30"))},
			{Name: "zapatilla", Qty: dec("1")},
		},
	}

	f.text(t, "1 gorra a 30 y 1 zapatilla")
	require.Len(t, f.st.Draft.Items, 1)
	assert.Equal(t, "ZAPATILLA", f.st.Draft.Items[0].Name)
	assert.IsType(t, AwaitingClarification{}, f.st.Step)

	f.press(t, command.Clarify("99"))
	assert.Len(t, f.st.Ambiguous, 1, "unknown choice keeps the queue head")

	f.press(t, command.Clarify("21"))
	assert.Empty(t, f.st.Ambiguous)
	require.Len(t, f.st.Draft.Items, 2)
	got := f.st.Draft.Items[1]
	assert.Equal(t, "GORRA BLANCA", got.Name)
	assert.Equal(t, "gorra", got.OriginalName)
	assert.Equal(t, "30", got.UnitPrice.String())
	assert.IsType(t, AwaitingSaleType{}, f.st.Step)
}

func TestMachine_LocationBeforeItems(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.m.HandleLocation(context.Background(), &f.st, f.turn, -17.78, -63.18))
	assert.True(t, f.said("✅ Ubicación para entrega local recibida: Calle 1"))
	assert.IsType(t, AwaitingItems{}, f.st.Step)
	assert.False(t, *f.st.Draft.IsEncomienda)
}

func TestMachine_LocationIgnoredWhileConfirming(t *testing.T) {
	f := newFixture(t)
	f.st = readyState()
	f.st.Draft.Payments = []domain.Payment{{Amount: dec("100"), Method: domain.PaymentCash, Status: domain.PaymentPending}}
	Next(&f.st)

	require.NoError(t, f.m.HandleLocation(context.Background(), &f.st, f.turn, 1, 1))
	assert.Equal(t, "Av. Busch", f.st.Draft.Location.Address)
	assert.Empty(t, f.out.Replies())
}

func TestMachine_PhotoUploadFailure(t *testing.T) {
	f := newFixture(t)
	f.st = readyState()
	f.st.Draft.Items[0].ImageURL = nil
	Next(&f.st)
	f.photos.err = errors.New("bucket down")

	f.photo(t)
	assert.Equal(t, "❌ Hubo un error al guardar la foto del producto. Por favor, envíala de nuevo.", f.lastText())
	assert.Nil(t, f.st.Draft.Items[0].ImageURL)
	assert.IsType(t, AwaitingPhoto{}, f.st.Step)
}

func TestMachine_UnexpectedPhoto(t *testing.T) {
	f := newFixture(t)
	f.photo(t)
	assert.Contains(t, f.lastText(), "primero envíame por texto la lista de productos")

	f.st = readyState()
	Next(&f.st)
	f.photo(t)
	assert.Equal(t, "He recibido una foto, pero no la esperaba ahora.", f.lastText())
}

func TestMachine_EncomiendaToggleClearsLocation(t *testing.T) {
	f := newFixture(t)
	f.st = readyState()
	f.st.Draft.IsEncomienda = nil
	Next(&f.st)

	f.press(t, command.SetOrderType(true))
	assert.Nil(t, f.st.Draft.Location)
	assert.IsType(t, AwaitingDestination{}, f.st.Step)

	f.text(t, "  ")
	assert.IsType(t, AwaitingDestination{}, f.st.Step)

	f.text(t, "Cochabamba")
	assert.Equal(t, "Cochabamba", *f.st.Draft.Destination)
	assert.IsType(t, AwaitingPaymentMethod{}, f.st.Step)
}

func TestMachine_ExtractionFailureDegrades(t *testing.T) {
	f := newFixture(t)
	f.extractor.err = errors.New("openai down")

	f.text(t, "hola, quiero algo")
	assert.IsType(t, Initial{}, f.st.Step)
	assert.Contains(t, f.lastText(), "envíame la lista de productos")
}

func TestMachine_EditReturnsToInitial(t *testing.T) {
	f := newFixture(t)
	f.st = readyState()
	f.st.Draft.Payments = []domain.Payment{{Amount: dec("100"), Method: domain.PaymentCash, Status: domain.PaymentPending}}
	Next(&f.st)

	f.press(t, command.EditOrder())
	assert.IsType(t, Initial{}, f.st.Step)
	assert.Len(t, f.st.Draft.Items, 1)
}

func TestMachine_NewListAfterEditStartsPaymentOver(t *testing.T) {
	f := newFixture(t)
	f.st = readyState()
	f.st.PaymentMethod, f.st.Split = domain.PaymentQR, domain.SplitFullNow
	f.st.Draft.Payments = []domain.Payment{{Amount: dec("100"), Method: domain.PaymentQR, Status: domain.PaymentCompleted, ProofURL: ptr("u")}}
	Next(&f.st)
	require.IsType(t, Confirming{}, f.st.Step)

	f.press(t, command.EditOrder())
	f.extractor.result = &domain.Extraction{
		Items: []domain.ExtractedItem{{Name: "poleras", Qty: dec("5"), UnitPrice: ptr(dec("300"))}},
	}
	f.text(t, "5 poleras a 300")
	assert.Empty(t, f.st.Draft.Payments)
	assert.Empty(t, f.st.PaymentMethod)
	assert.Empty(t, f.st.Split)

	f.press(t, command.SetSaleType(domain.SaleTypeRetail, "poleras"))
	f.photo(t)
	assert.IsType(t, AwaitingPaymentMethod{}, f.st.Step)

	f.press(t, command.SetPayment(domain.PaymentCash))
	f.press(t, command.Pay(domain.SplitFullNow))
	require.Len(t, f.st.Draft.Payments, 1)
	assert.Equal(t, "1500", f.st.Draft.Payments[0].Amount.String())
	assert.IsType(t, Confirming{}, f.st.Step)
}

func TestMachine_SaleTypeButtonWithCutName(t *testing.T) {
	f := newFixture(t)
	f.st = readyState()
	long := "zapatillas niño talla 32 color azul"
	f.st.Draft.Items[0].Name = "ZAPATILLAS NIÑO TALLA 32 COLOR AZUL"
	f.st.Draft.Items[0].OriginalName = long
	f.st.Draft.Items[0].SaleType = nil
	d := Next(&f.st)
	require.IsType(t, AwaitingSaleType{}, f.st.Step)

	wire, err := command.Encode(d.Reply.Commands()[0])
	require.NoError(t, err)
	require.LessOrEqual(t, len(wire), command.MaxDataLen)
	cmd, err := command.Parse(wire)
	require.NoError(t, err)
	require.NotEqual(t, long, cmd.ItemName)

	f.press(t, cmd)
	require.NotNil(t, f.st.Draft.Items[0].SaleType)
	assert.Equal(t, domain.SaleTypeWholesale, *f.st.Draft.Items[0].SaleType)
	assert.True(t, f.said("✅ Tipo de venta para *ZAPATILLAS NIÑO TALLA 32 COLOR AZUL*"))
}

func TestMachine_CutNameOnlyMatchesCurrentItem(t *testing.T) {
	f := newFixture(t)
	f.st = readyState()
	f.st.Draft.Items[0].SaleType = nil
	Next(&f.st)

	f.press(t, command.SetSaleType(domain.SaleTypeRetail, "GORRA"))
	assert.Nil(t, f.st.Draft.Items[0].SaleType)
	assert.Equal(t, `No encontré el producto "GORRA" para actualizar.`, f.lastText())
}

func TestMachine_ReturnCommandIsNotHandled(t *testing.T) {
	f := newFixture(t)
	err := f.m.HandleCommand(context.Background(), &f.st, f.turn, command.ConfirmReturn())
	assert.ErrorIs(t, err, ErrUnhandledCommand)
}
