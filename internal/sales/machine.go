package sales

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/boddenberg/fenix-agent-go/internal/catalog"
	"github.com/boddenberg/fenix-agent-go/internal/chat"
	"github.com/boddenberg/fenix-agent-go/internal/command"
	"github.com/boddenberg/fenix-agent-go/internal/domain"
	"github.com/boddenberg/fenix-agent-go/internal/payment"
	"github.com/boddenberg/fenix-agent-go/internal/port"
	"github.com/boddenberg/fenix-agent-go/internal/textutil"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("sales")

// ErrUnhandledCommand is returned for commands that belong to another flow.
var ErrUnhandledCommand = errors.New("sales: command not handled by the sale flow")

const chooseOption = "Por favor, selecciona una de las opciones del mensaje anterior para continuar. 🙏"

// ItemResolver classifies typed product names against the catalog.
type ItemResolver interface {
	ResolveAll(ctx context.Context, items []domain.ExtractedItem) []catalog.Resolution
	Clarify(ctx context.Context, amb domain.AmbiguousItem, candidateID string) (*domain.Item, bool)
}

// Locator turns free text or shared coordinates into a delivery location.
type Locator interface {
	ResolveText(ctx context.Context, text string) *domain.LocationResult
	Locate(ctx context.Context, text string) *domain.LocationResult
	ResolveCoordinates(ctx context.Context, lat, lng float64) *domain.LocationResult
}

// SubmissionRecorder counts final submissions.
type SubmissionRecorder interface {
	RecordSubmission(kind string, ok bool)
}

// Buckets names the storage buckets for photos.
type Buckets struct {
	OrderImages   string
	PaymentProofs string
}

// Deps are the collaborators of the sale flow.
type Deps struct {
	Resolver  ItemResolver
	Extractor port.Extractor
	Locator   Locator
	Files     port.FileDownloader
	Photos    port.PhotoStorage
	Orders    port.OrderStore
	Buckets   Buckets
	Metrics   SubmissionRecorder
	Logger    *zap.Logger
}

// Machine applies operator input to a sale State.
type Machine struct {
	deps Deps
}

// NewMachine creates the sale flow.
func NewMachine(deps Deps) *Machine {
	if deps.Buckets.OrderImages == "" {
		deps.Buckets.OrderImages = "order-images"
	}
	if deps.Buckets.PaymentProofs == "" {
		deps.Buckets.PaymentProofs = "delivery-proofs"
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Machine{deps: deps}
}

// advance re-derives the next requirement and prompts for it.
func (m *Machine) advance(ctx context.Context, st *State, t chat.Turn) {
	d := Next(st)
	if d.Reply != nil {
		t.Say(ctx, *d.Reply)
	}
}

// HandleText applies a free-text message.
func (m *Machine) HandleText(ctx context.Context, st *State, t chat.Turn, text string) error {
	ctx, span := tracer.Start(ctx, "Machine.HandleText")
	defer span.End()
	span.SetAttributes(attribute.String("sale.step", st.Step.Tag()))

	if buttonOnly(st.Step) {
		t.Say(ctx, chat.Text(chooseOption))
		return nil
	}

	switch s := st.Step.(type) {
	case AwaitingPrice:
		return m.applyPrice(ctx, st, t, s, text)
	case AwaitingLocation:
		return m.applyLocationText(ctx, st, t, text)
	case AwaitingCustomer:
		return m.applyCustomer(ctx, st, t, text)
	case AwaitingDestination:
		return m.applyDestination(ctx, st, t, text)
	case AwaitingPartialAmount:
		return m.applyPartialAmount(ctx, st, t, s, text)
	}
	return m.analyze(ctx, st, t, text)
}

func (m *Machine) applyPrice(ctx context.Context, st *State, t chat.Turn, s AwaitingPrice, text string) error {
	price, ok := textutil.ParseAmount(text)
	if !ok || price.IsNegative() {
		t.Say(ctx, chat.Text("Por favor, introduce un precio válido (solo números)."))
		return nil
	}
	if s.Index < len(st.Draft.Items) {
		it := &st.Draft.Items[s.Index]
		it.UnitPrice = &price
		t.Sayf(ctx, "✅ Precio de *Bs. %s* establecido para *%s*", price.StringFixed(2), it.Name)
	}
	m.advance(ctx, st, t)
	return nil
}

func (m *Machine) applyLocationText(ctx context.Context, st *State, t chat.Turn, text string) error {
	text = strings.TrimSpace(text)
	t.Sayf(ctx, "Procesando ubicación: *\"%s\"*...", text)

	loc := m.deps.Locator.Locate(ctx, text)
	if err := ctx.Err(); err != nil {
		return err
	}
	if loc == nil {
		t.Say(ctx, chat.Text("❌ No pude interpretar la ubicación. Por favor, intenta con un link de Google Maps o una dirección más clara."))
		return nil
	}
	st.Draft.SetLocalDelivery(loc)
	t.Sayf(ctx, "✅ Ubicación recibida: *%s*", loc.Address)
	m.advance(ctx, st, t)
	return nil
}

func (m *Machine) applyCustomer(ctx context.Context, st *State, t chat.Turn, text string) error {
	t.Say(ctx, chat.Text("🧠 Procesando nombre y teléfono..."))
	ex, err := m.deps.Extractor.Extract(ctx, text)
	if err != nil {
		m.deps.Logger.Warn("customer extraction failed", zap.Int64("chat_id", t.ChatID), zap.Error(err))
	}
	if ex != nil {
		if ex.CustomerName != nil {
			st.Draft.CustomerName = *ex.CustomerName
		}
		if ex.CustomerPhone != nil {
			st.Draft.CustomerPhone = textutil.NormalizePhone(*ex.CustomerPhone)
		}
	}
	m.advance(ctx, st, t)
	return nil
}

func (m *Machine) applyDestination(ctx context.Context, st *State, t chat.Turn, text string) error {
	dest := strings.TrimSpace(text)
	if dest == "" {
		t.Say(ctx, chat.Text("Por favor, dime la ciudad o departamento de destino."))
		return nil
	}
	st.Draft.SetDestination(dest)
	t.Sayf(ctx, "✅ Destino de encomienda establecido: *%s*", dest)
	m.advance(ctx, st, t)
	return nil
}

func (m *Machine) applyPartialAmount(ctx context.Context, st *State, t chat.Turn, s AwaitingPartialAmount, text string) error {
	total := payment.Total(st.Draft.Items)
	amount, ok := textutil.ParseAmount(text)
	var p domain.Payment
	var err error
	if ok {
		p, err = payment.Partial(total, s.Method, amount)
	}
	if !ok || err != nil {
		t.Sayf(ctx, "Monto inválido. Debe ser un número mayor a 0 y menor a %s.", total.StringFixed(2))
		return nil
	}
	st.Draft.Payments = append(st.Draft.Payments, p)
	st.PaymentMethod, st.Split = "", ""
	m.advance(ctx, st, t)
	return nil
}

// analyze reads the message as a (new) order: products, customer, notes,
// schedule and, independently, a location.
func (m *Machine) analyze(ctx context.Context, st *State, t chat.Turn, text string) error {
	t.Say(ctx, chat.Text("🧠 Analizando tu mensaje..."))

	var (
		ex  *domain.Extraction
		loc *domain.LocationResult
	)
	var g errgroup.Group
	g.Go(func() error {
		var err error
		ex, err = m.deps.Extractor.Extract(ctx, text)
		if err != nil {
			m.deps.Logger.Warn("order extraction failed", zap.Int64("chat_id", t.ChatID), zap.Error(err))
		}
		return nil
	})
	g.Go(func() error {
		loc = m.deps.Locator.ResolveText(ctx, text)
		return nil
	})
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return err
	}

	if ex != nil {
		d := &st.Draft
		if ex.CustomerPhone != nil {
			d.CustomerPhone = textutil.NormalizePhone(*ex.CustomerPhone)
		}
		if ex.CustomerName != nil {
			d.CustomerName = *ex.CustomerName
		}
		d.AddNotes(ex.Notes...)
		if ex.TimePreference != nil {
			d.TimePreference = *ex.TimePreference
		}
		if len(ex.Items) > 0 {
			t.Sayf(ctx, "He encontrado %d producto(s), procesando...", len(ex.Items))
			m.replaceItems(ctx, st, t, ex.Items)
		}
	}

	if loc != nil {
		st.Draft.SetLocalDelivery(loc)
		t.Sayf(ctx, "✅ Ubicación encontrada y registrada: %s", loc.Address)
	}

	m.advance(ctx, st, t)
	return nil
}

// replaceItems swaps the product list for a freshly resolved one. Payments
// were composed against the old total, so they start over too.
func (m *Machine) replaceItems(ctx context.Context, st *State, t chat.Turn, items []domain.ExtractedItem) {
	st.Draft.Items = nil
	st.Draft.Payments = nil
	st.Ambiguous = nil
	st.PaymentMethod, st.Split = "", ""
	for _, res := range m.deps.Resolver.ResolveAll(ctx, items) {
		switch res.Status {
		case catalog.StatusAmbiguous:
			st.Ambiguous = append(st.Ambiguous, *res.Ambiguous)
		default:
			st.Draft.Items = append(st.Draft.Items, *res.Item)
			t.Say(ctx, chat.Text(itemAddedText(*res.Item)))
		}
	}
}

func itemAddedText(it domain.Item) string {
	price := ""
	if it.UnitPrice != nil && !it.UnitPrice.IsZero() {
		price = " (a Bs " + it.UnitPrice.String() + ")"
	}
	if it.IsRecognized {
		return fmt.Sprintf("✅ Producto \"%s\" normalizado a *%s*%s.", it.OriginalName, it.Name, price)
	}
	return fmt.Sprintf("✅ Producto \"%s\" añadido como *%s* (no reconocido)%s.", it.OriginalName, it.Name, price)
}

// HandlePhoto applies a photo: a product picture or a payment proof.
func (m *Machine) HandlePhoto(ctx context.Context, st *State, t chat.Turn, fileID string) error {
	ctx, span := tracer.Start(ctx, "Machine.HandlePhoto")
	defer span.End()
	span.SetAttributes(attribute.String("sale.step", st.Step.Tag()))

	switch s := st.Step.(type) {
	case Initial:
		if len(st.Draft.Items) == 0 {
			t.Say(ctx, chat.Text("Gracias por la foto. Para poder asociarla correctamente, por favor, primero envíame por texto la lista de productos que deseas en tu pedido."))
			return nil
		}
		t.Say(ctx, chat.Text("He recibido la foto. La procesaré en el momento adecuado. Por ahora, sigamos completando los datos del pedido."))
		return nil

	case AwaitingPhoto:
		if s.Index >= len(st.Draft.Items) {
			t.Say(ctx, chat.Text("Recibí una foto, pero no sé a qué producto asignarla."))
			return nil
		}
		t.Sayf(ctx, "⏳ Subiendo y asociando foto para *%s*...", s.ItemName)
		url := m.storePhoto(ctx, t.ChatID, fileID, m.deps.Buckets.OrderImages)
		if err := ctx.Err(); err != nil {
			return err
		}
		if url == "" {
			t.Say(ctx, chat.Text("❌ Hubo un error al guardar la foto del producto. Por favor, envíala de nuevo."))
			return nil
		}
		st.Draft.Items[s.Index].ImageURL = &url
		t.Sayf(ctx, "✅ Foto para *%s* recibida.", s.ItemName)

	case AwaitingPaymentProof:
		if s.PaymentIndex >= len(st.Draft.Payments) || !payment.NeedsProof(st.Draft.Payments[s.PaymentIndex]) {
			t.Say(ctx, chat.Text("Recibí un comprobante, pero no parece que lo estuviera esperando. 🤔"))
			return nil
		}
		t.Say(ctx, chat.Text("⏳ Subiendo y asociando comprobante de pago..."))
		url := m.storePhoto(ctx, t.ChatID, fileID, m.deps.Buckets.PaymentProofs)
		if err := ctx.Err(); err != nil {
			return err
		}
		if url == "" {
			t.Say(ctx, chat.Text("❌ Hubo un error al guardar el comprobante. Por favor, envíalo de nuevo."))
			return nil
		}
		p := &st.Draft.Payments[s.PaymentIndex]
		p.ProofURL = &url
		t.Sayf(ctx, "✅ Comprobante de pago de *Bs %s* recibido.", p.Amount.StringFixed(2))

	default:
		t.Say(ctx, chat.Text("He recibido una foto, pero no la esperaba ahora."))
		return nil
	}

	m.advance(ctx, st, t)
	return nil
}

// storePhoto downloads the transport file and uploads it. Failures yield "".
func (m *Machine) storePhoto(ctx context.Context, chatID int64, fileID, bucket string) string {
	photo, err := m.deps.Files.DownloadFile(ctx, fileID)
	if err != nil {
		m.deps.Logger.Warn("photo download failed", zap.Int64("chat_id", chatID), zap.Error(err))
		return ""
	}
	url, err := m.deps.Photos.UploadPhoto(ctx, chatID, photo, bucket)
	if err != nil {
		m.deps.Logger.Warn("photo upload failed",
			zap.Int64("chat_id", chatID),
			zap.String("bucket", bucket),
			zap.Error(err),
		)
		return ""
	}
	return url
}

// HandleLocation applies coordinates shared from the chat client.
// While confirming, shared locations are ignored.
func (m *Machine) HandleLocation(ctx context.Context, st *State, t chat.Turn, lat, lng float64) error {
	ctx, span := tracer.Start(ctx, "Machine.HandleLocation")
	defer span.End()

	if _, ok := st.Step.(Confirming); ok {
		return nil
	}
	loc := m.deps.Locator.ResolveCoordinates(ctx, lat, lng)
	if err := ctx.Err(); err != nil {
		return err
	}
	st.Draft.SetLocalDelivery(loc)
	t.Sayf(ctx, "✅ Ubicación para entrega local recibida: %s", loc.Address)
	m.advance(ctx, st, t)
	return nil
}

// HandleCommand applies a button press of the sale flow.
func (m *Machine) HandleCommand(ctx context.Context, st *State, t chat.Turn, cmd command.Command) error {
	ctx, span := tracer.Start(ctx, "Machine.HandleCommand")
	defer span.End()
	span.SetAttributes(
		attribute.String("sale.step", st.Step.Tag()),
		attribute.String("command", cmd.Kind.String()),
	)

	switch cmd.Kind {
	case command.KindClarify:
		m.clarify(ctx, st, t, cmd.CandidateID)

	case command.KindSetSaleType:
		it := saleTypeTarget(st, cmd.ItemName)
		if it == nil {
			t.Sayf(ctx, "No encontré el producto \"%s\" para actualizar.", cmd.ItemName)
			return nil
		}
		saleType := cmd.SaleType
		it.SaleType = &saleType
		t.Sayf(ctx, "✅ Tipo de venta para *%s* establecido como: *%s*.", it.Name, saleType)
		m.advance(ctx, st, t)

	case command.KindSetOrderType:
		if cmd.Encomienda {
			st.Draft.SetEncomienda()
		} else {
			st.Draft.SetLocalDelivery(nil)
		}
		m.advance(ctx, st, t)

	case command.KindSetPayment:
		if len(st.Draft.Payments) == 0 {
			st.PaymentMethod, st.Split = cmd.Method, ""
		}
		m.advance(ctx, st, t)

	case command.KindPay:
		m.pay(ctx, st, t, cmd.Split)

	case command.KindConfirmOrder:
		return m.confirm(ctx, st, t)

	case command.KindEditOrder:
		st.Step = Initial{}
		t.Say(ctx, chat.Text("Puedes corregir la información enviando un nuevo mensaje con los datos correctos."))

	default:
		return fmt.Errorf("%w: %s", ErrUnhandledCommand, cmd.Kind)
	}
	return nil
}

// saleTypeTarget finds the item a sale-type button refers to. Long names are
// cut short on the wire, so the item being asked about also matches by prefix.
func saleTypeTarget(st *State, name string) *domain.Item {
	if it := st.Draft.FindItem(name); it != nil {
		return it
	}
	step, ok := st.Step.(AwaitingSaleType)
	if !ok || name == "" || step.Index >= len(st.Draft.Items) {
		return nil
	}
	it := &st.Draft.Items[step.Index]
	if strings.HasPrefix(it.OriginalName, name) || strings.HasPrefix(it.Name, name) {
		return it
	}
	return nil
}

func (m *Machine) clarify(ctx context.Context, st *State, t chat.Turn, candidateID string) {
	if len(st.Ambiguous) == 0 {
		t.Say(ctx, chat.Text("❌ Error: No hay productos ambiguos para clarificar."))
		return
	}
	item, ok := m.deps.Resolver.Clarify(ctx, st.Ambiguous[0], candidateID)
	if !ok {
		// stale button: ask again for the current head
		m.advance(ctx, st, t)
		return
	}
	st.Ambiguous = st.Ambiguous[1:]
	st.Draft.Items = append(st.Draft.Items, *item)
	t.Say(ctx, chat.Text(itemAddedText(*item)))
	m.advance(ctx, st, t)
}

func (m *Machine) pay(ctx context.Context, st *State, t chat.Turn, split domain.PaymentSplit) {
	if len(st.Draft.Payments) > 0 || st.PaymentMethod == "" {
		m.advance(ctx, st, t)
		return
	}
	total := payment.Total(st.Draft.Items)
	switch split {
	case domain.SplitFullNow:
		st.Draft.Payments = append(st.Draft.Payments, payment.FullNow(total, st.PaymentMethod))
		st.PaymentMethod, st.Split = "", ""
	case domain.SplitFullOnDelivery:
		st.Draft.Payments = append(st.Draft.Payments, payment.FullOnDelivery(total))
		st.PaymentMethod, st.Split = "", ""
	case domain.SplitPartialNow:
		st.Split = domain.SplitPartialNow
	}
	m.advance(ctx, st, t)
}

func (m *Machine) confirm(ctx context.Context, st *State, t chat.Turn) error {
	if _, ok := st.Step.(Confirming); !ok {
		m.advance(ctx, st, t)
		return nil
	}

	t.Say(ctx, chat.Text("⏳ Guardando tu pedido..."))
	receipt, err := m.deps.Orders.InsertOrder(ctx, &st.Draft, t.Operator, t.ChatID)
	if m.deps.Metrics != nil {
		m.deps.Metrics.RecordSubmission("order", err == nil)
	}
	if err != nil {
		m.deps.Logger.Error("order submission failed", zap.Int64("chat_id", t.ChatID), zap.Error(err))
		t.Sayf(ctx, "❌ No pude guardar el pedido. Error: %s", err.Error())
		return nil
	}

	number := receipt.OrderNumber.String()
	if number == "" {
		number = receipt.ID.String()
	}
	m.deps.Logger.Info("order submitted",
		zap.Int64("chat_id", t.ChatID),
		zap.String("order_no", number),
		zap.Int("items", len(st.Draft.Items)),
	)
	t.Sayf(ctx, "✅ ¡Pedido #%s guardado exitosamente!", number)
	st.Reset()
	return nil
}
