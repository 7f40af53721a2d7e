package service_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/boddenberg/fenix-agent-go/internal/chat"
	"github.com/boddenberg/fenix-agent-go/internal/command"
	"github.com/boddenberg/fenix-agent-go/internal/domain"
	"github.com/boddenberg/fenix-agent-go/internal/infra/cache"
	"github.com/boddenberg/fenix-agent-go/internal/infra/observability"
	"github.com/boddenberg/fenix-agent-go/internal/infra/resilience"
	"github.com/boddenberg/fenix-agent-go/internal/returns"
	"github.com/boddenberg/fenix-agent-go/internal/service"
	"github.com/boddenberg/fenix-agent-go/internal/session"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// --- Mocks ---

type mockProfiles struct {
	mu      sync.Mutex
	profile *domain.OperatorProfile
	err     error
	calls   int
}

func (m *mockProfiles) GetOperatorProfile(_ context.Context, _ string) (*domain.OperatorProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	p := *m.profile
	return &p, nil
}

type mockOrders struct{}

func (mockOrders) FindOrderByNumber(_ context.Context, no string) (*domain.OrderSnapshot, error) {
	return nil, &domain.ErrNotFound{Resource: "order", ID: no}
}

type mockReturns struct{}

func (mockReturns) InsertReturn(context.Context, *domain.OrderSnapshot, *domain.ReturnDetails, *domain.OperatorProfile) (*domain.ReturnReceipt, error) {
	return &domain.ReturnReceipt{ID: "1"}, nil
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

// scripted is a stand-in for the sale dialog.
type scripted struct {
	handle func(ctx context.Context, req *service.Request) error
	seen   []chat.EventKind
}

func (s *scripted) CanHandle(intent service.Intent) bool { return intent == service.IntentSale }

func (s *scripted) Handle(ctx context.Context, req *service.Request) error {
	s.seen = append(s.seen, req.Event.Kind)
	if s.handle != nil {
		return s.handle(ctx, req)
	}
	return nil
}

type harness struct {
	d        *service.Dispatcher
	sessions *session.Store
	profiles *mockProfiles
	sale     *scripted
	metrics  *observability.Metrics
	out      *chat.Transcript
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		sessions: session.NewStore(zap.NewNop()),
		profiles: &mockProfiles{profile: &domain.OperatorProfile{FullName: "Ana Rojas", Role: "ASESOR"}},
		sale:     &scripted{},
		metrics:  observability.NewMetrics(),
		out:      &chat.Transcript{},
	}
	morning := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	rm := returns.NewMachine(returns.Deps{Orders: mockOrders{}, Returns: mockReturns{}, Logger: zap.NewNop()})
	h.d = service.NewDispatcher(h.sessions, h.profiles, []service.Strategy{
		service.NewGreetingStrategy(fixedClock{morning}),
		service.NewCancelStrategy(zap.NewNop()),
		service.NewReturnStrategy(rm),
		h.sale,
	}, zap.NewNop(),
		service.WithProfileCache(cache.New[domain.OperatorProfile](time.Minute)),
		service.WithBulkhead(resilience.NewBulkhead(4)),
		service.WithEventRecorder(h.metrics),
	)
	return h
}

func (h *harness) send(ev chat.Event) {
	if ev.ChatID == 0 {
		ev.ChatID = 42
	}
	if ev.Username == "" {
		ev.Username = "ana"
	}
	h.d.Dispatch(context.Background(), ev, h.out)
}

func (h *harness) session(t *testing.T, fn func(*session.Session)) {
	t.Helper()
	require.NoError(t, h.sessions.WithSession(context.Background(), "42", func(s *session.Session) error {
		fn(s)
		return nil
	}))
}

// --- Tests ---

func TestDispatch_GreetingUsesProfileName(t *testing.T) {
	h := newHarness(t)
	h.send(chat.Event{Kind: chat.EventStart})

	want := "¡Buenos días, Ana Rojas!\nSoy Agente Fenix. Envíame los productos de tu pedido, la ubicación y el horario. También puedes enviar una foto de la lista."
	if got := h.out.Last().Text; got != want {
		t.Fatalf("unexpected greeting:\n got %q\nwant %q", got, want)
	}
	assert.Empty(t, h.sale.seen)
}

func TestDispatch_PromotorGreeting(t *testing.T) {
	h := newHarness(t)
	h.profiles.profile.Role = "promotor"
	h.send(chat.Event{Kind: chat.EventText, Text: "Hola!"})

	assert.Contains(t, h.out.Last().Text, "Soy Agente Fenix Delivery.")
}

func TestDispatch_UnknownOperatorFallsBackToFirstName(t *testing.T) {
	h := newHarness(t)
	h.profiles.err = &domain.ErrNotFound{Resource: "operator", ID: "ana"}
	h.send(chat.Event{Kind: chat.EventStart, FirstName: "Anita"})

	assert.True(t, strings.HasPrefix(h.out.Last().Text, "¡Buenos días, Anita!"))
}

func TestDispatch_ProfileIsFetchedOnce(t *testing.T) {
	h := newHarness(t)
	h.send(chat.Event{Kind: chat.EventText, Text: "2 poleras"})
	h.send(chat.Event{Kind: chat.EventText, Text: "3 gorras"})
	h.send(chat.Event{ChatID: 43, Kind: chat.EventText, Text: "1 media"})

	assert.Equal(t, 1, h.profiles.calls, "second chat is served from the profile cache")
}

func TestDispatch_RoutesReturnKeywordsAndKeepsReturnMode(t *testing.T) {
	h := newHarness(t)
	h.send(chat.Event{Kind: chat.EventText, Text: "quiero registrar una devolución"})
	assert.Contains(t, h.out.Last().Text, "Para iniciar una devolución")

	h.send(chat.Event{Kind: chat.EventText, Text: "12345"})
	assert.Equal(t, "❌ No encontré ningún pedido con el número *12345*.", h.out.Last().Text)

	h.send(chat.Event{Kind: chat.EventPhoto, PhotoFileID: "f"})
	assert.Contains(t, h.out.Last().Text, "Estamos registrando una devolución")
	assert.Empty(t, h.sale.seen, "sale dialog never sees return-mode events")

	h.send(chat.Event{Kind: chat.EventCommand, Command: command.CancelReturn()})
	h.send(chat.Event{Kind: chat.EventPhoto, PhotoFileID: "f"})
	assert.Equal(t, []chat.EventKind{chat.EventPhoto}, h.sale.seen)
}

func TestDispatch_StartingAReturnDropsTheSaleDraft(t *testing.T) {
	h := newHarness(t)
	h.session(t, func(s *session.Session) { s.Sale.Draft.CustomerName = "Juan" })

	h.send(chat.Event{Kind: chat.EventText, Text: "devolver"})
	h.session(t, func(s *session.Session) {
		assert.Empty(t, s.Sale.Draft.CustomerName)
		assert.Equal(t, returns.StepAwaitingOrderNo, s.Return.Step)
		require.NotNil(t, s.Profile)
	})
}

func TestDispatch_CancelResetsButKeepsProfile(t *testing.T) {
	h := newHarness(t)
	h.send(chat.Event{Kind: chat.EventText, Text: "devolver"})
	h.send(chat.Event{Kind: chat.EventCancel})

	assert.Equal(t, "Operación cancelada. Puedes empezar un nuevo pedido cuando quieras.", h.out.Last().Text)
	h.session(t, func(s *session.Session) {
		assert.False(t, s.Return.Active())
		assert.Equal(t, "Ana Rojas", s.Profile.FullName)
	})
}

func TestDispatch_ErrorsAndPanicsAreAnsweredWithApology(t *testing.T) {
	const apology = "Ocurrió un error inesperado. El equipo técnico ha sido notificado. Por favor, intenta de nuevo en unos momentos."

	h := newHarness(t)
	h.sale.handle = func(context.Context, *service.Request) error { return errors.New("db down") }
	h.send(chat.Event{Kind: chat.EventText, Text: "2 poleras"})
	assert.Equal(t, apology, h.out.Last().Text)

	h.sale.handle = func(context.Context, *service.Request) error { panic("nil map") }
	assert.NotPanics(t, func() { h.send(chat.Event{Kind: chat.EventText, Text: "2 poleras"}) })
	assert.Equal(t, apology, h.out.Last().Text)

	// The session is still usable after the panic.
	h.sale.handle = nil
	h.send(chat.Event{Kind: chat.EventText, Text: "2 poleras"})
	assert.Len(t, h.sale.seen, 3)

	snap := h.metrics.GetBotSnapshot()
	assert.Equal(t, 1, snap.ActiveSessions)
}

func TestDispatch_HistoryRecordsBothSides(t *testing.T) {
	h := newHarness(t)
	h.send(chat.Event{Kind: chat.EventText, Text: "hola"})

	h.session(t, func(s *session.Session) {
		hist := s.History()
		require.Len(t, hist, 2)
		assert.Equal(t, session.RoleUser, hist[0].Role)
		assert.Equal(t, "hola", hist[0].Text)
		assert.Equal(t, session.RoleBot, hist[1].Role)
	})
}

func TestDetectIntent(t *testing.T) {
	idle := &session.Session{}
	inReturn := &session.Session{Return: returns.State{Step: returns.StepAwaitingReason}}

	tests := []struct {
		name string
		ev   chat.Event
		sess *session.Session
		want service.Intent
	}{
		{"start", chat.Event{Kind: chat.EventStart}, idle, service.IntentGreeting},
		{"greeting mid return", chat.Event{Kind: chat.EventText, Text: "buenas tardes"}, inReturn, service.IntentGreeting},
		{"cancel", chat.Event{Kind: chat.EventCancel}, inReturn, service.IntentCancel},
		{"return keyword", chat.Event{Kind: chat.EventText, Text: "Devolución del pedido"}, idle, service.IntentReturn},
		{"text in return", chat.Event{Kind: chat.EventText, Text: "talla"}, inReturn, service.IntentReturn},
		{"return button", chat.Event{Kind: chat.EventCommand, Command: command.ConfirmReturn()}, idle, service.IntentReturn},
		{"sale button", chat.Event{Kind: chat.EventCommand, Command: command.ConfirmOrder()}, inReturn, service.IntentSale},
		{"order text", chat.Event{Kind: chat.EventText, Text: "2 poleras"}, idle, service.IntentSale},
		{"location", chat.Event{Kind: chat.EventLocation}, idle, service.IntentSale},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, service.DetectIntent(tt.ev, tt.sess))
		})
	}
}
