package service

import (
	"context"
	"fmt"
	"time"

	"github.com/boddenberg/fenix-agent-go/internal/chat"
	"github.com/boddenberg/fenix-agent-go/internal/returns"
	"github.com/boddenberg/fenix-agent-go/internal/sales"
	"github.com/boddenberg/fenix-agent-go/internal/textutil"

	"go.uber.org/zap"
)

// Clock tells the business-local time.
type Clock interface {
	Now() time.Time
}

// GreetingStrategy answers /start and greetings with a role-aware welcome.
// It does not touch the drafts.
type GreetingStrategy struct {
	clock Clock
}

func NewGreetingStrategy(clock Clock) *GreetingStrategy {
	return &GreetingStrategy{clock: clock}
}

func (s *GreetingStrategy) CanHandle(intent Intent) bool { return intent == IntentGreeting }

func (s *GreetingStrategy) Handle(ctx context.Context, req *Request) error {
	name := req.Event.FirstName
	if p := req.Session.Profile; p != nil && p.FullName != "" {
		name = p.FullName
	}
	if name == "" {
		name = "allí"
	}
	greeting := fmt.Sprintf("%s, %s!", textutil.Salutation(s.clock.Now()), name)

	if req.Session.Profile.IsPromotor() {
		req.Turn.Say(ctx, chat.Text(greeting+"\nSoy Agente Fenix Delivery. Envíame el número de pedido y te ayudaré con la entrega."))
		return nil
	}
	req.Turn.Say(ctx, chat.Text(greeting+"\nSoy Agente Fenix. Envíame los productos de tu pedido, la ubicación y el horario. También puedes enviar una foto de la lista."))
	return nil
}

// CancelStrategy drops both drafts and keeps the operator.
type CancelStrategy struct {
	logger *zap.Logger
}

func NewCancelStrategy(logger *zap.Logger) *CancelStrategy {
	return &CancelStrategy{logger: logger}
}

func (s *CancelStrategy) CanHandle(intent Intent) bool { return intent == IntentCancel }

func (s *CancelStrategy) Handle(ctx context.Context, req *Request) error {
	req.Session.Reset()
	s.logger.Info("session cancelled", zap.Int64("chat_id", req.Event.ChatID))
	req.Turn.Say(ctx, chat.Text("Operación cancelada. Puedes empezar un nuevo pedido cuando quieras."))
	return nil
}

// ReturnStrategy drives the return dialog.
type ReturnStrategy struct {
	machine *returns.Machine
}

func NewReturnStrategy(m *returns.Machine) *ReturnStrategy {
	return &ReturnStrategy{machine: m}
}

func (s *ReturnStrategy) CanHandle(intent Intent) bool { return intent == IntentReturn }

func (s *ReturnStrategy) Handle(ctx context.Context, req *Request) error {
	sess, ev := req.Session, req.Event
	switch ev.Kind {
	case chat.EventCommand:
		return s.machine.HandleCommand(ctx, &sess.Return, req.Turn, ev.Command)
	case chat.EventText:
		if !sess.Return.Active() {
			sess.Reset()
			s.machine.Start(ctx, &sess.Return, req.Turn)
			return nil
		}
		return s.machine.HandleText(ctx, &sess.Return, req.Turn, ev.Text)
	}
	req.Turn.Say(ctx, chat.Text("Estamos registrando una devolución. Por favor, responde a la pregunta anterior o escribe /cancelar."))
	return nil
}

// SalesStrategy drives the order-collection dialog.
type SalesStrategy struct {
	machine *sales.Machine
}

func NewSalesStrategy(m *sales.Machine) *SalesStrategy {
	return &SalesStrategy{machine: m}
}

func (s *SalesStrategy) CanHandle(intent Intent) bool { return intent == IntentSale }

func (s *SalesStrategy) Handle(ctx context.Context, req *Request) error {
	st, ev := &req.Session.Sale, req.Event
	switch ev.Kind {
	case chat.EventText:
		return s.machine.HandleText(ctx, st, req.Turn, ev.Text)
	case chat.EventPhoto:
		return s.machine.HandlePhoto(ctx, st, req.Turn, ev.PhotoFileID)
	case chat.EventLocation:
		return s.machine.HandleLocation(ctx, st, req.Turn, ev.Lat, ev.Lng)
	case chat.EventCommand:
		return s.machine.HandleCommand(ctx, st, req.Turn, ev.Command)
	}
	return fmt.Errorf("sale flow cannot handle %s events", ev.Kind)
}
