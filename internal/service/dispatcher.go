// Package service routes inbound chat events to the dialog that owns them.
//
// Every event runs inside its conversation's session lock. The Dispatcher
// detects the intent of the event (greeting, cancel, return or sale) and
// hands it to the first Strategy that accepts that intent. Strategies mutate
// the session in place and answer through the Responder they are given.
package service

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/boddenberg/fenix-agent-go/internal/chat"
	"github.com/boddenberg/fenix-agent-go/internal/command"
	"github.com/boddenberg/fenix-agent-go/internal/domain"
	"github.com/boddenberg/fenix-agent-go/internal/infra/resilience"
	"github.com/boddenberg/fenix-agent-go/internal/port"
	"github.com/boddenberg/fenix-agent-go/internal/session"
	"github.com/boddenberg/fenix-agent-go/internal/textutil"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("service")

// apology is sent when a handler fails or panics.
const apology = "Ocurrió un error inesperado. El equipo técnico ha sido notificado. Por favor, intenta de nuevo en unos momentos."

// Intent is what the dispatcher decided an event is about.
type Intent string

const (
	IntentGreeting Intent = "greeting"
	IntentCancel   Intent = "cancel"
	IntentReturn   Intent = "return"
	IntentSale     Intent = "sale"
)

// Request is one event together with the session it belongs to.
type Request struct {
	Event   chat.Event
	Session *session.Session
	Turn    chat.Turn
}

// Strategy handles the events of one intent.
type Strategy interface {
	CanHandle(intent Intent) bool
	Handle(ctx context.Context, req *Request) error
}

// EventRecorder receives per-event metrics.
type EventRecorder interface {
	RecordEvent(kind, outcome string, d time.Duration)
	SetActiveSessions(n int)
}

// Dispatcher is the entry point for every inbound event.
type Dispatcher struct {
	sessions   *session.Store
	profiles   port.ProfileFetcher
	cache      port.Cache[domain.OperatorProfile]
	strategies []Strategy
	bulkhead   *resilience.Bulkhead
	metrics    EventRecorder
	logger     *zap.Logger
}

// DispatcherOption configures optional collaborators.
type DispatcherOption func(*Dispatcher)

// WithProfileCache caches operator profiles by Telegram username.
func WithProfileCache(c port.Cache[domain.OperatorProfile]) DispatcherOption {
	return func(d *Dispatcher) { d.cache = c }
}

// WithBulkhead bounds how many events are processed at once.
func WithBulkhead(b *resilience.Bulkhead) DispatcherOption {
	return func(d *Dispatcher) { d.bulkhead = b }
}

// WithEventRecorder reports per-event metrics.
func WithEventRecorder(m EventRecorder) DispatcherOption {
	return func(d *Dispatcher) { d.metrics = m }
}

// NewDispatcher wires the strategies. Order matters: the first strategy that
// accepts an intent handles it.
func NewDispatcher(sessions *session.Store, profiles port.ProfileFetcher, strategies []Strategy, logger *zap.Logger, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		sessions:   sessions,
		profiles:   profiles,
		strategies: strategies,
		logger:     logger,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Dispatch processes ev for its conversation and answers through out.
// Failures are logged and answered with a generic apology; Dispatch never
// panics and never returns an error to the transport.
func (d *Dispatcher) Dispatch(ctx context.Context, ev chat.Event, out chat.Responder) {
	ctx, span := tracer.Start(ctx, "Dispatcher.Dispatch")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("chat.id", ev.ChatID),
		attribute.String("event.kind", string(ev.Kind)),
	)

	start := time.Now()
	outcome := "ok"
	defer func() {
		if d.metrics != nil {
			d.metrics.RecordEvent(string(ev.Kind), outcome, time.Since(start))
			d.metrics.SetActiveSessions(d.sessions.Len())
		}
	}()

	if d.bulkhead != nil {
		if err := d.bulkhead.Acquire(ctx); err != nil {
			outcome = "dropped"
			d.logger.Warn("event dropped while waiting for a slot", zap.Int64("chat_id", ev.ChatID), zap.Error(err))
			return
		}
		defer d.bulkhead.Release()
	}

	key := strconv.FormatInt(ev.SessionKey(), 10)
	panicked := false
	err := d.sessions.WithSession(ctx, key, func(sess *session.Session) (err error) {
		defer func() {
			if r := recover(); r != nil {
				panicked = true
				err = fmt.Errorf("panic: %v", r)
				d.logger.Error("handler panicked",
					zap.Int64("chat_id", ev.ChatID),
					traceID(ctx),
					zap.Any("panic", r),
					zap.ByteString("stack", debug.Stack()),
				)
			}
		}()
		return d.handle(ctx, ev, sess, out)
	})
	if err != nil {
		outcome = "error"
		if panicked {
			outcome = "panic"
		}
		if errors.Is(err, context.Canceled) {
			return
		}
		span.RecordError(err)
		d.logger.Error("event handling failed",
			zap.Int64("chat_id", ev.ChatID),
			zap.String("kind", string(ev.Kind)),
			traceID(ctx),
			zap.Error(err),
		)
		out.Say(ctx, chat.Text(apology))
	}
}

// traceID ties an error log line to its trace.
func traceID(ctx context.Context) zap.Field {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return zap.Skip()
	}
	return zap.String("trace_id", sc.TraceID().String())
}

func (d *Dispatcher) handle(ctx context.Context, ev chat.Event, sess *session.Session, out chat.Responder) error {
	if sess.Profile == nil {
		sess.Profile = d.loadProfile(ctx, ev.Username)
	}
	if ev.Kind == chat.EventText {
		sess.Remember(session.RoleUser, ev.Text, time.Now())
	}

	intent := DetectIntent(ev, sess)
	req := &Request{
		Event:   ev,
		Session: sess,
		Turn:    chat.Turn{ChatID: ev.ChatID, Operator: sess.Profile, Out: remembering{out: out, sess: sess}},
	}

	for _, s := range d.strategies {
		if s.CanHandle(intent) {
			d.logger.Debug("delegating to strategy",
				zap.Int64("chat_id", ev.ChatID),
				zap.String("intent", string(intent)),
			)
			return s.Handle(ctx, req)
		}
	}
	return fmt.Errorf("no strategy for intent %q", intent)
}

// loadProfile resolves the operator once per session. Unknown operators keep
// chatting with a nil profile.
func (d *Dispatcher) loadProfile(ctx context.Context, username string) *domain.OperatorProfile {
	if username == "" || d.profiles == nil {
		return nil
	}
	if d.cache != nil {
		if p, ok := d.cache.Get(username); ok {
			return &p
		}
	}

	p, err := d.profiles.GetOperatorProfile(ctx, username)
	if err != nil {
		var nf *domain.ErrNotFound
		if errors.As(err, &nf) {
			d.logger.Debug("operator not registered", zap.String("username", username))
		} else {
			d.logger.Warn("operator profile lookup failed", zap.String("username", username), zap.Error(err))
		}
		return nil
	}
	if d.cache != nil {
		d.cache.Set(username, *p)
	}
	return p
}

// DetectIntent classifies an event against the current session.
//
//   - /start and greeting texts are greetings, whatever the dialog state
//   - /cancelar cancels
//   - return buttons, and anything while a return is open, go to returns
//   - text asking for a return starts one
//   - everything else belongs to the sale
func DetectIntent(ev chat.Event, sess *session.Session) Intent {
	switch ev.Kind {
	case chat.EventStart:
		return IntentGreeting
	case chat.EventCancel:
		return IntentCancel
	case chat.EventCommand:
		if isReturnCommand(ev.Command) {
			return IntentReturn
		}
		return IntentSale
	case chat.EventText:
		if textutil.IsGreeting(ev.Text) {
			return IntentGreeting
		}
		if sess.Return.Active() || textutil.IsReturnRequest(ev.Text) {
			return IntentReturn
		}
	case chat.EventPhoto, chat.EventLocation:
		if sess.Return.Active() {
			return IntentReturn
		}
	}
	return IntentSale
}

// remembering copies bot replies into the session history.
type remembering struct {
	out  chat.Responder
	sess *session.Session
}

func (r remembering) Say(ctx context.Context, reply chat.Reply) {
	r.sess.Remember(session.RoleBot, reply.Text, time.Now())
	r.out.Say(ctx, reply)
}

func isReturnCommand(c command.Command) bool {
	switch c.Kind {
	case command.KindReturnItem, command.KindConfirmReturn, command.KindCancelReturn:
		return true
	}
	return false
}
