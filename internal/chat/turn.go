package chat

import (
	"context"
	"fmt"

	"github.com/boddenberg/fenix-agent-go/internal/domain"
)

// Turn is what a dialog handler knows about the conversation it serves.
type Turn struct {
	ChatID   int64
	Operator *domain.OperatorProfile
	Out      Responder
}

// Say sends r to the conversation.
func (t Turn) Say(ctx context.Context, r Reply) { t.Out.Say(ctx, r) }

// Sayf sends a formatted text reply.
func (t Turn) Sayf(ctx context.Context, format string, args ...any) {
	t.Out.Say(ctx, Text(fmt.Sprintf(format, args...)))
}
