package chat

import (
	"context"
	"sync"

	"github.com/boddenberg/fenix-agent-go/internal/command"
)

// Button is an inline button carrying a typed command.
type Button struct {
	Label   string
	Command command.Command
}

// Reply is an outbound message. Keyboard rows are rendered as inline buttons.
type Reply struct {
	Text     string
	Keyboard [][]Button
}

// Text builds a reply without buttons.
func Text(text string) Reply { return Reply{Text: text} }

// Row is a convenience for a single keyboard row.
func Row(buttons ...Button) []Button { return buttons }

// Btn builds a button.
func Btn(label string, cmd command.Command) Button {
	return Button{Label: label, Command: cmd}
}

// Responder delivers replies to the conversation as they are produced.
// Delivery failures are the transport's concern; the dialog keeps going.
type Responder interface {
	Say(ctx context.Context, r Reply)
}

// Transcript is a Responder that keeps the replies in memory.
type Transcript struct {
	mu      sync.Mutex
	replies []Reply
}

func (t *Transcript) Say(_ context.Context, r Reply) {
	t.mu.Lock()
	t.replies = append(t.replies, r)
	t.mu.Unlock()
}

// Replies returns a copy of what was said so far.
func (t *Transcript) Replies() []Reply {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Reply(nil), t.replies...)
}

// Last returns the most recent reply, or the zero Reply.
func (t *Transcript) Last() Reply {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.replies) == 0 {
		return Reply{}
	}
	return t.replies[len(t.replies)-1]
}

// Commands lists every button command offered by r, row by row.
func (r Reply) Commands() []command.Command {
	var out []command.Command
	for _, row := range r.Keyboard {
		for _, b := range row {
			out = append(out, b.Command)
		}
	}
	return out
}
