package telegram

import (
	"context"
	"hash/fnv"
	"strconv"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/boddenberg/fenix-agent-go/internal/chat"
	"github.com/boddenberg/fenix-agent-go/internal/command"
)

// Dispatcher handles one event for its conversation.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev chat.Event, out chat.Responder)
}

// Bot long-polls Telegram and feeds events to the dispatcher. Events of one
// chat are handled in arrival order; different chats run in parallel on a
// fixed set of lanes.
type Bot struct {
	api        API
	dispatcher Dispatcher
	lanes      int
	logger     *zap.Logger
}

// NewBot creates the polling loop. lanes bounds concurrent chats.
func NewBot(api API, dispatcher Dispatcher, lanes int, logger *zap.Logger) *Bot {
	if lanes < 1 {
		lanes = 1
	}
	return &Bot{api: api, dispatcher: dispatcher, lanes: lanes, logger: logger}
}

// Run polls until ctx is cancelled, then waits for in-flight events.
func (b *Bot) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.api.GetUpdatesChan(u)

	queues := make([]chan tgbotapi.Update, b.lanes)
	var wg sync.WaitGroup
	for i := range queues {
		queues[i] = make(chan tgbotapi.Update, 32)
		wg.Add(1)
		go func(q <-chan tgbotapi.Update) {
			defer wg.Done()
			for upd := range q {
				b.handle(ctx, upd)
			}
		}(queues[i])
	}

	b.logger.Info("telegram polling started", zap.Int("lanes", b.lanes))
	defer func() {
		for _, q := range queues {
			close(q)
		}
		wg.Wait()
		b.logger.Info("telegram polling stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case upd, ok := <-updates:
			if !ok {
				return
			}
			chatID := updateChatID(upd)
			if chatID == 0 {
				continue
			}
			select {
			case queues[lane(chatID, b.lanes)] <- upd:
			case <-ctx.Done():
				b.api.StopReceivingUpdates()
				return
			}
		}
	}
}

func (b *Bot) handle(ctx context.Context, upd tgbotapi.Update) {
	if cq := upd.CallbackQuery; cq != nil {
		b.acknowledge(cq)
	}
	ev, ok := ToEvent(upd)
	if !ok {
		return
	}
	b.dispatcher.Dispatch(ctx, ev, NewResponder(b.api, ev.ChatID, b.logger))
}

// acknowledge stops the client spinner and removes the pressed keyboard so
// the same button cannot be pressed twice.
func (b *Bot) acknowledge(cq *tgbotapi.CallbackQuery) {
	if _, err := b.api.Request(tgbotapi.NewCallback(cq.ID, "")); err != nil {
		b.logger.Debug("callback answer failed", zap.Error(err))
	}
	if cq.Message == nil {
		return
	}
	edit := tgbotapi.NewEditMessageReplyMarkup(cq.Message.Chat.ID, cq.Message.MessageID,
		tgbotapi.InlineKeyboardMarkup{InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{}})
	if _, err := b.api.Request(edit); err != nil {
		b.logger.Debug("keyboard removal failed", zap.Error(err))
	}
}

func lane(chatID int64, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(strconv.FormatInt(chatID, 10)))
	return int(h.Sum32() % uint32(n))
}

func updateChatID(upd tgbotapi.Update) int64 {
	switch {
	case upd.Message != nil && upd.Message.Chat != nil:
		return upd.Message.Chat.ID
	case upd.CallbackQuery != nil && upd.CallbackQuery.Message != nil && upd.CallbackQuery.Message.Chat != nil:
		return upd.CallbackQuery.Message.Chat.ID
	}
	return 0
}

// ToEvent converts an update. Unknown slash commands, stickers and other
// content yield false.
func ToEvent(upd tgbotapi.Update) (chat.Event, bool) {
	if cq := upd.CallbackQuery; cq != nil {
		if cq.Message == nil || cq.Message.Chat == nil {
			return chat.Event{}, false
		}
		cmd, err := command.Parse(cq.Data)
		if err != nil {
			return chat.Event{}, false
		}
		ev := chat.Event{
			ChatID:    cq.Message.Chat.ID,
			MessageID: cq.Message.MessageID,
			Kind:      chat.EventCommand,
			Command:   cmd,
		}
		if cq.From != nil {
			ev.Username, ev.FirstName = cq.From.UserName, cq.From.FirstName
		}
		return ev, true
	}

	msg := upd.Message
	if msg == nil || msg.Chat == nil {
		return chat.Event{}, false
	}
	ev := chat.Event{ChatID: msg.Chat.ID, MessageID: msg.MessageID}
	if msg.From != nil {
		ev.Username, ev.FirstName = msg.From.UserName, msg.From.FirstName
	}

	switch {
	case msg.IsCommand():
		switch strings.ToLower(msg.Command()) {
		case "start":
			ev.Kind = chat.EventStart
		case "cancelar", "cancel":
			ev.Kind = chat.EventCancel
		default:
			return chat.Event{}, false
		}
	case msg.Location != nil:
		ev.Kind = chat.EventLocation
		ev.Lat, ev.Lng = msg.Location.Latitude, msg.Location.Longitude
	case len(msg.Photo) > 0:
		ev.Kind = chat.EventPhoto
		ev.PhotoFileID = msg.Photo[len(msg.Photo)-1].FileID
		ev.Text = msg.Caption
	case strings.TrimSpace(msg.Text) != "":
		if strings.HasPrefix(msg.Text, "/") {
			return chat.Event{}, false
		}
		ev.Kind = chat.EventText
		ev.Text = msg.Text
	default:
		return chat.Event{}, false
	}
	return ev, true
}
