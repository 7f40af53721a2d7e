package telegram

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/boddenberg/fenix-agent-go/internal/chat"
	"github.com/boddenberg/fenix-agent-go/internal/command"
	"github.com/boddenberg/fenix-agent-go/internal/domain"
	"github.com/boddenberg/fenix-agent-go/internal/infra/resilience"
)

type fakeAPI struct {
	mu       sync.Mutex
	sent     []tgbotapi.MessageConfig
	requests []tgbotapi.Chattable
	failMD   bool
	file     tgbotapi.File
	updates  chan tgbotapi.Update
	stopped  bool
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg := c.(tgbotapi.MessageConfig)
	if f.failMD && msg.ParseMode != "" {
		return tgbotapi.Message{}, errors.New("Bad Request: can't parse entities")
	}
	f.sent = append(f.sent, msg)
	return tgbotapi.Message{}, nil
}

func (f *fakeAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeAPI) GetFile(tgbotapi.FileConfig) (tgbotapi.File, error) { return f.file, nil }

func (f *fakeAPI) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel { return f.updates }

func (f *fakeAPI) StopReceivingUpdates() {
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
}

func textMessage(chatID int64, text string) *tgbotapi.Message {
	return &tgbotapi.Message{
		MessageID: 1,
		Chat:      &tgbotapi.Chat{ID: chatID},
		From:      &tgbotapi.User{UserName: "ana", FirstName: "Ana"},
		Text:      text,
	}
}

func commandMessage(chatID int64, text string) *tgbotapi.Message {
	m := textMessage(chatID, text)
	m.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(text)}}
	return m
}

func TestToEvent(t *testing.T) {
	photo := textMessage(5, "")
	photo.Photo = []tgbotapi.PhotoSize{{FileID: "small"}, {FileID: "large"}}
	loc := textMessage(5, "")
	loc.Location = &tgbotapi.Location{Latitude: -17.78, Longitude: -63.18}

	data, err := command.Encode(command.SetPayment(domain.PaymentQR))
	require.NoError(t, err)

	tests := []struct {
		name string
		upd  tgbotapi.Update
		ok   bool
		want chat.Event
	}{
		{"text", tgbotapi.Update{Message: textMessage(5, "2 poleras")}, true,
			chat.Event{ChatID: 5, MessageID: 1, Username: "ana", FirstName: "Ana", Kind: chat.EventText, Text: "2 poleras"}},
		{"start", tgbotapi.Update{Message: commandMessage(5, "/start")}, true,
			chat.Event{ChatID: 5, MessageID: 1, Username: "ana", FirstName: "Ana", Kind: chat.EventStart, Text: ""}},
		{"cancel", tgbotapi.Update{Message: commandMessage(5, "/cancelar")}, true,
			chat.Event{ChatID: 5, MessageID: 1, Username: "ana", FirstName: "Ana", Kind: chat.EventCancel}},
		{"unknown command", tgbotapi.Update{Message: commandMessage(5, "/help")}, false, chat.Event{}},
		{"photo takes largest size", tgbotapi.Update{Message: photo}, true,
			chat.Event{ChatID: 5, MessageID: 1, Username: "ana", FirstName: "Ana", Kind: chat.EventPhoto, PhotoFileID: "large"}},
		{"location", tgbotapi.Update{Message: loc}, true,
			chat.Event{ChatID: 5, MessageID: 1, Username: "ana", FirstName: "Ana", Kind: chat.EventLocation, Lat: -17.78, Lng: -63.18}},
		{"callback", tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
			ID: "cb", Data: data, From: &tgbotapi.User{UserName: "ana"}, Message: textMessage(5, "menu"),
		}}, true, chat.Event{ChatID: 5, MessageID: 1, Username: "ana", Kind: chat.EventCommand, Command: command.SetPayment(domain.PaymentQR)}},
		{"garbage callback", tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
			ID: "cb", Data: "NOPE", Message: textMessage(5, "menu"),
		}}, false, chat.Event{}},
		{"empty", tgbotapi.Update{Message: textMessage(5, "  ")}, false, chat.Event{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, ok := ToEvent(tt.upd)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, ev)
			}
		})
	}
}

func TestResponder_RendersKeyboardAndFallsBackToPlainText(t *testing.T) {
	api := &fakeAPI{failMD: true}
	r := NewResponder(api, 9, zap.NewNop())

	r.Say(context.Background(), chat.Reply{
		Text:     "*Total*",
		Keyboard: [][]chat.Button{chat.Row(chat.Btn("✅", command.ConfirmOrder()), chat.Btn("✏️", command.EditOrder()))},
	})

	require.Len(t, api.sent, 1)
	msg := api.sent[0]
	assert.Equal(t, "", msg.ParseMode)
	kb, ok := msg.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	require.True(t, ok)
	require.Len(t, kb.InlineKeyboard, 1)
	require.Len(t, kb.InlineKeyboard[0], 2)

	data, _ := command.Encode(command.ConfirmOrder())
	assert.Equal(t, data, *kb.InlineKeyboard[0][0].CallbackData)
}

func TestFiles_DownloadFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/file/botTOKEN/photos/file_1.png", r.URL.Path)
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write([]byte("png-bytes"))
	}))
	defer srv.Close()

	api := &fakeAPI{file: tgbotapi.File{FileID: "f", FilePath: "photos/file_1.png"}}
	files := NewFiles(api, "TOKEN", srv.Client(), resilience.NewCircuitBreaker("telegram-test"), resilience.Config{MaxRetries: 1, InitialBackoff: time.Millisecond})
	files.endpoint = srv.URL + "/file/bot%s/%s"

	photo, err := files.DownloadFile(context.Background(), "f")
	require.NoError(t, err)
	assert.Equal(t, []byte("png-bytes"), photo.Data)
	assert.Equal(t, "png", photo.Extension)
	assert.Equal(t, "image/png", photo.ContentType)
}

func TestFiles_NotFoundIsExternalError(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	api := &fakeAPI{file: tgbotapi.File{FilePath: "photos/x.jpg"}}
	files := NewFiles(api, "T", srv.Client(), resilience.NewCircuitBreaker("telegram-test-404"), resilience.Config{MaxRetries: 3, InitialBackoff: time.Millisecond})
	files.endpoint = srv.URL + "/file/bot%s/%s"

	_, err := files.DownloadFile(context.Background(), "f")
	var ext *domain.ErrExternalService
	assert.ErrorAs(t, err, &ext)
	assert.Equal(t, 1, calls, "client errors are not retried")
}

type recordingDispatcher struct {
	mu     sync.Mutex
	events []chat.Event
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, ev chat.Event, out chat.Responder) {
	d.mu.Lock()
	d.events = append(d.events, ev)
	d.mu.Unlock()
	out.Say(ctx, chat.Text("ok"))
}

func (d *recordingDispatcher) texts() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []string
	for _, ev := range d.events {
		out = append(out, ev.Text)
	}
	return out
}

func TestBot_RunKeepsPerChatOrderAndAcknowledgesCallbacks(t *testing.T) {
	api := &fakeAPI{updates: make(chan tgbotapi.Update, 16)}
	d := &recordingDispatcher{}
	bot := NewBot(api, d, 4, zap.NewNop())

	data, _ := command.Encode(command.ConfirmOrder())
	for _, txt := range []string{"uno", "dos", "tres"} {
		api.updates <- tgbotapi.Update{Message: textMessage(5, txt)}
	}
	api.updates <- tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{ID: "cb", Data: data, Message: textMessage(5, "resumen")}}
	close(api.updates)

	bot.Run(context.Background())

	assert.Equal(t, []string{"uno", "dos", "tres", ""}, d.texts())
	assert.Len(t, api.sent, 4)
	assert.Len(t, api.requests, 2, "callback answer and keyboard removal")
}
