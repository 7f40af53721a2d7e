// Package telegram binds the dialog to the Telegram Bot API: updates become
// chat events and replies become messages with inline keyboards.
package telegram

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/boddenberg/fenix-agent-go/internal/chat"
	"github.com/boddenberg/fenix-agent-go/internal/command"
)

// API is the part of *tgbotapi.BotAPI the bot uses.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFile(config tgbotapi.FileConfig) (tgbotapi.File, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Responder sends replies to one chat.
type Responder struct {
	api    API
	chatID int64
	logger *zap.Logger
}

// NewResponder creates a Responder bound to chatID.
func NewResponder(api API, chatID int64, logger *zap.Logger) *Responder {
	return &Responder{api: api, chatID: chatID, logger: logger}
}

// Say sends r as Markdown. When Telegram rejects the markup the text is
// sent again without parse mode so the operator still gets it.
func (r *Responder) Say(_ context.Context, reply chat.Reply) {
	msg := tgbotapi.NewMessage(r.chatID, reply.Text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	if kb, ok := r.keyboard(reply.Keyboard); ok {
		msg.ReplyMarkup = kb
	}

	if _, err := r.api.Send(msg); err != nil {
		r.logger.Warn("markdown send failed, retrying as plain text", zap.Int64("chat_id", r.chatID), zap.Error(err))
		msg.ParseMode = ""
		if _, err := r.api.Send(msg); err != nil {
			r.logger.Error("send failed", zap.Int64("chat_id", r.chatID), zap.Error(err))
		}
	}
}

func (r *Responder) keyboard(rows [][]chat.Button) (tgbotapi.InlineKeyboardMarkup, bool) {
	if len(rows) == 0 {
		return tgbotapi.InlineKeyboardMarkup{}, false
	}
	out := make([][]tgbotapi.InlineKeyboardButton, 0, len(rows))
	for _, row := range rows {
		var buttons []tgbotapi.InlineKeyboardButton
		for _, b := range row {
			data, err := command.Encode(b.Command)
			if err != nil {
				r.logger.Error("button dropped", zap.String("label", b.Label), zap.Error(err))
				continue
			}
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(b.Label, data))
		}
		if len(buttons) > 0 {
			out = append(out, buttons)
		}
	}
	if len(out) == 0 {
		return tgbotapi.InlineKeyboardMarkup{}, false
	}
	return tgbotapi.NewInlineKeyboardMarkup(out...), true
}
