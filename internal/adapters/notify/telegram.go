// Package notify envía alertas por Telegram. Con el token vacío el
// notifier es un no-op: el bot funciona igual sin alertas configuradas.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/alejandrodnm/predictbot/internal/ports"
)

// Telegram implementa ports.Notifier sobre la Bot API.
type Telegram struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

var _ ports.Notifier = (*Telegram)(nil)

// NewTelegram crea el notifier. Token o chat ID vacíos devuelven un
// notifier deshabilitado, no un error: las alertas son opcionales.
func NewTelegram(token, chatID string) (*Telegram, error) {
	if token == "" || chatID == "" {
		slog.Info("alertas de telegram deshabilitadas")
		return &Telegram{}, nil
	}

	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("notify.NewTelegram: chat ID %q inválido: %w", chatID, err)
	}

	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("notify.NewTelegram: %w", err)
	}
	return &Telegram{bot: bot, chatID: id}, nil
}

// Send envía el mensaje en HTML. Los fallos se loguean y se tragan:
// una alerta perdida nunca debe abortar el pipeline.
func (t *Telegram) Send(_ context.Context, message string) error {
	if t.bot == nil {
		return nil
	}
	msg := tgbotapi.NewMessage(t.chatID, message)
	msg.ParseMode = tgbotapi.ModeHTML
	if _, err := t.bot.Send(msg); err != nil {
		slog.Warn("alerta de telegram falló", "err", err)
	}
	return nil
}
