package notifier

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"ig-automation/internal/domain"
	"ig-automation/internal/infra/metrics"
)

const messageLimit = 4096

// Sender: часть tgbotapi.BotAPI, нужная для отправки сообщений.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram отправляет уведомления через Bot API, деля длинные тексты на части.
type Telegram struct {
	bot Sender
	log zerolog.Logger
}

func NewTelegram(bot Sender, logger zerolog.Logger) *Telegram {
	return &Telegram{bot: bot, log: logger.With().Str("component", "notifier").Logger()}
}

func (t *Telegram) Notify(ctx context.Context, chatID int64, text string) error {
	for i, part := range splitText(text, messageLimit) {
		if err := ctx.Err(); err != nil {
			return err
		}
		start := time.Now()
		_, err := t.bot.Send(tgbotapi.NewMessage(chatID, part))
		metrics.ObserveNetworkRequest("telegram_bot", "send_message", strconv.FormatInt(chatID, 10), start, err)
		if err != nil {
			t.log.Error().Err(err).Int64("chat", chatID).Int("part", i).Msg("notifier: не удалось отправить сообщение")
			return fmt.Errorf("send message part %d: %w", i, err)
		}
	}
	return nil
}

// splitText делит текст на части не длиннее limit рун, по возможности по переводам строк.
func splitText(text string, limit int) []string {
	runes := []rune(strings.TrimSpace(text))
	var parts []string
	for len(runes) > 0 {
		if len(runes) <= limit {
			parts = append(parts, string(runes))
			break
		}
		cut := limit
		for i := limit; i > 0; i-- {
			if runes[i-1] == '\n' {
				cut = i
				break
			}
		}
		if chunk := strings.Trim(string(runes[:cut]), "\n"); chunk != "" {
			parts = append(parts, chunk)
		}
		runes = []rune(strings.TrimLeft(string(runes[cut:]), "\n"))
	}
	return parts
}

var _ domain.Notifier = (*Telegram)(nil)
