package notifier

import (
	"context"
	"errors"
	"strings"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

type fakeSender struct {
	sent []tgbotapi.MessageConfig
	err  error
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if f.err != nil {
		return tgbotapi.Message{}, f.err
	}
	f.sent = append(f.sent, c.(tgbotapi.MessageConfig))
	return tgbotapi.Message{}, nil
}

func TestSplitTextPrefersNewlines(t *testing.T) {
	text := strings.Repeat("a", 3000) + "\n\n" + strings.Repeat("b", 2000) + "\n" + strings.Repeat("c", 500)
	parts := splitText(text, messageLimit)
	if len(parts) != 2 {
		t.Fatalf("ожидали 2 части, получили %d", len(parts))
	}
	if parts[0] != strings.Repeat("a", 3000) {
		t.Fatal("первая часть должна закончиться на переводе строки")
	}
	if !strings.HasPrefix(parts[1], "b") || !strings.HasSuffix(parts[1], strings.Repeat("c", 500)) {
		t.Fatal("вторая часть собрана неверно")
	}
}

func TestSplitTextHardCut(t *testing.T) {
	parts := splitText(strings.Repeat("я", 5000), messageLimit)
	if len(parts) != 2 || len([]rune(parts[0])) != messageLimit || len([]rune(parts[1])) != 904 {
		t.Fatalf("ожидали части 4096 и 904 руны, получили %d частей", len(parts))
	}
	if got := splitText("  \n ", messageLimit); len(got) != 0 {
		t.Fatalf("пустой текст не отправляется, получили %v", got)
	}
}

func TestNotifySendsAllParts(t *testing.T) {
	sender := &fakeSender{}
	n := NewTelegram(sender, zerolog.Nop())
	if err := n.Notify(context.Background(), 42, strings.Repeat("x", 5000)); err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if len(sender.sent) != 2 || sender.sent[0].ChatID != 42 {
		t.Fatalf("ожидали 2 сообщения в чат 42, получили %+v", sender.sent)
	}
}

func TestNotifyReturnsSendError(t *testing.T) {
	n := NewTelegram(&fakeSender{err: errors.New("forbidden")}, zerolog.Nop())
	if err := n.Notify(context.Background(), 1, "привет"); err == nil {
		t.Fatal("ошибка отправки должна возвращаться")
	}
}
