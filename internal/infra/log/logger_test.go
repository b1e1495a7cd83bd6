package log

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
)

func TestNewLoggerLevels(t *testing.T) {
	if got := newLogger(&bytes.Buffer{}, "dev").GetLevel(); got != zerolog.DebugLevel {
		t.Fatalf("в dev ожидали debug, получили %s", got)
	}
	if got := newLogger(&bytes.Buffer{}, "prod").GetLevel(); got != zerolog.InfoLevel {
		t.Fatalf("вне dev ожидали info, получили %s", got)
	}
}

func TestNewLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "prod")
	logger.Info().Msg("проверка")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("запись не JSON: %v", err)
	}
	if entry["service"] != "ig-automation" || entry["message"] != "проверка" || entry["time"] == nil {
		t.Fatalf("неверная запись: %v", entry)
	}
}
