package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"ig-automation/internal/domain"
)

const (
	defaultKey = "throttle:snapshot"
	defaultTTL = 48 * time.Hour
)

// Blocks: источник и приёмник временных блокировок действий.
type Blocks interface {
	Blocks() []domain.BlockRecord
	RestoreBlocks(records []domain.BlockRecord) int
}

// Cooldowns: источник и приёмник кулдаунов аккаунтов.
type Cooldowns interface {
	Cooldowns() []domain.CooldownRecord
	RestoreCooldowns(records []domain.CooldownRecord) int
}

// Store сохраняет состояние ограничителей в кэш между перезапусками воркера.
type Store struct {
	cache domain.Cache
	key   string
	ttl   time.Duration
	now   func() time.Time
	log   zerolog.Logger
}

func NewStore(cache domain.Cache, logger zerolog.Logger) *Store {
	return &Store{
		cache: cache,
		key:   defaultKey,
		ttl:   defaultTTL,
		now:   time.Now,
		log:   logger.With().Str("component", "snapshot").Logger(),
	}
}

// Save снимает блокировки и кулдауны и записывает их в кэш.
func (s *Store) Save(blocks Blocks, cooldowns Cooldowns) error {
	snap := domain.ThrottleSnapshot{SavedAt: s.now()}
	if blocks != nil {
		snap.Blocks = blocks.Blocks()
	}
	if cooldowns != nil {
		snap.Cooldowns = cooldowns.Cooldowns()
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := s.cache.Set(s.key, raw, s.ttl); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	s.log.Info().Int("blocks", len(snap.Blocks)).Int("cooldowns", len(snap.Cooldowns)).Msg("snapshot: состояние ограничителей сохранено")
	return nil
}

// Restore читает снимок и применяет его. Отсутствие снимка не считается ошибкой.
func (s *Store) Restore(blocks Blocks, cooldowns Cooldowns) error {
	raw, err := s.cache.Get(s.key)
	if errors.Is(err, domain.ErrNotFound) {
		s.log.Info().Msg("snapshot: сохранённого состояния нет")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	var snap domain.ThrottleSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}

	var restoredBlocks, restoredCooldowns int
	if blocks != nil {
		restoredBlocks = blocks.RestoreBlocks(snap.Blocks)
	}
	if cooldowns != nil {
		restoredCooldowns = cooldowns.RestoreCooldowns(snap.Cooldowns)
	}
	s.log.Info().
		Time("saved_at", snap.SavedAt).
		Int("blocks", restoredBlocks).
		Int("cooldowns", restoredCooldowns).
		Msg("snapshot: состояние ограничителей восстановлено")
	return nil
}
