package taskqueue

import (
	"context"
	"sync"
)

// slots: счётный семафор с изменяемым лимитом. Уменьшение лимита не прерывает
// уже выданные слоты: новые выдаются, пока занятых меньше лимита.
type slots struct {
	mu      sync.Mutex
	limit   int
	used    int
	changed chan struct{}
}

func newSlots(limit int) *slots {
	if limit < 1 {
		limit = 1
	}
	return &slots{limit: limit, changed: make(chan struct{})}
}

func (s *slots) Acquire(ctx context.Context) error {
	for {
		s.mu.Lock()
		if s.used < s.limit {
			s.used++
			s.mu.Unlock()
			return nil
		}
		wait := s.changed
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-wait:
		}
	}
}

func (s *slots) Release() {
	s.mu.Lock()
	if s.used > 0 {
		s.used--
	}
	s.notifyLocked()
	s.mu.Unlock()
}

func (s *slots) SetLimit(limit int) {
	if limit < 1 {
		limit = 1
	}
	s.mu.Lock()
	s.limit = limit
	s.notifyLocked()
	s.mu.Unlock()
}

func (s *slots) Limit() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.limit
}

func (s *slots) InUse() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.used
}

func (s *slots) notifyLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}
