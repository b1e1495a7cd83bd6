package cache

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Memory: потокобезопасный TTL-кэш в памяти процесса.
// Записи не обновляются частично: устаревшая запись пересчитывается целиком.
type Memory[K comparable, V any] struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[K]memoryEntry[V]
	group   singleflight.Group
}

type memoryEntry[V any] struct {
	value    V
	storedAt time.Time
}

// NewMemory создаёт кэш. ttl <= 0 означает бессрочное хранение.
func NewMemory[K comparable, V any](ttl time.Duration, now func() time.Time) *Memory[K, V] {
	if now == nil {
		now = time.Now
	}
	return &Memory[K, V]{ttl: ttl, now: now, entries: make(map[K]memoryEntry[V])}
}

// Get возвращает значение, если запись ещё действительна.
func (c *Memory[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok || !c.valid(entry) {
		var zero V
		return zero, false
	}
	return entry.value, true
}

// Set сохраняет значение с текущей отметкой времени.
func (c *Memory[K, V]) Set(key K, value V) {
	c.mu.Lock()
	c.entries[key] = memoryEntry[V]{value: value, storedAt: c.now()}
	c.mu.Unlock()
}

// Delete удаляет запись.
func (c *Memory[K, V]) Delete(key K) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Clear удаляет все записи.
func (c *Memory[K, V]) Clear() {
	c.mu.Lock()
	c.entries = make(map[K]memoryEntry[V])
	c.mu.Unlock()
}

// Len возвращает количество записей, включая устаревшие.
func (c *Memory[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Load возвращает действительное значение или вычисляет его через fn.
// Параллельные вычисления одного ключа объединяются. Ошибки не кэшируются.
func (c *Memory[K, V]) Load(key K, fn func() (V, error)) (V, error) {
	if value, ok := c.Get(key); ok {
		return value, nil
	}
	res, err, _ := c.group.Do(fmt.Sprint(key), func() (any, error) {
		if value, ok := c.Get(key); ok {
			return value, nil
		}
		value, err := fn()
		if err != nil {
			return value, err
		}
		c.Set(key, value)
		return value, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return res.(V), nil
}

func (c *Memory[K, V]) valid(entry memoryEntry[V]) bool {
	if c.ttl <= 0 {
		return true
	}
	return c.now().Sub(entry.storedAt) < c.ttl
}
