package activity

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"ig-automation/internal/domain"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestOptimizer(hour int) (*Optimizer, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 5, 10, hour, 0, 0, 0, time.Local)}
	return New(zerolog.Nop(), WithClock(clock.Now)), clock
}

func TestQuotaAndPriorityEviction(t *testing.T) {
	o, _ := newTestOptimizer(12)
	o.RegisterAccount(1, 100, 1, 0)
	o.RegisterAccount(2, 100, 1, 0)
	o.SetUserQuota(100, 1)

	if !o.ActivateAccount(1) {
		t.Fatalf("первый аккаунт должен активироваться")
	}
	if o.ActivateAccount(2) {
		t.Fatalf("второй аккаунт с тем же приоритетом не должен активироваться")
	}
	decision := o.ShouldActivateAccount(2)
	if decision.Allowed || decision.Reason != "User quota exceeded" || decision.WaitTime != 300*time.Second {
		t.Fatalf("неожиданное решение: %+v", decision)
	}

	o.RegisterAccount(3, 100, 5, 0)
	if d := o.ShouldActivateAccount(3); !d.Allowed || d.Reason != "Replaced low priority account" {
		t.Fatalf("высокоприоритетный аккаунт должен получить разрешение, получили %+v", d)
	}
	if !o.IsActive(1) {
		t.Fatalf("проверка не должна вытеснять аккаунт")
	}
	if !o.ActivateAccount(3) {
		t.Fatalf("высокоприоритетный аккаунт должен вытеснить низкоприоритетный")
	}
	if o.IsActive(1) || o.IsActive(2) {
		t.Fatalf("вытесненный аккаунт не должен быть активен, а ожидающий не должен занять слот")
	}
	if got := o.ActiveCount(100); got != 1 {
		t.Fatalf("после замены активных должно быть 1, получили %d", got)
	}
	if d := o.ShouldActivateAccount(1); d.Allowed || d.WaitTime != EvictionCooldown {
		t.Fatalf("вытесненный аккаунт должен быть на кулдауне 15 минут: %+v", d)
	}
}

func TestHighPriorityWithoutVictimIsRefused(t *testing.T) {
	o, _ := newTestOptimizer(12)
	o.RegisterAccount(1, 100, 5, 0)
	o.RegisterAccount(2, 100, 5, 0)
	o.SetUserQuota(100, 1)
	o.ActivateAccount(1)
	if o.ActivateAccount(2) {
		t.Fatalf("вытеснять можно только аккаунт со строго меньшим приоритетом")
	}
}

func TestUnknownAccountIsRefused(t *testing.T) {
	o, _ := newTestOptimizer(12)
	if d := o.ShouldActivateAccount(7); d.Allowed || d.Reason != "Account not registered" {
		t.Fatalf("неожиданное решение: %+v", d)
	}
	if o.ActivateAccount(7) {
		t.Fatalf("незарегистрированный аккаунт не должен активироваться")
	}
	if o.Stats().WaitingAccounts != 0 {
		t.Fatalf("незарегистрированный аккаунт не должен попадать в очередь")
	}
}

func TestActiveHoursGate(t *testing.T) {
	tests := []struct {
		hour int
		wait time.Duration
	}{
		{hour: 23, wait: 9 * time.Hour},
		{hour: 5, wait: 3 * time.Hour},
		{hour: 22, wait: 10 * time.Hour},
	}
	for _, tt := range tests {
		o, _ := newTestOptimizer(tt.hour)
		o.RegisterAccount(1, 100, 1, 0)
		d := o.ShouldActivateAccount(1)
		if d.Allowed || d.Reason != "Outside active hours" || d.WaitTime != tt.wait {
			t.Fatalf("час %d: неожиданное решение %+v", tt.hour, d)
		}
	}

	o, _ := newTestOptimizer(3)
	o.RegisterAccount(1, 100, 1, 0)
	if err := o.SetActiveHours(1, nil); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if d := o.ShouldActivateAccount(1); !d.Allowed {
		t.Fatalf("пустой набор часов разрешает работу в любое время: %+v", d)
	}
	if err := o.SetActiveHours(1, []int{25}); err == nil {
		t.Fatalf("ожидали ошибку для часа вне диапазона")
	}
}

func TestCooldownAndQueuePromotion(t *testing.T) {
	o, clock := newTestOptimizer(12)
	o.RegisterAccount(1, 100, 1, 0)
	o.RegisterAccount(2, 100, 1, 0)
	o.SetUserQuota(100, 1)
	o.ActivateAccount(1)
	o.ActivateAccount(2)

	o.DeactivateAccount(1, 10*time.Minute)
	if !o.IsActive(2) {
		t.Fatalf("ожидающий аккаунт должен активироваться после освобождения слота")
	}
	d := o.ShouldActivateAccount(1)
	if d.Allowed || d.Reason != "Cooldown for 600s" {
		t.Fatalf("ожидали кулдаун 600 секунд, получили %+v", d)
	}
	clock.Advance(10 * time.Minute)
	// кулдаун истёк, теперь аккаунт упирается в квоту, занятую вторым
	if d := o.ShouldActivateAccount(1); d.Reason != "User quota exceeded" {
		t.Fatalf("кулдаун должен истечь: %+v", d)
	}
}

func TestActivatingActiveAccountDoesNotDoubleCount(t *testing.T) {
	o, _ := newTestOptimizer(12)
	o.RegisterAccount(1, 100, 1, 0)
	o.SetUserQuota(100, 2)
	o.ActivateAccount(1)
	o.ActivateAccount(1)
	o.RegisterAccount(2, 100, 1, 0)
	if !o.ActivateAccount(2) {
		t.Fatalf("повторная активация не должна занимать второй слот")
	}
}

func TestOptimizeRotatesIdleAccounts(t *testing.T) {
	o, clock := newTestOptimizer(12)
	o.RegisterAccount(1, 100, 1, 0)
	o.RegisterAccount(2, 100, 1, 0)
	o.ActivateAccount(1)
	o.ActivateAccount(2)

	clock.Advance(30 * time.Minute)
	o.Touch(2)
	clock.Advance(16 * time.Minute)

	if got := o.OptimizeAllActivities(); got != 1 {
		t.Fatalf("ожидали одну ротацию, получили %d", got)
	}
	if o.IsActive(1) || !o.IsActive(2) {
		t.Fatalf("деактивирован должен быть только простаивающий аккаунт")
	}
	if d := o.ShouldActivateAccount(1); d.WaitTime != IdleCooldown {
		t.Fatalf("ожидали кулдаун 15 минут, получили %+v", d)
	}

	stats := o.Stats()
	if stats.TotalRotations != 1 || stats.TotalOptimizations != 1 || stats.MemorySavedMB != 4 {
		t.Fatalf("неверная статистика: %+v", stats)
	}
	if stats.UtilizationPercent != 50 || stats.EstimatedSavingsPercent != 50 {
		t.Fatalf("неверная утилизация: %+v", stats)
	}
}

func TestPremiumBoostOrdersWaitingQueue(t *testing.T) {
	o, clock := newTestOptimizer(12)
	o.RegisterAccount(1, 100, 3, 0) // премиум: 3 * 1.5
	o.RegisterAccount(2, 200, 4, 0)
	o.RegisterAccount(3, 300, 1, 0)
	o.SetUserPremiumStatus(100, true)

	for _, id := range []int64{1, 2} {
		o.ActivateAccount(id)
		o.DeactivateAccount(id, 5*time.Minute)
		o.ActivateAccount(id)
	}
	if o.Stats().WaitingAccounts != 2 {
		t.Fatalf("оба аккаунта должны ждать окончания кулдауна")
	}

	clock.Advance(6 * time.Minute)
	o.ActivateAccount(3)
	o.DeactivateAccount(3, 0)
	if !o.IsActive(1) || o.IsActive(2) {
		t.Fatalf("первым должен активироваться аккаунт премиум-пользователя")
	}
}

func TestConcurrentActivationsRespectQuota(t *testing.T) {
	o, _ := newTestOptimizer(12)
	for id := int64(1); id <= 40; id++ {
		o.RegisterAccount(id, 100, int(id%3)+1, 0)
	}
	o.SetUserQuota(100, 3)

	var wg sync.WaitGroup
	for id := int64(1); id <= 40; id++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			o.ActivateAccount(id)
			if id%4 == 0 {
				o.DeactivateAccount(id, time.Minute)
			}
		}(id)
	}
	wg.Wait()
	if got := o.ActiveCount(100); got > 3 {
		t.Fatalf("активных аккаунтов больше квоты: %d", got)
	}
}

func TestCooldownSnapshotRoundTrip(t *testing.T) {
	o, clock := newTestOptimizer(12)
	o.RegisterAccount(1, 100, 1, 0)
	o.ActivateAccount(1)
	o.DeactivateAccount(1, 20*time.Minute)
	records := o.Cooldowns()
	if len(records) != 1 {
		t.Fatalf("ожидали один кулдаун, получили %d", len(records))
	}

	restored := New(zerolog.Nop(), WithClock(clock.Now))
	expired := domain.CooldownRecord{AccountID: 2, Until: clock.Now().Add(-time.Minute)}
	if got := restored.RestoreCooldowns(append(records, expired)); got != 1 {
		t.Fatalf("ожидали восстановление одного кулдауна, получили %d", got)
	}
	restored.RegisterAccount(1, 100, 1, 0)
	if d := restored.ShouldActivateAccount(1); d.Allowed {
		t.Fatalf("восстановленный кулдаун должен применяться при регистрации")
	}
}

func TestAdmitRegistersAndEnforcesQuota(t *testing.T) {
	o, _ := newTestOptimizer(3)
	o.SetUserQuota(100, 1)

	if d := o.Admit(1, 100); !d.Allowed {
		t.Fatalf("неизвестный аккаунт должен регистрироваться и допускаться ночью, получили %+v", d)
	}
	if !o.IsActive(1) {
		t.Fatalf("допущенный аккаунт должен стать активным")
	}
	if d := o.Admit(1, 100); !d.Allowed || d.Reason != "Already active" {
		t.Fatalf("повторный допуск активного аккаунта: %+v", d)
	}
	if o.ActiveCount(100) != 1 {
		t.Fatalf("повторный допуск не должен увеличивать счётчик, получили %d", o.ActiveCount(100))
	}

	d := o.Admit(2, 100)
	if d.Allowed || d.Reason != "User quota exceeded" {
		t.Fatalf("второй аккаунт сверх квоты должен получить отказ, получили %+v", d)
	}
	if o.Stats().WaitingAccounts != 0 {
		t.Fatalf("отказ при допуске не должен ставить аккаунт в очередь ожидания")
	}
}
