package taskqueue

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestBatchReportedExactlyOnce(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	b := newBatches(func() time.Time { return now })
	b.Register([]int64{1, 2, 3}, 42)

	if _, done := b.Record(1, true); done {
		t.Fatal("пакет не должен завершаться после первой задачи")
	}
	if _, done := b.Record(1, false); done {
		t.Fatal("повторный результат задачи не должен учитываться")
	}
	if _, done := b.Record(2, false); done {
		t.Fatal("пакет не должен завершаться после второй задачи")
	}

	now = now.Add(12500 * time.Millisecond)
	report, done := b.Record(3, true)
	if !done {
		t.Fatal("ожидали итоговый отчёт")
	}
	if report.ChatID != 42 || report.Total != 3 || report.Completed != 2 || report.Failed != 1 {
		t.Fatalf("неверный отчёт: %+v", report)
	}
	if report.Elapsed != 12500*time.Millisecond {
		t.Fatalf("неверное время выполнения: %v", report.Elapsed)
	}
	if b.Len() != 0 {
		t.Fatal("завершённый пакет должен быть удалён")
	}
	if _, done := b.Record(3, true); done {
		t.Fatal("отчёт не должен отправляться повторно")
	}
}

func TestBatchReportText(t *testing.T) {
	report := BatchReport{Total: 3, Completed: 2, Failed: 1, Elapsed: 12500 * time.Millisecond}
	text := report.Text()
	for _, want := range []string{
		"📋 Всего задач: 3",
		"✅ Успешно: 2",
		"❌ Ошибок: 1",
		"🎉 Успешно опубликовано в 2 аккаунтах!",
		"⚠️ Ошибки в 1 аккаунтах",
		"📈 Успешность: 66.7%",
		"⏱️ Время выполнения: 12.5 секунд",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("в отчёте нет %q:\n%s", want, text)
		}
	}

	clean := BatchReport{Total: 2, Completed: 2}.Text()
	if strings.Contains(clean, "Ошибки в") {
		t.Fatalf("строка об ошибках не нужна без ошибок:\n%s", clean)
	}
}

func TestBatchReRegistrationMovesTask(t *testing.T) {
	b := newBatches(time.Now)
	b.Register([]int64{1}, 10)
	b.Register([]int64{1, 2}, 20)
	if b.Len() != 1 {
		t.Fatalf("опустевший пакет должен быть удалён, пакетов: %d", b.Len())
	}
	b.Record(1, true)
	report, done := b.Record(2, true)
	if !done || report.ChatID != 20 || report.Total != 2 {
		t.Fatalf("ожидали отчёт нового пакета, получили %+v (done=%v)", report, done)
	}
}

func TestSlotsResize(t *testing.T) {
	s := newSlots(1)
	ctx := context.Background()
	if err := s.Acquire(ctx); err != nil {
		t.Fatalf("первый слот должен выдаваться: %v", err)
	}

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if err := s.Acquire(short); err == nil {
		t.Fatal("второй слот не должен выдаваться при лимите 1")
	}

	acquired := make(chan struct{})
	go func() {
		if err := s.Acquire(ctx); err == nil {
			close(acquired)
		}
	}()
	s.SetLimit(2)
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("увеличение лимита должно разбудить ожидающих")
	}
	if s.InUse() != 2 {
		t.Fatalf("ожидали 2 занятых слота, получили %d", s.InUse())
	}

	s.SetLimit(1)
	s.Release()
	short2, cancel2 := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel2()
	if err := s.Acquire(short2); err == nil {
		t.Fatal("при уменьшенном лимите слот не должен выдаваться, пока занятых не меньше лимита")
	}
}

func TestAccountLocksExclusive(t *testing.T) {
	l := newAccountLocks()
	unlock := l.Lock(1)

	got := make(chan struct{})
	go func() {
		u := l.Lock(1)
		close(got)
		u()
	}()
	select {
	case <-got:
		t.Fatal("второй захват того же аккаунта должен ждать")
	case <-time.After(20 * time.Millisecond):
	}

	other := l.Lock(2)
	other()

	unlock()
	unlock()
	select {
	case <-got:
	case <-time.After(time.Second):
		t.Fatal("после разблокировки аккаунт должен освободиться")
	}
	deadline := time.Now().Add(time.Second)
	for l.Len() != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if l.Len() != 0 {
		t.Fatalf("неиспользуемые блокировки должны удаляться, осталось %d", l.Len())
	}
}
