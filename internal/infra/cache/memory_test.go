package cache

import (
	"context"
	"sync"
	"testing"
)

func TestKeyedMutexRejectsSecondHolder(t *testing.T) {
	m := NewKeyedMutex()
	release, ok, err := m.TryLock(context.Background(), "user:1")
	if err != nil || !ok {
		t.Fatalf("ожидали захват блокировки: ok=%v err=%v", ok, err)
	}
	if _, ok, _ := m.TryLock(context.Background(), "user:1"); ok {
		t.Fatal("повторный захват должен быть отклонён")
	}
	if _, ok, _ := m.TryLock(context.Background(), "user:2"); !ok {
		t.Fatal("другой ключ должен быть свободен")
	}
	release()
	release()
	if m.Held("user:1") {
		t.Fatal("ключ должен освободиться")
	}
	if _, ok, _ := m.TryLock(context.Background(), "user:1"); !ok {
		t.Fatal("после освобождения ключ снова доступен")
	}
}

func TestKeyedMutexConcurrentSingleWinner(t *testing.T) {
	m := NewKeyedMutex()
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok, _ := m.TryLock(context.Background(), "k"); ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("ожидали ровно одного победителя, получили %d", wins)
	}
}
