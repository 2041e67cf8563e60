package cache

import (
	"context"
	"sync"

	"grok-bot/internal/domain"
)

// KeyedMutex — внутрипроцессная неблокирующая блокировка по ключу.
type KeyedMutex struct {
	mu   sync.Mutex
	held map[string]struct{}
}

var _ domain.Locker = (*KeyedMutex)(nil)

// NewKeyedMutex создаёт пустой набор блокировок.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{held: make(map[string]struct{})}
}

// TryLock захватывает ключ или сразу сообщает, что он занят.
func (m *KeyedMutex) TryLock(_ context.Context, key string) (func(), bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, busy := m.held[key]; busy {
		return nil, false, nil
	}
	m.held[key] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.held, key)
			m.mu.Unlock()
		})
	}, true, nil
}

// Held сообщает, занят ли ключ.
func (m *KeyedMutex) Held(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.held[key]
	return ok
}
