package queue

import (
	"context"

	"grok-bot/internal/domain"
)

// MemoryDigestQueue — очередь внутри процесса для запуска без брокера.
type MemoryDigestQueue struct {
	jobs chan domain.DigestJob
}

var _ domain.DigestQueue = (*MemoryDigestQueue)(nil)

// NewMemoryDigestQueue создаёт буферизованную очередь.
func NewMemoryDigestQueue(size int) *MemoryDigestQueue {
	if size <= 0 {
		size = 256
	}
	return &MemoryDigestQueue{jobs: make(chan domain.DigestJob, size)}
}

// Enqueue кладёт задачу в буфер или ждёт освобождения места.
func (q *MemoryDigestQueue) Enqueue(ctx context.Context, job domain.DigestJob) error {
	select {
	case q.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive возвращает следующую задачу. Неуспешный ack возвращает её в очередь.
func (q *MemoryDigestQueue) Receive(ctx context.Context) (domain.DigestJob, domain.DigestAckFunc, error) {
	select {
	case job := <-q.jobs:
		ack := func(success bool) error {
			if success {
				return nil
			}
			select {
			case q.jobs <- job:
			default:
			}
			return nil
		}
		return job, ack, nil
	case <-ctx.Done():
		return domain.DigestJob{}, nil, ctx.Err()
	}
}
