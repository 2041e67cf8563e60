package queue

import (
	"context"
	"testing"
	"time"

	"grok-bot/internal/domain"
)

func TestMemoryQueueRoundTrip(t *testing.T) {
	q := NewMemoryDigestQueue(4)
	ctx := context.Background()
	job := domain.DigestJob{ID: "a", UserID: 1, GuildID: 2, Cause: domain.DigestCauseScheduled}
	if err := q.Enqueue(ctx, job); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	got, ack, err := q.Receive(ctx)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if got.ID != "a" || got.UserID != 1 {
		t.Fatalf("неожиданная задача: %+v", got)
	}
	if err := ack(false); err != nil {
		t.Fatalf("ack: %v", err)
	}
	again, ack, err := q.Receive(ctx)
	if err != nil || again.ID != "a" {
		t.Fatalf("ожидали повторную доставку, получили %+v err=%v", again, err)
	}
	_ = ack(true)
}

func TestMemoryQueueReceiveHonoursContext(t *testing.T) {
	q := NewMemoryDigestQueue(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, _, err := q.Receive(ctx); err == nil {
		t.Fatal("ожидали ошибку отмены")
	}
}
