package digest

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"grok-bot/internal/domain"
	"grok-bot/internal/infra/queue"
)

func TestDispatcherPollEnqueuesDueUsers(t *testing.T) {
	svc, repo, _, _, pub, _ := newTestService(domain.PlatformTelegram)
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	_, _ = svc.AddTopic(ctx, 1, 50, "go")
	_, _ = svc.SetDailyTime(ctx, 1, 50, "09:00")
	_, _ = svc.AddTopic(ctx, 2, 60, "rust")
	_, _ = svc.SetDailyTime(ctx, 2, 60, "11:00")

	q := queue.NewMemoryDigestQueue(4)
	d := NewDispatcher(svc, repo, q, nil, zerolog.Nop())
	d.now = svc.now
	d.Poll(ctx)

	job, ack, err := q.Receive(ctx)
	if err != nil {
		t.Fatalf("очередь: %v", err)
	}
	if job.UserID != 1 || job.GuildID != 50 || job.Cause != domain.DigestCauseScheduled || job.ID == "" {
		t.Fatalf("неожиданная задача: %+v", job)
	}
	d.Handle(ctx, job)
	_ = ack(true)
	if len(pub.headers) != 1 {
		t.Fatalf("ожидали одну доставку, получили %d", len(pub.headers))
	}

	d.Handle(ctx, job)
	if len(pub.headers) != 1 {
		t.Fatal("повторная плановая задача после отправки должна пропускаться")
	}

	d.Poll(ctx)
	cctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if job, _, err := q.Receive(cctx); err == nil {
		t.Fatalf("после отправки пользователь не должен снова попадать в очередь: %+v", job)
	}
}

func TestDispatcherSkipsForeignPlatformJob(t *testing.T) {
	svc, repo, _, _, pub, _ := newTestService(domain.PlatformTelegram)
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	_, _ = svc.AddTopic(ctx, 7, 900, "go")
	_, _ = svc.SetDailyTime(ctx, 7, 900, "09:00")

	d := NewDispatcher(svc, repo, queue.NewMemoryDigestQueue(1), nil, zerolog.Nop())
	d.now = svc.now
	job := domain.DigestJob{ID: "j1", UserID: 7, GuildID: 900, Platform: domain.PlatformDiscord, Cause: domain.DigestCauseScheduled}
	if done := d.Handle(ctx, job); !done {
		t.Fatal("задача другой площадки должна сниматься с очереди")
	}
	if len(pub.headers) != 0 {
		t.Fatalf("telegram-диспетчер доставил задачу discord: %d", len(pub.headers))
	}

	job.Platform = domain.PlatformTelegram
	if done := d.Handle(ctx, job); !done || len(pub.headers) != 1 {
		t.Fatalf("своя задача должна доставляться: done=%v доставок=%d", done, len(pub.headers))
	}
}

func TestDispatcherRequeuesInterruptedJob(t *testing.T) {
	svc, repo, _, _, pub, _ := newTestService(domain.PlatformTelegram)
	pub.honourCtx = true
	ctx := context.Background()
	_, _ = svc.AddTopic(ctx, 1, 50, "go")

	q := queue.NewMemoryDigestQueue(2)
	d := NewDispatcher(svc, repo, q, nil, zerolog.Nop())
	job := domain.DigestJob{ID: "j2", UserID: 1, GuildID: 50, Platform: domain.PlatformTelegram, Cause: domain.DigestCauseManual}
	if err := q.Enqueue(ctx, job); err != nil {
		t.Fatalf("очередь: %v", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	cancel()
	got, ack, err := q.Receive(ctx)
	if err != nil {
		t.Fatalf("очередь: %v", err)
	}
	if done := d.Handle(runCtx, got); done {
		t.Fatal("прерванная доставка не должна сниматься с очереди")
	}
	_ = ack(false)

	again, _, err := q.Receive(ctx)
	if err != nil || again.ID != "j2" {
		t.Fatalf("задача должна вернуться в очередь: %+v err=%v", again, err)
	}
	if len(pub.headers) != 0 {
		t.Fatalf("доставок быть не должно: %d", len(pub.headers))
	}
}
