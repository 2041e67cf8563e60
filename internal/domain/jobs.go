package domain

import (
	"context"
	"time"
)

// DigestJobCause описывает источник запроса на дайджест.
type DigestJobCause string

const (
	// DigestCauseManual: пользователь запросил дайджест вручную.
	DigestCauseManual DigestJobCause = "manual"
	// DigestCauseScheduled: дайджест запланирован по расписанию.
	DigestCauseScheduled DigestJobCause = "scheduled"
)

// DigestJob содержит информацию о задаче доставки дайджеста.
type DigestJob struct {
	ID          string         `json:"job_id,omitempty"`
	UserID      int64          `json:"user_id"`
	GuildID     int64          `json:"guild_id"`
	Platform    Platform       `json:"platform"`
	RequestedAt time.Time      `json:"requested_at"`
	Cause       DigestJobCause `json:"cause"`
}

// DigestQueue описывает очередь задач на доставку дайджестов.
type DigestQueue interface {
	Enqueue(ctx context.Context, job DigestJob) error
	Receive(ctx context.Context) (DigestJob, DigestAckFunc, error)
}

// DigestAckFunc подтверждает успешную обработку или запрашивает повтор доставки задачи.
type DigestAckFunc func(success bool) error
