// Package repo реализует хранилища домена поверх Postgres.
package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"grok-bot/internal/domain"
	"grok-bot/internal/infra/metrics"
)

// Postgres реализует репозитории на основе pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

var (
	_ domain.SummaryRepo        = (*Postgres)(nil)
	_ domain.PersonaRepo        = (*Postgres)(nil)
	_ domain.DigestRepo         = (*Postgres)(nil)
	_ domain.ErrorLogRepo       = (*Postgres)(nil)
	_ domain.EmojiRepo          = (*Postgres)(nil)
	_ domain.BusinessMetricRepo = (*Postgres)(nil)
)

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}
	return err
}

func nullable(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}

// RecordBusinessMetric сохраняет бизнесовую метрику в БД.
func (p *Postgres) RecordBusinessMetric(ctx context.Context, metric domain.BusinessMetric) error {
	if metric.Event == "" {
		return nil
	}
	if metric.OccurredAt.IsZero() {
		metric.OccurredAt = time.Now().UTC()
	}
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var payload []byte
	if metric.Metadata != nil {
		if data, err := json.Marshal(metric.Metadata); err == nil {
			payload = data
		}
	}

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO business_metrics (event, platform, user_id, guild_id, metadata, occurred_at)
VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6)
`, metric.Event, string(metric.Platform), metric.UserID, metric.GuildID, payload, metric.OccurredAt)
	metrics.ObserveNetworkRequest("postgres", "business_metrics_insert", "business_metrics", start, err)
	return err
}

// GetChannelSummary возвращает сводку канала или nil, если её ещё нет.
func (p *Postgres) GetChannelSummary(ctx context.Context, channelID int64) (*domain.ChannelSummary, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	s := domain.ChannelSummary{ChannelID: channelID}
	start := time.Now()
	err := p.pool.QueryRow(ctx, `SELECT content, last_msg_id, updated_at FROM summaries WHERE channel_id=$1`, channelID).
		Scan(&s.Content, &s.LastMsgID, &s.UpdatedAt)
	metrics.ObserveNetworkRequest("postgres", "summaries_get", "summaries", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// upsertSummarySQL обновляет сводку, только если last_msg_id не уменьшается.
const upsertSummarySQL = `
INSERT INTO summaries (channel_id, content, last_msg_id, updated_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (channel_id) DO UPDATE
SET content = excluded.content, last_msg_id = excluded.last_msg_id, updated_at = now()
WHERE summaries.last_msg_id <= excluded.last_msg_id
`

// UpdateChannelSummary сохраняет сводку. Запись с меньшим last_msg_id не затирает более свежую.
func (p *Postgres) UpdateChannelSummary(ctx context.Context, channelID int64, content string, lastMsgID int64) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, upsertSummarySQL, channelID, content, lastMsgID)
	metrics.ObserveNetworkRequest("postgres", "summaries_upsert", "summaries", start, err)
	return err
}

// DeleteChannelSummary удаляет сводку канала.
func (p *Postgres) DeleteChannelSummary(ctx context.Context, channelID int64) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `DELETE FROM summaries WHERE channel_id=$1`, channelID)
	metrics.ObserveNetworkRequest("postgres", "summaries_delete", "summaries", start, err)
	return err
}

// LogError пишет ошибку в журнал вместе с контекстом и стеком вызова.
func (p *Postgres) LogError(ctx context.Context, cause error, details map[string]any) error {
	if cause == nil {
		return nil
	}
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var payload []byte
	if details != nil {
		data, err := json.Marshal(details)
		if err != nil {
			data, _ = json.Marshal(map[string]string{"unserializable": fmt.Sprint(details)})
		}
		payload = data
	}

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO error_logs (error_type, message, traceback, context)
VALUES ($1, $2, $3, $4)
`, errorType(cause), cause.Error(), string(debug.Stack()), payload)
	metrics.ObserveNetworkRequest("postgres", "error_logs_insert", "error_logs", start, err)
	return err
}

// errorType возвращает тип самой глубокой ошибки в цепочке.
func errorType(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return fmt.Sprintf("%T", err)
		}
		err = next
	}
}

// RecentErrors возвращает последние ошибки, новые первыми.
func (p *Postgres) RecentErrors(ctx context.Context, limit int) ([]domain.ErrorLog, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, error_type, message, traceback, COALESCE(context::text, ''), created_at
FROM error_logs ORDER BY created_at DESC, id DESC LIMIT $1
`, limit)
	metrics.ObserveNetworkRequest("postgres", "error_logs_recent", "error_logs", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ErrorLog
	for rows.Next() {
		var e domain.ErrorLog
		if err := rows.Scan(&e.ID, &e.ErrorType, &e.Message, &e.Traceback, &e.Context, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetError возвращает запись журнала по id.
func (p *Postgres) GetError(ctx context.Context, id int64) (*domain.ErrorLog, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	e := domain.ErrorLog{ID: id}
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT error_type, message, traceback, COALESCE(context::text, ''), created_at FROM error_logs WHERE id=$1
`, id).Scan(&e.ErrorType, &e.Message, &e.Traceback, &e.Context, &e.CreatedAt)
	metrics.ObserveNetworkRequest("postgres", "error_logs_get", "error_logs", start, err)
	if err != nil {
		return nil, notFound(err)
	}
	return &e, nil
}

// ClearErrors очищает журнал ошибок.
func (p *Postgres) ClearErrors(ctx context.Context) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `DELETE FROM error_logs`)
	metrics.ObserveNetworkRequest("postgres", "error_logs_clear", "error_logs", start, err)
	return err
}
