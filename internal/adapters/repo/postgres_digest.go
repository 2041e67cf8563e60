package repo

import (
	"context"
	"database/sql"
	"time"

	"github.com/jackc/pgx/v5"

	"grok-bot/internal/domain"
	"grok-bot/internal/infra/metrics"
)

// EnsureDigestSettings создаёт настройки пользователя со значениями по умолчанию.
func (p *Postgres) EnsureDigestSettings(ctx context.Context, userID, guildID int64, platform domain.Platform) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO user_digest_settings (user_id, guild_id, platform, timezone, daily_time)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (user_id, guild_id) DO NOTHING
`, userID, guildID, string(platform), domain.DefaultDigestTimezone, domain.DefaultDigestTime)
	metrics.ObserveNetworkRequest("postgres", "digest_settings_ensure", "user_digest_settings", start, err)
	return err
}

func scanSettings(row pgx.Row) (domain.DigestSettings, error) {
	var (
		s        domain.DigestSettings
		platform string
		lastSent sql.NullTime
	)
	err := row.Scan(&s.UserID, &s.GuildID, &platform, &s.Timezone, &s.DailyTime, &lastSent)
	s.Platform = domain.Platform(platform)
	if lastSent.Valid {
		ts := lastSent.Time
		s.LastSentAt = &ts
	}
	return s, err
}

// GetDigestSettings возвращает настройки пользователя.
func (p *Postgres) GetDigestSettings(ctx context.Context, userID, guildID int64) (*domain.DigestSettings, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	s, err := scanSettings(p.pool.QueryRow(ctx, `
SELECT user_id, guild_id, platform, timezone, daily_time, last_sent_at
FROM user_digest_settings WHERE user_id=$1 AND guild_id=$2
`, userID, guildID))
	metrics.ObserveNetworkRequest("postgres", "digest_settings_get", "user_digest_settings", start, err)
	if err != nil {
		return nil, notFound(err)
	}
	return &s, nil
}

// ListDigestSubscribers возвращает пользователей площадки, у которых есть темы.
func (p *Postgres) ListDigestSubscribers(ctx context.Context, platform domain.Platform) ([]domain.DigestSettings, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT s.user_id, s.guild_id, s.platform, s.timezone, s.daily_time, s.last_sent_at
FROM user_digest_settings s
WHERE s.platform=$1 AND EXISTS (
    SELECT 1 FROM digest_topics t WHERE t.user_id = s.user_id AND t.guild_id = s.guild_id
)
`, string(platform))
	metrics.ObserveNetworkRequest("postgres", "digest_settings_subscribers", "user_digest_settings", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.DigestSettings
	for rows.Next() {
		s, err := scanSettings(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// UpdateDailyTime обновляет время доставки.
func (p *Postgres) UpdateDailyTime(ctx context.Context, userID, guildID int64, value string) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `UPDATE user_digest_settings SET daily_time=$3 WHERE user_id=$1 AND guild_id=$2`, userID, guildID, value)
	metrics.ObserveNetworkRequest("postgres", "digest_settings_update_time", "user_digest_settings", start, err)
	return err
}

// UpdateTimezone обновляет часовой пояс.
func (p *Postgres) UpdateTimezone(ctx context.Context, userID, guildID int64, tz string) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `UPDATE user_digest_settings SET timezone=$3 WHERE user_id=$1 AND guild_id=$2`, userID, guildID, tz)
	metrics.ObserveNetworkRequest("postgres", "digest_settings_update_tz", "user_digest_settings", start, err)
	return err
}

// MarkDigestSent запоминает время последней доставки.
func (p *Postgres) MarkDigestSent(ctx context.Context, userID, guildID int64, at time.Time) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `UPDATE user_digest_settings SET last_sent_at=$3 WHERE user_id=$1 AND guild_id=$2`, userID, guildID, at.UTC())
	metrics.ObserveNetworkRequest("postgres", "digest_settings_mark_sent", "user_digest_settings", start, err)
	return err
}

// GetDigestConfig возвращает настройки дайджеста гильдии.
func (p *Postgres) GetDigestConfig(ctx context.Context, guildID int64) (*domain.DigestConfig, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var (
		maxTopics sql.NullInt32
		channelID sql.NullInt64
	)
	start := time.Now()
	err := p.pool.QueryRow(ctx, `SELECT max_topics, channel_id FROM digest_configs WHERE guild_id=$1`, guildID).Scan(&maxTopics, &channelID)
	metrics.ObserveNetworkRequest("postgres", "digest_configs_get", "digest_configs", start, err)
	if err != nil {
		return nil, notFound(err)
	}
	cfg := &domain.DigestConfig{GuildID: guildID, MaxTopics: domain.DefaultMaxTopics}
	if maxTopics.Valid {
		cfg.MaxTopics = int(maxTopics.Int32)
	}
	if channelID.Valid {
		cfg.ChannelID = channelID.Int64
	}
	return cfg, nil
}

// SetMaxTopics задаёт лимит тем для гильдии.
func (p *Postgres) SetMaxTopics(ctx context.Context, guildID int64, limit int) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO digest_configs (guild_id, max_topics) VALUES ($1, $2)
ON CONFLICT (guild_id) DO UPDATE SET max_topics = excluded.max_topics
`, guildID, limit)
	metrics.ObserveNetworkRequest("postgres", "digest_configs_set_limit", "digest_configs", start, err)
	return err
}

// SetDigestChannel задаёт канал для тредов дайджеста.
func (p *Postgres) SetDigestChannel(ctx context.Context, guildID, channelID int64) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO digest_configs (guild_id, channel_id) VALUES ($1, $2)
ON CONFLICT (guild_id) DO UPDATE SET channel_id = excluded.channel_id
`, guildID, channelID)
	metrics.ObserveNetworkRequest("postgres", "digest_configs_set_channel", "digest_configs", start, err)
	return err
}

// CountTopics считает темы пользователя.
func (p *Postgres) CountTopics(ctx context.Context, userID, guildID int64) (int, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var n int
	start := time.Now()
	err := p.pool.QueryRow(ctx, `SELECT count(*) FROM digest_topics WHERE user_id=$1 AND guild_id=$2`, userID, guildID).Scan(&n)
	metrics.ObserveNetworkRequest("postgres", "digest_topics_count", "digest_topics", start, err)
	return n, err
}

// TopicExists проверяет тему без учёта регистра.
func (p *Postgres) TopicExists(ctx context.Context, userID, guildID int64, topic string) (bool, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var exists bool
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT EXISTS (SELECT 1 FROM digest_topics WHERE user_id=$1 AND guild_id=$2 AND lower(topic)=lower($3))
`, userID, guildID, topic).Scan(&exists)
	metrics.ObserveNetworkRequest("postgres", "digest_topics_exists", "digest_topics", start, err)
	return exists, err
}

// AddTopic добавляет тему. Повтор без учёта регистра игнорируется.
func (p *Postgres) AddTopic(ctx context.Context, userID, guildID int64, topic string) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO digest_topics (user_id, guild_id, topic) VALUES ($1, $2, $3)
ON CONFLICT DO NOTHING
`, userID, guildID, topic)
	metrics.ObserveNetworkRequest("postgres", "digest_topics_insert", "digest_topics", start, err)
	return err
}

// RemoveTopic удаляет тему без учёта регистра.
func (p *Postgres) RemoveTopic(ctx context.Context, userID, guildID int64, topic string) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `DELETE FROM digest_topics WHERE user_id=$1 AND guild_id=$2 AND lower(topic)=lower($3)`, userID, guildID, topic)
	metrics.ObserveNetworkRequest("postgres", "digest_topics_delete", "digest_topics", start, err)
	return err
}

// ListTopics возвращает темы в порядке добавления.
func (p *Postgres) ListTopics(ctx context.Context, userID, guildID int64) ([]string, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `SELECT topic FROM digest_topics WHERE user_id=$1 AND guild_id=$2 ORDER BY created_at, id`, userID, guildID)
	metrics.ObserveNetworkRequest("postgres", "digest_topics_list", "digest_topics", start, err)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// RecentHeadlines возвращает заголовки по теме начиная с since, новые первыми.
func (p *Postgres) RecentHeadlines(ctx context.Context, userID, guildID int64, topic string, since time.Time, limit int) ([]string, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT headline FROM digest_history
WHERE user_id=$1 AND guild_id=$2 AND lower(topic)=lower($3) AND created_at >= $4
ORDER BY created_at DESC LIMIT $5
`, userID, guildID, topic, since.UTC(), limit)
	metrics.ObserveNetworkRequest("postgres", "digest_history_recent", "digest_history", start, err)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// SaveHeadline запоминает заголовок, попавший в дайджест.
func (p *Postgres) SaveHeadline(ctx context.Context, userID, guildID int64, topic, headline string) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `INSERT INTO digest_history (user_id, guild_id, topic, headline) VALUES ($1, $2, $3, $4)`, userID, guildID, topic, headline)
	metrics.ObserveNetworkRequest("postgres", "digest_history_insert", "digest_history", start, err)
	return err
}
