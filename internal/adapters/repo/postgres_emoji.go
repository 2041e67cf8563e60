package repo

import (
	"context"
	"time"

	"grok-bot/internal/domain"
	"grok-bot/internal/infra/metrics"
)

// KnownEmojiIDs возвращает id эмодзи гильдии, у которых уже есть описание.
func (p *Postgres) KnownEmojiIDs(ctx context.Context, guildID int64) (map[int64]struct{}, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `SELECT emoji_id FROM emojis WHERE guild_id=$1`, guildID)
	metrics.ObserveNetworkRequest("postgres", "emojis_known", "emojis", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int64]struct{})
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = struct{}{}
	}
	return out, rows.Err()
}

// SaveEmoji сохраняет описание эмодзи, перезаписывая старое.
func (p *Postgres) SaveEmoji(ctx context.Context, e domain.Emoji) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO emojis (emoji_id, guild_id, name, description, animated, last_analyzed)
VALUES ($1, $2, $3, $4, $5, now())
ON CONFLICT (emoji_id, guild_id) DO UPDATE
SET name = excluded.name, description = excluded.description, animated = excluded.animated, last_analyzed = now()
`, e.EmojiID, e.GuildID, e.Name, e.Description, e.Animated)
	metrics.ObserveNetworkRequest("postgres", "emojis_upsert", "emojis", start, err)
	return err
}

// RandomEmojis возвращает случайную выборку описаний.
func (p *Postgres) RandomEmojis(ctx context.Context, guildID int64, limit int) ([]domain.Emoji, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT emoji_id, guild_id, name, description, animated FROM emojis
WHERE guild_id=$1 ORDER BY random() LIMIT $2
`, guildID, limit)
	metrics.ObserveNetworkRequest("postgres", "emojis_random", "emojis", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Emoji
	for rows.Next() {
		var e domain.Emoji
		if err := rows.Scan(&e.EmojiID, &e.GuildID, &e.Name, &e.Description, &e.Animated); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
