package discord

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"grok-bot/internal/domain"
	"grok-bot/internal/infra/metrics"
)

const maxAttachmentBytes = 20 << 20

// attachments скачивает картинки из вложений. Ошибки пропускаются.
func (b *Bot) attachments(ctx context.Context, m *discordgo.Message) []domain.Image {
	var images []domain.Image
	for _, att := range m.Attachments {
		if att == nil || !strings.HasPrefix(att.ContentType, "image/") {
			continue
		}
		data, err := b.download(ctx, att.URL)
		if err != nil {
			b.log.Error().Err(err).Str("attachment", att.Filename).Msg("discord: вложение не скачано")
			continue
		}
		images = append(images, domain.Image{Data: data, ContentType: att.ContentType})
	}
	return images
}

func (b *Bot) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	resp, err := b.http.Do(req)
	metrics.ObserveNetworkRequest("discord", "download_attachment", "cdn.discordapp.com", start, err)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("скачивание вложения: статус %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxAttachmentBytes))
}

// GuildEmojis переводит эмодзи гильдии в доменный вид.
func GuildEmojis(g *discordgo.Guild) []domain.Emoji {
	guildID := snowflake(g.ID)
	out := make([]domain.Emoji, 0, len(g.Emojis))
	for _, e := range g.Emojis {
		if e == nil || e.ID == "" {
			continue
		}
		out = append(out, domain.Emoji{
			EmojiID:  snowflake(e.ID),
			GuildID:  guildID,
			Name:     e.Name,
			Animated: e.Animated,
		})
	}
	return out
}

// EmojiURL возвращает адрес картинки эмодзи на CDN Discord.
func EmojiURL(e domain.Emoji) string {
	id := fmt.Sprintf("%d", e.EmojiID)
	if e.Animated {
		return discordgo.EndpointEmojiAnimated(id)
	}
	return discordgo.EndpointEmoji(id)
}
