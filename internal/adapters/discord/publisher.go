package discord

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"

	"grok-bot/internal/domain"
	"grok-bot/internal/infra/metrics"
	"grok-bot/internal/usecase/digest"
)

const threadArchiveMinutes = 1440

// Publisher открывает ветку дайджеста в канале, настроенном для гильдии.
type Publisher struct {
	api Session
	log zerolog.Logger
}

// NewPublisher создаёт площадку доставки.
func NewPublisher(api Session, logger zerolog.Logger) *Publisher {
	return &Publisher{api: api, log: logger}
}

// Start публикует заголовок в канале и открывает от него ветку.
func (p *Publisher) Start(ctx context.Context, h digest.Header) (digest.Thread, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	channelID := strconv.FormatInt(h.ChannelID, 10)
	userID := strconv.FormatInt(h.UserID, 10)

	start := time.Now()
	header, err := p.api.ChannelMessageSend(channelID, fmt.Sprintf("📰 **%s, <@%s>!** Here is your Daily Digest for %s", h.Greeting, userID, h.Date))
	metrics.ObserveNetworkRequest("discord", "digest_header", channelID, start, err)
	if err != nil {
		return nil, fmt.Errorf("заголовок дайджеста: %w", err)
	}

	start = time.Now()
	thread, err := p.api.MessageThreadStart(channelID, header.ID, ThreadName(p.displayName(userID), h.Date), threadArchiveMinutes)
	metrics.ObserveNetworkRequest("discord", "thread_start", channelID, start, err)
	if err != nil {
		return nil, fmt.Errorf("ветка дайджеста: %w", err)
	}
	return &digestThread{api: p.api, channelID: thread.ID}, nil
}

// ThreadName — имя ветки дайджеста. Discord ограничивает его 100 символами.
func ThreadName(user, date string) string {
	name := fmt.Sprintf("Daily Digest for %s - %s", user, date)
	if r := []rune(name); len(r) > 100 {
		name = string(r[:100])
	}
	return name
}

func (p *Publisher) displayName(userID string) string {
	u, err := p.api.User(userID)
	if err != nil || u == nil {
		p.log.Warn().Err(err).Str("user_id", userID).Msg("discord: пользователь не найден")
		return "User"
	}
	return userName(u)
}

func userName(u *discordgo.User) string {
	if u.GlobalName != "" {
		return u.GlobalName
	}
	return u.Username
}

type digestThread struct {
	api       Session
	channelID string
}

func (t *digestThread) Send(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	start := time.Now()
	_, err := t.api.ChannelMessageSend(t.channelID, text)
	metrics.ObserveNetworkRequest("discord", "digest_section", t.channelID, start, err)
	if err != nil {
		metrics.BotSendErrors.WithLabelValues(string(domain.PlatformDiscord)).Inc()
		return fmt.Errorf("отправка в ветку %s: %w", t.channelID, err)
	}
	return nil
}
