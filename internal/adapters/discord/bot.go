// Package discord — адаптер Discord поверх discordgo.
package discord

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"

	"grok-bot/internal/domain"
	"grok-bot/internal/infra/metrics"
	"grok-bot/internal/usecase/admin"
	"grok-bot/internal/usecase/chat"
	"grok-bot/internal/usecase/chunker"
	"grok-bot/internal/usecase/digest"
	"grok-bot/internal/usecase/emoji"
	"grok-bot/internal/usecase/persona"
)

const (
	personaResetNotice = "🔄 It's been a while! Persona reset to **Standard**."
	historyPageSize    = 100
)

// Session — часть *discordgo.Session, которой пользуется адаптер.
type Session interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageSendReply(channelID, content string, reference *discordgo.MessageReference, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessages(channelID string, limit int, beforeID, afterID, aroundID string, options ...discordgo.RequestOption) ([]*discordgo.Message, error)
	ChannelTyping(channelID string, options ...discordgo.RequestOption) error
	MessageThreadStart(channelID, messageID, name string, archiveDuration int, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
	InteractionResponseEdit(interaction *discordgo.Interaction, newresp *discordgo.WebhookEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
	FollowupMessageCreate(interaction *discordgo.Interaction, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ApplicationCommandBulkOverwrite(appID, guildID string, commands []*discordgo.ApplicationCommand, options ...discordgo.RequestOption) ([]*discordgo.ApplicationCommand, error)
	User(userID string, options ...discordgo.RequestOption) (*discordgo.User, error)
}

// Services — ядро, которое обслуживает адаптер.
type Services struct {
	Chat     *chat.Service
	Personas *persona.Service
	Digest   *digest.Service
	Admin    *admin.Service
	Emoji    *emoji.Service
	Errors   domain.ErrorLogRepo
}

// Bot переводит события Discord в вызовы ядра.
type Bot struct {
	api    Session
	selfID string
	svc    Services
	http   *http.Client
	log    zerolog.Logger

	// ctx живёт столько же, сколько процесс; события discordgo его не несут.
	ctx context.Context
}

// New создаёт адаптер. selfID — идентификатор пользователя-бота.
func New(ctx context.Context, api Session, selfID string, svc Services, logger zerolog.Logger) *Bot {
	return &Bot{
		api:    api,
		selfID: selfID,
		svc:    svc,
		http:   &http.Client{Timeout: 30 * time.Second},
		log:    logger,
		ctx:    ctx,
	}
}

// Attach подписывает бота на события сессии.
func (b *Bot) Attach(s *discordgo.Session) {
	s.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) { b.HandleMessage(b.ctx, m.Message) })
	s.AddHandler(func(_ *discordgo.Session, i *discordgo.InteractionCreate) { b.HandleInteraction(b.ctx, i.Interaction) })
	s.AddHandler(func(_ *discordgo.Session, g *discordgo.GuildCreate) { b.HandleGuild(b.ctx, g.Guild) })
}

// HandleMessage отвечает на упоминание бота или ответ на его сообщение.
func (b *Bot) HandleMessage(ctx context.Context, m *discordgo.Message) {
	if m == nil || m.Author == nil || m.Author.Bot || m.Author.ID == b.selfID {
		return
	}
	if !Addressed(m, b.selfID) {
		return
	}
	defer b.recoverPanic(ctx, "Discord on_message", m.ChannelID)

	channelID := snowflake(m.ChannelID)
	guildID := guildOrChannel(m.GuildID, m.ChannelID)
	if err := b.api.ChannelTyping(m.ChannelID); err != nil {
		b.log.Debug().Err(err).Str("channel_id", m.ChannelID).Msg("discord: typing не отправлен")
	}

	history := b.history(ctx, m)
	if n := len(history); n > 0 {
		if b.svc.Chat.CheckAndResetPersona(ctx, channelID, guildID, history[n-1].Timestamp, m.Timestamp) {
			b.send(m.ChannelID, "send_notice", personaResetNotice)
		}
	}

	emojiContext := ""
	if m.GuildID != "" && b.svc.Emoji != nil {
		emojiContext = b.svc.Emoji.Context(ctx, guildID)
	}

	reply := b.svc.Chat.Respond(ctx, chat.Request{
		ChannelID:    channelID,
		GuildID:      guildID,
		UserID:       snowflake(m.Author.ID),
		MessageID:    snowflake(m.ID),
		Text:         StripMention(m.Content, b.selfID),
		Images:       b.attachments(ctx, m),
		History:      b.svc.Chat.History(withAnchor(history, m), snowflake(b.selfID)),
		EmojiContext: emojiContext,
		Status: func(_ context.Context, text string) {
			b.send(m.ChannelID, "send_status", text)
		},
	})
	b.replyChunks(m, reply)
}

// HandleGuild запускает описание новых эмодзи гильдии.
func (b *Bot) HandleGuild(ctx context.Context, g *discordgo.Guild) {
	if g == nil || g.Unavailable || b.svc.Emoji == nil || len(g.Emojis) == 0 {
		return
	}
	guildID := snowflake(g.ID)
	emojis := GuildEmojis(g)
	go func() {
		n, err := b.svc.Emoji.AnalyzeGuild(ctx, guildID, emojis)
		if err != nil {
			b.log.Error().Err(err).Str("guild_id", g.ID).Msg("discord: анализ эмодзи не удался")
			return
		}
		if n > 0 {
			b.log.Info().Str("guild_id", g.ID).Int("described", n).Msg("discord: описаны новые эмодзи")
		}
	}()
}

// history читает предыдущие сообщения канала и возвращает их в хронологическом порядке.
func (b *Bot) history(ctx context.Context, m *discordgo.Message) []domain.ChatMessage {
	var raw []*discordgo.Message
	before := m.ID
	for len(raw) < domain.MaxHistoryMessages && ctx.Err() == nil {
		limit := min(historyPageSize, domain.MaxHistoryMessages-len(raw))
		start := time.Now()
		page, err := b.api.ChannelMessages(m.ChannelID, limit, before, "", "")
		metrics.ObserveNetworkRequest("discord", "channel_messages", m.ChannelID, start, err)
		if err != nil {
			b.log.Warn().Err(err).Str("channel_id", m.ChannelID).Msg("discord: история канала недоступна")
			break
		}
		raw = append(raw, page...)
		if len(page) < limit {
			break
		}
		before = page[len(page)-1].ID
	}
	return ChatMessages(raw, b.selfID)
}

// ChatMessages переводит сообщения Discord (новые первыми) в хронологический список.
func ChatMessages(raw []*discordgo.Message, selfID string) []domain.ChatMessage {
	out := make([]domain.ChatMessage, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		msg := raw[i]
		cm := domain.ChatMessage{
			ID:        snowflake(msg.ID),
			Role:      domain.RoleUser,
			Content:   msg.Content,
			Timestamp: msg.Timestamp,
		}
		if msg.Author != nil {
			cm.AuthorID = snowflake(msg.Author.ID)
			if msg.Author.ID == selfID {
				cm.Role = domain.RoleAssistant
			}
		}
		out = append(out, cm)
	}
	return out
}

// withAnchor добавляет пустую отметку текущего сообщения: в историю она не попадает,
// но отсекает контекст старше разрыва.
func withAnchor(history []domain.ChatMessage, m *discordgo.Message) []domain.ChatMessage {
	out := make([]domain.ChatMessage, len(history), len(history)+1)
	copy(out, history)
	return append(out, domain.ChatMessage{ID: snowflake(m.ID), Timestamp: m.Timestamp})
}

// Addressed сообщает, что сообщение упоминает бота или отвечает на его сообщение.
func Addressed(m *discordgo.Message, selfID string) bool {
	for _, u := range m.Mentions {
		if u != nil && u.ID == selfID {
			return true
		}
	}
	ref := m.ReferencedMessage
	return ref != nil && ref.Author != nil && ref.Author.ID == selfID
}

// StripMention убирает упоминания бота. Пустое сообщение превращается в "Hello!".
func StripMention(content, selfID string) string {
	content = strings.ReplaceAll(content, "<@"+selfID+">", "")
	content = strings.ReplaceAll(content, "<@!"+selfID+">", "")
	content = strings.TrimSpace(content)
	if content == "" {
		return "Hello!"
	}
	return content
}

func (b *Bot) replyChunks(m *discordgo.Message, text string) {
	for i, part := range chunker.Split(text, domain.PlatformDiscord.ChunkSize()) {
		start := time.Now()
		var err error
		if i == 0 {
			_, err = b.api.ChannelMessageSendReply(m.ChannelID, part, m.Reference())
		} else {
			_, err = b.api.ChannelMessageSend(m.ChannelID, part)
		}
		metrics.ObserveNetworkRequest("discord", "send_reply", m.ChannelID, start, err)
		if err != nil {
			metrics.BotSendErrors.WithLabelValues(string(domain.PlatformDiscord)).Inc()
			b.log.Error().Err(err).Str("channel_id", m.ChannelID).Msg("discord: ответ не отправлен")
			return
		}
	}
}

func (b *Bot) send(channelID, op, text string) {
	start := time.Now()
	_, err := b.api.ChannelMessageSend(channelID, text)
	metrics.ObserveNetworkRequest("discord", op, channelID, start, err)
	if err != nil {
		metrics.BotSendErrors.WithLabelValues(string(domain.PlatformDiscord)).Inc()
		b.log.Error().Err(err).Str("channel_id", channelID).Str("operation", op).Msg("discord: сообщение не отправлено")
	}
}

func (b *Bot) recoverPanic(ctx context.Context, where, channelID string) {
	if r := recover(); r != nil {
		b.log.Error().Interface("panic", r).Str("channel_id", channelID).Msg("discord: обработчик упал")
		b.logError(ctx, fmt.Errorf("panic: %v", r), map[string]any{"context": where, "channel_id": channelID})
	}
}

func (b *Bot) logError(ctx context.Context, err error, details map[string]any) {
	if b.svc.Errors == nil {
		return
	}
	if lerr := b.svc.Errors.LogError(ctx, err, details); lerr != nil {
		b.log.Error().Err(lerr).Msg("discord: не удалось записать ошибку в журнал")
	}
}

func snowflake(id string) int64 {
	v, _ := strconv.ParseInt(id, 10, 64)
	return v
}

// guildOrChannel возвращает гильдию, а в личных сообщениях — канал.
func guildOrChannel(guildID, channelID string) int64 {
	if guildID == "" {
		return snowflake(channelID)
	}
	return snowflake(guildID)
}
