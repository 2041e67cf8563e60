// Package emoji описывает серверные эмодзи Discord и подмешивает их в системный промпт.
package emoji

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"grok-bot/internal/domain"
)

const (
	analyzerSystemPrompt = "You are an emoji analyzer."
	contextHeader        = "\n[Custom Server Emojis Available - USE THESE NATURALLY]:"

	// ContextLimit — сколько случайных эмодзи попадает в промпт.
	ContextLimit = 50
	contextTTL   = 10 * time.Minute
)

// URLFunc возвращает адрес картинки эмодзи.
type URLFunc func(e domain.Emoji) string

// Service анализирует новые эмодзи и строит блок для промпта.
type Service struct {
	repo  domain.EmojiRepo
	model domain.ChatModel
	cache domain.Cache
	url   URLFunc
	log   zerolog.Logger
}

// NewService создаёт сервис. cache может быть nil.
func NewService(repo domain.EmojiRepo, model domain.ChatModel, cache domain.Cache, url URLFunc, logger zerolog.Logger) *Service {
	return &Service{repo: repo, model: model, cache: cache, url: url, log: logger}
}

// AnalyzeGuild описывает эмодзи гильдии, которых ещё нет в базе.
// Возвращает число сохранённых описаний.
func (s *Service) AnalyzeGuild(ctx context.Context, guildID int64, emojis []domain.Emoji) (int, error) {
	known, err := s.repo.KnownEmojiIDs(ctx, guildID)
	if err != nil {
		return 0, fmt.Errorf("известные эмодзи гильдии %d: %w", guildID, err)
	}
	var fresh []domain.Emoji
	for _, e := range emojis {
		if _, ok := known[e.EmojiID]; !ok {
			fresh = append(fresh, e)
		}
	}
	if len(fresh) == 0 {
		return 0, nil
	}
	s.log.Info().Int64("guild_id", guildID).Int("count", len(fresh)).Msg("emoji: анализ новых эмодзи")

	saved := 0
	for _, e := range fresh {
		if ctx.Err() != nil {
			break
		}
		prompt := fmt.Sprintf("Describe this emoji named ':%s:' in 3-5 words. Focus on the emotion or object it represents. Be concise.", e.Name)
		resp := s.model.Generate(ctx, domain.GenerateRequest{
			System:  analyzerSystemPrompt,
			Parts:   []domain.ContentPart{domain.TextPart(prompt), domain.ImagePart(s.url(e))},
			NoTools: true,
		})
		desc := strings.TrimSpace(resp.Content)
		if resp.Failed() || desc == "" {
			s.log.Warn().Str("emoji", e.Name).Str("reason", resp.Failure).Msg("emoji: описание не получено")
			continue
		}
		e.GuildID = guildID
		e.Description = desc
		if err := s.repo.SaveEmoji(ctx, e); err != nil {
			s.log.Error().Err(err).Str("emoji", e.Name).Msg("emoji: не удалось сохранить описание")
			continue
		}
		saved++
	}
	if saved > 0 && s.cache != nil {
		if _, err := s.refresh(ctx, guildID); err != nil {
			s.log.Warn().Err(err).Int64("guild_id", guildID).Msg("emoji: кэш не обновлён")
		}
	}
	return saved, nil
}

// Context возвращает блок эмодзи для системного промпта или пустую строку.
func (s *Service) Context(ctx context.Context, guildID int64) string {
	if s.cache != nil {
		if raw, ok, err := s.cache.Get(ctx, cacheKey(guildID)); err == nil && ok {
			return string(raw)
		}
	}
	block, err := s.refresh(ctx, guildID)
	if err != nil {
		s.log.Warn().Err(err).Int64("guild_id", guildID).Msg("emoji: контекст недоступен")
		return ""
	}
	return block
}

func (s *Service) refresh(ctx context.Context, guildID int64) (string, error) {
	rows, err := s.repo.RandomEmojis(ctx, guildID, ContextLimit)
	if err != nil {
		return "", fmt.Errorf("эмодзи гильдии %d: %w", guildID, err)
	}
	block := Render(rows)
	if s.cache != nil {
		if err := s.cache.Set(ctx, cacheKey(guildID), []byte(block), contextTTL); err != nil {
			s.log.Warn().Err(err).Msg("emoji: запись в кэш")
		}
	}
	return block, nil
}

// Render превращает описания в блок промпта.
func Render(rows []domain.Emoji) string {
	if len(rows) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(contextHeader)
	for _, e := range rows {
		fmt.Fprintf(&b, "\n- %s : %s", Tag(e), e.Description)
	}
	return b.String()
}

// Tag возвращает разметку Discord для эмодзи.
func Tag(e domain.Emoji) string {
	if e.Animated {
		return fmt.Sprintf("<a:%s:%d>", e.Name, e.EmojiID)
	}
	return fmt.Sprintf("<:%s:%d>", e.Name, e.EmojiID)
}

func cacheKey(guildID int64) string {
	return fmt.Sprintf("emoji:context:%d", guildID)
}
