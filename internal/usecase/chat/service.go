// Package chat собирает ответ бота: история, системный промпт, инструменты и сводка канала.
package chat

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"grok-bot/internal/domain"
	"grok-bot/internal/infra/metrics"
)

// Personas отдаёт системный промпт гильдии и сбрасывает персону.
type Personas interface {
	SystemPrompt(ctx context.Context, guildID int64) string
	ResetToStandard(ctx context.Context, guildID int64) error
}

// Config задаёт параметры площадки.
type Config struct {
	Platform domain.Platform
	// Threshold — сколько новых сообщений запускает суммаризацию. 0 — значение площадки.
	Threshold  int
	MaxHistory int
	Gap        time.Duration
}

// Service реализует ядро чата, общее для Discord и Telegram.
type Service struct {
	model      domain.ChatModel
	tools      domain.ToolExecutor
	summaries  domain.SummaryRepo
	summarizer domain.Summarizer
	personas   Personas
	errs       domain.ErrorLogRepo

	platform   domain.Platform
	threshold  int
	maxHistory int
	gap        time.Duration

	log zerolog.Logger
	now func() time.Time
	wg  sync.WaitGroup
}

// NewService создаёт ядро чата. errs может быть nil.
func NewService(model domain.ChatModel, tools domain.ToolExecutor, summaries domain.SummaryRepo, summarizer domain.Summarizer, personas Personas, errs domain.ErrorLogRepo, cfg Config, logger zerolog.Logger) *Service {
	if cfg.Threshold <= 0 {
		cfg.Threshold = cfg.Platform.SummarizationThreshold()
	}
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = domain.MaxHistoryMessages
	}
	if cfg.Gap <= 0 {
		cfg.Gap = domain.ContextResetThreshold
	}
	return &Service{
		model:      model,
		tools:      tools,
		summaries:  summaries,
		summarizer: summarizer,
		personas:   personas,
		errs:       errs,
		platform:   cfg.Platform,
		threshold:  cfg.Threshold,
		maxHistory: cfg.MaxHistory,
		gap:        cfg.Gap,
		log:        logger,
		now:        time.Now,
	}
}

// History строит историю с настройками сервиса.
func (s *Service) History(messages []domain.ChatMessage, botID int64) []domain.Message {
	return BuildMessageHistory(messages, botID, s.maxHistory, s.gap)
}

// CheckAndResetPersona возвращает гильдию к Standard после долгого простоя канала.
// true означает, что сброс произошёл и адаптер должен сообщить о нём.
func (s *Service) CheckAndResetPersona(ctx context.Context, channelID, guildID int64, last, current time.Time) bool {
	if !GapExceeded(last, current, s.gap) {
		return false
	}
	if err := s.personas.ResetToStandard(ctx, guildID); err != nil {
		s.log.Error().Err(err).Int64("channel_id", channelID).Int64("guild_id", guildID).Msg("chat: не удалось сбросить персону")
		return false
	}
	s.log.Info().Int64("channel_id", channelID).Int64("guild_id", guildID).Dur("gap", current.Sub(last)).Msg("chat: персона сброшена после простоя")
	return true
}

// Request описывает входящее сообщение, уже переведённое адаптером.
type Request struct {
	ChannelID int64
	GuildID   int64
	UserID    int64
	MessageID int64
	Text      string
	Images    []domain.Image
	// History в хронологическом порядке, без текущего сообщения.
	History      []domain.Message
	EmojiContext string
	Status       StatusFunc
	// Ephemeral отключает сводку канала: одиночный вопрос без контекста.
	Ephemeral bool
}

// Respond готовит ответ. Ошибок наружу не отдаёт: при отказе модели
// возвращается заглушка.
func (s *Service) Respond(ctx context.Context, req Request) string {
	start := time.Now()
	defer func() {
		metrics.ChatReplyDuration.WithLabelValues(string(s.platform)).Observe(time.Since(start).Seconds())
	}()

	var current *domain.ChannelSummary
	if !req.Ephemeral {
		var err error
		current, err = s.summaries.GetChannelSummary(ctx, req.ChannelID)
		if err != nil {
			s.log.Warn().Err(err).Int64("channel_id", req.ChannelID).Msg("chat: сводка недоступна")
			current = nil
		}
	}
	summaryText := ""
	if current != nil {
		summaryText = current.Content
	}

	persona := s.personas.SystemPrompt(ctx, req.GuildID)
	gen := domain.GenerateRequest{
		System:  BuildSystemPrompt(persona, s.platform, summaryText, req.EmojiContext, s.now()),
		Parts:   s.BuildUserContent(ctx, req.Text, req.UserID, req.Images),
		History: req.History,
	}

	first := s.model.Generate(ctx, gen)
	var reply string
	if first.HasToolCalls() {
		reply = s.HandleToolCalls(ctx, first, gen, req.Status, map[string]any{
			"channel_id": req.ChannelID,
			"guild_id":   req.GuildID,
		})
	} else {
		reply = first.Text()
	}
	if reply == domain.FallbackReply {
		metrics.ChatFallbacks.WithLabelValues(string(s.platform)).Inc()
	}

	if !req.Ephemeral {
		exchange := make([]domain.Message, 0, len(req.History)+2)
		exchange = append(exchange, req.History...)
		exchange = append(exchange,
			domain.Message{Role: domain.RoleUser, Content: domain.UserPrefix(req.UserID) + req.Text, ID: req.MessageID},
			domain.Message{Role: domain.RoleAssistant, Content: reply, ID: req.MessageID},
		)
		s.MaybeSummarize(ctx, req.ChannelID, current, exchange)
	}
	return reply
}

func (s *Service) logError(ctx context.Context, err error, details map[string]any) {
	if s.errs == nil {
		return
	}
	if lerr := s.errs.LogError(ctx, err, details); lerr != nil {
		s.log.Error().Err(lerr).Msg("chat: не удалось записать ошибку в журнал")
	}
}
