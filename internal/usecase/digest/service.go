// Package digest — ежедневный дайджест новостей по темам пользователя.
package digest

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"grok-bot/internal/domain"
	"grok-bot/internal/infra/metrics"
)

// ErrInProgress возвращается, если дайджест пользователя уже собирается.
var ErrInProgress = errors.New("дайджест уже формируется")

// ErrNoTopics возвращается, если у пользователя нет тем.
var ErrNoTopics = errors.New("у пользователя нет тем")

// ErrNoChannel возвращается, если в гильдии не настроен канал дайджеста.
var ErrNoChannel = errors.New("канал дайджеста не настроен")

const (
	anchorSystemPrompt = "You are a news anchor providing a daily digest. Jump straight into the news. Avoid repeating old stories."
	searchResultCount  = 5
	promptHeadlines    = 20
	noResultsMarker    = "No results found"
	searchFailedMarker = "Search failed:"
)

// Header содержит данные для приветственного сообщения дайджеста.
type Header struct {
	UserID    int64
	GuildID   int64
	ChannelID int64
	Greeting  string
	Date      string
}

// Thread принимает сообщения одного дайджеста.
type Thread interface {
	Send(ctx context.Context, text string) error
}

// Publisher открывает доставку дайджеста на площадке.
type Publisher interface {
	Start(ctx context.Context, h Header) (Thread, error)
}

// Service реализует работу с темами, расписанием и сборкой дайджестов.
type Service struct {
	repo      domain.DigestRepo
	model     domain.ChatModel
	search    domain.Searcher
	events    domain.BusinessMetricRepo
	locker    domain.Locker
	publisher Publisher
	platform  domain.Platform
	log       zerolog.Logger
	now       func() time.Time
}

// NewService создаёт сервис дайджестов. events и publisher могут быть nil;
// без publisher доставка недоступна.
func NewService(repo domain.DigestRepo, model domain.ChatModel, search domain.Searcher, events domain.BusinessMetricRepo, locker domain.Locker, publisher Publisher, platform domain.Platform, logger zerolog.Logger) *Service {
	return &Service{
		repo:      repo,
		model:     model,
		search:    search,
		events:    events,
		locker:    locker,
		publisher: publisher,
		platform:  platform,
		log:       logger,
		now:       time.Now,
	}
}

// SetPublisher подключает площадку после создания клиента бота.
func (s *Service) SetPublisher(p Publisher) { s.publisher = p }

// MaxTopics возвращает лимит тем в гильдии.
func (s *Service) MaxTopics(ctx context.Context, guildID int64) (int, error) {
	cfg, err := s.repo.GetDigestConfig(ctx, guildID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.DefaultMaxTopics, nil
		}
		return 0, fmt.Errorf("настройки гильдии: %w", err)
	}
	if cfg.MaxTopics <= 0 {
		return domain.DefaultMaxTopics, nil
	}
	return cfg.MaxTopics, nil
}

// AddTopic добавляет тему. Отказы возвращаются как *Rejection.
func (s *Service) AddTopic(ctx context.Context, userID, guildID int64, topic string) (string, error) {
	topic = strings.TrimSpace(clipRunes(strings.TrimSpace(topic), domain.MaxTopicLength))
	if topic == "" {
		return "", reject(ErrEmptyTopic, "Topic cannot be empty.")
	}
	if err := s.repo.EnsureDigestSettings(ctx, userID, guildID, s.platform); err != nil {
		return "", fmt.Errorf("настройки пользователя: %w", err)
	}
	limit, err := s.MaxTopics(ctx, guildID)
	if err != nil {
		return "", err
	}
	count, err := s.repo.CountTopics(ctx, userID, guildID)
	if err != nil {
		return "", fmt.Errorf("подсчёт тем: %w", err)
	}
	if count >= limit {
		return "", reject(ErrTooManyTopics, "You can only have up to %d topics.", limit)
	}
	exists, err := s.repo.TopicExists(ctx, userID, guildID, topic)
	if err != nil {
		return "", fmt.Errorf("проверка темы: %w", err)
	}
	if exists {
		return "", reject(ErrDuplicateTopic, "You already have **%s** in your list.", topic)
	}
	if err := s.repo.AddTopic(ctx, userID, guildID, topic); err != nil {
		return "", fmt.Errorf("сохранение темы: %w", err)
	}
	s.record(ctx, domain.BusinessMetricEventTopicAdded, userID, guildID, map[string]any{"topic": topic})
	return fmt.Sprintf("Added topic: **%s**", topic), nil
}

// RemoveTopic удаляет тему.
func (s *Service) RemoveTopic(ctx context.Context, userID, guildID int64, topic string) error {
	return s.repo.RemoveTopic(ctx, userID, guildID, strings.TrimSpace(topic))
}

// Topics возвращает темы пользователя.
func (s *Service) Topics(ctx context.Context, userID, guildID int64) ([]string, error) {
	return s.repo.ListTopics(ctx, userID, guildID)
}

// SetDailyTime сохраняет время доставки в формате HH:MM.
func (s *Service) SetDailyTime(ctx context.Context, userID, guildID int64, raw string) (string, error) {
	value, err := ParseDailyTime(raw)
	if err != nil {
		return "", err
	}
	if err := s.repo.EnsureDigestSettings(ctx, userID, guildID, s.platform); err != nil {
		return "", fmt.Errorf("настройки пользователя: %w", err)
	}
	if err := s.repo.UpdateDailyTime(ctx, userID, guildID, value); err != nil {
		return "", fmt.Errorf("обновление времени: %w", err)
	}
	return fmt.Sprintf("Daily digest time set to **%s**.", value), nil
}

// SetTimezone сохраняет часовой пояс пользователя.
func (s *Service) SetTimezone(ctx context.Context, userID, guildID int64, raw string) (string, error) {
	tz, err := NormalizeTimezone(raw)
	if err != nil {
		return "", err
	}
	if err := s.repo.EnsureDigestSettings(ctx, userID, guildID, s.platform); err != nil {
		return "", fmt.Errorf("настройки пользователя: %w", err)
	}
	if err := s.repo.UpdateTimezone(ctx, userID, guildID, tz); err != nil {
		return "", fmt.Errorf("обновление часового пояса: %w", err)
	}
	return fmt.Sprintf("Timezone set to **%s**.", tz), nil
}

// SetMaxTopics задаёт лимит тем для гильдии.
func (s *Service) SetMaxTopics(ctx context.Context, guildID int64, limit int) (string, error) {
	if limit < 1 || limit > domain.MaxTopicsLimit {
		return "", reject(ErrInvalidLimit, "Limit must be between 1 and %d.", domain.MaxTopicsLimit)
	}
	if err := s.repo.SetMaxTopics(ctx, guildID, limit); err != nil {
		return "", fmt.Errorf("лимит тем: %w", err)
	}
	return fmt.Sprintf("Max topics per user set to **%d**.", limit), nil
}

// SetChannel задаёт канал гильдии для дайджестов.
func (s *Service) SetChannel(ctx context.Context, guildID, channelID int64) error {
	return s.repo.SetDigestChannel(ctx, guildID, channelID)
}

// GenerateTopicDigest готовит секцию по одной теме: поиск, дедупликация по истории заголовков,
// генерация и разбор ответа. Никогда не возвращает ошибку: у каждого сбоя есть текст-заглушка.
func (s *Service) GenerateTopicDigest(ctx context.Context, userID, guildID int64, topic string) domain.DigestSection {
	section := domain.DigestSection{Topic: topic, Title: TitleCase(topic)}

	since := s.now().Add(-domain.HeadlineWindow)
	recent, err := s.repo.RecentHeadlines(ctx, userID, guildID, topic, since, domain.HeadlineMaxItems)
	if err != nil {
		s.log.Warn().Err(err).Str("topic", topic).Msg("digest: история заголовков недоступна")
	}

	results := s.search.Search(ctx, topic+" news today", searchResultCount)
	if strings.Contains(results, noResultsMarker) || strings.HasPrefix(results, searchFailedMarker) {
		section.Content = NoRecentNews
		return section
	}

	out := s.model.Generate(ctx, domain.GenerateRequest{
		System:  anchorSystemPrompt,
		Prompt:  topicPrompt(topic, results, recent),
		NoTools: true,
	})
	if out.Failed() {
		section.Content = out.Text()
		return section
	}

	parsed := parseSection(topic, out.Content)
	section.Title = parsed.Title
	section.Content = parsed.Body
	for _, h := range parsed.Headlines {
		if err := s.repo.SaveHeadline(ctx, userID, guildID, topic, h); err != nil {
			s.log.Warn().Err(err).Str("topic", topic).Msg("digest: не удалось сохранить заголовок")
		}
	}
	return section
}

func topicPrompt(topic, results string, recent []string) string {
	var history string
	if len(recent) > 0 {
		if len(recent) > promptHeadlines {
			recent = recent[:promptHeadlines]
		}
		lines := make([]string, 0, len(recent))
		for _, h := range recent {
			lines = append(lines, "- "+h)
		}
		history = "\n\nPreviously reported stories (DO NOT repeat these):\n" + strings.Join(lines, "\n")
	}
	return "Topic: " + topic + "\n" +
		"Search Results:\n" + results +
		history + "\n\n" +
		"Task: Write a short, engaging summary of NEW news for this topic. " +
		"Skip any stories similar to the previously reported ones. " +
		"If ALL stories in the search results are repeats or very similar to previously reported ones, " +
		"simply respond with: NO_NEW_DEVELOPMENTS\n\n" +
		"Otherwise, include 1-2 key links if available. " +
		"Format with Markdown. Do NOT include greetings.\n" +
		"IMPORTANT: Keep markdown links on a SINGLE LINE - never break [text](url) across lines.\n\n" +
		"Start your response with a clean, title-cased section header for this topic. " +
		"Format: SECTION_TITLE: Your Polished Title Here\n" +
		"Example: If topic is 'ai vibe coding', use 'SECTION_TITLE: AI Vibe Coding' or 'SECTION_TITLE: The Rise of Vibe Coding'\n\n" +
		"At the end, list the headlines you covered in this format:\n" +
		"HEADLINES_COVERED:\n- headline 1\n- headline 2"
}

// Deliver собирает и отправляет дайджест пользователю. Одновременно для пользователя
// выполняется только одна доставка; повторный вызов получает ErrInProgress.
func (s *Service) Deliver(ctx context.Context, userID, guildID int64, cause domain.DigestJobCause) (err error) {
	if s.publisher == nil {
		return errors.New("digest: площадка доставки не подключена")
	}
	release, ok, err := s.locker.TryLock(ctx, lockKey(s.platform, userID))
	if err != nil {
		return fmt.Errorf("блокировка дайджеста: %w", err)
	}
	if !ok {
		s.log.Info().Int64("user_id", userID).Msg("digest: уже формируется, пропускаем")
		return ErrInProgress
	}
	defer release()

	start := s.now()
	defer func() {
		metrics.DigestBuildSeconds.Observe(time.Since(start).Seconds())
		metrics.ObserveDigestDelivery(string(cause), err == nil)
	}()

	topics, err := s.repo.ListTopics(ctx, userID, guildID)
	if err != nil {
		return fmt.Errorf("темы пользователя: %w", err)
	}
	if len(topics) == 0 {
		return ErrNoTopics
	}

	header := Header{UserID: userID, GuildID: guildID}
	if s.platform == domain.PlatformDiscord {
		cfg, err := s.repo.GetDigestConfig(ctx, guildID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("настройки гильдии: %w", err)
		}
		if cfg == nil || cfg.ChannelID == 0 {
			return ErrNoChannel
		}
		header.ChannelID = cfg.ChannelID
	}

	tz := domain.DefaultDigestTimezone
	if settings, err := s.repo.GetDigestSettings(ctx, userID, guildID); err == nil && settings.Timezone != "" {
		tz = settings.Timezone
	}
	local := s.now().In(Location(tz))
	header.Greeting = Greeting(local.Hour())
	header.Date = local.Format("2006-01-02")

	thread, err := s.publisher.Start(ctx, header)
	if err != nil {
		return fmt.Errorf("начало доставки: %w", err)
	}
	for _, topic := range topics {
		section := s.GenerateTopicDigest(ctx, userID, guildID, topic)
		for _, msg := range SectionMessages(s.platform, section) {
			if err := thread.Send(ctx, msg); err != nil {
				return fmt.Errorf("отправка секции %q: %w", topic, err)
			}
		}
	}

	if err := s.repo.MarkDigestSent(ctx, userID, guildID, s.now().UTC()); err != nil {
		return fmt.Errorf("отметка отправки: %w", err)
	}
	s.record(ctx, domain.BusinessMetricEventDigestDelivered, userID, guildID, map[string]any{"cause": string(cause), "topics": len(topics)})
	return nil
}

func lockKey(p domain.Platform, userID int64) string {
	return "digest:" + string(p) + ":" + strconv.FormatInt(userID, 10)
}

func (s *Service) record(ctx context.Context, event string, userID, guildID int64, meta map[string]any) {
	if s.events == nil {
		return
	}
	m := domain.BusinessMetric{Event: event, Platform: s.platform, UserID: &userID, GuildID: &guildID, Metadata: meta, OccurredAt: s.now().UTC()}
	if err := s.events.RecordBusinessMetric(ctx, m); err != nil {
		s.log.Warn().Err(err).Str("event", event).Msg("не удалось сохранить бизнес-метрику")
	}
}

func clipRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
