// Package persona управляет персонами и их привязкой к гильдиям и чатам.
package persona

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"grok-bot/internal/domain"
)

// ErrStandardProtected возвращается при попытке удалить Standard.
var ErrStandardProtected = errors.New("персону Standard нельзя удалить")

// ErrCreationFailed — единственная ошибка, которую видит пользователь при создании персоны.
var ErrCreationFailed = errors.New("Creation failed. Please try again.")

const (
	generatorSystemPrompt = "You are a configuration generator."

	defaultName        = "Unknown"
	defaultDescription = "Custom Persona"
	defaultPrompt      = "You are a helpful assistant."

	maxNameLength        = 50
	maxDescriptionLength = 200
	fallbackNameLength   = 15
	fallbackDescLength   = 50
)

// Service реализует операции над персонами.
type Service struct {
	repo     domain.PersonaRepo
	model    domain.ChatModel
	events   domain.BusinessMetricRepo
	platform domain.Platform
	log      zerolog.Logger
}

// NewService создаёт сервис. events может быть nil.
func NewService(repo domain.PersonaRepo, model domain.ChatModel, events domain.BusinessMetricRepo, platform domain.Platform, logger zerolog.Logger) *Service {
	return &Service{repo: repo, model: model, events: events, platform: platform, log: logger}
}

// Seed создаёт встроенные персоны, если их ещё нет.
func (s *Service) Seed(ctx context.Context) error {
	seeds, err := Seeds()
	if err != nil {
		return err
	}
	for _, p := range seeds {
		exists, err := s.repo.PersonaNameExists(ctx, p.Name)
		if err != nil {
			return fmt.Errorf("проверка персоны %s: %w", p.Name, err)
		}
		if exists {
			continue
		}
		if _, err := s.repo.CreatePersona(ctx, p); err != nil {
			return fmt.Errorf("создание персоны %s: %w", p.Name, err)
		}
		s.log.Info().Str("persona", p.Name).Msg("добавлена встроенная персона")
	}
	return nil
}

// List возвращает все персоны: Standard первой, остальные по имени.
func (s *Service) List(ctx context.Context) ([]domain.Persona, error) {
	all, err := s.repo.ListPersonas(ctx)
	if err != nil {
		return nil, fmt.Errorf("список персон: %w", err)
	}
	sortPersonas(all)
	return all, nil
}

// Deletable возвращает персоны, которые можно удалить.
func (s *Service) Deletable(ctx context.Context) ([]domain.Persona, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, p := range all {
		if !isStandard(p.Name) {
			out = append(out, p)
		}
	}
	return out, nil
}

// Get возвращает персону по id.
func (s *Service) Get(ctx context.Context, id int64) (*domain.Persona, error) {
	return s.repo.GetPersona(ctx, id)
}

// Activate делает персону активной для гильдии или чата.
func (s *Service) Activate(ctx context.Context, guildID, personaID int64) (*domain.Persona, error) {
	p, err := s.repo.GetPersona(ctx, personaID)
	if err != nil {
		return nil, err
	}
	if err := s.repo.SetGuildPersona(ctx, guildID, p.ID); err != nil {
		return nil, fmt.Errorf("привязка персоны: %w", err)
	}
	return p, nil
}

// Current возвращает активную персону. Без привязки это Standard.
func (s *Service) Current(ctx context.Context, guildID int64) (*domain.Persona, error) {
	p, err := s.repo.GetGuildPersona(ctx, guildID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	return s.repo.GetPersonaByName(ctx, domain.StandardPersonaName)
}

// SystemPrompt возвращает промпт активной персоны с откатом на Standard и затем на встроенный.
func (s *Service) SystemPrompt(ctx context.Context, guildID int64) string {
	p, err := s.Current(ctx, guildID)
	if err != nil || p == nil || strings.TrimSpace(p.SystemPrompt) == "" {
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			s.log.Warn().Err(err).Int64("guild_id", guildID).Msg("не удалось получить персону")
		}
		return domain.DefaultSystemPrompt
	}
	return p.SystemPrompt
}

// ResetToStandard возвращает гильдии персону Standard.
func (s *Service) ResetToStandard(ctx context.Context, guildID int64) error {
	p, err := s.repo.GetPersonaByName(ctx, domain.StandardPersonaName)
	if err != nil {
		return fmt.Errorf("поиск Standard: %w", err)
	}
	if err := s.repo.SetGuildPersona(ctx, guildID, p.ID); err != nil {
		return fmt.Errorf("сброс персоны: %w", err)
	}
	s.record(ctx, domain.BusinessMetricEventPersonaReset, 0, guildID, nil)
	return nil
}

// Delete удаляет персону и возвращает её имя.
func (s *Service) Delete(ctx context.Context, id int64) (string, error) {
	p, err := s.repo.GetPersona(ctx, id)
	if err != nil {
		return "", err
	}
	if isStandard(p.Name) {
		return "", ErrStandardProtected
	}
	if err := s.repo.DeletePersona(ctx, id); err != nil {
		return "", fmt.Errorf("удаление персоны: %w", err)
	}
	return p.Name, nil
}

// Create генерирует персону по описанию пользователя.
// collisionSuffix добавляется к имени при совпадении; если он пуст, используется createdBy%10000.
// Любая внутренняя ошибка сводится к ErrCreationFailed.
func (s *Service) Create(ctx context.Context, input string, createdBy int64, collisionSuffix string) (domain.Persona, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return domain.Persona{}, ErrCreationFailed
	}

	out := s.model.Generate(ctx, domain.GenerateRequest{
		System:  generatorSystemPrompt,
		Prompt:  generatorPrompt(input),
		NoTools: true,
	})
	if out.Failed() {
		s.log.Error().Str("reason", out.Failure).Msg("генерация персоны не удалась")
		return domain.Persona{}, ErrCreationFailed
	}

	p := ParseGenerated(out.Content, input)
	p.CreatedBy = createdBy

	exists, err := s.repo.PersonaNameExists(ctx, p.Name)
	if err != nil {
		s.log.Error().Err(err).Msg("проверка имени персоны")
		return domain.Persona{}, ErrCreationFailed
	}
	if exists {
		suffix := strings.TrimSpace(collisionSuffix)
		if suffix == "" {
			suffix = fmt.Sprintf("%d", createdBy%10000)
		}
		p.Name = p.Name + "_" + suffix
	}

	created, err := s.repo.CreatePersona(ctx, p)
	if err != nil {
		s.log.Error().Err(err).Str("name", p.Name).Msg("сохранение персоны")
		return domain.Persona{}, ErrCreationFailed
	}
	s.record(ctx, domain.BusinessMetricEventPersonaCreated, createdBy, 0, map[string]any{"name": created.Name})
	return created, nil
}

func generatorPrompt(input string) string {
	return fmt.Sprintf("User Input: '%s'\n\n"+
		"Task: Create a Discord bot persona based on this input.\n"+
		"Output strictly in this format:\n"+
		"NAME: <The direct character name or simple title. Max 15 chars. No spaces. e.g. 'Batman' not 'DarkKnight', 'Mario' not 'Plumber'>\n"+
		"DESCRIPTION: <A short 1-sentence summary of who this is>\n"+
		"PROMPT: <A 2-3 sentence system instruction. Start with 'You are...'>", input)
}

// ParseGenerated разбирает ответ NAME/DESCRIPTION/PROMPT.
// Если имя не найдено, оно берётся из первого слова ввода, описание из его начала.
func ParseGenerated(content, input string) domain.Persona {
	p := domain.Persona{Name: defaultName, Description: defaultDescription, SystemPrompt: defaultPrompt}
	for _, line := range strings.Split(strings.TrimSpace(content), "\n") {
		switch {
		case strings.HasPrefix(line, "NAME:"):
			p.Name = clip(strings.TrimSpace(strings.TrimPrefix(line, "NAME:")), maxNameLength)
		case strings.HasPrefix(line, "DESCRIPTION:"):
			p.Description = clip(strings.TrimSpace(strings.TrimPrefix(line, "DESCRIPTION:")), maxDescriptionLength)
		case strings.HasPrefix(line, "PROMPT:"):
			p.SystemPrompt = strings.TrimSpace(strings.TrimPrefix(line, "PROMPT:"))
		}
	}
	if p.Name == defaultName || p.Name == "" {
		if fields := strings.Fields(input); len(fields) > 0 {
			p.Name = clip(fields[0], fallbackNameLength)
		}
		p.Description = clip(input, fallbackDescLength)
	}
	return p
}

func (s *Service) record(ctx context.Context, event string, userID, guildID int64, meta map[string]any) {
	if s.events == nil {
		return
	}
	m := domain.BusinessMetric{Event: event, Platform: s.platform, Metadata: meta, OccurredAt: time.Now().UTC()}
	if userID != 0 {
		m.UserID = &userID
	}
	if guildID != 0 {
		m.GuildID = &guildID
	}
	if err := s.events.RecordBusinessMetric(ctx, m); err != nil {
		s.log.Warn().Err(err).Str("event", event).Msg("не удалось сохранить бизнес-метрику")
	}
}

func sortPersonas(list []domain.Persona) {
	sort.SliceStable(list, func(i, j int) bool {
		a, b := isStandard(list[i].Name), isStandard(list[j].Name)
		if a != b {
			return a
		}
		return list[i].Name < list[j].Name
	})
}

func isStandard(name string) bool {
	return strings.EqualFold(name, domain.StandardPersonaName)
}

func clip(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
