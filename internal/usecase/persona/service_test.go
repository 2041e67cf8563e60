package persona

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"grok-bot/internal/domain"
)

type memRepo struct {
	personas []domain.Persona
	bindings map[int64]int64
	nextID   int64
}

func newMemRepo() *memRepo { return &memRepo{bindings: map[int64]int64{}} }

func (m *memRepo) ListPersonas(context.Context) ([]domain.Persona, error) {
	return append([]domain.Persona(nil), m.personas...), nil
}

func (m *memRepo) GetPersona(_ context.Context, id int64) (*domain.Persona, error) {
	for _, p := range m.personas {
		if p.ID == id {
			p := p
			return &p, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memRepo) GetPersonaByName(_ context.Context, name string) (*domain.Persona, error) {
	for _, p := range m.personas {
		if strings.EqualFold(p.Name, name) {
			p := p
			return &p, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memRepo) PersonaNameExists(ctx context.Context, name string) (bool, error) {
	_, err := m.GetPersonaByName(ctx, name)
	return err == nil, nil
}

func (m *memRepo) CreatePersona(ctx context.Context, p domain.Persona) (domain.Persona, error) {
	if ok, _ := m.PersonaNameExists(ctx, p.Name); ok {
		return domain.Persona{}, errors.New("duplicate name")
	}
	m.nextID++
	p.ID = m.nextID
	m.personas = append(m.personas, p)
	return p, nil
}

func (m *memRepo) DeletePersona(_ context.Context, id int64) error {
	for i, p := range m.personas {
		if p.ID == id {
			m.personas = append(m.personas[:i], m.personas[i+1:]...)
			return nil
		}
	}
	return domain.ErrNotFound
}

func (m *memRepo) SetGuildPersona(_ context.Context, guildID, personaID int64) error {
	m.bindings[guildID] = personaID
	return nil
}

func (m *memRepo) GetGuildPersona(ctx context.Context, guildID int64) (*domain.Persona, error) {
	id, ok := m.bindings[guildID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return m.GetPersona(ctx, id)
}

type scriptedModel struct {
	replies []domain.Completion
	reqs    []domain.GenerateRequest
}

func (s *scriptedModel) Generate(_ context.Context, req domain.GenerateRequest) domain.Completion {
	s.reqs = append(s.reqs, req)
	if len(s.replies) == 0 {
		return domain.Completion{Failure: "no reply"}
	}
	out := s.replies[0]
	s.replies = s.replies[1:]
	return out
}

type recordedEvents struct{ events []domain.BusinessMetric }

func (r *recordedEvents) RecordBusinessMetric(_ context.Context, m domain.BusinessMetric) error {
	r.events = append(r.events, m)
	return nil
}

func seededService(t *testing.T, model domain.ChatModel) (*Service, *memRepo, *recordedEvents) {
	t.Helper()
	repo := newMemRepo()
	events := &recordedEvents{}
	svc := NewService(repo, model, events, domain.PlatformDiscord, zerolog.Nop())
	if err := svc.Seed(context.Background()); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return svc, repo, events
}

func TestSeedIsIdempotent(t *testing.T) {
	svc, repo, _ := seededService(t, &scriptedModel{})
	if err := svc.Seed(context.Background()); err != nil {
		t.Fatalf("повторный seed: %v", err)
	}
	if len(repo.personas) != 3 {
		t.Fatalf("ожидали 3 встроенные персоны, получили %d", len(repo.personas))
	}
	list, _ := svc.List(context.Background())
	if list[0].Name != "Standard" || list[1].Name != "Coder" || list[2].Name != "Storyteller" {
		t.Fatalf("неожиданный порядок: %v", list)
	}
}

func TestCreateParsesProtocol(t *testing.T) {
	model := &scriptedModel{replies: []domain.Completion{{Content: "NAME: Batman\nDESCRIPTION: The Dark Knight.\nPROMPT: You are Batman. Speak tersely."}}}
	svc, _, events := seededService(t, model)

	p, err := svc.Create(context.Background(), "a gloomy vigilante", 42, "")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if p.Name != "Batman" || p.Description != "The Dark Knight." || p.SystemPrompt != "You are Batman. Speak tersely." || p.CreatedBy != 42 {
		t.Fatalf("неожиданная персона: %+v", p)
	}
	if !model.reqs[0].NoTools || model.reqs[0].System != generatorSystemPrompt {
		t.Fatalf("генерация должна идти без инструментов: %+v", model.reqs[0])
	}
	if !strings.Contains(model.reqs[0].Prompt, "User Input: 'a gloomy vigilante'") {
		t.Fatalf("в промпте нет ввода: %q", model.reqs[0].Prompt)
	}
	if len(events.events) != 1 || events.events[0].Event != domain.BusinessMetricEventPersonaCreated {
		t.Fatalf("ожидали событие создания: %+v", events.events)
	}
}

func TestCreateCollisionGetsSuffix(t *testing.T) {
	reply := domain.Completion{Content: "NAME: Pirate\nDESCRIPTION: Arr.\nPROMPT: You are a pirate."}
	model := &scriptedModel{replies: []domain.Completion{reply, reply, reply}}
	svc, repo, _ := seededService(t, model)

	first, err := svc.Create(context.Background(), "pirate", 123456, "")
	if err != nil || first.Name != "Pirate" {
		t.Fatalf("первая персона: %+v, %v", first, err)
	}
	second, err := svc.Create(context.Background(), "pirate", 123456, "")
	if err != nil || second.Name != "Pirate_3456" {
		t.Fatalf("вторая персона должна получить суффикс: %+v, %v", second, err)
	}
	third, err := svc.Create(context.Background(), "pirate", 1, "jack")
	if err != nil || third.Name != "Pirate_jack" {
		t.Fatalf("суффикс вызывающего: %+v, %v", third, err)
	}
	if len(repo.personas) != 6 {
		t.Fatalf("ничего не должно перезаписываться, персон %d", len(repo.personas))
	}
}

func TestCreateFallbackAndFailure(t *testing.T) {
	model := &scriptedModel{replies: []domain.Completion{{Content: "Sure! Here is a persona."}}}
	svc, _, _ := seededService(t, model)

	p, err := svc.Create(context.Background(), "Sherlockian detective with a pipe", 7, "")
	if err != nil {
		t.Fatalf("разбор без разделителей не должен падать: %v", err)
	}
	if p.Name != "Sherlockian" || p.Description != "Sherlockian detective with a pipe" || p.SystemPrompt != defaultPrompt {
		t.Fatalf("неожиданный откат: %+v", p)
	}

	_, err = svc.Create(context.Background(), "anything", 7, "")
	if !errors.Is(err, ErrCreationFailed) || err.Error() != "Creation failed. Please try again." {
		t.Fatalf("ожидали ErrCreationFailed, получили %v", err)
	}
	if _, err := svc.Create(context.Background(), "   ", 7, ""); !errors.Is(err, ErrCreationFailed) {
		t.Fatalf("пустой ввод: %v", err)
	}
}

func TestCurrentResetAndDelete(t *testing.T) {
	svc, repo, events := seededService(t, &scriptedModel{})
	ctx := context.Background()

	if got := svc.SystemPrompt(ctx, 10); !strings.HasPrefix(got, "You are Grok") {
		t.Fatalf("без привязки ожидали Standard, получили %q", got)
	}
	coder, _ := repo.GetPersonaByName(ctx, "Coder")
	if _, err := svc.Activate(ctx, 10, coder.ID); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if cur, _ := svc.Current(ctx, 10); cur.Name != "Coder" {
		t.Fatalf("ожидали Coder, получили %s", cur.Name)
	}
	if err := svc.ResetToStandard(ctx, 10); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if cur, _ := svc.Current(ctx, 10); cur.Name != "Standard" {
		t.Fatalf("после сброса ожидали Standard, получили %s", cur.Name)
	}
	if len(events.events) != 1 || events.events[0].Event != domain.BusinessMetricEventPersonaReset {
		t.Fatalf("ожидали событие сброса: %+v", events.events)
	}

	standard, _ := repo.GetPersonaByName(ctx, "Standard")
	if _, err := svc.Delete(ctx, standard.ID); !errors.Is(err, ErrStandardProtected) {
		t.Fatalf("Standard нельзя удалять: %v", err)
	}
	name, err := svc.Delete(ctx, coder.ID)
	if err != nil || name != "Coder" {
		t.Fatalf("удаление Coder: %q, %v", name, err)
	}
	deletable, _ := svc.Deletable(ctx)
	if len(deletable) != 1 || deletable[0].Name != "Storyteller" {
		t.Fatalf("неожиданный список: %+v", deletable)
	}
}

func TestSystemPromptWithoutStandard(t *testing.T) {
	svc := NewService(newMemRepo(), &scriptedModel{}, nil, domain.PlatformTelegram, zerolog.Nop())
	if got := svc.SystemPrompt(context.Background(), 1); got != domain.DefaultSystemPrompt {
		t.Fatalf("ожидали встроенный промпт, получили %q", got)
	}
}
