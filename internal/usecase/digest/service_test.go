package digest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"grok-bot/internal/domain"
	"grok-bot/internal/infra/cache"
)

type topicKey struct{ user, guild int64 }

type memDigestRepo struct {
	settings  map[topicKey]*domain.DigestSettings
	topics    map[topicKey][]string
	configs   map[int64]*domain.DigestConfig
	headlines map[string][]string
	sentAt    map[topicKey]time.Time
}

func newMemDigestRepo() *memDigestRepo {
	return &memDigestRepo{
		settings:  map[topicKey]*domain.DigestSettings{},
		topics:    map[topicKey][]string{},
		configs:   map[int64]*domain.DigestConfig{},
		headlines: map[string][]string{},
		sentAt:    map[topicKey]time.Time{},
	}
}

func (m *memDigestRepo) EnsureDigestSettings(_ context.Context, userID, guildID int64, p domain.Platform) error {
	k := topicKey{userID, guildID}
	if _, ok := m.settings[k]; !ok {
		m.settings[k] = &domain.DigestSettings{UserID: userID, GuildID: guildID, Platform: p, Timezone: "UTC", DailyTime: "09:00"}
	}
	return nil
}

func (m *memDigestRepo) GetDigestSettings(_ context.Context, userID, guildID int64) (*domain.DigestSettings, error) {
	s, ok := m.settings[topicKey{userID, guildID}]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memDigestRepo) ListDigestSubscribers(_ context.Context, p domain.Platform) ([]domain.DigestSettings, error) {
	var out []domain.DigestSettings
	for k, s := range m.settings {
		if s.Platform == p && len(m.topics[k]) > 0 {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (m *memDigestRepo) UpdateDailyTime(_ context.Context, userID, guildID int64, v string) error {
	m.settings[topicKey{userID, guildID}].DailyTime = v
	return nil
}

func (m *memDigestRepo) UpdateTimezone(_ context.Context, userID, guildID int64, tz string) error {
	m.settings[topicKey{userID, guildID}].Timezone = tz
	return nil
}

func (m *memDigestRepo) MarkDigestSent(_ context.Context, userID, guildID int64, at time.Time) error {
	k := topicKey{userID, guildID}
	m.sentAt[k] = at
	if s, ok := m.settings[k]; ok {
		s.LastSentAt = &at
	}
	return nil
}

func (m *memDigestRepo) GetDigestConfig(_ context.Context, guildID int64) (*domain.DigestConfig, error) {
	c, ok := m.configs[guildID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return c, nil
}

func (m *memDigestRepo) SetMaxTopics(_ context.Context, guildID int64, limit int) error {
	m.config(guildID).MaxTopics = limit
	return nil
}

func (m *memDigestRepo) SetDigestChannel(_ context.Context, guildID, channelID int64) error {
	m.config(guildID).ChannelID = channelID
	return nil
}

func (m *memDigestRepo) config(guildID int64) *domain.DigestConfig {
	c, ok := m.configs[guildID]
	if !ok {
		c = &domain.DigestConfig{GuildID: guildID, MaxTopics: domain.DefaultMaxTopics}
		m.configs[guildID] = c
	}
	return c
}

func (m *memDigestRepo) CountTopics(_ context.Context, userID, guildID int64) (int, error) {
	return len(m.topics[topicKey{userID, guildID}]), nil
}

func (m *memDigestRepo) TopicExists(_ context.Context, userID, guildID int64, topic string) (bool, error) {
	for _, t := range m.topics[topicKey{userID, guildID}] {
		if strings.EqualFold(t, topic) {
			return true, nil
		}
	}
	return false, nil
}

func (m *memDigestRepo) AddTopic(_ context.Context, userID, guildID int64, topic string) error {
	k := topicKey{userID, guildID}
	m.topics[k] = append(m.topics[k], topic)
	return nil
}

func (m *memDigestRepo) RemoveTopic(_ context.Context, userID, guildID int64, topic string) error {
	k := topicKey{userID, guildID}
	kept := m.topics[k][:0]
	for _, t := range m.topics[k] {
		if t != topic {
			kept = append(kept, t)
		}
	}
	m.topics[k] = kept
	return nil
}

func (m *memDigestRepo) ListTopics(_ context.Context, userID, guildID int64) ([]string, error) {
	return append([]string(nil), m.topics[topicKey{userID, guildID}]...), nil
}

func (m *memDigestRepo) RecentHeadlines(_ context.Context, userID, guildID int64, topic string, _ time.Time, limit int) ([]string, error) {
	h := m.headlines[fmt.Sprintf("%d/%d/%s", userID, guildID, topic)]
	if len(h) > limit {
		h = h[:limit]
	}
	return h, nil
}

func (m *memDigestRepo) SaveHeadline(_ context.Context, userID, guildID int64, topic, headline string) error {
	key := fmt.Sprintf("%d/%d/%s", userID, guildID, topic)
	m.headlines[key] = append(m.headlines[key], headline)
	return nil
}

type stubSearch struct {
	out     string
	queries []string
}

func (s *stubSearch) Search(_ context.Context, query string, _ int) string {
	s.queries = append(s.queries, query)
	return s.out
}

type stubModel struct {
	reply domain.Completion
	reqs  []domain.GenerateRequest
}

func (s *stubModel) Generate(_ context.Context, req domain.GenerateRequest) domain.Completion {
	s.reqs = append(s.reqs, req)
	return s.reply
}

type recordingThread struct{ sent []string }

func (r *recordingThread) Send(_ context.Context, text string) error {
	r.sent = append(r.sent, text)
	return nil
}

type recordingPublisher struct {
	headers []Header
	thread  *recordingThread
	// honourCtx заставляет Start возвращать ошибку отменённого контекста.
	honourCtx bool
}

func (p *recordingPublisher) Start(ctx context.Context, h Header) (Thread, error) {
	if p.honourCtx {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	p.headers = append(p.headers, h)
	return p.thread, nil
}

func newTestService(platform domain.Platform) (*Service, *memDigestRepo, *stubSearch, *stubModel, *recordingPublisher, *cache.KeyedMutex) {
	repo := newMemDigestRepo()
	search := &stubSearch{out: "- **Story**\n  body\n  <https://example.com>"}
	model := &stubModel{}
	pub := &recordingPublisher{thread: &recordingThread{}}
	locker := cache.NewKeyedMutex()
	svc := NewService(repo, model, search, nil, locker, pub, platform, zerolog.Nop())
	return svc, repo, search, model, pub, locker
}

func TestAddTopicRules(t *testing.T) {
	svc, repo, _, _, _, _ := newTestService(domain.PlatformDiscord)
	ctx := context.Background()

	msg, err := svc.AddTopic(ctx, 1, 100, "  Rust  ")
	if err != nil || msg != "Added topic: **Rust**" {
		t.Fatalf("добавление: %q, %v", msg, err)
	}

	_, err = svc.AddTopic(ctx, 1, 100, "rust")
	var rej *Rejection
	if !errors.As(err, &rej) || !errors.Is(err, ErrDuplicateTopic) || rej.Message != "You already have **rust** in your list." {
		t.Fatalf("ожидали отказ по дублю, получили %v", err)
	}

	if _, err := svc.AddTopic(ctx, 1, 100, "   "); !errors.Is(err, ErrEmptyTopic) || err.Error() != "Topic cannot be empty." {
		t.Fatalf("ожидали отказ по пустой теме, получили %v", err)
	}

	_ = repo.SetMaxTopics(ctx, 100, 2)
	if _, err := svc.AddTopic(ctx, 1, 100, "Go"); err != nil {
		t.Fatalf("вторая тема: %v", err)
	}
	_, err = svc.AddTopic(ctx, 1, 100, "Zig")
	if !errors.Is(err, ErrTooManyTopics) || err.Error() != "You can only have up to 2 topics." {
		t.Fatalf("ожидали отказ по лимиту, получили %v", err)
	}

	long := strings.Repeat("я", 150)
	if _, err := svc.AddTopic(ctx, 2, 100, long); err != nil {
		t.Fatalf("длинная тема: %v", err)
	}
	topics, _ := svc.Topics(ctx, 2, 100)
	if len([]rune(topics[0])) != domain.MaxTopicLength {
		t.Fatalf("тема должна обрезаться до %d символов", domain.MaxTopicLength)
	}
}

func TestSettingsValidation(t *testing.T) {
	svc, repo, _, _, _, _ := newTestService(domain.PlatformTelegram)
	ctx := context.Background()

	if _, err := svc.SetDailyTime(ctx, 1, 5, "25:00"); !errors.Is(err, ErrInvalidTime) {
		t.Fatalf("ожидали ErrInvalidTime, получили %v", err)
	}
	msg, err := svc.SetDailyTime(ctx, 1, 5, "9:05")
	if err != nil || msg != "Daily digest time set to **09:05**." {
		t.Fatalf("время: %q, %v", msg, err)
	}

	if _, err := svc.SetTimezone(ctx, 1, 5, "Mars/Olympus"); !errors.Is(err, ErrInvalidTimezone) {
		t.Fatalf("ожидали ErrInvalidTimezone, получили %v", err)
	}
	msg, err = svc.SetTimezone(ctx, 1, 5, "america/new york")
	if err != nil || msg != "Timezone set to **America/New_York**." {
		t.Fatalf("пояс: %q, %v", msg, err)
	}
	s, _ := repo.GetDigestSettings(ctx, 1, 5)
	if s.DailyTime != "09:05" || s.Timezone != "America/New_York" || s.Platform != domain.PlatformTelegram {
		t.Fatalf("неожиданные настройки: %+v", s)
	}

	if _, err := svc.SetMaxTopics(ctx, 5, 0); !errors.Is(err, ErrInvalidLimit) {
		t.Fatalf("ожидали ErrInvalidLimit, получили %v", err)
	}
}

func TestIsDue(t *testing.T) {
	now := time.Date(2026, 3, 10, 15, 30, 0, 0, time.UTC)
	earlierToday := now.Add(-2 * time.Hour)
	yesterday := now.Add(-24 * time.Hour)

	cases := []struct {
		name     string
		settings domain.DigestSettings
		want     bool
	}{
		{"час назад, не отправляли", domain.DigestSettings{Timezone: "UTC", DailyTime: "14:30"}, true},
		{"уже отправлен сегодня", domain.DigestSettings{Timezone: "UTC", DailyTime: "14:30", LastSentAt: &earlierToday}, false},
		{"отправлен вчера", domain.DigestSettings{Timezone: "UTC", DailyTime: "14:30", LastSentAt: &yesterday}, true},
		{"через час", domain.DigestSettings{Timezone: "UTC", DailyTime: "16:30"}, false},
		{"Токио: уже следующий день", domain.DigestSettings{Timezone: "Asia/Tokyo", DailyTime: "00:15"}, true},
		{"Нью-Йорк: ещё утро", domain.DigestSettings{Timezone: "America/New_York", DailyTime: "12:00"}, false},
		{"битый пояс", domain.DigestSettings{Timezone: "Nowhere/City", DailyTime: "00:00"}, false},
		{"битое время", domain.DigestSettings{Timezone: "UTC", DailyTime: "noon"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsDue(tc.settings, now); got != tc.want {
				t.Fatalf("IsDue = %v, want %v", got, tc.want)
			}
			if got := IsDue(tc.settings, now); got != tc.want {
				t.Fatal("повторный вызов дал другой результат")
			}
		})
	}
}

func TestIsDueUsesLocalDateForLastSent(t *testing.T) {
	// 23:30 в Лос-Анджелесе 9 марта — это уже 10 марта по UTC.
	sent := time.Date(2026, 3, 10, 6, 30, 0, 0, time.UTC)
	now := time.Date(2026, 3, 10, 16, 0, 0, 0, time.UTC)
	s := domain.DigestSettings{Timezone: "America/Los_Angeles", DailyTime: "08:00", LastSentAt: &sent}
	if !IsDue(s, now) {
		t.Fatal("отправка была вчера по местному времени, дайджест должен быть готов")
	}
}

func TestGreeting(t *testing.T) {
	cases := map[int]string{4: "Good evening", 5: "Good morning", 11: "Good morning", 12: "Good afternoon", 17: "Good afternoon", 18: "Good evening", 23: "Good evening"}
	for hour, want := range cases {
		if got := Greeting(hour); got != want {
			t.Fatalf("Greeting(%d) = %q, want %q", hour, got, want)
		}
	}
}

func TestGenerateTopicDigestParsesAndSavesHeadlines(t *testing.T) {
	svc, repo, search, model, _, _ := newTestService(domain.PlatformDiscord)
	ctx := context.Background()
	for i := 0; i < 25; i++ {
		_ = repo.SaveHeadline(ctx, 1, 2, "ai vibe coding", fmt.Sprintf("old %d", i))
	}
	model.reply = domain.Completion{Content: "SECTION_TITLE: The Rise of Vibe Coding\nBig news today.\n\nHEADLINES_COVERED:\n- New IDE launched\n-  Funding round\n"}

	section := svc.GenerateTopicDigest(ctx, 1, 2, "ai vibe coding")
	if section.Title != "The Rise of Vibe Coding" || section.Content != "Big news today." {
		t.Fatalf("неожиданная секция: %+v", section)
	}
	if search.queries[0] != "ai vibe coding news today" {
		t.Fatalf("неожиданный запрос: %q", search.queries[0])
	}
	req := model.reqs[0]
	if !req.NoTools || req.System != anchorSystemPrompt {
		t.Fatalf("генерация должна идти без инструментов: %+v", req)
	}
	if !strings.Contains(req.Prompt, "Previously reported stories (DO NOT repeat these):\n- old 0") || strings.Contains(req.Prompt, "- old 20") {
		t.Fatalf("в промпт должны попасть первые 20 заголовков:\n%s", req.Prompt)
	}
	saved, _ := repo.RecentHeadlines(ctx, 1, 2, "ai vibe coding", time.Time{}, 100)
	if saved[len(saved)-2] != "New IDE launched" || saved[len(saved)-1] != "Funding round" {
		t.Fatalf("заголовки не сохранены: %v", saved[len(saved)-2:])
	}
}

func TestGenerateTopicDigestSentinels(t *testing.T) {
	svc, _, search, model, _, _ := newTestService(domain.PlatformTelegram)
	ctx := context.Background()

	search.out = "No results found."
	section := svc.GenerateTopicDigest(ctx, 1, 2, "quantum golf")
	if section.Title != "Quantum Golf" || section.Content != NoRecentNews || len(model.reqs) != 0 {
		t.Fatalf("пустая выдача: %+v, вызовов модели %d", section, len(model.reqs))
	}

	search.out = "Search failed: timeout"
	if section := svc.GenerateTopicDigest(ctx, 1, 2, "x"); section.Content != NoRecentNews {
		t.Fatalf("ошибка поиска: %+v", section)
	}

	search.out = "- **A**\n  b\n  <c>"
	model.reply = domain.Completion{Content: "SECTION_TITLE: Whatever\nNO_NEW_DEVELOPMENTS"}
	if section := svc.GenerateTopicDigest(ctx, 1, 2, "go"); section.Content != NoNewDevelopments || section.Title != "Go" {
		t.Fatalf("нет новостей: %+v", section)
	}

	model.reply = domain.Completion{Content: "Plain text without markers."}
	if section := svc.GenerateTopicDigest(ctx, 1, 2, "3d printing"); section.Title != "3D Printing" || section.Content != "Plain text without markers." {
		t.Fatalf("без маркеров: %+v", section)
	}

	model.reply = domain.Completion{Failure: "down"}
	if section := svc.GenerateTopicDigest(ctx, 1, 2, "go"); section.Content != domain.FallbackReply {
		t.Fatalf("отказ модели: %+v", section)
	}
}

func TestDeliverSendsSectionsAndMarksSent(t *testing.T) {
	svc, repo, _, model, pub, _ := newTestService(domain.PlatformDiscord)
	ctx := context.Background()
	svc.now = func() time.Time { return time.Date(2026, 3, 10, 13, 0, 0, 0, time.UTC) }
	_ = repo.SetDigestChannel(ctx, 7, 555)
	_, _ = svc.AddTopic(ctx, 1, 7, "golang")
	_, _ = svc.SetTimezone(ctx, 1, 7, "Asia/Tokyo")
	model.reply = domain.Completion{Content: "SECTION_TITLE: Go News\n" + strings.Repeat("word ", 500)}

	if err := svc.Deliver(ctx, 1, 7, domain.DigestCauseManual); err != nil {
		t.Fatalf("доставка: %v", err)
	}
	h := pub.headers[0]
	if h.ChannelID != 555 || h.Greeting != "Good evening" || h.Date != "2026-03-10" {
		t.Fatalf("неожиданный заголовок: %+v", h)
	}
	sent := pub.thread.sent
	if len(sent) < 2 || !strings.HasPrefix(sent[0], "### Go News\n") {
		t.Fatalf("ожидали несколько сообщений с заголовком секции: %d", len(sent))
	}
	for i, m := range sent {
		if n := len([]rune(m)); n > domain.DiscordChunkSize {
			t.Fatalf("сообщение %d длиннее лимита: %d", i, n)
		}
	}
	if _, ok := repo.sentAt[topicKey{1, 7}]; !ok {
		t.Fatal("дайджест должен быть отмечен отправленным")
	}
}

func TestDeliverRejectsConcurrentRun(t *testing.T) {
	svc, repo, _, _, pub, locker := newTestService(domain.PlatformTelegram)
	ctx := context.Background()
	_ = repo.AddTopic(ctx, 1, 9, "go")

	release, ok, _ := locker.TryLock(ctx, lockKey(domain.PlatformTelegram, 1))
	if !ok {
		t.Fatal("блокировка должна быть свободна")
	}
	if err := svc.Deliver(ctx, 1, 9, domain.DigestCauseScheduled); !errors.Is(err, ErrInProgress) {
		t.Fatalf("ожидали ErrInProgress, получили %v", err)
	}
	if len(pub.headers) != 0 {
		t.Fatal("при занятой блокировке ничего не отправляется")
	}
	release()
	if err := svc.Deliver(ctx, 1, 9, domain.DigestCauseScheduled); err != nil {
		t.Fatalf("после освобождения доставка должна пройти: %v", err)
	}
	if !strings.HasPrefix(pub.thread.sent[0], "*Go*\n") {
		t.Fatalf("неожиданный формат секции Telegram: %q", pub.thread.sent[0])
	}
	if locker.Held(lockKey(domain.PlatformTelegram, 1)) {
		t.Fatal("блокировка должна освобождаться после доставки")
	}
}

func TestDeliverPreconditions(t *testing.T) {
	svc, repo, _, _, _, _ := newTestService(domain.PlatformDiscord)
	ctx := context.Background()
	if err := svc.Deliver(ctx, 1, 7, domain.DigestCauseManual); !errors.Is(err, ErrNoTopics) {
		t.Fatalf("ожидали ErrNoTopics, получили %v", err)
	}
	_ = repo.AddTopic(ctx, 1, 7, "go")
	if err := svc.Deliver(ctx, 1, 7, domain.DigestCauseManual); !errors.Is(err, ErrNoChannel) {
		t.Fatalf("ожидали ErrNoChannel, получили %v", err)
	}
}

func TestAddTopicTrimsBeforeClipping(t *testing.T) {
	svc, repo, _, _, _, _ := newTestService(domain.PlatformTelegram)
	ctx := context.Background()

	topic := strings.Repeat("a", domain.MaxTopicLength)
	if _, err := svc.AddTopic(ctx, 1, 100, "      "+topic+"   "); err != nil {
		t.Fatalf("добавление: %v", err)
	}
	got := repo.topics[topicKey{1, 100}]
	if len(got) != 1 || got[0] != topic {
		t.Fatalf("ведущие пробелы не должны съедать длину темы: %q", got)
	}
}
