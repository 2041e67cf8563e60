package chat

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"grok-bot/internal/domain"
)

type scriptedModel struct {
	mu      sync.Mutex
	replies []domain.Completion
	calls   []domain.GenerateRequest
}

func (m *scriptedModel) Generate(_ context.Context, req domain.GenerateRequest) domain.Completion {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, req)
	if len(m.replies) == 0 {
		return domain.Completion{Content: "ok"}
	}
	next := m.replies[0]
	m.replies = m.replies[1:]
	return next
}

type stubTools struct {
	result string
	err    error
	called []string
}

func (t *stubTools) Definitions() []domain.ToolDefinition { return nil }

func (t *stubTools) Execute(_ context.Context, name string, _ map[string]any) (string, error) {
	t.called = append(t.called, name)
	return t.result, t.err
}

type memSummaries struct {
	mu   sync.Mutex
	rows map[int64]domain.ChannelSummary
}

func (r *memSummaries) GetChannelSummary(_ context.Context, id int64) (*domain.ChannelSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.rows[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (r *memSummaries) UpdateChannelSummary(_ context.Context, id int64, content string, lastMsgID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rows == nil {
		r.rows = map[int64]domain.ChannelSummary{}
	}
	if prev, ok := r.rows[id]; ok && prev.LastMsgID > lastMsgID {
		return nil
	}
	r.rows[id] = domain.ChannelSummary{ChannelID: id, Content: content, LastMsgID: lastMsgID}
	return nil
}

func (r *memSummaries) DeleteChannelSummary(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rows, id)
	return nil
}

type stubSummarizer struct {
	mu    sync.Mutex
	lines [][]string
	err   error
}

func (s *stubSummarizer) Summarize(_ context.Context, current string, lines []string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, lines)
	if s.err != nil {
		return "", s.err
	}
	return strings.TrimSpace(current + " " + strings.Join(lines, " | ")), nil
}

type stubPersonas struct {
	prompt string
	resets []int64
}

func (p *stubPersonas) SystemPrompt(context.Context, int64) string { return p.prompt }

func (p *stubPersonas) ResetToStandard(_ context.Context, guildID int64) error {
	p.resets = append(p.resets, guildID)
	return nil
}

type memErrors struct {
	entries []map[string]any
}

func (e *memErrors) LogError(_ context.Context, _ error, details map[string]any) error {
	e.entries = append(e.entries, details)
	return nil
}
func (e *memErrors) RecentErrors(context.Context, int) ([]domain.ErrorLog, error) { return nil, nil }
func (e *memErrors) GetError(context.Context, int64) (*domain.ErrorLog, error)    { return nil, nil }
func (e *memErrors) ClearErrors(context.Context) error                            { return nil }

type fixture struct {
	svc        *Service
	model      *scriptedModel
	tools      *stubTools
	summaries  *memSummaries
	summarizer *stubSummarizer
	personas   *stubPersonas
	errs       *memErrors
}

func newFixture(platform domain.Platform) *fixture {
	f := &fixture{
		model:      &scriptedModel{},
		tools:      &stubTools{result: "42"},
		summaries:  &memSummaries{},
		summarizer: &stubSummarizer{},
		personas:   &stubPersonas{prompt: "You are Grok."},
		errs:       &memErrors{},
	}
	f.svc = NewService(f.model, f.tools, f.summaries, f.summarizer, f.personas, f.errs, Config{Platform: platform}, zerolog.Nop())
	f.svc.now = func() time.Time { return time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC) }
	return f
}

func TestBuildMessageHistoryCutsAtGap(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	msgs := []domain.ChatMessage{
		{ID: 1, Content: "old", AuthorID: 10, Timestamp: base},
		{ID: 2, Content: "new", AuthorID: 10, Timestamp: base.Add(90000 * time.Second)},
	}
	got := BuildMessageHistory(msgs, 999, 300, 86400*time.Second)
	if len(got) != 1 || got[0].Content != "[10]: new" {
		t.Fatalf("ожидали только свежее сообщение, получили %+v", got)
	}
}

func TestBuildMessageHistoryRoles(t *testing.T) {
	now := time.Now()
	msgs := []domain.ChatMessage{
		{ID: 1, Content: "hi", AuthorID: 42, Timestamp: now.Add(-2 * time.Minute)},
		{ID: 2, Content: "hello <@42>", AuthorID: 999, Timestamp: now.Add(-time.Minute)},
	}
	got := BuildMessageHistory(msgs, 999, 300, time.Hour)
	if len(got) != 2 {
		t.Fatalf("ожидали 2 сообщения, получили %d", len(got))
	}
	if got[0].Role != domain.RoleUser || got[0].Content != "[42]: hi" || got[0].ID != 1 {
		t.Fatalf("неверное сообщение пользователя: %+v", got[0])
	}
	if got[1].Role != domain.RoleAssistant || got[1].Content != "hello <@42>" {
		t.Fatalf("неверное сообщение бота: %+v", got[1])
	}
}

func TestBuildMessageHistoryKeepsNewest(t *testing.T) {
	now := time.Now()
	var msgs []domain.ChatMessage
	for i := 1; i <= 10; i++ {
		msgs = append(msgs, domain.ChatMessage{ID: int64(i), Content: "m", AuthorID: 1, Timestamp: now.Add(time.Duration(i) * time.Second)})
	}
	got := BuildMessageHistory(msgs, 999, 5, time.Hour)
	if len(got) != 5 {
		t.Fatalf("ожидали 5 сообщений, получили %d", len(got))
	}
	for i, m := range got {
		if m.ID != int64(6+i) {
			t.Fatalf("позиция %d: ожидали id %d, получили %d", i, 6+i, m.ID)
		}
	}
}

// Пустое сообщение не попадает в историю, но сдвигает часы разрыва.
func TestBuildMessageHistoryEmptyMessageMovesClock(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	msgs := []domain.ChatMessage{
		{ID: 1, Content: "before", AuthorID: 1, Timestamp: base},
		{ID: 2, Content: "   ", AuthorID: 1, Timestamp: base.Add(50 * time.Minute)},
		{ID: 3, Content: "after", AuthorID: 1, Timestamp: base.Add(100 * time.Minute)},
	}
	got := BuildMessageHistory(msgs, 999, 300, time.Hour)
	if len(got) != 2 || got[0].ID != 1 || got[1].ID != 3 {
		t.Fatalf("ожидали сообщения 1 и 3, получили %+v", got)
	}
}

func TestBuildSystemPromptPlatforms(t *testing.T) {
	now := time.Date(2025, 3, 14, 8, 0, 0, 0, time.UTC)
	emoji := "\n[Custom Server Emojis Available - USE THESE NATURALLY]:\n- <:pog:1> : excited face"

	discord := BuildSystemPrompt("You are Grok.", domain.PlatformDiscord, "Users talked about Go.", emoji, now)
	for _, want := range []string{
		"Current Date: 2025-03-14\nYou are Grok.",
		"[Custom Server Emojis Available",
		"[PREVIOUS CONVERSATION SUMMARY]:\nUsers talked about Go.",
		"under 1900 characters to fit in a Discord message",
		"<@User ID>",
		"Custom Emojis",
	} {
		if !strings.Contains(discord, want) {
			t.Fatalf("в промпте Discord нет %q:\n%s", want, discord)
		}
	}
	if strings.Index(discord, "Custom Server Emojis") > strings.Index(discord, "PREVIOUS CONVERSATION SUMMARY") {
		t.Fatalf("блок эмодзи должен идти до сводки")
	}

	telegram := BuildSystemPrompt("You are Grok.", domain.PlatformTelegram, "", emoji, now)
	if strings.Contains(telegram, "Emoji") || strings.Contains(telegram, "SUMMARY") {
		t.Fatalf("в промпте Telegram не должно быть эмодзи и пустой сводки:\n%s", telegram)
	}
	if !strings.Contains(telegram, "under 3900 characters to fit in a Telegram message") {
		t.Fatalf("нет лимита Telegram:\n%s", telegram)
	}
}

func TestRespondWithoutTools(t *testing.T) {
	f := newFixture(domain.PlatformDiscord)
	f.model.replies = []domain.Completion{{Content: "Hi <@7>!"}}
	reply := f.svc.Respond(context.Background(), Request{ChannelID: 1, GuildID: 2, UserID: 7, MessageID: 100, Text: "hello"})
	f.svc.Wait()
	if reply != "Hi <@7>!" {
		t.Fatalf("неожиданный ответ %q", reply)
	}
	if len(f.model.calls) != 1 || f.model.calls[0].NoTools {
		t.Fatalf("ожидали один вызов с инструментами: %+v", f.model.calls)
	}
	parts := f.model.calls[0].Parts
	if len(parts) != 1 || parts[0].Text != "[7]: hello" {
		t.Fatalf("неверный контент пользователя: %+v", parts)
	}
}

func TestRespondToolLoopMakesExactlyTwoCalls(t *testing.T) {
	for _, tc := range []struct {
		name    string
		toolErr error
		args    string
		wantOut string
		logged  int
	}{
		{name: "успех", args: `{"expression":"6*7"}`, wantOut: "Tool Output for 'calculator':\n42"},
		{name: "ошибка инструмента", toolErr: errors.New("boom"), args: `{"expression":"6*7"}`, wantOut: ToolFailedReply, logged: 1},
		{name: "битые аргументы", args: `{`, wantOut: ToolFailedReply, logged: 1},
	} {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(domain.PlatformTelegram)
			f.tools.err = tc.toolErr
			f.model.replies = []domain.Completion{
				{ToolCalls: []domain.ToolCall{
					{ID: "1", Name: "calculator", Arguments: tc.args},
					{ID: "2", Name: "web_search", Arguments: `{"query":"x"}`},
				}},
				{Content: "It is 42."},
			}
			var statuses []string
			reply := f.svc.Respond(context.Background(), Request{
				ChannelID: 1, GuildID: 1, UserID: 3, Text: "6*7?", Ephemeral: true,
				Status: func(_ context.Context, s string) { statuses = append(statuses, s) },
			})
			if reply != "It is 42." {
				t.Fatalf("неожиданный ответ %q", reply)
			}
			if len(f.model.calls) != 2 {
				t.Fatalf("ожидали ровно 2 вызова модели, получили %d", len(f.model.calls))
			}
			second := f.model.calls[1]
			if !second.NoTools {
				t.Fatalf("второй вызов должен быть без инструментов")
			}
			last := second.History[len(second.History)-1]
			if last.Role != domain.RoleSystem || !strings.Contains(last.Content, tc.wantOut) {
				t.Fatalf("неверная вставка результата: %+v", last)
			}
			if len(f.tools.called) > 1 {
				t.Fatalf("выполняется только первый инструмент: %v", f.tools.called)
			}
			if len(f.errs.entries) != tc.logged {
				t.Fatalf("ожидали %d записей в журнале, получили %d", tc.logged, len(f.errs.entries))
			}
			if tc.logged > 0 && f.errs.entries[0]["tool"] != "calculator" {
				t.Fatalf("в журнале нет имени инструмента: %+v", f.errs.entries[0])
			}
			if tc.args != `{` && (len(statuses) != 1 || !strings.Contains(statuses[0], "Calculating: *6*7*")) {
				t.Fatalf("неверный статус: %v", statuses)
			}
		})
	}
}

func TestStatusLine(t *testing.T) {
	if got := StatusLine("web_search", map[string]any{"query": "go 1.24"}); !strings.Contains(got, "Searching for: *go 1.24*") {
		t.Fatalf("неверный статус поиска: %q", got)
	}
	if got := StatusLine("weather", nil); !strings.Contains(got, "Using tool: *weather*") {
		t.Fatalf("неверный статус по умолчанию: %q", got)
	}
}

func TestRespondFallbackOnModelFailure(t *testing.T) {
	f := newFixture(domain.PlatformDiscord)
	f.model.replies = []domain.Completion{{Failure: "timeout"}}
	reply := f.svc.Respond(context.Background(), Request{ChannelID: 1, UserID: 1, Text: "hi", Ephemeral: true})
	if reply != domain.FallbackReply {
		t.Fatalf("ожидали заглушку, получили %q", reply)
	}
}

func TestRespondTriggersSummaryAtThreshold(t *testing.T) {
	f := newFixture(domain.PlatformTelegram)
	f.model.replies = []domain.Completion{{Content: "answer"}}
	f.svc.Respond(context.Background(), Request{ChannelID: 5, UserID: 9, MessageID: 20, Text: "question"})
	f.svc.Wait()

	row, _ := f.summaries.GetChannelSummary(context.Background(), 5)
	if row == nil || row.LastMsgID != 20 {
		t.Fatalf("ожидали сводку до сообщения 20, получили %+v", row)
	}
	if !strings.Contains(row.Content, "user: [9]: question") || !strings.Contains(row.Content, "assistant: answer") {
		t.Fatalf("в сводке нет фактов обмена: %q", row.Content)
	}
}

func TestMaybeSummarizeBelowThreshold(t *testing.T) {
	f := newFixture(domain.PlatformDiscord)
	current := &domain.ChannelSummary{Content: "old", LastMsgID: 5}
	msgs := []domain.Message{{Role: "user", Content: "a", ID: 4}, {Role: "user", Content: "b", ID: 6}}
	if f.svc.MaybeSummarize(context.Background(), 1, current, msgs) {
		t.Fatalf("одно новое сообщение не должно запускать суммаризацию в Discord")
	}
	f.svc.Wait()
	if len(f.summarizer.lines) != 0 {
		t.Fatalf("суммаризатор не должен вызываться")
	}
}

func TestUpdateSummaryTracksNewestMessage(t *testing.T) {
	f := newFixture(domain.PlatformTelegram)
	ctx := context.Background()
	f.svc.UpdateSummary(ctx, 1, "", []domain.Message{{Role: "user", Content: "a", ID: 10}})
	f.svc.UpdateSummary(ctx, 1, "", []domain.Message{{Role: "user", Content: "b", ID: 20}})
	f.svc.UpdateSummary(ctx, 1, "", []domain.Message{{Role: "user", Content: "stale", ID: 15}})
	row, _ := f.summaries.GetChannelSummary(ctx, 1)
	if row.LastMsgID != 20 {
		t.Fatalf("last_msg_id не должен уменьшаться, получили %d", row.LastMsgID)
	}

	f.summarizer.err = errors.New("llm down")
	f.svc.UpdateSummary(ctx, 1, row.Content, []domain.Message{{Role: "user", Content: "c", ID: 30}})
	row, _ = f.summaries.GetChannelSummary(ctx, 1)
	if row.LastMsgID != 20 {
		t.Fatalf("ошибка суммаризации не должна менять сводку")
	}
}

func TestCheckAndResetPersona(t *testing.T) {
	f := newFixture(domain.PlatformDiscord)
	now := time.Now()
	if f.svc.CheckAndResetPersona(context.Background(), 1, 2, time.Time{}, now) {
		t.Fatalf("без предыдущего сообщения сброса нет")
	}
	if f.svc.CheckAndResetPersona(context.Background(), 1, 2, now.Add(-time.Hour), now) {
		t.Fatalf("час простоя не повод для сброса")
	}
	if !f.svc.CheckAndResetPersona(context.Background(), 1, 2, now.Add(-25*time.Hour), now) {
		t.Fatalf("ожидали сброс после суток простоя")
	}
	if len(f.personas.resets) != 1 || f.personas.resets[0] != 2 {
		t.Fatalf("сброс должен касаться гильдии 2: %v", f.personas.resets)
	}
}

func solid(c color.Color) *image.Paletted {
	pal := color.Palette{color.RGBA{255, 0, 0, 255}, color.RGBA{0, 255, 0, 255}, color.RGBA{0, 0, 255, 255}}
	img := image.NewPaletted(image.Rect(0, 0, 8, 8), pal)
	idx := uint8(pal.Index(c))
	for i := range img.Pix {
		img.Pix[i] = idx
	}
	return img
}

func TestImageToDataURLTakesGIFMiddleFrame(t *testing.T) {
	anim := &gif.GIF{
		Image: []*image.Paletted{
			solid(color.RGBA{255, 0, 0, 255}),
			solid(color.RGBA{0, 255, 0, 255}),
			solid(color.RGBA{0, 0, 255, 255}),
		},
		Delay: []int{10, 10, 10},
	}
	var buf bytes.Buffer
	if err := gif.EncodeAll(&buf, anim); err != nil {
		t.Fatalf("кодирование gif: %v", err)
	}

	url, err := ImageToDataURL(buf.Bytes())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	const prefix = "data:image/jpeg;base64,"
	if !strings.HasPrefix(url, prefix) {
		t.Fatalf("ожидали jpeg data URL, получили %q", url[:min(len(url), 40)])
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(url, prefix))
	if err != nil {
		t.Fatalf("base64: %v", err)
	}
	frame, err := jpeg.Decode(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("jpeg: %v", err)
	}
	r, g, b, _ := frame.At(4, 4).RGBA()
	if g>>8 < 200 || r>>8 > 60 || b>>8 > 60 {
		t.Fatalf("ожидали зелёный средний кадр, получили rgb(%d,%d,%d)", r>>8, g>>8, b>>8)
	}
}

func TestBuildUserContentSkipsBrokenImages(t *testing.T) {
	f := newFixture(domain.PlatformDiscord)
	var buf bytes.Buffer
	if err := gif.Encode(&buf, solid(color.RGBA{255, 0, 0, 255}), nil); err != nil {
		t.Fatalf("кодирование gif: %v", err)
	}
	parts := f.svc.BuildUserContent(context.Background(), "look", 5, []domain.Image{
		{Data: []byte("not an image"), ContentType: "image/png"},
		{Data: buf.Bytes(), ContentType: "image/gif"},
		{Data: []byte("%PDF"), ContentType: "application/pdf"},
	})
	if len(parts) != 2 {
		t.Fatalf("ожидали текст и одну картинку, получили %d частей", len(parts))
	}
	if parts[0].Type != domain.PartText || parts[0].Text != "[5]: look" {
		t.Fatalf("неверная текстовая часть: %+v", parts[0])
	}
	if parts[1].Type != domain.PartImage || !strings.HasPrefix(parts[1].ImageURL, "data:image/jpeg;base64,") {
		t.Fatalf("неверная часть с картинкой: %+v", parts[1])
	}
}
