package bot

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"grok-bot/internal/usecase/digest"
)

// Publisher доставляет дайджест в чат Telegram, где пользователь его настроил.
type Publisher struct {
	api API
	log zerolog.Logger
}

// NewPublisher создаёт площадку доставки.
func NewPublisher(api API, logger zerolog.Logger) *Publisher {
	return &Publisher{api: api, log: logger}
}

// Start отправляет приветствие и возвращает поток для секций.
func (p *Publisher) Start(ctx context.Context, h digest.Header) (digest.Thread, error) {
	t := &chatThread{api: p.api, chatID: h.GuildID, log: p.log}
	if err := t.Send(ctx, fmt.Sprintf("📰 *%s!* Here is your Daily Digest for %s", h.Greeting, h.Date)); err != nil {
		return nil, err
	}
	return t, nil
}

type chatThread struct {
	api    API
	chatID int64
	log    zerolog.Logger
}

// Send отправляет Markdown. Если разметка не принята, повторяет простым текстом.
func (t *chatThread) Send(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m := tgbotapi.NewMessage(t.chatID, text)
	m.ParseMode = tgbotapi.ModeMarkdown
	if _, err := t.api.Send(m); err != nil {
		t.log.Warn().Err(err).Int64("chat_id", t.chatID).Msg("digest: markdown отклонён, отправляем текстом")
		if _, err := t.api.Send(tgbotapi.NewMessage(t.chatID, text)); err != nil {
			return fmt.Errorf("отправка в чат %d: %w", t.chatID, err)
		}
	}
	return nil
}
