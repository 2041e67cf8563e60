// Package bot — адаптер Telegram: переводит апдейты в вызовы ядра и отправляет ответы.
package bot

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"grok-bot/internal/adapters/telegram"
	"grok-bot/internal/domain"
	"grok-bot/internal/infra/metrics"
	"grok-bot/internal/usecase/admin"
	"grok-bot/internal/usecase/chat"
	"grok-bot/internal/usecase/chunker"
	"grok-bot/internal/usecase/digest"
	"grok-bot/internal/usecase/persona"
)

// API — часть tgbotapi.BotAPI, которой пользуется адаптер.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
}

// Services — ядро, которое обслуживает адаптер.
type Services struct {
	Chat     *chat.Service
	Personas *persona.Service
	Digest   *digest.Service
	Admin    *admin.Service
	Errors   domain.ErrorLogRepo
}

// Handler обслуживает апдейты бота.
type Handler struct {
	api    API
	self   tgbotapi.User
	svc    Services
	admins domain.AdminSet
	http   *http.Client
	log    zerolog.Logger
}

// NewHandler создаёт обработчик. self — пользователь-бот из GetMe.
func NewHandler(api API, self tgbotapi.User, svc Services, admins domain.AdminSet, logger zerolog.Logger) *Handler {
	return &Handler{
		api:    api,
		self:   self,
		svc:    svc,
		admins: admins,
		http:   &http.Client{Timeout: 30 * time.Second},
		log:    logger,
	}
}

// HandleUpdate обрабатывает входящий апдейт. Паника в обработчике пишется в журнал ошибок.
func (h *Handler) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error().Interface("panic", r).Int("update_id", upd.UpdateID).Msg("telegram: обработчик упал")
			h.logError(ctx, panicError{value: r}, map[string]any{"context": "Telegram error_handler", "update_id": upd.UpdateID})
		}
	}()
	switch {
	case upd.CallbackQuery != nil:
		h.handleCallback(ctx, upd.CallbackQuery)
	case upd.Message != nil && upd.Message.IsCommand():
		h.handleCommand(ctx, upd.Message)
	case upd.Message != nil:
		h.handleChat(ctx, upd.Message)
	}
}

// Addressed сообщает, что сообщение обращено к боту: личный чат, ответ боту или упоминание.
// Ответ другому пользователю игнорируется.
func Addressed(msg *tgbotapi.Message, self tgbotapi.User) bool {
	if msg.ReplyToMessage != nil {
		return msg.ReplyToMessage.From != nil && msg.ReplyToMessage.From.ID == self.ID
	}
	if msg.Chat != nil && msg.Chat.IsPrivate() {
		return true
	}
	if self.UserName == "" {
		return false
	}
	return strings.Contains(strings.ToLower(messageText(msg)), "@"+strings.ToLower(self.UserName))
}

// StripMention убирает упоминание бота. Пустое сообщение превращается в "Hello!".
func StripMention(text, username string) string {
	if username != "" {
		lower := strings.ToLower(text)
		mention := "@" + strings.ToLower(username)
		for {
			i := strings.Index(lower, mention)
			if i < 0 {
				break
			}
			text = text[:i] + text[i+len(mention):]
			lower = lower[:i] + lower[i+len(mention):]
		}
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "Hello!"
	}
	return text
}

// ReplyChain собирает цепочку ответов до maxMessages сообщений в хронологическом порядке.
func ReplyChain(msg *tgbotapi.Message, botID int64, maxMessages int) []domain.ChatMessage {
	var chain []domain.ChatMessage
	for cur := msg.ReplyToMessage; cur != nil && len(chain) < maxMessages; cur = cur.ReplyToMessage {
		cm := domain.ChatMessage{
			ID:        int64(cur.MessageID),
			Role:      domain.RoleUser,
			Content:   messageText(cur),
			Timestamp: cur.Time(),
		}
		if cur.From != nil {
			cm.AuthorID = cur.From.ID
			if cur.From.ID == botID {
				cm.Role = domain.RoleAssistant
			}
		}
		chain = append(chain, cm)
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}

// withAnchor добавляет пустую отметку текущего сообщения, чтобы разрыв
// считался и относительно него.
func withAnchor(chain []domain.ChatMessage, msg *tgbotapi.Message) []domain.ChatMessage {
	return append(chain, domain.ChatMessage{ID: int64(msg.MessageID), Timestamp: msg.Time()})
}

func (h *Handler) handleChat(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil || (messageText(msg) == "" && len(msg.Photo) == 0) {
		return
	}
	if !Addressed(msg, h.self) {
		return
	}
	chatID := msg.Chat.ID
	h.typing(chatID)

	text := StripMention(messageText(msg), h.self.UserName)
	reply := h.svc.Chat.Respond(ctx, chat.Request{
		ChannelID: chatID,
		GuildID:   chatID,
		UserID:    msg.From.ID,
		MessageID: int64(msg.MessageID),
		Text:      text,
		Images:    h.photos(ctx, msg),
		History:   h.svc.Chat.History(withAnchor(ReplyChain(msg, h.self.ID, domain.MaxHistoryMessages), msg), h.self.ID),
		Status:    h.status(chatID, msg.MessageID),
	})
	h.replyHTML(chatID, msg.MessageID, reply)
}

func (h *Handler) handleChatCommand(ctx context.Context, msg *tgbotapi.Message) {
	prompt := strings.TrimSpace(msg.CommandArguments())
	if prompt == "" {
		h.reply(msg.Chat.ID, "Usage: /chat <your message>")
		return
	}
	h.typing(msg.Chat.ID)
	reply := h.svc.Chat.Respond(ctx, chat.Request{
		ChannelID: msg.Chat.ID,
		GuildID:   msg.Chat.ID,
		UserID:    msg.From.ID,
		MessageID: int64(msg.MessageID),
		Text:      prompt,
		Status:    h.status(msg.Chat.ID, msg.MessageID),
		Ephemeral: true,
	})
	h.replyHTML(msg.Chat.ID, msg.MessageID, reply)
}

func (h *Handler) status(chatID int64, replyTo int) chat.StatusFunc {
	return func(_ context.Context, text string) {
		m := tgbotapi.NewMessage(chatID, telegram.StatusMarkdown(text))
		m.ParseMode = tgbotapi.ModeMarkdown
		m.ReplyToMessageID = replyTo
		h.send(chatID, "send_status", m)
	}
}

// replyHTML режет ответ на куски и отправляет каждый как HTML.
// Если Telegram не принял разметку, кусок уходит простым текстом.
func (h *Handler) replyHTML(chatID int64, replyTo int, text string) {
	for _, part := range chunker.Split(text, domain.TelegramChunkSize) {
		m := tgbotapi.NewMessage(chatID, telegram.MarkdownToHTML(part))
		m.ParseMode = tgbotapi.ModeHTML
		m.ReplyToMessageID = replyTo
		if err := h.send(chatID, "send_reply", m); err != nil {
			plain := tgbotapi.NewMessage(chatID, part)
			plain.ReplyToMessageID = replyTo
			if err := h.send(chatID, "send_reply_plain", plain); err != nil {
				metrics.BotSendErrors.WithLabelValues(string(domain.PlatformTelegram)).Inc()
				return
			}
		}
	}
}

// reply отправляет служебный ответ: Markdown модели переводится в HTML.
func (h *Handler) reply(chatID int64, text string) {
	m := tgbotapi.NewMessage(chatID, telegram.MarkdownToHTML(text))
	m.ParseMode = tgbotapi.ModeHTML
	if err := h.send(chatID, "send_message", m); err != nil {
		metrics.BotSendErrors.WithLabelValues(string(domain.PlatformTelegram)).Inc()
	}
}

func (h *Handler) send(chatID int64, op string, c tgbotapi.Chattable) error {
	start := time.Now()
	_, err := h.api.Send(c)
	metrics.ObserveNetworkRequest("telegram_bot", op, strconv.FormatInt(chatID, 10), start, err)
	if err != nil {
		h.log.Error().Err(err).Int64("chat_id", chatID).Str("operation", op).Msg("не удалось отправить сообщение")
	}
	return err
}

func (h *Handler) typing(chatID int64) {
	start := time.Now()
	_, err := h.api.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping))
	metrics.ObserveNetworkRequest("telegram_bot", "chat_action", strconv.FormatInt(chatID, 10), start, err)
}

func (h *Handler) logError(ctx context.Context, err error, details map[string]any) {
	if h.svc.Errors == nil {
		return
	}
	if lerr := h.svc.Errors.LogError(ctx, err, details); lerr != nil {
		h.log.Error().Err(lerr).Msg("telegram: не удалось записать ошибку в журнал")
	}
}

func messageText(msg *tgbotapi.Message) string {
	if msg.Text != "" {
		return msg.Text
	}
	return msg.Caption
}

type panicError struct{ value any }

func (p panicError) Error() string { return fmt.Sprintf("panic: %v", p.value) }
