package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"grok-bot/internal/domain"
	"grok-bot/internal/usecase/admin"
	"grok-bot/internal/usecase/digest"
	"grok-bot/internal/usecase/persona"
)

const (
	adminOnlyReply     = "❌ This command requires admin permissions."
	inProgressReply    = "⏳ Your digest is already being generated! Please wait."
	digestSentReply    = "✅ Digest sent!"
	digestFailedReply  = "❌ Could not send digest. Check if you have topics configured."
	personaCallback    = "persona_"
	deletePersonaPrefx = "delete_persona_"
	memoryViewLimit    = 3500
)

const helpText = `*Grok Telegram Bot*

Talk to me by replying to my messages or mentioning me!

*Commands:*
/start - Start the bot
/help - Show this help message
/chat <prompt> - Chat with AI directly

*Admin Commands:*
/memory_view - View channel memory
/memory_clear - Clear channel memory
/logs_view - View error logs
/logs_clear - Clear error logs

*Persona Commands:*
/persona - Switch persona
/persona_create <description> - Create new persona
/persona_delete - Delete a persona
/persona_current - Show current persona

*Digest Commands:*
/digest_add <topic> - Add a news topic
/digest_remove <topic> - Remove a topic
/digest_list - List your topics
/digest_time <HH:MM> - Set delivery time
/digest_timezone <tz> - Set timezone
/digest_now - Trigger digest now`

// Commands возвращает меню команд для SetMyCommands.
func Commands() []tgbotapi.BotCommand {
	return []tgbotapi.BotCommand{
		{Command: "start", Description: "Start the bot"},
		{Command: "help", Description: "Show help message"},
		{Command: "chat", Description: "Chat with AI directly"},
		{Command: "persona", Description: "Switch persona"},
		{Command: "persona_create", Description: "Create new persona"},
		{Command: "persona_delete", Description: "Delete a persona"},
		{Command: "persona_current", Description: "Show current persona"},
		{Command: "digest_add", Description: "Add a news topic"},
		{Command: "digest_remove", Description: "Remove a topic"},
		{Command: "digest_list", Description: "List your topics"},
		{Command: "digest_time", Description: "Set delivery time"},
		{Command: "digest_timezone", Description: "Set timezone"},
		{Command: "digest_now", Description: "Trigger digest now"},
		{Command: "memory_view", Description: "View channel memory"},
		{Command: "memory_clear", Description: "Clear channel memory"},
		{Command: "logs_view", Description: "View error logs"},
		{Command: "logs_clear", Description: "Clear error logs"},
	}
}

var adminCommands = map[string]bool{
	"memory_view": true, "memory_clear": true, "logs_view": true, "logs_clear": true,
	"persona": true, "persona_create": true, "persona_delete": true,
}

func (h *Handler) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil {
		return
	}
	cmd := msg.Command()
	chatID := msg.Chat.ID
	args := strings.TrimSpace(msg.CommandArguments())
	if adminCommands[cmd] && !h.admins.IsAdmin(msg.From.ID) {
		h.reply(chatID, adminOnlyReply)
		return
	}

	switch cmd {
	case "start":
		h.reply(chatID, "Hello! I'm Grok, your AI assistant. Reply to my messages or mention me to chat!\n\nUse /help to see available commands.")
	case "help":
		h.reply(chatID, helpText)
	case "chat":
		h.handleChatCommand(ctx, msg)

	case "memory_view":
		h.handleMemoryView(ctx, chatID)
	case "memory_clear":
		if err := h.svc.Admin.ClearChannelSummary(ctx, chatID); err != nil {
			h.fail(ctx, chatID, "memory_clear", err)
			return
		}
		h.reply(chatID, "🧹 Memory cleared for this chat.")
	case "logs_view":
		h.handleLogsView(ctx, chatID, args)
	case "logs_clear":
		if err := h.svc.Admin.ClearErrors(ctx); err != nil {
			h.fail(ctx, chatID, "logs_clear", err)
			return
		}
		h.reply(chatID, "🔥 All error logs have been cleared.")

	case "persona":
		h.handlePersonaMenu(ctx, chatID)
	case "persona_create":
		h.handlePersonaCreate(ctx, chatID, msg.From.ID, args)
	case "persona_delete":
		h.handlePersonaDeleteMenu(ctx, chatID)
	case "persona_current":
		h.handlePersonaCurrent(ctx, chatID)

	case "digest_add":
		if args == "" {
			h.reply(chatID, "Usage: /digest_add <topic>")
			return
		}
		h.replyOutcome(ctx, chatID, "digest_add", func() (string, error) {
			return h.svc.Digest.AddTopic(ctx, msg.From.ID, chatID, args)
		})
	case "digest_remove":
		if args == "" {
			h.reply(chatID, "Usage: /digest_remove <topic>")
			return
		}
		if err := h.svc.Digest.RemoveTopic(ctx, msg.From.ID, chatID, args); err != nil {
			h.fail(ctx, chatID, "digest_remove", err)
			return
		}
		h.reply(chatID, fmt.Sprintf("✅ Removed topic: **%s**", args))
	case "digest_list":
		h.handleTopicList(ctx, chatID, msg.From.ID)
	case "digest_time":
		if args == "" {
			h.reply(chatID, "Usage: /digest_time <HH:MM> (e.g., 09:00)")
			return
		}
		h.replyOutcome(ctx, chatID, "digest_time", func() (string, error) {
			return h.svc.Digest.SetDailyTime(ctx, msg.From.ID, chatID, strings.Fields(args)[0])
		})
	case "digest_timezone":
		if args == "" {
			h.reply(chatID, "Usage: /digest_timezone <timezone> (e.g., UTC, America/New_York)")
			return
		}
		h.replyOutcome(ctx, chatID, "digest_timezone", func() (string, error) {
			return h.svc.Digest.SetTimezone(ctx, msg.From.ID, chatID, args)
		})
	case "digest_now":
		h.handleDigestNow(ctx, chatID, msg.From.ID)
	default:
		if msg.Chat.IsPrivate() {
			h.reply(chatID, "Unknown command. Use /help")
		}
	}
}

// replyOutcome показывает ✅ с текстом успеха или ❌ с текстом отказа.
func (h *Handler) replyOutcome(ctx context.Context, chatID int64, op string, fn func() (string, error)) {
	text, err := fn()
	var rej *digest.Rejection
	switch {
	case err == nil:
		h.reply(chatID, "✅ "+text)
	case errors.As(err, &rej):
		h.reply(chatID, "❌ "+rej.Message)
	default:
		h.fail(ctx, chatID, op, err)
	}
}

func (h *Handler) fail(ctx context.Context, chatID int64, op string, err error) {
	h.log.Error().Err(err).Int64("chat_id", chatID).Str("command", op).Msg("telegram: команда завершилась ошибкой")
	h.logError(ctx, err, map[string]any{"context": "Telegram " + op, "chat_id": chatID})
	h.reply(chatID, "❌ Something went wrong. Please try again.")
}

func (h *Handler) handleMemoryView(ctx context.Context, chatID int64) {
	summary, err := h.svc.Admin.ChannelSummary(ctx, chatID)
	if err != nil {
		h.fail(ctx, chatID, "memory_view", err)
		return
	}
	if summary == nil {
		h.reply(chatID, "🧠 No memory stored for this chat.")
		return
	}
	content := summary.Content
	if r := []rune(content); len(r) > memoryViewLimit {
		content = string(r[:memoryViewLimit-3]) + "..."
	}
	h.reply(chatID, fmt.Sprintf("🧠 **Memory for this chat:**\n\n%s\n\n*Last updated: %s*", content, summary.UpdatedAt.UTC().Format("2006-01-02 15:04:05")))
}

func (h *Handler) handleLogsView(ctx context.Context, chatID int64, args string) {
	limit := admin.DefaultErrorLimit
	if n, err := strconv.Atoi(strings.TrimSpace(args)); err == nil {
		limit = min(max(n, 1), admin.MaxErrorLimit)
	}
	rows, err := h.svc.Admin.RecentErrors(ctx, limit)
	if err != nil {
		h.fail(ctx, chatID, "logs_view", err)
		return
	}
	if len(rows) == 0 {
		h.reply(chatID, "✅ No errors logged.")
		return
	}
	h.reply(chatID, FormatErrorList(rows))
}

// FormatErrorList форматирует журнал ошибок для чата.
func FormatErrorList(rows []domain.ErrorLog) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📋 **Recent Error Logs (Last %d):**\n", len(rows))
	for _, row := range rows {
		msg := row.Message
		if r := []rune(msg); len(r) > 100 {
			msg = string(r[:100])
		}
		fmt.Fprintf(&b, "\n**Error #%d**\nType: `%s`\nMsg: %s\nTime: %s\n", row.ID, row.ErrorType, msg, row.CreatedAt.UTC().Format("2006-01-02 15:04:05"))
	}
	return strings.TrimRight(b.String(), "\n")
}

func (h *Handler) handlePersonaMenu(ctx context.Context, chatID int64) {
	list, err := h.svc.Personas.List(ctx)
	if err != nil {
		h.fail(ctx, chatID, "persona", err)
		return
	}
	if len(list) == 0 {
		h.reply(chatID, "No personas found!")
		return
	}
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(list))
	for _, p := range list {
		desc := p.Description
		if r := []rune(desc); len(r) > 30 {
			desc = string(r[:30]) + "..."
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("%s - %s", p.Name, desc), personaCallback+strconv.FormatInt(p.ID, 10)),
		))
	}
	h.replyKeyboard(chatID, "🎭 <b>Choose a Persona:</b>", tgbotapi.NewInlineKeyboardMarkup(rows...))
}

func (h *Handler) handlePersonaDeleteMenu(ctx context.Context, chatID int64) {
	list, err := h.svc.Personas.Deletable(ctx)
	if err != nil {
		h.fail(ctx, chatID, "persona_delete", err)
		return
	}
	if len(list) == 0 {
		h.reply(chatID, "No custom personas found to delete.")
		return
	}
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(list))
	for _, p := range list {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🗑️ "+p.Name, deletePersonaPrefx+strconv.FormatInt(p.ID, 10)),
		))
	}
	h.replyKeyboard(chatID, "🗑️ <b>Select a Persona to Delete:</b>", tgbotapi.NewInlineKeyboardMarkup(rows...))
}

func (h *Handler) handlePersonaCreate(ctx context.Context, chatID, userID int64, input string) {
	if input == "" {
		h.reply(chatID, "Usage: /persona_create <description>\nExample: /persona_create A sarcastic hacker")
		return
	}
	h.reply(chatID, "🔄 Creating persona...")
	p, err := h.svc.Personas.Create(ctx, input, userID, "")
	if err != nil {
		h.log.Error().Err(err).Int64("chat_id", chatID).Msg("telegram: персона не создана")
		h.reply(chatID, "❌ "+persona.ErrCreationFailed.Error())
		return
	}
	h.reply(chatID, fmt.Sprintf("✨ **Persona Created**\n\n**Name:** %s\n**Description:** %s\n**System Prompt:** %s", p.Name, p.Description, p.SystemPrompt))
}

func (h *Handler) handlePersonaCurrent(ctx context.Context, chatID int64) {
	p, err := h.svc.Personas.Current(ctx, chatID)
	if err != nil || p == nil || p.Name == domain.StandardPersonaName {
		h.reply(chatID, "🎭 Current Persona: **Standard** (Default)")
		return
	}
	h.reply(chatID, fmt.Sprintf("🎭 Current Persona: **%s**\n*%s*", p.Name, p.Description))
}

func (h *Handler) handleTopicList(ctx context.Context, chatID, userID int64) {
	topics, err := h.svc.Digest.Topics(ctx, userID, chatID)
	if err != nil {
		h.fail(ctx, chatID, "digest_list", err)
		return
	}
	if len(topics) == 0 {
		h.reply(chatID, "You have no topics set. Use /digest_add to get started.")
		return
	}
	lines := make([]string, len(topics))
	for i, t := range topics {
		lines[i] = "• " + t
	}
	h.reply(chatID, "**Your Digest Topics:**\n"+strings.Join(lines, "\n"))
}

func (h *Handler) handleDigestNow(ctx context.Context, chatID, userID int64) {
	h.reply(chatID, "🔄 Generating your digest...")
	err := h.svc.Digest.Deliver(ctx, userID, chatID, domain.DigestCauseManual)
	switch {
	case err == nil:
		h.reply(chatID, digestSentReply)
	case errors.Is(err, digest.ErrInProgress):
		h.reply(chatID, inProgressReply)
	case errors.Is(err, digest.ErrNoTopics):
		h.reply(chatID, digestFailedReply)
	default:
		h.log.Error().Err(err).Int64("user_id", userID).Msg("telegram: дайджест не отправлен")
		h.logError(ctx, err, map[string]any{"context": "send_digest", "user_id": userID})
		h.reply(chatID, digestFailedReply)
	}
}

func (h *Handler) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	defer func() {
		_, err := h.api.Request(tgbotapi.NewCallback(cb.ID, ""))
		if err != nil {
			h.log.Error().Err(err).Msg("не удалось ответить на callback")
		}
	}()
	if cb.Message == nil || cb.From == nil {
		return
	}
	chatID := cb.Message.Chat.ID
	messageID := cb.Message.MessageID
	if !h.admins.IsAdmin(cb.From.ID) {
		h.edit(chatID, messageID, "❌ You cannot control this menu.")
		return
	}

	switch data := cb.Data; {
	case strings.HasPrefix(data, deletePersonaPrefx):
		id, err := strconv.ParseInt(strings.TrimPrefix(data, deletePersonaPrefx), 10, 64)
		if err != nil {
			return
		}
		name, err := h.svc.Personas.Delete(ctx, id)
		switch {
		case errors.Is(err, persona.ErrStandardProtected):
			h.edit(chatID, messageID, "❌ The Standard persona cannot be deleted.")
		case err != nil:
			h.log.Error().Err(err).Int64("persona_id", id).Msg("telegram: персона не удалена")
			h.edit(chatID, messageID, "❌ Persona not found.")
		default:
			h.edit(chatID, messageID, fmt.Sprintf("🗑️ Deleted persona <b>%s</b>.", escape(name)))
		}
	case strings.HasPrefix(data, personaCallback):
		id, err := strconv.ParseInt(strings.TrimPrefix(data, personaCallback), 10, 64)
		if err != nil {
			return
		}
		p, err := h.svc.Personas.Activate(ctx, chatID, id)
		if err != nil {
			h.log.Error().Err(err).Int64("persona_id", id).Msg("telegram: персона не переключена")
			h.edit(chatID, messageID, "❌ Persona not found.")
			return
		}
		h.edit(chatID, messageID, fmt.Sprintf("✅ Switched persona to <b>%s</b>!", escape(p.Name)))
	}
}

func (h *Handler) replyKeyboard(chatID int64, html string, kb tgbotapi.InlineKeyboardMarkup) {
	m := tgbotapi.NewMessage(chatID, html)
	m.ParseMode = tgbotapi.ModeHTML
	m.ReplyMarkup = kb
	_ = h.send(chatID, "send_keyboard", m)
}

func (h *Handler) edit(chatID int64, messageID int, html string) {
	m := tgbotapi.NewEditMessageText(chatID, messageID, html)
	m.ParseMode = tgbotapi.ModeHTML
	_ = h.send(chatID, "edit_message", m)
}
