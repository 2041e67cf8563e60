package discord

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"grok-bot/internal/domain"
	"grok-bot/internal/infra/metrics"
	"grok-bot/internal/usecase/admin"
	"grok-bot/internal/usecase/chat"
	"grok-bot/internal/usecase/chunker"
	"grok-bot/internal/usecase/digest"
	"grok-bot/internal/usecase/persona"
)

const (
	failedReply       = "❌ Something went wrong. Please try again."
	inProgressReply   = "⏳ Your digest is already being generated! Please wait."
	digestSentReply   = "✅ Digest sent!"
	digestFailedReply = "❌ Could not send digest. Check if you have topics configured."
	noChannelReply    = "❌ No digest channel configured. Ask an admin to run `/digest_config channel`."
	memoryViewLimit   = 1800
)

var adminPermission int64 = discordgo.PermissionAdministrator

func subcommand(name, description string, options ...*discordgo.ApplicationCommandOption) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionSubCommand,
		Name:        name,
		Description: description,
		Options:     options,
	}
}

func stringOption(name, description string, required bool) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        name,
		Description: description,
		Required:    required,
	}
}

func intOption(name, description string, required bool, lo, hi float64) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionInteger,
		Name:        name,
		Description: description,
		Required:    required,
		MinValue:    &lo,
		MaxValue:    hi,
	}
}

// Commands — slash-команды бота. Административные доступны только администраторам сервера.
func Commands() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{
			Name:        "chat",
			Description: "Chat with AI directly",
			Options:     []*discordgo.ApplicationCommandOption{stringOption("prompt", "Your message", true)},
		},
		{
			Name:                     "persona",
			Description:              "Manage bot personas",
			DefaultMemberPermissions: &adminPermission,
			Options: []*discordgo.ApplicationCommandOption{
				subcommand("list", "List available personas"),
				subcommand("set", "Switch persona", stringOption("name", "Persona name", true)),
				subcommand("create", "Create new persona", stringOption("description", "Who should the bot be?", true)),
				subcommand("delete", "Delete a custom persona", stringOption("name", "Persona name", true)),
				subcommand("current", "Show current persona"),
			},
		},
		{
			Name:        "digest",
			Description: "Daily news digest",
			Options: []*discordgo.ApplicationCommandOption{
				subcommand("add", "Add a news topic", stringOption("topic", "Topic", true)),
				subcommand("remove", "Remove a topic", stringOption("topic", "Topic", true)),
				subcommand("list", "List your topics"),
				subcommand("time", "Set delivery time", stringOption("value", "HH:MM, e.g. 09:00", true)),
				subcommand("timezone", "Set timezone", stringOption("value", "e.g. UTC, America/New_York", true)),
				subcommand("now", "Trigger digest now"),
			},
		},
		{
			Name:                     "digest_config",
			Description:              "Configure digests for this server",
			DefaultMemberPermissions: &adminPermission,
			Options: []*discordgo.ApplicationCommandOption{
				subcommand("channel", "Set the digest channel", &discordgo.ApplicationCommandOption{
					Type:         discordgo.ApplicationCommandOptionChannel,
					Name:         "channel",
					Description:  "Channel for digest threads",
					Required:     true,
					ChannelTypes: []discordgo.ChannelType{discordgo.ChannelTypeGuildText},
				}),
				subcommand("limit", "Set max topics per user", intOption("count", "Topics per user", true, 1, float64(domain.MaxTopicsLimit))),
			},
		},
		{
			Name:                     "memory",
			Description:              "Channel memory",
			DefaultMemberPermissions: &adminPermission,
			Options: []*discordgo.ApplicationCommandOption{
				subcommand("view", "View channel memory"),
				subcommand("clear", "Clear channel memory"),
			},
		},
		{
			Name:                     "logs",
			Description:              "Error logs",
			DefaultMemberPermissions: &adminPermission,
			Options: []*discordgo.ApplicationCommandOption{
				subcommand("view", "View recent errors", intOption("count", "How many", false, 1, admin.MaxErrorLimit)),
				subcommand("clear", "Clear error logs"),
				subcommand("details", "Show error details", intOption("id", "Error ID", true, 1, 1<<53)),
			},
		},
	}
}

// RegisterCommands публикует slash-команды глобально.
func (b *Bot) RegisterCommands() error {
	start := time.Now()
	_, err := b.api.ApplicationCommandBulkOverwrite(b.selfID, "", Commands())
	metrics.ObserveNetworkRequest("discord", "register_commands", "global", start, err)
	if err != nil {
		return fmt.Errorf("регистрация команд: %w", err)
	}
	return nil
}

// HandleInteraction обрабатывает slash-команды.
func (b *Bot) HandleInteraction(ctx context.Context, i *discordgo.Interaction) {
	if i == nil || i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	defer b.recoverPanic(ctx, "Discord on_app_command_error", i.ChannelID)

	data := i.ApplicationCommandData()
	call := &command{
		interaction: i,
		userID:      snowflake(interactionUser(i).ID),
		channelID:   snowflake(i.ChannelID),
		guildID:     guildOrChannel(i.GuildID, i.ChannelID),
		opts:        options(data.Options),
	}
	if len(data.Options) > 0 && data.Options[0].Type == discordgo.ApplicationCommandOptionSubCommand {
		call.sub = data.Options[0].Name
		call.opts = options(data.Options[0].Options)
	}
	r := &responder{api: b.api, i: i, bot: b}

	switch data.Name {
	case "chat":
		b.handleChat(ctx, r, call)
	case "persona":
		b.handlePersona(ctx, r, call)
	case "digest":
		b.handleDigest(ctx, r, call)
	case "digest_config":
		b.handleDigestConfig(ctx, r, call)
	case "memory":
		b.handleMemory(ctx, r, call)
	case "logs":
		b.handleLogs(ctx, r, call)
	}
}

type command struct {
	interaction *discordgo.Interaction
	sub         string
	opts        map[string]*discordgo.ApplicationCommandInteractionDataOption
	userID      int64
	channelID   int64
	guildID     int64
}

func (c *command) str(name string) string {
	if o, ok := c.opts[name]; ok {
		return strings.TrimSpace(o.StringValue())
	}
	return ""
}

func (c *command) integer(name string) (int64, bool) {
	if o, ok := c.opts[name]; ok {
		return o.IntValue(), true
	}
	return 0, false
}

func options(list []*discordgo.ApplicationCommandInteractionDataOption) map[string]*discordgo.ApplicationCommandInteractionDataOption {
	out := make(map[string]*discordgo.ApplicationCommandInteractionDataOption, len(list))
	for _, o := range list {
		out[o.Name] = o
	}
	return out
}

func interactionUser(i *discordgo.Interaction) *discordgo.User {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User
	}
	if i.User != nil {
		return i.User
	}
	return &discordgo.User{}
}

func (b *Bot) handleChat(ctx context.Context, r *responder, c *command) {
	prompt := c.str("prompt")
	r.deferReply(false)
	reply := b.svc.Chat.Respond(ctx, chat.Request{
		ChannelID: c.channelID,
		GuildID:   c.guildID,
		UserID:    c.userID,
		MessageID: snowflake(c.interaction.ID),
		Text:      prompt,
		Status:    func(_ context.Context, text string) { r.followup(text) },
		Ephemeral: true,
	})
	for _, part := range chunker.Split(reply, domain.PlatformDiscord.ChunkSize()) {
		r.send(part)
	}
}

func (b *Bot) handlePersona(ctx context.Context, r *responder, c *command) {
	switch c.sub {
	case "list":
		list, err := b.svc.Personas.List(ctx)
		if err != nil {
			b.fail(ctx, r, "persona list", err)
			return
		}
		r.ephemeral = true
		r.send(PersonaList(list))
	case "set":
		p, err := b.findPersona(ctx, c.str("name"), false)
		if err != nil {
			b.fail(ctx, r, "persona set", err)
			return
		}
		if p == nil {
			r.ephemeral = true
			r.send("❌ Persona not found.")
			return
		}
		if _, err := b.svc.Personas.Activate(ctx, c.guildID, p.ID); err != nil {
			b.fail(ctx, r, "persona set", err)
			return
		}
		r.send(fmt.Sprintf("✅ Switched persona to **%s**!", p.Name))
	case "create":
		r.deferReply(false)
		p, err := b.svc.Personas.Create(ctx, c.str("description"), c.userID, "")
		if err != nil {
			b.log.Error().Err(err).Int64("guild_id", c.guildID).Msg("discord: персона не создана")
			r.send("❌ " + persona.ErrCreationFailed.Error())
			return
		}
		r.send(fmt.Sprintf("✨ **Persona Created**\n\n**Name:** %s\n**Description:** %s\n**System Prompt:** %s", p.Name, p.Description, p.SystemPrompt))
	case "delete":
		p, err := b.findPersona(ctx, c.str("name"), true)
		if err != nil {
			b.fail(ctx, r, "persona delete", err)
			return
		}
		r.ephemeral = true
		if p == nil {
			r.send("❌ Persona not found.")
			return
		}
		name, err := b.svc.Personas.Delete(ctx, p.ID)
		switch {
		case errors.Is(err, persona.ErrStandardProtected):
			r.send("❌ The Standard persona cannot be deleted.")
		case err != nil:
			b.fail(ctx, r, "persona delete", err)
		default:
			r.send(fmt.Sprintf("🗑️ Deleted persona **%s**.", name))
		}
	case "current":
		p, err := b.svc.Personas.Current(ctx, c.guildID)
		if err != nil || p == nil || p.Name == domain.StandardPersonaName {
			r.send("🎭 Current Persona: **Standard** (Default)")
			return
		}
		r.send(fmt.Sprintf("🎭 Current Persona: **%s**\n*%s*", p.Name, p.Description))
	}
}

// findPersona ищет персону по имени без учёта регистра. nil — не найдена.
func (b *Bot) findPersona(ctx context.Context, name string, deletable bool) (*domain.Persona, error) {
	var (
		list []domain.Persona
		err  error
	)
	if deletable {
		list, err = b.svc.Personas.Deletable(ctx)
	} else {
		list, err = b.svc.Personas.List(ctx)
	}
	if err != nil {
		return nil, err
	}
	for i := range list {
		if strings.EqualFold(list[i].Name, name) {
			return &list[i], nil
		}
	}
	return nil, nil
}

// PersonaList форматирует список персон.
func PersonaList(list []domain.Persona) string {
	if len(list) == 0 {
		return "No personas found!"
	}
	var sb strings.Builder
	sb.WriteString("🎭 **Available Personas:**\n")
	for _, p := range list {
		desc := p.Description
		if r := []rune(desc); len(r) > 60 {
			desc = string(r[:60]) + "..."
		}
		fmt.Fprintf(&sb, "\n• **%s** - %s", p.Name, desc)
	}
	return sb.String()
}

func (b *Bot) handleDigest(ctx context.Context, r *responder, c *command) {
	r.ephemeral = true
	switch c.sub {
	case "add":
		b.replyOutcome(ctx, r, "digest add", func() (string, error) {
			return b.svc.Digest.AddTopic(ctx, c.userID, c.guildID, c.str("topic"))
		})
	case "remove":
		topic := c.str("topic")
		if err := b.svc.Digest.RemoveTopic(ctx, c.userID, c.guildID, topic); err != nil {
			b.fail(ctx, r, "digest remove", err)
			return
		}
		r.send(fmt.Sprintf("✅ Removed topic: **%s**", topic))
	case "list":
		topics, err := b.svc.Digest.Topics(ctx, c.userID, c.guildID)
		if err != nil {
			b.fail(ctx, r, "digest list", err)
			return
		}
		r.send(TopicList(topics))
	case "time":
		b.replyOutcome(ctx, r, "digest time", func() (string, error) {
			return b.svc.Digest.SetDailyTime(ctx, c.userID, c.guildID, c.str("value"))
		})
	case "timezone":
		b.replyOutcome(ctx, r, "digest timezone", func() (string, error) {
			return b.svc.Digest.SetTimezone(ctx, c.userID, c.guildID, c.str("value"))
		})
	case "now":
		r.deferReply(true)
		err := b.svc.Digest.Deliver(ctx, c.userID, c.guildID, domain.DigestCauseManual)
		switch {
		case err == nil:
			r.send(digestSentReply)
		case errors.Is(err, digest.ErrInProgress):
			r.send(inProgressReply)
		case errors.Is(err, digest.ErrNoChannel):
			r.send(noChannelReply)
		case errors.Is(err, digest.ErrNoTopics):
			r.send(digestFailedReply)
		default:
			b.log.Error().Err(err).Int64("user_id", c.userID).Msg("discord: дайджест не отправлен")
			b.logError(ctx, err, map[string]any{"context": "send_digest", "user_id": c.userID, "guild_id": c.guildID})
			r.send(digestFailedReply)
		}
	}
}

// TopicList форматирует темы пользователя.
func TopicList(topics []string) string {
	if len(topics) == 0 {
		return "You have no topics set. Use `/digest add` to get started."
	}
	lines := make([]string, len(topics))
	for i, t := range topics {
		lines[i] = "• " + t
	}
	return "**Your Digest Topics:**\n" + strings.Join(lines, "\n")
}

func (b *Bot) handleDigestConfig(ctx context.Context, r *responder, c *command) {
	r.ephemeral = true
	switch c.sub {
	case "channel":
		o, ok := c.opts["channel"]
		if !ok {
			return
		}
		ch := o.ChannelValue(nil)
		if err := b.svc.Digest.SetChannel(ctx, c.guildID, snowflake(ch.ID)); err != nil {
			b.fail(ctx, r, "digest_config channel", err)
			return
		}
		r.send(fmt.Sprintf("✅ Digests will be posted in <#%s>.", ch.ID))
	case "limit":
		n, _ := c.integer("count")
		b.replyOutcome(ctx, r, "digest_config limit", func() (string, error) {
			return b.svc.Digest.SetMaxTopics(ctx, c.guildID, int(n))
		})
	}
}

func (b *Bot) handleMemory(ctx context.Context, r *responder, c *command) {
	r.ephemeral = true
	switch c.sub {
	case "view":
		summary, err := b.svc.Admin.ChannelSummary(ctx, c.channelID)
		if err != nil {
			b.fail(ctx, r, "memory view", err)
			return
		}
		if summary == nil {
			r.send("🧠 No memory stored for this channel.")
			return
		}
		content := summary.Content
		if runes := []rune(content); len(runes) > memoryViewLimit {
			content = string(runes[:memoryViewLimit-3]) + "..."
		}
		r.send(fmt.Sprintf("🧠 **Memory for this channel:**\n\n%s\n\n*Last updated: %s*", content, summary.UpdatedAt.UTC().Format(time.DateTime)))
	case "clear":
		if err := b.svc.Admin.ClearChannelSummary(ctx, c.channelID); err != nil {
			b.fail(ctx, r, "memory clear", err)
			return
		}
		r.send("🧹 Memory cleared for this channel.")
	}
}

func (b *Bot) handleLogs(ctx context.Context, r *responder, c *command) {
	r.ephemeral = true
	switch c.sub {
	case "view":
		limit := admin.DefaultErrorLimit
		if n, ok := c.integer("count"); ok {
			limit = int(n)
		}
		rows, err := b.svc.Admin.RecentErrors(ctx, limit)
		if err != nil {
			b.fail(ctx, r, "logs view", err)
			return
		}
		if len(rows) == 0 {
			r.send("✅ No errors logged.")
			return
		}
		lines := make([]string, 0, len(rows)+1)
		lines = append(lines, fmt.Sprintf("📋 **Recent Error Logs (Last %d):**", len(rows)))
		for _, row := range rows {
			if msg := []rune(row.Message); len(msg) > 100 {
				row.Message = string(msg[:100])
			}
			lines = append(lines, admin.Line(row))
		}
		for _, part := range chunker.Split(strings.Join(lines, "\n"), domain.PlatformDiscord.ChunkSize()) {
			r.send(part)
		}
	case "clear":
		if err := b.svc.Admin.ClearErrors(ctx); err != nil {
			b.fail(ctx, r, "logs clear", err)
			return
		}
		r.send("🔥 All error logs have been cleared.")
	case "details":
		id, _ := c.integer("id")
		row, err := b.svc.Admin.ErrorDetails(ctx, id)
		if err != nil {
			b.fail(ctx, r, "logs details", err)
			return
		}
		if row == nil {
			r.send(fmt.Sprintf("❌ Error #%d not found.", id))
			return
		}
		report := admin.Report(*row)
		if runes := []rune(report); len(runes) > 1900 {
			report = string(runes[:1900])
		}
		r.send("```\n" + report + "\n```")
	}
}

func (b *Bot) replyOutcome(ctx context.Context, r *responder, op string, fn func() (string, error)) {
	text, err := fn()
	var rej *digest.Rejection
	switch {
	case err == nil:
		r.send("✅ " + text)
	case errors.As(err, &rej):
		r.send("❌ " + rej.Message)
	default:
		b.fail(ctx, r, op, err)
	}
}

func (b *Bot) fail(ctx context.Context, r *responder, op string, err error) {
	b.log.Error().Err(err).Str("command", op).Msg("discord: команда завершилась ошибкой")
	b.logError(ctx, err, map[string]any{"context": "Discord /" + op, "channel_id": r.i.ChannelID})
	r.ephemeral = true
	r.send(failedReply)
}

// responder отвечает на одно взаимодействие: первый ответ идёт в само
// взаимодействие, следующие — дополнительными сообщениями.
type responder struct {
	api       Session
	i         *discordgo.Interaction
	bot       *Bot
	ephemeral bool
	deferred  bool
	answered  bool
}

func (r *responder) flags() discordgo.MessageFlags {
	if r.ephemeral {
		return discordgo.MessageFlagsEphemeral
	}
	return 0
}

func (r *responder) deferReply(ephemeral bool) {
	r.ephemeral = ephemeral
	err := r.api.InteractionRespond(r.i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: r.flags()},
	})
	if err != nil {
		r.bot.log.Error().Err(err).Str("interaction_id", r.i.ID).Msg("discord: не удалось отложить ответ")
		return
	}
	r.deferred = true
}

func (r *responder) send(text string) {
	start := time.Now()
	var err error
	switch {
	case r.answered:
		_, err = r.api.FollowupMessageCreate(r.i, true, &discordgo.WebhookParams{Content: text, Flags: r.flags()})
	case r.deferred:
		_, err = r.api.InteractionResponseEdit(r.i, &discordgo.WebhookEdit{Content: &text})
	default:
		err = r.api.InteractionRespond(r.i, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{Content: text, Flags: r.flags()},
		})
	}
	metrics.ObserveNetworkRequest("discord", "interaction_reply", r.i.ChannelID, start, err)
	if err != nil {
		metrics.BotSendErrors.WithLabelValues(string(domain.PlatformDiscord)).Inc()
		r.bot.log.Error().Err(err).Str("interaction_id", r.i.ID).Msg("discord: ответ на команду не отправлен")
		return
	}
	r.answered = true
}

func (r *responder) followup(text string) {
	if !r.answered && !r.deferred {
		r.send(text)
		return
	}
	start := time.Now()
	_, err := r.api.FollowupMessageCreate(r.i, true, &discordgo.WebhookParams{Content: text, Flags: r.flags()})
	metrics.ObserveNetworkRequest("discord", "interaction_followup", r.i.ChannelID, start, err)
	if err != nil {
		r.bot.log.Error().Err(err).Str("interaction_id", r.i.ID).Msg("discord: статус не отправлен")
	}
}
