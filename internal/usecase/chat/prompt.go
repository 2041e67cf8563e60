package chat

import (
	"fmt"
	"strings"
	"time"

	"grok-bot/internal/domain"
)

const (
	emojiInstruction = "Use emojis naturally (about once every 2-3 sentences). " +
		"Use a mix of standard Unicode emojis and the provided Custom Server Emojis. " +
		"Prefer the Custom Emojis when they fit the specific context or emotion perfectly."

	discordMentionRules = " To address a user, use the format <@User ID>. Do NOT use their display name in brackets. " +
		"Example: If you see '[12345]: Hello', reply with 'Hi <@12345>!'. "
)

// BuildSystemPrompt собирает системный промпт: дата, персона, эмодзи, сводка и инструкции.
// Блок эмодзи и правила упоминаний есть только в Discord: Telegram не рендерит серверные эмодзи.
func BuildSystemPrompt(persona string, platform domain.Platform, summary, emojiContext string, now time.Time) string {
	if platform != domain.PlatformDiscord {
		emojiContext = ""
	}

	var b strings.Builder
	b.WriteString("Current Date: ")
	b.WriteString(now.Format("2006-01-02"))
	b.WriteString("\n")
	b.WriteString(persona)
	if emojiContext != "" {
		b.WriteString("\n")
		b.WriteString(emojiContext)
	}
	b.WriteString("\n")
	if summary != "" {
		b.WriteString("\n[PREVIOUS CONVERSATION SUMMARY]:\n")
		b.WriteString(summary)
		b.WriteString("\n")
	}
	b.WriteString("\nINSTRUCTION: Focus primarily on the user's latest message. ")
	b.WriteString("Use the chat history ONLY for context if relevant. ")
	b.WriteString("If the latest request is unrelated to previous messages, treat it as a new topic. ")
	b.WriteString("Users are identified by [User ID] at the start of their messages. ")
	fmt.Fprintf(&b, "IMPORTANT: Keep your response concise and under %d characters to fit in a %s message.",
		platform.ResponseLimit(), platform.Label())

	if platform == domain.PlatformDiscord {
		b.WriteString(discordMentionRules)
		if emojiContext != "" {
			b.WriteString(emojiInstruction)
		}
	}
	return b.String()
}
