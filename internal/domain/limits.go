package domain

import "time"

// Лимиты площадок.
const (
	DiscordMessageLimit  = 2000
	DiscordResponseLimit = 1900
	DiscordChunkSize     = 1900

	TelegramMessageLimit  = 4096
	TelegramResponseLimit = 3900
	TelegramChunkSize     = 3900
)

// ContextResetThreshold — простой канала, после которого контекст считается устаревшим.
const ContextResetThreshold = 24 * time.Hour

// MaxHistoryMessages ограничивает историю, передаваемую модели.
const MaxHistoryMessages = 300

// Ограничения тем дайджеста.
const (
	DefaultMaxTopics = 10
	MaxTopicsLimit   = 50
	MaxTopicLength   = 100
)

// Окно истории заголовков для дедупликации.
const (
	HeadlineWindow   = 7 * 24 * time.Hour
	HeadlineMaxItems = 50
)

// ResponseLimit возвращает бюджет символов ответа для площадки.
func (p Platform) ResponseLimit() int {
	if p == PlatformDiscord {
		return DiscordResponseLimit
	}
	return TelegramResponseLimit
}

// ChunkSize возвращает размер куска при нарезке ответа.
func (p Platform) ChunkSize() int {
	if p == PlatformDiscord {
		return DiscordChunkSize
	}
	return TelegramChunkSize
}

// SummarizationThreshold — сколько несвёрнутых сообщений запускает суммаризацию.
func (p Platform) SummarizationThreshold() int {
	if p == PlatformDiscord {
		return 10
	}
	return 2
}

// Label возвращает человекочитаемое имя площадки.
func (p Platform) Label() string {
	if p == PlatformDiscord {
		return "Discord"
	}
	return "Telegram"
}
