package domain

import (
	"context"
	"time"
)

// GenerateRequest описывает обращение к модели.
type GenerateRequest struct {
	System  string
	Prompt  string
	Parts   []ContentPart
	History []Message
	// NoTools отключает function calling для этого вызова.
	NoTools bool
}

// ChatModel — клиент LLM. Никогда не возвращает ошибку: отказ выражен в Completion.
type ChatModel interface {
	Generate(ctx context.Context, req GenerateRequest) Completion
}

// Summarizer сворачивает новые сообщения в текущую сводку.
type Summarizer interface {
	Summarize(ctx context.Context, current string, lines []string) (string, error)
}

// Searcher выполняет веб-поиск и возвращает отформатированный текст.
type Searcher interface {
	Search(ctx context.Context, query string, count int) string
}

// ToolExecutor выполняет инструмент по имени.
type ToolExecutor interface {
	Definitions() []ToolDefinition
	Execute(ctx context.Context, name string, args map[string]any) (string, error)
}

// SummaryRepo хранит сводки каналов.
type SummaryRepo interface {
	GetChannelSummary(ctx context.Context, channelID int64) (*ChannelSummary, error)
	UpdateChannelSummary(ctx context.Context, channelID int64, content string, lastMsgID int64) error
	DeleteChannelSummary(ctx context.Context, channelID int64) error
}

// PersonaRepo управляет персонами и их привязкой к гильдиям.
type PersonaRepo interface {
	ListPersonas(ctx context.Context) ([]Persona, error)
	GetPersona(ctx context.Context, id int64) (*Persona, error)
	GetPersonaByName(ctx context.Context, name string) (*Persona, error)
	PersonaNameExists(ctx context.Context, name string) (bool, error)
	CreatePersona(ctx context.Context, p Persona) (Persona, error)
	DeletePersona(ctx context.Context, id int64) error
	SetGuildPersona(ctx context.Context, guildID, personaID int64) error
	GetGuildPersona(ctx context.Context, guildID int64) (*Persona, error)
}

// DigestRepo хранит темы, настройки и историю дайджестов.
type DigestRepo interface {
	EnsureDigestSettings(ctx context.Context, userID, guildID int64, platform Platform) error
	GetDigestSettings(ctx context.Context, userID, guildID int64) (*DigestSettings, error)
	ListDigestSubscribers(ctx context.Context, platform Platform) ([]DigestSettings, error)
	UpdateDailyTime(ctx context.Context, userID, guildID int64, value string) error
	UpdateTimezone(ctx context.Context, userID, guildID int64, tz string) error
	MarkDigestSent(ctx context.Context, userID, guildID int64, at time.Time) error

	GetDigestConfig(ctx context.Context, guildID int64) (*DigestConfig, error)
	SetMaxTopics(ctx context.Context, guildID int64, limit int) error
	SetDigestChannel(ctx context.Context, guildID, channelID int64) error

	CountTopics(ctx context.Context, userID, guildID int64) (int, error)
	TopicExists(ctx context.Context, userID, guildID int64, topic string) (bool, error)
	AddTopic(ctx context.Context, userID, guildID int64, topic string) error
	RemoveTopic(ctx context.Context, userID, guildID int64, topic string) error
	ListTopics(ctx context.Context, userID, guildID int64) ([]string, error)

	RecentHeadlines(ctx context.Context, userID, guildID int64, topic string, since time.Time, limit int) ([]string, error)
	SaveHeadline(ctx context.Context, userID, guildID int64, topic, headline string) error
}

// ErrorLogRepo хранит журнал ошибок.
type ErrorLogRepo interface {
	LogError(ctx context.Context, err error, details map[string]any) error
	RecentErrors(ctx context.Context, limit int) ([]ErrorLog, error)
	GetError(ctx context.Context, id int64) (*ErrorLog, error)
	ClearErrors(ctx context.Context) error
}

// EmojiRepo хранит описания эмодзи.
type EmojiRepo interface {
	KnownEmojiIDs(ctx context.Context, guildID int64) (map[int64]struct{}, error)
	SaveEmoji(ctx context.Context, e Emoji) error
	RandomEmojis(ctx context.Context, guildID int64, limit int) ([]Emoji, error)
}

// Locker выдаёт неблокирующую блокировку по ключу.
type Locker interface {
	// TryLock возвращает release и true, если блокировка получена.
	TryLock(ctx context.Context, key string) (func(), bool, error)
}

// Cache используется для простых TTL-хранилищ.
type Cache interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
}
