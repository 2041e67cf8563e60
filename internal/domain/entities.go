package domain

import (
	"strconv"
	"time"
)

// Platform обозначает площадку, на которой работает бот.
type Platform string

const (
	// PlatformDiscord обозначает Discord.
	PlatformDiscord Platform = "discord"
	// PlatformTelegram обозначает Telegram.
	PlatformTelegram Platform = "telegram"
)

// Роли сообщений в истории диалога.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage описывает сообщение площадки, приведённое к общему виду.
type ChatMessage struct {
	ID        int64
	Role      string
	Content   string
	AuthorID  int64
	Timestamp time.Time
}

// HasAuthor сообщает, известен ли автор сообщения.
func (m ChatMessage) HasAuthor() bool { return m.AuthorID != 0 }

// Message представляет элемент истории, который уходит в LLM.
type Message struct {
	Role    string
	Content string
	ID      int64
}

// ContentPart хранит часть мультимодального сообщения пользователя.
type ContentPart struct {
	Type     string
	Text     string
	ImageURL string
}

// Типы частей мультимодального контента.
const (
	PartText  = "text"
	PartImage = "image_url"
)

// TextPart создаёт текстовую часть.
func TextPart(text string) ContentPart { return ContentPart{Type: PartText, Text: text} }

// ImagePart создаёт часть с картинкой.
func ImagePart(url string) ContentPart { return ContentPart{Type: PartImage, ImageURL: url} }

// Image описывает вложение пользователя.
type Image struct {
	Data        []byte
	ContentType string
}

// UserPrefix возвращает префикс «[id]: », которым помечаются реплики пользователей.
func UserPrefix(userID int64) string {
	return "[" + strconv.FormatInt(userID, 10) + "]: "
}

// ToolCall описывает запрос модели на вызов инструмента.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// ToolDefinition описывает инструмент для function calling.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Completion содержит результат обращения к модели: либо ответ, либо отказ.
type Completion struct {
	Content   string
	ToolCalls []ToolCall
	Failure   string
}

// FallbackReply отдаётся пользователю, когда модель недоступна.
const FallbackReply = "I'm having trouble thinking right now. Please try again later."

// Failed сообщает, что модель не ответила.
func (c Completion) Failed() bool { return c.Failure != "" }

// HasToolCalls сообщает, что модель запросила инструмент.
func (c Completion) HasToolCalls() bool { return !c.Failed() && len(c.ToolCalls) > 0 }

// Text возвращает текст ответа или безопасную заглушку.
func (c Completion) Text() string {
	if c.Failed() {
		return FallbackReply
	}
	return c.Content
}

// ChannelSummary хранит свёрнутую память канала.
type ChannelSummary struct {
	ChannelID int64
	Content   string
	LastMsgID int64
	UpdatedAt time.Time
}

// Persona описывает именованный системный промпт.
type Persona struct {
	ID           int64
	Name         string
	Description  string
	SystemPrompt string
	IsGlobal     bool
	CreatedBy    int64
	CreatedAt    time.Time
}

// StandardPersonaName — персона по умолчанию, которую нельзя удалить.
const StandardPersonaName = "Standard"

// DefaultSystemPrompt используется, если нет даже Standard.
const DefaultSystemPrompt = "You are a helpful assistant."

// DigestSettings хранит настройки дайджеста пользователя в гильдии или чате.
type DigestSettings struct {
	UserID     int64
	GuildID    int64
	Platform   Platform
	Timezone   string
	DailyTime  string
	LastSentAt *time.Time
}

// Значения по умолчанию для настроек дайджеста.
const (
	DefaultDigestTimezone = "UTC"
	DefaultDigestTime     = "09:00"
)

// DigestConfig хранит настройки дайджеста на уровне гильдии.
type DigestConfig struct {
	GuildID   int64
	MaxTopics int
	ChannelID int64
}

// DigestSection представляет готовый блок дайджеста по одной теме.
type DigestSection struct {
	Topic   string
	Title   string
	Content string
}

// Digest представляет собой собранный дайджест, готовый к отправке.
type Digest struct {
	UserID   int64
	GuildID  int64
	Greeting string
	Date     string
	Sections []DigestSection
}

// ErrorLog описывает запись журнала ошибок.
type ErrorLog struct {
	ID        int64
	ErrorType string
	Message   string
	Traceback string
	Context   string
	CreatedAt time.Time
}

// Emoji хранит описание пользовательского эмодзи сервера.
type Emoji struct {
	EmojiID     int64
	GuildID     int64
	Name        string
	Description string
	Animated    bool
}
