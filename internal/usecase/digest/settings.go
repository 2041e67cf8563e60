package digest

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"grok-bot/internal/domain"
)

// Причины отказа, которые показываются пользователю.
var (
	ErrEmptyTopic      = errors.New("empty topic")
	ErrTooManyTopics   = errors.New("too many topics")
	ErrDuplicateTopic  = errors.New("duplicate topic")
	ErrInvalidTime     = errors.New("invalid time")
	ErrInvalidTimezone = errors.New("invalid timezone")
	ErrInvalidLimit    = errors.New("invalid topic limit")
)

// Rejection — отказ с готовым текстом для пользователя.
type Rejection struct {
	Kind    error
	Message string
}

func (r *Rejection) Error() string { return r.Message }
func (r *Rejection) Unwrap() error { return r.Kind }

func reject(kind error, format string, args ...any) error {
	return &Rejection{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// ParseDailyTime проверяет формат HH:MM и приводит его к двум цифрам.
func ParseDailyTime(raw string) (string, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(raw))
	if err != nil {
		return "", reject(ErrInvalidTime, "Invalid format. Please use HH:MM (e.g., 09:00 or 14:30).")
	}
	return t.Format("15:04"), nil
}

// NormalizeTimezone проверяет IANA-имя и исправляет регистр и пробелы: "europe/london" -> "Europe/London".
func NormalizeTimezone(raw string) (string, error) {
	invalid := reject(ErrInvalidTimezone, "Invalid timezone. Try 'UTC', 'America/New_York', 'Europe/London', etc.")
	candidate := strings.TrimSpace(raw)
	if candidate == "" || strings.EqualFold(candidate, "local") {
		return "", invalid
	}
	candidate = strings.ReplaceAll(candidate, " ", "_")
	if _, err := time.LoadLocation(candidate); err == nil {
		return candidate, nil
	}
	if strings.EqualFold(candidate, "utc") {
		return "UTC", nil
	}

	lower := strings.ToLower(candidate)
	parts := strings.Split(lower, "/")
	for i, part := range parts {
		segments := strings.Split(part, "_")
		for j, segment := range segments {
			pieces := strings.Split(segment, "-")
			for k, piece := range pieces {
				if piece == "" {
					continue
				}
				pieces[k] = strings.ToUpper(piece[:1]) + piece[1:]
			}
			segments[j] = strings.Join(pieces, "-")
		}
		parts[i] = strings.Join(segments, "_")
	}
	normalized := strings.Join(parts, "/")
	if _, err := time.LoadLocation(normalized); err == nil {
		return normalized, nil
	}
	return "", invalid
}

// Location возвращает часовой пояс пользователя; при ошибке UTC.
func Location(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

// IsDue сообщает, пора ли отправить дайджест. Функция чистая:
// сравнивает now в поясе пользователя с daily_time и датой последней отправки.
func IsDue(s domain.DigestSettings, now time.Time) bool {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil || s.Timezone == "" {
		return false
	}
	daily := s.DailyTime
	if daily == "" {
		daily = domain.DefaultDigestTime
	}
	target, err := time.Parse("15:04", daily)
	if err != nil {
		return false
	}

	local := now.In(loc)
	due := time.Date(local.Year(), local.Month(), local.Day(), target.Hour(), target.Minute(), 0, 0, loc)
	if local.Before(due) {
		return false
	}
	if s.LastSentAt != nil {
		sent := s.LastSentAt.In(loc)
		if sameDay(sent, local) {
			return false
		}
	}
	return true
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// Greeting подбирает приветствие по часу в поясе пользователя.
func Greeting(hour int) string {
	switch {
	case hour >= 5 && hour < 12:
		return "Good morning"
	case hour >= 12 && hour < 18:
		return "Good afternoon"
	default:
		return "Good evening"
	}
}
