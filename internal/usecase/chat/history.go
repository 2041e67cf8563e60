package chat

import (
	"strings"
	"time"

	"grok-bot/internal/domain"
)

// BuildMessageHistory превращает сообщения площадки в историю для модели.
//
// messages должны идти в хронологическом порядке, от старых к новым; адаптер
// отвечает за этот порядок. Обход идёт от новых к старым: при разрыве больше
// gap всё, что старше, отбрасывается. Сообщения бота получают роль assistant,
// остальные роль user и префикс "[id]: ". Пустые сообщения в историю не попадают,
// но их время учитывается при поиске разрыва. Возвращается не больше maxMessages
// самых свежих сообщений в хронологическом порядке.
func BuildMessageHistory(messages []domain.ChatMessage, botID int64, maxMessages int, gap time.Duration) []domain.Message {
	if maxMessages <= 0 {
		maxMessages = domain.MaxHistoryMessages
	}
	reversed := make([]domain.Message, 0, min(len(messages), maxMessages))
	var lastSeen time.Time
	for i := len(messages) - 1; i >= 0 && len(reversed) < maxMessages; i-- {
		msg := messages[i]
		if !lastSeen.IsZero() && !msg.Timestamp.IsZero() && lastSeen.Sub(msg.Timestamp) > gap {
			break
		}
		if !msg.Timestamp.IsZero() {
			lastSeen = msg.Timestamp
		}

		text := strings.TrimSpace(msg.Content)
		if text == "" {
			continue
		}
		role := domain.RoleUser
		if msg.Role == domain.RoleAssistant || (botID != 0 && msg.AuthorID == botID) {
			role = domain.RoleAssistant
		} else if msg.HasAuthor() {
			text = domain.UserPrefix(msg.AuthorID) + text
		}
		reversed = append(reversed, domain.Message{Role: role, Content: text, ID: msg.ID})
	}

	out := make([]domain.Message, len(reversed))
	for i, m := range reversed {
		out[len(reversed)-1-i] = m
	}
	return out
}

// GapExceeded сообщает, что между сообщениями прошло больше threshold.
// Нулевое время предыдущего сообщения означает, что канал новый.
func GapExceeded(last, current time.Time, threshold time.Duration) bool {
	if last.IsZero() {
		return false
	}
	return current.Sub(last) > threshold
}
