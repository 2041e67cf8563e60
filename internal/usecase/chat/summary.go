package chat

import (
	"context"
	"fmt"
	"time"

	"grok-bot/internal/domain"
	"grok-bot/internal/infra/metrics"
)

// PendingMessages возвращает сообщения новее уже свёрнутых в сводку.
func PendingMessages(messages []domain.Message, lastMsgID int64) []domain.Message {
	out := make([]domain.Message, 0, len(messages))
	for _, m := range messages {
		if m.ID > lastMsgID {
			out = append(out, m)
		}
	}
	return out
}

// MaybeSummarize запускает фоновое обновление сводки, если накопилось достаточно
// новых сообщений. Ответ пользователю не ждёт результата.
func (s *Service) MaybeSummarize(ctx context.Context, channelID int64, current *domain.ChannelSummary, messages []domain.Message) bool {
	var summary string
	var lastID int64
	if current != nil {
		summary, lastID = current.Content, current.LastMsgID
	}
	pending := PendingMessages(messages, lastID)
	if len(pending) == 0 || len(pending) < s.threshold {
		return false
	}

	bg := context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.UpdateSummary(bg, channelID, summary, pending)
	}()
	return true
}

// UpdateSummary сворачивает сообщения в сводку канала. Ошибки только логируются.
func (s *Service) UpdateSummary(ctx context.Context, channelID int64, current string, messages []domain.Message) {
	if len(messages) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	lines := make([]string, 0, len(messages))
	for _, m := range messages {
		lines = append(lines, fmt.Sprintf("%s: %s", m.Role, m.Content))
	}
	lastID := messages[len(messages)-1].ID

	updated, err := s.summarizer.Summarize(ctx, current, lines)
	if err == nil {
		err = s.summaries.UpdateChannelSummary(ctx, channelID, updated, lastID)
	}
	metrics.ObserveSummary(err)
	if err != nil {
		s.log.Error().Err(err).Int64("channel_id", channelID).Msg("chat: не удалось обновить сводку")
		return
	}
	s.log.Info().Int64("channel_id", channelID).Int64("last_msg_id", lastID).Msg("chat: сводка обновлена")
}

// Wait дожидается фоновых задач суммаризации.
func (s *Service) Wait() { s.wg.Wait() }
