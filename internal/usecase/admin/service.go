// Package admin — операторские операции: память каналов и журнал ошибок.
package admin

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"grok-bot/internal/domain"
)

// DefaultErrorLimit — сколько ошибок показывать по умолчанию.
const DefaultErrorLimit = 5

// MaxErrorLimit ограничивает размер выдачи журнала.
const MaxErrorLimit = 20

// Service даёт доступ к сводкам каналов и журналу ошибок.
type Service struct {
	summaries domain.SummaryRepo
	errs      domain.ErrorLogRepo
	log       zerolog.Logger
}

// NewService создаёт сервис.
func NewService(summaries domain.SummaryRepo, errs domain.ErrorLogRepo, logger zerolog.Logger) *Service {
	return &Service{summaries: summaries, errs: errs, log: logger}
}

// ChannelSummary возвращает сводку канала или nil, если памяти нет.
func (s *Service) ChannelSummary(ctx context.Context, channelID int64) (*domain.ChannelSummary, error) {
	summary, err := s.summaries.GetChannelSummary(ctx, channelID)
	if err != nil {
		return nil, fmt.Errorf("сводка канала %d: %w", channelID, err)
	}
	return summary, nil
}

// ClearChannelSummary стирает память канала.
func (s *Service) ClearChannelSummary(ctx context.Context, channelID int64) error {
	if err := s.summaries.DeleteChannelSummary(ctx, channelID); err != nil {
		return fmt.Errorf("очистка сводки %d: %w", channelID, err)
	}
	s.log.Info().Int64("channel_id", channelID).Msg("admin: память канала очищена")
	return nil
}

// RecentErrors возвращает последние ошибки, новые первыми.
// Лимит вне 1..MaxErrorLimit заменяется на DefaultErrorLimit.
func (s *Service) RecentErrors(ctx context.Context, limit int) ([]domain.ErrorLog, error) {
	if limit < 1 || limit > MaxErrorLimit {
		limit = DefaultErrorLimit
	}
	rows, err := s.errs.RecentErrors(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("журнал ошибок: %w", err)
	}
	return rows, nil
}

// ErrorDetails возвращает запись журнала или nil, если её нет.
func (s *Service) ErrorDetails(ctx context.Context, id int64) (*domain.ErrorLog, error) {
	row, err := s.errs.GetError(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка #%d: %w", id, err)
	}
	return row, nil
}

// ClearErrors очищает журнал.
func (s *Service) ClearErrors(ctx context.Context) error {
	if err := s.errs.ClearErrors(ctx); err != nil {
		return fmt.Errorf("очистка журнала: %w", err)
	}
	s.log.Info().Msg("admin: журнал ошибок очищен")
	return nil
}

// Report форматирует запись журнала для вывода оператору.
func Report(e domain.ErrorLog) string {
	sep := strings.Repeat("-", 40)
	var b strings.Builder
	fmt.Fprintf(&b, "Error ID: %d\n", e.ID)
	fmt.Fprintf(&b, "Type: %s\n", e.ErrorType)
	fmt.Fprintf(&b, "Message: %s\n", e.Message)
	fmt.Fprintf(&b, "Time: %s\n", e.CreatedAt.UTC().Format(time.DateTime))
	b.WriteString(sep + "\n")
	b.WriteString("CONTEXT:\n" + e.Context + "\n")
	b.WriteString(sep + "\n")
	b.WriteString("TRACEBACK:\n" + e.Traceback + "\n")
	return b.String()
}

// Line возвращает короткую строку ошибки для списка.
func Line(e domain.ErrorLog) string {
	return fmt.Sprintf("Error #%d · `%s` · %s · %s", e.ID, e.ErrorType, e.Message, e.CreatedAt.UTC().Format(time.DateTime))
}
