package digest

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"grok-bot/internal/domain"
)

// Dispatcher ставит в очередь дайджесты, которым пришло время, и доставляет их.
type Dispatcher struct {
	service *Service
	repo    domain.DigestRepo
	queue   domain.DigestQueue
	errs    domain.ErrorLogRepo
	log     zerolog.Logger
	now     func() time.Time
}

// NewDispatcher создаёт диспетчер. errs может быть nil.
func NewDispatcher(service *Service, repo domain.DigestRepo, queue domain.DigestQueue, errs domain.ErrorLogRepo, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{service: service, repo: repo, queue: queue, errs: errs, log: logger, now: time.Now}
}

// Poll проверяет подписчиков площадки и ставит задачи тем, у кого наступило время.
// Вызывается планировщиком раз в минуту.
func (d *Dispatcher) Poll(ctx context.Context) {
	subscribers, err := d.repo.ListDigestSubscribers(ctx, d.service.platform)
	if err != nil {
		d.log.Error().Err(err).Msg("digest: список подписчиков")
		return
	}
	now := d.now()
	for _, s := range subscribers {
		if !IsDue(s, now) {
			continue
		}
		job := domain.DigestJob{
			ID:          uuid.NewString(),
			UserID:      s.UserID,
			GuildID:     s.GuildID,
			Platform:    d.service.platform,
			RequestedAt: now.UTC(),
			Cause:       domain.DigestCauseScheduled,
		}
		if err := d.queue.Enqueue(ctx, job); err != nil {
			d.log.Error().Err(err).Int64("user_id", s.UserID).Msg("digest: не удалось поставить задачу")
		}
	}
}

// Run обрабатывает задачи из очереди до отмены ctx.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		job, ack, err := d.queue.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			d.log.Error().Err(err).Msg("digest: чтение очереди")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		done := d.Handle(ctx, job)
		if ack != nil {
			if err := ack(done); err != nil {
				d.log.Warn().Err(err).Str("job_id", job.ID).Msg("digest: подтверждение задачи")
			}
		}
	}
}

// Handle доставляет одну задачу и сообщает, можно ли убрать её из очереди.
// Задачи чужой площадки пропускаются. Плановую задачу перед доставкой проверяет
// повторно: пока она ждала в очереди, дайджест мог уже уйти. Задача, прерванная
// остановкой процесса, остаётся в очереди.
func (d *Dispatcher) Handle(ctx context.Context, job domain.DigestJob) bool {
	logger := d.log.With().Str("job_id", job.ID).Int64("user_id", job.UserID).Int64("guild_id", job.GuildID).Str("cause", string(job.Cause)).Logger()
	if job.Platform != d.service.platform {
		logger.Warn().Str("platform", string(job.Platform)).Msg("digest: задача другой площадки пропущена")
		return true
	}
	if job.Cause == domain.DigestCauseScheduled {
		settings, err := d.repo.GetDigestSettings(ctx, job.UserID, job.GuildID)
		if err != nil {
			if ctx.Err() != nil {
				return false
			}
			logger.Error().Err(err).Msg("digest: настройки пользователя")
			return true
		}
		if !IsDue(*settings, d.now()) {
			logger.Debug().Msg("digest: уже отправлен, задача пропущена")
			return true
		}
	}
	err := d.service.Deliver(ctx, job.UserID, job.GuildID, job.Cause)
	switch {
	case err == nil:
		logger.Info().Msg("digest: доставлен")
	case errors.Is(err, ErrInProgress), errors.Is(err, ErrNoTopics), errors.Is(err, ErrNoChannel):
		logger.Info().Err(err).Msg("digest: доставка пропущена")
	case ctx.Err() != nil:
		logger.Warn().Err(err).Msg("digest: доставка прервана, задача возвращается в очередь")
		return false
	default:
		logger.Error().Err(err).Msg("digest: доставка не удалась")
		if d.errs != nil {
			if lerr := d.errs.LogError(ctx, err, map[string]any{"context": "send_digest", "user_id": job.UserID, "guild_id": job.GuildID}); lerr != nil {
				logger.Warn().Err(lerr).Msg("digest: журнал ошибок недоступен")
			}
		}
	}
	return true
}
