// Package retry повторяет вызовы внешних API с экспоненциальной задержкой.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"grok-bot/internal/infra/metrics"
)

// Policy описывает политику повторов.
type Policy struct {
	// Retries — число повторов; всего попыток Retries+1.
	Retries int
	Delay   time.Duration
	Backoff float64
	// Retryable решает, стоит ли повторять ошибку. nil — повторять любую.
	Retryable func(error) bool
}

// Default — политика по умолчанию: 3 повтора, 1с, множитель 2.
func Default() Policy {
	return Policy{Retries: 3, Delay: time.Second, Backoff: 2}
}

// Permanent помечает ошибку как неповторяемую.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// IsPermanent сообщает, помечена ли ошибка как неповторяемая.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

var sleep = func(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Do выполняет fn, повторяя её при временных ошибках.
// После исчерпания попыток возвращается последняя ошибка.
func Do(ctx context.Context, logger zerolog.Logger, name string, p Policy, fn func(ctx context.Context) error) error {
	if p.Retries < 0 {
		p.Retries = 0
	}
	if p.Backoff <= 0 {
		p.Backoff = 1
	}
	delay := p.Delay
	var err error
	for attempt := 0; attempt <= p.Retries; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if IsPermanent(err) || (p.Retryable != nil && !p.Retryable(err)) {
			return err
		}
		if attempt == p.Retries {
			logger.Error().Err(err).Str("operation", name).Int("attempts", attempt+1).Msg("retry: попытки исчерпаны")
			return err
		}
		if ctx.Err() != nil {
			return err
		}
		logger.Warn().Err(err).Str("operation", name).Int("attempt", attempt+1).Dur("delay", delay).Msg("retry: повтор")
		metrics.RetryAttempts.WithLabelValues(name).Inc()
		if serr := sleep(ctx, delay); serr != nil {
			return err
		}
		delay = time.Duration(float64(delay) * p.Backoff)
	}
	return err
}
