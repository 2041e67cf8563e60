// Package scheduler запускает периодические задачи по cron-выражению.
package scheduler

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Scheduler оборачивает robfig/cron.
type Scheduler struct {
	cron *cron.Cron
	log  zerolog.Logger
}

type cronLogger struct{ log zerolog.Logger }

func (l cronLogger) Info(msg string, kv ...interface{}) {
	l.log.Debug().Fields(kv).Msg("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, kv ...interface{}) {
	l.log.Error().Err(err).Fields(kv).Msg("cron: " + msg)
}

// New создаёт планировщик. Пересекающиеся запуски одной задачи пропускаются.
func New(logger zerolog.Logger) *Scheduler {
	cl := cronLogger{log: logger}
	c := cron.New(
		cron.WithParser(cron.NewParser(cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow|cron.Descriptor)),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		cron.WithLogger(cl),
	)
	return &Scheduler{cron: c, log: logger}
}

// Add регистрирует задачу. fn получает ctx, который отменяется при остановке.
func (s *Scheduler) Add(ctx context.Context, spec, name string, fn func(ctx context.Context)) error {
	_, err := s.cron.AddFunc(spec, func() {
		if ctx.Err() != nil {
			return
		}
		fn(ctx)
	})
	if err != nil {
		return fmt.Errorf("cron %s %q: %w", name, spec, err)
	}
	s.log.Info().Str("job", name).Str("spec", spec).Msg("cron: задача зарегистрирована")
	return nil
}

// Run запускает планировщик и останавливает его при отмене ctx.
func (s *Scheduler) Run(ctx context.Context) {
	s.cron.Start()
	<-ctx.Done()
	stopped := s.cron.Stop()
	<-stopped.Done()
}
