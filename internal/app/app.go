// Package app собирает общее ядро процессов Discord и Telegram.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"grok-bot/internal/adapters/llm"
	"grok-bot/internal/adapters/repo"
	"grok-bot/internal/adapters/search"
	"grok-bot/internal/adapters/summarizer"
	"grok-bot/internal/domain"
	"grok-bot/internal/infra/cache"
	"grok-bot/internal/infra/config"
	"grok-bot/internal/infra/db"
	"grok-bot/internal/infra/log"
	"grok-bot/internal/infra/openai"
	"grok-bot/internal/infra/queue"
	"grok-bot/internal/infra/retry"
	"grok-bot/internal/infra/scheduler"
	"grok-bot/internal/usecase/admin"
	"grok-bot/internal/usecase/chat"
	"grok-bot/internal/usecase/digest"
	"grok-bot/internal/usecase/persona"
	"grok-bot/internal/usecase/tools"
)

const (
	digestLockTTL   = 15 * time.Minute
	memoryQueueSize = 256
)

// Core держит сервисы, общие для обеих площадок.
type Core struct {
	Repo       *repo.Postgres
	Model      *llm.Model
	Chat       *chat.Service
	Personas   *persona.Service
	Digest     *digest.Service
	Dispatcher *digest.Dispatcher
	Admin      *admin.Service
	// Cache равен nil, если Redis не настроен.
	Cache domain.Cache

	cfg      config.AppConfig
	platform domain.Platform
	log      zerolog.Logger
	closers  []func()
}

// Build подключает хранилища и собирает сервисы площадки.
// Publisher дайджеста подключается адаптером через Digest.SetPublisher.
func Build(ctx context.Context, cfg config.AppConfig, platform domain.Platform, logger zerolog.Logger) (*Core, error) {
	c := &Core{cfg: cfg, platform: platform, log: logger}

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		return nil, fmt.Errorf("подключение к БД: %w", err)
	}
	c.closers = append(c.closers, pool.Close)
	if err := db.Migrate(ctx, pool); err != nil {
		c.Close()
		return nil, fmt.Errorf("миграция: %w", err)
	}
	c.Repo = repo.NewPostgres(pool)

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			c.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		c.closers = append(c.closers, func() { _ = rdb.Close() })
		c.Cache = cache.NewRedis(rdb, "grok:")
	}

	var locker domain.Locker = cache.NewKeyedMutex()
	if rdb != nil {
		locker = cache.NewRedisLocker(rdb, "grok:lock:", digestLockTTL)
	}

	jobs, err := c.digestQueue(rdb)
	if err != nil {
		c.Close()
		return nil, err
	}

	policy := retry.Policy{Retries: cfg.Retry.Attempts, Delay: cfg.Retry.Delay, Backoff: cfg.Retry.Backoff}
	client := openai.NewClient(cfg.LLM.APIKey, cfg.LLM.BaseURL, cfg.LLM.Model, cfg.LLM.Timeout)
	searcher := search.NewDuckDuckGo(cfg.Search.BaseURL, cfg.Search.Timeout, policy, log.Component(logger, "search"))

	registry := tools.NewRegistry(log.Component(logger, "tools"))
	tools.RegisterBuiltins(registry, searcher)
	c.Model = llm.NewModel(client, cfg.LLM.Model, registry, policy, log.Component(logger, "llm"))
	summaries := summarizer.NewOpenAI(client, cfg.LLM.Model, 2*time.Minute, policy, log.Component(logger, "summarizer"))

	c.Personas = persona.NewService(c.Repo, c.Model, c.Repo, platform, log.Component(logger, "persona"))
	if err := c.Personas.Seed(ctx); err != nil {
		c.Close()
		return nil, fmt.Errorf("персоны по умолчанию: %w", err)
	}

	c.Chat = chat.NewService(c.Model, registry, c.Repo, summaries, c.Personas, c.Repo, chat.Config{
		Platform:   platform,
		MaxHistory: cfg.Chat.MaxHistoryMessages,
		Gap:        cfg.Chat.ContextResetThreshold,
	}, log.Component(logger, "chat"))
	c.Digest = digest.NewService(c.Repo, c.Model, searcher, c.Repo, locker, nil, platform, log.Component(logger, "digest"))
	c.Dispatcher = digest.NewDispatcher(c.Digest, c.Repo, jobs, c.Repo, log.Component(logger, "digest"))
	c.Admin = admin.NewService(c.Repo, c.Repo, log.Component(logger, "admin"))
	return c, nil
}

// DigestQueueKey возвращает имя очереди дайджестов площадки. У процессов Discord и Telegram
// очереди разные, даже если DIGEST_QUEUE_KEY общий.
func DigestQueueKey(base string, platform domain.Platform) string {
	return base + ":" + string(platform)
}

func (c *Core) digestQueue(rdb *redis.Client) (domain.DigestQueue, error) {
	key := DigestQueueKey(c.cfg.Digest.QueueKey, c.platform)
	switch c.cfg.Digest.QueueDriver {
	case "redis":
		if rdb == nil {
			return nil, fmt.Errorf("missing required configuration: REDIS_ADDR")
		}
		return queue.NewRedisDigestQueue(rdb, key), nil
	case "rabbitmq":
		q, err := queue.NewRabbitDigestQueue(c.cfg.Digest.AMQPURL, key)
		if err != nil {
			return nil, fmt.Errorf("rabbitmq: %w", err)
		}
		c.closers = append(c.closers, func() { _ = q.Close() })
		return q, nil
	default:
		return queue.NewMemoryDigestQueue(memoryQueueSize), nil
	}
}

// RunDigest запускает опрос расписания и обработчик очереди до отмены ctx.
func (c *Core) RunDigest(ctx context.Context) error {
	sched := scheduler.New(log.Component(c.log, "cron"))
	if err := sched.Add(ctx, c.cfg.Digest.Cron, "digest_poll", c.Dispatcher.Poll); err != nil {
		return err
	}
	go sched.Run(ctx)
	go func() {
		if err := c.Dispatcher.Run(ctx); err != nil {
			c.log.Error().Err(err).Msg("digest: обработчик очереди остановлен")
		}
	}()
	return nil
}

// Close дожидается фоновых сводок и освобождает подключения.
func (c *Core) Close() {
	if c.Chat != nil {
		c.Chat.Wait()
	}
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
}

// Pool открывает подключение к БД для операторских команд.
func Pool(cfg config.AppConfig) (*pgxpool.Pool, error) {
	if cfg.PGDSN == "" {
		return nil, fmt.Errorf("missing required configuration: PG_DSN")
	}
	return db.Connect(cfg.PGDSN)
}
