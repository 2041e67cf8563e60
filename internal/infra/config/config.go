package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"grok-bot/internal/domain"
)

// AppConfig описывает конфигурацию сервисов.
type AppConfig struct {
	AppEnv      string `envconfig:"APP_ENV" default:"dev"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`

	PGDSN     string `envconfig:"PG_DSN"`
	RedisAddr string `envconfig:"REDIS_ADDR"`

	Discord struct {
		Token string `envconfig:"DISCORD_TOKEN"`
	} `envconfig:""`

	Telegram struct {
		Token      string  `envconfig:"TELEGRAM_TOKEN"`
		WebhookURL string  `envconfig:"TELEGRAM_WEBHOOK_URL"`
		AdminIDs   []int64 `envconfig:"TELEGRAM_ADMIN_IDS"`
	} `envconfig:""`

	LLM struct {
		APIKey  string        `envconfig:"OPENROUTER_API_KEY"`
		Model   string        `envconfig:"OPENROUTER_MODEL" default:"google/gemini-2.0-flash-exp"`
		BaseURL string        `envconfig:"OPENROUTER_BASE_URL" default:"https://openrouter.ai/api/v1"`
		Timeout time.Duration `envconfig:"LLM_TIMEOUT" default:"60s"`
	} `envconfig:""`

	Search struct {
		BaseURL string        `envconfig:"SEARCH_BASE_URL" default:"https://html.duckduckgo.com/html/"`
		Timeout time.Duration `envconfig:"SEARCH_TIMEOUT" default:"15s"`
	} `envconfig:""`

	Retry struct {
		Attempts int           `envconfig:"RETRY_ATTEMPTS" default:"3"`
		Delay    time.Duration `envconfig:"RETRY_DELAY" default:"1s"`
		Backoff  float64       `envconfig:"RETRY_BACKOFF" default:"2.0"`
	} `envconfig:""`

	Chat struct {
		ContextResetThreshold time.Duration `envconfig:"CONTEXT_RESET_THRESHOLD" default:"24h"`
		MaxHistoryMessages    int           `envconfig:"MAX_HISTORY_MESSAGES" default:"300"`
	} `envconfig:""`

	Digest struct {
		Cron        string `envconfig:"DIGEST_CRON" default:"@every 1m"`
		QueueDriver string `envconfig:"DIGEST_QUEUE_DRIVER" default:"memory"`
		QueueKey    string `envconfig:"DIGEST_QUEUE_KEY" default:"digest_jobs"`
		AMQPURL     string `envconfig:"AMQP_URL"`
	} `envconfig:""`
}

// Load загружает конфиг из окружения, предварительно подхватив .env.
func Load() AppConfig {
	_ = godotenv.Load()
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}

// Validate проверяет обязательные параметры процесса площадки.
func (c AppConfig) Validate(platform domain.Platform) error {
	var missing []string
	switch platform {
	case domain.PlatformDiscord:
		if strings.TrimSpace(c.Discord.Token) == "" {
			missing = append(missing, "DISCORD_TOKEN")
		}
	case domain.PlatformTelegram:
		if strings.TrimSpace(c.Telegram.Token) == "" {
			missing = append(missing, "TELEGRAM_TOKEN")
		}
	}
	if strings.TrimSpace(c.LLM.APIKey) == "" {
		missing = append(missing, "OPENROUTER_API_KEY")
	}
	if strings.TrimSpace(c.PGDSN) == "" {
		missing = append(missing, "PG_DSN")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	switch c.Digest.QueueDriver {
	case "memory", "redis", "rabbitmq":
	default:
		return fmt.Errorf("unknown DIGEST_QUEUE_DRIVER %q", c.Digest.QueueDriver)
	}
	if c.Digest.QueueDriver == "redis" && c.RedisAddr == "" {
		return errors.New("DIGEST_QUEUE_DRIVER=redis requires REDIS_ADDR")
	}
	if c.Digest.QueueDriver == "rabbitmq" && c.Digest.AMQPURL == "" {
		return errors.New("DIGEST_QUEUE_DRIVER=rabbitmq requires AMQP_URL")
	}
	return nil
}
