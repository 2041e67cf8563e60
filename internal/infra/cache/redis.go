package cache

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"grok-bot/internal/domain"
	"grok-bot/internal/infra/metrics"
)

// RedisCache реализует domain.Cache через Redis.
type RedisCache struct {
	client *redis.Client
	prefix string
}

var _ domain.Cache = (*RedisCache)(nil)

// NewRedis создаёт кэш.
func NewRedis(client *redis.Client, prefix string) *RedisCache {
	return &RedisCache{client: client, prefix: prefix}
}

// Set задаёт значение.
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	start := time.Now()
	err := c.client.Set(ctx, c.prefix+key, value, ttl).Err()
	metrics.ObserveNetworkRequest("redis", "set", c.prefix, start, err)
	return err
}

// Get возвращает значение и признак его наличия.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	start := time.Now()
	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		metrics.ObserveNetworkRequest("redis", "get", c.prefix, start, nil)
		return nil, false, nil
	}
	metrics.ObserveNetworkRequest("redis", "get", c.prefix, start, err)
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// releaseScript удаляет ключ, только если он принадлежит владельцу.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker — межпроцессная неблокирующая блокировка на SETNX.
type RedisLocker struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

var _ domain.Locker = (*RedisLocker)(nil)

// NewRedisLocker создаёт блокировку. ttl страхует от зависших владельцев.
func NewRedisLocker(client *redis.Client, prefix string, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &RedisLocker{client: client, prefix: prefix, ttl: ttl}
}

// TryLock захватывает ключ, если он свободен.
func (l *RedisLocker) TryLock(ctx context.Context, key string) (func(), bool, error) {
	token := uuid.NewString()
	full := l.prefix + key
	start := time.Now()
	ok, err := l.client.SetNX(ctx, full, token, l.ttl).Result()
	metrics.ObserveNetworkRequest("redis", "lock", l.prefix, start, err)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = releaseScript.Run(ctx, l.client, []string{full}, token).Err()
	}
	return release, true, nil
}
