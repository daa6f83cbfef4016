package resultlog

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/joseanu/mssql-converter/pkg/core/outcome"
)

// Config - параметры публикации итогов в Redis
type Config struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`

	// Prefix - префикс ключей и канала (по умолчанию "mssql-converter")
	Prefix string `yaml:"prefix"`

	// TTL - время жизни ключа состояния в секундах (по умолчанию 86400)
	TTL int `yaml:"ttl"`
}

// RedisPublisher публикует итог каждой конвертации в Redis.
//
// Redis-ключи:
//
//	SET  <prefix>:conversion:<db>:state  <JSON>  EX <ttl>  - последнее состояние для опроса
//	PUB  <prefix>:conversions                             - поток событий для подписчиков
type RedisPublisher struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisPublisher создает publisher с собственным клиентом
func NewRedisPublisher(cfg Config) *RedisPublisher {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewRedisPublisherWithClient(client, cfg)
}

// NewRedisPublisherWithClient использует готовый клиент (например, miniredis в dev режиме)
func NewRedisPublisherWithClient(client *redis.Client, cfg Config) *RedisPublisher {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "mssql-converter"
	}
	ttl := time.Duration(cfg.TTL) * time.Second
	if cfg.TTL <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisPublisher{client: client, prefix: prefix, ttl: ttl}
}

// StateKey - ключ состояния для БД
func (p *RedisPublisher) StateKey(database string) string {
	return fmt.Sprintf("%s:conversion:%s:state", p.prefix, database)
}

// Channel - канал событий
func (p *RedisPublisher) Channel() string {
	return p.prefix + ":conversions"
}

// Publish - SET состояния с TTL, затем PUBLISH события.
// Вызывается независимо от результата конвертации.
func (p *RedisPublisher) Publish(ctx context.Context, r outcome.Record) error {
	payload, err := r.Marshal()
	if err != nil {
		return err
	}

	if err := p.client.Set(ctx, p.StateKey(r.Database), payload, p.ttl).Err(); err != nil {
		return fmt.Errorf("redis SET failed: %w", err)
	}

	if err := p.client.Publish(ctx, p.Channel(), payload).Err(); err != nil {
		return fmt.Errorf("redis PUBLISH failed: %w", err)
	}

	return nil
}

// Ping проверяет доступность Redis
func (p *RedisPublisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// Close закрывает соединение с Redis
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
