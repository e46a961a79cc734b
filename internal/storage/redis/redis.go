// Package redis — хранилище на Redis: токен общий для нескольких
// экземпляров портала (разные хосты/процессы видят одну сессию).
package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/pribylovaa/go-classbook/internal/storage"
)

const defaultPrefix = "classbook:"

type Storage struct {
	rdb    *redis.Client
	prefix string
}

// New создаёт клиент Redis из URL (например, redis://:pass@host:6379/0).
// Если prefix пустой — используется "classbook:".
func New(ctx context.Context, redisURL, prefix string) (*Storage, error) {
	const op = "storage.redis.New"

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	rdb := redis.NewClient(opt)

	// Fail-fast на старте.
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("%s: ping: %w", op, err)
	}

	return NewWithClient(rdb, prefix), nil
}

// NewWithClient оборачивает готовый клиент.
func NewWithClient(rdb *redis.Client, prefix string) *Storage {
	if prefix == "" {
		prefix = defaultPrefix
	}

	return &Storage{rdb: rdb, prefix: prefix}
}

func (s *Storage) key(k string) string { return s.prefix + k }

func (s *Storage) Get(ctx context.Context, key string) (string, error) {
	const op = "storage.redis.Get"

	v, err := s.rdb.Get(ctx, s.key(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", storage.ErrNotFound
		}
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return v, nil
}

func (s *Storage) Set(ctx context.Context, key, value string) error {
	const op = "storage.redis.Set"

	if err := s.rdb.Set(ctx, s.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// Delete удаляет ключи одной транзакцией.
func (s *Storage) Delete(ctx context.Context, keys ...string) error {
	const op = "storage.redis.Delete"

	if len(keys) == 0 {
		return nil
	}

	pipe := s.rdb.TxPipeline()
	for _, k := range keys {
		pipe.Del(ctx, s.key(k))
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (s *Storage) Close() error {
	return s.rdb.Close()
}
