// Package memory — хранилище в памяти процесса (тесты, storage.driver=memory).
package memory

import (
	"context"
	"sync"

	"github.com/pribylovaa/go-classbook/internal/storage"
)

type Storage struct {
	mu     sync.RWMutex
	data   map[string]string
	closed bool
}

func New() *Storage {
	return &Storage{data: make(map[string]string)}
}

func (s *Storage) Get(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return "", storage.ErrClosed
	}

	v, ok := s.data[key]
	if !ok {
		return "", storage.ErrNotFound
	}

	return v, nil
}

func (s *Storage) Set(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return storage.ErrClosed
	}

	s.data[key] = value
	return nil
}

func (s *Storage) Delete(ctx context.Context, keys ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return storage.ErrClosed
	}

	for _, k := range keys {
		delete(s.data, k)
	}

	return nil
}

func (s *Storage) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
