// Package file — хранилище в JSON-файле на диске (аналог localStorage):
// переживает перезапуск процесса и видно всем экземплярам, читающим тот же файл.
//
// Каждое чтение перечитывает файл, поэтому изменения, внесённые другим
// процессом, видны сразу. Запись атомарна: временный файл + rename.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/pribylovaa/go-classbook/internal/storage"
)

type Storage struct {
	path   string
	mu     sync.Mutex
	closed bool
}

// New готовит каталог под файл. Сам файл создаётся при первой записи.
func New(path string) (*Storage, error) {
	const op = "storage.file.New"

	if path == "" {
		return nil, fmt.Errorf("%s: empty path", op)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Storage{path: path}, nil
}

func (s *Storage) Get(ctx context.Context, key string) (string, error) {
	const op = "storage.file.Get"

	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", storage.ErrClosed
	}

	data, err := s.read()
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	v, ok := data[key]
	if !ok {
		return "", storage.ErrNotFound
	}

	return v, nil
}

func (s *Storage) Set(ctx context.Context, key, value string) error {
	const op = "storage.file.Set"

	return s.update(ctx, op, func(m map[string]string) { m[key] = value })
}

func (s *Storage) Delete(ctx context.Context, keys ...string) error {
	const op = "storage.file.Delete"

	return s.update(ctx, op, func(m map[string]string) {
		for _, k := range keys {
			delete(m, k)
		}
	})
}

func (s *Storage) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *Storage) update(ctx context.Context, op string, fn func(map[string]string)) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return storage.ErrClosed
	}

	data, err := s.read()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	fn(data)

	if err := s.write(data); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// read возвращает пустую карту, если файла ещё нет.
func (s *Storage) read() (map[string]string, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, err
	}

	data := map[string]string{}
	if len(b) == 0 {
		return data, nil
	}

	if err := json.Unmarshal(b, &data); err != nil {
		return nil, fmt.Errorf("corrupted storage file %q: %w", s.path, err)
	}

	return data, nil
}

func (s *Storage) write(data map[string]string) error {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".storage-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		_ = os.Remove(tmpName)
		return err
	}

	return os.Rename(tmpName, s.path)
}
