// Package storage описывает клиентское персистентное key/value хранилище,
// в котором живут токен доступа и метка его истечения.
package storage

import (
	"context"
	"errors"
)

var (
	// ErrNotFound — ключ отсутствует.
	ErrNotFound = errors.New("storage: not found")
	// ErrClosed — хранилище уже закрыто.
	ErrClosed = errors.New("storage: closed")
)

// Storage — минимальный контракт хранилища строковых значений.
type Storage interface {
	// Get возвращает значение ключа или ErrNotFound.
	Get(ctx context.Context, key string) (string, error)
	// Set сохраняет значение, перезаписывая прежнее.
	Set(ctx context.Context, key, value string) error
	// Delete удаляет ключи; отсутствующие ключи не считаются ошибкой.
	Delete(ctx context.Context, keys ...string) error
	// Close освобождает ресурсы.
	Close() error
}
