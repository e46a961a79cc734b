package clients

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/pribylovaa/go-classbook/internal/client"
	apierrors "github.com/pribylovaa/go-classbook/internal/errors"
	"github.com/pribylovaa/go-classbook/internal/models"
	"github.com/pribylovaa/go-classbook/internal/pkg/validate"
)

// Doer — то, через что ресурсы ходят в бэкенд (*client.SessionClient).
type Doer interface {
	Do(ctx context.Context, req client.Request, out any) error
}

// Collection — CRUD над одним REST-ресурсом и эфемерный кэш последнего списка.
//
// Кэш меняется только после успешного ответа и только если контекст
// вызывающего ещё жив: ответ, пришедший после ухода со страницы, отбрасывается.
type Collection[T models.Identifiable] struct {
	doer Doer
	path string

	mu    sync.RWMutex
	cache []T
}

func NewCollection[T models.Identifiable](d Doer, path string) *Collection[T] {
	return &Collection[T]{doer: d, path: path}
}

// Path — базовый путь ресурса.
func (c *Collection[T]) Path() string { return c.path }

func (c *Collection[T]) itemPath(id string) string {
	return c.path + "/" + url.PathEscape(id)
}

func (c *Collection[T]) List(ctx context.Context) ([]T, error) {
	op := "clients.List " + c.path

	var items []T
	if err := c.doer.Do(ctx, client.Request{Method: http.MethodGet, Path: c.path}, &items); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	c.commit(ctx, func() { c.cache = append([]T(nil), items...) })

	return items, nil
}

func (c *Collection[T]) Get(ctx context.Context, id string) (T, error) {
	op := "clients.Get " + c.path

	var item T
	err := c.doer.Do(ctx, client.Request{
		Method: http.MethodGet,
		Path:   c.itemPath(id),
		Route:  c.path + "/{id}",
	}, &item)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("%s: %w", op, err)
	}

	return item, nil
}

func (c *Collection[T]) Create(ctx context.Context, in T) (T, error) {
	op := "clients.Create " + c.path

	var zero T
	if err := validate.Struct(in); err != nil {
		return zero, fmt.Errorf("%s: %w", op, apierrors.Validation(err.Error()))
	}

	var created T
	if err := c.doer.Do(ctx, client.Request{Method: http.MethodPost, Path: c.path, Body: in}, &created); err != nil {
		return zero, fmt.Errorf("%s: %w", op, err)
	}

	c.commit(ctx, func() { c.cache = append(c.cache, created) })

	return created, nil
}

func (c *Collection[T]) Update(ctx context.Context, id string, in T) (T, error) {
	op := "clients.Update " + c.path

	var zero T
	if err := validate.Struct(in); err != nil {
		return zero, fmt.Errorf("%s: %w", op, apierrors.Validation(err.Error()))
	}

	var updated T
	err := c.doer.Do(ctx, client.Request{
		Method: http.MethodPut,
		Path:   c.itemPath(id),
		Route:  c.path + "/{id}",
		Body:   in,
	}, &updated)
	if err != nil {
		return zero, fmt.Errorf("%s: %w", op, err)
	}

	c.commit(ctx, func() { c.replace(id, updated) })

	return updated, nil
}

// Delete: при ошибке (в том числе 404) кэш не меняется.
func (c *Collection[T]) Delete(ctx context.Context, id string) error {
	op := "clients.Delete " + c.path

	err := c.doer.Do(ctx, client.Request{
		Method: http.MethodDelete,
		Path:   c.itemPath(id),
		Route:  c.path + "/{id}",
	}, nil)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	c.commit(ctx, func() {
		out := c.cache[:0:0]
		for _, it := range c.cache {
			if it.GetID() != id {
				out = append(out, it)
			}
		}
		c.cache = out
	})

	return nil
}

// Cached возвращает копию кэша.
func (c *Collection[T]) Cached() []T {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return append([]T(nil), c.cache...)
}

// Reset очищает кэш (выход из системы).
func (c *Collection[T]) Reset() {
	c.mu.Lock()
	c.cache = nil
	c.mu.Unlock()
}

// replace вызывается под mu.
func (c *Collection[T]) replace(id string, item T) {
	for i, it := range c.cache {
		if it.GetID() == id {
			c.cache[i] = item
			return
		}
	}
}

func (c *Collection[T]) commit(ctx context.Context, fn func()) {
	if ctx.Err() != nil {
		return
	}

	c.mu.Lock()
	fn()
	c.mu.Unlock()
}
