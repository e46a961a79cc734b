package devapi

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/pribylovaa/go-classbook/internal/models"
)

var (
	errNotFound   = errors.New("not found")
	errEmailTaken = errors.New("email already registered")
)

type userRecord struct {
	models.User
	PasswordHash string
}

// userStore — пользователи по id и по нормализованному email.
type userStore struct {
	mu      sync.RWMutex
	byID    map[string]*userRecord
	byEmail map[string]string
	// revoked — токены, отозванные logout, до их истечения.
	revoked map[string]time.Time
}

func newUserStore() *userStore {
	return &userStore{
		byID:    make(map[string]*userRecord),
		byEmail: make(map[string]string),
		revoked: make(map[string]time.Time),
	}
}

func normEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *userStore) add(u *userRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := normEmail(u.Email)
	if _, ok := s.byEmail[key]; ok {
		return errEmailTaken
	}

	s.byID[u.ID] = u
	s.byEmail[key] = u.ID
	return nil
}

func (s *userStore) byEmailAddr(email string) (userRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[normEmail(email)]
	if !ok {
		return userRecord{}, errNotFound
	}
	return *s.byID[id], nil
}

func (s *userStore) get(id string) (userRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.byID[id]
	if !ok {
		return userRecord{}, errNotFound
	}
	return *u, nil
}

// update применяет fn к копии пользователя; смена email проверяется на занятость.
func (s *userStore) update(id string, fn func(u *models.User)) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.byID[id]
	if !ok {
		return models.User{}, errNotFound
	}

	next := *cur
	fn(&next.User)

	oldKey, newKey := normEmail(cur.Email), normEmail(next.Email)
	if newKey != oldKey {
		if _, taken := s.byEmail[newKey]; taken {
			return models.User{}, errEmailTaken
		}
		delete(s.byEmail, oldKey)
		s.byEmail[newKey] = id
	}

	s.byID[id] = &next
	return next.User, nil
}

func (s *userStore) revoke(token string, until time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revoked[token] = until
}

func (s *userStore) isRevoked(token string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for t, until := range s.revoked {
		if now.After(until) {
			delete(s.revoked, t)
		}
	}

	_, ok := s.revoked[token]
	return ok
}

// stampFunc проставляет серверные поля: id, владельца, метки времени.
// prev != nil при обновлении.
type stampFunc[T any] func(item *T, id, owner string, now time.Time, prev *T)

// table — записи одного ресурса, разложенные по владельцам, в порядке создания.
type table[T models.Identifiable] struct {
	name  string
	stamp stampFunc[T]

	mu    sync.RWMutex
	items map[string]map[string]T
	order map[string][]string
}

func newTable[T models.Identifiable](name string, stamp stampFunc[T]) *table[T] {
	return &table[T]{
		name:  name,
		stamp: stamp,
		items: make(map[string]map[string]T),
		order: make(map[string][]string),
	}
}

func (t *table[T]) list(owner string, keep func(T) bool) []T {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]T, 0, len(t.order[owner]))
	for _, id := range t.order[owner] {
		it := t.items[owner][id]
		if keep == nil || keep(it) {
			out = append(out, it)
		}
	}
	return out
}

func (t *table[T]) get(owner, id string) (T, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	it, ok := t.items[owner][id]
	if !ok {
		var zero T
		return zero, errNotFound
	}
	return it, nil
}

func (t *table[T]) create(owner, id string, in T, now time.Time) T {
	t.stamp(&in, id, owner, now, nil)

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.items[owner] == nil {
		t.items[owner] = make(map[string]T)
	}
	t.items[owner][id] = in
	t.order[owner] = append(t.order[owner], id)
	return in
}

// update: fn строит новую запись из текущей.
func (t *table[T]) update(owner, id string, now time.Time, fn func(cur T) T) (T, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cur, ok := t.items[owner][id]
	if !ok {
		var zero T
		return zero, errNotFound
	}

	next := fn(cur)
	t.stamp(&next, id, owner, now, &cur)
	t.items[owner][id] = next
	return next, nil
}

func (t *table[T]) delete(owner, id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.items[owner][id]; !ok {
		return errNotFound
	}

	delete(t.items[owner], id)
	ids := t.order[owner]
	for i, v := range ids {
		if v == id {
			t.order[owner] = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
	return nil
}
