// Package auth хранит токен доступа и метку его истечения в клиентском
// хранилище и отвечает на вопрос "истёк ли токен".
//
// Подпись токена на клиенте не проверяется: payload разбирается только ради
// exp/sub. Любая неопределённость (нет метки, битая метка, ошибка хранилища)
// трактуется как "истёк".
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	logctx "github.com/pribylovaa/go-classbook/internal/pkg/log"
	"github.com/pribylovaa/go-classbook/internal/storage"
)

// Ключи хранилища.
const (
	KeyToken      = "auth_token"
	KeyExpiration = "auth_token_expiration"
)

var (
	ErrEmptyToken = errors.New("auth: empty token")
	ErrNoToken    = errors.New("auth: no token")
	ErrMalformed  = errors.New("auth: malformed token")
)

// Claims — то, что клиент вынимает из payload без проверки подписи.
type Claims struct {
	Subject   string
	Email     string
	UserID    string
	ExpiresAt time.Time
}

// TokenStore — единственный владелец токена в процессе.
type TokenStore struct {
	st     storage.Storage
	now    func() time.Time
	parser *jwt.Parser
}

type Option func(*TokenStore)

// WithClock подменяет источник времени (тесты).
func WithClock(now func() time.Time) Option {
	return func(s *TokenStore) {
		if now != nil {
			s.now = now
		}
	}
}

func NewTokenStore(st storage.Storage, opts ...Option) *TokenStore {
	s := &TokenStore{
		st:     st,
		now:    time.Now,
		parser: jwt.NewParser(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Set сохраняет токен и, если payload удалось разобрать, метку истечения в
// миллисекундах. Прежняя метка удаляется до записи, поэтому токен без exp
// никогда не унаследует чужую метку.
func (s *TokenStore) Set(ctx context.Context, token string) error {
	const op = "auth.TokenStore.Set"

	if token == "" {
		return fmt.Errorf("%s: %w", op, ErrEmptyToken)
	}

	if err := s.st.Delete(ctx, KeyExpiration); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := s.st.Set(ctx, KeyToken, token); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	claims, err := s.decode(token)
	if err != nil || claims.ExpiresAt.IsZero() {
		reason := "no exp claim"
		if err != nil {
			reason = err.Error()
		}
		logctx.From(ctx).Warn("token_expiry_unknown", slog.String("reason", reason))
		return nil
	}

	ms := strconv.FormatInt(claims.ExpiresAt.UnixMilli(), 10)
	if err := s.st.Set(ctx, KeyExpiration, ms); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// Get возвращает сохранённый токен или "" если его нет.
func (s *TokenStore) Get(ctx context.Context) (string, error) {
	const op = "auth.TokenStore.Get"

	tok, err := s.st.Get(ctx, KeyToken)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return tok, nil
}

// Clear удаляет токен и метку.
func (s *TokenStore) Clear(ctx context.Context) error {
	const op = "auth.TokenStore.Clear"

	if err := s.st.Delete(ctx, KeyToken, KeyExpiration); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// ExpiresAt возвращает сохранённую метку истечения; ok=false, если её нет
// или она нечитаема.
func (s *TokenStore) ExpiresAt(ctx context.Context) (time.Time, bool) {
	raw, err := s.st.Get(ctx, KeyExpiration)
	if err != nil {
		return time.Time{}, false
	}

	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false
	}

	return time.UnixMilli(ms), true
}

// IsExpired истинно, если метки нет или now > метки.
func (s *TokenStore) IsExpired(ctx context.Context) bool {
	exp, ok := s.ExpiresAt(ctx)
	if !ok {
		return true
	}

	return s.now().After(exp)
}

// ExpiresWithin истинно, если токен истечёт не позже чем через d
// (или метка неизвестна). Используется для упреждающего обновления.
func (s *TokenStore) ExpiresWithin(ctx context.Context, d time.Duration) bool {
	exp, ok := s.ExpiresAt(ctx)
	if !ok {
		return true
	}

	return !s.now().Add(d).Before(exp)
}

// Claims разбирает сохранённый токен.
func (s *TokenStore) Claims(ctx context.Context) (Claims, error) {
	const op = "auth.TokenStore.Claims"

	tok, err := s.Get(ctx)
	if err != nil {
		return Claims{}, fmt.Errorf("%s: %w", op, err)
	}

	if tok == "" {
		return Claims{}, fmt.Errorf("%s: %w", op, ErrNoToken)
	}

	c, err := s.decode(tok)
	if err != nil {
		return Claims{}, fmt.Errorf("%s: %w", op, err)
	}

	return c, nil
}

// decode читает только payload: заголовок (alg, typ) клиенту не важен.
func (s *TokenStore) decode(token string) (Claims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return Claims{}, ErrMalformed
	}

	raw, err := s.parser.DecodeSegment(parts[1])
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	mc := jwt.MapClaims{}
	if err := json.Unmarshal(raw, &mc); err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var c Claims

	if sub, err := mc.GetSubject(); err == nil {
		c.Subject = sub
	}

	if exp, err := mc.GetExpirationTime(); err == nil && exp != nil {
		c.ExpiresAt = exp.Time
	}

	if v, ok := mc["email"].(string); ok {
		c.Email = v
	} else {
		c.Email = c.Subject
	}

	switch v := mc["user_id"].(type) {
	case string:
		c.UserID = v
	case float64:
		c.UserID = strconv.FormatInt(int64(v), 10)
	}

	return c, nil
}
