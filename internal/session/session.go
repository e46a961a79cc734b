// Package session — единственный на процесс объект аутентификационной сессии.
//
// Жизненный цикл: uninitialized -> checking -> authenticated | unauthenticated.
// Loading истинно, пока выполняется любая операция; Initialized становится
// истинным после первой завершённой проверки и больше не сбрасывается.
//
// Состояние защищено мьютексом; сетевые вызовы выполняются без него.
// Конкурирующие Login не объединяются: побеждает тот, что завершился последним.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/pribylovaa/go-classbook/internal/client"
	"github.com/pribylovaa/go-classbook/internal/metrics"
	"github.com/pribylovaa/go-classbook/internal/models"
	logctx "github.com/pribylovaa/go-classbook/internal/pkg/log"
)

type State string

const (
	StateUninitialized   State = "uninitialized"
	StateChecking        State = "checking"
	StateAuthenticated   State = "authenticated"
	StateUnauthenticated State = "unauthenticated"
)

// ErrRefreshUnsupported — обновление токена не настроено.
var ErrRefreshUnsupported = errors.New("session: token refresh unsupported")

// Snapshot — производное состояние для UI и RouteGuard.
type Snapshot struct {
	State       State
	User        *models.User
	Loading     bool
	Initialized bool
}

// Authenticated: токен есть, не истёк, профиль получен.
func (s Snapshot) Authenticated() bool {
	return s.State == StateAuthenticated && s.User != nil
}

// Result — исход Login/Register/UpdateProfile для UI. Ошибки Go наружу не уходят.
type Result struct {
	Success bool
	Message string
	User    *models.User
}

// API — транспорт к бэкенду (*client.SessionClient).
type API interface {
	Do(ctx context.Context, req client.Request, out any) error
}

// Tokens — хранилище токена (*auth.TokenStore).
type Tokens interface {
	Get(ctx context.Context) (string, error)
	Set(ctx context.Context, token string) error
	Clear(ctx context.Context) error
	IsExpired(ctx context.Context) bool
	ExpiresWithin(ctx context.Context, d time.Duration) bool
}

// Refresher обменивает истекающий токен на новый. nil — обновление не поддерживается.
type Refresher interface {
	Refresh(ctx context.Context, token string) (string, error)
}

type Options struct {
	AuthPrefix    string // "/api/v1/auth"
	ProfilePath   string // "/api/v1/auth/profile"
	Refresher     Refresher
	RefreshWindow time.Duration
	Metrics       metrics.Recorder
	Logger        *slog.Logger
	// OnChange вызывается после каждой смены состояния, вне блокировки.
	OnChange func(Snapshot)
}

type Session struct {
	api    API
	tokens Tokens
	opts   Options

	mu          sync.RWMutex
	state       State
	user        *models.User
	initialized bool
	loading     int
	// token — токен, из которого построено текущее состояние (для Resync).
	token string
}

func New(api API, tokens Tokens, opts Options) *Session {
	if opts.AuthPrefix == "" {
		opts.AuthPrefix = "/api/v1/auth"
	}

	if opts.ProfilePath == "" {
		opts.ProfilePath = opts.AuthPrefix + "/profile"
	}

	if opts.RefreshWindow <= 0 {
		opts.RefreshWindow = 5 * time.Minute
	}

	if opts.Metrics == nil {
		opts.Metrics = metrics.Nop{}
	}

	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Session{
		api:    api,
		tokens: tokens,
		opts:   opts,
		state:  StateUninitialized,
	}
}

// Snapshot возвращает копию текущего состояния.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		State:       s.state,
		Loading:     s.loading > 0,
		Initialized: s.initialized,
	}

	if s.user != nil {
		u := *s.user
		snap.User = &u
	}

	return snap
}

// begin отмечает начало операции; checking=true переводит в StateChecking.
func (s *Session) begin(checking bool) {
	s.mu.Lock()
	s.loading++
	if checking {
		s.state = StateChecking
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	if checking {
		s.opts.Metrics.SessionState(string(StateChecking))
	}
	s.notify(snap)
}

func (s *Session) end() {
	s.mu.Lock()
	if s.loading > 0 {
		s.loading--
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.notify(snap)
}

// authenticate фиксирует успешный вход. Запись токена выполняется под
// блокировкой вместе со сменой состояния, чтобы хранилище и состояние
// не разошлись при конкурирующих входах.
func (s *Session) authenticate(ctx context.Context, token string, user *models.User, persist bool) error {
	s.mu.Lock()
	if persist {
		if err := s.tokens.Set(ctx, token); err != nil {
			s.mu.Unlock()
			return err
		}
	}
	s.state = StateAuthenticated
	s.user = user
	s.token = token
	s.initialized = true
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.opts.Metrics.SessionState(string(StateAuthenticated))
	s.notify(snap)
	return nil
}

func (s *Session) unauthenticate() {
	s.mu.Lock()
	s.state = StateUnauthenticated
	s.user = nil
	s.token = ""
	s.initialized = true
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.opts.Metrics.SessionState(string(StateUnauthenticated))
	s.notify(snap)
}

func (s *Session) notify(snap Snapshot) {
	if s.opts.OnChange != nil {
		s.opts.OnChange(snap)
	}
}

// clearToken — best-effort очистка хранилища.
func (s *Session) clearToken(ctx context.Context) {
	if err := s.tokens.Clear(ctx); err != nil {
		s.logFor(ctx).Warn("token_clear_failed", slog.String("err", err.Error()))
	}
}

func (s *Session) logFor(ctx context.Context) *slog.Logger {
	if l := logctx.From(ctx); l != slog.Default() {
		return l
	}

	return s.opts.Logger
}
