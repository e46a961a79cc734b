package session

import (
	"context"
	"log/slog"
	"time"
)

// Resync сверяет состояние с хранилищем: если токен поменял другой экземпляр
// (вход/выход в соседнем процессе), проверка сессии выполняется заново.
// Возвращает true, если состояние пересчитывалось.
func (s *Session) Resync(ctx context.Context) bool {
	tok, err := s.tokens.Get(ctx)
	if err != nil {
		return false
	}

	s.mu.RLock()
	current, state := s.token, s.state
	s.mu.RUnlock()

	switch {
	case state == StateChecking || state == StateUninitialized:
		return false
	case tok == current:
		return false
	case tok == "" && state == StateUnauthenticated:
		return false
	}

	s.logFor(ctx).Info("session_changed_externally")
	s.Init(ctx)
	return true
}

// Watch периодически перепроверяет сессию до отмены ctx:
//   - подхватывает изменения хранилища (Resync);
//   - при истечении токена у аутентифицированной сессии повторяет Init;
//   - заранее обновляет токен, если до истечения меньше RefreshWindow
//     и Refresher настроен.
func (s *Session) Watch(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Session) tick(ctx context.Context) {
	if s.Resync(ctx) {
		return
	}

	if !s.Snapshot().Authenticated() {
		return
	}

	if s.tokens.IsExpired(ctx) {
		s.logFor(ctx).Info("session_token_expired")
		s.Init(ctx)
		return
	}

	if s.opts.Refresher != nil && s.tokens.ExpiresWithin(ctx, s.opts.RefreshWindow) {
		if err := s.Refresh(ctx); err != nil {
			s.logFor(ctx).Warn("session_refresh_failed", slog.String("err", err.Error()))
		}
	}
}
