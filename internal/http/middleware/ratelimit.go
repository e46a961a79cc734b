package middleware

import (
	"encoding/json"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	apierrors "github.com/pribylovaa/go-classbook/internal/errors"
	logctx "github.com/pribylovaa/go-classbook/internal/pkg/log"
)

// RateLimitConfig — настройки ограничения отправки форм входа/регистрации.
type RateLimitConfig struct {
	PerMinute       float64
	Burst           int
	CleanupInterval time.Duration
}

type clientLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter ограничивает POST-запросы по IP клиента.
// GET (показ формы) не ограничивается.
type RateLimiter struct {
	limit rate.Limit
	burst int
	ttl   time.Duration

	mu       sync.Mutex
	limiters map[string]*clientLimiter

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewRateLimiter создаёт лимитер и запускает фоновую очистку
// неактивных записей. Остановка — Stop.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	if cfg.PerMinute <= 0 {
		cfg.PerMinute = 20
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 5 * time.Minute
	}

	rl := &RateLimiter{
		limit:    rate.Limit(cfg.PerMinute / 60.0),
		burst:    cfg.Burst,
		ttl:      2 * cfg.CleanupInterval,
		limiters: make(map[string]*clientLimiter),
		stopCh:   make(chan struct{}),
	}

	go rl.cleanupLoop(cfg.CleanupInterval)

	return rl
}

// Stop останавливает фоновую очистку. Повторный вызов безопасен.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

// Middleware возвращает мидлвар, отвечающий 429 при превышении лимита.
func (rl *RateLimiter) Middleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				next.ServeHTTP(w, r)
				return
			}

			key := clientIP(r)
			if !rl.get(key).Allow() {
				logctx.From(r.Context()).Warn("rate_limit_exceeded",
					slog.String("path", r.URL.Path),
					slog.String("client", key),
				)
				rl.reject(w, r)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// Len — число отслеживаемых клиентов.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

func (rl *RateLimiter) get(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cl, ok := rl.limiters[key]
	if !ok {
		cl = &clientLimiter{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.limiters[key] = cl
	}
	cl.lastAccess = time.Now()

	return cl.limiter
}

func (rl *RateLimiter) cleanupLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup(time.Now())
		case <-rl.stopCh:
			return
		}
	}
}

func (rl *RateLimiter) cleanup(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	for key, cl := range rl.limiters {
		if now.Sub(cl.lastAccess) > rl.ttl {
			delete(rl.limiters, key)
		}
	}
}

// reject пишет 429 с Retry-After: время до пополнения одного токена.
func (rl *RateLimiter) reject(w http.ResponseWriter, r *http.Request) {
	retryAfter := int(math.Ceil(1.0 / float64(rl.limit)))
	if retryAfter < 1 {
		retryAfter = 1
	}

	resp := apierrors.ErrorResponse{Error: apierrors.APIError{
		Code:      "rate_limited",
		Message:   "Too many attempts. Please try again later.",
		RequestID: r.Header.Get("X-Request-Id"),
	}}

	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(resp)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
