// Package client — единственная точка выхода в REST-бэкенд.
//
// SessionClient:
//   - подставляет Authorization: Bearer <token> из хранилища токена;
//   - при наличии истёкшего токена не ходит в сеть: очищает сессию,
//     уведомляет подписчиков OnUnauthorized и возвращает KindAuth;
//   - на 401 очищает сессию, уведомляет подписчиков и всё равно возвращает ошибку;
//   - повторяет идемпотентные GET на транзиентных сбоях с экспоненциальной паузой;
//   - не логирует токены и тела запросов.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	apierrors "github.com/pribylovaa/go-classbook/internal/errors"
	"github.com/pribylovaa/go-classbook/internal/metrics"
	logctx "github.com/pribylovaa/go-classbook/internal/pkg/log"
)

const (
	DefaultTimeout      = 10 * time.Second
	defaultRetryInitial = 200 * time.Millisecond
	maxErrorBody        = 1 << 20
)

// Причины сброса сессии, передаваемые в UnauthorizedHook.
const (
	ReasonExpired      = "expired"
	ReasonUnauthorized = "401"
)

// Tokens — источник токена. *auth.TokenStore удовлетворяет контракту.
type Tokens interface {
	Get(ctx context.Context) (string, error)
	IsExpired(ctx context.Context) bool
	Clear(ctx context.Context) error
}

// UnauthorizedHook вызывается после очистки токена (истёк до запроса или 401).
type UnauthorizedHook func(ctx context.Context, reason string)

// Request — описание одного вызова.
type Request struct {
	Method string
	Path   string // относительно BaseURL, с ведущим "/"
	Route  string // шаблон пути для метрик; по умолчанию Path
	Query  url.Values
	Body   any // кодируется в JSON, если не nil
	// Token — явный токен вместо сохранённого (проверка только что
	// выданного токена до его записи в хранилище).
	Token string
	// Public — вызов без токена (login/register/health): Bearer не
	// подставляется, 401 не сбрасывает сессию.
	Public bool
}

type Options struct {
	BaseURL      string
	Timeout      time.Duration
	RetryMax     uint64
	RetryInitial time.Duration
	UserAgent    string
	HTTPClient   *http.Client
	Metrics      metrics.Recorder
	Logger       *slog.Logger
}

type SessionClient struct {
	base         string
	http         *http.Client
	tokens       Tokens
	retryMax     uint64
	retryInitial time.Duration
	userAgent    string
	rec          metrics.Recorder
	log          *slog.Logger

	mu    sync.RWMutex
	hooks []UnauthorizedHook
}

func New(tokens Tokens, opts Options) (*SessionClient, error) {
	const op = "client.New"

	if tokens == nil {
		return nil, fmt.Errorf("%s: nil token source", op)
	}

	base := strings.TrimRight(opts.BaseURL, "/")
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%s: invalid base url %q", op, opts.BaseURL)
	}

	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	if opts.RetryInitial <= 0 {
		opts.RetryInitial = defaultRetryInitial
	}

	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	// Копия, чтобы не менять переданный клиент.
	cp := *hc
	cp.Timeout = opts.Timeout

	if opts.Metrics == nil {
		opts.Metrics = metrics.Nop{}
	}

	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &SessionClient{
		base:         base,
		http:         &cp,
		tokens:       tokens,
		retryMax:     opts.RetryMax,
		retryInitial: opts.RetryInitial,
		userAgent:    opts.UserAgent,
		rec:          opts.Metrics,
		log:          opts.Logger,
	}, nil
}

// OnUnauthorized подписывает hook на сброс сессии.
func (c *SessionClient) OnUnauthorized(h UnauthorizedHook) {
	if h == nil {
		return
	}

	c.mu.Lock()
	c.hooks = append(c.hooks, h)
	c.mu.Unlock()
}

// Do выполняет запрос и декодирует JSON-ответ в out (если out != nil).
func (c *SessionClient) Do(ctx context.Context, req Request, out any) error {
	const op = "client.Do"

	if req.Method == "" {
		req.Method = http.MethodGet
	}

	if req.Route == "" {
		req.Route = req.Path
	}

	token := req.Token
	if !req.Public && token == "" {
		tok, err := c.tokens.Get(ctx)
		if err != nil {
			return &apierrors.Error{Kind: apierrors.KindInternal, Op: op, Err: err}
		}

		if tok != "" && c.tokens.IsExpired(ctx) {
			c.dropSession(ctx, ReasonExpired)
			return &apierrors.Error{Kind: apierrors.KindAuth, Op: op, Message: "Your session has expired. Please log in again."}
		}

		token = tok
	}

	var body []byte
	if req.Body != nil {
		b, err := json.Marshal(req.Body)
		if err != nil {
			return &apierrors.Error{Kind: apierrors.KindInternal, Op: op, Err: err}
		}
		body = b
	}

	rid := RequestIDFrom(ctx)
	if rid == "" {
		rid = uuid.NewString()
	}

	attempt := func() error {
		return c.once(ctx, req, token, body, rid, out)
	}

	if req.Method != http.MethodGet || c.retryMax == 0 {
		return attempt()
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryInitial
	b.MaxInterval = 2 * time.Second

	err := backoff.RetryNotify(func() error {
		err := attempt()
		if err == nil || !retryable(err) {
			if err != nil {
				return backoff.Permanent(err)
			}
			return nil
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(b, c.retryMax), ctx), func(err error, wait time.Duration) {
		c.rec.IncRetry(req.Method)
		c.logFor(ctx).Debug("api_retry",
			slog.String("path", req.Route),
			slog.Duration("wait", wait),
			slog.String("err", err.Error()),
		)
	})

	if err != nil {
		var e *apierrors.Error
		if !errors.As(err, &e) {
			return apierrors.Transient(op, err)
		}
	}

	return err
}

// retryable — транзиентный сбой или 5xx.
func retryable(err error) bool {
	if apierrors.IsTransient(err) {
		return true
	}

	return apierrors.KindOf(err) == apierrors.KindHTTP && apierrors.StatusOf(err) >= 500
}

func (c *SessionClient) once(ctx context.Context, req Request, token string, body []byte, rid string, out any) error {
	const op = "client.Do"

	target := c.base + req.Path
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}

	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}

	hreq, err := http.NewRequestWithContext(ctx, req.Method, target, rdr)
	if err != nil {
		return &apierrors.Error{Kind: apierrors.KindInternal, Op: op, Err: err}
	}

	hreq.Header.Set("Accept", "application/json")
	hreq.Header.Set("X-Request-Id", rid)
	if body != nil {
		hreq.Header.Set("Content-Type", "application/json")
	}
	if c.userAgent != "" {
		hreq.Header.Set("User-Agent", c.userAgent)
	}
	if token != "" && !req.Public {
		hreq.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.http.Do(hreq)
	dur := time.Since(start)

	if err != nil {
		c.rec.ObserveRequest(req.Method, req.Route, 0, dur)
		c.logFor(ctx).Warn("api_request_failed",
			slog.String("method", req.Method),
			slog.String("path", req.Route),
			slog.Duration("dur", dur),
			slog.String("err", err.Error()),
		)
		return apierrors.Transient(op, err)
	}
	defer resp.Body.Close()

	c.rec.ObserveRequest(req.Method, req.Route, resp.StatusCode, dur)
	c.logFor(ctx).Debug("api_request",
		slog.String("method", req.Method),
		slog.String("path", req.Route),
		slog.Int("status", resp.StatusCode),
		slog.Duration("dur", dur),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		e := apierrors.FromStatus(resp.StatusCode, apierrors.ParseDetail(raw))
		e.Op = op

		if resp.StatusCode == http.StatusUnauthorized && !req.Public && req.Token == "" {
			c.dropSession(ctx, ReasonUnauthorized)
		}

		return e
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return &apierrors.Error{Kind: apierrors.KindInternal, Op: op, Message: "malformed server response", Err: err}
	}

	return nil
}

// dropSession очищает токен и уведомляет подписчиков.
func (c *SessionClient) dropSession(ctx context.Context, reason string) {
	if err := c.tokens.Clear(ctx); err != nil {
		c.logFor(ctx).Warn("token_clear_failed", slog.String("err", err.Error()))
	}

	c.rec.IncUnauthorized(reason)
	c.logFor(ctx).Info("session_dropped", slog.String("reason", reason))

	c.mu.RLock()
	hooks := append([]UnauthorizedHook(nil), c.hooks...)
	c.mu.RUnlock()

	for _, h := range hooks {
		h(ctx, reason)
	}
}

// logFor предпочитает request-scoped логгер из контекста.
func (c *SessionClient) logFor(ctx context.Context) *slog.Logger {
	if l := logctx.From(ctx); l != slog.Default() {
		return l
	}

	return c.log
}
