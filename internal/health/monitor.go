// Package health периодически опрашивает /api/health бэкенда и сводит ответ
// к одному статусу: healthy | degraded | unhealthy | unknown | critical.
//
// Порядок оценки ответа: overall_status, затем status == "healthy", затем
// individual_checks (любой unhealthy -> unhealthy, любой degraded -> degraded,
// все healthy -> healthy). После MaxRetries подряд неудачных опросов статус
// становится critical.
package health

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/pribylovaa/go-classbook/internal/client"
	apierrors "github.com/pribylovaa/go-classbook/internal/errors"
	"github.com/pribylovaa/go-classbook/internal/metrics"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
	StatusUnknown   Status = "unknown"
	StatusCritical  Status = "critical"
)

// Critical — unhealthy и critical.
func (s Status) Critical() bool {
	return s == StatusCritical || s == StatusUnhealthy
}

var (
	ErrAlreadyRunning = errors.New("health: monitoring is already running")
	ErrNotRunning     = errors.New("health: monitoring is not running")
)

// Change — смена статуса.
type Change struct {
	Previous Status
	Current  Status
	Data     map[string]any
	At       time.Time
}

// Failure — переход в критическое состояние.
type Failure struct {
	Status     Status
	Data       map[string]any
	Err        error
	RetryCount int
	At         time.Time
}

// Result — исход одного опроса.
type Result struct {
	Success bool
	Status  Status
	Data    map[string]any
	Err     error
	At      time.Time
}

// State — снимок монитора.
type State struct {
	Status     Status
	Monitoring bool
	LastCheck  time.Time
	RetryCount int
}

// Doer — транспорт (*client.SessionClient).
type Doer interface {
	Do(ctx context.Context, req client.Request, out any) error
}

type Options struct {
	Path       string
	Interval   time.Duration
	MaxRetries int
	RetryDelay time.Duration
	OnChange   func(Change)
	OnCritical func(Failure)
	Metrics    metrics.Recorder
	Logger     *slog.Logger
}

type Monitor struct {
	api  Doer
	opts Options

	mu         sync.RWMutex
	status     Status
	lastCheck  time.Time
	retryCount int
	running    bool
	cancel     context.CancelFunc
	done       chan struct{}
}

func New(api Doer, opts Options) *Monitor {
	if opts.Path == "" {
		opts.Path = "/api/health"
	}

	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}

	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}

	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 5 * time.Second
	}

	if opts.Metrics == nil {
		opts.Metrics = metrics.Nop{}
	}

	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Monitor{api: api, opts: opts, status: StatusUnknown}
}

// Check выполняет один опрос и обновляет статус.
func (m *Monitor) Check(ctx context.Context) Result {
	var data map[string]any
	err := m.api.Do(ctx, client.Request{
		Method: http.MethodGet,
		Path:   m.opts.Path,
		Public: true,
	}, &data)

	now := time.Now()

	// Бэкенд ответил, но сам себя считает недоступным.
	if err != nil && apierrors.StatusOf(err) == http.StatusServiceUnavailable {
		data = map[string]any{"overall_status": string(StatusUnhealthy)}
		err = nil
	}

	if err != nil {
		return m.failed(err, now)
	}

	next := Evaluate(data)

	m.mu.Lock()
	prev := m.status
	m.status = next
	m.lastCheck = now
	m.retryCount = 0
	m.mu.Unlock()

	m.opts.Metrics.HealthStatus(string(next))

	if next != prev {
		m.opts.Logger.Info("backend_health_changed",
			slog.String("previous", string(prev)),
			slog.String("current", string(next)),
		)

		if m.opts.OnChange != nil {
			m.opts.OnChange(Change{Previous: prev, Current: next, Data: data, At: now})
		}

		if next.Critical() && m.opts.OnCritical != nil {
			m.opts.OnCritical(Failure{Status: next, Data: data, At: now})
		}
	}

	return Result{Success: true, Status: next, Data: data, At: now}
}

func (m *Monitor) failed(err error, now time.Time) Result {
	m.mu.Lock()
	m.retryCount++
	retries := m.retryCount
	prev := m.status
	critical := retries >= m.opts.MaxRetries
	if critical {
		m.status = StatusCritical
	}
	m.mu.Unlock()

	m.opts.Logger.Warn("backend_health_check_failed",
		slog.Int("retry_count", retries),
		slog.String("err", err.Error()),
	)

	if !critical {
		return Result{Status: prev, Err: err, At: now}
	}

	m.opts.Metrics.HealthStatus(string(StatusCritical))

	if prev != StatusCritical {
		if m.opts.OnChange != nil {
			m.opts.OnChange(Change{Previous: prev, Current: StatusCritical, At: now})
		}

		if m.opts.OnCritical != nil {
			m.opts.OnCritical(Failure{Status: StatusCritical, Err: err, RetryCount: retries, At: now})
		}
	}

	return Result{Status: StatusCritical, Err: err, At: now}
}

// Start выполняет первый опрос синхронно и запускает периодический цикл.
// После неудачного опроса следующий выполняется раньше: пауза растёт от
// RetryDelay до Interval.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return ErrAlreadyRunning
	}

	loopCtx, cancel := context.WithCancel(ctx)
	m.running = true
	m.cancel = cancel
	m.done = make(chan struct{})
	done := m.done
	m.mu.Unlock()

	first := m.Check(loopCtx)
	m.opts.Logger.Info("health_monitoring_started", slog.String("status", string(first.Status)))

	go m.loop(loopCtx, first.Err == nil, done)

	return nil
}

func (m *Monitor) loop(ctx context.Context, lastOK bool, done chan struct{}) {
	defer close(done)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.opts.RetryDelay
	b.MaxInterval = m.opts.Interval
	b.MaxElapsedTime = 0
	b.Reset()

	for {
		wait := m.opts.Interval
		if !lastOK {
			wait = b.NextBackOff()
		}

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}

		res := m.Check(ctx)
		lastOK = res.Err == nil
		if lastOK {
			b.Reset()
		}
	}
}

// Stop останавливает цикл и дожидается его завершения.
func (m *Monitor) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return ErrNotRunning
	}

	m.running = false
	cancel, done := m.cancel, m.done
	m.mu.Unlock()

	cancel()
	<-done

	m.opts.Logger.Info("health_monitoring_stopped")
	return nil
}

// State возвращает снимок монитора.
func (m *Monitor) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return State{
		Status:     m.status,
		Monitoring: m.running,
		LastCheck:  m.lastCheck,
		RetryCount: m.retryCount,
	}
}

// Evaluate сводит тело ответа /api/health к статусу.
func Evaluate(data map[string]any) Status {
	if data == nil {
		return StatusCritical
	}

	if overall, ok := data["overall_status"].(string); ok && overall != "" {
		switch strings.ToLower(overall) {
		case "healthy":
			return StatusHealthy
		case "degraded":
			return StatusDegraded
		case "unhealthy":
			return StatusUnhealthy
		default:
			return StatusUnknown
		}
	}

	if st, ok := data["status"].(string); ok && strings.EqualFold(st, "healthy") {
		return StatusHealthy
	}

	checks, ok := data["individual_checks"].(map[string]any)
	if !ok || len(checks) == 0 {
		return StatusUnknown
	}

	var unhealthy, degraded bool
	allHealthy := true

	for _, v := range checks {
		st := ""
		if c, ok := v.(map[string]any); ok {
			st, _ = c["status"].(string)
		}

		switch strings.ToLower(st) {
		case "unhealthy":
			unhealthy = true
			allHealthy = false
		case "degraded":
			degraded = true
			allHealthy = false
		case "healthy":
		default:
			allHealthy = false
		}
	}

	switch {
	case unhealthy:
		return StatusUnhealthy
	case degraded:
		return StatusDegraded
	case allHealthy:
		return StatusHealthy
	default:
		return StatusUnknown
	}
}
