// Package metrics собирает Prometheus-метрики клиента: обращения к REST-бэкенду,
// переходы сессии и состояние бэкенда по данным health-монитора.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder — то, чем пользуются клиент, сессия и монитор.
type Recorder interface {
	ObserveRequest(method, route string, status int, dur time.Duration)
	IncRetry(method string)
	IncUnauthorized(reason string)
	SessionState(state string)
	HealthStatus(status string)
}

// Collector — Prometheus-реализация Recorder.
type Collector struct {
	requests     *prometheus.CounterVec
	latency      *prometheus.HistogramVec
	retries      *prometheus.CounterVec
	unauthorized *prometheus.CounterVec
	transitions  *prometheus.CounterVec
	health       *prometheus.GaugeVec
}

// Статусы, которые монитор может выставить в gauge.
var healthStatuses = []string{"healthy", "degraded", "unhealthy", "unknown", "critical"}

// NewCollector создаёт Collector и регистрирует метрики в reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "classbook_api_requests_total",
			Help: "Запросы к REST-бэкенду по методу, маршруту и статусу.",
		}, []string{"method", "route", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "classbook_api_request_duration_seconds",
			Help:    "Длительность запросов к REST-бэкенду.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "classbook_api_retries_total",
			Help: "Повторные попытки идемпотентных запросов.",
		}, []string{"method"}),
		unauthorized: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "classbook_unauthorized_total",
			Help: "Сбросы сессии: истёкший токен до запроса или 401 от сервера.",
		}, []string{"reason"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "classbook_session_transitions_total",
			Help: "Переходы состояния сессии.",
		}, []string{"state"}),
		health: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "classbook_backend_health",
			Help: "Текущий статус бэкенда (1 у активного статуса).",
		}, []string{"status"}),
	}

	reg.MustRegister(
		c.requests,
		c.latency,
		c.retries,
		c.unauthorized,
		c.transitions,
		c.health,
	)

	return c
}

// ObserveRequest: status=0 означает, что ответа не было (сеть/таймаут).
func (c *Collector) ObserveRequest(method, route string, status int, dur time.Duration) {
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}

	c.requests.WithLabelValues(method, route, label).Inc()
	c.latency.WithLabelValues(method).Observe(dur.Seconds())
}

func (c *Collector) IncRetry(method string) {
	c.retries.WithLabelValues(method).Inc()
}

func (c *Collector) IncUnauthorized(reason string) {
	c.unauthorized.WithLabelValues(reason).Inc()
}

func (c *Collector) SessionState(state string) {
	c.transitions.WithLabelValues(state).Inc()
}

func (c *Collector) HealthStatus(status string) {
	for _, s := range healthStatuses {
		v := 0.0
		if s == status {
			v = 1
		}
		c.health.WithLabelValues(s).Set(v)
	}
}

// Nop — Recorder, который ничего не делает.
type Nop struct{}

func (Nop) ObserveRequest(string, string, int, time.Duration) {}
func (Nop) IncRetry(string)                                   {}
func (Nop) IncUnauthorized(string)                            {}
func (Nop) SessionState(string)                               {}
func (Nop) HealthStatus(string)                               {}
