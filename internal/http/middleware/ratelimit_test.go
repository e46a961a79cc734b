package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRateLimiter_RejectsPostOverBurst(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{PerMinute: 1, Burst: 2})
	t.Cleanup(rl.Stop)

	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}), rl.Middleware())

	for i := 0; i < 2; i++ {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, makeReq(http.MethodPost, "/login"))
		require.Equal(t, http.StatusNoContent, rr.Code)
	}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, makeReq(http.MethodPost, "/login"))
	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	require.Equal(t, "60", rr.Header().Get("Retry-After"))

	var env errEnvelope
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env))
	require.Equal(t, "rate_limited", env.Error.Code)

	// Другой клиент не затронут.
	req := makeReq(http.MethodPost, "/login")
	req.RemoteAddr = "10.0.0.2:4000"
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusNoContent, rr.Code)
}

func TestRateLimiter_GetIsNotLimited(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{PerMinute: 1, Burst: 1})
	t.Cleanup(rl.Stop)

	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}), rl.Middleware())

	for i := 0; i < 5; i++ {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, makeReq(http.MethodGet, "/login"))
		require.Equal(t, http.StatusOK, rr.Code)
	}
	require.Zero(t, rl.Len())
}

func TestRateLimiter_CleanupDropsIdleClients(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{PerMinute: 10, Burst: 1, CleanupInterval: time.Minute})
	t.Cleanup(rl.Stop)

	rl.get("10.0.0.1")
	require.Equal(t, 1, rl.Len())

	rl.cleanup(time.Now().Add(time.Minute))
	require.Equal(t, 1, rl.Len())

	rl.cleanup(time.Now().Add(3 * time.Minute))
	require.Zero(t, rl.Len())

	rl.Stop()
}
