package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	apierrors "github.com/pribylovaa/go-classbook/internal/errors"
)

// Timeout ограничивает время обработки запроса портала, если у контекста
// ещё нет deadline. Обработчик, который ничего не успел записать до
// истечения, получает 504 в общем JSON-формате ошибок. d <= 0 — no-op.
func Timeout(d time.Duration) Middleware {
	return func(next http.Handler) http.Handler {
		if d <= 0 {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := r.Context().Deadline(); ok {
				next.ServeHTTP(w, r)
				return
			}

			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()

			sw := newStatusWriter(w)
			next.ServeHTTP(sw, r.WithContext(ctx))

			if sw.status == 0 && errors.Is(ctx.Err(), context.DeadlineExceeded) {
				w.Header().Set("Cache-Control", "no-store")
				apierrors.WriteError(w, r, apierrors.Transient("http.Timeout", context.DeadlineExceeded))
			}
		})
	}
}
