package middleware

import (
	"log/slog"
	"net/http"

	apierrors "github.com/pribylovaa/go-classbook/internal/errors"
	logctx "github.com/pribylovaa/go-classbook/internal/pkg/log"
)

// Recover перехватывает panic и отвечает 500/internal без деталей.
// http.ErrAbortHandler пробрасывается дальше.
func Recover() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}

				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				logctx.From(r.Context()).LogAttrs(r.Context(), slog.LevelError, "panic",
					slog.String("path", r.URL.Path),
					slog.Any("reason", rec),
				)
				apierrors.WriteError(w, r, apierrors.New(apierrors.KindInternal, "internal error"))
			}()

			next.ServeHTTP(w, r)
		})
	}
}
