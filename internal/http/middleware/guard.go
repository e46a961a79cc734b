package middleware

import (
	"context"
	"net/http"
	"net/url"

	"github.com/pribylovaa/go-classbook/internal/models"
	"github.com/pribylovaa/go-classbook/internal/session"
)

// SnapshotSource — источник снимка состояния аутентификации.
// Реализуется *session.Session.
type SnapshotSource interface {
	Snapshot() session.Snapshot
}

// GuardOptions — настройки RouteGuard.
type GuardOptions struct {
	// LoginPath — куда перенаправлять неаутентифицированного пользователя.
	LoginPath string
}

type userKey struct{}

// WithUser кладёт пользователя в контекст запроса.
func WithUser(ctx context.Context, u *models.User) context.Context {
	return context.WithValue(ctx, userKey{}, u)
}

// UserFrom достаёт пользователя, положенного RouteGuard.
func UserFrom(ctx context.Context) (*models.User, bool) {
	u, ok := ctx.Value(userKey{}).(*models.User)
	return u, ok && u != nil
}

const loadingPage = `<!doctype html>
<html><head><meta charset="utf-8"><meta http-equiv="refresh" content="1"><title>Loading</title></head>
<body><p>Loading...</p></body></html>
`

// RouteGuard пропускает к защищённому обработчику только аутентифицированную
// сессию. Решение принимается по свежему снимку на каждый запрос:
//   - сессия не инициализирована или идёт операция — нейтральная страница
//     загрузки (202), защищённый обработчик не вызывается;
//   - не аутентифицирован — один 303 на страницу входа с next=;
//   - аутентифицирован — пользователь кладётся в контекст.
func RouteGuard(src SnapshotSource, opts GuardOptions) Middleware {
	loginPath := opts.LoginPath
	if loginPath == "" {
		loginPath = "/login"
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			snap := src.Snapshot()

			switch {
			case !snap.Initialized || snap.Loading:
				w.Header().Set("Cache-Control", "no-store")
				w.Header().Set("Retry-After", "1")
				w.Header().Set("Content-Type", "text/html; charset=utf-8")
				w.WriteHeader(http.StatusAccepted)
				_, _ = w.Write([]byte(loadingPage))
			case !snap.Authenticated():
				target := loginPath + "?next=" + url.QueryEscape(r.URL.RequestURI())
				w.Header().Set("Cache-Control", "no-store")
				http.Redirect(w, r, target, http.StatusSeeOther)
			default:
				next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), snap.User)))
			}
		})
	}
}
