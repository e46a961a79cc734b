package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pribylovaa/go-classbook/internal/http/handlers"
	"github.com/pribylovaa/go-classbook/internal/http/middleware"
)

// Options — параметры сборки HTTP-роутера портала.
type Options struct {
	Logger  *slog.Logger
	Timeout time.Duration

	// Limiter ограничивает отправку форм входа/регистрации; nil — без ограничения.
	Limiter *middleware.RateLimiter
}

// NewRouter собирает http.Handler портала с chi и подключёнными middleware/роутами.
// Защищённые страницы пропускаются через RouteGuard по снимку src.
func NewRouter(h *handlers.Handlers, src middleware.SnapshotSource, opts Options) http.Handler {
	root := chi.NewRouter()

	// Middleware (внешний -> внутренний).
	root.Use(
		middleware.Recover(),
		middleware.RequestID(), // до логирования: id попадает в attrs
		middleware.Logging(opts.Logger),
	)
	if opts.Timeout > 0 {
		root.Use(middleware.Timeout(opts.Timeout))
	}

	guard := middleware.RouteGuard(src, middleware.GuardOptions{LoginPath: h.LoginPath})

	registerRoutes(root, h, guard, opts.Limiter)
	return root
}

// registerRoutes — единая точка регистрации страниц портала.
func registerRoutes(r chi.Router, h *handlers.Handlers, guard middleware.Middleware, limiter *middleware.RateLimiter) {
	// публичные
	r.Group(func(r chi.Router) {
		if limiter != nil {
			r.Use(limiter.Middleware())
		}
		r.Get("/login", h.LoginPage)
		r.Post("/login", h.Login)
		r.Get("/register", h.RegisterPage)
		r.Post("/register", h.Register)
	})
	r.Post("/logout", h.Logout)

	// защищённые
	r.Group(func(r chi.Router) {
		r.Use(guard)

		r.Get("/", h.Dashboard)
		r.Get("/profile", h.ProfilePage)
		r.Post("/profile", h.UpdateProfile)

		for _, res := range h.Resources() {
			r.Get(res.Base(), res.List)
			r.Post(res.Base(), res.Create)
			r.Post(res.Base()+"/{id}/delete", res.Delete)
		}
		r.Post("/tasks/{id}/toggle", h.ToggleTask)
	})
}
