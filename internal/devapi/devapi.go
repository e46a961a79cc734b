// Package devapi — локальный in-memory бэкенд с тем же REST-контрактом,
// что и настоящий сервер: регистрация/вход (JWT HS256), профиль, CRUD
// ресурсов и /api/health. Используется для разработки портала и в тестах.
//
// Данные живут только в памяти процесса; пользователи и их записи
// изолированы друг от друга по user_id из токена.
package devapi

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/pribylovaa/go-classbook/internal/models"
)

// Options — параметры dev API.
type Options struct {
	JWTSecret  string
	TokenTTL   time.Duration
	AuthPrefix string // по умолчанию /api/v1/auth; /auth принимается всегда
	Logger     *slog.Logger

	// Now и NewID подменяются в тестах.
	Now   func() time.Time
	NewID func() string
}

// Server — in-memory бэкенд.
type Server struct {
	opts  Options
	users *userStore

	tasks     *table[models.Task]
	classes   *table[models.Class]
	students  *table[models.Student]
	subjects  *table[models.Subject]
	results   *table[models.Result]
	todoLists *table[models.TodoList]
	plannings *table[models.Planning]

	healthMu sync.RWMutex
	health   string
}

func New(opts Options) *Server {
	if opts.JWTSecret == "" {
		opts.JWTSecret = "dev-secret-change-me"
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = 24 * time.Hour
	}
	if opts.AuthPrefix == "" {
		opts.AuthPrefix = "/api/v1/auth"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if opts.NewID == nil {
		opts.NewID = func() string { return uuid.NewString() }
	}

	s := &Server{
		opts:   opts,
		users:  newUserStore(),
		health: "healthy",
	}

	s.tasks = newTable("Task", func(t *models.Task, id, owner string, now time.Time, prev *models.Task) {
		t.ID, t.UserID, t.UpdatedAt = id, owner, now
		if prev != nil {
			t.CreatedAt = prev.CreatedAt
		} else {
			t.CreatedAt = now
		}
	})
	s.classes = newTable("Class", func(c *models.Class, id, owner string, _ time.Time, _ *models.Class) {
		c.ID, c.TeacherID = id, owner
	})
	s.students = newTable("Student", func(st *models.Student, id, _ string, _ time.Time, _ *models.Student) {
		st.ID = id
	})
	s.subjects = newTable("Subject", func(sub *models.Subject, id, _ string, _ time.Time, _ *models.Subject) {
		sub.ID = id
	})
	s.results = newTable("Result", func(r *models.Result, id, _ string, _ time.Time, _ *models.Result) {
		r.ID = id
	})
	s.todoLists = newTable("Todo list", func(l *models.TodoList, id, owner string, now time.Time, prev *models.TodoList) {
		l.ID, l.UserID, l.UpdatedAt = id, owner, now
		if prev != nil {
			l.CreatedAt = prev.CreatedAt
		} else {
			l.CreatedAt = now
		}
	})
	s.plannings = newTable("Planning", func(p *models.Planning, id, _ string, _ time.Time, _ *models.Planning) {
		p.ID = id
	})

	return s
}

// SetHealth меняет статус, который отдаёт /api/health
// (healthy | degraded | unhealthy).
func (s *Server) SetHealth(status string) {
	s.healthMu.Lock()
	defer s.healthMu.Unlock()
	s.health = status
}

// Handler собирает chi-роутер dev API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.logging)

	r.Get("/api/health", s.handleHealth)

	authRoutes := func(r chi.Router) {
		r.Post("/register", s.handleRegister)
		r.Post("/login", s.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(s.requireUser)
			r.Post("/logout", s.handleLogout)
			r.Get("/profile", s.handleProfile)
			r.Get("/me", s.handleProfile)
			r.Put("/profile", s.handleUpdateProfile)
		})
	}
	r.Route(s.opts.AuthPrefix, authRoutes)
	if s.opts.AuthPrefix != "/auth" {
		r.Route("/auth", authRoutes)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.requireUser)

		r.Route("/tasks", func(r chi.Router) {
			r.Get("/todo-lists/{id}", s.handleTasksByList)
			r.Patch("/{id}/toggle", s.handleToggleTask)
			mountCRUD(r, s, s.tasks)
		})
		r.Route("/classes", func(r chi.Router) { mountCRUD(r, s, s.classes) })
		r.Route("/students", func(r chi.Router) { mountCRUD(r, s, s.students) })
		r.Route("/subjects", func(r chi.Router) { mountCRUD(r, s, s.subjects) })
		r.Route("/results", func(r chi.Router) { mountCRUD(r, s, s.results) })
		r.Route("/todo-lists", func(r chi.Router) { mountCRUD(r, s, s.todoLists) })
		r.Route("/plannings", func(r chi.Router) { mountCRUD(r, s, s.plannings) })
	})

	return r
}
