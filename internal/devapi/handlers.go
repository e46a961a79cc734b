package devapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pribylovaa/go-classbook/internal/models"
	logctx "github.com/pribylovaa/go-classbook/internal/pkg/log"
	"github.com/pribylovaa/go-classbook/internal/pkg/validate"
)

// errorBody — формат ошибок бэкенда: {"detail": "..."}.
type errorBody struct {
	Detail string `json:"detail"`
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorBody{Detail: detail})
}

func writeInternal(w http.ResponseWriter, r *http.Request, err error) {
	logctx.From(r.Context()).Error("dev_api_internal", slog.String("err", err.Error()))
	writeDetail(w, http.StatusInternalServerError, "Internal server error")
}

// decode — строгий JSON-декодер: неизвестные поля запрещены.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "Invalid request body")
		return false
	}
	return true
}

// logging — одна запись на запрос; заголовок Authorization не пишется.
func (s *Server) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		l := s.opts.Logger.With(slog.String("component", "devapi"))
		if rid := r.Header.Get("X-Request-Id"); rid != "" {
			l = l.With(slog.String("request_id", rid))
		}
		r = r.WithContext(logctx.Into(r.Context(), l))

		start := time.Now()
		ww := &codeWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(ww, r)

		l.Debug("dev_api_request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.code),
			slog.Duration("dur", time.Since(start)),
		)
	})
}

type codeWriter struct {
	http.ResponseWriter
	code int
}

func (w *codeWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// mountCRUD регистрирует list/create/get/update/delete для таблицы.
func mountCRUD[T models.Identifiable](r chi.Router, s *Server, t *table[T]) {
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, t.list(userID(r), nil))
	})

	r.Post("/", func(w http.ResponseWriter, r *http.Request) {
		var in T
		if !decode(w, r, &in) {
			return
		}
		if err := validate.Struct(in); err != nil {
			writeDetail(w, http.StatusUnprocessableEntity, err.Error())
			return
		}

		writeJSON(w, http.StatusCreated, t.create(userID(r), s.opts.NewID(), in, s.opts.Now()))
	})

	r.Get("/{id}", func(w http.ResponseWriter, r *http.Request) {
		it, err := t.get(userID(r), chi.URLParam(r, "id"))
		if err != nil {
			writeDetail(w, http.StatusNotFound, t.name+" not found")
			return
		}
		writeJSON(w, http.StatusOK, it)
	})

	r.Put("/{id}", func(w http.ResponseWriter, r *http.Request) {
		var in T
		if !decode(w, r, &in) {
			return
		}
		if err := validate.Struct(in); err != nil {
			writeDetail(w, http.StatusUnprocessableEntity, err.Error())
			return
		}

		it, err := t.update(userID(r), chi.URLParam(r, "id"), s.opts.Now(), func(T) T { return in })
		if err != nil {
			writeDetail(w, http.StatusNotFound, t.name+" not found")
			return
		}
		writeJSON(w, http.StatusOK, it)
	})

	r.Delete("/{id}", func(w http.ResponseWriter, r *http.Request) {
		if err := t.delete(userID(r), chi.URLParam(r, "id")); err != nil {
			writeDetail(w, http.StatusNotFound, t.name+" not found")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

func (s *Server) handleToggleTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.tasks.update(userID(r), chi.URLParam(r, "id"), s.opts.Now(), func(cur models.Task) models.Task {
		cur.Completed = !cur.Completed
		return cur
	})
	if errors.Is(err, errNotFound) {
		writeDetail(w, http.StatusNotFound, "Task not found")
		return
	}

	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleTasksByList(w http.ResponseWriter, r *http.Request) {
	owner, listID := userID(r), chi.URLParam(r, "id")

	if _, err := s.todoLists.get(owner, listID); err != nil {
		writeDetail(w, http.StatusNotFound, "Todo list not found")
		return
	}

	writeJSON(w, http.StatusOK, s.tasks.list(owner, func(t models.Task) bool {
		return t.TodoListID == listID
	}))
}
