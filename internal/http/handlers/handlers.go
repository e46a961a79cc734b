// Package handlers — страницы портала: формы входа/регистрации, профиль
// и списки ресурсов. Ответы — серверный HTML (html/template).
package handlers

import (
	"bytes"
	"context"
	"embed"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pribylovaa/go-classbook/internal/clients"
	apierrors "github.com/pribylovaa/go-classbook/internal/errors"
	"github.com/pribylovaa/go-classbook/internal/health"
	"github.com/pribylovaa/go-classbook/internal/http/middleware"
	"github.com/pribylovaa/go-classbook/internal/models"
	logctx "github.com/pribylovaa/go-classbook/internal/pkg/log"
	"github.com/pribylovaa/go-classbook/internal/session"
)

//go:embed templates/*.html
var templatesFS embed.FS

// Session — операции AuthSession, нужные страницам (*session.Session).
type Session interface {
	Snapshot() session.Snapshot
	Login(ctx context.Context, email, password string) session.Result
	Register(ctx context.Context, in session.RegisterInput) session.Result
	Logout(ctx context.Context)
	UpdateProfile(ctx context.Context, in session.ProfileUpdate) session.Result
}

// HealthSource — снимок монитора бэкенда (*health.Monitor). Может быть nil.
type HealthSource interface {
	State() health.State
}

// Handlers агрегирует зависимости страниц.
type Handlers struct {
	Session Session
	Clients *clients.Clients
	Health  HealthSource

	LoginPath string

	pages map[string]*template.Template
}

const dateLayout = "2006-01-02"

var pageNames = []string{
	"login", "register", "dashboard", "profile",
	"tasks", "classes", "students", "subjects", "results", "todo_lists", "plannings",
}

func New(sess Session, cl *clients.Clients, hs HealthSource) *Handlers {
	funcs := template.FuncMap{
		"className":   clients.ClassName,
		"studentName": clients.StudentName,
		"subjectName": clients.SubjectName,
		"date": func(t *time.Time) string {
			if t == nil || t.IsZero() {
				return ""
			}
			return t.Format(dateLayout)
		},
	}

	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		pages[name] = template.Must(template.New(name).Funcs(funcs).ParseFS(templatesFS,
			"templates/layout.html", "templates/"+name+".html"))
	}

	return &Handlers{
		Session:   sess,
		Clients:   cl,
		Health:    hs,
		LoginPath: "/login",
		pages:     pages,
	}
}

// page — данные шаблона. Items и связанные списки заполняются по странице.
type page struct {
	Title  string
	User   *models.User
	Error  string
	Next   string
	Form   map[string]string
	Health *health.State

	Items    any
	Classes  []models.Class
	Students []models.Student
	Subjects []models.Subject
	Lists    []models.TodoList
	ListID   string
}

func (h *Handlers) newPage(r *http.Request, title string) *page {
	p := &page{Title: title, Form: map[string]string{}}
	p.User, _ = middleware.UserFrom(r.Context())
	return p
}

// render пишет страницу целиком: шаблон исполняется в буфер до WriteHeader.
func (h *Handlers) render(w http.ResponseWriter, r *http.Request, status int, name string, p *page) {
	tpl, ok := h.pages[name]
	if !ok {
		apierrors.WriteError(w, r, apierrors.New(apierrors.KindInternal, "internal error"))
		return
	}

	var buf bytes.Buffer
	if err := tpl.ExecuteTemplate(&buf, "layout", p); err != nil {
		logctx.From(r.Context()).Error("template_render_failed",
			slog.String("page", name),
			slog.String("err", err.Error()),
		)
		apierrors.WriteError(w, r, apierrors.New(apierrors.KindInternal, "internal error"))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

// fail показывает ошибку на странице. Ошибка аутентификации означает, что
// сессия уже сброшена: отправляем на вход.
func (h *Handlers) fail(w http.ResponseWriter, r *http.Request, name string, p *page, err error) {
	if apierrors.IsAuth(err) {
		h.redirectLogin(w, r)
		return
	}

	status, _ := apierrors.ToHTTP(err)
	if status == apierrors.StatusClientClosedRequest {
		return
	}

	logctx.From(r.Context()).Warn("page_action_failed",
		slog.String("page", name),
		slog.String("err", err.Error()),
	)

	p.Error = apierrors.Message(err)
	h.render(w, r, status, name, p)
}

func (h *Handlers) redirectLogin(w http.ResponseWriter, r *http.Request) {
	next := r.URL.RequestURI()
	if r.Method != http.MethodGet {
		next = r.URL.Path
	}
	http.Redirect(w, r, h.LoginPath+"?next="+url.QueryEscape(next), http.StatusSeeOther)
}

// seeOther — PRG после успешной отправки формы.
func seeOther(w http.ResponseWriter, r *http.Request, target string) {
	http.Redirect(w, r, target, http.StatusSeeOther)
}

// safeNext допускает только локальные пути.
func safeNext(next string) string {
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.Contains(next, "\\") {
		return "/"
	}
	return next
}

// form читает поля формы, обрезая пробелы. Пароли не трогаются.
func form(r *http.Request, keys ...string) map[string]string {
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		v := r.PostFormValue(k)
		if !strings.Contains(k, "password") {
			v = strings.TrimSpace(v)
		}
		out[k] = v
	}
	return out
}
