package handlers

import (
	"net/http"

	"github.com/pribylovaa/go-classbook/internal/session"
)

// LoginPage: аутентифицированный пользователь сразу уходит на next.
func (h *Handlers) LoginPage(w http.ResponseWriter, r *http.Request) {
	next := safeNext(r.URL.Query().Get("next"))
	if h.Session.Snapshot().Authenticated() {
		seeOther(w, r, next)
		return
	}

	p := h.newPage(r, "Sign in")
	p.Next = next
	h.render(w, r, http.StatusOK, "login", p)
}

func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	f := form(r, "email", "password", "next")
	next := safeNext(f["next"])

	res := h.Session.Login(r.Context(), f["email"], f["password"])
	if res.Success {
		seeOther(w, r, next)
		return
	}

	delete(f, "password")
	p := h.newPage(r, "Sign in")
	p.Next = next
	p.Form = f
	p.Error = res.Message
	h.render(w, r, http.StatusUnprocessableEntity, "login", p)
}

func (h *Handlers) RegisterPage(w http.ResponseWriter, r *http.Request) {
	if h.Session.Snapshot().Authenticated() {
		seeOther(w, r, "/")
		return
	}

	h.render(w, r, http.StatusOK, "register", h.newPage(r, "Create account"))
}

func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) {
	f := form(r, "email", "password", "password_confirm", "first_name", "last_name", "username")

	res := h.Session.Register(r.Context(), session.RegisterInput{
		Email:           f["email"],
		Password:        f["password"],
		PasswordConfirm: f["password_confirm"],
		FirstName:       f["first_name"],
		LastName:        f["last_name"],
		Username:        f["username"],
	})
	if res.Success {
		seeOther(w, r, "/")
		return
	}

	delete(f, "password")
	delete(f, "password_confirm")
	p := h.newPage(r, "Create account")
	p.Form = f
	p.Error = res.Message
	h.render(w, r, http.StatusUnprocessableEntity, "register", p)
}

// Logout сбрасывает сессию и кэши ресурсов.
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	h.Session.Logout(r.Context())
	h.Clients.Reset()
	seeOther(w, r, h.LoginPath)
}

func (h *Handlers) ProfilePage(w http.ResponseWriter, r *http.Request) {
	p := h.newPage(r, "Profile")
	if p.User != nil {
		p.Form = map[string]string{
			"email":      p.User.Email,
			"first_name": p.User.FirstName,
			"last_name":  p.User.LastName,
			"username":   p.User.Username,
		}
	}
	h.render(w, r, http.StatusOK, "profile", p)
}

func (h *Handlers) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	f := form(r, "email", "first_name", "last_name", "username")

	res := h.Session.UpdateProfile(r.Context(), session.ProfileUpdate{
		Email:     f["email"],
		FirstName: f["first_name"],
		LastName:  f["last_name"],
		Username:  f["username"],
	})
	if res.Success {
		seeOther(w, r, "/profile")
		return
	}

	// UpdateProfile мог сбросить сессию (401).
	if !h.Session.Snapshot().Authenticated() {
		h.redirectLogin(w, r)
		return
	}

	p := h.newPage(r, "Profile")
	p.Form = f
	p.Error = res.Message
	h.render(w, r, http.StatusUnprocessableEntity, "profile", p)
}

// Dashboard — сводка: пользователь, задачи, состояние бэкенда.
func (h *Handlers) Dashboard(w http.ResponseWriter, r *http.Request) {
	p := h.newPage(r, "Dashboard")
	if h.Health != nil {
		st := h.Health.State()
		p.Health = &st
	}

	tasks, err := h.Clients.Tasks.List(r.Context())
	if err != nil {
		h.fail(w, r, "dashboard", p, err)
		return
	}

	open := 0
	for _, t := range tasks {
		if !t.Completed {
			open++
		}
	}
	p.Items = map[string]int{"total": len(tasks), "open": open}

	h.render(w, r, http.StatusOK, "dashboard", p)
}
