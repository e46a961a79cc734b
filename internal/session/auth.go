package session

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/pribylovaa/go-classbook/internal/client"
	apierrors "github.com/pribylovaa/go-classbook/internal/errors"
	"github.com/pribylovaa/go-classbook/internal/models"
	"github.com/pribylovaa/go-classbook/internal/pkg/redact"
	"github.com/pribylovaa/go-classbook/internal/pkg/validate"
)

// RegisterInput — данные формы регистрации.
// PasswordConfirm проверяется, только если передан.
type RegisterInput struct {
	Email           string `json:"email" validate:"required,email"`
	Password        string `json:"password" validate:"required,min=8"`
	PasswordConfirm string `json:"password_confirm,omitempty" validate:"omitempty,eqfield=Password"`
	FirstName       string `json:"first_name,omitempty"`
	LastName        string `json:"last_name,omitempty"`
	Username        string `json:"username,omitempty"`
}

// ProfileUpdate — изменяемые поля профиля.
type ProfileUpdate struct {
	Email     string `json:"email,omitempty" validate:"omitempty,email"`
	FirstName string `json:"first_name,omitempty" validate:"max=100"`
	LastName  string `json:"last_name,omitempty" validate:"max=100"`
	Username  string `json:"username,omitempty" validate:"max=100"`
}

// Init восстанавливает сессию из хранилища: нет токена — unauthenticated;
// истёк — попытка обновления (если настроено); затем запрос профиля.
// Любой отказ очищает токен. По завершении Initialized истинно.
func (s *Session) Init(ctx context.Context) Snapshot {
	s.begin(true)
	s.restore(ctx)
	s.end()

	return s.Snapshot()
}

// restore выполняет проверку сохранённого токена; вызывается между begin и end.
func (s *Session) restore(ctx context.Context) {
	log := s.logFor(ctx)

	tok, err := s.tokens.Get(ctx)
	if err != nil {
		log.Warn("session_storage_unreadable", slog.String("err", err.Error()))
		s.unauthenticate()
		return
	}

	if tok == "" {
		s.unauthenticate()
		return
	}

	if s.tokens.IsExpired(ctx) {
		refreshed, err := s.refresh(ctx, tok)
		if err != nil {
			log.Info("session_expired", slog.String("reason", err.Error()))
			s.clearToken(ctx)
			s.unauthenticate()
			return
		}
		tok = refreshed
	}

	user, err := s.fetchProfile(ctx, "")
	if err != nil {
		log.Info("session_profile_failed", slog.String("err", err.Error()))
		s.clearToken(ctx)
		s.unauthenticate()
		return
	}

	_ = s.authenticate(ctx, tok, user, false)
	log.Info("session_restored", slog.String("email", redact.Email(user.Email)))
}

// Login: проверка наличия полей, POST учётных данных, проверка выданного
// токена запросом профиля, затем атомарно запись токена и смена состояния.
func (s *Session) Login(ctx context.Context, email, password string) Result {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return Result{Message: "Email and password are required"}
	}

	s.begin(false)
	defer s.end()

	return s.login(ctx, models.Credentials{Email: email, Password: password}, "login")
}

// Register валидирует форму локально (без сети при ошибке), регистрирует
// пользователя и входит с полученным токеном.
func (s *Session) Register(ctx context.Context, in RegisterInput) Result {
	in.Email = strings.TrimSpace(in.Email)

	if err := validate.Struct(in); err != nil {
		return Result{Message: err.Error()}
	}

	s.begin(false)
	defer s.end()

	log := s.logFor(ctx).With(slog.String("email", redact.Email(in.Email)))

	body := struct {
		Email     string `json:"email"`
		Password  string `json:"password"`
		FirstName string `json:"first_name,omitempty"`
		LastName  string `json:"last_name,omitempty"`
		Username  string `json:"username,omitempty"`
	}{in.Email, in.Password, in.FirstName, in.LastName, in.Username}

	var resp models.TokenResponse
	err := s.api.Do(ctx, client.Request{
		Method: http.MethodPost,
		Path:   s.opts.AuthPrefix + "/register",
		Body:   body,
		Public: true,
	}, &resp)
	if err != nil {
		log.Info("register_failed", slog.String("err", err.Error()))
		return Result{Message: apierrors.Message(err)}
	}

	log.Info("register_succeeded")

	// Бэкенд может не выдать токен при регистрации — тогда обычный вход.
	if resp.AccessToken == "" {
		return s.login(ctx, models.Credentials{Email: in.Email, Password: in.Password}, "register")
	}

	return s.adopt(ctx, resp.AccessToken, in.Email, "register")
}

func (s *Session) login(ctx context.Context, creds models.Credentials, via string) Result {
	log := s.logFor(ctx).With(slog.String("email", redact.Email(creds.Email)))

	var resp models.TokenResponse
	err := s.api.Do(ctx, client.Request{
		Method: http.MethodPost,
		Path:   s.opts.AuthPrefix + "/login",
		Body:   creds,
		Public: true,
	}, &resp)
	if err != nil {
		log.Info("login_failed", slog.String("err", err.Error()))
		return Result{Message: apierrors.Message(err)}
	}

	if resp.AccessToken == "" {
		log.Warn("login_failed", slog.String("err", "empty access_token"))
		return Result{Message: "Login failed: the server did not issue a token"}
	}

	return s.adopt(ctx, resp.AccessToken, creds.Email, via)
}

// adopt проверяет новый токен запросом профиля и делает его текущим.
func (s *Session) adopt(ctx context.Context, token, email, via string) Result {
	log := s.logFor(ctx).With(slog.String("email", redact.Email(email)))

	user, err := s.fetchProfile(ctx, token)
	if err != nil {
		log.Info(via+"_profile_failed", slog.String("err", err.Error()))
		s.clearToken(ctx)
		s.unauthenticate()
		return Result{Message: apierrors.Message(err)}
	}

	if err := s.authenticate(ctx, token, user, true); err != nil {
		log.Error(via+"_persist_failed", slog.String("err", err.Error()))
		return Result{Message: "Could not save the session. Please try again."}
	}

	log.Info(via + "_succeeded")

	u := *user
	return Result{Success: true, User: &u}
}

// Logout: уведомление бэкенда best-effort, затем очистка токена.
func (s *Session) Logout(ctx context.Context) {
	s.begin(false)
	defer s.end()

	log := s.logFor(ctx)

	tok, _ := s.tokens.Get(ctx)
	if tok != "" && !s.tokens.IsExpired(ctx) {
		err := s.api.Do(ctx, client.Request{
			Method: http.MethodPost,
			Path:   s.opts.AuthPrefix + "/logout",
		}, nil)
		if err != nil {
			log.Debug("logout_notify_failed", slog.String("err", err.Error()))
		}
	}

	s.clearToken(ctx)
	s.unauthenticate()
	log.Info("logout")
}

// FetchUserProfile повторно синхронизирует профиль с сервером.
// Идемпотентна; при ошибке сессия сбрасывается.
func (s *Session) FetchUserProfile(ctx context.Context) error {
	const op = "session.FetchUserProfile"

	s.begin(false)
	defer s.end()

	tok, err := s.tokens.Get(ctx)
	if err != nil || tok == "" {
		s.unauthenticate()
		if err == nil {
			err = apierrors.New(apierrors.KindAuth, "")
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	user, err := s.fetchProfile(ctx, "")
	if err != nil {
		s.clearToken(ctx)
		s.unauthenticate()
		return fmt.Errorf("%s: %w", op, err)
	}

	_ = s.authenticate(ctx, tok, user, false)
	return nil
}

// UpdateProfile сохраняет изменения профиля и обновляет пользователя в сессии.
func (s *Session) UpdateProfile(ctx context.Context, in ProfileUpdate) Result {
	if err := validate.Struct(in); err != nil {
		return Result{Message: err.Error()}
	}

	s.begin(false)
	defer s.end()

	var user models.User
	err := s.api.Do(ctx, client.Request{
		Method: http.MethodPut,
		Path:   s.opts.ProfilePath,
		Body:   in,
	}, &user)
	if err != nil {
		s.logFor(ctx).Info("profile_update_failed", slog.String("err", err.Error()))
		return Result{Message: apierrors.Message(err)}
	}

	s.mu.Lock()
	if s.state == StateAuthenticated {
		u := user
		s.user = &u
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.notify(snap)

	return Result{Success: true, User: &user}
}

// Refresh обменивает текущий токен на новый через Refresher.
func (s *Session) Refresh(ctx context.Context) error {
	const op = "session.Refresh"

	tok, err := s.tokens.Get(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if tok == "" {
		return fmt.Errorf("%s: %w", op, apierrors.New(apierrors.KindAuth, ""))
	}

	fresh, err := s.refresh(ctx, tok)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.mu.Lock()
	if s.state == StateAuthenticated {
		s.token = fresh
	}
	s.mu.Unlock()

	return nil
}

// HandleUnauthorized — подписчик SessionClient.OnUnauthorized: токен уже
// очищен клиентом, сессия немедленно становится unauthenticated.
func (s *Session) HandleUnauthorized(ctx context.Context, reason string) {
	s.logFor(ctx).Info("session_unauthorized", slog.String("reason", reason))
	s.unauthenticate()
}

func (s *Session) refresh(ctx context.Context, tok string) (string, error) {
	if s.opts.Refresher == nil {
		return "", ErrRefreshUnsupported
	}

	fresh, err := s.opts.Refresher.Refresh(ctx, tok)
	if err != nil {
		return "", err
	}

	if err := s.tokens.Set(ctx, fresh); err != nil {
		return "", err
	}

	if s.tokens.IsExpired(ctx) {
		return "", fmt.Errorf("refreshed token is already expired")
	}

	return fresh, nil
}

// fetchProfile: token != "" — проверка ещё не сохранённого токена.
func (s *Session) fetchProfile(ctx context.Context, token string) (*models.User, error) {
	var user models.User
	err := s.api.Do(ctx, client.Request{
		Method: http.MethodGet,
		Path:   s.opts.ProfilePath,
		Token:  token,
	}, &user)
	if err != nil {
		return nil, err
	}

	return &user, nil
}
