package devapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/pribylovaa/go-classbook/internal/models"
	logctx "github.com/pribylovaa/go-classbook/internal/pkg/log"
	"github.com/pribylovaa/go-classbook/internal/pkg/redact"
	"github.com/pribylovaa/go-classbook/internal/pkg/validate"
)

const (
	detailEmailTaken   = "Email already registered"
	detailBadLogin     = "Incorrect email or password"
	detailInvalidToken = "Could not validate credentials"
)

var errInvalidToken = errors.New("invalid token")

// accessClaims: sub — email, user_id — id пользователя.
type accessClaims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

type registerRequest struct {
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required,min=8"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Username  string `json:"username,omitempty"`
}

type profileRequest struct {
	Email     *string `json:"email,omitempty" validate:"omitempty,email"`
	FirstName *string `json:"first_name,omitempty"`
	LastName  *string `json:"last_name,omitempty"`
	Username  *string `json:"username,omitempty"`
}

func (s *Server) issueToken(u models.User) (string, error) {
	const op = "devapi.issueToken"

	now := s.opts.Now()
	claims := accessClaims{
		UserID: u.ID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.Email,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.opts.TokenTTL)),
			ID:        s.opts.NewID(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.opts.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return signed, nil
}

func (s *Server) parseToken(raw string) (*accessClaims, error) {
	const op = "devapi.parseToken"

	token, err := jwt.ParseWithClaims(raw, &accessClaims{},
		func(t *jwt.Token) (interface{}, error) {
			return []byte(s.opts.JWTSecret), nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.opts.Now),
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, errInvalidToken)
	}

	claims, ok := token.Claims.(*accessClaims)
	if !ok || !token.Valid || claims.UserID == "" {
		return nil, fmt.Errorf("%s: %w", op, errInvalidToken)
	}

	return claims, nil
}

type ctxKey int

const (
	ctxUserID ctxKey = iota
	ctxToken
)

// requireUser проверяет Bearer-токен и кладёт user_id в контекст.
func (s *Server) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || raw == "" {
			writeDetail(w, http.StatusUnauthorized, "Not authenticated")
			return
		}

		claims, err := s.parseToken(raw)
		if err != nil || s.users.isRevoked(raw, s.opts.Now()) {
			writeDetail(w, http.StatusUnauthorized, detailInvalidToken)
			return
		}

		if _, err := s.users.get(claims.UserID); err != nil {
			writeDetail(w, http.StatusUnauthorized, detailInvalidToken)
			return
		}

		ctx := context.WithValue(r.Context(), ctxUserID, claims.UserID)
		ctx = context.WithValue(ctx, ctxToken, raw)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userID(r *http.Request) string {
	id, _ := r.Context().Value(ctxUserID).(string)
	return id
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var in registerRequest
	if !decode(w, r, &in) {
		return
	}

	if err := validate.Struct(in); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		writeInternal(w, r, err)
		return
	}

	now := s.opts.Now()
	rec := &userRecord{
		User: models.User{
			ID:        s.opts.NewID(),
			Email:     strings.TrimSpace(in.Email),
			Username:  in.Username,
			FirstName: in.FirstName,
			LastName:  in.LastName,
			IsActive:  true,
			CreatedAt: now,
			UpdatedAt: now,
		},
		PasswordHash: string(hash),
	}

	if err := s.users.add(rec); err != nil {
		writeDetail(w, http.StatusBadRequest, detailEmailTaken)
		return
	}

	logctx.From(r.Context()).Info("dev_user_registered", slog.String("email", redact.Email(rec.Email)))
	s.writeToken(w, r, rec.User)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in models.Credentials
	if !decode(w, r, &in) {
		return
	}

	rec, err := s.users.byEmailAddr(in.Email)
	if err != nil || bcrypt.CompareHashAndPassword([]byte(rec.PasswordHash), []byte(in.Password)) != nil {
		writeDetail(w, http.StatusUnauthorized, detailBadLogin)
		return
	}

	s.writeToken(w, r, rec.User)
}

func (s *Server) writeToken(w http.ResponseWriter, r *http.Request, u models.User) {
	tok, err := s.issueToken(u)
	if err != nil {
		writeInternal(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, models.TokenResponse{AccessToken: tok, TokenType: "bearer"})
}

// handleLogout отзывает предъявленный токен до его истечения.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	raw, _ := r.Context().Value(ctxToken).(string)
	until := s.opts.Now().Add(s.opts.TokenTTL)
	if claims, err := s.parseToken(raw); err == nil && claims.ExpiresAt != nil {
		until = claims.ExpiresAt.Time
	}
	s.users.revoke(raw, until)

	writeJSON(w, http.StatusOK, map[string]string{"message": "Successfully logged out"})
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	rec, err := s.users.get(userID(r))
	if err != nil {
		writeDetail(w, http.StatusNotFound, "User not found")
		return
	}

	writeJSON(w, http.StatusOK, rec.User)
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var in profileRequest
	if !decode(w, r, &in) {
		return
	}

	if err := validate.Struct(in); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	now := s.opts.Now()
	u, err := s.users.update(userID(r), func(u *models.User) {
		if in.Email != nil && *in.Email != "" {
			u.Email = strings.TrimSpace(*in.Email)
		}
		if in.FirstName != nil {
			u.FirstName = *in.FirstName
		}
		if in.LastName != nil {
			u.LastName = *in.LastName
		}
		if in.Username != nil {
			u.Username = *in.Username
		}
		u.UpdatedAt = now
	})
	switch {
	case errors.Is(err, errEmailTaken):
		writeDetail(w, http.StatusBadRequest, detailEmailTaken)
		return
	case err != nil:
		writeDetail(w, http.StatusNotFound, "User not found")
		return
	}

	writeJSON(w, http.StatusOK, u)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.healthMu.RLock()
	status := s.health
	s.healthMu.RUnlock()

	code := http.StatusOK
	if status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]any{
		"status":         status,
		"overall_status": status,
		"timestamp":      s.opts.Now().Format(time.RFC3339),
		"individual_checks": map[string]any{
			"api":     map[string]string{"status": "healthy"},
			"storage": map[string]string{"status": status},
		},
	})
}
