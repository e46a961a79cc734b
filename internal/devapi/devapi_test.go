package devapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pribylovaa/go-classbook/internal/auth"
	"github.com/pribylovaa/go-classbook/internal/client"
	"github.com/pribylovaa/go-classbook/internal/clients"
	"github.com/pribylovaa/go-classbook/internal/health"
	"github.com/pribylovaa/go-classbook/internal/models"
	"github.com/pribylovaa/go-classbook/internal/session"
	"github.com/pribylovaa/go-classbook/internal/storage/memory"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

// testClock — время сервера со сдвигом, безопасным для чтения из хендлеров.
type testClock struct{ offset atomic.Int64 }

func (c *testClock) now() time.Time { return time.Now().UTC().Add(time.Duration(c.offset.Load())) }

func (c *testClock) advance(d time.Duration) { c.offset.Add(int64(d)) }

func newServer(t *testing.T) (*Server, *httptest.Server, *testClock) {
	t.Helper()

	var seq atomic.Int64
	clock := &testClock{}
	s := New(Options{
		JWTSecret: "test-secret",
		TokenTTL:  time.Hour,
		Logger:    quiet,
		Now:       clock.now,
		NewID:     func() string { return fmt.Sprintf("id-%d", seq.Add(1)) },
	})

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	return s, ts, clock
}

func call(t *testing.T, ts *httptest.Server, method, path, token string, body any) (*http.Response, []byte) {
	t.Helper()

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, ts.URL+path, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp, raw
}

func register(t *testing.T, ts *httptest.Server, email, password string) string {
	t.Helper()

	resp, raw := call(t, ts, http.MethodPost, "/api/v1/auth/register", "", map[string]string{"email": email, "password": password})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))

	var tok models.TokenResponse
	require.NoError(t, json.Unmarshal(raw, &tok))
	require.Equal(t, "bearer", tok.TokenType)
	require.NotEmpty(t, tok.AccessToken)

	return tok.AccessToken
}

func detail(t *testing.T, raw []byte) string {
	t.Helper()

	var e errorBody
	require.NoError(t, json.Unmarshal(raw, &e))
	return e.Detail
}

func TestRegisterLoginProfile(t *testing.T) {
	s, ts, _ := newServer(t)

	tok := register(t, ts, "teacher@school.test", "password123")

	claims, err := s.parseToken(tok)
	require.NoError(t, err)
	require.Equal(t, "teacher@school.test", claims.Subject)
	require.NotEmpty(t, claims.UserID)

	resp, raw := call(t, ts, http.MethodPost, "/api/v1/auth/register", "", map[string]string{"email": "Teacher@School.test", "password": "password123"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, detailEmailTaken, detail(t, raw))

	resp, raw = call(t, ts, http.MethodPost, "/auth/login", "", models.Credentials{Email: "teacher@school.test", Password: "wrong-password"})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, detailBadLogin, detail(t, raw))

	resp, _ = call(t, ts, http.MethodPost, "/api/v1/auth/login", "", models.Credentials{Email: "teacher@school.test", Password: "password123"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	for _, path := range []string{"/api/v1/auth/profile", "/api/v1/auth/me", "/auth/profile"} {
		resp, raw = call(t, ts, http.MethodGet, path, tok, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode, path)

		var u models.User
		require.NoError(t, json.Unmarshal(raw, &u))
		require.Equal(t, claims.UserID, u.ID)
		require.True(t, u.IsActive)
	}
}

func TestRegister_Validation(t *testing.T) {
	_, ts, _ := newServer(t)

	resp, raw := call(t, ts, http.MethodPost, "/api/v1/auth/register", "", map[string]string{"email": "nope", "password": "short"})
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	require.NotEmpty(t, detail(t, raw))

	resp, _ = call(t, ts, http.MethodPost, "/api/v1/auth/register", "", map[string]any{"email": "a@b.c", "password": "password123", "role": "admin"})
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestProtectedRoutesRequireValidToken(t *testing.T) {
	_, ts, clock := newServer(t)

	resp, _ := call(t, ts, http.MethodGet, "/api/v1/tasks", "", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = call(t, ts, http.MethodGet, "/api/v1/tasks", "garbage", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	tok := register(t, ts, "a@school.test", "password123")

	// Истёкший токен.
	clock.advance(2 * time.Hour)
	resp, raw := call(t, ts, http.MethodGet, "/api/v1/tasks", tok, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, detailInvalidToken, detail(t, raw))
}

func TestLogoutRevokesToken(t *testing.T) {
	_, ts, _ := newServer(t)

	tok := register(t, ts, "a@school.test", "password123")

	resp, _ := call(t, ts, http.MethodPost, "/api/v1/auth/logout", tok, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = call(t, ts, http.MethodGet, "/api/v1/auth/profile", tok, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestUpdateProfile(t *testing.T) {
	_, ts, _ := newServer(t)

	tok := register(t, ts, "a@school.test", "password123")
	register(t, ts, "b@school.test", "password123")

	resp, raw := call(t, ts, http.MethodPut, "/api/v1/auth/profile", tok, map[string]string{"first_name": "Ada"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var u models.User
	require.NoError(t, json.Unmarshal(raw, &u))
	require.Equal(t, "Ada", u.FirstName)
	require.Equal(t, "a@school.test", u.Email)

	resp, raw = call(t, ts, http.MethodPut, "/api/v1/auth/profile", tok, map[string]string{"email": "b@school.test"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, detailEmailTaken, detail(t, raw))
}

func TestTaskCRUDToggleAndIsolation(t *testing.T) {
	_, ts, _ := newServer(t)

	alice := register(t, ts, "alice@school.test", "password123")
	bob := register(t, ts, "bob@school.test", "password123")

	resp, raw := call(t, ts, http.MethodPost, "/api/v1/todo-lists", alice, models.TodoList{Title: "Week 1"})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(raw))
	var list models.TodoList
	require.NoError(t, json.Unmarshal(raw, &list))

	resp, raw = call(t, ts, http.MethodPost, "/api/v1/tasks", alice, models.Task{Title: "Grade essays", TodoListID: list.ID})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(raw))
	var task models.Task
	require.NoError(t, json.Unmarshal(raw, &task))
	require.NotEmpty(t, task.ID)
	require.False(t, task.Completed)
	require.False(t, task.CreatedAt.IsZero())

	_, _ = call(t, ts, http.MethodPost, "/api/v1/tasks", alice, models.Task{Title: "Loose task"})

	resp, raw = call(t, ts, http.MethodPost, "/api/v1/tasks", alice, models.Task{Title: ""})
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	require.Contains(t, detail(t, raw), "title")

	resp, raw = call(t, ts, http.MethodPatch, "/api/v1/tasks/"+task.ID+"/toggle", alice, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var toggled models.Task
	require.NoError(t, json.Unmarshal(raw, &toggled))
	require.True(t, toggled.Completed)
	require.Equal(t, task.CreatedAt.Unix(), toggled.CreatedAt.Unix())

	resp, raw = call(t, ts, http.MethodGet, "/api/v1/tasks/todo-lists/"+list.ID, alice, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var inList []models.Task
	require.NoError(t, json.Unmarshal(raw, &inList))
	require.Len(t, inList, 1)
	require.Equal(t, task.ID, inList[0].ID)

	// Чужие записи не видны.
	resp, raw = call(t, ts, http.MethodGet, "/api/v1/tasks", bob, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.JSONEq(t, `[]`, string(raw))

	resp, _ = call(t, ts, http.MethodDelete, "/api/v1/tasks/"+task.ID, bob, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = call(t, ts, http.MethodDelete, "/api/v1/tasks/"+task.ID, alice, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, raw = call(t, ts, http.MethodGet, "/api/v1/tasks/"+task.ID, alice, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, "Task not found", detail(t, raw))
}

func TestHealth(t *testing.T) {
	s, ts, _ := newServer(t)

	resp, raw := call(t, ts, http.MethodGet, "/api/health", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var data map[string]any
	require.NoError(t, json.Unmarshal(raw, &data))
	require.Equal(t, health.StatusHealthy, health.Evaluate(data))

	s.SetHealth("unhealthy")
	resp, raw = call(t, ts, http.MethodGet, "/api/health", "", nil)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	require.NoError(t, json.Unmarshal(raw, &data))
	require.Equal(t, health.StatusUnhealthy, health.Evaluate(data))
}

// Полный стек клиента против dev API: TokenStore -> SessionClient -> Session -> clients.
func TestClientStackAgainstDevAPI(t *testing.T) {
	_, ts, _ := newServer(t)
	ctx := context.Background()

	tokens := auth.NewTokenStore(memory.New())
	sc, err := client.New(tokens, client.Options{BaseURL: ts.URL, Timeout: 5 * time.Second, Logger: quiet})
	require.NoError(t, err)

	sess := session.New(sc, tokens, session.Options{Logger: quiet})
	sc.OnUnauthorized(sess.HandleUnauthorized)
	cl := clients.New(sc)

	snap := sess.Init(ctx)
	require.True(t, snap.Initialized)
	require.False(t, snap.Authenticated())

	res := sess.Register(ctx, session.RegisterInput{
		Email: "ada@school.test", Password: "password123", PasswordConfirm: "password123", FirstName: "Ada",
	})
	require.True(t, res.Success, res.Message)
	require.Equal(t, "Ada", res.User.FirstName)

	claims, err := tokens.Claims(ctx)
	require.NoError(t, err)
	require.Equal(t, "ada@school.test", claims.Email)
	require.False(t, tokens.IsExpired(ctx))

	class, err := cl.Classes.Create(ctx, models.Class{Name: "7B"})
	require.NoError(t, err)
	_, err = cl.Students.Create(ctx, models.Student{FirstName: "Alan", LastName: "Turing", ClassID: class.ID})
	require.NoError(t, err)

	students, err := cl.Students.List(ctx)
	require.NoError(t, err)
	require.Len(t, students, 1)
	classes, err := cl.Classes.List(ctx)
	require.NoError(t, err)
	require.Equal(t, "7B", clients.ClassName(classes, students[0].ClassID))

	task, err := cl.Tasks.Create(ctx, models.Task{Title: "Prepare test"})
	require.NoError(t, err)
	toggled, err := cl.Tasks.Toggle(ctx, task.ID)
	require.NoError(t, err)
	require.True(t, toggled.Completed)

	upd := sess.UpdateProfile(ctx, session.ProfileUpdate{LastName: "Lovelace"})
	require.True(t, upd.Success, upd.Message)
	require.Equal(t, "Ada Lovelace", sess.Snapshot().User.DisplayName())

	sess.Logout(ctx)
	cl.Reset()
	require.False(t, sess.Snapshot().Authenticated())
	tok, err := tokens.Get(ctx)
	require.NoError(t, err)
	require.Empty(t, tok)

	res = sess.Login(ctx, "ada@school.test", "wrong-password")
	require.False(t, res.Success)
	require.Equal(t, detailBadLogin, res.Message)

	res = sess.Login(ctx, "ada@school.test", "password123")
	require.True(t, res.Success, res.Message)
	require.True(t, sess.Snapshot().Authenticated())
}
