package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/pribylovaa/go-classbook/internal/client"
	"github.com/pribylovaa/go-classbook/internal/clients"
	apierrors "github.com/pribylovaa/go-classbook/internal/errors"
	"github.com/pribylovaa/go-classbook/internal/health"
	"github.com/pribylovaa/go-classbook/internal/http/middleware"
	"github.com/pribylovaa/go-classbook/internal/models"
	"github.com/pribylovaa/go-classbook/internal/session"
)

type fakeSession struct {
	mu        sync.Mutex
	snap      session.Snapshot
	loginRes  session.Result
	regRes    session.Result
	updRes    session.Result
	gotEmail  string
	gotReg    session.RegisterInput
	loggedOut bool
}

func (f *fakeSession) Snapshot() session.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeSession) Login(_ context.Context, email, _ string) session.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gotEmail = email
	return f.loginRes
}

func (f *fakeSession) Register(_ context.Context, in session.RegisterInput) session.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gotReg = in
	return f.regRes
}

func (f *fakeSession) Logout(context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loggedOut = true
	f.snap = session.Snapshot{State: session.StateUnauthenticated, Initialized: true}
}

func (f *fakeSession) UpdateProfile(context.Context, session.ProfileUpdate) session.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.updRes
}

// fakeDoer отвечает по "METHOD path".
type fakeDoer struct {
	mu       sync.Mutex
	replies  map[string]any
	errs     map[string]error
	requests []client.Request
}

func newDoer() *fakeDoer {
	return &fakeDoer{replies: map[string]any{}, errs: map[string]error{}}
}

func (f *fakeDoer) Do(_ context.Context, req client.Request, out any) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.requests = append(f.requests, req)

	key := req.Method + " " + req.Path
	if err, ok := f.errs[key]; ok {
		return err
	}

	if reply, ok := f.replies[key]; ok && out != nil {
		b, err := json.Marshal(reply)
		if err != nil {
			return err
		}
		return json.Unmarshal(b, out)
	}

	return nil
}

func (f *fakeDoer) count(method, path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0
	for _, r := range f.requests {
		if r.Method == method && r.Path == path {
			n++
		}
	}
	return n
}

type fakeHealth struct{ st health.State }

func (f fakeHealth) State() health.State { return f.st }

var testUser = &models.User{ID: "u1", Email: "t@school.test", FirstName: "Ada", LastName: "Lovelace"}

func setup(t *testing.T) (*Handlers, *fakeSession, *fakeDoer, http.Handler) {
	t.Helper()

	sess := &fakeSession{snap: session.Snapshot{State: session.StateAuthenticated, User: testUser, Initialized: true}}
	d := newDoer()
	h := New(sess, clients.New(d), fakeHealth{st: health.State{Status: health.StatusHealthy, Monitoring: true}})

	withUser := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(middleware.WithUser(r.Context(), testUser)))
		})
	}

	r := chi.NewRouter()
	r.Get("/login", h.LoginPage)
	r.Post("/login", h.Login)
	r.Get("/register", h.RegisterPage)
	r.Post("/register", h.Register)
	r.Post("/logout", h.Logout)
	r.Group(func(r chi.Router) {
		r.Use(withUser)
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

	return h, sess, d, r
}

func get(h http.Handler, target string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, target, nil))
	return rr
}

func post(h http.Handler, target string, vals url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(vals.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestSafeNext(t *testing.T) {
	cases := map[string]string{
		"":               "/",
		"/tasks?x=1":     "/tasks?x=1",
		"//evil.example": "/",
		"https://evil":   "/",
		"/\\evil":        "/",
		"tasks":          "/",
	}
	for in, want := range cases {
		require.Equal(t, want, safeNext(in), in)
	}
}

func TestLoginPage_AuthenticatedRedirects(t *testing.T) {
	_, _, _, r := setup(t)

	rr := get(r, "/login?next=/tasks")
	require.Equal(t, http.StatusSeeOther, rr.Code)
	require.Equal(t, "/tasks", rr.Header().Get("Location"))
}

func TestLoginPage_RendersForm(t *testing.T) {
	_, sess, _, r := setup(t)
	sess.snap = session.Snapshot{State: session.StateUnauthenticated, Initialized: true}

	rr := get(r, "/login?next=/results")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `name="next" value="/results"`)
	require.Equal(t, "no-store", rr.Header().Get("Cache-Control"))
}

func TestLogin_SuccessRedirectsToNext(t *testing.T) {
	_, sess, _, r := setup(t)
	sess.loginRes = session.Result{Success: true, User: testUser}

	rr := post(r, "/login", url.Values{"email": {" t@school.test "}, "password": {"secret123"}, "next": {"/tasks"}})
	require.Equal(t, http.StatusSeeOther, rr.Code)
	require.Equal(t, "/tasks", rr.Header().Get("Location"))
	require.Equal(t, "t@school.test", sess.gotEmail)
}

func TestLogin_FailureRendersMessageWithoutPassword(t *testing.T) {
	_, sess, _, r := setup(t)
	sess.snap = session.Snapshot{State: session.StateUnauthenticated, Initialized: true}
	sess.loginRes = session.Result{Message: "Incorrect email or password"}

	rr := post(r, "/login", url.Values{"email": {"t@school.test"}, "password": {"hunter2-secret"}, "next": {"//evil"}})
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	body := rr.Body.String()
	require.Contains(t, body, "Incorrect email or password")
	require.Contains(t, body, `value="t@school.test"`)
	require.Contains(t, body, `name="next" value="/"`)
	require.NotContains(t, body, "hunter2-secret")
}

func TestRegister_PassesFieldsAndShowsMessage(t *testing.T) {
	_, sess, _, r := setup(t)
	sess.snap = session.Snapshot{State: session.StateUnauthenticated, Initialized: true}
	sess.regRes = session.Result{Message: "Passwords do not match"}

	rr := post(r, "/register", url.Values{
		"email": {"n@school.test"}, "password": {"longenough1"}, "password_confirm": {"different1"},
		"first_name": {"Grace"},
	})
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	require.Contains(t, rr.Body.String(), "Passwords do not match")
	require.NotContains(t, rr.Body.String(), "longenough1")
	require.Equal(t, "different1", sess.gotReg.PasswordConfirm)
	require.Equal(t, "Grace", sess.gotReg.FirstName)

	sess.regRes = session.Result{Success: true, User: testUser}
	rr = post(r, "/register", url.Values{"email": {"n@school.test"}, "password": {"longenough1"}})
	require.Equal(t, http.StatusSeeOther, rr.Code)
	require.Equal(t, "/", rr.Header().Get("Location"))
}

func TestLogout_ResetsCaches(t *testing.T) {
	h, sess, d, r := setup(t)
	d.replies["GET /api/v1/tasks"] = []models.Task{{ID: "t1", Title: "a"}}
	_, err := h.Clients.Tasks.List(context.Background())
	require.NoError(t, err)
	require.Len(t, h.Clients.Tasks.Cached(), 1)

	rr := post(r, "/logout", nil)
	require.Equal(t, http.StatusSeeOther, rr.Code)
	require.Equal(t, "/login", rr.Header().Get("Location"))
	require.True(t, sess.loggedOut)
	require.Empty(t, h.Clients.Tasks.Cached())
}

func TestDashboard_ShowsCountsAndHealth(t *testing.T) {
	_, _, d, r := setup(t)
	d.replies["GET /api/v1/tasks"] = []models.Task{{ID: "1", Title: "a"}, {ID: "2", Title: "b", Completed: true}}

	rr := get(r, "/")
	require.Equal(t, http.StatusOK, rr.Code)

	body := rr.Body.String()
	require.Contains(t, body, "Welcome, Ada Lovelace.")
	require.Contains(t, body, "Tasks: 1 open of 2.")
	require.Contains(t, body, "Backend: healthy")
}

func TestTasks_ListAndFilterByTodoList(t *testing.T) {
	_, _, d, r := setup(t)
	due := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	d.replies["GET /api/v1/tasks"] = []models.Task{{ID: "1", Title: "Grade essays", DueDate: &due}}
	d.replies["GET /api/v1/tasks/todo-lists/l1"] = []models.Task{{ID: "2", Title: "Only in list"}}
	d.replies["GET /api/v1/todo-lists"] = []models.TodoList{{ID: "l1", Title: "Week 1"}}

	rr := get(r, "/tasks")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), "Grade essays")
	require.Contains(t, rr.Body.String(), "due 2026-05-01")

	rr = get(r, "/tasks?todo_list=l1")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), "Only in list")
	require.NotContains(t, rr.Body.String(), "Grade essays")
}

func TestList_AuthErrorRedirectsToLogin(t *testing.T) {
	_, _, d, r := setup(t)
	d.errs["GET /api/v1/classes"] = apierrors.FromStatus(http.StatusUnauthorized, "Not authenticated")

	rr := get(r, "/classes")
	require.Equal(t, http.StatusSeeOther, rr.Code)

	loc, err := url.Parse(rr.Header().Get("Location"))
	require.NoError(t, err)
	require.Equal(t, "/login", loc.Path)
	require.Equal(t, "/classes", loc.Query().Get("next"))
}

func TestList_TransientErrorRendersMessage(t *testing.T) {
	_, _, d, r := setup(t)
	d.errs["GET /api/v1/subjects"] = apierrors.FromStatus(http.StatusServiceUnavailable, "")

	rr := get(r, "/subjects")
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	require.Contains(t, rr.Body.String(), `role="alert"`)
}

func TestResults_JoinsWithUnknownFallback(t *testing.T) {
	_, _, d, r := setup(t)
	d.replies["GET /api/v1/results"] = []models.Result{
		{ID: "r1", StudentID: "s1", SubjectID: "sub1", Score: 91},
		{ID: "r2", StudentID: "ghost", SubjectID: "sub1", Score: 50},
	}
	d.replies["GET /api/v1/students"] = []models.Student{{ID: "s1", FirstName: "Alan", LastName: "Turing"}}
	d.replies["GET /api/v1/subjects"] = []models.Subject{{ID: "sub1", Name: "Maths"}}

	rr := get(r, "/results")
	require.Equal(t, http.StatusOK, rr.Code)

	body := rr.Body.String()
	require.Contains(t, body, "Alan Turing")
	require.Contains(t, body, "Maths")
	require.Contains(t, body, clients.Unknown)
}

func TestCreate_InvalidFormDoesNotCallBackend(t *testing.T) {
	_, _, d, r := setup(t)

	rr := post(r, "/results", url.Values{"student_id": {"s1"}, "subject_id": {"sub1"}, "score": {"abc"}})
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Contains(t, rr.Body.String(), "score must be a number")
	require.Zero(t, d.count(http.MethodPost, "/api/v1/results"))

	rr = post(r, "/tasks", url.Values{"title": {""}})
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Zero(t, d.count(http.MethodPost, "/api/v1/tasks"))
}

func TestCreate_SuccessRedirectsToList(t *testing.T) {
	h, _, d, r := setup(t)
	d.replies["POST /api/v1/classes"] = models.Class{ID: "c1", Name: "7B"}

	rr := post(r, "/classes", url.Values{"name": {"7B"}, "grade_level": {"7"}})
	require.Equal(t, http.StatusSeeOther, rr.Code)
	require.Equal(t, "/classes", rr.Header().Get("Location"))
	require.Equal(t, 1, d.count(http.MethodPost, "/api/v1/classes"))

	cached := h.Clients.Classes.Cached()
	require.Len(t, cached, 1)
	require.Equal(t, "c1", cached[0].ID)
	require.Equal(t, "7B", cached[0].Name)
}

func TestDelete_NotFoundKeepsCacheAndShowsError(t *testing.T) {
	h, _, d, r := setup(t)
	d.replies["GET /api/v1/subjects"] = []models.Subject{{ID: "s1", Name: "Maths"}}
	_, err := h.Clients.Subjects.List(context.Background())
	require.NoError(t, err)

	d.errs["DELETE /api/v1/subjects/s1"] = apierrors.FromStatus(http.StatusNotFound, "Subject not found")

	rr := post(r, "/subjects/s1/delete", nil)
	require.Equal(t, http.StatusNotFound, rr.Code)
	require.Contains(t, rr.Body.String(), "Subject not found")
	require.Len(t, h.Clients.Subjects.Cached(), 1)
}

func TestToggleTask_RedirectsBackToList(t *testing.T) {
	_, _, d, r := setup(t)
	d.replies["PATCH /api/v1/tasks/t1/toggle"] = models.Task{ID: "t1", Title: "a", Completed: true}

	rr := post(r, "/tasks/t1/toggle", url.Values{"todo_list": {"l1"}})
	require.Equal(t, http.StatusSeeOther, rr.Code)
	require.Equal(t, "/tasks?todo_list=l1", rr.Header().Get("Location"))
	require.Equal(t, 1, d.count(http.MethodPatch, "/api/v1/tasks/t1/toggle"))
}

func TestProfile_UpdateFailureKeepsForm(t *testing.T) {
	_, sess, _, r := setup(t)

	rr := get(r, "/profile")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `value="t@school.test"`)

	sess.updRes = session.Result{Message: "Please enter a valid email address"}
	rr = post(r, "/profile", url.Values{"email": {"nope"}, "first_name": {"Ada"}})
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	require.Contains(t, rr.Body.String(), "Please enter a valid email address")

	sess.updRes = session.Result{Success: true, User: testUser}
	rr = post(r, "/profile", url.Values{"first_name": {"Ada"}})
	require.Equal(t, http.StatusSeeOther, rr.Code)
	require.Equal(t, "/profile", rr.Header().Get("Location"))
}

func TestParseDate(t *testing.T) {
	d, err := parseDate("", "date")
	require.NoError(t, err)
	require.Nil(t, d)

	d, err = parseDate("2026-09-01", "date")
	require.NoError(t, err)
	require.Equal(t, 2026, d.Year())

	_, err = parseDate("01/09/2026", "date")
	require.True(t, apierrors.IsValidation(err))
}
