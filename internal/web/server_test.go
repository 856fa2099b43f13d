package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/visit-scheduler/internal/auth"
	"github.com/example/visit-scheduler/internal/domain/appointment"
	"github.com/example/visit-scheduler/internal/domain/identity"
	"github.com/example/visit-scheduler/internal/medicover"
	"github.com/example/visit-scheduler/internal/scheduler"
	"github.com/example/visit-scheduler/internal/session"
	"github.com/example/visit-scheduler/internal/tasks"
)

type stubAPI struct{}

func (stubAPI) Search(context.Context, medicover.SearchParams, string) ([]appointment.Appointment, error) {
	return nil, nil
}

func (stubAPI) Book(context.Context, string, string) (medicover.BookingResult, error) {
	return medicover.BookingResult{Success: true}, nil
}

func (stubAPI) Filters(context.Context, int64, string) (json.RawMessage, error) {
	return json.RawMessage(`{"regions":[]}`), nil
}

type stubLogin struct{}

func (stubLogin) Login(context.Context, string, string) (string, error) {
	return "tok", nil
}

type stubCreds struct{}

func (stubCreds) Lookup(_ context.Context, id identity.Identity) (session.Credentials, error) {
	return session.Credentials{Username: id.String(), Password: "pw"}, nil
}

func newTestServer(t *testing.T) (*Server, http.Handler, *auth.Store) {
	t.Helper()
	authStore := auth.NewStore(nil, []byte("0123456789abcdef0123456789abcdef"), []byte("0123456789abcdef0123456789abcdef"))
	sessions := session.NewStore(stubLogin{}, stubCreds{})
	sched := scheduler.New(tasks.NewMemoryStore(), sessions, stubAPI{}, scheduler.DefaultOptions())
	srv := NewServer(authStore, sched, sessions, stubAPI{})
	return srv, srv.Router(), authStore
}

// sessionCookie mints a valid session cookie the way a login response would.
func sessionCookie(t *testing.T, store *auth.Store, owner string) *http.Cookie {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/session", nil)
	require.NoError(t, store.SetSession(rec, req, owner))
	cookies := rec.Result().Cookies()
	require.NotEmpty(t, cookies)
	return cookies[0]
}

func TestHealthz(t *testing.T) {
	_, router, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTasksRequireSession(t *testing.T) {
	_, router, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/tasks", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestTaskLifecycleOverHTTP(t *testing.T) {
	_, router, authStore := newTestServer(t)
	cookie := sessionCookie(t, authStore, "alice")

	do := func(method, path, body string) *httptest.ResponseRecorder {
		var req *http.Request
		if body != "" {
			req = httptest.NewRequest(method, path, strings.NewReader(body))
		} else {
			req = httptest.NewRequest(method, path, nil)
		}
		req.AddCookie(cookie)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	rec := do(http.MethodPost, "/api/v1/tasks",
		`{"profile":"self","strategy":"interval","interval_minutes":5}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created tasks.State
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "alice::self", created.TaskID())
	assert.True(t, created.Active)

	rec = do(http.MethodGet, "/api/v1/tasks", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"owner":"alice"`)

	rec = do(http.MethodGet, "/api/v1/tasks/self", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(http.MethodGet, "/api/v1/tasks/self/results", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"task_id":"alice::self"`)

	rec = do(http.MethodDelete, "/api/v1/tasks/self", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	// state survives the stop, flagged inactive
	rec = do(http.MethodGet, "/api/v1/tasks/self", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var stopped tasks.State
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stopped))
	assert.False(t, stopped.Active)
}

func TestStartTaskValidationErrors(t *testing.T) {
	_, router, authStore := newTestServer(t)
	cookie := sessionCookie(t, authStore, "alice")

	tests := []struct {
		name string
		body string
		want int
	}{
		{"missing profile", `{"strategy":"interval","interval_minutes":5}`, http.StatusBadRequest},
		{"bad strategy", `{"profile":"self","strategy":"hourly"}`, http.StatusBadRequest},
		{"garbage body", `{"profile":`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/tasks", strings.NewReader(tt.body))
			req.AddCookie(cookie)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestOwnerLimitMapsToConflict(t *testing.T) {
	_, router, authStore := newTestServer(t)
	cookie := sessionCookie(t, authStore, "alice")

	start := func(profile string) *httptest.ResponseRecorder {
		body := `{"profile":"` + profile + `","strategy":"interval","interval_minutes":5}`
		req := httptest.NewRequest(http.MethodPost, "/api/v1/tasks", strings.NewReader(body))
		req.AddCookie(cookie)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	for _, profile := range []string{"self", "kid-1", "kid-2"} {
		require.Equal(t, http.StatusCreated, start(profile).Code)
	}
	assert.Equal(t, http.StatusConflict, start("kid-3").Code)
}

func TestUnknownTaskIsNotFound(t *testing.T) {
	_, router, authStore := newTestServer(t)
	cookie := sessionCookie(t, authStore, "alice")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tasks/ghost", nil)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFiltersPassthrough(t *testing.T) {
	_, router, authStore := newTestServer(t)
	cookie := sessionCookie(t, authStore, "alice")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/filters/self?region=204", nil)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"regions":[]}`, rec.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/api/v1/filters/self?region=warsaw", nil)
	req.AddCookie(cookie)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
