package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore() *Store {
	return NewStore(nil,
		[]byte("0123456789abcdef0123456789abcdef"),
		[]byte("0123456789abcdef0123456789abcdef"))
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("hunter2")
	require.NoError(t, err)
	assert.NotEqual(t, "hunter2", hash)
	assert.True(t, CheckPassword(hash, "hunter2"))
	assert.False(t, CheckPassword(hash, "hunter3"))
	assert.False(t, CheckPassword("not-a-hash", "hunter2"))
}

func TestSessionCookieRoundTrip(t *testing.T) {
	s := newTestStore()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/session", nil)
	require.NoError(t, s.SetSession(rec, req, "alice"))

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.True(t, cookies[0].HttpOnly)

	read := httptest.NewRequest(http.MethodGet, "/api/v1/tasks", nil)
	read.AddCookie(cookies[0])
	sess, ok := s.GetSession(read)
	require.True(t, ok)
	assert.Equal(t, "alice", sess.Owner)
}

func TestGetSessionRejectsTamperedCookie(t *testing.T) {
	s := newTestStore()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "visitsched_session", Value: "forged"})
	_, ok := s.GetSession(req)
	assert.False(t, ok)
}

func TestRequireAuth(t *testing.T) {
	s := newTestStore()
	var gotOwner string
	handler := s.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotOwner, _ = OwnerFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	setRec := httptest.NewRecorder()
	require.NoError(t, s.SetSession(setRec, httptest.NewRequest(http.MethodPost, "/", nil), "alice"))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(setRec.Result().Cookies()[0])
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice", gotOwner)
}
