// Package auth handles owner accounts for the control API: bcrypt password
// hashes in the owners table and an encrypted session cookie.
package auth

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/securecookie"
	"golang.org/x/crypto/bcrypt"

	"github.com/example/visit-scheduler/internal/db"
)

type Store struct {
	sc *securecookie.SecureCookie
	db *db.DB
}

type ctxKey string

const ownerKey ctxKey = "owner"

const cookieName = "visitsched_session"

const sessionMaxAge = 14 * 24 * time.Hour

func NewStore(d *db.DB, hashKey, blockKey []byte) *Store {
	sc := securecookie.New(hashKey, blockKey)
	sc.MaxAge(int(sessionMaxAge.Seconds()))
	return &Store{sc: sc, db: d}
}

func HashPassword(pw string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
	return string(b), err
}

func CheckPassword(hash, pw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) == nil
}

func (s *Store) CreateOwner(ctx context.Context, name, password string) error {
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	return s.db.Exec(ctx, `INSERT INTO owners(name, password_bcrypt) VALUES ($1,$2)`, name, hash)
}

// Authenticate checks name/password against the owners table and returns the
// owner name on success.
func (s *Store) Authenticate(ctx context.Context, name, password string) (string, error) {
	var hash string
	err := s.db.QueryRow(ctx, `SELECT password_bcrypt FROM owners WHERE name=$1`, name).Scan(&hash)
	if err != nil {
		return "", errors.New("invalid credentials")
	}
	if !CheckPassword(hash, password) {
		return "", errors.New("invalid credentials")
	}
	return name, nil
}

type Session struct {
	Owner string
}

func (s *Store) SetSession(w http.ResponseWriter, r *http.Request, owner string) error {
	val := map[string]any{"owner": owner, "v": 1}
	encoded, err := s.sc.Encode(cookieName, val)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    encoded,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   r.TLS != nil,
		MaxAge:   int(sessionMaxAge.Seconds()),
	})
	return nil
}

func (s *Store) ClearSession(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
}

func (s *Store) GetSession(r *http.Request) (Session, bool) {
	c, err := r.Cookie(cookieName)
	if err != nil {
		return Session{}, false
	}
	val := map[string]any{}
	if err := s.sc.Decode(cookieName, c.Value, &val); err != nil {
		return Session{}, false
	}
	owner, ok := val["owner"].(string)
	if !ok || owner == "" {
		return Session{}, false
	}
	return Session{Owner: owner}, true
}

// RequireAuth rejects requests without a valid session cookie and puts the
// owner name on the request context for the handlers behind it.
func (s *Store) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, ok := s.GetSession(r)
		if !ok {
			http.Error(w, `{"error":"authentication required"}`, http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), ownerKey, sess.Owner)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func OwnerFromContext(ctx context.Context) (string, bool) {
	owner, ok := ctx.Value(ownerKey).(string)
	return owner, ok
}
