// Package session manages the short-lived bearer tokens the upstream issues
// through its interactive login flow. One entry per identity, fixed TTL
// anchored to issuance, refresh ahead of expiry, and strict per-identity
// serialization around relogin so two overlapping logins cannot invalidate
// each other's tokens.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/example/visit-scheduler/internal/apierr"
	"github.com/example/visit-scheduler/internal/domain/identity"
)

const (
	// TokenTTL is how long the upstream actually honors a token, measured
	// empirically. Anchored to issuance; reuse never extends it.
	TokenTTL = 510 * time.Second
	// RefreshBuffer renews a token slightly before the upstream would start
	// rejecting it, so a firing never starts with a token about to die.
	RefreshBuffer = 30 * time.Second
)

type Credentials struct {
	Username string
	Password string
}

// Entry is one cached token. Copied out on every read; callers never see the
// stored value mid-update.
type Entry struct {
	Token       string
	IssuedAt    time.Time
	ExpiresAt   time.Time
	Credentials Credentials
}

// LoginDriver is the external browser-automation component. Slow (tens of
// seconds) and must therefore run outside the store's structural lock.
type LoginDriver interface {
	Login(ctx context.Context, username, password string) (token string, err error)
}

// CredentialSource resolves upstream credentials for an identity, e.g. from
// the encrypted profile store.
type CredentialSource interface {
	Lookup(ctx context.Context, id identity.Identity) (Credentials, error)
}

type slot struct {
	// loginMu serializes logins for one identity. Held across the (slow)
	// driver call; never taken while holding the store mutex.
	loginMu sync.Mutex
	entry   *Entry
}

// Store is the in-memory token cache. The coarse mutex guards the map
// structure and entry pointers; per-identity login mutexes live in the slots
// so unrelated identities never wait on each other.
type Store struct {
	driver LoginDriver
	creds  CredentialSource

	mu    sync.Mutex
	slots map[identity.Identity]*slot

	now func() time.Time
}

func NewStore(driver LoginDriver, creds CredentialSource) *Store {
	return &Store{
		driver: driver,
		creds:  creds,
		slots:  make(map[identity.Identity]*slot),
		now:    time.Now,
	}
}

func (s *Store) slotFor(id identity.Identity) *slot {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, ok := s.slots[id]
	if !ok {
		sl = &slot{}
		s.slots[id] = sl
	}
	return sl
}

// Get returns a copy of the cached entry, expired or not. Reads are audited:
// unexpectedly frequent relogins show up as short token ages here.
func (s *Store) Get(id identity.Identity) (Entry, bool) {
	s.mu.Lock()
	sl, ok := s.slots[id]
	var e *Entry
	if ok {
		e = sl.entry
	}
	s.mu.Unlock()
	if e == nil {
		return Entry{}, false
	}
	now := s.now()
	log.Debug().
		Stringer("identity", id).
		Dur("token_age", now.Sub(e.IssuedAt)).
		Dur("expires_in", e.ExpiresAt.Sub(now)).
		Msg("token read")
	return *e, true
}

// Set stores a brand-new token and starts a fresh TTL window.
func (s *Store) Set(id identity.Identity, token string, creds Credentials) {
	now := s.now()
	s.put(id, &Entry{
		Token:       token,
		IssuedAt:    now,
		ExpiresAt:   now.Add(TokenTTL),
		Credentials: creds,
	})
}

// Restore re-inserts a previously issued token, e.g. one handed over from
// another process. The original issuance window must be preserved: restarting
// the TTL would make the token look valid longer than the upstream honors it.
func (s *Store) Restore(id identity.Identity, token string, creds Credentials, issuedAt, expiresAt time.Time) {
	s.put(id, &Entry{
		Token:       token,
		IssuedAt:    issuedAt,
		ExpiresAt:   expiresAt,
		Credentials: creds,
	})
}

func (s *Store) put(id identity.Identity, e *Entry) {
	s.mu.Lock()
	sl, ok := s.slots[id]
	if !ok {
		sl = &slot{}
		s.slots[id] = sl
	}
	sl.entry = e
	s.mu.Unlock()
	log.Info().
		Stringer("identity", id).
		Time("issued_at", e.IssuedAt).
		Time("expires_at", e.ExpiresAt).
		Msg("token stored")
}

// Invalidate drops the cached token, typically after the API answered 401.
func (s *Store) Invalidate(id identity.Identity) {
	s.mu.Lock()
	if sl, ok := s.slots[id]; ok {
		sl.entry = nil
	}
	s.mu.Unlock()
	log.Info().Stringer("identity", id).Msg("token invalidated")
}

func (s *Store) fresh(id identity.Identity) (Entry, bool) {
	e, ok := s.Get(id)
	if !ok {
		return Entry{}, false
	}
	if e.ExpiresAt.Sub(s.now()) <= RefreshBuffer {
		return Entry{}, false
	}
	return e, true
}

// EnsureValid returns a token with more than RefreshBuffer of life left,
// logging in (or re-logging in) when necessary. Only the given identity is
// ever refreshed; a call for identity A never touches identity B.
func (s *Store) EnsureValid(ctx context.Context, id identity.Identity, reason string) (string, error) {
	if err := id.Validate(); err != nil {
		return "", err
	}
	if e, ok := s.fresh(id); ok {
		return e.Token, nil
	}
	e, err := s.relogin(ctx, id, reason)
	if err != nil {
		return "", err
	}
	return e.Token, nil
}

// relogin refreshes one identity's entry. Callers for the same identity
// queue on the slot's login mutex; whoever gets it next re-checks the store
// first, because the previous holder usually already refreshed the token.
func (s *Store) relogin(ctx context.Context, id identity.Identity, reason string) (Entry, error) {
	sl := s.slotFor(id)
	sl.loginMu.Lock()
	defer sl.loginMu.Unlock()

	if e, ok := s.fresh(id); ok {
		return e, nil
	}

	creds, err := s.credentialsFor(ctx, id)
	if err != nil {
		return Entry{}, err
	}

	log.Info().Stringer("identity", id).Str("reason", reason).Msg("logging in")
	started := s.now()
	token, err := s.driver.Login(ctx, creds.Username, creds.Password)
	if err != nil || token == "" {
		s.Invalidate(id)
		log.Warn().Stringer("identity", id).Err(err).Msg("login failed")
		return Entry{}, apierr.Wrap(apierr.KindAuthRequired, "login", err)
	}
	log.Info().
		Stringer("identity", id).
		Dur("took", s.now().Sub(started)).
		Msg("login succeeded")

	s.Set(id, token, creds)
	e, _ := s.Get(id)
	return e, nil
}

// credentialsFor prefers the credentials remembered on the cached entry (the
// pair that last logged in successfully) and falls back to the source.
func (s *Store) credentialsFor(ctx context.Context, id identity.Identity) (Credentials, error) {
	if e, ok := s.Get(id); ok && e.Credentials.Username != "" {
		return e.Credentials, nil
	}
	if s.creds == nil {
		return Credentials{}, apierr.New(apierr.KindAuthRequired, "login", "no credentials available")
	}
	creds, err := s.creds.Lookup(ctx, id)
	if err != nil {
		return Credentials{}, apierr.Wrap(apierr.KindAuthRequired, "login", err)
	}
	if creds.Username == "" {
		return Credentials{}, apierr.New(apierr.KindAuthRequired, "login", "no credentials available")
	}
	return creds, nil
}
