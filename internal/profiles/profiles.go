// Package profiles stores per-owner upstream credentials, encrypted at rest.
// Plaintext exists only in memory, for the duration of a login call.
package profiles

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/example/visit-scheduler/internal/apierr"
	"github.com/example/visit-scheduler/internal/crypto"
	"github.com/example/visit-scheduler/internal/db"
	"github.com/example/visit-scheduler/internal/domain/identity"
	"github.com/example/visit-scheduler/internal/session"
)

// Profile is one named upstream account under an owner. Credentials are not
// part of this listing view; Lookup decrypts them when a login needs them.
type Profile struct {
	Owner        string
	Name         string
	ChildAccount bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Store struct {
	db   *db.DB
	aead *crypto.AEAD
}

func NewStore(d *db.DB, aead *crypto.AEAD) *Store {
	return &Store{db: d, aead: aead}
}

func (s *Store) Add(ctx context.Context, id identity.Identity, username, password string, child bool) error {
	if err := id.Validate(); err != nil {
		return err
	}
	userEnc, err := s.aead.EncryptToString(username)
	if err != nil {
		return err
	}
	passEnc, err := s.aead.EncryptToString(password)
	if err != nil {
		return err
	}
	return s.db.Exec(ctx, `
INSERT INTO profiles(owner, name, username_enc, password_enc, child_account)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (owner, name) DO UPDATE
SET username_enc=EXCLUDED.username_enc, password_enc=EXCLUDED.password_enc,
    child_account=EXCLUDED.child_account, updated_at=now()`,
		id.Owner, id.Profile, userEnc, passEnc, child)
}

func (s *Store) Delete(ctx context.Context, id identity.Identity) error {
	if err := id.Validate(); err != nil {
		return err
	}
	return s.db.Exec(ctx, `DELETE FROM profiles WHERE owner=$1 AND name=$2`, id.Owner, id.Profile)
}

func (s *Store) List(ctx context.Context, owner string) ([]Profile, error) {
	rows, err := s.db.Query(ctx, `
SELECT owner, name, child_account, created_at, updated_at
FROM profiles WHERE owner=$1 ORDER BY name`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Profile
	for rows.Next() {
		var p Profile
		if err := rows.Scan(&p.Owner, &p.Name, &p.ChildAccount, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Lookup implements session.CredentialSource: decrypt the stored pair for
// one identity.
func (s *Store) Lookup(ctx context.Context, id identity.Identity) (session.Credentials, error) {
	if err := id.Validate(); err != nil {
		return session.Credentials{}, err
	}
	var userEnc, passEnc string
	err := s.db.QueryRow(ctx, `
SELECT username_enc, password_enc FROM profiles WHERE owner=$1 AND name=$2`,
		id.Owner, id.Profile).Scan(&userEnc, &passEnc)
	if errors.Is(err, pgx.ErrNoRows) {
		return session.Credentials{}, apierr.New(apierr.KindAuthRequired, "credentials", "no profile for identity")
	}
	if err != nil {
		return session.Credentials{}, err
	}
	username, err := s.aead.DecryptString(userEnc)
	if err != nil {
		return session.Credentials{}, err
	}
	password, err := s.aead.DecryptString(passEnc)
	if err != nil {
		return session.Credentials{}, err
	}
	return session.Credentials{Username: username, Password: password}, nil
}
