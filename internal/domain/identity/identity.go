// Package identity defines the (owner, profile) key that names one set of
// upstream credentials. Everything keyed per user in this system — token
// cache slots, relogin locks, task registrations — hangs off an Identity.
package identity

import (
	"strings"

	"github.com/example/visit-scheduler/internal/apierr"
)

// Identity is immutable once created. A zero Identity is never a valid
// fallback; use Validate and fail fast.
type Identity struct {
	Owner   string `json:"owner"`
	Profile string `json:"profile"`
}

func New(owner, profile string) (Identity, error) {
	id := Identity{Owner: strings.TrimSpace(owner), Profile: strings.TrimSpace(profile)}
	if err := id.Validate(); err != nil {
		return Identity{}, err
	}
	return id, nil
}

func (id Identity) IsZero() bool {
	return id.Owner == "" && id.Profile == ""
}

func (id Identity) Validate() error {
	if strings.TrimSpace(id.Owner) == "" {
		return apierr.New(apierr.KindInvalidIdentity, "identity", "owner is required")
	}
	if strings.TrimSpace(id.Profile) == "" {
		return apierr.New(apierr.KindInvalidIdentity, "identity", "profile is required")
	}
	if strings.Contains(id.Owner, taskIDSep) || strings.Contains(id.Profile, taskIDSep) {
		return apierr.New(apierr.KindInvalidIdentity, "identity", `owner and profile must not contain "::"`)
	}
	return nil
}

const taskIDSep = "::"

// TaskID is the persisted task key for this identity, owner::profile.
func (id Identity) TaskID() string {
	return id.Owner + taskIDSep + id.Profile
}

func (id Identity) String() string { return id.TaskID() }

func ParseTaskID(s string) (Identity, error) {
	owner, profile, ok := strings.Cut(s, taskIDSep)
	if !ok {
		return Identity{}, apierr.New(apierr.KindInvalidIdentity, "identity", "task id must be owner::profile")
	}
	return New(owner, profile)
}
