// Package tasks defines the persisted recurring-search task model and its
// stores. The persisted copy is the source of truth: schedulers re-read it
// before every firing and reconcile their in-process registrations against it.
package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/example/visit-scheduler/internal/domain/appointment"
	"github.com/example/visit-scheduler/internal/domain/identity"
	"github.com/example/visit-scheduler/internal/medicover"
)

type Strategy string

const (
	// StrategyInterval polls every IntervalMinutes, capped by a hard 24h
	// ceiling from creation.
	StrategyInterval Strategy = "interval"
	// StrategyBurst concentrates firings around the nightly release instant:
	// a token warm-up shortly before midnight, then one firing per minute for
	// the first minutes after.
	StrategyBurst Strategy = "burst"
)

// Config is the immutable part of a task. One task per identity; starting a
// new one for the same identity replaces the old.
type Config struct {
	Identity identity.Identity      `json:"identity"`
	Search   medicover.SearchParams `json:"search"`
	Filters  appointment.Filters    `json:"filters"`
	Strategy Strategy               `json:"strategy"`
	// IntervalMinutes applies to StrategyInterval only.
	IntervalMinutes int  `json:"interval_minutes,omitempty"`
	AutoBook        bool `json:"auto_book,omitempty"`
	// Secondary widens the pre-execution jitter bound, keeping a helper
	// account's firings behind the primary one's.
	Secondary bool `json:"secondary,omitempty"`
	// TwinIdentity, when set, switches the executor to paired booking: the
	// twin-slot matcher runs over the filtered results and the pair is booked
	// for Identity and TwinIdentity in that order.
	TwinIdentity identity.Identity `json:"twin_identity,omitempty"`
}

func (c Config) Validate() error {
	if err := c.Identity.Validate(); err != nil {
		return err
	}
	switch c.Strategy {
	case StrategyInterval:
		if c.IntervalMinutes < 1 {
			return fmt.Errorf("interval_minutes must be >= 1")
		}
	case StrategyBurst:
		if c.Filters.EndDate == "" {
			return fmt.Errorf("burst strategy requires filters.end_date")
		}
	default:
		return fmt.Errorf("unknown strategy %q", c.Strategy)
	}
	if !c.TwinIdentity.IsZero() {
		if err := c.TwinIdentity.Validate(); err != nil {
			return err
		}
		if c.TwinIdentity == c.Identity {
			return fmt.Errorf("twin identity must differ from the task identity")
		}
	}
	return nil
}

// Booking records the outcome of an auto-book attempt. Partial means the
// first slot of a twin pair was booked but the second was not; the upstream
// has no cross-profile transaction, so this state is recorded, not rolled
// back.
type Booking struct {
	At                time.Time `json:"at"`
	Success           bool      `json:"success"`
	Partial           bool      `json:"partial,omitempty"`
	AppointmentID     int64     `json:"appointment_id,omitempty"`
	TwinAppointmentID int64     `json:"twin_appointment_id,omitempty"`
	Message           string    `json:"message,omitempty"`
}

// State is one task's persisted record, rewritten after every mutation.
type State struct {
	Config    Config    `json:"config"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	// ExpiresAt is the 24h ceiling; set for interval tasks only.
	ExpiresAt     time.Time                 `json:"expires_at,omitempty"`
	NextRun       time.Time                 `json:"next_run,omitempty"`
	LastRun       time.Time                 `json:"last_run,omitempty"`
	RunsCount     int                       `json:"runs_count"`
	LastResults   []appointment.Appointment `json:"last_results,omitempty"` // bounded sample
	LastFound     int                       `json:"last_found"`             // full count before sampling
	LastError     string                    `json:"last_error,omitempty"`
	CooldownUntil time.Time                 `json:"cooldown_until,omitempty"`
	LastBooking   *Booking                  `json:"last_booking,omitempty"`
	StopReason    string                    `json:"stop_reason,omitempty"`
	StoppedAt     time.Time                 `json:"stopped_at,omitempty"`
	UpdatedAt     time.Time                 `json:"updated_at"`
}

func (s State) TaskID() string { return s.Config.Identity.TaskID() }

// Run is one line of the append-only firing history.
type Run struct {
	ID          string    `json:"id"`
	TaskID      string    `json:"task_id"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	Outcome     string    `json:"outcome"` // searched, booked, partial, error, skipped
	ResultCount int       `json:"result_count"`
	Error       string    `json:"error,omitempty"`
}

// Store persists task state. Writes are last-writer-wins: workers re-read
// before mutating instead of locking, which is acceptable because duplicate
// search firings are harmless and duplicate bookings are refused upstream.
type Store interface {
	Get(ctx context.Context, id identity.Identity) (State, bool, error)
	Put(ctx context.Context, st State) error
	List(ctx context.Context) ([]State, error)
	ListOwner(ctx context.Context, owner string) ([]State, error)
	RecordRun(ctx context.Context, run Run) error
}
