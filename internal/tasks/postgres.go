package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/example/visit-scheduler/internal/db"
	"github.com/example/visit-scheduler/internal/domain/identity"
)

// PostgresStore keeps task state in the tasks table, one row per
// owner::profile, plus an append-only task_runs history. Writes replace the
// whole row (last-writer-wins); any worker process can read and reconcile.
type PostgresStore struct{ db *db.DB }

func NewPostgresStore(d *db.DB) *PostgresStore { return &PostgresStore{db: d} }

// doc is the JSONB payload: everything except the columns we query by.
type doc struct {
	Config        Config          `json:"config"`
	ExpiresAt     time.Time       `json:"expires_at,omitempty"`
	NextRun       time.Time       `json:"next_run,omitempty"`
	LastRun       time.Time       `json:"last_run,omitempty"`
	RunsCount     int             `json:"runs_count"`
	LastResults   json.RawMessage `json:"last_results,omitempty"`
	LastFound     int             `json:"last_found"`
	LastError     string          `json:"last_error,omitempty"`
	CooldownUntil time.Time       `json:"cooldown_until,omitempty"`
	LastBooking   *Booking        `json:"last_booking,omitempty"`
	StopReason    string          `json:"stop_reason,omitempty"`
	StoppedAt     time.Time       `json:"stopped_at,omitempty"`
}

func (s *PostgresStore) Put(ctx context.Context, st State) error {
	results, err := json.Marshal(st.LastResults)
	if err != nil {
		return fmt.Errorf("marshal results: %w", err)
	}
	d := doc{
		Config:        st.Config,
		ExpiresAt:     st.ExpiresAt,
		NextRun:       st.NextRun,
		LastRun:       st.LastRun,
		RunsCount:     st.RunsCount,
		LastResults:   results,
		LastFound:     st.LastFound,
		LastError:     st.LastError,
		CooldownUntil: st.CooldownUntil,
		LastBooking:   st.LastBooking,
		StopReason:    st.StopReason,
		StoppedAt:     st.StoppedAt,
	}
	body, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal task state: %w", err)
	}
	return s.db.Exec(ctx, `
INSERT INTO tasks(task_id, owner, profile, active, created_at, state, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,now())
ON CONFLICT (task_id) DO UPDATE
SET owner=EXCLUDED.owner, profile=EXCLUDED.profile, active=EXCLUDED.active,
    created_at=EXCLUDED.created_at, state=EXCLUDED.state, updated_at=now()`,
		st.TaskID(), st.Config.Identity.Owner, st.Config.Identity.Profile,
		st.Active, st.CreatedAt, body)
}

func (s *PostgresStore) Get(ctx context.Context, id identity.Identity) (State, bool, error) {
	if err := id.Validate(); err != nil {
		return State{}, false, err
	}
	row := s.db.QueryRow(ctx, `
SELECT active, created_at, state, updated_at FROM tasks WHERE task_id=$1`, id.TaskID())
	st, err := scanState(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, err
	}
	return st, true, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]State, error) {
	return s.list(ctx, `SELECT active, created_at, state, updated_at FROM tasks ORDER BY task_id`)
}

func (s *PostgresStore) ListOwner(ctx context.Context, owner string) ([]State, error) {
	return s.list(ctx, `SELECT active, created_at, state, updated_at FROM tasks WHERE owner=$1 ORDER BY task_id`, owner)
}

func (s *PostgresStore) list(ctx context.Context, sql string, args ...any) ([]State, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []State
	for rows.Next() {
		st, err := scanState(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func scanState(row db.Row) (State, error) {
	var (
		st   State
		body []byte
	)
	if err := row.Scan(&st.Active, &st.CreatedAt, &body, &st.UpdatedAt); err != nil {
		return State{}, err
	}
	var d doc
	if err := json.Unmarshal(body, &d); err != nil {
		return State{}, fmt.Errorf("decode task state: %w", err)
	}
	st.Config = d.Config
	st.ExpiresAt = d.ExpiresAt
	st.NextRun = d.NextRun
	st.LastRun = d.LastRun
	st.RunsCount = d.RunsCount
	st.LastFound = d.LastFound
	st.LastError = d.LastError
	st.CooldownUntil = d.CooldownUntil
	st.LastBooking = d.LastBooking
	st.StopReason = d.StopReason
	st.StoppedAt = d.StoppedAt
	if len(d.LastResults) > 0 {
		if err := json.Unmarshal(d.LastResults, &st.LastResults); err != nil {
			return State{}, fmt.Errorf("decode task results: %w", err)
		}
	}
	return st, nil
}

func (s *PostgresStore) RecordRun(ctx context.Context, run Run) error {
	return s.db.Exec(ctx, `
INSERT INTO task_runs(id, task_id, started_at, finished_at, outcome, result_count, error)
VALUES ($1,$2,$3,$4,$5,$6,NULLIF($7,''))`,
		run.ID, run.TaskID, run.StartedAt, run.FinishedAt, run.Outcome, run.ResultCount, run.Error)
}
