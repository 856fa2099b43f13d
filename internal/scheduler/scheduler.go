// Package scheduler owns the recurring search tasks: trigger registration on
// a single cron engine, jitter, rate-limit cooldowns, the 24h ceiling, and
// reconciliation against the persisted task store so restarts and sibling
// worker processes converge on the same registrations.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/example/visit-scheduler/internal/apierr"
	"github.com/example/visit-scheduler/internal/domain/identity"
	"github.com/example/visit-scheduler/internal/medicover"
	"github.com/example/visit-scheduler/internal/session"
	"github.com/example/visit-scheduler/internal/tasks"
)

var (
	// ErrOwnerLimit means the owner already runs the maximum number of
	// concurrently active tasks.
	ErrOwnerLimit = errors.New("active task limit reached")
	// ErrNotFound means no task exists for the identity.
	ErrNotFound = errors.New("task not found")
)

type Options struct {
	// MaxOwnerTasks caps concurrently active tasks per owner.
	MaxOwnerTasks int
	// Ceiling is the hard lifetime of an interval task.
	Ceiling time.Duration
	// RateCooldown is how long firings are skipped after a 429.
	RateCooldown time.Duration
	// JitterMax (SecondaryJitterMax for tasks flagged secondary) bounds the
	// random wait before each execution, desynchronizing tasks that share a
	// firing instant.
	JitterMax          time.Duration
	SecondaryJitterMax time.Duration
	// WarmupSpec fires shortly before the nightly release instant and only
	// refreshes tokens; BurstSpec covers the first minutes after it.
	WarmupSpec string
	BurstSpec  string
	// ReconcileEvery is the persisted-state re-scan period.
	ReconcileEvery time.Duration
	// ResultsSample bounds the snapshot persisted with the task state.
	ResultsSample int
	// TwinPairLimit caps how many candidate pairs one firing will try.
	TwinPairLimit int
	Retry         apierr.Policy
}

func DefaultOptions() Options {
	return Options{
		MaxOwnerTasks:      3,
		Ceiling:            24 * time.Hour,
		RateCooldown:       20 * time.Minute,
		JitterMax:          5 * time.Second,
		SecondaryJitterMax: 12 * time.Second,
		WarmupSpec:         "55 23 * * *",
		BurstSpec:          "0-5 0 * * *",
		ReconcileEvery:     30 * time.Second,
		ResultsSample:      10,
		TwinPairLimit:      3,
		Retry:              apierr.DefaultPolicy(),
	}
}

type registration struct {
	entries []cron.EntryID
}

type Scheduler struct {
	store    tasks.Store
	sessions *session.Store
	api      medicover.API
	opts     Options

	cron *cron.Cron
	mu   sync.Mutex
	regs map[string]registration

	// runCtx carries the lifetime handed to Run; firings use it so an
	// in-flight execution can finish during shutdown but not outlive it.
	runCtx context.Context
	wg     sync.WaitGroup

	// injectable for tests
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	randN func(n int64) int64
}

func New(store tasks.Store, sessions *session.Store, api medicover.API, opts Options) *Scheduler {
	return &Scheduler{
		store:    store,
		sessions: sessions,
		api:      api,
		opts:     opts,
		cron:     cron.New(),
		regs:     make(map[string]registration),
		runCtx:   context.Background(),
		now:      time.Now,
		sleep:    sleepCtx,
		randN:    rand.Int63n,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run starts the cron engine and the reconciliation loop and blocks until
// ctx is done. In-flight executions are allowed to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	s.runCtx = ctx
	s.reconcile(ctx)
	s.cron.Start()
	defer func() {
		<-s.cron.Stop().Done()
		s.wg.Wait()
	}()

	t := time.NewTicker(s.opts.ReconcileEvery)
	defer t.Stop()
	log.Info().Dur("reconcile_every", s.opts.ReconcileEvery).Msg("scheduler started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			s.reconcile(ctx)
		}
	}
}

// StartTask creates (or replaces) the task for cfg's identity. A 4th
// concurrently active task for one owner is rejected.
func (s *Scheduler) StartTask(ctx context.Context, cfg tasks.Config) (tasks.State, error) {
	if err := cfg.Validate(); err != nil {
		return tasks.State{}, err
	}

	existing, err := s.store.ListOwner(ctx, cfg.Identity.Owner)
	if err != nil {
		return tasks.State{}, err
	}
	active := 0
	for _, st := range existing {
		if st.Active && st.TaskID() != cfg.Identity.TaskID() {
			active++
		}
	}
	if active >= s.opts.MaxOwnerTasks {
		return tasks.State{}, fmt.Errorf("owner %q has %d active tasks: %w",
			cfg.Identity.Owner, active, ErrOwnerLimit)
	}

	now := s.now()
	st := tasks.State{
		Config:    cfg,
		Active:    true,
		CreatedAt: now,
		NextRun:   s.nextRun(cfg, now),
		UpdatedAt: now,
	}
	if cfg.Strategy == tasks.StrategyInterval {
		st.ExpiresAt = now.Add(s.opts.Ceiling)
	}
	if err := s.store.Put(ctx, st); err != nil {
		return tasks.State{}, err
	}
	if err := s.register(st); err != nil {
		return tasks.State{}, err
	}
	log.Info().
		Str("task", st.TaskID()).
		Str("strategy", string(cfg.Strategy)).
		Time("next_run", st.NextRun).
		Msg("task started")
	return st, nil
}

// StopTask flags the task inactive and removes its registration. In-flight
// executions finish on their own.
func (s *Scheduler) StopTask(ctx context.Context, id identity.Identity) error {
	if err := id.Validate(); err != nil {
		return err
	}
	st, ok, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	s.stopState(ctx, &st, "stopped")
	return nil
}

// Status returns the persisted state for one task.
func (s *Scheduler) Status(ctx context.Context, id identity.Identity) (tasks.State, bool, error) {
	return s.store.Get(ctx, id)
}

// ListOwner returns every task (active or not) belonging to owner.
func (s *Scheduler) ListOwner(ctx context.Context, owner string) ([]tasks.State, error) {
	return s.store.ListOwner(ctx, owner)
}

func (s *Scheduler) nextRun(cfg tasks.Config, now time.Time) time.Time {
	if cfg.Strategy == tasks.StrategyInterval {
		return now.Add(time.Duration(cfg.IntervalMinutes) * time.Minute)
	}
	if sched, err := cron.ParseStandard(s.opts.BurstSpec); err == nil {
		return sched.Next(now)
	}
	return now
}

// register installs cron entries for the task, replacing any previous ones.
// Interval tasks get one "@every Nm" entry; burst tasks get the warm-up plus
// the burst window, both on the same engine.
func (s *Scheduler) register(st tasks.State) error {
	taskID := st.TaskID()
	s.unregister(taskID)

	type trigger struct {
		spec   string
		warmup bool
	}
	var triggers []trigger
	switch st.Config.Strategy {
	case tasks.StrategyInterval:
		triggers = []trigger{{fmt.Sprintf("@every %dm", st.Config.IntervalMinutes), false}}
	case tasks.StrategyBurst:
		triggers = []trigger{{s.opts.WarmupSpec, true}, {s.opts.BurstSpec, false}}
	}

	var ids []cron.EntryID
	for _, tr := range triggers {
		warmup := tr.warmup
		id, err := s.cron.AddFunc(tr.spec, func() { s.fire(taskID, warmup) })
		if err != nil {
			for _, added := range ids {
				s.cron.Remove(added)
			}
			return fmt.Errorf("register %s: %w", taskID, err)
		}
		ids = append(ids, id)
	}

	s.mu.Lock()
	s.regs[taskID] = registration{entries: ids}
	s.mu.Unlock()
	return nil
}

func (s *Scheduler) unregister(taskID string) {
	s.mu.Lock()
	reg, ok := s.regs[taskID]
	delete(s.regs, taskID)
	s.mu.Unlock()
	if !ok {
		return
	}
	for _, id := range reg.entries {
		s.cron.Remove(id)
	}
}

func (s *Scheduler) registered(taskID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.regs[taskID]
	return ok
}

// reconcile aligns in-process registrations with the persisted store:
// inactive tasks lose their registration, active tasks missing one (after a
// restart, or created by a sibling process) get re-registered.
func (s *Scheduler) reconcile(ctx context.Context) {
	states, err := s.store.List(ctx)
	if err != nil {
		log.Error().Err(err).Msg("reconcile: list tasks failed")
		return
	}
	for _, st := range states {
		taskID := st.TaskID()
		switch {
		case !st.Active && s.registered(taskID):
			log.Info().Str("task", taskID).Msg("reconcile: dropping inactive task")
			s.unregister(taskID)
		case st.Active && !s.registered(taskID):
			log.Info().Str("task", taskID).Msg("reconcile: re-registering active task")
			if err := s.register(st); err != nil {
				log.Error().Err(err).Str("task", taskID).Msg("reconcile: register failed")
			}
		}
	}
}

// stopState persists the inactive transition and drops the registration.
func (s *Scheduler) stopState(ctx context.Context, st *tasks.State, reason string) {
	st.Active = false
	st.StopReason = reason
	st.StoppedAt = s.now()
	st.UpdatedAt = st.StoppedAt
	if err := s.store.Put(ctx, *st); err != nil {
		log.Error().Err(err).Str("task", st.TaskID()).Msg("persist stop failed")
	}
	s.unregister(st.TaskID())
	log.Info().Str("task", st.TaskID()).Str("reason", reason).Msg("task stopped")
}

func (s *Scheduler) jitter(secondary bool) time.Duration {
	max := s.opts.JitterMax
	if secondary {
		max = s.opts.SecondaryJitterMax
	}
	if max <= 0 {
		return 0
	}
	return time.Duration(s.randN(int64(max)))
}
