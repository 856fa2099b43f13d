package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/example/visit-scheduler/internal/apierr"
	"github.com/example/visit-scheduler/internal/domain/appointment"
	"github.com/example/visit-scheduler/internal/domain/identity"
	"github.com/example/visit-scheduler/internal/medicover"
	"github.com/example/visit-scheduler/internal/tasks"
)

// fire is the cron callback for one task trigger. It re-reads persisted
// state before doing anything so a stop issued by another process (or a
// stale registration surviving a replace) turns the firing into a no-op.
func (s *Scheduler) fire(taskID string, warmup bool) {
	s.wg.Add(1)
	defer s.wg.Done()
	ctx := s.runCtx

	id, err := identity.ParseTaskID(taskID)
	if err != nil {
		log.Error().Err(err).Str("task", taskID).Msg("unparseable task id in registration")
		s.unregister(taskID)
		return
	}
	st, ok, err := s.store.Get(ctx, id)
	if err != nil {
		log.Error().Err(err).Str("task", taskID).Msg("read task state failed")
		return
	}
	if !ok || !st.Active {
		s.unregister(taskID)
		return
	}

	if warmup {
		if reason, stop := s.lifetimeExceeded(st, s.now()); stop {
			s.stopState(ctx, &st, reason)
			return
		}
		s.warmup(ctx, st)
		return
	}
	s.execute(ctx, st)
}

// warmup refreshes the session tokens shortly before the booking window
// opens so the burst firings start with fresh tokens instead of spending
// the first seconds of the window on a login.
func (s *Scheduler) warmup(ctx context.Context, st tasks.State) {
	ids := []identity.Identity{st.Config.Identity}
	if !st.Config.TwinIdentity.IsZero() {
		ids = append(ids, st.Config.TwinIdentity)
	}
	for _, id := range ids {
		if _, err := s.sessions.EnsureValid(ctx, id, "warm-up"); err != nil {
			log.Warn().Err(err).Str("identity", id.String()).Msg("warm-up login failed")
			continue
		}
		log.Info().Str("identity", id.String()).Msg("warm-up token ready")
	}
}

func (s *Scheduler) execute(ctx context.Context, st tasks.State) {
	now := s.now()
	taskID := st.TaskID()

	if reason, stop := s.lifetimeExceeded(st, now); stop {
		s.stopState(ctx, &st, reason)
		return
	}
	if !st.CooldownUntil.IsZero() && now.Before(st.CooldownUntil) {
		log.Info().
			Str("task", taskID).
			Time("cooldown_until", st.CooldownUntil).
			Msg("firing skipped: rate-limit cooldown")
		return
	}
	if err := s.sleep(ctx, s.jitter(st.Config.Secondary)); err != nil {
		return
	}

	run := tasks.Run{
		ID:        uuid.NewString(),
		TaskID:    taskID,
		StartedAt: now,
	}
	st.LastRun = now
	st.RunsCount++
	st.NextRun = s.nextRun(st.Config, now)

	results, err := s.search(ctx, st)
	if err != nil {
		st.LastError = err.Error()
		run.Outcome = "error"
		run.Error = err.Error()
		if apierr.KindOf(err) == apierr.KindRateLimited {
			st.CooldownUntil = s.now().Add(s.opts.RateCooldown)
			run.Outcome = "rate_limited"
			log.Warn().
				Str("task", taskID).
				Time("cooldown_until", st.CooldownUntil).
				Msg("rate limited, cooling down")
		} else {
			log.Error().Err(err).Str("task", taskID).Msg("search failed")
		}
		s.finishRun(ctx, &st, run)
		return
	}

	eligible := st.Config.Filters.Apply(results, now)
	st.LastError = ""
	st.CooldownUntil = time.Time{}
	st.LastFound = len(eligible)
	st.LastResults = sample(eligible, s.opts.ResultsSample)
	run.Outcome = "ok"
	run.ResultCount = len(eligible)
	log.Info().
		Str("task", taskID).
		Int("raw", len(results)).
		Int("eligible", len(eligible)).
		Msg("search completed")

	if st.Config.AutoBook && len(eligible) > 0 {
		booked := s.autoBook(ctx, &st, eligible)
		if booked {
			run.Outcome = "booked"
			s.finishRun(ctx, &st, run)
			s.stopState(ctx, &st, "booked")
			return
		}
	}
	s.finishRun(ctx, &st, run)
}

// lifetimeExceeded reports whether the task passed its hard end: the 24h
// ceiling for interval tasks, the configured end date for burst tasks.
func (s *Scheduler) lifetimeExceeded(st tasks.State, now time.Time) (string, bool) {
	switch st.Config.Strategy {
	case tasks.StrategyInterval:
		if !st.ExpiresAt.IsZero() && now.After(st.ExpiresAt) {
			return "ceiling", true
		}
	case tasks.StrategyBurst:
		end, err := time.ParseInLocation("2006-01-02", st.Config.Filters.EndDate, time.Local)
		if err == nil && now.After(end.AddDate(0, 0, 1)) {
			return "end_date", true
		}
	}
	return "", false
}

func (s *Scheduler) finishRun(ctx context.Context, st *tasks.State, run tasks.Run) {
	run.FinishedAt = s.now()
	st.UpdatedAt = run.FinishedAt
	// A stop issued while this firing was in flight must not be undone by
	// writing back the pre-firing snapshot.
	if cur, ok, err := s.store.Get(ctx, st.Config.Identity); err == nil && ok && !cur.Active {
		st.Active = false
		st.StopReason = cur.StopReason
		st.StoppedAt = cur.StoppedAt
	}
	if err := s.store.Put(ctx, *st); err != nil {
		log.Error().Err(err).Str("task", st.TaskID()).Msg("persist task state failed")
	}
	if err := s.store.RecordRun(ctx, run); err != nil {
		log.Error().Err(err).Str("task", st.TaskID()).Msg("record run failed")
	}
}

// withAuthRetry runs fn with a valid token and, on exactly one auth
// expiry, invalidates the session, logs in again, and retries. A second
// expiry means the credentials no longer work.
func (s *Scheduler) withAuthRetry(ctx context.Context, id identity.Identity, reason string, fn func(ctx context.Context, token string) error) error {
	token, err := s.sessions.EnsureValid(ctx, id, reason)
	if err != nil {
		return err
	}
	err = fn(ctx, token)
	if apierr.KindOf(err) != apierr.KindAuthExpired {
		return err
	}

	s.sessions.Invalidate(id)
	token, err2 := s.sessions.EnsureValid(ctx, id, reason+" (token expired)")
	if err2 != nil {
		return err2
	}
	err = fn(ctx, token)
	if apierr.KindOf(err) == apierr.KindAuthExpired {
		return apierr.Wrap(apierr.KindAuthRequired, reason, err)
	}
	return err
}

func (s *Scheduler) search(ctx context.Context, st tasks.State) ([]appointment.Appointment, error) {
	var out []appointment.Appointment
	err := s.withAuthRetry(ctx, st.Config.Identity, "search", func(ctx context.Context, token string) error {
		return apierr.Do(ctx, "search", s.opts.Retry, func(ctx context.Context) error {
			results, err := s.api.Search(ctx, st.Config.Search, token)
			if err != nil {
				return err
			}
			out = results
			return nil
		})
	})
	return out, err
}

func (s *Scheduler) book(ctx context.Context, id identity.Identity, bookingString string) (medicover.BookingResult, error) {
	var out medicover.BookingResult
	err := s.withAuthRetry(ctx, id, "book", func(ctx context.Context, token string) error {
		result, err := s.api.Book(ctx, bookingString, token)
		if err != nil {
			return err
		}
		out = result
		return nil
	})
	return out, err
}

// autoBook tries to book from the eligible set. It returns true only on a
// complete booking (single appointment, or both halves of a twin pair);
// a partial twin booking is recorded but leaves the task running.
func (s *Scheduler) autoBook(ctx context.Context, st *tasks.State, eligible []appointment.Appointment) bool {
	if !st.Config.TwinIdentity.IsZero() {
		return s.bookTwin(ctx, st, eligible)
	}
	return s.bookSingle(ctx, st, eligible)
}

// bookSingle walks candidates in order; a "slot gone" rejection moves on
// to the next one, any other failure ends the attempt for this firing.
func (s *Scheduler) bookSingle(ctx context.Context, st *tasks.State, eligible []appointment.Appointment) bool {
	for _, appt := range eligible {
		result, err := s.book(ctx, st.Config.Identity, appt.BookingString)
		if err != nil {
			st.LastError = err.Error()
			log.Error().Err(err).Str("task", st.TaskID()).Msg("booking failed")
			return false
		}
		if result.Success {
			st.LastBooking = &tasks.Booking{
				At:            s.now(),
				Success:       true,
				AppointmentID: result.AppointmentID,
			}
			log.Info().
				Str("task", st.TaskID()).
				Int64("appointment_id", result.AppointmentID).
				Msg("appointment booked")
			return true
		}
		log.Warn().
			Str("task", st.TaskID()).
			Str("code", result.Code).
			Int64("appointment_id", appt.AppointmentID).
			Msg("booking rejected, trying next candidate")
	}
	return false
}

// bookTwin books consecutive pairs for two identities: the first half under
// the task's identity, the second under the twin. If the first half books
// but the second fails, the partial outcome is recorded and no further
// pairs are tried, since the first identity already holds an appointment.
func (s *Scheduler) bookTwin(ctx context.Context, st *tasks.State, eligible []appointment.Appointment) bool {
	pairs := appointment.TwinPairs(eligible, appointment.MinTwinGap, appointment.MaxTwinGap, s.opts.TwinPairLimit)
	if len(pairs) == 0 {
		log.Info().Str("task", st.TaskID()).Msg("no twin pairs among eligible results")
		return false
	}
	for _, pair := range pairs {
		first, err := s.book(ctx, st.Config.Identity, pair.First.BookingString)
		if err != nil {
			st.LastError = err.Error()
			log.Error().Err(err).Str("task", st.TaskID()).Msg("twin first booking failed")
			return false
		}
		if !first.Success {
			log.Warn().
				Str("task", st.TaskID()).
				Str("code", first.Code).
				Msg("twin first slot rejected, trying next pair")
			continue
		}

		second, err := s.book(ctx, st.Config.TwinIdentity, pair.Second.BookingString)
		if err != nil || !second.Success {
			st.LastBooking = &tasks.Booking{
				At:            s.now(),
				Success:       false,
				Partial:       true,
				AppointmentID: first.AppointmentID,
				Message:       "twin second booking failed",
			}
			if err != nil {
				st.LastError = err.Error()
			}
			log.Warn().
				Str("task", st.TaskID()).
				Int64("first_appointment_id", first.AppointmentID).
				Msg("twin pair partially booked")
			return false
		}

		st.LastBooking = &tasks.Booking{
			At:                s.now(),
			Success:           true,
			AppointmentID:     first.AppointmentID,
			TwinAppointmentID: second.AppointmentID,
		}
		log.Info().
			Str("task", st.TaskID()).
			Int64("first_appointment_id", first.AppointmentID).
			Int64("second_appointment_id", second.AppointmentID).
			Msg("twin pair booked")
		return true
	}
	return false
}

func sample(in []appointment.Appointment, n int) []appointment.Appointment {
	if len(in) <= n {
		return in
	}
	out := make([]appointment.Appointment, n)
	copy(out, in[:n])
	return out
}
