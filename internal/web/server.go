// Package web is the JSON control API: owner login and the task CRUD
// surface over the scheduler.
package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/example/visit-scheduler/internal/apierr"
	"github.com/example/visit-scheduler/internal/auth"
	"github.com/example/visit-scheduler/internal/domain/appointment"
	"github.com/example/visit-scheduler/internal/domain/identity"
	"github.com/example/visit-scheduler/internal/medicover"
	"github.com/example/visit-scheduler/internal/scheduler"
	"github.com/example/visit-scheduler/internal/session"
	"github.com/example/visit-scheduler/internal/tasks"
)

type Server struct {
	auth      *auth.Store
	scheduler *scheduler.Scheduler
	sessions  *session.Store
	api       medicover.API
}

func NewServer(a *auth.Store, sched *scheduler.Scheduler, sessions *session.Store, api medicover.API) *Server {
	return &Server{auth: a, scheduler: sched, sessions: sessions, api: api}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/session", s.handleLogin)
		r.Delete("/session", s.handleLogout)

		r.Group(func(r chi.Router) {
			r.Use(s.auth.RequireAuth)
			r.Get("/tasks", s.handleListTasks)
			r.Post("/tasks", s.handleStartTask)
			r.Get("/tasks/{profile}", s.handleTaskStatus)
			r.Delete("/tasks/{profile}", s.handleStopTask)
			r.Get("/tasks/{profile}/results", s.handleTaskResults)
			r.Get("/filters/{profile}", s.handleFilters)
		})
	})
	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
}

type loginRequest struct {
	Owner    string `json:"owner"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	owner, err := s.auth.Authenticate(r.Context(), req.Owner, req.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if err := s.auth.SetSession(w, r, owner); err != nil {
		writeError(w, http.StatusInternalServerError, "session encoding failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"owner": owner})
}

func (s *Server) handleLogout(w http.ResponseWriter, _ *http.Request) {
	s.auth.ClearSession(w)
	w.WriteHeader(http.StatusNoContent)
}

// startTaskRequest carries everything but the owner, which always comes
// from the session cookie so one owner cannot schedule under another.
type startTaskRequest struct {
	Profile     string                 `json:"profile"`
	Search      medicover.SearchParams `json:"search"`
	Filters     appointment.Filters    `json:"filters"`
	Strategy    string                 `json:"strategy"`
	IntervalMin int                    `json:"interval_minutes,omitempty"`
	AutoBook    bool                   `json:"auto_book,omitempty"`
	Secondary   bool                   `json:"secondary,omitempty"`
	TwinProfile string                 `json:"twin_profile,omitempty"`
}

func (s *Server) handleStartTask(w http.ResponseWriter, r *http.Request) {
	owner, _ := auth.OwnerFromContext(r.Context())
	var req startTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	id, err := identity.New(owner, req.Profile)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	cfg := tasks.Config{
		Identity:        id,
		Search:          req.Search,
		Filters:         req.Filters,
		Strategy:        tasks.Strategy(req.Strategy),
		IntervalMinutes: req.IntervalMin,
		AutoBook:        req.AutoBook,
		Secondary:       req.Secondary,
	}
	if req.TwinProfile != "" {
		twin, err := identity.New(owner, req.TwinProfile)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		cfg.TwinIdentity = twin
	}
	if err := cfg.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	st, err := s.scheduler.StartTask(r.Context(), cfg)
	if err != nil {
		s.writeSchedulerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, st)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	owner, _ := auth.OwnerFromContext(r.Context())
	states, err := s.scheduler.ListOwner(r.Context(), owner)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": states})
}

func (s *Server) handleTaskStatus(w http.ResponseWriter, r *http.Request) {
	st, ok := s.taskFromRequest(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleTaskResults(w http.ResponseWriter, r *http.Request) {
	st, ok := s.taskFromRequest(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"task_id":    st.TaskID(),
		"last_run":   st.LastRun,
		"last_found": st.LastFound,
		"results":    st.LastResults,
	})
}

func (s *Server) handleStopTask(w http.ResponseWriter, r *http.Request) {
	owner, _ := auth.OwnerFromContext(r.Context())
	id, err := identity.New(owner, chi.URLParam(r, "profile"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.scheduler.StopTask(r.Context(), id); err != nil {
		s.writeSchedulerError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleFilters proxies the upstream filter catalog (regions, specialties,
// clinics, doctors) using the profile's session token.
func (s *Server) handleFilters(w http.ResponseWriter, r *http.Request) {
	owner, _ := auth.OwnerFromContext(r.Context())
	id, err := identity.New(owner, chi.URLParam(r, "profile"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	token, err := s.sessions.EnsureValid(r.Context(), id, "filters")
	if err != nil {
		s.writeSchedulerError(w, err)
		return
	}
	regionID := int64(0)
	if v := r.URL.Query().Get("region"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "region must be numeric")
			return
		}
		regionID = parsed
	}
	raw, err := s.api.Filters(r.Context(), regionID, token)
	if err != nil {
		s.writeSchedulerError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

func (s *Server) taskFromRequest(w http.ResponseWriter, r *http.Request) (tasks.State, bool) {
	owner, _ := auth.OwnerFromContext(r.Context())
	id, err := identity.New(owner, chi.URLParam(r, "profile"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return tasks.State{}, false
	}
	st, ok, err := s.scheduler.Status(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return tasks.State{}, false
	}
	if !ok {
		writeError(w, http.StatusNotFound, "task not found")
		return tasks.State{}, false
	}
	return st, true
}

func (s *Server) writeSchedulerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, scheduler.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, scheduler.ErrOwnerLimit):
		writeError(w, http.StatusConflict, err.Error())
	case apierr.IsKind(err, apierr.KindInvalidIdentity):
		writeError(w, http.StatusBadRequest, err.Error())
	case apierr.IsKind(err, apierr.KindAuthRequired):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case apierr.IsKind(err, apierr.KindRateLimited):
		writeError(w, http.StatusTooManyRequests, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("encode response failed")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
