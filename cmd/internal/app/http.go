package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"presence/cmd/internal/apiclient"
	"presence/cmd/internal/attendance"
	"presence/cmd/internal/audit"
	"presence/cmd/internal/credential"
)

// pipeline is the orchestrator surface driven by the kiosk UI.
type pipeline interface {
	OnScan(ctx context.Context, payload string) bool
	DismissResult(ctx context.Context) error
	AcceptRetry(ctx context.Context) error
	DeclineRetry() error
	Cancel() error
	State() attendance.Snapshot
}

type runLister interface {
	List(ctx context.Context, limit int) ([]audit.RunRecord, error)
}

type authenticator interface {
	Login(ctx context.Context, studentID, password string) error
	Register(ctx context.Context, studentID, name, password string) error
	Logout(ctx context.Context) error
}

type readinessCheck struct {
	name  string
	check func(ctx context.Context) error
}

// controlSurface is the local HTTP API for the kiosk front end and operators.
type controlSurface struct {
	pipe     pipeline
	runs     runLister
	auth     authenticator
	registry *prometheus.Registry
	checks   []readinessCheck
	log      *slog.Logger
}

const defaultRunsLimit = 50

func (s *controlSurface) routes(corsOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(WithRequestLogging(s.log))
	r.Use(WithSecurityHeaders)
	if len(corsOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	r.Get("/readyz", s.handleReady)

	r.Get("/state", s.handleState)
	r.Post("/scan", s.handleScan)
	r.Post("/result/dismiss", s.pipelineAction(func(r *http.Request) error { return s.pipe.DismissResult(r.Context()) }))
	r.Post("/retry/accept", s.pipelineAction(func(r *http.Request) error { return s.pipe.AcceptRetry(r.Context()) }))
	r.Post("/retry/decline", s.pipelineAction(func(*http.Request) error { return s.pipe.DeclineRetry() }))
	r.Post("/cancel", s.pipelineAction(func(*http.Request) error { return s.pipe.Cancel() }))

	if s.auth != nil {
		r.Post("/login", s.handleLogin)
		r.Post("/register", s.handleRegister)
		r.Post("/logout", s.handleLogout)
	}
	if s.runs != nil {
		r.Get("/runs", s.handleRuns)
	}
	if s.registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}
	return r
}

func (s *controlSurface) handleReady(w http.ResponseWriter, r *http.Request) {
	for _, c := range s.checks {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		err := c.check(ctx)
		cancel()
		if err != nil {
			s.log.Info("readyz.not_ready", "check", c.name, "err", err)
			writeError(w, http.StatusServiceUnavailable, codeUnavailable, c.name+" not ready")
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready\n"))
}

func (s *controlSurface) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.pipe.State())
}

type scanRequest struct {
	Data string `json:"data"`
}

type scanResponse struct {
	Accepted bool                `json:"accepted"`
	State    attendance.Snapshot `json:"state"`
}

func (s *controlSurface) handleScan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidInput, "invalid JSON body")
		return
	}
	// The run outlives the request.
	accepted := s.pipe.OnScan(context.WithoutCancel(r.Context()), req.Data)
	status := http.StatusAccepted
	if !accepted {
		status = http.StatusConflict
	}
	writeJSON(w, status, scanResponse{Accepted: accepted, State: s.pipe.State()})
}

func (s *controlSurface) pipelineAction(fn func(*http.Request) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fn(r.WithContext(context.WithoutCancel(r.Context()))); err != nil {
			switch {
			case errors.Is(err, attendance.ErrNoResult),
				errors.Is(err, attendance.ErrNoRetry),
				errors.Is(err, attendance.ErrResultPending):
				writeError(w, http.StatusConflict, codeConflict, err.Error())
			default:
				s.log.Error("control.action.fail", "path", r.URL.Path, "err", err)
				writeError(w, http.StatusInternalServerError, codeInternal, "internal error")
			}
			return
		}
		writeJSON(w, http.StatusOK, s.pipe.State())
	}
}

type loginRequest struct {
	StudentID string `json:"studentId"`
	Password  string `json:"password"`
}

func (s *controlSurface) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidInput, "invalid JSON body")
		return
	}

	err := s.auth.Login(r.Context(), req.StudentID, req.Password)
	var le *credential.LoginError
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, credential.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, codeInvalidInput, "studentId and password are required")
	case errors.As(err, &le):
		writeError(w, http.StatusUnauthorized, codeUnauthorized, le.Message)
	default:
		s.log.Error("control.login.fail", "err", err)
		writeError(w, http.StatusInternalServerError, codeInternal, "internal error")
	}
}

type registerRequest struct {
	StudentID string `json:"studentId"`
	Name      string `json:"name"`
	Password  string `json:"password"`
}

func (s *controlSurface) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidInput, "invalid JSON body")
		return
	}

	err := s.auth.Register(r.Context(), req.StudentID, req.Name, req.Password)
	var re *credential.RegisterError
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, map[string]string{"message": "Registration successful! Please log in."})
	case errors.Is(err, credential.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, codeInvalidInput, "studentId, name and password are required")
	case errors.As(err, &re):
		he, ok := apiclient.AsHTTPError(err)
		switch {
		case !ok:
			writeError(w, http.StatusServiceUnavailable, codeUnavailable, re.Message)
		case he.Status == http.StatusConflict:
			writeError(w, http.StatusConflict, codeConflict, re.Message)
		default:
			writeError(w, http.StatusBadRequest, codeInvalidInput, re.Message)
		}
	default:
		s.log.Error("control.register.fail", "err", err)
		writeError(w, http.StatusInternalServerError, codeInternal, "internal error")
	}
}

func (s *controlSurface) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.auth.Logout(r.Context()); err != nil {
		s.log.Error("control.logout.fail", "err", err)
		writeError(w, http.StatusInternalServerError, codeInternal, "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *controlSurface) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunsLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidInput, "limit must be an integer")
			return
		}
		limit = n
	}

	runs, err := s.runs.List(r.Context(), limit)
	switch {
	case errors.Is(err, audit.ErrInvalidLimit):
		writeError(w, http.StatusBadRequest, codeInvalidInput, err.Error())
		return
	case err != nil:
		s.log.Error("control.runs.fail", "err", err)
		writeError(w, http.StatusInternalServerError, codeInternal, "internal error")
		return
	}
	if runs == nil {
		runs = []audit.RunRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}
