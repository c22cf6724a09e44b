package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// TriggerFunc starts a batch for day in the background. It returns false
// when a batch is already running.
type TriggerFunc func(day time.Time) bool

type Options struct {
	Port     int
	APIToken string
	Tracker  *Tracker
	// Metrics serves the Prometheus exposition; nil leaves /metrics unrouted.
	Metrics http.Handler
	// Trigger enables POST /api/v1/callq/runs when set.
	Trigger TriggerFunc
	// DefaultDay picks the day for a trigger request that names none.
	DefaultDay func() time.Time
	// Location reads a requested day; nil means UTC.
	Location *time.Location
	Logger   *slog.Logger
}

type Server struct {
	router *chi.Mux
	srv    *http.Server
	opts   Options
}

func NewServer(opts Options) *Server {
	if opts.Tracker == nil {
		opts.Tracker = NewTracker()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	s := &Server{
		router: router,
		opts:   opts,
	}
	s.srv = &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	router.Get("/health", s.health)
	router.Get("/api/v1/callq/status", s.status)
	if opts.Metrics != nil {
		router.Method(http.MethodGet, "/metrics", opts.Metrics)
	}
	if opts.Trigger != nil {
		router.Route("/api/v1/callq/runs", func(r chi.Router) {
			r.Use(BearerAuthMiddleware(opts.APIToken))
			r.Post("/", s.triggerRun)
		})
	}

	return s
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.opts.Logger.Info("API server starting", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	running, day, last := s.opts.Tracker.Snapshot()
	body := map[string]any{
		"service": "callq",
		"running": running,
	}
	if running {
		body["running_day"] = day
	}
	if last != nil {
		body["last_run"] = last
	}
	writeJSON(w, http.StatusOK, body)
}

type runRequest struct {
	Day string `json:"day,omitempty"`
}

// triggerRun handles POST /api/v1/callq/runs
func (s *Server) triggerRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
			return
		}
	}

	var day time.Time
	switch {
	case req.Day != "":
		d, err := time.ParseInLocation(time.DateOnly, req.Day, s.opts.Location)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "day must be YYYY-MM-DD"})
			return
		}
		day = d
	case s.opts.DefaultDay != nil:
		day = s.opts.DefaultDay()
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "day is required"})
		return
	}

	if !s.opts.Trigger(day) {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "a batch is already running"})
		return
	}
	s.opts.Logger.Info("batch triggered over http", "day", day.Format(time.DateOnly))
	writeJSON(w, http.StatusAccepted, map[string]string{"day": day.Format(time.DateOnly), "status": "accepted"})
}

// BearerAuthMiddleware rejects requests without the configured bearer
// token. An empty token rejects everything.
func BearerAuthMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if token == "" || !ok || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
