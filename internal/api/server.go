// Package api is the admin HTTP surface: health, runtime status, a forced
// surveillance pass, a conversation sweep, the active-timer listing, and
// the log-level switch. It is an operator tool, not a public API.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/opsdesk/casebot/internal/config"
	"github.com/opsdesk/casebot/internal/pkg/httputil"
	"github.com/opsdesk/casebot/internal/pkg/logger"
)

// SurveillanceRunner forces one reconciliation pass.
type SurveillanceRunner interface {
	RunOnce(ctx context.Context) (int, error)
}

// ConversationSweeper drops expired dialog state.
type ConversationSweeper interface {
	SweepExpired(ctx context.Context, ttl time.Duration) (int, error)
}

// TimerLister reports the tracked active tasks.
type TimerLister interface {
	AllActive() []TimerEntry
}

// TimerEntry is one active task in the /api/timer/active listing.
type TimerEntry struct {
	UserID      string `json:"user_id"`
	TaskID      string `json:"task_id"`
	DisplayName string `json:"display_name"`
	TaskKind    string `json:"task_kind"`
	Status      string `json:"status"`
	StartedAt   string `json:"started_at"`
	Pause       string `json:"accumulated_pause"`
}

// Server is the admin HTTP server.
type Server struct {
	cfg          config.ServerConfig
	surveillance SurveillanceRunner
	sweeper      ConversationSweeper
	ttl          time.Duration
	timers       TimerLister
	webhook      http.Handler
	relay        http.Handler
	startTime    time.Time
	httpServer   *http.Server
}

// NewServer builds the admin server.
func NewServer(cfg config.ServerConfig, surveillance SurveillanceRunner,
	sweeper ConversationSweeper, ttl time.Duration, timers TimerLister) *Server {
	return &Server{
		cfg:          cfg,
		surveillance: surveillance,
		sweeper:      sweeper,
		ttl:          ttl,
		timers:       timers,
		startTime:    time.Now(),
	}
}

// WithChatEndpoints mounts the platform's interaction webhook and the
// attachment-message relay on the server.
func (s *Server) WithChatEndpoints(webhook, relay http.Handler) *Server {
	s.webhook = webhook
	s.relay = relay
	return s
}

// Router builds the chi router with all admin routes.
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.handleHealth)

	if s.webhook != nil {
		r.Post("/webhook/interactions", s.webhook.ServeHTTP)
	}
	if s.relay != nil {
		r.Post("/webhook/messages", s.relay.ServeHTTP)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/debug", s.handleDebug)
		r.Post("/surveillance/run", s.handleSurveillanceRun)
		r.Post("/conversations/sweep", s.handleConversationSweep)
		r.Get("/timer/active", s.handleTimerActive)
		r.Post("/logging", s.handleLogging)
	})

	return r
}

// Start runs the server until ctx is canceled.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.GetHost(), s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api: listening", "addr", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]string{
		"status": "healthy",
		"uptime": time.Since(s.startTime).Round(time.Second).String(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]any{
		"uptime":       time.Since(s.startTime).Round(time.Second).String(),
		"log_level":    logger.CurrentLevel(),
		"active_tasks": len(s.timers.AllActive()),
	})
}

func (s *Server) handleDebug(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]any{
		"started_at":       s.startTime.Format(time.RFC3339),
		"conversation_ttl": s.ttl.String(),
		"active_tasks":     s.timers.AllActive(),
	})
}

func (s *Server) handleSurveillanceRun(w http.ResponseWriter, r *http.Request) {
	n, err := s.surveillance.RunOnce(r.Context())
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]int{"alerts": n})
}

func (s *Server) handleConversationSweep(w http.ResponseWriter, r *http.Request) {
	n, err := s.sweeper.SweepExpired(r.Context(), s.ttl)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]int{"swept": n})
}

func (s *Server) handleTimerActive(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]any{"tasks": s.timers.AllActive()})
}

func (s *Server) handleLogging(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Level string `json:"level"`
	}
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.Level == "" {
		httputil.BadRequest(w, "level is required")
		return
	}
	logger.SetLevel(logger.ParseLevel(req.Level))
	logger.Info("api: log level changed", "level", logger.CurrentLevel())
	httputil.OK(w, map[string]string{"level": logger.CurrentLevel()})
}
