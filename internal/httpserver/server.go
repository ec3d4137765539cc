package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/fdg312/coach-hub/internal/auth"
	"github.com/fdg312/coach-hub/internal/config"
	"github.com/fdg312/coach-hub/internal/intake"
	"github.com/fdg312/coach-hub/internal/ledger"
	"github.com/fdg312/coach-hub/internal/reminders"
	"github.com/fdg312/coach-hub/internal/storage"
)

// Server — тонкая HTTP-обвязка над inbound-контрактом ядра.
type Server struct {
	config         *config.Config
	mux            *http.ServeMux
	intake         *intake.Service
	remindersSvc   *reminders.Service
	ledgerSvc      *ledger.Service
	profiles       storage.ProfilesStorage
	authService    *auth.Service
	authMiddleware *auth.Middleware
	limiters       *rateLimiterStore
	shutdown       func() // admin_shutdown hook
	httpServer     *http.Server
}

// New создаёт новый HTTP сервер
func New(cfg *config.Config, intakeSvc *intake.Service, remindersSvc *reminders.Service, ledgerSvc *ledger.Service, profiles storage.ProfilesStorage, shutdown func()) *Server {
	s := &Server{
		config:       cfg,
		mux:          http.NewServeMux(),
		intake:       intakeSvc,
		remindersSvc: remindersSvc,
		ledgerSvc:    ledgerSvc,
		profiles:     profiles,
		shutdown:     shutdown,
	}

	s.authService = auth.NewService(cfg)
	s.authMiddleware = auth.NewMiddleware(cfg, s.authService)
	if cfg.RateLimitRPS > 0 {
		burst := cfg.RateLimitBurst
		if burst <= 0 {
			burst = cfg.RateLimitRPS
		}
		s.limiters = newRateLimiterStore(cfg.RateLimitRPS, burst)
	}

	s.routes()
	return s
}

// routes регистрирует маршруты
func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)

	// Dev token endpoint, enabled in dev auth mode only.
	if s.config.AuthMode == "dev" {
		s.mux.HandleFunc("POST /v1/auth/dev", s.handleDevAuth)
	}

	// Inbound core events
	s.mux.HandleFunc("POST /v1/records", s.handleRecordCreated)
	s.mux.HandleFunc("POST /v1/dialogue", s.handleDialogueMessage)
	s.mux.HandleFunc("POST /v1/checkins/daily", s.handleDailyCheckin)
	s.mux.HandleFunc("POST /v1/interactions", s.handleInteraction)
	s.mux.HandleFunc("PATCH /v1/preferences", s.handlePreferencesChanged)

	// Reminder settings
	s.mux.HandleFunc("GET /v1/reminders", s.handleListReminders)
	s.mux.HandleFunc("PUT /v1/reminders", s.handleUpsertReminder)
	s.mux.HandleFunc("DELETE /v1/reminders/{type}", s.handleDeleteReminder)

	// Points
	s.mux.HandleFunc("GET /v1/points/history", s.handlePointsHistory)

	// Admin
	s.mux.HandleFunc("POST /v1/admin/shutdown", s.handleAdminShutdown)
	s.mux.HandleFunc("POST /v1/admin/reset-rate-limits", s.handleAdminResetRateLimits)
}

// Start запускает HTTP сервер
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.config.Port)

	// Middleware chain (outermost first): Rate Limit → Auth → Router
	var handler http.Handler = s.mux
	if s.config.AuthMode != "none" {
		if s.config.AuthRequired {
			handler = s.authMiddleware.RequireAuth(handler)
		} else {
			handler = s.authMiddleware.OptionalAuth(handler)
		}
	}
	handler = RateLimitMiddleware(s.config, s.limiters, handler)

	s.httpServer = &http.Server{Addr: addr, Handler: handler}

	log.Printf("Сервер запущен на http://localhost%s", addr)
	log.Printf("Health check: http://localhost%s/healthz", addr)

	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop gracefully shuts the HTTP listener down.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the routing mux (tests).
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleDevAuth(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		writeErrorJSON(w, http.StatusBadRequest, "invalid_request", "user_id is required")
		return
	}

	token, err := s.authService.IssueJWT(req.UserID, 7*24*time.Hour)
	if err != nil {
		writeErrorJSON(w, http.StatusInternalServerError, "token_issue_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeErrorJSON(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{"code": code, "message": message},
	})
}
