// Package api serves the loopback control API and the websocket event stream.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"project-downlink/internal/analytics"
	"project-downlink/internal/registry"
	"project-downlink/internal/security"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const (
	TokenHeader        = "X-Downlink-Token"
	DefaultMaxRequests = 16
	shutdownTimeout    = 5 * time.Second
)

// Downloads is the part of the download manager the API drives.
type Downloads interface {
	AddTask(name, rawURL, destination string) error
	PauseTask(name string)
	ResumeTask(name string)
	RetryTask(name string)
	CancelTask(name string)
	RemoveTask(name string)
	Get(name string) (registry.Model, bool)
	List() []registry.Model
}

type Settings interface {
	GetEnableAPI() bool
	SetEnableAPI(enabled bool) error
	GetAPIToken() string
	GetBackgroundUpdates() bool
	SetBackgroundUpdates(enabled bool) error
}

type Stats interface {
	GetAnalytics() analytics.AnalyticsData
}

type Options struct {
	Downloads   Downloads
	Settings    Settings
	Stats       Stats
	Audit       *security.AuditLogger
	Hub         *Hub
	Logger      *slog.Logger
	MaxRequests int
}

type ControlServer struct {
	downloads   Downloads
	cfg         Settings
	stats       Stats
	audit       *security.AuditLogger
	hub         *Hub
	logger      *slog.Logger
	router      *chi.Mux
	maxRequests int64
	activeReqs  int64
}

func NewControlServer(opts Options) *ControlServer {
	if opts.MaxRequests <= 0 {
		opts.MaxRequests = DefaultMaxRequests
	}
	s := &ControlServer{
		downloads:   opts.Downloads,
		cfg:         opts.Settings,
		stats:       opts.Stats,
		audit:       opts.Audit,
		hub:         opts.Hub,
		logger:      opts.Logger,
		router:      chi.NewRouter(),
		maxRequests: int64(opts.MaxRequests),
	}
	s.setupRoutes()
	return s
}

// Handler exposes the router, mainly for tests.
func (s *ControlServer) Handler() http.Handler {
	return s.router
}

// Start serves on the loopback interface until ctx is cancelled. It returns
// immediately when the API is disabled.
func (s *ControlServer) Start(ctx context.Context, port int) error {
	if !s.cfg.GetEnableAPI() {
		s.logger.Info("Control API disabled")
		return nil
	}

	addr := fmt.Sprintf("127.0.0.1:%d", port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("control server failed to bind %s: %w", addr, err)
	}

	srv := &http.Server{Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("Control server shutdown failed", "error", err)
		}
	}()

	s.logger.Info("Control server listening", "addr", addr)
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("control server failed: %w", err)
	}
	return nil
}

func (s *ControlServer) setupRoutes() {
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(s.securityMiddleware)

	// the event stream holds its connection open and is not counted
	s.router.Get("/v1/events", s.hub.ServeHTTP)

	s.router.Group(func(r chi.Router) {
		r.Use(s.concurrencyLimitMiddleware)

		r.Get("/v1/status", s.handleGetStatus)
		r.Post("/v1/downloads", s.handleAddDownload)
		r.Get("/v1/downloads", s.handleListDownloads)
		r.Get("/v1/downloads/{name}", s.handleGetDownload)
		r.Post("/v1/downloads/{name}/control", s.handleControl)
		r.Get("/v1/stats", s.handleGetStats)
		r.Get("/v1/audit", s.handleGetAudit)
		r.Get("/v1/settings", s.handleGetSettings)
		r.Patch("/v1/settings", s.handleUpdateSettings)
	})
}

func (s *ControlServer) concurrencyLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		current := atomic.AddInt64(&s.activeReqs, 1)
		defer atomic.AddInt64(&s.activeReqs, -1)

		if current > s.maxRequests {
			sourceIP, _, _ := net.SplitHostPort(r.RemoteAddr)
			s.audit.Log(sourceIP, r.UserAgent(), "Overloaded "+r.URL.Path, http.StatusTooManyRequests, "Max Concurrent Reached")
			http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *ControlServer) securityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sourceIP, _, _ := net.SplitHostPort(r.RemoteAddr)
		userAgent := r.UserAgent()
		action := fmt.Sprintf("%s %s", r.Method, r.URL.Path)

		// 1. Feature flag, checked per request so it can be turned off live
		if !s.cfg.GetEnableAPI() {
			s.audit.Log(sourceIP, userAgent, action, http.StatusServiceUnavailable, "Feature Disabled")
			http.Error(w, "Control API Disabled", http.StatusServiceUnavailable)
			return
		}

		// 2. Localhost enforcement
		if ip := net.ParseIP(sourceIP); ip == nil || !ip.IsLoopback() {
			s.audit.Log(sourceIP, userAgent, action, http.StatusForbidden, "External Access Denied")
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		// 3. Token auth; browsers cannot set headers on websocket requests
		token := r.Header.Get(TokenHeader)
		if token == "" {
			token = r.URL.Query().Get("token")
		}
		if token == "" || token != s.cfg.GetAPIToken() {
			s.audit.Log(sourceIP, userAgent, action, http.StatusUnauthorized, "Invalid Token")
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		s.audit.Log(sourceIP, userAgent, action, http.StatusOK, "Authorized")
		next.ServeHTTP(w, r)
	})
}

// Request/Response Models
type AddRequest struct {
	Name        string `json:"name"`
	URL         string `json:"url"`
	Destination string `json:"destination"` // Optional, defaults to the download dir
}

type ControlRequest struct {
	Action string `json:"action"` // "pause", "resume", "retry", "cancel", "remove"
}

// SettingsResponse is the runtime settings view.
type SettingsResponse struct {
	EnableAPI         bool `json:"enable_api"`
	BackgroundUpdates bool `json:"background_updates"`
}

// SettingsRequest changes only the fields that are present.
type SettingsRequest struct {
	EnableAPI         *bool `json:"enable_api"`
	BackgroundUpdates *bool `json:"background_updates"`
}

type StatusResponse struct {
	Status    string `json:"status"`
	Downloads int    `json:"downloads"`
	Clients   int    `json:"clients"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *ControlServer) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{
		Status:    "running",
		Downloads: len(s.downloads.List()),
		Clients:   s.hub.ClientCount(),
	})
}

func (s *ControlServer) handleAddDownload(w http.ResponseWriter, r *http.Request) {
	var req AddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Bad Request JSON", http.StatusBadRequest)
		return
	}

	if err := s.downloads.AddTask(req.Name, req.URL, req.Destination); err != nil {
		s.logger.Warn("Rejected download", "name", req.Name, "url", req.URL, "error", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	m, ok := s.downloads.Get(req.Name)
	if !ok {
		// finished or failed before we looked
		writeJSON(w, http.StatusAccepted, map[string]string{"name": req.Name})
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (s *ControlServer) handleListDownloads(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.downloads.List())
}

func (s *ControlServer) handleGetDownload(w http.ResponseWriter, r *http.Request) {
	m, ok := s.downloads.Get(chi.URLParam(r, "name"))
	if !ok {
		http.Error(w, "Download not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *ControlServer) handleControl(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var req ControlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Bad Request JSON", http.StatusBadRequest)
		return
	}

	var op func(string)
	switch req.Action {
	case "pause":
		op = s.downloads.PauseTask
	case "resume":
		op = s.downloads.ResumeTask
	case "retry":
		op = s.downloads.RetryTask
	case "cancel", "stop":
		op = s.downloads.CancelTask
	case "remove", "delete":
		op = s.downloads.RemoveTask
	default:
		http.Error(w, "Invalid action", http.StatusBadRequest)
		return
	}

	if _, ok := s.downloads.Get(name); !ok {
		http.Error(w, "Download not found", http.StatusNotFound)
		return
	}

	op(name)
	w.WriteHeader(http.StatusAccepted)
}

func (s *ControlServer) handleGetStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.stats.GetAnalytics())
}

func (s *ControlServer) handleGetAudit(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, s.audit.GetRecentLogs(limit))
}

func (s *ControlServer) settingsView() SettingsResponse {
	return SettingsResponse{
		EnableAPI:         s.cfg.GetEnableAPI(),
		BackgroundUpdates: s.cfg.GetBackgroundUpdates(),
	}
}

func (s *ControlServer) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.settingsView())
}

// handleUpdateSettings applies a partial update. Turning the API off takes
// effect from the next request; background updates apply at the next start.
func (s *ControlServer) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req SettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Bad Request JSON", http.StatusBadRequest)
		return
	}

	if req.BackgroundUpdates != nil {
		if err := s.cfg.SetBackgroundUpdates(*req.BackgroundUpdates); err != nil {
			s.logger.Error("Failed to save setting", "key", "background_updates", "error", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
	if req.EnableAPI != nil {
		if err := s.cfg.SetEnableAPI(*req.EnableAPI); err != nil {
			s.logger.Error("Failed to save setting", "key", "enable_api", "error", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}

	view := s.settingsView()
	s.logger.Info("Settings updated", "enable_api", view.EnableAPI, "background_updates", view.BackgroundUpdates)
	writeJSON(w, http.StatusOK, view)
}
