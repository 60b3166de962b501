// Package api provides HTTP handlers and routing for the orchestrator service.
package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/flowmesh/flowmesh/internal/auth"
)

// Server holds the HTTP handlers and dependencies.
type Server struct {
	router   *mux.Router
	handlers *Handlers
	authMW   *auth.Middleware
}

// NewServer creates a new API server. authMW may be nil when authentication
// is disabled.
func NewServer(h *Handlers, authMW *auth.Middleware) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		handlers: h,
		authMW:   authMW,
	}
	s.setupRoutes()
	return s
}

// Router returns the configured router for use with http.Server.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	h := s.handlers

	// Role checks are enforced only when authentication is on; otherwise
	// requests carry no claims and pass through.
	enforced := h.config != nil && h.config.AuthMode != "" && h.config.AuthMode != "disabled"
	editor := auth.RequireRole(auth.RoleEditor, enforced)
	admin := auth.RequireRole(auth.RoleAdmin, enforced)

	// Health and observability endpoints
	s.router.HandleFunc("/healthz", h.Health).Methods("GET")
	s.router.HandleFunc("/readyz", h.Ready).Methods("GET")
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// API routes
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Authentication
	api.HandleFunc("/auth/login", h.Login).Methods("POST")

	// Agent catalog
	api.HandleFunc("/agents", h.ListAgents).Methods("GET")

	// Workflow management; mutations require the editor role
	api.HandleFunc("/workflows", h.ListWorkflows).Methods("GET")
	api.Handle("/workflows", editor(http.HandlerFunc(h.CreateWorkflow))).Methods("POST")
	api.HandleFunc("/workflows/{id}", h.GetWorkflow).Methods("GET")
	api.Handle("/workflows/{id}", editor(http.HandlerFunc(h.UpdateWorkflow))).Methods("PUT")
	api.Handle("/workflows/{id}", editor(http.HandlerFunc(h.DeleteWorkflow))).Methods("DELETE")
	api.Handle("/workflows/{id}/execute", editor(http.HandlerFunc(h.ExecuteWorkflow))).Methods("POST")

	// Execution records and streaming
	api.HandleFunc("/executions", h.ListExecutions).Methods("GET")
	api.HandleFunc("/executions/{id}", h.GetExecution).Methods("GET")
	api.HandleFunc("/executions/{id}/logs", h.GetExecutionLogs).Methods("GET")
	api.HandleFunc("/executions/{id}/events", h.StreamEvents).Methods("GET")
	api.Handle("/executions/{id}/archive", editor(http.HandlerFunc(h.ArchiveExecution))).Methods("POST")

	// Audit trail, admins only
	api.Handle("/audit", admin(http.HandlerFunc(h.ListAuditEntries))).Methods("GET")

	// Apply middleware. Order matters: recovery wraps everything below it,
	// auth runs last so rejected requests are still logged and counted.
	s.router.Use(s.handlers.RecoveryMiddleware)
	s.router.Use(s.handlers.CORSMiddleware)
	s.router.Use(s.handlers.LoggingMiddleware)
	if h.config != nil && h.config.RateLimitRPS > 0 {
		limiter := auth.NewPerIPRateLimiter(h.config.RateLimitRPS, h.config.RateLimitBurst)
		s.router.Use(limiter.Handler)
	}
	if s.authMW != nil {
		s.router.Use(s.authMW.Handler)
	}
}
