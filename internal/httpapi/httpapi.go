// Package httpapi exposes the agent's debug/status surface over HTTP:
// a health check and read-only views into bring-up state and the audit
// log, for operators diagnosing a stalled provisioning session.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/fieldkit-io/btprovd/internal/auditlog"
	"github.com/fieldkit-io/btprovd/internal/gattsvc"
	"github.com/fieldkit-io/btprovd/internal/middleware"
)

// StateReporter is the subset of gattsvc.Service the debug surface needs.
type StateReporter interface {
	State() gattsvc.BringupState
}

// Server is the debug/status HTTP surface.
type Server struct {
	log   *logrus.Logger
	svc   StateReporter
	audit *auditlog.Log
	addr  string
}

// New builds a Server bound to addr (host:port). audit may be nil.
func New(addr string, svc StateReporter, audit *auditlog.Log, log *logrus.Logger) *Server {
	return &Server{log: log, svc: svc, audit: audit, addr: addr}
}

// Router builds the gorilla/mux router with the full middleware chain.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.Use(middleware.CORS)
	r.Use(middleware.Logger(s.log))

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/debug/state", s.handleState).Methods(http.MethodGet)
	r.HandleFunc("/debug/sessions", s.handleSessions).Methods(http.MethodGet)

	notFound := middleware.NotFoundLogger(s.log)(http.HandlerFunc(s.handleNotFound))
	r.NotFoundHandler = notFound
	return r
}

// ListenAndServe starts the HTTP server; blocks until it errors.
func (s *Server) ListenAndServe() error {
	s.log.WithField("addr", s.addr).Info("httpapi: debug server starting")
	return http.ListenAndServe(s.addr, s.Router())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"service": "btprovd",
	})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"state": s.svc.State().String(),
	})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"connect_attempts": []interface{}{}, "transitions": []interface{}{}})
		return
	}
	attempts, err := s.audit.RecentConnectAttempts(50)
	if err != nil {
		s.log.WithError(err).Warn("httpapi: read connect attempts failed")
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"error": "internal error"})
		return
	}
	transitions, err := s.audit.RecentTransitions(50)
	if err != nil {
		s.log.WithError(err).Warn("httpapi: read state transitions failed")
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"error": "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"connect_attempts": attempts,
		"transitions":      transitions,
	})
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, map[string]interface{}{
		"error":  "not found",
		"path":   r.URL.Path,
		"method": r.Method,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
