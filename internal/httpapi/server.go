// Package httpapi is the thin HTTP surface: authentication, rate-limit
// admission (delegated to the dispatcher), and request/response marshaling.
// It contains no pipeline logic of its own.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"corpusd/internal/dispatcher"
	"corpusd/internal/metadatastore"
)

// Server wires the dispatcher and auth resolver into a stdlib ServeMux.
type Server struct {
	mux           *http.ServeMux
	dispatcher    *dispatcher.Dispatcher
	metadata      metadatastore.Store
	internalToken string
	log           zerolog.Logger
}

// New builds the full route table.
func New(d *dispatcher.Dispatcher, metadata metadatastore.Store, internalToken string, log zerolog.Logger) *Server {
	s := &Server{mux: http.NewServeMux(), dispatcher: d, metadata: metadata, internalToken: internalToken, log: log}
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) routes() {
	// Tenant-scoped surface.
	s.mux.HandleFunc("POST /upload/single", s.withTenant(s.handleUploadSingle))
	s.mux.HandleFunc("POST /upload/bulk", s.withTenant(s.handleUploadBulk))
	s.mux.HandleFunc("GET /status/{document_id}", s.withTenant(s.handleStatus))
	s.mux.HandleFunc("DELETE /documents/{document_id}", s.withTenant(s.handleDelete))
	s.mux.HandleFunc("GET /metrics/me", s.withTenant(s.handleMetricsMe))
	s.mux.HandleFunc("POST /search", s.withTenant(s.handleSearch))

	// Internal-scoped surface.
	s.mux.HandleFunc("GET /internal/tenants", s.withInternal(s.handleListTenants))
	s.mux.HandleFunc("POST /internal/tenants", s.withInternal(s.handleCreateTenant))
	s.mux.HandleFunc("DELETE /internal/tenants/{tenant_id}", s.withInternal(s.handleDeleteTenant))
	s.mux.HandleFunc("GET /internal/stats", s.withInternal(s.handleInternalStats))
	s.mux.HandleFunc("GET /internal/documents", s.withInternal(s.handleInternalListDocuments))
	s.mux.HandleFunc("GET /internal/documents/{document_id}", s.withInternal(s.handleInternalGetDocument))
	s.mux.HandleFunc("POST /internal/search", s.withInternal(s.handleInternalSearch))
	s.mux.HandleFunc("GET /internal/health", s.handleHealth)
	s.mux.HandleFunc("POST /internal/auth", s.withInternal(s.handleInternalAuthCheck))
}

// healthPinger is satisfied by every store this server depends on.
type healthPinger interface {
	Ping(ctx context.Context) error
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	status := map[string]string{}
	overall := http.StatusOK

	check := func(name string, p healthPinger) {
		if p == nil {
			return
		}
		if err := p.Ping(ctx); err != nil {
			status[name] = "down: " + err.Error()
			overall = http.StatusServiceUnavailable
			return
		}
		status[name] = "ok"
	}
	check("metadata", s.metadata)

	writeJSON(w, overall, map[string]any{"components": status})
}
