package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"corpusd/internal/dispatcher"
	"corpusd/internal/model"
)

type createTenantRequest struct {
	Name               string `json:"name"`
	CredentialRaw      string `json:"credential"`
	RateLimitPerMinute int    `json:"rate_limit_per_minute"`
}

func (s *Server) handleCreateTenant(w http.ResponseWriter, r *http.Request) {
	var req createTenantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed tenant request")
		return
	}
	if req.Name == "" || req.CredentialRaw == "" {
		writeError(w, http.StatusBadRequest, "name and credential are required")
		return
	}
	limit := req.RateLimitPerMinute
	if limit <= 0 {
		limit = 600
	}
	tenant := model.Tenant{
		TenantID:              uuid.NewString(),
		Name:                  req.Name,
		CredentialFingerprint: fingerprint(req.CredentialRaw),
		RateLimitPerMinute:    limit,
		CreatedAt:             time.Now(),
	}
	if err := s.metadata.CreateTenant(r.Context(), tenant); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"tenant_id": tenant.TenantID})
}

func (s *Server) handleListTenants(w http.ResponseWriter, r *http.Request) {
	tenants, err := s.metadata.ListTenants(r.Context())
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tenants": tenants})
}

func (s *Server) handleDeleteTenant(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenant_id")
	// Blobs and vectors are not covered by the SQL cascade, so each owned
	// document goes through the dispatcher's cascading delete first.
	docs, err := s.metadata.ListDocumentsByTenant(r.Context(), tenantID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	for _, doc := range docs {
		if _, err := s.dispatcher.Delete(r.Context(), tenantID, doc.DocumentID); err != nil {
			writeAppError(w, err)
			return
		}
	}
	if err := s.metadata.DeleteTenant(r.Context(), tenantID); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (s *Server) handleInternalStats(w http.ResponseWriter, r *http.Request) {
	tenants, err := s.metadata.ListTenants(r.Context())
	if err != nil {
		writeAppError(w, err)
		return
	}
	stats := map[string]map[model.DocumentStatus]int{}
	for _, t := range tenants {
		counts, err := s.metadata.TenantDocumentCounts(r.Context(), t.TenantID)
		if err != nil {
			writeAppError(w, err)
			return
		}
		stats[t.TenantID] = counts
	}
	writeJSON(w, http.StatusOK, map[string]any{"tenant_count": len(tenants), "document_counts_by_tenant": stats})
}

func (s *Server) handleInternalListDocuments(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant_id")
	if tenantID == "" {
		writeError(w, http.StatusBadRequest, "tenant_id query parameter is required")
		return
	}
	docs, err := s.metadata.ListDocumentsByTenant(r.Context(), tenantID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

func (s *Server) handleInternalGetDocument(w http.ResponseWriter, r *http.Request) {
	documentID := r.PathValue("document_id")
	tenantID := r.URL.Query().Get("tenant_id")
	if tenantID == "" {
		writeError(w, http.StatusBadRequest, "tenant_id query parameter is required")
		return
	}
	view, err := s.dispatcher.Status(r.Context(), tenantID, documentID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view.Document)
}

type internalSearchRequest struct {
	TenantID       string  `json:"tenant_id"`
	Query          string  `json:"query"`
	Limit          int     `json:"limit"`
	ScoreThreshold float64 `json:"score_threshold"`
}

func (s *Server) handleInternalSearch(w http.ResponseWriter, r *http.Request) {
	var req internalSearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed search request")
		return
	}
	if req.TenantID == "" {
		writeError(w, http.StatusBadRequest, "tenant_id is required")
		return
	}
	tenant, err := s.metadata.GetTenant(r.Context(), req.TenantID)
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown tenant")
		return
	}
	results, err := s.dispatcher.Search(r.Context(), tenant, dispatcher.SearchRequest{
		Query: req.Query, Limit: req.Limit, ScoreThreshold: req.ScoreThreshold,
	})
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (s *Server) handleInternalAuthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
