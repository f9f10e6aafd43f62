package httpapi

import (
	"encoding/json"
	"io"
	"net/http"

	"corpusd/internal/dispatcher"
	"corpusd/internal/model"
)

const maxBulkFiles = 100

func (s *Server) handleUploadSingle(w http.ResponseWriter, r *http.Request) {
	tenant, _ := tenantFromContext(r.Context())
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "malformed multipart upload")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()
	content, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read upload")
		return
	}

	result, err := s.dispatcher.Upload(r.Context(), tenant, header.Filename, content)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"document_id": result.DocumentID, "status": string(result.Status)})
}

func (s *Server) handleUploadBulk(w http.ResponseWriter, r *http.Request) {
	tenant, _ := tenantFromContext(r.Context())
	if err := r.ParseMultipartForm(64 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "malformed multipart upload")
		return
	}
	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		writeError(w, http.StatusBadRequest, "no files provided")
		return
	}
	if len(files) > maxBulkFiles {
		writeError(w, http.StatusBadRequest, "too many files in one bulk upload")
		return
	}

	type uploadOutcome struct {
		DocumentID string `json:"document_id,omitempty"`
		Status     string `json:"status,omitempty"`
		Error      string `json:"error,omitempty"`
	}
	outcomes := make([]uploadOutcome, 0, len(files))
	for _, header := range files {
		f, err := header.Open()
		if err != nil {
			outcomes = append(outcomes, uploadOutcome{Error: "failed to open file"})
			continue
		}
		content, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			outcomes = append(outcomes, uploadOutcome{Error: "failed to read file"})
			continue
		}
		result, err := s.dispatcher.Upload(r.Context(), tenant, header.Filename, content)
		if err != nil {
			outcomes = append(outcomes, uploadOutcome{Error: err.Error()})
			continue
		}
		outcomes = append(outcomes, uploadOutcome{DocumentID: result.DocumentID, Status: string(result.Status)})
	}
	writeJSON(w, http.StatusOK, outcomes)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	tenant, _ := tenantFromContext(r.Context())
	documentID := r.PathValue("document_id")

	view, err := s.dispatcher.Status(r.Context(), tenant.TenantID, documentID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	perStage := map[string]map[string]string{}
	for _, stage := range []model.Stage{model.StageExtract, model.StageChunk, model.StageEmbed} {
		if status, ok := view.Stages[stage]; ok {
			perStage[string(stage)] = map[string]string{"status": string(status)}
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"document_id": view.Document.DocumentID,
		"status":      view.Document.Status,
		"per_stage":   perStage,
	})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	tenant, _ := tenantFromContext(r.Context())
	documentID := r.PathValue("document_id")

	result, err := s.dispatcher.Delete(r.Context(), tenant.TenantID, documentID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"deleted":         result.Deleted,
		"chunks_deleted":  result.ChunksDeleted,
		"vectors_deleted": result.VectorsDeleted,
	})
}

func (s *Server) handleMetricsMe(w http.ResponseWriter, r *http.Request) {
	tenant, _ := tenantFromContext(r.Context())
	counts, err := s.dispatcher.Metrics(r.Context(), tenant.TenantID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"document_counts": counts})
}

type searchRequestBody struct {
	Query         string  `json:"query"`
	Limit         int     `json:"limit"`
	ScoreThreshold float64 `json:"score_threshold"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	tenant, _ := tenantFromContext(r.Context())
	var body searchRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed search request")
		return
	}
	results, err := s.dispatcher.Search(r.Context(), tenant, dispatcher.SearchRequest{
		Query: body.Query, Limit: body.Limit, ScoreThreshold: body.ScoreThreshold,
	})
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}
