package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/sapwiki/sapwiki/internal/retrieval"
	"github.com/sapwiki/sapwiki/internal/vectorstore"
)

// searchHandler serves tenant-scoped semantic search.
type searchHandler struct {
	retriever *retrieval.Retriever
	logger    *slog.Logger
}

type searchRequest struct {
	Query  string `json:"query"`
	Scope  string `json:"scope,omitempty"`
	Topic  string `json:"topic,omitempty"`
	System string `json:"system,omitempty"`
}

type searchResult struct {
	ID         string  `json:"id"`
	Score      float64 `json:"score"`
	DocumentID string  `json:"document_id"`
	Ordinal    int     `json:"ordinal"`
	Title      string  `json:"title,omitempty"`
	Source     string  `json:"source,omitempty"`
	Topic      string  `json:"topic,omitempty"`
	Scope      string  `json:"scope"`
	Snippet    string  `json:"snippet,omitempty"`
}

// search handles POST /api/v1/search.
func (h *searchHandler) search(w http.ResponseWriter, r *http.Request) {
	tenant := tenantFrom(r)
	if tenant == "" {
		WriteError(w, http.StatusBadRequest, "tenant_required", "X-Tenant-ID header is required", h.logger)
		return
	}

	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_json", "request body is not valid JSON", h.logger)
		return
	}
	if req.Query == "" {
		WriteError(w, http.StatusBadRequest, "invalid_request", "query is required", h.logger)
		return
	}

	results, err := h.retriever.Retrieve(r.Context(), tenant, req.Query, vectorstore.Filter{
		Scope:  req.Scope,
		Topic:  req.Topic,
		System: req.System,
	})
	if err != nil {
		status, code, msg := mapError(err)
		WriteError(w, status, code, msg, h.logger)
		return
	}

	out := make([]searchResult, len(results))
	for i, res := range results {
		out[i] = searchResult{
			ID:         res.ID,
			Score:      res.Score,
			DocumentID: res.Payload.DocumentID,
			Ordinal:    res.Payload.Ordinal,
			Title:      res.Payload.Title,
			Source:     res.Payload.Source,
			Topic:      res.Payload.Topic,
			Scope:      res.Payload.Scope,
			Snippet:    res.Payload.Snippet,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": out})
}
