package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/sapwiki/sapwiki/internal/ingest"
)

// documentsHandler serves document CRUD within the tenant's visibility.
type documentsHandler struct {
	svc    *ingest.Service
	logger *slog.Logger
}

type documentResponse struct {
	ID            string     `json:"id"`
	Tenant        string     `json:"tenant"`
	Scope         string     `json:"scope"`
	DocType       string     `json:"doc_type"`
	System        string     `json:"system,omitempty"`
	Topic         string     `json:"topic,omitempty"`
	TCodes        []string   `json:"tcodes,omitempty"`
	Tables        []string   `json:"tables,omitempty"`
	CustomObjects []string   `json:"custom_objects,omitempty"`
	Title         string     `json:"title,omitempty"`
	RootCause     string     `json:"root_cause,omitempty"`
	Steps         []string   `json:"steps,omitempty"`
	Risks         []string   `json:"risks,omitempty"`
	Tags          []string   `json:"tags,omitempty"`
	Source        string     `json:"source,omitempty"`
	Version       int        `json:"version"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     *time.Time `json:"updated_at,omitempty"`
}

func toDocumentResponse(doc *ingest.Document) documentResponse {
	out := documentResponse{
		ID:            doc.ID,
		Tenant:        doc.TenantSlug,
		Scope:         doc.Scope,
		DocType:       doc.DocType,
		System:        doc.System,
		Topic:         doc.Topic,
		TCodes:        doc.TCodes,
		Tables:        doc.Tables,
		CustomObjects: doc.CustomObjects,
		Title:         doc.Title,
		RootCause:     doc.RootCause,
		Steps:         doc.Steps,
		Risks:         doc.Risks,
		Tags:          doc.Tags,
		Source:        doc.Source,
		Version:       doc.Version,
		CreatedAt:     doc.CreatedAt,
	}
	if !doc.UpdatedAt.IsZero() {
		t := doc.UpdatedAt
		out.UpdatedAt = &t
	}
	return out
}

// list handles GET /api/v1/documents.
func (h *documentsHandler) list(w http.ResponseWriter, r *http.Request) {
	tenant := tenantFrom(r)
	if tenant == "" {
		WriteError(w, http.StatusBadRequest, "tenant_required", "X-Tenant-ID header is required", h.logger)
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	docs, err := h.svc.ListDocuments(r.Context(), tenant, limit, offset)
	if err != nil {
		status, code, msg := mapError(err)
		WriteError(w, status, code, msg, h.logger)
		return
	}

	out := make([]documentResponse, len(docs))
	for i := range docs {
		out[i] = toDocumentResponse(&docs[i])
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": out})
}

// get handles GET /api/v1/documents/{id}.
func (h *documentsHandler) get(w http.ResponseWriter, r *http.Request) {
	tenant := tenantFrom(r)
	if tenant == "" {
		WriteError(w, http.StatusBadRequest, "tenant_required", "X-Tenant-ID header is required", h.logger)
		return
	}

	doc, err := h.svc.GetDocument(r.Context(), tenant, r.PathValue("id"))
	if err != nil {
		status, code, msg := mapError(err)
		WriteError(w, status, code, msg, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, toDocumentResponse(doc))
}

type chunkResponse struct {
	Index      int    `json:"index"`
	Content    string `json:"content"`
	TokenCount int    `json:"token_count"`
	PointID    string `json:"point_id"`
}

// chunks handles GET /api/v1/documents/{id}/chunks.
func (h *documentsHandler) chunks(w http.ResponseWriter, r *http.Request) {
	tenant := tenantFrom(r)
	if tenant == "" {
		WriteError(w, http.StatusBadRequest, "tenant_required", "X-Tenant-ID header is required", h.logger)
		return
	}

	chunks, err := h.svc.GetChunks(r.Context(), tenant, r.PathValue("id"))
	if err != nil {
		status, code, msg := mapError(err)
		WriteError(w, status, code, msg, h.logger)
		return
	}

	out := make([]chunkResponse, len(chunks))
	for i, ch := range chunks {
		out[i] = chunkResponse{
			Index:      ch.Index,
			Content:    ch.Content,
			TokenCount: ch.TokenCount,
			PointID:    ch.PointID,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"chunks": out})
}

// delete handles DELETE /api/v1/documents/{id}.
func (h *documentsHandler) delete(w http.ResponseWriter, r *http.Request) {
	tenant := tenantFrom(r)
	if tenant == "" {
		WriteError(w, http.StatusBadRequest, "tenant_required", "X-Tenant-ID header is required", h.logger)
		return
	}

	if err := h.svc.DeleteDocument(r.Context(), tenant, r.PathValue("id")); err != nil {
		status, code, msg := mapError(err)
		WriteError(w, status, code, msg, h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
