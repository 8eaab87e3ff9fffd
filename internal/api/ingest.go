package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/sapwiki/sapwiki/internal/ingest"
)

// ingestHandler serves the permanent ingestion flow.
type ingestHandler struct {
	svc    *ingest.Service
	logger *slog.Logger
}

type ingestTextRequest struct {
	DocumentID    string   `json:"document_id,omitempty"`
	Text          string   `json:"text"`
	Title         string   `json:"title,omitempty"`
	Scope         string   `json:"scope,omitempty"`
	ForceStandard bool     `json:"force_standard,omitempty"`
	DocType       string   `json:"doc_type,omitempty"`
	Source        string   `json:"source,omitempty"`
	Topic         string   `json:"topic,omitempty"`
	System        string   `json:"system,omitempty"`
	TCodes        []string `json:"tcodes,omitempty"`
	Tables        []string `json:"tables,omitempty"`
	Tags          []string `json:"tags,omitempty"`
}

type ingestResponse struct {
	DocumentID   string   `json:"document_id"`
	Tenant       string   `json:"tenant"`
	Scope        string   `json:"scope"`
	Topic        string   `json:"topic,omitempty"`
	Version      int      `json:"version"`
	ChunkCount   int      `json:"chunk_count"`
	Deduplicated bool     `json:"deduplicated"`
	Warnings     []string `json:"warnings,omitempty"`
}

func toIngestResponse(res *ingest.Result) ingestResponse {
	return ingestResponse{
		DocumentID:   res.DocumentID,
		Tenant:       res.Tenant,
		Scope:        res.Scope,
		Topic:        res.Topic,
		Version:      res.Version,
		ChunkCount:   res.ChunkCount,
		Deduplicated: res.Deduplicated,
		Warnings:     res.Warnings,
	}
}

// ingestText handles POST /api/v1/ingest/text.
func (h *ingestHandler) ingestText(w http.ResponseWriter, r *http.Request) {
	tenant := tenantFrom(r)
	if tenant == "" {
		WriteError(w, http.StatusBadRequest, "tenant_required", "X-Tenant-ID header is required", h.logger)
		return
	}

	var req ingestTextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_json", "request body is not valid JSON", h.logger)
		return
	}

	res, err := h.svc.IngestText(r.Context(), ingest.Request{
		DocumentID:    req.DocumentID,
		Tenant:        tenant,
		Scope:         req.Scope,
		ForceStandard: req.ForceStandard,
		DocType:       req.DocType,
		Title:         req.Title,
		Source:        req.Source,
		Topic:         req.Topic,
		System:        req.System,
		TCodes:        req.TCodes,
		Tables:        req.Tables,
		Tags:          req.Tags,
		Text:          req.Text,
	})
	if err != nil {
		status, code, msg := mapError(err)
		WriteError(w, status, code, msg, h.logger)
		return
	}

	status := http.StatusCreated
	if res.Deduplicated {
		status = http.StatusOK
	}
	writeJSON(w, status, toIngestResponse(res))
}

type saveResponseRequest struct {
	Answer string `json:"answer"`
	Title  string `json:"title"`
}

// saveResponse handles POST /api/v1/chat/save-response: promote a validated
// chat answer into the shared STANDARD corpus so every tenant benefits from
// it. The requesting tenant is recorded in the document source.
func (h *ingestHandler) saveResponse(w http.ResponseWriter, r *http.Request) {
	tenant := tenantFrom(r)
	if tenant == "" {
		WriteError(w, http.StatusBadRequest, "tenant_required", "X-Tenant-ID header is required", h.logger)
		return
	}

	var req saveResponseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_json", "request body is not valid JSON", h.logger)
		return
	}
	if req.Title == "" {
		WriteError(w, http.StatusBadRequest, "invalid_request", "title is required", h.logger)
		return
	}

	res, err := h.svc.IngestText(r.Context(), ingest.Request{
		Tenant: tenant,
		Scope:  ingest.ScopeStandard,
		// A reviewed answer goes into the shared corpus as-is, even when
		// it mentions customer objects.
		ForceStandard: true,
		DocType:       ingest.DocTypeNote,
		Title:         req.Title,
		Source:        "chat-response:" + tenant,
		Text:          req.Answer,
	})
	if err != nil {
		status, code, msg := mapError(err)
		WriteError(w, status, code, msg, h.logger)
		return
	}

	h.logger.Info("chat response saved as shared document",
		"document_id", res.DocumentID, "original_tenant", tenant)

	status := http.StatusCreated
	if res.Deduplicated {
		status = http.StatusOK
	}
	writeJSON(w, status, toIngestResponse(res))
}

type fileResultResponse struct {
	Name       string `json:"name"`
	OK         bool   `json:"ok"`
	DocumentID string `json:"document_id,omitempty"`
	ChunkCount int    `json:"chunk_count,omitempty"`
	Error      string `json:"error,omitempty"`
}

// ingestFiles handles POST /api/v1/ingest/files (multipart). Files that fail
// to parse are reported per file; the batch itself still succeeds.
func (h *ingestHandler) ingestFiles(w http.ResponseWriter, r *http.Request) {
	tenant := tenantFrom(r)
	if tenant == "" {
		WriteError(w, http.StatusBadRequest, "tenant_required", "X-Tenant-ID header is required", h.logger)
		return
	}

	if err := r.ParseMultipartForm(64 << 20); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_multipart", "request is not valid multipart form data", h.logger)
		return
	}

	var files []ingest.File
	for _, header := range r.MultipartForm.File["files"] {
		f, err := header.Open()
		if err != nil {
			WriteError(w, http.StatusBadRequest, "invalid_multipart", "cannot read uploaded file", h.logger)
			return
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			WriteError(w, http.StatusBadRequest, "invalid_multipart", "cannot read uploaded file", h.logger)
			return
		}
		files = append(files, ingest.File{Name: header.Filename, Data: data})
	}

	base := ingest.Request{
		Tenant:        tenant,
		Scope:         r.FormValue("scope"),
		ForceStandard: r.FormValue("force_standard") == "true",
		DocType:       r.FormValue("doc_type"),
		Topic:         r.FormValue("topic"),
		System:        r.FormValue("system"),
	}

	results, err := h.svc.IngestFiles(r.Context(), base, files)
	if err != nil {
		status, code, msg := mapError(err)
		WriteError(w, status, code, msg, h.logger)
		return
	}

	out := make([]fileResultResponse, len(results))
	for i, res := range results {
		out[i] = fileResultResponse{Name: res.Name}
		if res.Err != nil {
			out[i].Error = res.Err.Error()
			continue
		}
		out[i].OK = true
		out[i].DocumentID = res.Result.DocumentID
		out[i].ChunkCount = res.Result.ChunkCount
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": out})
}

type extractFileResponse struct {
	Name       string   `json:"name"`
	Text       string   `json:"text"`
	TokenCount int      `json:"token_count"`
	TCodes     []string `json:"tcodes,omitempty"`
	Tables     []string `json:"tables,omitempty"`
	Topic      string   `json:"topic,omitempty"`
	System     string   `json:"system,omitempty"`
}

// extractFile handles POST /api/v1/files/extract: parse an attachment for
// the ephemeral chat flow. Nothing is persisted.
func (h *ingestHandler) extractFile(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(64 << 20); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_multipart", "request is not valid multipart form data", h.logger)
		return
	}
	f, header, err := r.FormFile("file")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_multipart", "a file field is required", h.logger)
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_multipart", "cannot read uploaded file", h.logger)
		return
	}

	file, err := h.svc.ExtractEphemeral(header.Filename, data)
	if err != nil {
		status, code, msg := mapError(err)
		WriteError(w, status, code, msg, h.logger)
		return
	}

	writeJSON(w, http.StatusOK, extractFileResponse{
		Name:       file.Name,
		Text:       file.Text,
		TokenCount: file.TokenCount,
		TCodes:     file.Metadata.TCodes,
		Tables:     file.Metadata.Tables,
		Topic:      file.Metadata.Topic,
		System:     file.Metadata.System,
	})
}
