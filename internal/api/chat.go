package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/sapwiki/sapwiki/internal/assembler"
	"github.com/sapwiki/sapwiki/internal/llm"
	"github.com/sapwiki/sapwiki/internal/retrieval"
	"github.com/sapwiki/sapwiki/internal/vectorstore"
)

// completer is the part of llm.Client the chat handler needs; tests
// substitute a fake.
type completer interface {
	Complete(ctx context.Context, req llm.CompletionRequest) (*llm.Answer, error)
	ExtractStructure(ctx context.Context, text string) (*llm.Structure, error)
}

// chatHandler serves the grounded question-answering flow.
type chatHandler struct {
	retriever *retrieval.Retriever
	assembler *assembler.Assembler
	llm       completer
	maxTokens int
	logger    *slog.Logger
}

type attachedFile struct {
	Name string `json:"name"`
	Text string `json:"text"`
}

type chatRequest struct {
	Question string `json:"question"`
	Topic    string `json:"topic,omitempty"`
	System   string `json:"system,omitempty"`
	// Files are ephemeral attachments, already extracted to text via
	// /files/extract. They are never persisted.
	Files []attachedFile `json:"files,omitempty"`
}

type chatResponse struct {
	Answer     string                `json:"answer"`
	Confidence float64               `json:"confidence"`
	Sources    []assembler.SourceRef `json:"sources"`
	Dropped    []assembler.SourceRef `json:"dropped_sources,omitempty"`
	Truncated  bool                  `json:"truncated"`
	Usage      llm.Usage             `json:"usage"`
}

// chat handles POST /api/v1/chat.
func (h *chatHandler) chat(w http.ResponseWriter, r *http.Request) {
	tenant := tenantFrom(r)
	if tenant == "" {
		WriteError(w, http.StatusBadRequest, "tenant_required", "X-Tenant-ID header is required", h.logger)
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_json", "request body is not valid JSON", h.logger)
		return
	}
	if req.Question == "" {
		WriteError(w, http.StatusBadRequest, "invalid_request", "question is required", h.logger)
		return
	}

	retrieved, err := h.retriever.Retrieve(r.Context(), tenant, req.Question, vectorstore.Filter{
		Topic:  req.Topic,
		System: req.System,
	})
	if err != nil {
		status, code, msg := mapError(err)
		WriteError(w, status, code, msg, h.logger)
		return
	}

	files := make([]assembler.File, len(req.Files))
	for i, f := range req.Files {
		files[i] = assembler.File{Name: f.Name, Text: f.Text}
	}
	chunks := make([]assembler.Chunk, len(retrieved))
	for i, res := range retrieved {
		chunks[i] = assembler.Chunk{
			ID:     res.ID,
			Source: res.Payload.Source,
			Title:  res.Payload.Title,
			Text:   res.Payload.Snippet,
			Score:  res.Score,
		}
	}
	assembly := h.assembler.Assemble(files, chunks, h.maxTokens)

	kbCount := 0
	for _, src := range assembly.Sources {
		if src.Kind == assembler.KindKnowledgeBase {
			kbCount++
		}
	}

	answer, err := h.llm.Complete(r.Context(), llm.CompletionRequest{
		Question:   req.Question,
		Context:    assembly.Context,
		ChunkCount: kbCount,
	})
	if err != nil {
		status, code, msg := mapError(err)
		WriteError(w, status, code, msg, h.logger)
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{
		Answer:     answer.Text,
		Confidence: answer.Confidence,
		Sources:    assembly.Sources,
		Dropped:    assembly.Dropped,
		Truncated:  assembly.Truncated,
		Usage:      answer.Usage,
	})
}

type extractStructureRequest struct {
	Text string `json:"text"`
}

// extractStructure handles POST /api/v1/extract: structure a free-text
// incident resolution.
func (h *chatHandler) extractStructure(w http.ResponseWriter, r *http.Request) {
	var req extractStructureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_json", "request body is not valid JSON", h.logger)
		return
	}

	structure, err := h.llm.ExtractStructure(r.Context(), req.Text)
	if err != nil {
		status, code, msg := mapError(err)
		WriteError(w, status, code, msg, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, structure)
}
