// Package api exposes the ingestion and retrieval pipeline over a JSON HTTP
// API. Tenancy comes from the X-Tenant-ID header set by the authenticating
// reverse proxy; every data route requires it.
package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/sapwiki/sapwiki/internal/assembler"
	"github.com/sapwiki/sapwiki/internal/ingest"
	"github.com/sapwiki/sapwiki/internal/retrieval"
)

// ServerConfig contains everything the API server needs.
type ServerConfig struct {
	Logger           *slog.Logger
	Ingest           *ingest.Service      // Required
	Retriever        *retrieval.Retriever // Required
	Assembler        *assembler.Assembler // Required
	LLM              completer            // Required
	Pool             pinger               // Optional: nil disables DB readiness probing
	MaxContextTokens int
	CORSOrigins      []string
	TrustProxy       bool // Trust X-Real-IP/X-Forwarded-For (behind reverse proxy)
	RateBurst        int  // Rate limiter burst size per IP (0 = default 60)
}

// Server is the JSON API HTTP server.
type Server struct {
	mux *http.ServeMux
}

// NewServer creates the server with all routes configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Ingest == nil || cfg.Retriever == nil || cfg.Assembler == nil || cfg.LLM == nil {
		return nil, errors.New("ingest service, retriever, assembler, and llm client are required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxTokens := cfg.MaxContextTokens
	if maxTokens <= 0 {
		maxTokens = 8000
	}

	ih := &ingestHandler{svc: cfg.Ingest, logger: logger}
	dh := &documentsHandler{svc: cfg.Ingest, logger: logger}
	sh := &searchHandler{retriever: cfg.Retriever, logger: logger}
	ch := &chatHandler{
		retriever: cfg.Retriever,
		assembler: cfg.Assembler,
		llm:       cfg.LLM,
		maxTokens: maxTokens,
		logger:    logger,
	}

	mux := http.NewServeMux()

	// Ingestion (permanent flow)
	mux.HandleFunc("POST /api/v1/ingest/text", ih.ingestText)
	mux.HandleFunc("POST /api/v1/ingest/files", ih.ingestFiles)

	// Ephemeral attachment extraction (context flow)
	mux.HandleFunc("POST /api/v1/files/extract", ih.extractFile)

	// Documents
	mux.HandleFunc("GET /api/v1/documents", dh.list)
	mux.HandleFunc("GET /api/v1/documents/{id}", dh.get)
	mux.HandleFunc("GET /api/v1/documents/{id}/chunks", dh.chunks)
	mux.HandleFunc("DELETE /api/v1/documents/{id}", dh.delete)

	// Search and chat
	mux.HandleFunc("POST /api/v1/search", sh.search)
	mux.HandleFunc("POST /api/v1/chat", ch.chat)
	mux.HandleFunc("POST /api/v1/chat/save-response", ih.saveResponse)
	mux.HandleFunc("POST /api/v1/extract", ch.extractStructure)

	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 60
	}
	rl := newRateLimiter(1.0, burst)

	// Middleware stack (outermost first):
	//   Recovery → RequestID → Logging → CORS → RateLimit → Routes
	// RequestID precedes Logging so request_id appears in log attributes;
	// CORS precedes RateLimit so preflight OPTIONS gets proper headers.
	var handler http.Handler = mux
	handler = rateLimitMiddleware(rl, cfg.TrustProxy, logger)(handler)
	handler = corsMiddleware(cfg.CORSOrigins)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = requestIDMiddleware()(handler)
	handler = recoveryMiddleware(logger)(handler)

	// Health probes bypass the middleware stack.
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /health", health)
	topMux.Handle("GET /ready", readiness(cfg.Pool))
	topMux.Handle("/", handler)

	return &Server{mux: topMux}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}
