// Package retrieval answers queries against the vector store: embed the
// query, search within the tenant's visibility, drop weak hits, keep the
// best few.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sapwiki/sapwiki/internal/vectorstore"
)

const (
	defaultTopKInitial = 30
	defaultTopKFinal   = 5
	defaultMinScore    = 0.30
)

// QueryEmbedder embeds a single query text. Satisfied by embedding.Client.
type QueryEmbedder interface {
	EmbedOne(ctx context.Context, text string) ([]float32, error)
}

// Config tunes the retrieval funnel. TopKInitial is how many candidates the
// vector search returns; MinScore drops weak candidates; TopKFinal is how
// many survivors are handed to context assembly.
type Config struct {
	TopKInitial int
	TopKFinal   int
	MinScore    float64
}

// Result is one retrieved chunk with its similarity score.
type Result struct {
	ID      string
	Score   float64
	Payload vectorstore.Payload
}

// Retriever runs tenant-scoped semantic search.
type Retriever struct {
	embedder QueryEmbedder
	store    vectorstore.Store
	cfg      Config
	logger   *slog.Logger
}

// New creates a Retriever. Zero config fields fall back to defaults.
func New(embedder QueryEmbedder, store vectorstore.Store, cfg Config, logger *slog.Logger) *Retriever {
	if cfg.TopKInitial <= 0 {
		cfg.TopKInitial = defaultTopKInitial
	}
	if cfg.TopKFinal <= 0 {
		cfg.TopKFinal = defaultTopKFinal
	}
	if cfg.MinScore <= 0 {
		cfg.MinScore = defaultMinScore
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{embedder: embedder, store: store, cfg: cfg, logger: logger}
}

// Retrieve returns the best chunks for a query, scoped to the tenant plus
// the shared STANDARD corpus. An empty result is a valid answer, not an
// error: it means the knowledge base has nothing relevant above MinScore.
func (r *Retriever) Retrieve(ctx context.Context, tenant, query string, filter vectorstore.Filter) ([]Result, error) {
	if tenant == "" {
		return nil, fmt.Errorf("retrieve requires a tenant")
	}
	if query == "" {
		return nil, fmt.Errorf("retrieve requires a query")
	}

	vector, err := r.embedder.EmbedOne(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	hits, err := r.store.Search(ctx, vectorstore.SearchQuery{
		Vector:          vector,
		Tenant:          tenant,
		IncludeStandard: true,
		Limit:           r.cfg.TopKInitial,
		Filter:          filter,
	})
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	results := make([]Result, 0, r.cfg.TopKFinal)
	for _, hit := range hits {
		if hit.Score < r.cfg.MinScore {
			continue
		}
		results = append(results, Result{ID: hit.ID, Score: hit.Score, Payload: hit.Payload})
		if len(results) == r.cfg.TopKFinal {
			break
		}
	}

	r.logger.Debug("retrieved chunks",
		"tenant", tenant, "candidates", len(hits), "kept", len(results))
	return results, nil
}
