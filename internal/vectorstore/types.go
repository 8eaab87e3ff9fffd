// Package vectorstore persists and searches embedding vectors with their
// chunk payloads.
//
// Every search is tenant-scoped: the store itself builds the tenant
// predicate, so no caller-supplied filter can widen a query into another
// tenant's data. Callers only choose whether the shared STANDARD corpus is
// included alongside their own.
package vectorstore

import (
	"context"
	"errors"
)

// ErrUnavailable signals that the backing store cannot be reached. Callers
// surface it as a service degradation, not a bad request.
var ErrUnavailable = errors.New("vector store unavailable")

// StandardTenant is the shared corpus visible to every tenant.
const StandardTenant = "STANDARD"

// Payload is the metadata stored alongside a vector. Snippet carries a short
// preview of the chunk so search results render without a relational lookup.
type Payload struct {
	Tenant     string `json:"tenant"`
	Scope      string `json:"scope"`
	DocumentID string `json:"document_id"`
	Ordinal    int    `json:"ordinal"`
	Title      string `json:"title"`
	Source     string `json:"source"`
	Topic      string `json:"topic,omitempty"`
	System     string `json:"system,omitempty"`
	Snippet    string `json:"snippet,omitempty"`
}

// Point is one stored vector. ID is "<document_id>_<ordinal>" so re-ingesting
// a document overwrites its previous points instead of duplicating them.
type Point struct {
	ID      string
	Vector  []float32
	Payload Payload
}

// Filter narrows a search within the caller's tenant visibility. Empty
// fields match everything.
type Filter struct {
	Scope  string
	Topic  string
	System string
}

// SearchQuery describes one similarity search.
type SearchQuery struct {
	Vector []float32
	Tenant string
	// IncludeStandard widens visibility to the shared STANDARD corpus in
	// addition to the tenant's own points. It never grants access to any
	// other tenant.
	IncludeStandard bool
	Limit           int
	Filter          Filter
}

// Hit is one search result, scored by cosine similarity in [0, 1] for
// normalized embeddings (higher is closer).
type Hit struct {
	ID      string
	Score   float64
	Payload Payload
}

// Store is the vector persistence contract. Postgres backs production;
// Memory backs tests and ephemeral extraction.
type Store interface {
	Upsert(ctx context.Context, points []Point) error
	Search(ctx context.Context, q SearchQuery) ([]Hit, error)
	DeleteByDocument(ctx context.Context, documentID string) error
}
