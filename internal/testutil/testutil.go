// Package testutil provides in-memory fakes shared across package tests: a
// deterministic embedder and an in-memory document repository.
package testutil

import (
	"context"
	"hash/fnv"
	"math"
	"sort"
	"sync"

	"github.com/sapwiki/sapwiki/internal/ingest"
)

// Embedder is a deterministic in-process Embedder. Identical texts always
// produce identical vectors; Vectors pins exact vectors for chosen texts so
// similarity ordering can be scripted.
type Embedder struct {
	Dim     int
	Vectors map[string][]float32
	Err     error

	mu    sync.Mutex
	calls [][]string
}

// Embed returns one vector per text, in order.
func (e *Embedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.calls = append(e.calls, append([]string(nil), texts...))
	e.mu.Unlock()

	if e.Err != nil {
		return nil, e.Err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if v, ok := e.Vectors[t]; ok {
			out[i] = v
			continue
		}
		out[i] = e.vector(t)
	}
	return out, nil
}

// EmbedOne embeds a single text.
func (e *Embedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vs, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vs[0], nil
}

// Calls returns a copy of every batch passed to Embed.
func (e *Embedder) Calls() [][]string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([][]string(nil), e.calls...)
}

// vector hashes the text into a unit vector. Distinct texts land in distinct
// directions with overwhelming probability.
func (e *Embedder) vector(text string) []float32 {
	dim := e.Dim
	if dim <= 0 {
		dim = 8
	}
	v := make([]float32, dim)
	var norm float64
	for i := range v {
		h := fnv.New64a()
		h.Write([]byte{byte(i)})
		h.Write([]byte(text))
		v[i] = float32(h.Sum64()%1000)/1000 - 0.5
		norm += float64(v[i]) * float64(v[i])
	}
	if norm == 0 {
		v[0] = 1
		return v
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range v {
		v[i] *= scale
	}
	return v
}

// MemRepo is an in-memory ingest.Repository with the same visibility rules
// as the Postgres implementation.
type MemRepo struct {
	mu     sync.Mutex
	seq    int
	order  map[string]int
	docs   map[string]*ingest.Document
	chunks map[string][]ingest.ChunkRecord
}

// NewMemRepo creates an empty repository.
func NewMemRepo() *MemRepo {
	return &MemRepo{
		order:  make(map[string]int),
		docs:   make(map[string]*ingest.Document),
		chunks: make(map[string][]ingest.ChunkRecord),
	}
}

func (r *MemRepo) SaveDocument(_ context.Context, doc *ingest.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *doc
	if _, ok := r.docs[doc.ID]; !ok {
		r.seq++
		r.order[doc.ID] = r.seq
	}
	r.docs[doc.ID] = &copied
	return nil
}

func (r *MemRepo) ReplaceChunks(_ context.Context, documentID string, chunks []ingest.ChunkRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chunks[documentID] = append([]ingest.ChunkRecord(nil), chunks...)
	return nil
}

func (r *MemRepo) FindByHash(_ context.Context, tenant, hash string) (*ingest.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, doc := range r.docs {
		if doc.TenantSlug == tenant && doc.ContentHash == hash {
			copied := *doc
			return &copied, nil
		}
	}
	return nil, ingest.ErrNotFound
}

func (r *MemRepo) GetDocument(_ context.Context, tenant, id string) (*ingest.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[id]
	if !ok || (doc.TenantSlug != tenant && doc.TenantSlug != "STANDARD") {
		return nil, ingest.ErrNotFound
	}
	copied := *doc
	return &copied, nil
}

func (r *MemRepo) ListDocuments(_ context.Context, tenant string, limit, offset int) ([]ingest.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var docs []ingest.Document
	for _, doc := range r.docs {
		if doc.TenantSlug == tenant || doc.TenantSlug == "STANDARD" {
			docs = append(docs, *doc)
		}
	}
	sort.Slice(docs, func(i, j int) bool {
		return r.order[docs[i].ID] > r.order[docs[j].ID]
	})
	if offset >= len(docs) {
		return nil, nil
	}
	docs = docs[offset:]
	if limit > 0 && len(docs) > limit {
		docs = docs[:limit]
	}
	return docs, nil
}

func (r *MemRepo) GetChunks(_ context.Context, documentID string) ([]ingest.ChunkRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ingest.ChunkRecord(nil), r.chunks[documentID]...), nil
}

func (r *MemRepo) DeleteDocument(_ context.Context, tenant, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[id]
	if !ok || doc.TenantSlug != tenant {
		return ingest.ErrNotFound
	}
	delete(r.docs, id)
	delete(r.chunks, id)
	delete(r.order, id)
	return nil
}
