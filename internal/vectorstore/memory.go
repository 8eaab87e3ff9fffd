package vectorstore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

// Memory is an in-memory Store with an exact cosine scan. It backs tests and
// the ephemeral extraction path, and mirrors the Postgres tenant semantics
// exactly so the two are interchangeable behind the Store interface.
type Memory struct {
	mu     sync.RWMutex
	points map[string]Point
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{points: make(map[string]Point)}
}

// Upsert stores points, overwriting on ID collision.
func (m *Memory) Upsert(_ context.Context, points []Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, pt := range points {
		m.points[pt.ID] = pt
	}
	return nil
}

// Search scans every point visible to the query's tenant and returns the
// closest by cosine similarity, best first.
func (m *Memory) Search(_ context.Context, q SearchQuery) ([]Hit, error) {
	if q.Tenant == "" {
		return nil, fmt.Errorf("search requires a tenant")
	}
	limit := q.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var hits []Hit
	for _, pt := range m.points {
		if !visible(pt.Payload.Tenant, q) {
			continue
		}
		if f := q.Filter; (f.Scope != "" && f.Scope != pt.Payload.Scope) ||
			(f.Topic != "" && f.Topic != pt.Payload.Topic) ||
			(f.System != "" && f.System != pt.Payload.System) {
			continue
		}
		hits = append(hits, Hit{
			ID:      pt.ID,
			Score:   cosine(q.Vector, pt.Vector),
			Payload: pt.Payload,
		})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// DeleteByDocument removes every point of one document.
func (m *Memory) DeleteByDocument(_ context.Context, documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, pt := range m.points {
		if pt.Payload.DocumentID == documentID {
			delete(m.points, id)
		}
	}
	return nil
}

// Len reports the number of stored points.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.points)
}

// visible applies the same tenant rule the SQL predicate encodes: a point is
// visible when it belongs to the querying tenant, or to the shared STANDARD
// corpus when the query opts in.
func visible(pointTenant string, q SearchQuery) bool {
	if pointTenant == q.Tenant {
		return true
	}
	return q.IncludeStandard && pointTenant == StandardTenant
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
