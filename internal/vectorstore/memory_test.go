package vectorstore

import (
	"context"
	"fmt"
	"testing"
)

// vec builds a unit-ish vector whose direction is controlled by a seed, so
// near-duplicate content across tenants can be simulated deterministically.
func vec(seed float32) []float32 {
	return []float32{1, seed, seed * seed}
}

func seedStore(t *testing.T) *Memory {
	t.Helper()
	store := NewMemory()
	points := []Point{
		{ID: "doc-a_0", Vector: vec(0.10), Payload: Payload{
			Tenant: "acme", Scope: "CLIENT_SPECIFIC", DocumentID: "doc-a", Ordinal: 0,
			Title: "Billing run incident", Topic: "billing", System: "IS-U",
		}},
		{ID: "doc-a_1", Vector: vec(0.20), Payload: Payload{
			Tenant: "acme", Scope: "CLIENT_SPECIFIC", DocumentID: "doc-a", Ordinal: 1,
			Title: "Billing run incident", Topic: "billing", System: "IS-U",
		}},
		// Near-duplicate of doc-a_0, owned by a different tenant. It must
		// never surface for acme even though it is the closest vector.
		{ID: "doc-b_0", Vector: vec(0.11), Payload: Payload{
			Tenant: "globex", Scope: "CLIENT_SPECIFIC", DocumentID: "doc-b", Ordinal: 0,
			Title: "Billing run incident copy", Topic: "billing",
		}},
		{ID: "doc-std_0", Vector: vec(0.12), Payload: Payload{
			Tenant: StandardTenant, Scope: "STANDARD", DocumentID: "doc-std", Ordinal: 0,
			Title: "EC85 reference", Topic: "billing", System: "IS-U",
		}},
	}
	if err := store.Upsert(context.Background(), points); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	return store
}

func TestSearchTenantIsolation(t *testing.T) {
	store := seedStore(t)

	hits, err := store.Search(context.Background(), SearchQuery{
		Vector: vec(0.10), Tenant: "acme", IncludeStandard: true, Limit: 10,
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) == 0 {
		t.Fatal("expected hits")
	}
	for _, h := range hits {
		if h.Payload.Tenant != "acme" && h.Payload.Tenant != StandardTenant {
			t.Errorf("hit %s leaked tenant %q", h.ID, h.Payload.Tenant)
		}
	}
}

func TestSearchExcludesStandardWhenNotRequested(t *testing.T) {
	store := seedStore(t)

	hits, err := store.Search(context.Background(), SearchQuery{
		Vector: vec(0.10), Tenant: "acme", IncludeStandard: false, Limit: 10,
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	for _, h := range hits {
		if h.Payload.Tenant != "acme" {
			t.Errorf("hit %s has tenant %q, want acme only", h.ID, h.Payload.Tenant)
		}
	}
}

func TestSearchStandardTenantSeesOnlyStandard(t *testing.T) {
	store := seedStore(t)

	hits, err := store.Search(context.Background(), SearchQuery{
		Vector: vec(0.10), Tenant: StandardTenant, IncludeStandard: true, Limit: 10,
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 || hits[0].ID != "doc-std_0" {
		t.Fatalf("STANDARD query got %v, want only doc-std_0", hits)
	}
}

func TestSearchRequiresTenant(t *testing.T) {
	store := seedStore(t)
	if _, err := store.Search(context.Background(), SearchQuery{Vector: vec(0.1)}); err == nil {
		t.Fatal("expected error for missing tenant")
	}
}

func TestSearchOrderingAndLimit(t *testing.T) {
	store := seedStore(t)

	hits, err := store.Search(context.Background(), SearchQuery{
		Vector: vec(0.10), Tenant: "acme", IncludeStandard: true, Limit: 2,
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("limit not applied: got %d hits", len(hits))
	}
	if hits[0].Score < hits[1].Score {
		t.Errorf("hits not sorted by score: %f then %f", hits[0].Score, hits[1].Score)
	}
	if hits[0].ID != "doc-a_0" {
		t.Errorf("closest visible point should rank first, got %s", hits[0].ID)
	}
}

func TestSearchFilter(t *testing.T) {
	store := seedStore(t)

	hits, err := store.Search(context.Background(), SearchQuery{
		Vector: vec(0.10), Tenant: "acme", IncludeStandard: true, Limit: 10,
		Filter: Filter{Scope: "STANDARD"},
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 || hits[0].ID != "doc-std_0" {
		t.Fatalf("scope filter got %v", hits)
	}
}

func TestUpsertOverwrites(t *testing.T) {
	store := seedStore(t)
	before := store.Len()

	err := store.Upsert(context.Background(), []Point{{
		ID: "doc-a_0", Vector: vec(0.9), Payload: Payload{
			Tenant: "acme", Scope: "CLIENT_SPECIFIC", DocumentID: "doc-a", Ordinal: 0,
			Title: "Billing run incident v2",
		},
	}})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if store.Len() != before {
		t.Errorf("overwrite changed point count: %d -> %d", before, store.Len())
	}

	hits, _ := store.Search(context.Background(), SearchQuery{
		Vector: vec(0.9), Tenant: "acme", Limit: 1,
	})
	if len(hits) != 1 || hits[0].Payload.Title != "Billing run incident v2" {
		t.Fatalf("payload not overwritten: %v", hits)
	}
}

func TestDeleteByDocument(t *testing.T) {
	store := seedStore(t)

	if err := store.DeleteByDocument(context.Background(), "doc-a"); err != nil {
		t.Fatalf("DeleteByDocument: %v", err)
	}

	hits, err := store.Search(context.Background(), SearchQuery{
		Vector: vec(0.10), Tenant: "acme", IncludeStandard: false, Limit: 10,
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("doc-a points survived deletion: %v", hits)
	}
}

func TestSearchManyTenantsNoCrossTalk(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	// Ten tenants with nearly identical vectors.
	for i := 0; i < 10; i++ {
		tenant := fmt.Sprintf("tenant-%d", i)
		err := store.Upsert(ctx, []Point{{
			ID:     fmt.Sprintf("doc-%d_0", i),
			Vector: vec(0.1 + float32(i)*0.001),
			Payload: Payload{Tenant: tenant, Scope: "CLIENT_SPECIFIC",
				DocumentID: fmt.Sprintf("doc-%d", i), Ordinal: 0},
		}})
		if err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}

	for i := 0; i < 10; i++ {
		tenant := fmt.Sprintf("tenant-%d", i)
		hits, err := store.Search(ctx, SearchQuery{
			Vector: vec(0.1), Tenant: tenant, IncludeStandard: true, Limit: 10,
		})
		if err != nil {
			t.Fatalf("Search tenant %s: %v", tenant, err)
		}
		if len(hits) != 1 {
			t.Fatalf("tenant %s got %d hits, want exactly its own point", tenant, len(hits))
		}
		if hits[0].Payload.Tenant != tenant {
			t.Errorf("tenant %s received point of %s", tenant, hits[0].Payload.Tenant)
		}
	}
}

func TestCosine(t *testing.T) {
	if got := cosine([]float32{1, 0}, []float32{1, 0}); got < 0.9999 {
		t.Errorf("identical vectors: %f", got)
	}
	if got := cosine([]float32{1, 0}, []float32{0, 1}); got > 0.0001 {
		t.Errorf("orthogonal vectors: %f", got)
	}
	if got := cosine([]float32{1, 0}, []float32{1}); got != 0 {
		t.Errorf("mismatched dims: %f", got)
	}
}
