package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/sapwiki/sapwiki/internal/assembler"
	"github.com/sapwiki/sapwiki/internal/chunker"
	"github.com/sapwiki/sapwiki/internal/ingest"
	"github.com/sapwiki/sapwiki/internal/llm"
	"github.com/sapwiki/sapwiki/internal/log"
	"github.com/sapwiki/sapwiki/internal/retrieval"
	"github.com/sapwiki/sapwiki/internal/testutil"
	"github.com/sapwiki/sapwiki/internal/vectorstore"
)

// fakeLLM scripts chat completions for handler tests.
type fakeLLM struct {
	answer    string
	structure *llm.Structure
	lastReq   llm.CompletionRequest
	err       error
}

func (f *fakeLLM) Complete(_ context.Context, req llm.CompletionRequest) (*llm.Answer, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return &llm.Answer{
		Text:       f.answer,
		Confidence: llm.Confidence(f.answer, req.ChunkCount),
		Usage:      llm.Usage{PromptTokens: 100, CompletionTokens: 20, TotalTokens: 120},
	}, nil
}

func (f *fakeLLM) ExtractStructure(_ context.Context, _ string) (*llm.Structure, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.structure, nil
}

func newTestServer(t *testing.T) (*Server, *fakeLLM) {
	t.Helper()

	ch, err := chunker.New(800, 150)
	if err != nil {
		t.Fatal(err)
	}
	emb := &testutil.Embedder{Dim: 8}
	vectors := vectorstore.NewMemory()
	svc := ingest.NewService(testutil.NewMemRepo(), vectors, emb, ch, 50, log.NewNop())
	retriever := retrieval.New(emb, vectors, retrieval.Config{MinScore: 0.5}, log.NewNop())
	model := &fakeLLM{answer: "Unlock the portion and restart EC85."}

	srv, err := NewServer(ServerConfig{
		Logger:           log.NewNop(),
		Ingest:           svc,
		Retriever:        retriever,
		Assembler:        assembler.New(log.NewNop()),
		LLM:              model,
		MaxContextTokens: 8000,
		RateBurst:        1000,
	})
	if err != nil {
		t.Fatal(err)
	}
	return srv, model
}

func doJSON(t *testing.T, srv *Server, method, path, tenant string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if tenant != "" {
		req.Header.Set("X-Tenant-ID", tenant)
	}
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

const incidentText = "The custom exit Z_BILLING_EXIT fails during the EC85 billing run. Unlock the portion and restart."

func TestIngestTextEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/ingest/text", "acme", ingestTextRequest{
		Text:  incidentText,
		Title: "EC85 abort",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}

	res := decode[ingestResponse](t, rec)
	if res.DocumentID == "" || res.Scope != "CLIENT_SPECIFIC" || res.ChunkCount != 1 {
		t.Errorf("response: %+v", res)
	}

	// Identical re-ingest deduplicates with 200.
	rec = doJSON(t, srv, http.MethodPost, "/api/v1/ingest/text", "acme", ingestTextRequest{
		Text: incidentText,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("dedup status %d", rec.Code)
	}
	if res := decode[ingestResponse](t, rec); !res.Deduplicated {
		t.Errorf("expected deduplicated: %+v", res)
	}
}

func TestIngestTextRequiresTenant(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv, http.MethodPost, "/api/v1/ingest/text", "", ingestTextRequest{Text: incidentText})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d", rec.Code)
	}
	if body := decode[errorBody](t, rec); body.Error.Code != "tenant_required" {
		t.Errorf("code = %q", body.Error.Code)
	}
}

func TestIngestTextInvalidJSON(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/ingest/text", strings.NewReader("{broken"))
	req.Header.Set("X-Tenant-ID", "acme")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestIngestTextTooShort(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv, http.MethodPost, "/api/v1/ingest/text", "acme", ingestTextRequest{Text: "short"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	if body := decode[errorBody](t, rec); body.Error.Code != "invalid_request" {
		t.Errorf("code = %q", body.Error.Code)
	}
}

func TestIngestFilesEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("files", "incident.txt")
	if err != nil {
		t.Fatal(err)
	}
	fmt.Fprint(fw, incidentText)
	fw, err = mw.CreateFormFile("files", "diagram.xlsx")
	if err != nil {
		t.Fatal(err)
	}
	fmt.Fprint(fw, "binary")
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/ingest/files", &buf)
	req.Header.Set("X-Tenant-ID", "acme")
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	out := decode[struct {
		Results []fileResultResponse `json:"results"`
	}](t, rec)
	if len(out.Results) != 2 {
		t.Fatalf("results: %+v", out.Results)
	}
	if !out.Results[0].OK || out.Results[0].DocumentID == "" {
		t.Errorf("incident.txt should succeed: %+v", out.Results[0])
	}
	if out.Results[1].OK || out.Results[1].Error == "" {
		t.Errorf("diagram.xlsx should fail per file: %+v", out.Results[1])
	}
}

func TestDocumentsLifecycle(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/ingest/text", "acme", ingestTextRequest{
		Text: incidentText, Title: "EC85 abort",
	})
	docID := decode[ingestResponse](t, rec).DocumentID

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/documents", "acme", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status %d", rec.Code)
	}
	list := decode[struct {
		Documents []documentResponse `json:"documents"`
	}](t, rec)
	if len(list.Documents) != 1 || list.Documents[0].ID != docID {
		t.Fatalf("list: %+v", list.Documents)
	}

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/documents/"+docID, "acme", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status %d", rec.Code)
	}
	doc := decode[documentResponse](t, rec)
	if doc.Title != "EC85 abort" || len(doc.CustomObjects) == 0 {
		t.Errorf("doc: %+v", doc)
	}

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/documents/"+docID+"/chunks", "acme", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("chunks status %d", rec.Code)
	}

	// Another tenant cannot see the client-specific document.
	rec = doJSON(t, srv, http.MethodGet, "/api/v1/documents/"+docID, "globex", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("cross-tenant get status %d", rec.Code)
	}

	rec = doJSON(t, srv, http.MethodDelete, "/api/v1/documents/"+docID, "acme", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status %d", rec.Code)
	}
	rec = doJSON(t, srv, http.MethodDelete, "/api/v1/documents/"+docID, "acme", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("second delete status %d", rec.Code)
	}
}

func TestSearchEndpointTenantScoped(t *testing.T) {
	srv, _ := newTestServer(t)

	// acme's private document and globex's private document.
	doJSON(t, srv, http.MethodPost, "/api/v1/ingest/text", "acme", ingestTextRequest{
		Text: incidentText, Title: "acme incident",
	})
	doJSON(t, srv, http.MethodPost, "/api/v1/ingest/text", "globex", ingestTextRequest{
		Text: incidentText + " Globex variant.", Title: "globex incident",
	})

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/search", "acme", searchRequest{Query: incidentText})
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	out := decode[struct {
		Results []searchResult `json:"results"`
	}](t, rec)
	if len(out.Results) == 0 {
		t.Fatal("expected results for identical query text")
	}
	for _, res := range out.Results {
		if res.Title == "globex incident" {
			t.Errorf("cross-tenant leak: %+v", res)
		}
	}
}

func TestChatEndpoint(t *testing.T) {
	srv, model := newTestServer(t)

	doJSON(t, srv, http.MethodPost, "/api/v1/ingest/text", "acme", ingestTextRequest{
		Text: incidentText, Title: "EC85 abort", Source: "incident.md",
	})

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/chat", "acme", chatRequest{
		Question: incidentText,
		Files:    []attachedFile{{Name: "attached.txt", Text: "Attached log excerpt for the billing run."}},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}

	out := decode[chatResponse](t, rec)
	if out.Answer != "Unlock the portion and restart EC85." {
		t.Errorf("answer: %q", out.Answer)
	}
	if len(out.Sources) < 2 {
		t.Fatalf("sources: %+v", out.Sources)
	}
	if out.Sources[0].Kind != assembler.KindFile {
		t.Errorf("attached file must be the first source: %+v", out.Sources)
	}
	if out.Usage.TotalTokens != 120 {
		t.Errorf("usage: %+v", out.Usage)
	}

	// The model got the assembled context, attached file first.
	if !strings.Contains(model.lastReq.Context, "[Source 1: attached.txt]") {
		t.Errorf("llm context missing attachment:\n%s", model.lastReq.Context)
	}
}

func TestExtractStructureEndpoint(t *testing.T) {
	srv, model := newTestServer(t)
	model.structure = &llm.Structure{Title: "EC85 abort", Steps: []string{"unlock portion"}}

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/extract", "", extractStructureRequest{
		Text: "resolution text",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if s := decode[llm.Structure](t, rec); s.Title != "EC85 abort" {
		t.Errorf("structure: %+v", s)
	}
}

func TestExtractFileEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "attachment.txt")
	if err != nil {
		t.Fatal(err)
	}
	fmt.Fprint(fw, incidentText)
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/files/extract", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	out := decode[extractFileResponse](t, rec)
	if out.Text != incidentText || out.TokenCount <= 0 {
		t.Errorf("response: %+v", out)
	}

	// Ephemeral: the document list stays empty.
	rec = doJSON(t, srv, http.MethodGet, "/api/v1/documents", "acme", nil)
	list := decode[struct {
		Documents []documentResponse `json:"documents"`
	}](t, rec)
	if len(list.Documents) != 0 {
		t.Errorf("ephemeral extraction persisted documents: %+v", list.Documents)
	}
}

func TestHealthEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("health status %d", rec.Code)
	}
	rec = doJSON(t, srv, http.MethodGet, "/ready", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("ready status %d", rec.Code)
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/api/v1/documents", "acme", nil)
	id := rec.Header().Get("X-Request-ID")
	if _, err := uuid.Parse(id); err != nil {
		t.Errorf("X-Request-ID %q is not a UUID", id)
	}

	// A valid incoming ID is kept.
	req := httptest.NewRequest(http.MethodGet, "/api/v1/documents", nil)
	req.Header.Set("X-Tenant-ID", "acme")
	want := uuid.NewString()
	req.Header.Set("X-Request-ID", want)
	rec2 := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec2, req)
	if got := rec2.Header().Get("X-Request-ID"); got != want {
		t.Errorf("X-Request-ID = %q, want %q", got, want)
	}
}

func TestRateLimit(t *testing.T) {
	rl := newRateLimiter(1.0, 2)
	if !rl.allow("10.0.0.1") || !rl.allow("10.0.0.1") {
		t.Fatal("burst requests should pass")
	}
	if rl.allow("10.0.0.1") {
		t.Error("third immediate request should be limited")
	}
	if !rl.allow("10.0.0.2") {
		t.Error("other IPs have their own bucket")
	}
}

func TestSaveChatResponseEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/chat/save-response", "acme", saveResponseRequest{
		Answer: incidentText,
		Title:  "EC85 locked portion resolution",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}

	res := decode[ingestResponse](t, rec)
	// The answer mentions a Z object, but a reviewed response is forced
	// into the shared corpus anyway.
	if res.Tenant != "STANDARD" || res.Scope != "STANDARD" {
		t.Errorf("response: %+v", res)
	}

	// Every tenant sees the shared document.
	rec = doJSON(t, srv, http.MethodGet, "/api/v1/documents", "globex", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status %d", rec.Code)
	}
	list := decode[struct {
		Documents []documentResponse `json:"documents"`
	}](t, rec)
	if len(list.Documents) != 1 {
		t.Fatalf("documents: %+v", list.Documents)
	}
	if doc := list.Documents[0]; doc.Source != "chat-response:acme" || doc.DocType != "note" {
		t.Errorf("document: %+v", doc)
	}

	// A title is mandatory: untitled answers cannot be promoted.
	rec = doJSON(t, srv, http.MethodPost, "/api/v1/chat/save-response", "acme", saveResponseRequest{
		Answer: incidentText,
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing title: status %d", rec.Code)
	}
}
