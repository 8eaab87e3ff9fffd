package embedding

import (
	"context"
	"errors"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/sapwiki/sapwiki/internal/log"
)

// fakeAPI scripts CreateEmbeddings responses per call.
type fakeAPI struct {
	calls     int
	failTimes int   // fail this many calls before succeeding
	failWith  error // error to fail with
	dims      int
	reversed  bool // return items in reverse index order
	batches   [][]string
}

func (f *fakeAPI) CreateEmbeddings(_ context.Context, req openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error) {
	f.calls++

	strReq, ok := req.(openai.EmbeddingRequestStrings)
	if !ok {
		return openai.EmbeddingResponse{}, errors.New("unexpected request type")
	}
	f.batches = append(f.batches, strReq.Input)

	if f.calls <= f.failTimes {
		return openai.EmbeddingResponse{}, f.failWith
	}

	dims := f.dims
	if dims == 0 {
		dims = 3
	}
	data := make([]openai.Embedding, len(strReq.Input))
	for i := range strReq.Input {
		vec := make([]float32, dims)
		vec[0] = float32(len(strReq.Input[i])) // deterministic per text
		data[i] = openai.Embedding{Index: i, Embedding: vec}
	}
	if f.reversed {
		for i, j := 0, len(data)-1; i < j; i, j = i+1, j-1 {
			data[i], data[j] = data[j], data[i]
		}
	}
	return openai.EmbeddingResponse{Data: data}, nil
}

func newTestClient(api *fakeAPI, dims int) *Client {
	return NewWithAPI(api, Config{
		Model:      "text-embedding-3-small",
		Dims:       dims,
		Timeout:    time.Second,
		MaxRetries: 2,
		RetryDelay: time.Millisecond,
	}, log.NewNop())
}

func TestEmbedOrderPreserved(t *testing.T) {
	api := &fakeAPI{reversed: true}
	c := newTestClient(api, 3)

	texts := []string{"a", "bb", "ccc", "dddd"}
	vectors, err := c.Embed(context.Background(), texts)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vectors) != len(texts) {
		t.Fatalf("got %d vectors for %d texts", len(vectors), len(texts))
	}
	// Vectors must land at the position of their input even when the API
	// returns items out of order.
	for i, text := range texts {
		if vectors[i][0] != float32(len(text)) {
			t.Errorf("vector %d does not match input %q", i, text)
		}
	}
}

func TestEmbedEmptyInput(t *testing.T) {
	c := newTestClient(&fakeAPI{}, 3)
	vectors, err := c.Embed(context.Background(), nil)
	if err != nil || vectors != nil {
		t.Fatalf("empty input: got %v, %v", vectors, err)
	}
}

func TestEmbedRejectsEmptyText(t *testing.T) {
	api := &fakeAPI{}
	c := newTestClient(api, 3)

	_, err := c.Embed(context.Background(), []string{"ok", ""})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("got %v, want ErrInvalidInput", err)
	}
	if api.calls != 0 {
		t.Errorf("invalid input must not reach the API, got %d calls", api.calls)
	}
}

func TestEmbedSubBatching(t *testing.T) {
	api := &fakeAPI{}
	c := newTestClient(api, 3)

	texts := make([]string, maxBatchSize+5)
	for i := range texts {
		texts[i] = "t"
	}
	vectors, err := c.Embed(context.Background(), texts)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vectors) != len(texts) {
		t.Fatalf("got %d vectors", len(vectors))
	}
	if len(api.batches) != 2 {
		t.Fatalf("expected 2 batches, got %d", len(api.batches))
	}
	if len(api.batches[0]) != maxBatchSize || len(api.batches[1]) != 5 {
		t.Errorf("batch sizes %d/%d", len(api.batches[0]), len(api.batches[1]))
	}
}

func TestEmbedRetriesTransient(t *testing.T) {
	api := &fakeAPI{
		failTimes: 2,
		failWith:  &openai.APIError{HTTPStatusCode: 503},
	}
	c := newTestClient(api, 3)

	_, err := c.Embed(context.Background(), []string{"x"})
	if err != nil {
		t.Fatalf("expected success after retries: %v", err)
	}
	if api.calls != 3 {
		t.Errorf("expected 3 calls, got %d", api.calls)
	}
}

func TestEmbedExhaustsRetries(t *testing.T) {
	api := &fakeAPI{
		failTimes: 10,
		failWith:  &openai.APIError{HTTPStatusCode: 500},
	}
	c := newTestClient(api, 3)

	_, err := c.Embed(context.Background(), []string{"x"})
	if !errors.Is(err, ErrTransient) {
		t.Fatalf("got %v, want ErrTransient", err)
	}
	if api.calls != 3 { // initial + 2 retries
		t.Errorf("expected 3 calls, got %d", api.calls)
	}
}

func TestEmbedQuotaNotRetried(t *testing.T) {
	api := &fakeAPI{
		failTimes: 10,
		failWith:  &openai.APIError{HTTPStatusCode: 429, Code: "insufficient_quota"},
	}
	c := newTestClient(api, 3)

	_, err := c.Embed(context.Background(), []string{"x"})
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("got %v, want ErrQuotaExceeded", err)
	}
	if api.calls != 1 {
		t.Errorf("quota errors must not be retried, got %d calls", api.calls)
	}
}

func TestEmbedBadRequestNotRetried(t *testing.T) {
	api := &fakeAPI{
		failTimes: 10,
		failWith:  &openai.APIError{HTTPStatusCode: 400},
	}
	c := newTestClient(api, 3)

	_, err := c.Embed(context.Background(), []string{"x"})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("got %v, want ErrInvalidInput", err)
	}
	if api.calls != 1 {
		t.Errorf("invalid input must not be retried, got %d calls", api.calls)
	}
}

func TestEmbedDimensionMismatch(t *testing.T) {
	api := &fakeAPI{dims: 8}
	c := newTestClient(api, 1536)

	_, err := c.Embed(context.Background(), []string{"x"})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("got %v, want ErrInvalidInput for dimension mismatch", err)
	}
}

func TestEmbedOne(t *testing.T) {
	c := newTestClient(&fakeAPI{}, 3)
	vec, err := c.EmbedOne(context.Background(), "query")
	if err != nil {
		t.Fatalf("EmbedOne: %v", err)
	}
	if len(vec) != 3 {
		t.Errorf("got %d dims", len(vec))
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"rate limit", &openai.APIError{HTTPStatusCode: 429}, ErrTransient},
		{"quota", &openai.APIError{HTTPStatusCode: 429, Code: "insufficient_quota"}, ErrQuotaExceeded},
		{"server error", &openai.APIError{HTTPStatusCode: 502}, ErrTransient},
		{"bad request", &openai.APIError{HTTPStatusCode: 400}, ErrInvalidInput},
		{"deadline", context.DeadlineExceeded, ErrTransient},
		{"other", errors.New("connection refused"), ErrTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classify(tt.err); !errors.Is(got, tt.want) {
				t.Errorf("classify() = %v, want %v", got, tt.want)
			}
		})
	}
}
