// Package embedding wraps the OpenAI embeddings API.
//
// The client turns batches of texts into fixed-dimension vectors, preserving
// input order. Failures are classified into the package error taxonomy so
// orchestrators can distinguish retryable from fatal conditions.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/sapwiki/sapwiki/internal/retry"
)

const (
	// maxBatchSize bounds one API request. The provider accepts larger
	// batches but keeps individual request latency and failure blast radius
	// small at this size.
	maxBatchSize = 100

	defaultTimeout    = 30 * time.Second
	defaultMaxRetries = 3
	defaultRetryDelay = 500 * time.Millisecond
)

// embedder is the part of the go-openai client the Client needs; tests
// substitute a fake.
type embedder interface {
	CreateEmbeddings(ctx context.Context, req openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error)
}

// Config configures a Client.
type Config struct {
	Model      string        // embedding model name, e.g. "text-embedding-3-small"
	Dims       int           // expected vector dimension; 0 disables the check
	Timeout    time.Duration // per-request timeout
	MaxRetries int           // retries on transient errors
	RetryDelay time.Duration // base backoff delay
}

// Client calls the embeddings API with batching and bounded retries.
// Safe for concurrent use.
type Client struct {
	api    embedder
	cfg    Config
	logger *slog.Logger
}

// New creates a Client backed by the official API.
func New(apiKey string, cfg Config, logger *slog.Logger) *Client {
	return NewWithAPI(openai.NewClient(apiKey), cfg, logger)
}

// NewWithAPI creates a Client with a caller-supplied API implementation.
func NewWithAPI(api embedder, cfg Config, logger *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	} else if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{api: api, cfg: cfg, logger: logger}
}

// Embed returns one vector per input text, in input order. The provider's
// batch API does not guarantee payload ordering, so vectors are placed by
// the per-item index the API echoes back, never by response position.
//
// A failure inside any sub-batch fails the whole call: partial results would
// desynchronize chunk ordinals from their vectors.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	for i, t := range texts {
		if t == "" {
			return nil, fmt.Errorf("%w: text %d is empty", ErrInvalidInput, i)
		}
	}

	vectors := make([][]float32, len(texts))
	for start := 0; start < len(texts); start += maxBatchSize {
		end := min(start+maxBatchSize, len(texts))
		if err := c.embedBatch(ctx, texts[start:end], vectors[start:end]); err != nil {
			return nil, fmt.Errorf("batch %d-%d: %w", start, end, err)
		}
	}
	return vectors, nil
}

func (c *Client) embedBatch(ctx context.Context, texts []string, out [][]float32) error {
	req := openai.EmbeddingRequestStrings{
		Input: texts,
		Model: openai.EmbeddingModel(c.cfg.Model),
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: %w", ErrTransient, ctx.Err())
			case <-time.After(retry.Backoff(c.cfg.RetryDelay, attempt)):
			}
			c.logger.Debug("retrying embedding batch", "attempt", attempt, "batch_size", len(texts))
		}

		callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		resp, err := c.api.CreateEmbeddings(callCtx, req)
		cancel()

		if err != nil {
			classified := fmt.Errorf("%w: %w", classify(err), err)
			lastErr = classified
			if !errors.Is(classified, ErrTransient) {
				return classified
			}
			continue
		}

		if len(resp.Data) != len(texts) {
			return fmt.Errorf("%w: got %d embeddings for %d inputs", ErrTransient, len(resp.Data), len(texts))
		}

		seen := make([]bool, len(texts))
		for _, item := range resp.Data {
			if item.Index < 0 || item.Index >= len(texts) || seen[item.Index] {
				return fmt.Errorf("%w: embedding response has invalid index %d", ErrTransient, item.Index)
			}
			if c.cfg.Dims > 0 && len(item.Embedding) != c.cfg.Dims {
				return fmt.Errorf("%w: embedding has %d dimensions, expected %d",
					ErrInvalidInput, len(item.Embedding), c.cfg.Dims)
			}
			out[item.Index] = item.Embedding
			seen[item.Index] = true
		}
		return nil
	}

	return fmt.Errorf("embedding failed after %d retries: %w", c.cfg.MaxRetries, lastErr)
}

// EmbedOne embeds a single text (query path).
func (c *Client) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}
