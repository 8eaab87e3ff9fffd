// Package llm answers questions with a chat model, grounded in the context
// block the assembler built from the tenant's knowledge base.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/sapwiki/sapwiki/internal/retry"
)

const (
	defaultTimeout     = 60 * time.Second
	defaultMaxRetries  = 2
	defaultRetryDelay  = time.Second
	defaultTemperature = 0.2
	defaultMaxTokens   = 1500
)

const systemPrompt = `You are an expert SAP IS-U support assistant for utility companies.
Answer using only the provided context sources. When the context does not
cover the question, say so instead of guessing. Cite sources as [Source N]
when you rely on them. Answer in the language the question was asked in.`

const extractPrompt = `Extract the structure of the following SAP incident
resolution text. Respond with a JSON object with exactly these keys:
"title" (string), "root_cause" (string), "steps" (array of strings),
"risks" (array of strings), "needs_clarification" (boolean),
"questions" (array of strings). If the text is too vague to structure, set
needs_clarification to true and ask what is missing in questions.`

// chatAPI is the part of the go-openai client the Client needs; tests
// substitute a fake.
type chatAPI interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Config configures a Client.
type Config struct {
	Model       string
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration
	MaxRetries  int
	RetryDelay  time.Duration
}

// Usage is the token accounting the provider reports for one call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Answer is one completed response.
type Answer struct {
	Text       string
	Confidence float64
	Usage      Usage
}

// Structure is the structured form of an incident resolution text.
type Structure struct {
	Title              string   `json:"title"`
	RootCause          string   `json:"root_cause"`
	Steps              []string `json:"steps"`
	Risks              []string `json:"risks"`
	NeedsClarification bool     `json:"needs_clarification"`
	Questions          []string `json:"questions"`
}

// Client calls the chat completions API with bounded retries.
// Safe for concurrent use.
type Client struct {
	api    chatAPI
	cfg    Config
	logger *slog.Logger
}

// New creates a Client backed by the official API.
func New(apiKey string, cfg Config, logger *slog.Logger) *Client {
	return NewWithAPI(openai.NewClient(apiKey), cfg, logger)
}

// NewWithAPI creates a Client with a caller-supplied API implementation.
func NewWithAPI(api chatAPI, cfg Config, logger *slog.Logger) *Client {
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
	if cfg.Temperature <= 0 {
		cfg.Temperature = defaultTemperature
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{api: api, cfg: cfg, logger: logger}
}

// CompletionRequest is one grounded question. ChunkCount feeds the
// confidence heuristic: more supporting chunks mean a better-grounded
// answer.
type CompletionRequest struct {
	Question   string
	Context    string
	ChunkCount int
}

// Complete answers a question against its context block.
func (c *Client) Complete(ctx context.Context, req CompletionRequest) (*Answer, error) {
	if strings.TrimSpace(req.Question) == "" {
		return nil, fmt.Errorf("%w: empty question", ErrInvalidRequest)
	}

	user := req.Question
	if req.Context != "" {
		user = fmt.Sprintf("Context:\n%s\n\nQuestion: %s", req.Context, req.Question)
	}

	resp, err := c.createWithRetry(ctx, openai.ChatCompletionRequest{
		Model:       c.cfg.Model,
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: response has no choices", ErrTransient)
	}

	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	answer := &Answer{
		Text:       text,
		Confidence: Confidence(text, req.ChunkCount),
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}

	c.logger.Debug("chat completion",
		"prompt_tokens", answer.Usage.PromptTokens,
		"completion_tokens", answer.Usage.CompletionTokens,
		"confidence", answer.Confidence)
	return answer, nil
}

// ExtractStructure turns a free-text incident resolution into its structured
// form using the provider's JSON mode. A response that is not valid JSON
// degrades to a needs-clarification result instead of failing the request.
func (c *Client) ExtractStructure(ctx context.Context, text string) (*Structure, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: empty text", ErrInvalidRequest)
	}

	resp, err := c.createWithRetry(ctx, openai.ChatCompletionRequest{
		Model:       c.cfg.Model,
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: extractPrompt},
			{Role: openai.ChatMessageRoleUser, Content: text},
		},
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: response has no choices", ErrTransient)
	}

	var structure Structure
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &structure); err != nil {
		c.logger.Warn("structure extraction returned invalid JSON", "error", err)
		return &Structure{
			NeedsClarification: true,
			Questions:          []string{"The resolution text could not be structured. Can you restate the root cause and the steps taken?"},
		}, nil
	}
	return &structure, nil
}

func (c *Client) createWithRetry(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return openai.ChatCompletionResponse{}, fmt.Errorf("%w: %w", ErrTransient, ctx.Err())
			case <-time.After(retry.Backoff(c.cfg.RetryDelay, attempt)):
			}
			c.logger.Debug("retrying chat completion", "attempt", attempt)
		}

		callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		resp, err := c.api.CreateChatCompletion(callCtx, req)
		cancel()

		if err == nil {
			return resp, nil
		}
		classified := fmt.Errorf("%w: %w", classify(err), err)
		lastErr = classified
		if !errors.Is(classified, ErrTransient) {
			return openai.ChatCompletionResponse{}, classified
		}
	}
	return openai.ChatCompletionResponse{}, fmt.Errorf("chat completion failed after %d retries: %w", c.cfg.MaxRetries, lastErr)
}
