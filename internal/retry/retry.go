// Package retry classifies OpenAI API failures and computes backoff delays.
// The embedding and chat clients share it so the two retry policies cannot
// drift apart; each client maps the classification onto its own sentinel
// errors.
package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"net"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// Kind is the retry-relevant classification of a provider failure.
type Kind int

const (
	// Transient failures are worth retrying with backoff (5xx, network,
	// timeout, rate limit).
	Transient Kind = iota

	// Quota is fatal for the request: the account is out of budget and
	// retrying will not help.
	Quota

	// Invalid means the request itself was rejected; never retried.
	Invalid
)

// Classify maps a go-openai error onto a Kind. Timeouts count as transient:
// a timed-out call must never be silently swallowed or treated as a client
// bug.
func Classify(err error) Kind {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == 429:
			if code, ok := apiErr.Code.(string); ok && code == "insufficient_quota" {
				return Quota
			}
			return Transient
		case apiErr.HTTPStatusCode >= 500:
			return Transient
		case apiErr.HTTPStatusCode == 400 || apiErr.HTTPStatusCode == 422:
			return Invalid
		}
		return Invalid
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return Transient
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Transient
	}
	return Transient
}

// Backoff returns the exponential delay for a retry attempt with up to ±25%
// jitter, capped at 30 seconds.
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	if attempt > 30 {
		attempt = 30
	}
	d := base * time.Duration(1<<uint(attempt))
	if d > 30*time.Second {
		d = 30 * time.Second
	}
	jitter := time.Duration(rand.Int64N(int64(d)/2)) - d/4
	return d + jitter
}
