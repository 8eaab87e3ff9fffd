package llm

import (
	"errors"

	"github.com/sapwiki/sapwiki/internal/retry"
)

// Error taxonomy for chat completion calls.
var (
	// ErrTransient marks failures worth retrying with backoff.
	ErrTransient = errors.New("transient chat service error")

	// ErrQuotaExceeded is fatal for the request: retrying will not help.
	ErrQuotaExceeded = errors.New("chat quota exceeded")

	// ErrInvalidRequest means the request itself was rejected by the model
	// provider; never retried.
	ErrInvalidRequest = errors.New("invalid chat request")
)

// classify maps a provider error onto the package taxonomy.
func classify(err error) error {
	switch retry.Classify(err) {
	case retry.Quota:
		return ErrQuotaExceeded
	case retry.Invalid:
		return ErrInvalidRequest
	default:
		return ErrTransient
	}
}
