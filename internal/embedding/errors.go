package embedding

import (
	"errors"

	"github.com/sapwiki/sapwiki/internal/retry"
)

// Error taxonomy for embedding calls. Callers classify with errors.Is and
// decide per call site whether to retry.
var (
	// ErrTransient marks failures worth retrying with backoff (5xx, network,
	// timeout, rate limit).
	ErrTransient = errors.New("transient embedding service error")

	// ErrQuotaExceeded is fatal for the request: the account is out of
	// budget and retrying will not help.
	ErrQuotaExceeded = errors.New("embedding quota exceeded")

	// ErrInvalidInput means the request itself is malformed (for example an
	// over-long input); never retried.
	ErrInvalidInput = errors.New("invalid embedding input")
)

// classify maps a provider error onto the package taxonomy.
func classify(err error) error {
	switch retry.Classify(err) {
	case retry.Quota:
		return ErrQuotaExceeded
	case retry.Invalid:
		return ErrInvalidInput
	default:
		return ErrTransient
	}
}
