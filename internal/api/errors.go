package api

import (
	"errors"
	"net/http"

	"github.com/sapwiki/sapwiki/internal/embedding"
	"github.com/sapwiki/sapwiki/internal/ingest"
	"github.com/sapwiki/sapwiki/internal/llm"
	"github.com/sapwiki/sapwiki/internal/vectorstore"
)

// mapError translates pipeline errors into an HTTP status and stable error
// code. Unknown errors map to 500 without leaking their message.
func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, ingest.ErrInvalidRequest), errors.Is(err, llm.ErrInvalidRequest):
		return http.StatusBadRequest, "invalid_request", err.Error()
	case errors.Is(err, ingest.ErrUnsupportedFormat):
		return http.StatusBadRequest, "unsupported_format", err.Error()
	case errors.Is(err, embedding.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_input", err.Error()
	case errors.Is(err, ingest.ErrNotFound):
		return http.StatusNotFound, "not_found", "document not found"
	case errors.Is(err, embedding.ErrQuotaExceeded), errors.Is(err, llm.ErrQuotaExceeded):
		return http.StatusServiceUnavailable, "quota_exceeded", "model provider quota exceeded"
	case errors.Is(err, embedding.ErrTransient), errors.Is(err, llm.ErrTransient),
		errors.Is(err, vectorstore.ErrUnavailable):
		return http.StatusServiceUnavailable, "service_unavailable", "a backing service is unavailable, retry later"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

// tenantFrom reads the tenant slug the reverse proxy's auth layer injects.
func tenantFrom(r *http.Request) string {
	return r.Header.Get("X-Tenant-ID")
}
