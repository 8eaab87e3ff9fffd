// Package ingest turns raw documents into searchable knowledge: it parses
// files, extracts SAP metadata, resolves tenant scope, deduplicates, chunks,
// embeds, and persists both the relational rows and the vector points.
package ingest

import (
	"errors"
	"fmt"
	"time"
)

// Document scopes. STANDARD documents are shared across every tenant;
// CLIENT_SPECIFIC documents stay private to the ingesting tenant.
const (
	ScopeStandard       = "STANDARD"
	ScopeClientSpecific = "CLIENT_SPECIFIC"
)

// Document types accepted by the pipeline.
const (
	DocTypeIncident = "incident"
	DocTypeDoc      = "doc"
	DocTypeNote     = "note"
	DocTypeManual   = "manual"
)

var (
	// ErrNotFound signals a missing document within the caller's visibility.
	ErrNotFound = errors.New("document not found")

	// ErrInvalidRequest marks unusable ingest input (missing tenant, text
	// too short, unknown scope).
	ErrInvalidRequest = errors.New("invalid ingest request")

	// ErrUnsupportedFormat signals a file extension no parser handles.
	ErrUnsupportedFormat = errors.New("unsupported file format")
)

// FileError wraps a per-file failure in a batch upload so callers can report
// which file failed while the rest of the batch proceeds.
type FileError struct {
	Name string
	Err  error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("file %q: %v", e.Name, e.Err)
}

func (e *FileError) Unwrap() error { return e.Err }

// Document is the relational record of one ingested document.
type Document struct {
	ID            string
	TenantSlug    string
	Scope         string
	DocType       string
	System        string
	Topic         string
	TCodes        []string
	Tables        []string
	CustomObjects []string
	Title         string
	RootCause     string
	Steps         []string
	Risks         []string
	Tags          []string
	Source        string
	Version       int
	ContentHash   string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ChunkRecord is one stored chunk row. PointID names the matching vector
// point, so relational and vector state can always be reconciled.
type ChunkRecord struct {
	ID         string
	DocumentID string
	Index      int
	Content    string
	TokenCount int
	PointID    string
}
