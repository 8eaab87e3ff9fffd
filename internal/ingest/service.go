package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/sapwiki/sapwiki/internal/chunker"
	"github.com/sapwiki/sapwiki/internal/llm"
	"github.com/sapwiki/sapwiki/internal/metadata"
	"github.com/sapwiki/sapwiki/internal/vectorstore"
)

const (
	// minTextLength rejects uploads too short to carry any knowledge.
	minTextLength = 10

	// maxFilesPerBatch bounds one upload request.
	maxFilesPerBatch = 10

	// maxFileSize bounds one uploaded file (10 MiB).
	maxFileSize = 10 << 20

	// snippetRunes is the payload preview length stored with each point.
	snippetRunes = 500
)

// Embedder turns texts into vectors. Satisfied by embedding.Client.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Structurer derives structured incident fields (title, root cause, steps,
// risks) from free text. Satisfied by llm.Client.
type Structurer interface {
	ExtractStructure(ctx context.Context, text string) (*llm.Structure, error)
}

// OCR recognizes text in image attachments. With none configured, image
// uploads are rejected as unsupported.
type OCR interface {
	Recognize(ctx context.Context, name string, data []byte) (string, error)
}

// Request describes one document to ingest. Explicitly provided metadata
// always wins over what extraction infers from the text.
type Request struct {
	// DocumentID updates an existing document in place when set; empty
	// means a new document.
	DocumentID string
	Tenant     string
	// Scope is STANDARD, CLIENT_SPECIFIC, or empty for automatic
	// resolution from the extracted metadata.
	Scope string
	// ForceStandard keeps a requested STANDARD scope even when the text
	// mentions customer Z/Y objects.
	ForceStandard bool
	DocType       string
	Title         string
	Source        string
	Topic         string
	System        string
	TCodes        []string
	Tables        []string
	Tags          []string
	Text          string
}

// Result reports what one ingest did.
type Result struct {
	DocumentID   string
	Tenant       string
	Scope        string
	Topic        string
	Version      int
	ChunkCount   int
	Deduplicated bool
	Warnings     []string
}

// File is one uploaded file in a batch.
type File struct {
	Name string
	Data []byte
}

// FileResult is the per-file outcome of a batch upload. Exactly one of
// Result and Err is set.
type FileResult struct {
	Name   string
	Result *Result
	Err    error
}

// EphemeralFile is a parsed attachment that is never persisted. It exists
// only for the lifetime of the chat request that carries it.
type EphemeralFile struct {
	Name       string
	Text       string
	TokenCount int
	Metadata   metadata.Metadata
}

// Service orchestrates the ingest pipeline.
type Service struct {
	repo       Repository
	vectors    vectorstore.Store
	embedder   Embedder
	chunker    *chunker.Chunker
	structurer Structurer
	ocr        OCR
	maxChunks  int
	logger     *slog.Logger
}

// NewService wires the pipeline stages together. maxChunks caps how many
// chunks a single document may produce; zero means no cap.
func NewService(repo Repository, vectors vectorstore.Store, embedder Embedder,
	ch *chunker.Chunker, maxChunks int, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:      repo,
		vectors:   vectors,
		embedder:  embedder,
		chunker:   ch,
		maxChunks: maxChunks,
		logger:    logger,
	}
}

// SetStructurer enables LLM structuring of incident documents. Optional: the
// pipeline works without it, documents just stay unstructured.
func (s *Service) SetStructurer(st Structurer) {
	s.structurer = st
}

// SetOCR enables text recognition for image uploads. Optional.
func (s *Service) SetOCR(ocr OCR) {
	s.ocr = ocr
}

// IngestText runs the full pipeline for one text document: metadata
// extraction, scope resolution, deduplication, chunking, embedding, and
// persistence of both relational rows and vector points.
//
// Identical content already stored for the same tenant is deduplicated: the
// existing document is returned untouched. Re-ingesting an existing
// DocumentID with changed content bumps its version and fully replaces its
// chunks and points.
func (s *Service) IngestText(ctx context.Context, req Request) (*Result, error) {
	text := strings.TrimSpace(req.Text)
	if err := validate(req, text); err != nil {
		return nil, err
	}

	meta := metadata.Extract(text)
	merged := mergeMetadata(req, meta)

	scope, warnings := resolveScope(req, meta)
	tenant := req.Tenant
	if scope == ScopeStandard {
		// Shared documents live under the STANDARD tenant so every
		// tenant's search can see them.
		tenant = vectorstore.StandardTenant
	}

	sum := sha256.Sum256([]byte(text))
	hash := hex.EncodeToString(sum[:])

	existing, err := s.repo.FindByHash(ctx, tenant, hash)
	switch {
	case err == nil:
		if req.DocumentID == "" || req.DocumentID == existing.ID {
			s.logger.Info("ingest deduplicated",
				"tenant", tenant, "document_id", existing.ID, "hash", hash[:12])
			return &Result{
				DocumentID:   existing.ID,
				Tenant:       tenant,
				Scope:        existing.Scope,
				Topic:        existing.Topic,
				Version:      existing.Version,
				Deduplicated: true,
				Warnings:     warnings,
			}, nil
		}
	case !errors.Is(err, ErrNotFound):
		return nil, fmt.Errorf("hash lookup: %w", err)
	}

	docID := req.DocumentID
	version := 1
	if docID == "" {
		docID = uuid.NewString()
	} else if prev, err := s.repo.GetDocument(ctx, tenant, docID); err == nil {
		version = prev.Version + 1
	} else if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("lookup document %q: %w", docID, err)
	}

	chunks := s.chunker.Split(text)
	if s.maxChunks > 0 && len(chunks) > s.maxChunks {
		warnings = append(warnings,
			fmt.Sprintf("document produced %d chunks, truncated to %d", len(chunks), s.maxChunks))
		chunks = chunks[:s.maxChunks]
	}

	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
	}
	vectors, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed %d chunks: %w", len(chunks), err)
	}

	title := req.Title
	rootCause := ""
	steps, risks := []string{}, []string{}
	if s.structurer != nil && merged.docType == DocTypeIncident {
		structure, err := s.structurer.ExtractStructure(ctx, text)
		switch {
		case err != nil:
			// Structuring is best effort: a failed LLM call must not block
			// the ingest itself.
			warnings = append(warnings, "structure extraction failed, document stored unstructured")
			s.logger.Warn("structure extraction failed",
				"tenant", tenant, "document_id", docID, "error", err)
		case structure.NeedsClarification:
			warnings = append(warnings,
				fmt.Sprintf("structure extraction needs clarification: %s",
					strings.Join(structure.Questions, "; ")))
		default:
			if title == "" {
				title = structure.Title
			}
			rootCause = structure.RootCause
			if structure.Steps != nil {
				steps = structure.Steps
			}
			if structure.Risks != nil {
				risks = structure.Risks
			}
		}
	}

	doc := &Document{
		ID:            docID,
		TenantSlug:    tenant,
		Scope:         scope,
		DocType:       merged.docType,
		System:        merged.system,
		Topic:         merged.topic,
		TCodes:        merged.tcodes,
		Tables:        merged.tables,
		CustomObjects: meta.CustomObjects,
		Title:         title,
		RootCause:     rootCause,
		Steps:         steps,
		Risks:         risks,
		Tags:          req.Tags,
		Source:        req.Source,
		Version:       version,
		ContentHash:   hash,
	}
	if doc.Tags == nil {
		doc.Tags = []string{}
	}

	records := make([]ChunkRecord, len(chunks))
	points := make([]vectorstore.Point, len(chunks))
	for i, ch := range chunks {
		pointID := fmt.Sprintf("%s_%d", docID, ch.Index)
		records[i] = ChunkRecord{
			ID:         uuid.NewString(),
			DocumentID: docID,
			Index:      ch.Index,
			Content:    ch.Text,
			TokenCount: ch.TokenCount,
			PointID:    pointID,
		}
		points[i] = vectorstore.Point{
			ID:     pointID,
			Vector: vectors[i],
			Payload: vectorstore.Payload{
				Tenant:     tenant,
				Scope:      scope,
				DocumentID: docID,
				Ordinal:    ch.Index,
				Title:      title,
				Source:     req.Source,
				Topic:      merged.topic,
				System:     merged.system,
				Snippet:    snippet(ch.Text, snippetRunes),
			},
		}
	}

	if err := s.repo.SaveDocument(ctx, doc); err != nil {
		return nil, err
	}
	if err := s.repo.ReplaceChunks(ctx, docID, records); err != nil {
		return nil, err
	}
	// Clear stale points first: a shrinking document must not leave
	// orphaned vectors behind.
	if err := s.vectors.DeleteByDocument(ctx, docID); err != nil {
		return nil, err
	}
	if err := s.vectors.Upsert(ctx, points); err != nil {
		return nil, err
	}

	s.logger.Info("ingested document",
		"tenant", tenant, "document_id", docID, "scope", scope,
		"topic", merged.topic, "chunks", len(chunks), "version", version)

	return &Result{
		DocumentID: docID,
		Tenant:     tenant,
		Scope:      scope,
		Topic:      merged.topic,
		Version:    version,
		ChunkCount: len(chunks),
		Warnings:   warnings,
	}, nil
}

// IngestFiles parses and ingests a batch of uploaded files. A failing file
// does not abort the batch: its error is reported in its FileResult and the
// remaining files proceed.
func (s *Service) IngestFiles(ctx context.Context, base Request, files []File) ([]FileResult, error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no files", ErrInvalidRequest)
	}
	if len(files) > maxFilesPerBatch {
		return nil, fmt.Errorf("%w: %d files exceeds the limit of %d",
			ErrInvalidRequest, len(files), maxFilesPerBatch)
	}

	results := make([]FileResult, 0, len(files))
	for _, f := range files {
		result, err := s.ingestFile(ctx, base, f)
		if err != nil {
			s.logger.Warn("file ingest failed", "file", f.Name, "error", err)
			results = append(results, FileResult{Name: f.Name, Err: &FileError{Name: f.Name, Err: err}})
			continue
		}
		results = append(results, FileResult{Name: f.Name, Result: result})
	}
	return results, nil
}

func (s *Service) ingestFile(ctx context.Context, base Request, f File) (*Result, error) {
	if len(f.Data) > maxFileSize {
		return nil, fmt.Errorf("%w: file is %d bytes, limit is %d",
			ErrInvalidRequest, len(f.Data), maxFileSize)
	}

	var (
		text string
		err  error
	)
	if isImage(f.Name) {
		if s.ocr == nil {
			return nil, fmt.Errorf("%w: image uploads need an OCR engine, none configured",
				ErrUnsupportedFormat)
		}
		text, err = s.ocr.Recognize(ctx, f.Name, f.Data)
	} else {
		text, err = Parse(f.Name, f.Data)
	}
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(text)) < minTextLength {
		return nil, fmt.Errorf("%w: extracted text shorter than %d characters",
			ErrInvalidRequest, minTextLength)
	}

	req := base
	req.DocumentID = ""
	req.Text = text
	if req.Source == "" {
		req.Source = f.Name
	}
	if req.Title == "" {
		req.Title = strings.TrimSuffix(f.Name, filepath.Ext(f.Name))
	}
	return s.IngestText(ctx, req)
}

// ExtractEphemeral parses an attachment for in-request use only. Nothing is
// embedded or persisted; the text and its metadata live and die with the
// chat request that attached the file.
func (s *Service) ExtractEphemeral(name string, data []byte) (*EphemeralFile, error) {
	if len(data) > maxFileSize {
		return nil, fmt.Errorf("%w: file is %d bytes, limit is %d",
			ErrInvalidRequest, len(data), maxFileSize)
	}
	text, err := Parse(name, data)
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(text)) < minTextLength {
		return nil, fmt.Errorf("%w: extracted text shorter than %d characters",
			ErrInvalidRequest, minTextLength)
	}
	return &EphemeralFile{
		Name:       name,
		Text:       text,
		TokenCount: chunker.EstimateTokens(text),
		Metadata:   metadata.Extract(text),
	}, nil
}

// DeleteDocument removes a document the tenant owns from both stores.
func (s *Service) DeleteDocument(ctx context.Context, tenant, id string) error {
	if err := s.repo.DeleteDocument(ctx, tenant, id); err != nil {
		return err
	}
	return s.vectors.DeleteByDocument(ctx, id)
}

// GetDocument returns a document visible to the tenant.
func (s *Service) GetDocument(ctx context.Context, tenant, id string) (*Document, error) {
	return s.repo.GetDocument(ctx, tenant, id)
}

// ListDocuments returns documents visible to the tenant, newest first.
func (s *Service) ListDocuments(ctx context.Context, tenant string, limit, offset int) ([]Document, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListDocuments(ctx, tenant, limit, offset)
}

// GetChunks returns the stored chunks of a document visible to the tenant.
func (s *Service) GetChunks(ctx context.Context, tenant, id string) ([]ChunkRecord, error) {
	if _, err := s.repo.GetDocument(ctx, tenant, id); err != nil {
		return nil, err
	}
	return s.repo.GetChunks(ctx, id)
}

func validate(req Request, text string) error {
	if req.Tenant == "" {
		return fmt.Errorf("%w: tenant is required", ErrInvalidRequest)
	}
	if len(text) < minTextLength {
		return fmt.Errorf("%w: text shorter than %d characters", ErrInvalidRequest, minTextLength)
	}
	switch req.Scope {
	case "", ScopeStandard, ScopeClientSpecific:
	default:
		return fmt.Errorf("%w: unknown scope %q", ErrInvalidRequest, req.Scope)
	}
	switch req.DocType {
	case "", DocTypeIncident, DocTypeDoc, DocTypeNote, DocTypeManual:
	default:
		return fmt.Errorf("%w: unknown doc type %q", ErrInvalidRequest, req.DocType)
	}
	return nil
}

// mergedMetadata is the request-over-extraction merge result.
type mergedMetadata struct {
	docType string
	topic   string
	system  string
	tcodes  []string
	tables  []string
}

func mergeMetadata(req Request, meta metadata.Metadata) mergedMetadata {
	m := mergedMetadata{
		docType: req.DocType,
		topic:   req.Topic,
		system:  req.System,
		tcodes:  req.TCodes,
		tables:  req.Tables,
	}
	if m.docType == "" {
		m.docType = DocTypeDoc
	}
	if m.topic == "" {
		m.topic = meta.Topic
	}
	if m.system == "" {
		m.system = meta.System
	}
	if len(m.tcodes) == 0 {
		m.tcodes = meta.TCodes
	}
	if len(m.tables) == 0 {
		m.tables = meta.Tables
	}
	if m.tcodes == nil {
		m.tcodes = []string{}
	}
	if m.tables == nil {
		m.tables = []string{}
	}
	return m
}

// resolveScope applies the scope rules: customer Z/Y objects make a document
// client specific unless the caller explicitly forces STANDARD.
func resolveScope(req Request, meta metadata.Metadata) (string, []string) {
	hasCustom := meta.HasCustomObjects()

	switch req.Scope {
	case ScopeClientSpecific:
		return ScopeClientSpecific, nil
	case ScopeStandard:
		if hasCustom && !req.ForceStandard {
			return ScopeClientSpecific, []string{
				fmt.Sprintf("requested STANDARD scope downgraded to CLIENT_SPECIFIC: text references customer objects %v",
					meta.CustomObjects),
			}
		}
		return ScopeStandard, nil
	default:
		if hasCustom {
			return ScopeClientSpecific, nil
		}
		return ScopeStandard, nil
	}
}

func snippet(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
