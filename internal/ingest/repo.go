package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

// Repository is the relational persistence contract for documents and their
// chunks. Postgres backs production; tests use the in-memory implementation
// from testutil.
type Repository interface {
	// SaveDocument inserts or updates a document row.
	SaveDocument(ctx context.Context, doc *Document) error

	// ReplaceChunks atomically swaps a document's chunk rows.
	ReplaceChunks(ctx context.Context, documentID string, chunks []ChunkRecord) error

	// FindByHash looks a document up by content hash within one tenant.
	// Returns ErrNotFound when no document matches.
	FindByHash(ctx context.Context, tenant, hash string) (*Document, error)

	// GetDocument returns a document visible to the tenant: its own or a
	// shared STANDARD one. Returns ErrNotFound otherwise.
	GetDocument(ctx context.Context, tenant, id string) (*Document, error)

	// ListDocuments returns the documents visible to the tenant, newest
	// first.
	ListDocuments(ctx context.Context, tenant string, limit, offset int) ([]Document, error)

	// GetChunks returns a document's chunks ordered by index.
	GetChunks(ctx context.Context, documentID string) ([]ChunkRecord, error)

	// DeleteDocument removes a document the tenant owns. Chunk rows go with
	// it via the FK cascade. Returns ErrNotFound when the tenant owns no
	// such document.
	DeleteDocument(ctx context.Context, tenant, id string) error
}

// db is the subset of pgxpool.Pool the repository uses.
type db interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// PostgresRepository persists documents in the documents and chunks tables.
type PostgresRepository struct {
	db db
}

// NewPostgresRepository creates a repository on an existing connection pool.
func NewPostgresRepository(db db) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const saveDocumentSQL = `
INSERT INTO documents (id, tenant_slug, scope, doc_type, system, topic, tcodes, tables,
                       custom_objects, title, root_cause, steps, risks, tags, source,
                       version, content_hash, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, now())
ON CONFLICT (id) DO UPDATE SET
    scope          = EXCLUDED.scope,
    doc_type       = EXCLUDED.doc_type,
    system         = EXCLUDED.system,
    topic          = EXCLUDED.topic,
    tcodes         = EXCLUDED.tcodes,
    tables         = EXCLUDED.tables,
    custom_objects = EXCLUDED.custom_objects,
    title          = EXCLUDED.title,
    root_cause     = EXCLUDED.root_cause,
    steps          = EXCLUDED.steps,
    risks          = EXCLUDED.risks,
    tags           = EXCLUDED.tags,
    source         = EXCLUDED.source,
    version        = EXCLUDED.version,
    content_hash   = EXCLUDED.content_hash,
    updated_at     = now()`

func (r *PostgresRepository) SaveDocument(ctx context.Context, doc *Document) error {
	_, err := r.db.Exec(ctx, saveDocumentSQL,
		doc.ID, doc.TenantSlug, doc.Scope, doc.DocType, doc.System, doc.Topic,
		doc.TCodes, doc.Tables, doc.CustomObjects, doc.Title, doc.RootCause,
		doc.Steps, doc.Risks, doc.Tags, doc.Source, doc.Version, doc.ContentHash)
	if err != nil {
		return fmt.Errorf("save document %q: %w", doc.ID, err)
	}
	return nil
}

func (r *PostgresRepository) ReplaceChunks(ctx context.Context, documentID string, chunks []ChunkRecord) error {
	batch := &pgx.Batch{}
	batch.Queue(`DELETE FROM chunks WHERE document_id = $1`, documentID)
	for _, ch := range chunks {
		batch.Queue(`
INSERT INTO chunks (id, document_id, chunk_index, content, token_count, point_id)
VALUES ($1, $2, $3, $4, $5, $6)`,
			ch.ID, ch.DocumentID, ch.Index, ch.Content, ch.TokenCount, ch.PointID)
	}

	results := r.db.SendBatch(ctx, batch)
	defer results.Close()
	for i := 0; i < len(chunks)+1; i++ {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("replace chunks for document %q: %w", documentID, err)
		}
	}
	return nil
}

const documentColumns = `id::text, tenant_slug, scope, doc_type, system, topic, tcodes, tables,
       custom_objects, title, root_cause, steps, risks, tags, source,
       version, content_hash, created_at, updated_at`

func (r *PostgresRepository) FindByHash(ctx context.Context, tenant, hash string) (*Document, error) {
	row := r.db.QueryRow(ctx, `
SELECT `+documentColumns+`
FROM documents
WHERE tenant_slug = $1 AND content_hash = $2
LIMIT 1`, tenant, hash)
	return scanDocument(row)
}

func (r *PostgresRepository) GetDocument(ctx context.Context, tenant, id string) (*Document, error) {
	row := r.db.QueryRow(ctx, `
SELECT `+documentColumns+`
FROM documents
WHERE id = $1 AND tenant_slug IN ($2, 'STANDARD')`, id, tenant)
	return scanDocument(row)
}

func (r *PostgresRepository) ListDocuments(ctx context.Context, tenant string, limit, offset int) ([]Document, error) {
	rows, err := r.db.Query(ctx, `
SELECT `+documentColumns+`
FROM documents
WHERE tenant_slug IN ($1, 'STANDARD')
ORDER BY created_at DESC
LIMIT $2 OFFSET $3`, tenant, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read document rows: %w", err)
	}
	return docs, nil
}

func (r *PostgresRepository) GetChunks(ctx context.Context, documentID string) ([]ChunkRecord, error) {
	rows, err := r.db.Query(ctx, `
SELECT id, document_id::text, chunk_index, content, token_count, point_id
FROM chunks
WHERE document_id = $1
ORDER BY chunk_index`, documentID)
	if err != nil {
		return nil, fmt.Errorf("get chunks: %w", err)
	}
	defer rows.Close()

	var chunks []ChunkRecord
	for rows.Next() {
		var ch ChunkRecord
		if err := rows.Scan(&ch.ID, &ch.DocumentID, &ch.Index, &ch.Content, &ch.TokenCount, &ch.PointID); err != nil {
			return nil, fmt.Errorf("scan chunk row: %w", err)
		}
		chunks = append(chunks, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read chunk rows: %w", err)
	}
	return chunks, nil
}

func (r *PostgresRepository) DeleteDocument(ctx context.Context, tenant, id string) error {
	tag, err := r.db.Exec(ctx, `
DELETE FROM documents WHERE id = $1 AND tenant_slug = $2`, id, tenant)
	if err != nil {
		return fmt.Errorf("delete document %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// scanDocument reads one document row. pgx.Row and pgx.Rows share the Scan
// signature, so both paths funnel through here.
func scanDocument(row pgx.Row) (*Document, error) {
	var (
		doc                                           Document
		system, topic, title, rootCause, source, hash pgtype.Text
		updatedAt                                     pgtype.Timestamptz
	)
	err := row.Scan(&doc.ID, &doc.TenantSlug, &doc.Scope, &doc.DocType,
		&system, &topic, &doc.TCodes, &doc.Tables, &doc.CustomObjects,
		&title, &rootCause, &doc.Steps, &doc.Risks, &doc.Tags, &source,
		&doc.Version, &hash, &doc.CreatedAt, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan document row: %w", err)
	}
	doc.System = system.String
	doc.Topic = topic.String
	doc.Title = title.String
	doc.RootCause = rootCause.String
	doc.Source = source.String
	doc.ContentHash = hash.String
	if updatedAt.Valid {
		doc.UpdatedAt = updatedAt.Time
	}
	return &doc, nil
}
