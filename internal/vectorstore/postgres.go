package vectorstore

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/pgvector/pgvector-go"
)

const (
	defaultSearchLimit   = 10
	defaultSearchTimeout = 10 * time.Second
)

// querier is the subset of pgxpool.Pool the store uses; tests may substitute
// their own implementation.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Postgres stores points in the pgvector-backed points table.
// Safe for concurrent use.
type Postgres struct {
	db     querier
	logger *slog.Logger
}

// NewPostgres creates a Postgres store on an existing connection pool.
func NewPostgres(db querier, logger *slog.Logger) *Postgres {
	if logger == nil {
		logger = slog.Default()
	}
	return &Postgres{db: db, logger: logger}
}

const upsertPointSQL = `
INSERT INTO points (id, embedding, tenant, scope, document_id, ordinal, title, source, topic, system, snippet)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (id) DO UPDATE SET
    embedding   = EXCLUDED.embedding,
    tenant      = EXCLUDED.tenant,
    scope       = EXCLUDED.scope,
    document_id = EXCLUDED.document_id,
    ordinal     = EXCLUDED.ordinal,
    title       = EXCLUDED.title,
    source      = EXCLUDED.source,
    topic       = EXCLUDED.topic,
    system      = EXCLUDED.system,
    snippet     = EXCLUDED.snippet`

// Upsert writes points, overwriting any existing point with the same ID.
// The batch is sent in one round trip; a failure on any point fails the call.
func (p *Postgres) Upsert(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, pt := range points {
		if pt.ID == "" {
			return fmt.Errorf("point with empty ID for document %q", pt.Payload.DocumentID)
		}
		batch.Queue(upsertPointSQL,
			pt.ID,
			pgvector.NewVector(pt.Vector),
			pt.Payload.Tenant,
			pt.Payload.Scope,
			pt.Payload.DocumentID,
			pt.Payload.Ordinal,
			pt.Payload.Title,
			pt.Payload.Source,
			pt.Payload.Topic,
			pt.Payload.System,
			pt.Payload.Snippet,
		)
	}

	results := p.db.SendBatch(ctx, batch)
	defer results.Close()
	for range points {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("%w: upsert points: %v", ErrUnavailable, err)
		}
	}

	p.logger.Debug("upserted points", "count", len(points))
	return nil
}

// Search runs a cosine similarity search scoped to the query's tenant.
//
// The tenant predicate is part of the SQL here, not of any caller-supplied
// filter, so a caller cannot construct a query that reads another tenant's
// points. IncludeStandard only ever adds the shared STANDARD corpus.
func (p *Postgres) Search(ctx context.Context, q SearchQuery) ([]Hit, error) {
	if q.Tenant == "" {
		return nil, fmt.Errorf("search requires a tenant")
	}
	limit := q.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	var sb strings.Builder
	sb.WriteString(`
SELECT id, 1 - (embedding <=> $1) AS score,
       tenant, scope, document_id::text, ordinal, title, source, topic, system, snippet
FROM points
WHERE (tenant = $2 OR ($3 AND tenant = '` + StandardTenant + `'))`)

	args := []any{pgvector.NewVector(q.Vector), q.Tenant, q.IncludeStandard}
	appendFilter := func(column, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		fmt.Fprintf(&sb, " AND %s = $%d", column, len(args))
	}
	appendFilter("scope", q.Filter.Scope)
	appendFilter("topic", q.Filter.Topic)
	appendFilter("system", q.Filter.System)

	args = append(args, limit)
	fmt.Fprintf(&sb, "\nORDER BY embedding <=> $1\nLIMIT $%d", len(args))

	queryCtx, cancel := context.WithTimeout(ctx, defaultSearchTimeout)
	defer cancel()

	rows, err := p.db.Query(queryCtx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("%w: search points: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var (
			hit                                   Hit
			title, source, topic, system, snippet pgtype.Text
		)
		if err := rows.Scan(&hit.ID, &hit.Score,
			&hit.Payload.Tenant, &hit.Payload.Scope, &hit.Payload.DocumentID,
			&hit.Payload.Ordinal, &title, &source, &topic, &system, &snippet); err != nil {
			return nil, fmt.Errorf("scan search row: %w", err)
		}
		hit.Payload.Title = title.String
		hit.Payload.Source = source.String
		hit.Payload.Topic = topic.String
		hit.Payload.System = system.String
		hit.Payload.Snippet = snippet.String
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: read search rows: %v", ErrUnavailable, err)
	}
	return hits, nil
}

// DeleteByDocument removes every point belonging to a document. Used on
// re-ingest so stale chunks never survive a shrinking document.
func (p *Postgres) DeleteByDocument(ctx context.Context, documentID string) error {
	tag, err := p.db.Exec(ctx, `DELETE FROM points WHERE document_id = $1`, documentID)
	if err != nil {
		return fmt.Errorf("%w: delete points for document %q: %v", ErrUnavailable, documentID, err)
	}
	p.logger.Debug("deleted points", "document_id", documentID, "count", tag.RowsAffected())
	return nil
}
