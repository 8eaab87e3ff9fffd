package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sapwiki/sapwiki/internal/assembler"
	"github.com/sapwiki/sapwiki/internal/chunker"
	"github.com/sapwiki/sapwiki/internal/config"
	"github.com/sapwiki/sapwiki/internal/database"
	"github.com/sapwiki/sapwiki/internal/embedding"
	"github.com/sapwiki/sapwiki/internal/ingest"
	"github.com/sapwiki/sapwiki/internal/llm"
	"github.com/sapwiki/sapwiki/internal/log"
	"github.com/sapwiki/sapwiki/internal/retrieval"
	"github.com/sapwiki/sapwiki/internal/vectorstore"
)

// newLogger builds the process logger from the logging configuration.
func newLogger(cfg *config.Config) *slog.Logger {
	return log.New(log.Config{
		Level: log.ParseLevel(cfg.LogLevel),
		JSON:  cfg.LogFormat == "json",
	})
}

// pipeline holds the wired application components shared by the serve,
// ingest and ask commands. Close releases the database pool.
type pipeline struct {
	pool      *pgxpool.Pool
	ingest    *ingest.Service
	retriever *retrieval.Retriever
	assembler *assembler.Assembler
	llm       *llm.Client
}

func (p *pipeline) Close() {
	p.pool.Close()
}

// buildPipeline connects to PostgreSQL and wires the full ingestion and
// retrieval stack from configuration.
func buildPipeline(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*pipeline, error) {
	pool, err := database.Connect(ctx, cfg.PostgresURL())
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	ch, err := chunker.New(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating chunker: %w", err)
	}

	embedder := embedding.New(cfg.OpenAIAPIKey, embedding.Config{
		Model: cfg.EmbeddingModel,
		Dims:  cfg.EmbeddingDims,
	}, logger)

	vectors := vectorstore.NewPostgres(pool, logger)
	repo := ingest.NewPostgresRepository(pool)

	llmClient := llm.New(cfg.OpenAIAPIKey, llm.Config{
		Model:       cfg.ChatModel,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
	}, logger)

	svc := ingest.NewService(repo, vectors, embedder, ch, cfg.MaxChunksPerDoc, logger)
	svc.SetStructurer(llmClient)

	return &pipeline{
		pool:   pool,
		ingest: svc,
		retriever: retrieval.New(embedder, vectors, retrieval.Config{
			TopKInitial: cfg.TopKInitial,
			TopKFinal:   cfg.TopKFinal,
			MinScore:    float64(cfg.MinScore),
		}, logger),
		assembler: assembler.New(logger),
		llm:       llmClient,
	}, nil
}
