package config

import (
	"fmt"
	"strings"
)

var validSSLModes = map[string]bool{
	"disable":     true,
	"allow":       true,
	"prefer":      true,
	"require":     true,
	"verify-ca":   true,
	"verify-full": true,
}

// Validate checks every tunable for a sane range. It is called once at
// startup; any error here is a deployment problem, not a request problem.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	if strings.TrimSpace(c.PostgresHost) == "" {
		return fmt.Errorf("%w: host must not be empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: %d (must be 1-65535)", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if strings.TrimSpace(c.PostgresDBName) == "" {
		return fmt.Errorf("%w: database name must not be empty", ErrInvalidPostgresDB)
	}
	if !validSSLModes[c.PostgresSSLMode] {
		return fmt.Errorf("%w: %q", ErrInvalidSSLMode, c.PostgresSSLMode)
	}

	if c.EmbeddingDims <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidEmbeddingDims, c.EmbeddingDims)
	}

	if c.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk_size %d must be positive", ErrInvalidChunkSize, c.ChunkSize)
	}
	if c.ChunkOverlap < 0 {
		return fmt.Errorf("%w: chunk_overlap %d must not be negative", ErrInvalidChunkOverlap, c.ChunkOverlap)
	}
	if c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("%w: chunk_overlap %d must be smaller than chunk_size %d",
			ErrInvalidChunkOverlap, c.ChunkOverlap, c.ChunkSize)
	}
	if c.MaxChunksPerDoc <= 0 {
		return fmt.Errorf("%w: max_chunks_per_doc %d must be positive", ErrInvalidChunkSize, c.MaxChunksPerDoc)
	}

	if c.TopKInitial <= 0 || c.TopKInitial > 1000 {
		return fmt.Errorf("%w: top_k_initial %d must be 1-1000", ErrInvalidTopK, c.TopKInitial)
	}
	if c.TopKFinal <= 0 || c.TopKFinal > c.TopKInitial {
		return fmt.Errorf("%w: top_k_final %d must be 1-%d", ErrInvalidTopK, c.TopKFinal, c.TopKInitial)
	}
	if c.MinScore < 0 || c.MinScore > 1 {
		return fmt.Errorf("%w: %v (must be 0.0-1.0)", ErrInvalidMinScore, c.MinScore)
	}

	if c.MaxContextTokens <= 0 {
		return fmt.Errorf("%w: max_context_tokens %d must be positive", ErrInvalidTokenBudget, c.MaxContextTokens)
	}

	return nil
}

// RequireAPIKey validates the OpenAI key separately from Validate so that
// commands that never call OpenAI (migrate, version) can run without one.
func (c *Config) RequireAPIKey() error {
	if strings.TrimSpace(c.OpenAIAPIKey) == "" {
		return fmt.Errorf("%w: set SAPWIKI_OPENAI_API_KEY or OPENAI_API_KEY", ErrMissingAPIKey)
	}
	return nil
}
