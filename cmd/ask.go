package cmd

import (
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sapwiki/sapwiki/internal/assembler"
	"github.com/sapwiki/sapwiki/internal/config"
	"github.com/sapwiki/sapwiki/internal/llm"
	"github.com/sapwiki/sapwiki/internal/vectorstore"
)

var (
	askTenant string
	askTopic  string
	askSystem string
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a one-shot question against the knowledge base",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAsk(cmd, strings.Join(args, " "))
	},
}

func init() {
	askCmd.Flags().StringVar(&askTenant, "tenant", "", "tenant slug to search as (required)")
	askCmd.Flags().StringVar(&askTopic, "topic", "", "restrict retrieval to a topic")
	askCmd.Flags().StringVar(&askSystem, "system", "", "restrict retrieval to a system")
	_ = askCmd.MarkFlagRequired("tenant")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, question string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err = cfg.RequireAPIKey(); err != nil {
		return err
	}
	logger := newLogger(cfg)

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	p, err := buildPipeline(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer p.Close()

	results, err := p.retriever.Retrieve(ctx, askTenant, question, vectorstore.Filter{
		Topic:  askTopic,
		System: askSystem,
	})
	if err != nil {
		return fmt.Errorf("retrieving: %w", err)
	}

	chunks := make([]assembler.Chunk, len(results))
	for i, res := range results {
		chunks[i] = assembler.Chunk{
			ID:     res.ID,
			Source: res.Payload.Source,
			Title:  res.Payload.Title,
			Text:   res.Payload.Snippet,
			Score:  res.Score,
		}
	}
	assembly := p.assembler.Assemble(nil, chunks, cfg.MaxContextTokens)

	answer, err := p.llm.Complete(ctx, llm.CompletionRequest{
		Question:   question,
		Context:    assembly.Context,
		ChunkCount: len(assembly.Sources),
	})
	if err != nil {
		return fmt.Errorf("completing: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, answer.Text)
	fmt.Fprintf(out, "\nConfidence: %.2f\n", answer.Confidence)
	if len(assembly.Sources) > 0 {
		fmt.Fprintln(out, "Sources:")
		for i, src := range assembly.Sources {
			fmt.Fprintf(out, "  [%d] %s (score %.2f)\n", i+1, src.Label, src.Score)
		}
	}
	return nil
}
