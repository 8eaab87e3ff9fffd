package cmd

import (
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sapwiki/sapwiki/internal/config"
	"github.com/sapwiki/sapwiki/internal/ingest"
)

// ingestBatchSize matches the per-request file limit of the HTTP API, so a
// bulk load exercises the same code path in the same portions.
const ingestBatchSize = 10

// supportedExtensions mirrors the formats the document parser accepts.
var supportedExtensions = map[string]bool{
	".txt":      true,
	".md":       true,
	".markdown": true,
	".html":     true,
	".htm":      true,
	".pdf":      true,
	".docx":     true,
}

var (
	ingestTenant        string
	ingestScope         string
	ingestDocType       string
	ingestTopic         string
	ingestSystem        string
	ingestForceStandard bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [path...]",
	Short: "Ingest documents from files or directories",
	Long: `Reads the given files (directories are walked recursively), parses
every supported document (txt, md, html, pdf, docx) and ingests them into
the knowledge base under the given tenant.

Scope defaults to automatic resolution: documents mentioning customer
Z/Y objects become CLIENT_SPECIFIC, the rest become STANDARD.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runIngest(cmd, args)
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestTenant, "tenant", "", "tenant slug to ingest under (required)")
	ingestCmd.Flags().StringVar(&ingestScope, "scope", "", "STANDARD, CLIENT_SPECIFIC, or empty for automatic")
	ingestCmd.Flags().StringVar(&ingestDocType, "doc-type", "", "document type: incident, doc, note, manual")
	ingestCmd.Flags().StringVar(&ingestTopic, "topic", "", "topic override for all files")
	ingestCmd.Flags().StringVar(&ingestSystem, "system", "", "system override for all files")
	ingestCmd.Flags().BoolVar(&ingestForceStandard, "force-standard", false, "keep STANDARD scope even when custom Z/Y objects appear")
	_ = ingestCmd.MarkFlagRequired("tenant")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
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

	paths, err := collectFiles(args)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return fmt.Errorf("no supported documents found under %s", strings.Join(args, ", "))
	}

	p, err := buildPipeline(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer p.Close()

	base := ingest.Request{
		Tenant:        ingestTenant,
		Scope:         ingestScope,
		ForceStandard: ingestForceStandard,
		DocType:       ingestDocType,
		Topic:         ingestTopic,
		System:        ingestSystem,
	}

	out := cmd.OutOrStdout()
	var ok, failed int
	for start := 0; start < len(paths); start += ingestBatchSize {
		end := min(start+ingestBatchSize, len(paths))

		files := make([]ingest.File, 0, end-start)
		for _, path := range paths[start:end] {
			data, err := os.ReadFile(path)
			if err != nil {
				fmt.Fprintf(out, "FAIL %s: %v\n", path, err)
				failed++
				continue
			}
			files = append(files, ingest.File{Name: filepath.Base(path), Data: data})
		}
		if len(files) == 0 {
			continue
		}

		results, err := p.ingest.IngestFiles(ctx, base, files)
		if err != nil {
			return fmt.Errorf("ingesting batch: %w", err)
		}
		for _, res := range results {
			if res.Err != nil {
				fmt.Fprintf(out, "FAIL %s: %v\n", res.Name, res.Err)
				failed++
				continue
			}
			status := "ok"
			if res.Result.Deduplicated {
				status = "unchanged"
			}
			fmt.Fprintf(out, "%-9s %s  document=%s scope=%s chunks=%d\n",
				status, res.Name, res.Result.DocumentID, res.Result.Scope, res.Result.ChunkCount)
			for _, warning := range res.Result.Warnings {
				fmt.Fprintf(out, "          warning: %s\n", warning)
			}
			ok++
		}
	}

	fmt.Fprintf(out, "\n%d ingested, %d failed\n", ok, failed)
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, ok+failed)
	}
	return nil
}

// collectFiles expands the argument list into supported document paths.
// Directories are walked recursively; explicitly named files are accepted
// regardless of extension so the parser can report unsupported formats.
func collectFiles(args []string) ([]string, error) {
	var paths []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", arg, err)
		}
		if !info.IsDir() {
			paths = append(paths, arg)
			continue
		}
		err = filepath.WalkDir(arg, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if strings.HasPrefix(d.Name(), ".") && path != arg {
					return filepath.SkipDir
				}
				return nil
			}
			if supportedExtensions[strings.ToLower(filepath.Ext(path))] {
				paths = append(paths, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walking %s: %w", arg, err)
		}
	}
	return paths, nil
}
