// Package assembler builds the bounded context block handed to the language
// model: attached files first, then retrieved knowledge-base chunks, inside
// a hard token budget.
//
// Items are included or dropped wholesale, never silently trimmed. The one
// exception is a first item that alone exceeds the entire budget: it is hard
// cut so the model still gets something, and the cut is logged as data loss.
package assembler

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/sapwiki/sapwiki/internal/chunker"
)

// Source kinds.
const (
	KindFile          = "file"
	KindKnowledgeBase = "kb"
)

const separator = "\n\n---\n\n"

// separatorTokens is the estimated cost of joining two blocks; every block
// after the first is charged for it.
var separatorTokens = chunker.EstimateTokens(separator)

// File is an attached, request-scoped document.
type File struct {
	Name string
	Text string
}

// Chunk is one retrieved knowledge-base chunk, expected in descending score
// order.
type Chunk struct {
	ID     string
	Source string
	Title  string
	Text   string
	Score  float64
}

// SourceRef identifies one context item in the assembly result.
type SourceRef struct {
	Kind   string  `json:"kind"`
	Label  string  `json:"label"`
	ID     string  `json:"id,omitempty"`
	Score  float64 `json:"score,omitempty"`
	Tokens int     `json:"tokens"`
}

// Assembly is the built context plus its accounting.
type Assembly struct {
	Context    string
	Sources    []SourceRef
	Dropped    []SourceRef
	TokensUsed int
	// Truncated reports that the budget forced anything out, whether a
	// wholesale drop or a hard cut.
	Truncated bool
}

// Assembler builds context blocks.
type Assembler struct {
	logger *slog.Logger
}

// New creates an Assembler.
func New(logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{logger: logger}
}

type candidate struct {
	ref  SourceRef
	text string
}

// Assemble builds the context for one request. Attached files take priority
// over knowledge-base chunks: a large attachment may push every chunk out of
// the budget, which is the intended trade.
func (a *Assembler) Assemble(files []File, chunks []Chunk, maxTokens int) Assembly {
	candidates := make([]candidate, 0, len(files)+len(chunks))
	for _, f := range files {
		candidates = append(candidates, candidate{
			ref:  SourceRef{Kind: KindFile, Label: f.Name},
			text: f.Text,
		})
	}
	for _, ch := range chunks {
		label := ch.Source
		if label == "" {
			label = ch.Title
		}
		candidates = append(candidates, candidate{
			ref:  SourceRef{Kind: KindKnowledgeBase, Label: label, ID: ch.ID, Score: ch.Score},
			text: ch.Text,
		})
	}

	result := Assembly{}
	var blocks []string
	used := 0

	for _, cand := range candidates {
		header := fmt.Sprintf("[Source %d: %s]", len(blocks)+1, cand.ref.Label)
		block := header + "\n" + cand.text
		tokens := chunker.EstimateTokens(block)
		cost := tokens
		if len(blocks) > 0 {
			cost += separatorTokens
		}

		if used+cost > maxTokens {
			if len(blocks) == 0 && tokens > maxTokens {
				// Nothing included yet and this item alone blows the
				// whole budget: hard cut rather than answer without
				// any context at all.
				cut := cutToTokens(cand.text, maxTokens-chunker.EstimateTokens(header))
				if cut == "" {
					// Not even the header fits; a header-only block
					// would carry no content and still overrun.
					result.Dropped = append(result.Dropped, cand.ref)
					result.Truncated = true
					continue
				}
				block = header + "\n" + cut
				tokens = chunker.EstimateTokens(block)
				a.logger.Warn("context item hard cut, content lost",
					"kind", cand.ref.Kind, "label", cand.ref.Label,
					"original_tokens", chunker.EstimateTokens(cand.text), "kept_tokens", tokens)
				cand.ref.Tokens = tokens
				blocks = append(blocks, block)
				used += tokens
				result.Sources = append(result.Sources, cand.ref)
				result.Truncated = true
				continue
			}
			result.Dropped = append(result.Dropped, cand.ref)
			result.Truncated = true
			continue
		}

		cand.ref.Tokens = tokens
		blocks = append(blocks, block)
		used += cost
		result.Sources = append(result.Sources, cand.ref)
	}

	result.Context = strings.Join(blocks, separator)
	result.TokensUsed = used

	if result.Truncated {
		a.logger.Debug("context assembly truncated",
			"included", len(result.Sources), "dropped", len(result.Dropped),
			"tokens_used", used, "budget", maxTokens)
	}
	return result
}

// cutToTokens keeps roughly the leading maxTokens worth of words.
func cutToTokens(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	words := strings.Fields(text)
	keep := maxTokens * 3 / 4
	if keep >= len(words) {
		return text
	}
	return strings.Join(words[:keep], " ")
}
