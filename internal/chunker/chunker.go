// Package chunker splits document text into overlapping, token-bounded chunks.
//
// Splitting is greedy on natural boundaries: paragraphs first, sentences for
// paragraphs that alone exceed the budget. Each emitted chunk seeds the next
// one with a trailing span of overlap text, so neighboring chunks share a
// contiguous region and no retrieval hit loses its surrounding context.
package chunker

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidConfig signals unusable chunking parameters. It is a startup
// configuration error; Split itself never fails.
var ErrInvalidConfig = errors.New("invalid chunker configuration")

// Chunk is one bounded slice of a document.
type Chunk struct {
	Index      int
	Text       string
	TokenCount int
}

// Chunker splits text with a fixed target size and overlap, both in tokens.
type Chunker struct {
	targetTokens  int
	overlapTokens int
}

// New validates the parameters and returns a Chunker.
// overlapTokens must be strictly smaller than targetTokens: an overlap that
// swallows the whole budget would re-emit the same text forever.
func New(targetTokens, overlapTokens int) (*Chunker, error) {
	if targetTokens <= 0 {
		return nil, fmt.Errorf("%w: target tokens %d must be positive", ErrInvalidConfig, targetTokens)
	}
	if overlapTokens < 0 {
		return nil, fmt.Errorf("%w: overlap tokens %d must not be negative", ErrInvalidConfig, overlapTokens)
	}
	if overlapTokens >= targetTokens {
		return nil, fmt.Errorf("%w: overlap tokens %d must be smaller than target tokens %d",
			ErrInvalidConfig, overlapTokens, targetTokens)
	}
	return &Chunker{targetTokens: targetTokens, overlapTokens: overlapTokens}, nil
}

// EstimateTokens approximates the token count of text.
//
// The heuristic is 1 token ~= 0.75 words, the same ratio the overlap seeding
// uses, so chunk budgets and the assembler's context budget agree with each
// other. It is monotonic: appending text never lowers the estimate.
func EstimateTokens(text string) int {
	words := len(strings.Fields(text))
	if words == 0 {
		return 0
	}
	return (words*4 + 2) / 3
}

// Split divides text into chunks. Empty or whitespace-only text yields nil;
// text under the target budget yields exactly one chunk.
func (c *Chunker) Split(text string) []Chunk {
	var (
		chunks    []Chunk
		current   strings.Builder
		curTokens int
	)

	flush := func() string {
		content := strings.TrimSpace(current.String())
		if content == "" {
			return ""
		}
		chunks = append(chunks, Chunk{
			Index:      len(chunks),
			Text:       content,
			TokenCount: EstimateTokens(content),
		})
		current.Reset()
		curTokens = 0
		return content
	}

	// add appends a piece to the running chunk, flushing first when the
	// budget would be exceeded and seeding the successor with overlap text.
	add := func(piece, sep string) {
		pieceTokens := EstimateTokens(piece)
		if curTokens+pieceTokens > c.targetTokens && current.Len() > 0 {
			emitted := flush()
			if c.overlapTokens > 0 && emitted != "" {
				current.WriteString(c.overlapText(emitted))
			}
		}
		if current.Len() > 0 {
			current.WriteString(sep)
		}
		current.WriteString(piece)
		curTokens = EstimateTokens(current.String())
	}

	for _, paragraph := range strings.Split(text, "\n\n") {
		paragraph = strings.TrimSpace(paragraph)
		if paragraph == "" {
			continue
		}

		if EstimateTokens(paragraph) > c.targetTokens {
			// Oversized paragraph: fall back to sentence boundaries.
			for _, sentence := range strings.Split(paragraph, ". ") {
				sentence = strings.TrimSpace(sentence)
				if sentence == "" {
					continue
				}
				add(sentence, ". ")
			}
			continue
		}

		add(paragraph, "\n\n")
	}

	flush()
	return chunks
}

// overlapText returns the trailing span of a chunk to carry into its
// successor: roughly overlapTokens worth of words (1 token ~= 0.75 words),
// at least 10. Very short chunks are carried whole.
func (c *Chunker) overlapText(text string) string {
	words := strings.Fields(text)
	if len(words) <= 20 {
		return text
	}
	targetWords := max(10, c.overlapTokens*3/4)
	if targetWords >= len(words) {
		return text
	}
	return strings.Join(words[len(words)-targetWords:], " ")
}
