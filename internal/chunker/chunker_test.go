package chunker

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name    string
		target  int
		overlap int
		wantErr bool
	}{
		{"valid", 800, 150, false},
		{"zero overlap", 800, 0, false},
		{"zero target", 0, 0, true},
		{"negative target", -1, 0, true},
		{"negative overlap", 800, -1, true},
		{"overlap equals target", 800, 800, true},
		{"overlap exceeds target", 800, 900, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.target, tt.overlap)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidConfig) {
					t.Fatalf("got %v, want ErrInvalidConfig", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestSplitEmpty(t *testing.T) {
	c, _ := New(800, 150)
	if got := c.Split(""); got != nil {
		t.Errorf("empty text should yield nil, got %v", got)
	}
	if got := c.Split("   \n\n  \n "); got != nil {
		t.Errorf("whitespace text should yield nil, got %v", got)
	}
}

func TestSplitShortText(t *testing.T) {
	c, _ := New(800, 150)
	chunks := c.Split("A short incident note about EC85.")

	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].Index != 0 {
		t.Errorf("Index = %d, want 0", chunks[0].Index)
	}
	if chunks[0].TokenCount != EstimateTokens(chunks[0].Text) {
		t.Errorf("TokenCount inconsistent with estimator")
	}
}

// makeParagraphs builds n paragraphs of w words each with unique word values,
// so ordering and reconstruction are checkable.
func makeParagraphs(n, w int) string {
	var paras []string
	word := 0
	for i := 0; i < n; i++ {
		var words []string
		for j := 0; j < w; j++ {
			words = append(words, fmt.Sprintf("w%04d", word))
			word++
		}
		paras = append(paras, strings.Join(words, " "))
	}
	return strings.Join(paras, "\n\n")
}

func TestSplitChunkBounds(t *testing.T) {
	// 2400 estimated tokens (1800 words in 60-word paragraphs), budget 800,
	// overlap 150: expect 4 chunks, per the incident-report sizing example.
	text := makeParagraphs(30, 60)
	if got := EstimateTokens(text); got < 2300 || got > 2500 {
		t.Fatalf("fixture estimate off: %d", got)
	}

	c, _ := New(800, 150)
	chunks := c.Split(text)

	if len(chunks) != 4 {
		t.Fatalf("expected 4 chunks, got %d", len(chunks))
	}
	for i, ch := range chunks {
		if ch.Index != i {
			t.Errorf("chunk %d has Index %d", i, ch.Index)
		}
		// A chunk may exceed the target by at most one paragraph plus the
		// overlap seed; anything bigger means flushing is broken.
		if ch.TokenCount > 800+150+100 {
			t.Errorf("chunk %d too large: %d tokens", i, ch.TokenCount)
		}
	}
}

func TestSplitOverlap(t *testing.T) {
	text := makeParagraphs(30, 60)
	c, _ := New(800, 150)
	chunks := c.Split(text)
	if len(chunks) < 2 {
		t.Fatalf("need multiple chunks, got %d", len(chunks))
	}

	for i := 1; i < len(chunks); i++ {
		prevWords := strings.Fields(chunks[i-1].Text)
		curWords := strings.Fields(chunks[i].Text)

		// The successor must start with the predecessor's trailing words:
		// ~150 tokens at 0.75 words/token = 112 words.
		overlap := 150 * 3 / 4
		if len(prevWords) < overlap || len(curWords) < overlap {
			t.Fatalf("chunks too small for overlap check")
		}
		tail := prevWords[len(prevWords)-overlap:]
		head := curWords[:overlap]
		for j := range tail {
			if tail[j] != head[j] {
				t.Fatalf("chunk %d does not share overlap with predecessor at word %d: %q vs %q",
					i, j, head[j], tail[j])
			}
		}
	}
}

func TestSplitReconstruction(t *testing.T) {
	text := makeParagraphs(24, 50)
	c, _ := New(600, 120)
	chunks := c.Split(text)
	if len(chunks) < 2 {
		t.Fatalf("need multiple chunks, got %d", len(chunks))
	}

	overlapWords := 120 * 3 / 4
	var rebuilt []string
	for i, ch := range chunks {
		words := strings.Fields(ch.Text)
		if i > 0 {
			words = words[overlapWords:]
		}
		rebuilt = append(rebuilt, words...)
	}

	original := strings.Fields(text)
	if len(rebuilt) != len(original) {
		t.Fatalf("rebuilt %d words, original %d", len(rebuilt), len(original))
	}
	for i := range original {
		if rebuilt[i] != original[i] {
			t.Fatalf("word %d differs: %q vs %q", i, rebuilt[i], original[i])
		}
	}
}

func TestSplitOversizedParagraph(t *testing.T) {
	// One giant paragraph of short sentences must fall back to sentence
	// splitting instead of emitting a single over-budget chunk.
	var sentences []string
	for i := 0; i < 200; i++ {
		sentences = append(sentences, fmt.Sprintf("Sentence number %d has exactly seven words total", i))
	}
	text := strings.Join(sentences, ". ")

	c, _ := New(200, 40)
	chunks := c.Split(text)

	if len(chunks) < 5 {
		t.Fatalf("expected many chunks, got %d", len(chunks))
	}
	for i, ch := range chunks {
		if ch.TokenCount > 300 {
			t.Errorf("chunk %d over budget: %d tokens", i, ch.TokenCount)
		}
	}
}

func TestSplitZeroOverlap(t *testing.T) {
	text := makeParagraphs(12, 50)
	c, _ := New(300, 0)
	chunks := c.Split(text)
	if len(chunks) < 2 {
		t.Fatalf("need multiple chunks, got %d", len(chunks))
	}

	// With zero overlap the chunks partition the text exactly.
	var rebuilt []string
	for _, ch := range chunks {
		rebuilt = append(rebuilt, strings.Fields(ch.Text)...)
	}
	original := strings.Fields(text)
	if len(rebuilt) != len(original) {
		t.Fatalf("rebuilt %d words, original %d", len(rebuilt), len(original))
	}
}

func TestEstimateTokensMonotonic(t *testing.T) {
	base := "incident in billing run"
	prev := 0
	for i := 0; i < 10; i++ {
		text := strings.Repeat(base+" ", i)
		got := EstimateTokens(text)
		if got < prev {
			t.Fatalf("estimate decreased: %d after %d", got, prev)
		}
		prev = got
	}
	if EstimateTokens("") != 0 {
		t.Error("empty text must estimate to 0 tokens")
	}
}
