package llm

import (
	"regexp"
	"strings"
)

// specificityPattern matches transaction-code-shaped tokens (EC85, ES21): an
// answer that names concrete transactions is grounded in something.
var specificityPattern = regexp.MustCompile(`\b[A-Z]{2}\d{2}\b`)

// uncertaintyPhrases lower confidence when the model hedges, in either of
// the languages the consultants write in.
var uncertaintyPhrases = []string{
	"no estoy seguro",
	"no tengo informacion",
	"no tengo información",
	"no encuentro",
	"i don't know",
	"i am not sure",
	"i'm not sure",
	"no information",
	"cannot find",
}

// Confidence scores an answer in [0, 1] from cheap signals: how many chunks
// grounded it, how substantial it is, whether it names concrete
// transactions, and whether it hedges. It is a heuristic for ranking and
// display, not a calibrated probability.
func Confidence(answer string, chunkCount int) float64 {
	if strings.TrimSpace(answer) == "" {
		return 0
	}

	score := 0.5

	if chunkCount >= 3 {
		score += 0.1
	}
	if chunkCount >= 5 {
		score += 0.1
	}
	if len(answer) > 200 {
		score += 0.1
	}
	if specificityPattern.MatchString(answer) {
		score += 0.1
	}

	lower := strings.ToLower(answer)
	for _, phrase := range uncertaintyPhrases {
		if strings.Contains(lower, phrase) {
			score -= 0.2
			break
		}
	}

	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
