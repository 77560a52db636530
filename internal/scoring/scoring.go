// Package scoring implements the lexical-overlap metrics used to compare a
// generated SOAP note against a reference note.
package scoring

import (
	"errors"
	"math"
)

// ErrReferenceRequired is returned when an evaluation has no reference text.
var ErrReferenceRequired = errors.New("reference text is required")

// Candidate is a generated note submitted for scoring.
type Candidate struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Text  string `json:"text"`
}

// Metric holds the scores of one candidate against the reference.
type Metric struct {
	ID       string  `json:"id"`
	Label    string  `json:"label"`
	Rouge1   float64 `json:"rouge1"`
	Bleu1    float64 `json:"bleu1"`
	Combined float64 `json:"combined"`
}

// Rouge1 returns the unigram-overlap F1 of candidate against reference.
// It is 0 when either side has no tokens.
func Rouge1(reference, candidate string) float64 {
	return rouge1Tokens(Tokenize(reference), Tokenize(candidate))
}

// Bleu1 returns the clipped unigram precision of candidate scaled by the
// brevity penalty exp(min(0, 1-|ref|/|cand|)). It is 0 when either side has
// no tokens.
func Bleu1(reference, candidate string) float64 {
	return bleu1Tokens(Tokenize(reference), Tokenize(candidate))
}

// Combined is the arithmetic mean of the two scores.
func Combined(rouge1, bleu1 float64) float64 {
	return (rouge1 + bleu1) / 2
}

// Score computes both metrics for a single candidate.
func Score(reference string, c Candidate) Metric {
	refTokens := Tokenize(reference)
	candTokens := Tokenize(c.Text)
	r1 := rouge1Tokens(refTokens, candTokens)
	b1 := bleu1Tokens(refTokens, candTokens)
	return Metric{
		ID:       c.ID,
		Label:    c.Label,
		Rouge1:   r1,
		Bleu1:    b1,
		Combined: Combined(r1, b1),
	}
}

// Evaluate scores every candidate with usable text against reference.
// Candidates with empty text are skipped; the output keeps input order.
func Evaluate(reference string, candidates []Candidate) ([]Metric, error) {
	if reference == "" {
		return nil, ErrReferenceRequired
	}
	metrics := make([]Metric, 0, len(candidates))
	for _, c := range UsableCandidates(candidates) {
		metrics = append(metrics, Score(reference, c))
	}
	return metrics, nil
}

// UsableCandidates drops candidates without text.
func UsableCandidates(candidates []Candidate) []Candidate {
	out := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.Text != "" {
			out = append(out, c)
		}
	}
	return out
}

func counts(tokens []string) map[string]int {
	m := make(map[string]int, len(tokens))
	for _, t := range tokens {
		m[t]++
	}
	return m
}

func rouge1Tokens(ref, cand []string) float64 {
	if len(ref) == 0 || len(cand) == 0 {
		return 0
	}
	refCounts := counts(ref)
	candCounts := counts(cand)

	overlap := 0
	for token, refCount := range refCounts {
		overlap += min(refCount, candCounts[token])
	}

	precision := float64(overlap) / float64(len(cand))
	recall := float64(overlap) / float64(len(ref))
	if precision == 0 && recall == 0 {
		return 0
	}
	return 2 * precision * recall / (precision + recall)
}

func bleu1Tokens(ref, cand []string) float64 {
	if len(ref) == 0 || len(cand) == 0 {
		return 0
	}
	remaining := counts(ref)

	matches := 0
	for _, t := range cand {
		if remaining[t] > 0 {
			matches++
			remaining[t]--
		}
	}

	precision := float64(matches) / float64(len(cand))
	penalty := math.Exp(math.Min(0, 1-float64(len(ref))/float64(len(cand))))
	return penalty * precision
}
