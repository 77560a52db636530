package scoring

import (
	"context"
	"log/slog"
	"time"

	"soap-evaluator/internal/cache"
)

// Evaluator scores candidates, memoizing results in a cache keyed by the
// hashes of the reference and candidate texts.
type Evaluator struct {
	log   *slog.Logger
	cache cache.Cache
	ttl   time.Duration
}

// NewEvaluator returns an Evaluator. A nil cache disables memoization.
func NewEvaluator(log *slog.Logger, c cache.Cache, ttl time.Duration) *Evaluator {
	if c == nil {
		c = cache.NewNoOpCache()
	}
	return &Evaluator{log: log, cache: c, ttl: ttl}
}

// Evaluate behaves like the package-level Evaluate. Cached scores are read
// in one lookup and the misses written back in one store. Cache errors are
// logged and the scores recomputed.
func (e *Evaluator) Evaluate(ctx context.Context, reference string, candidates []Candidate) ([]Metric, error) {
	if reference == "" {
		return nil, ErrReferenceRequired
	}
	usable := UsableCandidates(candidates)
	if len(usable) == 0 {
		return []Metric{}, nil
	}

	keys := make([]string, len(usable))
	for i, c := range usable {
		keys[i] = cache.Key(reference, c.Text)
	}
	hits, err := e.cache.Lookup(ctx, keys)
	if err != nil {
		e.log.Warn("score cache read failed", "err", err, "candidates", len(usable))
		hits = nil
	}

	metrics := make([]Metric, 0, len(usable))
	misses := make(map[string]cache.Scores)
	for i, c := range usable {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if s, ok := hits[keys[i]]; ok {
			metrics = append(metrics, Metric{
				ID:       c.ID,
				Label:    c.Label,
				Rouge1:   s.Rouge1,
				Bleu1:    s.Bleu1,
				Combined: Combined(s.Rouge1, s.Bleu1),
			})
			continue
		}
		m := Score(reference, c)
		misses[keys[i]] = cache.Scores{Rouge1: m.Rouge1, Bleu1: m.Bleu1}
		metrics = append(metrics, m)
	}

	if len(misses) > 0 {
		if err := e.cache.Store(ctx, misses, e.ttl); err != nil {
			e.log.Warn("score cache write failed", "err", err, "entries", len(misses))
		}
	}
	return metrics, nil
}
