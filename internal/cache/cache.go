// Package cache memoizes similarity scores so repeated evaluations of the
// same note against the same reference skip recomputation.
package cache

import (
	"context"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Cache stores scores keyed by Key(reference, candidate).
type Cache interface {
	// Lookup returns the cached scores for the keys it holds. Missing keys
	// are absent from the map.
	Lookup(ctx context.Context, keys []string) (map[string]Scores, error)

	// Store writes every entry with the given TTL.
	Store(ctx context.Context, entries map[string]Scores, ttl time.Duration) error

	Close() error
}

// Scores is the cached part of a metric; id and label belong to the caller.
type Scores struct {
	Rouge1 float64 `json:"rouge1"`
	Bleu1  float64 `json:"bleu1"`
}

// Key derives the cache key from the hashes of both texts.
func Key(reference, candidate string) string {
	return strconv.FormatUint(xxhash.Sum64String(reference), 16) + ":" +
		strconv.FormatUint(xxhash.Sum64String(candidate), 16)
}
