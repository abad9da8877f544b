package core

import (
	"SynthLedger/internal/observability"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru"
)

// IdempotencyChecker implements two-tier deduplication
type IdempotencyChecker struct {
	// Tier 1: in-memory LRU
	lru *lru.Cache

	// Tier 2: Postgres (injected via interface)
	dbChecker DBIdempotencyChecker

	metrics *observability.Metrics
}

// DBIdempotencyChecker is the interface for Postgres dedup lookup
type DBIdempotencyChecker interface {
	IsDuplicate(commandType string, idempotencyKey string) (bool, error)
}

func NewIdempotencyChecker(capacity int, dbChecker DBIdempotencyChecker, metrics *observability.Metrics) (*IdempotencyChecker, error) {
	ic := &IdempotencyChecker{
		dbChecker: dbChecker,
		metrics:   metrics,
	}
	cache, err := lru.NewWithEvict(capacity, func(key, value interface{}) {
		if ic.metrics != nil {
			ic.metrics.DedupLRUEvictions.Inc()
		}
	})
	if err != nil {
		return nil, fmt.Errorf("idempotency lru: %w", err)
	}
	ic.lru = cache
	return ic, nil
}

func compositeKey(commandType, idempotencyKey string) string {
	return commandType + ":" + idempotencyKey
}

// IsDuplicate checks if a command has been processed (two-tier lookup)
func (ic *IdempotencyChecker) IsDuplicate(commandType string, idempotencyKey string) bool {
	key := compositeKey(commandType, idempotencyKey)

	if ic.lru.Contains(key) {
		ic.recordDuplicate(commandType, "lru")
		return true
	}

	if ic.dbChecker != nil {
		start := time.Now()
		isDup, err := ic.dbChecker.IsDuplicate(commandType, idempotencyKey)
		if ic.metrics != nil {
			ic.metrics.DedupTier2Duration.Observe(time.Since(start).Seconds())
		}
		if err != nil {
			// Conservative: assume not duplicate so a DB issue cannot block the core
			if ic.metrics != nil {
				ic.metrics.DedupTier2Errors.Inc()
			}
			return false
		}
		if isDup {
			ic.recordDuplicate(commandType, "postgres")
			ic.lru.Add(key, struct{}{})
			return true
		}
	}

	return false
}

// MarkProcessed adds key to LRU after successful processing
func (ic *IdempotencyChecker) MarkProcessed(commandType string, idempotencyKey string) {
	ic.lru.Add(compositeKey(commandType, idempotencyKey), struct{}{})
	ic.recordSize()
}

// Warm loads composite keys saved in a snapshot, oldest first.
func (ic *IdempotencyChecker) Warm(keys []string) {
	for _, k := range keys {
		ic.lru.Add(k, struct{}{})
	}
	ic.recordSize()
}

// Keys returns composite keys from oldest to newest.
func (ic *IdempotencyChecker) Keys() []string {
	raw := ic.lru.Keys()
	out := make([]string, 0, len(raw))
	for _, k := range raw {
		out = append(out, k.(string))
	}
	return out
}

// Size returns current number of entries
func (ic *IdempotencyChecker) Size() int {
	return ic.lru.Len()
}

func (ic *IdempotencyChecker) recordSize() {
	if ic.metrics != nil {
		ic.metrics.DedupLRUSize.Set(float64(ic.Size()))
	}
}

func (ic *IdempotencyChecker) recordDuplicate(commandType, tier string) {
	if ic.metrics != nil {
		ic.metrics.IdempotencyDuplicates.WithLabelValues(commandType, tier).Inc()
	}
}
