package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cdss-prevention-engine/internal/domain"
)

// latencyBucketBoundsMs are the cumulative histogram upper bounds in
// milliseconds. The final implicit bucket catches everything slower.
var latencyBucketBoundsMs = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

// Collector accumulates engine counters with atomic operations only, so
// recording from many concurrent evaluations never contends on a lock.
// Snapshot reads are non-blocking and may be slightly torn across counters;
// operational metrics do not need cross-counter consistency.
type Collector struct {
	logger *logrus.Logger

	totalEvaluations atomic.Int64
	cacheHits        atomic.Int64
	cacheMisses      atomic.Int64
	cacheErrors      atomic.Int64
	plansGenerated   atomic.Int64

	latencySumNanos atomic.Int64
	latencyCount    atomic.Int64
	latencyBuckets  []atomic.Int64 // len(latencyBucketBoundsMs)+1, last is overflow

	failuresByRule sync.Map // rule id -> *atomic.Int64
}

// NewCollector creates an empty collector.
func NewCollector(logger *logrus.Logger) *Collector {
	return &Collector{
		logger:         logger,
		latencyBuckets: make([]atomic.Int64, len(latencyBucketBoundsMs)+1),
	}
}

// RecordEvaluation records one completed evaluation: its wall-clock
// duration and whether the result came from cache.
func (c *Collector) RecordEvaluation(duration time.Duration, cacheHit bool) {
	c.totalEvaluations.Add(1)
	if cacheHit {
		c.cacheHits.Add(1)
	} else {
		c.cacheMisses.Add(1)
	}

	c.latencySumNanos.Add(int64(duration))
	c.latencyCount.Add(1)
	ms := float64(duration) / float64(time.Millisecond)
	c.latencyBuckets[bucketIndex(ms)].Add(1)
}

// RecordCacheError counts a cache operation that failed and was absorbed.
func (c *Collector) RecordCacheError() {
	c.cacheErrors.Add(1)
}

// RecordRuleFailure counts a rule that errored or timed out.
func (c *Collector) RecordRuleFailure(ruleID string) {
	counter, _ := c.failuresByRule.LoadOrStore(ruleID, new(atomic.Int64))
	counter.(*atomic.Int64).Add(1)
}

// RecordPlansGenerated counts plan drafts produced by an evaluation.
func (c *Collector) RecordPlansGenerated(n int) {
	if n > 0 {
		c.plansGenerated.Add(int64(n))
	}
}

// Snapshot returns the current counter values. The percentile is resolved
// from the histogram, so it is an upper-bound estimate at bucket
// granularity rather than an exact order statistic.
func (c *Collector) Snapshot() domain.MetricsSnapshot {
	snap := domain.MetricsSnapshot{
		TotalEvaluations: c.totalEvaluations.Load(),
		CacheHits:        c.cacheHits.Load(),
		CacheMisses:      c.cacheMisses.Load(),
		CacheErrors:      c.cacheErrors.Load(),
		PlansGenerated:   c.plansGenerated.Load(),
		FailuresByRule:   make(map[string]int64),
		TakenAt:          time.Now().UTC(),
	}

	lookups := snap.CacheHits + snap.CacheMisses
	if lookups > 0 {
		snap.HitRate = float64(snap.CacheHits) / float64(lookups)
	}

	if count := c.latencyCount.Load(); count > 0 {
		snap.AvgLatencyMs = float64(c.latencySumNanos.Load()) / float64(count) / float64(time.Millisecond)
		snap.P95LatencyMs = c.percentile(0.95, count)
	}

	c.failuresByRule.Range(func(key, value any) bool {
		snap.FailuresByRule[key.(string)] = value.(*atomic.Int64).Load()
		return true
	})

	return snap
}

// percentile returns the upper bound of the first bucket whose cumulative
// count reaches the quantile.
func (c *Collector) percentile(q float64, count int64) float64 {
	threshold := int64(q * float64(count))
	if threshold < 1 {
		threshold = 1
	}

	var cumulative int64
	for i := range c.latencyBuckets {
		cumulative += c.latencyBuckets[i].Load()
		if cumulative >= threshold {
			if i < len(latencyBucketBoundsMs) {
				return latencyBucketBoundsMs[i]
			}
			// Overflow bucket: report the largest tracked bound.
			return latencyBucketBoundsMs[len(latencyBucketBoundsMs)-1]
		}
	}
	return 0
}

func bucketIndex(ms float64) int {
	for i, bound := range latencyBucketBoundsMs {
		if ms <= bound {
			return i
		}
	}
	return len(latencyBucketBoundsMs)
}
