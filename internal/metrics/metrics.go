// Package metrics provides the engine's internal counters: cache hits
// and misses, terminal evaluations run, and Levenberg-Marquardt
// iterations reported through RecordLMIterations (neither the engine nor
// the reference fit module calls it, so that counter stays at zero in
// the CLI). They back the cache "stats" command; they are deliberately
// not a full metrics-export surface (no Prometheus registry, no push
// gateway) since SPEC_FULL.md's Non-goals exclude observability
// integrations beyond what the engine needs of itself.
package metrics

import "sync/atomic"

// Metrics holds the engine's atomic counters. The zero value is ready to
// use.
type Metrics struct {
	cacheHits      atomic.Int64
	cacheMisses    atomic.Int64
	evaluationsRun atomic.Int64
	lmIterations   atomic.Int64
}

// New creates a zeroed Metrics.
func New() *Metrics {
	return &Metrics{}
}

func (m *Metrics) RecordCacheHit()  { m.cacheHits.Add(1) }
func (m *Metrics) RecordCacheMiss() { m.cacheMisses.Add(1) }
func (m *Metrics) RecordEvaluation() { m.evaluationsRun.Add(1) }
func (m *Metrics) RecordLMIterations(n int) {
	m.lmIterations.Add(int64(n))
}

// Snapshot is a point-in-time read of every counter.
type Snapshot struct {
	CacheHits      int64
	CacheMisses    int64
	EvaluationsRun int64
	LMIterations   int64
}

// Snapshot reads every counter's current value.
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		CacheHits:      m.cacheHits.Load(),
		CacheMisses:    m.cacheMisses.Load(),
		EvaluationsRun: m.evaluationsRun.Load(),
		LMIterations:   m.lmIterations.Load(),
	}
}

// HitRate returns the fraction of cache lookups that hit, or 0 when no
// lookups have been recorded.
func (s Snapshot) HitRate() float64 {
	total := s.CacheHits + s.CacheMisses
	if total == 0 {
		return 0
	}
	return float64(s.CacheHits) / float64(total)
}
