package gateway

import (
	"sync"
	"time"
)

// hitRateAlpha is the smoothing factor for the exponential running average
// of the cache hit rate.
const hitRateAlpha = 0.1

// CallMetrics is a snapshot of the running counters for one resource.
type CallMetrics struct {
	Resource         string    `json:"resource"`
	TotalCalls       int64     `json:"totalCalls"`
	SuccessCount     int64     `json:"successCount"`
	FailureCount     int64     `json:"failureCount"`
	AverageLatencyMs float64   `json:"averageLatencyMs"`
	CacheHitRate     float64   `json:"cacheHitRate"`
	LastActivity     time.Time `json:"lastActivity"`
}

// callStats accumulates outcomes for a single resource key.
// latencySamples counts only calls that reached the network, so rejections
// and cache hits never skew the latency average.
type callStats struct {
	totalCalls     int64
	successCount   int64
	failureCount   int64
	latencySamples int64
	avgLatencyMs   float64
	hitRate        float64
	lastActivity   time.Time
}

// statsRegistry tracks callStats per resource. Updated after every call
// attempt, whether served from cache, retried, or failed.
type statsRegistry struct {
	mu    sync.Mutex
	stats map[string]*callStats
}

func newStatsRegistry() *statsRegistry {
	return &statsRegistry{stats: make(map[string]*callStats)}
}

func (r *statsRegistry) get(resource string) *callStats {
	s, ok := r.stats[resource]
	if !ok {
		s = &callStats{}
		r.stats[resource] = s
	}
	return s
}

// recordHit notes a call answered from cache.
func (r *statsRegistry) recordHit(resource string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.get(resource)
	s.totalCalls++
	s.successCount++
	s.hitRate = s.hitRate*(1-hitRateAlpha) + hitRateAlpha
	s.lastActivity = time.Now()
}

// recordOutcome notes a call that went to the network.
func (r *statsRegistry) recordOutcome(resource string, success bool, latency time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.get(resource)
	s.totalCalls++
	if success {
		s.successCount++
	} else {
		s.failureCount++
	}

	// Running weighted average over network calls.
	s.latencySamples++
	n := float64(s.latencySamples)
	lat := float64(latency.Milliseconds())
	if n <= 1 {
		s.avgLatencyMs = lat
	} else {
		s.avgLatencyMs = (s.avgLatencyMs*(n-1) + lat) / n
	}

	s.hitRate = s.hitRate * (1 - hitRateAlpha)
	s.lastActivity = time.Now()
}

// recordRejection notes a call refused at the breaker gate. It counts as a
// failure but contributes no latency sample; nothing was executed.
func (r *statsRegistry) recordRejection(resource string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.get(resource)
	s.totalCalls++
	s.failureCount++
	s.hitRate = s.hitRate * (1 - hitRateAlpha)
	s.lastActivity = time.Now()
}

// snapshot returns a copy of the stats for one resource.
func (r *statsRegistry) snapshot(resource string) CallMetrics {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.stats[resource]
	if !ok {
		return CallMetrics{Resource: resource}
	}
	return CallMetrics{
		Resource:         resource,
		TotalCalls:       s.totalCalls,
		SuccessCount:     s.successCount,
		FailureCount:     s.failureCount,
		AverageLatencyMs: s.avgLatencyMs,
		CacheHitRate:     s.hitRate,
		LastActivity:     s.lastActivity,
	}
}

// all returns snapshots for every resource seen so far.
func (r *statsRegistry) all() []CallMetrics {
	r.mu.Lock()
	keys := make([]string, 0, len(r.stats))
	for k := range r.stats {
		keys = append(keys, k)
	}
	r.mu.Unlock()

	out := make([]CallMetrics, 0, len(keys))
	for _, k := range keys {
		out = append(out, r.snapshot(k))
	}
	return out
}
