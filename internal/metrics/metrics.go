// Package metrics holds the in-memory per-endpoint request aggregator.
// Data lives in process memory and resets on restart.
package metrics

import (
	"sort"
	"sync"

	"github.com/goflare/flare/model"
)

// UnmatchedSentinel is the single reserved key recorded for any request that
// could not be matched to a route template. Collapsing scanner probes and
// 404s into one key keeps them from inflating cardinality.
const UnmatchedSentinel = "(unmatched)"

// sampleRingSize bounds the per-endpoint latency samples kept for the
// approximate p95. Oldest samples are evicted first.
const sampleRingSize = 1000

type endpointStats struct {
	count   int64
	errors  int64
	totalMs int64
	maxMs   int64

	samples [sampleRingSize]int64
	head    int
	filled  int
}

func (s *endpointStats) record(durationMs int64, statusCode int) {
	s.count++
	s.totalMs += durationMs
	if durationMs > s.maxMs {
		s.maxMs = durationMs
	}
	if statusCode >= 400 {
		s.errors++
	}
	s.samples[s.head] = durationMs
	s.head = (s.head + 1) % sampleRingSize
	if s.filled < sampleRingSize {
		s.filled++
	}
}

func (s *endpointStats) p95() int64 {
	if s.filled == 0 {
		return 0
	}
	sorted := make([]int64, s.filled)
	copy(sorted, s.samples[:s.filled])
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(float64(len(sorted))*0.95) - 1
	if idx < 0 {
		idx = 0
	}
	return sorted[idx]
}

// Aggregator is the singleton-per-process endpoint metrics store, written on
// every HTTP response by the metrics middleware and read by the dashboard.
//
// MaxEndpoints caps the number of distinct keys. Once at the cap, requests
// for new unknown endpoints are dropped entirely — not merged, not
// evicted-and-replaced — except the unmatched-route sentinel, which is always
// admitted. This bounds memory against URL enumeration and path-parameter
// cardinality explosions.
type Aggregator struct {
	mu           sync.RWMutex
	data         map[string]*endpointStats
	maxEndpoints int
}

func NewAggregator(maxEndpoints int) *Aggregator {
	if maxEndpoints <= 0 {
		maxEndpoints = 500
	}
	return &Aggregator{
		data:         make(map[string]*endpointStats),
		maxEndpoints: maxEndpoints,
	}
}

// Record registers one completed request. Safe for unbounded concurrent
// callers; this is the hottest shared-mutation path in the system.
func (a *Aggregator) Record(endpoint string, durationMs int64, statusCode int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	stats, ok := a.data[endpoint]
	if !ok {
		if len(a.data) >= a.maxEndpoints && endpoint != UnmatchedSentinel {
			return // cap reached — drop unknown endpoint
		}
		stats = &endpointStats{}
		a.data[endpoint] = stats
	}
	stats.record(durationMs, statusCode)
}

// Snapshot returns computed per-endpoint views sorted by endpoint name.
// It may lag in-flight Record calls; the dashboard tolerates that.
func (a *Aggregator) Snapshot() []model.EndpointMetric {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]model.EndpointMetric, 0, len(a.data))
	for endpoint, s := range a.data {
		m := model.EndpointMetric{
			Endpoint:     endpoint,
			Count:        s.count,
			Errors:       s.errors,
			MaxLatencyMs: s.maxMs,
			P95LatencyMs: s.p95(),
		}
		if s.count > 0 {
			m.AvgLatencyMs = s.totalMs / s.count
			m.ErrorRate = float64(int(float64(s.errors)/float64(s.count)*1000+0.5)) / 10
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Endpoint < out[j].Endpoint })
	return out
}

func (a *Aggregator) TotalRequests() int64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var total int64
	for _, s := range a.data {
		total += s.count
	}
	return total
}

func (a *Aggregator) TotalErrors() int64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var total int64
	for _, s := range a.data {
		total += s.errors
	}
	return total
}

func (a *Aggregator) EndpointCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.data)
}

func (a *Aggregator) AtCapacity() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.data) >= a.maxEndpoints
}

func (a *Aggregator) MaxEndpoints() int {
	return a.maxEndpoints
}

// Reset clears all accumulated metrics.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.data = make(map[string]*endpointStats)
}
