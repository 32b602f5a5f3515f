// Package metrics records backend and session-operation timings.
package metrics

import (
	"sort"
	"sync"
	"time"
)

// LatencyTracker keeps a sliding window of samples for percentile stats.
type LatencyTracker struct {
	mu         sync.Mutex
	samples    []int64 // microseconds
	maxSamples int
	sorted     bool
	failures   int64
}

// NewLatencyTracker keeps the last windowSize samples (default 1000).
func NewLatencyTracker(windowSize int) *LatencyTracker {
	if windowSize <= 0 {
		windowSize = 1000
	}
	return &LatencyTracker{
		samples:    make([]int64, 0, windowSize),
		maxSamples: windowSize,
	}
}

// Record adds one sample. Failed calls are counted as well as timed.
func (lt *LatencyTracker) Record(d time.Duration, failed bool) {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	if len(lt.samples) >= lt.maxSamples {
		// drop the oldest 10% at once
		drop := lt.maxSamples / 10
		if drop < 1 {
			drop = 1
		}
		lt.samples = append(lt.samples[:0], lt.samples[drop:]...)
	}
	lt.samples = append(lt.samples, d.Microseconds())
	lt.sorted = false
	if failed {
		lt.failures++
	}
}

// Stats computes the current window statistics.
func (lt *LatencyTracker) Stats() LatencyStats {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	n := len(lt.samples)
	if n == 0 {
		return LatencyStats{Failures: lt.failures}
	}
	if !lt.sorted {
		sort.Slice(lt.samples, func(i, j int) bool { return lt.samples[i] < lt.samples[j] })
		lt.sorted = true
	}

	var sum int64
	for _, v := range lt.samples {
		sum += v
	}
	us := func(v int64) time.Duration { return time.Duration(v) * time.Microsecond }

	return LatencyStats{
		Count:    n,
		Failures: lt.failures,
		Min:      us(lt.samples[0]),
		Max:      us(lt.samples[n-1]),
		Avg:      us(sum / int64(n)),
		P50:      us(lt.percentile(0.50)),
		P95:      us(lt.percentile(0.95)),
		P99:      us(lt.percentile(0.99)),
	}
}

func (lt *LatencyTracker) percentile(p float64) int64 {
	return lt.samples[int(float64(len(lt.samples)-1)*p)]
}

// LatencyStats summarizes one tracker.
type LatencyStats struct {
	Count    int
	Failures int64
	Min      time.Duration
	Max      time.Duration
	Avg      time.Duration
	P50      time.Duration
	P95      time.Duration
	P99      time.Duration
}

// ToMap renders the stats in milliseconds for JSON output.
func (s LatencyStats) ToMap() map[string]any {
	ms := func(d time.Duration) float64 { return float64(d.Microseconds()) / 1000 }
	return map[string]any{
		"count":    s.Count,
		"failures": s.Failures,
		"min_ms":   ms(s.Min),
		"max_ms":   ms(s.Max),
		"avg_ms":   ms(s.Avg),
		"p50_ms":   ms(s.P50),
		"p95_ms":   ms(s.P95),
		"p99_ms":   ms(s.P99),
	}
}

// LatencyRegistry holds one tracker per named backend call.
type LatencyRegistry struct {
	mu       sync.RWMutex
	trackers map[string]*LatencyTracker
	window   int
}

func NewLatencyRegistry(windowSize int) *LatencyRegistry {
	return &LatencyRegistry{
		trackers: make(map[string]*LatencyTracker),
		window:   windowSize,
	}
}

func (r *LatencyRegistry) tracker(name string) *LatencyTracker {
	r.mu.RLock()
	t, ok := r.trackers[name]
	r.mu.RUnlock()
	if ok {
		return t
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok = r.trackers[name]; !ok {
		t = NewLatencyTracker(r.window)
		r.trackers[name] = t
	}
	return t
}

func (r *LatencyRegistry) Record(name string, d time.Duration, failed bool) {
	r.tracker(name).Record(d, failed)
}

// Snapshot returns stats for every tracked call, rendered by ToMap.
func (r *LatencyRegistry) Snapshot() map[string]map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]map[string]any, len(r.trackers))
	for name, t := range r.trackers {
		out[name] = t.Stats().ToMap()
	}
	return out
}

var global = NewLatencyRegistry(1000)

// Global returns the process-wide registry.
func Global() *LatencyRegistry { return global }
