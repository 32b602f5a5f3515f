package metrics

import (
	"database/sql"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PoolStats is a snapshot of a database/sql pool.
type PoolStats struct {
	Open         int           `json:"open"`
	InUse        int           `json:"in_use"`
	Idle         int           `json:"idle"`
	MaxOpen      int           `json:"max_open"`
	WaitCount    int64         `json:"wait_count"`
	WaitDuration time.Duration `json:"-"`
}

// PoolStatus classifies pool pressure.
type PoolStatus string

const (
	PoolHealthy   PoolStatus = "healthy"
	PoolDegraded  PoolStatus = "degraded"
	PoolUnhealthy PoolStatus = "unhealthy"
)

// PoolHealth is the assessment reported by readiness checks.
type PoolHealth struct {
	Status      PoolStatus `json:"status"`
	Utilization float64    `json:"utilization"`
	Message     string     `json:"message,omitempty"`
}

func statsOf(db *sql.DB) PoolStats {
	if db == nil {
		return PoolStats{}
	}
	s := db.Stats()
	return PoolStats{
		Open:         s.OpenConnections,
		InUse:        s.InUse,
		Idle:         s.Idle,
		MaxOpen:      s.MaxOpenConnections,
		WaitCount:    s.WaitCount,
		WaitDuration: s.WaitDuration,
	}
}

// AssessPool grades utilization: >= 95% unhealthy, >= 80% degraded.
// Long cumulative waits degrade an otherwise healthy pool.
func AssessPool(s PoolStats) PoolHealth {
	if s.MaxOpen == 0 {
		return PoolHealth{Status: PoolHealthy, Message: "unlimited connections"}
	}

	u := float64(s.InUse) / float64(s.MaxOpen)
	h := PoolHealth{Status: PoolHealthy, Utilization: u}
	switch {
	case u >= 0.95:
		h.Status, h.Message = PoolUnhealthy, "pool nearly exhausted"
	case u >= 0.80:
		h.Status, h.Message = PoolDegraded, "high pool utilization"
	}
	if s.WaitCount > 0 && s.WaitDuration > 5*time.Second {
		if h.Status == PoolHealthy {
			h.Status = PoolDegraded
		}
		h.Message = "elevated connection wait times"
	}
	return h
}

// PoolMonitor tracks named database/sql pools and exports their gauges.
type PoolMonitor struct {
	mu    sync.RWMutex
	pools map[string]*sql.DB
}

var pools = &PoolMonitor{pools: make(map[string]*sql.DB)}

// RegisterPool adds db to the process-wide monitor.
func RegisterPool(name string, db *sql.DB) {
	pools.mu.Lock()
	_, seen := pools.pools[name]
	pools.pools[name] = db
	pools.mu.Unlock()

	if seen {
		return
	}
	labels := prometheus.Labels{"pool": name}
	Registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "teamera", Subsystem: "db", Name: "connections_in_use",
			Help: "Connections currently in use.", ConstLabels: labels,
		}, func() float64 { s, _ := PoolStatsFor(name); return float64(s.InUse) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "teamera", Subsystem: "db", Name: "connections_open",
			Help: "Open connections.", ConstLabels: labels,
		}, func() float64 { s, _ := PoolStatsFor(name); return float64(s.Open) }),
	)
}

// PoolStatsFor returns the stats of a registered pool.
func PoolStatsFor(name string) (PoolStats, bool) {
	pools.mu.RLock()
	db, ok := pools.pools[name]
	pools.mu.RUnlock()
	if !ok {
		return PoolStats{}, false
	}
	return statsOf(db), true
}

// PoolHealthAll assesses every registered pool.
func PoolHealthAll() map[string]PoolHealth {
	pools.mu.RLock()
	defer pools.mu.RUnlock()

	out := make(map[string]PoolHealth, len(pools.pools))
	for name, db := range pools.pools {
		out[name] = AssessPool(statsOf(db))
	}
	return out
}
