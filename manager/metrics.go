package manager

import (
	"sync"
	"time"
)

// ExpensiveSession identifies the costliest finished session so far.
type ExpensiveSession struct {
	ID   string
	Name string
	Cost float64
}

// MetricsSnapshot is a point-in-time copy of the aggregate metrics.
type MetricsSnapshot struct {
	TotalCost     float64
	CostByDate    map[string]float64
	ByStatus      map[string]int64
	DurationSum   time.Duration
	DurationCount int64
	Launches      int64
	MostExpensive *ExpensiveSession
}

// Metrics aggregates cumulative statistics over finished sessions. Each
// finished session contributes exactly once, at first persist.
type Metrics struct {
	mu            sync.Mutex
	totalCost     float64
	costByDate    map[string]float64 // key: completion date YYYY-MM-DD
	byStatus      map[string]int64
	durationSum   time.Duration
	durationCount int64
	launches      int64
	mostExpensive *ExpensiveSession
}

func newMetrics() *Metrics {
	return &Metrics{
		costByDate: make(map[string]float64),
		byStatus:   make(map[string]int64),
	}
}

func (m *Metrics) recordLaunch() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.launches++
}

func (m *Metrics) recordFinished(rec *PersistedRecord, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalCost += rec.Cost
	m.costByDate[rec.CompletedAt.Format("2006-01-02")] += rec.Cost
	m.byStatus[rec.Status.String()]++
	m.durationSum += duration
	m.durationCount++
	// Ties keep the first seen.
	if m.mostExpensive == nil || rec.Cost > m.mostExpensive.Cost {
		m.mostExpensive = &ExpensiveSession{ID: rec.ID, Name: rec.Name, Cost: rec.Cost}
	}
}

// Snapshot returns a deep copy safe for external use.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := MetricsSnapshot{
		TotalCost:     m.totalCost,
		CostByDate:    make(map[string]float64, len(m.costByDate)),
		ByStatus:      make(map[string]int64, len(m.byStatus)),
		DurationSum:   m.durationSum,
		DurationCount: m.durationCount,
		Launches:      m.launches,
	}
	for k, v := range m.costByDate {
		snap.CostByDate[k] = v
	}
	for k, v := range m.byStatus {
		snap.ByStatus[k] = v
	}
	if m.mostExpensive != nil {
		top := *m.mostExpensive
		snap.MostExpensive = &top
	}
	return snap
}
