package tally

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "quest_tally"

// Metrics tracks tally run performance
type Metrics struct {
	runsStarted    int64
	runsCompleted  int64
	runsCancelled  int64
	runsFailed     int64
	forcedPosts    int64
	averageLatency time.Duration
	lastUpdate     time.Time
	mu             sync.RWMutex

	runsDesc    *prometheus.Desc
	forcedDesc  *prometheus.Desc
	latencyDesc *prometheus.Desc
}

// Stats is a point-in-time copy of Metrics
type Stats struct {
	RunsStarted    int64
	RunsCompleted  int64
	RunsCancelled  int64
	RunsFailed     int64
	ForcedPosts    int64
	AverageLatency time.Duration
	LastUpdate     time.Time
}

// NewMetrics creates a new Metrics instance
func NewMetrics() *Metrics {
	return &Metrics{
		runsDesc: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "", "runs_total"),
			"Total number of tally runs, by outcome.",
			[]string{"outcome"}, nil),
		forcedDesc: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "", "forced_posts_total"),
			"Total number of posts finalized by the forced resolution pass.",
			nil, nil),
		latencyDesc: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "", "run_latency_seconds"),
			"Exponentially weighted average tally run latency.",
			nil, nil),
	}
}

// IncrementRunsStarted increments the runsStarted counter
func (m *Metrics) IncrementRunsStarted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runsStarted++
	m.lastUpdate = time.Now()
}

// IncrementRunsCompleted increments the runsCompleted counter
func (m *Metrics) IncrementRunsCompleted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runsCompleted++
	m.lastUpdate = time.Now()
}

// IncrementRunsCancelled increments the runsCancelled counter
func (m *Metrics) IncrementRunsCancelled() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runsCancelled++
	m.lastUpdate = time.Now()
}

// IncrementRunsFailed increments the runsFailed counter
func (m *Metrics) IncrementRunsFailed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runsFailed++
	m.lastUpdate = time.Now()
}

// AddForcedPosts adds to the forced post counter
func (m *Metrics) AddForcedPosts(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.forcedPosts += int64(n)
	m.lastUpdate = time.Now()
}

// UpdateAverageLatency updates the average latency
func (m *Metrics) UpdateAverageLatency(latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	alpha := 0.1
	if m.averageLatency == 0 {
		m.averageLatency = latency
	} else {
		m.averageLatency = time.Duration(float64(m.averageLatency)*(1-alpha) + float64(latency)*alpha)
	}
	m.lastUpdate = time.Now()
}

// GetStats returns the current statistics
func (m *Metrics) GetStats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return Stats{
		RunsStarted:    m.runsStarted,
		RunsCompleted:  m.runsCompleted,
		RunsCancelled:  m.runsCancelled,
		RunsFailed:     m.runsFailed,
		ForcedPosts:    m.forcedPosts,
		AverageLatency: m.averageLatency,
		LastUpdate:     m.lastUpdate,
	}
}

// Describe implements prometheus.Collector
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	ch <- m.runsDesc
	ch <- m.forcedDesc
	ch <- m.latencyDesc
}

// Collect implements prometheus.Collector
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	s := m.GetStats()
	ch <- prometheus.MustNewConstMetric(m.runsDesc, prometheus.CounterValue, float64(s.RunsStarted), "started")
	ch <- prometheus.MustNewConstMetric(m.runsDesc, prometheus.CounterValue, float64(s.RunsCompleted), "completed")
	ch <- prometheus.MustNewConstMetric(m.runsDesc, prometheus.CounterValue, float64(s.RunsCancelled), "cancelled")
	ch <- prometheus.MustNewConstMetric(m.runsDesc, prometheus.CounterValue, float64(s.RunsFailed), "failed")
	ch <- prometheus.MustNewConstMetric(m.forcedDesc, prometheus.CounterValue, float64(s.ForcedPosts))
	ch <- prometheus.MustNewConstMetric(m.latencyDesc, prometheus.GaugeValue, s.AverageLatency.Seconds())
}
