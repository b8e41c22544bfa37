package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for a scan process.
type Metrics struct {
	Registry       *prometheus.Registry
	ItemsTotal     *prometheus.CounterVec
	MatchesTotal   prometheus.Counter
	PagesTotal     prometheus.Counter
	DetailWait     prometheus.Histogram
	SessionsTotal  *prometheus.CounterVec
	SessionRunning prometheus.Gauge
}

// New constructs and registers all metrics on a dedicated registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	items := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scanner_items_total",
			Help: "Listing items visited, by outcome.",
		},
		[]string{"outcome"},
	)
	matches := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scanner_matches_total",
			Help: "Items whose detail text matched the filter.",
		},
	)
	pages := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scanner_pages_total",
			Help: "Listing pages started.",
		},
	)
	detailWait := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scanner_detail_wait_seconds",
			Help:    "Time spent waiting for item detail content.",
			Buckets: []float64{0.25, 0.5, 1, 2, 3, 5, 8, 13},
		},
	)
	sessions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scanner_sessions_total",
			Help: "Finished scan sessions, by stop reason.",
		},
		[]string{"reason"},
	)
	running := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "scanner_session_running",
			Help: "1 while a scan session is running.",
		},
	)

	registry.MustRegister(items, matches, pages, detailWait, sessions, running)

	return &Metrics{
		Registry:       registry,
		ItemsTotal:     items,
		MatchesTotal:   matches,
		PagesTotal:     pages,
		DetailWait:     detailWait,
		SessionsTotal:  sessions,
		SessionRunning: running,
	}
}

// IncItem counts a visited item; outcome is "scanned" or "skipped".
func (m *Metrics) IncItem(outcome string) {
	if m == nil {
		return
	}
	m.ItemsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncMatch() {
	if m == nil {
		return
	}
	m.MatchesTotal.Inc()
}

func (m *Metrics) IncPage() {
	if m == nil {
		return
	}
	m.PagesTotal.Inc()
}

// ObserveDetailWait records how long a detail pane took to settle.
func (m *Metrics) ObserveDetailWait(d time.Duration) {
	if m == nil {
		return
	}
	m.DetailWait.Observe(d.Seconds())
}

// SessionStarted flips the running gauge on.
func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.SessionRunning.Set(1)
}

// SessionEnded counts the session under its stop reason.
func (m *Metrics) SessionEnded(reason string) {
	if m == nil {
		return
	}
	m.SessionRunning.Set(0)
	m.SessionsTotal.WithLabelValues(reason).Inc()
}
