package qlock

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Acquisition paths reported in the "path" label.
const (
	pathFast      = "fast"      // granted on an empty queue
	pathReentrant = "reentrant" // nested acquisition by a holder
	pathRide      = "ride"      // joined a reader chain that already runs
	pathParked    = "parked"    // queued and woken by a release
)

// Metrics collects lock activity. It implements prometheus.Collector and
// may be shared by several locks; register it once.
//
// A nil *Metrics discards everything.
type Metrics struct {
	acquisitions *prometheus.CounterVec
	releases     *prometheus.CounterVec
	wakes        *prometheus.CounterVec
	chains       prometheus.Counter
	waitSeconds  *prometheus.HistogramVec
}

// NewMetrics creates the collectors under the given namespace.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		acquisitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "qlock_acquisitions_total",
			Help:      "Lock acquisitions by mode and acquisition path.",
		}, []string{"mode", "path"}),
		releases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "qlock_releases_total",
			Help:      "Lock releases by mode.",
		}, []string{"mode"}),
		wakes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "qlock_wakes_total",
			Help:      "Queue slots woken by wake propagation, by slot mode.",
		}, []string{"mode"}),
		chains: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "qlock_reader_chains_opened_total",
			Help:      "Reader chains appended to the wait queue.",
		}),
		waitSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "qlock_wait_seconds",
			Help:      "Time spent parked before the lock was granted.",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 12),
		}, []string{"mode"}),
	}
}

func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.acquisitions.Describe(ch)
	m.releases.Describe(ch)
	m.wakes.Describe(ch)
	m.chains.Describe(ch)
	m.waitSeconds.Describe(ch)
}

func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.acquisitions.Collect(ch)
	m.releases.Collect(ch)
	m.wakes.Collect(ch)
	m.chains.Collect(ch)
	m.waitSeconds.Collect(ch)
}

func (m *Metrics) acquired(mode Mode, path string) {
	if m == nil {
		return
	}
	m.acquisitions.WithLabelValues(mode.String(), path).Inc()
}

func (m *Metrics) released(mode Mode) {
	if m == nil {
		return
	}
	m.releases.WithLabelValues(mode.String()).Inc()
}

func (m *Metrics) woke(mode Mode) {
	if m == nil {
		return
	}
	m.wakes.WithLabelValues(mode.String()).Inc()
}

func (m *Metrics) chainOpened() {
	if m == nil {
		return
	}
	m.chains.Inc()
}

func (m *Metrics) waited(mode Mode, d time.Duration) {
	if m == nil {
		return
	}
	m.waitSeconds.WithLabelValues(mode.String()).Observe(d.Seconds())
}
