package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the policy core's Prometheus collectors. A nil *Collector
// is valid and records nothing, so components can run without metrics.
type Collector struct {
	gatherer prometheus.Gatherer

	authzRejections     *prometheus.CounterVec
	rateLimitRejections prometheus.Counter
	lockouts            prometheus.Counter
	notifications       *prometheus.CounterVec
	classifications     *prometheus.CounterVec
	archivalRuns        *prometheus.CounterVec
	archivedReports     prometheus.Counter
	archivalDuration    prometheus.Histogram
}

// NewCollector registers every collector on reg. Use prometheus.NewRegistry()
// in tests to keep registrations isolated.
func NewCollector(reg *prometheus.Registry) *Collector {
	f := promauto.With(reg)
	return &Collector{
		gatherer: reg,

		authzRejections: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "policy_core_authz_rejections_total",
				Help: "Authorization rejections by reason",
			},
			[]string{"tier", "reason"},
		),
		rateLimitRejections: f.NewCounter(
			prometheus.CounterOpts{
				Name: "policy_core_rate_limit_rejections_total",
				Help: "Requests rejected by the rate limiter",
			},
		),
		lockouts: f.NewCounter(
			prometheus.CounterOpts{
				Name: "policy_core_account_lockouts_total",
				Help: "Identities transitioned to locked",
			},
		),
		notifications: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "policy_core_notifications_total",
				Help: "Notifications by type and gate outcome",
			},
			[]string{"type", "outcome"},
		),
		classifications: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "policy_core_classifications_total",
				Help: "Report classifications by resulting severity",
			},
			[]string{"severity"},
		),
		archivalRuns: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "policy_core_archival_runs_total",
				Help: "Archival runs by outcome",
			},
			[]string{"outcome"},
		),
		archivedReports: f.NewCounter(
			prometheus.CounterOpts{
				Name: "policy_core_archived_reports_total",
				Help: "Reports moved into the archive",
			},
		),
		archivalDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "policy_core_archival_duration_seconds",
				Help:    "Archival run duration in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 600},
			},
		),
	}
}

func (c *Collector) AuthzRejected(tier, reason string) {
	if c == nil {
		return
	}
	c.authzRejections.WithLabelValues(tier, reason).Inc()
}

func (c *Collector) RateLimited() {
	if c == nil {
		return
	}
	c.rateLimitRejections.Inc()
}

func (c *Collector) AccountLocked() {
	if c == nil {
		return
	}
	c.lockouts.Inc()
}

// Notification records whether a notification of type t passed the gate.
func (c *Collector) Notification(t string, delivered bool) {
	if c == nil {
		return
	}
	outcome := "suppressed"
	if delivered {
		outcome = "delivered"
	}
	c.notifications.WithLabelValues(t, outcome).Inc()
}

func (c *Collector) Classified(severity string) {
	if c == nil {
		return
	}
	c.classifications.WithLabelValues(severity).Inc()
}

// ArchivalRun records one run. outcome is "archived", "noop", "overlap" or
// "failed".
func (c *Collector) ArchivalRun(outcome string, archived int, seconds float64) {
	if c == nil {
		return
	}
	c.archivalRuns.WithLabelValues(outcome).Inc()
	c.archivedReports.Add(float64(archived))
	c.archivalDuration.Observe(seconds)
}

// Handler serves the collectors registered on this Collector's registry.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}
