// Package metrics exposes Prometheus instrumentation for the session core.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/you/abcauth/domain"
)

// Collector implements domain.MetricsRecorder on top of Prometheus
type Collector struct {
	transitions    *prometheus.CounterVec
	deepLinks      *prometheus.CounterVec
	profileEnsures *prometheus.CounterVec
	providerCalls  *prometheus.CounterVec
	providerTime   *prometheus.HistogramVec
}

// NewCollector creates the collector and registers it on reg
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "abcauth_phase_transitions_total",
			Help: "Applied auth phase transitions",
		}, []string{"from", "to"}),
		deepLinks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "abcauth_deep_links_total",
			Help: "Processed deep links by outcome",
		}, []string{"recognized", "success"}),
		profileEnsures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "abcauth_profile_ensure_total",
			Help: "Lazy profile creation attempts by result",
		}, []string{"result"}),
		providerCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "abcauth_provider_calls_total",
			Help: "Identity provider calls by operation and outcome",
		}, []string{"operation", "outcome"}),
		providerTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "abcauth_provider_call_seconds",
			Help:    "Identity provider call latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
	}

	reg.MustRegister(
		c.transitions,
		c.deepLinks,
		c.profileEnsures,
		c.providerCalls,
		c.providerTime,
	)

	return c
}

func (c *Collector) RecordTransition(from, to domain.PhaseKind) {
	c.transitions.WithLabelValues(from.String(), to.String()).Inc()
}

func (c *Collector) RecordDeepLink(outcome domain.DeepLinkOutcome) {
	c.deepLinks.WithLabelValues(
		strconv.FormatBool(outcome.RecognizedAsAuthLink),
		strconv.FormatBool(outcome.Success),
	).Inc()
}

func (c *Collector) RecordProfileEnsure(result string) {
	c.profileEnsures.WithLabelValues(result).Inc()
}

func (c *Collector) RecordProviderCall(operation string, err error, elapsed time.Duration) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	c.providerCalls.WithLabelValues(operation, outcome).Inc()
	c.providerTime.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// Handler returns the scrape handler for gatherer
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Noop discards every measurement
type Noop struct{}

func (Noop) RecordTransition(domain.PhaseKind, domain.PhaseKind)      {}
func (Noop) RecordDeepLink(domain.DeepLinkOutcome)                    {}
func (Noop) RecordProfileEnsure(string)                               {}
func (Noop) RecordProviderCall(string, error, time.Duration)          {}
