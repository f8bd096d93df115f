// Package metrics exposes scanner counters and timings to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hakim/scriptwatch/internal/models"
)

// Collector owns a private registry.
type Collector struct {
	registry *prometheus.Registry

	resultsTotal     *prometheus.CounterVec
	escalationsTotal *prometheus.CounterVec
	restartsTotal    *prometheus.CounterVec
	probeSeconds     prometheus.Histogram
	verifySeconds    prometheus.Histogram
	quarantined      prometheus.Gauge
}

// New creates and registers all collectors.
func New() *Collector {
	c := &Collector{registry: prometheus.NewRegistry()}

	c.resultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scriptwatch_results_total",
			Help: "Verification results emitted, by status and tier",
		},
		[]string{"status", "method"},
	)
	c.escalationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scriptwatch_probe_escalations_total",
			Help: "Quick probes that deferred to the browser, by reason",
		},
		[]string{"reason"},
	)
	c.restartsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scriptwatch_browser_restarts_total",
			Help: "Browser session restarts, by reason",
		},
		[]string{"reason"},
	)
	c.probeSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "scriptwatch_probe_duration_seconds",
		Help:    "Quick probe wall time",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	})
	c.verifySeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "scriptwatch_verify_duration_seconds",
		Help:    "Browser verification wall time",
		Buckets: []float64{1, 5, 10, 20, 30, 45, 60, 90},
	})
	c.quarantined = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "scriptwatch_quarantined_domains",
		Help: "Domains currently quarantined as unverifiable",
	})

	c.registry.MustRegister(
		c.resultsTotal,
		c.escalationsTotal,
		c.restartsTotal,
		c.probeSeconds,
		c.verifySeconds,
		c.quarantined,
	)
	return c
}

// Handler serves the registry in the exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

func (c *Collector) ObserveResult(r models.ScanResult) {
	c.resultsTotal.WithLabelValues(string(r.Status), string(r.Method)).Inc()
}

func (c *Collector) ObserveProbe(d time.Duration, escalation string) {
	c.probeSeconds.Observe(d.Seconds())
	if escalation != "" {
		c.escalationsTotal.WithLabelValues(escalation).Inc()
	}
}

func (c *Collector) ObserveVerify(d time.Duration) {
	c.verifySeconds.Observe(d.Seconds())
}

func (c *Collector) ObserveRestart(reason string) {
	c.restartsTotal.WithLabelValues(reason).Inc()
}

func (c *Collector) SetQuarantined(n int) {
	c.quarantined.Set(float64(n))
}
