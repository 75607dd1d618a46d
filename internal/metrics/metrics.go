// Package metrics defines and registers the Prometheus collectors Trident
// exposes on its /metrics endpoint, following the same
// struct-of-collectors-plus-init pattern the teacher uses for its admin
// API metrics.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "trident"
)

// Collectors is the full set of metrics Trident updates while running.
// Construct exactly one with New and share it across the pool, forwarder
// and health monitor.
type Collectors struct {
	PoolSize        *prometheus.GaugeVec
	UpstreamLatency *prometheus.GaugeVec
	RequestsTotal   *prometheus.CounterVec
	HealthSweeps    *prometheus.CounterVec
	RetriesTotal    prometheus.Counter
}

// New registers a fresh set of collectors against reg. Call it exactly
// once per process; cmd/trident passes a fresh prometheus.NewRegistry().
func New(reg prometheus.Registerer) *Collectors {
	factory := promauto.With(reg)

	return &Collectors{
		PoolSize: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_size",
			Help:      "Number of upstreams currently in each list.",
		}, []string{"list"}),

		UpstreamLatency: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "upstream_latency_ns",
			Help:      "Moving-average latency of each active upstream, in nanoseconds.",
		}, []string{"upstream"}),

		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Counter of forwarded requests by upstream and response code.",
		}, []string{"upstream", "code"}),

		HealthSweeps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "health_sweep_total",
			Help:      "Counter of health monitor sweeps by result.",
		}, []string{"result"}),

		RetriesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Counter of forwarder retries across all requests.",
		}),
	}
}

// SanitizeCode renders a response status as its decimal label value,
// unchanged.
func SanitizeCode(code int) string {
	return strconv.Itoa(code)
}

// ObserveSweep increments the health-sweep counter for either outcome.
func (c *Collectors) ObserveSweep(ok bool) {
	if ok {
		c.HealthSweeps.WithLabelValues("ok").Inc()
	} else {
		c.HealthSweeps.WithLabelValues("error").Inc()
	}
}
