// Package observer implements the read-only observer API: a JSON
// introspection surface over the Interface Table plus the Prometheus
// metrics querier.Metrics feeds.
package observer

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsMux returns a mux serving GET /metrics via promhttp.Handler.
func MetricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// PromMetrics implements querier.Metrics with Prometheus counters/gauges:
// querierd_groups, querierd_queries_sent_total, querierd_elections_total,
// querierd_decode_errors_total.
type PromMetrics struct {
	groups       *prometheus.GaugeVec
	queriesSent  prometheus.Counter
	elections    prometheus.Counter
	decodeErrors prometheus.Counter
}

// NewPromMetrics registers the querierd_* metrics against the default
// Prometheus registry.
func NewPromMetrics() *PromMetrics {
	return &PromMetrics{
		groups: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "querierd_groups",
			Help: "Number of multicast groups with active membership, per interface.",
		}, []string{"ifindex"}),
		queriesSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "querierd_queries_sent_total",
			Help: "Total general and group-specific queries sent.",
		}),
		elections: promauto.NewCounter(prometheus.CounterOpts{
			Name: "querierd_elections_total",
			Help: "Total times a lower-addressed remote querier was adopted as querier on an interface.",
		}),
		decodeErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "querierd_decode_errors_total",
			Help: "Total malformed IPv4/IGMP packets dropped at decode.",
		}),
	}
}

func (m *PromMetrics) IncQueriesSent()  { m.queriesSent.Inc() }
func (m *PromMetrics) IncElections()    { m.elections.Inc() }
func (m *PromMetrics) IncDecodeErrors() { m.decodeErrors.Inc() }

// SetGroupCount records the current group count for an interface, labeled
// by its ifindex so the value matches what /ifaces reports as "index".
func (m *PromMetrics) SetGroupCount(ifindex int, n int) {
	m.groups.WithLabelValues(strconv.Itoa(ifindex)).Set(float64(n))
}
