// Package metrics provides Prometheus metrics for the proxy.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/version"
)

const namespace = "rog"

// Metrics contains all Prometheus metrics for the proxy.
type Metrics struct {
	// Relay metrics
	RelaysActive prometheus.Gauge
	RelaysTotal  prometheus.Counter
	RelayErrors  *prometheus.CounterVec
	BytesRelayed *prometheus.CounterVec

	// Block manager backpressure metrics
	BlockAdmitted prometheus.Gauge
	BlockLimit    prometheus.Gauge

	// Router metrics
	RouteRuleHits  *prometheus.CounterVec
	RouteDefaults  *prometheus.CounterVec
	RouteMisses    *prometheus.CounterVec

	// Connector metrics
	ConnectorConnects *prometheus.CounterVec
	ConnectorErrors   *prometheus.CounterVec

	// DNS cache metrics
	DNSCacheHits   prometheus.Counter
	DNSCacheMisses prometheus.Counter

	// Listener metrics
	ListenerAccepted *prometheus.CounterVec
	ListenerActive   *prometheus.GaugeVec
}

var (
	defaultMetrics *Metrics
	metricsOnce    sync.Once
)

// Default returns the process-wide default metrics instance, registered
// against the global Prometheus registerer.
func Default() *Metrics {
	metricsOnce.Do(func() {
		defaultMetrics = NewMetrics()
	})
	return defaultMetrics
}

// NewMetrics registers a fresh Metrics instance against the default
// registerer.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry registers a Metrics instance against reg,
// allowing tests to use an isolated registry.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	reg.MustRegister(version.NewCollector(namespace))

	return &Metrics{
		RelaysActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "relays_active",
			Help:      "Number of currently active TCP/UDP relays",
		}),
		RelaysTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relays_total",
			Help:      "Total number of relays started",
		}),
		RelayErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_errors_total",
			Help:      "Total relay errors by mode",
		}, []string{"mode"}),
		BytesRelayed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_relayed_total",
			Help:      "Total bytes relayed by direction",
		}, []string{"direction"}),

		BlockAdmitted: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "block_manager_admitted",
			Help:      "Current number of admitted data blocks",
		}),
		BlockLimit: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "block_manager_limit",
			Help:      "Configured block manager admission limit",
		}),

		RouteRuleHits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "router_rule_hits_total",
			Help:      "Total route decisions matched by a named rule",
		}, []string{"router", "rule"}),
		RouteDefaults: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "router_default_hits_total",
			Help:      "Total route decisions that fell through to the default connector",
		}, []string{"router"}),
		RouteMisses: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "router_misses_total",
			Help:      "Total route decisions whose selected connector did not exist",
		}, []string{"router"}),

		ConnectorConnects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connector_connects_total",
			Help:      "Total successful egress connects by connector",
		}, []string{"connector"}),
		ConnectorErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connector_errors_total",
			Help:      "Total egress connect errors by connector",
		}, []string{"connector"}),

		DNSCacheHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dns_cache_hits_total",
			Help:      "Total resolver cache hits",
		}),
		DNSCacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dns_cache_misses_total",
			Help:      "Total resolver cache misses",
		}),

		ListenerAccepted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "listener_accepted_total",
			Help:      "Total accepted connections by listener",
		}, []string{"listener"}),
		ListenerActive: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "listener_active",
			Help:      "Currently active connections by listener",
		}, []string{"listener"}),
	}
}

// Handler returns the standard Prometheus scrape handler for the default
// registry, mounted on the management listener's `/metrics` route.
func Handler() http.Handler {
	return promhttp.Handler()
}
