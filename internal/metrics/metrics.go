package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry owns every metric exported for the monitored endpoint.
// It is built once at startup and passed to the components that record into it.
// All metrics carry the fixed labels rpc=<endpoint host> and geo=<region>.
type Registry struct {
	registry *prometheus.Registry

	RequestTotal   prometheus.Counter
	RequestLatency prometheus.Histogram
	RequestErrors  *prometheus.CounterVec
	BlockNumber    prometheus.Gauge

	BlocksProcessed     prometheus.Counter
	BlockFetchFailures  prometheus.Counter
	TransactionsFetched *prometheus.CounterVec
	BlockLag            prometheus.Gauge
}

// New creates the registry and registers all metrics under the fixed labels.
func New(rpcHost, geo string) *Registry {
	reg := prometheus.NewRegistry()
	labeled := prometheus.WrapRegistererWith(prometheus.Labels{
		"rpc": rpcHost,
		"geo": geo,
	}, reg)

	r := &Registry{
		registry: reg,
		RequestTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "request_total",
			Help: "Total number of requests made to RPC URL",
		}),
		RequestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "request_latency",
			Help:    "The time taken for RPC URL to respond",
			Buckets: prometheus.DefBuckets,
		}),
		RequestErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "request_errors",
				Help: "Total number of errors from RPC URL",
			},
			[]string{"code"},
		),
		BlockNumber: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "block_number",
			Help: "Block number",
		}),
		BlocksProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "blocks_processed_total",
			Help: "Total number of blocks fetched and processed",
		}),
		BlockFetchFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "block_fetch_failures_total",
			Help: "Total number of block heights skipped because the block could not be fetched",
		}),
		TransactionsFetched: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transactions_fetched_total",
				Help: "Total number of transaction lookups by outcome",
			},
			[]string{"status"},
		),
		BlockLag: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "block_lag_seconds",
			Help: "Wall-clock delay between the last processed block timestamp and the end of its processing",
		}),
	}

	labeled.MustRegister(
		r.RequestTotal,
		r.RequestLatency,
		r.RequestErrors,
		r.BlockNumber,
		r.BlocksProcessed,
		r.BlockFetchFailures,
		r.TransactionsFetched,
		r.BlockLag,
	)

	return r
}

// ObserveRequest records one completed logical request.
func (r *Registry) ObserveRequest(elapsed time.Duration) {
	r.RequestLatency.Observe(elapsed.Seconds())
	r.RequestTotal.Inc()
}

// RecordError increments the per-code error counter.
func (r *Registry) RecordError(label string) {
	r.RequestErrors.WithLabelValues(label).Inc()
}

// SetBlockNumber replaces the block height gauge.
func (r *Registry) SetBlockNumber(number uint64) {
	r.BlockNumber.Set(float64(number))
}

// Gatherer exposes the underlying registry for exposition and tests.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}

// Handler serves the registry in the Prometheus text exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{
		Timeout: 10 * time.Second,
	})
}
