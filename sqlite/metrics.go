package sqlite

import "github.com/prometheus/client_golang/prometheus"

// Collector exposes the worker's shared counters as prometheus gauges, for
// pool-level introspection dashboards.
type Collector struct {
	shared *SharedState

	depthDesc *prometheus.Desc
	cacheDesc *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector builds a collector over the connection's shared state. The
// connection label distinguishes workers when several are registered.
func NewCollector(shared *SharedState, connection string) *Collector {
	labels := prometheus.Labels{"connection": connection}
	return &Collector{
		shared: shared,
		depthDesc: prometheus.NewDesc(
			"sqlbridge_sqlite_transaction_depth",
			"Number of open transaction scopes on the connection.",
			nil, labels,
		),
		cacheDesc: prometheus.NewDesc(
			"sqlbridge_sqlite_cached_statements",
			"Number of cached prepared statements on the connection.",
			nil, labels,
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.depthDesc
	ch <- c.cacheDesc
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(
		c.depthDesc, prometheus.GaugeValue, float64(c.shared.TransactionDepth()))
	ch <- prometheus.MustNewConstMetric(
		c.cacheDesc, prometheus.GaugeValue, float64(c.shared.CachedStatementsSize()))
}
