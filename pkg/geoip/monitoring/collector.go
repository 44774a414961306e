package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/CVDpl/go-live-geoip/pkg/geoip"
)

// StatsSource is implemented by *geoip.Reader.
type StatsSource interface {
	Stats() geoip.Stats
}

// Collector exports reader statistics as Prometheus metrics.
type Collector struct {
	source StatsSource

	lookups      *prometheus.Desc
	decodeErrors *prometheus.Desc
	cache        *prometheus.Desc
	latency      *prometheus.Desc
}

// NewCollector creates a collector reading from source. constLabels, for
// example {"database": "city"}, are attached to every metric.
func NewCollector(source StatsSource, constLabels prometheus.Labels) *Collector {
	return &Collector{
		source: source,
		lookups: prometheus.NewDesc("geoip_lookups_total",
			"Tree lookups by outcome.", []string{"result"}, constLabels),
		decodeErrors: prometheus.NewDesc("geoip_decode_errors_total",
			"Failed value decodes.", nil, constLabels),
		cache: prometheus.NewDesc("geoip_record_cache_requests_total",
			"Record cache probes by outcome.", []string{"result"}, constLabels),
		latency: prometheus.NewDesc("geoip_lookup_latency_seconds",
			"Recent lookup latency quantiles.", []string{"quantile"}, constLabels),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.lookups
	ch <- c.decodeErrors
	ch <- c.cache
	ch <- c.latency
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.source.Stats()

	ch <- prometheus.MustNewConstMetric(c.lookups, prometheus.CounterValue, float64(s.Matches), "match")
	ch <- prometheus.MustNewConstMetric(c.lookups, prometheus.CounterValue, float64(s.Misses), "miss")
	ch <- prometheus.MustNewConstMetric(c.lookups, prometheus.CounterValue, float64(s.LookupErrors), "error")
	ch <- prometheus.MustNewConstMetric(c.decodeErrors, prometheus.CounterValue, float64(s.DecodeErrors))
	ch <- prometheus.MustNewConstMetric(c.cache, prometheus.CounterValue, float64(s.CacheHits), "hit")
	ch <- prometheus.MustNewConstMetric(c.cache, prometheus.CounterValue, float64(s.CacheMisses), "miss")
	ch <- prometheus.MustNewConstMetric(c.latency, prometheus.GaugeValue, s.LatencyP50.Seconds(), "0.5")
	ch <- prometheus.MustNewConstMetric(c.latency, prometheus.GaugeValue, s.LatencyP95.Seconds(), "0.95")
	ch <- prometheus.MustNewConstMetric(c.latency, prometheus.GaugeValue, s.LatencyP99.Seconds(), "0.99")
}
