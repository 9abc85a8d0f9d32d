package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "rollcall"

// Collector is a prometheus.Collector exposing the counter Registry plus
// the roster reload latency histogram.
type Collector struct {
	registry      *Registry
	reloadSeconds prometheus.Histogram
}

// NewCollector returns a Collector backed by reg.
func NewCollector(reg *Registry) *Collector {
	return &Collector{
		registry: reg,
		reloadSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "roster_reload_seconds",
				Help:      "Time taken to load the roster from the upstream source, retries included.",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 60},
			},
		),
	}
}

// ObserveReload records the duration of one roster reload.
func (c *Collector) ObserveReload(d time.Duration) {
	c.reloadSeconds.Observe(d.Seconds())
}

// Describe is part of the prometheus.Collector interface.
// Registry keys are created lazily, so nothing is described up front and
// the collector registers as unchecked.
func (c *Collector) Describe(chan<- *prometheus.Desc) {}

// Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.reloadSeconds.Collect(ch)
	for key, value := range c.registry.Snapshot() {
		desc := prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "", key),
			"rollcall "+strings.ReplaceAll(key, "_", " ")+".",
			nil, nil,
		)
		ch <- prometheus.MustNewConstMetric(desc, valueType(key), float64(value))
	}
}

func valueType(key string) prometheus.ValueType {
	if strings.HasSuffix(key, "_total") {
		return prometheus.CounterValue
	}
	return prometheus.GaugeValue
}
