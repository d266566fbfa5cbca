package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus implements Metrics, adapted from alya's PrometheusMetrics.
// Unlike alya's version (which registers into the global default registry
// via prometheus.MustRegister), this one owns a private *prometheus.Registry
// so cmd/api and cmd/worker can each construct one without colliding on
// metric names registered twice in the same process during tests.
type Prometheus struct {
	registry      *prometheus.Registry
	counters      map[string]prometheus.Counter
	counterVecs   map[string]*prometheus.CounterVec
	gauges        map[string]prometheus.Gauge
	gaugeVecs     map[string]*prometheus.GaugeVec
	histograms    map[string]prometheus.Histogram
	histogramVecs map[string]*prometheus.HistogramVec
}

func NewPrometheus() *Prometheus {
	return &Prometheus{
		registry:      prometheus.NewRegistry(),
		counters:      make(map[string]prometheus.Counter),
		counterVecs:   make(map[string]*prometheus.CounterVec),
		gauges:        make(map[string]prometheus.Gauge),
		gaugeVecs:     make(map[string]*prometheus.GaugeVec),
		histograms:    make(map[string]prometheus.Histogram),
		histogramVecs: make(map[string]*prometheus.HistogramVec),
	}
}

func (p *Prometheus) Register(name, metricType, help string) {
	switch metricType {
	case "Counter":
		c := prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: help})
		p.registry.MustRegister(c)
		p.counters[name] = c
	case "Gauge":
		g := prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: help})
		p.registry.MustRegister(g)
		p.gauges[name] = g
	case "Histogram":
		h := prometheus.NewHistogram(prometheus.HistogramOpts{Name: name, Help: help, Buckets: prometheus.DefBuckets})
		p.registry.MustRegister(h)
		p.histograms[name] = h
	}
}

func (p *Prometheus) Record(name string, value float64) {
	if c, ok := p.counters[name]; ok {
		c.Add(value)
		return
	}
	if g, ok := p.gauges[name]; ok {
		g.Set(value)
		return
	}
	if h, ok := p.histograms[name]; ok {
		h.Observe(value)
	}
}

func (p *Prometheus) RegisterWithLabels(name, metricType, help string, labels []string) {
	switch metricType {
	case "Counter":
		v := prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, labels)
		p.registry.MustRegister(v)
		p.counterVecs[name] = v
	case "Gauge":
		v := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: help}, labels)
		p.registry.MustRegister(v)
		p.gaugeVecs[name] = v
	case "Histogram":
		v := prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: name, Help: help, Buckets: prometheus.DefBuckets}, labels)
		p.registry.MustRegister(v)
		p.histogramVecs[name] = v
	}
}

func (p *Prometheus) RecordWithLabels(name string, value float64, labelValues ...string) {
	if v, ok := p.counterVecs[name]; ok {
		v.WithLabelValues(labelValues...).Add(value)
		return
	}
	if v, ok := p.gaugeVecs[name]; ok {
		v.WithLabelValues(labelValues...).Set(value)
		return
	}
	if v, ok := p.histogramVecs[name]; ok {
		v.WithLabelValues(labelValues...).Observe(value)
	}
}

// Handler returns the HTTP handler to mount at /metrics.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
