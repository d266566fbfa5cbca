// Package metrics provides an abstract interface for recording metrics,
// adapted from alya's metrics package (same Register/Record/*WithLabels
// shape) so RateGate, Worker and JobQueue can be instrumented without
// depending on Prometheus directly.
package metrics

type Metrics interface {
	Register(name, metricType, help string)
	Record(name string, value float64)
	RegisterWithLabels(name, metricType, help string, labels []string)
	RecordWithLabels(name string, value float64, labelValues ...string)
}

// Noop discards every call; used where a caller has no Metrics configured.
type Noop struct{}

func (Noop) Register(string, string, string)                     {}
func (Noop) Record(string, float64)                               {}
func (Noop) RegisterWithLabels(string, string, string, []string)  {}
func (Noop) RecordWithLabels(string, float64, ...string)          {}
