// Package metrics holds the Prometheus instruments of the relay.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "push_relay"

// Dispatch kinds and outcome labels.
const (
	KindSingle    = "single"
	KindMulticast = "multicast"

	StatusSuccess = "success"
	StatusError   = "error"
	StatusSkipped = "skipped"
)

// Metrics groups the relay's counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	dispatchTotal  *prometheus.CounterVec
	dispatchTokens prometheus.Counter
	storeQueries   *prometheus.CounterVec
	resolvedTokens prometheus.Histogram
}

// New creates the instruments and registers them on reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		dispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_total",
			Help:      "Push provider dispatches by kind and outcome",
		}, []string{"kind", "status"}),
		dispatchTokens: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_tokens_total",
			Help:      "Destination tokens handed to the push provider",
		}),
		storeQueries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_queries_total",
			Help:      "Data store queries by relation and outcome",
		}, []string{"relation", "status"}),
		resolvedTokens: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "resolved_tokens",
			Help:      "Destination tokens produced per group resolve",
			Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100, 250, 500},
		}),
	}

	collectors := []prometheus.Collector{m.dispatchTotal, m.dispatchTokens, m.storeQueries, m.resolvedTokens}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register relay metrics: %w", err)
		}
	}
	return m, nil
}

// ObserveDispatch records one provider dispatch and the number of tokens it targeted.
func (m *Metrics) ObserveDispatch(kind, status string, tokens int) {
	if m == nil {
		return
	}
	m.dispatchTotal.WithLabelValues(kind, status).Inc()
	if status != StatusSkipped {
		m.dispatchTokens.Add(float64(tokens))
	}
}

// ObserveQuery records the outcome of one data store query.
func (m *Metrics) ObserveQuery(relation string, err error) {
	if m == nil {
		return
	}
	status := StatusSuccess
	if err != nil {
		status = StatusError
	}
	m.storeQueries.WithLabelValues(relation, status).Inc()
}

// ObserveResolve records the size of a resolved token set.
func (m *Metrics) ObserveResolve(tokens int) {
	if m == nil {
		return
	}
	m.resolvedTokens.Observe(float64(tokens))
}
