// Package prompush pushes migration metrics to a Prometheus Pushgateway.
//
// A migration is a short-lived batch process, so metrics are collected in a
// private registry and pushed once at the end of the run, grouped by job and
// run id.
package prompush

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"hs2sf/internal/metrics"
)

// Backend is a Prometheus Pushgateway metrics backend.
type Backend struct {
	gatewayURL string
	jobName    string
	runID      string
	reg        *prometheus.Registry

	stepCounter  *prometheus.CounterVec
	stepDuration *prometheus.SummaryVec
	rowCounter   *prometheus.CounterVec
	pageCounter  *prometheus.CounterVec
	byteCounter  *prometheus.CounterVec
}

// NewBackend builds a backend pushing to gatewayURL under jobName. runID,
// when set, becomes an extra grouping key so runs do not overwrite each
// other.
func NewBackend(jobName, gatewayURL, runID string) (*Backend, error) {
	if gatewayURL == "" {
		return nil, fmt.Errorf("prompush: gateway URL is required")
	}
	if jobName == "" {
		jobName = "hs2sf"
	}

	b := &Backend{
		gatewayURL: gatewayURL,
		jobName:    jobName,
		runID:      runID,
		reg:        prometheus.NewRegistry(),
		stepCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.StepTotal,
			Help: "Migration step executions by step and status.",
		}, []string{"step", "status"}),
		stepDuration: prometheus.NewSummaryVec(prometheus.SummaryOpts{
			Name:       metrics.StepDuration,
			Help:       "Duration of migration steps in seconds.",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		}, []string{"step", "status"}),
		rowCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.RowsTotal,
			Help: "Rows written per output file and kind (total, valid, error).",
		}, []string{"output", "kind"}),
		pageCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.PagesTotal,
			Help: "HubSpot pages downloaded per object type.",
		}, []string{"object"}),
		byteCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.BytesTotal,
			Help: "HubSpot response bytes per object type.",
		}, []string{"object"}),
	}

	for name, c := range map[string]prometheus.Collector{
		"step counter": b.stepCounter,
		"step summary": b.stepDuration,
		"row counter":  b.rowCounter,
		"page counter": b.pageCounter,
		"byte counter": b.byteCounter,
	} {
		if err := b.reg.Register(c); err != nil {
			return nil, fmt.Errorf("prompush: register %s: %w", name, err)
		}
	}
	return b, nil
}

func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	switch name {
	case metrics.StepTotal:
		if b.stepCounter != nil {
			b.stepCounter.WithLabelValues(labels["step"], labels["status"]).Add(delta)
		}
	case metrics.RowsTotal:
		if b.rowCounter != nil {
			b.rowCounter.WithLabelValues(labels["output"], labels["kind"]).Add(delta)
		}
	case metrics.PagesTotal:
		if b.pageCounter != nil {
			b.pageCounter.WithLabelValues(labels["object"]).Add(delta)
		}
	case metrics.BytesTotal:
		if b.byteCounter != nil {
			b.byteCounter.WithLabelValues(labels["object"]).Add(delta)
		}
	}
}

func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if name != metrics.StepDuration || b.stepDuration == nil {
		return
	}
	b.stepDuration.WithLabelValues(labels["step"], labels["status"]).Observe(value)
}

// Flush pushes the registry to the Pushgateway.
func (b *Backend) Flush() error {
	p := push.New(b.gatewayURL, b.jobName).Gatherer(b.reg)
	if b.runID != "" {
		p = p.Grouping("run_id", b.runID)
	}
	if err := p.Push(); err != nil {
		return fmt.Errorf("prompush: push: %w", err)
	}
	return nil
}
