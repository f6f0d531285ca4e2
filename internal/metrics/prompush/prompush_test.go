package prompush

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"hs2sf/internal/metrics"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		t.Fatalf("Counter.Write() error = %v", err)
	}
	if m.GetCounter() == nil {
		t.Fatalf("metric did not contain Counter value")
	}
	return m.GetCounter().GetValue()
}

func summaryCountSum(t *testing.T, v *prometheus.SummaryVec, labels ...string) (uint64, float64) {
	t.Helper()
	m := &dto.Metric{}
	metric, ok := v.WithLabelValues(labels...).(prometheus.Metric)
	if !ok {
		t.Fatalf("SummaryVec.WithLabelValues(...) does not implement prometheus.Metric")
	}
	if err := metric.Write(m); err != nil {
		t.Fatalf("Summary.Write() error = %v", err)
	}
	return m.GetSummary().GetSampleCount(), m.GetSummary().GetSampleSum()
}

func TestNewBackend(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		jobName     string
		gatewayURL  string
		wantErr     bool
		wantJobName string
	}{
		{name: "missing gateway URL", jobName: "x", wantErr: true},
		{name: "default job name", gatewayURL: "http://pushgateway:9091", wantJobName: "hs2sf"},
		{name: "explicit job name", jobName: "migration", gatewayURL: "http://pushgateway:9091", wantJobName: "migration"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			b, err := NewBackend(tt.jobName, tt.gatewayURL, "")
			if tt.wantErr {
				if err == nil || b != nil {
					t.Fatalf("NewBackend() = %v, %v; want error", b, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewBackend() error = %v", err)
			}
			if b.jobName != tt.wantJobName {
				t.Fatalf("jobName = %q, want %q", b.jobName, tt.wantJobName)
			}
		})
	}
}

func TestIncCounter(t *testing.T) {
	t.Parallel()

	b, err := NewBackend("hs2sf", "http://example.com", "")
	if err != nil {
		t.Fatalf("NewBackend() error = %v", err)
	}

	b.IncCounter(metrics.StepTotal, 1, metrics.Labels{"step": "download", "status": "success"})
	b.IncCounter(metrics.RowsTotal, 3, metrics.Labels{"output": "opportunities", "kind": "valid"})
	b.IncCounter(metrics.RowsTotal, 2, metrics.Labels{"output": "opportunities", "kind": "valid"})
	b.IncCounter(metrics.PagesTotal, 1, metrics.Labels{"object": "deals"})
	b.IncCounter(metrics.BytesTotal, 512, metrics.Labels{"object": "deals"})
	b.IncCounter("unknown_metric", 10, metrics.Labels{"foo": "bar"})

	if got := counterValue(t, b.stepCounter.WithLabelValues("download", "success")); got != 1 {
		t.Fatalf("step counter = %v, want 1", got)
	}
	if got := counterValue(t, b.rowCounter.WithLabelValues("opportunities", "valid")); got != 5 {
		t.Fatalf("row counter = %v, want 5", got)
	}
	if got := counterValue(t, b.pageCounter.WithLabelValues("deals")); got != 1 {
		t.Fatalf("page counter = %v, want 1", got)
	}
	if got := counterValue(t, b.byteCounter.WithLabelValues("deals")); got != 512 {
		t.Fatalf("byte counter = %v, want 512", got)
	}
}

func TestIncCounterNilCollectors(t *testing.T) {
	t.Parallel()

	b := &Backend{}
	b.IncCounter(metrics.StepTotal, 1, metrics.Labels{"step": "s", "status": "success"})
	b.IncCounter(metrics.RowsTotal, 1, metrics.Labels{"output": "o", "kind": "total"})
	b.IncCounter(metrics.PagesTotal, 1, nil)
	b.IncCounter(metrics.BytesTotal, 1, nil)
	b.ObserveHistogram(metrics.StepDuration, 1, nil)
}

func TestObserveHistogram(t *testing.T) {
	t.Parallel()

	b, err := NewBackend("hs2sf", "http://example.com", "")
	if err != nil {
		t.Fatalf("NewBackend() error = %v", err)
	}
	lbls := metrics.Labels{"step": "build", "status": "success"}
	b.ObserveHistogram(metrics.StepDuration, 1.5, lbls)
	b.ObserveHistogram("other_metric", 2, lbls)

	count, sum := summaryCountSum(t, b.stepDuration, "build", "success")
	if count != 1 || sum != 1.5 {
		t.Fatalf("summary count=%d sum=%v, want 1/1.5", count, sum)
	}
}

func TestFlush_GroupsByRunID(t *testing.T) {
	t.Parallel()

	paths := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if len(body) == 0 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		paths <- r.URL.Path
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	b, err := NewBackend("hs2sf", srv.URL, "0b5e")
	if err != nil {
		t.Fatalf("NewBackend() error = %v", err)
	}
	b.IncCounter(metrics.StepTotal, 1, metrics.Labels{"step": "download", "status": "success"})

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	select {
	case p := <-paths:
		if !strings.Contains(p, "/job/hs2sf") || !strings.Contains(p, "/run_id/0b5e") {
			t.Fatalf("push path = %q", p)
		}
	default:
		t.Fatalf("Flush() sent no request")
	}
}

func TestFlush_GatewayError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	b, err := NewBackend("hs2sf", srv.URL, "")
	if err != nil {
		t.Fatalf("NewBackend() error = %v", err)
	}
	if err := b.Flush(); err == nil {
		t.Fatalf("Flush() error = nil, want gateway error")
	}
}

func BenchmarkIncCounterRows(b *testing.B) {
	backend, err := NewBackend("hs2sf", "http://example.com", "")
	if err != nil {
		b.Fatalf("NewBackend() error = %v", err)
	}
	labels := metrics.Labels{"output": "accounts_contacts", "kind": "valid"}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		backend.IncCounter(metrics.RowsTotal, 1, labels)
	}
}
