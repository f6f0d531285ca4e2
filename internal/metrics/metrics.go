// Package metrics records migration metrics through a pluggable backend.
//
// The default backend is a no-op, so the helpers are always safe to call.
// Concrete systems live in subpackages (prompush, datadog) and are installed
// once at start-up with SetBackend.
package metrics

import (
	"sync"
	"time"
)

// Metric names shared by all backends.
const (
	StepTotal    = "hs2sf_step_total"
	StepDuration = "hs2sf_step_duration_seconds"
	RowsTotal    = "hs2sf_rows_total"
	PagesTotal   = "hs2sf_pages_total"
	BytesTotal   = "hs2sf_bytes_total"
)

// Labels are string key/value pairs attached to a metric.
type Labels map[string]string

// Backend is the minimal interface for metrics backends.
type Backend interface {
	// IncCounter increments a counter by delta.
	IncCounter(name string, delta float64, labels Labels)
	// ObserveHistogram records a duration style value.
	ObserveHistogram(name string, value float64, labels Labels)
	// Flush pushes buffered metrics, if the backend needs it.
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(name string, delta float64, labels Labels)       {}
func (nopBackend) ObserveHistogram(name string, value float64, labels Labels) {}
func (nopBackend) Flush() error                                               { return nil }

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs b. Passing nil keeps the current backend.
func SetBackend(b Backend) {
	if b == nil {
		return
	}
	mu.Lock()
	backend = b
	mu.Unlock()
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// Flush delegates to the current backend.
func Flush() error {
	return current().Flush()
}

// RecordStep counts one execution of a migration step (download, build,
// cleanup) and its duration.
func RecordStep(step string, err error, d time.Duration) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	lbls := Labels{"step": step, "status": status}
	b := current()
	b.IncCounter(StepTotal, 1, lbls)
	b.ObserveHistogram(StepDuration, d.Seconds(), lbls)
}

// RecordRows adds delta rows of kind (total, valid, error) to an output,
// e.g. accounts_contacts.
func RecordRows(output, kind string, delta int64) {
	if delta <= 0 {
		return
	}
	current().IncCounter(RowsTotal, float64(delta), Labels{"output": output, "kind": kind})
}

// RecordPage counts one downloaded page of object and its size.
func RecordPage(object string, size int) {
	b := current()
	b.IncCounter(PagesTotal, 1, Labels{"object": object})
	if size > 0 {
		b.IncCounter(BytesTotal, float64(size), Labels{"object": object})
	}
}
