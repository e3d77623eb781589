// Package metrics provides a small, backend-agnostic abstraction for
// recording operational metrics from the conversion pipeline.
//
// The package is intentionally minimal and opinionated:
//
//   - It exposes a narrow interface (Backend) focused on counters and timing
//     data.
//   - It provides a global, pluggable backend that defaults to a no-op
//     implementation, so metrics are always safe to call even when no real
//     backend is configured.
//   - Concrete metric systems stay isolated in subpackages; the rest of the
//     codebase depends only on this interface.
//
// The primary use case is instrumentation of pipeline stages (parse, map,
// compress) without coupling the orchestrator to a specific metrics system.
package metrics

import "time"

// Labels are string key/value pairs attached to a metric.
type Labels map[string]string

// Backend is the minimal interface for metrics backends.
type Backend interface {
	// IncCounter increments a counter by delta.
	IncCounter(name string, delta float64, labels Labels)
	// ObserveHistogram records a value in a latency/duration style metric.
	ObserveHistogram(name string, value float64, labels Labels)
	// Flush pushes or flushes metrics, if the backend needs it (e.g. Pushgateway).
	Flush() error
}

// nopBackend is used by default so metrics are optional.
type nopBackend struct{}

func (nopBackend) IncCounter(name string, delta float64, labels Labels)       {}
func (nopBackend) ObserveHistogram(name string, value float64, labels Labels) {}
func (nopBackend) Flush() error                                               { return nil }

var backend Backend = nopBackend{}

// SetBackend installs a concrete backend. Passing nil keeps the existing backend.
func SetBackend(b Backend) {
	if b == nil {
		return
	}
	backend = b
}

// Flush delegates to the current backend.
func Flush() error {
	return backend.Flush()
}

// RecordStage measures one pipeline stage for one output name: latency plus
// a success/failure counter.
func RecordStage(run, stage string, err error, d time.Duration) {
	status := "success"
	if err != nil {
		status = "failure"
	}

	lbls := Labels{
		"run":    run,
		"stage":  stage,
		"status": status,
	}

	backend.IncCounter("rdfizer_stage_total", 1, lbls)
	backend.ObserveHistogram("rdfizer_stage_duration_seconds", d.Seconds(), lbls)
}

// RecordStatements counts emitted graph statements for a run.
func RecordStatements(run string, delta int64) {
	if delta <= 0 {
		return
	}
	backend.IncCounter("rdfizer_statements_total", float64(delta), Labels{
		"run": run,
	})
}

// RecordArtifact records the size of one produced artifact by kind
// (e.g. "nq", "gzip", "brotli", "hdt").
func RecordArtifact(run, kind string, sizeBytes int64) {
	if sizeBytes < 0 {
		return
	}
	backend.ObserveHistogram("rdfizer_artifact_size_bytes", float64(sizeBytes), Labels{
		"run":  run,
		"kind": kind,
	})
}
