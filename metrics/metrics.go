// Package metrics records paygate counters and latencies.
package metrics

import "time"

// Metric names.
const (
	Verifications = "verifications"
	Settlements   = "settlements"
	Grants        = "grants"
	KeyReleases   = "key_releases"
	Payments      = "payments"
	Publishes     = "publishes"
)

// Label values for the outcome label.
const (
	OutcomeOK      = "ok"
	OutcomeInvalid = "invalid"
	OutcomeError   = "error"
)

type Recorder interface {
	IncCounter(name string, labels map[string]string)
	ObserveLatency(name string, duration time.Duration, labels map[string]string)
}

// OrNoop returns r, or a NoopRecorder when r is nil.
func OrNoop(r Recorder) Recorder {
	if r == nil {
		return NoopRecorder{}
	}
	return r
}

// Since observes the time elapsed from start under name.
func Since(r Recorder, name string, start time.Time, labels map[string]string) {
	r.ObserveLatency(name, time.Since(start), labels)
}
