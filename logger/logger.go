// Package logger defines the logging interface used across paygate.
package logger

type Logger interface {
	Debug(msg string, fields map[string]any)
	Info(msg string, fields map[string]any)
	Warn(msg string, fields map[string]any)
	Error(msg string, fields map[string]any)
}

type NoopLogger struct{}

func (NoopLogger) Debug(string, map[string]any) {}
func (NoopLogger) Info(string, map[string]any)  {}
func (NoopLogger) Warn(string, map[string]any)  {}
func (NoopLogger) Error(string, map[string]any) {}

// OrNoop returns l, or a NoopLogger when l is nil.
func OrNoop(l Logger) Logger {
	if l == nil {
		return NoopLogger{}
	}
	return l
}

// Component returns a logger that tags every entry with component=name.
func Component(l Logger, name string) Logger {
	return &tagged{next: OrNoop(l), tags: map[string]any{"component": name}}
}

type tagged struct {
	next Logger
	tags map[string]any
}

func (t *tagged) merge(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields)+len(t.tags))
	for k, v := range t.tags {
		out[k] = v
	}
	for k, v := range fields {
		out[k] = v
	}
	return out
}

func (t *tagged) Debug(msg string, f map[string]any) { t.next.Debug(msg, t.merge(f)) }
func (t *tagged) Info(msg string, f map[string]any)  { t.next.Info(msg, t.merge(f)) }
func (t *tagged) Warn(msg string, f map[string]any)  { t.next.Warn(msg, t.merge(f)) }
func (t *tagged) Error(msg string, f map[string]any) { t.next.Error(msg, t.merge(f)) }
