package core

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsSubsystem = "ledger"

// PrometheusMetricsRecorder counts operations by outcome and tracks their
// latency in a histogram.
type PrometheusMetricsRecorder struct {
	operations *prometheus.CounterVec
	durations  *prometheus.HistogramVec
}

// NewPrometheusMetricsRecorder registers the ledger collectors with registry.
func NewPrometheusMetricsRecorder(registry prometheus.Registerer) (*PrometheusMetricsRecorder, error) {
	rec := &PrometheusMetricsRecorder{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "medichain",
			Subsystem: metricsSubsystem,
			Name:      "operations_total",
			Help:      "Ledger operations by name and outcome",
		}, []string{"operation", "outcome"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "medichain",
			Subsystem: metricsSubsystem,
			Name:      "operation_duration_seconds",
			Help:      "Ledger operation latency",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}, []string{"operation"}),
	}
	if err := registry.Register(rec.operations); err != nil {
		return nil, err
	}
	if err := registry.Register(rec.durations); err != nil {
		return nil, err
	}
	return rec, nil
}

// Observe implements MetricsRecorder.
func (r *PrometheusMetricsRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	outcome := "error"
	if success {
		outcome = "success"
	}
	r.operations.WithLabelValues(operation, outcome).Inc()
	r.durations.WithLabelValues(operation).Observe(duration.Seconds())
}

// JSONTraceEntry represents a serialized trace span emitted by JSONTraceTracer.
type JSONTraceEntry struct {
	Operation  string    `json:"operation"`
	Status     string    `json:"status"`
	DurationMS float64   `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at"`
}

// JSONTraceTracer serializes spans to a writer and retains them for inspection.
type JSONTraceTracer struct {
	mu      sync.Mutex
	entries []JSONTraceEntry
	enc     *json.Encoder
}

// NewJSONTracer constructs a tracer that writes spans as JSON lines to w.
// A nil writer only retains spans.
func NewJSONTracer(w io.Writer) *JSONTraceTracer {
	var enc *json.Encoder
	if w != nil {
		enc = json.NewEncoder(w)
	}
	return &JSONTraceTracer{enc: enc}
}

// Entries returns a copy of all recorded spans.
func (t *JSONTraceTracer) Entries() []JSONTraceEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]JSONTraceEntry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Start implements the Tracer interface.
func (t *JSONTraceTracer) Start(ctx context.Context, operation string) (context.Context, TraceSpan) {
	return ctx, &jsonTraceSpan{tracer: t, operation: operation, started: time.Now().UTC()}
}

type jsonTraceSpan struct {
	tracer    *JSONTraceTracer
	operation string
	started   time.Time
}

func (s *jsonTraceSpan) End(err error) {
	entry := JSONTraceEntry{
		Operation: s.operation,
		Status:    "success",
		StartedAt: s.started,
		EndedAt:   time.Now().UTC(),
	}
	if err != nil {
		entry.Status = "error"
		entry.Error = err.Error()
	}
	entry.DurationMS = float64(entry.EndedAt.Sub(s.started)) / float64(time.Millisecond)

	s.tracer.mu.Lock()
	defer s.tracer.mu.Unlock()
	s.tracer.entries = append(s.tracer.entries, entry)
	if s.tracer.enc != nil {
		_ = s.tracer.enc.Encode(entry)
	}
}
