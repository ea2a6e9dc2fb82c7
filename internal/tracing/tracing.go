// Package tracing records spans around replay runs and frames.
//
// Spans are exported as JSON lines when they end. The span model follows
// OpenTelemetry naming (trace, span, parent, status) without its SDK.
package tracing

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// TraceID is a unique identifier for a trace.
type TraceID [16]byte

// String returns the hex representation of the TraceID.
func (t TraceID) String() string {
	return hex.EncodeToString(t[:])
}

// IsValid returns true if the TraceID is non-zero.
func (t TraceID) IsValid() bool {
	return t != TraceID{}
}

// SpanID is a unique identifier for a span.
type SpanID [8]byte

// String returns the hex representation of the SpanID.
func (s SpanID) String() string {
	return hex.EncodeToString(s[:])
}

// IsValid returns true if the SpanID is non-zero.
func (s SpanID) IsValid() bool {
	return s != SpanID{}
}

func newTraceID() TraceID {
	return TraceID(uuid.New())
}

func newSpanID() SpanID {
	u := uuid.New()
	var id SpanID
	copy(id[:], u[8:])
	return id
}

// StatusCode represents the status of a span.
type StatusCode int

const (
	// StatusUnset is the default status.
	StatusUnset StatusCode = iota
	// StatusOK indicates success.
	StatusOK
	// StatusError indicates an error occurred.
	StatusError
)

// String returns the string representation of StatusCode.
func (s StatusCode) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusError:
		return "error"
	default:
		return "unset"
	}
}

// Attribute represents a key-value pair attached to a span.
type Attribute struct {
	Key   string
	Value any
}

// Span represents a unit of work.
type Span struct {
	mu         sync.Mutex
	tracer     *Tracer
	name       string
	traceID    TraceID
	spanID     SpanID
	parentID   SpanID
	startTime  time.Time
	endTime    time.Time
	attributes []Attribute
	status     StatusCode
	statusMsg  string
	ended      atomic.Bool
}

// TraceID returns the span's trace.
func (s *Span) TraceID() TraceID { return s.traceID }

// SpanID returns the span's own ID.
func (s *Span) SpanID() SpanID { return s.spanID }

// SetAttribute sets an attribute on the span.
func (s *Span) SetAttribute(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attributes = append(s.attributes, Attribute{Key: key, Value: value})
}

// SetStatus sets the span status.
func (s *Span) SetStatus(code StatusCode, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = code
	s.statusMsg = message
}

// RecordError marks the span failed. A nil err is ignored.
func (s *Span) RecordError(err error) {
	if err == nil {
		return
	}
	s.SetAttribute("error.type", fmt.Sprintf("%T", err))
	s.SetStatus(StatusError, err.Error())
}

// End ends the span and hands it to the exporter. Later calls are no-ops.
func (s *Span) End() {
	if s.ended.Swap(true) {
		return
	}
	s.mu.Lock()
	s.endTime = time.Now()
	s.mu.Unlock()

	if s.tracer != nil {
		s.tracer.exporter.ExportSpan(s)
	}
}

// SpanData is a serializable snapshot of a span.
type SpanData struct {
	Name       string         `json:"name"`
	TraceID    string         `json:"trace_id"`
	SpanID     string         `json:"span_id"`
	ParentID   string         `json:"parent_id,omitempty"`
	StartTime  time.Time      `json:"start_time"`
	EndTime    time.Time      `json:"end_time"`
	Duration   time.Duration  `json:"duration_ns"`
	Status     string         `json:"status"`
	StatusMsg  string         `json:"status_message,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// Data returns the span data as a SpanData struct.
func (s *Span) Data() SpanData {
	s.mu.Lock()
	defer s.mu.Unlock()

	attrs := make(map[string]any, len(s.attributes))
	for _, a := range s.attributes {
		attrs[a.Key] = a.Value
	}
	parentID := ""
	if s.parentID.IsValid() {
		parentID = s.parentID.String()
	}
	return SpanData{
		Name:       s.name,
		TraceID:    s.traceID.String(),
		SpanID:     s.spanID.String(),
		ParentID:   parentID,
		StartTime:  s.startTime,
		EndTime:    s.endTime,
		Duration:   s.endTime.Sub(s.startTime),
		Status:     s.status.String(),
		StatusMsg:  s.statusMsg,
		Attributes: attrs,
	}
}

// Exporter exports spans.
type Exporter interface {
	ExportSpan(span *Span)
	Shutdown() error
}

// WriterExporter writes one JSON object per span.
type WriterExporter struct {
	mu      sync.Mutex
	encoder *json.Encoder
	closer  io.Closer
}

// NewWriterExporter exports to w. If w is an io.Closer, Shutdown closes it.
func NewWriterExporter(w io.Writer) *WriterExporter {
	e := &WriterExporter{encoder: json.NewEncoder(w)}
	if c, ok := w.(io.Closer); ok {
		e.closer = c
	}
	return e
}

// ExportSpan implements Exporter.
func (e *WriterExporter) ExportSpan(span *Span) {
	e.mu.Lock()
	defer e.mu.Unlock()
	_ = e.encoder.Encode(span.Data())
}

// Shutdown implements Exporter.
func (e *WriterExporter) Shutdown() error {
	if e.closer != nil {
		return e.closer.Close()
	}
	return nil
}

// NoopExporter drops spans.
type NoopExporter struct{}

// ExportSpan implements Exporter.
func (NoopExporter) ExportSpan(*Span) {}

// Shutdown implements Exporter.
func (NoopExporter) Shutdown() error { return nil }

// Tracer creates spans.
type Tracer struct {
	service  string
	exporter Exporter
}

// NewTracer creates a tracer. A nil exporter drops spans.
func NewTracer(service string, exporter Exporter) *Tracer {
	if exporter == nil {
		exporter = NoopExporter{}
	}
	return &Tracer{service: service, exporter: exporter}
}

// Start starts a span, as a child of the span in ctx if there is one.
// A nil tracer returns an unexported span.
func (t *Tracer) Start(ctx context.Context, name string, attrs ...Attribute) (context.Context, *Span) {
	span := &Span{
		tracer:     t,
		name:       name,
		spanID:     newSpanID(),
		startTime:  time.Now(),
		attributes: attrs,
	}
	if parent := SpanFromContext(ctx); parent != nil {
		span.traceID = parent.traceID
		span.parentID = parent.spanID
	} else {
		span.traceID = newTraceID()
	}
	if t != nil && t.service != "" {
		span.attributes = append(span.attributes, Attribute{Key: "service.name", Value: t.service})
	}
	return ContextWithSpan(ctx, span), span
}

// Shutdown flushes and closes the exporter.
func (t *Tracer) Shutdown() error {
	if t == nil {
		return nil
	}
	return t.exporter.Shutdown()
}

type spanContextKey struct{}

// ContextWithSpan returns a new context with the span.
func ContextWithSpan(ctx context.Context, span *Span) context.Context {
	return context.WithValue(ctx, spanContextKey{}, span)
}

// SpanFromContext returns the span from the context.
func SpanFromContext(ctx context.Context) *Span {
	if ctx == nil {
		return nil
	}
	span, _ := ctx.Value(spanContextKey{}).(*Span)
	return span
}
