package metrics

import "time"

// WidgetMetrics are the per-widget arbitration metrics. Names are prefixed
// with the widget kind, e.g. molecules_grab_frames_total.
//
// All methods are no-ops on a nil receiver.
type WidgetMetrics struct {
	FramesTotal          *Counter
	ActorStartedTotal    *Counter
	ActorChangedTotal    *Counter
	ActorStoppedTotal    *Counter
	PredicateErrorsTotal *Counter
	TransformErrorsTotal *Counter

	ActingSources *Gauge

	FrameDuration *Histogram
}

// NewWidgetMetrics registers the widget metrics for kind in registry.
// A nil registry uses Default.
func NewWidgetMetrics(registry *Registry, kind string) *WidgetMetrics {
	if registry == nil {
		registry = Default()
	}
	p := kind + "_"
	return &WidgetMetrics{
		FramesTotal: registry.RegisterCounter(
			p+"frames_total",
			"Frames processed",
			nil,
		),
		ActorStartedTotal: registry.RegisterCounter(
			p+"actor_started_total",
			"Times an actor was adopted with no previous actor",
			nil,
		),
		ActorChangedTotal: registry.RegisterCounter(
			p+"actor_changed_total",
			"Times the actor was replaced by a different source",
			nil,
		),
		ActorStoppedTotal: registry.RegisterCounter(
			p+"actor_stopped_total",
			"Times the actor was released",
			nil,
		),
		PredicateErrorsTotal: registry.RegisterCounter(
			p+"predicate_errors_total",
			"Frames where a condition could not be evaluated",
			nil,
		),
		TransformErrorsTotal: registry.RegisterCounter(
			p+"transform_errors_total",
			"Failed scene operations (transform, reparent, lines)",
			nil,
		),
		ActingSources: registry.RegisterGauge(
			p+"acting_sources",
			"Sources satisfying the widget's primary condition",
			nil,
		),
		FrameDuration: registry.RegisterHistogram(
			p+"frame_update_seconds",
			"Duration of one widget frame update in seconds",
			nil,
			FrameBuckets,
		),
	}
}

// RecordFrame records one processed frame.
func (m *WidgetMetrics) RecordFrame(d time.Duration, acting int) {
	if m == nil {
		return
	}
	m.FramesTotal.Inc()
	m.FrameDuration.ObserveDuration(d)
	m.ActingSources.Set(int64(acting))
}

// RecordEdges counts actor lifecycle edges.
func (m *WidgetMetrics) RecordEdges(started, changed, stopped bool) {
	if m == nil {
		return
	}
	if started {
		m.ActorStartedTotal.Inc()
	}
	if changed {
		m.ActorChangedTotal.Inc()
	}
	if stopped {
		m.ActorStoppedTotal.Inc()
	}
}

func (m *WidgetMetrics) RecordPredicateError() {
	if m == nil {
		return
	}
	m.PredicateErrorsTotal.Inc()
}

func (m *WidgetMetrics) RecordTransformErrors(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.TransformErrorsTotal.Add(uint64(n))
}
