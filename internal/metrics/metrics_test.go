package metrics

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryReturnsExistingMetric(t *testing.T) {
	r := NewRegistry("test")
	a := r.RegisterCounter("hits_total", "hits", nil)
	b := r.RegisterCounter("hits_total", "hits", nil)
	assert.Same(t, a, b)
	assert.Equal(t, "test_hits_total", a.Name())
}

func TestNilMetricsAreNoops(t *testing.T) {
	var (
		c *Counter
		g *Gauge
		h *Histogram
		w *WidgetMetrics
	)
	c.Inc()
	g.Set(3)
	h.Observe(1)
	w.RecordFrame(time.Millisecond, 2)
	w.RecordEdges(true, true, true)
	w.RecordPredicateError()
	w.RecordTransformErrors(4)

	assert.Zero(t, c.Value())
	assert.Zero(t, g.Value())
	assert.Zero(t, h.Count())
	assert.Zero(t, h.Mean())
}

func TestHistogramBuckets(t *testing.T) {
	r := NewRegistry("")
	h := r.RegisterHistogram("lat", "latency", nil, []float64{1, 0.1})
	h.Observe(0.05)
	h.Observe(0.5)
	h.Observe(0.5)
	h.Observe(5)

	assert.Equal(t, uint64(4), h.Count())
	assert.InDelta(t, 6.05, h.Sum(), 1e-9)

	var buf bytes.Buffer
	require.NoError(t, r.WritePrometheus(&buf))
	out := buf.String()
	assert.Contains(t, out, "# TYPE lat histogram")
	assert.Contains(t, out, `lat_bucket{le="0.1"} 1`)
	assert.Contains(t, out, `lat_bucket{le="1"} 3`)
	assert.Contains(t, out, `lat_bucket{le="+Inf"} 4`)
	assert.Contains(t, out, "lat_count 4")
}

func TestWidgetMetricsExposition(t *testing.T) {
	r := NewRegistry("molecules")
	m := NewWidgetMetrics(r, "grab")

	m.RecordFrame(200*time.Microsecond, 2)
	m.RecordFrame(300*time.Microsecond, 1)
	m.RecordEdges(true, false, false)
	m.RecordEdges(false, false, true)
	m.RecordTransformErrors(2)
	m.RecordTransformErrors(0)
	m.RecordPredicateError()

	var buf bytes.Buffer
	require.NoError(t, r.WritePrometheus(&buf))
	out := buf.String()
	for _, want := range []string{
		"molecules_grab_frames_total 2",
		"molecules_grab_actor_started_total 1",
		"molecules_grab_actor_changed_total 0",
		"molecules_grab_actor_stopped_total 1",
		"molecules_grab_transform_errors_total 2",
		"molecules_grab_predicate_errors_total 1",
		"molecules_grab_acting_sources 1",
		"molecules_grab_frame_update_seconds_count 2",
	} {
		assert.Contains(t, out, want)
	}
	assert.Less(t, strings.Index(out, "actor_changed"), strings.Index(out, "actor_started"), "counters are sorted")

	buf.Reset()
	require.NoError(t, r.WriteJSON(&buf))
	var snap map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &snap))
	assert.EqualValues(t, 2, snap["molecules_grab_frames_total"])
}

func TestLabelsString(t *testing.T) {
	assert.Equal(t, "", Labels(nil).String())
	assert.Equal(t, `{a="1",b="x"}`, Labels{"b": "x", "a": "1"}.String())
}
