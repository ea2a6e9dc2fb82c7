package replay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"molecules/internal/input"
	"molecules/internal/metrics"
	"molecules/internal/spatial"
	"molecules/internal/store"
	"molecules/internal/tracing"
)

const eps = 1e-4

func load(t *testing.T, name string) *Fixture {
	t.Helper()
	f, err := LoadFixture(filepath.Join("testdata", name))
	require.NoError(t, err)
	return f
}

func TestParseFixtureRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		ext  string
		doc  string
	}{
		{"not json", ".json", `{`},
		{"not yaml", ".yaml", "name: [unterminated"},
		{"missing widgets", ".json", `{"name": "x", "frames": []}`},
		{"unknown widget kind", ".json", `{"name": "x", "widgets": [{"name": "a", "kind": "dial"}], "frames": []}`},
		{"hand without joints", ".json", `{"name": "x", "widgets": [{"name": "a", "kind": "grab"}],
			"frames": [{"sources": [{"id": 1, "kind": "hand"}]}]}`},
		{"tip without position", ".yml", "name: x\nwidgets: [{name: a, kind: hover}]\nframes: [{sources: [{id: 1, kind: tip}]}]\n"},
		{"short vector", ".json", `{"name": "x", "widgets": [{"name": "a", "kind": "grab", "position": [1, 2]}], "frames": []}`},
		{"duplicate widget", ".json", `{"name": "x", "widgets": [{"name": "a", "kind": "grab"}, {"name": "a", "kind": "hover"}], "frames": []}`},
		{"duplicate source", ".json", `{"name": "x", "widgets": [{"name": "a", "kind": "grab"}],
			"frames": [{"sources": [{"id": 1, "kind": "tip", "position": [0,0,0]}, {"id": 1, "kind": "tip", "position": [0,0,0]}]}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseFixture([]byte(tt.doc), tt.ext)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidFixture), "got %v", err)
		})
	}
}

func TestLoadFixtureFormats(t *testing.T) {
	drag := load(t, "drag.yaml")
	assert.Equal(t, "drag", drag.Name)
	require.Len(t, drag.Frames, 4)
	require.NotNil(t, drag.Widgets[0].MaxDistance)
	assert.Equal(t, float32(0.05), *drag.Widgets[0].MaxDistance)

	shared := load(t, "shared.json")
	require.Len(t, shared.Widgets, 2)
	assert.Equal(t, KindHover, shared.Widgets[0].Kind)
	assert.Equal(t, []float32{0.1, 0.1}, shared.Widgets[0].Size)

	_, err := LoadFixture(filepath.Join("testdata", "missing.json"))
	assert.Error(t, err)
}

func TestSourceSpecDefaults(t *testing.T) {
	spec := SourceSpec{
		ID:        3,
		Kind:      input.KindPointer,
		Distance:  0.2,
		Distances: map[string]float32{"pad": -0.01},
		Position:  []float32{0, 0, 1},
		Data:      map[string]float32{input.KeySelect: 1},
	}

	src, err := spec.Source("other")
	require.NoError(t, err)
	assert.Equal(t, float32(0.2), src.Distance)
	p := src.Capability.(input.Pointer)
	assert.Equal(t, mgl32.QuatIdent(), p.Orientation, "missing rotation is the identity")

	src, err = spec.Source("pad")
	require.NoError(t, err)
	assert.Equal(t, float32(-0.01), src.Distance)

	_, err = SourceSpec{ID: 1, Kind: "glove"}.Source("pad")
	assert.True(t, errors.Is(err, input.ErrUnknownCapability))
}

func TestReplayDrag(t *testing.T) {
	reg := metrics.NewRegistry("test")
	d, err := NewDriver(load(t, "drag.yaml"), WithRegistry(reg))
	require.NoError(t, err)

	report, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, report.Frames)
	assert.Zero(t, report.Errors)
	assert.Equal(t, d.Session(), report.Session)
	require.Len(t, report.Events, 4)

	assert.False(t, report.Events[0].Started)
	assert.True(t, report.Events[1].Started, "pinch edge on the second frame")
	assert.Equal(t, input.ID(1), report.Events[1].Actor)
	assert.Equal(t, []input.ID{1}, report.Events[1].Captured)
	assert.True(t, report.Events[3].Stopped)
	require.NotNil(t, report.Events[0].MinDistance)
	assert.InDelta(t, 0.01, *report.Events[0].MinDistance, eps)

	anchor, ok := report.Anchors["handle"]
	require.True(t, ok)
	assert.True(t, anchor.Position.ApproxEqualThreshold(mgl32.Vec3{0.1, 0, 0}, eps), "got %v", anchor.Position)

	m, ok := d.Grab("handle")
	require.True(t, ok)
	assert.False(t, m.Grabbed())

	assert.Equal(t, uint64(4), reg.RegisterCounter("replay_frames_total", "", nil).Value())
	assert.Equal(t, uint64(4), reg.RegisterCounter("grab_frames_total", "", nil).Value())
}

func TestRunTracesFrames(t *testing.T) {
	var buf bytes.Buffer
	tr := tracing.NewTracer("molecules", tracing.NewWriterExporter(&buf))
	d, err := NewDriver(load(t, "drag.yaml"), WithTracer(tr), WithRegistry(metrics.NewRegistry("test")))
	require.NoError(t, err)

	_, err = d.Run(context.Background())
	require.NoError(t, err)

	var spans []tracing.SpanData
	dec := json.NewDecoder(&buf)
	for dec.More() {
		var s tracing.SpanData
		require.NoError(t, dec.Decode(&s))
		spans = append(spans, s)
	}
	require.Len(t, spans, 5)

	run := spans[4]
	assert.Equal(t, "replay.run", run.Name)
	assert.Equal(t, d.Session().String(), run.Attributes["session"])
	for _, s := range spans[:4] {
		assert.Equal(t, "replay.frame", s.Name)
		assert.Equal(t, run.TraceID, s.TraceID)
		assert.Equal(t, run.SpanID, s.ParentID)
	}
}

func TestReplayCaptureWithholdsFromSiblings(t *testing.T) {
	d, err := NewDriver(load(t, "shared.json"), WithRegistry(metrics.NewRegistry("test")))
	require.NoError(t, err)

	report, err := d.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Events, 6)

	pad1, knob1 := report.Events[2], report.Events[3]
	assert.True(t, pad1.Started)
	assert.True(t, knob1.Started, "claims only take effect on the next frame")

	owner, ok := d.Ledger().Owner(5)
	require.True(t, ok)
	assert.Equal(t, "pad", owner, "the earlier widget keeps a contested source")

	pad2, knob2 := report.Events[4], report.Events[5]
	assert.Equal(t, input.ID(5), pad2.Actor)
	require.Len(t, pad2.HoverPoints, 1)
	assert.InDelta(t, 0.7, pad2.HoverPoints[0].X, eps)
	assert.InDelta(t, 0.6, pad2.HoverPoints[0].Y, eps)
	assert.True(t, knob2.Stopped)
	assert.Equal(t, map[input.ID]string{5: "pad"}, knob2.Withheld)
	assert.Nil(t, pad2.Withheld)
	assert.Empty(t, knob2.Acting)
	assert.Nil(t, knob2.MinDistance)

	_, err = json.Marshal(report)
	assert.NoError(t, err, "reports are JSON encodable")
}

func TestStepRecordsWidgetErrors(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	d, err := NewDriver(load(t, "shared.json"), WithLogger(log), WithRegistry(metrics.NewRegistry("test")))
	require.NoError(t, err)

	// No select or grab values: both widgets fail their trigger predicates.
	events, err := d.Step(Frame{Sources: []SourceSpec{
		{ID: 9, Kind: input.KindTip, Position: []float32{0, 0, 0.005}},
	}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, input.ErrMissingKey))
	require.Len(t, events, 2)
	assert.NotEmpty(t, events[0].Error)
	assert.NotEmpty(t, events[1].Error)
	assert.Equal(t, []input.ID{9}, events[0].Acting, "hover still ran")
}

func TestRunStopsOnCancel(t *testing.T) {
	d, err := NewDriver(load(t, "drag.yaml"), WithRegistry(metrics.NewRegistry("test")))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := d.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, report.Frames)
}

func TestPersistAndRestoreAnchors(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "anchors.db"))
	require.NoError(t, err)
	defer st.Close()

	d, err := NewDriver(load(t, "drag.yaml"), WithRegistry(metrics.NewRegistry("test")))
	require.NoError(t, err)
	report, err := d.Run(context.Background())
	require.NoError(t, err)
	require.NoError(t, d.Persist(st, report))

	saved, err := st.LoadAnchor("handle")
	require.NoError(t, err)
	assert.Equal(t, KindGrab, saved.Kind)
	runs, err := st.ListRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, report.Session, runs[0].ID)

	// A second session starts where the first left off.
	again, err := NewDriver(load(t, "drag.yaml"), WithAnchors(st), WithRegistry(metrics.NewRegistry("test")))
	require.NoError(t, err)
	m, ok := again.Grab("handle")
	require.True(t, ok)
	rel, err := m.ContentParent().TransformRelativeTo(m.HandlerNode())
	require.NoError(t, err)
	assert.True(t, rel.Position.ApproxEqualThreshold(mgl32.Vec3{0.1, 0, 0}, eps))
}

func TestHoverPlacement(t *testing.T) {
	f := &Fixture{
		Name: "placed",
		Widgets: []WidgetSpec{{
			Name:     "pad",
			Kind:     KindHover,
			Position: []float32{0, 1, -0.5},
		}},
	}
	d, err := NewDriver(f, WithRegistry(metrics.NewRegistry("test")))
	require.NoError(t, err)

	s, ok := d.Hover("pad")
	require.True(t, ok)
	got, err := s.SaveState()
	require.NoError(t, err)
	assert.True(t, got.ApproxEqual(spatial.FromTranslation(mgl32.Vec3{0, 1, -0.5}), eps))

	_, ok = d.Grab("pad")
	assert.False(t, ok)
}

func TestSchemaIsValidJSON(t *testing.T) {
	var v map[string]any
	require.NoError(t, json.Unmarshal(Schema(), &v))
	assert.Equal(t, "object", v["type"])
}
