package replay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"gioui.org/f32"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"

	"molecules/internal/action"
	"molecules/internal/grab"
	"molecules/internal/hover"
	"molecules/internal/input"
	"molecules/internal/logging"
	"molecules/internal/metrics"
	"molecules/internal/spatial"
	"molecules/internal/store"
	"molecules/internal/tracing"
)

// AnchorSource supplies saved widget anchors. *store.Store implements it.
type AnchorSource interface {
	LoadAnchor(widget string) (*store.Anchor, error)
}

// Option configures a Driver.
type Option func(*options)

type options struct {
	logger   *slog.Logger
	registry *metrics.Registry
	grab     grab.Settings
	hover    hover.Settings
	anchors  AnchorSource
	tracer   *tracing.Tracer
}

// WithLogger sets the driver's logger. Widgets log through it too.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithRegistry records widget metrics into r instead of metrics.Default.
func WithRegistry(r *metrics.Registry) Option {
	return func(o *options) { o.registry = r }
}

// WithGrabDefaults sets the settings for grab widgets before fixture overrides.
func WithGrabDefaults(s grab.Settings) Option {
	return func(o *options) { o.grab = s }
}

// WithHoverDefaults sets the settings for hover widgets before fixture overrides.
func WithHoverDefaults(s hover.Settings) Option {
	return func(o *options) { o.hover = s }
}

// WithAnchors restores widgets from previously saved anchors.
func WithAnchors(a AnchorSource) Option {
	return func(o *options) { o.anchors = a }
}

// WithTracer records a span per run and per frame.
func WithTracer(t *tracing.Tracer) Option {
	return func(o *options) { o.tracer = t }
}

// Event is what one widget did in one frame.
type Event struct {
	Frame  int    `json:"frame"`
	Widget string `json:"widget"`
	Kind   string `json:"kind"`

	Actor   input.ID `json:"actor,omitempty"`
	Started bool     `json:"started,omitempty"`
	Changed bool     `json:"changed,omitempty"`
	Stopped bool     `json:"stopped,omitempty"`

	// Acting is the in-range set for grab widgets and the hovering set for
	// hover widgets.
	Acting   []input.ID `json:"acting,omitempty"`
	Captured []input.ID `json:"captured,omitempty"`

	// Withheld maps sources claimed by another widget to that widget.
	Withheld map[input.ID]string `json:"withheld,omitempty"`

	HoverPoints []f32.Point `json:"hover_points,omitempty"`
	MinDistance *float32    `json:"min_distance,omitempty"`

	Error string `json:"error,omitempty"`
}

// Report summarises a replay.
type Report struct {
	Session     uuid.UUID                    `json:"session"`
	Fixture     string                       `json:"fixture"`
	Frames      int                          `json:"frames"`
	Errors      int                          `json:"errors"`
	Events      []Event                      `json:"events"`
	Anchors     map[string]spatial.Transform `json:"anchors"`
	StartedAt   time.Time                    `json:"started_at"`
	CompletedAt time.Time                    `json:"completed_at"`
}

type widget struct {
	spec  WidgetSpec
	grab  *grab.Manipulator
	hover *hover.Surface
}

func (w *widget) update(sources []*input.Source) error {
	if w.grab != nil {
		return w.grab.Update(sources)
	}
	return w.hover.Update(sources)
}

func (w *widget) captured() []input.ID {
	if w.grab != nil {
		return w.grab.Captured()
	}
	return w.hover.Captured()
}

func (w *widget) saveState() (spatial.Transform, error) {
	if w.grab != nil {
		return w.grab.SaveState()
	}
	return w.hover.SaveState()
}

// Driver feeds a fixture's frames to its widgets. Widgets are updated in
// fixture order each frame; a source captured by one widget is withheld from
// the others from the next frame on. When two widgets capture the same
// source in one frame, the earlier widget keeps it.
type Driver struct {
	fixture *Fixture
	scene   *spatial.Graph
	ledger  *action.CaptureLedger
	widgets []*widget
	session uuid.UUID
	frame   int

	log         *slog.Logger
	tracer      *tracing.Tracer
	framesTotal *metrics.Counter
}

// NewDriver builds the fixture's widgets on a fresh in-memory scene.
func NewDriver(f *Fixture, opts ...Option) (*Driver, error) {
	o := options{
		grab:  grab.DefaultSettings(0.05),
		hover: hover.DefaultSettings(mgl32.Vec2{0.1, 0.1}, 0.01),
	}
	for _, opt := range opts {
		opt(&o)
	}

	d := &Driver{
		fixture: f,
		scene:   spatial.NewGraph(),
		ledger:  action.NewCaptureLedger(),
		session: uuid.New(),
		log:     logging.OrDiscard(o.logger),
		tracer:  o.tracer,
	}
	reg := o.registry
	if reg == nil {
		reg = metrics.Default()
	}
	d.framesTotal = reg.RegisterCounter("replay_frames_total", "Replay frames processed", nil)
	d.log = d.log.With("session", d.session.String(), "fixture", f.Name)

	for _, spec := range f.Widgets {
		w, err := d.build(spec, o, reg)
		if err != nil {
			return nil, fmt.Errorf("build widget %q: %w", spec.Name, err)
		}
		d.widgets = append(d.widgets, w)
	}
	return d, nil
}

func (d *Driver) anchor(o options, name string) (*spatial.Transform, error) {
	if o.anchors == nil {
		return nil, nil
	}
	a, err := o.anchors.LoadAnchor(name)
	if errors.Is(err, store.ErrAnchorNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a.Transform, nil
}

func (d *Driver) build(spec WidgetSpec, o options, reg *metrics.Registry) (*widget, error) {
	saved, err := d.anchor(o, spec.Name)
	if err != nil {
		return nil, err
	}
	log := d.log.With("widget", spec.Kind, "name", spec.Name)

	switch spec.Kind {
	case KindGrab:
		s := o.grab
		if spec.MaxDistance != nil {
			s.MaxDistance = *spec.MaxDistance
		}
		placement, err := d.scene.CreateSpatial(d.scene.Root(), spec.Transform(), false)
		if err != nil {
			return nil, err
		}
		gopts := []grab.Option{
			grab.WithLogger(log),
			grab.WithMetrics(metrics.NewWidgetMetrics(reg, KindGrab)),
		}
		if saved != nil {
			gopts = append(gopts, grab.WithAnchor(*saved))
		}
		m, err := grab.New(d.scene, placement, s, gopts...)
		if err != nil {
			return nil, err
		}
		return &widget{spec: spec, grab: m}, nil

	case KindHover:
		s := o.hover
		if len(spec.Size) == 2 {
			s.Size = mgl32.Vec2{spec.Size[0], spec.Size[1]}
		}
		if spec.Thickness != nil {
			s.Thickness = *spec.Thickness
		}
		if spec.XRange != nil {
			s.XRange = hover.Range{Min: spec.XRange.Min, Max: spec.XRange.Max}
		}
		if spec.YRange != nil {
			s.YRange = hover.Range{Min: spec.YRange.Min, Max: spec.YRange.Max}
		}
		placement := spec.Transform()
		if saved != nil {
			placement = *saved
		}
		surf, err := hover.New(d.scene, d.scene.Root(), placement, s,
			hover.WithLogger(log),
			hover.WithMetrics(metrics.NewWidgetMetrics(reg, KindHover)),
		)
		if err != nil {
			return nil, err
		}
		return &widget{spec: spec, hover: surf}, nil

	default:
		return nil, fmt.Errorf("%w: unknown widget kind %q", ErrInvalidFixture, spec.Kind)
	}
}

// Session identifies this replay.
func (d *Driver) Session() uuid.UUID { return d.session }

// Scene returns the in-memory scene the widgets live in.
func (d *Driver) Scene() *spatial.Graph { return d.scene }

// Ledger returns the capture ledger shared by the widgets.
func (d *Driver) Ledger() *action.CaptureLedger { return d.ledger }

// Grab returns the grab widget named name.
func (d *Driver) Grab(name string) (*grab.Manipulator, bool) {
	for _, w := range d.widgets {
		if w.spec.Name == name && w.grab != nil {
			return w.grab, true
		}
	}
	return nil, false
}

// Hover returns the hover widget named name.
func (d *Driver) Hover(name string) (*hover.Surface, bool) {
	for _, w := range d.widgets {
		if w.spec.Name == name && w.hover != nil {
			return w.hover, true
		}
	}
	return nil, false
}

// Step feeds one frame to every widget. Each widget sees the frame filtered
// by the claims standing at the start of the frame. Per-widget errors are
// recorded on the widget's event and joined into the returned error; the
// other widgets still run.
func (d *Driver) Step(fr Frame) ([]Event, error) {
	n := d.frame
	d.frame++
	d.framesTotal.Inc()

	visible := make([][]*input.Source, len(d.widgets))
	withheld := make([]map[input.ID]string, len(d.widgets))
	buildErrs := make([]error, len(d.widgets))
	for i, w := range d.widgets {
		var errs []error
		sources := make([]*input.Source, 0, len(fr.Sources))
		for _, s := range fr.Sources {
			src, err := s.Source(w.spec.Name)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			sources = append(sources, src)
		}
		visible[i] = d.ledger.Filter(w.spec.Name, sources)
		withheld[i] = d.withheld(sources, visible[i])
		buildErrs[i] = errors.Join(errs...)
	}

	var errs []error
	events := make([]Event, 0, len(d.widgets))
	for i, w := range d.widgets {
		ev, err := d.stepWidget(n, w, visible[i])
		ev.Withheld = withheld[i]
		if err = errors.Join(buildErrs[i], err); err != nil {
			ev.Error = err.Error()
			errs = append(errs, fmt.Errorf("frame %d widget %q: %w", n, w.spec.Name, err))
		}
		events = append(events, ev)
	}
	return events, errors.Join(errs...)
}

// withheld returns the owner of every source in all that is missing from
// visible, or nil when nothing was filtered.
func (d *Driver) withheld(all, visible []*input.Source) map[input.ID]string {
	if len(all) == len(visible) {
		return nil
	}
	seen := input.NewSet(visible...)
	out := make(map[input.ID]string)
	for _, src := range all {
		if seen.Contains(src.ID) {
			continue
		}
		if owner, ok := d.ledger.Owner(src.ID); ok {
			out[src.ID] = owner
		}
	}
	return out
}

func (d *Driver) stepWidget(n int, w *widget, sources []*input.Source) (Event, error) {
	ev := Event{Frame: n, Widget: w.spec.Name, Kind: w.spec.Kind}

	err := w.update(sources)
	ev.Captured = w.captured()
	d.ledger.Commit(w.spec.Name, ev.Captured)

	switch {
	case w.grab != nil:
		sel := w.grab.GrabAction()
		fillEdges(&ev, sel.Actor(), sel.ActorStarted(), sel.ActorChanged(), sel.ActorStopped())
		ev.Acting = w.grab.ProximityAction().CurrentlyActing().IDs()
		if md := w.grab.MinDistance(); !math.IsInf(float64(md), 1) {
			ev.MinDistance = &md
		}
	case w.hover != nil:
		sel := w.hover.InteractStatus()
		fillEdges(&ev, sel.Actor(), sel.ActorStarted(), sel.ActorChanged(), sel.ActorStopped())
		ev.Acting = w.hover.HoveringInputs().IDs()
		ev.HoverPoints = w.hover.HoverPoints()
	}
	return ev, err
}

func fillEdges(ev *Event, actor *input.Source, started, changed, stopped bool) {
	if actor != nil {
		ev.Actor = actor.ID
	}
	ev.Started, ev.Changed, ev.Stopped = started, changed, stopped
}

// Run replays every frame. Frame errors are counted in the report, not
// returned; only ctx cancellation stops a run early.
func (d *Driver) Run(ctx context.Context) (*Report, error) {
	r := &Report{
		Session:   d.session,
		Fixture:   d.fixture.Name,
		StartedAt: time.Now(),
	}
	ctx, span := d.tracer.Start(ctx, "replay.run",
		tracing.Attribute{Key: "session", Value: d.session.String()},
		tracing.Attribute{Key: "fixture", Value: d.fixture.Name},
	)
	defer span.End()
	d.log.Info("replay started", "frames", len(d.fixture.Frames), "widgets", len(d.widgets))

	finish := func(err error) (*Report, error) {
		r.CompletedAt = time.Now()
		span.SetAttribute("frames", r.Frames)
		span.SetAttribute("frame_errors", r.Errors)
		span.RecordError(err)
		return r, err
	}

	for _, fr := range d.fixture.Frames {
		if err := ctx.Err(); err != nil {
			return finish(err)
		}
		_, fspan := d.tracer.Start(ctx, "replay.frame",
			tracing.Attribute{Key: "frame", Value: d.frame},
			tracing.Attribute{Key: "sources", Value: len(fr.Sources)},
		)
		events, err := d.Step(fr)
		fspan.RecordError(err)
		fspan.End()

		r.Frames++
		r.Events = append(r.Events, events...)
		if err != nil {
			r.Errors++
			d.log.Warn("replay frame failed", "frame", r.Frames-1, "error", err)
		}
	}

	anchors, err := d.Anchors()
	if err != nil {
		return finish(err)
	}
	r.Anchors = anchors
	d.log.Info("replay completed", "frames", r.Frames, "errors", r.Errors,
		"duration", time.Since(r.StartedAt))
	return finish(nil)
}

// Anchors returns every widget's current save state keyed by widget name.
func (d *Driver) Anchors() (map[string]spatial.Transform, error) {
	out := make(map[string]spatial.Transform, len(d.widgets))
	for _, w := range d.widgets {
		t, err := w.saveState()
		if err != nil {
			return nil, fmt.Errorf("save %q: %w", w.spec.Name, err)
		}
		out[w.spec.Name] = t
	}
	return out, nil
}

// AnchorSink persists anchors and runs. *store.Store implements it.
type AnchorSink interface {
	SaveAnchor(a *store.Anchor) error
	RecordRun(r *store.Run) error
}

// Persist writes the report's anchors and a run summary to sink.
func (d *Driver) Persist(sink AnchorSink, r *Report) error {
	for _, w := range d.widgets {
		t, ok := r.Anchors[w.spec.Name]
		if !ok {
			continue
		}
		if err := sink.SaveAnchor(&store.Anchor{Widget: w.spec.Name, Kind: w.spec.Kind, Transform: t}); err != nil {
			return err
		}
	}
	return sink.RecordRun(&store.Run{
		ID:          r.Session,
		Fixture:     r.Fixture,
		Frames:      r.Frames,
		Errors:      r.Errors,
		StartedAt:   r.StartedAt,
		CompletedAt: r.CompletedAt,
	})
}
