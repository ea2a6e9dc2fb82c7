// Package hover implements a bounded rectangular touch surface.
//
// Sources hover when they are over the rectangle on its front side (or, for
// rays, once they cross it), and one hovering source at a time may press.
// Source poses are expressed in the surface's local space: the plane is
// z = 0, the front is +z, and the rectangle is centred on the origin.
package hover

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"gioui.org/f32"
	"github.com/go-gl/mathgl/mgl32"

	"molecules/internal/action"
	"molecules/internal/input"
	"molecules/internal/lines"
	"molecules/internal/logging"
	"molecules/internal/metrics"
	"molecules/internal/spatial"
)

// parallelEpsilon is the smallest |dir.z| for which a ray is intersected
// with the plane. Flatter rays are dropped straight onto it.
const parallelEpsilon = 1e-6

// Option configures a Surface.
type Option func(*options)

type options struct {
	logger  *slog.Logger
	metrics *metrics.WidgetMetrics
}

// WithLogger sets the logger. Press edges log at Debug, frame errors at Warn.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics records frames and edges into m.
func WithMetrics(m *metrics.WidgetMetrics) Option {
	return func(o *options) { o.metrics = m }
}

// Surface is a 2D interactive plane.
type Surface struct {
	scene  spatial.Scene
	parent spatial.Node
	root   spatial.Node
	field  spatial.BoxField
	sink   lines.Sink
	debug  lines.Sink

	handler  *action.Handler[Settings]
	hover    *action.ConditionAction[Settings]
	interact *action.SingleActorSelector[Settings]

	enabled       bool
	debugSettings *DebugSettings
	lines         []lines.Line

	log     *slog.Logger
	metrics *metrics.WidgetMetrics
}

// New creates the surface's root at transform under parent, its box field
// and its line sink.
func New(scene spatial.Scene, parent spatial.Node, transform spatial.Transform, settings Settings, opts ...Option) (*Surface, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	root, err := scene.CreateSpatial(parent, transform, false)
	if err != nil {
		return nil, fmt.Errorf("hover: create root: %w", err)
	}
	field, err := scene.CreateBoxField(root, fieldTransform(settings.Thickness), fieldSize(settings))
	if err != nil {
		return nil, fmt.Errorf("hover: create field: %w", err)
	}
	sink, err := scene.CreateLines(root, spatial.Identity())
	if err != nil {
		return nil, fmt.Errorf("hover: create lines: %w", err)
	}

	return &Surface{
		scene:    scene,
		parent:   parent,
		root:     root,
		field:    field,
		sink:     sink,
		handler:  action.NewHandler(settings),
		hover:    action.NewConditionAction[Settings](false, hovering),
		interact: action.NewSingleActorSelector[Settings](true, interacting, false),
		enabled:  true,
		log:      logging.OrDiscard(o.logger),
		metrics:  o.metrics,
	}, nil
}

func fieldTransform(thickness float32) spatial.Transform {
	return spatial.FromTranslation(mgl32.Vec3{0, 0, -thickness / 2})
}

func fieldSize(s Settings) mgl32.Vec3 {
	return mgl32.Vec3{s.Size.X(), s.Size.Y(), s.Thickness}
}

// InteractPointLocal projects a source onto the plane: the ray/plane
// intersection for pointers, the pinch point for hands and the origin for
// tips. The result keeps its z so callers can tell front from back.
func InteractPointLocal(src *input.Source) (mgl32.Vec3, error) {
	switch c := src.Capability.(type) {
	case input.Pointer:
		dir := c.Direction()
		if mgl32.Abs(dir.Z()) < parallelEpsilon {
			return mgl32.Vec3{c.Origin.X(), c.Origin.Y(), 0}, nil
		}
		t := -c.Origin.Z() / dir.Z()
		return c.Origin.Add(dir.Mul(t)), nil
	case input.Hand:
		return c.PinchPoint(), nil
	case input.Tip:
		return c.Origin, nil
	default:
		return mgl32.Vec3{}, fmt.Errorf("%s: %w", src, input.ErrUnknownCapability)
	}
}

func within(size mgl32.Vec2, p mgl32.Vec3) bool {
	return mgl32.Abs(p.X())*2 < size.X() &&
		mgl32.Abs(p.Y())*2 < size.Y() &&
		!math.Signbit(float64(p.Z()))
}

func hovering(src *input.Source, s *Settings) (bool, error) {
	if src.IsPointer() {
		return src.Distance < 0, nil
	}
	p, err := InteractPointLocal(src)
	if err != nil {
		return false, err
	}
	return within(s.Size, p), nil
}

func interacting(src *input.Source, s *Settings) (bool, error) {
	switch src.Capability.(type) {
	case input.Hand:
		return src.Datamap.Exceeds(s.PinchKey, s.PinchThreshold)
	case input.Pointer, input.Tip:
		return src.Datamap.Exceeds(s.SelectKey, s.SelectThreshold)
	default:
		return false, fmt.Errorf("%s: %w", src, input.ErrUnknownCapability)
	}
}

func clampToSize(p mgl32.Vec3, size mgl32.Vec2) mgl32.Vec3 {
	hw, hh := size.X()/2, size.Y()/2
	return mgl32.Vec3{mgl32.Clamp(p.X(), -hw, hw), mgl32.Clamp(p.Y(), -hh, hh), 0}
}

// InteractPoint returns where src points on the surface in output units,
// and its local z. Local +y maps to YRange.Min.
func (s *Surface) InteractPoint(src *input.Source) (f32.Point, float32, error) {
	p, err := InteractPointLocal(src)
	if err != nil {
		return f32.Point{}, 0, err
	}
	st := s.handler.State()
	c := clampToSize(p, st.Size)
	hw, hh := st.Size.X()/2, st.Size.Y()/2
	return f32.Pt(
		st.XRange.Map(c.X(), -hw, hw),
		st.YRange.Map(c.Y(), hh, -hh),
	), p.Z(), nil
}

// Points maps sources to output points, skipping any that cannot be
// projected.
func (s *Surface) Points(sources []*input.Source) []f32.Point {
	out := make([]f32.Point, 0, len(sources))
	for _, src := range sources {
		if pt, _, err := s.InteractPoint(src); err == nil {
			out = append(out, pt)
		}
	}
	return out
}

// Update advances the surface by one frame and pushes the new line list.
// A disabled surface sees an empty frame.
func (s *Surface) Update(sources []*input.Source) error {
	start := time.Now()
	if !s.enabled {
		sources = nil
	}

	var errs []error
	if err := s.handler.UpdateActions(sources, s.hover, s.interact.Base()); err != nil {
		s.metrics.RecordPredicateError()
		errs = append(errs, err)
	}
	s.interact.Update(s.hover)

	switch {
	case s.interact.ActorStarted():
		s.log.Debug("press started", "source", s.interact.Actor().String())
	case s.interact.ActorChanged():
		s.log.Debug("press changed", "source", s.interact.Actor().String())
	case s.interact.ActorStopped():
		s.log.Debug("press stopped")
	}

	s.lines = s.feedbackLines()
	sceneErrs := 0
	if err := s.sink.SetLines(s.lines); err != nil {
		sceneErrs++
		errs = append(errs, fmt.Errorf("push lines: %w", err))
	}

	s.metrics.RecordEdges(s.interact.ActorStarted(), s.interact.ActorChanged(), s.interact.ActorStopped())
	s.metrics.RecordTransformErrors(sceneErrs)
	s.metrics.RecordFrame(time.Since(start), s.hover.CurrentlyActing().Len())

	if len(errs) == 0 {
		return nil
	}
	err := errors.Join(errs...)
	s.log.Warn("hover frame errors", "error", err)
	return err
}

// feedbackLines draws one line per hovering or pressing non-pointer source,
// from its clamped point on the surface to where it actually is.
func (s *Surface) feedbackLines() []lines.Line {
	st := s.handler.State()
	candidates := s.hover.CurrentlyActing()
	if actor := s.interact.Actor(); actor != nil && !candidates.Contains(actor.ID) {
		candidates = candidates.Union(input.NewSet(actor))
	}

	out := make([]lines.Line, 0, candidates.Len())
	for _, src := range candidates.Sources() {
		if src.IsPointer() {
			continue
		}
		p, err := InteractPointLocal(src)
		if err != nil {
			continue
		}
		startColor, endColor := st.Lines.StartColorHover, st.Lines.EndColorHover
		if s.interact.IsActor(src.ID) {
			startColor, endColor = st.Lines.StartColorInteract, st.Lines.EndColorInteract
		}
		out = append(out, lines.Line{Points: []lines.Point{
			{Point: clampToSize(p, st.Size), Thickness: st.Lines.StartThickness, Color: startColor},
			{Point: p, Thickness: st.Lines.EndThickness, Color: endColor},
		}})
	}
	return out
}

// SetSize resizes the rectangle and its field.
func (s *Surface) SetSize(size mgl32.Vec2) error {
	st := s.handler.State()
	st.Size = size
	s.handler.UpdateState(st)
	if err := s.field.SetSize(fieldSize(st)); err != nil {
		return fmt.Errorf("hover: resize field: %w", err)
	}
	return s.refreshDebug()
}

// SetThickness changes the field depth behind the plane.
func (s *Surface) SetThickness(thickness float32) error {
	st := s.handler.State()
	st.Thickness = thickness
	s.handler.UpdateState(st)
	if err := s.field.SetTransform(nil, fieldTransform(thickness)); err != nil {
		return fmt.Errorf("hover: move field: %w", err)
	}
	if err := s.field.SetSize(fieldSize(st)); err != nil {
		return fmt.Errorf("hover: resize field: %w", err)
	}
	return s.refreshDebug()
}

// SetRanges changes the output ranges.
func (s *Surface) SetRanges(x, y Range) {
	st := s.handler.State()
	st.XRange, st.YRange = x, y
	s.handler.UpdateState(st)
}

// SetEnabled toggles whether the surface receives input. Disabling releases
// every hovering source and the press on the next Update.
func (s *Surface) SetEnabled(enabled bool) { s.enabled = enabled }

// Enabled reports whether the surface receives input.
func (s *Surface) Enabled() bool { return s.enabled }

// SetDebug draws the rectangle outline at the front and back of the field,
// or removes it when settings is nil.
func (s *Surface) SetDebug(settings *DebugSettings) error {
	if settings == nil {
		s.debugSettings = nil
		if s.debug == nil {
			return nil
		}
		if err := s.debug.SetLines(nil); err != nil {
			return fmt.Errorf("hover: clear debug lines: %w", err)
		}
		return nil
	}
	cp := *settings
	s.debugSettings = &cp
	if s.debug == nil {
		sink, err := s.scene.CreateLines(s.root, spatial.Identity())
		if err != nil {
			return fmt.Errorf("hover: create debug lines: %w", err)
		}
		s.debug = sink
	}
	return s.refreshDebug()
}

func (s *Surface) refreshDebug() error {
	if s.debugSettings == nil || s.debug == nil {
		return nil
	}
	st := s.handler.State()
	d := s.debugSettings
	front := lines.RoundedRectangle(st.Size.X(), st.Size.Y(), d.LineThickness*0.5, 4).
		Thickness(d.LineThickness).
		Color(d.LineColor)
	back := front.
		Color(d.LineColor.WithAlpha(d.LineColor.A * 0.5)).
		Transform(mgl32.Translate3D(0, 0, -st.Thickness))
	if err := s.debug.SetLines([]lines.Line{front, back}); err != nil {
		return fmt.Errorf("hover: push debug lines: %w", err)
	}
	return nil
}

// HoveringInputs returns the sources hovering this frame.
func (s *Surface) HoveringInputs() input.Set { return s.hover.CurrentlyActing() }

// HoverPoints returns the hovering sources' points in output units.
func (s *Surface) HoverPoints() []f32.Point {
	return s.Points(s.hover.CurrentlyActing().Sources())
}

// InteractStatus exposes the press selector for its actor and edges.
func (s *Surface) InteractStatus() *action.SingleActorSelector[Settings] { return s.interact }

// HoverAction exposes the hover condition.
func (s *Surface) HoverAction() *action.ConditionAction[Settings] { return s.hover }

// Lines returns the feedback lines pushed by the last Update.
func (s *Surface) Lines() []lines.Line { return s.lines }

// Captured returns the sources this surface claims exclusively this frame.
func (s *Surface) Captured() []input.ID { return s.handler.Captured() }

// Settings returns the current size, ranges and thresholds.
func (s *Surface) Settings() Settings { return s.handler.State() }

// Root is the node the surface's field and lines hang from.
func (s *Surface) Root() spatial.Node { return s.root }

// Field returns the box field sitting behind the plane.
func (s *Surface) Field() spatial.BoxField { return s.field }

// SaveState returns the root's transform relative to its parent.
func (s *Surface) SaveState() (spatial.Transform, error) {
	t, err := s.root.TransformRelativeTo(s.parent)
	if err != nil {
		return spatial.Transform{}, fmt.Errorf("hover: save state: %w", err)
	}
	return t, nil
}
