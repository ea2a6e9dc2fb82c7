// Package grab lets exactly one input source hold an object and carry it.
//
// While grabbed, the content parent is reparented onto a root node that
// follows the holder's pose. On release it is reparented back onto the
// handler node in place, so whatever was attached stays where it was left.
package grab

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"molecules/internal/action"
	"molecules/internal/input"
	"molecules/internal/logging"
	"molecules/internal/metrics"
	"molecules/internal/spatial"
)

// Settings is the state shared by the manipulator's predicates.
type Settings struct {
	// MaxDistance is the field distance a source must be under to grab.
	MaxDistance float32

	PinchKey       string
	GrabKey        string
	PinchThreshold float32
	GrabThreshold  float32
}

// DefaultSettings returns the stock thresholds with the given reach.
func DefaultSettings(maxDistance float32) Settings {
	return Settings{
		MaxDistance:    maxDistance,
		PinchKey:       input.KeyPinchStrength,
		GrabKey:        input.KeyGrab,
		PinchThreshold: 0.90,
		GrabThreshold:  0.90,
	}
}

// Option configures a Manipulator.
type Option func(*options)

type options struct {
	logger  *slog.Logger
	metrics *metrics.WidgetMetrics
	anchor  *spatial.Transform
}

// WithLogger sets the logger. Actor edges log at Debug, frame errors at Warn.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics records frames and edges into m.
func WithMetrics(m *metrics.WidgetMetrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithAnchor places the content parent at a previously saved transform,
// relative to the handler node.
func WithAnchor(t spatial.Transform) Option {
	return func(o *options) { o.anchor = &t }
}

// Manipulator is a grab-and-carry widget.
type Manipulator struct {
	handlerNode   spatial.Node
	root          spatial.Node
	contentParent spatial.Node

	handler   *action.Handler[Settings]
	global    *action.ConditionAction[Settings]
	proximity *action.ConditionAction[Settings]
	grab      *action.SingleActorSelector[Settings]

	minDistance float32

	log     *slog.Logger
	metrics *metrics.WidgetMetrics
}

// New creates the handler node under parent, and the root and content parent
// under it. Scene failures are returned as is; nothing is retried.
func New(scene spatial.Scene, parent spatial.Node, settings Settings, opts ...Option) (*Manipulator, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	handlerNode, err := scene.CreateSpatial(parent, spatial.Identity(), false)
	if err != nil {
		return nil, fmt.Errorf("grab: create handler node: %w", err)
	}
	root, err := scene.CreateSpatial(handlerNode, spatial.Identity(), false)
	if err != nil {
		return nil, fmt.Errorf("grab: create root: %w", err)
	}
	anchor := spatial.Identity()
	if o.anchor != nil {
		anchor = *o.anchor
	}
	contentParent, err := scene.CreateSpatial(handlerNode, anchor, true)
	if err != nil {
		return nil, fmt.Errorf("grab: create content parent: %w", err)
	}

	return &Manipulator{
		handlerNode:   handlerNode,
		root:          root,
		contentParent: contentParent,
		handler:       action.NewHandler(settings),
		global:        action.NewConditionAction[Settings](false, action.Always[Settings]),
		proximity:     action.NewConditionAction[Settings](false, inRange),
		grab:          action.NewSingleActorSelector[Settings](true, triggered, false),
		minDistance:   float32(math.Inf(1)),
		log:           logging.OrDiscard(o.logger),
		metrics:       o.metrics,
	}, nil
}

func inRange(src *input.Source, s *Settings) (bool, error) {
	return src.Distance < s.MaxDistance, nil
}

func triggered(src *input.Source, s *Settings) (bool, error) {
	switch src.Capability.(type) {
	case input.Hand:
		return src.Datamap.Exceeds(s.PinchKey, s.PinchThreshold)
	case input.Pointer, input.Tip:
		return src.Datamap.Exceeds(s.GrabKey, s.GrabThreshold)
	default:
		return false, fmt.Errorf("%s: %w", src, input.ErrUnknownCapability)
	}
}

// Pose returns where a source holds things: the pinch point and palm
// rotation for hands, origin and orientation otherwise.
func Pose(src *input.Source) (spatial.Transform, error) {
	switch c := src.Capability.(type) {
	case input.Hand:
		return spatial.FromPose(c.PinchPoint(), c.PalmRotation), nil
	case input.Pointer:
		return spatial.FromPose(c.Origin, c.Orientation), nil
	case input.Tip:
		return spatial.FromPose(c.Origin, c.Orientation), nil
	default:
		return spatial.Transform{}, fmt.Errorf("%s: %w", src, input.ErrUnknownCapability)
	}
}

// Update advances the manipulator by one frame.
//
// Arbitration always completes. Failed predicate evaluations and scene
// operations are joined and returned after the rest of the frame ran.
func (m *Manipulator) Update(sources []*input.Source) error {
	start := time.Now()
	var errs []error

	if err := m.handler.UpdateActions(sources, m.global, m.proximity, m.grab.Base()); err != nil {
		m.metrics.RecordPredicateError()
		errs = append(errs, err)
	}
	m.grab.Update(m.proximity)

	var sceneErrs []error
	if actor := m.grab.Actor(); actor != nil {
		pose, err := Pose(actor)
		if err == nil {
			err = m.root.SetTransform(m.handlerNode, pose)
		}
		if err != nil {
			sceneErrs = append(sceneErrs, fmt.Errorf("follow %s: %w", actor, err))
		}
	}
	if m.grab.ActorStarted() {
		m.log.Debug("grab started", "source", m.grab.Actor().String())
		if err := m.contentParent.SetZoneable(false); err != nil {
			sceneErrs = append(sceneErrs, fmt.Errorf("disable zoning: %w", err))
		}
		if err := m.contentParent.SetParentInPlace(m.root); err != nil {
			sceneErrs = append(sceneErrs, fmt.Errorf("attach to root: %w", err))
		}
	}
	if m.grab.ActorChanged() {
		m.log.Debug("grab changed", "source", m.grab.Actor().String())
	}
	if m.grab.ActorStopped() {
		m.log.Debug("grab stopped")
		if err := m.contentParent.SetParentInPlace(m.handlerNode); err != nil {
			sceneErrs = append(sceneErrs, fmt.Errorf("detach from root: %w", err))
		}
		if err := m.contentParent.SetZoneable(true); err != nil {
			sceneErrs = append(sceneErrs, fmt.Errorf("enable zoning: %w", err))
		}
	}

	m.minDistance = float32(math.Inf(1))
	for _, src := range m.global.CurrentlyActing().Sources() {
		m.minDistance = min(m.minDistance, src.Distance)
	}

	m.metrics.RecordEdges(m.grab.ActorStarted(), m.grab.ActorChanged(), m.grab.ActorStopped())
	m.metrics.RecordTransformErrors(len(sceneErrs))
	m.metrics.RecordFrame(time.Since(start), m.proximity.CurrentlyActing().Len())

	errs = append(errs, sceneErrs...)
	if len(errs) == 0 {
		return nil
	}
	err := errors.Join(errs...)
	m.log.Warn("grab frame errors", "error", err)
	return err
}

// MinDistance returns the closest distance of any tracked source, +Inf when
// none are tracked.
func (m *Manipulator) MinDistance() float32 { return m.minDistance }

// Grabbed reports whether a source currently holds the object.
func (m *Manipulator) Grabbed() bool { return m.grab.Actor() != nil }

// GrabAction exposes the selector for its actor and edge accessors.
func (m *Manipulator) GrabAction() *action.SingleActorSelector[Settings] { return m.grab }

// ProximityAction exposes the in-range gate.
func (m *Manipulator) ProximityAction() *action.ConditionAction[Settings] { return m.proximity }

// ContentParent is where external content attaches.
func (m *Manipulator) ContentParent() spatial.Node { return m.contentParent }

// Root is the node driven by the holder's pose.
func (m *Manipulator) Root() spatial.Node { return m.root }

// HandlerNode is the static input frame.
func (m *Manipulator) HandlerNode() spatial.Node { return m.handlerNode }

// Captured returns the sources this manipulator claims exclusively this frame.
func (m *Manipulator) Captured() []input.ID { return m.handler.Captured() }

// Settings returns the current settings.
func (m *Manipulator) Settings() Settings { return m.handler.State() }

// SetSettings replaces the settings from the next frame on.
func (m *Manipulator) SetSettings(s Settings) { m.handler.UpdateState(s) }

// SaveState returns the content parent's transform relative to the handler
// node, suitable for WithAnchor.
func (m *Manipulator) SaveState() (spatial.Transform, error) {
	t, err := m.contentParent.TransformRelativeTo(m.handlerNode)
	if err != nil {
		return spatial.Transform{}, fmt.Errorf("grab: save state: %w", err)
	}
	return t, nil
}
