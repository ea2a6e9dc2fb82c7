// Package input models the per-frame snapshots that pointing devices report to
// an input handler.
//
// A Source is built fresh every frame by the input collaborator and is never
// mutated afterwards. Its ID is the only thing that survives from one frame to
// the next, so all cross-frame bookkeeping (set deltas, actor tracking) is keyed
// by ID while the snapshot itself is only read.
package input

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"
)

// ID is a stable handle issued per physical device.
type ID uint64

// Capability is the closed set of device shapes: Hand, Pointer and Tip.
// Consumers switch over the concrete type and handle all three.
type Capability interface {
	capability()
}

// Hand is a tracked hand reduced to the joints the widgets care about.
type Hand struct {
	Right        bool
	ThumbTip     mgl32.Vec3
	IndexTip     mgl32.Vec3
	PalmPosition mgl32.Vec3
	PalmRotation mgl32.Quat
}

// PinchPoint returns the midpoint between thumb tip and index tip.
func (h Hand) PinchPoint() mgl32.Vec3 {
	return h.ThumbTip.Add(h.IndexTip).Mul(0.5)
}

// Pointer is a ray. The ray travels along the orientation's forward axis (-Z).
type Pointer struct {
	Origin      mgl32.Vec3
	Orientation mgl32.Quat
}

// Direction returns the unit direction of the ray.
func (p Pointer) Direction() mgl32.Vec3 {
	return p.Orientation.Rotate(mgl32.Vec3{0, 0, -1}).Normalize()
}

// Tip is a point-like device such as a stylus or controller tip.
type Tip struct {
	Origin      mgl32.Vec3
	Orientation mgl32.Quat
}

func (Hand) capability()    {}
func (Pointer) capability() {}
func (Tip) capability()     {}

// Source is one device's report for a single frame.
type Source struct {
	ID         ID
	Capability Capability
	// Distance is the signed distance from the device to the handler's field.
	Distance float32
	Datamap  Datamap
}

// NewSource builds a snapshot, rejecting a nil capability.
func NewSource(id ID, c Capability, distance float32, dm Datamap) (*Source, error) {
	if c == nil {
		return nil, fmt.Errorf("source %d: %w", id, ErrUnknownCapability)
	}
	return &Source{ID: id, Capability: c, Distance: distance, Datamap: dm}, nil
}

// Kind returns the capability name: "hand", "pointer" or "tip".
func (s *Source) Kind() string {
	switch s.Capability.(type) {
	case Hand:
		return KindHand
	case Pointer:
		return KindPointer
	case Tip:
		return KindTip
	default:
		return "unknown"
	}
}

// IsPointer reports whether the source is a ray.
func (s *Source) IsPointer() bool {
	_, ok := s.Capability.(Pointer)
	return ok
}

// Capability kind names used by fixtures and logs.
const (
	KindHand    = "hand"
	KindPointer = "pointer"
	KindTip     = "tip"
)

func (s *Source) String() string {
	return fmt.Sprintf("%s#%d", s.Kind(), s.ID)
}
