package spatial

import (
	"errors"

	"github.com/go-gl/mathgl/mgl32"

	"molecules/internal/lines"
)

var (
	// ErrNodeNotFound indicates a node that does not belong to the scene.
	ErrNodeNotFound = errors.New("spatial: node not found")

	// ErrCycle indicates a reparent that would make a node its own ancestor.
	ErrCycle = errors.New("spatial: parent cycle")

	// ErrDetached indicates an operation on a node that has been destroyed.
	ErrDetached = errors.New("spatial: node destroyed")
)

// Node is a spatial node in the host scene graph.
//
// Operations are synchronous and either fully applied or reported as failed.
type Node interface {
	// Parent returns the node's current spatial parent, nil for a scene root.
	Parent() Node
	// SetTransform sets the node's transform expressed relative to relativeTo.
	// A nil relativeTo means the node's own parent.
	SetTransform(relativeTo Node, t Transform) error
	// SetParentInPlace reparents the node while preserving its world pose.
	SetParentInPlace(parent Node) error
	// SetZoneable marks whether zones may capture this node.
	SetZoneable(zoneable bool) error
	// TransformRelativeTo returns the node's transform expressed in other's space.
	TransformRelativeTo(other Node) (Transform, error)
}

// BoxField is the opaque box volume used to scope a handler's input.
type BoxField interface {
	SetSize(size mgl32.Vec3) error
	SetTransform(relativeTo Node, t Transform) error
}

// Scene creates nodes on behalf of widgets.
type Scene interface {
	CreateSpatial(parent Node, t Transform, zoneable bool) (Node, error)
	CreateBoxField(parent Node, t Transform, size mgl32.Vec3) (BoxField, error)
	CreateLines(parent Node, t Transform) (lines.Sink, error)
}
