package hover

import (
	"github.com/go-gl/mathgl/mgl32"

	"molecules/internal/input"
	"molecules/internal/lines"
)

// Range is an output interval. Min may exceed Max to flip an axis.
type Range struct {
	Min, Max float32
}

// Map linearly maps v from [from, to] onto the range.
func (r Range) Map(v, from, to float32) float32 {
	if from == to {
		return r.Min
	}
	return r.Min + (v-from)/(to-from)*(r.Max-r.Min)
}

// LineSettings styles the feedback line drawn from the surface to each
// hovering source.
type LineSettings struct {
	StartThickness     float32
	StartColorHover    lines.Color
	StartColorInteract lines.Color
	EndThickness       float32
	EndColorHover      lines.Color
	EndColorInteract   lines.Color
}

// DefaultLineSettings fades white lines out toward the source, teal while
// interacting.
func DefaultLineSettings() LineSettings {
	return LineSettings{
		StartThickness:     0.0,
		StartColorHover:    lines.RGBA(1, 1, 1, 1),
		StartColorInteract: lines.RGBA(0, 1, 0.75, 1),
		EndThickness:       0.005,
		EndColorHover:      lines.RGBA(1, 1, 1, 0),
		EndColorInteract:   lines.RGBA(0, 1, 0.75, 0),
	}
}

// Settings configures a Surface. It is also the state the surface's
// predicates read.
type Settings struct {
	// Size is the rectangle's width and height in plane-local units.
	Size mgl32.Vec2
	// Thickness is the depth of the input field behind the plane.
	Thickness float32

	XRange Range
	YRange Range

	PinchKey        string
	SelectKey       string
	PinchThreshold  float32
	SelectThreshold float32

	Lines LineSettings
}

// DefaultSettings returns a surface of the given size mapping onto [0, 1]
// on both axes.
func DefaultSettings(size mgl32.Vec2, thickness float32) Settings {
	return Settings{
		Size:            size,
		Thickness:       thickness,
		XRange:          Range{Min: 0, Max: 1},
		YRange:          Range{Min: 0, Max: 1},
		PinchKey:        input.KeyPinchStrength,
		SelectKey:       input.KeySelect,
		PinchThreshold:  0.90,
		SelectThreshold: 0.50,
		Lines:           DefaultLineSettings(),
	}
}

// DebugSettings styles the outline drawn by SetDebug.
type DebugSettings struct {
	LineThickness float32
	LineColor     lines.Color
}

func DefaultDebugSettings() DebugSettings {
	return DebugSettings{
		LineThickness: 0.002,
		LineColor:     lines.RGBA(0, 1, 1, 1),
	}
}
