// Package lines defines the polyline lists widgets push to a line renderer.
package lines

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// Color is a linear-space RGBA color.
type Color struct {
	R float32 `toml:"r" json:"r" yaml:"r"`
	G float32 `toml:"g" json:"g" yaml:"g"`
	B float32 `toml:"b" json:"b" yaml:"b"`
	A float32 `toml:"a" json:"a" yaml:"a"`
}

// RGBA returns a linear color.
func RGBA(r, g, b, a float32) Color {
	return Color{R: r, G: g, B: b, A: a}
}

// WithAlpha returns c with its alpha replaced.
func (c Color) WithAlpha(a float32) Color {
	c.A = a
	return c
}

// Point is one vertex of a line.
type Point struct {
	Point     mgl32.Vec3
	Thickness float32
	Color     Color
}

// Line is a polyline, closed when Cyclic is set.
type Line struct {
	Points []Point
	Cyclic bool
}

// Sink receives the complete line list every time it changes.
type Sink interface {
	SetLines(lines []Line) error
}

// Thickness returns a copy of l with every point's thickness set.
func (l Line) Thickness(t float32) Line {
	out := l.clone()
	for i := range out.Points {
		out.Points[i].Thickness = t
	}
	return out
}

// Color returns a copy of l with every point's color set.
func (l Line) Color(c Color) Line {
	out := l.clone()
	for i := range out.Points {
		out.Points[i].Color = c
	}
	return out
}

// Transform returns a copy of l with m applied to every point.
func (l Line) Transform(m mgl32.Mat4) Line {
	out := l.clone()
	for i := range out.Points {
		out.Points[i].Point = mgl32.TransformCoordinate(out.Points[i].Point, m)
	}
	return out
}

func (l Line) clone() Line {
	return Line{Points: append([]Point(nil), l.Points...), Cyclic: l.Cyclic}
}

// RoundedRectangle returns a closed outline of a width x height rectangle
// centred on the origin in the XY plane, with corners of the given radius
// approximated by segments points each.
func RoundedRectangle(width, height, radius float32, segments int) Line {
	if segments < 1 {
		segments = 1
	}
	hw, hh := width/2, height/2
	radius = mgl32.Clamp(radius, 0, min(hw, hh))

	corners := []struct {
		cx, cy float32
		start  float64
	}{
		{hw - radius, hh - radius, 0},
		{-hw + radius, hh - radius, math.Pi / 2},
		{-hw + radius, -hh + radius, math.Pi},
		{hw - radius, -hh + radius, 3 * math.Pi / 2},
	}

	points := make([]Point, 0, len(corners)*(segments+1))
	for _, c := range corners {
		for i := 0; i <= segments; i++ {
			angle := c.start + float64(i)/float64(segments)*math.Pi/2
			points = append(points, Point{
				Point: mgl32.Vec3{
					c.cx + radius*float32(math.Cos(angle)),
					c.cy + radius*float32(math.Sin(angle)),
					0,
				},
				Thickness: 0.001,
				Color:     RGBA(1, 1, 1, 1),
			})
		}
	}
	return Line{Points: points, Cyclic: true}
}
