// Package spatial describes the scene-graph operations the widgets issue and
// provides an in-memory scene graph implementing them.
package spatial

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// Transform is a position, rotation and scale relative to some parent.
type Transform struct {
	Position mgl32.Vec3 `json:"position" yaml:"position"`
	Rotation mgl32.Quat `json:"rotation" yaml:"rotation"`
	Scale    mgl32.Vec3 `json:"scale" yaml:"scale"`
}

// Identity returns the transform that leaves everything in place.
func Identity() Transform {
	return Transform{Rotation: mgl32.QuatIdent(), Scale: mgl32.Vec3{1, 1, 1}}
}

// FromTranslation returns an identity transform moved to p.
func FromTranslation(p mgl32.Vec3) Transform {
	t := Identity()
	t.Position = p
	return t
}

// FromPose returns an unscaled transform at p with rotation r.
func FromPose(p mgl32.Vec3, r mgl32.Quat) Transform {
	return Transform{Position: p, Rotation: r, Scale: mgl32.Vec3{1, 1, 1}}
}

// Mat4 returns the matrix T*R*S.
func (t Transform) Mat4() mgl32.Mat4 {
	return mgl32.Translate3D(t.Position.X(), t.Position.Y(), t.Position.Z()).
		Mul4(t.Rotation.Normalize().Mat4()).
		Mul4(mgl32.Scale3D(t.Scale.X(), t.Scale.Y(), t.Scale.Z()))
}

// FromMat4 decomposes an affine matrix without shear.
func FromMat4(m mgl32.Mat4) Transform {
	sx := m.Col(0).Vec3().Len()
	sy := m.Col(1).Vec3().Len()
	sz := m.Col(2).Vec3().Len()

	rot := m
	if sx != 0 {
		rot.SetCol(0, m.Col(0).Mul(1/sx))
	}
	if sy != 0 {
		rot.SetCol(1, m.Col(1).Mul(1/sy))
	}
	if sz != 0 {
		rot.SetCol(2, m.Col(2).Mul(1/sz))
	}
	rot.SetCol(3, mgl32.Vec4{0, 0, 0, 1})

	return Transform{
		Position: m.Col(3).Vec3(),
		Rotation: mgl32.Mat4ToQuat(rot).Normalize(),
		Scale:    mgl32.Vec3{sx, sy, sz},
	}
}

// ApproxEqual compares two transforms within eps. Rotations q and -q are the
// same orientation.
func (t Transform) ApproxEqual(o Transform, eps float32) bool {
	if !t.Position.ApproxEqualThreshold(o.Position, eps) || !t.Scale.ApproxEqualThreshold(o.Scale, eps) {
		return false
	}
	dot := t.Rotation.Normalize().Dot(o.Rotation.Normalize())
	return float32(math.Abs(float64(dot))) >= 1-eps
}
