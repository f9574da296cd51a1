package spatial

import "math"

// Vec3 is a point or offset in world space.
type Vec3 struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
	Z float32 `json:"z"`
}

func NewVec3(x, y, z float32) Vec3 {
	return Vec3{x, y, z}
}

func (a Vec3) Equal(b Vec3) bool {
	return a.X == b.X && a.Y == b.Y && a.Z == b.Z
}

func (a Vec3) EqualWithEpsilon(b Vec3, epsilon float64) bool {
	return math.Abs((float64)(a.X-b.X)) <= epsilon &&
		math.Abs((float64)(a.Y-b.Y)) <= epsilon &&
		math.Abs((float64)(a.Z-b.Z)) <= epsilon
}

func Add(a Vec3, b Vec3) Vec3 {
	return Vec3{a.X + b.X, a.Y + b.Y, a.Z + b.Z}
}

func Sub(a Vec3, b Vec3) Vec3 {
	return Vec3{a.X - b.X, a.Y - b.Y, a.Z - b.Z}
}

// Sphere is a bounding sphere attached to a stored object, expressed as an
// offset from the object's position.
type Sphere struct {
	Center Vec3    `json:"center"`
	Radius float32 `json:"radius"`
}

// Square is an axis-aligned square in the ground plane, described by its
// center and half its side length.
type Square struct {
	CX       float32
	CY       float32
	HalfSize float32
}

func NewSquare(cx, cy, halfSize float32) Square {
	return Square{CX: cx, CY: cy, HalfSize: halfSize}
}

// Contains reports whether other lies fully inside s. The test is evaluated
// independently per axis, which is exact for axis-aligned squares.
func (s Square) Contains(other Square) bool {
	return (float32)(math.Abs((float64)(other.CX-s.CX)))+other.HalfSize < s.HalfSize &&
		(float32)(math.Abs((float64)(other.CY-s.CY)))+other.HalfSize < s.HalfSize
}

// Intersects reports whether s and other overlap. Squares sharing only an
// edge or a corner count as overlapping.
func (s Square) Intersects(other Square) bool {
	return (float32)(math.Abs((float64)(other.CX-s.CX))) <= s.HalfSize+other.HalfSize &&
		(float32)(math.Abs((float64)(other.CY-s.CY))) <= s.HalfSize+other.HalfSize
}

// Footprint returns the ground-plane square covered by an object's bounding
// sphere, anchored at the object's position.
func Footprint[T Bounded](o T) Square {
	p := o.Position()
	b := o.Bounds()
	return Square{
		CX:       p.X + b.Center.X,
		CY:       p.Y + b.Center.Y,
		HalfSize: b.Radius,
	}
}
