package models

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Vertex is a single contour point
type Vertex struct {
	// Position is the world coordinate of the vertex in mm
	Position r3.Vec

	// Control marks a vertex the contour source considers user-significant,
	// as opposed to points generated along a segment
	Control bool
}

// Contour represents one planar polyline drawn or extracted on a slice
type Contour struct {
	// Vertices holds the ordered contour points
	Vertices []Vertex

	// Closed is explicit; coincident endpoints do not imply closedness
	Closed bool

	// Timestep is the time step the contour belongs to
	Timestep int
}

// NewContour creates a contour from plain positions
func NewContour(points []r3.Vec, closed bool) Contour {
	c := Contour{
		Vertices: make([]Vertex, len(points)),
		Closed:   closed,
	}
	for i, p := range points {
		c.Vertices[i] = Vertex{Position: p}
	}
	return c
}

// Len returns the number of vertices
func (c Contour) Len() int {
	return len(c.Vertices)
}

// Points returns the vertex positions in order
func (c Contour) Points() []r3.Vec {
	points := make([]r3.Vec, len(c.Vertices))
	for i, v := range c.Vertices {
		points[i] = v.Position
	}
	return points
}

// Clone returns a deep copy of the contour
func (c Contour) Clone() Contour {
	out := c
	out.Vertices = make([]Vertex, len(c.Vertices))
	copy(out.Vertices, c.Vertices)
	return out
}

// OrientedPoint is a position with a unit normal
type OrientedPoint struct {
	Position r3.Vec
	Normal   r3.Vec
}

// PlanePose identifies the plane a contour was drawn on.
// Rotation holds the plane axes as columns, Offset is the plane origin.
type PlanePose struct {
	Rotation   [3][3]float64
	Offset     r3.Vec
	SliceIndex int
}

// AxialPose returns the pose of an axial (XY) plane at height z
func AxialPose(z float64, sliceIndex int) PlanePose {
	return PlanePose{
		Rotation:   Identity(),
		Offset:     r3.Vec{Z: z},
		SliceIndex: sliceIndex,
	}
}

// Identity returns the 3x3 identity matrix
func Identity() [3][3]float64 {
	return [3][3]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
}

// Geometry is the frame of a reference image. Direction holds the image
// axes as orthonormal columns.
type Geometry struct {
	Origin    r3.Vec
	Direction [3][3]float64
}

// IdentityGeometry returns a frame aligned with world axes at the origin
func IdentityGeometry() Geometry {
	return Geometry{Direction: Identity()}
}

// ToLocal maps a world point into the frame's coordinates
func (g Geometry) ToLocal(p r3.Vec) r3.Vec {
	d := r3.Sub(p, g.Origin)
	// Direction is orthonormal, so its inverse is its transpose
	return r3.Vec{
		X: g.Direction[0][0]*d.X + g.Direction[1][0]*d.Y + g.Direction[2][0]*d.Z,
		Y: g.Direction[0][1]*d.X + g.Direction[1][1]*d.Y + g.Direction[2][1]*d.Z,
		Z: g.Direction[0][2]*d.X + g.Direction[1][2]*d.Y + g.Direction[2][2]*d.Z,
	}
}

// ToWorld maps frame coordinates back to world space
func (g Geometry) ToWorld(p r3.Vec) r3.Vec {
	return r3.Add(g.Origin, r3.Vec{
		X: g.Direction[0][0]*p.X + g.Direction[0][1]*p.Y + g.Direction[0][2]*p.Z,
		Y: g.Direction[1][0]*p.X + g.Direction[1][1]*p.Y + g.Direction[1][2]*p.Z,
		Z: g.Direction[2][0]*p.X + g.Direction[2][1]*p.Y + g.Direction[2][2]*p.Z,
	})
}

// IsFinite reports whether all components of v are finite
func IsFinite(v r3.Vec) bool {
	return !math.IsNaN(v.X) && !math.IsNaN(v.Y) && !math.IsNaN(v.Z) &&
		!math.IsInf(v.X, 0) && !math.IsInf(v.Y, 0) && !math.IsInf(v.Z, 0)
}
