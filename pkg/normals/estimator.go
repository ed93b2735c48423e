// Package normals computes oriented per-vertex normals for planar contours.
package normals

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"contoursto3d/internal/logging"
	"contoursto3d/internal/models"
)

// degenerateEpsilon is the relative cross product magnitude below which two
// chords are treated as parallel
const degenerateEpsilon = 1e-8

// Estimator computes contour normals. Without a mask, normals point away
// from the region the contour encloses within its plane.
type Estimator struct {
	// MaxSpacing is the probe distance used for mask orientation
	MaxSpacing float64

	// Mask is the optional reference segmentation
	Mask Mask
}

// NewEstimator creates an estimator. mask may be nil.
func NewEstimator(maxSpacing float64, mask Mask) *Estimator {
	return &Estimator{MaxSpacing: maxSpacing, Mask: mask}
}

// ComputeNormals returns one unit normal per vertex for every contour,
// aligned index-for-index with the contour's vertices.
func (e *Estimator) ComputeNormals(contours []models.Contour) [][]r3.Vec {
	out := make([][]r3.Vec, len(contours))
	for i, c := range contours {
		normals := contourNormals(c.Points(), c.Closed)
		if e.Mask != nil && len(normals) > 0 {
			if e.shouldFlip(c, normals) {
				for j := range normals {
					normals[j] = r3.Scale(-1, normals[j])
				}
				logging.Logger().Debug("flipped contour normals to match reference mask", "contour", i)
			}
		}
		out[i] = normals
	}
	return out
}

// OrientedPoints flattens contours and their normals into oriented points
func (e *Estimator) OrientedPoints(contours []models.Contour) []models.OrientedPoint {
	normals := e.ComputeNormals(contours)
	var out []models.OrientedPoint
	for i, c := range contours {
		for j, v := range c.Vertices {
			out = append(out, models.OrientedPoint{Position: v.Position, Normal: normals[i][j]})
		}
	}
	return out
}

// shouldFlip probes the mask at vertex + normal*MaxSpacing and reports
// whether most probes land inside. Out-of-domain probes count as outside.
func (e *Estimator) shouldFlip(c models.Contour, normals []r3.Vec) bool {
	inside, outside, outOfBounds := 0, 0, 0
	for j, v := range c.Vertices {
		probe := r3.Add(v.Position, r3.Scale(e.MaxSpacing, normals[j]))
		in, err := e.Mask.Inside(probe)
		switch {
		case err != nil:
			if !errors.Is(err, models.ErrOutOfBounds) {
				logging.Logger().Warn("mask probe failed, counting as outside", "error", err)
			}
			outOfBounds++
			outside++
		case in:
			inside++
		default:
			outside++
		}
	}
	if outOfBounds > 0 {
		logging.Logger().Debug("mask probes outside domain", "count", outOfBounds)
	}
	return inside > outside
}

// contourNormals computes unit vertex normals for one contour
func contourNormals(pts []r3.Vec, closed bool) []r3.Vec {
	n := len(pts)
	if n == 0 {
		return nil
	}
	if n == 1 {
		return []r3.Vec{{Z: 1}}
	}

	plane := newellNormal(pts)
	havePlane := r3.Norm(plane) > 0
	if havePlane {
		plane = r3.Unit(plane)
	}

	edges := n - 1
	if closed {
		edges = n
	}

	// face normal per edge, from chords starting at the edge
	faces := make([]r3.Vec, edges)
	previous := plane
	if !havePlane {
		previous = perpendicular(r3.Sub(pts[1], pts[0]))
	}
	degenerate := 0
	for i := 0; i < edges; i++ {
		face, ok := faceNormal(pts, i, closed)
		if !ok {
			face = previous
			degenerate++
		} else if havePlane && r3.Dot(face, plane) < 0 {
			face = r3.Scale(-1, face)
		}
		faces[i] = face
		previous = face
	}
	if degenerate > 0 {
		logging.Logger().Warn("degenerate contour faces reuse previous normal", "faces", degenerate, "vertices", n)
	}

	edgeNormals := make([]r3.Vec, edges)
	for i := 0; i < edges; i++ {
		edge := r3.Sub(pts[(i+1)%n], pts[i])
		en := r3.Cross(edge, faces[i])
		if r3.Norm(en) == 0 {
			if i > 0 {
				en = edgeNormals[i-1]
			} else {
				en = perpendicular(faces[i])
			}
		}
		edgeNormals[i] = r3.Unit(en)
	}

	normals := make([]r3.Vec, n)
	for i := 0; i < n; i++ {
		var prev, next r3.Vec
		hasPrev, hasNext := false, false
		if i > 0 {
			prev, hasPrev = edgeNormals[i-1], true
		} else if closed {
			prev, hasPrev = edgeNormals[edges-1], true
		}
		if i < edges {
			next, hasNext = edgeNormals[i], true
		}

		var sum r3.Vec
		switch {
		case hasPrev && hasNext:
			sum = r3.Add(prev, next)
			if r3.Norm(sum) < degenerateEpsilon {
				sum = next
			}
		case hasPrev:
			sum = prev
		default:
			sum = next
		}
		normals[i] = r3.Unit(sum)
	}
	return normals
}

// faceNormal returns the normal of the face spanned at edge i. The second
// chord walks further along the contour until the cross product is no
// longer degenerate.
func faceNormal(pts []r3.Vec, i int, closed bool) (r3.Vec, bool) {
	n := len(pts)
	a := r3.Sub(pts[(i+1)%n], pts[i])
	la := r3.Norm(a)
	if la == 0 {
		return r3.Vec{}, false
	}
	for k := 2; k < n; k++ {
		j := i + k
		if j >= n {
			if !closed {
				break
			}
			j %= n
		}
		b := r3.Sub(pts[j], pts[(i+1)%n])
		c := r3.Cross(a, b)
		if r3.Norm(c) > degenerateEpsilon*la*r3.Norm(b) {
			return r3.Unit(c), true
		}
	}
	// open contours may still have a valid chord behind the edge
	for k := 1; k <= i; k++ {
		b := r3.Sub(pts[i], pts[i-k])
		c := r3.Cross(b, a)
		if r3.Norm(c) > degenerateEpsilon*la*r3.Norm(b) {
			return r3.Unit(c), true
		}
	}
	return r3.Vec{}, false
}

// newellNormal returns the area-weighted polygon normal. Its direction
// follows the winding, so edge x normal points out of the enclosed region.
func newellNormal(pts []r3.Vec) r3.Vec {
	var nrm r3.Vec
	for i := range pts {
		a := pts[i]
		b := pts[(i+1)%len(pts)]
		nrm.X += (a.Y - b.Y) * (a.Z + b.Z)
		nrm.Y += (a.Z - b.Z) * (a.X + b.X)
		nrm.Z += (a.X - b.X) * (a.Y + b.Y)
	}
	if r3.Norm(nrm) < degenerateEpsilon {
		return r3.Vec{}
	}
	return nrm
}

// perpendicular returns a unit vector orthogonal to v
func perpendicular(v r3.Vec) r3.Vec {
	if r3.Norm(v) == 0 {
		return r3.Vec{Z: 1}
	}
	axis := r3.Vec{X: 1}
	if math.Abs(v.X) > math.Abs(v.Y) && math.Abs(v.X) > math.Abs(v.Z) {
		axis = r3.Vec{Y: 1}
	}
	return r3.Unit(r3.Cross(v, axis))
}
