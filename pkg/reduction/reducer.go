// Package reduction simplifies contour point sets before fitting and drops
// contours that are artifacts of plane/volume intersection.
package reduction

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/spatial/kdtree"
	"gonum.org/v1/gonum/spatial/r3"

	"contoursto3d/internal/logging"
	"contoursto3d/internal/models"
)

// Mode selects the point reduction strategy
type Mode int

const (
	// NthPoint keeps every k-th vertex
	NthPoint Mode = iota
	// DouglasPeucker keeps vertices deviating from the chord by more than a tolerance
	DouglasPeucker
)

func (m Mode) String() string {
	switch m {
	case NthPoint:
		return "nth_point"
	case DouglasPeucker:
		return "douglas_peucker"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode converts a configuration string to a Mode
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "nth_point", "nthpoint":
		return NthPoint, nil
	case "douglas_peucker", "douglaspeucker":
		return DouglasPeucker, nil
	}
	return 0, fmt.Errorf("%w: unknown reduction mode %q", models.ErrConfiguration, s)
}

// Params holds the reduction parameters
type Params struct {
	Mode Mode

	// StepSize is k for NthPoint
	StepSize int

	// Tolerance is the maximum chord deviation in mm for DouglasPeucker
	Tolerance float64

	// MinSpacing and MaxSpacing bound the expected distance between contour
	// planes, as derived from the source image's voxel spacing
	MinSpacing float64
	MaxSpacing float64
}

// Validate reports invalid parameters as models.ErrConfiguration
func (p Params) Validate() error {
	if p.MinSpacing < 0 || p.MaxSpacing < 0 {
		return fmt.Errorf("%w: spacing must not be negative", models.ErrConfiguration)
	}
	if p.MinSpacing > p.MaxSpacing {
		return fmt.Errorf("%w: minimum spacing %g exceeds maximum spacing %g", models.ErrConfiguration, p.MinSpacing, p.MaxSpacing)
	}
	switch p.Mode {
	case NthPoint:
		if p.StepSize < 1 {
			return fmt.Errorf("%w: step size must be at least 1, got %d", models.ErrConfiguration, p.StepSize)
		}
	case DouglasPeucker:
		if p.Tolerance <= 0 {
			return fmt.Errorf("%w: tolerance must be positive, got %g", models.ErrConfiguration, p.Tolerance)
		}
	default:
		return fmt.Errorf("%w: unknown reduction mode %v", models.ErrConfiguration, p.Mode)
	}
	return nil
}

// Reducer reduces contour point counts
type Reducer struct {
	params Params
}

// NewReducer validates params and returns a reducer
func NewReducer(params Params) (*Reducer, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Reducer{params: params}, nil
}

// Params returns the reducer's parameters
func (r *Reducer) Params() Params {
	return r.params
}

// Reduce returns a reduced copy of the contour. The input is not modified.
// Contours with fewer than 3 vertices are returned unreduced.
func (r *Reducer) Reduce(contour models.Contour) models.Contour {
	n := contour.Len()
	if n < 3 {
		return contour.Clone()
	}

	var keep []bool
	switch r.params.Mode {
	case DouglasPeucker:
		keep = r.douglasPeucker(contour)
	default:
		keep = r.nthPoint(contour)
	}

	out := models.Contour{
		Closed:   contour.Closed,
		Timestep: contour.Timestep,
		Vertices: make([]models.Vertex, 0, n),
	}
	for i, v := range contour.Vertices {
		if keep[i] || v.Control {
			out.Vertices = append(out.Vertices, v)
		}
	}
	return out
}

// nthPoint marks every k-th vertex plus the first and last
func (r *Reducer) nthPoint(contour models.Contour) []bool {
	n := contour.Len()
	keep := make([]bool, n)
	for i := 0; i < n; i += r.params.StepSize {
		keep[i] = true
	}
	keep[n-1] = true
	return keep
}

// douglasPeucker marks the vertices surviving Douglas-Peucker reduction.
// A closed contour is split at the vertex farthest from the first so both
// halves keep their extent.
func (r *Reducer) douglasPeucker(contour models.Contour) []bool {
	pts := contour.Points()
	n := len(pts)
	keep := make([]bool, n)
	keep[0] = true
	keep[n-1] = true

	if contour.Closed {
		split := 0
		farthest := -1.0
		for i := 1; i < n; i++ {
			if d := r3.Norm2(r3.Sub(pts[i], pts[0])); d > farthest {
				farthest = d
				split = i
			}
		}
		keep[split] = true
		r.simplify(pts, 0, split, keep)
		r.simplify(pts, split, n-1, keep)
		return keep
	}

	r.simplify(pts, 0, n-1, keep)
	return keep
}

// simplify recursively keeps the vertex farthest from the chord first-last
// while its deviation exceeds the tolerance
func (r *Reducer) simplify(pts []r3.Vec, first, last int, keep []bool) {
	if last-first < 2 {
		return
	}
	index := -1
	maxDist := 0.0
	for i := first + 1; i < last; i++ {
		if d := segmentDistance(pts[i], pts[first], pts[last]); d > maxDist {
			maxDist = d
			index = i
		}
	}
	if index < 0 || maxDist <= r.params.Tolerance {
		return
	}
	keep[index] = true
	r.simplify(pts, first, index, keep)
	r.simplify(pts, index, last, keep)
}

// segmentDistance returns the distance from p to segment ab
func segmentDistance(p, a, b r3.Vec) float64 {
	ab := r3.Sub(b, a)
	l2 := r3.Norm2(ab)
	if l2 == 0 {
		return r3.Norm(r3.Sub(p, a))
	}
	t := r3.Dot(r3.Sub(p, a), ab) / l2
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}
	return r3.Norm(r3.Sub(p, r3.Add(a, r3.Scale(t, ab))))
}

// ReduceAll filters intersection artifacts across inputs and reduces the
// surviving contours. Each input is the contour set of one plane.
//
// A contour every vertex of which lies within MaxSpacing of a surviving
// contour from another input is dropped, unless the two contours lie on
// parallel planes at least MinSpacing apart: those are neighbouring slices.
// Contours are visited in order and dropped contours no longer count as
// references, so of two mutually overlapping contours the first is removed.
// In a chain of overlapping contours every contour but the last is removed.
func (r *Reducer) ReduceAll(inputs [][]models.Contour) [][]models.Contour {
	type entry struct {
		input int
		tree  *kdtree.Tree
		plane plane
		alive bool
	}

	var entries []*entry
	index := make([][]*entry, len(inputs))
	for i, contours := range inputs {
		index[i] = make([]*entry, len(contours))
		for j, c := range contours {
			e := &entry{input: i, alive: true}
			if c.Len() > 0 {
				e.tree = newTree(c.Points())
				e.plane = contourPlane(c.Points())
			}
			entries = append(entries, e)
			index[i][j] = e
		}
	}

	if r.params.MaxSpacing > 0 && len(inputs) > 1 {
		for i, contours := range inputs {
			for j, c := range contours {
				if c.Len() == 0 {
					continue
				}
				self := index[i][j]
				for _, other := range entries {
					if !other.alive || other.input == self.input {
						continue
					}
					if r.separateSlices(self.plane, other.plane) {
						continue
					}
					if r.coveredBy(c, other.tree) {
						self.alive = false
						logging.Logger().Warn("dropping contour as plane intersection artifact",
							"input", i, "contour", j, "vertices", c.Len())
						break
					}
				}
			}
		}
	}

	out := make([][]models.Contour, len(inputs))
	for i, contours := range inputs {
		out[i] = make([]models.Contour, 0, len(contours))
		for j, c := range contours {
			if !index[i][j].alive {
				continue
			}
			reduced := r.Reduce(c)
			logging.Logger().Debug("reduced contour",
				"input", i, "contour", j, "mode", r.params.Mode.String(),
				"before", c.Len(), "after", reduced.Len())
			out[i] = append(out[i], reduced)
		}
	}
	return out
}

// separateSlices reports whether a and b are parallel planes whose distance
// is at least MinSpacing. Coincident planes are never separate.
func (r *Reducer) separateSlices(a, b plane) bool {
	if !a.ok || !b.ok {
		return false
	}
	if math.Abs(r3.Dot(a.normal, b.normal)) < parallelCos {
		return false
	}
	gap := math.Abs(r3.Dot(a.normal, r3.Sub(b.centroid, a.centroid)))
	return gap > planeSlack && gap >= r.params.MinSpacing-planeSlack
}

// coveredBy reports whether every vertex of c lies within MaxSpacing of the tree
func (r *Reducer) coveredBy(c models.Contour, tree *kdtree.Tree) bool {
	if tree == nil {
		return false
	}
	for _, v := range c.Vertices {
		if !within(tree, v.Position, r.params.MaxSpacing) {
			return false
		}
	}
	return true
}
