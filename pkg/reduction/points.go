package reduction

import (
	"gonum.org/v1/gonum/spatial/kdtree"
	"gonum.org/v1/gonum/spatial/r3"
)

// point wraps r3.Vec to satisfy kdtree.Comparable
type point r3.Vec

// Compare implements the kdtree.Comparable interface
func (p point) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(point)
	switch d {
	case 0:
		return p.X - q.X
	case 1:
		return p.Y - q.Y
	case 2:
		return p.Z - q.Z
	default:
		panic("illegal dimension")
	}
}

// Dims returns the number of dimensions for the KD-tree
func (p point) Dims() int { return 3 }

// Distance returns the squared Euclidean distance between two points
func (p point) Distance(c kdtree.Comparable) float64 {
	return r3.Norm2(r3.Sub(r3.Vec(p), r3.Vec(c.(point))))
}

// points is a collection of point that satisfies kdtree.Interface
type points []point

func (p points) Index(i int) kdtree.Comparable         { return p[i] }
func (p points) Len() int                              { return len(p) }
func (p points) Slice(start, end int) kdtree.Interface { return p[start:end] }

// Pivot implements the kdtree.Interface method
func (p points) Pivot(d kdtree.Dim) int {
	return kdtree.Partition(pointPlane{points: p, Dim: d}, kdtree.MedianOfRandoms(pointPlane{points: p, Dim: d}, 100))
}

// pointPlane implements sort.Interface and kdtree.SortSlicer for points
type pointPlane struct {
	points
	kdtree.Dim
}

func (p pointPlane) Less(i, j int) bool {
	switch p.Dim {
	case 0:
		return p.points[i].X < p.points[j].X
	case 1:
		return p.points[i].Y < p.points[j].Y
	case 2:
		return p.points[i].Z < p.points[j].Z
	default:
		panic("illegal dimension")
	}
}

func (p pointPlane) Slice(start, end int) kdtree.SortSlicer {
	return pointPlane{points: p.points[start:end], Dim: p.Dim}
}

func (p pointPlane) Swap(i, j int) {
	p.points[i], p.points[j] = p.points[j], p.points[i]
}

// newTree builds a KD-tree over the given positions
func newTree(positions []r3.Vec) *kdtree.Tree {
	pts := make(points, len(positions))
	for i, p := range positions {
		pts[i] = point(p)
	}
	return kdtree.New(pts, false)
}

// within reports whether q lies within radius of any point in the tree
func within(tree *kdtree.Tree, q r3.Vec, radius float64) bool {
	if tree == nil || tree.Root == nil {
		return false
	}
	_, d2 := tree.Nearest(point(q))
	return d2 <= radius*radius
}

const (
	// parallelCos is the smallest |cos| between normals of parallel planes, about 1 degree
	parallelCos = 0.9998

	// planeSlack absorbs rounding in plane distances, in mm
	planeSlack = 1e-6
)

// plane is the best-fit plane of a contour. ok is false for collinear or
// single-point contours.
type plane struct {
	centroid r3.Vec
	normal   r3.Vec
	ok       bool
}

// contourPlane estimates a contour's plane from its centroid and Newell normal
func contourPlane(positions []r3.Vec) plane {
	var pl plane
	if len(positions) == 0 {
		return pl
	}
	for i, a := range positions {
		b := positions[(i+1)%len(positions)]
		pl.normal.X += (a.Y - b.Y) * (a.Z + b.Z)
		pl.normal.Y += (a.Z - b.Z) * (a.X + b.X)
		pl.normal.Z += (a.X - b.X) * (a.Y + b.Y)
		pl.centroid = r3.Add(pl.centroid, a)
	}
	pl.centroid = r3.Scale(1/float64(len(positions)), pl.centroid)

	n := r3.Norm(pl.normal)
	if n < 1e-12 {
		return pl
	}
	pl.normal = r3.Scale(1/n, pl.normal)
	pl.ok = true
	return pl
}
