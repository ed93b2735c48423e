package stl

import (
	"fmt"
	"runtime"
	"slices"
	"sync"

	"gonum.org/v1/gonum/spatial/r3"

	"contoursto3d/internal/logging"
	"contoursto3d/internal/models"
)

// cubeCorners are the voxel offsets of a cell's eight corners
var cubeCorners = [8][3]int{
	{0, 0, 0}, {1, 0, 0}, {1, 1, 0}, {0, 1, 0},
	{0, 0, 1}, {1, 0, 1}, {1, 1, 1}, {0, 1, 1},
}

// cubeTetrahedra splits a cell into six tetrahedra around the 0-6 diagonal.
// Neighboring cells split their shared faces the same way, so the extracted
// surface has no cracks.
var cubeTetrahedra = [6][4]int{
	{0, 6, 1, 2}, {0, 6, 2, 3}, {0, 6, 3, 7},
	{0, 6, 7, 4}, {0, 6, 4, 5}, {0, 6, 5, 1},
}

// Extractor builds triangle meshes from distance volumes with marching
// tetrahedra
type Extractor struct {
	// Workers is the number of goroutines sharing the cells; 0 uses all CPUs
	Workers int

	// SmoothIterations and SmoothRelaxation control Laplacian smoothing
	SmoothIterations int
	SmoothRelaxation float64
}

// NewExtractor creates an extractor with the given smoothing settings
func NewExtractor(iterations int, relaxation float64) *Extractor {
	return &Extractor{SmoothIterations: iterations, SmoothRelaxation: relaxation}
}

// gridEdge identifies a cell edge by its two flat voxel indices, a < b
type gridEdge struct {
	a, b int
}

func newGridEdge(a, b int) gridEdge {
	if a > b {
		a, b = b, a
	}
	return gridEdge{a, b}
}

// Extract returns the iso-surface of vol at threshold. Triangles are wound so
// their normals face values above the threshold. The volume is left untouched.
func (e *Extractor) Extract(vol *models.Volume, threshold float64, smooth bool) (*models.Surface, error) {
	if vol == nil || vol.Width < 2 || vol.Height < 2 || vol.Depth < 2 {
		return nil, fmt.Errorf("%w: volume too small for surface extraction", models.ErrInsufficientInput)
	}

	workers := e.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	cellLayers := vol.Depth - 1
	if workers > cellLayers {
		workers = cellLayers
	}

	// Each worker handles a slab of cell layers; slabs are merged in order so
	// the output does not depend on scheduling
	slabs := make([][][3]gridEdge, workers)
	layersPerWorker := (cellLayers + workers - 1) / workers

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			start := workerID * layersPerWorker
			end := min(start+layersPerWorker, cellLayers)
			for z := start; z < end; z++ {
				slabs[workerID] = polygoniseLayer(vol, threshold, z, slabs[workerID])
			}
		}(w)
	}
	wg.Wait()

	surface := &models.Surface{}
	vertexIndex := make(map[gridEdge]int)
	flip := frameDeterminant(vol.Frame) < 0
	for _, slab := range slabs {
		for _, tri := range slab {
			var t [3]int
			for k, edge := range tri {
				idx, ok := vertexIndex[edge]
				if !ok {
					idx = len(surface.Vertices)
					vertexIndex[edge] = idx
					surface.Vertices = append(surface.Vertices, edgeVertex(vol, threshold, edge))
				}
				t[k] = idx
			}
			if flip {
				t[1], t[2] = t[2], t[1]
			}
			surface.Triangles = append(surface.Triangles, t)
		}
	}

	if smooth && len(surface.Triangles) > 0 {
		Smooth(surface, e.SmoothIterations, e.SmoothRelaxation)
	}

	lo, hi := boundingBox(surface.Vertices)
	logging.Logger().Debug("extracted iso-surface",
		"threshold", threshold, "workers", workers,
		"vertices", len(surface.Vertices), "triangles", len(surface.Triangles),
		"smoothed", smooth, "min", lo, "max", hi)

	return surface, nil
}

// polygoniseLayer appends the triangles of all cells with lower corner at z
func polygoniseLayer(vol *models.Volume, threshold float64, z int, out [][3]gridEdge) [][3]gridEdge {
	var corner [8]int
	var value [8]float64
	for y := 0; y < vol.Height-1; y++ {
		for x := 0; x < vol.Width-1; x++ {
			below, above := 0, 0
			for i, o := range cubeCorners {
				corner[i] = vol.Index(x+o[0], y+o[1], z+o[2])
				value[i] = vol.Data[corner[i]]
				if value[i] < threshold {
					below++
				} else {
					above++
				}
			}
			if below == 0 || above == 0 {
				continue
			}
			for _, tet := range cubeTetrahedra {
				out = polygoniseTetrahedron(vol, threshold, tet, &corner, &value, out)
			}
		}
	}
	return out
}

// polygoniseTetrahedron emits zero, one or two triangles for one tetrahedron
func polygoniseTetrahedron(vol *models.Volume, threshold float64, tet [4]int, corner *[8]int, value *[8]float64, out [][3]gridEdge) [][3]gridEdge {
	var inBuf, outBuf [4]int
	in, outside := inBuf[:0], outBuf[:0]
	for _, c := range tet {
		if value[c] < threshold {
			in = append(in, corner[c])
		} else {
			outside = append(outside, corner[c])
		}
	}

	var tris [][3]gridEdge
	switch len(in) {
	case 1:
		tris = [][3]gridEdge{{
			newGridEdge(in[0], outside[0]),
			newGridEdge(in[0], outside[1]),
			newGridEdge(in[0], outside[2]),
		}}
	case 3:
		tris = [][3]gridEdge{{
			newGridEdge(outside[0], in[0]),
			newGridEdge(outside[0], in[1]),
			newGridEdge(outside[0], in[2]),
		}}
	case 2:
		// the four crossings form a quad in this cyclic order
		q0 := newGridEdge(in[0], outside[0])
		q1 := newGridEdge(in[0], outside[1])
		q2 := newGridEdge(in[1], outside[1])
		q3 := newGridEdge(in[1], outside[0])
		tris = [][3]gridEdge{{q0, q1, q2}, {q0, q2, q3}}
	default:
		return out
	}

	// orient every triangle from the inside corners toward the outside ones
	direction := r3.Sub(gridCentroid(vol, outside), gridCentroid(vol, in))
	for _, t := range tris {
		a := edgeGridPoint(vol, threshold, t[0])
		b := edgeGridPoint(vol, threshold, t[1])
		c := edgeGridPoint(vol, threshold, t[2])
		if r3.Dot(r3.Cross(r3.Sub(b, a), r3.Sub(c, a)), direction) < 0 {
			t[1], t[2] = t[2], t[1]
		}
		out = append(out, t)
	}
	return out
}

// gridPoint returns the voxel coordinates of a flat index
func gridPoint(vol *models.Volume, idx int) r3.Vec {
	x, y, z := vol.Coords(idx)
	return r3.Vec{X: float64(x), Y: float64(y), Z: float64(z)}
}

func gridCentroid(vol *models.Volume, indices []int) r3.Vec {
	var sum r3.Vec
	for _, idx := range indices {
		sum = r3.Add(sum, gridPoint(vol, idx))
	}
	return r3.Scale(1/float64(len(indices)), sum)
}

// edgeGridPoint interpolates the threshold crossing along an edge in voxel
// coordinates
func edgeGridPoint(vol *models.Volume, threshold float64, e gridEdge) r3.Vec {
	pa, pb := gridPoint(vol, e.a), gridPoint(vol, e.b)
	va, vb := vol.Data[e.a], vol.Data[e.b]
	t := 0.5
	if va != vb {
		t = (threshold - va) / (vb - va)
	}
	return r3.Add(pa, r3.Scale(t, r3.Sub(pb, pa)))
}

// edgeVertex maps the crossing on an edge to world coordinates
func edgeVertex(vol *models.Volume, threshold float64, e gridEdge) r3.Vec {
	p := edgeGridPoint(vol, threshold, e)
	return vol.Frame.ToWorld(r3.Add(vol.Origin, r3.Scale(vol.Spacing, p)))
}

func frameDeterminant(g models.Geometry) float64 {
	d := g.Direction
	return d[0][0]*(d[1][1]*d[2][2]-d[1][2]*d[2][1]) -
		d[0][1]*(d[1][0]*d[2][2]-d[1][2]*d[2][0]) +
		d[0][2]*(d[1][0]*d[2][1]-d[1][1]*d[2][0])
}

// Smooth applies Laplacian smoothing in place: every vertex moves a fraction
// relaxation of the way toward the mean of its neighbors, iterations times
func Smooth(s *models.Surface, iterations int, relaxation float64) {
	if iterations <= 0 || relaxation == 0 {
		return
	}

	neighbors := make([][]int, len(s.Vertices))
	link := func(a, b int) {
		if !slices.Contains(neighbors[a], b) {
			neighbors[a] = append(neighbors[a], b)
		}
	}
	for _, t := range s.Triangles {
		for k := 0; k < 3; k++ {
			a, b := t[k], t[(k+1)%3]
			link(a, b)
			link(b, a)
		}
	}

	next := make([]r3.Vec, len(s.Vertices))
	for it := 0; it < iterations; it++ {
		for i, p := range s.Vertices {
			if len(neighbors[i]) == 0 {
				next[i] = p
				continue
			}
			var mean r3.Vec
			for _, j := range neighbors[i] {
				mean = r3.Add(mean, s.Vertices[j])
			}
			mean = r3.Scale(1/float64(len(neighbors[i])), mean)
			next[i] = r3.Add(p, r3.Scale(relaxation, r3.Sub(mean, p)))
		}
		s.Vertices, next = next, s.Vertices
	}
}
