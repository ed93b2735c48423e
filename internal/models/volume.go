package models

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

const (
	// FarValue marks voxels the narrow band never reached; outside by default
	FarValue = 10.0

	// InteriorValue marks unreached voxels enclosed by the surface
	InteriorValue = -10.0
)

// Volume represents a scalar distance volume sampled on an isotropic grid
type Volume struct {
	// Data is the 3D volume data as a 1D array, x fastest, then y, then z
	Data []float64

	// Width is the width of the volume in voxels
	Width int

	// Height is the height of the volume in voxels
	Height int

	// Depth is the depth of the volume in voxels
	Depth int

	// Spacing is the isotropic voxel size in mm
	Spacing float64

	// Origin is the frame-local position of voxel (0,0,0)
	Origin r3.Vec

	// Frame aligns the grid axes with a reference image
	Frame Geometry
}

// NewVolume allocates a volume filled with value
func NewVolume(width, height, depth int, spacing float64, origin r3.Vec, frame Geometry, value float64) *Volume {
	data := make([]float64, width*height*depth)
	for i := range data {
		data[i] = value
	}
	return &Volume{
		Data:    data,
		Width:   width,
		Height:  height,
		Depth:   depth,
		Spacing: spacing,
		Origin:  origin,
		Frame:   frame,
	}
}

// Index returns the flat index of voxel (x, y, z)
func (v *Volume) Index(x, y, z int) int {
	return z*v.Width*v.Height + y*v.Width + x
}

// Coords is the inverse of Index
func (v *Volume) Coords(idx int) (x, y, z int) {
	plane := v.Width * v.Height
	z = idx / plane
	rem := idx % plane
	return rem % v.Width, rem / v.Width, z
}

// Contains reports whether (x, y, z) is inside the grid
func (v *Volume) Contains(x, y, z int) bool {
	return x >= 0 && y >= 0 && z >= 0 && x < v.Width && y < v.Height && z < v.Depth
}

// OnBorder reports whether (x, y, z) lies on the outer voxel layer
func (v *Volume) OnBorder(x, y, z int) bool {
	return x == 0 || y == 0 || z == 0 || x == v.Width-1 || y == v.Height-1 || z == v.Depth-1
}

// At returns the value at (x, y, z)
func (v *Volume) At(x, y, z int) float64 {
	return v.Data[v.Index(x, y, z)]
}

// WorldPosition returns the world coordinate of voxel (x, y, z)
func (v *Volume) WorldPosition(x, y, z int) r3.Vec {
	local := r3.Add(v.Origin, r3.Scale(v.Spacing, r3.Vec{X: float64(x), Y: float64(y), Z: float64(z)}))
	return v.Frame.ToWorld(local)
}

// NearestVoxel returns the voxel closest to a world point and whether it lies in the grid
func (v *Volume) NearestVoxel(p r3.Vec) (x, y, z int, ok bool) {
	local := r3.Scale(1/v.Spacing, r3.Sub(v.Frame.ToLocal(p), v.Origin))
	x, y, z = int(math.Round(local.X)), int(math.Round(local.Y)), int(math.Round(local.Z))
	return x, y, z, v.Contains(x, y, z)
}

// Surface is a triangle mesh, optionally carrying polylines
type Surface struct {
	// Vertices are shared between triangles
	Vertices []r3.Vec

	// Triangles index into Vertices, wound so normals face the positive side
	Triangles [][3]int

	// Lines holds polylines as vertex index runs
	Lines [][]int
}

// IsEmpty reports whether the surface has no geometry
func (s *Surface) IsEmpty() bool {
	return s == nil || (len(s.Triangles) == 0 && len(s.Lines) == 0)
}
