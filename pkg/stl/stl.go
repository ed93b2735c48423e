// Package stl extracts triangle surfaces from distance volumes and writes
// them as binary STL files.
package stl

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"gonum.org/v1/gonum/spatial/r3"

	"contoursto3d/internal/models"
)

// Triangle is one STL facet
type Triangle struct {
	Normal  [3]float32
	Vertex1 [3]float32
	Vertex2 [3]float32
	Vertex3 [3]float32
}

// Triangles converts a mesh into facets with unit normals computed from the
// winding
func Triangles(s *models.Surface) []Triangle {
	if s == nil {
		return nil
	}
	out := make([]Triangle, 0, len(s.Triangles))
	for _, t := range s.Triangles {
		a, b, c := s.Vertices[t[0]], s.Vertices[t[1]], s.Vertices[t[2]]
		n := r3.Cross(r3.Sub(b, a), r3.Sub(c, a))
		if l := r3.Norm(n); l > 0 {
			n = r3.Scale(1/l, n)
		}
		out = append(out, Triangle{
			Normal:  toFloat32(n),
			Vertex1: toFloat32(a),
			Vertex2: toFloat32(b),
			Vertex3: toFloat32(c),
		})
	}
	return out
}

// SaveSurface writes the triangles of a mesh to filename
func SaveSurface(filename string, s *models.Surface) error {
	return SaveToSTL(filename, Triangles(s))
}

// SaveToSTL writes triangles to a binary STL file
func SaveToSTL(filename string, triangles []Triangle) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create STL file: %w", err)
	}
	defer file.Close()

	if err := WriteSTL(file, triangles); err != nil {
		return fmt.Errorf("failed to write STL file %s: %w", filename, err)
	}
	return file.Close()
}

// WriteSTL encodes triangles in binary STL: an 80 byte header, a uint32
// facet count and 50 bytes per facet
func WriteSTL(w io.Writer, triangles []Triangle) error {
	header := make([]byte, 80)
	copy(header, "contoursto3d binary STL")
	if _, err := w.Write(header); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(triangles))); err != nil {
		return err
	}

	for _, t := range triangles {
		facet := struct {
			Triangle
			Attribute uint16
		}{Triangle: t}
		if err := binary.Write(w, binary.LittleEndian, facet); err != nil {
			return err
		}
	}
	return nil
}

// ReadSTL decodes a binary STL stream
func ReadSTL(r io.Reader) ([]Triangle, error) {
	header := make([]byte, 80)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("failed to read STL header: %w", err)
	}
	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("failed to read facet count: %w", err)
	}

	triangles := make([]Triangle, 0, count)
	for i := uint32(0); i < count; i++ {
		var facet struct {
			Triangle
			Attribute uint16
		}
		if err := binary.Read(r, binary.LittleEndian, &facet); err != nil {
			return nil, fmt.Errorf("failed to read facet %d: %w", i, err)
		}
		triangles = append(triangles, facet.Triangle)
	}
	return triangles, nil
}

func toFloat32(v r3.Vec) [3]float32 {
	return [3]float32{float32(v.X), float32(v.Y), float32(v.Z)}
}

// EnclosedVolume returns the signed volume of a closed mesh. It is positive
// when triangles are wound with normals facing outward.
func EnclosedVolume(s *models.Surface) float64 {
	sum := 0.0
	for _, t := range s.Triangles {
		a, b, c := s.Vertices[t[0]], s.Vertices[t[1]], s.Vertices[t[2]]
		sum += r3.Dot(a, r3.Cross(b, c))
	}
	return sum / 6
}

// Components returns the number of connected pieces of a mesh
func Components(s *models.Surface) int {
	parent := make([]int, len(s.Vertices))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		for parent[i] != i {
			parent[i] = parent[parent[i]]
			i = parent[i]
		}
		return i
	}
	for _, t := range s.Triangles {
		a := find(t[0])
		for _, v := range t[1:] {
			if b := find(v); b != a {
				parent[b] = a
			}
		}
	}

	roots := make(map[int]struct{})
	for _, t := range s.Triangles {
		roots[find(t[0])] = struct{}{}
	}
	return len(roots)
}

// boundingBox returns the extent of the mesh vertices
func boundingBox(vertices []r3.Vec) (lo, hi r3.Vec) {
	lo = r3.Vec{X: math.Inf(1), Y: math.Inf(1), Z: math.Inf(1)}
	hi = r3.Vec{X: math.Inf(-1), Y: math.Inf(-1), Z: math.Inf(-1)}
	for _, v := range vertices {
		lo = r3.Vec{X: math.Min(lo.X, v.X), Y: math.Min(lo.Y, v.Y), Z: math.Min(lo.Z, v.Z)}
		hi = r3.Vec{X: math.Max(hi.X, v.X), Y: math.Max(hi.Y, v.Y), Z: math.Max(hi.Z, v.Z)}
	}
	return lo, hi
}
