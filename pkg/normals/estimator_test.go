package normals

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"

	"contoursto3d/internal/models"
)

// circle creates a circular contour; clockwise reverses the winding
func circle(radius, z float64, n int, clockwise bool) models.Contour {
	pts := make([]r3.Vec, n)
	for i := range pts {
		a := 2 * math.Pi * float64(i) / float64(n)
		if clockwise {
			a = -a
		}
		pts[i] = r3.Vec{X: radius * math.Cos(a), Y: radius * math.Sin(a), Z: z}
	}
	return models.NewContour(pts, true)
}

// lShape creates a densely sampled closed L-shaped contour in the XY plane
func lShape() models.Contour {
	corners := []r3.Vec{{X: 0, Y: 0}, {X: 4, Y: 0}, {X: 4, Y: 2}, {X: 2, Y: 2}, {X: 2, Y: 4}, {X: 0, Y: 4}}
	var pts []r3.Vec
	for i := range corners {
		a, b := corners[i], corners[(i+1)%len(corners)]
		for k := 0; k < 4; k++ {
			pts = append(pts, r3.Add(a, r3.Scale(float64(k)/4, r3.Sub(b, a))))
		}
	}
	return models.NewContour(pts, true)
}

// insidePolygon is a 2D even-odd test in the XY plane
func insidePolygon(p r3.Vec, poly []r3.Vec) bool {
	in := false
	for i, j := 0, len(poly)-1; i < len(poly); j, i = i, i+1 {
		a, b := poly[i], poly[j]
		if (a.Y > p.Y) != (b.Y > p.Y) && p.X < (b.X-a.X)*(p.Y-a.Y)/(b.Y-a.Y)+a.X {
			in = !in
		}
	}
	return in
}

// TestCircleNormalsPointOutward verifies both windings produce outward normals
func TestCircleNormalsPointOutward(t *testing.T) {
	for _, clockwise := range []bool{false, true} {
		c := circle(10, 3, 32, clockwise)
		normals := NewEstimator(1, nil).ComputeNormals([]models.Contour{c})

		if len(normals) != 1 || len(normals[0]) != c.Len() {
			t.Fatalf("Expected 1x%d normals, got %d contours", c.Len(), len(normals))
		}
		for i, n := range normals[0] {
			if math.Abs(r3.Norm(n)-1) > 1e-9 {
				t.Errorf("normal %d is not unit length: %v", i, n)
			}
			radial := r3.Unit(r3.Vec{X: c.Vertices[i].Position.X, Y: c.Vertices[i].Position.Y})
			if d := r3.Dot(n, radial); d < 0.99 {
				t.Errorf("clockwise=%v: normal %d not outward, dot=%.3f", clockwise, i, d)
			}
		}
	}
}

// TestConcaveContourNormals verifies concave corners do not flip normals
func TestConcaveContourNormals(t *testing.T) {
	c := lShape()
	pts := c.Points()
	normals := NewEstimator(1, nil).ComputeNormals([]models.Contour{c})[0]

	for i, n := range normals {
		if math.Abs(n.Z) > 1e-9 {
			t.Errorf("normal %d leaves the contour plane: %v", i, n)
		}
		out := r3.Add(pts[i], r3.Scale(0.05, n))
		in := r3.Sub(pts[i], r3.Scale(0.05, n))
		if insidePolygon(out, pts) {
			t.Errorf("vertex %d (%v): probe along normal is inside", i, pts[i])
		}
		if !insidePolygon(in, pts) {
			t.Errorf("vertex %d (%v): probe against normal is outside", i, pts[i])
		}
	}
}

// TestMaskFlipsInvertedContour verifies majority-inside probes negate all normals
func TestMaskFlipsInvertedContour(t *testing.T) {
	c := circle(10, 0, 24, false)

	// a mask whose segmentation is everything outside the circle
	mask := MaskFunc(func(p r3.Vec) (bool, error) {
		return math.Hypot(p.X, p.Y) > 10, nil
	})
	normals := NewEstimator(1, mask).ComputeNormals([]models.Contour{c})[0]

	for i, n := range normals {
		radial := r3.Unit(c.Vertices[i].Position)
		if r3.Dot(n, radial) > -0.99 {
			t.Errorf("normal %d should point toward the circle center, got %v", i, n)
		}
	}
}

// TestMaskKeepsConsistentContour verifies a matching mask leaves normals alone
func TestMaskKeepsConsistentContour(t *testing.T) {
	c := circle(10, 0, 24, true)
	mask := MaskFunc(func(p r3.Vec) (bool, error) {
		return math.Hypot(p.X, p.Y) < 10, nil
	})
	normals := NewEstimator(1, mask).ComputeNormals([]models.Contour{c})[0]
	for i, n := range normals {
		if r3.Dot(n, r3.Unit(c.Vertices[i].Position)) < 0.99 {
			t.Errorf("normal %d should stay outward, got %v", i, n)
		}
	}
}

// TestMaskOutOfBoundsCountsAsOutside verifies domain errors are absorbed
func TestMaskOutOfBoundsCountsAsOutside(t *testing.T) {
	c := circle(5, 0, 16, false)
	mask := MaskFunc(func(p r3.Vec) (bool, error) {
		return false, models.ErrOutOfBounds
	})
	normals := NewEstimator(1, mask).ComputeNormals([]models.Contour{c})[0]
	for i, n := range normals {
		if r3.Dot(n, r3.Unit(c.Vertices[i].Position)) < 0.99 {
			t.Errorf("normal %d flipped although every probe was outside", i)
		}
	}
}

// TestDegenerateVerticesKeepFiniteNormals verifies duplicate vertices reuse neighbors
func TestDegenerateVerticesKeepFiniteNormals(t *testing.T) {
	pts := []r3.Vec{{X: 0}, {X: 1}, {X: 1}, {X: 1, Y: 1}, {X: 0, Y: 1}}
	c := models.NewContour(pts, true)
	normals := NewEstimator(1, nil).ComputeNormals([]models.Contour{c})[0]
	for i, n := range normals {
		if !models.IsFinite(n) || math.Abs(r3.Norm(n)-1) > 1e-9 {
			t.Errorf("normal %d is not a finite unit vector: %v", i, n)
		}
	}
}

// TestOpenContourNormals verifies open arcs get one normal per vertex
func TestOpenContourNormals(t *testing.T) {
	pts := make([]r3.Vec, 9)
	for i := range pts {
		a := math.Pi * float64(i) / 8
		pts[i] = r3.Vec{X: 5 * math.Cos(a), Y: 5 * math.Sin(a), Z: 1}
	}
	c := models.NewContour(pts, false)
	normals := NewEstimator(1, nil).ComputeNormals([]models.Contour{c})[0]
	if len(normals) != len(pts) {
		t.Fatalf("Expected %d normals, got %d", len(pts), len(normals))
	}
	for i, n := range normals {
		if math.Abs(r3.Norm(n)-1) > 1e-9 {
			t.Errorf("normal %d is not unit length: %v", i, n)
		}
		if math.Abs(n.Z) > 1e-9 {
			t.Errorf("normal %d leaves the arc plane: %v", i, n)
		}
	}
}

// TestOrientedPoints verifies flattening keeps positions and normals aligned
func TestOrientedPoints(t *testing.T) {
	contours := []models.Contour{circle(10, 0, 8, false), circle(10, 20, 12, false)}
	points := NewEstimator(1, nil).OrientedPoints(contours)
	if len(points) != 20 {
		t.Fatalf("Expected 20 oriented points, got %d", len(points))
	}
	if points[8].Position != contours[1].Vertices[0].Position {
		t.Errorf("oriented points out of order")
	}
}

// TestLabelMask verifies voxel lookups and out-of-domain errors
func TestLabelMask(t *testing.T) {
	vol := models.NewVolume(4, 4, 4, 1.0, r3.Vec{}, models.IdentityGeometry(), 0)
	vol.Data[vol.Index(1, 2, 3)] = 2

	mask := NewLabelMask(vol, 2)

	in, err := mask.Inside(r3.Vec{X: 1.2, Y: 1.9, Z: 3})
	if err != nil || !in {
		t.Errorf("expected voxel (1,2,3) inside, got %v, %v", in, err)
	}
	in, err = mask.Inside(r3.Vec{X: 0, Y: 0, Z: 0})
	if err != nil || in {
		t.Errorf("expected voxel (0,0,0) outside, got %v, %v", in, err)
	}
	if _, err := mask.Inside(r3.Vec{X: 10}); !errors.Is(err, models.ErrOutOfBounds) {
		t.Errorf("expected ErrOutOfBounds, got %v", err)
	}
}
