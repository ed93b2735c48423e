package sampling

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"

	"contoursto3d/internal/models"
)

// spherePoints returns points on a sphere plus the offset shells a fitted
// field would carry as inside/outside centers
func spherePoints(radius float64, n int) (surface, centers []r3.Vec) {
	golden := math.Pi * (3 - math.Sqrt(5))
	for i := 0; i < n; i++ {
		y := 1 - 2*(float64(i)+0.5)/float64(n)
		r := math.Sqrt(1 - y*y)
		a := golden * float64(i)
		dir := r3.Vec{X: r * math.Cos(a), Y: y, Z: r * math.Sin(a)}
		surface = append(surface, r3.Scale(radius, dir))
	}
	centers = append(centers, surface...)
	for _, p := range surface {
		centers = append(centers, r3.Scale((radius-1)/radius, p))
		centers = append(centers, r3.Scale((radius+1)/radius, p))
	}
	return surface, centers
}

func sphereField(radius float64) EvaluatorFunc {
	return func(p r3.Vec) float64 {
		return r3.Norm(p) - radius
	}
}

func mustSampler(t *testing.T, budget int) *Sampler {
	t.Helper()
	s, err := NewSampler(budget, 2, models.IdentityGeometry())
	if err != nil {
		t.Fatalf("NewSampler failed: %v", err)
	}
	return s
}

// TestGridGeometry verifies spacing follows the voxel budget
func TestGridGeometry(t *testing.T) {
	s := mustSampler(t, 1000)
	dims, spacing, origin := s.Geometry([]r3.Vec{{}, {X: 10, Y: 10, Z: 10}})

	if math.Abs(spacing-1) > 1e-12 {
		t.Errorf("Expected spacing 1, got %g", spacing)
	}
	for axis, d := range dims {
		if d != 15 {
			t.Errorf("axis %d: expected 15 voxels, got %d", axis, d)
		}
	}
	if r3.Norm(r3.Sub(origin, r3.Vec{X: -2, Y: -2, Z: -2})) > 1e-12 {
		t.Errorf("Expected origin (-2,-2,-2), got %v", origin)
	}
}

// TestGridGeometryFlatInput verifies coplanar centers still get a usable grid
func TestGridGeometryFlatInput(t *testing.T) {
	s := mustSampler(t, 5000)
	dims, spacing, _ := s.Geometry([]r3.Vec{{}, {X: 20, Y: 20}})
	if spacing <= 0 || math.IsInf(spacing, 0) || math.IsNaN(spacing) {
		t.Fatalf("Expected finite positive spacing, got %g", spacing)
	}
	if dims[2] < 1+2*s.Margin {
		t.Errorf("Expected at least %d voxels along z, got %d", 1+2*s.Margin, dims[2])
	}
}

// TestSampleSphere checks signs, band values and the number of evaluations
func TestSampleSphere(t *testing.T) {
	const radius = 5.0
	surface, centers := spherePoints(radius, 200)
	field := sphereField(radius)

	vol, stats, err := mustSampler(t, 20000).Sample(field, centers, surface)
	if err != nil {
		t.Fatalf("Sample failed: %v", err)
	}

	if stats.BandVoxels == 0 {
		t.Fatal("Expected a non-empty narrow band")
	}
	if stats.Evaluations >= len(vol.Data)/2 {
		t.Errorf("Expected sparse evaluation, got %d of %d voxels", stats.Evaluations, len(vol.Data))
	}
	if stats.InteriorVoxels == 0 {
		t.Error("Expected the sphere interior to be filled")
	}

	for idx, v := range vol.Data {
		x, y, z := vol.Coords(idx)
		want := field(vol.WorldPosition(x, y, z))
		if vol.OnBorder(x, y, z) {
			if v != models.FarValue {
				t.Fatalf("border voxel (%d,%d,%d) = %g, expected FarValue", x, y, z, v)
			}
			continue
		}
		if math.Abs(want) < 1e-9 {
			continue
		}
		if (v < 0) != (want < 0) {
			t.Fatalf("voxel (%d,%d,%d): sign of %g does not match field %g", x, y, z, v, want)
		}
		if v != models.FarValue && v != models.InteriorValue && math.Abs(v-want) > 1e-12 {
			t.Fatalf("band voxel (%d,%d,%d) = %g, field is %g", x, y, z, v, want)
		}
	}

	cx, cy, cz, ok := vol.NearestVoxel(r3.Vec{})
	if !ok || vol.At(cx, cy, cz) != models.InteriorValue {
		t.Errorf("Expected InteriorValue at the sphere center")
	}
}

// TestSampleClippedCylinder verifies an interior cut by the grid border is
// still filled, while the border itself stays outside
func TestSampleClippedCylinder(t *testing.T) {
	const radius = 3.0
	field := EvaluatorFunc(func(p r3.Vec) float64 {
		return math.Hypot(p.X, p.Y) - radius
	})

	var surface, centers []r3.Vec
	for z := 0.0; z <= 10; z += 2 {
		for k := 0; k < 24; k++ {
			a := 2 * math.Pi * float64(k) / 24
			dir := r3.Vec{X: math.Cos(a), Y: math.Sin(a)}
			p := r3.Add(r3.Vec{Z: z}, r3.Scale(radius, dir))
			surface = append(surface, p)
			centers = append(centers, p, r3.Sub(p, dir), r3.Add(p, dir))
		}
	}

	vol, _, err := mustSampler(t, 20000).Sample(field, centers, surface)
	if err != nil {
		t.Fatalf("Sample failed: %v", err)
	}

	x, y, z, ok := vol.NearestVoxel(r3.Vec{Z: 5})
	if !ok {
		t.Fatal("axis midpoint outside the grid")
	}
	if v := vol.At(x, y, z); v != models.InteriorValue {
		t.Errorf("Expected InteriorValue on the axis, got %g", v)
	}
	if v := vol.At(x, y, 0); v != models.FarValue {
		t.Errorf("Expected FarValue on the bottom border, got %g", v)
	}
	if v := vol.At(x, y, vol.Depth-1); v != models.FarValue {
		t.Errorf("Expected FarValue on the top border, got %g", v)
	}
}

// TestSampleRotatedFrame verifies voxel positions round-trip through the frame
func TestSampleRotatedFrame(t *testing.T) {
	frame := models.Geometry{
		Origin:    r3.Vec{X: 4, Y: -2, Z: 1},
		Direction: [3][3]float64{{0, -1, 0}, {1, 0, 0}, {0, 0, 1}},
	}
	s, err := NewSampler(8000, 2, frame)
	if err != nil {
		t.Fatalf("NewSampler failed: %v", err)
	}

	surface, centers := spherePoints(4, 100)
	vol, _, err := s.Sample(sphereField(4), centers, surface)
	if err != nil {
		t.Fatalf("Sample failed: %v", err)
	}

	for _, ijk := range [][3]int{{0, 0, 0}, {3, 5, 7}, {vol.Width - 1, vol.Height - 1, vol.Depth - 1}} {
		p := vol.WorldPosition(ijk[0], ijk[1], ijk[2])
		x, y, z, ok := vol.NearestVoxel(p)
		if !ok || x != ijk[0] || y != ijk[1] || z != ijk[2] {
			t.Errorf("voxel %v round-tripped to (%d,%d,%d) ok=%v", ijk, x, y, z, ok)
		}
	}

	x, y, z, ok := vol.NearestVoxel(r3.Vec{})
	if !ok || vol.At(x, y, z) != models.InteriorValue {
		t.Errorf("Expected InteriorValue at the sphere center")
	}
}

// TestSampleErrors verifies configuration and input errors
func TestSampleErrors(t *testing.T) {
	if _, err := NewSampler(0, 2, models.IdentityGeometry()); !errors.Is(err, models.ErrConfiguration) {
		t.Errorf("zero budget: expected ErrConfiguration, got %v", err)
	}
	if _, err := NewSampler(100, 0, models.IdentityGeometry()); !errors.Is(err, models.ErrConfiguration) {
		t.Errorf("zero margin: expected ErrConfiguration, got %v", err)
	}

	s := mustSampler(t, 100)
	if _, _, err := s.Sample(sphereField(1), nil, nil); !errors.Is(err, models.ErrInsufficientInput) {
		t.Errorf("no centers: expected ErrInsufficientInput, got %v", err)
	}
}
