// Package sampling rasterises an implicit function into a narrow-band
// distance volume suitable for iso-surface extraction at threshold 0.
package sampling

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/gonum/stat"

	"contoursto3d/internal/logging"
	"contoursto3d/internal/models"
)

// Evaluator is an implicit function; negative values are inside
type Evaluator interface {
	Evaluate(p r3.Vec) float64
}

// EvaluatorFunc adapts a function to the Evaluator interface
type EvaluatorFunc func(p r3.Vec) float64

// Evaluate calls f(p)
func (f EvaluatorFunc) Evaluate(p r3.Vec) float64 {
	return f(p)
}

// DefaultVoxelBudget is the default number of voxels in the distance volume
const DefaultVoxelBudget = 50000

// minRelativeExtent keeps flat inputs from collapsing the grid to zero volume
const minRelativeExtent = 0.01

// Sampler builds distance volumes with a fixed voxel budget
type Sampler struct {
	// VoxelBudget is the target voxel count; the grid spacing follows from it
	VoxelBudget int

	// Margin is the number of voxels added on each side of the centers' bounding box
	Margin int

	// Frame aligns the grid with a reference image
	Frame models.Geometry
}

// Stats describes one sampling run
type Stats struct {
	Dims           [3]int
	Spacing        float64
	Evaluations    int
	BandVoxels     int
	InteriorVoxels int
	Components     int
	BandMean       float64
	BandStdDev     float64
}

// NewSampler validates the budget and margin
func NewSampler(voxelBudget, margin int, frame models.Geometry) (*Sampler, error) {
	if voxelBudget <= 0 {
		return nil, fmt.Errorf("%w: voxel budget must be positive, got %d", models.ErrConfiguration, voxelBudget)
	}
	if margin < 1 {
		return nil, fmt.Errorf("%w: margin must be at least 1 voxel, got %d", models.ErrConfiguration, margin)
	}
	return &Sampler{VoxelBudget: voxelBudget, Margin: margin, Frame: frame}, nil
}

// Sample evaluates f in a narrow band around the surface.
//
// The grid covers all centers plus the margin. Region growth starts at the
// voxels nearest to the seeds and accepts 6-connected neighbors with
// |f| <= spacing. Voxels the band never reached keep FarValue unless the band
// voxels around them are negative, in which case they become InteriorValue.
// The outer voxel layer is always FarValue so the zero level set is closed.
func (s *Sampler) Sample(f Evaluator, centers, seeds []r3.Vec) (*models.Volume, Stats, error) {
	var stats Stats
	if len(centers) == 0 || len(seeds) == 0 {
		return nil, stats, fmt.Errorf("%w: no centers to sample around", models.ErrInsufficientInput)
	}

	vol := s.allocate(centers)
	stats.Dims = [3]int{vol.Width, vol.Height, vol.Depth}
	stats.Spacing = vol.Spacing

	assigned := make([]bool, len(vol.Data))
	queue := make([]int, 0, len(seeds))

	for _, seed := range seeds {
		x, y, z, ok := vol.NearestVoxel(seed)
		if !ok {
			continue
		}
		idx := vol.Index(x, y, z)
		if assigned[idx] {
			continue
		}
		vol.Data[idx] = f.Evaluate(vol.WorldPosition(x, y, z))
		assigned[idx] = true
		stats.Evaluations++
		queue = append(queue, idx)
	}

	// evaluated marks voxels already rejected so they are not evaluated twice
	evaluated := make([]bool, len(vol.Data))
	for head := 0; head < len(queue); head++ {
		x, y, z := vol.Coords(queue[head])
		for _, d := range neighbors {
			nx, ny, nz := x+d[0], y+d[1], z+d[2]
			if !vol.Contains(nx, ny, nz) {
				continue
			}
			idx := vol.Index(nx, ny, nz)
			if assigned[idx] || evaluated[idx] {
				continue
			}
			v := f.Evaluate(vol.WorldPosition(nx, ny, nz))
			stats.Evaluations++
			evaluated[idx] = true
			if math.Abs(v) <= vol.Spacing {
				vol.Data[idx] = v
				assigned[idx] = true
				queue = append(queue, idx)
			}
		}
	}
	stats.BandVoxels = len(queue)

	band := make([]float64, len(queue))
	for i, idx := range queue {
		band[i] = vol.Data[idx]
	}
	if len(band) > 0 {
		stats.BandMean, stats.BandStdDev = stat.MeanStdDev(band, nil)
	}

	stats.Components, stats.InteriorVoxels = fillUnreached(vol, assigned)
	closeBorder(vol)

	logging.Logger().Debug("sampled distance volume",
		"dims", stats.Dims, "spacing", stats.Spacing,
		"evaluations", stats.Evaluations, "band", stats.BandVoxels,
		"interior", stats.InteriorVoxels, "components", stats.Components,
		"bandMean", stats.BandMean, "bandStdDev", stats.BandStdDev,
		"min", floats.Min(vol.Data), "max", floats.Max(vol.Data))

	return vol, stats, nil
}

// Geometry returns the grid Sample would allocate for the centers, without
// evaluating anything
func (s *Sampler) Geometry(centers []r3.Vec) (dims [3]int, spacing float64, origin r3.Vec) {
	lo, hi := s.bounds(centers)
	spacing = s.spacing(lo, hi)
	ext := r3.Sub(hi, lo)
	dims = [3]int{
		int(math.Ceil(ext.X/spacing)) + 1 + 2*s.Margin,
		int(math.Ceil(ext.Y/spacing)) + 1 + 2*s.Margin,
		int(math.Ceil(ext.Z/spacing)) + 1 + 2*s.Margin,
	}
	origin = r3.Sub(lo, r3.Scale(float64(s.Margin)*spacing, r3.Vec{X: 1, Y: 1, Z: 1}))
	return dims, spacing, origin
}

func (s *Sampler) allocate(centers []r3.Vec) *models.Volume {
	dims, spacing, origin := s.Geometry(centers)
	return models.NewVolume(dims[0], dims[1], dims[2], spacing, origin, s.Frame, models.FarValue)
}

// bounds returns the frame-local bounding box of the centers
func (s *Sampler) bounds(centers []r3.Vec) (lo, hi r3.Vec) {
	lo = r3.Vec{X: math.Inf(1), Y: math.Inf(1), Z: math.Inf(1)}
	hi = r3.Vec{X: math.Inf(-1), Y: math.Inf(-1), Z: math.Inf(-1)}
	for _, c := range centers {
		p := s.Frame.ToLocal(c)
		lo = r3.Vec{X: math.Min(lo.X, p.X), Y: math.Min(lo.Y, p.Y), Z: math.Min(lo.Z, p.Z)}
		hi = r3.Vec{X: math.Max(hi.X, p.X), Y: math.Max(hi.Y, p.Y), Z: math.Max(hi.Z, p.Z)}
	}
	return lo, hi
}

// spacing solves extentX*extentY*extentZ / spacing^3 = budget
func (s *Sampler) spacing(lo, hi r3.Vec) float64 {
	ext := []float64{hi.X - lo.X, hi.Y - lo.Y, hi.Z - lo.Z}
	largest := floats.Max(ext)
	if largest <= 0 {
		largest = 1
	}
	volume := 1.0
	for _, e := range ext {
		volume *= math.Max(e, minRelativeExtent*largest)
	}
	return math.Cbrt(volume / float64(s.VoxelBudget))
}

var neighbors = [6][3]int{
	{1, 0, 0}, {-1, 0, 0},
	{0, 1, 0}, {0, -1, 0},
	{0, 0, 1}, {0, 0, -1},
}

// fillUnreached gives each connected run of unassigned voxels the sign of
// the band voxels enclosing it. Runs touching the grid border are decided by
// the same vote, not forced positive; closeBorder resets the outer layer
// afterwards. Returns the number of runs and the number of voxels set to
// InteriorValue.
func fillUnreached(vol *models.Volume, assigned []bool) (components, interior int) {
	visited := make([]bool, len(vol.Data))
	var stack, members []int

	for start := range vol.Data {
		if assigned[start] || visited[start] {
			continue
		}
		components++
		negative, positive := 0, 0
		stack = append(stack[:0], start)
		members = members[:0]
		visited[start] = true

		for len(stack) > 0 {
			idx := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			members = append(members, idx)

			x, y, z := vol.Coords(idx)
			for _, d := range neighbors {
				nx, ny, nz := x+d[0], y+d[1], z+d[2]
				if !vol.Contains(nx, ny, nz) {
					continue
				}
				n := vol.Index(nx, ny, nz)
				if assigned[n] {
					if vol.Data[n] < 0 {
						negative++
					} else {
						positive++
					}
					continue
				}
				if !visited[n] {
					visited[n] = true
					stack = append(stack, n)
				}
			}
		}

		if negative > positive {
			for _, idx := range members {
				vol.Data[idx] = models.InteriorValue
			}
			interior += len(members)
		}
	}
	return components, interior
}

// closeBorder forces the outer voxel layer to FarValue
func closeBorder(vol *models.Volume) {
	for z := 0; z < vol.Depth; z++ {
		for y := 0; y < vol.Height; y++ {
			for x := 0; x < vol.Width; x++ {
				if vol.OnBorder(x, y, z) {
					vol.Data[vol.Index(x, y, z)] = models.FarValue
				}
			}
		}
	}
}
