// Package reconstruction stores contours per label and turns them into a
// closed surface by running reduction, normal estimation, RBF fitting,
// distance sampling and surface extraction in order.
package reconstruction

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"
	"time"

	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/gonum/stat"

	"contoursto3d/internal/logging"
	"contoursto3d/internal/models"
	"contoursto3d/pkg/config"
	"contoursto3d/pkg/interpolation"
	"contoursto3d/pkg/normals"
	"contoursto3d/pkg/reduction"
	"contoursto3d/pkg/sampling"
	"contoursto3d/pkg/stl"
)

// SurfaceExtractor turns a distance volume into a triangle mesh
type SurfaceExtractor interface {
	Extract(vol *models.Volume, threshold float64, smooth bool) (*models.Surface, error)
}

// ProgressCallback reports pipeline progress
type ProgressCallback func(completed, total int, message string)

// Option configures a Controller
type Option func(*Controller)

// WithExtractor replaces the default marching tetrahedra extractor
func WithExtractor(e SurfaceExtractor) Option {
	return func(c *Controller) {
		c.extractor = e
	}
}

// WithTotalMemory fixes the physical memory size used by
// EstimateMemoryFraction instead of querying the system
func WithTotalMemory(bytes uint64) Option {
	return func(c *Controller) {
		c.totalMemory = bytes
	}
}

// entry is a stored contour and the plane it was drawn on
type entry struct {
	contour models.Contour
	pose    models.PlanePose
}

// Controller owns the contour store and runs interpolation for the active
// label. It is safe for concurrent use.
type Controller struct {
	mu sync.RWMutex

	cfg    *config.Config
	labels map[int][]entry
	active int

	mask      normals.Mask
	frame     models.Geometry
	extractor SurfaceExtractor

	totalMemory uint64
	progress    ProgressCallback
}

// stages is the number of progress steps reported by Interpolate
const stages = 5

// NewController validates cfg and creates a controller. A nil cfg uses the
// defaults.
func NewController(cfg *config.Config, opts ...Option) (*Controller, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Controller{
		cfg:    cfg,
		labels: make(map[int][]entry),
		active: 1,
		frame:  models.IdentityGeometry(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.extractor == nil {
		c.extractor = stl.NewExtractor(cfg.Surface.SmoothIterations, cfg.Surface.SmoothRelaxation)
	}
	return c, nil
}

// PoseEqual reports whether two poses describe the same plane: equal slice
// index and every rotation element and offset component within tolerance
func PoseEqual(a, b models.PlanePose, tolerance float64) bool {
	if a.SliceIndex != b.SliceIndex {
		return false
	}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			if math.Abs(a.Rotation[i][j]-b.Rotation[i][j]) > tolerance {
				return false
			}
		}
	}
	d := r3.Sub(a.Offset, b.Offset)
	return math.Abs(d.X) <= tolerance && math.Abs(d.Y) <= tolerance && math.Abs(d.Z) <= tolerance
}

// SetActiveLabel selects the label subsequent calls operate on
func (c *Controller) SetActiveLabel(label int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = label
}

// ActiveLabel returns the selected label
func (c *Controller) ActiveLabel() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.active
}

// Labels returns the labels that hold contours, sorted
func (c *Controller) Labels() []int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	labels := make([]int, 0, len(c.labels))
	for l, entries := range c.labels {
		if len(entries) > 0 {
			labels = append(labels, l)
		}
	}
	slices.Sort(labels)
	return labels
}

// SetReferenceMask sets the segmentation used to orient normals; nil disables it
func (c *Controller) SetReferenceMask(mask normals.Mask) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mask = mask
}

// SetReferenceGeometry aligns the distance volume with a reference image
func (c *Controller) SetReferenceGeometry(g models.Geometry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frame = g
}

// SetProgressCallback sets a function called after each pipeline stage
func (c *Controller) SetProgressCallback(cb ProgressCallback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.progress = cb
}

// AddContour stores a copy of contour for the active label. A contour
// already stored on an equal pose is replaced.
func (c *Controller) AddContour(contour models.Contour, pose models.PlanePose) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries := c.labels[c.active]
	for i := range entries {
		if PoseEqual(entries[i].pose, pose, c.cfg.Pose.Tolerance) {
			entries[i] = entry{contour: contour.Clone(), pose: pose}
			logging.Logger().Debug("replaced contour", "label", c.active, "slice", pose.SliceIndex, "vertices", contour.Len())
			return
		}
	}
	c.labels[c.active] = append(entries, entry{contour: contour.Clone(), pose: pose})
	logging.Logger().Debug("added contour", "label", c.active, "slice", pose.SliceIndex, "vertices", contour.Len())
}

// RemoveContour deletes the active label's contour on pose and reports
// whether one was stored
func (c *Controller) RemoveContour(pose models.PlanePose) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries := c.labels[c.active]
	for i := range entries {
		if PoseEqual(entries[i].pose, pose, c.cfg.Pose.Tolerance) {
			c.labels[c.active] = slices.Delete(entries, i, i+1)
			return true
		}
	}
	return false
}

// RemoveLabel discards every contour stored for label
func (c *Controller) RemoveLabel(label int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.labels, label)
}

// Contours returns copies of the active label's contours in insertion order
func (c *Controller) Contours() []models.Contour {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot()
}

// snapshot copies the active label's contours; the caller holds the lock
func (c *Controller) snapshot() []models.Contour {
	entries := c.labels[c.active]
	out := make([]models.Contour, len(entries))
	for i, e := range entries {
		out[i] = e.contour.Clone()
	}
	return out
}

// GetContoursAsSurface returns the active label's contours as polylines.
// Closed contours repeat their first vertex at the end of their line.
func (c *Controller) GetContoursAsSurface() *models.Surface {
	surface := &models.Surface{}
	for _, contour := range c.Contours() {
		if contour.Len() == 0 {
			continue
		}
		start := len(surface.Vertices)
		line := make([]int, 0, contour.Len()+1)
		for i, v := range contour.Vertices {
			surface.Vertices = append(surface.Vertices, v.Position)
			line = append(line, start+i)
		}
		if contour.Closed {
			line = append(line, start)
		}
		surface.Lines = append(surface.Lines, line)
	}
	return surface
}

// EstimateMemoryFraction returns the share of physical memory the dense RBF
// matrix for the stored vertices would need: vertices^2 * 8 / total memory
func (c *Controller) EstimateMemoryFraction() (float64, error) {
	c.mu.RLock()
	total := c.totalMemory
	entries := c.labels[c.active]
	counts := make([]float64, len(entries))
	vertices := 0
	for i, e := range entries {
		counts[i] = float64(e.contour.Len())
		vertices += e.contour.Len()
	}
	c.mu.RUnlock()

	if total == 0 {
		var err error
		if total, err = physicalMemory(); err != nil {
			return 0, fmt.Errorf("failed to determine physical memory: %w", err)
		}
	}
	if total == 0 {
		return 0, errors.New("physical memory size is zero")
	}

	n := float64(vertices)
	fraction := n * n * 8 / float64(total)
	if len(counts) > 0 {
		logging.Logger().Debug("estimated fit memory",
			"contours", len(counts), "vertices", vertices,
			"meanVertices", stat.Mean(counts, nil), "fraction", fraction)
	}
	return fraction, nil
}

// Interpolate reconstructs a surface from the active label's contours.
// Fewer than two contours is not an error and returns (nil, nil). Every call
// recomputes the surface from the current store.
func (c *Controller) Interpolate() (*models.Surface, error) {
	c.mu.RLock()
	label := c.active
	contours := c.snapshot()
	cfg := c.cfg
	mask := c.mask
	frame := c.frame
	extractor := c.extractor
	progress := c.progress
	c.mu.RUnlock()

	if len(contours) < 2 {
		logging.Logger().Debug("not enough contours to interpolate", "label", label, "contours", len(contours))
		return nil, nil
	}

	report := func(stage int, message string) {
		if progress != nil {
			progress(stage, stages, message)
		}
	}
	start := time.Now()

	// Step 1: reduce contours and drop plane intersection artifacts
	reduced, err := reduce(cfg, contours)
	if err != nil {
		return nil, err
	}
	report(1, "reduced contours")

	// Step 2: oriented normals
	contourNormals := normals.NewEstimator(cfg.Spacing.Max, mask).ComputeNormals(reduced)
	report(2, "estimated normals")

	// Step 3: solve the RBF system
	fitter, err := interpolation.NewFitter(interpolation.Params{
		NormalOffset:   cfg.Fitting.NormalOffset,
		ConditionLimit: cfg.Fitting.ConditionLimit,
	})
	if err != nil {
		return nil, err
	}
	field, err := fitter.FitContours(reduced, contourNormals)
	if errors.Is(err, models.ErrInsufficientInput) {
		logging.Logger().Warn("too few contours left after reduction", "label", label, "error", err)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fit implicit surface: %w", err)
	}
	report(3, "fitted implicit surface")

	// Step 4: narrow band distance volume
	sampler, err := sampling.NewSampler(cfg.Sampling.VoxelBudget, cfg.Sampling.Margin, frame)
	if err != nil {
		return nil, err
	}
	vol, stats, err := sampler.Sample(field, field.Centers(), field.SurfaceCenters())
	if err != nil {
		return nil, fmt.Errorf("failed to sample distance volume: %w", err)
	}
	report(4, "sampled distance volume")

	// Step 5: iso-surface at 0
	surface, err := extractor.Extract(vol, 0, cfg.Surface.Smooth)
	if err != nil {
		return nil, fmt.Errorf("failed to extract surface: %w", err)
	}
	if surface.IsEmpty() {
		return nil, fmt.Errorf("%w: extracted surface is empty", models.ErrDegenerateGeometry)
	}
	report(5, "extracted surface")

	logging.Logger().Info("interpolated surface",
		"label", label, "contours", len(reduced), "centers", len(field.Centers()),
		"voxels", len(vol.Data), "evaluations", stats.Evaluations,
		"triangles", len(surface.Triangles), "elapsed", time.Since(start))

	return surface, nil
}

// reduce runs the reducer with each stored contour as its own input, so the
// intersection filter compares contours from different planes
func reduce(cfg *config.Config, contours []models.Contour) ([]models.Contour, error) {
	mode, err := reduction.ParseMode(cfg.Reduction.Mode)
	if err != nil {
		return nil, err
	}
	reducer, err := reduction.NewReducer(reduction.Params{
		Mode:       mode,
		StepSize:   cfg.Reduction.StepSize,
		Tolerance:  cfg.Reduction.Tolerance,
		MinSpacing: cfg.Spacing.Min,
		MaxSpacing: cfg.Spacing.Max,
	})
	if err != nil {
		return nil, err
	}

	inputs := make([][]models.Contour, len(contours))
	for i, contour := range contours {
		inputs[i] = []models.Contour{contour}
	}

	var out []models.Contour
	for _, input := range reducer.ReduceAll(inputs) {
		out = append(out, input...)
	}
	return out, nil
}
