// Package interpolation fits an implicit surface to oriented contour points
// with radial basis function interpolation.
//
// The field is f(x) = sum_i w_i * ||x - c_i||. Each oriented point p with
// normal n contributes three centers: p (target 0), p - n*offset (target -1)
// and p + n*offset (target +1). The zero level set of f is the surface.
package interpolation

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"

	"contoursto3d/internal/logging"
	"contoursto3d/internal/models"
)

// Target values of the three center kinds
const (
	InsideTarget  = -1.0
	SurfaceTarget = 0.0
	OutsideTarget = 1.0
)

// Params holds the fitting parameters
type Params struct {
	// NormalOffset is the distance of inside/outside centers from the surface
	NormalOffset float64

	// ConditionLimit is the smallest accepted reciprocal condition number of
	// the kernel matrix
	ConditionLimit float64
}

// DefaultParams returns an offset of one unit along the normal
func DefaultParams() Params {
	return Params{NormalOffset: 1.0, ConditionLimit: 1e-14}
}

// Fitter solves the RBF system for a set of oriented points
type Fitter struct {
	params Params
}

// NewFitter validates params and returns a fitter
func NewFitter(params Params) (*Fitter, error) {
	if params.NormalOffset <= 0 || math.IsNaN(params.NormalOffset) {
		return nil, fmt.Errorf("%w: normal offset must be positive, got %g", models.ErrConfiguration, params.NormalOffset)
	}
	if params.ConditionLimit < 0 {
		return nil, fmt.Errorf("%w: condition limit must not be negative", models.ErrConfiguration)
	}
	return &Fitter{params: params}, nil
}

// Field is a solved implicit function
type Field struct {
	centers  []r3.Vec
	weights  []float64
	targets  []float64
	surface  int
	cond     float64
	residual float64
}

// FitContours fits the contours with their per-vertex normals. At least two
// contours are required.
func (f *Fitter) FitContours(contours []models.Contour, normals [][]r3.Vec) (*Field, error) {
	usable := 0
	for _, c := range contours {
		if c.Len() > 0 {
			usable++
		}
	}
	if usable < 2 {
		return nil, fmt.Errorf("%w: need at least 2 contours, got %d", models.ErrInsufficientInput, usable)
	}
	if len(normals) != len(contours) {
		return nil, fmt.Errorf("normals for %d contours, expected %d", len(normals), len(contours))
	}

	var points []models.OrientedPoint
	for i, c := range contours {
		if len(normals[i]) != c.Len() {
			return nil, fmt.Errorf("contour %d has %d vertices but %d normals", i, c.Len(), len(normals[i]))
		}
		for j, v := range c.Vertices {
			points = append(points, models.OrientedPoint{Position: v.Position, Normal: normals[i][j]})
		}
	}
	return f.Fit(points)
}

// Fit builds the 3N x 3N kernel system for the unique oriented points and
// solves it with an LU decomposition.
func (f *Fitter) Fit(points []models.OrientedPoint) (*Field, error) {
	unique := Deduplicate(points)
	if len(unique) < 2 {
		return nil, fmt.Errorf("%w: need at least 2 distinct points, got %d", models.ErrInsufficientInput, len(unique))
	}

	centers, targets, err := f.buildCenters(unique)
	if err != nil {
		return nil, err
	}

	n := len(centers)
	kernel := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			d := r3.Norm(r3.Sub(centers[i], centers[j]))
			kernel.Set(i, j, d)
			kernel.Set(j, i, d)
		}
	}

	// The distance matrix is symmetric but indefinite, so Cholesky is not an option
	var lu mat.LU
	lu.Factorize(kernel)

	cond := lu.Cond()
	if math.IsInf(cond, 0) || math.IsNaN(cond) || 1/cond < f.params.ConditionLimit {
		return nil, fmt.Errorf("%w: kernel matrix condition number %g", models.ErrDegenerateGeometry, cond)
	}

	var w mat.VecDense
	if err := lu.SolveVecTo(&w, false, mat.NewVecDense(n, targets)); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrDegenerateGeometry, err)
	}

	weights := make([]float64, n)
	for i := range weights {
		weights[i] = w.AtVec(i)
		if math.IsNaN(weights[i]) || math.IsInf(weights[i], 0) {
			return nil, fmt.Errorf("%w: non-finite weight at center %d", models.ErrDegenerateGeometry, i)
		}
	}

	var fitted mat.VecDense
	fitted.MulVec(kernel, &w)
	diff := make([]float64, n)
	floats.SubTo(diff, fitted.RawVector().Data, targets)
	residual := floats.Norm(diff, math.Inf(1))

	field := &Field{
		centers:  centers,
		weights:  weights,
		targets:  targets,
		surface:  len(unique),
		cond:     cond,
		residual: residual,
	}

	logging.Logger().Debug("solved rbf system",
		"points", len(points), "unique", len(unique), "centers", n,
		"condition", cond, "residual", residual)

	return field, nil
}

// buildCenters expands the points into surface, inside and outside centers.
// Coincident centers would make the kernel singular and are rejected.
func (f *Fitter) buildCenters(points []models.OrientedPoint) ([]r3.Vec, []float64, error) {
	n := len(points)
	centers := make([]r3.Vec, 0, 3*n)
	targets := make([]float64, 0, 3*n)

	for _, p := range points {
		centers = append(centers, p.Position)
		targets = append(targets, SurfaceTarget)
	}
	for _, p := range points {
		centers = append(centers, r3.Sub(p.Position, r3.Scale(f.params.NormalOffset, p.Normal)))
		targets = append(targets, InsideTarget)
	}
	for _, p := range points {
		centers = append(centers, r3.Add(p.Position, r3.Scale(f.params.NormalOffset, p.Normal)))
		targets = append(targets, OutsideTarget)
	}

	seen := make(map[r3.Vec]int, len(centers))
	for i, c := range centers {
		if !models.IsFinite(c) {
			return nil, nil, fmt.Errorf("%w: non-finite center %d", models.ErrDegenerateGeometry, i)
		}
		if j, ok := seen[c]; ok {
			return nil, nil, fmt.Errorf("%w: centers %d and %d coincide at (%.3f, %.3f, %.3f)",
				models.ErrDegenerateGeometry, j, i, c.X, c.Y, c.Z)
		}
		seen[c] = i
	}
	return centers, targets, nil
}

// Deduplicate collapses oriented points with identical coordinates,
// keeping the first normal seen.
func Deduplicate(points []models.OrientedPoint) []models.OrientedPoint {
	seen := make(map[r3.Vec]struct{}, len(points))
	out := make([]models.OrientedPoint, 0, len(points))
	for _, p := range points {
		if _, ok := seen[p.Position]; ok {
			continue
		}
		seen[p.Position] = struct{}{}
		out = append(out, p)
	}
	return out
}

// Evaluate returns sum_i weights[i] * ||p - centers[i]||
func Evaluate(p r3.Vec, centers []r3.Vec, weights []float64) float64 {
	sum := 0.0
	for i, c := range centers {
		sum += weights[i] * r3.Norm(r3.Sub(p, c))
	}
	return sum
}

// Evaluate returns the field value at p. Negative values are inside.
func (f *Field) Evaluate(p r3.Vec) float64 {
	return Evaluate(p, f.centers, f.weights)
}

// Centers returns all 3N centers; the first N are the surface centers
func (f *Field) Centers() []r3.Vec {
	return f.centers
}

// Weights returns the solved weight per center
func (f *Field) Weights() []float64 {
	return f.weights
}

// Targets returns the target value per center
func (f *Field) Targets() []float64 {
	return f.targets
}

// SurfaceCenters returns the N centers with target 0
func (f *Field) SurfaceCenters() []r3.Vec {
	return f.centers[:f.surface]
}

// Condition returns the estimated condition number of the kernel matrix
func (f *Field) Condition() float64 {
	return f.cond
}

// Residual returns max |K*w - targets|
func (f *Field) Residual() float64 {
	return f.residual
}
