package normals

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"contoursto3d/internal/models"
)

// Mask answers point-in-segmentation queries for normal orientation.
// Points outside the mask's domain return models.ErrOutOfBounds.
type Mask interface {
	Inside(p r3.Vec) (bool, error)
}

// MaskFunc adapts a function to the Mask interface
type MaskFunc func(p r3.Vec) (bool, error)

// Inside calls f(p)
func (f MaskFunc) Inside(p r3.Vec) (bool, error) {
	return f(p)
}

// LabelMask is a voxel label volume. A point is inside when its nearest
// voxel carries Label.
type LabelMask struct {
	Volume *models.Volume
	Label  int
}

// NewLabelMask wraps a label volume
func NewLabelMask(vol *models.Volume, label int) *LabelMask {
	return &LabelMask{Volume: vol, Label: label}
}

// Inside implements Mask
func (m *LabelMask) Inside(p r3.Vec) (bool, error) {
	if m.Volume == nil {
		return false, fmt.Errorf("%w: no label volume", models.ErrOutOfBounds)
	}
	x, y, z, ok := m.Volume.NearestVoxel(p)
	if !ok {
		return false, fmt.Errorf("%w: (%.2f, %.2f, %.2f)", models.ErrOutOfBounds, p.X, p.Y, p.Z)
	}
	return int(math.Round(m.Volume.At(x, y, z))) == m.Label, nil
}
