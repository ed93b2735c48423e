// Package visualization renders slices of a distance volume as grayscale
// images for inspecting a reconstruction.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"os"
	"path/filepath"

	"contoursto3d/internal/logging"
	"contoursto3d/internal/models"
)

// Viewer extracts slices from a distance volume
type Viewer struct {
	volume *models.Volume

	// window is the distance mapped to full black (outside) and full white
	// (inside); the surface itself is mid gray
	window float64
}

// NewViewer creates a viewer for vol with a window of ±FarValue
func NewViewer(vol *models.Volume) *Viewer {
	return &Viewer{volume: vol, window: models.FarValue}
}

// SetWindow changes the distance range mapped to the gray scale
func (v *Viewer) SetWindow(window float64) error {
	if window <= 0 {
		return fmt.Errorf("%w: window must be positive, got %g", models.ErrConfiguration, window)
	}
	v.window = window
	return nil
}

// Gray maps a signed distance to a 16-bit gray level
func (v *Viewer) Gray(distance float64) uint16 {
	t := (v.window - distance) / (2 * v.window)
	return uint16(math.Round(math.Max(0, math.Min(1, t)) * 65535))
}

// sliceSize returns the image size and the voxel for each pixel of a slice
func (v *Viewer) sliceSize(axis string, position int) (w, h int, voxel func(px, py int) (int, int, int), err error) {
	if position < 0 {
		return 0, 0, nil, fmt.Errorf("position must be non-negative")
	}
	vol := v.volume
	switch axis {
	case "x", "X":
		if position >= vol.Width {
			return 0, 0, nil, fmt.Errorf("position %d exceeds width %d", position, vol.Width)
		}
		// YZ plane, z across
		return vol.Depth, vol.Height, func(px, py int) (int, int, int) { return position, py, px }, nil
	case "y", "Y":
		if position >= vol.Height {
			return 0, 0, nil, fmt.Errorf("position %d exceeds height %d", position, vol.Height)
		}
		// XZ plane, z down
		return vol.Width, vol.Depth, func(px, py int) (int, int, int) { return px, position, py }, nil
	case "z", "Z":
		if position >= vol.Depth {
			return 0, 0, nil, fmt.Errorf("position %d exceeds depth %d", position, vol.Depth)
		}
		return vol.Width, vol.Height, func(px, py int) (int, int, int) { return px, py, position }, nil
	default:
		return 0, 0, nil, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}
}

// ExtractSlice extracts a 2D slice from the volume along the specified axis
func (v *Viewer) ExtractSlice(axis string, position int) (*image.Gray16, error) {
	w, h, voxel, err := v.sliceSize(axis, position)
	if err != nil {
		return nil, err
	}

	img := image.NewGray16(image.Rect(0, 0, w, h))
	for py := 0; py < h; py++ {
		for px := 0; px < w; px++ {
			img.SetGray16(px, py, color.Gray16{Y: v.Gray(v.volume.At(voxel(px, py)))})
		}
	}
	return img, nil
}

// SaveSlice saves an extracted slice as a JPEG image
func (v *Viewer) SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	if err := jpeg.Encode(file, img, &jpeg.Options{Quality: 90}); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// SaveSliceSequence extracts and saves every slice along the specified axis
func (v *Viewer) SaveSliceSequence(axis string, outputDir string) error {
	var count int
	switch axis {
	case "x", "X":
		count = v.volume.Width
	case "y", "Y":
		count = v.volume.Height
	case "z", "Z":
		count = v.volume.Depth
	default:
		return fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	for pos := 0; pos < count; pos++ {
		img, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return err
		}
		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.jpg", axis, pos))
		if err := v.SaveSlice(img, filename); err != nil {
			return err
		}
	}

	logging.Logger().Debug("saved slice sequence", "axis", axis, "count", count, "dir", outputDir)
	return nil
}
