package main

import (
	"fmt"
	"os"

	"gonum.org/v1/gonum/spatial/r3"
	"gopkg.in/yaml.v3"

	"contoursto3d/internal/models"
)

// contourFile is the YAML layout read by the command-line tool
type contourFile struct {
	Contours []contourRecord `yaml:"contours"`
}

type contourRecord struct {
	Label    int          `yaml:"label"`
	Closed   bool         `yaml:"closed"`
	Timestep int          `yaml:"timestep"`
	Pose     poseRecord   `yaml:"pose"`
	Points   [][3]float64 `yaml:"points"`

	// Control lists indices of vertices that survive reduction
	Control []int `yaml:"control"`
}

type poseRecord struct {
	SliceIndex int            `yaml:"sliceIndex"`
	Offset     [3]float64     `yaml:"offset"`
	Rotation   *[3][3]float64 `yaml:"rotation"`
}

// labeledContour is a parsed record ready for the controller
type labeledContour struct {
	label   int
	contour models.Contour
	pose    models.PlanePose
}

// loadContours reads contour records from a YAML file
func loadContours(path string) ([]labeledContour, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read contours file: %w", err)
	}
	return parseContours(data)
}

func parseContours(data []byte) ([]labeledContour, error) {
	var file contourFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse contours file: %w", err)
	}

	out := make([]labeledContour, 0, len(file.Contours))
	for i, rec := range file.Contours {
		points := make([]r3.Vec, len(rec.Points))
		for j, p := range rec.Points {
			points[j] = r3.Vec{X: p[0], Y: p[1], Z: p[2]}
		}
		contour := models.NewContour(points, rec.Closed)
		contour.Timestep = rec.Timestep
		for _, idx := range rec.Control {
			if idx < 0 || idx >= len(points) {
				return nil, fmt.Errorf("contour %d: control index %d out of range", i, idx)
			}
			contour.Vertices[idx].Control = true
		}

		pose := models.PlanePose{
			Rotation:   models.Identity(),
			Offset:     r3.Vec{X: rec.Pose.Offset[0], Y: rec.Pose.Offset[1], Z: rec.Pose.Offset[2]},
			SliceIndex: rec.Pose.SliceIndex,
		}
		if rec.Pose.Rotation != nil {
			pose.Rotation = *rec.Pose.Rotation
		}

		out = append(out, labeledContour{label: rec.Label, contour: contour, pose: pose})
	}
	return out, nil
}
