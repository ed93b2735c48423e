package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"contoursto3d/internal/logging"
	"contoursto3d/internal/models"
	"contoursto3d/pkg/config"
	"contoursto3d/pkg/reconstruction"
	"contoursto3d/pkg/stl"
	"contoursto3d/pkg/visualization"
)

// volumeRecorder keeps the last distance volume passed to the extractor
type volumeRecorder struct {
	reconstruction.SurfaceExtractor
	last *models.Volume
}

func (r *volumeRecorder) Extract(vol *models.Volume, threshold float64, smooth bool) (*models.Surface, error) {
	r.last = vol
	return r.SurfaceExtractor.Extract(vol, threshold, smooth)
}

func main() {
	// Parse command line arguments
	configPath := flag.String("config", "", "YAML configuration file (defaults are used when empty)")
	initConfig := flag.Bool("init-config", false, "Write a default configuration to -config and exit")
	contoursPath := flag.String("contours", "", "YAML file with the input contours")
	outputName := flag.String("output", "output.stl", "Output STL filename")
	extractSlices := flag.Bool("extract-slices", false, "Save the distance volume as slices along all axes")
	slicesDir := flag.String("slices-dir", "distance_slices", "Directory to save extracted slices")
	flag.Parse()

	if *initConfig {
		if *configPath == "" {
			log.Fatal("-init-config requires -config")
		}
		if err := config.CreateDefaultConfigFile(*configPath); err != nil {
			log.Fatalf("Failed to write configuration: %v", err)
		}
		fmt.Printf("Default configuration written to %s\n", *configPath)
		return
	}

	if *contoursPath == "" {
		flag.Usage()
		os.Exit(1)
	}

	cfg := config.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = config.LoadConfig(*configPath); err != nil {
			log.Fatalf("Failed to load configuration: %v", err)
		}
	}
	if cfg.Output.Verbose {
		logging.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}

	contours, err := loadContours(*contoursPath)
	if err != nil {
		log.Fatalf("Failed to load contours: %v", err)
	}

	recorder := &volumeRecorder{
		SurfaceExtractor: stl.NewExtractor(cfg.Surface.SmoothIterations, cfg.Surface.SmoothRelaxation),
	}
	controller, err := reconstruction.NewController(cfg, reconstruction.WithExtractor(recorder))
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	controller.SetProgressCallback(func(completed, total int, message string) {
		fmt.Printf("  [%d/%d] %s\n", completed, total, message)
	})

	for _, lc := range contours {
		controller.SetActiveLabel(lc.label)
		controller.AddContour(lc.contour, lc.pose)
	}

	labels := controller.Labels()
	fmt.Printf("Loaded %d contours for %d labels\n", len(contours), len(labels))

	for _, label := range labels {
		controller.SetActiveLabel(label)

		if fraction, err := controller.EstimateMemoryFraction(); err != nil {
			log.Printf("Warning: memory estimate unavailable: %v", err)
		} else if fraction > 0.5 {
			log.Printf("Warning: label %d needs about %.0f%% of physical memory for the fit", label, fraction*100)
		}

		fmt.Printf("Interpolating label %d...\n", label)
		startTime := time.Now()
		surface, err := controller.Interpolate()
		if err != nil {
			log.Fatalf("Interpolation of label %d failed: %v", label, err)
		}
		if surface == nil {
			fmt.Printf("Label %d needs at least two contours, skipped\n", label)
			continue
		}

		outputPath := labelPath(*outputName, label, len(labels))
		if err := stl.SaveSurface(outputPath, surface); err != nil {
			log.Fatalf("Failed to save STL file: %v", err)
		}
		fmt.Printf("Label %d: %d triangles in %.2f seconds, saved to %s\n",
			label, len(surface.Triangles), time.Since(startTime).Seconds(), outputPath)

		// Extract and save distance volume slices if requested
		if *extractSlices && recorder.last != nil {
			viewer := visualization.NewViewer(recorder.last)
			slicesPath := labelPath(*slicesDir, label, len(labels))
			for _, axis := range []string{"x", "y", "z"} {
				axisDir := filepath.Join(slicesPath, axis)
				if err := viewer.SaveSliceSequence(axis, axisDir); err != nil {
					log.Printf("Warning: Failed to save %s-axis slices: %v", axis, err)
				}
			}
			fmt.Printf("Distance volume slices saved to: %s\n", slicesPath)
		}
	}
}

// labelPath adds a label suffix to path when more than one label is written
func labelPath(path string, label, labels int) string {
	if labels <= 1 {
		return path
	}
	ext := filepath.Ext(path)
	return fmt.Sprintf("%s_label%d%s", strings.TrimSuffix(path, ext), label, ext)
}
