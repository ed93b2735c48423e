package models

import "errors"

var (
	// ErrInsufficientInput is returned when fewer than two usable contours are available.
	ErrInsufficientInput = errors.New("insufficient contour data for interpolation")

	// ErrDegenerateGeometry is returned when the RBF system is singular or ill-conditioned.
	ErrDegenerateGeometry = errors.New("degenerate contour geometry")

	// ErrConfiguration is returned for invalid reduction, fitting or sampling parameters.
	ErrConfiguration = errors.New("invalid configuration")

	// ErrOutOfBounds is returned when a point is sampled outside a volume's domain.
	ErrOutOfBounds = errors.New("point outside volume domain")
)
