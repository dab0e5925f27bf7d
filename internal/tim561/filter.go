package tim561

import (
	"errors"
	"fmt"
)

// ErrConfig marks invalid filter or driver configuration. It is fatal at
// Start: the pipeline never runs with bounds it cannot honor.
var ErrConfig = errors.New("invalid configuration")

// FilterConfig bounds the published field of view. All bounds are
// inclusive; distances in millimeters, angles in degrees within the
// sensor's physical sector.
type FilterConfig struct {
	MinDistanceMM float64
	MaxDistanceMM float64
	MinAngleDeg   float64
	MaxAngleDeg   float64
}

// Validate checks the bounds once at startup.
func (c FilterConfig) Validate() error {
	if c.MinDistanceMM < 0 {
		return fmt.Errorf("%w: min distance %.1fmm is negative", ErrConfig, c.MinDistanceMM)
	}
	if c.MinDistanceMM > c.MaxDistanceMM {
		return fmt.Errorf("%w: distance bounds inverted (%.1f > %.1f)", ErrConfig, c.MinDistanceMM, c.MaxDistanceMM)
	}
	if c.MinAngleDeg > c.MaxAngleDeg {
		return fmt.Errorf("%w: angle bounds inverted (%.2f > %.2f)", ErrConfig, c.MinAngleDeg, c.MaxAngleDeg)
	}
	if c.MinAngleDeg < SectorStartDeg || c.MaxAngleDeg > SectorEndDeg {
		return fmt.Errorf("%w: angle bounds [%.2f, %.2f] outside sensor sector [%.1f, %.1f]",
			ErrConfig, c.MinAngleDeg, c.MaxAngleDeg, SectorStartDeg, SectorEndDeg)
	}
	return nil
}

// Apply reduces a frame to the points inside the configured bounds,
// preserving angular order. Invalid (no-return) points never pass. The
// result may be empty; that is a legal scan, not an error.
func (c FilterConfig) Apply(frame *ScanFrame) FilteredScan {
	points := make([]ScanPoint, 0, len(frame.Points))
	for _, p := range frame.Points {
		if !p.Valid {
			continue
		}
		if p.DistanceMM < c.MinDistanceMM || p.DistanceMM > c.MaxDistanceMM {
			continue
		}
		if p.AngleDeg < c.MinAngleDeg || p.AngleDeg > c.MaxAngleDeg {
			continue
		}
		points = append(points, p)
	}
	return FilteredScan{
		Timestamp:   frame.Timestamp,
		ScanCounter: frame.ScanCounter,
		Points:      points,
	}
}
