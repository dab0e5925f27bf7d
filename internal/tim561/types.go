// Package tim561 drives a SICK TiM561-class 2D scanning rangefinder over
// its CoLa-A ASCII telegram stream. The Driver owns a single background
// acquisition goroutine that reads telegrams, decodes them into scan
// frames, filters the points down to the configured range and field of
// view, and publishes the result into a ScanStore that any number of
// consumer goroutines can read without blocking on sensor I/O.
package tim561

import "time"

// Physical scan sector of the TiM561: 270 degrees from -45 to +225,
// sampled at a third of a degree for 811 points per sweep.
const (
	SectorStartDeg = -45.0
	SectorEndDeg   = 225.0

	DefaultStartAngleDeg = SectorStartDeg
	DefaultStepDeg       = 1.0 / 3.0
	PointsPerSweep       = 811
)

// DeviceStatus is the sensor health reported in the telegram header.
type DeviceStatus uint8

const (
	StatusOK DeviceStatus = iota
	StatusError
	StatusPollutionWarning
	StatusPollutionError
)

func (s DeviceStatus) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusError:
		return "error"
	case StatusPollutionWarning:
		return "pollution-warning"
	case StatusPollutionError:
		return "pollution-error"
	}
	return "unknown"
}

// ScanPoint is one measured range sample. A point with Valid=false is a
// "no return": the sensor reported its invalid sentinel (distance 0) and
// the slot is retained so point count stays constant across frames.
type ScanPoint struct {
	AngleDeg   float64 `json:"angle_deg"`
	DistanceMM float64 `json:"distance_mm"`
	Valid      bool    `json:"valid"`
}

// ScanFrame is one full decoded sensor sweep. Points are in angular order
// with constant spacing; the count is fixed by the sensor resolution.
type ScanFrame struct {
	Timestamp        time.Time // assigned at receipt, not from the sensor clock
	Status           DeviceStatus
	TelegramCounter  uint32
	ScanCounter      uint32
	TimeSinceStartup uint32 // sensor microsecond tick at scan time
	ScanFrequencyHz  float64
	StartAngleDeg    float64
	AngularStepDeg   float64
	Points           []ScanPoint
}

// FilteredScan is the published artifact: the subset of a frame's points
// that passed the range filter, in original angular order. Immutable once
// constructed; an empty Points slice is a legal result.
type FilteredScan struct {
	Timestamp   time.Time   `json:"timestamp"`
	ScanCounter uint32      `json:"scan_counter"`
	Points      []ScanPoint `json:"points"`
}
