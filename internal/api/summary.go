package api

import (
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/umrr-bridge/internal/radar"
	"github.com/banshee-data/umrr-bridge/internal/units"
)

// Summary describes one point set's range and radial speed distribution.
type Summary struct {
	Slot        int       `json:"slot"`
	Topic       string    `json:"topic"`
	Cycle       uint32    `json:"cycle"`
	Timestamp   time.Time `json:"timestamp"`
	Points      int       `json:"points"`
	RangeMin    float64   `json:"range_min"`
	RangeMax    float64   `json:"range_max"`
	RangeMean   float64   `json:"range_mean"`
	RangeStdDev float64   `json:"range_stddev"`
	SpeedMean   float64   `json:"speed_mean"`
	SpeedStdDev float64   `json:"speed_stddev"`
	SpeedUnits  string    `json:"speed_units"`
	// Moving counts points whose radial speed exceeds MovingThreshold.
	Moving int `json:"moving"`
}

// MovingThreshold is the radial speed (m/s) above which a point counts as
// moving.
const MovingThreshold = 0.5

// Summarize computes a Summary. Statistics of an empty set are zero; the
// standard deviation of a single point is zero.
func Summarize(set radar.PointSet) Summary {
	s := Summary{
		Slot:       set.Slot,
		Topic:      set.Topic(),
		Cycle:      set.Cycle,
		Timestamp:  set.Timestamp,
		Points:     len(set.Points),
		SpeedUnits: units.MPS,
	}
	if len(set.Points) == 0 {
		return s
	}
	ranges := make([]float64, len(set.Points))
	speeds := make([]float64, len(set.Points))
	for i, p := range set.Points {
		ranges[i] = p.Range
		speeds[i] = p.SpeedRadial
		if p.SpeedRadial > MovingThreshold || p.SpeedRadial < -MovingThreshold {
			s.Moving++
		}
	}
	s.RangeMin = floats.Min(ranges)
	s.RangeMax = floats.Max(ranges)
	if len(ranges) == 1 {
		s.RangeMean, s.SpeedMean = ranges[0], speeds[0]
		return s
	}
	s.RangeMean, s.RangeStdDev = stat.MeanStdDev(ranges, nil)
	s.SpeedMean, s.SpeedStdDev = stat.MeanStdDev(speeds, nil)
	return s
}

// InUnits returns s with its speed statistics converted to unit.
func (s Summary) InUnits(unit string) Summary {
	s.SpeedMean = units.ConvertSpeed(s.SpeedMean, unit)
	s.SpeedStdDev = units.ConvertSpeed(s.SpeedStdDev, unit)
	s.SpeedUnits = unit
	return s
}
