package radar

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// SphericalToCartesian projects range (m), azimuth and elevation (rad) into
// the sensor frame.
func SphericalToCartesian(rng, azimuth, elevation float64) r3.Vec {
	r2 := rng * math.Cos(elevation)
	return r3.Vec{
		X: r2 * math.Cos(azimuth),
		Y: r2 * math.Sin(azimuth),
		Z: rng * math.Sin(elevation),
	}
}

// ToPoint projects a target into a point.
func (t Target) ToPoint() Point {
	v := SphericalToCartesian(t.Range, t.Azimuth, t.Elevation)
	return Point{
		X:           v.X,
		Y:           v.Y,
		Z:           v.Z,
		Intensity:   t.Power,
		Range:       t.Range,
		SpeedRadial: t.SpeedRadial,
		RCS:         t.RCS,
		Noise:       t.Noise,
	}
}
