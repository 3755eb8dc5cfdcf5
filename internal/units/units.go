// Package units converts the bridge's canonical SI speeds for display.
package units

import (
	"fmt"
	"strings"
)

const (
	MPS  = "mps"
	MPH  = "mph"
	KMPH = "kmph"
	KPH  = "kph"
	// Knots is occasionally asked for by marine installations.
	Knots = "kn"
)

// ValidUnits lists every accepted unit name.
var ValidUnits = []string{MPS, MPH, KMPH, KPH, Knots}

var perMPS = map[string]float64{
	MPS:   1,
	MPH:   2.23694,
	KMPH:  3.6,
	KPH:   3.6,
	Knots: 1.94384,
}

// IsValid reports whether unit is a known speed unit.
func IsValid(unit string) bool {
	_, ok := perMPS[unit]
	return ok
}

// Parse validates unit; empty selects MPS.
func Parse(unit string) (string, error) {
	if unit == "" {
		return MPS, nil
	}
	if !IsValid(unit) {
		return "", fmt.Errorf("invalid speed units %q, expected one of %s", unit, strings.Join(ValidUnits, ", "))
	}
	return unit, nil
}

// ConvertSpeed converts a speed in metres per second to unit. Unknown
// units return the input unchanged.
func ConvertSpeed(speedMPS float64, unit string) float64 {
	if f, ok := perMPS[unit]; ok {
		return speedMPS * f
	}
	return speedMPS
}
