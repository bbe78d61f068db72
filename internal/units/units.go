// Package units provides conversions between the ground-motion units used
// across configuration, calibration, and display: g-levels, SI acceleration
// and velocity, and the nanometer-denominated units some instrument
// catalogues report gain in.
package units

import "strings"

// Gravity is standard gravity in m/s², used to convert g-level threshold
// configuration into the SI units the threshold package classifies in.
const Gravity = 9.80665

// Acceleration unit identifiers.
const (
	G     = "g"
	MPS2  = "m/s2"
	CMPS2 = "cm/s2"
)

// Velocity unit identifiers.
const (
	MPS  = "m/s"
	CMPS = "cm/s"
)

// ValidAccelerationUnits lists the acceleration units this package converts.
var ValidAccelerationUnits = []string{G, MPS2, CMPS2}

// IsValidAcceleration reports whether unit is a recognized acceleration unit.
func IsValidAcceleration(unit string) bool {
	return contains(ValidAccelerationUnits, normalize(unit))
}

// GToSI converts a g-level value to m/s².
func GToSI(g float64) float64 {
	return g * Gravity
}

// SIToG converts an m/s² value to g-level.
func SIToG(mps2 float64) float64 {
	return mps2 / Gravity
}

// ConvertAcceleration converts a value from one acceleration unit to another.
// Unrecognized units are returned unconverted.
func ConvertAcceleration(value float64, from, to string) float64 {
	from, to = normalize(from), normalize(to)
	si := toSIAcceleration(value, from)
	return fromSIAcceleration(si, to)
}

func toSIAcceleration(value float64, unit string) float64 {
	switch unit {
	case G:
		return GToSI(value)
	case CMPS2:
		return value / 100
	default:
		return value
	}
}

func fromSIAcceleration(mps2 float64, unit string) float64 {
	switch unit {
	case G:
		return SIToG(mps2)
	case CMPS2:
		return mps2 * 100
	default:
		return mps2
	}
}

// IsNanometerUnit reports whether a catalogue units string is denominated in
// nanometers (e.g. "nm/s", "nm/s/s"), the case this package's calibration
// collaborator rewrites to meters by dividing gain by 1e9.
func IsNanometerUnit(unit string) bool {
	return strings.Contains(normalize(unit), "nm")
}

// RewriteNanometerUnit rewrites an "nm"-denominated unit string to its
// meter-denominated equivalent, without altering the numeric value — callers
// must divide the associated gain by 1e9 themselves.
func RewriteNanometerUnit(unit string) string {
	return strings.ReplaceAll(unit, "nm", "m")
}

// DefaultUnitForSegmentType returns the conventional SI unit for a SEED
// channel segment type: "V" (velocity) defaults to m/s, "A" (acceleration)
// to m/s². Unknown segment types return "".
func DefaultUnitForSegmentType(segType string) string {
	switch strings.ToUpper(segType) {
	case "V":
		return MPS
	case "A":
		return MPS2
	default:
		return ""
	}
}

func normalize(unit string) string {
	return strings.ToLower(strings.TrimSpace(unit))
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
