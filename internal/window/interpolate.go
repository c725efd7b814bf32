package window

import "math"

// Interpolator estimates a column value at t from two bracketing samples with
// left.Timestamp <= t <= right.Timestamp.
type Interpolator interface {
	Interpolate(t float64, left, right *Sample, col int) (float64, bool)
}

// Linear interpolates along the straight line between the brackets.
type Linear struct{}

func (Linear) Interpolate(t float64, left, right *Sample, col int) (float64, bool) {
	if !left.Valid(col) || !right.Valid(col) {
		return math.NaN(), false
	}
	return lerp(t, left.Timestamp, left.Values[col], right.Timestamp, right.Values[col]), true
}

// Circular interpolates angles in degrees along the shorter arc and returns a
// result in [0, 360).
type Circular struct{}

func (Circular) Interpolate(t float64, left, right *Sample, col int) (float64, bool) {
	if !left.Valid(col) || !right.Valid(col) {
		return math.NaN(), false
	}
	a, b := shorterArc(left.Values[col], right.Values[col])
	return NormalizeDegrees(lerp(t, left.Timestamp, a, right.Timestamp, b)), true
}

func lerp(t, t0, v0, t1, v1 float64) float64 {
	switch {
	case t1 == t0, t == t0:
		return v0
	case t == t1:
		return v1
	}
	return v0 + (v1-v0)*(t-t0)/(t1-t0)
}

// shorterArc normalizes both angles and lifts one of them by 360 so that
// |a-b| <= 180.
func shorterArc(a, b float64) (float64, float64) {
	a, b = NormalizeDegrees(a), NormalizeDegrees(b)
	switch {
	case b-a > 180:
		a += 360
	case a-b > 180:
		b += 360
	}
	return a, b
}

// NormalizeDegrees maps d into [0, 360).
func NormalizeDegrees(d float64) float64 {
	d = math.Mod(d, 360)
	if d < 0 {
		d += 360
	}
	if d >= 360 {
		d = 0
	}
	return d
}

func interpolatorFor(c Column) Interpolator {
	if c.Angular {
		return Circular{}
	}
	return Linear{}
}
