package window

import (
	"fmt"
	"math"
	"strings"
)

// Kind selects the statistic a Window computes.
type Kind int

const (
	KindAverage Kind = iota
	KindMin
	KindMax
	KindAngleAverage
	KindFilteredAverage
	// KindAngle is interpolation only: the circular value at the cursor.
	KindAngle
)

var kindNames = map[Kind]string{
	KindAverage:         "average",
	KindMin:             "min",
	KindMax:             "max",
	KindAngleAverage:    "angle_average",
	KindFilteredAverage: "filtered_average",
	KindAngle:           "angle",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind accepts the canonical kind names plus a few short aliases.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "average", "avg", "mean":
		return KindAverage, nil
	case "min":
		return KindMin, nil
	case "max":
		return KindMax, nil
	case "angle_average", "angle_avg", "angular_average":
		return KindAngleAverage, nil
	case "filtered_average", "filtered_avg", "trimmed_average":
		return KindFilteredAverage, nil
	case "angle":
		return KindAngle, nil
	default:
		return 0, fmt.Errorf("%w: unknown kind %q", ErrMalformedWindow, s)
	}
}

// Window is a named centered statistic. Width is in timestamp units; Trim is
// the percentage of values a filtered average discards, split evenly between
// the low and high ends.
type Window struct {
	Name  string
	Width float64
	Kind  Kind
	Trim  float64
}

// Validate rejects windows that cannot be evaluated. Angle windows ignore
// their width.
func (w Window) Validate() error {
	if w.Name == "" {
		return fmt.Errorf("%w: empty name", ErrMalformedWindow)
	}
	if _, ok := kindNames[w.Kind]; !ok {
		return fmt.Errorf("%w: %s has unknown kind %d", ErrMalformedWindow, w.Name, int(w.Kind))
	}
	if w.Kind != KindAngle && !(w.Width > 0 && !math.IsInf(w.Width, 1)) {
		return fmt.Errorf("%w: %s width %v must be positive", ErrMalformedWindow, w.Name, w.Width)
	}
	if w.Kind == KindFilteredAverage && !(w.Trim >= 0 && w.Trim <= 100) {
		return fmt.Errorf("%w: %s trim %v outside [0, 100]", ErrMalformedWindow, w.Name, w.Trim)
	}
	return nil
}

// span is the width the cursor must buffer around its position for w.
func (w Window) span() float64 {
	if w.Kind == KindAngle {
		return 0
	}
	return w.Width
}

// Column describes one tracked value column. Angular columns hold degrees and
// interpolate along the shorter arc.
type Column struct {
	Name    string
	Angular bool
}

// Op is a comparison applied to row timestamps.
type Op int

const (
	OpEQ Op = iota
	OpLT
	OpLE
	OpGT
	OpGE
)

// Constraint filters rows on their (external) timestamp.
type Constraint struct {
	Op    Op
	Value float64
}

// Match reports whether ts satisfies the constraint.
func (c Constraint) Match(ts float64) bool {
	switch c.Op {
	case OpEQ:
		return ts == c.Value
	case OpLT:
		return ts < c.Value
	case OpLE:
		return ts <= c.Value
	case OpGT:
		return ts > c.Value
	case OpGE:
		return ts >= c.Value
	}
	return false
}

// passed reports whether no later row, travelling in the given direction,
// can satisfy the constraint once a row at ts has been seen.
func (c Constraint) passed(ts float64, descending bool) bool {
	if descending {
		switch c.Op {
		case OpEQ, OpGE:
			return ts < c.Value
		case OpGT:
			return ts <= c.Value
		}
		return false
	}
	switch c.Op {
	case OpEQ, OpLE:
		return ts > c.Value
	case OpLT:
		return ts >= c.Value
	}
	return false
}
