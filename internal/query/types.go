package query

import (
	"fmt"
	"math"

	"github.com/sanspareilsmyn/timelens/internal/window"
)

// Modes a Plan can run in.
const (
	ModeRows = "rows"
	ModeGrid = "grid"
)

// Plan says where the cursor is evaluated. Rows mode visits every source row
// within [Start, End]; grid mode seeks to Timestamps, or to Start, Start+Step,
// ... up to End. Grid positions must follow the source direction:
// non-decreasing, or non-increasing when Descending.
type Plan struct {
	Mode       string
	Start      *float64
	End        *float64
	Step       float64
	Timestamps []float64
	Descending bool
}

// Validate checks the plan is runnable.
func (p Plan) Validate() error {
	switch p.Mode {
	case ModeRows:
		return nil
	case ModeGrid:
		if len(p.Timestamps) > 0 {
			for i := 1; i < len(p.Timestamps); i++ {
				if p.backwards(p.Timestamps[i-1], p.Timestamps[i]) {
					return fmt.Errorf("%w: timestamp %v after %v runs against the source order",
						ErrInvalidPlan, p.Timestamps[i], p.Timestamps[i-1])
				}
			}
			return nil
		}
		if p.Start == nil || p.End == nil || !(p.Step > 0) {
			return fmt.Errorf("%w: grid needs start, end and a positive step", ErrInvalidPlan)
		}
		if p.backwards(*p.Start, *p.End) {
			return fmt.Errorf("%w: start %v to end %v runs against the source order", ErrInvalidPlan, *p.Start, *p.End)
		}
		return nil
	}
	return fmt.Errorf("%w: unknown mode %q", ErrInvalidPlan, p.Mode)
}

// backwards reports whether moving from a to b goes against the source order.
func (p Plan) backwards(a, b float64) bool {
	if p.Descending {
		return b > a
	}
	return b < a
}

// Constraints turns the rows-mode bounds into cursor constraints.
func (p Plan) Constraints() []window.Constraint {
	if p.Mode != ModeRows {
		return nil
	}
	var out []window.Constraint
	if p.Start != nil {
		out = append(out, window.Constraint{Op: window.OpGE, Value: *p.Start})
	}
	if p.End != nil {
		out = append(out, window.Constraint{Op: window.OpLE, Value: *p.End})
	}
	return out
}

// gridPoints lists the grid timestamps. Points are computed from the index
// so the step error does not accumulate; descending grids count down.
func (p Plan) gridPoints() []float64 {
	if len(p.Timestamps) > 0 {
		return p.Timestamps
	}
	start, end := *p.Start, *p.End
	step := p.Step
	if end < start {
		step = -step
	}
	n := int(math.Floor((end-start)/step+1e-9)) + 1
	points := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		points = append(points, start+float64(i)*step)
	}
	return points
}

// Row is one evaluated position. Values holds one entry per column, keyed by
// the column name, and one per (column, window) keyed "<column>_<window>". A
// nil value means no answer exists at that position.
type Row struct {
	Timestamp float64             `json:"timestamp"`
	Values    map[string]*float64 `json:"values"`
}

// cell is one output value of a row.
type cell struct {
	name   string
	col    int
	window string // empty for the plain column value
}

// CellName is the output key of a windowed statistic.
func CellName(column, window string) string {
	return column + "_" + window
}

func cellsFor(c *window.Cursor) []cell {
	var cells []cell
	for i, col := range c.Columns() {
		cells = append(cells, cell{name: col.Name, col: i})
		for _, w := range c.Windows() {
			cells = append(cells, cell{name: CellName(col.Name, w.Name), col: i, window: w.Name})
		}
	}
	return cells
}

// CellStats holds running aggregates of one output cell across a query.
type CellStats struct {
	count     int64
	nullCount int64
	sum       float64
	sumSq     float64
}

func (s *CellStats) add(v *float64) {
	s.count++
	if v == nil {
		s.nullCount++
		return
	}
	s.sum += *v
	s.sumSq += *v * *v
}

// Summary describes one output cell after a query has finished.
type Summary struct {
	Cell      string
	Count     int64
	NullCount int64
	Mean      float64
	Variance  float64
}

func (s *CellStats) summary(name string) Summary {
	out := Summary{Cell: name, Count: s.count, NullCount: s.nullCount, Mean: math.NaN(), Variance: math.NaN()}
	valid := s.count - s.nullCount
	if valid <= 0 {
		return out
	}
	out.Mean = s.sum / float64(valid)
	// Variance = E[X^2] - (E[X])^2, clamped against rounding
	out.Variance = math.Max(0, s.sumSq/float64(valid)-out.Mean*out.Mean)
	return out
}
