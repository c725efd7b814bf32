package window

import (
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"
)

// Aggregator evaluates centered window statistics over a cursor's buffer and
// keeps one MemoCell per (column, window) pair for incremental reuse.
type Aggregator struct {
	buf     *SampleBuffer
	columns []Column
	memo    map[memoKey]*MemoCell
	scratch []float64
	logger  *zap.Logger
}

func newAggregator(buf *SampleBuffer, columns []Column, logger *zap.Logger) *Aggregator {
	return &Aggregator{
		buf:     buf,
		columns: columns,
		memo:    make(map[memoKey]*MemoCell),
		logger:  logger,
	}
}

// evaluation is one statistic request: the column's curve plus the window
// placement.
type evaluation struct {
	scanner
	t     float64
	half  float64
	width float64
}

func (e *evaluation) lo() float64 { return e.t - e.half }
func (e *evaluation) hi() float64 { return e.t + e.half }

// statistic is one windowed aggregate. incremental may only be called with a
// valid memo whose timestamp lies within a quarter width of e.t; it reports
// false when the memo cannot be reused and a full rescan is required.
type statistic interface {
	full(e *evaluation, m *MemoCell) (float64, bool, error)
	incremental(e *evaluation, m *MemoCell) (float64, bool)
}

func (a *Aggregator) statisticFor(w Window) statistic {
	switch w.Kind {
	case KindMin:
		return extremum{}
	case KindMax:
		return extremum{max: true}
	case KindAngleAverage:
		return angularAverage{}
	case KindFilteredAverage:
		return filteredAverage{trim: w.Trim, agg: a}
	default:
		return average{}
	}
}

func (a *Aggregator) cell(col int, name string) *MemoCell {
	key := memoKey{col: col, window: name}
	m, ok := a.memo[key]
	if !ok {
		m = &MemoCell{}
		a.memo[key] = m
	}
	return m
}

// Compute evaluates w for column col centered at t. ok is false when the
// buffered data cannot bracket the window.
func (a *Aggregator) Compute(col int, w Window, t float64) (float64, bool, error) {
	if col < 0 || col >= len(a.columns) {
		return math.NaN(), false, fmt.Errorf("%w: index %d", ErrUnknownColumn, col)
	}
	kind := w.Kind.String()
	if a.buf.Len() == 0 {
		nullResults.WithLabelValues(kind).Inc()
		return math.NaN(), false, nil
	}

	s := scanner{buf: a.buf, col: col, interp: interpolatorFor(a.columns[col])}
	if w.Kind == KindAngle {
		s.interp = Circular{}
		v, _, ok := s.valueAt(t, -1)
		if !ok {
			nullResults.WithLabelValues(kind).Inc()
		}
		return v, ok, nil
	}

	e := &evaluation{scanner: s, t: t, half: w.Width / 2, width: w.Width}
	m := a.cell(col, w.Name)
	stat := a.statisticFor(w)

	if m.valid {
		shift := math.Abs(t - m.Timestamp)
		switch {
		case shift == 0:
			memoReuses.WithLabelValues(kind).Inc()
			return m.Value, true, nil
		case shift > w.Width/4:
			a.logger.Debug("Window memo reset",
				zap.String("column", a.columns[col].Name),
				zap.String("window", w.Name),
				zap.Float64("shift", shift),
			)
			m.invalidate()
		default:
			if v, ok := stat.incremental(e, m); ok {
				m.Value = v
				m.remember(s, t, e.half)
				memoReuses.WithLabelValues(kind).Inc()
				return v, true, nil
			}
			m.invalidate()
		}
	}

	memoRescans.WithLabelValues(kind).Inc()
	v, ok, err := stat.full(e, m)
	if err != nil || !ok {
		m.invalidate()
		if err == nil {
			nullResults.WithLabelValues(kind).Inc()
		}
		return math.NaN(), false, err
	}
	m.Value = v
	m.remember(s, t, e.half)
	return v, true, nil
}

func (a *Aggregator) reset() {
	a.memo = make(map[memoKey]*MemoCell)
	a.scratch = nil
}

func (a *Aggregator) scratchFor(n int) ([]float64, error) {
	if cap(a.scratch) >= n {
		return a.scratch[:0], nil
	}
	s, err := allocFloats(n)
	if err != nil {
		return nil, err
	}
	a.scratch = s
	return s, nil
}

func allocFloats(n int) (s []float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			s = nil
			err = fmt.Errorf("%w: allocating %d scratch values: %v", ErrOutOfMemory, n, r)
		}
	}()
	return make([]float64, 0, n), nil
}

// average is the time-weighted mean: the trapezoid area under the curve
// divided by the window width.
type average struct{}

func (average) full(e *evaluation, m *MemoCell) (float64, bool, error) {
	area, ok := e.integral(e.lo(), e.hi(), m.hint(e.buf, 0))
	if !ok {
		return math.NaN(), false, nil
	}
	m.AreaX = area
	return area / e.width, true, nil
}

func (average) incremental(e *evaluation, m *MemoCell) (float64, bool) {
	t0 := m.Timestamp
	leaving, ok := e.integral(t0-e.half, e.lo(), m.hint(e.buf, 0))
	if !ok {
		return math.NaN(), false
	}
	entering, ok := e.integral(t0+e.half, e.hi(), m.hint(e.buf, 1))
	if !ok {
		return math.NaN(), false
	}
	m.AreaX += entering - leaving
	return m.AreaX / e.width, true
}

// angularAverage integrates the unit vector of the angle along the shorter
// arc between samples, so inserting interpolated points leaves it unchanged.
type angularAverage struct{}

func (angularAverage) full(e *evaluation, m *MemoCell) (float64, bool, error) {
	x, y, ok := e.arcIntegral(e.lo(), e.hi(), m.hint(e.buf, 0))
	if !ok {
		return math.NaN(), false, nil
	}
	m.AreaX, m.AreaY = x, y
	v, ok := heading(x, y, e.width)
	return v, ok, nil
}

func (angularAverage) incremental(e *evaluation, m *MemoCell) (float64, bool) {
	t0 := m.Timestamp
	lx, ly, ok := e.arcIntegral(t0-e.half, e.lo(), m.hint(e.buf, 0))
	if !ok {
		return math.NaN(), false
	}
	ex, ey, ok := e.arcIntegral(t0+e.half, e.hi(), m.hint(e.buf, 1))
	if !ok {
		return math.NaN(), false
	}
	m.AreaX += ex - lx
	m.AreaY += ey - ly
	return heading(m.AreaX, m.AreaY, e.width)
}

// heading turns a summed unit vector into degrees. Vectors that cancel out
// have no direction.
func heading(x, y, width float64) (float64, bool) {
	if math.Hypot(x, y) <= 1e-12*width {
		return math.NaN(), false
	}
	return NormalizeDegrees(math.Atan2(y, x) * 180 / math.Pi), true
}

// extremum tracks the window minimum or maximum of the curve, exact samples
// and interpolated edges alike.
type extremum struct {
	max bool
}

func (x extremum) pick(m *MemoCell) float64 {
	if x.max {
		return m.Max
	}
	return m.Min
}

func sortedness(ext extent) int {
	switch {
	case ext.nondecreasing:
		return 1
	case ext.nonincreasing:
		return -1
	}
	return 0
}

func (x extremum) full(e *evaluation, m *MemoCell) (float64, bool, error) {
	ext, ok := e.extent(e.lo(), e.hi(), m.hint(e.buf, 0))
	if !ok {
		return math.NaN(), false, nil
	}
	m.Min, m.Max = ext.min, ext.max
	m.Sorted = sortedness(ext)
	return x.pick(m), true, nil
}

// incremental keeps the previous extreme only when it provably lies outside
// the leaving sliver: either the previous window was monotonic towards the
// new one, or the leaving sliver never reaches the extreme, or the sliver is
// monotonic so its own extreme sits on the edge that stays in the window.
func (x extremum) incremental(e *evaluation, m *MemoCell) (float64, bool) {
	t0 := m.Timestamp
	forward := e.t > t0

	var leaveFrom, leaveTo, enterFrom, enterTo float64
	var leaveHint, enterHint int
	if forward {
		leaveFrom, leaveTo, leaveHint = t0-e.half, e.lo(), m.hint(e.buf, 0)
		enterFrom, enterTo, enterHint = t0+e.half, e.hi(), m.hint(e.buf, 1)
	} else {
		leaveFrom, leaveTo, leaveHint = e.hi(), t0+e.half, -1
		enterFrom, enterTo, enterHint = e.lo(), t0-e.half, -1
	}

	entering, ok := e.extent(enterFrom, enterTo, enterHint)
	if !ok {
		return math.NaN(), false
	}

	// The extreme of a window sorted towards the direction of travel sits on
	// the edge that stays inside.
	rising := (forward && m.Sorted == 1) || (!forward && m.Sorted == -1)
	falling := (forward && m.Sorted == -1) || (!forward && m.Sorted == 1)
	safe := (x.max && rising) || (!x.max && falling)
	if !safe {
		leaving, ok := e.extent(leaveFrom, leaveTo, leaveHint)
		if !ok {
			return math.NaN(), false
		}
		inwardUp := (forward && leaving.nondecreasing) || (!forward && leaving.nonincreasing)
		inwardDown := (forward && leaving.nonincreasing) || (!forward && leaving.nondecreasing)
		if x.max {
			safe = leaving.max < m.Max || inwardUp
		} else {
			safe = leaving.min > m.Min || inwardDown
		}
	}
	if !safe {
		return math.NaN(), false
	}

	if x.max {
		m.Max = math.Max(m.Max, entering.max)
		m.Min = math.NaN()
	} else {
		m.Min = math.Min(m.Min, entering.min)
		m.Max = math.NaN()
	}
	switch {
	case m.Sorted == 1 && entering.nondecreasing:
	case m.Sorted == -1 && entering.nonincreasing:
	default:
		m.Sorted = 0
	}
	return x.pick(m), true
}

// filteredAverage trims the configured share of extreme values and takes the
// time-weighted mean of the curve clamped to the surviving range. The trim
// set can change anywhere in the window, so it is always rescanned.
type filteredAverage struct {
	trim float64
	agg  *Aggregator
}

func (f filteredAverage) full(e *evaluation, m *MemoCell) (float64, bool, error) {
	lo, hi := e.lo(), e.hi()
	hint := m.hint(e.buf, 0)

	estimate := e.locate(hi, hint) - e.locate(lo, hint) + 2
	values, err := f.agg.scratchFor(estimate)
	if err != nil {
		return math.NaN(), false, err
	}
	_, ok := e.walk(lo, hi, hint, func(_, v0, _, v1 float64) {
		if len(values) == 0 {
			values = append(values, v0)
		}
		values = append(values, v1)
	})
	if !ok {
		return math.NaN(), false, nil
	}

	sort.Float64s(values)
	first, last := trimBounds(len(values), f.trim)
	floor, ceil := values[first], values[last]
	f.agg.scratch = values[:0]

	clamp := func(v float64) float64 { return math.Max(floor, math.Min(ceil, v)) }
	area := 0.0
	e.walk(lo, hi, hint, func(t0, v0, t1, v1 float64) {
		area += (clamp(v0) + clamp(v1)) / 2 * (t1 - t0)
	})
	m.Min, m.Max = floor, ceil
	return area / e.width, true, nil
}

func (filteredAverage) incremental(*evaluation, *MemoCell) (float64, bool) {
	return math.NaN(), false
}

// trimBounds returns the first and last retained indices of n sorted values
// after trimming pct percent, half from each end. Crossing bounds collapse to
// the median.
func trimBounds(n int, pct float64) (int, int) {
	k := int(math.Floor(float64(n) * pct / 200))
	first, last := k, n-1-k
	if first > last {
		first = (n - 1) / 2
		last = first
	}
	return first, last
}
