package window

import "math"

// hintWalkLimit bounds the forward walk from a scan hint before falling back
// to binary search.
const hintWalkLimit = 64

// scanner walks the piecewise-linear curve a column traces through the
// buffered samples. Samples where the column is absent are skipped.
type scanner struct {
	buf    *SampleBuffer
	col    int
	interp Interpolator
}

// locate returns the logical index of the last sample with a timestamp <= t,
// or -1. A hint at or before that sample shortens the search.
func (s scanner) locate(t float64, hint int) int {
	n := s.buf.Len()
	if hint >= 0 && hint < n && s.buf.At(hint).Timestamp <= t {
		i := hint
		for steps := 0; i+1 < n && s.buf.At(i+1).Timestamp <= t; steps++ {
			if steps == hintWalkLimit {
				return s.buf.UpperBound(t) - 1
			}
			i++
		}
		return i
	}
	return s.buf.UpperBound(t) - 1
}

func (s scanner) validLeft(i int) int {
	for ; i >= 0; i-- {
		if s.buf.At(i).Valid(s.col) {
			return i
		}
	}
	return -1
}

func (s scanner) validRight(i int) int {
	if i < 0 {
		i = 0
	}
	for n := s.buf.Len(); i < n; i++ {
		if s.buf.At(i).Valid(s.col) {
			return i
		}
	}
	return -1
}

// valueAt returns the exact stored value at t when a sample sits there, and
// otherwise interpolates between the nearest valid brackets. idx is the left
// bracket used.
func (s scanner) valueAt(t float64, hint int) (v float64, idx int, ok bool) {
	i := s.locate(t, hint)
	for j := i; j >= 0 && s.buf.At(j).Timestamp == t; j-- {
		if smp := s.buf.At(j); smp.Valid(s.col) {
			return smp.Values[s.col], j, true
		}
	}

	l := s.validLeft(i)
	if l < 0 {
		return math.NaN(), -1, false
	}
	r := s.validRight(i + 1)
	if r < 0 {
		return math.NaN(), l, false
	}
	v, ok = s.interp.Interpolate(t, s.buf.At(l), s.buf.At(r), s.col)
	return v, l, ok
}

// walk calls visit for every segment of the curve on [x, y], x <= y, with the
// interpolated edge values as the outer endpoints. Nothing is visited unless
// both edges can be bracketed. A degenerate range visits one zero-width
// segment. The returned index is the left bracket of x.
func (s scanner) walk(x, y float64, hint int, visit func(t0, v0, t1, v1 float64)) (int, bool) {
	vx, l, ok := s.valueAt(x, hint)
	if !ok {
		return -1, false
	}
	if x == y {
		visit(x, vx, x, vx)
		return l, true
	}
	vy, _, ok := s.valueAt(y, l)
	if !ok {
		return -1, false
	}

	prevT, prevV := x, vx
	n := s.buf.Len()
	for i := s.locate(x, l) + 1; i < n; i++ {
		smp := s.buf.At(i)
		if smp.Timestamp >= y {
			break
		}
		if !smp.Valid(s.col) {
			continue
		}
		visit(prevT, prevV, smp.Timestamp, smp.Values[s.col])
		prevT, prevV = smp.Timestamp, smp.Values[s.col]
	}
	visit(prevT, prevV, y, vy)
	return l, true
}

// extent summarises the curve over a range: its extremes and whether it is
// monotonic.
type extent struct {
	min, max       float64
	nondecreasing  bool
	nonincreasing  bool
	observedPoints int
}

func newExtent() extent {
	return extent{min: math.Inf(1), max: math.Inf(-1), nondecreasing: true, nonincreasing: true}
}

func (e *extent) observe(v0, v1 float64) {
	if e.observedPoints == 0 {
		e.add(v0)
	}
	e.add(v1)
	if v1 < v0 {
		e.nondecreasing = false
	}
	if v1 > v0 {
		e.nonincreasing = false
	}
}

func (e *extent) add(v float64) {
	e.min = math.Min(e.min, v)
	e.max = math.Max(e.max, v)
	e.observedPoints++
}

func (s scanner) extent(x, y float64, hint int) (extent, bool) {
	if x > y {
		x, y = y, x
	}
	ext := newExtent()
	_, ok := s.walk(x, y, hint, func(_, v0, _, v1 float64) {
		ext.observe(v0, v1)
	})
	return ext, ok
}

// integral returns the area under the curve from x to y using trapezoids; the
// sign flips when x > y.
func (s scanner) integral(x, y float64, hint int) (float64, bool) {
	sign := 1.0
	if x > y {
		x, y, sign = y, x, -1
	}
	area := 0.0
	_, ok := s.walk(x, y, hint, func(t0, v0, t1, v1 float64) {
		area += (v0 + v1) / 2 * (t1 - t0)
	})
	return sign * area, ok
}

// arcIntegral returns the unit-vector integral from x to y of an angular curve
// that sweeps the shorter arc between consecutive samples at constant angular
// speed.
func (s scanner) arcIntegral(x, y float64, hint int) (float64, float64, bool) {
	sign := 1.0
	if x > y {
		x, y, sign = y, x, -1
	}
	var sx, sy float64
	_, ok := s.walk(x, y, hint, func(t0, v0, t1, v1 float64) {
		dx, dy := arcSegment(t0, v0, t1, v1)
		sx += dx
		sy += dy
	})
	return sign * sx, sign * sy, ok
}

func arcSegment(t0, a0, t1, a1 float64) (float64, float64) {
	dt := t1 - t0
	if dt == 0 {
		return 0, 0
	}
	a0, a1 = shorterArc(a0, a1)
	r0, r1 := a0*math.Pi/180, a1*math.Pi/180
	d := r1 - r0
	if math.Abs(d) < 1e-12 {
		return dt * math.Cos(r0), dt * math.Sin(r0)
	}
	return dt / d * (math.Sin(r1) - math.Sin(r0)), dt / d * (math.Cos(r0) - math.Cos(r1))
}
