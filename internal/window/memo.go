package window

// MemoCell remembers the last result computed for one (column, window) pair
// so that a nearby follow-up query only has to scan the slivers entering and
// leaving the window.
type MemoCell struct {
	Value float64
	Min   float64
	Max   float64
	// AreaX and AreaY hold the window integral: the plain area for averages,
	// the unit-vector components for angular averages.
	AreaX     float64
	AreaY     float64
	Timestamp float64
	// Sorted is +1 when the curve over the window was non-decreasing, -1 when
	// non-increasing and 0 when unknown or neither.
	Sorted int
	// Hint holds buffer sequence numbers near the window's left edge, right
	// edge and center.
	Hint [3]int64

	valid bool
}

type memoKey struct {
	col    int
	window string
}

func (m *MemoCell) invalidate() {
	*m = MemoCell{Hint: m.Hint}
}

// hint converts a remembered sequence number into a logical index, or -1 when
// the sample is gone.
func (m *MemoCell) hint(buf *SampleBuffer, slot int) int {
	if !m.valid {
		return -1
	}
	i, ok := buf.Index(m.Hint[slot])
	if !ok {
		return -1
	}
	return i
}

func (m *MemoCell) remember(s scanner, t, half float64) {
	for slot, at := range [3]float64{t - half, t + half, t} {
		i := s.locate(at, m.hint(s.buf, slot))
		if i < 0 {
			i = 0
		}
		m.Hint[slot] = s.buf.Seq(i)
	}
	m.Timestamp = t
	m.valid = true
}
