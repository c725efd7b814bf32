package source

import (
	"math"

	"github.com/sanspareilsmyn/timelens/internal/window"
)

// grouper folds long-format observations (series, timestamp, value), already
// ordered by timestamp, into wide samples with one value slot per column.
type grouper struct {
	index   map[string]int
	width   int
	pending *window.Sample
}

func newGrouper(columns []string) *grouper {
	index := make(map[string]int, len(columns))
	for i, c := range columns {
		index[c] = i
	}
	return &grouper{index: index, width: len(columns)}
}

// add feeds one observation. When it starts a new timestamp the previous,
// now complete, sample is returned.
func (g *grouper) add(series string, ts, value float64) (window.Sample, bool) {
	col, ok := g.index[series]
	if !ok {
		return window.Sample{}, false
	}

	var done window.Sample
	var flushed bool
	if g.pending != nil && g.pending.Timestamp != ts {
		done, flushed = *g.pending, true
		g.pending = nil
	}
	if g.pending == nil {
		values := make([]float64, g.width)
		for i := range values {
			values[i] = math.NaN()
		}
		g.pending = &window.Sample{Timestamp: ts, Values: values}
	}
	// the first value seen for a column at a timestamp wins
	if math.IsNaN(g.pending.Values[col]) {
		g.pending.Values[col] = value
	}
	return done, flushed
}

// flush returns the sample still being assembled, if any.
func (g *grouper) flush() (window.Sample, bool) {
	if g.pending == nil {
		return window.Sample{}, false
	}
	s := *g.pending
	g.pending = nil
	return s, true
}
