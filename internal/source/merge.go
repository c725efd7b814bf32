package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/gammazero/deque"

	"github.com/sanspareilsmyn/timelens/internal/window"
)

// mergeReadAhead is how many rows each input buffers per refill.
const mergeReadAhead = 16

// Input is one source of a Merge. Columns maps the source's value slots onto
// merged column indices.
type Input struct {
	Source  window.RowSource
	Columns []int
}

type mergeInput struct {
	Input
	pending *deque.Deque[window.Sample]
	done    bool
}

// Merge interleaves several row sources, each ordered in the same direction,
// into one. Rows with equal timestamps are combined column by column; the
// first input holding a value for a column wins.
type Merge struct {
	inputs     []*mergeInput
	width      int
	descending bool
}

func NewMerge(width int, descending bool, inputs ...Input) (*Merge, error) {
	if len(inputs) == 0 {
		return nil, ErrNoInputs
	}
	m := &Merge{width: width, descending: descending}
	for i, in := range inputs {
		for _, col := range in.Columns {
			if col < 0 || col >= width {
				return nil, fmt.Errorf("%w: input %d maps to column %d of %d", window.ErrUnknownColumn, i, col, width)
			}
		}
		m.inputs = append(m.inputs, &mergeInput{
			Input:   in,
			pending: deque.New[window.Sample](0, mergeReadAhead),
		})
	}
	return m, nil
}

func (in *mergeInput) fill(ctx context.Context) error {
	for !in.done && in.pending.Len() < mergeReadAhead {
		s, err := in.Source.Next(ctx)
		if errors.Is(err, io.EOF) {
			in.done = true
			return nil
		}
		if err != nil {
			return err
		}
		in.pending.PushBack(s)
	}
	return nil
}

func (m *Merge) before(a, b float64) bool {
	if m.descending {
		return a > b
	}
	return a < b
}

func (m *Merge) Next(ctx context.Context) (window.Sample, error) {
	var best float64
	found := false
	for _, in := range m.inputs {
		if in.pending.Len() == 0 {
			if err := in.fill(ctx); err != nil {
				return window.Sample{}, err
			}
		}
		if in.pending.Len() == 0 {
			continue
		}
		if ts := in.pending.Front().Timestamp; !found || m.before(ts, best) {
			best, found = ts, true
		}
	}
	if !found {
		return window.Sample{}, io.EOF
	}

	values := make([]float64, m.width)
	for i := range values {
		values[i] = math.NaN()
	}
	for _, in := range m.inputs {
		if in.pending.Len() == 0 || in.pending.Front().Timestamp != best {
			continue
		}
		s := in.pending.PopFront()
		for slot, col := range in.Columns {
			if slot < len(s.Values) && math.IsNaN(values[col]) {
				values[col] = s.Values[slot]
			}
		}
	}
	return window.Sample{Timestamp: best, Values: values}, nil
}

// EstimatedRange is the union of the inputs' ranges, known only when every
// input can estimate its own.
func (m *Merge) EstimatedRange(ctx context.Context) (float64, float64, bool) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, in := range m.inputs {
		est, ok := in.Source.(window.RangeEstimator)
		if !ok {
			return 0, 0, false
		}
		a, b, ok := est.EstimatedRange(ctx)
		if !ok {
			return 0, 0, false
		}
		lo = math.Min(lo, math.Min(a, b))
		hi = math.Max(hi, math.Max(a, b))
	}
	if m.descending {
		return hi, lo, true
	}
	return lo, hi, true
}
