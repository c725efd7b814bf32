package window

import (
	"context"
	"errors"
	"io"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

// rows is a RowSource over a fixed slice that can fail at a given row.
type rows struct {
	samples []Sample
	next    int
	failAt  int
	err     error
	lo, hi  float64
	ranged  bool
}

func newRows(samples ...Sample) *rows {
	return &rows{samples: samples, failAt: -1}
}

func (r *rows) Next(ctx context.Context) (Sample, error) {
	if err := ctx.Err(); err != nil {
		return Sample{}, err
	}
	if r.next == r.failAt {
		return Sample{}, r.err
	}
	if r.next >= len(r.samples) {
		return Sample{}, io.EOF
	}
	s := r.samples[r.next]
	r.next++
	return s, nil
}

func (r *rows) EstimatedRange(context.Context) (float64, float64, bool) {
	return r.lo, r.hi, r.ranged
}

func series(ts []float64, values ...[]float64) []Sample {
	out := make([]Sample, len(ts))
	for i, t := range ts {
		vals := make([]float64, len(values))
		for c := range values {
			vals[c] = values[c][i]
		}
		out[i] = NewSample(t, vals...)
	}
	return out
}

func openCursor(t *testing.T, src RowSource, opts Options) *Cursor {
	t.Helper()
	if opts.Columns == nil {
		opts.Columns = []Column{{Name: "v"}}
	}
	c, err := Open(context.Background(), src, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestCursorInterpolatesBetweenRows(t *testing.T) {
	c := openCursor(t, newRows(NewSample(100, 20), NewSample(300, 40)), Options{})

	require.NoError(t, c.Seek(context.Background(), 150))
	v, ok := c.Value(0)
	require.True(t, ok)
	require.InDelta(t, 25.0, v, 1e-12)
	require.Equal(t, 150.0, c.Timestamp())
}

func TestCursorExactValues(t *testing.T) {
	ts := []float64{0, 0.3, 1.7, 2.2, 9.1}
	vs := []float64{0.1, 0.7, 1.0 / 3, math.Pi, -2.5e-7}
	ctx := context.Background()
	c := openCursor(t, newRows(series(ts, vs)...), Options{
		Windows: []Window{{Name: "w", Width: 2, Kind: KindAverage}},
	})

	for i := range ts {
		require.NoError(t, c.Next(ctx))
		require.Equal(t, ts[i], c.Timestamp())
		v, ok := c.Value(0)
		require.True(t, ok)
		require.Equal(t, vs[i], v)
	}
	require.ErrorIs(t, c.Next(ctx), io.EOF)
	require.True(t, c.EOF())
	require.ErrorIs(t, c.Next(ctx), io.EOF)
	require.ErrorIs(t, c.Seek(ctx, 1), io.EOF)

	// Seeking onto a stored timestamp also returns the stored value.
	c2 := openCursor(t, newRows(series(ts, vs)...), Options{})
	for i := range ts {
		require.NoError(t, c2.Seek(ctx, ts[i]))
		v, ok := c2.Value(0)
		require.True(t, ok)
		require.Equal(t, vs[i], v)
	}
}

func TestCursorLinearInterpolationProperty(t *testing.T) {
	ts := []float64{0, 1.5, 4, 4.25, 10}
	vs := []float64{3, -1, 8, 8.5, 0}
	c := openCursor(t, newRows(series(ts, vs)...), Options{})
	ctx := context.Background()

	for i := 0; i+1 < len(ts); i++ {
		for _, frac := range []float64{0.1, 0.5, 0.9} {
			at := ts[i] + frac*(ts[i+1]-ts[i])
			require.NoError(t, c.Seek(ctx, at))
			v, ok := c.Value(0)
			require.True(t, ok)
			want := vs[i] + (vs[i+1]-vs[i])*(at-ts[i])/(ts[i+1]-ts[i])
			require.InDelta(t, want, v, 1e-9)
		}
	}
}

func TestCursorSkipsAbsentValues(t *testing.T) {
	nan := math.NaN()
	src := newRows(
		NewSample(0, 1, 5),
		NewSample(1, nan, 6),
		NewSample(2, 3, nan),
	)
	c := openCursor(t, src, Options{Columns: []Column{{Name: "a"}, {Name: "b"}}})
	ctx := context.Background()

	require.NoError(t, c.Seek(ctx, 1))
	v, ok := c.Value(0)
	require.True(t, ok)
	require.InDelta(t, 2.0, v, 1e-12)

	v, ok = c.Value(1)
	require.True(t, ok)
	require.Equal(t, 6.0, v)

	// no valid right bracket for b
	require.NoError(t, c.Seek(ctx, 1.5))
	_, ok = c.Value(1)
	require.False(t, ok)

	_, ok, err := c.ValueByName("a")
	require.NoError(t, err)
	require.True(t, ok)
	_, _, err = c.ValueByName("missing")
	require.ErrorIs(t, err, ErrUnknownColumn)
}

func TestCursorDescendingSource(t *testing.T) {
	src := newRows(NewSample(300, 40), NewSample(200, 30), NewSample(100, 20))
	c := openCursor(t, src, Options{
		Descending: true,
		Windows:    []Window{{Name: "w", Width: 100, Kind: KindAverage}},
	})
	ctx := context.Background()

	var seen []float64
	for {
		err := c.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		seen = append(seen, c.Timestamp())
	}
	require.Equal(t, []float64{300, 200, 100}, seen)

	c2 := openCursor(t, newRows(NewSample(300, 40), NewSample(100, 20)), Options{
		Descending: true,
		Windows:    []Window{{Name: "w", Width: 100, Kind: KindAverage}},
	})
	require.NoError(t, c2.Seek(ctx, 150))
	v, ok := c2.Value(0)
	require.True(t, ok)
	require.InDelta(t, 25.0, v, 1e-12)
	require.Equal(t, 150.0, c2.Timestamp())

	avg, ok, err := c2.Statistic(0, "w")
	require.NoError(t, err)
	require.True(t, ok)
	require.InDelta(t, 25.0, avg, 1e-12)
}

func TestCursorConstraints(t *testing.T) {
	var samples []Sample
	for i := 0; i < 10; i++ {
		samples = append(samples, NewSample(float64(i), float64(i)))
	}
	ctx := context.Background()

	c := openCursor(t, newRows(samples...), Options{
		Constraints: []Constraint{{Op: OpGE, Value: 3}, {Op: OpLE, Value: 6}},
	})
	var seen []float64
	for {
		err := c.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		seen = append(seen, c.Timestamp())
	}
	require.Equal(t, []float64{3, 4, 5, 6}, seen)
	require.True(t, c.EOF())

	eq := openCursor(t, newRows(samples...), Options{
		Constraints: []Constraint{{Op: OpEQ, Value: 4}},
	})
	require.NoError(t, eq.Next(ctx))
	require.Equal(t, 4.0, eq.Timestamp())
	require.ErrorIs(t, eq.Next(ctx), io.EOF)
}

func TestCursorNextAfterSeek(t *testing.T) {
	src := newRows(NewSample(0, 0), NewSample(10, 1), NewSample(20, 2))
	c := openCursor(t, src, Options{})
	ctx := context.Background()

	require.NoError(t, c.Seek(ctx, 5))
	require.NoError(t, c.Next(ctx))
	require.Equal(t, 10.0, c.Timestamp())
	require.NoError(t, c.Next(ctx))
	require.Equal(t, 20.0, c.Timestamp())
	require.ErrorIs(t, c.Next(ctx), io.EOF)
}

func TestCursorSourceErrorIsTerminal(t *testing.T) {
	boom := errors.New("boom")
	src := newRows(NewSample(0, 1), NewSample(1, 2), NewSample(2, 3))
	src.failAt, src.err = 2, boom
	c := openCursor(t, src, Options{})
	ctx := context.Background()

	require.NoError(t, c.Next(ctx))
	require.NoError(t, c.Next(ctx))
	err := c.Next(ctx)
	require.Equal(t, boom, err)
	require.True(t, c.EOF())
	require.ErrorIs(t, c.Next(ctx), io.EOF)

	_, ok := c.Value(0)
	require.False(t, ok)
}

func TestCursorRejectsUnorderedSource(t *testing.T) {
	c := openCursor(t, newRows(NewSample(2, 1), NewSample(1, 2)), Options{})
	ctx := context.Background()

	require.NoError(t, c.Next(ctx))
	require.ErrorIs(t, c.Next(ctx), ErrUnorderedSource)
	require.True(t, c.EOF())
}

func TestOpenRejectsMalformedWindows(t *testing.T) {
	ctx := context.Background()
	cols := []Column{{Name: "v"}}

	for _, w := range []Window{
		{Name: "zero", Width: 0, Kind: KindAverage},
		{Name: "negative", Width: -5, Kind: KindMax},
		{Name: "nan", Width: math.NaN(), Kind: KindMin},
		{Name: "trim", Width: 10, Kind: KindFilteredAverage, Trim: 150},
		{Name: "negative trim", Width: 10, Kind: KindFilteredAverage, Trim: -1},
		{Name: "", Width: 10, Kind: KindAverage},
	} {
		_, err := Open(ctx, newRows(), Options{Columns: cols, Windows: []Window{w}})
		require.ErrorIs(t, err, ErrMalformedWindow, w.Name)
	}

	_, err := Open(ctx, newRows(), Options{Columns: cols, Windows: []Window{
		{Name: "a", Width: 1, Kind: KindAverage},
		{Name: "a", Width: 2, Kind: KindMax},
	}})
	require.ErrorIs(t, err, ErrMalformedWindow)

	_, err = Open(ctx, newRows(), Options{})
	require.ErrorIs(t, err, ErrUnknownColumn)

	_, err = Open(ctx, newRows(), Options{Columns: cols, Windows: []Window{{Name: "dir", Kind: KindAngle}}})
	require.NoError(t, err)
}

func TestCursorUnknownWindowAndClose(t *testing.T) {
	c := openCursor(t, newRows(NewSample(0, 1), NewSample(1, 1)), Options{})
	ctx := context.Background()
	require.NoError(t, c.Seek(ctx, 0.5))

	_, _, err := c.Statistic(0, "nope")
	require.ErrorIs(t, err, ErrUnknownWindow)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	require.ErrorIs(t, c.Seek(ctx, 0.5), ErrCursorClosed)
	require.ErrorIs(t, c.Next(ctx), ErrCursorClosed)
	_, ok := c.Value(0)
	require.False(t, ok)
}

func TestCursorReset(t *testing.T) {
	ctx := context.Background()
	c := openCursor(t, newRows(NewSample(0, 1), NewSample(1, 3)), Options{
		Windows: []Window{{Name: "w", Width: 1, Kind: KindAverage}},
	})
	require.NoError(t, c.Seek(ctx, 0.5))
	v, ok, err := c.Statistic(0, "w")
	require.NoError(t, err)
	require.True(t, ok)
	require.InDelta(t, 2.0, v, 1e-12)

	require.NoError(t, c.Reset(ctx, newRows(NewSample(0, 10), NewSample(1, 30)), nil))
	require.NoError(t, c.Seek(ctx, 0.5))
	v, ok, err = c.Statistic(0, "w")
	require.NoError(t, err)
	require.True(t, ok)
	require.InDelta(t, 20.0, v, 1e-12)
}

func TestCursorPrefetchesSmallSources(t *testing.T) {
	src := newRows(NewSample(0, 1), NewSample(1, 2), NewSample(2, 3))
	src.lo, src.hi, src.ranged = 0, 2, true

	c := openCursor(t, src, Options{
		Windows: []Window{{Name: "w", Width: 10, Kind: KindAverage}},
	})
	require.Equal(t, 3, c.buf.Len())
	require.True(t, c.drained)
}

// sparseRamp yields rows 0..n-1 where column a is t at every row and column b
// is t only every `every` rows.
func sparseRamp(n, every int) []Sample {
	out := make([]Sample, n)
	for i := range out {
		b := math.NaN()
		if i%every == 0 {
			b = float64(i)
		}
		out[i] = NewSample(float64(i), float64(i), b)
	}
	return out
}

func TestCursorKeepsSparseLeftBrackets(t *testing.T) {
	cols := []Column{{Name: "a"}, {Name: "b"}}
	ctx := context.Background()

	for _, capacity := range []int{2, 4, 64} {
		c := openCursor(t, newRows(sparseRamp(201, 200)...), Options{
			Columns:         cols,
			Windows:         []Window{{Name: "w", Width: 10, Kind: KindAverage}},
			InitialCapacity: capacity,
		})
		for _, at := range []float64{50, 100, 150} {
			require.NoError(t, c.Seek(ctx, at))
			for col := range cols {
				v, ok := c.Value(col)
				require.True(t, ok, "capacity %d col %d at %v", capacity, col, at)
				require.InDelta(t, at, v, 1e-9)

				avg, ok, err := c.Statistic(col, "w")
				require.NoError(t, err)
				require.True(t, ok, "capacity %d col %d at %v", capacity, col, at)
				require.InDelta(t, at, avg, 1e-9)
			}
		}
	}
}

func TestCursorKeepsSparseLeftBracketsWhileScanning(t *testing.T) {
	c := openCursor(t, newRows(sparseRamp(101, 10)...), Options{
		Columns:         []Column{{Name: "a"}, {Name: "b"}},
		Windows:         []Window{{Name: "w", Width: 10, Kind: KindAverage}},
		InitialCapacity: 2,
	})
	ctx := context.Background()

	for {
		err := c.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		at := c.Timestamp()

		v, ok := c.Value(1)
		require.True(t, ok, "at %v", at)
		require.InDelta(t, at, v, 1e-9)

		if at < 5 || at > 95 {
			continue
		}
		avg, ok, err := c.Statistic(1, "w")
		require.NoError(t, err)
		require.True(t, ok, "at %v", at)
		require.InDelta(t, at, avg, 1e-9)
	}
}
