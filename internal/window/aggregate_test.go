package window

import (
	"context"
	"errors"
	"io"
	"math"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

// angleDiff is the unsigned circular distance between two headings.
func angleDiff(a, b float64) float64 {
	d := math.Mod(math.Abs(a-b), 360)
	return math.Min(d, 360-d)
}

// curve is an independent reference for the piecewise-linear window curve:
// the interpolated edges plus every sample strictly inside.
func curve(ts, vs []float64, lo, hi float64) ([]float64, []float64, bool) {
	at := func(x float64) (float64, bool) {
		for i := 0; i+1 < len(ts); i++ {
			if ts[i] <= x && x <= ts[i+1] {
				return vs[i] + (vs[i+1]-vs[i])*(x-ts[i])/(ts[i+1]-ts[i]), true
			}
		}
		return 0, false
	}
	vlo, ok := at(lo)
	if !ok {
		return nil, nil, false
	}
	vhi, ok := at(hi)
	if !ok {
		return nil, nil, false
	}
	xs, ys := []float64{lo}, []float64{vlo}
	for i := range ts {
		if ts[i] > lo && ts[i] < hi {
			xs = append(xs, ts[i])
			ys = append(ys, vs[i])
		}
	}
	return append(xs, hi), append(ys, vhi), true
}

func irregular(n int) ([]float64, []float64) {
	ts := make([]float64, n)
	vs := make([]float64, n)
	for i := range ts {
		x := float64(i)
		ts[i] = x + 0.3*math.Sin(x)
		vs[i] = 10*math.Sin(ts[i]/7) + 3*math.Cos(ts[i]*1.3)
	}
	return ts, vs
}

func TestAverageUniform(t *testing.T) {
	var samples []Sample
	for i := 0; i <= 20; i++ {
		samples = append(samples, NewSample(float64(i), 7.5))
	}
	c := openCursor(t, newRows(samples...), Options{
		Windows: []Window{{Name: "avg", Width: 6, Kind: KindAverage}},
	})
	ctx := context.Background()

	for _, at := range []float64{3, 4.2, 10, 17} {
		require.NoError(t, c.Seek(ctx, at))
		v, ok, err := c.Statistic(0, "avg")
		require.NoError(t, err)
		require.True(t, ok)
		require.InDelta(t, 7.5, v, 1e-12)
	}
}

func TestAverageIsTimeWeighted(t *testing.T) {
	c := openCursor(t, newRows(NewSample(0, 0), NewSample(1, 10), NewSample(10, 10)), Options{
		Windows: []Window{{Name: "avg", Width: 10, Kind: KindAverage}},
	})
	require.NoError(t, c.Seek(context.Background(), 5))

	v, ok, err := c.Statistic(0, "avg")
	require.NoError(t, err)
	require.True(t, ok)
	require.InDelta(t, 9.5, v, 1e-12)
}

func TestMinMax(t *testing.T) {
	c := openCursor(t, newRows(series([]float64{0, 1, 2, 3}, []float64{5, 1, 9, 3})...), Options{
		Windows: []Window{
			{Name: "lo", Width: 3, Kind: KindMin},
			{Name: "hi", Width: 3, Kind: KindMax},
		},
	})
	require.NoError(t, c.Seek(context.Background(), 1.5))

	lo, ok, err := c.Statistic(0, "lo")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 1.0, lo)

	hi, ok, err := c.Statistic(0, "hi")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 9.0, hi)
}

func TestWindowWithoutContextIsNull(t *testing.T) {
	var samples []Sample
	for i := 0; i <= 10; i++ {
		samples = append(samples, NewSample(float64(i), float64(i)))
	}
	c := openCursor(t, newRows(samples...), Options{
		Windows: []Window{
			{Name: "avg", Width: 4, Kind: KindAverage},
			{Name: "max", Width: 4, Kind: KindMax},
		},
	})
	ctx := context.Background()

	require.NoError(t, c.Seek(ctx, 9))
	_, ok, err := c.Statistic(0, "avg")
	require.NoError(t, err)
	require.False(t, ok)
	_, ok, err = c.Statistic(0, "max")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, c.Seek(ctx, 1))
	_, ok, err = c.Statistic(0, "avg")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, c.Seek(ctx, 5))
	v, ok, err := c.Statistic(0, "avg")
	require.NoError(t, err)
	require.True(t, ok)
	require.InDelta(t, 5.0, v, 1e-12)
}

func TestAngularAverage(t *testing.T) {
	ctx := context.Background()
	opts := func() Options {
		return Options{
			Columns: []Column{{Name: "dir", Angular: true}},
			Windows: []Window{{Name: "mean", Width: 1, Kind: KindAngleAverage}},
		}
	}

	c := openCursor(t, newRows(NewSample(0, 10), NewSample(1, 350)), opts())
	require.NoError(t, c.Seek(ctx, 0.5))
	v, ok, err := c.Statistic(0, "mean")
	require.NoError(t, err)
	require.True(t, ok)
	require.Less(t, angleDiff(v, 0), 1e-9)

	// an interpolated point on the arc leaves the mean unchanged
	c = openCursor(t, newRows(NewSample(0, 10), NewSample(0.5, 0), NewSample(1, 350)), opts())
	require.NoError(t, c.Seek(ctx, 0.5))
	w, ok, err := c.Statistic(0, "mean")
	require.NoError(t, err)
	require.True(t, ok)
	require.Less(t, angleDiff(v, w), 1e-9)

	c = openCursor(t, newRows(NewSample(0, 80), NewSample(0.25, 100), NewSample(1, 120)), opts())
	require.NoError(t, c.Seek(ctx, 0.5))
	v, ok, err = c.Statistic(0, "mean")
	require.NoError(t, err)
	require.True(t, ok)
	require.Greater(t, v, 100.0)
	require.Less(t, v, 110.0)
}

func TestAngularAverageCancelsToNull(t *testing.T) {
	src := newRows(NewSample(0, 90), NewSample(1, 90), NewSample(1, 270), NewSample(2, 270))
	c := openCursor(t, src, Options{
		Columns: []Column{{Name: "dir", Angular: true}},
		Windows: []Window{{Name: "mean", Width: 2, Kind: KindAngleAverage}},
	})
	require.NoError(t, c.Seek(context.Background(), 1))

	_, ok, err := c.Statistic(0, "mean")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestAngleWindowInterpolates(t *testing.T) {
	c := openCursor(t, newRows(NewSample(0, 350), NewSample(1, 10)), Options{
		Columns: []Column{{Name: "dir"}},
		Windows: []Window{{Name: "heading", Kind: KindAngle}},
	})
	require.NoError(t, c.Seek(context.Background(), 0.25))

	v, ok, err := c.Statistic(0, "heading")
	require.NoError(t, err)
	require.True(t, ok)
	require.InDelta(t, 355.0, v, 1e-9)

	// the column itself is linear
	lin, ok := c.Value(0)
	require.True(t, ok)
	require.InDelta(t, 265.0, lin, 1e-9)
}

func TestFilteredAverage(t *testing.T) {
	ctx := context.Background()

	ts, vs := irregular(40)
	c := openCursor(t, newRows(series(ts, vs)...), Options{
		Windows: []Window{
			{Name: "avg", Width: 6, Kind: KindAverage},
			{Name: "f0", Width: 6, Kind: KindFilteredAverage},
		},
	})
	for _, at := range []float64{5, 11.3, 20, 30.7} {
		require.NoError(t, c.Seek(ctx, at))
		avg, ok, err := c.Statistic(0, "avg")
		require.NoError(t, err)
		require.True(t, ok)
		f0, ok, err := c.Statistic(0, "f0")
		require.NoError(t, err)
		require.True(t, ok)
		require.InDelta(t, avg, f0, 1e-12)
	}

	spike := newRows(series([]float64{0, 1, 2, 3, 4}, []float64{1, 1, 100, 1, 1})...)
	c = openCursor(t, spike, Options{
		Windows: []Window{
			{Name: "avg", Width: 4, Kind: KindAverage},
			{Name: "trimmed", Width: 4, Kind: KindFilteredAverage, Trim: 40},
		},
	})
	require.NoError(t, c.Seek(ctx, 2))
	avg, ok, err := c.Statistic(0, "avg")
	require.NoError(t, err)
	require.True(t, ok)
	require.InDelta(t, 25.75, avg, 1e-12)

	trimmed, ok, err := c.Statistic(0, "trimmed")
	require.NoError(t, err)
	require.True(t, ok)
	require.InDelta(t, 1.0, trimmed, 1e-12)
}

func TestTrimBounds(t *testing.T) {
	for _, tc := range []struct {
		n           int
		pct         float64
		first, last int
	}{
		{10, 0, 0, 9},
		{5, 40, 1, 3},
		{10, 20, 1, 8},
		{4, 100, 1, 1},
		{5, 100, 2, 2},
		{1, 100, 0, 0},
	} {
		first, last := trimBounds(tc.n, tc.pct)
		require.Equal(t, tc.first, first, "n=%d pct=%v", tc.n, tc.pct)
		require.Equal(t, tc.last, last, "n=%d pct=%v", tc.n, tc.pct)
	}
}

func TestIncrementalAverageMatchesRescan(t *testing.T) {
	ts, vs := irregular(400)
	c := openCursor(t, newRows(series(ts, vs)...), Options{
		Windows: []Window{{Name: "avg", Width: 20, Kind: KindAverage}},
	})
	ctx := context.Background()
	reuses := testutil.ToFloat64(memoReuses.WithLabelValues("average"))

	for at := 15.0; at <= 380; at += 0.5 {
		require.NoError(t, c.Seek(ctx, at))
		got, ok, err := c.Statistic(0, "avg")
		require.NoError(t, err)
		require.True(t, ok, "t=%v", at)

		xs, ys, ok := curve(ts, vs, at-10, at+10)
		require.True(t, ok)
		area := 0.0
		for i := 1; i < len(xs); i++ {
			area += (ys[i-1] + ys[i]) / 2 * (xs[i] - xs[i-1])
		}
		require.InDelta(t, area/20, got, 1e-7, "t=%v", at)
	}
	require.Greater(t, testutil.ToFloat64(memoReuses.WithLabelValues("average")), reuses)
}

func TestIncrementalExtremaMatchRescan(t *testing.T) {
	ts, vs := irregular(400)
	c := openCursor(t, newRows(series(ts, vs)...), Options{
		Windows: []Window{
			{Name: "lo", Width: 20, Kind: KindMin},
			{Name: "hi", Width: 20, Kind: KindMax},
		},
	})
	ctx := context.Background()
	reuses := testutil.ToFloat64(memoReuses.WithLabelValues("max"))

	check := func(at float64) {
		require.NoError(t, c.Seek(ctx, at))
		_, ys, ok := curve(ts, vs, at-10, at+10)
		require.True(t, ok)
		wantLo, wantHi := math.Inf(1), math.Inf(-1)
		for _, y := range ys {
			wantLo, wantHi = math.Min(wantLo, y), math.Max(wantHi, y)
		}

		lo, ok, err := c.Statistic(0, "lo")
		require.NoError(t, err)
		require.True(t, ok)
		require.InDelta(t, wantLo, lo, 1e-9, "t=%v", at)
		hi, ok, err := c.Statistic(0, "hi")
		require.NoError(t, err)
		require.True(t, ok)
		require.InDelta(t, wantHi, hi, 1e-9, "t=%v", at)
	}

	for at := 15.0; at <= 380; at += 0.5 {
		check(at)
	}
	// and back again
	for at := 380.0; at >= 360; at -= 0.25 {
		check(at)
	}
	require.Greater(t, testutil.ToFloat64(memoReuses.WithLabelValues("max")), reuses)
}

func TestIncrementalAngularAverageMatchesRescan(t *testing.T) {
	ts := make([]float64, 200)
	vs := make([]float64, 200)
	for i := range ts {
		ts[i] = float64(i) + 0.25*math.Cos(float64(i))
		vs[i] = NormalizeDegrees(ts[i]*7 + 30*math.Sin(ts[i]/5))
	}
	opts := Options{
		Columns: []Column{{Name: "dir", Angular: true}},
		Windows: []Window{{Name: "mean", Width: 20, Kind: KindAngleAverage}},
	}
	ctx := context.Background()
	c := openCursor(t, newRows(series(ts, vs)...), opts)

	for step, at := 0, 15.0; at <= 180; step, at = step+1, at+0.5 {
		require.NoError(t, c.Seek(ctx, at))
		got, ok, err := c.Statistic(0, "mean")
		require.NoError(t, err)
		require.True(t, ok)
		if step%10 != 0 {
			continue
		}

		fresh := openCursor(t, newRows(series(ts, vs)...), opts)
		require.NoError(t, fresh.Seek(ctx, at))
		want, ok, err := fresh.Statistic(0, "mean")
		require.NoError(t, err)
		require.True(t, ok)
		require.Less(t, angleDiff(want, got), 1e-6, "t=%v", at)
	}
}

func TestBufferGrowsForWideWindows(t *testing.T) {
	var samples []Sample
	for i := 0; i < 100; i++ {
		samples = append(samples, NewSample(float64(i), 2*float64(i)+1))
	}
	c := openCursor(t, newRows(samples...), Options{
		InitialCapacity: 4,
		Windows:         []Window{{Name: "avg", Width: 20, Kind: KindAverage}},
	})
	ctx := context.Background()

	widest := 0
	for {
		err := c.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		widest = max(widest, c.buf.Cap())

		at := c.Timestamp()
		v, ok, err := c.Statistic(0, "avg")
		require.NoError(t, err)
		if at < 10 || at > 89 {
			require.False(t, ok, "t=%v", at)
			continue
		}
		require.True(t, ok, "t=%v", at)
		require.InDelta(t, 2*at+1, v, 1e-9, "t=%v", at)
	}
	require.Greater(t, widest, 20)
	require.Less(t, widest, 100)
}

func TestBufferCeilingTruncatesWindow(t *testing.T) {
	var samples []Sample
	for i := 0; i < 100; i++ {
		samples = append(samples, NewSample(float64(i), float64(i)))
	}
	c := openCursor(t, newRows(samples...), Options{
		InitialCapacity: 4,
		MaxCapacity:     8,
		Windows:         []Window{{Name: "avg", Width: 20, Kind: KindAverage}},
	})
	ctx := context.Background()
	hits := testutil.ToFloat64(bufferCeilingHits)

	require.NoError(t, c.Seek(ctx, 50))
	_, ok, err := c.Statistic(0, "avg")
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, 8, c.buf.Cap())
	require.Greater(t, testutil.ToFloat64(bufferCeilingHits), hits)

	_, ok = c.Value(0)
	require.False(t, ok)

	// points inside the kept range still answer
	require.NoError(t, c.Seek(ctx, 45))
	v, ok := c.Value(0)
	require.True(t, ok)
	require.Equal(t, 45.0, v)
}
