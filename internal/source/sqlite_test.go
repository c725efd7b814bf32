package source

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/sanspareilsmyn/timelens/internal/window"
)

func openStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := OpenSQLite(filepath.Join(t.TempDir(), "timelens.db"), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteRoundTrip(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	nan := math.NaN()

	var samples []window.Sample
	for i := 0; i < 50; i++ {
		b := float64(i) * 10
		if i%7 == 3 {
			b = nan
		}
		samples = append(samples, window.NewSample(float64(i)/2, float64(i), b))
	}
	require.NoError(t, store.Insert(ctx, []string{"a", "b"}, samples))

	names, err := store.SeriesNames()
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, names)

	// a small page size forces timestamp groups to straddle pages
	src, err := store.Source([]string{"b", "a"}, false, 3)
	require.NoError(t, err)

	lo, hi, ok := src.EstimatedRange(ctx)
	require.True(t, ok)
	require.Equal(t, 0.0, lo)
	require.Equal(t, 24.5, hi)

	out := drain(t, src)
	require.Len(t, out, 50)
	for i, s := range out {
		require.Equal(t, samples[i].Timestamp, s.Timestamp)
		require.Equal(t, samples[i].Values[0], s.Values[1])
		if math.IsNaN(samples[i].Values[1]) {
			require.True(t, math.IsNaN(s.Values[0]), "row %d", i)
		} else {
			require.Equal(t, samples[i].Values[1], s.Values[0])
		}
	}
}

func TestSQLiteDescending(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	require.NoError(t, store.Insert(ctx, []string{"v"}, []window.Sample{
		window.NewSample(1, 1), window.NewSample(2, 2), window.NewSample(3, 3), window.NewSample(4, 4),
	}))

	src, err := store.Source([]string{"v"}, true, 2)
	require.NoError(t, err)
	lo, hi, ok := src.EstimatedRange(ctx)
	require.True(t, ok)
	require.Equal(t, 4.0, lo)
	require.Equal(t, 1.0, hi)
	require.Equal(t, []float64{4, 3, 2, 1}, timestamps(drain(t, src)))
}

func TestSQLiteFeedsCursor(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	var samples []window.Sample
	for i := 0; i <= 20; i++ {
		samples = append(samples, window.NewSample(float64(i), 3*float64(i)))
	}
	require.NoError(t, store.Insert(ctx, []string{"v"}, samples))

	src, err := store.Source([]string{"v"}, false, 4)
	require.NoError(t, err)
	c, err := window.Open(ctx, src, window.Options{
		Columns: []window.Column{{Name: "v"}},
		Windows: []window.Window{{Name: "avg", Width: 4, Kind: window.KindAverage}},
	})
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Seek(ctx, 10.5))
	v, ok, err := c.Statistic(0, "avg")
	require.NoError(t, err)
	require.True(t, ok)
	require.InDelta(t, 31.5, v, 1e-9)
}

func TestSQLiteUnknownSeries(t *testing.T) {
	store := openStore(t)
	require.NoError(t, store.CreateSeries([]string{"known"}))
	require.NoError(t, store.CreateSeries([]string{"known"}))

	_, err := store.Source([]string{"known", "unknown"}, false, 0)
	require.ErrorIs(t, err, ErrUnknownSeries)
}
