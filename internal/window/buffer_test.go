package window

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSampleBufferWrapAndGrow(t *testing.T) {
	buf, err := NewSampleBuffer(8, 1024)
	require.NoError(t, err)
	require.Equal(t, 8, buf.Cap())

	next := 0.0
	push := func() bool {
		evicted := buf.PushBack(NewSample(next, next*10))
		next++
		return evicted
	}

	for i := 0; i < 8; i++ {
		require.False(t, push())
	}
	require.True(t, buf.IsFull())

	// wrap: 0, 1 and 2 are overwritten
	for i := 0; i < 3; i++ {
		require.True(t, push())
	}
	require.Equal(t, 3.0, buf.At(0).Timestamp)
	require.Equal(t, int64(3), buf.Seq(0))

	for buf.Cap() < 1024 {
		require.NoError(t, buf.Grow())
		for !buf.IsFull() {
			require.False(t, push())
		}
	}

	require.Equal(t, 1024, buf.Len())
	for i := 0; i < buf.Len(); i++ {
		s := buf.At(i)
		require.Equal(t, float64(i+3), s.Timestamp)
		require.Equal(t, s.Timestamp*10, s.Values[0])
	}

	idx, ok := buf.Index(100)
	require.True(t, ok)
	require.Equal(t, 97, idx)
	_, ok = buf.Index(2)
	require.False(t, ok)
}

func TestSampleBufferCeiling(t *testing.T) {
	buf, err := NewSampleBuffer(8, 12)
	require.NoError(t, err)

	require.NoError(t, buf.Grow())
	require.Equal(t, 12, buf.Cap())
	require.ErrorIs(t, buf.Grow(), ErrBufferCeiling)
}

func TestSampleBufferUpperBound(t *testing.T) {
	buf, err := NewSampleBuffer(4, 4)
	require.NoError(t, err)
	for _, ts := range []float64{1, 2, 2, 3, 5} {
		buf.PushBack(NewSample(ts))
	}

	// 1 was overwritten: [2 2 3 5]
	require.Equal(t, 0, buf.UpperBound(1))
	require.Equal(t, 2, buf.UpperBound(2))
	require.Equal(t, 3, buf.UpperBound(4))
	require.Equal(t, 4, buf.UpperBound(9))
}

func TestSampleBufferResetAfterRelease(t *testing.T) {
	buf, err := NewSampleBuffer(4, 16)
	require.NoError(t, err)
	buf.PushBack(NewSample(1))
	buf.Release()
	require.Equal(t, 0, buf.Len())
	require.Nil(t, buf.Last())

	require.NoError(t, buf.Reset(4))
	require.Equal(t, 4, buf.Cap())
	buf.PushBack(NewSample(7))
	require.Equal(t, 7.0, buf.Last().Timestamp)
	require.Equal(t, int64(0), buf.Seq(0))
}
