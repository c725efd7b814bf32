package window

import (
	"context"
	"math"
)

// Sample is one timestamped row. A NaN entry in Values means the column is
// absent (NULL) at this row.
type Sample struct {
	Timestamp float64
	Values    []float64
}

// NewSample builds a Sample from a timestamp and its column values.
func NewSample(ts float64, values ...float64) Sample {
	return Sample{Timestamp: ts, Values: values}
}

// Valid reports whether column col holds a value at this row.
func (s *Sample) Valid(col int) bool {
	return col >= 0 && col < len(s.Values) && !math.IsNaN(s.Values[col])
}

// Value returns the stored value for col, or NaN when the column is absent.
func (s *Sample) Value(col int) float64 {
	if col < 0 || col >= len(s.Values) {
		return math.NaN()
	}
	return s.Values[col]
}

// RowSource yields samples ordered by timestamp in the direction of the query.
// Next returns io.EOF once the stream is exhausted; any other error is a
// source failure and aborts the query.
type RowSource interface {
	Next(ctx context.Context) (Sample, error)
}

// RangeEstimator is implemented by sources that can cheaply report the span
// of timestamps they hold. The hint only sizes the initial fetch-ahead.
type RangeEstimator interface {
	EstimatedRange(ctx context.Context) (lo, hi float64, ok bool)
}
