package source

import (
	"context"
	"io"

	"github.com/sanspareilsmyn/timelens/internal/window"
)

// Slice serves samples from memory in the order given.
type Slice struct {
	samples []window.Sample
	next    int
}

func NewSlice(samples []window.Sample) *Slice {
	return &Slice{samples: samples}
}

func (s *Slice) Next(ctx context.Context) (window.Sample, error) {
	if err := ctx.Err(); err != nil {
		return window.Sample{}, err
	}
	if s.next >= len(s.samples) {
		return window.Sample{}, io.EOF
	}
	smp := s.samples[s.next]
	s.next++
	return smp, nil
}

// EstimatedRange reports the first and last timestamps.
func (s *Slice) EstimatedRange(context.Context) (float64, float64, bool) {
	if len(s.samples) == 0 {
		return 0, 0, false
	}
	return s.samples[0].Timestamp, s.samples[len(s.samples)-1].Timestamp, true
}

// Rewind restarts the slice from its first sample.
func (s *Slice) Rewind() { s.next = 0 }
