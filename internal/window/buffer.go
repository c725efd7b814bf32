package window

import (
	"fmt"
	"sort"
)

const (
	DefaultInitialCapacity = 64
	// DefaultMaxCapacity holds one month of samples at one-second resolution.
	DefaultMaxCapacity = 31 * 24 * 60 * 60
)

// SampleBuffer is a growable circular array of samples kept in non-decreasing
// timestamp order. Logical index 0 is the oldest retained sample.
//
// Every sample ever pushed gets a sequence number; Seq and Index translate
// between sequence numbers and logical indices so that positions remembered
// across calls survive wraparound.
type SampleBuffer struct {
	samples []Sample
	head    int
	size    int
	maxCap  int
	dropped int64
}

// NewSampleBuffer allocates a buffer with the given initial capacity. The
// capacity never grows beyond maxCapacity.
func NewSampleBuffer(capacity, maxCapacity int) (*SampleBuffer, error) {
	if maxCapacity <= 0 {
		maxCapacity = DefaultMaxCapacity
	}
	if capacity <= 0 {
		capacity = DefaultInitialCapacity
	}
	if capacity > maxCapacity {
		capacity = maxCapacity
	}

	samples, err := allocSamples(capacity)
	if err != nil {
		return nil, err
	}
	return &SampleBuffer{samples: samples, maxCap: maxCapacity}, nil
}

func allocSamples(n int) (samples []Sample, err error) {
	defer func() {
		if r := recover(); r != nil {
			samples = nil
			err = fmt.Errorf("%w: allocating %d samples: %v", ErrOutOfMemory, n, r)
		}
	}()
	return make([]Sample, n), nil
}

func (b *SampleBuffer) Cap() int { return len(b.samples) }

func (b *SampleBuffer) MaxCap() int { return b.maxCap }

func (b *SampleBuffer) Len() int { return b.size }

func (b *SampleBuffer) IsFull() bool { return b.size == len(b.samples) }

// At returns the sample at logical index i. It panics when i is out of range.
func (b *SampleBuffer) At(i int) *Sample {
	if i < 0 || i >= b.size {
		panic(fmt.Sprintf("window: buffer index %d out of range [0, %d)", i, b.size))
	}
	return &b.samples[(b.head+i)%len(b.samples)]
}

// Last returns the most recently pushed sample, or nil when empty.
func (b *SampleBuffer) Last() *Sample {
	if b.size == 0 {
		return nil
	}
	return b.At(b.size - 1)
}

// Seq returns the sequence number of logical index i.
func (b *SampleBuffer) Seq(i int) int64 { return b.dropped + int64(i) }

// Index maps a sequence number back to a logical index. ok is false when the
// sample was already overwritten or has not been pushed yet.
func (b *SampleBuffer) Index(seq int64) (int, bool) {
	i := seq - b.dropped
	if i < 0 || i >= int64(b.size) {
		return -1, false
	}
	return int(i), true
}

// PushBack appends s. When the buffer is full the oldest sample is
// overwritten and evicted is true.
func (b *SampleBuffer) PushBack(s Sample) (evicted bool) {
	if len(b.samples) == 0 {
		panic("window: push into released buffer")
	}
	if b.IsFull() {
		b.samples[b.head] = s
		b.head = (b.head + 1) % len(b.samples)
		b.dropped++
		return true
	}
	b.samples[(b.head+b.size)%len(b.samples)] = s
	b.size++
	return false
}

// Grow doubles the capacity, clamped to the ceiling, copying the retained
// samples in order to the front of the new array.
func (b *SampleBuffer) Grow() error {
	current := len(b.samples)
	if current >= b.maxCap {
		return ErrBufferCeiling
	}
	next := current * 2
	if next == 0 {
		next = DefaultInitialCapacity
	}
	if next > b.maxCap {
		next = b.maxCap
	}

	samples, err := allocSamples(next)
	if err != nil {
		return err
	}
	for i := 0; i < b.size; i++ {
		samples[i] = *b.At(i)
	}
	b.samples = samples
	b.head = 0
	return nil
}

// UpperBound returns the logical index of the first sample with a timestamp
// strictly greater than t, or Len when there is none.
func (b *SampleBuffer) UpperBound(t float64) int {
	return sort.Search(b.size, func(i int) bool {
		return b.At(i).Timestamp > t
	})
}

// Reset empties the buffer, keeping its allocation when one exists.
func (b *SampleBuffer) Reset(capacity int) error {
	if len(b.samples) == 0 {
		if capacity <= 0 {
			capacity = DefaultInitialCapacity
		}
		if capacity > b.maxCap {
			capacity = b.maxCap
		}
		samples, err := allocSamples(capacity)
		if err != nil {
			return err
		}
		b.samples = samples
	}
	clear(b.samples)
	b.head, b.size, b.dropped = 0, 0, 0
	return nil
}

// Release drops the backing array.
func (b *SampleBuffer) Release() {
	b.samples = nil
	b.head, b.size = 0, 0
}
