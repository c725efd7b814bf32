package window

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"

	"go.uber.org/zap"
)

type cursorState int

const (
	stateUnfiltered cursorState = iota
	statePositioned
	stateExhausted
)

func (s cursorState) String() string {
	switch s {
	case stateUnfiltered:
		return "unfiltered"
	case statePositioned:
		return "positioned"
	default:
		return "exhausted"
	}
}

// Options configures a Cursor.
type Options struct {
	Columns     []Column
	Windows     []Window
	Constraints []Constraint
	// Descending declares that the source yields timestamps in descending
	// order. Timestamps are negated on ingestion and on output so the buffer
	// stays ascending.
	Descending      bool
	InitialCapacity int
	MaxCapacity     int
	// Lookahead bounds how many rows past a window's right edge the cursor
	// reads while looking for valid right brackets of sparse columns.
	Lookahead int
	Logger    *zap.Logger
}

// DefaultLookahead is used when Options.Lookahead is zero.
const DefaultLookahead = 1024

// Cursor answers point and window queries over one row source. It is not
// safe for concurrent use.
type Cursor struct {
	src         RowSource
	buf         *SampleBuffer
	agg         *Aggregator
	columns     []Column
	windows     map[string]Window
	windowList  []Window
	constraints []Constraint
	sign        float64
	halfWidest  float64
	initialCap  int
	lookahead   int
	logger      *zap.Logger
	// lastValid is the newest internal timestamp holding a value, per column.
	lastValid []float64

	state   cursorState
	drained bool
	closed  bool
	// pos is the sequence number of the current row, or -1 when the cursor
	// was positioned by Seek.
	pos int64
	// ts is the current position in internal (ascending) time.
	ts float64
}

// Open validates the columns and windows and prepares a cursor over src.
func Open(ctx context.Context, src RowSource, opts Options) (*Cursor, error) {
	if len(opts.Columns) == 0 {
		return nil, fmt.Errorf("%w: no columns requested", ErrUnknownColumn)
	}
	windows := make(map[string]Window, len(opts.Windows))
	widest := 0.0
	for _, w := range opts.Windows {
		if err := w.Validate(); err != nil {
			return nil, err
		}
		if _, dup := windows[w.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate window %q", ErrMalformedWindow, w.Name)
		}
		windows[w.Name] = w
		widest = math.Max(widest, w.span())
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	buf, err := NewSampleBuffer(opts.InitialCapacity, opts.MaxCapacity)
	if err != nil {
		return nil, err
	}

	sign := 1.0
	if opts.Descending {
		sign = -1
	}
	lookahead := opts.Lookahead
	if lookahead <= 0 {
		lookahead = DefaultLookahead
	}
	c := &Cursor{
		src:         src,
		buf:         buf,
		agg:         newAggregator(buf, opts.Columns, logger),
		columns:     opts.Columns,
		windows:     windows,
		windowList:  append([]Window(nil), opts.Windows...),
		constraints: opts.Constraints,
		sign:        sign,
		halfWidest:  widest / 2,
		initialCap:  opts.InitialCapacity,
		lookahead:   lookahead,
		logger:      logger,
		lastValid:   make([]float64, len(opts.Columns)),
		pos:         -1,
	}
	c.forgetValid()
	bufferCapacity.Set(float64(buf.Cap()))

	logger.Debug("Cursor opened",
		zap.Int("columns", len(opts.Columns)),
		zap.Int("windows", len(windows)),
		zap.Float64("widest_window", widest),
		zap.Bool("descending", opts.Descending),
		zap.Int("capacity", buf.Cap()),
	)

	if err := c.prefetch(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// prefetch loads the whole source up front when its estimated span fits in
// the widest window, since every position will need all of it anyway.
func (c *Cursor) prefetch(ctx context.Context) error {
	est, ok := c.src.(RangeEstimator)
	if !ok || c.halfWidest == 0 {
		return nil
	}
	lo, hi, ok := est.EstimatedRange(ctx)
	if !ok || math.Abs(hi-lo) > 2*c.halfWidest {
		return nil
	}
	for !c.drained {
		room, err := c.makeRoom(math.Inf(-1), false)
		if err != nil {
			return err
		}
		if !room {
			return nil
		}
		if err := c.fetch(ctx); err != nil {
			return err
		}
	}
	return nil
}

// fetch pulls one row into the buffer. The caller has made room.
func (c *Cursor) fetch(ctx context.Context) error {
	s, err := c.src.Next(ctx)
	if errors.Is(err, io.EOF) {
		c.drained = true
		c.logger.Debug("Row source drained", zap.Int("buffered", c.buf.Len()))
		return nil
	}
	if err != nil {
		return c.fail(err)
	}

	if math.IsNaN(s.Timestamp) {
		return c.fail(fmt.Errorf("%w: NaN timestamp", ErrUnorderedSource))
	}
	external := s.Timestamp
	s.Timestamp *= c.sign
	if last := c.buf.Last(); last != nil && s.Timestamp < last.Timestamp {
		return c.fail(fmt.Errorf("%w: %v after %v", ErrUnorderedSource, external, last.Timestamp*c.sign))
	}
	if len(s.Values) < len(c.columns) {
		values := make([]float64, len(c.columns))
		n := copy(values, s.Values)
		for i := n; i < len(values); i++ {
			values[i] = math.NaN()
		}
		s.Values = values
	}

	for col := range c.lastValid {
		if s.Valid(col) {
			c.lastValid[col] = s.Timestamp
		}
	}

	c.buf.PushBack(s)
	rowsFetched.Inc()
	return nil
}

func (c *Cursor) forgetValid() {
	for i := range c.lastValid {
		c.lastValid[i] = math.Inf(-1)
	}
}

// covered reports whether the buffer reaches right and every column has a
// valid sample at or after it.
func (c *Cursor) covered(right float64) bool {
	last := c.buf.Last()
	if last == nil || last.Timestamp < right {
		return false
	}
	for _, ts := range c.lastValid {
		if ts < right {
			return false
		}
	}
	return true
}

// makeRoom prepares the buffer for one more row. The oldest sample may be
// overwritten once it is no longer anyone's left bracket; otherwise the buffer
// grows. At the ceiling a forced request overwrites anyway, an unforced one
// reports no room.
func (c *Cursor) makeRoom(leftEdge float64, force bool) (bool, error) {
	if !c.buf.IsFull() {
		return true, nil
	}
	if c.evictable(leftEdge) {
		return true, nil
	}

	err := c.buf.Grow()
	switch {
	case err == nil:
		bufferGrowths.Inc()
		bufferCapacity.Set(float64(c.buf.Cap()))
		c.logger.Debug("Sample buffer grown",
			zap.Int("capacity", c.buf.Cap()),
			zap.Int("buffered", c.buf.Len()),
		)
		return true, nil
	case errors.Is(err, ErrBufferCeiling):
		if force {
			return true, nil
		}
		bufferCeilingHits.Inc()
		c.logger.Debug("Sample buffer at ceiling, window context truncated",
			zap.Int("capacity", c.buf.Cap()),
			zap.Float64("left_edge", leftEdge*c.sign),
		)
		return false, nil
	default:
		return false, c.fail(err)
	}
}

// evictable reports whether the oldest sample can go: it is not the current
// row, a newer sample sits at or before leftEdge, and every column the oldest
// sample holds has a newer valid value at or before leftEdge.
func (c *Cursor) evictable(leftEdge float64) bool {
	n := c.buf.Len()
	if n < 2 || c.buf.At(1).Timestamp > leftEdge {
		return false
	}
	if c.pos >= 0 && c.buf.Seq(0) >= c.pos {
		return false
	}
	oldest := c.buf.At(0)
	for col := range c.columns {
		if !oldest.Valid(col) {
			continue
		}
		found := false
		for i := 1; i < n && c.buf.At(i).Timestamp <= leftEdge; i++ {
			if c.buf.At(i).Valid(col) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// ensureCoverage fetches until every column is bracketed on the right edge
// of the widest window around t, the source drains, the lookahead runs out or
// the ceiling is hit.
func (c *Cursor) ensureCoverage(ctx context.Context, t float64) error {
	right, left := t+c.halfWidest, t-c.halfWidest
	extra := 0
	for !c.drained && !c.covered(right) {
		if last := c.buf.Last(); last != nil && last.Timestamp >= right {
			if extra++; extra > c.lookahead {
				return nil
			}
		}
		room, err := c.makeRoom(left, false)
		if err != nil {
			return err
		}
		if !room {
			return nil
		}
		if err := c.fetch(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Next advances to the next source row that satisfies every constraint and
// buffers enough context around it for the widest window. It returns io.EOF
// once no further row can match.
func (c *Cursor) Next(ctx context.Context) error {
	if c.closed {
		return ErrCursorClosed
	}
	if c.state == stateExhausted {
		return io.EOF
	}

	seq := c.nextSeq()
	for {
		idx, ok := c.buf.Index(seq)
		for !ok {
			if c.drained {
				return c.exhaust()
			}
			if _, err := c.makeRoom(c.ts-c.halfWidest, true); err != nil {
				return err
			}
			if err := c.fetch(ctx); err != nil {
				return err
			}
			idx, ok = c.buf.Index(seq)
		}

		s := c.buf.At(idx)
		external := s.Timestamp * c.sign
		if c.passed(external) {
			return c.exhaust()
		}
		c.pos, c.ts = seq, s.Timestamp
		if c.matches(external) {
			break
		}
		seq++
	}

	c.state = statePositioned
	return c.ensureCoverage(ctx, c.ts)
}

func (c *Cursor) nextSeq() int64 {
	switch {
	case c.pos >= 0:
		return c.pos + 1
	case c.state == stateUnfiltered:
		return c.buf.Seq(0)
	default:
		return c.buf.Seq(c.buf.UpperBound(c.ts))
	}
}

func (c *Cursor) matches(ts float64) bool {
	for _, con := range c.constraints {
		if !con.Match(ts) {
			return false
		}
	}
	return true
}

func (c *Cursor) passed(ts float64) bool {
	for _, con := range c.constraints {
		if con.passed(ts, c.sign < 0) {
			return true
		}
	}
	return false
}

// Seek positions the cursor at an arbitrary timestamp, which need not exist
// in the source, and buffers the context the widest window needs around it.
func (c *Cursor) Seek(ctx context.Context, timestamp float64) error {
	if c.closed {
		return ErrCursorClosed
	}
	if c.state == stateExhausted {
		return io.EOF
	}
	c.pos = -1
	c.ts = timestamp * c.sign
	c.state = statePositioned
	return c.ensureCoverage(ctx, c.ts)
}

// Timestamp returns the current position in the source's own time direction.
func (c *Cursor) Timestamp() float64 { return c.ts * c.sign }

// EOF reports whether the cursor is exhausted.
func (c *Cursor) EOF() bool { return c.state == stateExhausted }

// Columns returns the tracked columns in index order.
func (c *Cursor) Columns() []Column { return c.columns }

// Windows returns the window definitions in the order they were given.
func (c *Cursor) Windows() []Window { return c.windowList }

// ColumnIndex returns the index of the named column.
func (c *Cursor) ColumnIndex(name string) (int, bool) {
	for i, col := range c.columns {
		if col.Name == name {
			return i, true
		}
	}
	return -1, false
}

// Value returns the column value at the current position: the stored value
// when a sample sits exactly there, otherwise the interpolation between the
// nearest valid brackets. ok is false when no answer exists.
func (c *Cursor) Value(col int) (float64, bool) {
	if c.state != statePositioned || col < 0 || col >= len(c.columns) {
		return math.NaN(), false
	}
	hint := -1
	if c.pos >= 0 {
		if idx, ok := c.buf.Index(c.pos); ok {
			if s := c.buf.At(idx); s.Valid(col) {
				return s.Values[col], true
			}
			hint = idx
		}
	}
	s := scanner{buf: c.buf, col: col, interp: interpolatorFor(c.columns[col])}
	v, _, ok := s.valueAt(c.ts, hint)
	return v, ok
}

// ValueByName is Value addressed by column name.
func (c *Cursor) ValueByName(name string) (float64, bool, error) {
	col, ok := c.ColumnIndex(name)
	if !ok {
		return math.NaN(), false, fmt.Errorf("%w: %q", ErrUnknownColumn, name)
	}
	v, ok := c.Value(col)
	return v, ok, nil
}

// Statistic evaluates the named window for column col centered on the
// current position. Missing context yields ok == false, not an error.
func (c *Cursor) Statistic(col int, window string) (float64, bool, error) {
	if c.closed {
		return math.NaN(), false, ErrCursorClosed
	}
	w, ok := c.windows[window]
	if !ok {
		return math.NaN(), false, fmt.Errorf("%w: %q", ErrUnknownWindow, window)
	}
	if col < 0 || col >= len(c.columns) {
		return math.NaN(), false, fmt.Errorf("%w: index %d", ErrUnknownColumn, col)
	}
	if c.state != statePositioned {
		return math.NaN(), false, nil
	}
	v, ok, err := c.agg.Compute(col, w, c.ts)
	if err != nil {
		return math.NaN(), false, c.fail(err)
	}
	return v, ok, nil
}

// Reset discards all buffered rows and memoized results, e.g. when the
// query's constraint set changes. A nil src keeps the current source.
func (c *Cursor) Reset(ctx context.Context, src RowSource, constraints []Constraint) error {
	if c.closed {
		return ErrCursorClosed
	}
	if src != nil {
		c.src = src
	}
	c.constraints = constraints
	if err := c.buf.Reset(c.initialCap); err != nil {
		return err
	}
	c.agg.reset()
	c.forgetValid()
	c.state, c.drained, c.pos, c.ts = stateUnfiltered, false, -1, 0
	c.logger.Debug("Cursor reset", zap.Int("constraints", len(constraints)))
	return c.prefetch(ctx)
}

// Close releases the buffer and all memoized state. It is safe to call more
// than once.
func (c *Cursor) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.state = stateExhausted
	c.release()
	c.logger.Debug("Cursor closed")
	return nil
}

func (c *Cursor) exhaust() error {
	c.state = stateExhausted
	c.release()
	c.logger.Debug("Cursor exhausted")
	return io.EOF
}

// fail moves the cursor to its terminal state and hands err back unchanged.
func (c *Cursor) fail(err error) error {
	c.state = stateExhausted
	c.release()
	cursorAborts.Inc()
	c.logger.Warn("Cursor aborted", zap.Error(err))
	return err
}

func (c *Cursor) release() {
	c.buf.Release()
	c.agg.reset()
}
