package query

import (
	"context"
	"errors"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/sanspareilsmyn/timelens/internal/window"
)

// Runner drives a cursor through a plan and emits one Row per position.
type Runner struct {
	cursor *window.Cursor
	plan   Plan
	cells  []cell
	output chan<- Row
	logger *zap.Logger
}

// NewRunner prepares a runner. In rows mode the cursor must have been opened
// with plan.Constraints().
func NewRunner(cursor *window.Cursor, plan Plan, output chan<- Row, logger *zap.Logger) (*Runner, error) {
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Runner{
		cursor: cursor,
		plan:   plan,
		cells:  cellsFor(cursor),
		output: output,
		logger: logger,
	}
	logger.Info("Runner initialized",
		zap.String("mode", plan.Mode),
		zap.Int("cells", len(r.cells)),
	)
	return r, nil
}

// Run evaluates the plan, sending rows downstream. It returns nil once the
// plan or the source is exhausted.
func (r *Runner) Run(ctx context.Context) error {
	sugar := r.logger.Sugar()
	sugar.Info("Starting runner loop...")
	defer sugar.Info("Runner loop stopped.")

	return r.each(ctx, func(row Row) error {
		select {
		case r.output <- row:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
}

func (r *Runner) each(ctx context.Context, emit func(Row) error) error {
	started := time.Now()
	n := 0
	defer func() {
		r.logger.Debug("Plan evaluated", zap.Int("rows", n), zap.Duration("elapsed", time.Since(started)))
	}()

	if r.plan.Mode == ModeGrid {
		for _, ts := range r.plan.gridPoints() {
			err := r.cursor.Seek(ctx, ts)
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return err
			}
			if err := r.emitRow(emit); err != nil {
				return err
			}
			n++
		}
		return nil
	}

	for {
		err := r.cursor.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := r.emitRow(emit); err != nil {
			return err
		}
		n++
	}
}

func (r *Runner) emitRow(emit func(Row) error) error {
	row, err := r.collect()
	if err != nil {
		return err
	}
	return emit(row)
}

func (r *Runner) collect() (Row, error) {
	row := Row{Timestamp: r.cursor.Timestamp(), Values: make(map[string]*float64, len(r.cells))}
	for _, c := range r.cells {
		var v float64
		var ok bool
		if c.window == "" {
			v, ok = r.cursor.Value(c.col)
		} else {
			var err error
			if v, ok, err = r.cursor.Statistic(c.col, c.window); err != nil {
				return Row{}, err
			}
		}
		if ok {
			row.Values[c.name] = &v
		} else {
			row.Values[c.name] = nil
		}
	}
	return row, nil
}

// Execute runs plan over cursor synchronously and returns every row.
func Execute(ctx context.Context, cursor *window.Cursor, plan Plan) ([]Row, error) {
	r, err := NewRunner(cursor, plan, nil, zap.NewNop())
	if err != nil {
		return nil, err
	}
	var rows []Row
	err = r.each(ctx, func(row Row) error {
		rows = append(rows, row)
		return nil
	})
	return rows, err
}
