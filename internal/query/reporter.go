package query

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"sort"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var (
	cellValue = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "timelens_query_cell_value",
			Help: "Latest value of a query output cell.",
		},
		[]string{"cell"},
	)
	cellNulls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timelens_query_cell_nulls_total",
			Help: "Query positions where a cell had no answer.",
		},
		[]string{"cell"},
	)
	rowsReported = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "timelens_query_rows_total",
			Help: "Rows produced by query runs.",
		},
	)
	lastTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "timelens_query_last_timestamp",
			Help: "Timestamp of the most recently reported row.",
		},
	)
)

// Reporter consumes rows: it exports them as gauges, logs them, optionally
// writes them as JSON lines and keeps per-cell summaries.
type Reporter struct {
	input  <-chan Row
	out    *json.Encoder
	stats  map[string]*CellStats
	logger *zap.Logger
}

// NewReporter creates a reporter. out may be nil.
func NewReporter(input <-chan Row, out io.Writer, logger *zap.Logger) *Reporter {
	r := &Reporter{
		input:  input,
		stats:  make(map[string]*CellStats),
		logger: logger,
	}
	if out != nil {
		r.out = json.NewEncoder(out)
	}
	logger.Debug("Reporter initialized", zap.Bool("json_output", out != nil))
	return r
}

// Run processes rows until the input closes or ctx ends.
func (r *Reporter) Run(ctx context.Context) error {
	sugar := r.logger.Sugar()
	sugar.Info("Starting reporter loop...")
	defer sugar.Info("Reporter loop stopped.")

	for {
		select {
		case row, ok := <-r.input:
			if !ok {
				sugar.Info("Reporter input channel closed.")
				r.logSummaries()
				return nil
			}
			if err := r.processRow(row); err != nil {
				return err
			}

		case <-ctx.Done():
			sugar.Info("Context cancelled, stopping reporter.")
			return ctx.Err()
		}
	}
}

func (r *Reporter) processRow(row Row) error {
	rowsReported.Inc()
	lastTimestamp.Set(row.Timestamp)

	fields := []zap.Field{zap.Float64("timestamp", row.Timestamp)}
	for _, name := range sortedCells(row) {
		v := row.Values[name]
		stats, ok := r.stats[name]
		if !ok {
			stats = &CellStats{}
			r.stats[name] = stats
		}
		stats.add(v)

		if v == nil {
			cellNulls.WithLabelValues(name).Inc()
			fields = append(fields, zap.Skip())
			continue
		}
		cellValue.WithLabelValues(name).Set(*v)
		fields = append(fields, zap.Float64(name, *v))
	}
	r.logger.Debug("Row evaluated", fields...)

	if r.out != nil {
		if err := r.out.Encode(row); err != nil {
			return fmt.Errorf("%w: %w", ErrReporterFailed, err)
		}
	}
	return nil
}

func sortedCells(row Row) []string {
	names := make([]string, 0, len(row.Values))
	for name := range row.Values {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Summaries returns the per-cell summaries collected so far, sorted by cell.
func (r *Reporter) Summaries() []Summary {
	out := make([]Summary, 0, len(r.stats))
	for name, s := range r.stats {
		out = append(out, s.summary(name))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cell < out[j].Cell })
	return out
}

func (r *Reporter) logSummaries() {
	sugar := r.logger.Sugar()
	for _, s := range r.Summaries() {
		fields := []interface{}{
			zap.String("cell", s.Cell),
			zap.Int64("count", s.Count),
			zap.Int64("null_count", s.NullCount),
		}
		if !math.IsNaN(s.Mean) {
			fields = append(fields, zap.Float64("mean", s.Mean))
		}
		if !math.IsNaN(s.Variance) {
			fields = append(fields, zap.Float64("stddev", math.Sqrt(s.Variance)))
		}
		sugar.Infow("Cell summary", fields...)
	}
}
