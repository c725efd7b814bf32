package window

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	rowsFetched = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "timelens_cursor_rows_fetched_total",
			Help: "Rows pulled from row sources into cursor buffers.",
		},
	)
	cursorAborts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "timelens_cursor_aborts_total",
			Help: "Queries aborted by a row source failure or an allocation failure.",
		},
	)
	bufferGrowths = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "timelens_buffer_growths_total",
			Help: "Times a sample buffer doubled its capacity.",
		},
	)
	bufferCeilingHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "timelens_buffer_ceiling_hits_total",
			Help: "Times window context was truncated because a buffer hit its capacity ceiling.",
		},
	)
	bufferCapacity = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "timelens_buffer_capacity_samples",
			Help: "Capacity of the most recently resized sample buffer.",
		},
	)
	memoReuses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timelens_window_memo_reuses_total",
			Help: "Window statistics answered from the memo without a full rescan.",
		},
		[]string{"kind"},
	)
	memoRescans = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timelens_window_rescans_total",
			Help: "Window statistics computed by a full window scan.",
		},
		[]string{"kind"},
	)
	nullResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timelens_window_null_results_total",
			Help: "Window statistics that resolved to NULL for lack of context.",
		},
		[]string{"kind"},
	)
)
