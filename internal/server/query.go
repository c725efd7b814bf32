package server

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sanspareilsmyn/timelens/internal/query"
	"github.com/sanspareilsmyn/timelens/internal/source"
	"github.com/sanspareilsmyn/timelens/internal/window"
)

type columnBody struct {
	Name    string `json:"name" binding:"required"`
	Angular bool   `json:"angular"`
}

type windowBody struct {
	Name  string  `json:"name" binding:"required"`
	Kind  string  `json:"kind" binding:"required"`
	Width float64 `json:"width"`
	Trim  float64 `json:"trim"`
}

type rowBody struct {
	Timestamp *float64            `json:"timestamp" binding:"required"`
	Values    map[string]*float64 `json:"values"`
}

// queryRequest evaluates windows over an inline row set. Without a grid
// (timestamps, or start/end/step) every row is visited.
type queryRequest struct {
	Columns    []columnBody `json:"columns" binding:"required,min=1"`
	Windows    []windowBody `json:"windows"`
	Rows       []rowBody    `json:"rows"`
	Descending bool         `json:"descending"`
	Timestamps []float64    `json:"timestamps"`
	Start      *float64     `json:"start"`
	End        *float64     `json:"end"`
	Step       float64      `json:"step"`
}

func (r *queryRequest) plan() query.Plan {
	p := query.Plan{Start: r.Start, End: r.End, Step: r.Step, Timestamps: r.Timestamps, Descending: r.Descending}
	if len(r.Timestamps) > 0 || r.Step > 0 {
		p.Mode = query.ModeGrid
	} else {
		p.Mode = query.ModeRows
	}
	return p
}

func (r *queryRequest) definitions() ([]window.Column, []window.Window, error) {
	columns := make([]window.Column, len(r.Columns))
	for i, c := range r.Columns {
		columns[i] = window.Column{Name: c.Name, Angular: c.Angular}
	}
	windows := make([]window.Window, len(r.Windows))
	for i, w := range r.Windows {
		kind, err := window.ParseKind(w.Kind)
		if err != nil {
			return nil, nil, err
		}
		windows[i] = window.Window{Name: w.Name, Width: w.Width, Kind: kind, Trim: w.Trim}
	}
	return columns, windows, nil
}

func (r *queryRequest) samples() []window.Sample {
	out := make([]window.Sample, len(r.Rows))
	for i, row := range r.Rows {
		values := make([]float64, len(r.Columns))
		for j, c := range r.Columns {
			if v := row.Values[c.Name]; v != nil {
				values[j] = *v
			} else {
				values[j] = math.NaN()
			}
		}
		out[i] = window.Sample{Timestamp: *row.Timestamp, Values: values}
	}
	return out
}

func (s *Server) handleQuery(c *gin.Context) {
	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	columns, windows, err := req.definitions()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	plan := req.plan()
	if err := plan.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), queryTimeout)
	defer cancel()

	opts := s.cursorOptions(columns, windows, req.Descending)
	opts.Constraints = plan.Constraints()
	cursor, err := window.Open(ctx, source.NewSlice(req.samples()), opts)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	defer cursor.Close()

	rows, err := query.Execute(ctx, cursor, plan)
	if err != nil {
		s.logger.Warn("Query failed", zap.Error(err))
		c.JSON(statusFor(err), gin.H{"error": fmt.Sprintf("query failed: %v", err)})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"rows":  rows,
		"count": len(rows),
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, window.ErrMalformedWindow),
		errors.Is(err, window.ErrUnknownColumn),
		errors.Is(err, window.ErrUnorderedSource):
		return http.StatusBadRequest
	case errors.Is(err, window.ErrOutOfMemory):
		return http.StatusInsufficientStorage
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}
