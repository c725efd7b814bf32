package query

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/sanspareilsmyn/timelens/internal/window"
)

const channelBufferSize = 100

// Pipeline runs a Runner and a Reporter concurrently, connected by a channel.
type Pipeline struct {
	runner   *Runner
	reporter *Reporter
	rows     chan Row
	logger   *zap.Logger
}

// NewPipeline wires runner and reporter. out, if non-nil, receives every row
// as a JSON line.
func NewPipeline(cursor *window.Cursor, plan Plan, out io.Writer, logger *zap.Logger) (*Pipeline, error) {
	initLogger := logger.Named("pipeline.init")

	rows := make(chan Row, channelBufferSize)
	runner, err := NewRunner(cursor, plan, rows, logger.Named("runner"))
	if err != nil {
		initLogger.Error("Failed to create runner", zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrPipelineCreation, err)
	}
	reporter := NewReporter(rows, out, logger.Named("reporter"))

	initLogger.Info("Pipeline instance created successfully", zap.Int("bufferSize", channelBufferSize))
	return &Pipeline{
		runner:   runner,
		reporter: reporter,
		rows:     rows,
		logger:   logger.Named("pipeline"),
	}, nil
}

// Run starts both stages and waits until the plan is exhausted, a stage
// fails or ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	sugar := p.logger.Sugar()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	pipelineErr := make(chan error, 2)

	sugar.Info("Pipeline Run: Starting components...")
	wg.Add(2)
	go p.runRunner(ctx, &wg, pipelineErr)
	go p.runReporter(ctx, &wg, pipelineErr)

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	var firstErr error
	select {
	case <-done:
	case <-ctx.Done():
		sugar.Info("Pipeline Run: Context cancelled. Waiting for components to finish...")
		firstErr = ctx.Err()
	case err := <-pipelineErr:
		sugar.Errorw("Pipeline Run: Received error from a component, initiating shutdown...", zap.Error(err))
		firstErr = err
		cancel()
	}
	<-done
	sugar.Info("Pipeline Run: All components finished.")

	if firstErr == nil {
		select {
		case firstErr = <-pipelineErr:
		default:
		}
	}
	if firstErr != nil && !errors.Is(firstErr, context.Canceled) {
		return firstErr
	}
	return nil
}

func (p *Pipeline) runRunner(ctx context.Context, wg *sync.WaitGroup, errCh chan<- error) {
	defer wg.Done()
	defer func() {
		close(p.rows)
		p.logger.Debug("Rows channel closed")
	}()

	if err := p.runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		p.logger.Error("Runner exited with error", zap.Error(err))
		errCh <- fmt.Errorf("%w: %w", ErrRunnerFailed, err)
	}
}

func (p *Pipeline) runReporter(ctx context.Context, wg *sync.WaitGroup, errCh chan<- error) {
	defer wg.Done()

	if err := p.reporter.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		p.logger.Error("Reporter exited with error", zap.Error(err))
		errCh <- fmt.Errorf("%w: %w", ErrReporterFailed, err)
	}
}

// Summaries returns the reporter's per-cell summaries once Run has returned.
func (p *Pipeline) Summaries() []Summary { return p.reporter.Summaries() }
