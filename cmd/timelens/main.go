package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sanspareilsmyn/timelens/internal/config"
	"github.com/sanspareilsmyn/timelens/internal/logging"
	"github.com/sanspareilsmyn/timelens/internal/query"
	"github.com/sanspareilsmyn/timelens/internal/server"
	"github.com/sanspareilsmyn/timelens/internal/source"
	"github.com/sanspareilsmyn/timelens/internal/window"
)

const importBatchSize = 1000

var (
	configFile = flag.String("config", "configs/timelens.yaml", "Path to the configuration file")
	outputFile = flag.String("out", "-", "Where to write result rows as JSON lines (- for stdout)")
	importTo   = flag.String("import-sqlite", "", "Copy the configured source into this SQLite file and exit")
	logger     *zap.Logger
)

func main() {
	// Initialize Configuration
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to load configuration from %s: %v\n", *configFile, err)
		os.Exit(1)
	}

	// Initialize Logger
	var logErr error
	logger, logErr = logging.NewLogger(cfg.Log)
	if logErr != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to initialize logger: %v\n", logErr)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	sugar := logger.Sugar()
	sugar.Infow("Logger initialized",
		"level", cfg.Log.Level,
		"format", cfg.Log.Format,
	)
	sugar.Infow("Configuration loaded successfully", "path", *configFile)

	// Handle Graceful Shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-signals
		sugar.Infow("Received signal, initiating shutdown...", "signal", sig.String())
		cancel()
	}()

	// Open Row Source
	opened, err := source.Open(ctx, cfg.Source, cfg.ColumnNames(), logger.Named("source"))
	if err != nil {
		sugar.Fatalw("Failed to open row source", "type", cfg.Source.Type, "error", err)
	}
	defer func() {
		if err := opened.Close(context.Background()); err != nil {
			sugar.Warnw("Failed to close row source", "error", err)
		}
	}()

	var runErr error
	if *importTo != "" {
		runErr = runImport(ctx, cfg, opened.Source, *importTo)
	} else {
		runErr = runQuery(ctx, cfg, opened.Source)
	}

	// Evaluate Result
	finalLogLevel := zapcore.InfoLevel
	shutdownReason := "gracefully"
	var finalErrorField = zap.Skip()

	switch {
	case runErr == nil:
		sugar.Info("Run completed without error.")
	case errors.Is(runErr, context.Canceled):
		sugar.Info("Run cancelled (expected on shutdown).")
	default:
		shutdownReason = "due to error"
		finalLogLevel = zapcore.ErrorLevel
		finalErrorField = zap.Error(runErr)
	}

	logger.Log(finalLogLevel, fmt.Sprintf("TimeLens shutdown %s.", shutdownReason),
		zap.String("reason", shutdownReason),
		finalErrorField,
	)
	if finalLogLevel == zapcore.ErrorLevel {
		_ = logger.Sync()
		os.Exit(1)
	}
}

func runQuery(ctx context.Context, cfg *config.Config, src window.RowSource) error {
	sugar := logger.Sugar()

	windows, err := cfg.WindowDefinitions()
	if err != nil {
		return err
	}
	plan := query.Plan{
		Mode:       cfg.Query.Mode,
		Start:      cfg.Query.Start,
		End:        cfg.Query.End,
		Step:       cfg.Query.Step.Seconds(),
		Timestamps: cfg.Query.Timestamps,
		Descending: cfg.Source.Descending,
	}

	cursor, err := window.Open(ctx, src, window.Options{
		Columns:         cfg.ColumnDefinitions(),
		Windows:         windows,
		Constraints:     plan.Constraints(),
		Descending:      cfg.Source.Descending,
		InitialCapacity: cfg.Buffer.InitialCapacity,
		MaxCapacity:     cfg.Buffer.MaxCapacity,
		Lookahead:       cfg.Buffer.Lookahead,
		Logger:          logger.Named("cursor"),
	})
	if err != nil {
		return fmt.Errorf("open cursor: %w", err)
	}
	defer cursor.Close()

	out, closeOut, err := openOutput(*outputFile)
	if err != nil {
		return err
	}
	defer closeOut()

	serverDone := make(chan error, 1)
	if cfg.Server.Enabled {
		srv := server.New(cfg.Server, cfg.Buffer, logger.Named("server"))
		go func() { serverDone <- srv.Start(ctx) }()
	} else {
		close(serverDone)
	}

	sugar.Info("Initializing query pipeline...")
	pipe, err := query.NewPipeline(cursor, plan, out, logger)
	if err != nil {
		return err
	}
	sugar.Infow("Starting query pipeline...", "mode", plan.Mode, "windows", len(windows))
	if err := pipe.Run(ctx); err != nil {
		return err
	}
	for _, s := range pipe.Summaries() {
		sugar.Infow("Cell summary",
			"cell", s.Cell,
			"count", s.Count,
			"nulls", s.NullCount,
			"mean", s.Mean,
		)
	}

	if cfg.Server.Enabled {
		sugar.Info("Query finished; serving until shutdown")
	}
	return <-serverDone
}

// runImport copies every row of src into a SQLite store so later runs can
// page through it in either direction.
func runImport(ctx context.Context, cfg *config.Config, src window.RowSource, path string) error {
	store, err := source.OpenSQLite(path, logger.Named("sqlite"))
	if err != nil {
		return err
	}
	defer store.Close()

	columns := cfg.ColumnNames()
	batch := make([]window.Sample, 0, importBatchSize)
	total := 0
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := store.Insert(ctx, columns, batch); err != nil {
			return err
		}
		total += len(batch)
		batch = batch[:0]
		return nil
	}

	for {
		s, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		batch = append(batch, s)
		if len(batch) == importBatchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := flush(); err != nil {
		return err
	}
	logger.Info("Import finished", zap.String("path", path), zap.Int("rows", total))
	return nil
}

func openOutput(path string) (io.Writer, func(), error) {
	if path == "" || path == "-" {
		return os.Stdout, func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { _ = f.Close() }, nil
}
