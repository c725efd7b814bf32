package source

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/sanspareilsmyn/timelens/internal/config"
	"github.com/sanspareilsmyn/timelens/internal/window"
)

// Opened is a ready row source plus whatever must be released after use.
type Opened struct {
	Source  window.RowSource
	closers []func(context.Context) error
}

func (o *Opened) onClose(fn func(context.Context) error) {
	o.closers = append(o.closers, fn)
}

// Close releases resources in reverse order of acquisition.
func (o *Opened) Close(ctx context.Context) error {
	var errs []error
	for i := len(o.closers) - 1; i >= 0; i-- {
		if err := o.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	o.closers = nil
	return errors.Join(errs...)
}

// Open builds the row source described by cfg for the named columns.
func Open(ctx context.Context, cfg config.SourceConfig, columns []string, logger *zap.Logger) (*Opened, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Opened{}
	var err error
	switch cfg.Type {
	case config.SourceCSV:
		err = o.openCSV(ctx, cfg, columns, logger)
	case config.SourceSQLite:
		err = o.openSQLite(cfg, columns, logger)
	case config.SourceMongo:
		err = o.openMongo(ctx, cfg, columns, logger)
	case config.SourceKafka:
		err = o.openKafka(cfg, columns, logger)
	default:
		err = fmt.Errorf("%w: %q", config.ErrUnknownSourceType, cfg.Type)
	}
	if err != nil {
		_ = o.Close(ctx)
		return nil, err
	}
	logger.Info("Row source opened", zap.String("type", cfg.Type), zap.Strings("columns", columns))
	return o, nil
}

func (o *Opened) openCSV(ctx context.Context, cfg config.SourceConfig, columns []string, logger *zap.Logger) error {
	locations := cfg.CSV.All()
	readers := make([]io.ReadCloser, 0, len(locations))
	for _, loc := range locations {
		rc, err := OpenLocation(ctx, loc, cfg.CSV.Region)
		if err != nil {
			return err
		}
		o.onClose(func(context.Context) error { return rc.Close() })
		readers = append(readers, rc)
	}

	if len(readers) == 1 {
		src, err := NewCSVSource(readers[0], cfg.TimeField, columns)
		if err != nil {
			return err
		}
		o.Source = src
		return nil
	}

	inputs := make([]Input, 0, len(readers))
	for i, rc := range readers {
		in, err := NewCSVInput(rc, cfg.TimeField, columns)
		if err != nil {
			return fmt.Errorf("%s: %w", locations[i], err)
		}
		logger.Debug("CSV input mapped", zap.String("location", locations[i]), zap.Ints("columns", in.Columns))
		inputs = append(inputs, in)
	}
	m, err := NewMerge(len(columns), cfg.Descending, inputs...)
	if err != nil {
		return err
	}
	o.Source = m
	return nil
}

func (o *Opened) openSQLite(cfg config.SourceConfig, columns []string, logger *zap.Logger) error {
	store, err := OpenSQLite(cfg.SQLite.Path, logger)
	if err != nil {
		return err
	}
	o.onClose(func(context.Context) error { return store.Close() })

	src, err := store.Source(columns, cfg.Descending, cfg.SQLite.PageSize)
	if err != nil {
		return err
	}
	o.Source = src
	return nil
}

func (o *Opened) openMongo(ctx context.Context, cfg config.SourceConfig, columns []string, logger *zap.Logger) error {
	client, err := NewMongoClient(ctx, cfg.Mongo.URI)
	if err != nil {
		return err
	}
	o.onClose(client.Disconnect)

	src, err := NewMongoSource(client, MongoConfig{
		URI:        cfg.Mongo.URI,
		Database:   cfg.Mongo.Database,
		Collection: cfg.Mongo.Collection,
		TimeField:  cfg.TimeField,
		BatchSize:  cfg.Mongo.BatchSize,
	}, columns, cfg.Descending, logger.Named("mongo-source"))
	if err != nil {
		return err
	}
	o.onClose(src.Close)
	o.Source = src
	return nil
}

func (o *Opened) openKafka(cfg config.SourceConfig, columns []string, logger *zap.Logger) error {
	src, err := NewKafkaSource(KafkaConfig{
		Brokers:     cfg.Kafka.Brokers,
		Topic:       cfg.Kafka.Topic,
		GroupID:     cfg.Kafka.GroupID,
		TimeField:   cfg.TimeField,
		IdleTimeout: cfg.Kafka.IdleTimeout,
	}, columns, logger.Named("kafka-source"))
	if err != nil {
		return err
	}
	o.onClose(func(context.Context) error { return src.Close() })
	o.Source = src
	return nil
}
