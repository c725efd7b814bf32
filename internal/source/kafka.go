package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/sanspareilsmyn/timelens/internal/message"
	"github.com/sanspareilsmyn/timelens/internal/window"
)

type kafkaZapLogger struct {
	log *zap.Logger
}

func (l kafkaZapLogger) Printf(msg string, args ...interface{}) {
	l.log.Debug(fmt.Sprintf(msg, args...))
}

type kafkaZapErrorLogger struct {
	log *zap.Logger
}

func (l kafkaZapErrorLogger) Printf(msg string, args ...interface{}) {
	l.log.Error(fmt.Sprintf(msg, args...))
}

const DefaultKafkaIdleTimeout = 5 * time.Second

// KafkaConfig selects a topic of JSON rows.
type KafkaConfig struct {
	Brokers   []string
	Topic     string
	GroupID   string
	TimeField string
	// IdleTimeout ends the stream when no message arrives for this long.
	IdleTimeout time.Duration
}

// messageReader is the subset of *kafka.Reader the source needs.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSource turns a topic of JSON rows into an ascending row stream. Rows
// that arrive older than the newest row already delivered are dropped, as
// are rows that cannot be decoded.
type KafkaSource struct {
	reader  messageReader
	cfg     KafkaConfig
	columns []string
	logger  *zap.Logger

	last      float64
	delivered bool
	dropped   int
}

func NewKafkaSource(cfg KafkaConfig, columns []string, logger *zap.Logger) (*KafkaSource, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(cfg.Brokers) == 0 || cfg.Topic == "" || cfg.TimeField == "" {
		logger.Error("Kafka configuration validation failed",
			zap.Strings("brokers", cfg.Brokers),
			zap.String("topic", cfg.Topic),
			zap.String("time_field", cfg.TimeField),
		)
		return nil, ErrInvalidKafkaConfig
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultKafkaIdleTimeout
	}

	readerCfg := kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     cfg.GroupID,
		Topic:       cfg.Topic,
		Logger:      kafkaZapLogger{logger.Named("kafka-reader").WithOptions(zap.AddCallerSkip(1))},
		ErrorLogger: kafkaZapErrorLogger{logger.Named("kafka-reader-error").WithOptions(zap.AddCallerSkip(1))},
	}
	logger.Info("Kafka source created",
		zap.String("topic", cfg.Topic),
		zap.String("group_id", cfg.GroupID),
		zap.Strings("brokers", cfg.Brokers),
		zap.Duration("idle_timeout", cfg.IdleTimeout),
	)
	return newKafkaSource(kafka.NewReader(readerCfg), cfg, columns, logger), nil
}

func newKafkaSource(r messageReader, cfg KafkaConfig, columns []string, logger *zap.Logger) *KafkaSource {
	return &KafkaSource{reader: r, cfg: cfg, columns: columns, logger: logger}
}

func (k *KafkaSource) Next(ctx context.Context) (window.Sample, error) {
	for {
		fetchCtx, cancel := context.WithTimeout(ctx, k.cfg.IdleTimeout)
		m, err := k.reader.FetchMessage(fetchCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return window.Sample{}, ctx.Err()
			}
			if errors.Is(err, context.DeadlineExceeded) {
				k.logger.Debug("Kafka topic idle, ending stream",
					zap.Duration("idle_timeout", k.cfg.IdleTimeout),
					zap.Int("dropped", k.dropped),
				)
				return window.Sample{}, io.EOF
			}
			if errors.Is(err, io.EOF) {
				return window.Sample{}, io.EOF
			}
			return window.Sample{}, fmt.Errorf("%w: %w", ErrKafkaFetchFailed, err)
		}

		s, ok := k.decode(m)
		if k.cfg.GroupID != "" {
			if err := k.reader.CommitMessages(ctx, m); err != nil {
				k.logger.Warn("Failed to commit Kafka offset", zap.Error(err), zap.Int64("offset", m.Offset))
			}
		}
		if ok {
			return s, nil
		}
	}
}

func (k *KafkaSource) decode(m kafka.Message) (window.Sample, bool) {
	msg, err := message.ParseDynamicJSON(m.Value)
	if err != nil {
		k.dropped++
		k.logger.Warn("Dropping undecodable row", zap.Error(err), zap.Int64("offset", m.Offset))
		return window.Sample{}, false
	}
	s, err := msg.ToSample(k.cfg.TimeField, k.columns)
	if err != nil {
		k.dropped++
		k.logger.Warn("Dropping row", zap.Error(err), zap.Int64("offset", m.Offset))
		return window.Sample{}, false
	}
	if k.delivered && s.Timestamp < k.last {
		k.dropped++
		k.logger.Warn("Dropping late row",
			zap.Float64("timestamp", s.Timestamp),
			zap.Float64("newest", k.last),
			zap.Int64("offset", m.Offset),
		)
		return window.Sample{}, false
	}
	k.last, k.delivered = s.Timestamp, true
	return s, true
}

// Dropped returns how many rows were skipped so far.
func (k *KafkaSource) Dropped() int { return k.dropped }

func (k *KafkaSource) Close() error {
	k.logger.Info("Closing Kafka reader")
	return k.reader.Close()
}
