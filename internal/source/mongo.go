package source

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
	"go.uber.org/zap"

	"github.com/sanspareilsmyn/timelens/internal/message"
	"github.com/sanspareilsmyn/timelens/internal/window"
)

// MongoConfig selects a collection of wide documents: one document per row,
// the timestamp under TimeField and one numeric field per column.
type MongoConfig struct {
	URI        string
	Database   string
	Collection string
	TimeField  string
	BatchSize  int32
}

// NewMongoClient connects and pings the primary.
func NewMongoClient(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("%w: connect: %w", ErrMongoQueryFailed, err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("%w: ping: %w", ErrMongoQueryFailed, err)
	}
	return client, nil
}

// MongoSource streams documents sorted on the time field.
type MongoSource struct {
	coll       *mongo.Collection
	cfg        MongoConfig
	columns    []string
	descending bool
	cursor     *mongo.Cursor
	logger     *zap.Logger
}

func NewMongoSource(client *mongo.Client, cfg MongoConfig, columns []string, descending bool, logger *zap.Logger) (*MongoSource, error) {
	if cfg.Database == "" || cfg.Collection == "" || cfg.TimeField == "" {
		return nil, fmt.Errorf("%w: database, collection and time field are required", ErrInvalidMongoConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MongoSource{
		coll:       client.Database(cfg.Database).Collection(cfg.Collection),
		cfg:        cfg,
		columns:    columns,
		descending: descending,
		logger:     logger,
	}, nil
}

func (m *MongoSource) direction() int {
	if m.descending {
		return -1
	}
	return 1
}

func (m *MongoSource) open(ctx context.Context) error {
	projection := bson.D{{Key: m.cfg.TimeField, Value: 1}}
	for _, c := range m.columns {
		projection = append(projection, bson.E{Key: c, Value: 1})
	}
	opts := options.Find().
		SetSort(bson.D{{Key: m.cfg.TimeField, Value: m.direction()}}).
		SetProjection(projection)
	if m.cfg.BatchSize > 0 {
		opts.SetBatchSize(m.cfg.BatchSize)
	}

	cursor, err := m.coll.Find(ctx, bson.D{}, opts)
	if err != nil {
		return fmt.Errorf("%w: find: %w", ErrMongoQueryFailed, err)
	}
	m.cursor = cursor
	m.logger.Debug("MongoDB cursor opened",
		zap.String("collection", m.cfg.Collection),
		zap.Int("direction", m.direction()),
	)
	return nil
}

func (m *MongoSource) Next(ctx context.Context) (window.Sample, error) {
	if m.cursor == nil {
		if err := m.open(ctx); err != nil {
			return window.Sample{}, err
		}
	}
	for m.cursor.Next(ctx) {
		var doc bson.M
		if err := m.cursor.Decode(&doc); err != nil {
			return window.Sample{}, fmt.Errorf("%w: decode: %w", ErrMongoQueryFailed, err)
		}
		s, err := documentToSample(doc, m.cfg.TimeField, m.columns)
		if err != nil {
			m.logger.Warn("Skipping document", zap.Error(err), zap.Any("id", doc["_id"]))
			continue
		}
		return s, nil
	}
	if err := m.cursor.Err(); err != nil {
		return window.Sample{}, fmt.Errorf("%w: %w", ErrMongoQueryFailed, err)
	}
	return window.Sample{}, io.EOF
}

// EstimatedRange reads the first and last time values in sort order.
func (m *MongoSource) EstimatedRange(ctx context.Context) (float64, float64, bool) {
	edge := func(dir int) (float64, bool) {
		var doc bson.M
		opts := options.FindOne().
			SetSort(bson.D{{Key: m.cfg.TimeField, Value: dir}}).
			SetProjection(bson.D{{Key: m.cfg.TimeField, Value: 1}})
		if err := m.coll.FindOne(ctx, bson.D{}, opts).Decode(&doc); err != nil {
			return 0, false
		}
		normalizeDocument(doc)
		return message.DynamicMessage(doc).GetTimestamp(m.cfg.TimeField)
	}
	first, ok := edge(m.direction())
	if !ok {
		return 0, 0, false
	}
	last, ok := edge(-m.direction())
	return first, last, ok
}

func (m *MongoSource) Close(ctx context.Context) error {
	if m.cursor == nil {
		return nil
	}
	return m.cursor.Close(ctx)
}

// normalizeDocument rewrites BSON dates as Unix seconds.
func normalizeDocument(doc bson.M) {
	for k, v := range doc {
		switch t := v.(type) {
		case bson.DateTime:
			doc[k] = float64(t) / 1e3
		case time.Time:
			doc[k] = float64(t.UnixNano()) / 1e9
		}
	}
}

func documentToSample(doc bson.M, timeField string, columns []string) (window.Sample, error) {
	normalizeDocument(doc)
	return message.DynamicMessage(doc).ToSample(timeField, columns)
}
