package source

import (
	"context"
	"crypto/sha256"
	"io"
	"math"

	"github.com/chrispappas/golang-generics-set/set"
	"github.com/gammazero/deque"
	"github.com/glebarez/sqlite"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/sanspareilsmyn/timelens/internal/window"
)

const DefaultPageSize = 512

// storedSeries and storedSample are the long-format tables: one row per
// observed (series, timestamp, value).
type storedSeries struct {
	ID   []byte `gorm:"primaryKey"`
	Name string `gorm:"unique;not null"`
}

func (storedSeries) TableName() string { return "series" }

type storedSample struct {
	ID        uint64  `gorm:"primaryKey;autoIncrement"`
	SeriesID  []byte  `gorm:"index:idx_series_ts,priority:1;not null"`
	Timestamp float64 `gorm:"index:idx_series_ts,priority:2;not null"`
	Value     float64
}

func (storedSample) TableName() string { return "samples" }

// HashedID derives the stable series key stored alongside every sample.
func HashedID(name string) []byte {
	sum := sha256.Sum256([]byte(name))
	return sum[:16]
}

// SQLiteStore keeps series in a SQLite database through gorm.
type SQLiteStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// OpenSQLite opens (creating if needed) the database file and migrates the
// tables.
func OpenSQLite(filename string, logger *zap.Logger) (*SQLiteStore, error) {
	db, err := gorm.Open(sqlite.Open(filename), &gorm.Config{})
	if err != nil {
		return nil, errors.Wrap(err, "open")
	}
	for _, table := range []any{&storedSeries{}, &storedSample{}} {
		if err := db.AutoMigrate(table); err != nil {
			return nil, errors.Wrap(err, "migrate")
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SQLiteStore{db: db, logger: logger}, nil
}

func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return errors.Wrap(err, "get sql db")
	}
	return sqlDB.Close()
}

// SeriesNames lists every series the store knows.
func (s *SQLiteStore) SeriesNames() ([]string, error) {
	var names []string
	tx := s.db.Model(&storedSeries{}).Order("name asc").Pluck("name", &names)
	if tx.Error != nil {
		return nil, errors.Wrap(tx.Error, "list series")
	}
	return names, nil
}

// CreateSeries registers names that are not yet known.
func (s *SQLiteStore) CreateSeries(names []string) error {
	known, err := s.SeriesNames()
	if err != nil {
		return err
	}
	seen := set.FromSlice(known)
	for _, name := range names {
		if seen.Has(name) {
			continue
		}
		if err := s.db.Create(&storedSeries{ID: HashedID(name), Name: name}).Error; err != nil {
			return errors.Wrap(err, "create series")
		}
		seen.Add(name)
	}
	return nil
}

// Insert stores the non-NaN values of each sample under the series named by
// columns, in one transaction.
func (s *SQLiteStore) Insert(ctx context.Context, columns []string, samples []window.Sample) error {
	if err := s.CreateSeries(columns); err != nil {
		return err
	}
	ids := make([][]byte, len(columns))
	for i, c := range columns {
		ids[i] = HashedID(c)
	}

	var rows []storedSample
	for _, smp := range samples {
		for i := range columns {
			if !smp.Valid(i) {
				continue
			}
			rows = append(rows, storedSample{SeriesID: ids[i], Timestamp: smp.Timestamp, Value: smp.Values[i]})
		}
	}
	if len(rows) == 0 {
		return nil
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if res := tx.CreateInBatches(rows, 500); res.Error != nil {
			return errors.Wrap(res.Error, "create")
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "transaction")
	}
	s.logger.Debug("Samples stored", zap.Int("samples", len(samples)), zap.Int("observations", len(rows)))
	return nil
}

// Source reads columns back as wide samples ordered by timestamp.
func (s *SQLiteStore) Source(columns []string, descending bool, pageSize int) (*SQLiteSource, error) {
	known, err := s.SeriesNames()
	if err != nil {
		return nil, err
	}
	have := set.FromSlice(known)
	ids := make([][]byte, len(columns))
	names := make(map[string]string, len(columns))
	for i, c := range columns {
		if !have.Has(c) {
			return nil, errors.Wrapf(ErrUnknownSeries, "series %q", c)
		}
		ids[i] = HashedID(c)
		names[string(ids[i])] = c
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &SQLiteSource{
		db:         s.db,
		ids:        ids,
		names:      names,
		descending: descending,
		pageSize:   pageSize,
		page:       deque.New[storedSample](0, 64),
		group:      newGrouper(columns),
		logger:     s.logger.Named("sqlite-source"),
	}, nil
}

// SQLiteSource pages through the samples table with keyset pagination on
// (timestamp, id) and regroups the rows into wide samples.
type SQLiteSource struct {
	db         *gorm.DB
	ids        [][]byte
	names      map[string]string
	descending bool
	pageSize   int

	page      *deque.Deque[storedSample]
	group     *grouper
	lastTS    float64
	lastID    uint64
	started   bool
	exhausted bool
	logger    *zap.Logger
}

func (s *SQLiteSource) loadPage(ctx context.Context) error {
	q := s.db.WithContext(ctx).Where("series_id IN ?", s.ids)
	order := "timestamp asc, id asc"
	if s.descending {
		order = "timestamp desc, id desc"
	}
	if s.started {
		cmp := ">"
		if s.descending {
			cmp = "<"
		}
		q = q.Where("((timestamp "+cmp+" ?) OR (timestamp = ? AND id "+cmp+" ?))", s.lastTS, s.lastTS, s.lastID)
	}

	var rows []storedSample
	if tx := q.Order(order).Limit(s.pageSize).Find(&rows); tx.Error != nil {
		return errors.Wrap(tx.Error, "find")
	}
	for _, r := range rows {
		s.page.PushBack(r)
	}
	if len(rows) > 0 {
		last := rows[len(rows)-1]
		s.lastTS, s.lastID, s.started = last.Timestamp, last.ID, true
	}
	if len(rows) < s.pageSize {
		s.exhausted = true
	}
	s.logger.Debug("Page loaded", zap.Int("rows", len(rows)), zap.Bool("exhausted", s.exhausted))
	return nil
}

func (s *SQLiteSource) Next(ctx context.Context) (window.Sample, error) {
	for {
		if s.page.Len() == 0 {
			if s.exhausted {
				if smp, ok := s.group.flush(); ok {
					return smp, nil
				}
				return window.Sample{}, io.EOF
			}
			if err := s.loadPage(ctx); err != nil {
				return window.Sample{}, err
			}
			continue
		}
		r := s.page.PopFront()
		if smp, ok := s.group.add(s.names[string(r.SeriesID)], r.Timestamp, r.Value); ok {
			return smp, nil
		}
	}
}

// EstimatedRange returns the span covered by the selected series, in read
// order.
func (s *SQLiteSource) EstimatedRange(ctx context.Context) (float64, float64, bool) {
	var r struct {
		Lo *float64
		Hi *float64
	}
	tx := s.db.WithContext(ctx).Model(&storedSample{}).
		Select("MIN(timestamp) AS lo, MAX(timestamp) AS hi").
		Where("series_id IN ?", s.ids).
		Scan(&r)
	if tx.Error != nil || r.Lo == nil || r.Hi == nil {
		return math.NaN(), math.NaN(), false
	}
	if s.descending {
		return *r.Hi, *r.Lo, true
	}
	return *r.Lo, *r.Hi, true
}
