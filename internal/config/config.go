package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chrispappas/golang-generics-set/set"
	"github.com/spf13/viper"

	"github.com/sanspareilsmyn/timelens/internal/window"
)

const (
	defaultSourceType       = "csv"
	defaultTimeField        = "timestamp"
	defaultS3Region         = "us-east-1"
	defaultSQLitePageSize   = 512
	defaultKafkaGroupID     = "timelens-default-group"
	defaultKafkaIdleTimeout = 5 * time.Second
	defaultQueryMode        = ModeRows
	defaultServerEnabled    = false
	defaultServerAddress    = ":8080"
	defaultLogLevel         = "info"
	defaultLogFormat        = "console"
	defaultLogFileEnabled   = false
	defaultLogDirectory     = "log"
	defaultLogFilename      = "timelens.log"
	defaultLogMaxSizeMB     = 100
	defaultLogMaxBackups    = 3
	defaultLogMaxAgeDays    = 7
	defaultLogCompress      = false

	// Environment variable prefix
	envPrefix = "TIMELENS"
)

// Source types.
const (
	SourceCSV    = "csv"
	SourceSQLite = "sqlite"
	SourceMongo  = "mongo"
	SourceKafka  = "kafka"
)

// Query modes.
const (
	ModeRows = "rows"
	ModeGrid = "grid"
)

type Config struct {
	Source  SourceConfig   `mapstructure:"source"`
	Columns []ColumnConfig `mapstructure:"columns"`
	Windows []WindowConfig `mapstructure:"windows"`
	Query   QueryConfig    `mapstructure:"query"`
	Buffer  BufferConfig   `mapstructure:"buffer"`
	Server  ServerConfig   `mapstructure:"server"`
	Log     LogConfig      `mapstructure:"log"`
}

type SourceConfig struct {
	Type       string       `mapstructure:"type"`
	TimeField  string       `mapstructure:"timeField"`
	Descending bool         `mapstructure:"descending"`
	CSV        CSVConfig    `mapstructure:"csv"`
	SQLite     SQLiteConfig `mapstructure:"sqlite"`
	Mongo      MongoConfig  `mapstructure:"mongo"`
	Kafka      KafkaConfig  `mapstructure:"kafka"`
}

type CSVConfig struct {
	// Location is a local path or an s3://bucket/key URL. Locations lists
	// further files whose rows are merged by timestamp.
	Location  string   `mapstructure:"location"`
	Locations []string `mapstructure:"locations"`
	Region    string   `mapstructure:"region"`
}

// All returns every configured location, Location first.
func (c CSVConfig) All() []string {
	var out []string
	if c.Location != "" {
		out = append(out, c.Location)
	}
	for _, l := range c.Locations {
		if l != "" {
			out = append(out, l)
		}
	}
	return out
}

type SQLiteConfig struct {
	Path     string `mapstructure:"path"`
	PageSize int    `mapstructure:"pageSize"`
}

type MongoConfig struct {
	URI        string `mapstructure:"uri"`
	Database   string `mapstructure:"database"`
	Collection string `mapstructure:"collection"`
	BatchSize  int32  `mapstructure:"batchSize"`
}

type KafkaConfig struct {
	Brokers     []string      `mapstructure:"brokers"`
	Topic       string        `mapstructure:"topic"`
	GroupID     string        `mapstructure:"groupID"`
	IdleTimeout time.Duration `mapstructure:"idleTimeout"`
}

type ColumnConfig struct {
	Name    string `mapstructure:"name"`
	Angular bool   `mapstructure:"angular"`
}

// WindowConfig declares a named statistic. Width is a duration; timestamps
// are seconds.
type WindowConfig struct {
	Name  string        `mapstructure:"name"`
	Kind  string        `mapstructure:"kind"`
	Width time.Duration `mapstructure:"width"`
	Trim  float64       `mapstructure:"trim"` // percent, split between both ends
}

type QueryConfig struct {
	Mode       string        `mapstructure:"mode"`
	Start      *float64      `mapstructure:"start"`
	End        *float64      `mapstructure:"end"`
	Step       time.Duration `mapstructure:"step"`
	Timestamps []float64     `mapstructure:"timestamps"`
}

type BufferConfig struct {
	InitialCapacity int `mapstructure:"initialCapacity"`
	MaxCapacity     int `mapstructure:"maxCapacity"`
	Lookahead       int `mapstructure:"lookahead"`
}

type ServerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"`
}

type LogConfig struct {
	Level              string `mapstructure:"level"`
	Format             string `mapstructure:"format"`
	FileLoggingEnabled bool   `mapstructure:"fileLoggingEnabled"`
	Directory          string `mapstructure:"directory"`
	Filename           string `mapstructure:"filename"`
	MaxSize            int    `mapstructure:"maxSize"`    // Max size in MB
	MaxBackups         int    `mapstructure:"maxBackups"` // Max backup files
	MaxAge             int    `mapstructure:"maxAge"`     // Max days to retain
	Compress           bool   `mapstructure:"compress"`   // Compress rotated files?
}

// Load initializes viper, reads config, applies defaults, unmarshals, and validates.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	configureViper(v, configPath)

	setDefaults(v)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnmarshallingConfig, err)
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// configureViper sets up viper instance for file and environment variables.
func configureViper(v *viper.Viper, configPath string) {
	if configPath != "" {
		v.SetConfigFile(configPath)
	}

	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
}

// setDefaults applies default configuration values using Viper.
func setDefaults(v *viper.Viper) {
	v.SetDefault("source.type", defaultSourceType)
	v.SetDefault("source.timeField", defaultTimeField)
	v.SetDefault("source.csv.region", defaultS3Region)
	v.SetDefault("source.sqlite.pageSize", defaultSQLitePageSize)
	v.SetDefault("source.kafka.groupID", defaultKafkaGroupID)
	v.SetDefault("source.kafka.idleTimeout", defaultKafkaIdleTimeout)
	v.SetDefault("query.mode", defaultQueryMode)
	v.SetDefault("buffer.initialCapacity", window.DefaultInitialCapacity)
	v.SetDefault("buffer.maxCapacity", window.DefaultMaxCapacity)
	v.SetDefault("buffer.lookahead", window.DefaultLookahead)
	v.SetDefault("server.enabled", defaultServerEnabled)
	v.SetDefault("server.address", defaultServerAddress)
	v.SetDefault("log.level", defaultLogLevel)
	v.SetDefault("log.format", defaultLogFormat)
	v.SetDefault("log.fileLoggingEnabled", defaultLogFileEnabled)
	v.SetDefault("log.directory", defaultLogDirectory)
	v.SetDefault("log.filename", defaultLogFilename)
	v.SetDefault("log.maxSize", defaultLogMaxSizeMB)
	v.SetDefault("log.maxBackups", defaultLogMaxBackups)
	v.SetDefault("log.maxAge", defaultLogMaxAgeDays)
	v.SetDefault("log.compress", defaultLogCompress)
}

// readConfigFile attempts to read the configuration file specified in viper.
func readConfigFile(v *viper.Viper) error {
	err := v.ReadInConfig()
	if err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			return ErrConfigFileMissing
		}
		return fmt.Errorf("%w: %w", ErrReadingConfigFile, err)
	}
	return nil
}

func validateConfig(cfg *Config) error {
	if err := validateSource(&cfg.Source); err != nil {
		return err
	}
	if len(cfg.Columns) == 0 {
		return ErrNoColumns
	}

	names := set.FromSlice([]string{})
	for _, c := range cfg.Columns {
		if c.Name == "" || names.Has(c.Name) {
			return fmt.Errorf("%w: column %q", ErrDuplicateName, c.Name)
		}
		names.Add(c.Name)
	}
	if _, err := cfg.WindowDefinitions(); err != nil {
		return err
	}

	if err := validateQuery(&cfg.Query); err != nil {
		return err
	}
	if cfg.Buffer.InitialCapacity < 0 || cfg.Buffer.MaxCapacity < 0 || cfg.Buffer.Lookahead < 0 {
		return fmt.Errorf("%w: capacities must not be negative", ErrInvalidBuffer)
	}
	if cfg.Server.Enabled && cfg.Server.Address == "" {
		return ErrInvalidServerAddress
	}
	return nil
}

func validateSource(src *SourceConfig) error {
	src.Type = strings.ToLower(src.Type)
	if src.TimeField == "" {
		return fmt.Errorf("%w: source.timeField", ErrMissingSourceSetting)
	}
	switch src.Type {
	case SourceCSV:
		if len(src.CSV.All()) == 0 {
			return fmt.Errorf("%w: source.csv.location", ErrMissingSourceSetting)
		}
	case SourceSQLite:
		if src.SQLite.Path == "" {
			return fmt.Errorf("%w: source.sqlite.path", ErrMissingSourceSetting)
		}
	case SourceMongo:
		if src.Mongo.URI == "" || src.Mongo.Database == "" || src.Mongo.Collection == "" {
			return fmt.Errorf("%w: source.mongo uri, database and collection", ErrMissingSourceSetting)
		}
	case SourceKafka:
		if len(src.Kafka.Brokers) == 0 || src.Kafka.Topic == "" {
			return fmt.Errorf("%w: source.kafka brokers and topic", ErrMissingSourceSetting)
		}
		if src.Descending {
			return fmt.Errorf("%w: kafka topics are read oldest first", ErrMissingSourceSetting)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownSourceType, src.Type)
	}
	return nil
}

func validateQuery(q *QueryConfig) error {
	q.Mode = strings.ToLower(q.Mode)
	switch q.Mode {
	case ModeRows:
		if q.Start != nil && q.End != nil && *q.Start > *q.End {
			return fmt.Errorf("%w: start after end", ErrInvalidQuery)
		}
	case ModeGrid:
		if len(q.Timestamps) > 0 {
			return nil
		}
		if q.Start == nil || q.End == nil || q.Step <= 0 {
			return fmt.Errorf("%w: grid mode needs start, end and a positive step, or timestamps", ErrInvalidQuery)
		}
	default:
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidQuery, q.Mode)
	}
	return nil
}

// ColumnDefinitions converts the configured columns.
func (c *Config) ColumnDefinitions() []window.Column {
	cols := make([]window.Column, len(c.Columns))
	for i, col := range c.Columns {
		cols[i] = window.Column{Name: col.Name, Angular: col.Angular}
	}
	return cols
}

// ColumnNames returns the configured column names in order.
func (c *Config) ColumnNames() []string {
	names := make([]string, len(c.Columns))
	for i, col := range c.Columns {
		names[i] = col.Name
	}
	return names
}

// WindowDefinitions converts and validates the configured windows.
func (c *Config) WindowDefinitions() ([]window.Window, error) {
	seen := set.FromSlice([]string{})
	out := make([]window.Window, 0, len(c.Windows))
	for _, wc := range c.Windows {
		if seen.Has(wc.Name) {
			return nil, fmt.Errorf("%w: window %q", ErrDuplicateName, wc.Name)
		}
		seen.Add(wc.Name)

		kind, err := window.ParseKind(wc.Kind)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidWindow, err)
		}
		w := window.Window{Name: wc.Name, Width: wc.Width.Seconds(), Kind: kind, Trim: wc.Trim}
		if err := w.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidWindow, err)
		}
		out = append(out, w)
	}
	return out, nil
}
