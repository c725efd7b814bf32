package config

import "errors"

var (
	ErrReadingConfigFile    = errors.New("failed to read config file")
	ErrUnmarshallingConfig  = errors.New("failed to unmarshal config")
	ErrConfigFileMissing    = errors.New("config file not found")
	ErrUnknownSourceType    = errors.New("unknown source type")
	ErrMissingSourceSetting = errors.New("source setting is required")
	ErrNoColumns            = errors.New("at least one column must be configured")
	ErrDuplicateName        = errors.New("column and window names must be unique")
	ErrInvalidWindow        = errors.New("invalid window definition")
	ErrInvalidQuery         = errors.New("invalid query definition")
	ErrInvalidBuffer        = errors.New("invalid buffer settings")
	ErrInvalidServerAddress = errors.New("server address cannot be empty when the server is enabled")
)
