package source

import "errors"

var (
	ErrInvalidKafkaConfig = errors.New("invalid Kafka configuration provided")
	ErrKafkaFetchFailed   = errors.New("failed to fetch message from Kafka")
	ErrInvalidMongoConfig = errors.New("invalid MongoDB configuration provided")
	ErrMongoQueryFailed   = errors.New("MongoDB query failed")
	ErrUnknownSeries      = errors.New("series not found in store")
	ErrCSVHeader          = errors.New("CSV header is missing a required column")
	ErrCSVRecord          = errors.New("malformed CSV record")
	ErrS3FetchFailed      = errors.New("failed to fetch object from S3")
	ErrNoInputs           = errors.New("merge needs at least one input")
)
