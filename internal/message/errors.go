package message

import "errors"

var (
	ErrJSONUnmarshalFailed = errors.New("failed to unmarshal JSON row")
	ErrMissingTimestamp    = errors.New("row has no usable timestamp")
)
