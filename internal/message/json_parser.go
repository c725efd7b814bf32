package message

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ParseDynamicJSON parses one JSON object into a DynamicMessage. Numbers are
// kept as json.Number so integer timestamps survive without rounding.
// It returns ErrJSONUnmarshalFailed (wrapping the original error) if unmarshalling fails.
func ParseDynamicJSON(data []byte) (DynamicMessage, error) {
	var msg DynamicMessage

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&msg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrJSONUnmarshalFailed, err)
	}
	if msg == nil {
		return nil, fmt.Errorf("%w: null row", ErrJSONUnmarshalFailed)
	}
	return msg, nil
}
