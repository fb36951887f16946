package transport

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

var (
	ErrEmptyPayload       = errors.New("empty payload")
	ErrMissingTemperature = errors.New("payload has no numeric temperature")
)

type temperaturePayload struct {
	Temperature *float64 `json:"temperature"`
}

// DecodeTemperature accepts either {"temperature": <number>} or a bare number
func DecodeTemperature(payload []byte) (float64, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return 0, ErrEmptyPayload
	}

	var value float64
	if trimmed[0] == '{' {
		var body temperaturePayload
		if err := json.Unmarshal(trimmed, &body); err != nil {
			return 0, fmt.Errorf("invalid JSON payload: %w", err)
		}
		if body.Temperature == nil {
			return 0, ErrMissingTemperature
		}
		value = *body.Temperature
	} else if err := json.Unmarshal(trimmed, &value); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMissingTemperature, err)
	}

	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, ErrMissingTemperature
	}
	return value, nil
}
