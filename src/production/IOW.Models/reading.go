package iowmodels

import "time"

// Reading is a decoded telemetry sample. It is never persisted on its own.
type Reading struct {
	Value      float64   `json:"temperature"`
	ObservedAt time.Time `json:"observed_at"`
}

// LatestSnapshot is the realtime view served to clients: the last decoded
// reading (if any) and the transport connection state.
type LatestSnapshot struct {
	Temperature     *float64        `json:"temperature"`
	ObservedAt      *time.Time      `json:"observed_at"`
	ConnectionState ConnectionState `json:"connection_state"`
	UpdatedAt       time.Time       `json:"updated_at"`
}
