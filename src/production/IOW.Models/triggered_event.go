package iowmodels

import "time"

// EventPageSize is the fixed number of triggered events per page
const EventPageSize = 5

// TriggeredEvent records a reading that met or exceeded the threshold active at
// evaluation time. ThresholdValue is a copy, not a reference.
type TriggeredEvent struct {
	ID             string    `json:"id" bson:"_id"`
	Temperature    float64   `json:"temperature" bson:"temperature"`
	ThresholdValue float64   `json:"threshold_value" bson:"threshold_value"`
	RecordedAt     time.Time `json:"recorded_at" bson:"recorded_at"`
}
