package evaluator

import (
	"context"
	"fmt"

	logger "gitlab.com/maplesense1/iotwatch.server/src/production/IOW.Logger"
	iowmodels "gitlab.com/maplesense1/iotwatch.server/src/production/IOW.Models"
)

type ThresholdReader interface {
	GetCurrent(ctx context.Context) (*iowmodels.Threshold, error)
}

type EventAppender interface {
	Append(ctx context.Context, event iowmodels.TriggeredEvent) (iowmodels.TriggeredEvent, error)
}

// Evaluator decides whether a reading crosses the active threshold and, if
// so, records a triggered event carrying a copy of the threshold value.
type Evaluator struct {
	thresholds ThresholdReader
	events     EventAppender
	log        *logger.Logger
}

func New(thresholds ThresholdReader, events EventAppender, log *logger.Logger) *Evaluator {
	return &Evaluator{
		thresholds: thresholds,
		events:     events,
		log:        log.WithComponent("evaluator"),
	}
}

// Triggers reports whether value meets or exceeds threshold. Equality triggers.
func Triggers(value, threshold float64) bool {
	return value >= threshold
}

// Evaluate re-reads the current threshold and returns the stored event, or
// nil when the reading does not trigger.
func (e *Evaluator) Evaluate(ctx context.Context, reading iowmodels.Reading) (*iowmodels.TriggeredEvent, error) {
	current, err := e.thresholds.GetCurrent(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read current threshold: %w", err)
	}
	if current == nil || !Triggers(reading.Value, current.Value) {
		return nil, nil
	}

	event, err := e.events.Append(ctx, iowmodels.TriggeredEvent{
		Temperature:    reading.Value,
		ThresholdValue: current.Value,
		RecordedAt:     reading.ObservedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to append triggered event: %w", err)
	}

	e.log.Logger.Info().
		Str("event_id", event.ID).
		Float64("temperature", event.Temperature).
		Float64("threshold", event.ThresholdValue).
		Msg("Threshold crossed")
	return &event, nil
}
