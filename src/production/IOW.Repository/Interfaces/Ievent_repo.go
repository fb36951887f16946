package interfaces

import (
	"context"

	iowmodels "gitlab.com/maplesense1/iotwatch.server/src/production/IOW.Models"
)

type EventRepository interface {
	// Append stores the event. ID and RecordedAt must already be set.
	Append(ctx context.Context, event iowmodels.TriggeredEvent) error

	// Page returns up to limit events newest first, skipping offset rows
	Page(ctx context.Context, offset, limit int) ([]iowmodels.TriggeredEvent, error)
}
