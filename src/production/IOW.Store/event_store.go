package store

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	iowmodels "gitlab.com/maplesense1/iotwatch.server/src/production/IOW.Models"
	interfaces "gitlab.com/maplesense1/iotwatch.server/src/production/IOW.Repository/Interfaces"
)

// EventStore is the append-only log of triggered readings
type EventStore struct {
	repo interfaces.EventRepository
	now  func() time.Time
}

func NewEventStore(repo interfaces.EventRepository) *EventStore {
	return &EventStore{repo: repo, now: time.Now}
}

// Append assigns an id and timestamp when they are missing
func (s *EventStore) Append(ctx context.Context, event iowmodels.TriggeredEvent) (iowmodels.TriggeredEvent, error) {
	if event.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return iowmodels.TriggeredEvent{}, fmt.Errorf("failed to generate event id: %w", err)
		}
		event.ID = id.String()
	}
	if event.RecordedAt.IsZero() {
		event.RecordedAt = s.now()
	}
	event.RecordedAt = iowmodels.StoredTime(event.RecordedAt)

	if err := s.repo.Append(ctx, event); err != nil {
		return iowmodels.TriggeredEvent{}, err
	}
	return event, nil
}

// Page returns page pageNumber (1-based) of EventPageSize events, newest
// first. Pages past the end are empty.
func (s *EventStore) Page(ctx context.Context, pageNumber int) ([]iowmodels.TriggeredEvent, error) {
	if pageNumber < 1 {
		return nil, interfaces.NewValidationError("page", "must be a positive integer")
	}
	if pageNumber > math.MaxInt32 {
		return []iowmodels.TriggeredEvent{}, nil
	}
	offset := (pageNumber - 1) * iowmodels.EventPageSize
	return s.repo.Page(ctx, offset, iowmodels.EventPageSize)
}
