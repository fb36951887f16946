package interfaces

import (
	"context"

	iowmodels "gitlab.com/maplesense1/iotwatch.server/src/production/IOW.Models"
)

// LatestReadingCache keeps the realtime snapshot shared between the ingestor
// and the API. Get returns a snapshot in StateDisconnected with no reading
// when nothing was stored yet.
type LatestReadingCache interface {
	SetReading(ctx context.Context, reading iowmodels.Reading) error
	SetState(ctx context.Context, state iowmodels.ConnectionState) error
	Get(ctx context.Context) (iowmodels.LatestSnapshot, error)
}
