package iowmodels

import "time"

// StoredTimePrecision is the finest resolution every storage backend keeps.
// BSON datetimes hold milliseconds.
const StoredTimePrecision = time.Millisecond

// StoredTime is t in UTC at StoredTimePrecision, so a value returned from a
// write equals the value read back later
func StoredTime(t time.Time) time.Time {
	return t.UTC().Truncate(StoredTimePrecision)
}
