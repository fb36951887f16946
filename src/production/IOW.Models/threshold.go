package iowmodels

import (
	"strings"
	"time"
)

// MaxNoteLength is the longest note stored with a threshold, in characters
const MaxNoteLength = 180

// MaxHistoryLimit caps threshold history queries
const MaxHistoryLimit = 100

// Threshold is the single active temperature limit
type Threshold struct {
	ID        string    `json:"id" bson:"_id"`
	Value     float64   `json:"value" bson:"value"`
	Note      *string   `json:"note" bson:"note,omitempty"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
}

// NormalizeNote trims surrounding whitespace and cuts the note to
// MaxNoteLength characters; blank notes become nil
func NormalizeNote(note *string) *string {
	if note == nil {
		return nil
	}
	n := strings.TrimSpace(*note)
	if n == "" {
		return nil
	}
	if runes := []rune(n); len(runes) > MaxNoteLength {
		n = string(runes[:MaxNoteLength])
	}
	return &n
}
