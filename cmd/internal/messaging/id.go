package messaging

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// NewMessageID returns a ULID string for a message created at now.
// ULIDs sort by creation time, which keeps ids and created_at roughly aligned.
func NewMessageID(now time.Time) (string, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// storeTime normalizes a timestamp to the precision clients see (unix millis),
// so "since" cursors built from returned timestamps never re-include a message.
// Stores combine it with nextCreated so two messages never share a millisecond.
func storeTime(t time.Time) time.Time {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Truncate(time.Millisecond)
}

// nextCreated returns t, or last+1ms when t does not come strictly after last.
func nextCreated(t, last time.Time) time.Time {
	if !last.IsZero() && !t.After(last) {
		return last.Add(time.Millisecond)
	}
	return t
}
