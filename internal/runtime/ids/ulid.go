package ids

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewEventID returns a time-sortable ULID for an inbound event that arrived
// without a transport-assigned identifier.
func NewEventID() string {
	return newULID(time.Now())
}

// NewMessageID returns a ULID for messages the pipeline publishes itself.
func NewMessageID() string {
	return newULID(time.Now())
}

// Timestamp extracts the creation time encoded in a ULID produced by this
// package. It reports false for ids that are not ULIDs.
func Timestamp(id string) (time.Time, bool) {
	parsed, err := ulid.ParseStrict(id)
	if err != nil {
		return time.Time{}, false
	}
	return ulid.Time(parsed.Time()), true
}

func newULID(at time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(at), entropy).String()
}
