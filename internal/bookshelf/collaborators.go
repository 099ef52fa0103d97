package bookshelf

import (
	"time"

	"github.com/google/uuid"
)

// timestampLayout renders UTC instants as sortable ISO-8601 strings with
// millisecond precision.
const timestampLayout = "2006-01-02T15:04:05.000Z"

// IDGenerator produces unique, fixed-length book ids.
type IDGenerator interface {
	NewID() string
}

// Clock supplies the current time for insertedAt/updatedAt.
type Clock interface {
	Now() time.Time
}

type IDGeneratorFunc func() string

func (f IDGeneratorFunc) NewID() string { return f() }

type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// UUIDGenerator issues random version 4 UUIDs in their 36 character form.
type UUIDGenerator struct{}

func (UUIDGenerator) NewID() string { return uuid.NewString() }

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}
