// Package gcal talks to Google Calendar for freebusy checks and event
// lifecycle. Client instances are built per flow and bound to one business;
// a shared instance would leak refreshed tokens across tenants.
package gcal

import (
	"context"
	"time"
)

// EventInput describes a booking event to insert.
type EventInput struct {
	Summary        string
	Description    string
	Start          time.Time
	End            time.Time
	Timezone       string
	IdempotencyKey string
}

// Event is the subset of a calendar event the booking flow inspects.
type Event struct {
	ID string
	// Timed events carry Start/End; all-day events carry StartDate/EndDate
	// as YYYY-MM-DD strings instead.
	Start     time.Time
	End       time.Time
	StartDate string
	EndDate   string
}

// Interval is a busy span returned by a freebusy query, in UTC.
type Interval struct {
	Start time.Time
	End   time.Time
}

// Client is the calendar surface the booking flow depends on. The google
// implementation lives in this package; tests substitute fakes.
type Client interface {
	FreeBusy(ctx context.Context, timeMin, timeMax time.Time) ([]Interval, error)
	InsertEvent(ctx context.Context, input EventInput) (string, error)
	ListEventsByIdempotencyKey(ctx context.Context, timeMin, timeMax time.Time, key string) ([]Event, error)
	DeleteEvent(ctx context.Context, eventID string) error
}
