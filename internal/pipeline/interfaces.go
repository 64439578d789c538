package pipeline

import "context"

// EventStore persists events. Append assigns the event its id and
// created_at and must not lose the event even when the primary log is
// down. FlushIfDue lets the consumer loop drive periodic flushes.
type EventStore interface {
	Append(ctx context.Context, ev Event) (Event, error)
	FlushIfDue(ctx context.Context) error
}

// Broadcaster fans a processed event out to live observers.
type Broadcaster interface {
	Broadcast(ev Event)
}
