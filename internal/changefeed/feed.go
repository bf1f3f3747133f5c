// Package changefeed is the row-level change notification contract consumed by
// the dashboards. Stores publish after a successful commit; subscribers treat
// an event as a hint and re-read the authoritative row.
package changefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Operation is the kind of row mutation.
type Operation string

const (
	OpInsert Operation = "insert"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Collections published by the stores.
const (
	Appointments    = "appointments"
	EmergencyEvents = "emergency_events"
	Doctors         = "doctors"
)

// ChangeEvent describes one committed row change.
type ChangeEvent struct {
	Collection  string          `json:"collection"`
	Operation   Operation       `json:"operation"`
	Key         string          `json:"key"`
	Row         json.RawMessage `json:"row,omitempty"`
	CommittedAt time.Time       `json:"committedAt"`
}

// NewEvent encodes row into a change event.
func NewEvent(collection string, op Operation, key string, row any) (ChangeEvent, error) {
	evt := ChangeEvent{
		Collection:  collection,
		Operation:   op,
		Key:         key,
		CommittedAt: time.Now().UTC(),
	}
	if row != nil {
		data, err := json.Marshal(row)
		if err != nil {
			return ChangeEvent{}, fmt.Errorf("changefeed: encode %s row %s: %w", collection, key, err)
		}
		evt.Row = data
	}
	return evt, nil
}

// Decode unmarshals the event row into v.
func (e ChangeEvent) Decode(v any) error {
	if len(e.Row) == 0 {
		return fmt.Errorf("changefeed: %s event %s carries no row", e.Collection, e.Key)
	}
	return json.Unmarshal(e.Row, v)
}

// Predicate filters events for a subscriber.
type Predicate func(ChangeEvent) bool

// All accepts every event.
func All(ChangeEvent) bool { return true }

// Publisher accepts committed changes.
type Publisher interface {
	Publish(ctx context.Context, evt ChangeEvent) error
}

// Subscription is a live stream of matching events. Events are delivered in
// publish order. Close stops delivery and closes the channel; it is safe to
// call more than once.
type Subscription interface {
	Events() <-chan ChangeEvent
	Close() error
}

// Feed is a publish/subscribe change feed. A subscription also ends when the
// context passed to Subscribe is cancelled.
type Feed interface {
	Publisher
	Subscribe(ctx context.Context, collection string, pred Predicate) (Subscription, error)
}
