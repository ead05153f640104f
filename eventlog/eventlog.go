// Package eventlog implements an append-only event log for long-running
// business processes that span many conversation turns. A process is a
// sequence of typed events; the latest event is the process's current
// stage, and amendments to that stage merge into the latest event rather
// than appending, so the log stays one-event-per-stage.
package eventlog

import (
	"context"
	"errors"
	"time"

	"github.com/hupe1980/agentchain/internal/util"
)

// EventType names a process stage. The set of valid types and their order
// belong to the domain built on top of the log; the log itself only
// enforces that amendments target the current stage.
type EventType string

var (
	// ErrMissingIdentity is returned when an event capture carries no
	// process id.
	ErrMissingIdentity = errors.New("eventlog: process id is required")
	// ErrStaleEvent is returned when an amendment targets a stage the
	// process has already moved past.
	ErrStaleEvent = errors.New("eventlog: current event type mismatch")
	// ErrNoEvent is returned by projections over a process with no events.
	ErrNoEvent = errors.New("eventlog: no event recorded")
)

// Event is one immutable-identity record in the log. Fields carry the
// stage's payload and may grow through merges while the event is current.
type Event struct {
	ID        string         `bson:"_id" json:"id"`
	ProcessID string         `bson:"process_id" json:"process_id"`
	ConvoID   string         `bson:"conversation_id,omitempty" json:"conversation_id,omitempty"`
	UserID    string         `bson:"user_id,omitempty" json:"user_id,omitempty"`
	Type      EventType      `bson:"type" json:"type"`
	Fields    map[string]any `bson:"fields,omitempty" json:"fields,omitempty"`
	Created   time.Time      `bson:"created" json:"created"`
	Updated   time.Time      `bson:"updated" json:"updated"`
}

// Field returns a payload value and whether it is present.
func (e *Event) Field(key string) (any, bool) {
	v, ok := e.Fields[key]
	return v, ok
}

// Clone returns a copy with an independent payload map.
func (e *Event) Clone() *Event {
	c := *e
	if e.Fields != nil {
		c.Fields = make(map[string]any, len(e.Fields))
		for k, v := range e.Fields {
			c.Fields[k] = v
		}
	}
	return &c
}

// Identity ties an event to its process and, optionally, to the
// conversation and user that produced it.
type Identity struct {
	ProcessID string
	ConvoID   string
	UserID    string
}

// Store is the persistence contract for the event log. MergeCurrent must
// be atomic per process: the stage check and the payload merge happen as
// one operation so a concurrent stage transition cannot be overwritten by
// a late amendment.
type Store interface {
	// Append records a new event.
	Append(ctx context.Context, event *Event) error
	// Latest returns the process's most recent event by creation time, or
	// ErrNoEvent.
	Latest(ctx context.Context, processID string) (*Event, error)
	// LatestByConvo returns the most recent event across all processes of
	// a conversation, or ErrNoEvent.
	LatestByConvo(ctx context.Context, convoID string) (*Event, error)
	// LatestOfType returns the process's most recent event of the given
	// type, or ErrNoEvent.
	LatestOfType(ctx context.Context, processID string, t EventType) (*Event, error)
	// MergeCurrent merges fields into the process's latest event if that
	// event has the expected type, returning the updated record. A type
	// mismatch returns ErrStaleEvent; an empty process returns ErrNoEvent.
	MergeCurrent(ctx context.Context, processID string, expected EventType, fields map[string]any) (*Event, error)
}

// Log is the domain-facing surface over a Store.
type Log struct {
	store Store
}

// New constructs a Log over a store.
func New(store Store) *Log {
	return &Log{store: store}
}

// Capture appends a new event, moving the process to a new current stage.
func (l *Log) Capture(ctx context.Context, id Identity, t EventType, fields map[string]any) (*Event, error) {
	if id.ProcessID == "" {
		return nil, ErrMissingIdentity
	}
	now := time.Now().UTC()
	event := &Event{
		ID:        util.NewID(),
		ProcessID: id.ProcessID,
		ConvoID:   id.ConvoID,
		UserID:    id.UserID,
		Type:      t,
		Fields:    fields,
		Created:   now,
		Updated:   now,
	}
	if err := l.store.Append(ctx, event); err != nil {
		return nil, err
	}
	return event.Clone(), nil
}

// UpdateCurrent amends the process's current stage. The amendment is
// rejected with ErrStaleEvent when the process has already moved to a
// different stage, which protects against delayed agent writes landing on
// the wrong event.
func (l *Log) UpdateCurrent(ctx context.Context, processID string, expected EventType, fields map[string]any) (*Event, error) {
	if processID == "" {
		return nil, ErrMissingIdentity
	}
	return l.store.MergeCurrent(ctx, processID, expected, fields)
}

// Current returns the process's current stage event.
func (l *Log) Current(ctx context.Context, processID string) (*Event, error) {
	return l.store.Latest(ctx, processID)
}

// CurrentByConvo returns the newest event across a conversation's
// processes, which identifies the process a conversation is working on.
func (l *Log) CurrentByConvo(ctx context.Context, convoID string) (*Event, error) {
	return l.store.LatestByConvo(ctx, convoID)
}

// LatestOfType returns the process's most recent event of one type,
// regardless of whether it is still current.
func (l *Log) LatestOfType(ctx context.Context, processID string, t EventType) (*Event, error) {
	return l.store.LatestOfType(ctx, processID, t)
}

// CurrentIs reports whether the process's current stage has the given
// type. An empty process reports false without error.
func (l *Log) CurrentIs(ctx context.Context, processID string, t EventType) (bool, error) {
	event, err := l.store.Latest(ctx, processID)
	if errors.Is(err, ErrNoEvent) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return event.Type == t, nil
}
