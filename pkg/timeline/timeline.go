package timeline

import (
	"errors"
	"fmt"
	"time"
)

// EventID addresses an event inside a Timeline.
type EventID int32

// NoEvent is the null EventID: the end of a chain, or an exhausted cursor.
const NoEvent EventID = -1

var (
	// ErrOutOfOrder is returned when a channel's events go back in time.
	ErrOutOfOrder = errors.New("channel events out of time order")

	// ErrInvalidKind is returned when an event carries an unknown Kind.
	ErrInvalidKind = errors.New("invalid event kind")
)

// Timeline is the event arena of one MIDI file.
//
// Events are read-only. The per-channel links are written by Link while a
// score partitions the file and become read-only after Seal, at which point
// the Timeline may be shared by any number of goroutines.
type Timeline struct {
	events []Event
	next   []EventID
	sealed bool
	meta   Metadata
}

// Len returns the number of events.
func (t *Timeline) Len() int { return len(t.events) }

// Event returns the event at id. It panics when id is out of range.
func (t *Timeline) Event(id EventID) Event { return t.events[id] }

// Next returns the event following id in its channel chain, or NoEvent.
func (t *Timeline) Next(id EventID) EventID { return t.next[id] }

// Link appends id to the chain ending at prev. Chains only grow forward in
// file order, so prev must precede id and must not be linked yet.
// Link panics after Seal.
func (t *Timeline) Link(prev, id EventID) {
	if t.sealed {
		panic("timeline: Link after Seal")
	}
	if prev < 0 || id <= prev || int(id) >= len(t.events) {
		panic(fmt.Sprintf("timeline: invalid link %d -> %d", prev, id))
	}
	if t.next[prev] != NoEvent {
		panic(fmt.Sprintf("timeline: event %d already linked", prev))
	}
	t.next[prev] = id
}

// Seal freezes the chains.
func (t *Timeline) Seal() { t.sealed = true }

// Sealed reports whether Seal was called.
func (t *Timeline) Sealed() bool { return t.sealed }

// Metadata returns what the loader learned about the source file.
func (t *Timeline) Metadata() Metadata { return t.meta }

// Duration returns the time of the latest event.
func (t *Timeline) Duration() time.Duration {
	var d time.Duration
	for _, ev := range t.events {
		if ev.Time > d {
			d = ev.Time
		}
	}
	return d
}

// Builder assembles a Timeline from events given in file-scan order.
type Builder struct {
	events []Event
	meta   Metadata
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Add appends ev and returns its id.
func (b *Builder) Add(ev Event) EventID {
	b.events = append(b.events, ev)
	return EventID(len(b.events) - 1)
}

// Build validates the events and returns the Timeline. Within each channel
// times must be non-decreasing; across channels any interleaving is allowed.
func (b *Builder) Build() (*Timeline, error) {
	var last [16]time.Duration
	var seen [16]bool

	for i, ev := range b.events {
		if !ev.Kind.Valid() {
			return nil, fmt.Errorf("%w: event %d: %s", ErrInvalidKind, i, ev.Kind)
		}
		if ev.Channel > 15 {
			return nil, fmt.Errorf("%w: event %d: channel %d", ErrInvalidKind, i, ev.Channel)
		}
		if seen[ev.Channel] && ev.Time < last[ev.Channel] {
			return nil, fmt.Errorf("%w: channel %d at event %d (%v < %v)",
				ErrOutOfOrder, ev.Channel, i, ev.Time, last[ev.Channel])
		}
		seen[ev.Channel] = true
		last[ev.Channel] = ev.Time
	}

	events := make([]Event, len(b.events))
	copy(events, b.events)
	next := make([]EventID, len(events))
	for i := range next {
		next[i] = NoEvent
	}

	meta := b.meta
	meta.Events = len(events)
	return &Timeline{events: events, next: next, meta: meta}, nil
}
