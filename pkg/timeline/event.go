// Package timeline holds the immutable, per-channel MIDI event timeline that
// channel streams are synthesized from.
//
// Events live in a single arena in file-scan order and are addressed by
// EventID. Per-channel sequences are singly-linked chains through that arena,
// written once while a score partitions the file and frozen afterwards, so
// every stream of a score reads the same storage without owning any of it.
package timeline

import (
	"fmt"
	"time"
)

// Kind identifies the channel-voice message an Event carries.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindProgramChange
	KindNoteOn
	KindNoteOff
	KindPitchBend
	KindControlChange
)

// Valid reports whether k is one of the five kinds a stream can apply.
func (k Kind) Valid() bool {
	return k >= KindProgramChange && k <= KindControlChange
}

func (k Kind) String() string {
	switch k {
	case KindProgramChange:
		return "program-change"
	case KindNoteOn:
		return "note-on"
	case KindNoteOff:
		return "note-off"
	case KindPitchBend:
		return "pitch-bend"
	case KindControlChange:
		return "control-change"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// PitchCenter is the pitch wheel rest position.
const PitchCenter = 8192

// Event is one timestamped channel message. Only the payload fields that
// belong to Kind are meaningful.
type Event struct {
	Kind    Kind
	Channel uint8
	// Time is the offset from the start of the piece.
	Time time.Duration

	Key      uint8 // note-on, note-off
	Velocity uint8 // note-on
	Program  uint8 // program-change
	// Pitch is the 14-bit wheel position, 0-16383.
	Pitch      uint16
	Controller uint8 // control-change
	Value      uint8 // control-change
}

func (e Event) String() string {
	ms := float64(e.Time) / float64(time.Millisecond)
	switch e.Kind {
	case KindProgramChange:
		return fmt.Sprintf("%.3fms ch%d %s program=%d", ms, e.Channel, e.Kind, e.Program)
	case KindNoteOn:
		return fmt.Sprintf("%.3fms ch%d %s key=%d velocity=%d", ms, e.Channel, e.Kind, e.Key, e.Velocity)
	case KindNoteOff:
		return fmt.Sprintf("%.3fms ch%d %s key=%d", ms, e.Channel, e.Kind, e.Key)
	case KindPitchBend:
		return fmt.Sprintf("%.3fms ch%d %s pitch=%d", ms, e.Channel, e.Kind, e.Pitch)
	case KindControlChange:
		return fmt.Sprintf("%.3fms ch%d %s controller=%d value=%d", ms, e.Channel, e.Kind, e.Controller, e.Value)
	default:
		return fmt.Sprintf("%.3fms ch%d %s", ms, e.Channel, e.Kind)
	}
}

// ProgramChange returns a program-change event.
func ProgramChange(channel uint8, at time.Duration, program uint8) Event {
	return Event{Kind: KindProgramChange, Channel: channel, Time: at, Program: program}
}

// NoteOn returns a note-on event.
func NoteOn(channel uint8, at time.Duration, key, velocity uint8) Event {
	return Event{Kind: KindNoteOn, Channel: channel, Time: at, Key: key, Velocity: velocity}
}

// NoteOff returns a note-off event.
func NoteOff(channel uint8, at time.Duration, key uint8) Event {
	return Event{Kind: KindNoteOff, Channel: channel, Time: at, Key: key}
}

// PitchBend returns a pitch-bend event with an absolute 14-bit wheel value.
func PitchBend(channel uint8, at time.Duration, pitch uint16) Event {
	return Event{Kind: KindPitchBend, Channel: channel, Time: at, Pitch: pitch}
}

// ControlChange returns a control-change event.
func ControlChange(channel uint8, at time.Duration, controller, value uint8) Event {
	return Event{Kind: KindControlChange, Channel: channel, Time: at, Controller: controller, Value: value}
}
