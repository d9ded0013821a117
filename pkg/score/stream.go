package score

import (
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/zurustar/scorestream/pkg/synth"
	"github.com/zurustar/scorestream/pkg/timeline"
)

// SubChunks is the number of slices a Read is rendered in. Events are
// applied at slice boundaries, so an event lands at most a quarter of the
// request late.
const SubChunks = 4

// State is the lifecycle state of a Stream.
type State int

const (
	StateIngesting State = iota
	StateStreaming
	StateExhausted
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIngesting:
		return "ingesting"
	case StateStreaming:
		return "streaming"
	case StateExhausted:
		return "exhausted"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// noCopy makes go vet's copylocks check flag Stream values being copied.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// Stream renders one MIDI channel of a score as 16-bit mono PCM at
// synth.SampleRate. It implements io.ReadSeeker.
//
// A Stream has a single consumer and does no locking of its own. Streams of
// the same score may be read from different goroutines.
type Stream struct {
	_ noCopy

	channel int
	tl      *timeline.Timeline
	engine  synth.Engine
	log     *slog.Logger

	seekMode   SeekMode
	offsetMode OffsetMode

	start, current, end timeline.EventID

	offset int64
	time   time.Duration

	// base is where the clock was last repositioned and rendered the
	// samples produced since then.
	base     time.Duration
	rendered int64

	ingesting bool
	closed    bool

	buf []int16
}

func newStream(channel int, tl *timeline.Timeline, first timeline.EventID, engine synth.Engine, opts Options, log *slog.Logger) *Stream {
	return &Stream{
		channel:    channel,
		tl:         tl,
		engine:     engine,
		log:        log.With("channel", channel),
		seekMode:   opts.SeekMode,
		offsetMode: opts.OffsetMode,
		start:      first,
		current:    first,
		end:        first,
		ingesting:  true,
	}
}

// push appends id to the channel's sequence.
func (s *Stream) push(id timeline.EventID) {
	if !s.ingesting {
		panic("score: push on a stream that is no longer ingesting")
	}
	s.tl.Link(s.end, id)
	s.end = id
}

func (s *Stream) finishIngest() {
	s.ingesting = false
}

// Channel returns the MIDI channel (0-15) the stream renders.
func (s *Stream) Channel() int { return s.channel }

// State returns the current lifecycle state.
func (s *Stream) State() State {
	switch {
	case s.closed:
		return StateClosed
	case s.ingesting:
		return StateIngesting
	case s.current == timeline.NoEvent:
		return StateExhausted
	default:
		return StateStreaming
	}
}

// Time returns the playback cursor.
func (s *Stream) Time() time.Duration { return s.time }

// Tell returns the number of bytes delivered, as adjusted by seeks.
func (s *Stream) Tell() int64 { return s.offset }

// EOF reports whether every event of the channel has been consumed. Audio
// keeps coming after EOF while notes decay.
func (s *Stream) EOF() bool { return s.current == timeline.NoEvent }

// IsFile reports whether the stream is backed by a file. Always true.
func (s *Stream) IsFile() bool { return true }

// Events returns the channel's full event sequence.
func (s *Stream) Events() []timeline.Event {
	if s.tl == nil {
		return nil
	}
	var evs []timeline.Event
	for id := s.start; id != timeline.NoEvent; id = s.tl.Next(id) {
		evs = append(evs, s.tl.Event(id))
	}
	return evs
}

// PeekEvent returns the next event to be applied without consuming it.
func (s *Stream) PeekEvent() (timeline.Event, bool) {
	if s.closed || s.current == timeline.NoEvent {
		return timeline.Event{}, false
	}
	return s.tl.Event(s.current), true
}

// PopEvent consumes the next event without applying it to the engine.
func (s *Stream) PopEvent() (timeline.Event, bool) {
	ev, ok := s.PeekEvent()
	if ok {
		s.advance(s.tl.Next(s.current))
	}
	return ev, ok
}

// Read renders len(p)/2 samples into p as little-endian int16 and returns
// the number of bytes written. It never returns io.EOF.
func (s *Stream) Read(p []byte) (int, error) {
	if s.closed {
		return 0, ErrClosed
	}
	samples := len(p) / synth.SampleSize
	if samples == 0 {
		if len(p) > 0 {
			return 0, io.ErrShortBuffer
		}
		return 0, nil
	}

	out := s.scratch(samples)
	quarter := samples / SubChunks
	pos := 0
	for i := 0; i < SubChunks; i++ {
		n := quarter
		if i == SubChunks-1 {
			n += samples % SubChunks
		}

		var next time.Duration
		switch s.offsetMode {
		case OffsetCumulative:
			next = s.time + synth.Duration(int64(samples))/SubChunks
			s.drain(next)
			s.offset += int64(samples * synth.SampleSize)
			s.setClock(next)
		default:
			s.rendered += int64(n)
			next = s.base + synth.Duration(s.rendered)
			s.drain(next)
			s.offset += int64(n * synth.SampleSize)
			s.time = next
		}

		s.engine.Render(out[pos : pos+n])
		pos += n
	}

	for i, v := range out {
		binary.LittleEndian.PutUint16(p[i*synth.SampleSize:], uint16(v))
	}
	return samples * synth.SampleSize, nil
}

// drain applies every pending event earlier than limit.
func (s *Stream) drain(limit time.Duration) {
	for s.current != timeline.NoEvent {
		ev := s.tl.Event(s.current)
		if ev.Time >= limit {
			return
		}
		s.apply(s.current, ev)
		s.advance(s.tl.Next(s.current))
	}
}

func (s *Stream) apply(id timeline.EventID, ev timeline.Event) {
	ch := int(ev.Channel)
	switch ev.Kind {
	case timeline.KindProgramChange:
		s.engine.SetProgram(ch, int(ev.Program), ch == synth.PercussionChannel)
	case timeline.KindNoteOn:
		s.engine.NoteOn(ch, int(ev.Key), float32(ev.Velocity)/127)
	case timeline.KindNoteOff:
		s.engine.NoteOff(ch, int(ev.Key))
	case timeline.KindPitchBend:
		s.engine.SetPitchWheel(ch, int(ev.Pitch))
	case timeline.KindControlChange:
		s.engine.MidiControl(ch, int(ev.Controller), int(ev.Value))
	default:
		panic(fmt.Errorf("%w: %v (event %d, channel %d)", ErrUnreachableEventKind, ev.Kind, id, ch))
	}
}

// advance moves the cursor and logs the transition into the exhausted state.
func (s *Stream) advance(next timeline.EventID) {
	s.current = next
	if next == timeline.NoEvent {
		s.log.Debug("channel exhausted", "time", s.time, "offset", s.offset)
	}
}

// skipBefore consumes, without applying, the events earlier than t.
func (s *Stream) skipBefore(t time.Duration) {
	for s.current != timeline.NoEvent && s.tl.Event(s.current).Time < t {
		s.advance(s.tl.Next(s.current))
	}
}

// Skip moves the offset by n bytes, clamping at zero, without rendering.
// A negative n rewinds the event cursor before skipping forward to the new
// time.
func (s *Stream) Skip(n int64) error {
	if s.closed {
		return ErrClosed
	}
	pos := max(s.offset+n, 0)
	if s.seekMode == SeekChase {
		s.chase(pos)
		return nil
	}

	s.offset = pos
	s.setClock(synth.Duration(pos / synth.SampleSize))
	if n < 0 {
		s.current = s.start
	}
	s.skipBefore(s.time)
	return nil
}

// SeekTo moves the stream to byte offset pos and primes the engine with one
// discarded chunk.
func (s *Stream) SeekTo(pos int64) error {
	if s.closed {
		return ErrClosed
	}
	if pos < 0 {
		return fmt.Errorf("%w: %d", ErrNegativePosition, pos)
	}
	if s.seekMode == SeekChase {
		s.chase(pos)
		return nil
	}

	s.offset = pos
	t := synth.Duration(pos / synth.SampleSize)
	if s.current == timeline.NoEvent || t < s.time {
		// backwards: voice state cannot be rolled back
		s.log.Debug("seek left cursor in place", "target", t, "time", s.time)
		return nil
	}
	s.setClock(t)
	s.skipBefore(t)
	s.prime()
	return nil
}

// chase rebuilds the engine state for byte offset pos from the start of
// the channel.
func (s *Stream) chase(pos int64) {
	t := synth.Duration(pos / synth.SampleSize)
	s.engine.Reset()
	s.current = s.start
	for s.current != timeline.NoEvent {
		ev := s.tl.Event(s.current)
		if ev.Time >= t {
			break
		}
		if ev.Kind != timeline.KindNoteOn && ev.Kind != timeline.KindNoteOff {
			s.apply(s.current, ev)
		}
		s.advance(s.tl.Next(s.current))
	}
	s.offset = pos
	s.setClock(t)
	s.prime()
	s.log.Debug("chased", "time", t, "offset", pos)
}

// setClock moves the event clock to t. Reads advance it from there by the
// samples they render, independent of the byte offset.
func (s *Stream) setClock(t time.Duration) {
	s.time = t
	s.base = t
	s.rendered = 0
}

func (s *Stream) prime() {
	s.engine.Render(s.scratch(synth.ChunkSize))
}

// Seek implements io.Seeker. io.SeekEnd is unsupported because a stream has
// no length.
func (s *Stream) Seek(offset int64, whence int) (int64, error) {
	var err error
	switch whence {
	case io.SeekStart:
		err = s.SeekTo(offset)
	case io.SeekCurrent:
		if s.offset+offset < 0 {
			return s.offset, fmt.Errorf("%w: %d", ErrNegativePosition, s.offset+offset)
		}
		err = s.Skip(offset)
	case io.SeekEnd:
		err = fmt.Errorf("%w: seek relative to end", ErrUnsupportedOperation)
	default:
		err = fmt.Errorf("invalid whence: %d", whence)
	}
	return s.offset, err
}

// Clone always fails: a stream owns its engine and cannot be duplicated.
func (s *Stream) Clone() (*Stream, error) {
	return nil, fmt.Errorf("%w: clone of channel %d", ErrUnsupportedOperation, s.channel)
}

// Close releases the engine. Closing twice is a no-op.
func (s *Stream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.engine != nil {
		s.engine.Close()
		s.engine = nil
	}
	s.tl = nil
	s.buf = nil
	s.log.Debug("stream closed", "offset", s.offset)
	return nil
}

func (s *Stream) scratch(n int) []int16 {
	if cap(s.buf) < n {
		s.buf = make([]int16, n)
	}
	return s.buf[:n]
}
