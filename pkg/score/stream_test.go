package score

import (
	"errors"
	"io"
	"reflect"
	"testing"
	"time"

	"github.com/zurustar/scorestream/pkg/synth"
	"github.com/zurustar/scorestream/pkg/timeline"
)

func openChannel(t *testing.T, events []timeline.Event, opts Options, ch int) (*Stream, *fakeEngine) {
	t.Helper()
	sc, f, err := buildScore(events, opts)
	if err != nil {
		t.Fatalf("buildScore failed: %v", err)
	}
	t.Cleanup(func() { sc.Close() })
	s, err := sc.Channel(ch)
	if err != nil {
		t.Fatalf("Channel(%d) failed: %v", ch, err)
	}
	for _, e := range f.engines {
		if s.engine == synth.Engine(e) {
			return s, e
		}
	}
	t.Fatalf("no engine for channel %d", ch)
	return nil, nil
}

func TestStreamRead(t *testing.T) {
	t.Run("first 10ms applies program and note-on only", func(t *testing.T) {
		s, e := openChannel(t, pianoPhrase(), Options{}, 0)

		n, err := s.Read(make([]byte, 882))
		if err != nil || n != 882 {
			t.Fatalf("Read = %d, %v", n, err)
		}
		want := []call{
			{op: "program", ch: 0, a: 5},
			{op: "noteon", ch: 0, a: 60, vel: 100.0 / 127},
		}
		if got := e.applied(); !reflect.DeepEqual(got, want) {
			t.Errorf("applied = %v, want %v", got, want)
		}
		if s.Tell() != 882 {
			t.Errorf("Tell = %d", s.Tell())
		}
		if s.Time() != 10*time.Millisecond {
			t.Errorf("Time = %v", s.Time())
		}
		if s.EOF() {
			t.Error("EOF before note-off")
		}
	})

	t.Run("event at exactly the window end waits for the next read", func(t *testing.T) {
		s, e := openChannel(t, pianoPhrase(), Options{}, 0)

		if _, err := s.Read(make([]byte, bytesFor(500*time.Millisecond))); err != nil {
			t.Fatal(err)
		}
		if s.Time() != 500*time.Millisecond {
			t.Fatalf("Time = %v", s.Time())
		}
		if len(e.applied()) != 2 {
			t.Errorf("note-off at 500ms applied early: %v", e.applied())
		}

		if _, err := s.Read(make([]byte, 2)); err != nil {
			t.Fatal(err)
		}
		got := e.applied()
		if len(got) != 3 || got[2].op != "noteoff" {
			t.Errorf("applied = %v", got)
		}
		if !s.EOF() || s.State() != StateExhausted {
			t.Errorf("EOF = %v, State = %v", s.EOF(), s.State())
		}
	})

	t.Run("events are applied between sub-chunks", func(t *testing.T) {
		s, e := openChannel(t, []timeline.Event{timeline.NoteOn(3, 5*time.Millisecond, 64, 127)}, Options{}, 3)

		if _, err := s.Read(make([]byte, 882)); err != nil {
			t.Fatal(err)
		}
		want := []call{
			{op: "render", a: 110},
			{op: "render", a: 110},
			{op: "noteon", ch: 3, a: 64, vel: 1},
			{op: "render", a: 110},
			{op: "render", a: 111},
		}
		if !reflect.DeepEqual(e.calls, want) {
			t.Errorf("calls = %v, want %v", e.calls, want)
		}
	})

	t.Run("samples are little-endian int16", func(t *testing.T) {
		s, e := openChannel(t, pianoPhrase(), Options{}, 0)
		e.fill = -2

		p := make([]byte, 8)
		if _, err := s.Read(p); err != nil {
			t.Fatal(err)
		}
		for i := 0; i < len(p); i += 2 {
			if p[i] != 0xFE || p[i+1] != 0xFF {
				t.Fatalf("sample %d = % x", i/2, p[i:i+2])
			}
		}
	})

	t.Run("short buffers", func(t *testing.T) {
		s, e := openChannel(t, pianoPhrase(), Options{}, 0)

		if n, err := s.Read(nil); n != 0 || err != nil {
			t.Errorf("Read(nil) = %d, %v", n, err)
		}
		if n, err := s.Read(make([]byte, 1)); n != 0 || !errors.Is(err, io.ErrShortBuffer) {
			t.Errorf("Read(1 byte) = %d, %v", n, err)
		}
		if len(e.calls) != 0 {
			t.Errorf("short reads reached the engine: %v", e.calls)
		}

		p := []byte{0, 0, 0xAA}
		n, err := s.Read(p)
		if n != 2 || err != nil {
			t.Errorf("Read(3 bytes) = %d, %v", n, err)
		}
		if p[2] != 0xAA {
			t.Error("odd trailing byte was overwritten")
		}
		var renders []int
		for _, c := range e.calls {
			if c.op == "render" {
				renders = append(renders, c.a)
			}
		}
		if !reflect.DeepEqual(renders, []int{0, 0, 0, 1}) {
			t.Errorf("render sizes = %v", renders)
		}
		if s.Tell() != 2 {
			t.Errorf("Tell = %d", s.Tell())
		}
	})

	t.Run("keeps producing audio after the last event", func(t *testing.T) {
		s, _ := openChannel(t, pianoPhrase(), Options{}, 0)

		for i := 0; i < 3; i++ {
			n, err := s.Read(make([]byte, bytesFor(time.Second)))
			if err != nil || n != int(bytesFor(time.Second)) {
				t.Fatalf("Read %d = %d, %v", i, n, err)
			}
		}
		if !s.EOF() {
			t.Error("EOF not reported")
		}
	})

	t.Run("cumulative offsets", func(t *testing.T) {
		s, e := openChannel(t, pianoPhrase(), Options{OffsetMode: OffsetCumulative}, 0)

		n, err := s.Read(make([]byte, 882))
		if err != nil || n != 882 {
			t.Fatalf("Read = %d, %v", n, err)
		}
		if s.Tell() != 4*882 {
			t.Errorf("Tell = %d, want %d", s.Tell(), 4*882)
		}
		if s.Time() != 10*time.Millisecond {
			t.Errorf("Time = %v", s.Time())
		}
		if len(e.applied()) != 2 {
			t.Errorf("applied = %v", e.applied())
		}
	})
}

func TestStreamSkip(t *testing.T) {
	t.Run("forward skip consumes events without applying them", func(t *testing.T) {
		s, e := openChannel(t, pianoPhrase(), Options{}, 0)

		if err := s.Skip(bytesFor(250 * time.Millisecond)); err != nil {
			t.Fatal(err)
		}
		if s.Tell() != bytesFor(250*time.Millisecond) || s.Time() != 250*time.Millisecond {
			t.Errorf("Tell = %d, Time = %v", s.Tell(), s.Time())
		}
		if len(e.calls) != 0 {
			t.Errorf("skip reached the engine: %v", e.calls)
		}
		if ev, ok := s.PeekEvent(); !ok || ev.Kind != timeline.KindNoteOff {
			t.Errorf("PeekEvent = %v, %v", ev, ok)
		}
	})

	t.Run("negative skip clamps at zero and rewinds", func(t *testing.T) {
		s, e := openChannel(t, pianoPhrase(), Options{}, 0)

		if _, err := s.Read(make([]byte, bytesFor(time.Second))); err != nil {
			t.Fatal(err)
		}
		if err := s.Skip(-10 * bytesFor(time.Second)); err != nil {
			t.Fatal(err)
		}
		if s.Tell() != 0 || s.Time() != 0 {
			t.Errorf("Tell = %d, Time = %v", s.Tell(), s.Time())
		}
		if s.EOF() {
			t.Error("still EOF after rewinding")
		}

		e.calls = nil
		if _, err := s.Read(make([]byte, 882)); err != nil {
			t.Fatal(err)
		}
		if got := e.applied(); len(got) != 2 || got[0].op != "program" {
			t.Errorf("applied after rewind = %v", got)
		}
	})

	t.Run("negative skip lands mid-sequence", func(t *testing.T) {
		s, _ := openChannel(t, pianoPhrase(), Options{}, 0)

		if _, err := s.Read(make([]byte, bytesFor(time.Second))); err != nil {
			t.Fatal(err)
		}
		if err := s.Skip(-bytesFor(600 * time.Millisecond)); err != nil {
			t.Fatal(err)
		}
		if s.Time() != 400*time.Millisecond {
			t.Errorf("Time = %v", s.Time())
		}
		if s.State() != StateStreaming {
			t.Errorf("State = %v", s.State())
		}
		if ev, ok := s.PeekEvent(); !ok || ev.Kind != timeline.KindNoteOff {
			t.Errorf("PeekEvent = %v, %v", ev, ok)
		}
	})

	t.Run("chase mode rebuilds engine state", func(t *testing.T) {
		s, e := openChannel(t, pianoPhrase(), Options{SeekMode: SeekChase}, 0)

		if _, err := s.Read(make([]byte, bytesFor(time.Second))); err != nil {
			t.Fatal(err)
		}
		e.calls = nil
		if err := s.Skip(-bytesFor(750 * time.Millisecond)); err != nil {
			t.Fatal(err)
		}
		want := []call{
			{op: "reset"},
			{op: "program", ch: 0, a: 5},
			{op: "render", a: synth.ChunkSize},
		}
		if !reflect.DeepEqual(e.calls, want) {
			t.Errorf("calls = %v, want %v", e.calls, want)
		}
		if s.Time() != 250*time.Millisecond {
			t.Errorf("Time = %v", s.Time())
		}
	})
}

func TestStreamSeekTo(t *testing.T) {
	t.Run("seek to zero on a fresh stream primes and keeps events", func(t *testing.T) {
		s, e := openChannel(t, pianoPhrase(), Options{}, 0)

		if err := s.SeekTo(0); err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(e.calls, []call{{op: "render", a: synth.ChunkSize}}) {
			t.Errorf("calls = %v", e.calls)
		}
		if s.Tell() != 0 {
			t.Errorf("Tell = %d", s.Tell())
		}
		if _, err := s.Read(make([]byte, 882)); err != nil {
			t.Fatal(err)
		}
		if got := e.applied(); len(got) != 2 {
			t.Errorf("applied = %v", got)
		}
	})

	t.Run("literal seek to zero after playback only resets the offset", func(t *testing.T) {
		s, e := openChannel(t, pianoPhrase(), Options{}, 0)

		if _, err := s.Read(make([]byte, bytesFor(time.Second))); err != nil {
			t.Fatal(err)
		}
		e.calls = nil
		if err := s.SeekTo(0); err != nil {
			t.Fatal(err)
		}
		if len(e.calls) != 0 {
			t.Errorf("calls = %v", e.calls)
		}
		if s.Tell() != 0 || s.Time() != time.Second || !s.EOF() {
			t.Errorf("Tell = %d, Time = %v, EOF = %v", s.Tell(), s.Time(), s.EOF())
		}
		if _, err := s.Read(make([]byte, 882)); err != nil {
			t.Fatal(err)
		}
		if got := e.applied(); len(got) != 0 {
			t.Errorf("events replayed after literal seek: %v", got)
		}
	})

	t.Run("literal backward seek keeps the cursor", func(t *testing.T) {
		s, e := openChannel(t, pianoPhrase(), Options{}, 0)

		if _, err := s.Read(make([]byte, bytesFor(300*time.Millisecond))); err != nil {
			t.Fatal(err)
		}
		e.calls = nil
		if err := s.SeekTo(bytesFor(100 * time.Millisecond)); err != nil {
			t.Fatal(err)
		}
		if s.Tell() != bytesFor(100*time.Millisecond) || s.Time() != 300*time.Millisecond {
			t.Errorf("Tell = %d, Time = %v", s.Tell(), s.Time())
		}
		if len(e.calls) != 0 {
			t.Errorf("calls = %v", e.calls)
		}

		// the clock keeps running from 300ms, not from the new offset
		if _, err := s.Read(make([]byte, bytesFor(250*time.Millisecond))); err != nil {
			t.Fatal(err)
		}
		if s.Time() != 550*time.Millisecond {
			t.Errorf("Time = %v", s.Time())
		}
		if s.Tell() != bytesFor(100*time.Millisecond)+bytesFor(250*time.Millisecond) {
			t.Errorf("Tell = %d", s.Tell())
		}
		got := e.applied()
		if len(got) != 1 || got[0].op != "noteoff" {
			t.Errorf("applied = %v", got)
		}
		if !s.EOF() {
			t.Error("EOF = false after the last event was applied")
		}
	})

	t.Run("literal forward seek skips events and primes", func(t *testing.T) {
		s, e := openChannel(t, pianoPhrase(), Options{}, 0)

		if err := s.SeekTo(bytesFor(250 * time.Millisecond)); err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(e.calls, []call{{op: "render", a: synth.ChunkSize}}) {
			t.Errorf("calls = %v", e.calls)
		}
		if s.Time() != 250*time.Millisecond {
			t.Errorf("Time = %v", s.Time())
		}
		if ev, ok := s.PeekEvent(); !ok || ev.Kind != timeline.KindNoteOff {
			t.Errorf("PeekEvent = %v, %v", ev, ok)
		}
	})

	t.Run("chase seek to zero reproduces a fresh stream", func(t *testing.T) {
		fresh, fe := openChannel(t, pianoPhrase(), Options{}, 0)
		if _, err := fresh.Read(make([]byte, 882)); err != nil {
			t.Fatal(err)
		}

		s, e := openChannel(t, pianoPhrase(), Options{SeekMode: SeekChase}, 0)
		if _, err := s.Read(make([]byte, bytesFor(time.Second))); err != nil {
			t.Fatal(err)
		}
		if err := s.SeekTo(0); err != nil {
			t.Fatal(err)
		}
		e.calls = nil
		if _, err := s.Read(make([]byte, 882)); err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(e.calls, fe.calls) {
			t.Errorf("calls after chase = %v, fresh = %v", e.calls, fe.calls)
		}
		if s.Tell() != 882 {
			t.Errorf("Tell = %d", s.Tell())
		}
	})

	t.Run("chase replays state events only", func(t *testing.T) {
		events := []timeline.Event{
			timeline.ProgramChange(2, 0, 40),
			timeline.ControlChange(2, 0, 7, 90),
			timeline.NoteOn(2, 0, 67, 80),
			timeline.PitchBend(2, 100*time.Millisecond, 9000),
			timeline.NoteOff(2, 500*time.Millisecond, 67),
		}
		s, e := openChannel(t, events, Options{SeekMode: SeekChase}, 2)

		if err := s.SeekTo(bytesFor(200 * time.Millisecond)); err != nil {
			t.Fatal(err)
		}
		want := []call{
			{op: "reset"},
			{op: "program", ch: 2, a: 40},
			{op: "cc", ch: 2, a: 7, b: 90},
			{op: "pitch", ch: 2, a: 9000},
			{op: "render", a: synth.ChunkSize},
		}
		if !reflect.DeepEqual(e.calls, want) {
			t.Errorf("calls = %v, want %v", e.calls, want)
		}
	})

	t.Run("negative position", func(t *testing.T) {
		s, _ := openChannel(t, pianoPhrase(), Options{}, 0)
		if err := s.SeekTo(-2); !errors.Is(err, ErrNegativePosition) {
			t.Errorf("expected ErrNegativePosition, got %v", err)
		}
	})
}

func TestStreamSeek(t *testing.T) {
	s, _ := openChannel(t, pianoPhrase(), Options{}, 0)

	tests := []struct {
		name    string
		offset  int64
		whence  int
		wantPos int64
		wantErr error
	}{
		{"start", 1000, io.SeekStart, 1000, nil},
		{"current forward", 500, io.SeekCurrent, 1500, nil},
		{"current backward", -1500, io.SeekCurrent, 0, nil},
		{"current before start", -2, io.SeekCurrent, 0, ErrNegativePosition},
		{"negative start", -1, io.SeekStart, 0, ErrNegativePosition},
		{"end", 0, io.SeekEnd, 0, ErrUnsupportedOperation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pos, err := s.Seek(tt.offset, tt.whence)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Seek failed: %v", err)
			}
			if pos != tt.wantPos || s.Tell() != tt.wantPos {
				t.Errorf("pos = %d, Tell = %d, want %d", pos, s.Tell(), tt.wantPos)
			}
		})
	}

	if _, err := s.Seek(0, 42); err == nil {
		t.Error("expected error for invalid whence")
	}
}

func TestStreamEvents(t *testing.T) {
	s, e := openChannel(t, pianoPhrase(), Options{}, 0)

	if got := s.Events(); !reflect.DeepEqual(got, pianoPhrase()) {
		t.Errorf("Events = %v", got)
	}

	for i, want := range pianoPhrase() {
		if ev, ok := s.PeekEvent(); !ok || ev != want {
			t.Errorf("PeekEvent %d = %v, %v", i, ev, ok)
		}
		if ev, ok := s.PopEvent(); !ok || ev != want {
			t.Errorf("PopEvent %d = %v, %v", i, ev, ok)
		}
	}
	if _, ok := s.PopEvent(); ok {
		t.Error("PopEvent past the end")
	}
	if !s.EOF() {
		t.Error("EOF after popping everything")
	}
	if len(e.calls) != 0 {
		t.Errorf("pop reached the engine: %v", e.calls)
	}
	if len(s.Events()) != 3 {
		t.Error("popping changed the sequence")
	}
}

func TestStreamLifecycle(t *testing.T) {
	s, e := openChannel(t, pianoPhrase(), Options{}, 0)

	if !s.IsFile() {
		t.Error("IsFile = false")
	}
	if s.State() != StateStreaming {
		t.Errorf("State = %v", s.State())
	}
	if c, err := s.Clone(); c != nil || !errors.Is(err, ErrUnsupportedOperation) {
		t.Errorf("Clone = %v, %v", c, err)
	}

	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close = %v", err)
	}
	if e.closes != 1 {
		t.Errorf("engine closed %d times", e.closes)
	}
	if s.State() != StateClosed {
		t.Errorf("State = %v", s.State())
	}
	if _, err := s.Read(make([]byte, 4)); !errors.Is(err, ErrClosed) {
		t.Errorf("Read after Close = %v", err)
	}
	if err := s.Skip(2); !errors.Is(err, ErrClosed) {
		t.Errorf("Skip after Close = %v", err)
	}
	if err := s.SeekTo(0); !errors.Is(err, ErrClosed) {
		t.Errorf("SeekTo after Close = %v", err)
	}
	if _, ok := s.PeekEvent(); ok {
		t.Error("PeekEvent after Close")
	}
}

func TestStreamUnreachableEventKind(t *testing.T) {
	tl, err := timeline.NewBuilder().Build()
	if err != nil {
		t.Fatal(err)
	}
	s := newStream(0, tl, timeline.NoEvent, &fakeEngine{}, Options{}, quiet())

	defer func() {
		r := recover()
		err, ok := r.(error)
		if !ok || !errors.Is(err, ErrUnreachableEventKind) {
			t.Errorf("recovered %v, want ErrUnreachableEventKind", r)
		}
	}()
	s.apply(0, timeline.Event{Kind: timeline.KindInvalid})
}

func TestStateString(t *testing.T) {
	for st, want := range map[State]string{
		StateIngesting: "ingesting",
		StateStreaming: "streaming",
		StateExhausted: "exhausted",
		StateClosed:    "closed",
		State(9):       "State(9)",
	} {
		if st.String() != want {
			t.Errorf("%d.String() = %q", int(st), st.String())
		}
	}
}
