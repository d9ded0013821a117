package score

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/zurustar/scorestream/pkg/synth"
	"github.com/zurustar/scorestream/pkg/timeline"
)

// call is one recorded engine invocation.
type call struct {
	op  string
	ch  int
	a   int
	b   int
	vel float32
}

func (c call) String() string {
	return fmt.Sprintf("%s(ch=%d a=%d b=%d vel=%.3f)", c.op, c.ch, c.a, c.b, c.vel)
}

// fakeEngine records every call and renders a constant sample value.
type fakeEngine struct {
	calls  []call
	fill   int16
	closes int
}

func (f *fakeEngine) SetProgram(channel, program int, drums bool) {
	b := 0
	if drums {
		b = 1
	}
	f.calls = append(f.calls, call{op: "program", ch: channel, a: program, b: b})
}

func (f *fakeEngine) NoteOn(channel, key int, velocity float32) {
	f.calls = append(f.calls, call{op: "noteon", ch: channel, a: key, vel: velocity})
}

func (f *fakeEngine) NoteOff(channel, key int) {
	f.calls = append(f.calls, call{op: "noteoff", ch: channel, a: key})
}

func (f *fakeEngine) SetPitchWheel(channel, value int) {
	f.calls = append(f.calls, call{op: "pitch", ch: channel, a: value})
}

func (f *fakeEngine) MidiControl(channel, controller, value int) {
	f.calls = append(f.calls, call{op: "cc", ch: channel, a: controller, b: value})
}

func (f *fakeEngine) Reset() {
	f.calls = append(f.calls, call{op: "reset"})
}

func (f *fakeEngine) Render(out []int16) {
	f.calls = append(f.calls, call{op: "render", a: len(out)})
	for i := range out {
		out[i] = f.fill
	}
}

func (f *fakeEngine) Close() { f.closes++ }

// applied returns the recorded calls without renders.
func (f *fakeEngine) applied() []call {
	var out []call
	for _, c := range f.calls {
		if c.op != "render" {
			out = append(out, c)
		}
	}
	return out
}

// fakeFactory hands out fakeEngines and fails on request number failAt
// (1-based) when failAt is set.
type fakeFactory struct {
	engines []*fakeEngine
	failAt  int
}

var errEngine = errors.New("engine unavailable")

func (f *fakeFactory) NewEngine() (synth.Engine, error) {
	if f.failAt > 0 && len(f.engines)+1 == f.failAt {
		return nil, errEngine
	}
	e := &fakeEngine{}
	f.engines = append(f.engines, e)
	return e, nil
}

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// buildScore builds a Score over events with fake engines.
func buildScore(events []timeline.Event, opts Options) (*Score, *fakeFactory, error) {
	b := timeline.NewBuilder()
	for _, ev := range events {
		b.Add(ev)
	}
	tl, err := b.Build()
	if err != nil {
		return nil, nil, err
	}
	if opts.Logger == nil {
		opts.Logger = quiet()
	}
	f := &fakeFactory{}
	sc, err := New(tl, f, opts)
	return sc, f, err
}

// bytesFor returns the stream offset of d.
func bytesFor(d time.Duration) int64 {
	return synth.Samples(d) * synth.SampleSize
}

// pianoPhrase is program 5, note 60 on at 0 and off at 500ms on channel 0.
func pianoPhrase() []timeline.Event {
	return []timeline.Event{
		timeline.ProgramChange(0, 0, 5),
		timeline.NoteOn(0, 0, 60, 100),
		timeline.NoteOff(0, 500*time.Millisecond, 60),
	}
}
