// Package smftest writes small Standard MIDI Files for tests.
package smftest

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"gitlab.com/gomidi/midi/v2/smf"
)

// Resolution is the ticks per quarter note of every file written here. At the
// default 120 BPM one quarter note (Resolution ticks) lasts 500ms.
const Resolution = 960

// Step is one track event: a delta in ticks and a raw message built with the
// gomidi constructors (midi.NoteOn, smf.MetaTempo, ...).
type Step struct {
	Delta uint32
	Msg   []byte
}

// At is shorthand for a Step.
func At(delta uint32, msg []byte) Step {
	return Step{Delta: delta, Msg: msg}
}

// Bytes encodes the tracks as an SMF with Resolution ticks per quarter note.
func Bytes(tb testing.TB, tracks ...[]Step) []byte {
	tb.Helper()

	s := smf.New()
	s.TimeFormat = smf.MetricTicks(Resolution)
	for i, steps := range tracks {
		var tr smf.Track
		for _, st := range steps {
			tr.Add(st.Delta, st.Msg)
		}
		tr.Close(0)
		if err := s.Add(tr); err != nil {
			tb.Fatalf("smftest: add track %d: %v", i, err)
		}
	}

	var buf bytes.Buffer
	if _, err := s.WriteTo(&buf); err != nil {
		tb.Fatalf("smftest: write: %v", err)
	}
	return buf.Bytes()
}

// WriteFile writes the tracks to dir/name and returns the path.
func WriteFile(tb testing.TB, dir, name string, tracks ...[]Step) string {
	tb.Helper()

	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, Bytes(tb, tracks...), 0644); err != nil {
		tb.Fatalf("smftest: %v", err)
	}
	return p
}
