// Package synth defines the synthesis engine a channel stream drives and
// provides the go-meltysynth implementation of it.
package synth

import "time"

const (
	// SampleRate is the output rate of every engine.
	SampleRate = 44100

	// SampleSize is the size in bytes of one 16-bit mono sample.
	SampleSize = 2

	// ChunkSize is the nominal render size in samples.
	ChunkSize = 512

	// PercussionChannel is the General MIDI drum channel (zero-based).
	PercussionChannel = 9
)

// Engine renders one mono PCM stream from channel messages. An Engine holds
// mutable voice state: it has exactly one owner and is not safe for
// concurrent use.
type Engine interface {
	// SetProgram selects the preset for channel. drums selects the
	// percussion bank.
	SetProgram(channel, program int, drums bool)
	// NoteOn starts a voice. velocity is normalised to [0, 1].
	NoteOn(channel, key int, velocity float32)
	NoteOff(channel, key int)
	// SetPitchWheel sets the 14-bit pitch wheel, 8192 being the centre.
	SetPitchWheel(channel, value int)
	MidiControl(channel, controller, value int)
	// Reset silences every voice and restores every channel to its
	// power-on state.
	Reset()
	// Render fills out with the next len(out) samples.
	Render(out []int16)
	// Close releases the engine. The engine must not be used afterwards.
	Close()
}

// Factory creates engines that share one instrument bank.
type Factory interface {
	NewEngine() (Engine, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func() (Engine, error)

func (f FactoryFunc) NewEngine() (Engine, error) { return f() }

// Duration returns the playing time of n samples at SampleRate.
func Duration(samples int64) time.Duration {
	return time.Duration(samples * int64(time.Second) / SampleRate)
}

// Samples returns the number of whole samples that fit in d.
func Samples(d time.Duration) int64 {
	return int64(d) * SampleRate / int64(time.Second)
}
