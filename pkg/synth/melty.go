package synth

import (
	"github.com/sinshu/go-meltysynth/meltysynth"
)

// MIDI status bytes understood by meltysynth's ProcessMidiMessage.
const (
	statusControlChange = 0xB0
	statusProgramChange = 0xC0
	statusPitchBend     = 0xE0

	ccBankSelect = 0x00
)

// melty drives one meltysynth.Synthesizer and mixes its stereo output down
// to mono.
type melty struct {
	s           *meltysynth.Synthesizer
	left, right []float32
}

func newMelty(s *meltysynth.Synthesizer) *melty {
	return &melty{
		s:     s,
		left:  make([]float32, ChunkSize),
		right: make([]float32, ChunkSize),
	}
}

func (m *melty) SetProgram(channel, program int, drums bool) {
	if drums {
		// the percussion flag lives in the bank number; meltysynth offsets
		// the drum channel's bank by 128 itself
		m.s.ProcessMidiMessage(int32(channel), statusControlChange, ccBankSelect, 0)
	}
	m.s.ProcessMidiMessage(int32(channel), statusProgramChange, int32(program), 0)
}

func (m *melty) NoteOn(channel, key int, velocity float32) {
	v := int32(clamp(velocity, 0, 1)*127 + 0.5)
	if v == 0 {
		m.s.NoteOff(int32(channel), int32(key))
		return
	}
	m.s.NoteOn(int32(channel), int32(key), v)
}

func (m *melty) NoteOff(channel, key int) {
	m.s.NoteOff(int32(channel), int32(key))
}

func (m *melty) SetPitchWheel(channel, value int) {
	if value < 0 {
		value = 0
	} else if value > 0x3FFF {
		value = 0x3FFF
	}
	m.s.ProcessMidiMessage(int32(channel), statusPitchBend, int32(value&0x7F), int32(value>>7))
}

func (m *melty) MidiControl(channel, controller, value int) {
	m.s.ProcessMidiMessage(int32(channel), statusControlChange, int32(controller), int32(value))
}

func (m *melty) Reset() {
	m.s.Reset()
}

func (m *melty) Render(out []int16) {
	for len(out) > 0 {
		n := min(len(out), len(m.left))
		left, right := m.left[:n], m.right[:n]
		m.s.Render(left, right)
		mixDown(out[:n], left, right)
		out = out[n:]
	}
}

func (m *melty) Close() {
	m.s = nil
	m.left, m.right = nil, nil
}

// mixDown averages left and right into 16-bit mono.
func mixDown(out []int16, left, right []float32) {
	for i := range out {
		out[i] = int16(clamp((left[i]+right[i])/2, -1, 1) * 32767)
	}
}

// clamp restricts a value to the range [min, max].
func clamp(v, min, max float32) float32 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
