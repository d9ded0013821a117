// Package playback plays channel streams through Ebitengine's audio
// context, one player per channel.
package playback

import (
	"encoding/binary"
	"io"
	"sync"
	"sync/atomic"

	"github.com/zurustar/scorestream/pkg/synth"
)

// frameSize is one 16-bit stereo frame, the format Ebitengine players read.
const frameSize = 2 * synth.SampleSize

// Source is a mono 16-bit PCM stream that knows when its events ran out.
// *score.Stream implements it.
type Source interface {
	io.ReadSeeker
	EOF() bool
}

// Stereo adapts a mono Source to interleaved 16-bit stereo by copying every
// sample to both sides. Offsets seen by callers are stereo byte offsets.
type Stereo struct {
	src  Source
	mono []byte

	stopped bool
	mu      sync.Mutex

	// eof mirrors src.EOF() after every read, for goroutines other than the
	// player's reader.
	eof atomic.Bool
}

// NewStereo wraps src.
func NewStereo(src Source) *Stereo {
	s := &Stereo{src: src}
	s.eof.Store(src.EOF())
	return s
}

// Read implements io.Reader. After Stop it returns silence.
func (s *Stereo) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		for i := range p {
			p[i] = 0
		}
		return len(p), nil
	}

	frames := len(p) / frameSize
	if frames == 0 {
		return 0, nil
	}

	need := frames * synth.SampleSize
	if cap(s.mono) < need {
		s.mono = make([]byte, need)
	}
	mono := s.mono[:need]

	n, err := s.src.Read(mono)
	s.eof.Store(s.src.EOF())
	got := n / synth.SampleSize
	for i := 0; i < got; i++ {
		v := binary.LittleEndian.Uint16(mono[i*synth.SampleSize:])
		binary.LittleEndian.PutUint16(p[i*frameSize:], v)
		binary.LittleEndian.PutUint16(p[i*frameSize+synth.SampleSize:], v)
	}
	return got * frameSize, err
}

// Seek implements io.Seeker in stereo byte offsets.
func (s *Stereo) Seek(offset int64, whence int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, err := s.src.Seek(offset/2, whence)
	s.eof.Store(s.src.EOF())
	return pos * 2, err
}

// EOF reports whether the source has no events left. Safe to call from any
// goroutine.
func (s *Stereo) EOF() bool { return s.eof.Load() }

// Stop makes further reads return silence without touching the source.
func (s *Stereo) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
}
