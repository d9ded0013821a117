package timeline

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/zurustar/scorestream/pkg/fileutil"
	"gitlab.com/gomidi/midi/v2/smf"
)

var (
	// ErrMIDIFileNotFound is returned when the MIDI file cannot be found.
	ErrMIDIFileNotFound = errors.New("MIDI file not found")

	// ErrInvalidFormat is returned when the MIDI file cannot be parsed.
	ErrInvalidFormat = errors.New("invalid MIDI file format")
)

// defaultBPM applies until the first tempo meta event.
const defaultBPM = 120.0

// Load reads and parses a Standard MIDI File from the host file system.
func Load(path string) (*Timeline, error) {
	return LoadFS(nil, path)
}

// LoadFS reads and parses a Standard MIDI File through fsys. A nil fsys reads
// from the host file system.
func LoadFS(fsys fileutil.FileSystem, path string) (*Timeline, error) {
	var data []byte
	var err error
	if fsys == nil {
		data, err = os.ReadFile(path)
	} else {
		data, err = fsys.ReadFile(path)
	}
	if err != nil {
		if fileutil.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrMIDIFileNotFound, path)
		}
		return nil, fmt.Errorf("failed to read MIDI file: %w", err)
	}

	tl, err := Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	tl.meta.Source = path
	return tl, nil
}

// Parse reads a Standard MIDI File and returns its channel events in global
// time order. Tracks are merged by absolute tick; events on the same tick keep
// track order. Note-on with zero velocity becomes a note-off.
func Parse(r io.Reader) (tl *Timeline, err error) {
	// the smf reader panics on some truncated files
	defer func() {
		if rec := recover(); rec != nil {
			tl = nil
			err = fmt.Errorf("%w: %v", ErrInvalidFormat, rec)
		}
	}()

	mid, err := smf.ReadFrom(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}

	clk, err := newClock(mid.TimeFormat)
	if err != nil {
		return nil, err
	}

	b := NewBuilder()
	b.meta.Tracks = len(mid.Tracks)
	b.meta.TrackNames = make([]string, len(mid.Tracks))
	if mid.TimeFormat != nil {
		b.meta.TimeFormat = mid.TimeFormat.String()
	}

	mergeTracks(mid, func(track int, absTicks int64, msg smf.Message) {
		at := clk.at(absTicks)

		if ev, ok := convert(msg, at); ok {
			b.Add(ev)
			return
		}
		b.meta.Skipped++

		var bpm float64
		var name string
		switch {
		case msg.GetMetaTempo(&bpm):
			clk.setTempo(bpm)
			b.meta.Tempos = append(b.meta.Tempos, Tempo{Time: at, BPM: bpm})
		case msg.GetMetaTrackName(&name):
			if b.meta.TrackNames[track] == "" {
				b.meta.TrackNames[track] = decodeText(name)
			}
		}
	})

	return b.Build()
}

func convert(msg smf.Message, at time.Duration) (Event, bool) {
	var ch, key, vel, program, controller, value uint8
	var rel int16
	var abs uint16

	switch {
	case msg.GetNoteStart(&ch, &key, &vel):
		return NoteOn(ch, at, key, vel), true
	case msg.GetNoteEnd(&ch, &key):
		return NoteOff(ch, at, key), true
	case msg.GetProgramChange(&ch, &program):
		return ProgramChange(ch, at, program), true
	case msg.GetPitchBend(&ch, &rel, &abs):
		return PitchBend(ch, at, abs), true
	case msg.GetControlChange(&ch, &controller, &value):
		return ControlChange(ch, at, controller, value), true
	}
	return Event{}, false
}

// mergeTracks visits every message of every track in absolute tick order.
func mergeTracks(mid *smf.SMF, yield func(track int, absTicks int64, msg smf.Message)) {
	// pos is the index of the next event of each track, ticks the absolute
	// tick of the last visited one.
	pos := make([]int, len(mid.Tracks))
	ticks := make([]int64, len(mid.Tracks))

	for {
		earliest := -1
		var earliestTick int64
		for i, tr := range mid.Tracks {
			if pos[i] >= len(tr) {
				continue
			}
			t := ticks[i] + int64(tr[pos[i]].Delta)
			if earliest < 0 || t < earliestTick {
				earliest, earliestTick = i, t
			}
		}
		if earliest < 0 {
			return
		}

		msg := mid.Tracks[earliest][pos[earliest]].Message
		if !msg.Is(smf.MetaEndOfTrackMsg) {
			yield(earliest, earliestTick, msg)
		}
		pos[earliest]++
		ticks[earliest] = earliestTick
	}
}

// clock converts absolute ticks to time. It must be fed non-decreasing ticks,
// which mergeTracks guarantees, so tempo changes apply from their own tick on.
type clock struct {
	ppq       float64
	perTickUS float64
	fixed     bool

	lastTick int64
	lastUS   float64
}

func newClock(tf smf.TimeFormat) (*clock, error) {
	switch f := tf.(type) {
	case smf.MetricTicks:
		if f == 0 {
			return nil, fmt.Errorf("%w: zero ticks per quarter note", ErrInvalidFormat)
		}
		c := &clock{ppq: float64(f)}
		c.setTempo(defaultBPM)
		return c, nil
	case smf.TimeCode:
		perSecond := float64(f.FramesPerSecond) * float64(f.SubFrames)
		if perSecond == 0 {
			return nil, fmt.Errorf("%w: zero SMPTE resolution", ErrInvalidFormat)
		}
		return &clock{perTickUS: 1e6 / perSecond, fixed: true}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported time format %v", ErrInvalidFormat, tf)
	}
}

func (c *clock) setTempo(bpm float64) {
	if c.fixed || bpm <= 0 {
		return
	}
	c.perTickUS = 60e6 / bpm / c.ppq
}

func (c *clock) at(absTicks int64) time.Duration {
	c.lastUS += float64(absTicks-c.lastTick) * c.perTickUS
	c.lastTick = absTicks
	return time.Duration(math.Round(c.lastUS * float64(time.Microsecond)))
}
