// Package score partitions a MIDI file into per-channel PCM streams.
//
// A Score owns the event timeline and one Stream per channel that appears in
// the file. Each Stream drives its own synthesis engine and renders that
// channel alone, so a caller can mix, mute or serve channels independently.
package score

import (
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/zurustar/scorestream/pkg/logger"
	"github.com/zurustar/scorestream/pkg/synth"
	"github.com/zurustar/scorestream/pkg/timeline"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Score is a loaded MIDI file split into channel streams.
type Score struct {
	id      uuid.UUID
	tl      *timeline.Timeline
	streams map[int]*Stream
	log     *slog.Logger
	closed  bool
}

// Open loads midiPath and the SoundFont at bankPath and builds a Score with
// one engine per channel. Any failure is reported as ErrLoad and no Score
// is returned.
func Open(midiPath, bankPath string, opts Options) (*Score, error) {
	tl, err := timeline.LoadFS(opts.FileSystem, midiPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoad, err)
	}

	// a file without channel events needs no instruments
	if tl.Len() == 0 {
		return New(tl, nil, opts)
	}

	bankFS := opts.FileSystem
	if opts.BankFileSystem != nil {
		bankFS = opts.BankFileSystem
	}
	bank, err := synth.LoadBank(bankFS, bankPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoad, err)
	}
	return New(tl, bank, opts)
}

// New partitions tl into channel streams, creating one engine per channel
// from engines. The timeline is sealed afterwards and cannot back another
// Score.
func New(tl *timeline.Timeline, engines synth.Factory, opts Options) (*Score, error) {
	if tl.Sealed() {
		return nil, fmt.Errorf("%w: timeline already belongs to a score", ErrLoad)
	}

	id := uuid.New()
	log := logger.OrDefault(opts.Logger).With("score", id.String())

	streams := make(map[int]*Stream)
	fail := func(err error) (*Score, error) {
		for _, s := range streams {
			s.Close()
		}
		return nil, err
	}

	for i := 0; i < tl.Len(); i++ {
		eid := timeline.EventID(i)
		ch := int(tl.Event(eid).Channel)

		if s, ok := streams[ch]; ok {
			s.push(eid)
			continue
		}

		if engines == nil {
			return fail(fmt.Errorf("%w: no instrument bank for channel %d", ErrLoad, ch))
		}
		engine, err := engines.NewEngine()
		if err != nil {
			return fail(fmt.Errorf("%w: channel %d: %w", ErrLoad, ch, err))
		}
		streams[ch] = newStream(ch, tl, eid, engine, opts, log)
	}

	for _, s := range streams {
		s.finishIngest()
	}
	tl.Seal()

	meta := tl.Metadata()
	log.Info("score loaded",
		"source", meta.Source,
		"channels", len(streams),
		"events", tl.Len(),
		"skipped", meta.Skipped,
		"duration", tl.Duration())

	return &Score{id: id, tl: tl, streams: streams, log: log}, nil
}

// ID returns the identifier attached to this score's log records.
func (sc *Score) ID() uuid.UUID { return sc.id }

// Timeline returns the shared event timeline.
func (sc *Score) Timeline() *timeline.Timeline { return sc.tl }

// Metadata returns the file metadata of the timeline.
func (sc *Score) Metadata() timeline.Metadata {
	if sc.tl == nil {
		return timeline.Metadata{}
	}
	return sc.tl.Metadata()
}

// Channel returns the stream for a MIDI channel.
func (sc *Score) Channel(index int) (*Stream, error) {
	if sc.closed {
		return nil, ErrClosed
	}
	s, ok := sc.streams[index]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, index)
	}
	return s, nil
}

// Channels returns a snapshot of the channel streams keyed by channel.
func (sc *Score) Channels() map[int]*Stream {
	out := make(map[int]*Stream, len(sc.streams))
	for ch, s := range sc.streams {
		out[ch] = s
	}
	return out
}

// Indices returns the channels present in the file in ascending order.
func (sc *Score) Indices() []int {
	idx := maps.Keys(sc.streams)
	slices.Sort(idx)
	return idx
}

// Close closes every stream and releases the timeline. Closing twice is a
// no-op.
func (sc *Score) Close() error {
	if sc.closed {
		return nil
	}
	sc.closed = true
	for _, s := range sc.streams {
		s.Close()
	}
	sc.streams = nil
	sc.tl = nil
	sc.log.Debug("score closed")
	return nil
}
