package playback

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hajimehoshi/ebiten/v2/audio"
	"github.com/zurustar/scorestream/pkg/logger"
	"github.com/zurustar/scorestream/pkg/synth"
)

// ErrOutputClosed is returned by Attach after Close.
var ErrOutputClosed = errors.New("audio output closed")

// Output owns one Ebitengine player per attached channel. Ebitengine mixes
// the players.
type Output struct {
	ctx    *audio.Context
	voices []*Voice
	muted  bool
	paused bool
	closed bool
	log    *slog.Logger

	mu sync.Mutex
}

// NewOutput creates an output on ctx. A nil ctx reuses the process-wide
// context, creating it at synth.SampleRate if there is none yet.
func NewOutput(ctx *audio.Context, log *slog.Logger) (*Output, error) {
	if ctx == nil {
		ctx = audio.CurrentContext()
	}
	if ctx == nil {
		ctx = audio.NewContext(synth.SampleRate)
	}
	if ctx.SampleRate() != synth.SampleRate {
		return nil, fmt.Errorf("audio context runs at %d Hz, streams render at %d Hz", ctx.SampleRate(), synth.SampleRate)
	}
	return &Output{ctx: ctx, log: logger.OrDefault(log)}, nil
}

// Attach creates a paused voice playing src for channel.
func (o *Output) Attach(channel int, src Source) (*Voice, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return nil, ErrOutputClosed
	}

	stereo := NewStereo(src)
	player, err := o.ctx.NewPlayer(stereo)
	if err != nil {
		return nil, fmt.Errorf("failed to create audio player: %w", err)
	}

	v := &Voice{channel: channel, player: player, stereo: stereo, volume: 1, muted: o.muted}
	if v.muted {
		player.SetVolume(0)
	}
	o.voices = append(o.voices, v)
	o.log.Debug("voice attached", "channel", channel)
	return v, nil
}

// Voices returns the attached voices in attach order.
func (o *Output) Voices() []*Voice {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*Voice(nil), o.voices...)
}

// SetMuted silences every voice, current and future, without stopping them.
func (o *Output) SetMuted(muted bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.muted = muted
	for _, v := range o.voices {
		v.setMuted(muted)
	}
}

// IsMuted returns whether the output is muted.
func (o *Output) IsMuted() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.muted
}

// Play starts every voice.
func (o *Output) Play() {
	o.SetPaused(false)
}

// SetPaused pauses or resumes every attached voice together.
func (o *Output) SetPaused(paused bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.paused = paused
	for _, v := range o.voices {
		if paused {
			v.Pause()
		} else {
			v.Play()
		}
	}
	o.log.Debug("output paused", "paused", paused, "voices", len(o.voices))
}

// IsPaused reports whether the voices were paused with SetPaused.
func (o *Output) IsPaused() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.paused
}

// Close stops and releases every voice. The sources are not closed.
func (o *Output) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return nil
	}
	o.closed = true

	var errs []error
	for _, v := range o.voices {
		if err := v.Close(); err != nil {
			errs = append(errs, fmt.Errorf("channel %d: %w", v.channel, err))
		}
	}
	o.voices = nil
	return errors.Join(errs...)
}

// Voice is one channel being played.
type Voice struct {
	channel int
	player  *audio.Player
	stereo  *Stereo

	volume float64
	muted  bool
	mu     sync.Mutex
}

// Channel returns the MIDI channel the voice plays.
func (v *Voice) Channel() int { return v.channel }

func (v *Voice) Play() { v.player.Play() }

func (v *Voice) Pause() { v.player.Pause() }

// IsPlaying reports whether the player is running.
func (v *Voice) IsPlaying() bool { return v.player.IsPlaying() }

// SetVolume sets the voice volume in [0, 1]. A muted voice remembers it
// and stays silent until unmuted.
func (v *Voice) SetVolume(volume float64) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.volume = min(max(volume, 0), 1)
	if !v.muted {
		v.player.SetVolume(v.volume)
	}
}

func (v *Voice) setMuted(muted bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.muted = muted
	if muted {
		v.player.SetVolume(0)
	} else {
		v.player.SetVolume(v.volume)
	}
}

// Position returns how much of the channel has been heard.
func (v *Voice) Position() time.Duration { return v.player.Position() }

// Done reports whether the channel has no events left.
func (v *Voice) Done() bool { return v.stereo.EOF() }

// Close stops the voice. Further reads by the player return silence.
func (v *Voice) Close() error {
	v.stereo.Stop()
	return v.player.Close()
}
