package app

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/zurustar/scorestream/pkg/cli"
	"github.com/zurustar/scorestream/pkg/monitor"
	"github.com/zurustar/scorestream/pkg/playback"
	"github.com/zurustar/scorestream/pkg/score"
	"github.com/zurustar/scorestream/pkg/synth"
)

const (
	// headlessTick はヘッドレス再生で1回にレンダリングする長さ
	headlessTick = 100 * time.Millisecond

	// releaseTail は最後のイベントの後、音の減衰を待つ時間
	releaseTail = time.Second
)

// Play 選択したチャンネルをミックスして再生する
func (app *Application) Play(ctx context.Context, cfg *cli.Config) error {
	ctx, cancel, err := app.start(ctx, cfg)
	if err != nil {
		return err
	}
	defer cancel()

	sc, err := app.openScore(cfg)
	if err != nil {
		return err
	}
	defer sc.Close()

	streams, err := selectChannels(sc, cfg.Channels)
	if err != nil {
		return err
	}

	// 再生開始位置へシーク
	if cfg.StartAt > 0 {
		pos := synth.Samples(cfg.StartAt) * synth.SampleSize
		for _, s := range streams {
			if _, err := s.Seek(pos, io.SeekStart); err != nil {
				return fmt.Errorf("failed to seek channel %d: %w", s.Channel(), err)
			}
		}
		app.log.Info("Seeked to start position", "start_at", cfg.StartAt)
	}

	// ヘッドレスモードの場合はオーディオデバイスを使わない
	if cfg.Headless {
		app.log.Info("Headless mode: rendering without audio output", "channels", len(streams))
		return app.finish(ctx, renderRealtime(ctx, streams, headlessTick))
	}

	return app.finish(ctx, app.playAudio(ctx, cfg, sc, streams))
}

// playAudio Ebitengineのプレイヤーでストリームを再生する
func (app *Application) playAudio(ctx context.Context, cfg *cli.Config, sc *score.Score, streams []*score.Stream) error {
	out, err := playback.NewOutput(nil, app.log)
	if err != nil {
		return err
	}
	defer out.Close()

	for _, s := range streams {
		v, err := out.Attach(s.Channel(), s)
		if err != nil {
			return err
		}
		v.SetVolume(cfg.Volume)
	}
	voices := out.Voices()
	sources := make([]monitor.Source, len(voices))
	for i, v := range voices {
		sources[i] = v
	}
	out.Play()
	app.log.Info("Playback started", "channels", len(sources), "volume", cfg.Volume)

	if cfg.TUI {
		m := monitor.NewModel(filepath.Base(cfg.MIDIPath), sc.Timeline().Duration(), sources)
		m.Controls = out
		final, err := monitor.Run(ctx, m, nil, app.stdout, true)
		if err != nil {
			return err
		}
		if !final.Finished() {
			app.log.Info("Playback stopped by user")
			return nil
		}
		return sleep(ctx, releaseTail)
	}

	return waitDone(ctx, sources, monitor.DefaultInterval)
}

// waitDone 全ソースのイベントが尽き、減衰が終わるまで待つ
func waitDone(ctx context.Context, sources []monitor.Source, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		done := true
		for _, s := range sources {
			if !s.Done() {
				done = false
				break
			}
		}
		if done {
			return sleep(ctx, releaseTail)
		}
	}
}

// renderRealtime tickごとにtick分のPCMを各ストリームからレンダリングする
// 全ストリームがEOFになると終了する
func renderRealtime(ctx context.Context, streams []*score.Stream, tick time.Duration) error {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	buf := make([]byte, synth.Samples(tick)*synth.SampleSize)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		done := true
		for _, s := range streams {
			if _, err := s.Read(buf); err != nil {
				return fmt.Errorf("channel %d: %w", s.Channel(), err)
			}
			if !s.EOF() {
				done = false
			}
		}
		if done {
			return nil
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
