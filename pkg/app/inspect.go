package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/zurustar/scorestream/pkg/cli"
	"github.com/zurustar/scorestream/pkg/score"
	"github.com/zurustar/scorestream/pkg/synth"
	"github.com/zurustar/scorestream/pkg/timeline"
	"golang.org/x/exp/slices"
)

// channelReport はinspectでの1チャンネル分の解析結果
type channelReport struct {
	Channel  int
	Events   int
	Programs []int
	First    time.Duration
	Last     time.Duration
	Rendered time.Duration
	Peak     int
	RMS      float64
}

// Inspect 各チャンネルをレンダリングしてレベルを表示する
func (app *Application) Inspect(ctx context.Context, cfg *cli.Config) error {
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

	length := cfg.RenderFor
	if length == 0 {
		length = sc.Timeline().Duration() + releaseTail
	}

	reports, err := analyzeAll(ctx, streams, length)
	if err != nil {
		return app.finish(ctx, err)
	}
	writeReport(app.stdout, sc.Metadata(), sc.Timeline().Duration(), reports)
	return app.finish(ctx, nil)
}

// analyzeAll はストリームごとに別のgoroutineでレンダリングする
// ストリーム同士は状態を共有しない
func analyzeAll(ctx context.Context, streams []*score.Stream, length time.Duration) ([]channelReport, error) {
	reports := make([]channelReport, len(streams))
	errs := make([]error, len(streams))

	var wg sync.WaitGroup
	for i, s := range streams {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reports[i], errs[i] = analyze(ctx, s, length)
		}()
	}
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return reports, nil
}

// analyze はsのイベントを集計し、lengthぶんレンダリングしてレベルを測る
func analyze(ctx context.Context, s *score.Stream, length time.Duration) (channelReport, error) {
	r := channelReport{Channel: s.Channel()}

	events := s.Events()
	r.Events = len(events)
	if len(events) > 0 {
		r.First = events[0].Time
		r.Last = events[len(events)-1].Time
	}
	for _, ev := range events {
		if ev.Kind == timeline.KindProgramChange && !slices.Contains(r.Programs, int(ev.Program)) {
			r.Programs = append(r.Programs, int(ev.Program))
		}
	}

	total := synth.Samples(length) * synth.SampleSize
	buf := make([]byte, synth.ChunkSize*synth.SampleSize)
	var lv levels
	for read := int64(0); read < total; {
		if err := ctx.Err(); err != nil {
			return r, err
		}
		p := buf[:min(int64(len(buf)), total-read)]
		n, err := s.Read(p)
		if err != nil {
			return r, fmt.Errorf("channel %d: %w", s.Channel(), err)
		}
		lv.add(p[:n])
		read += int64(n)
	}
	r.Peak, r.RMS = lv.peak, lv.rms()
	r.Rendered = synth.Duration(lv.count)
	return r, nil
}

// levels はPCMのピークと二乗和を積算する
type levels struct {
	peak  int
	sumSq float64
	count int64
}

func (l *levels) add(pcm []byte) {
	for i := 0; i+1 < len(pcm); i += synth.SampleSize {
		v := int(int16(uint16(pcm[i]) | uint16(pcm[i+1])<<8))
		if v < 0 {
			v = -v
		}
		l.peak = max(l.peak, v)
		l.sumSq += float64(v) * float64(v)
		l.count++
	}
}

func (l *levels) rms() float64 {
	if l.count == 0 {
		return 0
	}
	return math.Sqrt(l.sumSq / float64(l.count))
}

// dBFS はサンプル値をフルスケール基準のdBで表す
func dBFS(v float64) string {
	if v <= 0 {
		return "-inf"
	}
	return fmt.Sprintf("%.1f", 20*math.Log10(v/32768))
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Width(10)
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	drumStyle   = cellStyle.Foreground(lipgloss.Color("208"))
)

// writeReport はメタデータとチャンネルごとの解析結果を表示する
func writeReport(w io.Writer, meta timeline.Metadata, duration time.Duration, reports []channelReport) {
	var out strings.Builder
	out.WriteString(titleStyle.Render(meta.Source))
	out.WriteString("\n")

	field := func(label, value string) {
		out.WriteString(labelStyle.Render(label))
		out.WriteString(value)
		out.WriteString("\n")
	}
	field("format", meta.TimeFormat)
	field("tracks", strconv.Itoa(meta.Tracks))
	for i, name := range meta.TrackNames {
		if name != "" {
			field(fmt.Sprintf("  #%d", i), name)
		}
	}
	for _, t := range meta.Tempos {
		field("tempo", fmt.Sprintf("%.2f bpm @ %v", t.BPM, t.Time))
	}
	field("events", fmt.Sprintf("%d (%d skipped)", meta.Events, meta.Skipped))
	field("duration", duration.String())
	field("channels", strconv.Itoa(len(reports)))

	if len(reports) > 0 {
		rows := make([][]string, 0, len(reports))
		for _, r := range reports {
			rows = append(rows, []string{
				strconv.Itoa(r.Channel),
				kindName(r.Channel),
				strconv.Itoa(r.Events),
				formatPrograms(r.Programs),
				r.First.String(),
				r.Last.String(),
				r.Rendered.String(),
				dBFS(float64(r.Peak)),
				dBFS(r.RMS),
			})
		}
		t := table.New().
			Border(lipgloss.NormalBorder()).
			Headers("ch", "kind", "events", "programs", "first", "last", "rendered", "peak dBFS", "rms dBFS").
			Rows(rows...).
			StyleFunc(func(row, col int) lipgloss.Style {
				switch {
				case row == table.HeaderRow:
					return headerStyle
				case row >= 0 && row < len(reports) && reports[row].Channel == synth.PercussionChannel:
					return drumStyle
				default:
					return cellStyle
				}
			})
		out.WriteString("\n")
		out.WriteString(t.String())
		out.WriteString("\n")
	}

	io.WriteString(w, out.String())
}

func kindName(ch int) string {
	if ch == synth.PercussionChannel {
		return "drums"
	}
	return "melodic"
}

func formatPrograms(programs []int) string {
	if len(programs) == 0 {
		return "-"
	}
	s := make([]string, len(programs))
	for i, p := range programs {
		s[i] = strconv.Itoa(p)
	}
	return strings.Join(s, ",")
}
