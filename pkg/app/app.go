package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/zurustar/scorestream/pkg/cli"
	"github.com/zurustar/scorestream/pkg/fileutil"
	"github.com/zurustar/scorestream/pkg/logger"
	"github.com/zurustar/scorestream/pkg/score"
	"golang.org/x/exp/slices"
)

// Application はアプリケーションのメインロジックを管理する
type Application struct {
	config  *cli.Config
	log     *slog.Logger
	embedFS fs.FS
	stdout  io.Writer // レポートとTUIの出力先
	stderr  io.Writer // ログの出力先
}

// New Applicationを作成
// embedFSは soundfonts/ ディレクトリを含む埋め込みファイルシステム（nil可）
func New(embedFS fs.FS) *Application {
	return &Application{
		embedFS: embedFS,
		stdout:  os.Stdout,
		stderr:  os.Stderr,
	}
}

// Run アプリケーションを実行
// SIGINT/SIGTERMを受け取るとコンテキストがキャンセルされ、正常終了する
func (app *Application) Run(args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return cli.Execute(ctx, app, args)
}

// start ロガーを初期化し、タイムアウト付きのコンテキストを返す
func (app *Application) start(ctx context.Context, cfg *cli.Config) (context.Context, context.CancelFunc, error) {
	app.config = cfg
	if err := logger.InitLogger(cfg.LogLevel, cfg.LogFormat, app.stderr); err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	app.log = logger.GetLogger()

	app.log.Info("Application started", "command", cfg.Command, "midi", cfg.MIDIPath)

	if cfg.Timeout > 0 {
		ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		return ctx, cancel, nil
	}
	ctx, cancel := context.WithCancel(ctx)
	return ctx, cancel, nil
}

// finish 実行結果をログに残す
// タイムアウトとシグナルによる終了は正常終了として扱う
func (app *Application) finish(ctx context.Context, err error) error {
	if err != nil && !(ctx.Err() != nil && errors.Is(err, ctx.Err())) {
		return err
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		app.log.Info("Timeout reached, terminating")
	}
	app.log.Info("Application terminated normally")
	return nil
}

// locateSoundFont 指定されたSoundFont、なければ自動検出したSoundFontを返す
func (app *Application) locateSoundFont(cfg *cli.Config) *SoundFontLocation {
	if cfg.SoundFontPath != "" {
		return soundFontAt(cfg.SoundFontPath)
	}
	return findSoundFont(app.embedFS, filepath.Dir(cfg.MIDIPath))
}

// openScore MIDIファイルとSoundFontを読み込んでScoreを作成
func (app *Application) openScore(cfg *cli.Config) (*score.Score, error) {
	opts := score.Options{
		FileSystem: fileutil.NewRealFS(filepath.Dir(cfg.MIDIPath)),
		Logger:     app.log,
		SeekMode:   cfg.SeekMode,
		OffsetMode: cfg.OffsetMode,
	}

	bankPath := ""
	if loc := app.locateSoundFont(cfg); loc != nil {
		app.log.Info("SoundFont found", "path", loc.Path, "base", loc.FileSystem.BasePath(), "embedded", loc.IsEmbedded)
		opts.BankFileSystem = loc.FileSystem
		bankPath = loc.Path
	} else {
		app.log.Warn("SoundFont not found", "name", DefaultSoundFontName)
	}

	sc, err := score.Open(filepath.Base(cfg.MIDIPath), bankPath, opts)
	if err != nil {
		return nil, err
	}
	app.log.Info("Score opened",
		"channels", sc.Indices(),
		"seek_mode", cfg.SeekMode.String(),
		"offset_mode", cfg.OffsetMode.String())
	return sc, nil
}

// selectChannels 対象チャンネルのストリームをチャンネル番号順に返す
// channelsが空の場合は全チャンネル
func selectChannels(sc *score.Score, channels []int) ([]*score.Stream, error) {
	if len(channels) == 0 {
		channels = sc.Indices()
	} else {
		channels = slices.Clone(channels)
		slices.Sort(channels)
		channels = slices.Compact(channels)
	}

	streams := make([]*score.Stream, 0, len(channels))
	for _, ch := range channels {
		s, err := sc.Channel(ch)
		if err != nil {
			return nil, err
		}
		streams = append(streams, s)
	}
	return streams, nil
}
