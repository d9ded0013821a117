package cli

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/zurustar/scorestream/pkg/score"
)

// サブコマンド名
const (
	CommandPlay    = "play"
	CommandInspect = "inspect"
	CommandServe   = "serve"
)

// DefaultAddr は serve の待ち受けアドレスのデフォルト値
const DefaultAddr = "127.0.0.1:8080"

// Config はコマンドライン引数から解析された設定を保持する
type Config struct {
	Command       string           // 実行するサブコマンド（play, inspect, serve）
	MIDIPath      string           // MIDIファイルのパス
	SoundFontPath string           // SoundFontのパス（空の場合は自動検出）
	Timeout       time.Duration    // タイムアウト時間（0は無制限）
	LogLevel      string           // ログレベル（debug, info, warn, error）
	LogFormat     string           // ログ形式（text, json）
	Headless      bool             // ヘッドレスモード（オーディオデバイスを使わない）
	Channels      []int            // 対象チャンネル（空は全チャンネル）
	Volume        float64          // 音量（0.0〜1.0）
	TUI           bool             // 再生中にチャンネル一覧を表示する
	StartAt       time.Duration    // 再生開始位置
	RenderFor     time.Duration    // inspect でレンダリングする長さ（0は曲の長さ）
	Addr          string           // serve の待ち受けアドレス
	CORSOrigins   []string         // CORSを許可するオリジン
	SeekMode      score.SeekMode   // シーク方式
	OffsetMode    score.OffsetMode // オフセットの進め方
}

// Runner はサブコマンドの実処理を行う
type Runner interface {
	Play(ctx context.Context, cfg *Config) error
	Inspect(ctx context.Context, cfg *Config) error
	Serve(ctx context.Context, cfg *Config) error
}

// flagValues は文字列や秒数で受け取り、検証後にConfigへ変換するフラグ
// volume と addr はそのフラグを持つサブコマンドのときだけConfigへ写す
type flagValues struct {
	timeoutSec int
	seekMode   string
	offsetMode string
	volume     float64
	addr       string
}

// NewRootCommand はサブコマンドを登録したルートコマンドを返す
// 解析結果のConfigはRunnerの各メソッドに渡される
func NewRootCommand(r Runner) *cobra.Command {
	config := &Config{}
	raw := &flagValues{}

	root := &cobra.Command{
		Use:   "scorestream",
		Short: "MIDIファイルをチャンネルごとのPCMストリームとして再生・解析・配信する",
		Long: `scorestream はMIDIファイルをチャンネルごとに分割し、
チャンネル単位でSoundFont音源によるPCMを生成します。`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			config.Command = cmd.Name()
			applyEnv(cmd.Flags(), config, raw)
			return finish(cmd.Flags(), config, raw)
		},
	}

	pf := root.PersistentFlags()
	pf.IntVarP(&raw.timeoutSec, "timeout", "t", 0, "タイムアウト時間（秒）")
	pf.StringVarP(&config.LogLevel, "log-level", "l", "info", "ログレベル（debug, info, warn, error）")
	pf.StringVar(&config.LogFormat, "log-format", "text", "ログ形式（text, json）")
	pf.StringVarP(&config.SoundFontPath, "soundfont", "s", "", "SoundFontファイルのパス（省略時は自動検出）")
	pf.StringVar(&raw.seekMode, "seek-mode", "literal", "シーク方式（literal, chase）")
	pf.StringVar(&raw.offsetMode, "offset-mode", "exact", "オフセットの進め方（exact, cumulative）")

	play := &cobra.Command{
		Use:   "play <midi-file>",
		Short: "チャンネルごとのストリームをミックスして再生する",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			config.MIDIPath = args[0]
			return r.Play(cmd.Context(), config)
		},
	}
	play.Flags().BoolVar(&config.Headless, "headless", false, "ヘッドレスモード（オーディオデバイスを使わずに実時間でレンダリング）")
	play.Flags().IntSliceVarP(&config.Channels, "channels", "c", nil, "再生するチャンネル（例: 0,9）")
	play.Flags().Float64Var(&raw.volume, "volume", 1, "音量（0.0〜1.0）")
	play.Flags().BoolVar(&config.TUI, "tui", false, "再生中のチャンネル一覧を表示")
	play.Flags().DurationVar(&config.StartAt, "start-at", 0, "再生開始位置（例: 1m30s）")

	inspect := &cobra.Command{
		Use:   "inspect <midi-file>",
		Short: "チャンネルごとにレンダリングしてレベルを表示する",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			config.MIDIPath = args[0]
			return r.Inspect(cmd.Context(), config)
		},
	}
	inspect.Flags().IntSliceVarP(&config.Channels, "channels", "c", nil, "解析するチャンネル（例: 0,9）")
	inspect.Flags().DurationVar(&config.RenderFor, "render-for", 0, "レンダリングする長さ（0は曲の長さ）")

	serve := &cobra.Command{
		Use:   "serve <midi-file>",
		Short: "チャンネルごとのPCMをHTTPで配信する",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			config.MIDIPath = args[0]
			return r.Serve(cmd.Context(), config)
		},
	}
	serve.Flags().StringVar(&raw.addr, "addr", DefaultAddr, "待ち受けアドレス")
	serve.Flags().StringSliceVar(&config.CORSOrigins, "cors-origin", nil, "CORSを許可するオリジン")

	root.AddCommand(play, inspect, serve)
	return root
}

// Execute はargsを解析してRunnerを呼び出す
func Execute(ctx context.Context, r Runner, args []string) error {
	root := NewRootCommand(r)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

// applyEnv 環境変数からの設定（コマンドラインフラグが優先）
func applyEnv(fs *pflag.FlagSet, config *Config, raw *flagValues) {
	// ヘッドレスモードは環境変数でも有効化できる
	if fs.Lookup("headless") != nil && !fs.Changed("headless") {
		if headlessEnv := os.Getenv("HEADLESS"); headlessEnv != "" {
			config.Headless = headlessEnv == "1" || strings.ToLower(headlessEnv) == "true"
		}
	}

	// 環境変数からタイムアウトを取得
	if !fs.Changed("timeout") {
		if timeoutEnv := os.Getenv("TIMEOUT"); timeoutEnv != "" {
			if t, err := strconv.Atoi(timeoutEnv); err == nil && t > 0 {
				raw.timeoutSec = t
			}
		}
	}

	// 環境変数からログレベルを取得
	if !fs.Changed("log-level") {
		if logLevelEnv := os.Getenv("LOG_LEVEL"); logLevelEnv != "" {
			config.LogLevel = strings.ToLower(logLevelEnv)
		}
	}

	if !fs.Changed("soundfont") {
		if sf := os.Getenv("SOUNDFONT"); sf != "" {
			config.SoundFontPath = sf
		}
	}

	if fs.Lookup("addr") != nil && !fs.Changed("addr") {
		if addr := os.Getenv("ADDR"); addr != "" {
			raw.addr = addr
		}
	}
}

// finish はフラグの値を検証してConfigを完成させる
func finish(fs *pflag.FlagSet, config *Config, raw *flagValues) error {
	// タイムアウトの検証
	if raw.timeoutSec < 0 {
		return fmt.Errorf("timeout must be non-negative, got %d", raw.timeoutSec)
	}
	config.Timeout = time.Duration(raw.timeoutSec) * time.Second

	// ログレベルの検証
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[config.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", config.LogLevel)
	}

	config.LogFormat = strings.ToLower(config.LogFormat)
	if config.LogFormat != "text" && config.LogFormat != "json" {
		return fmt.Errorf("invalid log format: %s (must be text or json)", config.LogFormat)
	}

	// serve は任意位置の取得に備えてchaseシークをデフォルトにする
	if config.Command == CommandServe && !fs.Changed("seek-mode") {
		raw.seekMode = score.SeekChase.String()
	}
	var err error
	if config.SeekMode, err = score.ParseSeekMode(raw.seekMode); err != nil {
		return err
	}
	if config.OffsetMode, err = score.ParseOffsetMode(raw.offsetMode); err != nil {
		return err
	}

	if fs.Lookup("volume") != nil {
		config.Volume = raw.volume
	}
	if fs.Lookup("addr") != nil {
		config.Addr = raw.addr
	}

	for _, ch := range config.Channels {
		if ch < 0 || ch > 15 {
			return fmt.Errorf("invalid channel: %d (must be 0-15)", ch)
		}
	}
	if config.Volume < 0 || config.Volume > 1 {
		return fmt.Errorf("volume must be between 0 and 1, got %g", config.Volume)
	}
	if config.StartAt < 0 {
		return fmt.Errorf("start-at must be non-negative, got %v", config.StartAt)
	}
	if config.RenderFor < 0 {
		return fmt.Errorf("render-for must be non-negative, got %v", config.RenderFor)
	}
	return nil
}
