package score

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/zurustar/scorestream/pkg/fileutil"
)

// SeekMode selects how SeekTo and Skip position a stream.
type SeekMode int

const (
	// SeekLiteral moves the cursor forward only. Seeking backwards, or on an
	// exhausted stream, changes the reported offset and nothing else. Voice
	// state is never rolled back.
	SeekLiteral SeekMode = iota

	// SeekChase resets the engine, rewinds to the first event and replays
	// every program, controller and pitch event before the target, so the
	// engine is in the state a straight read would have left it in, minus
	// the sounding notes.
	SeekChase
)

func (m SeekMode) String() string {
	switch m {
	case SeekLiteral:
		return "literal"
	case SeekChase:
		return "chase"
	default:
		return fmt.Sprintf("SeekMode(%d)", int(m))
	}
}

// ParseSeekMode parses "literal" or "chase".
func ParseSeekMode(s string) (SeekMode, error) {
	switch strings.ToLower(s) {
	case "literal", "":
		return SeekLiteral, nil
	case "chase":
		return SeekChase, nil
	default:
		return 0, fmt.Errorf("invalid seek mode: %s (valid: literal, chase)", s)
	}
}

// OffsetMode selects how Read advances the stream position.
type OffsetMode int

const (
	// OffsetExact advances the offset by the bytes each sub-chunk rendered,
	// keeping Time equal to the playing time of Tell.
	OffsetExact OffsetMode = iota

	// OffsetCumulative advances the offset by the whole request once per
	// sub-chunk and the time by a quarter of the request, so one Read moves
	// Tell by four times the bytes returned. This reproduces streams encoded
	// by older players.
	OffsetCumulative
)

func (m OffsetMode) String() string {
	switch m {
	case OffsetExact:
		return "exact"
	case OffsetCumulative:
		return "cumulative"
	default:
		return fmt.Sprintf("OffsetMode(%d)", int(m))
	}
}

// ParseOffsetMode parses "exact" or "cumulative".
func ParseOffsetMode(s string) (OffsetMode, error) {
	switch strings.ToLower(s) {
	case "exact", "":
		return OffsetExact, nil
	case "cumulative":
		return OffsetCumulative, nil
	default:
		return 0, fmt.Errorf("invalid offset mode: %s (valid: exact, cumulative)", s)
	}
}

// Options configures a Score and its streams.
type Options struct {
	// FileSystem resolves the MIDI and SoundFont paths. nil reads the host
	// file system directly.
	FileSystem fileutil.FileSystem

	// BankFileSystem, when set, resolves the SoundFont path instead of
	// FileSystem. Used when the bank is embedded in the binary.
	BankFileSystem fileutil.FileSystem

	// Logger receives score and stream logs. nil uses logger.GetLogger().
	Logger *slog.Logger

	SeekMode   SeekMode
	OffsetMode OffsetMode
}
