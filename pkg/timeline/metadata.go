package timeline

import (
	"time"
	"unicode/utf8"

	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/transform"
)

// Tempo is a tempo change in the source file.
type Tempo struct {
	Time time.Duration
	BPM  float64
}

// Metadata describes the file a Timeline was loaded from.
type Metadata struct {
	Source     string
	TimeFormat string
	Tracks     int
	// TrackNames is indexed by track; unnamed tracks are empty.
	TrackNames []string
	Tempos     []Tempo
	// Events is the number of channel events kept in the timeline.
	Events int
	// Skipped counts messages that are not channel events a stream can
	// apply: meta, sysex, key and channel pressure.
	Skipped int
}

// decodeText converts a meta text payload to UTF-8. Files authored on
// Japanese systems carry Shift_JIS track names; anything that is already
// valid UTF-8 is returned unchanged.
func decodeText(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	decoded, _, err := transform.String(japanese.ShiftJIS.NewDecoder(), s)
	if err != nil {
		// 変換に失敗した場合はそのまま返す
		return s
	}
	return decoded
}
