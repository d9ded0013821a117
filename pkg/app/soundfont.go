package app

import (
	"io/fs"
	"os"
	"path/filepath"

	"github.com/zurustar/scorestream/pkg/fileutil"
)

// SoundFontLocation represents the location of a SoundFont file.
type SoundFontLocation struct {
	// Path is the SoundFont path relative to FileSystem
	Path string
	// FileSystem resolves Path
	FileSystem fileutil.FileSystem
	// IsEmbedded indicates whether the SoundFont is embedded
	IsEmbedded bool
}

// DefaultSoundFontName is the default SoundFont filename to search for.
const DefaultSoundFontName = "GeneralUser-GS.sf2"

// soundFontAt locates an explicitly given SoundFont path on the host.
func soundFontAt(path string) *SoundFontLocation {
	return &SoundFontLocation{
		Path:       filepath.Base(path),
		FileSystem: fileutil.NewRealFS(filepath.Dir(path)),
	}
}

// findSoundFont searches for a SoundFont file in the following order:
// 1. Embedded soundfonts directory
// 2. Current directory (external)
// 3. Directory of the MIDI file (external)
//
// Parameters:
//   - embedFS: The embedded file system (may be nil)
//   - midiDir: Directory containing the MIDI file
//
// Returns:
//   - *SoundFontLocation: Location of the SoundFont file, or nil if not found
func findSoundFont(embedFS fs.FS, midiDir string) *SoundFontLocation {
	// 1. 埋め込みsoundfontsディレクトリ
	if embedFS != nil {
		soundfontsPath := "soundfonts/" + DefaultSoundFontName
		if data, err := fs.ReadFile(embedFS, soundfontsPath); err == nil && len(data) > 0 {
			return &SoundFontLocation{
				Path:       DefaultSoundFontName, // FileSystemのベースパスが"soundfonts"なので、ファイル名だけ
				FileSystem: fileutil.NewEmbedFS(embedFS, "soundfonts"),
				IsEmbedded: true,
			}
		}
	}

	// 2. カレントディレクトリ
	if _, err := os.Stat(DefaultSoundFontName); err == nil {
		return soundFontAt(DefaultSoundFontName)
	}

	// 3. MIDIファイルと同じディレクトリ
	if midiDir != "" {
		sfPath := filepath.Join(midiDir, DefaultSoundFontName)
		if _, err := os.Stat(sfPath); err == nil {
			return soundFontAt(sfPath)
		}
	}

	return nil
}
