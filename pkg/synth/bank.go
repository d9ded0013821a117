package synth

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/sinshu/go-meltysynth/meltysynth"
	"github.com/zurustar/scorestream/pkg/fileutil"
)

// ErrNoSoundFont is returned when no SoundFont path is given.
var ErrNoSoundFont = errors.New("SoundFont file is required for synthesis")

// ErrSoundFontNotFound is returned when the SoundFont file cannot be found.
var ErrSoundFontNotFound = errors.New("SoundFont file not found")

// Bank is a parsed SoundFont. It is read-only once loaded, so any number of
// engines, including engines rendering on different goroutines, may share it.
type Bank struct {
	soundFont *meltysynth.SoundFont
	path      string

	// EnableReverbAndChorus is applied to engines created afterwards.
	EnableReverbAndChorus bool
}

// ReadSoundFont reads the SoundFont bytes through fsys, or from the host file
// system when fsys is nil.
func ReadSoundFont(fsys fileutil.FileSystem, path string) ([]byte, error) {
	if path == "" {
		return nil, ErrNoSoundFont
	}

	var data []byte
	var err error
	if fsys == nil {
		data, err = os.ReadFile(path)
	} else {
		data, err = fsys.ReadFile(path)
	}
	if err != nil {
		if fileutil.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrSoundFontNotFound, path)
		}
		return nil, fmt.Errorf("failed to read SoundFont file: %w", err)
	}
	return data, nil
}

// LoadBank reads and parses a SoundFont.
//
// Parameters:
//   - fsys: FileSystem to read through (nil for the host file system)
//   - path: Path to the SoundFont (.sf2) file
//
// Returns:
//   - *Bank: The parsed bank
//   - error: ErrNoSoundFont, ErrSoundFontNotFound, or a parse error
func LoadBank(fsys fileutil.FileSystem, path string) (*Bank, error) {
	data, err := ReadSoundFont(fsys, path)
	if err != nil {
		return nil, err
	}

	soundFont, err := parseSoundFont(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse SoundFont %s: %w", path, err)
	}

	return &Bank{soundFont: soundFont, path: path, EnableReverbAndChorus: true}, nil
}

func parseSoundFont(data []byte) (sf *meltysynth.SoundFont, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed SoundFont: %v", r)
		}
	}()
	return meltysynth.NewSoundFont(bytes.NewReader(data))
}

// Path returns the file the bank was loaded from.
func (b *Bank) Path() string { return b.path }

// NewEngine creates an engine with its own synthesizer over the bank.
func (b *Bank) NewEngine() (Engine, error) {
	settings := meltysynth.NewSynthesizerSettings(SampleRate)
	settings.BlockSize = ChunkSize / 8
	settings.EnableReverbAndChorus = b.EnableReverbAndChorus

	s, err := meltysynth.NewSynthesizer(b.soundFont, settings)
	if err != nil {
		return nil, fmt.Errorf("failed to create synthesizer: %w", err)
	}
	return newMelty(s), nil
}
