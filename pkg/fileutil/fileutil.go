// Package fileutil resolves score assets (MIDI files, SoundFonts) on the host
// file system or inside an embedded bundle.
//
// Asset names coming from playlists and older tooling often disagree with the
// on-disk case ("SONG.MID" vs "song.mid"), so every lookup falls back to a
// case-insensitive directory scan when the exact name is missing.
package fileutil

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// ErrNotExist is wrapped by every lookup failure so callers can test with errors.Is.
var ErrNotExist = fs.ErrNotExist

// FindFileCaseInsensitive returns the path of the entry in dir whose name
// matches filename ignoring case. Directories never match.
//
// Example:
//
//	p, err := FindFileCaseInsensitive("/music", "Prelude.MID")
//	// finds "/music/prelude.mid"
func FindFileCaseInsensitive(dir, filename string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("failed to read directory %s: %w", dir, err)
	}
	name, ok := matchEntry(entries, filename)
	if !ok {
		return "", fmt.Errorf("%w: %s (searched in %s)", ErrNotExist, filename, dir)
	}
	return filepath.Join(dir, name), nil
}

// FindFileCaseInsensitiveFS is FindFileCaseInsensitive for an fs.FS. The
// returned path uses forward slashes as fs.FS requires.
func FindFileCaseInsensitiveFS(fsys fs.FS, dir, filename string) (string, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return "", fmt.Errorf("failed to read directory %s: %w", dir, err)
	}
	name, ok := matchEntry(entries, filename)
	if !ok {
		return "", fmt.Errorf("%w: %s (searched in %s)", ErrNotExist, filename, dir)
	}
	return path.Join(dir, name), nil
}

func matchEntry(entries []fs.DirEntry, filename string) (string, bool) {
	want := strings.ToLower(filename)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.ToLower(entry.Name()) == want {
			return entry.Name(), true
		}
	}
	return "", false
}

// IsNotExist reports whether err came from a lookup that found nothing.
func IsNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
