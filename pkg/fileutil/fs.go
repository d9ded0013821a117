package fileutil

import (
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// FileSystem gives the loaders one view over host and embedded storage.
type FileSystem interface {
	// Open opens name, ignoring case when the exact name is missing.
	Open(name string) (fs.File, error)
	// ReadFile reads name, ignoring case when the exact name is missing.
	ReadFile(name string) ([]byte, error)
	// Exists reports whether Open(name) would succeed.
	Exists(name string) bool
	// BasePath is the directory names are resolved against.
	BasePath() string
	// IsEmbedded reports whether the files live inside the binary.
	IsEmbedded() bool
}

// RealFS reads from the host file system.
type RealFS struct {
	basePath string
}

// NewRealFS returns a FileSystem rooted at basePath. An empty basePath
// resolves names against the working directory. An absolute name is tried
// as is first and then, with its leading separators dropped, below basePath.
func NewRealFS(basePath string) *RealFS {
	return &RealFS{basePath: basePath}
}

func (r *RealFS) Open(name string) (fs.File, error) {
	p, err := r.locate(name)
	if err != nil {
		return nil, err
	}
	return os.Open(p)
}

func (r *RealFS) ReadFile(name string) ([]byte, error) {
	p, err := r.locate(name)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(p)
}

func (r *RealFS) Exists(name string) bool {
	_, err := r.locate(name)
	return err == nil
}

func (r *RealFS) BasePath() string { return r.basePath }

func (r *RealFS) IsEmbedded() bool { return false }

func (r *RealFS) locate(name string) (string, error) {
	if r.basePath == "" || filepath.IsAbs(name) {
		p, err := findFile(name)
		if err == nil || r.basePath == "" {
			return p, err
		}
	}
	return findFile(filepath.Join(r.basePath, strings.TrimLeft(name, `/\`)))
}

func findFile(p string) (string, error) {
	if info, err := os.Stat(p); err == nil && !info.IsDir() {
		return p, nil
	}
	return FindFileCaseInsensitive(filepath.Dir(p), filepath.Base(p))
}

// EmbedFS reads from an fs.FS, typically an embed.FS, below basePath.
type EmbedFS struct {
	fsys     fs.FS
	basePath string
}

// NewEmbedFS returns a FileSystem over fsys rooted at basePath.
func NewEmbedFS(fsys fs.FS, basePath string) *EmbedFS {
	return &EmbedFS{fsys: fsys, basePath: basePath}
}

func (e *EmbedFS) Open(name string) (fs.File, error) {
	p, err := e.locate(name)
	if err != nil {
		return nil, err
	}
	return e.fsys.Open(p)
}

func (e *EmbedFS) ReadFile(name string) ([]byte, error) {
	p, err := e.locate(name)
	if err != nil {
		return nil, err
	}
	return fs.ReadFile(e.fsys, p)
}

func (e *EmbedFS) Exists(name string) bool {
	_, err := e.locate(name)
	return err == nil
}

func (e *EmbedFS) BasePath() string { return e.basePath }

func (e *EmbedFS) IsEmbedded() bool { return true }

func (e *EmbedFS) locate(name string) (string, error) {
	clean := strings.TrimLeft(strings.ReplaceAll(name, `\`, "/"), "/")
	p := path.Join(e.basePath, clean)
	if p == "" {
		p = "."
	}
	if info, err := fs.Stat(e.fsys, p); err == nil && !info.IsDir() {
		return p, nil
	}
	return FindFileCaseInsensitiveFS(e.fsys, path.Dir(p), path.Base(p))
}
