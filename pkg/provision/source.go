package provision

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path"
	"path/filepath"
)

// Kind identifies one of the two external tools.
type Kind int

const (
	Downloader Kind = iota
	Muxer
)

func (k Kind) String() string {
	switch k {
	case Downloader:
		return "yt-dlp"
	case Muxer:
		return "ffmpeg"
	default:
		return "unknown"
	}
}

// ExecutableName is the tool's file name on goos ("ffmpeg", "ffmpeg.exe").
func (k Kind) ExecutableName(goos string) string {
	if goos == "windows" {
		return k.String() + ".exe"
	}
	return k.String()
}

// Source yields the bytes of a tool executable.
// Implementations return an error wrapping fs.ErrNotExist when they do not
// carry the tool, so a ChainSource can fall through.
type Source interface {
	Open(kind Kind, goos string) (io.ReadCloser, error)
}

// FSSource reads payloads from a filesystem, usually a go:embed FS.
// It looks for "<goos>/<name>" first, then "<name>".
type FSSource struct {
	FS fs.FS
}

func (s FSSource) Open(kind Kind, goos string) (io.ReadCloser, error) {
	if s.FS == nil {
		return nil, fmt.Errorf("%s: %w", kind, fs.ErrNotExist)
	}
	name := kind.ExecutableName(goos)
	for _, p := range []string{path.Join(goos, name), name} {
		f, err := s.FS.Open(p)
		if err == nil {
			return f, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%s: %w", kind, fs.ErrNotExist)
}

// PathSource copies an already-installed tool. With Dir set it reads
// Dir/<name>; otherwise it resolves the name on PATH.
type PathSource struct {
	Dir string
}

func (s PathSource) Open(kind Kind, goos string) (io.ReadCloser, error) {
	name := kind.ExecutableName(goos)
	var p string
	if s.Dir != "" {
		p = filepath.Join(s.Dir, name)
	} else {
		found, err := exec.LookPath(kind.String())
		if err != nil {
			return nil, fmt.Errorf("%s not found on PATH: %w", kind, fs.ErrNotExist)
		}
		p = found
	}
	return os.Open(p)
}

// ChainSource tries each source in order and returns the first hit.
type ChainSource []Source

func (c ChainSource) Open(kind Kind, goos string) (io.ReadCloser, error) {
	for _, s := range c {
		rc, err := s.Open(kind, goos)
		if err == nil {
			return rc, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%s: no payload in any source: %w", kind, fs.ErrNotExist)
}
