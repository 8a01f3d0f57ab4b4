// Package provision materializes the downloader and muxer executables into a
// writable location before a run and removes them afterwards.
package provision

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"thirdcoast.systems/zdownload/pkg/ytdlp"
)

// Error is a provisioning failure: a payload could not be found, written or
// made executable.
type Error struct {
	Op   string
	Kind Kind
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("provision: %s %s (%s): %v", e.Op, e.Kind, e.Path, e.Err)
	}
	return fmt.Sprintf("provision: %s %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Provisioner writes both tools for exactly one session. File names carry the
// session id so concurrent sessions never share a file.
type Provisioner struct {
	Source    Source
	Dir       string
	SessionID string
	GOOS      string

	chmod func(name string, mode os.FileMode) error

	mu      sync.Mutex
	written []string
}

// New returns a Provisioner writing into dir (os.TempDir() when empty) under a
// fresh session id.
func New(src Source, dir string) *Provisioner {
	return &Provisioner{
		Source:    src,
		Dir:       dir,
		SessionID: uuid.NewString(),
		GOOS:      runtime.GOOS,
	}
}

// FileName returns the per-session file name of a tool.
func FileName(kind Kind, sessionID string, goos string) string {
	name := kind.String() + "-" + sessionID
	if goos == "windows" {
		name += ".exe"
	}
	return name
}

func (p *Provisioner) dir() string {
	if p.Dir == "" {
		return os.TempDir()
	}
	return p.Dir
}

func (p *Provisioner) goos() string {
	if p.GOOS == "" {
		return runtime.GOOS
	}
	return p.GOOS
}

// Provision writes both executables and returns their paths. On error nothing
// written by this call is left behind.
func (p *Provisioner) Provision(ctx context.Context) (ytdlp.Tools, error) {
	if p.Source == nil {
		return ytdlp.Tools{}, &Error{Op: "open", Kind: Downloader, Err: errors.New("no payload source configured")}
	}
	if p.SessionID == "" {
		p.SessionID = uuid.NewString()
	}

	var tools ytdlp.Tools
	for _, kind := range []Kind{Downloader, Muxer} {
		if err := ctx.Err(); err != nil {
			p.Cleanup()
			return ytdlp.Tools{}, &Error{Op: "write", Kind: kind, Err: err}
		}
		dst, err := p.materialize(kind)
		if err != nil {
			p.Cleanup()
			return ytdlp.Tools{}, err
		}
		switch kind {
		case Downloader:
			tools.Downloader = dst
		case Muxer:
			tools.Muxer = dst
		}
	}
	return tools, nil
}

func (p *Provisioner) materialize(kind Kind) (string, error) {
	goos := p.goos()
	src, err := p.Source.Open(kind, goos)
	if err != nil {
		return "", &Error{Op: "open", Kind: kind, Err: err}
	}
	defer src.Close()

	dst := filepath.Join(p.dir(), FileName(kind, p.SessionID, goos))
	f, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o755)
	if err != nil {
		return "", &Error{Op: "create", Kind: kind, Path: dst, Err: err}
	}
	p.track(dst)

	n, err := io.Copy(f, src)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return "", &Error{Op: "write", Kind: kind, Path: dst, Err: err}
	}

	// Explicit mode: the create mode above is subject to the umask.
	if goos != "windows" {
		chmod := p.chmod
		if chmod == nil {
			chmod = os.Chmod
		}
		if err := chmod(dst, 0o755); err != nil {
			return "", &Error{Op: "chmod", Kind: kind, Path: dst, Err: err}
		}
	}

	slog.Info("provision: tool written", "tool", kind.String(), "path", dst, "size", humanize.Bytes(uint64(n)))
	return dst, nil
}

func (p *Provisioner) track(path string) {
	p.mu.Lock()
	p.written = append(p.written, path)
	p.mu.Unlock()
}

// Paths returns the files currently owned by this provisioner.
func (p *Provisioner) Paths() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.written...)
}

// Cleanup removes every file this provisioner wrote. Failures are logged and
// otherwise ignored. It is safe to call more than once.
func (p *Provisioner) Cleanup() {
	p.mu.Lock()
	paths := p.written
	p.written = nil
	p.mu.Unlock()

	for _, path := range paths {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			slog.Warn("provision: failed to remove tool", "path", path, "error", err)
			continue
		}
		slog.Debug("provision: tool removed", "path", path)
	}
}
