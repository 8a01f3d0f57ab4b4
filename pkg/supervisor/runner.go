// Package supervisor runs an external tool as a child process and drains its
// stdout and stderr concurrently into a single channel of lines.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/text/encoding"
)

// DefaultKillGrace is how long readers may stay blocked after cancellation
// before the pipes are closed underneath them.
const DefaultKillGrace = 5 * time.Second

// OutcomeKind classifies how a process ended.
type OutcomeKind int

const (
	Succeeded OutcomeKind = iota
	Failed
	Cancelled
)

func (k OutcomeKind) String() string {
	switch k {
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Outcome is the terminal result of a supervised process.
type Outcome struct {
	Kind     OutcomeKind
	ExitCode int
	// Detail is the OS-provided status ("exit status 1", "signal: killed").
	Detail string
	Err    error
}

// Options tune a single Start call. The zero value is usable.
type Options struct {
	// Encoding decodes both pipes before line splitting. nil means UTF-8.
	Encoding encoding.Encoding

	// KillGrace bounds how long a cancelled process may hold its pipes open
	// (e.g. through a grandchild). Zero means DefaultKillGrace.
	KillGrace time.Duration

	// Env replaces the child's environment when non-nil.
	Env []string

	// Dir is the child's working directory.
	Dir string

	// LineBuffer is the capacity of the lines channel.
	LineBuffer int
}

// Process represents a running child with both output pipes being drained.
type Process struct {
	cmd     *exec.Cmd
	pid     int
	path    string
	args    []string
	lines   chan OutputLine
	drained chan struct{}
	done    chan struct{}
	outcome Outcome
}

// PID returns the process ID.
func (p *Process) PID() int {
	return p.pid
}

// Lines returns the merged output. Lines from one stream keep their order;
// there is no ordering across streams. The channel is closed once both pipes
// reach EOF. Callers must drain it or the child will block on a full pipe.
func (p *Process) Lines() <-chan OutputLine {
	return p.lines
}

// Done returns a channel that closes when the outcome is available.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until both readers have finished and the process has been
// reaped, then returns the outcome.
func (p *Process) Wait() Outcome {
	<-p.done
	return p.outcome
}

// Kill sends SIGKILL to the process.
func (p *Process) Kill() error {
	if p.cmd == nil || p.cmd.Process == nil {
		return nil
	}
	return p.cmd.Process.Kill()
}

// Signal sends a signal to the process.
func (p *Process) Signal(sig os.Signal) error {
	if p.cmd == nil || p.cmd.Process == nil {
		return nil
	}
	return p.cmd.Process.Signal(sig)
}

// Start spawns path with args. Stdin is not connected. A failure to spawn is
// returned as *SpawnError and nothing is left running.
//
// Cancelling ctx kills the child; the outcome is then Cancelled.
func Start(ctx context.Context, path string, args []string, opts Options) (*Process, error) {
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Stdin = nil
	cmd.Env = opts.Env
	cmd.Dir = opts.Dir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &SpawnError{Path: path, Err: fmt.Errorf("stdout pipe: %w", err)}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, &SpawnError{Path: path, Err: fmt.Errorf("stderr pipe: %w", err)}
	}

	if err := cmd.Start(); err != nil {
		return nil, &SpawnError{Path: path, Err: err}
	}

	p := &Process{
		cmd:     cmd,
		pid:     cmd.Process.Pid,
		path:    path,
		args:    args,
		lines:   make(chan OutputLine, opts.LineBuffer),
		drained: make(chan struct{}),
		done:    make(chan struct{}),
	}

	slog.Debug("supervisor: process started", "path", path, "pid", p.pid)

	var readers errgroup.Group
	readers.Go(func() error { return p.drain(Stdout, stdout, opts.Encoding) })
	readers.Go(func() error { return p.drain(Stderr, stderr, opts.Encoding) })

	grace := opts.KillGrace
	if grace <= 0 {
		grace = DefaultKillGrace
	}
	go p.closePipesAfterCancel(ctx, grace, stdout, stderr)

	go func() {
		defer close(p.done)

		readErr := readers.Wait()
		close(p.drained)
		close(p.lines)

		// Only now is it safe to reap: both pipes have been read to EOF.
		waitErr := cmd.Wait()
		p.outcome = p.classify(ctx, waitErr)
		if readErr != nil {
			slog.Warn("supervisor: pipe read error", "path", path, "pid", p.pid, "error", readErr)
		}
		slog.Debug("supervisor: process exited", "path", path, "pid", p.pid, "outcome", p.outcome.Kind.String(), "detail", p.outcome.Detail)
	}()

	return p, nil
}

func (p *Process) drain(stream Stream, r io.Reader, enc encoding.Encoding) error {
	sc := newLineScanner(r, enc)
	for sc.Scan() {
		p.lines <- OutputLine{Stream: stream, Text: sc.Text()}
	}
	err := sc.Err()
	if err != nil {
		// Keep the pipe empty so the child never stalls on a full buffer.
		_, _ = io.Copy(io.Discard, r)
	}
	if errors.Is(err, os.ErrClosed) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%s: %w", stream, err)
	}
	return nil
}

// closePipesAfterCancel unblocks the readers if the killed child left its
// pipes open through a descendant that is still running.
func (p *Process) closePipesAfterCancel(ctx context.Context, grace time.Duration, pipes ...io.Closer) {
	select {
	case <-p.drained:
		return
	case <-ctx.Done():
	}

	t := time.NewTimer(grace)
	defer t.Stop()
	select {
	case <-p.drained:
		return
	case <-t.C:
	}

	slog.Warn("supervisor: pipes still open after kill, closing", "path", p.path, "pid", p.pid, "grace", grace)
	for _, c := range pipes {
		_ = c.Close()
	}
}

func (p *Process) classify(ctx context.Context, waitErr error) Outcome {
	state := p.cmd.ProcessState
	detail := ""
	code := -1
	if state != nil {
		detail = state.String()
		code = state.ExitCode()
	}

	if waitErr == nil {
		return Outcome{Kind: Succeeded, ExitCode: code, Detail: detail}
	}

	if detail == "" {
		detail = waitErr.Error()
	}
	exitErr := &ExitError{
		Path:     p.path,
		Args:     p.args,
		ExitCode: code,
		Status:   detail,
		Err:      waitErr,
	}

	if ctx.Err() != nil {
		return Outcome{
			Kind:     Cancelled,
			ExitCode: code,
			Detail:   "cancelled (" + detail + ")",
			Err:      fmt.Errorf("%w: %w", ctx.Err(), exitErr),
		}
	}
	return Outcome{Kind: Failed, ExitCode: code, Detail: detail, Err: exitErr}
}

// Run starts the process, hands every line to fn, and returns the outcome.
// This is the simple "fire and wait" path.
func Run(ctx context.Context, path string, args []string, opts Options, fn func(OutputLine)) (Outcome, error) {
	proc, err := Start(ctx, path, args, opts)
	if err != nil {
		return Outcome{}, err
	}
	for line := range proc.Lines() {
		if fn != nil {
			fn(line)
		}
	}
	return proc.Wait(), nil
}

// SpawnError means the child could not be started at all.
type SpawnError struct {
	Path string
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("supervisor: start %s: %v", filepath.Base(e.Path), e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// ExitError means the child ran but exited non-zero or was killed.
type ExitError struct {
	Path     string
	Args     []string
	ExitCode int
	Status   string
	Err      error
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("supervisor: %s %s", filepath.Base(e.Path), e.Status)
}

func (e *ExitError) Unwrap() error { return e.Err }
