// Package session drives one download request from provisioning through the
// downloader's exit and relays its output to the caller as events.
package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"thirdcoast.systems/zdownload/internal/sourceurl"
	"thirdcoast.systems/zdownload/pkg/provision"
	"thirdcoast.systems/zdownload/pkg/supervisor"
	"thirdcoast.systems/zdownload/pkg/ytdlp"
)

const eventBuffer = 64

type startFunc func(ctx context.Context, path string, args []string, opts supervisor.Options) (*supervisor.Process, error)

// Runner creates sessions. A Runner is safe for concurrent use; every session
// gets its own tool files.
type Runner struct {
	Source   provision.Source
	ToolsDir string
	Process  supervisor.Options
	// RelayInterval is the minimum spacing between relayed lines. Zero relays
	// as fast as the caller reads.
	RelayInterval time.Duration
	Cleanup       CleanupPolicy

	start startFunc
}

// NewRunner returns a Runner with the default cleanup policy.
func NewRunner(src provision.Source, toolsDir string) *Runner {
	return &Runner{Source: src, ToolsDir: toolsDir, start: supervisor.Start}
}

// Session is a single download request.
type Session struct {
	ID        string
	Request   ytdlp.Request
	StartedAt time.Time

	events chan Event
	done   chan struct{}
	cancel context.CancelFunc

	mu      sync.Mutex
	state   State
	outcome Outcome
	tools   ytdlp.Tools
}

func newSession(req ytdlp.Request) *Session {
	return &Session{
		ID:        uuid.NewString(),
		Request:   req,
		StartedAt: time.Now(),
		events:    make(chan Event, eventBuffer),
		done:      make(chan struct{}),
		cancel:    func() {},
		state:     Idle,
	}
}

// Events returns the session feed. It is closed after the terminal state
// event. While the downloader runs, callers must keep reading or the child
// stalls on a full pipe.
func (s *Session) Events() <-chan Event {
	return s.events
}

// Done is closed once the outcome is set.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Wait blocks for the outcome.
func (s *Session) Wait() Outcome {
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outcome
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Outcome returns the outcome and whether the session has finished.
func (s *Session) Outcome() (Outcome, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outcome, s.state.Terminal()
}

// Tools returns the provisioned tool paths, empty before provisioning.
func (s *Session) Tools() ytdlp.Tools {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tools
}

// Cancel kills the downloader if it is running. The session then ends as
// Cancelled once the output is drained.
func (s *Session) Cancel() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	cancel()
}

func (s *Session) transition(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	s.events <- Event{Kind: EventState, At: time.Now(), State: st}
}

// finish records the outcome, emits the terminal event and closes the feed.
// It runs exactly once per session.
func (s *Session) finish(out Outcome) {
	st := out.state()
	s.mu.Lock()
	s.state = st
	s.outcome = out
	s.mu.Unlock()

	s.events <- Event{Kind: EventState, At: time.Now(), State: st, Outcome: &out}
	close(s.events)
	close(s.done)
}

// Submit starts a session for req. Validation, provisioning and spawning
// happen before Submit returns; a failure in any of them ends the session
// synchronously and is returned along with it. Cancellation during
// provisioning ends the session as Cancelled. Otherwise the session is
// Running and finishes in the background.
//
// Cancelling ctx cancels the download.
func (r *Runner) Submit(ctx context.Context, req ytdlp.Request) (*Session, error) {
	req.URL = strings.TrimSpace(req.URL)
	s := newSession(req)

	if req.URL == "" {
		s.finish(Outcome{Kind: OutcomeInputRejected, ExitCode: -1, Detail: ErrEmptyURL.Error(), Err: ErrEmptyURL})
		return s, ErrEmptyURL
	}

	log := slog.With("session", s.ID, "domain", sourceurl.CanonicalDomain(req.URL))

	s.transition(Provisioning)
	prov := provision.New(r.Source, r.ToolsDir)
	prov.SessionID = s.ID
	tools, err := prov.Provision(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			log.Info("session: cancelled while provisioning", "error", err)
			s.finish(Outcome{Kind: OutcomeCancelled, ExitCode: -1, Detail: "cancelled while provisioning", Err: err})
			return s, err
		}
		log.Error("session: provisioning failed", "error", err)
		s.finish(Outcome{Kind: OutcomeProvisioningFailed, ExitCode: -1, Detail: err.Error(), Err: err})
		return s, err
	}
	s.mu.Lock()
	s.tools = tools
	s.mu.Unlock()

	args := ytdlp.BuildArgs(req, tools)
	log.Debug("session: starting downloader",
		"profile", ytdlp.Classify(req.URL).String(),
		"command", ytdlp.CommandLine(tools.Downloader, args))

	runCtx, cancel := context.WithCancel(ctx)
	start := r.start
	if start == nil {
		start = supervisor.Start
	}
	proc, err := start(runCtx, tools.Downloader, args, r.Process)
	if err != nil {
		cancel()
		out := Outcome{Kind: OutcomeSpawnFailed, ExitCode: -1, Detail: err.Error(), Err: err}
		r.cleanup(log, prov, out.Kind)
		log.Error("session: downloader did not start", "error", err)
		s.finish(out)
		return s, err
	}
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	s.transition(Running)
	log.Info("session: downloader running", "pid", proc.PID())

	go r.relay(runCtx, cancel, log, s, proc, prov)
	return s, nil
}

func (r *Runner) relay(ctx context.Context, cancel context.CancelFunc, log *slog.Logger, s *Session, proc *supervisor.Process, prov *provision.Provisioner) {
	defer cancel()

	var limiter *rate.Limiter
	if r.RelayInterval > 0 {
		limiter = rate.NewLimiter(rate.Every(r.RelayInterval), 1)
	}

	lines := 0
	for line := range proc.Lines() {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				// Cancelled: drain what is left without pacing.
				limiter = nil
			}
		}
		s.events <- Event{Kind: EventLine, At: time.Now(), State: Running, Line: line}
		lines++
	}

	out := fromProcess(proc.Wait())
	r.cleanup(log, prov, out.Kind)

	log.Info("session: finished",
		"outcome", out.Kind.String(),
		"detail", out.Detail,
		"lines", lines,
		"elapsed", time.Since(s.StartedAt).Round(time.Millisecond))
	s.finish(out)
}

func (r *Runner) cleanup(log *slog.Logger, prov *provision.Provisioner, kind OutcomeKind) {
	if r.Cleanup.removes(kind) {
		prov.Cleanup()
		return
	}
	log.Info("session: keeping tools", "paths", prov.Paths(), "outcome", kind.String())
}
