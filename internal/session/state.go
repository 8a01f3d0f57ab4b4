package session

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"thirdcoast.systems/zdownload/pkg/supervisor"
)

// ErrEmptyURL rejects a request before anything is provisioned.
var ErrEmptyURL = errors.New("session: no URL to download")

// State is where a session is in its lifecycle. Succeeded, Failed and
// Cancelled are terminal.
type State int

const (
	Idle State = iota
	Provisioning
	Running
	Succeeded
	Failed
	Cancelled
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Provisioning:
		return "provisioning"
	case Running:
		return "running"
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

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == Succeeded || s == Failed || s == Cancelled
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeInputRejected
	OutcomeProvisioningFailed
	OutcomeSpawnFailed
	OutcomeProcessFailed
	OutcomeCancelled
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeInputRejected:
		return "input_rejected"
	case OutcomeProvisioningFailed:
		return "provisioning_failed"
	case OutcomeSpawnFailed:
		return "spawn_failed"
	case OutcomeProcessFailed:
		return "process_failed"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

func (k OutcomeKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Outcome is the single terminal result of a session.
type Outcome struct {
	Kind     OutcomeKind
	ExitCode int
	// Detail is human readable and set for every kind other than success.
	Detail string
	Err    error
}

// state returns the terminal state an outcome puts the session in.
func (o Outcome) state() State {
	switch o.Kind {
	case OutcomeSuccess:
		return Succeeded
	case OutcomeCancelled:
		return Cancelled
	default:
		return Failed
	}
}

func fromProcess(out supervisor.Outcome) Outcome {
	o := Outcome{ExitCode: out.ExitCode, Detail: out.Detail, Err: out.Err}
	switch out.Kind {
	case supervisor.Succeeded:
		o.Kind = OutcomeSuccess
	case supervisor.Cancelled:
		o.Kind = OutcomeCancelled
	default:
		o.Kind = OutcomeProcessFailed
	}
	if o.Kind != OutcomeSuccess && o.Detail == "" {
		o.Detail = o.Kind.String()
	}
	return o
}

type EventKind int

const (
	EventState EventKind = iota
	EventLine
)

func (k EventKind) String() string {
	if k == EventLine {
		return "line"
	}
	return "state"
}

// Event is one item of a session's feed: a state change or an output line.
// The terminal state event carries the outcome and is always the last event.
type Event struct {
	Kind    EventKind
	At      time.Time
	State   State
	Line    supervisor.OutputLine
	Outcome *Outcome
}

// CleanupPolicy decides when provisioned tools are deleted after a run.
type CleanupPolicy int

const (
	CleanupOnSuccess CleanupPolicy = iota
	CleanupAlways
	CleanupNever
)

func (p CleanupPolicy) String() string {
	switch p {
	case CleanupAlways:
		return "always"
	case CleanupNever:
		return "never"
	default:
		return "on-success"
	}
}

// ParseCleanupPolicy accepts on-success, always and never.
func ParseCleanupPolicy(s string) (CleanupPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "on-success":
		return CleanupOnSuccess, nil
	case "always":
		return CleanupAlways, nil
	case "never":
		return CleanupNever, nil
	default:
		return CleanupOnSuccess, fmt.Errorf("session: unknown cleanup policy %q", s)
	}
}

func (p CleanupPolicy) removes(kind OutcomeKind) bool {
	switch p {
	case CleanupAlways:
		return true
	case CleanupNever:
		return false
	default:
		return kind == OutcomeSuccess
	}
}
