// Package escalate defines the failure values used across the supervisor.
//
// Nothing in the core throws for control flow: public operations return
// either a result or an *Escalation carrying a reason and ordered next-step
// hints for the operator. Lower-level faults (git subprocesses, transports,
// state parsing) are typed errors that the CLI layer maps to exit codes.
package escalate

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// Kind classifies a failure.
type Kind string

const (
	KindNotFound             Kind = "not_found"
	KindPrecondition         Kind = "precondition"
	KindAlreadyRunning       Kind = "already_running"
	KindTimeout              Kind = "timeout"
	KindConflict             Kind = "conflict"
	KindGitFailure           Kind = "git_failure"
	KindStateCorrupt         Kind = "state_corrupt"
	KindTransportUnreachable Kind = "transport_unreachable"
	KindChildFailed          Kind = "child_failed"
)

// Escalation is a structured refusal: the operation did not happen (or
// stopped safely) and the operator must decide.
type Escalation struct {
	Kind      Kind     `json:"kind"`
	Reason    string   `json:"reason"`
	NextSteps []string `json:"next_steps"`

	// ConflictFiles is set for merge-conflict escalations.
	ConflictFiles []string `json:"conflict_files,omitempty"`
}

// New builds an escalation.
func New(kind Kind, reason string, nextSteps ...string) *Escalation {
	return &Escalation{Kind: kind, Reason: reason, NextSteps: nextSteps}
}

// Error makes *Escalation usable as an error value at the CLI boundary.
func (e *Escalation) Error() string {
	if len(e.NextSteps) == 0 {
		return e.Reason
	}
	return fmt.Sprintf("%s (next: %s)", e.Reason, strings.Join(e.NextSteps, "; "))
}

// AsEscalation extracts an *Escalation from an error chain, if present.
func AsEscalation(err error) (*Escalation, bool) {
	var e *Escalation
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// GitError captures a failed git subprocess together with its stderr.
type GitError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *GitError) Error() string {
	out := strings.TrimSpace(e.Stderr)
	if out == "" {
		return fmt.Sprintf("git %s: %v", strings.Join(e.Args, " "), e.Err)
	}
	return fmt.Sprintf("git %s: %s: %v", strings.Join(e.Args, " "), out, e.Err)
}

func (e *GitError) Unwrap() error { return e.Err }

// ExitCode returns the subprocess exit code, or -1 when the process did
// not run or was killed by a signal.
func (e *GitError) ExitCode() int {
	var exitErr *exec.ExitError
	if errors.As(e.Err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// Sentinel errors shared across packages.
var (
	// ErrCorrupt indicates the state file failed to parse; mutation is
	// refused until the operator repairs it.
	ErrCorrupt = errors.New("state file is corrupt")

	// ErrTimeout indicates a bounded wait elapsed.
	ErrTimeout = errors.New("timed out")
)
