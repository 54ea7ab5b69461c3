package state

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/quazardous/sailing/internal/debug"
	"github.com/quazardous/sailing/internal/escalate"
)

// RunClaim marks a task as actively worked by one process. Its presence
// under the runs directory is the cross-process mutual exclusion for
// spawn/reap on the same task; the recorded pid is the liveness oracle.
type RunClaim struct {
	TaskID    string    `yaml:"task_id"`
	Operation string    `yaml:"operation"`
	StartedAt time.Time `yaml:"started_at"`
	PID       int       `yaml:"pid"`
}

// PIDAlive reports whether a pid exists on this host.
func PIDAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil || err == syscall.EPERM
}

// Claim acquires the run claim for taskID. A live existing claim produces
// an already_running escalation; a stale claim (dead pid) is garbage
// collected and the claim proceeds. The returned release func removes the
// claim and is safe to call more than once.
func Claim(runsDir, taskID, operation string) (release func(), esc *escalate.Escalation, err error) {
	if err := os.MkdirAll(runsDir, 0755); err != nil {
		return nil, nil, fmt.Errorf("creating runs dir: %w", err)
	}
	path := filepath.Join(runsDir, taskID+".run")

	if existing, readErr := ReadClaim(path); readErr == nil && existing != nil {
		if PIDAlive(existing.PID) {
			return nil, escalate.New(escalate.KindAlreadyRunning,
				fmt.Sprintf("task %s is already claimed by pid %d (%s since %s)",
					taskID, existing.PID, existing.Operation,
					existing.StartedAt.UTC().Format(time.RFC3339)),
				fmt.Sprintf("wait for the running %s to finish", existing.Operation),
				fmt.Sprintf("sailing kill %s to stop it", taskID),
			), nil
		}
		debug.LogKV("state", "removing orphan run claim",
			"task", taskID, "pid", existing.PID, "operation", existing.Operation)
		_ = os.Remove(path)
	}

	claim := RunClaim{
		TaskID:    taskID,
		Operation: operation,
		StartedAt: time.Now().UTC(),
		PID:       os.Getpid(),
	}
	data, err := yaml.Marshal(&claim)
	if err != nil {
		return nil, nil, fmt.Errorf("encoding run claim: %w", err)
	}
	// O_EXCL so two processes racing past the staleness check cannot both
	// hold the claim.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if os.IsExist(err) {
			return nil, escalate.New(escalate.KindAlreadyRunning,
				fmt.Sprintf("task %s was claimed concurrently", taskID),
				"retry once the other operation finishes",
			), nil
		}
		return nil, nil, fmt.Errorf("creating run claim: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)
		return nil, nil, fmt.Errorf("writing run claim: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return nil, nil, fmt.Errorf("closing run claim: %w", err)
	}

	released := false
	return func() {
		if released {
			return
		}
		released = true
		_ = os.Remove(path)
	}, nil, nil
}

// ReadClaim parses a run claim file. Returns (nil, nil) when absent.
func ReadClaim(path string) (*RunClaim, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var claim RunClaim
	if err := yaml.Unmarshal(data, &claim); err != nil {
		return nil, fmt.Errorf("parsing run claim %s: %w", path, err)
	}
	return &claim, nil
}

// ListClaims returns all claims in runsDir, including orphans.
func ListClaims(runsDir string) ([]*RunClaim, error) {
	entries, err := os.ReadDir(runsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var claims []*RunClaim
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".run" {
			continue
		}
		claim, err := ReadClaim(filepath.Join(runsDir, e.Name()))
		if err != nil || claim == nil {
			continue
		}
		claims = append(claims, claim)
	}
	return claims, nil
}
