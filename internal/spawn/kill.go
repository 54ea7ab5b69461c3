package spawn

import (
	"context"
	"fmt"
	"syscall"
	"time"

	"github.com/quazardous/sailing/internal/debug"
	"github.com/quazardous/sailing/internal/escalate"
	"github.com/quazardous/sailing/internal/state"
	"github.com/quazardous/sailing/internal/tasklog"
)

// Kill stops a running agent: SIGTERM, a 5 second grace period, then
// SIGKILL, and moves the record to killed.
func (p *Pipeline) Kill(taskID string) (*escalate.Escalation, error) {
	st, err := p.Store.Load()
	if err != nil {
		return nil, err
	}
	rec := st.Get(taskID)
	if rec == nil {
		return escalate.New(escalate.KindNotFound,
			fmt.Sprintf("no agent record for task %s", taskID)), nil
	}
	if rec.PID == 0 || !state.PIDAlive(rec.PID) {
		return escalate.New(escalate.KindPrecondition,
			fmt.Sprintf("the agent for %s is not running (status %s)", taskID, rec.Status),
			"reap it: sailing reap "+taskID,
			"discard it: sailing reject "+taskID,
		), nil
	}

	pid := rec.PID
	debug.LogKV("kill", "stopping agent", "task", taskID, "pid", pid)
	signalProcessGroup(pid, syscall.SIGTERM)
	deadline := time.Now().Add(killGrace)
	for time.Now().Before(deadline) {
		if !state.PIDAlive(pid) {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	if state.PIDAlive(pid) {
		signalProcessGroup(pid, syscall.SIGKILL)
		for i := 0; i < 50 && state.PIDAlive(pid); i++ {
			time.Sleep(100 * time.Millisecond)
		}
	}

	now := time.Now().UTC()
	err = p.Store.UpdateAgent(taskID, func(r *state.AgentRecord) error {
		r.Status = state.StatusKilled
		r.KilledAt = &now
		r.EndedAt = &now
		r.PID = 0
		sig := int(syscall.SIGTERM)
		if r.ExitSignal == nil {
			r.ExitSignal = &sig
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if p.Log != nil {
		p.Log.Log(taskID, tasklog.LevelWarn, "agent killed", map[string]any{"pid": pid})
	}
	return nil, nil
}

// Reject discards a previous agent's work: stop a live child, clean the
// worktree and branch, mark the record rejected, and optionally transition
// the task artefact (e.g. back to Blocked or Not Started).
func (p *Pipeline) Reject(taskID, reason, transition string) (*escalate.Escalation, error) {
	st, err := p.Store.Load()
	if err != nil {
		return nil, err
	}
	rec := st.Get(taskID)
	if rec == nil {
		return escalate.New(escalate.KindNotFound,
			fmt.Sprintf("no agent record for task %s", taskID)), nil
	}
	if rec.PID != 0 && state.PIDAlive(rec.PID) {
		if esc, err := p.Kill(taskID); esc != nil || err != nil {
			return esc, err
		}
	}

	p.Worktrees.Cleanup(context.Background(), taskID)

	now := time.Now().UTC()
	err = p.Store.UpdateAgent(taskID, func(r *state.AgentRecord) error {
		r.Status = state.StatusRejected
		r.RejectedAt = &now
		r.PID = 0
		return nil
	})
	if err != nil {
		return nil, err
	}
	if transition != "" {
		if err := p.Artefacts.TransitionTask(taskID, transition); err != nil {
			return nil, fmt.Errorf("transitioning task %s: %w", taskID, err)
		}
	}
	if p.Log != nil {
		meta := map[string]any{}
		if reason != "" {
			meta["reason"] = reason
		}
		p.Log.Log(taskID, tasklog.LevelWarn, "agent work rejected", meta)
	}
	return nil, nil
}

func signalProcessGroup(pid int, sig syscall.Signal) {
	if err := syscall.Kill(-pid, sig); err != nil {
		syscall.Kill(pid, sig)
	}
}
