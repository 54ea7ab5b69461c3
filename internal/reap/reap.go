// Package reap reconciles a finished agent into the repository:
// wait for the child, read its result, auto-commit leftovers, classify the
// worktree, merge under the configured strategy, transition the task
// artefact, and record the reap. Conflicts and precondition failures come
// back as escalations; trunk is never mutated once a conflict is seen.
package reap

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/quazardous/sailing/internal/collab"
	"github.com/quazardous/sailing/internal/config"
	"github.com/quazardous/sailing/internal/debug"
	"github.com/quazardous/sailing/internal/escalate"
	"github.com/quazardous/sailing/internal/haven"
	"github.com/quazardous/sailing/internal/state"
	"github.com/quazardous/sailing/internal/tasklog"
	"github.com/quazardous/sailing/internal/worktree"
)

// waitPoll is the completion check cadence during a waiting reap.
const waitPoll = 5 * time.Second

// Pipeline wires the reap collaborators.
type Pipeline struct {
	Haven     *haven.Haven
	Store     *state.Store
	Config    *config.AgentConfig
	Worktrees *worktree.Manager
	Artefacts collab.Artefacts
	PR        collab.PR
	Log       *tasklog.Writer

	// pollInterval overrides waitPoll in tests.
	pollInterval time.Duration
}

// Options configures one reap.
type Options struct {
	// Wait blocks until the child finishes (bounded by Timeout).
	Wait    bool
	Timeout time.Duration
	// CleanupWorktree removes the worktree after a successful merge.
	CleanupWorktree bool
}

// Outcome reports a successful reap.
type Outcome struct {
	TaskID        string             `json:"task_id"`
	ResultStatus  state.ResultStatus `json:"result_status"`
	Class         worktree.Class     `json:"class,omitempty"`
	Merged        bool               `json:"merged"`
	MergeCommit   string             `json:"merge_commit,omitempty"`
	AutoCommitted bool               `json:"auto_committed"`
	WorktreeKept  bool               `json:"worktree_kept"`
	Transitioned  string             `json:"transitioned"`
	PRURL         string             `json:"pr_url,omitempty"`
}

func (p *Pipeline) poll() time.Duration {
	if p.pollInterval > 0 {
		return p.pollInterval
	}
	return waitPoll
}

// Reap runs the pipeline for one task.
func (p *Pipeline) Reap(ctx context.Context, taskID string, opts Options) (*Outcome, *escalate.Escalation, error) {
	st, err := p.Store.Load()
	if err != nil {
		return nil, nil, err
	}
	rec := st.Get(taskID)
	if rec == nil {
		return nil, escalate.New(escalate.KindNotFound,
			fmt.Sprintf("no agent record for task %s", taskID),
			"check `sailing status --all`",
			"recover lost records with `sailing sync`",
		), nil
	}
	if rec.ReapedAt != nil {
		return nil, escalate.New(escalate.KindPrecondition,
			fmt.Sprintf("task %s was already reaped at %s", taskID, rec.ReapedAt.Format(time.RFC3339)),
			"spawn a new agent for further work",
		), nil
	}
	if rec.Status == state.StatusKilled || rec.Status == state.StatusRejected {
		return nil, escalate.New(escalate.KindPrecondition,
			fmt.Sprintf("task %s is %s; there is nothing to reap", taskID, rec.Status),
			"spawn a new agent for further work",
		), nil
	}
	// A crashed child is never merged silently; its worktree stays intact
	// for inspection.
	if rec.Status == state.StatusError || rec.Status == state.StatusOrphaned {
		reason := fmt.Sprintf("the agent for %s ended in %s", taskID, rec.Status)
		if rec.ExitSignal != nil {
			reason = fmt.Sprintf("%s (signal %d)", reason, *rec.ExitSignal)
		} else if rec.ExitCode != nil {
			reason = fmt.Sprintf("%s (exit code %d)", reason, *rec.ExitCode)
		}
		return nil, escalate.New(escalate.KindChildFailed,
			reason,
			"inspect the log: sailing log "+taskID,
			"retry in place: sailing spawn "+taskID+" --resume",
			"discard the work: sailing reject "+taskID,
		), nil
	}

	// Step 1: a live child either blocks the reap or is waited out.
	if esc, err := p.awaitCompletion(ctx, taskID, rec, opts); esc != nil || err != nil {
		return nil, esc, err
	}

	release, esc, err := state.Claim(p.Haven.RunsDir(), taskID, "reap")
	if err != nil {
		return nil, nil, err
	}
	if esc != nil {
		return nil, esc, nil
	}
	defer release()

	// Step 2: child's verdict, defaulting to completed when absent.
	result, err := ReadResult(p.Haven.ResultFile(taskID))
	if err != nil {
		return nil, nil, err
	}
	resultStatus := state.ResultStatus(result.Status)

	outcome := &Outcome{TaskID: taskID, ResultStatus: resultStatus, WorktreeKept: true}

	// Step 3: reconcile the worktree, if any.
	if rec.Worktree != nil {
		esc, err := p.reconcileWorktree(ctx, taskID, rec, opts, outcome)
		if esc != nil || err != nil {
			return nil, esc, err
		}
	}

	// Step 4: transition the task artefact.
	target := collab.TaskBlocked
	if resultStatus == state.ResultCompleted {
		target = collab.TaskDone
	}
	if err := p.Artefacts.TransitionTask(taskID, target); err != nil {
		return nil, nil, fmt.Errorf("transitioning task %s: %w", taskID, err)
	}
	outcome.Transitioned = target

	// Step 5: record the reap.
	now := time.Now().UTC()
	err = p.Store.UpdateAgent(taskID, func(r *state.AgentRecord) error {
		r.Status = state.StatusReaped
		r.ResultStatus = resultStatus
		r.ReapedAt = &now
		r.PID = 0
		if outcome.PRURL != "" {
			r.PRURL = outcome.PRURL
			r.PRCreatedAt = &now
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	if p.Log != nil {
		p.Log.Log(taskID, tasklog.LevelInfo, "reaped", map[string]any{
			"result": string(resultStatus), "merged": outcome.Merged, "class": string(outcome.Class),
		})
	}
	debug.LogKV("reap", "reaped", "task", taskID, "result", resultStatus, "merged", outcome.Merged)
	return outcome, nil, nil
}

// awaitCompletion implements step 1: escalate on a live child unless
// waiting was requested, then poll for completion.
func (p *Pipeline) awaitCompletion(ctx context.Context, taskID string, rec *state.AgentRecord, opts Options) (*escalate.Escalation, error) {
	if rec.PID == 0 || !state.PIDAlive(rec.PID) {
		return nil, nil
	}
	if !opts.Wait {
		return escalate.New(escalate.KindAlreadyRunning,
			fmt.Sprintf("the agent for %s is still running (pid %d)", taskID, rec.PID),
			"wait for it: sailing reap "+taskID+" --timeout <s>",
			"watch it: sailing wait "+taskID,
			"stop it: sailing kill "+taskID,
		), nil
	}

	deadline := time.Now().Add(opts.Timeout)
	ticker := time.NewTicker(p.poll())
	defer ticker.Stop()
	for {
		st, err := p.Store.Load()
		if err != nil {
			return nil, err
		}
		cur := st.Get(taskID)
		if cur == nil {
			return escalate.New(escalate.KindNotFound,
				fmt.Sprintf("record for %s disappeared while waiting", taskID)), nil
		}
		done := !cur.Status.Live()
		if !done {
			if _, err := os.Stat(p.Haven.DoneSentinel(taskID)); err == nil {
				done = true
			}
		}
		if !done && cur.PID != 0 && !state.PIDAlive(cur.PID) {
			done = true
		}
		if done {
			return nil, nil
		}
		if opts.Timeout > 0 && time.Now().After(deadline) {
			return escalate.New(escalate.KindTimeout,
				fmt.Sprintf("agent for %s did not finish within %s", taskID, opts.Timeout),
				"extend the wait: sailing reap "+taskID+" --timeout <s>",
				"stop it: sailing kill "+taskID,
			), nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// reconcileWorktree implements step 3: auto-commit, classify, merge.
func (p *Pipeline) reconcileWorktree(ctx context.Context, taskID string, rec *state.AgentRecord, opts Options, outcome *Outcome) (*escalate.Escalation, error) {
	wt := rec.Worktree

	// 3a: auto-commit anything the child left uncommitted.
	if _, statErr := os.Stat(wt.Path); statErr == nil {
		msg := fmt.Sprintf("chore(%s): auto-commit agent changes", taskID)
		if _, committed, err := p.Worktrees.AutoCommitIfDirty(ctx, wt.Path, msg); err != nil {
			return nil, fmt.Errorf("auto-commit in %s: %w", wt.Path, err)
		} else if committed {
			outcome.AutoCommitted = true
			debug.LogKV("reap", "auto-committed leftovers", "task", taskID)
		}
	}

	// 3b: classify against trunk.
	class, err := p.Worktrees.Classify(ctx, taskID)
	if err != nil {
		return nil, err
	}
	outcome.Class = class

	switch class {
	case worktree.ClassAhead:
		// 3c/3d: dry-run first; a conflict stops everything untouched.
		res, err := p.Worktrees.MergeTo(ctx, p.Worktrees.Trunk(), wt.Branch, worktree.MergeStrategy(p.Config.MergeStrategy))
		if err != nil {
			return nil, err
		}
		if len(res.ConflictFiles) > 0 {
			esc := escalate.New(escalate.KindConflict,
				"Merge conflicts detected",
				fmt.Sprintf("create a resolution branch: git branch %s %s && resolve by hand",
					p.Worktrees.ReconcileBranch(taskID), wt.Branch),
				fmt.Sprintf("conflicting files: %v", res.ConflictFiles),
				"reject the work instead: sailing reject "+taskID,
			)
			esc.ConflictFiles = res.ConflictFiles
			return esc, nil
		}
		outcome.Merged = true
		outcome.MergeCommit = res.Commit

		if p.Config.AutoPR && p.PR != nil {
			url, prErr := p.PR.CreatePR(ctx, collab.PRRequest{
				TaskID: taskID,
				CWD:    p.Worktrees.WorktreePath(taskID),
				Draft:  p.Config.PRDraft,
			})
			if prErr != nil {
				debug.LogKV("reap", "auto-pr failed", "task", taskID, "error", prErr)
			} else {
				outcome.PRURL = url
			}
		}

	case worktree.ClassAbsent, worktree.ClassCleanNoncontrib,
		worktree.ClassAlreadyMergedClean, worktree.ClassAlreadyMergedDirty:
		// Nothing to land. already_merged_dirty cannot occur here because
		// the auto-commit above just captured any leftovers.

	case worktree.ClassDirty:
		// Auto-commit failed to produce a commit yet the tree is dirty;
		// surface rather than guessing.
		return escalate.New(escalate.KindPrecondition,
			fmt.Sprintf("worktree for %s is still dirty after auto-commit", taskID),
			"inspect it: sailing status "+taskID+" --git",
		), nil
	}

	// 3e: optionally drop the worktree.
	if opts.CleanupWorktree && !p.Config.KeepWorktrees {
		if err := p.Worktrees.RemoveWorktree(ctx, taskID, true); err != nil {
			debug.LogKV("reap", "worktree cleanup failed", "task", taskID, "error", err)
		} else {
			outcome.WorktreeKept = false
		}
	}
	return nil, nil
}
