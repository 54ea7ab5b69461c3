package reap

import (
	"context"
	"os"
	"sort"
	"time"

	"github.com/quazardous/sailing/internal/debug"
	"github.com/quazardous/sailing/internal/state"
	"github.com/quazardous/sailing/internal/worktree"
)

// SyncReport is the additions/updates/orphans triple produced by scanning
// worktrees, agent directories, and the state file.
type SyncReport struct {
	DryRun bool `json:"dry_run"`

	// Added lists task IDs with a worktree or agent dir on disk but no
	// record; they are persisted with an inferred status.
	Added []SyncEntry `json:"added,omitempty"`
	// Updated lists records whose status no longer matches reality
	// (live status with a dead pid, vanished worktree).
	Updated []SyncEntry `json:"updated,omitempty"`
	// Orphans lists stale run claims removed.
	Orphans []string `json:"orphans,omitempty"`
}

// SyncEntry is one sync decision.
type SyncEntry struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
	Reason string `json:"reason"`
}

// Sync restores consistency between the filesystem and the state file.
// With dryRun the report is computed but nothing is written.
func (p *Pipeline) Sync(ctx context.Context, dryRun bool) (*SyncReport, error) {
	report := &SyncReport{DryRun: dryRun}

	st, err := p.Store.Load()
	if err != nil {
		return nil, err
	}

	// Records that claim liveness but whose process is gone, or whose
	// worktree vanished, become orphaned.
	for id, rec := range st.Agents {
		switch {
		case rec.Status.Live() && !state.PIDAlive(rec.PID):
			report.Updated = append(report.Updated, SyncEntry{
				TaskID: id, Status: string(state.StatusOrphaned),
				Reason: "record is live but its process is gone",
			})
		case rec.Worktree != nil && !dirExists(rec.Worktree.Path) && !rec.Status.Terminal():
			report.Updated = append(report.Updated, SyncEntry{
				TaskID: id, Status: string(state.StatusOrphaned),
				Reason: "worktree path no longer exists",
			})
		}
	}

	// Worktrees on disk without a record: infer a completed agent so the
	// next reap treats them normally.
	entries, err := os.ReadDir(p.Haven.WorktreesDir())
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		taskID := e.Name()
		if st.Get(taskID) != nil {
			continue
		}
		report.Added = append(report.Added, SyncEntry{
			TaskID: taskID, Status: string(state.StatusCompleted),
			Reason: "worktree on disk with no record",
		})
	}

	// Agent dirs without record or worktree: same inference.
	agentEntries, err := os.ReadDir(p.Haven.AgentsDir())
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	for _, e := range agentEntries {
		if !e.IsDir() {
			continue
		}
		taskID := e.Name()
		if st.Get(taskID) != nil || syncHasEntry(report.Added, taskID) {
			continue
		}
		report.Added = append(report.Added, SyncEntry{
			TaskID: taskID, Status: string(state.StatusCompleted),
			Reason: "agent artifacts on disk with no record",
		})
	}
	sort.Slice(report.Added, func(i, j int) bool { return report.Added[i].TaskID < report.Added[j].TaskID })

	// Stale run claims.
	claims, err := state.ListClaims(p.Haven.RunsDir())
	if err != nil {
		return nil, err
	}
	for _, claim := range claims {
		if !state.PIDAlive(claim.PID) {
			report.Orphans = append(report.Orphans, claim.TaskID)
		}
	}

	if dryRun {
		return report, nil
	}

	now := time.Now().UTC()
	err = p.Store.Update(func(st *state.State) error {
		for _, entry := range report.Updated {
			rec := st.Agents[entry.TaskID]
			if rec == nil {
				continue
			}
			rec.Status = state.StatusOrphaned
			rec.PID = 0
		}
		for _, entry := range report.Added {
			wtPath := p.Haven.Worktree(entry.TaskID)
			rec := &state.AgentRecord{
				TaskID:    entry.TaskID,
				Status:    state.StatusCompleted,
				SpawnedAt: &now,
				EndedAt:   &now,
				LogFile:   p.Haven.RunLog(entry.TaskID),
			}
			if dirExists(wtPath) {
				rec.Worktree = &state.WorktreeRef{
					Path:       wtPath,
					Branch:     p.Worktrees.TaskBranch(entry.TaskID),
					BaseBranch: p.Worktrees.Trunk(),
					Branching:  string(p.Worktrees.Branching()),
				}
				if n, err := p.Worktrees.UncommittedCount(ctx, wtPath); err == nil && n > 0 {
					rec.DirtyWorktree = true
					rec.UncommittedFiles = n
				}
			}
			st.Agents[entry.TaskID] = rec
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, taskID := range report.Orphans {
		os.Remove(p.Haven.RunClaim(taskID))
	}

	debug.LogKV("sync", "applied",
		"added", len(report.Added),
		"updated", len(report.Updated),
		"orphans", len(report.Orphans),
	)
	return report, nil
}

// CleanupForRespawn applies the decision-table auto-cleanup before a fresh
// spawn replaces a stale record.
func (p *Pipeline) CleanupForRespawn(ctx context.Context, taskID string) worktree.CleanupResult {
	res := p.Worktrees.Cleanup(ctx, taskID)
	if err := p.Store.DeleteAgent(taskID); err != nil {
		res.Errors = append(res.Errors, err.Error())
	}
	return res
}

func syncHasEntry(entries []SyncEntry, taskID string) bool {
	for _, e := range entries {
		if e.TaskID == taskID {
			return true
		}
	}
	return false
}

func dirExists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}
