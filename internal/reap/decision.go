package reap

import (
	"fmt"

	"github.com/quazardous/sailing/internal/escalate"
	"github.com/quazardous/sailing/internal/state"
	"github.com/quazardous/sailing/internal/worktree"
)

// Action is what a new spawn does about a previous record.
type Action int

const (
	// ActionProceed spawns fresh; nothing to clean.
	ActionProceed Action = iota
	// ActionCleanupProceed removes the stale worktree/branch first.
	ActionCleanupProceed
	// ActionResume attaches a new supervisor to the existing worktree.
	ActionResume
)

// Decide applies the previous-record decision table. A nil escalation
// means the returned action may be taken; otherwise the spawn is rejected.
func Decide(class worktree.Class, resume bool, prior state.Status, pidAlive bool) (Action, *escalate.Escalation) {
	if pidAlive {
		return 0, escalate.New(escalate.KindAlreadyRunning,
			"a previous agent for this task is still running",
			"wait for it: sailing wait <task>",
			"stop it: sailing kill <task>",
			"collect it: sailing reap <task>",
		)
	}

	switch class {
	case worktree.ClassAbsent, worktree.ClassCleanNoncontrib, worktree.ClassAlreadyMergedClean:
		return ActionCleanupProceed, nil

	case worktree.ClassAlreadyMergedDirty:
		if resume {
			return ActionResume, nil
		}
		return 0, escalate.New(escalate.KindPrecondition,
			"the previous worktree was merged but has new uncommitted changes",
			"resume in place: sailing spawn <task> --resume",
			"discard the leftovers: sailing reject <task>",
		)

	case worktree.ClassDirty, worktree.ClassAhead:
		if resume {
			return ActionResume, nil
		}
		if prior == state.StatusCompleted || prior == state.StatusReaped {
			return 0, escalate.New(escalate.KindPrecondition,
				fmt.Sprintf("the previous agent finished but left the worktree %s", class),
				"resume in place: sailing spawn <task> --resume",
				"merge its work: sailing reap <task>",
				"discard it: sailing reject <task>",
			)
		}
		return 0, escalate.New(escalate.KindPrecondition,
			fmt.Sprintf("the previous agent did not finish and left the worktree %s", class),
			"resume in place: sailing spawn <task> --resume",
			"inspect it: sailing status <task> --git",
			"discard it: sailing reject <task>",
		)
	}

	return 0, escalate.New(escalate.KindPrecondition,
		fmt.Sprintf("unhandled worktree classification %q", class))
}
