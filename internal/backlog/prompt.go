package backlog

import (
	"fmt"
	"strings"

	"github.com/quazardous/sailing/internal/collab"
)

// PromptBuilder is the default Prompts collaborator. It assembles the
// bootstrap text from the task artefact plus whatever the memory
// collaborator surfaces.
type PromptBuilder struct {
	Memory collab.Memory
}

// BuildAgentSpawnPrompt composes the free-form bootstrap prompt.
func (b *PromptBuilder) BuildAgentSpawnPrompt(task *collab.TaskRef, opts collab.PromptOptions) (string, error) {
	if task == nil {
		return "", fmt.Errorf("task is nil")
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are working on task %s", task.ID)
	if task.Title != "" {
		fmt.Fprintf(&sb, ": %s", task.Title)
	}
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "Epic: %s\nPRD: %s\n\n", task.EpicID, task.PRDID)

	if task.Body != "" {
		sb.WriteString(task.Body)
		sb.WriteString("\n\n")
	}

	sb.WriteString("Deliverables:\n")
	if opts.UseWorktree {
		fmt.Fprintf(&sb, "- Commit your work on the current branch in %s.\n", opts.WorkDir)
	} else {
		sb.WriteString("- Commit your work in the repository.\n")
	}
	sb.WriteString("- Write a result file when finished (status: completed, failed, or blocked).\n")
	sb.WriteString("- Stay within the task scope; anything else goes into notes.\n")

	if b.Memory != nil {
		if mem := strings.TrimSpace(b.Memory.Surface(task.ID)); mem != "" {
			sb.WriteString("\nRelevant context:\n")
			sb.WriteString(mem)
			sb.WriteString("\n")
		}
	}
	return sb.String(), nil
}
