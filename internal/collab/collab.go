// Package collab declares the narrow interfaces through which the
// lifecycle core consumes its external collaborators. The core never
// parses task artefacts, composes prompts, or talks to forges itself.
package collab

import "context"

// Task statuses the core transitions artefacts to.
const (
	TaskDone    = "Done"
	TaskBlocked = "Blocked"
)

// TaskRef is what the core needs to know about a task artefact.
type TaskRef struct {
	ID    string
	File  string
	Title string
	// Parent coordinates: every spawnable task belongs to an epic
	// inside a PRD.
	EpicID string
	PRDID  string
	Body   string
}

// Artefacts is the backlog artefact store.
type Artefacts interface {
	GetTask(id string) (*TaskRef, error)
	TransitionTask(id, newStatus string) error
}

// PromptOptions tweak bootstrap prompt composition.
type PromptOptions struct {
	UseWorktree bool
	WorkDir     string
}

// Prompts composes the child's bootstrap prompt. The core passes the
// result through without interpreting it.
type Prompts interface {
	BuildAgentSpawnPrompt(task *TaskRef, opts PromptOptions) (string, error)
}

// Memory surfaces whatever context the memory subsystem chooses to; the
// core only knows it may be composed into the prompt.
type Memory interface {
	Surface(taskID string) string
}

// PRRequest parameterizes pull request creation.
type PRRequest struct {
	TaskID string
	CWD    string
	Title  string
	Draft  bool
	EpicID string
	PRDID  string
}

// PR creates pull requests on a forge.
type PR interface {
	CreatePR(ctx context.Context, req PRRequest) (url string, err error)
}

// NoMemory is the null Memory collaborator.
type NoMemory struct{}

func (NoMemory) Surface(string) string { return "" }
