package state

import "time"

// Status is the lifecycle state of an agent record. Transitions are
// monotonic within one lifecycle; see the supervisor state machine.
type Status string

const (
	StatusSpawned   Status = "spawned"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
	StatusReaped    Status = "reaped"
	StatusMerged    Status = "merged"
	StatusKilled    Status = "killed"
	StatusRejected  Status = "rejected"
	StatusOrphaned  Status = "orphaned"
)

// Terminal reports whether s is terminal from a reap perspective.
func (s Status) Terminal() bool {
	switch s {
	case StatusReaped, StatusRejected, StatusKilled:
		return true
	}
	return false
}

// Live reports whether the record is expected to have a running process.
func (s Status) Live() bool {
	return s == StatusSpawned || s == StatusRunning
}

// ResultStatus is read from the child's result file.
type ResultStatus string

const (
	ResultCompleted ResultStatus = "completed"
	ResultFailed    ResultStatus = "failed"
	ResultBlocked   ResultStatus = "blocked"
)

// WorktreeRef describes the isolated checkout assigned to an agent.
// Absent in inline mode.
type WorktreeRef struct {
	Path       string `json:"path"`
	Branch     string `json:"branch"`
	BaseBranch string `json:"base_branch"`
	Branching  string `json:"branching"`
	Resumed    bool   `json:"resumed,omitempty"`
}

// AgentRecord is the durable accounting for one task's agent lifecycle.
type AgentRecord struct {
	TaskID string `json:"task_id"`
	Status Status `json:"status"`

	SpawnedAt  *time.Time `json:"spawned_at,omitempty"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	ReapedAt   *time.Time `json:"reaped_at,omitempty"`
	KilledAt   *time.Time `json:"killed_at,omitempty"`
	RejectedAt *time.Time `json:"rejected_at,omitempty"`

	// PID is present only while the child is alive.
	PID        int  `json:"pid,omitempty"`
	ExitCode   *int `json:"exit_code,omitempty"`
	ExitSignal *int `json:"exit_signal,omitempty"`

	MissionFile string `json:"mission_file,omitempty"`
	LogFile     string `json:"log_file,omitempty"`
	SRTConfig   string `json:"srt_config,omitempty"`
	MCPConfig   string `json:"mcp_config,omitempty"`

	MCPServer string `json:"mcp_server,omitempty"`
	MCPPort   int    `json:"mcp_port,omitempty"`
	MCPPID    int    `json:"mcp_pid,omitempty"`

	Worktree *WorktreeRef `json:"worktree,omitempty"`

	DirtyWorktree    bool `json:"dirty_worktree,omitempty"`
	UncommittedFiles int  `json:"uncommitted_files,omitempty"`

	ResultStatus ResultStatus `json:"result_status,omitempty"`

	PRURL       string     `json:"pr_url,omitempty"`
	PRCreatedAt *time.Time `json:"pr_created_at,omitempty"`

	// Timeout is the requested budget in seconds.
	Timeout int `json:"timeout,omitempty"`
}

// State is the durable map persisted to state.json.
type State struct {
	Version int                     `json:"version"`
	Agents  map[string]*AgentRecord `json:"agents"`
}

// CurrentVersion is written on every persist.
const CurrentVersion = 1

func newState() *State {
	return &State{Version: CurrentVersion, Agents: make(map[string]*AgentRecord)}
}

// Get returns the record for taskID, or nil.
func (s *State) Get(taskID string) *AgentRecord {
	if s == nil || s.Agents == nil {
		return nil
	}
	return s.Agents[taskID]
}

// Clone deep-copies the state so snapshots can be mutated safely.
func (s *State) Clone() *State {
	out := newState()
	out.Version = s.Version
	for id, rec := range s.Agents {
		cp := *rec
		if rec.Worktree != nil {
			wt := *rec.Worktree
			cp.Worktree = &wt
		}
		cp.SpawnedAt = copyTime(rec.SpawnedAt)
		cp.EndedAt = copyTime(rec.EndedAt)
		cp.ReapedAt = copyTime(rec.ReapedAt)
		cp.KilledAt = copyTime(rec.KilledAt)
		cp.RejectedAt = copyTime(rec.RejectedAt)
		cp.PRCreatedAt = copyTime(rec.PRCreatedAt)
		cp.ExitCode = copyInt(rec.ExitCode)
		cp.ExitSignal = copyInt(rec.ExitSignal)
		out.Agents[id] = &cp
	}
	return out
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func copyInt(i *int) *int {
	if i == nil {
		return nil
	}
	v := *i
	return &v
}
