// Package spawn provisions and supervises one agent child process per
// task: precondition checks, worktree setup, artifact materialization,
// sandbox + MCP wiring, child launch, and the supervision loop.
package spawn

import (
	"context"
	"fmt"
	"io"
	"os"
	"syscall"
	"time"

	"github.com/quazardous/sailing/internal/collab"
	"github.com/quazardous/sailing/internal/config"
	"github.com/quazardous/sailing/internal/debug"
	"github.com/quazardous/sailing/internal/diagnose"
	"github.com/quazardous/sailing/internal/escalate"
	"github.com/quazardous/sailing/internal/haven"
	"github.com/quazardous/sailing/internal/hexid"
	"github.com/quazardous/sailing/internal/mcp"
	"github.com/quazardous/sailing/internal/noise"
	"github.com/quazardous/sailing/internal/reap"
	"github.com/quazardous/sailing/internal/state"
	"github.com/quazardous/sailing/internal/tail"
	"github.com/quazardous/sailing/internal/tasklog"
	"github.com/quazardous/sailing/internal/worktree"
)

// Pipeline wires the spawn collaborators.
type Pipeline struct {
	Haven     *haven.Haven
	Store     *state.Store
	Config    *config.AgentConfig
	Worktrees *worktree.Manager
	Artefacts collab.Artefacts
	Prompts   collab.Prompts
	Reaper    *reap.Pipeline
	Log       *tasklog.Writer

	// HeartbeatOut receives heartbeat and lifecycle lines (os.Stderr in
	// the CLI; a buffer in tests).
	HeartbeatOut io.Writer
}

// Options configures one spawn.
type Options struct {
	TaskID string
	// Timeout in seconds; 0 falls back to config.
	Timeout int
	// Worktree overrides use_worktrees when non-nil.
	Worktree *bool
	Resume   bool

	NoLog         bool
	NoHeartbeat   bool
	HeartbeatSecs int
	Verbose       bool
	AppendLogs    bool

	// AutoReap runs the reap pipeline immediately after a clean exit.
	AutoReap bool

	// OnEvent receives structured events as they stream (verbose mode).
	OnEvent func(tail.RawEvent)

	// signals injects the supervisor signal channel in tests.
	signals chan os.Signal
}

// Outcome reports a finished (or detached) spawn.
type Outcome struct {
	TaskID     string             `json:"task_id"`
	PID        int                `json:"pid,omitempty"`
	Detached   bool               `json:"detached,omitempty"`
	ExitCode   int                `json:"exit_code"`
	ExitSignal int                `json:"exit_signal,omitempty"`
	TimedOut   bool               `json:"timed_out,omitempty"`
	Status     state.Status       `json:"status"`
	Worktree   *state.WorktreeRef `json:"worktree,omitempty"`
	Resumed    bool               `json:"resumed,omitempty"`
	Reap       *reap.Outcome      `json:"reap,omitempty"`
	Diagnose   *diagnose.Report   `json:"diagnose,omitempty"`
}

// Spawn runs the full pipeline for one task and supervises the child to
// completion (or detach). An escalation returned without an outcome means
// nothing was started; with AutoReap, an escalation from the reap step is
// returned together with the outcome of the finished run. An error means a
// step failed midway and left an accounting trail in the state store.
func (p *Pipeline) Spawn(ctx context.Context, opts Options) (*Outcome, *escalate.Escalation, error) {
	taskID := opts.TaskID
	useWorktree := p.Config.UseWorktrees
	if opts.Worktree != nil {
		useWorktree = *opts.Worktree
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = p.Config.Timeout
	}

	// Precondition 1: subprocess mode.
	if !p.Config.UseSubprocess {
		return nil, escalate.New(escalate.KindPrecondition,
			"subprocess mode is disabled",
			"set use_subprocess = true in sailing.toml",
		), nil
	}

	// Precondition 2: a reachable MCP server.
	descriptor, esc := mcp.CheckAgentServer(p.Haven.MCPDescriptor())
	if esc != nil {
		return nil, esc, nil
	}

	// Precondition 3: a valid task artefact with parent coordinates.
	task, err := p.Artefacts.GetTask(taskID)
	if err != nil {
		if esc, ok := escalate.AsEscalation(err); ok {
			return nil, esc, nil
		}
		return nil, nil, err
	}
	tc := worktree.TaskContext{TaskID: taskID, EpicID: task.EpicID, PRDID: task.PRDID}

	// Precondition 4: the previous record, if any, must allow this spawn.
	st, err := p.Store.Load()
	if err != nil {
		return nil, nil, err
	}
	if prev := st.Get(taskID); prev != nil {
		class, err := p.Worktrees.Classify(ctx, taskID)
		if err != nil {
			return nil, nil, err
		}
		action, esc := reap.Decide(class, opts.Resume, prev.Status, prev.PID != 0 && state.PIDAlive(prev.PID))
		if esc != nil {
			return nil, esc, nil
		}
		switch action {
		case reap.ActionCleanupProceed:
			debug.LogKV("spawn", "auto-cleanup of previous record", "task", taskID, "class", class)
			p.Reaper.CleanupForRespawn(ctx, taskID)
		case reap.ActionResume:
			opts.Resume = true
		}
	}

	// Precondition 5: worktree mode needs a usable repository.
	if useWorktree {
		if esc := p.checkRepo(ctx); esc != nil {
			return nil, esc, nil
		}
	}

	// (a) hierarchy and parent sync.
	var wtRef *state.WorktreeRef
	workDir := p.Haven.ProjectDir
	if useWorktree {
		if err := p.Worktrees.EnsureHierarchy(ctx, tc); err != nil {
			return nil, nil, err
		}
		if _, err := p.Worktrees.SyncParent(ctx, tc, p.Config.SyncParents); err != nil {
			return nil, nil, err
		}

		// (b) create or resume the worktree.
		created, err := p.Worktrees.CreateWorktree(ctx, tc, worktree.CreateOptions{Resume: opts.Resume})
		if err != nil {
			return nil, nil, err
		}
		wtRef = &state.WorktreeRef{
			Path:       created.Path,
			Branch:     created.Branch,
			BaseBranch: created.BaseBranch,
			Branching:  string(p.Worktrees.Branching()),
			Resumed:    created.Resumed,
		}
		workDir = created.Path
	}

	// (c) claim the run.
	release, esc, err := state.Claim(p.Haven.RunsDir(), taskID, "spawn")
	if err != nil {
		return nil, nil, err
	}
	if esc != nil {
		return nil, esc, nil
	}
	defer release()

	// Stale artifacts from a previous run must not leak into this one.
	os.Remove(p.Haven.ResultFile(taskID))
	os.Remove(p.Haven.DoneSentinel(taskID))

	// (d) mission file.
	prompt, err := p.Prompts.BuildAgentSpawnPrompt(task, collab.PromptOptions{
		UseWorktree: useWorktree,
		WorkDir:     workDir,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("building bootstrap prompt: %w", err)
	}
	budget := budgetFromConfig(p.Config, timeout, opts.AppendLogs)
	if err := writeMission(p.Haven.MissionFile(taskID), task, prompt, budget); err != nil {
		return nil, nil, err
	}

	// (e) MCP client config, bridging when the sandbox cannot reach
	// loopback TCP directly.
	var bridge *mcp.Bridge
	bridgeSocket := ""
	if p.Config.Sandbox && descriptor.Mode == mcp.ModePort {
		bridgeSocket = p.Haven.BridgeSocket(taskID, hexid.New())
		bridge, err = mcp.StartBridge(bridgeSocket, descriptor.Port)
		if err != nil {
			return nil, nil, fmt.Errorf("starting socket bridge: %w", err)
		}
		defer bridge.Close()
	}
	allowSocket, err := materializeMCPConfig(p.Haven.MCPConfig(taskID), descriptor, bridgeSocket)
	if err != nil {
		return nil, nil, err
	}

	// (f) sandbox settings.
	settings := sandboxSettings{
		AllowRead:  []string{workDir, p.Haven.AgentDir(taskID)},
		AllowWrite: []string{workDir, p.Haven.AgentDir(taskID)},
		RiskyMode:  p.Config.RiskyMode,
	}
	if allowSocket != "" {
		settings.AllowUnixSockets = append(settings.AllowUnixSockets, allowSocket)
	} else if descriptor.Mode == mcp.ModePort {
		settings.AllowLoopbackTCP = append(settings.AllowLoopbackTCP, descriptor.Port)
	}
	if err := materializeSandboxSettings(p.Haven.SRTSettings(taskID), settings); err != nil {
		return nil, nil, err
	}

	// (g) start the child.
	c, err := launch(p.Config, launchSpec{
		TaskID:     taskID,
		WorkDir:    workDir,
		AgentDir:   p.Haven.AgentDir(taskID),
		Prompt:     prompt,
		RunLog:     p.Haven.RunLog(taskID),
		MCPConfig:  p.Haven.MCPConfig(taskID),
		SRTConfig:  p.Haven.SRTSettings(taskID),
		Mission:    p.Haven.MissionFile(taskID),
		Sandbox:    p.Config.Sandbox,
		UsePTY:     p.Config.AgentPTY,
		AppendLogs: opts.AppendLogs,
	})
	if err != nil {
		return nil, nil, err
	}

	// (h) record the spawn atomically.
	now := time.Now().UTC()
	err = p.Store.UpdateAgent(taskID, func(rec *state.AgentRecord) error {
		*rec = state.AgentRecord{
			TaskID:      taskID,
			Status:      state.StatusSpawned,
			SpawnedAt:   &now,
			PID:         c.pid,
			MissionFile: p.Haven.MissionFile(taskID),
			LogFile:     p.Haven.RunLog(taskID),
			SRTConfig:   p.Haven.SRTSettings(taskID),
			MCPConfig:   p.Haven.MCPConfig(taskID),
			MCPServer:   descriptor.Mode,
			MCPPort:     descriptor.Port,
			MCPPID:      descriptor.PID,
			Worktree:    wtRef,
			Timeout:     timeout,
		}
		return nil
	})
	if err != nil {
		c.signalGroup(syscall.SIGTERM)
		return nil, nil, fmt.Errorf("recording spawn: %w", err)
	}
	if p.Log != nil {
		p.Log.Log(taskID, tasklog.LevelInfo, "spawned agent", map[string]any{"pid": c.pid})
	}

	return p.superviseAndSettle(ctx, taskID, c, opts, wtRef, timeout)
}

// superviseAndSettle runs the supervision loop and settles the record.
func (p *Pipeline) superviseAndSettle(ctx context.Context, taskID string, c *child, opts Options, wtRef *state.WorktreeRef, timeout int) (*Outcome, *escalate.Escalation, error) {
	heartbeat := time.Duration(0)
	if !opts.NoHeartbeat {
		secs := opts.HeartbeatSecs
		if secs == 0 {
			if opts.Verbose {
				secs = p.Config.HeartbeatVerbose
			} else {
				secs = p.Config.HeartbeatQuiet
			}
		}
		heartbeat = time.Duration(secs) * time.Second
	}

	sup, err := supervise(c, superviseConfig{
		TaskID:       taskID,
		Timeout:      time.Duration(timeout) * time.Second,
		Watchdog:     time.Duration(p.Config.WatchdogTimeout) * time.Second,
		Heartbeat:    heartbeat,
		HeartbeatOut: p.HeartbeatOut,
		RunLog:       p.Haven.RunLog(taskID),
		JSONLog:      p.Haven.RunJSONLog(taskID),
		NoLog:        opts.NoLog,
		FromLogStart: !opts.AppendLogs,
		OnEvent:      opts.OnEvent,
		signals:      opts.signals,
	})
	if err != nil {
		return nil, nil, err
	}

	outcome := &Outcome{TaskID: taskID, PID: c.pid, Worktree: wtRef}
	if wtRef != nil {
		outcome.Resumed = wtRef.Resumed
	}

	if sup.Detached {
		// The child runs on; the record keeps its pid for wait/reap.
		outcome.Detached = true
		outcome.Status = state.StatusSpawned
		return outcome, nil, nil
	}

	outcome.ExitCode = sup.ExitCode
	outcome.ExitSignal = sup.ExitSignal
	outcome.TimedOut = sup.TimedOut

	status := state.StatusCompleted
	if sup.ExitCode != 0 || sup.ExitSignal != 0 {
		status = state.StatusError
	}
	outcome.Status = status

	dirty := 0
	if wtRef != nil {
		if n, err := p.Worktrees.UncommittedCount(ctx, wtRef.Path); err == nil {
			dirty = n
		}
	}

	ended := time.Now().UTC()
	code := sup.ExitCode
	err = p.Store.UpdateAgent(taskID, func(rec *state.AgentRecord) error {
		rec.Status = status
		rec.EndedAt = &ended
		rec.PID = 0
		rec.ExitCode = &code
		if sup.ExitSignal != 0 {
			sig := sup.ExitSignal
			rec.ExitSignal = &sig
		}
		rec.DirtyWorktree = dirty > 0
		rec.UncommittedFiles = dirty
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	if p.Log != nil {
		level := tasklog.LevelInfo
		if status == state.StatusError {
			level = tasklog.LevelError
		}
		p.Log.Log(taskID, level, "child exited", map[string]any{
			"exit_code": sup.ExitCode, "exit_signal": sup.ExitSignal, "timed_out": sup.TimedOut,
		})
	}

	// Post-run noise-filtered scan of the structured log.
	if p.Config.AutoDiagnose {
		filters, _ := noise.Load(p.Haven.NoiseFilters())
		task, _ := p.Artefacts.GetTask(taskID)
		epicID, prdID := "", ""
		if task != nil {
			epicID, prdID = task.EpicID, task.PRDID
		}
		report, scanErr := diagnose.Scan(taskID, p.Haven.RunJSONLog(taskID), filters, epicID, prdID,
			diagnose.Options{MaxErrors: p.Config.DiagnoseMaxErrors, MaxLen: p.Config.DiagnoseMaxLen})
		if scanErr != nil {
			debug.LogKV("spawn", "diagnose failed", "task", taskID, "error", scanErr)
		} else {
			outcome.Diagnose = report
		}
	}

	if opts.AutoReap && status == state.StatusCompleted {
		reaped, esc, reapErr := p.Reaper.Reap(ctx, taskID, reap.Options{Wait: true, Timeout: 30 * time.Second})
		if reapErr != nil {
			return nil, nil, reapErr
		}
		if esc != nil {
			return outcome, esc, nil
		}
		outcome.Reap = reaped
	}
	return outcome, nil, nil
}

func (p *Pipeline) checkRepo(ctx context.Context) *escalate.Escalation {
	if !p.Worktrees.IsRepo(ctx) {
		return escalate.New(escalate.KindPrecondition,
			"worktree mode requires a git repository",
			"run inside a git checkout, or pass --no-worktree",
		)
	}
	if !p.Worktrees.HasCommits(ctx) {
		return escalate.New(escalate.KindPrecondition,
			"the repository has no commits",
			"create an initial commit before spawning agents",
		)
	}
	clean, err := p.Worktrees.TrunkClean(ctx)
	if err != nil {
		return escalate.New(escalate.KindGitFailure, err.Error())
	}
	if !clean {
		return escalate.New(escalate.KindPrecondition,
			"the trunk checkout has uncommitted changes",
			"commit or stash them before spawning agents",
			"or pass --no-worktree to run inline",
		)
	}
	return nil
}
