package cli

import (
	"fmt"
	"os"

	"github.com/quazardous/sailing/internal/backlog"
	"github.com/quazardous/sailing/internal/collab"
	"github.com/quazardous/sailing/internal/config"
	"github.com/quazardous/sailing/internal/haven"
	"github.com/quazardous/sailing/internal/prteam"
	"github.com/quazardous/sailing/internal/reap"
	"github.com/quazardous/sailing/internal/spawn"
	"github.com/quazardous/sailing/internal/state"
	"github.com/quazardous/sailing/internal/tasklog"
	"github.com/quazardous/sailing/internal/worktree"
)

// runtime bundles the collaborators every command needs. Each CLI process
// builds its own; there is no shared mutable state beyond the store.
type runtime struct {
	hv      *haven.Haven
	cfg     *config.AgentConfig
	store   *state.Store
	wm      *worktree.Manager
	tasks   *backlog.Store
	log     *tasklog.Writer
	reaper  *reap.Pipeline
	spawner *spawn.Pipeline
}

// openRuntime resolves the haven for the current directory and wires the
// pipelines. Uninitialized projects get a friendly error.
func openRuntime() (*runtime, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	hv, err := haven.Resolve(cwd)
	if err != nil {
		return nil, err
	}
	if hv == nil {
		return nil, fmt.Errorf("no sailing project here; run `sailing init` first")
	}
	if err := hv.EnsureDirs(); err != nil {
		return nil, err
	}
	cfg, err := config.Load(hv.ProjectDir)
	if err != nil {
		return nil, err
	}

	store := state.NewStore(hv.StateFile())
	wm := worktree.NewManager(hv.ProjectDir, hv.WorktreesDir(), cfg.Trunk, worktree.Branching(cfg.Branching))
	tasks := backlog.NewStore(hv)
	logw := tasklog.NewWriter(hv.TaskLog())

	var pr collab.PR
	if cfg.PRProvider != "" {
		pr = prteam.New(cfg.PRProvider)
	}

	reaper := &reap.Pipeline{
		Haven: hv, Store: store, Config: cfg, Worktrees: wm,
		Artefacts: tasks, PR: pr, Log: logw,
	}
	spawner := &spawn.Pipeline{
		Haven: hv, Store: store, Config: cfg, Worktrees: wm,
		Artefacts: tasks,
		Prompts:   &backlog.PromptBuilder{Memory: collab.NoMemory{}},
		Reaper:    reaper, Log: logw,
		HeartbeatOut: os.Stderr,
	}
	return &runtime{
		hv: hv, cfg: cfg, store: store, wm: wm, tasks: tasks,
		log: logw, reaper: reaper, spawner: spawner,
	}, nil
}
