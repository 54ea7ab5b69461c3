// Package config loads the per-project supervisor configuration.
//
// Configuration lives in sailing.toml at the project root; every knob has a
// default so an empty file (or none at all) yields a working setup. A small
// set of SAILING_* environment variables override the file for scripting.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/quazardous/sailing/internal/worktree"
)

// FileName is the config file looked up at the project root.
const FileName = "sailing.toml"

var (
	// ErrInvalidValue indicates a recognized key with an unusable value.
	ErrInvalidValue = errors.New("invalid config value")
)

// AgentConfig is the supervisor-facing configuration record.
type AgentConfig struct {
	UseSubprocess bool `toml:"use_subprocess"`
	UseWorktrees  bool `toml:"use_worktrees"`
	Sandbox       bool `toml:"sandbox"`
	RiskyMode     bool `toml:"risky_mode"`

	// MaxBudgetUSD is forwarded to the child; 0 means unlimited.
	MaxBudgetUSD float64 `toml:"max_budget_usd"`
	// WatchdogTimeout in seconds; 0 disables the inactivity watchdog.
	WatchdogTimeout int `toml:"watchdog_timeout"`
	// Timeout is the default wall-clock budget in seconds.
	Timeout int `toml:"timeout"`

	MergeStrategy string `toml:"merge_strategy"` // merge | squash | rebase
	Branching     string `toml:"branching"`      // flat | prd | epic
	Trunk         string `toml:"trunk"`
	SyncParents   bool   `toml:"sync_parents"`
	// KeepWorktrees keeps reaped worktrees on disk for debugging.
	KeepWorktrees bool `toml:"keep_worktrees"`

	PRProvider   string `toml:"pr_provider"`
	AutoPR       bool   `toml:"auto_pr"`
	PRDraft      bool   `toml:"pr_draft"`
	AutoDiagnose bool   `toml:"auto_diagnose"`

	// HeartbeatQuiet/HeartbeatVerbose are the default heartbeat periods
	// in seconds for normal and --verbose supervisors.
	HeartbeatQuiet   int `toml:"heartbeat_quiet"`
	HeartbeatVerbose int `toml:"heartbeat_verbose"`

	// AgentCommand is the child executable; AgentArgs its fixed arguments.
	AgentCommand string   `toml:"agent_command"`
	AgentArgs    []string `toml:"agent_args"`
	// AgentPTY allocates a pseudo-terminal for agent CLIs that refuse
	// to stream output without one.
	AgentPTY bool `toml:"agent_pty"`

	// SandboxCommand wraps the child when sandboxing is on, receiving the
	// settings file path and then the agent command.
	SandboxCommand string `toml:"sandbox_command"`

	// DiagnoseMaxErrors / DiagnoseMaxLen bound the auto-diagnose report.
	DiagnoseMaxErrors int `toml:"diagnose_max_errors"`
	DiagnoseMaxLen    int `toml:"diagnose_max_len"`
}

// Default returns the built-in configuration.
func Default() *AgentConfig {
	return &AgentConfig{
		UseSubprocess:     true,
		UseWorktrees:      true,
		Sandbox:           true,
		Timeout:           3600,
		WatchdogTimeout:   0,
		MergeStrategy:     string(worktree.MergeCommit),
		Branching:         string(worktree.BranchingFlat),
		Trunk:             "main",
		SyncParents:       false,
		PRProvider:        "",
		AutoDiagnose:      true,
		HeartbeatQuiet:    60,
		HeartbeatVerbose:  30,
		AgentCommand:      "claude",
		AgentArgs:         []string{"--output-format", "stream-json", "--print"},
		SandboxCommand:    "srt",
		DiagnoseMaxErrors: 5,
		DiagnoseMaxLen:    400,
	}
}

// Load reads sailing.toml from projectDir (missing file is fine), applies
// environment overrides, and validates.
func Load(projectDir string) (*AgentConfig, error) {
	cfg := Default()

	path := filepath.Join(projectDir, FileName)
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		md, decErr := toml.Decode(string(data), cfg)
		if decErr != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, decErr)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("%w: unknown key(s) in %s: %s",
				ErrInvalidValue, path, strings.Join(keys, ", "))
		}
	case os.IsNotExist(err):
		// defaults
	default:
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *AgentConfig) {
	if v, ok := envBool("SAILING_USE_SUBPROCESS"); ok {
		cfg.UseSubprocess = v
	}
	if v, ok := envBool("SAILING_USE_WORKTREES"); ok {
		cfg.UseWorktrees = v
	}
	if v, ok := envBool("SAILING_SANDBOX"); ok {
		cfg.Sandbox = v
	}
	if v, ok := envBool("SAILING_RISKY_MODE"); ok {
		cfg.RiskyMode = v
	}
	if v := os.Getenv("SAILING_TIMEOUT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Timeout = n
		}
	}
	if v := os.Getenv("SAILING_MERGE_STRATEGY"); v != "" {
		cfg.MergeStrategy = v
	}
	if v := os.Getenv("SAILING_TRUNK"); v != "" {
		cfg.Trunk = v
	}
	if v := os.Getenv("SAILING_BRANCHING"); v != "" {
		cfg.Branching = v
	}
	if v := os.Getenv("SAILING_AGENT_COMMAND"); v != "" {
		cfg.AgentCommand = v
	}
}

func envBool(key string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "on", "yes":
		return true, true
	case "0", "false", "off", "no":
		return false, true
	}
	return false, false
}

// Validate rejects unusable values.
func (c *AgentConfig) Validate() error {
	if !worktree.ValidMergeStrategy(worktree.MergeStrategy(c.MergeStrategy)) {
		return fmt.Errorf("%w: merge_strategy %q (want merge|squash|rebase)",
			ErrInvalidValue, c.MergeStrategy)
	}
	if !worktree.ValidBranching(worktree.Branching(c.Branching)) {
		return fmt.Errorf("%w: branching %q (want flat|prd|epic)",
			ErrInvalidValue, c.Branching)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("%w: timeout %d", ErrInvalidValue, c.Timeout)
	}
	if c.WatchdogTimeout < 0 {
		return fmt.Errorf("%w: watchdog_timeout %d", ErrInvalidValue, c.WatchdogTimeout)
	}
	if c.MaxBudgetUSD < 0 {
		return fmt.Errorf("%w: max_budget_usd %v", ErrInvalidValue, c.MaxBudgetUSD)
	}
	if strings.TrimSpace(c.Trunk) == "" {
		return fmt.Errorf("%w: trunk is empty", ErrInvalidValue)
	}
	if strings.TrimSpace(c.AgentCommand) == "" {
		return fmt.Errorf("%w: agent_command is empty", ErrInvalidValue)
	}
	if c.HeartbeatQuiet <= 0 || c.HeartbeatVerbose <= 0 {
		return fmt.Errorf("%w: heartbeat periods must be positive", ErrInvalidValue)
	}
	if c.AutoPR && strings.TrimSpace(c.PRProvider) == "" {
		return fmt.Errorf("%w: auto_pr requires pr_provider", ErrInvalidValue)
	}
	return nil
}

// WriteStarter writes a commented starter sailing.toml; used by init.
func WriteStarter(projectDir string) error {
	path := filepath.Join(projectDir, FileName)
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	starter := `# sailing supervisor configuration

use_subprocess = true
use_worktrees = true
sandbox = true

# Wall-clock budget per agent, in seconds.
timeout = 3600
# Inactivity watchdog, in seconds. 0 disables it.
watchdog_timeout = 0
# Forwarded to the child; 0 = unlimited.
max_budget_usd = 0.0

# merge | squash | rebase
merge_strategy = "merge"
# flat | prd | epic
branching = "flat"
trunk = "main"
sync_parents = false
keep_worktrees = false

auto_diagnose = true
auto_pr = false
pr_draft = true
# pr_provider = "gh"

agent_command = "claude"
agent_args = ["--output-format", "stream-json", "--print"]
sandbox_command = "srt"
`
	return os.WriteFile(path, []byte(starter), 0644)
}
