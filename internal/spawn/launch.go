package spawn

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"

	"github.com/creack/pty"

	"github.com/quazardous/sailing/internal/config"
	"github.com/quazardous/sailing/internal/debug"
)

// launchSpec is everything needed to start one child process.
type launchSpec struct {
	TaskID     string
	WorkDir    string
	AgentDir   string
	Prompt     string
	RunLog     string
	MCPConfig  string
	SRTConfig  string
	Mission    string
	Sandbox    bool
	UsePTY     bool
	AppendLogs bool
	ExtraEnv   map[string]string
}

// child is a started agent process.
type child struct {
	cmd *exec.Cmd
	pid int
	// pty is the master side when the child runs under a pseudo-terminal;
	// the supervisor pumps it into the run log. In the normal case the
	// child writes the run log directly and survives a detach.
	pty *os.File
}

// buildCommand assembles the child argv. Under sandboxing the configured
// wrapper receives the settings file, then the agent command after `--`.
func buildCommand(cfg *config.AgentConfig, spec launchSpec) (string, []string) {
	agentArgs := append([]string(nil), cfg.AgentArgs...)
	if !spec.Sandbox {
		return cfg.AgentCommand, agentArgs
	}
	args := []string{"--settings", spec.SRTConfig, "--"}
	args = append(args, cfg.AgentCommand)
	args = append(args, agentArgs...)
	return cfg.SandboxCommand, args
}

// launch starts the child in its own session, pipes the bootstrap prompt
// to stdin, and points stdout/stderr at the run log so output keeps
// flowing even if every supervisor detaches.
func launch(cfg *config.AgentConfig, spec launchSpec) (*child, error) {
	name, args := buildCommand(cfg, spec)
	debug.LogKV("spawn", "launching child",
		"task", spec.TaskID,
		"command", name+" "+strings.Join(args, " "),
		"workdir", spec.WorkDir,
		"pty", spec.UsePTY,
		"sandbox", spec.Sandbox,
	)

	cmd := exec.Command(name, args...)
	cmd.Dir = spec.WorkDir

	env := os.Environ()
	env = append(env,
		"SAILING_TASK_ID="+spec.TaskID,
		"SAILING_AGENT_DIR="+spec.AgentDir,
		"SAILING_MCP_CONFIG="+spec.MCPConfig,
		"SAILING_MISSION_FILE="+spec.Mission,
	)
	for k, v := range spec.ExtraEnv {
		env = append(env, k+"="+v)
	}
	cmd.Env = debug.PropagatedEnv(env, "child:"+spec.TaskID)
	cmd.Stdin = strings.NewReader(spec.Prompt)

	if spec.UsePTY {
		// Some agent CLIs refuse to stream without a terminal. The pty
		// ties the child's output to this supervisor.
		f, err := pty.Start(cmd)
		if err != nil {
			return nil, fmt.Errorf("starting child under pty: %w", err)
		}
		return &child{cmd: cmd, pid: cmd.Process.Pid, pty: f}, nil
	}

	flags := os.O_CREATE | os.O_WRONLY
	if spec.AppendLogs {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	logFile, err := os.OpenFile(spec.RunLog, flags, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening run log: %w", err)
	}
	defer logFile.Close()

	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting child: %w", err)
	}
	return &child{cmd: cmd, pid: cmd.Process.Pid}, nil
}

// signalGroup delivers sig to the child's process group (or the process
// itself under a pty).
func (c *child) signalGroup(sig syscall.Signal) {
	if c.pid <= 0 {
		return
	}
	if c.pty != nil {
		syscall.Kill(c.pid, sig)
		return
	}
	// Negative pid: the whole session started with Setsid.
	if err := syscall.Kill(-c.pid, sig); err != nil {
		syscall.Kill(c.pid, sig)
	}
}

// exitStatus extracts (code, signal) from a finished command.
func (c *child) exitStatus() (code int, sig int) {
	ps := c.cmd.ProcessState
	if ps == nil {
		return -1, 0
	}
	if ws, ok := ps.Sys().(syscall.WaitStatus); ok {
		if ws.Signaled() {
			return -1, int(ws.Signal())
		}
		return ws.ExitStatus(), 0
	}
	return ps.ExitCode(), 0
}
