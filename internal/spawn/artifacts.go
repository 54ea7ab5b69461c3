package spawn

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/quazardous/sailing/internal/collab"
	"github.com/quazardous/sailing/internal/config"
	"github.com/quazardous/sailing/internal/mcp"
)

// Mission is the write-once dossier describing a spawn; kept for
// debugging and tracing only, nothing reads it back on the hot path.
type Mission struct {
	TaskID       string    `yaml:"task_id"`
	EpicID       string    `yaml:"epic_id"`
	PRDID        string    `yaml:"prd_id"`
	Instructions string    `yaml:"instructions"`
	Constraints  Budget    `yaml:"constraints"`
	CreatedAt    time.Time `yaml:"created_at"`
}

// Budget carries the watchdog parameters forwarded to the child launcher.
// The supervisor does not enforce the monetary budget itself.
type Budget struct {
	Timeout         int     `yaml:"timeout"`
	MaxBudgetUSD    float64 `yaml:"max_budget_usd"`
	WatchdogTimeout int     `yaml:"watchdog_timeout"`
	RiskyMode       bool    `yaml:"risky_mode"`
	Sandbox         bool    `yaml:"sandbox"`
	AppendLogs      bool    `yaml:"append_logs"`
}

func budgetFromConfig(cfg *config.AgentConfig, timeout int, appendLogs bool) Budget {
	return Budget{
		Timeout:         timeout,
		MaxBudgetUSD:    cfg.MaxBudgetUSD,
		WatchdogTimeout: cfg.WatchdogTimeout,
		RiskyMode:       cfg.RiskyMode,
		Sandbox:         cfg.Sandbox,
		AppendLogs:      appendLogs,
	}
}

// writeMission persists the mission file.
func writeMission(path string, task *collab.TaskRef, prompt string, budget Budget) error {
	m := Mission{
		TaskID:       task.ID,
		EpicID:       task.EpicID,
		PRDID:        task.PRDID,
		Instructions: prompt,
		Constraints:  budget,
		CreatedAt:    time.Now().UTC(),
	}
	data, err := yaml.Marshal(&m)
	if err != nil {
		return fmt.Errorf("encoding mission: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// mcpClientConfig is the child-facing MCP configuration document.
type mcpClientConfig struct {
	Servers map[string]mcpServerEntry `json:"mcpServers"`
}

type mcpServerEntry struct {
	Type   string `json:"type"`             // "socket" or "tcp"
	Socket string `json:"socket,omitempty"` // unix socket path
	Host   string `json:"host,omitempty"`
	Port   int    `json:"port,omitempty"`
}

// materializeMCPConfig writes the child's MCP client config pointing at the
// server, or at the bridge socket when one is in play. It returns the
// endpoint the sandbox must allow.
func materializeMCPConfig(path string, d *mcp.Descriptor, bridgeSocket string) (allowSocket string, err error) {
	entry := mcpServerEntry{}
	switch {
	case bridgeSocket != "":
		entry.Type = "socket"
		entry.Socket = bridgeSocket
		allowSocket = bridgeSocket
	case d.Mode == mcp.ModeSocket:
		entry.Type = "socket"
		entry.Socket = d.Socket
		allowSocket = d.Socket
	default:
		entry.Type = "tcp"
		entry.Host = "127.0.0.1"
		entry.Port = d.Port
	}

	doc := mcpClientConfig{Servers: map[string]mcpServerEntry{"sailing": entry}}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", err
	}
	return allowSocket, os.WriteFile(path, append(data, '\n'), 0644)
}

// sandboxSettings enumerates the child's filesystem and IPC allowlists.
type sandboxSettings struct {
	AllowRead        []string `json:"allow_read"`
	AllowWrite       []string `json:"allow_write"`
	AllowUnixSockets []string `json:"allow_unix_sockets,omitempty"`
	AllowLoopbackTCP []int    `json:"allow_loopback_tcp,omitempty"`
	RiskyMode        bool     `json:"risky_mode,omitempty"`
}

// materializeSandboxSettings writes the srt settings document.
func materializeSandboxSettings(path string, s sandboxSettings) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0644)
}

