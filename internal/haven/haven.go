// Package haven resolves and lays out the per-project host directory that
// holds agent artifacts, worktrees, run claims, durable state and logs.
//
// A repository is linked to its haven through an in-repo marker file
// (.sailing.json) carrying a stable project id; the haven itself lives under
// ~/.sailing/havens/<id> (overridable with SAILING_HOME) so sandboxed
// children never write inside the repository checkout.
package haven

import (
	"crypto/rand"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// MarkerFile is the in-repo marker linking a repo to its haven.
const MarkerFile = ".sailing.json"

// EnvHome overrides the root under which havens are created.
const EnvHome = "SAILING_HOME"

type marker struct {
	ID string `json:"id"`
}

// Haven is a resolved per-project directory.
type Haven struct {
	ProjectDir string // repository root containing .sailing.json
	ProjectID  string
	Root       string // the haven directory itself
}

func cleanPath(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		path = "."
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return filepath.Clean(path)
}

func homeRoot() (string, error) {
	if env := strings.TrimSpace(os.Getenv(EnvHome)); env != "" {
		return cleanPath(env), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home dir: %w", err)
	}
	return filepath.Join(home, ".sailing"), nil
}

// RootForID returns the haven directory for a project id.
func RootForID(projectID string) (string, error) {
	root, err := homeRoot()
	if err != nil {
		return "", err
	}
	return filepath.Join(root, "havens", projectID), nil
}

// MarkerPath returns <projectDir>/.sailing.json.
func MarkerPath(projectDir string) string {
	return filepath.Join(cleanPath(projectDir), MarkerFile)
}

// FindProjectDir walks up from startDir until a directory containing the
// marker is found. Returns "" when no marker is present.
func FindProjectDir(startDir string) (string, error) {
	candidate := cleanPath(startDir)
	for {
		if _, err := os.Stat(MarkerPath(candidate)); err == nil {
			return candidate, nil
		} else if !os.IsNotExist(err) {
			return "", err
		}
		parent := filepath.Dir(candidate)
		if parent == candidate {
			break
		}
		candidate = parent
	}
	return "", nil
}

// ReadProjectID reads the id from the marker in projectDir.
func ReadProjectID(projectDir string) (string, error) {
	path := MarkerPath(projectDir)
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	var m marker
	if err := json.Unmarshal(data, &m); err != nil {
		return "", fmt.Errorf("parsing %s: %w", path, err)
	}
	id := strings.TrimSpace(m.ID)
	if id == "" {
		return "", fmt.Errorf("parsing %s: missing id", path)
	}
	return id, nil
}

// GenerateProjectID derives a short stable id from the project path plus
// random salt, so two checkouts of the same repo get distinct havens.
func GenerateProjectID(projectDir string) (string, error) {
	var salt [8]byte
	if _, err := rand.Read(salt[:]); err != nil {
		return "", fmt.Errorf("generating project id: %w", err)
	}
	h := sha1.Sum(append([]byte(cleanPath(projectDir)), salt[:]...))
	base := filepath.Base(cleanPath(projectDir))
	base = strings.ToLower(strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		default:
			return '-'
		}
	}, base))
	return fmt.Sprintf("%s-%s", base, hex.EncodeToString(h[:4])), nil
}

// WriteMarker writes the marker file into projectDir.
func WriteMarker(projectDir, projectID string) error {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return fmt.Errorf("project id is empty")
	}
	data, err := json.MarshalIndent(marker{ID: projectID}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(MarkerPath(projectDir), append(data, '\n'), 0644)
}

// Resolve locates the haven for the project containing startDir.
// Returns nil (no error) when the project is not initialized.
func Resolve(startDir string) (*Haven, error) {
	projectDir, err := FindProjectDir(startDir)
	if err != nil {
		return nil, err
	}
	if projectDir == "" {
		return nil, nil
	}
	id, err := ReadProjectID(projectDir)
	if err != nil {
		return nil, err
	}
	root, err := RootForID(id)
	if err != nil {
		return nil, err
	}
	return &Haven{ProjectDir: projectDir, ProjectID: id, Root: root}, nil
}

// Init creates the marker (if missing) and the haven directory tree.
func Init(projectDir string) (*Haven, error) {
	projectDir = cleanPath(projectDir)
	id, err := ReadProjectID(projectDir)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		id, err = GenerateProjectID(projectDir)
		if err != nil {
			return nil, err
		}
		if err := WriteMarker(projectDir, id); err != nil {
			return nil, err
		}
	}
	root, err := RootForID(id)
	if err != nil {
		return nil, err
	}
	h := &Haven{ProjectDir: projectDir, ProjectID: id, Root: root}
	if err := h.EnsureDirs(); err != nil {
		return nil, err
	}
	return h, nil
}

var requiredSubdirs = []string{
	"agents",
	"worktrees",
	"runs",
	"backlog/tasks",
}

// EnsureDirs creates any missing haven subdirectories.
func (h *Haven) EnsureDirs() error {
	for _, sub := range requiredSubdirs {
		if err := os.MkdirAll(filepath.Join(h.Root, sub), 0755); err != nil {
			return err
		}
	}
	return nil
}

// Layout helpers. Every artifact path the supervisor reads or writes is
// derived here so tests and the sync recovery tool agree on the layout.

func (h *Haven) StateFile() string         { return filepath.Join(h.Root, "state.json") }
func (h *Haven) RunsDir() string           { return filepath.Join(h.Root, "runs") }
func (h *Haven) RunClaim(taskID string) string {
	return filepath.Join(h.RunsDir(), taskID+".run")
}
func (h *Haven) WorktreesDir() string { return filepath.Join(h.Root, "worktrees") }
func (h *Haven) Worktree(taskID string) string {
	return filepath.Join(h.WorktreesDir(), taskID)
}
func (h *Haven) AgentsDir() string { return filepath.Join(h.Root, "agents") }
func (h *Haven) AgentDir(taskID string) string {
	return filepath.Join(h.Root, "agents", taskID)
}
func (h *Haven) MissionFile(taskID string) string {
	return filepath.Join(h.AgentDir(taskID), "mission.yaml")
}
func (h *Haven) SRTSettings(taskID string) string {
	return filepath.Join(h.AgentDir(taskID), "srt-settings.json")
}
func (h *Haven) MCPConfig(taskID string) string {
	return filepath.Join(h.AgentDir(taskID), "mcp-config.json")
}
func (h *Haven) RunLog(taskID string) string {
	return filepath.Join(h.AgentDir(taskID), "run.log")
}
func (h *Haven) RunJSONLog(taskID string) string {
	return filepath.Join(h.AgentDir(taskID), "run.jsonlog")
}
func (h *Haven) ResultFile(taskID string) string {
	return filepath.Join(h.AgentDir(taskID), "result.yaml")
}
func (h *Haven) DoneSentinel(taskID string) string {
	return filepath.Join(h.AgentDir(taskID), "done")
}
func (h *Haven) BridgeSocket(taskID, nonce string) string {
	return filepath.Join(h.AgentDir(taskID), "mcp-bridge-"+nonce+".sock")
}
func (h *Haven) MCPDescriptor() string    { return filepath.Join(h.Root, "mcp-server.json") }
func (h *Haven) ConductorLog() string     { return filepath.Join(h.Root, "mcp-conductor.log") }
func (h *Haven) AgentServerLog() string   { return filepath.Join(h.Root, "mcp-agent.log") }
func (h *Haven) TaskLog() string          { return filepath.Join(h.Root, "task.log") }
func (h *Haven) NoiseFilters() string     { return filepath.Join(h.Root, "noise-filters.yaml") }
func (h *Haven) BacklogTasksDir() string  { return filepath.Join(h.Root, "backlog", "tasks") }
func (h *Haven) BacklogTask(taskID string) string {
	return filepath.Join(h.BacklogTasksDir(), taskID+".yaml")
}
