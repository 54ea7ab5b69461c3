// Package prteam is the default PR collaborator: it shells out to the forge
// CLI named by pr_provider (none is configured by default) from the task's
// working directory. The lifecycle
// core never talks to forges itself.
package prteam

import (
	"context"
	"fmt"
	"strings"

	"os/exec"

	"github.com/quazardous/sailing/internal/collab"
	"github.com/quazardous/sailing/internal/debug"
)

// Provider runs a forge CLI to open pull requests.
type Provider struct {
	// Command is the forge CLI, e.g. "gh".
	Command string
}

// New returns a Provider for the configured pr_provider command.
func New(command string) *Provider {
	return &Provider{Command: command}
}

// CreatePR opens a pull request for the current branch of req.CWD.
func (p *Provider) CreatePR(ctx context.Context, req collab.PRRequest) (string, error) {
	if strings.TrimSpace(p.Command) == "" {
		return "", fmt.Errorf("no pr_provider configured")
	}
	title := req.Title
	if title == "" {
		title = fmt.Sprintf("%s: agent changes", req.TaskID)
	}
	body := fmt.Sprintf("Automated agent work for task %s (epic %s, prd %s).",
		req.TaskID, req.EpicID, req.PRDID)

	args := []string{"pr", "create", "--title", title, "--body", body}
	if req.Draft {
		args = append(args, "--draft")
	}

	cmd := exec.CommandContext(ctx, p.Command, args...)
	cmd.Dir = req.CWD
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%s %s: %s: %w",
			p.Command, strings.Join(args, " "), strings.TrimSpace(stderr.String()), err)
	}

	// Forge CLIs print the PR URL as the last non-empty stdout line.
	url := ""
	for _, line := range strings.Split(stdout.String(), "\n") {
		if s := strings.TrimSpace(line); s != "" {
			url = s
		}
	}
	if url == "" {
		return "", fmt.Errorf("%s produced no PR URL", p.Command)
	}
	debug.LogKV("pr", "created", "task", req.TaskID, "url", url)
	return url, nil
}
