package reap

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Result is the child's result file (result.yaml under the agent dir).
type Result struct {
	Status  string `yaml:"status"` // completed | failed | blocked
	Summary string `yaml:"summary,omitempty"`
}

// ReadResult loads the child's result file; absence defaults to completed.
func ReadResult(path string) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Result{Status: "completed"}, nil
		}
		return nil, err
	}
	var r Result
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	switch r.Status {
	case "completed", "failed", "blocked":
	case "":
		r.Status = "completed"
	default:
		return nil, fmt.Errorf("unknown result status %q in %s", r.Status, path)
	}
	return &r, nil
}
