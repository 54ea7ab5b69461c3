package debug

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestShouldEnableFromEnv(t *testing.T) {
	tests := []struct {
		name    string
		enabled string
		path    string
		want    bool
	}{
		{name: "disabled by default", enabled: "", path: "", want: false},
		{name: "enabled explicit", enabled: "1", path: "", want: true},
		{name: "enabled via inherited path", enabled: "", path: "/tmp/sailing.log", want: true},
		{name: "explicit off wins", enabled: "0", path: "/tmp/sailing.log", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(EnvEnabled, tt.enabled)
			t.Setenv(EnvLogPath, tt.path)
			if got := ShouldEnableFromEnv(); got != tt.want {
				t.Fatalf("ShouldEnableFromEnv() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestInitAppendsToInheritedPath(t *testing.T) {
	defer Close()

	logPath := filepath.Join(t.TempDir(), "shared.log")
	if err := os.WriteFile(logPath, []byte("existing\n"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	t.Setenv(EnvLogPath, logPath)
	t.Setenv(EnvProcess, "supervisor:T001")

	gotPath, err := Init()
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if gotPath != logPath {
		t.Fatalf("Init() path = %q, want %q", gotPath, logPath)
	}

	LogKV("test", "hello", "k", "v")
	Close()

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	content := string(data)
	if !strings.HasPrefix(content, "existing\n") {
		t.Fatalf("inherited log was truncated: %q", content)
	}
	if !strings.Contains(content, "supervisor:T001") {
		t.Fatalf("process tag missing from log: %q", content)
	}
	if !strings.Contains(content, "hello k=v") {
		t.Fatalf("KV line missing from log: %q", content)
	}
}

func TestPropagatedEnvDisabled(t *testing.T) {
	in := []string{"PATH=/bin", "HOME=/home/u"}
	out := PropagatedEnv(in, "child:1")
	if len(out) != len(in) {
		t.Fatalf("PropagatedEnv() changed env while disabled: %v", out)
	}
}
