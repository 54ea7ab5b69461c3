package spawn

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/quazardous/sailing/internal/collab"
	"github.com/quazardous/sailing/internal/config"
	"github.com/quazardous/sailing/internal/mcp"
)

func TestWriteMission(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agents", "T001", "mission.yaml")
	task := &collab.TaskRef{ID: "T001", EpicID: "E001", PRDID: "PRD-001"}
	budget := budgetFromConfig(config.Default(), 120, false)

	if err := writeMission(path, task, "do the thing", budget); err != nil {
		t.Fatalf("writeMission: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var m Mission
	if err := yaml.Unmarshal(data, &m); err != nil {
		t.Fatalf("mission does not parse: %v", err)
	}
	if m.TaskID != "T001" || m.EpicID != "E001" || m.PRDID != "PRD-001" {
		t.Fatalf("mission = %+v", m)
	}
	if m.Instructions != "do the thing" || m.Constraints.Timeout != 120 {
		t.Fatalf("mission = %+v", m)
	}
}

func TestMaterializeMCPConfigVariants(t *testing.T) {
	dir := t.TempDir()

	read := func(path string) mcpClientConfig {
		t.Helper()
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatal(err)
		}
		var doc mcpClientConfig
		if err := json.Unmarshal(data, &doc); err != nil {
			t.Fatal(err)
		}
		return doc
	}

	// Direct socket server.
	path := filepath.Join(dir, "socket.json")
	allow, err := materializeMCPConfig(path, &mcp.Descriptor{Mode: mcp.ModeSocket, Socket: "/run/mcp.sock", PID: 1}, "")
	if err != nil || allow != "/run/mcp.sock" {
		t.Fatalf("socket variant: allow=%q err=%v", allow, err)
	}
	if e := read(path).Servers["sailing"]; e.Type != "socket" || e.Socket != "/run/mcp.sock" {
		t.Fatalf("entry = %+v", e)
	}

	// Direct TCP: nothing to allow on the socket side.
	path = filepath.Join(dir, "tcp.json")
	allow, err = materializeMCPConfig(path, &mcp.Descriptor{Mode: mcp.ModePort, Port: 4100, PID: 1}, "")
	if err != nil || allow != "" {
		t.Fatalf("tcp variant: allow=%q err=%v", allow, err)
	}
	if e := read(path).Servers["sailing"]; e.Type != "tcp" || e.Port != 4100 || e.Host != "127.0.0.1" {
		t.Fatalf("entry = %+v", e)
	}

	// Bridged: the child sees the bridge socket, never the port.
	path = filepath.Join(dir, "bridged.json")
	allow, err = materializeMCPConfig(path, &mcp.Descriptor{Mode: mcp.ModePort, Port: 4100, PID: 1}, "/tmp/bridge.sock")
	if err != nil || allow != "/tmp/bridge.sock" {
		t.Fatalf("bridged variant: allow=%q err=%v", allow, err)
	}
	if e := read(path).Servers["sailing"]; e.Type != "socket" || e.Socket != "/tmp/bridge.sock" || e.Port != 0 {
		t.Fatalf("entry = %+v", e)
	}
}

func TestBuildCommandSandboxWrapping(t *testing.T) {
	cfg := config.Default()
	cfg.AgentCommand = "claude"
	cfg.AgentArgs = []string{"--print"}
	cfg.SandboxCommand = "srt"

	name, args := buildCommand(cfg, launchSpec{Sandbox: false})
	if name != "claude" || len(args) != 1 {
		t.Fatalf("unsandboxed = %s %v", name, args)
	}

	name, args = buildCommand(cfg, launchSpec{Sandbox: true, SRTConfig: "/h/srt-settings.json"})
	if name != "srt" {
		t.Fatalf("sandboxed command = %s", name)
	}
	want := []string{"--settings", "/h/srt-settings.json", "--", "claude", "--print"}
	if len(args) != len(want) {
		t.Fatalf("args = %v", args)
	}
	for i := range want {
		if args[i] != want[i] {
			t.Fatalf("args = %v, want %v", args, want)
		}
	}
}
