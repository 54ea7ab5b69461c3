package backlog

import (
	"strings"
	"testing"

	"github.com/quazardous/sailing/internal/collab"
	"github.com/quazardous/sailing/internal/escalate"
	"github.com/quazardous/sailing/internal/haven"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	t.Setenv(haven.EnvHome, t.TempDir())
	hv, err := haven.Init(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return NewStore(hv)
}

func TestGetTaskAndTransition(t *testing.T) {
	s := newTestStore(t)
	err := s.Put(&TaskFile{
		ID: "T001", Title: "Wire the flux capacitor",
		PRD: "PRD-001", Epic: "E001",
		Status: "In Progress", Body: "Make it hum.",
	})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	ref, err := s.GetTask("T001")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if ref.PRDID != "PRD-001" || ref.EpicID != "E001" || ref.Title != "Wire the flux capacitor" {
		t.Fatalf("ref = %+v", ref)
	}

	if err := s.TransitionTask("T001", collab.TaskDone); err != nil {
		t.Fatalf("TransitionTask: %v", err)
	}
	data, err := s.GetTaskRaw("T001")
	if err != nil {
		t.Fatal(err)
	}
	if data.Status != collab.TaskDone {
		t.Fatalf("status = %q, want Done", data.Status)
	}
	if data.UpdatedAt == nil {
		t.Fatal("updated_at not stamped")
	}
}

func TestGetTaskMissing(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetTask("T404")
	esc, ok := escalate.AsEscalation(err)
	if !ok || esc.Kind != escalate.KindNotFound {
		t.Fatalf("GetTask missing = %v, want not_found escalation", err)
	}
}

func TestGetTaskWithoutParentEscalates(t *testing.T) {
	s := newTestStore(t)
	if err := s.Put(&TaskFile{ID: "T002", Title: "Orphan"}); err != nil {
		t.Fatal(err)
	}
	_, err := s.GetTask("T002")
	esc, ok := escalate.AsEscalation(err)
	if !ok || esc.Kind != escalate.KindPrecondition {
		t.Fatalf("GetTask without parent = %v, want precondition escalation", err)
	}
}

func TestPromptBuilder(t *testing.T) {
	b := &PromptBuilder{Memory: stubMemory{"remember: port 8080 is taken"}}
	prompt, err := b.BuildAgentSpawnPrompt(&collab.TaskRef{
		ID: "T001", Title: "Do the thing", EpicID: "E001", PRDID: "PRD-001",
		Body: "Details here.",
	}, collab.PromptOptions{UseWorktree: true, WorkDir: "/tmp/wt/T001"})
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"T001", "E001", "PRD-001", "Details here.", "/tmp/wt/T001", "port 8080"} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q:\n%s", want, prompt)
		}
	}
}

type stubMemory struct{ s string }

func (m stubMemory) Surface(string) string { return m.s }
