package state

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/quazardous/sailing/internal/escalate"
)

func TestClaimAndRelease(t *testing.T) {
	runsDir := t.TempDir()

	release, esc, err := Claim(runsDir, "T001", "spawn")
	if err != nil || esc != nil {
		t.Fatalf("Claim: err=%v esc=%+v", err, esc)
	}

	claim, err := ReadClaim(filepath.Join(runsDir, "T001.run"))
	if err != nil || claim == nil {
		t.Fatalf("ReadClaim: %v %+v", err, claim)
	}
	if claim.PID != os.Getpid() || claim.Operation != "spawn" {
		t.Fatalf("claim = %+v", claim)
	}

	// A second claim against a live pid escalates.
	_, esc2, err := Claim(runsDir, "T001", "reap")
	if err != nil {
		t.Fatal(err)
	}
	if esc2 == nil || esc2.Kind != escalate.KindAlreadyRunning {
		t.Fatalf("expected already_running escalation, got %+v", esc2)
	}

	release()
	release() // idempotent
	if _, err := os.Stat(filepath.Join(runsDir, "T001.run")); !os.IsNotExist(err) {
		t.Fatalf("claim file survived release: %v", err)
	}
}

func TestOrphanClaimIsGarbageCollected(t *testing.T) {
	runsDir := t.TempDir()
	stale := RunClaim{
		TaskID:    "T001",
		Operation: "spawn",
		StartedAt: time.Now().UTC().Add(-time.Hour),
		PID:       999999, // beyond pid_max on default Linux configs
	}
	data, err := yaml.Marshal(&stale)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(runsDir, "T001.run"), data, 0644); err != nil {
		t.Fatal(err)
	}

	release, esc, err := Claim(runsDir, "T001", "reap")
	if err != nil || esc != nil {
		t.Fatalf("stale claim not collected: err=%v esc=%+v", err, esc)
	}
	defer release()

	claim, err := ReadClaim(filepath.Join(runsDir, "T001.run"))
	if err != nil || claim == nil {
		t.Fatal("fresh claim missing")
	}
	if claim.Operation != "reap" || claim.PID != os.Getpid() {
		t.Fatalf("claim = %+v", claim)
	}
}

func TestListClaims(t *testing.T) {
	runsDir := t.TempDir()
	for _, id := range []string{"T001", "T002"} {
		release, esc, err := Claim(runsDir, id, "spawn")
		if err != nil || esc != nil {
			t.Fatalf("Claim(%s): %v %+v", id, err, esc)
		}
		defer release()
	}
	claims, err := ListClaims(runsDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(claims) != 2 {
		t.Fatalf("expected 2 claims, got %d", len(claims))
	}
}

func TestPIDAlive(t *testing.T) {
	if !PIDAlive(os.Getpid()) {
		t.Fatal("own pid reported dead")
	}
	if PIDAlive(0) || PIDAlive(-1) {
		t.Fatal("non-positive pid reported alive")
	}
}
