package reap

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/quazardous/sailing/internal/backlog"
	"github.com/quazardous/sailing/internal/collab"
	"github.com/quazardous/sailing/internal/config"
	"github.com/quazardous/sailing/internal/escalate"
	"github.com/quazardous/sailing/internal/haven"
	"github.com/quazardous/sailing/internal/state"
	"github.com/quazardous/sailing/internal/worktree"
)

type fixture struct {
	repo  string
	hv    *haven.Haven
	store *state.Store
	cfg   *config.AgentConfig
	wm    *worktree.Manager
	tasks *backlog.Store
	p     *Pipeline
}

func git(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %s: %v\n%s", strings.Join(args, " "), err, out)
	}
	return string(out)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	t.Setenv(haven.EnvHome, t.TempDir())

	repo := t.TempDir()
	git(t, repo, "init", "-b", "main")
	git(t, repo, "config", "user.name", "test")
	git(t, repo, "config", "user.email", "test@local")
	if err := os.WriteFile(filepath.Join(repo, "README.md"), []byte("hi\n"), 0644); err != nil {
		t.Fatal(err)
	}
	git(t, repo, "add", "-A")
	git(t, repo, "commit", "-m", "initial")

	hv, err := haven.Init(repo)
	if err != nil {
		t.Fatal(err)
	}
	cfg := config.Default()
	store := state.NewStore(hv.StateFile())
	wm := worktree.NewManager(repo, hv.WorktreesDir(), cfg.Trunk, worktree.Branching(cfg.Branching))
	tasks := backlog.NewStore(hv)
	if err := tasks.Put(&backlog.TaskFile{
		ID: "T002", Title: "Conflicting work", PRD: "PRD-001", Epic: "E001", Status: "In Progress",
	}); err != nil {
		t.Fatal(err)
	}
	p := &Pipeline{
		Haven: hv, Store: store, Config: cfg, Worktrees: wm, Artefacts: tasks,
		pollInterval: 20 * time.Millisecond,
	}
	return &fixture{repo: repo, hv: hv, store: store, cfg: cfg, wm: wm, tasks: tasks, p: p}
}

// seedCompleted creates a worktree with one commit and a completed record.
func seedCompleted(t *testing.T, f *fixture, taskID string) *worktree.Created {
	t.Helper()
	ctx := context.Background()
	created, err := f.wm.CreateWorktree(ctx, worktree.TaskContext{TaskID: taskID}, worktree.CreateOptions{})
	if err != nil {
		t.Fatal(err)
	}
	now := time.Now().UTC()
	err = f.store.UpdateAgent(taskID, func(rec *state.AgentRecord) error {
		rec.Status = state.StatusCompleted
		rec.SpawnedAt = &now
		rec.EndedAt = &now
		rec.Worktree = &state.WorktreeRef{
			Path: created.Path, Branch: created.Branch,
			BaseBranch: created.BaseBranch, Branching: "flat",
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	return created
}

func commitIn(t *testing.T, dir, name, content, msg string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	git(t, dir, "add", "-A")
	git(t, dir, "commit", "-m", msg)
}

// Two branches edit the same line: classify yields the conflict list,
// trunk HEAD is unchanged, and the escalation names the reconcile branch.
func TestReapConflictLeavesTrunkUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created := seedCompleted(t, f, "T002")

	commitIn(t, created.Path, "src-a.txt", "agent version\n", "agent edit")
	commitIn(t, f.repo, "src-a.txt", "trunk version\n", "trunk edit")
	trunkBefore := strings.TrimSpace(git(t, f.repo, "rev-parse", "main"))

	outcome, esc, err := f.p.Reap(ctx, "T002", Options{})
	if err != nil {
		t.Fatalf("Reap: %v", err)
	}
	if outcome != nil {
		t.Fatalf("conflicting reap returned an outcome: %+v", outcome)
	}
	if esc == nil || esc.Kind != escalate.KindConflict {
		t.Fatalf("esc = %+v, want conflict", esc)
	}
	if esc.Reason != "Merge conflicts detected" {
		t.Fatalf("reason = %q", esc.Reason)
	}
	if len(esc.ConflictFiles) != 1 || esc.ConflictFiles[0] != "src-a.txt" {
		t.Fatalf("conflict files = %v", esc.ConflictFiles)
	}
	if !strings.Contains(strings.Join(esc.NextSteps, " "), "reconcile/T002") {
		t.Fatalf("next steps = %v", esc.NextSteps)
	}

	if after := strings.TrimSpace(git(t, f.repo, "rev-parse", "main")); after != trunkBefore {
		t.Fatal("conflicting reap mutated trunk")
	}
	st, _ := f.store.Load()
	if rec := st.Get("T002"); rec.Status == state.StatusReaped {
		t.Fatal("conflicting reap marked the record reaped")
	}
}

func TestReapMissingRecord(t *testing.T) {
	f := newFixture(t)
	_, esc, err := f.p.Reap(context.Background(), "T404", Options{})
	if err != nil || esc == nil || esc.Kind != escalate.KindNotFound {
		t.Fatalf("esc = %+v, err = %v", esc, err)
	}
}

func TestReapNoWaitEscalatesOnLiveChild(t *testing.T) {
	f := newFixture(t)
	seedCompleted(t, f, "T002")
	// Fake a live pid: our own process.
	if err := f.store.UpdateAgent("T002", func(rec *state.AgentRecord) error {
		rec.Status = state.StatusRunning
		rec.PID = os.Getpid()
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	_, esc, err := f.p.Reap(context.Background(), "T002", Options{Wait: false})
	if err != nil || esc == nil || esc.Kind != escalate.KindAlreadyRunning {
		t.Fatalf("esc = %+v, err = %v", esc, err)
	}
}

func TestReapWaitTimesOut(t *testing.T) {
	f := newFixture(t)
	seedCompleted(t, f, "T002")
	if err := f.store.UpdateAgent("T002", func(rec *state.AgentRecord) error {
		rec.Status = state.StatusRunning
		rec.PID = os.Getpid() // never "dies" during the test
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	start := time.Now()
	_, esc, err := f.p.Reap(context.Background(), "T002", Options{Wait: true, Timeout: 150 * time.Millisecond})
	if err != nil || esc == nil || esc.Kind != escalate.KindTimeout {
		t.Fatalf("esc = %+v, err = %v", esc, err)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatalf("wait overshot: %s", time.Since(start))
	}
}

func TestReapDoubleReapEscalates(t *testing.T) {
	f := newFixture(t)
	created := seedCompleted(t, f, "T002")
	commitIn(t, created.Path, "work.txt", "done\n", "work")

	if _, esc, err := f.p.Reap(context.Background(), "T002", Options{}); esc != nil || err != nil {
		t.Fatalf("first reap: %+v %v", esc, err)
	}
	_, esc, err := f.p.Reap(context.Background(), "T002", Options{})
	if err != nil || esc == nil || esc.Kind != escalate.KindPrecondition {
		t.Fatalf("second reap = %+v, %v", esc, err)
	}
}

func TestReapCleanupWorktreeAfter(t *testing.T) {
	f := newFixture(t)
	created := seedCompleted(t, f, "T002")
	commitIn(t, created.Path, "work.txt", "done\n", "work")

	outcome, esc, err := f.p.Reap(context.Background(), "T002", Options{CleanupWorktree: true})
	if err != nil || esc != nil {
		t.Fatalf("Reap: %v %+v", err, esc)
	}
	if outcome.WorktreeKept {
		t.Fatalf("outcome = %+v", outcome)
	}
	if _, err := os.Stat(created.Path); !os.IsNotExist(err) {
		t.Fatalf("worktree survived cleanup: %v", err)
	}
}

func TestReadResult(t *testing.T) {
	dir := t.TempDir()

	// Absent file defaults to completed.
	r, err := ReadResult(filepath.Join(dir, "absent.yaml"))
	if err != nil || r.Status != "completed" {
		t.Fatalf("absent = %+v, %v", r, err)
	}

	path := filepath.Join(dir, "result.yaml")
	os.WriteFile(path, []byte("status: blocked\nsummary: waiting on review\n"), 0644)
	r, err = ReadResult(path)
	if err != nil || r.Status != "blocked" || r.Summary != "waiting on review" {
		t.Fatalf("blocked = %+v, %v", r, err)
	}

	os.WriteFile(path, []byte("status: exploded\n"), 0644)
	if _, err := ReadResult(path); err == nil {
		t.Fatal("unknown status accepted")
	}
}

func TestDecideTable(t *testing.T) {
	cases := []struct {
		name     string
		class    worktree.Class
		resume   bool
		prior    state.Status
		pidAlive bool
		action   Action
		escalate bool
	}{
		{"live pid rejects", worktree.ClassAhead, true, state.StatusRunning, true, 0, true},
		{"absent proceeds", worktree.ClassAbsent, false, state.StatusReaped, false, ActionCleanupProceed, false},
		{"noncontributing proceeds", worktree.ClassCleanNoncontrib, false, state.StatusCompleted, false, ActionCleanupProceed, false},
		{"merged clean proceeds", worktree.ClassAlreadyMergedClean, false, state.StatusReaped, false, ActionCleanupProceed, false},
		{"merged dirty resumes", worktree.ClassAlreadyMergedDirty, true, state.StatusReaped, false, ActionResume, false},
		{"merged dirty rejects", worktree.ClassAlreadyMergedDirty, false, state.StatusReaped, false, 0, true},
		{"dirty after completion resumes", worktree.ClassDirty, true, state.StatusCompleted, false, ActionResume, false},
		{"dirty after completion rejects", worktree.ClassDirty, false, state.StatusReaped, false, 0, true},
		{"ahead without completion resumes", worktree.ClassAhead, true, state.StatusError, false, ActionResume, false},
		{"ahead without completion rejects", worktree.ClassAhead, false, state.StatusError, false, 0, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			action, esc := Decide(tc.class, tc.resume, tc.prior, tc.pidAlive)
			if tc.escalate {
				if esc == nil {
					t.Fatalf("expected escalation, got action %v", action)
				}
				if len(esc.NextSteps) == 0 {
					t.Fatalf("escalation without next steps: %+v", esc)
				}
				return
			}
			if esc != nil {
				t.Fatalf("unexpected escalation: %+v", esc)
			}
			if action != tc.action {
				t.Fatalf("action = %v, want %v", action, tc.action)
			}
		})
	}
}

func TestSyncRecoversOrphans(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// A worktree on disk with no record (state lost).
	created, err := f.wm.CreateWorktree(ctx, worktree.TaskContext{TaskID: "T005"}, worktree.CreateOptions{})
	if err != nil {
		t.Fatal(err)
	}
	commitIn(t, created.Path, "recovered.txt", "data\n", "recovered work")

	// A record claiming liveness with a dead pid.
	if err := f.store.UpdateAgent("T009", func(rec *state.AgentRecord) error {
		rec.Status = state.StatusRunning
		rec.PID = 999999
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	// Dry run: reported, nothing persisted.
	report, err := f.p.Sync(ctx, true)
	if err != nil {
		t.Fatalf("Sync dry-run: %v", err)
	}
	if len(report.Added) != 1 || report.Added[0].TaskID != "T005" {
		t.Fatalf("added = %+v", report.Added)
	}
	if len(report.Updated) != 1 || report.Updated[0].TaskID != "T009" {
		t.Fatalf("updated = %+v", report.Updated)
	}
	st, _ := f.store.Load()
	if st.Get("T005") != nil {
		t.Fatal("dry run persisted an addition")
	}

	// Real run persists.
	if _, err := f.p.Sync(ctx, false); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	st, _ = f.store.Load()
	rec := st.Get("T005")
	if rec == nil || rec.Status != state.StatusCompleted || rec.Worktree == nil {
		t.Fatalf("recovered record = %+v", rec)
	}
	if orphan := st.Get("T009"); orphan.Status != state.StatusOrphaned || orphan.PID != 0 {
		t.Fatalf("orphan record = %+v", orphan)
	}

	// The recovered agent reaps like a normal completed one.
	if err := f.tasks.Put(&backlog.TaskFile{
		ID: "T005", Title: "Recovered", PRD: "PRD-001", Epic: "E001", Status: "In Progress",
	}); err != nil {
		t.Fatal(err)
	}
	outcome, esc, err := f.p.Reap(ctx, "T005", Options{})
	if err != nil || esc != nil {
		t.Fatalf("reap of recovered agent: %v %+v", err, esc)
	}
	if !outcome.Merged || outcome.Transitioned != collab.TaskDone {
		t.Fatalf("outcome = %+v", outcome)
	}
}
