package tail

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/quazardous/sailing/internal/noise"
)

func appendLine(t *testing.T, path, line string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if _, err := f.WriteString(line + "\n"); err != nil {
		t.Fatal(err)
	}
}

func TestTailLinesThenReadNew(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.log")
	for _, l := range []string{"one", "two", "three", "four"} {
		appendLine(t, path, l)
	}

	tl := NewTailer(path)
	lines, err := tl.TailLines(2)
	if err != nil {
		t.Fatalf("TailLines: %v", err)
	}
	if len(lines) != 2 || lines[0] != "three" || lines[1] != "four" {
		t.Fatalf("tail = %v", lines)
	}

	// Nothing new yet.
	if lines, _ := tl.ReadNew(); len(lines) != 0 {
		t.Fatalf("ReadNew before append = %v", lines)
	}

	appendLine(t, path, "five")
	lines, err = tl.ReadNew()
	if err != nil || len(lines) != 1 || lines[0] != "five" {
		t.Fatalf("ReadNew = %v/%v", lines, err)
	}
}

func TestReadNewHandlesTruncation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.log")
	appendLine(t, path, "old content that will disappear")

	tl := NewTailer(path)
	if _, err := tl.TailLines(10); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(path, []byte("fresh\n"), 0644); err != nil {
		t.Fatal(err)
	}
	lines, err := tl.ReadNew()
	if err != nil || len(lines) != 1 || lines[0] != "fresh" {
		t.Fatalf("post-truncation ReadNew = %v/%v", lines, err)
	}
}

func TestReadNewKeepsPartialLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.log")
	tl := NewTailer(path)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString("complete\npart")
	f.Close()

	lines, err := tl.ReadNew()
	if err != nil || len(lines) != 1 || lines[0] != "complete" {
		t.Fatalf("ReadNew = %v/%v", lines, err)
	}

	appendLine(t, path, "ial")
	lines, err = tl.ReadNew()
	if err != nil || len(lines) != 1 || lines[0] != "partial" {
		t.Fatalf("completed partial line = %v/%v", lines, err)
	}
}

func TestFollowStreamsAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.log")
	appendLine(t, path, "pre-existing")

	tl := NewTailer(path)
	if _, err := tl.TailLines(0); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ch := tl.Follow(ctx, 20*time.Millisecond)

	appendLine(t, path, "live-1")
	appendLine(t, path, "live-2")

	var got []string
	for len(got) < 2 {
		select {
		case line, ok := <-ch:
			if !ok {
				t.Fatalf("follow channel closed early; got %v", got)
			}
			got = append(got, line)
		case <-ctx.Done():
			t.Fatalf("timed out; got %v", got)
		}
	}
	if got[0] != "live-1" || got[1] != "live-2" {
		t.Fatalf("followed = %v", got)
	}
}

func TestParseLineAndSummaries(t *testing.T) {
	ev := ParseLine([]byte(`{"type":"assistant","message":{"content":[{"type":"tool_use","name":"bash"},{"type":"tool_use","name":"edit"}]}}`))
	if ev.Err != nil {
		t.Fatalf("parse: %v", ev.Err)
	}
	if s := ev.Parsed.Summarize(80); s != "assistant: tools bash, edit" {
		t.Fatalf("summary = %q", s)
	}

	ev = ParseLine([]byte(`{"type":"tool_result","stderr":"permission denied"}`))
	if !ev.Parsed.IsErrorLike() {
		t.Fatal("stderr tool_result not error-like")
	}

	ev = ParseLine([]byte(`{"type":"assistant","message":{"content":[{"type":"text","text":"All checks passed, proceeding to the next step of the migration"}]}}`))
	s := ev.Parsed.Summarize(30)
	if len([]rune(s)) > 30 {
		t.Fatalf("summary not truncated: %q", s)
	}

	ev = ParseLine([]byte(`this is not json`))
	if ev.Err == nil {
		t.Fatal("garbage line parsed")
	}
}

func TestSuppressedByNoiseFilter(t *testing.T) {
	set := &noise.Set{}
	if _, err := set.Add("npm spam", noise.ScopeGlobal, noise.Match{Contains: "npm WARN"}); err != nil {
		t.Fatal(err)
	}
	ev := ParseLine([]byte(`{"type":"tool_result","stdout":"npm WARN deprecated left-pad"}`))
	if !ev.Parsed.Suppressed(set, "E001", "PRD-001") {
		t.Fatal("event not suppressed")
	}
	clean := ParseLine([]byte(`{"type":"tool_result","stdout":"ok"}`))
	if clean.Parsed.Suppressed(set, "E001", "PRD-001") {
		t.Fatal("clean event suppressed")
	}
}

func TestReadAllEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.jsonlog")
	appendLine(t, path, `{"type":"system","subtype":"init"}`)
	appendLine(t, path, ``)
	appendLine(t, path, `{"type":"result","subtype":"success"}`)

	events, err := ReadAllEvents(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events", len(events))
	}

	none, err := ReadAllEvents(filepath.Join(t.TempDir(), "absent"))
	if err != nil || none != nil {
		t.Fatalf("missing file = %v/%v", none, err)
	}
}
