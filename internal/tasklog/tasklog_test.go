package tasklog

import (
	"bufio"
	"os"
	"path/filepath"
	"testing"
)

func TestWriteThenParse(t *testing.T) {
	path := filepath.Join(t.TempDir(), "task.log")
	w := NewWriter(path)

	if err := w.Log("T001", LevelInfo, "spawned child", map[string]any{"pid": float64(4242)}); err != nil {
		t.Fatalf("Log: %v", err)
	}
	if err := w.Log("", LevelWarn, "trunk behind origin", nil); err != nil {
		t.Fatalf("Log: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var entries []*Entry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		e, err := ParseLine(sc.Text())
		if err != nil {
			t.Fatalf("ParseLine(%q): %v", sc.Text(), err)
		}
		if e != nil {
			entries = append(entries, e)
		}
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries", len(entries))
	}
	if entries[0].TaskID != "T001" || entries[0].Level != LevelInfo {
		t.Fatalf("entry 0 = %+v", entries[0])
	}
	if entries[0].Meta["pid"] != float64(4242) {
		t.Fatalf("meta = %+v", entries[0].Meta)
	}
	if entries[1].TaskID != "" || entries[1].Level != LevelWarn {
		t.Fatalf("entry 1 = %+v", entries[1])
	}
}

func TestParseLineVariants(t *testing.T) {
	good := []string{
		`2026-03-01T12:00:00Z [T001] [ERROR] boom {{{"code":1}}}`,
		`2026-03-01T12:00:00Z [CRITICAL] store corrupt`,
		`2026-03-01T12:00:00Z [T-9] [TIP] consider resume`,
	}
	for _, line := range good {
		if _, err := ParseLine(line); err != nil {
			t.Fatalf("ParseLine(%q): %v", line, err)
		}
	}
	bad := []string{
		`not a log line`,
		`2026-03-01T12:00:00Z [T001] [SHOUT] what`,
		`yesterday [T001] [INFO] hi`,
	}
	for _, line := range bad {
		if _, err := ParseLine(line); err == nil {
			t.Fatalf("ParseLine(%q) accepted malformed input", line)
		}
	}
	if e, err := ParseLine("   "); err != nil || e != nil {
		t.Fatalf("blank line = %+v/%v", e, err)
	}
}

func TestLogRejectsUnknownLevel(t *testing.T) {
	w := NewWriter(filepath.Join(t.TempDir(), "task.log"))
	if err := w.Log("T001", Level("LOUD"), "hi", nil); err == nil {
		t.Fatal("unknown level accepted")
	}
}
