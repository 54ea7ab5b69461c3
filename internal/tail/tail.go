package tail

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"os"
	"time"

	"github.com/quazardous/sailing/internal/debug"
)

const (
	// DefaultPollInterval is the follow cadence; change notification
	// storms cannot starve a watcher because progress is offset-based.
	DefaultPollInterval = 500 * time.Millisecond

	maxLineSize = 1024 * 1024 // 1 MB
)

// Tailer follows one file that another process appends to. Each Tailer
// tracks its own read offset so it can resume after notification storms,
// partial reads, or file truncation.
type Tailer struct {
	path   string
	offset int64
}

// NewTailer returns a tailer positioned at the start of path.
func NewTailer(path string) *Tailer {
	return &Tailer{path: path}
}

// Offset returns the current read position.
func (t *Tailer) Offset() int64 { return t.offset }

// TailLines reads the last n lines and positions the tailer at EOF, so a
// subsequent Follow streams only additions. n <= 0 just seeks to EOF.
// A missing file yields no lines and offset zero.
func (t *Tailer) TailLines(n int) ([]string, error) {
	f, err := os.Open(t.path)
	if err != nil {
		if os.IsNotExist(err) {
			t.offset = 0
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := stat.Size()
	if n <= 0 {
		t.offset = size
		return nil, nil
	}

	// Read a bounded window from the end; enough for n reasonable lines.
	window := int64(n) * 4096
	if window > size {
		window = size
	}
	if _, err := f.Seek(size-window, io.SeekStart); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	if size-window > 0 {
		// Drop the partial first line of the window.
		if idx := bytes.IndexByte(data, '\n'); idx >= 0 {
			data = data[idx+1:]
		} else {
			data = nil
		}
	}

	lines := splitLines(data)
	if n > 0 && len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	t.offset = size
	return lines, nil
}

// ReadNew returns complete lines appended since the last read and advances
// the offset past them. Truncation (offset beyond the current size) resets
// to the start of the file.
func (t *Tailer) ReadNew() ([]string, error) {
	f, err := os.Open(t.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if stat.Size() < t.offset {
		debug.LogKV("tail", "file truncated; resetting offset", "path", t.path)
		t.offset = 0
	}
	if stat.Size() == t.offset {
		return nil, nil
	}
	if _, err := f.Seek(t.offset, io.SeekStart); err != nil {
		return nil, err
	}

	reader := bufio.NewReaderSize(f, maxLineSize)
	var lines []string
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			// A trailing fragment without newline stays for next time.
			break
		}
		t.offset += int64(len(line))
		lines = append(lines, string(bytes.TrimRight(line, "\r\n")))
	}
	return lines, nil
}

// Follow emits appended lines until ctx is done. The channel closes on
// cancellation or on a persistent read error.
func (t *Tailer) Follow(ctx context.Context, interval time.Duration) <-chan string {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ch := make(chan string, 64)
	go func() {
		defer close(ch)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			lines, err := t.ReadNew()
			if err != nil {
				debug.LogKV("tail", "follow read failed", "path", t.path, "error", err)
				return
			}
			for _, line := range lines {
				select {
				case ch <- line:
				case <-ctx.Done():
					return
				}
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return ch
}

// FollowEvents follows an NDJSON event stream.
func (t *Tailer) FollowEvents(ctx context.Context, interval time.Duration) <-chan RawEvent {
	lines := t.Follow(ctx, interval)
	ch := make(chan RawEvent, 64)
	go func() {
		defer close(ch)
		for line := range lines {
			if len(bytes.TrimSpace([]byte(line))) == 0 {
				continue
			}
			select {
			case ch <- ParseLine([]byte(line)):
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}

// ReadAllEvents parses the whole event file; used by diagnose and `log`.
func ReadAllEvents(path string) ([]RawEvent, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, maxLineSize), maxLineSize)
	var events []RawEvent
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		events = append(events, ParseLine(line))
	}
	return events, scanner.Err()
}

func splitLines(data []byte) []string {
	if len(data) == 0 {
		return nil
	}
	var lines []string
	for _, raw := range bytes.Split(data, []byte{'\n'}) {
		raw = bytes.TrimRight(raw, "\r")
		if len(raw) == 0 {
			continue
		}
		lines = append(lines, string(raw))
	}
	return lines
}
