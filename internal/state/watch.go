package state

import (
	"context"
	"os"
	"time"
)

// DefaultWatchInterval is the polling safety net for state change
// notifications. Platforms without reliable file notification still see
// every change within one interval.
const DefaultWatchInterval = 2 * time.Second

// Watch emits a signal whenever the state file changes (best-effort,
// coalesced). It polls mtime+size; subscribers that need stronger
// guarantees must re-Load on every tick they act on. The channel closes
// when ctx is done.
func (s *Store) Watch(ctx context.Context, interval time.Duration) <-chan struct{} {
	if interval <= 0 {
		interval = DefaultWatchInterval
	}
	ch := make(chan struct{}, 1)
	go func() {
		defer close(ch)
		var lastMod time.Time
		var lastSize int64
		if fi, err := os.Stat(s.path); err == nil {
			lastMod, lastSize = fi.ModTime(), fi.Size()
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			fi, err := os.Stat(s.path)
			if err != nil {
				continue
			}
			if fi.ModTime().Equal(lastMod) && fi.Size() == lastSize {
				continue
			}
			lastMod, lastSize = fi.ModTime(), fi.Size()
			select {
			case ch <- struct{}{}:
			default: // coalesce
			}
		}
	}()
	return ch
}
